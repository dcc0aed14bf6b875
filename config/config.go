package config

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"strings"
	"time"

	gcs "cloud.google.com/go/storage"
	_ "github.com/lib/pq"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/spf13/viper"
	"google.golang.org/api/option"
)

type Config struct {
	App       App
	Server    Server
	Store     Store
	Queue     Queue
	Storage   Storage
	RunPod    RunPod
	Progress  Progress
	Tiers     []Tier
	Pricing   Pricing
	Publisher Publisher
	Cleanup   Cleanup
	Upload    Upload
}

type App struct {
	Environment string
}

type Server struct {
	HttpPort string
	Workers  int
	Buffer   int
}

type Store struct {
	Driver      string
	PostgresDSN string
}

type Queue struct {
	Driver   string
	RabbitMQ *RabbitMQ
}

type RabbitMQ struct {
	Host string `json:"host"`
	Port int    `json:"port"`
	User string `json:"user"`
	Pass string `json:"pass"`
	Kind string `json:"kind"`
}

type Storage struct {
	Driver string
	MinIO  MinIO
	GCS    GCS
}

type MinIO struct {
	URL             string
	AccessID        string
	SecretAccessKey string
	Bucket          string
	Secure          bool
	PublicURL       string
}

type GCS struct {
	Bucket          string
	CredentialsFile string
}

type RunPod struct {
	APIKey      string
	EndpointID  string
	BaseURL     string
	Timeout     time.Duration
	PollRetries uint
}

type Progress struct {
	Cap float64
}

type Tier struct {
	Name        string  `mapstructure:"name"`
	Height      int     `mapstructure:"height"`
	Width       int     `mapstructure:"width"`
	Parallelism int     `mapstructure:"parallelism"`
	GPUs        int     `mapstructure:"gpus"`
	AvgMinutes  float64 `mapstructure:"avg_minutes"`
}

type Pricing struct {
	GPUHourUSD       float64
	MarkupPercentage float64
}

type Publisher struct {
	Interval time.Duration
}

type Cleanup struct {
	Schedule  string
	Retention time.Duration
}

type Upload struct {
	MaxSizeMB int64
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.environment", "develop")
	v.SetDefault("server.port", "8000")
	v.SetDefault("server.workers", 4)
	v.SetDefault("server.buffer", 100)
	v.SetDefault("store.driver", "memory")
	v.SetDefault("queue.driver", "memory")
	v.SetDefault("rabbitmq_port", 5672)
	v.SetDefault("rabbitmq_kind", "direct")
	v.SetDefault("storage.driver", "minio")
	v.SetDefault("minio.url", "localhost:9000")
	v.SetDefault("minio.bucket", "videos")
	v.SetDefault("runpod.base_url", "https://api.runpod.ai/v2")
	v.SetDefault("runpod.timeout", 30*time.Second)
	v.SetDefault("runpod.poll_retries", 3)
	v.SetDefault("progress.cap", 0.95)
	v.SetDefault("pricing.gpu_hour_usd", 3.50)
	v.SetDefault("pricing.markup_percentage", 20)
	v.SetDefault("publisher.interval", 2*time.Second)
	v.SetDefault("cleanup.schedule", "@every 1h")
	v.SetDefault("cleanup.retention", 24*time.Hour)
	v.SetDefault("upload.max_size_mb", 2048)
}

// Load reads config.yaml from path. The file is optional; environment
// variables override it (RUNPOD_API_KEY for runpod.api_key).
func Load(path string) (*Config, error) {
	v := viper.New()
	v.AddConfigPath(path)
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
	}

	var tiers []Tier
	if err := v.UnmarshalKey("tiers", &tiers); err != nil {
		return nil, fmt.Errorf("tiers: %w", err)
	}

	return &Config{
		App: App{
			Environment: v.GetString("app.environment"),
		},
		Server: Server{
			HttpPort: v.GetString("server.port"),
			Workers:  v.GetInt("server.workers"),
			Buffer:   v.GetInt("server.buffer"),
		},
		Store: Store{
			Driver:      v.GetString("store.driver"),
			PostgresDSN: v.GetString("postgresql_host"),
		},
		Queue: Queue{
			Driver: v.GetString("queue.driver"),
			RabbitMQ: &RabbitMQ{
				Host: v.GetString("rabbitmq_host"),
				Port: v.GetInt("rabbitmq_port"),
				User: v.GetString("rabbitmq_user"),
				Pass: v.GetString("rabbitmq_pass"),
				Kind: v.GetString("rabbitmq_kind"),
			},
		},
		Storage: Storage{
			Driver: v.GetString("storage.driver"),
			MinIO: MinIO{
				URL:             v.GetString("minio.url"),
				AccessID:        v.GetString("minio.access_id"),
				SecretAccessKey: v.GetString("minio.secret_access_key"),
				Bucket:          v.GetString("minio.bucket"),
				Secure:          v.GetBool("minio.secure"),
				PublicURL:       v.GetString("minio.public_url"),
			},
			GCS: GCS{
				Bucket:          v.GetString("gcs.bucket"),
				CredentialsFile: v.GetString("gcs.credentials_file"),
			},
		},
		RunPod: RunPod{
			APIKey:      v.GetString("runpod.api_key"),
			EndpointID:  v.GetString("runpod.endpoint_id"),
			BaseURL:     v.GetString("runpod.base_url"),
			Timeout:     v.GetDuration("runpod.timeout"),
			PollRetries: v.GetUint("runpod.poll_retries"),
		},
		Progress: Progress{
			Cap: v.GetFloat64("progress.cap"),
		},
		Tiers: tiers,
		Pricing: Pricing{
			GPUHourUSD:       v.GetFloat64("pricing.gpu_hour_usd"),
			MarkupPercentage: v.GetFloat64("pricing.markup_percentage"),
		},
		Publisher: Publisher{
			Interval: v.GetDuration("publisher.interval"),
		},
		Cleanup: Cleanup{
			Schedule:  v.GetString("cleanup.schedule"),
			Retention: v.GetDuration("cleanup.retention"),
		},
		Upload: Upload{
			MaxSizeMB: v.GetInt64("upload.max_size_mb"),
		},
	}, nil
}

func NewPostgresDB(dsn string) (*sql.DB, error) {
	return sql.Open("postgres", dsn)
}

func NewMinIOClient(cfg MinIO) (*minio.Client, error) {
	return minio.New(cfg.URL, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessID, cfg.SecretAccessKey, ""),
		Secure: cfg.Secure,
	})
}

func NewGCSClient(ctx context.Context, cfg GCS) (*gcs.Client, error) {
	if cfg.CredentialsFile == "" {
		return gcs.NewClient(ctx)
	}
	credentialsJSON, err := os.ReadFile(cfg.CredentialsFile)
	if err != nil {
		return nil, err
	}
	return gcs.NewClient(ctx, option.WithCredentialsJSON(credentialsJSON))
}
