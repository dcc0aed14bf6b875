package server

import (
	"context"
	"fmt"
	"time"

	"video-restore/config"
	"video-restore/constant"
	"video-restore/gateway"
	"video-restore/repository"
	"video-restore/service"
	"video-restore/storage"
)

func newRepository(cfg *config.Config) (repository.JobRepository, error) {
	switch cfg.Store.Driver {
	case constant.DriverMemory, "":
		return repository.NewMemoryRepo(), nil
	case constant.DriverPostgres:
		db, err := config.NewPostgresDB(cfg.Store.PostgresDSN)
		if err != nil {
			return nil, err
		}
		return repository.NewRepo(db)
	}
	return nil, fmt.Errorf("unknown store driver %q", cfg.Store.Driver)
}

func newObjectStore(ctx context.Context, cfg *config.Config) (storage.ObjectStore, error) {
	switch cfg.Storage.Driver {
	case constant.DriverMinIO, "":
		client, err := config.NewMinIOClient(cfg.Storage.MinIO)
		if err != nil {
			return nil, err
		}
		return storage.NewMinIO(client, cfg.Storage.MinIO.Bucket, cfg.Storage.MinIO.PublicURL), nil
	case constant.DriverGCS:
		client, err := config.NewGCSClient(ctx, cfg.Storage.GCS)
		if err != nil {
			return nil, err
		}
		return storage.NewGCS(client, cfg.Storage.GCS.Bucket), nil
	}
	return nil, fmt.Errorf("unknown storage driver %q", cfg.Storage.Driver)
}

func tiersFromConfig(in []config.Tier) []service.Tier {
	out := make([]service.Tier, 0, len(in))
	for _, t := range in {
		out = append(out, service.Tier{
			Name:        t.Name,
			Height:      t.Height,
			Width:       t.Width,
			Parallelism: t.Parallelism,
			GPUs:        t.GPUs,
			AvgDuration: time.Duration(t.AvgMinutes * float64(time.Minute)),
		})
	}
	return out
}

func gatewayFromConfig(cfg config.RunPod) *gateway.RunPod {
	return gateway.NewRunPod(gateway.RunPodConfig{
		APIKey:      cfg.APIKey,
		EndpointID:  cfg.EndpointID,
		BaseURL:     cfg.BaseURL,
		Timeout:     cfg.Timeout,
		PollRetries: cfg.PollRetries,
	})
}
