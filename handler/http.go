package handler

import (
	"errors"
	"fmt"
	"io"
	"iter"
	"mime"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"video-restore/apperrors"
	"video-restore/constant"
	"video-restore/dto"
	"video-restore/repository"
	"video-restore/service"
	"video-restore/storage"
)

const (
	defaultSeed         int64 = 42
	defaultHistoryLimit       = 10
	defaultCleanupDays        = 1

	// room for multipart boundaries and part headers around the file
	multipartOverhead int64 = 64 << 10
)

var allowedExtensions = map[string]bool{
	".mp4":  true,
	".avi":  true,
	".mov":  true,
	".mkv":  true,
	".webm": true,
}

type HTTPDependencies struct {
	Orchestrator   service.Orchestrator
	Publisher      service.Publisher
	Store          storage.ObjectStore
	Tiers          *service.TierCatalog
	Pricing        service.Pricing
	MaxUploadBytes int64
	Now            func() time.Time
}

type API struct {
	deps HTTPDependencies
}

func NewAPI(deps HTTPDependencies) *API {
	if deps.Now == nil {
		deps.Now = time.Now
	}
	return &API{deps: deps}
}

func (a *API) Register(r gin.IRouter) {
	api := r.Group("/api")
	api.POST("/upload", a.upload)
	api.GET("/files/*key", a.file)
	api.GET("/process/estimate", a.estimate)
	api.POST("/process", a.process)
	api.POST("/process/:id/cancel", a.cancel)
	api.GET("/status/history", a.history)
	api.DELETE("/status/cleanup", a.cleanup)
	api.GET("/status/:id", a.status)
	api.GET("/status/:id/stream", a.stream)
}

func abortWithError(c *gin.Context, err error) {
	status := apperrors.HTTPStatus(err)
	if status >= http.StatusInternalServerError {
		zerolog.Ctx(c.Request.Context()).Error().Err(err).Str("path", c.FullPath()).Msg("request failed")
	}
	c.AbortWithStatusJSON(status, dto.ErrorResponse{Error: err.Error()})
}

func (a *API) process(c *gin.Context) {
	var req dto.ProcessRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abortWithError(c, apperrors.Validation("body", err.Error()))
		return
	}
	resolution := req.Resolution
	if resolution == "" {
		resolution = service.DefaultTier
	}
	seed := defaultSeed
	if req.Seed != nil {
		seed = *req.Seed
	}

	job, err := a.deps.Orchestrator.Intake(c.Request.Context(), req.VideoURL, resolution, seed)
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, service.NewJobView(job, a.deps.Now()))
}

func (a *API) status(c *gin.Context) {
	job, err := a.deps.Publisher.GetOne(c.Request.Context(), c.Param("id"))
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, service.NewJobView(job, a.deps.Now()))
}

func (a *API) cancel(c *gin.Context) {
	job, err := a.deps.Orchestrator.Cancel(c.Request.Context(), c.Param("id"))
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, service.NewJobView(job, a.deps.Now()))
}

func (a *API) history(c *gin.Context) {
	limit := defaultHistoryLimit
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			abortWithError(c, apperrors.Validation("limit", "limit must be a positive integer"))
			return
		}
		limit = n
	}
	filter := repository.JobFilter{State: constant.JobState(strings.ToLower(c.Query("status")))}

	jobs, err := a.deps.Publisher.GetHistory(c.Request.Context(), filter, limit)
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, service.NewJobViews(jobs, a.deps.Now()))
}

func (a *API) stream(c *gin.Context) {
	ctx := c.Request.Context()
	next, stop := iter.Pull2(a.deps.Publisher.Subscribe(ctx, c.Param("id")))
	defer stop()

	c.Header("Cache-Control", "no-cache")
	c.Header("X-Accel-Buffering", "no")
	c.Stream(func(w io.Writer) bool {
		job, err, ok := next()
		if !ok {
			return false
		}
		if err != nil {
			c.SSEvent("error", dto.ErrorResponse{Error: err.Error()})
			return !errors.Is(err, apperrors.ErrNotFound)
		}
		c.SSEvent("job", service.NewJobView(job, a.deps.Now()))
		return true
	})
}

func (a *API) cleanup(c *gin.Context) {
	days := defaultCleanupDays
	if raw := c.Query("days"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			abortWithError(c, apperrors.Validation("days", "days must be a non-negative integer"))
			return
		}
		days = n
	}

	deleted, err := a.deps.Publisher.Cleanup(c.Request.Context(), time.Duration(days)*24*time.Hour)
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, dto.CleanupResponse{
		DeletedJobs: deleted,
		Message:     fmt.Sprintf("deleted %d jobs older than %d days", deleted, days),
	})
}

func (a *API) estimate(c *gin.Context) {
	resolution := c.DefaultQuery("resolution", service.DefaultTier)
	estimate, err := a.deps.Tiers.EstimateCost(resolution, a.deps.Pricing)
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, estimate)
}

func (a *API) upload(c *gin.Context) {
	if limit := a.deps.MaxUploadBytes; limit > 0 {
		if c.Request.ContentLength > limit+multipartOverhead {
			abortWithError(c, a.tooLarge())
			return
		}
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, limit+multipartOverhead)
	}

	header, err := c.FormFile("video")
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			abortWithError(c, a.tooLarge())
			return
		}
		abortWithError(c, apperrors.Validation("video", "multipart field video is required"))
		return
	}
	ext := strings.ToLower(filepath.Ext(header.Filename))
	if !allowedExtensions[ext] {
		abortWithError(c, apperrors.Validation("video", "unsupported file type "+ext))
		return
	}
	if a.deps.MaxUploadBytes > 0 && header.Size > a.deps.MaxUploadBytes {
		abortWithError(c, a.tooLarge())
		return
	}

	file, err := header.Open()
	if err != nil {
		abortWithError(c, err)
		return
	}
	defer file.Close()

	fileID := uuid.NewString()
	key := "uploads/" + fileID + ext
	contentType := header.Header.Get("Content-Type")
	if contentType == "" || contentType == "application/octet-stream" {
		if byExt := mime.TypeByExtension(ext); byExt != "" {
			contentType = byExt
		}
	}

	url, err := a.deps.Store.Put(c.Request.Context(), key, file, header.Size, contentType)
	if err != nil {
		abortWithError(c, err)
		return
	}
	zerolog.Ctx(c.Request.Context()).Info().Str("key", key).Int64("size", header.Size).Msg("video uploaded")

	c.JSON(http.StatusOK, dto.UploadResponse{
		VideoURL: url,
		FileID:   fileID,
		Filename: header.Filename,
		Size:     header.Size,
	})
}

func (a *API) tooLarge() error {
	return apperrors.Validation("video", fmt.Sprintf("file exceeds the %d MB limit", a.deps.MaxUploadBytes>>20))
}

func (a *API) file(c *gin.Context) {
	key := strings.TrimPrefix(c.Param("key"), "/")
	if key == "" {
		abortWithError(c, apperrors.Validation("key", "object key is required"))
		return
	}
	body, err := a.deps.Store.Get(c.Request.Context(), key)
	if err != nil {
		abortWithError(c, err)
		return
	}
	defer body.Close()

	contentType := mime.TypeByExtension(filepath.Ext(key))
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	c.Header("Content-Type", contentType)
	c.Status(http.StatusOK)
	if _, err := io.Copy(c.Writer, body); err != nil {
		zerolog.Ctx(c.Request.Context()).Warn().Err(err).Str("key", key).Msg("file stream interrupted")
	}
}
