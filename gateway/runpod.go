package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net/http"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/rs/zerolog"

	"video-restore/apperrors"
	"video-restore/constant"
)

const defaultRunPodBaseURL = "https://api.runpod.ai/v2"

type RunPodConfig struct {
	APIKey            string
	EndpointID        string
	BaseURL           string
	Timeout           time.Duration
	PollRetries       uint
	PollRetryInterval time.Duration
}

// RunPod talks to a RunPod serverless endpoint over its REST API.
type RunPod struct {
	cfg    RunPodConfig
	client *http.Client
}

func NewRunPod(cfg RunPodConfig) *RunPod {
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultRunPodBaseURL
	}
	cfg.BaseURL = strings.TrimSuffix(cfg.BaseURL, "/")
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.PollRetries < 1 {
		cfg.PollRetries = 1
	}
	if cfg.PollRetryInterval <= 0 {
		cfg.PollRetryInterval = 500 * time.Millisecond
	}
	return &RunPod{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
	}
}

type runPodInput struct {
	VideoURL string `json:"video_url"`
	ResH     int    `json:"res_h"`
	ResW     int    `json:"res_w"`
	SpSize   int    `json:"sp_size"`
	Seed     int64  `json:"seed"`
}

type runPodRunRequest struct {
	Input runPodInput `json:"input"`
}

type runPodJob struct {
	ID     string          `json:"id"`
	Status string          `json:"status"`
	Output json.RawMessage `json:"output,omitempty"`
	Error  json.RawMessage `json:"error,omitempty"`
}

type runPodOutput struct {
	Status    string   `json:"status"`
	ResultURL string   `json:"result_url"`
	OutputURL string   `json:"output_url"`
	Error     string   `json:"error"`
	Progress  *float64 `json:"progress"`
}

func (r *RunPod) configured() error {
	if r.cfg.APIKey == "" || r.cfg.EndpointID == "" {
		return apperrors.Newf(apperrors.ErrGatewayUnavailable, "runpod api key or endpoint id is not configured")
	}
	return nil
}

func (r *RunPod) Submit(ctx context.Context, req SubmitRequest) (string, error) {
	if err := r.configured(); err != nil {
		return "", err
	}

	body, err := json.Marshal(runPodRunRequest{Input: runPodInput{
		VideoURL: req.SourceURL,
		ResH:     floorTo32(req.Height),
		ResW:     floorTo32(req.Width),
		SpSize:   req.Parallelism,
		Seed:     req.Seed,
	}})
	if err != nil {
		return "", err
	}

	status, job, err := r.do(ctx, http.MethodPost, "/run", body)
	if err != nil {
		return "", apperrors.Wrap(apperrors.ErrGatewayUnavailable, "runpod.submit", err)
	}
	if err := classify("runpod.submit", status, apperrors.ErrSubmissionRejected); err != nil {
		return "", err
	}
	if job.ID == "" {
		return "", apperrors.Newf(apperrors.ErrSubmissionRejected, "runpod.submit: response carried no job id")
	}

	zerolog.Ctx(ctx).Info().Str("remote_handle", job.ID).Str("remote_status", job.Status).Msg("submitted job to runpod")
	return job.ID, nil
}

func (r *RunPod) Poll(ctx context.Context, remoteHandle string) (*RemoteStatus, error) {
	if err := r.configured(); err != nil {
		return nil, err
	}

	operation := func() (*runPodJob, error) {
		status, job, err := r.do(ctx, http.MethodGet, "/status/"+remoteHandle, nil)
		if err != nil {
			zerolog.Ctx(ctx).Warn().Err(err).Str("remote_handle", remoteHandle).Msg("runpod status request failed")
			return nil, apperrors.Wrap(apperrors.ErrGatewayUnavailable, "runpod.poll", err)
		}
		if status == http.StatusNotFound {
			return nil, backoff.Permanent(apperrors.Newf(apperrors.ErrRemoteNotFound, "runpod.poll: remote job %s not found", remoteHandle))
		}
		if err := classify("runpod.poll", status, apperrors.ErrGatewayUnavailable); err != nil {
			if status >= 500 || status == http.StatusTooManyRequests {
				return nil, err
			}
			return nil, backoff.Permanent(err)
		}
		return job, nil
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = r.cfg.PollRetryInterval
	bo.MaxInterval = 10 * r.cfg.PollRetryInterval
	job, err := backoff.Retry(ctx, operation, backoff.WithBackOff(bo), backoff.WithMaxTries(r.cfg.PollRetries))
	if err != nil {
		return nil, err
	}
	return parseStatus(job), nil
}

func (r *RunPod) Cancel(ctx context.Context, remoteHandle string) (bool, error) {
	if err := r.configured(); err != nil {
		return false, err
	}

	status, job, err := r.do(ctx, http.MethodPost, "/cancel/"+remoteHandle, nil)
	if err != nil {
		return false, apperrors.Wrap(apperrors.ErrGatewayUnavailable, "runpod.cancel", err)
	}
	if status >= 500 || status == http.StatusUnauthorized || status == http.StatusForbidden {
		return false, classify("runpod.cancel", status, apperrors.ErrGatewayUnavailable)
	}
	if status != http.StatusOK {
		zerolog.Ctx(ctx).Info().Int("http_status", status).Str("remote_handle", remoteHandle).Msg("runpod refused cancellation")
		return false, nil
	}

	switch normalizeStatus(job.Status) {
	case constant.RemoteStatusSucceeded, constant.RemoteStatusFailed, constant.RemoteStatusTimedOut:
		return false, nil
	}
	return true, nil
}

func (r *RunPod) do(ctx context.Context, method, path string, body []byte) (int, *runPodJob, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, r.cfg.BaseURL+"/"+r.cfg.EndpointID+path, reader)
	if err != nil {
		return 0, nil, err
	}
	req.Header.Set("Authorization", "Bearer "+r.cfg.APIKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := r.client.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer resp.Body.Close()

	job := &runPodJob{}
	if resp.StatusCode == http.StatusOK {
		if err := json.NewDecoder(resp.Body).Decode(job); err != nil {
			return resp.StatusCode, nil, fmt.Errorf("decode runpod response: %w", err)
		}
	}
	return resp.StatusCode, job, nil
}

// classify turns a non-200 status into an error; 401, 403 and 5xx mean the
// runner is unusable, other 4xx fall under rejected.
func classify(op string, status int, rejected error) error {
	switch {
	case status == http.StatusOK:
		return nil
	case status == http.StatusUnauthorized, status == http.StatusForbidden, status >= 500:
		return apperrors.Newf(apperrors.ErrGatewayUnavailable, "%s: runpod answered %d", op, status)
	}
	return apperrors.Newf(rejected, "%s: runpod answered %d", op, status)
}

func normalizeStatus(s string) constant.RemoteStatus {
	switch s {
	case "IN_QUEUE":
		return constant.RemoteStatusQueued
	case "IN_PROGRESS":
		return constant.RemoteStatusRunning
	case "COMPLETED":
		return constant.RemoteStatusSucceeded
	case "FAILED":
		return constant.RemoteStatusFailed
	case "CANCELLED":
		return constant.RemoteStatusCancelled
	case "TIMED_OUT":
		return constant.RemoteStatusTimedOut
	}
	return constant.RemoteStatusUnknown
}

func parseStatus(job *runPodJob) *RemoteStatus {
	rs := &RemoteStatus{
		Kind:      normalizeStatus(job.Status),
		ErrorText: rawText(job.Error),
	}

	var out runPodOutput
	if len(job.Output) > 0 && json.Unmarshal(job.Output, &out) != nil {
		// Output may be a bare URL string or a bare progress number.
		var s string
		var f float64
		if json.Unmarshal(job.Output, &s) == nil {
			out.ResultURL = s
		} else if json.Unmarshal(job.Output, &f) == nil {
			out.Progress = &f
		}
	}

	switch rs.Kind {
	case constant.RemoteStatusRunning:
		rs.RawProgressHint = normalizeHint(out.Progress)
	case constant.RemoteStatusSucceeded:
		// The worker reports inference failures in-band on a completed run.
		if out.Status == "error" || (out.Error != "" && out.ResultURL == "" && out.OutputURL == "") {
			rs.Kind = constant.RemoteStatusFailed
			rs.ErrorText = out.Error
			break
		}
		rs.OutputReference = out.ResultURL
		if rs.OutputReference == "" {
			rs.OutputReference = out.OutputURL
		}
	case constant.RemoteStatusFailed, constant.RemoteStatusTimedOut:
		if rs.ErrorText == "" {
			rs.ErrorText = out.Error
		}
	}
	return rs
}

// normalizeHint reads hints above 1 as percentages.
func normalizeHint(p *float64) *float64 {
	if p == nil || math.IsNaN(*p) {
		return nil
	}
	f := *p
	if f > 1 {
		f /= 100
	}
	return &f
}

func rawText(raw json.RawMessage) string {
	if len(raw) == 0 || string(raw) == "null" {
		return ""
	}
	var s string
	if json.Unmarshal(raw, &s) == nil {
		return s
	}
	return string(raw)
}

func floorTo32(n int) int {
	return (n / 32) * 32
}
