// Package pipeline orchestrates image-to-mesh generation jobs: it validates
// submissions, runs each job through its stages in the background and answers
// status, result and download queries from the job store.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/kiranshivaraju/meshforge/internal/artifact"
	"github.com/kiranshivaraju/meshforge/internal/backend"
	"github.com/kiranshivaraju/meshforge/internal/features"
	"github.com/kiranshivaraju/meshforge/internal/imageio"
	"github.com/kiranshivaraju/meshforge/internal/jobs"
	"github.com/kiranshivaraju/meshforge/internal/metrics"
	"github.com/kiranshivaraju/meshforge/internal/telemetry"
	"github.com/kiranshivaraju/meshforge/internal/worker"
	"github.com/kiranshivaraju/meshforge/pkg/models"
)

// Messages reported on the job record.
const (
	MessageQueued    = "Job queued for processing"
	MessageCompleted = "3D model generated successfully"
)

// Dependencies holds everything the Service needs.
type Dependencies struct {
	Store     jobs.Store
	Loader    *backend.Loader
	Artifacts *artifact.Materializer
	Pool      *worker.Pool
	Metrics   *metrics.Collector
	Logger    *zap.Logger
	// Tracer defaults to the global service tracer.
	Tracer trace.Tracer
}

// Service is the job orchestrator.
type Service struct {
	store     jobs.Store
	loader    *backend.Loader
	artifacts *artifact.Materializer
	pool      *worker.Pool
	metrics   *metrics.Collector
	logger    *zap.Logger
	tracer    trace.Tracer
	now       func() time.Time
}

// NewService creates a Service from deps.
func NewService(deps Dependencies) *Service {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	tracer := deps.Tracer
	if tracer == nil {
		tracer = telemetry.Tracer()
	}
	return &Service{
		store:     deps.Store,
		loader:    deps.Loader,
		artifacts: deps.Artifacts,
		pool:      deps.Pool,
		metrics:   deps.Metrics,
		logger:    logger.With(zap.String("component", "pipeline")),
		tracer:    tracer,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// SubmitRequest is a generation request.
type SubmitRequest struct {
	Image  []byte
	Params models.GenerationParams
}

// Submit validates req, stores a queued job and schedules it. It never waits
// for generation.
func (s *Service) Submit(ctx context.Context, req SubmitRequest) (*models.Job, error) {
	if len(req.Image) == 0 {
		return nil, validationError("image is required")
	}
	if _, err := imageio.Sniff(req.Image); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrValidation, err)
	}
	if err := ValidateParams(req.Params); err != nil {
		return nil, err
	}

	job := &models.Job{
		ID:        uuid.New(),
		Status:    models.JobStatusQueued,
		Message:   MessageQueued,
		Params:    req.Params,
		CreatedAt: s.now(),
	}
	if err := s.store.Put(ctx, job); err != nil {
		return nil, fmt.Errorf("storing job: %w", err)
	}

	data := req.Image
	snapshot := job.Clone()
	if err := s.pool.Go(func(ctx context.Context) { s.execute(ctx, job, data) }); err != nil {
		// The job exists, so the failure is recorded on it rather than returned.
		s.fail(context.WithoutCancel(ctx), job, &StageError{Stage: models.StageDecode, Err: err}, "")
	}

	s.metrics.JobSubmitted()
	s.logger.Info("job submitted",
		zap.String("job_id", job.ID.String()),
		zap.Int("image_bytes", len(data)),
		zap.Bool("include_textures", req.Params.IncludeTextures))
	return snapshot, nil
}

// GetStatus returns the current snapshot of a job.
func (s *Service) GetStatus(ctx context.Context, id string) (*models.Job, error) {
	jobID, err := uuid.Parse(id)
	if err != nil {
		return nil, fmt.Errorf("%w: job %s", ErrNotFound, id)
	}
	job, err := s.store.Get(ctx, jobID)
	if errors.Is(err, jobs.ErrNotFound) {
		return nil, fmt.Errorf("%w: job %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("loading job: %w", err)
	}
	return job, nil
}

// GetResult returns the result of a completed job.
func (s *Service) GetResult(ctx context.Context, id string) (*models.GenerationResult, error) {
	job, err := s.GetStatus(ctx, id)
	if err != nil {
		return nil, err
	}
	if job.Status != models.JobStatusCompleted || job.Result == nil {
		return nil, fmt.Errorf("%w: job %s is %s", ErrNotReady, id, job.Status)
	}
	return job.Result, nil
}

// Download is an open artifact ready to stream.
type Download struct {
	io.ReadSeekCloser
	Artifact models.Artifact
	ModTime  time.Time
}

// Download opens the named artifact of a completed job.
func (s *Service) Download(ctx context.Context, id, kind string) (*Download, error) {
	job, err := s.GetStatus(ctx, id)
	if err != nil {
		return nil, err
	}
	k, ok := models.ParseArtifactKind(kind)
	if !ok {
		return nil, fmt.Errorf("%w: unknown artifact kind %q", ErrNotFound, kind)
	}
	if job.Status != models.JobStatusCompleted || job.Result == nil {
		return nil, fmt.Errorf("%w: job %s is %s", ErrNotReady, id, job.Status)
	}
	a, ok := job.Result.Artifacts[k]
	if !ok {
		return nil, fmt.Errorf("%w: job %s has no %s artifact", ErrNotFound, id, k)
	}
	r, err := s.artifacts.Open(job.ID, a)
	if errors.Is(err, artifact.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s file missing", ErrNotFound, k)
	}
	if err != nil {
		return nil, fmt.Errorf("opening artifact: %w", err)
	}
	var mod time.Time
	if job.CompletedAt != nil {
		mod = *job.CompletedAt
	}
	return &Download{ReadSeekCloser: r, Artifact: a, ModTime: mod}, nil
}

// List returns job snapshots newest first.
func (s *Service) List(ctx context.Context, filter jobs.ListFilter) ([]*models.Job, error) {
	if filter.Status != "" && !filter.Status.Valid() {
		return nil, validationError("unknown status %q", filter.Status)
	}
	list, err := s.store.List(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("listing jobs: %w", err)
	}
	return list, nil
}

// Analyze runs the feature estimator on an uploaded image. The backend's
// background remover is used only if models are already loaded, so analysis
// never triggers a model load.
func (s *Service) Analyze(ctx context.Context, data []byte) (models.FeatureAnalysis, error) {
	img, _, err := imageio.Decode(data)
	if err != nil {
		return models.FeatureAnalysis{}, fmt.Errorf("%w: %w", ErrValidation, err)
	}
	var remover features.BackgroundRemover
	if s.loader.Loaded() && s.loader.Backend().Status().BackgroundRemover {
		remover = s.loader.Backend()
	}
	return features.Analyze(ctx, img, remover), nil
}

// LoadModels explicitly loads or switches models.
func (s *Service) LoadModels(ctx context.Context, modelPath string, enableTexture bool) (models.BackendStatus, error) {
	if err := s.loader.Load(ctx, modelPath, enableTexture); err != nil {
		return models.BackendStatus{}, err
	}
	return s.loader.Backend().Status(), nil
}

// healthProbeTimeout bounds the backend's own health check.
const healthProbeTimeout = 5 * time.Second

// backendProber is implemented by backends that can report live status, such
// as a remote inference worker.
type backendProber interface {
	Health(ctx context.Context) (models.BackendStatus, error)
}

// Health is the service's liveness report.
type Health struct {
	Status       string               `json:"status"`
	Backend      string               `json:"backend"`
	BackendError string               `json:"backend_error,omitempty"`
	ModelsLoaded bool                 `json:"models_loaded"`
	Pipelines    models.BackendStatus `json:"pipelines"`
	Store        string               `json:"store"`
	RunningJobs  int                  `json:"running_jobs"`
	WaitingJobs  int                  `json:"waiting_jobs"`
}

// Health reports backend and store status. An unreachable backend or a
// failing store degrades the status.
func (s *Service) Health(ctx context.Context) Health {
	b := s.loader.Backend()
	h := Health{
		Status:       "healthy",
		Backend:      b.Name(),
		ModelsLoaded: s.loader.Loaded(),
		Pipelines:    b.Status(),
		Store:        "ok",
		RunningJobs:  s.pool.Running(),
		WaitingJobs:  s.pool.Waiting(),
	}
	if p, ok := b.(backendProber); ok {
		probeCtx, cancel := context.WithTimeout(ctx, healthProbeTimeout)
		st, err := p.Health(probeCtx)
		cancel()
		if err != nil {
			s.logger.Warn("backend health check failed", zap.Error(err))
			h.Status = "degraded"
			h.BackendError = err.Error()
			h.Pipelines.ShapePipeline = false
			h.Pipelines.TexturePipeline = false
			h.Pipelines.BackgroundRemover = false
		} else {
			h.Pipelines = st
		}
	}
	if err := s.store.Ping(ctx); err != nil {
		s.logger.Warn("job store ping failed", zap.Error(err))
		h.Status = "degraded"
		h.Store = "unavailable"
	}
	return h
}
