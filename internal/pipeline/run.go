package pipeline

import (
	"context"
	"errors"
	"fmt"
	"image"
	"runtime/debug"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/kiranshivaraju/meshforge/internal/imageio"
	"github.com/kiranshivaraju/meshforge/internal/mesh"
	"github.com/kiranshivaraju/meshforge/pkg/models"
)

// run is the state of one job execution. Only its own goroutine touches job.
type run struct {
	svc    *Service
	job    *models.Job
	data   []byte
	stage  models.Stage
	logger *zap.Logger
}

// execute drives job through every stage and records the terminal state.
func (s *Service) execute(ctx context.Context, job *models.Job, data []byte) {
	s.metrics.JobStarted()
	ctx, span := s.tracer.Start(ctx, "generation.job", trace.WithAttributes(
		attribute.String("job.id", job.ID.String()),
		attribute.Bool("job.include_textures", job.Params.IncludeTextures),
	))
	defer span.End()

	r := &run{
		svc:    s,
		job:    job,
		data:   data,
		stage:  models.StageDecode,
		logger: s.logger.With(zap.String("job_id", job.ID.String())),
	}
	start := time.Now()

	defer func() {
		if rec := recover(); rec != nil {
			err := &StageError{Stage: r.stage, Err: fmt.Errorf("panic: %v", rec)}
			span.SetStatus(codes.Error, err.Error())
			s.fail(ctx, job, err, string(debug.Stack()))
			s.metrics.JobFinished(string(models.JobStatusFailed))
		}
	}()

	if err := ctx.Err(); err != nil {
		s.fail(ctx, job, &StageError{Stage: models.StageDecode, Err: fmt.Errorf("cancelled before start: %w", err)}, "")
		s.metrics.JobFinished(string(models.JobStatusFailed))
		return
	}

	if err := r.run(ctx); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		s.fail(ctx, job, err, errorTrace(err))
		s.metrics.JobFinished(string(models.JobStatusFailed))
		return
	}
	s.metrics.JobFinished(string(models.JobStatusCompleted))
	r.logger.Info("job completed",
		zap.Int("faces", job.Result.MeshStats.Faces),
		zap.Int64("duration_ms", time.Since(start).Milliseconds()))
}

func (r *run) run(ctx context.Context) error {
	var img image.Image
	if err := r.step(ctx, models.StageDecode, 5, "Loading and preprocessing image...", func(ctx context.Context) error {
		decoded, _, err := imageio.Decode(r.data)
		img = decoded
		return err
	}); err != nil {
		return err
	}
	r.data = nil

	loader := r.svc.loader
	if err := r.step(ctx, models.StageLoadModels, 10, "Ensuring models are loaded...", func(ctx context.Context) error {
		return loader.EnsureLoaded(ctx)
	}); err != nil {
		return err
	}
	b := loader.Backend()

	processed := img
	if err := r.step(ctx, models.StageRemoveBackground, 15, "Removing background...", func(ctx context.Context) error {
		if !b.Status().BackgroundRemover {
			return nil
		}
		out, err := b.RemoveBackground(ctx, img)
		if err != nil {
			return err
		}
		processed = out
		return nil
	}); err != nil {
		return err
	}

	params := r.job.Params
	var m *models.Mesh
	if err := r.step(ctx, models.StageGenerateMesh, 25, "Generating 3D mesh...", func(ctx context.Context) error {
		out, err := b.GenerateMesh(ctx, processed, meshOptions(params))
		m = out
		return err
	}); err != nil {
		return err
	}

	if err := r.step(ctx, models.StageCleanMesh, 70, "Post-processing mesh...", func(ctx context.Context) error {
		out, err := b.CleanMesh(ctx, m, params.MaxFaceCount)
		if err != nil {
			return err
		}
		if len(out.Faces) > params.MaxFaceCount {
			return fmt.Errorf("%w: cleaned mesh has %d faces, budget %d", models.ErrStageFailed, len(out.Faces), params.MaxFaceCount)
		}
		m = out
		return nil
	}); err != nil {
		return err
	}

	texture := params.IncludeTextures && b.Status().TexturePipeline
	textureMsg := "Finalizing mesh..."
	if texture {
		textureMsg = "Generating textures..."
	}
	if err := r.step(ctx, models.StageTexture, 80, textureMsg, func(ctx context.Context) error {
		if !texture {
			return nil
		}
		out, err := b.ApplyTexture(ctx, m, processed)
		if err != nil {
			return err
		}
		m = out
		return nil
	}); err != nil {
		return err
	}

	var arts models.Artifacts
	if err := r.step(ctx, models.StageMaterialize, 90, "Saving results...", func(ctx context.Context) error {
		out, err := r.svc.artifacts.Persist(ctx, r.job.ID, m, processed)
		arts = out
		return err
	}); err != nil {
		return err
	}

	var stats models.MeshStats
	if err := r.track(ctx, models.StageStats, func(context.Context) error {
		stats = mesh.Stats(m)
		return nil
	}); err != nil {
		return err
	}

	st := b.Status()
	return r.complete(ctx, &models.GenerationResult{
		MeshStats:        stats,
		GenerationParams: params,
		Artifacts:        arts,
		ModelInfo: models.ModelInfo{
			Backend:   b.Name(),
			Device:    st.Device,
			ModelPath: loader.ModelPath(),
			DemoMode:  st.DemoMode,
		},
	})
}

// step publishes the stage checkpoint and then runs fn.
func (r *run) step(ctx context.Context, stage models.Stage, progress int, message string, fn func(context.Context) error) error {
	r.stage = stage
	if err := r.checkpoint(ctx, progress, message); err != nil {
		return &StageError{Stage: stage, Err: err}
	}
	return r.track(ctx, stage, fn)
}

// track runs fn inside a span and records its duration.
func (r *run) track(ctx context.Context, stage models.Stage, fn func(context.Context) error) error {
	r.stage = stage
	ctx, span := r.svc.tracer.Start(ctx, "stage."+string(stage), trace.WithAttributes(attribute.String("stage", string(stage))))
	defer span.End()

	start := time.Now()
	err := fn(ctx)
	elapsed := time.Since(start)
	r.svc.metrics.ObserveStage(string(stage), elapsed)

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return &StageError{Stage: stage, Err: err}
	}
	r.logger.Debug("stage finished", zap.String("stage", string(stage)), zap.Int64("duration_ms", elapsed.Milliseconds()))
	return nil
}

// checkpoint writes progress and message. The first checkpoint moves the job
// from queued to processing.
func (r *run) checkpoint(ctx context.Context, progress int, message string) error {
	next := r.job.Clone()
	if next.Status == models.JobStatusQueued {
		next.Status = models.JobStatusProcessing
		now := r.svc.now()
		next.StartedAt = &now
	}
	next.Progress = progress
	next.Message = message
	if err := r.svc.store.Put(ctx, next); err != nil {
		return fmt.Errorf("recording progress: %w", err)
	}
	*r.job = *next
	r.logger.Info("job progress",
		zap.String("stage", string(r.stage)),
		zap.Int("progress", progress),
		zap.String("message", message))
	return nil
}

// complete sets the result, progress 100 and completed status in a single write.
func (r *run) complete(ctx context.Context, result *models.GenerationResult) error {
	next := r.job.Clone()
	now := r.svc.now()
	next.Status = models.JobStatusCompleted
	next.Progress = 100
	next.Message = MessageCompleted
	next.CompletedAt = &now
	next.Result = result
	if err := r.svc.store.Put(ctx, next); err != nil {
		return &StageError{Stage: models.StageStats, Err: fmt.Errorf("recording result: %w", err)}
	}
	*r.job = *next
	return nil
}

// fail records err as the job's terminal state. It uses a context that
// outlives cancellation so the failure is always written.
func (s *Service) fail(ctx context.Context, job *models.Job, err error, detail string) {
	ctx = context.WithoutCancel(ctx)

	stage := ""
	cause := err
	var se *StageError
	if errors.As(err, &se) {
		stage = string(se.Stage)
		cause = se.Err
	}

	next := job.Clone()
	now := s.now()
	next.Status = models.JobStatusFailed
	next.Progress = 0
	next.Message = "Error: " + cause.Error()
	next.FailedAt = &now
	next.Result = nil
	next.Error = &models.JobError{Message: cause.Error(), Stage: stage, Trace: detail}

	if putErr := s.store.Put(ctx, next); putErr != nil {
		s.logger.Error("recording job failure",
			zap.String("job_id", job.ID.String()),
			zap.NamedError("cause", err),
			zap.Error(putErr))
		return
	}
	*job = *next
	s.logger.Warn("job failed",
		zap.String("job_id", job.ID.String()),
		zap.String("stage", stage),
		zap.Error(cause))
}

// errorTrace renders the wrapped error chain, outermost first.
func errorTrace(err error) string {
	var b strings.Builder
	for e := err; e != nil; e = errors.Unwrap(e) {
		if b.Len() > 0 {
			b.WriteString("\ncaused by: ")
		}
		b.WriteString(e.Error())
	}
	return b.String()
}
