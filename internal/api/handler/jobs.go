package handler

import (
	"context"
	"errors"
	"mime"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	mw "github.com/kiranshivaraju/meshforge/internal/api/middleware"
	"github.com/kiranshivaraju/meshforge/internal/api/response"
	"github.com/kiranshivaraju/meshforge/internal/jobs"
	"github.com/kiranshivaraju/meshforge/internal/pipeline"
	"github.com/kiranshivaraju/meshforge/pkg/models"
)

// EstimatedTime is the completion estimate returned on submission.
const EstimatedTime = "30-120 seconds"

// Generator defines the job operations the handlers depend on.
type Generator interface {
	Submit(ctx context.Context, req pipeline.SubmitRequest) (*models.Job, error)
	GetStatus(ctx context.Context, id string) (*models.Job, error)
	GetResult(ctx context.Context, id string) (*models.GenerationResult, error)
	Download(ctx context.Context, id, kind string) (*pipeline.Download, error)
	List(ctx context.Context, filter jobs.ListFilter) ([]*models.Job, error)
}

var _ Generator = (*pipeline.Service)(nil)

type submitResponse struct {
	JobID         string           `json:"job_id"`
	Status        models.JobStatus `json:"status"`
	Message       string           `json:"message"`
	EstimatedTime string           `json:"estimated_time"`
}

// NewGenerateHandler returns an http.HandlerFunc for POST /generate3d.
func NewGenerateHandler(svc Generator, maxUploadBytes int64) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !parseForm(w, r, maxUploadBytes) {
			return
		}
		data, err := readFile(r, "image", "file")
		if errors.Is(err, errMissingFile) {
			response.Error(w, http.StatusBadRequest, "VALIDATION_ERROR", "image file is required", nil)
			return
		}
		if err != nil {
			response.Error(w, http.StatusBadRequest, "VALIDATION_ERROR", "Could not read image upload", nil)
			return
		}

		params, err := generationParams(r)
		if err != nil {
			writeFieldError(w, err)
			return
		}

		job, err := svc.Submit(r.Context(), pipeline.SubmitRequest{Image: data, Params: params})
		if err != nil {
			writeServiceError(w, r, err)
			return
		}

		response.Accepted(w, submitResponse{
			JobID:         job.ID.String(),
			Status:        job.Status,
			Message:       job.Message,
			EstimatedTime: EstimatedTime,
		})
	}
}

// NewStatusHandler returns an http.HandlerFunc for GET /status/{job_id}.
// Failure traces are stripped unless exposeTrace is set.
func NewStatusHandler(svc Generator, exposeTrace bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		job, err := svc.GetStatus(r.Context(), chi.URLParam(r, "job_id"))
		if err != nil {
			writeServiceError(w, r, err)
			return
		}
		response.JSON(w, renderJob(job, exposeTrace))
	}
}

// NewResultHandler returns an http.HandlerFunc for GET /result/{job_id}.
func NewResultHandler(svc Generator) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		result, err := svc.GetResult(r.Context(), chi.URLParam(r, "job_id"))
		if err != nil {
			writeServiceError(w, r, err)
			return
		}
		response.JSON(w, result)
	}
}

// NewDownloadHandler returns an http.HandlerFunc for GET /download/{job_id}/{kind}.
// Range and conditional requests are served against the artifact's ETag.
func NewDownloadHandler(svc Generator) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		d, err := svc.Download(r.Context(), chi.URLParam(r, "job_id"), chi.URLParam(r, "kind"))
		if err != nil {
			writeServiceError(w, r, err)
			return
		}
		defer func() {
			if err := d.Close(); err != nil {
				mw.LoggerFrom(r).Warn("closing artifact", zap.Error(err))
			}
		}()

		a := d.Artifact
		w.Header().Set("Content-Type", a.ContentType)
		w.Header().Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": a.Filename}))
		if a.ETag != "" {
			w.Header().Set("ETag", strconv.Quote(a.ETag))
		}
		http.ServeContent(w, r, a.Filename, d.ModTime, d)
	}
}

// NewListJobsHandler returns an http.HandlerFunc for GET /jobs.
func NewListJobsHandler(svc Generator, exposeTrace bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		filter := jobs.ListFilter{Status: models.JobStatus(r.URL.Query().Get("status"))}
		if v := r.URL.Query().Get("limit"); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil || n < 1 {
				response.Error(w, http.StatusBadRequest, "VALIDATION_ERROR", "limit must be a positive integer", nil)
				return
			}
			filter.Limit = n
		}

		list, err := svc.List(r.Context(), filter)
		if err != nil {
			writeServiceError(w, r, err)
			return
		}

		out := make([]*models.Job, 0, len(list))
		for _, j := range list {
			out = append(out, renderJob(j, exposeTrace))
		}
		response.Collection(w, out, response.ListMeta{
			Limit:  filter.MaxResults(),
			Count:  len(out),
			Status: string(filter.Status),
		})
	}
}

func renderJob(job *models.Job, exposeTrace bool) *models.Job {
	if exposeTrace || job.Error == nil || job.Error.Trace == "" {
		return job
	}
	out := job.Clone()
	out.Error.Trace = ""
	return out
}

func writeFieldError(w http.ResponseWriter, err error) {
	var fe *fieldError
	if errors.As(err, &fe) {
		response.Error(w, http.StatusBadRequest, "VALIDATION_ERROR", fe.Error(), map[string]string{"field": fe.Field})
		return
	}
	response.Error(w, http.StatusBadRequest, "VALIDATION_ERROR", err.Error(), nil)
}
