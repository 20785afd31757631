package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	mw "github.com/kiranshivaraju/meshforge/internal/api/middleware"
	"github.com/kiranshivaraju/meshforge/internal/api/response"
)

// Dependencies holds all handler and middleware dependencies for the router.
type Dependencies struct {
	Logger   *zap.Logger
	Recorder mw.RequestRecorder
	Metrics  http.Handler

	RootHandler       http.HandlerFunc
	HealthHandler     http.HandlerFunc
	AnalyzeHandler    http.HandlerFunc
	GenerateHandler   http.HandlerFunc
	StatusHandler     http.HandlerFunc
	ResultHandler     http.HandlerFunc
	DownloadHandler   http.HandlerFunc
	FormatsHandler    http.HandlerFunc
	LoadModelsHandler http.HandlerFunc
	ListJobsHandler   http.HandlerFunc
}

// NewRouter builds the Chi router with middleware stack and all routes.
func NewRouter(deps Dependencies) http.Handler {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	r := chi.NewRouter()

	// Global middleware
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(mw.Logger(logger, deps.Recorder))
	r.Use(mw.Recovery(logger))

	r.Get("/", orNotImplemented(deps.RootHandler))
	r.Get("/health", orNotImplemented(deps.HealthHandler))
	r.Get("/formats", orNotImplemented(deps.FormatsHandler))

	r.Post("/analyze", orNotImplemented(deps.AnalyzeHandler))
	r.Post("/generate3d", orNotImplemented(deps.GenerateHandler))
	r.Post("/load_models", orNotImplemented(deps.LoadModelsHandler))

	r.Get("/status/{job_id}", orNotImplemented(deps.StatusHandler))
	r.Get("/result/{job_id}", orNotImplemented(deps.ResultHandler))
	r.Get("/download/{job_id}/{kind}", orNotImplemented(deps.DownloadHandler))
	r.Get("/jobs", orNotImplemented(deps.ListJobsHandler))

	if deps.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", deps.Metrics)
	}

	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		response.Error(w, http.StatusNotFound, "NOT_FOUND", "Route not found", nil)
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, _ *http.Request) {
		response.Error(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
	})

	return r
}

// orNotImplemented returns the handler if non-nil, or a 501 placeholder.
func orNotImplemented(h http.HandlerFunc) http.HandlerFunc {
	if h != nil {
		return h
	}
	return func(w http.ResponseWriter, r *http.Request) {
		response.Error(w, http.StatusNotImplemented, "NOT_IMPLEMENTED", "Endpoint not yet implemented", nil)
	}
}
