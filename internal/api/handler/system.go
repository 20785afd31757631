package handler

import (
	"context"
	"net/http"

	"github.com/kiranshivaraju/meshforge/internal/api/response"
	"github.com/kiranshivaraju/meshforge/internal/imageio"
	"github.com/kiranshivaraju/meshforge/internal/pipeline"
	"github.com/kiranshivaraju/meshforge/pkg/models"
)

// DefaultModelPath is loaded by /load_models when no model_path is given.
const DefaultModelPath = "tencent/Hunyuan3D-2"

// ModelManager defines the model and health operations the handlers depend on.
type ModelManager interface {
	LoadModels(ctx context.Context, modelPath string, enableTexture bool) (models.BackendStatus, error)
	Health(ctx context.Context) pipeline.Health
}

// Analyzer runs the synchronous feature estimator.
type Analyzer interface {
	Analyze(ctx context.Context, data []byte) (models.FeatureAnalysis, error)
}

var (
	_ ModelManager = (*pipeline.Service)(nil)
	_ Analyzer     = (*pipeline.Service)(nil)
)

// Formats lists what the service accepts and produces.
type Formats struct {
	InputFormats   []string `json:"input_formats"`
	OutputFormats  []string `json:"output_formats"`
	TextureFormats []string `json:"texture_formats"`
	ModelVariants  []string `json:"model_variants"`
}

// SupportedFormats is the capability list served by /formats.
var SupportedFormats = Formats{
	InputFormats:   imageio.InputFormats,
	OutputFormats:  []string{"glb", "obj"},
	TextureFormats: []string{"png"},
	ModelVariants: []string{
		"tencent/Hunyuan3D-2",
		"tencent/Hunyuan3D-2mini",
		"tencent/Hunyuan3D-2mv",
	},
}

type bannerResponse struct {
	Status      string            `json:"status"`
	Service     string            `json:"service"`
	Version     string            `json:"version"`
	Backend     string            `json:"backend"`
	Device      string            `json:"device"`
	ModelLoaded bool              `json:"model_loaded"`
	DemoMode    bool              `json:"demo_mode"`
	Models      map[string]string `json:"models"`
}

// NewRootHandler returns an http.HandlerFunc for GET /.
func NewRootHandler(svc ModelManager, version string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		h := svc.Health(r.Context())
		response.JSON(w, bannerResponse{
			Status:      "running",
			Service:     "meshforge",
			Version:     version,
			Backend:     h.Backend,
			Device:      h.Pipelines.Device,
			ModelLoaded: h.ModelsLoaded,
			DemoMode:    h.Pipelines.DemoMode,
			Models: map[string]string{
				"shape_generation":   "Hunyuan3D-DiT",
				"texture_synthesis":  "Hunyuan3D-Paint",
				"background_removal": "rembg",
			},
		})
	}
}

// NewHealthHandler returns an http.HandlerFunc for GET /health. A degraded
// service still answers 200 so the body can be inspected.
func NewHealthHandler(svc ModelManager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		response.JSON(w, svc.Health(r.Context()))
	}
}

// NewFormatsHandler returns an http.HandlerFunc for GET /formats.
func NewFormatsHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		response.JSON(w, SupportedFormats)
	}
}

type loadModelsResponse struct {
	Success        bool   `json:"success"`
	Message        string `json:"message"`
	Device         string `json:"device"`
	ModelPath      string `json:"model_path"`
	TextureEnabled bool   `json:"texture_enabled"`
}

// NewLoadModelsHandler returns an http.HandlerFunc for POST /load_models.
func NewLoadModelsHandler(svc ModelManager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !parseForm(w, r, DefaultMaxUploadBytes) {
			return
		}
		modelPath := DefaultModelPath
		if v, ok := formValue(r, "model_path"); ok {
			modelPath = v
		}
		enableTexture, err := formBool(r, "enable_texture", true)
		if err != nil {
			writeFieldError(w, err)
			return
		}

		st, err := svc.LoadModels(r.Context(), modelPath, enableTexture)
		if err != nil {
			writeServiceError(w, r, err)
			return
		}
		response.JSON(w, loadModelsResponse{
			Success:        true,
			Message:        "Models loaded successfully: " + modelPath,
			Device:         st.Device,
			ModelPath:      modelPath,
			TextureEnabled: st.TexturePipeline,
		})
	}
}

// NewAnalyzeHandler returns an http.HandlerFunc for POST /analyze.
func NewAnalyzeHandler(svc Analyzer, maxUploadBytes int64) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !parseForm(w, r, maxUploadBytes) {
			return
		}
		data, err := readFile(r, "file", "image")
		if err != nil {
			response.Error(w, http.StatusBadRequest, "VALIDATION_ERROR", "image file is required", nil)
			return
		}
		fa, err := svc.Analyze(r.Context(), data)
		if err != nil {
			writeServiceError(w, r, err)
			return
		}
		response.JSON(w, fa)
	}
}
