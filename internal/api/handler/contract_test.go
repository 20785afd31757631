package handler_test

import (
	"bytes"
	"context"
	"encoding/json"
	"image"
	"image/color"
	"image/png"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/kiranshivaraju/meshforge/internal/api"
	"github.com/kiranshivaraju/meshforge/internal/api/handler"
	"github.com/kiranshivaraju/meshforge/internal/artifact"
	"github.com/kiranshivaraju/meshforge/internal/backend"
	"github.com/kiranshivaraju/meshforge/internal/backend/mock"
	"github.com/kiranshivaraju/meshforge/internal/jobs"
	"github.com/kiranshivaraju/meshforge/internal/metrics"
	"github.com/kiranshivaraju/meshforge/internal/pipeline"
	"github.com/kiranshivaraju/meshforge/internal/worker"
)

// ─── test fixtures ───────────────────────────────────────────────────────────

type stack struct {
	router http.Handler
	store  jobs.Store
}

func newStack(t *testing.T, b *mock.Backend) *stack {
	t.Helper()
	logger := zap.NewNop()
	files, err := artifact.NewFileStore(t.TempDir())
	require.NoError(t, err)

	store := jobs.NewMemoryStore()
	collector := metrics.NewCollector("meshforge", logger)
	pool := worker.NewPool(4)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		pool.Shutdown(ctx)
	})

	svc := pipeline.NewService(pipeline.Dependencies{
		Store:     store,
		Loader:    backend.NewLoader(b, handler.DefaultModelPath, true),
		Artifacts: artifact.NewMaterializer(files),
		Pool:      pool,
		Metrics:   collector,
		Logger:    logger,
	})

	router := api.NewRouter(api.Dependencies{
		Logger:            logger,
		Recorder:          collector,
		Metrics:           collector.Handler(),
		RootHandler:       handler.NewRootHandler(svc, "test"),
		HealthHandler:     handler.NewHealthHandler(svc),
		AnalyzeHandler:    handler.NewAnalyzeHandler(svc, 0),
		GenerateHandler:   handler.NewGenerateHandler(svc, 0),
		StatusHandler:     handler.NewStatusHandler(svc, true),
		ResultHandler:     handler.NewResultHandler(svc),
		DownloadHandler:   handler.NewDownloadHandler(svc),
		FormatsHandler:    handler.NewFormatsHandler(),
		LoadModelsHandler: handler.NewLoadModelsHandler(svc),
		ListJobsHandler:   handler.NewListJobsHandler(svc, true),
	})
	return &stack{router: router, store: store}
}

func pngBlueprint(t *testing.T) []byte {
	t.Helper()
	img := image.NewNRGBA(image.Rect(0, 0, 48, 48))
	for y := 0; y < 48; y++ {
		for x := 0; x < 48; x++ {
			c := color.NRGBA{R: 255, G: 255, B: 255, A: 255}
			if x > 10 && x < 38 && y > 10 && y < 38 {
				c = color.NRGBA{R: 90, G: 60, B: 30, A: 255}
			}
			img.SetNRGBA(x, y, c)
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func (s *stack) do(t *testing.T, method, path string, body io.Reader, contentType string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, body)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	return rec
}

func (s *stack) submit(t *testing.T, image []byte, fields map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	mpw := multipart.NewWriter(&buf)
	fw, err := mpw.CreateFormFile("image", "blueprint.png")
	require.NoError(t, err)
	_, err = fw.Write(image)
	require.NoError(t, err)
	for k, v := range fields {
		require.NoError(t, mpw.WriteField(k, v))
	}
	require.NoError(t, mpw.Close())
	return s.do(t, http.MethodPost, "/generate3d", &buf, mpw.FormDataContentType())
}

func data(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var env struct {
		Data map[string]any `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env), rec.Body.String())
	return env.Data
}

func errCode(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var env struct {
		Error struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env), rec.Body.String())
	return env.Error.Code
}

func (s *stack) waitFor(t *testing.T, jobID string, status string) map[string]any {
	t.Helper()
	var last map[string]any
	require.Eventually(t, func() bool {
		rec := s.do(t, http.MethodGet, "/status/"+jobID, nil, "")
		if rec.Code != http.StatusOK {
			return false
		}
		last = data(t, rec)
		return last["status"] == status
	}, 10*time.Second, 10*time.Millisecond, "job %s never reached %s", jobID, status)
	return last
}

// ─── contract tests ──────────────────────────────────────────────────────────

func TestContract_GenerateAndDownload(t *testing.T) {
	s := newStack(t, mock.New())

	rec := s.submit(t, pngBlueprint(t), map[string]string{"max_face_count": "200"})
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())
	sub := data(t, rec)
	assert.Equal(t, "queued", sub["status"])
	assert.Equal(t, "30-120 seconds", sub["estimated_time"])
	jobID := sub["job_id"].(string)

	status := s.waitFor(t, jobID, "completed")
	assert.Equal(t, float64(100), status["progress"])

	rec = s.do(t, http.MethodGet, "/result/"+jobID, nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	result := data(t, rec)
	assert.LessOrEqual(t, result["mesh_stats"].(map[string]any)["faces"].(float64), float64(200))
	arts := result["artifacts"].(map[string]any)
	glb := arts["model_glb"].(map[string]any)
	assert.Equal(t, "/download/"+jobID+"/model_glb", glb["url"])

	rec = s.do(t, http.MethodGet, glb["url"].(string), nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "glTF", rec.Body.String()[:4])
	assert.Equal(t, "model/gltf-binary", rec.Header().Get("Content-Type"))
	assert.Contains(t, rec.Header().Get("Content-Disposition"), "attachment")
	etag := rec.Header().Get("ETag")
	require.NotEmpty(t, etag)

	req := httptest.NewRequest(http.MethodGet, glb["url"].(string), nil)
	req.Header.Set("If-None-Match", etag)
	cached := httptest.NewRecorder()
	s.router.ServeHTTP(cached, req)
	assert.Equal(t, http.StatusNotModified, cached.Code)

	rec = s.do(t, http.MethodGet, "/download/"+jobID+"/model_obj", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, strings.Contains(rec.Body.String(), "\nv ") || strings.HasPrefix(rec.Body.String(), "v "))

	rec = s.do(t, http.MethodGet, "/jobs?status=completed", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), jobID)
}

func TestContract_NonImageCreatesNoJob(t *testing.T) {
	s := newStack(t, mock.New())

	rec := s.submit(t, []byte("GIF? no, just text"), nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "VALIDATION_ERROR", errCode(t, rec))
	assert.NotContains(t, rec.Body.String(), "job_id")

	list, err := s.store.List(context.Background(), jobs.ListFilter{})
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestContract_ResultBeforeCompletion(t *testing.T) {
	gate := make(chan struct{})
	s := newStack(t, mock.NewGatedBackend(gate))

	rec := s.submit(t, pngBlueprint(t), nil)
	require.Equal(t, http.StatusAccepted, rec.Code)
	jobID := data(t, rec)["job_id"].(string)
	s.waitFor(t, jobID, "processing")

	rec = s.do(t, http.MethodGet, "/result/"+jobID, nil, "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "NOT_READY", errCode(t, rec))

	rec = s.do(t, http.MethodGet, "/download/"+jobID+"/model_glb", nil, "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	close(gate)
	s.waitFor(t, jobID, "completed")
}

func TestContract_UnknownJob(t *testing.T) {
	s := newStack(t, mock.New())

	for _, path := range []string{
		"/status/3f1c0000-0000-0000-0000-000000000000",
		"/result/3f1c0000-0000-0000-0000-000000000000",
		"/download/3f1c0000-0000-0000-0000-000000000000/model_glb",
		"/status/not-a-uuid",
	} {
		rec := s.do(t, http.MethodGet, path, nil, "")
		assert.Equal(t, http.StatusNotFound, rec.Code, path)
		assert.Equal(t, "NOT_FOUND", errCode(t, rec), path)
	}
}

func TestContract_FailedJobReportsStage(t *testing.T) {
	s := newStack(t, mock.NewFailingBackend("generate_mesh", assert.AnError))

	rec := s.submit(t, pngBlueprint(t), nil)
	require.Equal(t, http.StatusAccepted, rec.Code)
	jobID := data(t, rec)["job_id"].(string)

	status := s.waitFor(t, jobID, "failed")
	assert.Equal(t, float64(0), status["progress"])
	assert.True(t, strings.HasPrefix(status["message"].(string), "Error: "))
	errObj := status["error"].(map[string]any)
	assert.Equal(t, "generate_mesh", errObj["stage"])
	assert.NotEmpty(t, errObj["trace"])
	assert.NotContains(t, status, "result")
}

func TestContract_AnalyzeLoadHealth(t *testing.T) {
	s := newStack(t, mock.New())

	var buf bytes.Buffer
	mpw := multipart.NewWriter(&buf)
	fw, err := mpw.CreateFormFile("file", "plan.png")
	require.NoError(t, err)
	_, err = fw.Write(pngBlueprint(t))
	require.NoError(t, err)
	require.NoError(t, mpw.Close())

	rec := s.do(t, http.MethodPost, "/analyze", &buf, mpw.FormDataContentType())
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	fa := data(t, rec)
	assert.Equal(t, float64(48), fa["image_properties"].(map[string]any)["width"])

	rec = s.do(t, http.MethodGet, "/health", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, false, data(t, rec)["models_loaded"])

	rec = s.do(t, http.MethodPost, "/load_models", strings.NewReader("model_path=tencent%2FHunyuan3D-2mini"), "application/x-www-form-urlencoded")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "Models loaded successfully: tencent/Hunyuan3D-2mini", data(t, rec)["message"])

	rec = s.do(t, http.MethodGet, "/health", nil, "")
	assert.Equal(t, true, data(t, rec)["models_loaded"])

	rec = s.do(t, http.MethodGet, "/", nil, "")
	assert.Equal(t, "running", data(t, rec)["status"])

	rec = s.do(t, http.MethodGet, "/formats", nil, "")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestContract_MetricsExposed(t *testing.T) {
	s := newStack(t, mock.New())
	s.do(t, http.MethodGet, "/health", nil, "")

	rec := s.do(t, http.MethodGet, "/metrics", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, "meshforge_http_requests_total")
	assert.Contains(t, body, `route="/health"`)
}
