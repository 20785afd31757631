package remote

import (
	"context"
	"encoding/json"
	"image"
	"image/color"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kiranshivaraju/meshforge/internal/imageio"
	"github.com/kiranshivaraju/meshforge/pkg/models"
)

// --- helpers ---

func workerServer(t *testing.T, handler http.HandlerFunc) *httptest.Server {
	t.Helper()
	ts := httptest.NewServer(handler)
	t.Cleanup(ts.Close)
	return ts
}

func newTestClient(t *testing.T, baseURL string) *Client {
	t.Helper()
	return NewClient(baseURL, 5*time.Second)
}

func tinyImage() image.Image {
	img := image.NewNRGBA(image.Rect(0, 0, 4, 4))
	img.Set(1, 1, color.NRGBA{R: 255, A: 255})
	return img
}

func triangle() meshPayload {
	return meshPayload{
		Vertices: [][3]float64{{0, 0, 0}, {1, 0, 0}, {0, 1, 0}},
		Faces:    [][3]int{{0, 1, 2}},
	}
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}

// --- LoadModels / Health ---

func TestLoadModels_UpdatesStatus(t *testing.T) {
	ts := workerServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/load", r.URL.Path)
		assert.Equal(t, http.MethodPost, r.Method)

		var req loadRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "tencent/Hunyuan3D-2", req.ModelPath)
		assert.True(t, req.EnableTexture)

		writeJSON(w, models.BackendStatus{Device: "cuda", ShapePipeline: true, TexturePipeline: true, BackgroundRemover: true})
	})

	c := newTestClient(t, ts.URL)
	require.NoError(t, c.LoadModels(context.Background(), "tencent/Hunyuan3D-2", true))

	st := c.Status()
	assert.Equal(t, "cuda", st.Device)
	assert.True(t, st.ShapePipeline)
	assert.True(t, st.TexturePipeline)
}

func TestLoadModels_ServerError(t *testing.T) {
	ts := workerServer(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "out of memory", http.StatusInternalServerError)
	})

	err := newTestClient(t, ts.URL).LoadModels(context.Background(), "x", false)
	require.Error(t, err)
	assert.ErrorIs(t, err, models.ErrStageFailed)
	assert.Contains(t, err.Error(), "out of memory")
}

func TestLoadModels_Unavailable(t *testing.T) {
	ts := workerServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	})

	err := newTestClient(t, ts.URL).LoadModels(context.Background(), "x", false)
	assert.ErrorIs(t, err, models.ErrBackendUnavailable)
}

func TestUnreachableWorker(t *testing.T) {
	c := newTestClient(t, "http://127.0.0.1:1")
	err := c.LoadModels(context.Background(), "x", false)
	assert.ErrorIs(t, err, models.ErrBackendUnavailable)
}

func TestTimeout(t *testing.T) {
	ts := workerServer(t, func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
	})

	c := NewClient(ts.URL, 20*time.Millisecond)
	_, err := c.Health(context.Background())
	assert.ErrorIs(t, err, models.ErrBackendUnavailable)
}

func TestHealth(t *testing.T) {
	ts := workerServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/health", r.URL.Path)
		assert.Equal(t, http.MethodGet, r.Method)
		writeJSON(w, models.BackendStatus{Device: "cuda", ShapePipeline: true})
	})

	c := newTestClient(t, ts.URL+"/")
	st, err := c.Health(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "cuda", st.Device)
	assert.Equal(t, st, c.Status())
}

// --- stages ---

func TestRemoveBackground(t *testing.T) {
	ts := workerServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/remove-background", r.URL.Path)
		assert.Equal(t, "image/png", r.Header.Get("Content-Type"))
		body, _ := io.ReadAll(r.Body)
		_, err := imageio.Sniff(body)
		assert.NoError(t, err)

		w.Header().Set("Content-Type", "image/png")
		out := image.NewNRGBA(image.Rect(0, 0, 4, 4))
		imageio.EncodePNG(w, out)
	})

	img, err := newTestClient(t, ts.URL).RemoveBackground(context.Background(), tinyImage())
	require.NoError(t, err)
	assert.True(t, imageio.HasTransparency(img))
}

func TestRemoveBackground_GarbageResponse(t *testing.T) {
	ts := workerServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("not a png"))
	})

	_, err := newTestClient(t, ts.URL).RemoveBackground(context.Background(), tinyImage())
	assert.ErrorIs(t, err, models.ErrStageFailed)
}

func TestGenerateMesh(t *testing.T) {
	ts := workerServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/generate", r.URL.Path)
		var req generateRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, int64(1234), req.Seed)
		assert.Equal(t, 128, req.Resolution)
		assert.Equal(t, 5, req.InferenceSteps)
		assert.Equal(t, 5.0, req.GuidanceScale)
		assert.NotEmpty(t, req.Image)

		writeJSON(w, triangle())
	})

	m, err := newTestClient(t, ts.URL).GenerateMesh(context.Background(), tinyImage(), models.MeshOptions{
		Seed: 1234, Resolution: 128, InferenceSteps: 5, GuidanceScale: 5,
	})
	require.NoError(t, err)
	assert.Len(t, m.Vertices, 3)
	assert.Len(t, m.Faces, 1)
}

func TestGenerateMesh_InvalidMesh(t *testing.T) {
	ts := workerServer(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, meshPayload{Vertices: [][3]float64{{0, 0, 0}}, Faces: [][3]int{{0, 1, 2}}})
	})

	_, err := newTestClient(t, ts.URL).GenerateMesh(context.Background(), tinyImage(), models.MeshOptions{})
	assert.ErrorIs(t, err, models.ErrStageFailed)
}

func TestCleanMesh_RunsLocally(t *testing.T) {
	c := newTestClient(t, "http://127.0.0.1:1")
	m, err := triangle().toMesh(nil)
	require.NoError(t, err)

	out, err := c.CleanMesh(context.Background(), m, 10)
	require.NoError(t, err)
	assert.Len(t, out.Faces, 1)

	_, err = c.CleanMesh(context.Background(), &models.Mesh{}, 10)
	assert.ErrorIs(t, err, models.ErrStageFailed)
}

func TestApplyTexture(t *testing.T) {
	ts := workerServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/texture", r.URL.Path)
		var req textureRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Len(t, req.Mesh.Faces, 1)

		tex, err := imageio.PNGBytes(image.NewNRGBA(image.Rect(0, 0, 8, 8)))
		require.NoError(t, err)
		p := triangle()
		p.UVs = [][2]float64{{0, 0}, {1, 0}, {0, 1}}
		p.Materials = []materialPayload{{Name: "painted", BaseColor: [4]float64{1, 1, 1, 1}, Textured: true}}
		writeJSON(w, textureResponse{Mesh: p, Texture: tex})
	})

	m, err := triangle().toMesh(nil)
	require.NoError(t, err)
	out, err := newTestClient(t, ts.URL).ApplyTexture(context.Background(), m, tinyImage())
	require.NoError(t, err)
	assert.True(t, out.HasTexture())
	assert.Equal(t, "painted", out.Materials[0].Name)
}

func TestName(t *testing.T) {
	assert.Equal(t, "remote", NewClient("http://x", time.Second).Name())
}
