// Package remote implements models.GenerationBackend against an external
// inference worker that hosts the shape, texture and background-removal models.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"io"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/kiranshivaraju/meshforge/internal/imageio"
	"github.com/kiranshivaraju/meshforge/internal/mesh"
	"github.com/kiranshivaraju/meshforge/pkg/models"
)

// maxErrorBody bounds how much of a failed response is quoted in the error.
const maxErrorBody = 512

// Client calls the inference worker's HTTP API.
type Client struct {
	baseURL string
	client  *http.Client

	mu     sync.RWMutex
	status models.BackendStatus
}

// NewClient creates a client for the worker at baseURL.
func NewClient(baseURL string, timeout time.Duration) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: timeout},
		status:  models.BackendStatus{Device: "remote"},
	}
}

func (c *Client) Name() string { return "remote" }

// Status returns the last status reported by the worker.
func (c *Client) Status() models.BackendStatus {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.status
}

func (c *Client) setStatus(st models.BackendStatus) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.status = st
}

// Health fetches and caches the worker status.
func (c *Client) Health(ctx context.Context) (models.BackendStatus, error) {
	var st models.BackendStatus
	if err := c.doJSON(ctx, http.MethodGet, "/v1/health", nil, &st); err != nil {
		return c.Status(), err
	}
	c.setStatus(st)
	return st, nil
}

type loadRequest struct {
	ModelPath     string `json:"model_path"`
	EnableTexture bool   `json:"enable_texture"`
}

func (c *Client) LoadModels(ctx context.Context, modelPath string, enableTexture bool) error {
	var st models.BackendStatus
	if err := c.doJSON(ctx, http.MethodPost, "/v1/load", loadRequest{ModelPath: modelPath, EnableTexture: enableTexture}, &st); err != nil {
		return err
	}
	c.setStatus(st)
	return nil
}

func (c *Client) RemoveBackground(ctx context.Context, img image.Image) (image.Image, error) {
	body, err := imageio.PNGBytes(img)
	if err != nil {
		return nil, fmt.Errorf("encoding image: %w", err)
	}
	resp, err := c.do(ctx, http.MethodPost, "/v1/remove-background", "image/png", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: reading response: %v", models.ErrBackendUnavailable, err)
	}
	out, _, err := imageio.Decode(data)
	if err != nil {
		return nil, fmt.Errorf("%w: decoding processed image: %v", models.ErrStageFailed, err)
	}
	return out, nil
}

type generateRequest struct {
	Image          []byte  `json:"image"`
	Seed           int64   `json:"seed"`
	Resolution     int     `json:"octree_resolution"`
	InferenceSteps int     `json:"num_inference_steps"`
	GuidanceScale  float64 `json:"guidance_scale"`
}

func (c *Client) GenerateMesh(ctx context.Context, img image.Image, opts models.MeshOptions) (*models.Mesh, error) {
	data, err := imageio.PNGBytes(img)
	if err != nil {
		return nil, fmt.Errorf("encoding image: %w", err)
	}
	req := generateRequest{
		Image:          data,
		Seed:           opts.Seed,
		Resolution:     opts.Resolution,
		InferenceSteps: opts.InferenceSteps,
		GuidanceScale:  opts.GuidanceScale,
	}
	var payload meshPayload
	if err := c.doJSON(ctx, http.MethodPost, "/v1/generate", req, &payload); err != nil {
		return nil, err
	}
	return payload.toMesh(nil)
}

// CleanMesh runs locally; the worker only hosts the models.
func (c *Client) CleanMesh(_ context.Context, m *models.Mesh, maxFaces int) (*models.Mesh, error) {
	out, err := mesh.Clean(m, maxFaces)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", models.ErrStageFailed, err)
	}
	return out, nil
}

type textureRequest struct {
	Mesh  meshPayload `json:"mesh"`
	Image []byte      `json:"image"`
}

type textureResponse struct {
	Mesh    meshPayload `json:"mesh"`
	Texture []byte      `json:"texture"`
}

func (c *Client) ApplyTexture(ctx context.Context, m *models.Mesh, img image.Image) (*models.Mesh, error) {
	data, err := imageio.PNGBytes(img)
	if err != nil {
		return nil, fmt.Errorf("encoding image: %w", err)
	}
	var resp textureResponse
	if err := c.doJSON(ctx, http.MethodPost, "/v1/texture", textureRequest{Mesh: fromMesh(m), Image: data}, &resp); err != nil {
		return nil, err
	}
	var tex image.Image
	if len(resp.Texture) > 0 {
		decoded, _, err := imageio.Decode(resp.Texture)
		if err != nil {
			return nil, fmt.Errorf("%w: decoding texture: %v", models.ErrStageFailed, err)
		}
		tex = decoded
	}
	return resp.Mesh.toMesh(tex)
}

func (c *Client) doJSON(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	contentType := ""
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encoding request: %w", err)
		}
		body = bytes.NewReader(data)
		contentType = "application/json"
	}
	resp, err := c.do(ctx, method, path, contentType, body)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%w: decoding %s response: %v", models.ErrStageFailed, path, err)
	}
	return nil
}

// do sends the request and returns the response only for 2xx statuses.
func (c *Client) do(ctx context.Context, method, path, contentType string, body io.Reader) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, fmt.Errorf("building request: %w", err)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, classifyError(err)
	}
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return resp, nil
	}
	defer resp.Body.Close()
	snippet, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	if resp.StatusCode == http.StatusServiceUnavailable {
		return nil, fmt.Errorf("%w: %s returned %d: %s", models.ErrBackendUnavailable, path, resp.StatusCode, strings.TrimSpace(string(snippet)))
	}
	return nil, fmt.Errorf("%w: %s returned %d: %s", models.ErrStageFailed, path, resp.StatusCode, strings.TrimSpace(string(snippet)))
}

// classifyError maps transport-level errors to sentinel errors.
func classifyError(err error) error {
	if errors.Is(err, context.Canceled) {
		return err
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return fmt.Errorf("%w: timeout: %v", models.ErrBackendUnavailable, err)
	}
	return fmt.Errorf("%w: %v", models.ErrBackendUnavailable, err)
}

// Compile-time check that Client implements GenerationBackend.
var _ models.GenerationBackend = (*Client)(nil)
