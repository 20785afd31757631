// Package mock provides the demo generation backend. It honours the full
// GenerationBackend contract with synthetic but well-formed meshes, so the job
// pipeline runs identically without a model server.
package mock

import (
	"context"
	"fmt"
	"image"
	"image/color"
	"math"
	"math/rand/v2"
	"sync"
	"sync/atomic"
	"time"

	"github.com/disintegration/imaging"

	"github.com/kiranshivaraju/meshforge/internal/imageio"
	"github.com/kiranshivaraju/meshforge/internal/mesh"
	"github.com/kiranshivaraju/meshforge/pkg/models"
)

// TextureSize is the edge length of generated textures.
const TextureSize = 256

// whiteThreshold is the channel value above which a pixel counts as background.
const whiteThreshold = 240

// Backend satisfies models.GenerationBackend without a model. The Func fields
// override individual operations, as in a test double.
type Backend struct {
	Name_                string
	LoadModelsFunc       func(ctx context.Context, modelPath string, enableTexture bool) error
	RemoveBackgroundFunc func(ctx context.Context, img image.Image) (image.Image, error)
	GenerateMeshFunc     func(ctx context.Context, img image.Image, opts models.MeshOptions) (*models.Mesh, error)
	CleanMeshFunc        func(ctx context.Context, m *models.Mesh, maxFaces int) (*models.Mesh, error)
	ApplyTextureFunc     func(ctx context.Context, m *models.Mesh, img image.Image) (*models.Mesh, error)

	delay time.Duration

	mu            sync.Mutex
	modelPath     string
	shapeLoaded   bool
	textureLoaded bool

	calls atomic.Int64
	inits atomic.Int64
}

// Option configures a Backend.
type Option func(*Backend)

// WithStageDelay makes every stage take d, loosely imitating real inference time.
func WithStageDelay(d time.Duration) Option {
	return func(b *Backend) { b.delay = d }
}

// New returns a demo backend with no models loaded.
func New(opts ...Option) *Backend {
	b := &Backend{Name_: "mock"}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// NewLoaded returns a demo backend whose pipelines are already initialised.
func NewLoaded(opts ...Option) *Backend {
	b := New(opts...)
	b.shapeLoaded = true
	b.textureLoaded = true
	b.modelPath = "demo"
	return b
}

// NewFailingBackend returns a demo backend whose operation for stage always
// returns err. Other stages behave normally.
func NewFailingBackend(stage models.Stage, err error) *Backend {
	b := New()
	b.Name_ = "mock-failing"
	switch stage {
	case models.StageLoadModels:
		b.LoadModelsFunc = func(context.Context, string, bool) error { return err }
	case models.StageRemoveBackground:
		b.RemoveBackgroundFunc = func(context.Context, image.Image) (image.Image, error) { return nil, err }
	case models.StageGenerateMesh:
		b.GenerateMeshFunc = func(context.Context, image.Image, models.MeshOptions) (*models.Mesh, error) { return nil, err }
	case models.StageCleanMesh:
		b.CleanMeshFunc = func(context.Context, *models.Mesh, int) (*models.Mesh, error) { return nil, err }
	case models.StageTexture:
		b.ApplyTextureFunc = func(context.Context, *models.Mesh, image.Image) (*models.Mesh, error) { return nil, err }
	}
	return b
}

// NewGatedBackend returns a demo backend whose mesh generation blocks until gate
// is closed or the context ends.
func NewGatedBackend(gate <-chan struct{}) *Backend {
	b := New()
	b.Name_ = "mock-gated"
	b.GenerateMeshFunc = func(ctx context.Context, img image.Image, opts models.MeshOptions) (*models.Mesh, error) {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
		return b.generate(ctx, img, opts)
	}
	return b
}

func (b *Backend) Name() string { return b.Name_ }

// Calls returns how many times LoadModels was invoked.
func (b *Backend) Calls() int64 { return b.calls.Load() }

// Initializations returns how many times the shape pipeline was actually initialised.
func (b *Backend) Initializations() int64 { return b.inits.Load() }

func (b *Backend) Status() models.BackendStatus {
	b.mu.Lock()
	defer b.mu.Unlock()
	return models.BackendStatus{
		Device:            "cpu",
		ModelPath:         b.modelPath,
		ShapePipeline:     b.shapeLoaded,
		TexturePipeline:   b.textureLoaded,
		BackgroundRemover: b.shapeLoaded,
		DemoMode:          true,
	}
}

func (b *Backend) LoadModels(ctx context.Context, modelPath string, enableTexture bool) error {
	b.calls.Add(1)
	if b.LoadModelsFunc != nil {
		return b.LoadModelsFunc(ctx, modelPath, enableTexture)
	}
	if err := b.wait(ctx); err != nil {
		return err
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.shapeLoaded || b.modelPath != modelPath {
		b.inits.Add(1)
		b.shapeLoaded = true
		b.textureLoaded = false
		b.modelPath = modelPath
	}
	if enableTexture {
		b.textureLoaded = true
	}
	return nil
}

// RemoveBackground makes near-white pixels fully transparent.
func (b *Backend) RemoveBackground(ctx context.Context, img image.Image) (image.Image, error) {
	if b.RemoveBackgroundFunc != nil {
		return b.RemoveBackgroundFunc(ctx, img)
	}
	if err := b.requireShape(); err != nil {
		return nil, err
	}
	if err := b.wait(ctx); err != nil {
		return nil, err
	}

	out := imaging.Clone(img)
	for i := 0; i < len(out.Pix); i += 4 {
		if out.Pix[i] > whiteThreshold && out.Pix[i+1] > whiteThreshold && out.Pix[i+2] > whiteThreshold {
			out.Pix[i], out.Pix[i+1], out.Pix[i+2], out.Pix[i+3] = 0, 0, 0, 0
		}
	}
	return out, nil
}

// GenerateMesh builds a heightfield from image luminance with seeded jitter, plus
// a detached floater and a degenerate face so cleanup always has work to do.
func (b *Backend) GenerateMesh(ctx context.Context, img image.Image, opts models.MeshOptions) (*models.Mesh, error) {
	if b.GenerateMeshFunc != nil {
		return b.GenerateMeshFunc(ctx, img, opts)
	}
	return b.generate(ctx, img, opts)
}

func (b *Backend) generate(ctx context.Context, img image.Image, opts models.MeshOptions) (*models.Mesh, error) {
	if err := b.requireShape(); err != nil {
		return nil, err
	}
	if err := b.wait(ctx); err != nil {
		return nil, err
	}
	src := imageio.ToNRGBA(img)
	w, h := src.Rect.Dx(), src.Rect.Dy()
	if w == 0 || h == 0 {
		return nil, fmt.Errorf("%w: empty image", models.ErrStageFailed)
	}

	n := min(64, max(8, opts.Resolution/4))
	rng := rand.New(rand.NewPCG(uint64(opts.Seed), 0x6d657368))
	jitter := 0.002 * math.Max(opts.GuidanceScale, 1) / math.Max(float64(opts.InferenceSteps), 1)
	aspect := float64(w) / float64(h)

	m := &models.Mesh{
		Materials: []models.Material{{Name: "demo_material", BaseColor: [4]float64{0.8, 0.8, 0.8, 1}}},
	}
	for j := 0; j < n; j++ {
		for i := 0; i < n; i++ {
			u, v := float64(i)/float64(n-1), float64(j)/float64(n-1)
			c := src.NRGBAAt(int(u*float64(w-1)), int(v*float64(h-1)))
			z := 0.25*luminance(c) + jitter*(rng.Float64()-0.5)
			m.Vertices = append(m.Vertices, [3]float64{(u - 0.5) * aspect, 0.5 - v, z})
		}
	}
	for j := 0; j < n-1; j++ {
		for i := 0; i < n-1; i++ {
			k := j*n + i
			m.Faces = append(m.Faces, [3]int{k, k + n, k + 1}, [3]int{k + 1, k + n, k + n + 1})
		}
	}

	// Floater well outside the heightfield and a zero-area face.
	base := len(m.Vertices)
	m.Vertices = append(m.Vertices, [3]float64{3, 3, 3}, [3]float64{3.1, 3, 3}, [3]float64{3, 3.1, 3})
	m.Faces = append(m.Faces, [3]int{base, base + 1, base + 2}, [3]int{0, 0, 1})
	return m, nil
}

// luminance returns alpha-weighted Rec. 601 luma on [0, 1].
func luminance(c color.NRGBA) float64 {
	y := 0.299*float64(c.R) + 0.587*float64(c.G) + 0.114*float64(c.B)
	return y / 255 * float64(c.A) / 255
}

func (b *Backend) CleanMesh(ctx context.Context, m *models.Mesh, maxFaces int) (*models.Mesh, error) {
	if b.CleanMeshFunc != nil {
		return b.CleanMeshFunc(ctx, m, maxFaces)
	}
	if err := b.wait(ctx); err != nil {
		return nil, err
	}
	out, err := mesh.Clean(m, maxFaces)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", models.ErrStageFailed, err)
	}
	return out, nil
}

// ApplyTexture projects img onto the mesh's XY plane and attaches it as texture.
func (b *Backend) ApplyTexture(ctx context.Context, m *models.Mesh, img image.Image) (*models.Mesh, error) {
	if b.ApplyTextureFunc != nil {
		return b.ApplyTextureFunc(ctx, m, img)
	}
	b.mu.Lock()
	ready := b.textureLoaded
	b.mu.Unlock()
	if !ready {
		return nil, fmt.Errorf("%w: texture pipeline not loaded", models.ErrBackendUnavailable)
	}
	if err := b.wait(ctx); err != nil {
		return nil, err
	}

	out := m.Clone()
	st := mesh.Stats(out)
	minX, minY := st.BoundingBox.Min[0], st.BoundingBox.Min[1]
	spanX := math.Max(st.BoundingBox.Max[0]-minX, 1e-9)
	spanY := math.Max(st.BoundingBox.Max[1]-minY, 1e-9)
	out.UVs = make([][2]float64, len(out.Vertices))
	for i, v := range out.Vertices {
		out.UVs[i] = [2]float64{(v[0] - minX) / spanX, 1 - (v[1]-minY)/spanY}
	}
	out.Texture = imaging.Resize(img, TextureSize, TextureSize, imaging.Lanczos)
	for i := range out.Materials {
		out.Materials[i].Textured = true
	}
	return out, nil
}

func (b *Backend) requireShape() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.shapeLoaded {
		return fmt.Errorf("%w: shape pipeline not loaded", models.ErrBackendUnavailable)
	}
	return nil
}

func (b *Backend) wait(ctx context.Context) error {
	if b.delay <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(b.delay)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Compile-time check that Backend implements GenerationBackend.
var _ models.GenerationBackend = (*Backend)(nil)
