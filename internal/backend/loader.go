package backend

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/kiranshivaraju/meshforge/pkg/models"
)

// LoadObserver is notified after every underlying model load attempt.
type LoadObserver func(result string, elapsed time.Duration)

// Loader owns the lazily initialised model pipelines of a backend. Concurrent
// first use collapses into a single LoadModels call; a failed load is not cached.
type Loader struct {
	backend       models.GenerationBackend
	modelPath     string
	enableTexture bool
	logger        *zap.Logger
	observe       LoadObserver

	// loadMu serialises loads. Readers only take mu, which is never held
	// across a backend call.
	loadMu sync.Mutex

	mu            sync.RWMutex
	loaded        bool
	loadedPath    string
	loadedTexture bool
	loads         int
}

// LoaderOption configures a Loader.
type LoaderOption func(*Loader)

// WithLoadObserver sets a callback for load outcomes ("success" or "error").
func WithLoadObserver(fn LoadObserver) LoaderOption {
	return func(l *Loader) { l.observe = fn }
}

// WithLogger sets the loader's logger.
func WithLogger(logger *zap.Logger) LoaderOption {
	return func(l *Loader) { l.logger = logger }
}

// NewLoader returns a Loader that lazily loads modelPath on b.
func NewLoader(b models.GenerationBackend, modelPath string, enableTexture bool, opts ...LoaderOption) *Loader {
	l := &Loader{
		backend:       b,
		modelPath:     modelPath,
		enableTexture: enableTexture,
		logger:        zap.NewNop(),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Backend returns the wrapped backend.
func (l *Loader) Backend() models.GenerationBackend { return l.backend }

// EnsureLoaded loads the default models unless something is already loaded.
func (l *Loader) EnsureLoaded(ctx context.Context) error {
	if l.Loaded() {
		return nil
	}
	l.loadMu.Lock()
	defer l.loadMu.Unlock()
	if l.Loaded() {
		return nil
	}
	return l.loadLocked(ctx, l.modelPath, l.enableTexture)
}

// Load loads modelPath explicitly. It is a no-op when the same models, including
// the texture pipeline if requested, are already loaded.
func (l *Loader) Load(ctx context.Context, modelPath string, enableTexture bool) error {
	if modelPath == "" {
		modelPath = l.modelPath
	}
	l.loadMu.Lock()
	defer l.loadMu.Unlock()
	if l.satisfied(modelPath, enableTexture) {
		return nil
	}
	return l.loadLocked(ctx, modelPath, enableTexture)
}

// loadLocked runs the backend load. The caller holds loadMu.
func (l *Loader) loadLocked(ctx context.Context, modelPath string, enableTexture bool) error {
	start := time.Now()
	l.logger.Info("loading models", zap.String("model_path", modelPath), zap.Bool("enable_texture", enableTexture))

	err := l.backend.LoadModels(ctx, modelPath, enableTexture)
	elapsed := time.Since(start)
	if err != nil {
		l.record("error", elapsed)
		l.logger.Error("model load failed", zap.String("model_path", modelPath), zap.Error(err))
		return fmt.Errorf("%w: loading %s: %w", ErrBackendUnavailable, modelPath, err)
	}

	l.record("success", elapsed)
	l.mu.Lock()
	l.loads++
	l.loaded = true
	if l.loadedPath != modelPath {
		l.loadedTexture = false
	}
	l.loadedPath = modelPath
	l.loadedTexture = l.loadedTexture || enableTexture
	l.mu.Unlock()
	l.logger.Info("models loaded", zap.String("model_path", modelPath), zap.Int64("duration_ms", elapsed.Milliseconds()))
	return nil
}

func (l *Loader) satisfied(modelPath string, enableTexture bool) bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.loaded && l.loadedPath == modelPath && (l.loadedTexture || !enableTexture)
}

func (l *Loader) record(result string, elapsed time.Duration) {
	if l.observe != nil {
		l.observe(result, elapsed)
	}
}

// Loaded reports whether models have been loaded successfully.
func (l *Loader) Loaded() bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.loaded
}

// Loads returns the number of successful underlying LoadModels calls.
func (l *Loader) Loads() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.loads
}

// ModelPath returns the path of the loaded models, or the default if none are loaded.
func (l *Loader) ModelPath() string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if l.loaded {
		return l.loadedPath
	}
	return l.modelPath
}
