// Package models contains shared data models used across the meshforge codebase.
package models

import (
	"context"
	"image"
)

// GenerationBackend is the core interface every model pipeline integration must implement.
// Never call a specific backend directly; always inject this interface.
type GenerationBackend interface {
	// LoadModels initialises the pipelines. Calling it when already loaded is a no-op.
	LoadModels(ctx context.Context, modelPath string, enableTexture bool) error
	// RemoveBackground returns img with its background made transparent.
	RemoveBackground(ctx context.Context, img image.Image) (image.Image, error)
	// GenerateMesh synthesises a mesh from img. Deterministic for a fixed seed.
	GenerateMesh(ctx context.Context, img image.Image, opts MeshOptions) (*Mesh, error)
	// CleanMesh removes floaters and degenerate faces and reduces to at most maxFaces.
	CleanMesh(ctx context.Context, mesh *Mesh, maxFaces int) (*Mesh, error)
	// ApplyTexture paints mesh using img as reference.
	ApplyTexture(ctx context.Context, mesh *Mesh, img image.Image) (*Mesh, error)

	// Name returns the backend identifier (e.g. "mock", "remote").
	Name() string
	// Status reports device and pipeline availability for health checks.
	Status() BackendStatus
}

// MeshOptions are the shape-generation knobs taken from GenerationParams.
type MeshOptions struct {
	Seed           int64
	Resolution     int
	InferenceSteps int
	GuidanceScale  float64
}

// BackendStatus is a point-in-time view of a backend's pipelines.
type BackendStatus struct {
	Device            string `json:"device"`
	ModelPath         string `json:"model_path,omitempty"`
	ShapePipeline     bool   `json:"shape_pipeline"`
	TexturePipeline   bool   `json:"texture_pipeline"`
	BackgroundRemover bool   `json:"background_remover"`
	DemoMode          bool   `json:"demo_mode"`
}
