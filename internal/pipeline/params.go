package pipeline

import (
	"math"

	"github.com/kiranshivaraju/meshforge/pkg/models"
)

// Parameter bounds accepted at submission.
const (
	MinOctreeResolution = 16
	MaxOctreeResolution = 1024
	MinInferenceSteps   = 1
	MaxInferenceSteps   = 200
	MinMaxFaceCount     = 4
	MaxMaxFaceCount     = 2_000_000
	MaxGuidanceScale    = 100
	maxPromptLength     = 2000
)

// ValidateParams checks p against the accepted bounds.
func ValidateParams(p models.GenerationParams) error {
	if p.OctreeResolution < MinOctreeResolution || p.OctreeResolution > MaxOctreeResolution {
		return validationError("octree_resolution must be between %d and %d, got %d",
			MinOctreeResolution, MaxOctreeResolution, p.OctreeResolution)
	}
	if p.InferenceSteps < MinInferenceSteps || p.InferenceSteps > MaxInferenceSteps {
		return validationError("num_inference_steps must be between %d and %d, got %d",
			MinInferenceSteps, MaxInferenceSteps, p.InferenceSteps)
	}
	if math.IsNaN(p.GuidanceScale) || p.GuidanceScale <= 0 || p.GuidanceScale > MaxGuidanceScale {
		return validationError("guidance_scale must be in (0, %d], got %v", MaxGuidanceScale, p.GuidanceScale)
	}
	if p.MaxFaceCount < MinMaxFaceCount || p.MaxFaceCount > MaxMaxFaceCount {
		return validationError("max_face_count must be between %d and %d, got %d",
			MinMaxFaceCount, MaxMaxFaceCount, p.MaxFaceCount)
	}
	if p.Seed < 0 {
		return validationError("seed must not be negative, got %d", p.Seed)
	}
	if len(p.Prompt) > maxPromptLength {
		return validationError("prompt must be at most %d bytes", maxPromptLength)
	}
	return nil
}

func meshOptions(p models.GenerationParams) models.MeshOptions {
	return models.MeshOptions{
		Seed:           p.Seed,
		Resolution:     p.OctreeResolution,
		InferenceSteps: p.InferenceSteps,
		GuidanceScale:  p.GuidanceScale,
	}
}
