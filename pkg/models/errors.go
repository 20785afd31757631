package models

import "errors"

// Backend failures shared by every GenerationBackend implementation.
var (
	ErrBackendUnavailable = errors.New("generation backend unavailable")
	ErrStageFailed        = errors.New("generation stage failed")
)

// Stage names one step of the generation pipeline. It is used in job errors,
// log fields and the stage duration metric.
type Stage string

const (
	StageDecode           Stage = "decode"
	StageLoadModels       Stage = "load_models"
	StageRemoveBackground Stage = "remove_background"
	StageGenerateMesh     Stage = "generate_mesh"
	StageCleanMesh        Stage = "clean_mesh"
	StageTexture          Stage = "texture"
	StageMaterialize      Stage = "materialize"
	StageStats            Stage = "stats"
)
