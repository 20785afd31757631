package models

import (
	"time"

	"github.com/google/uuid"
)

// JobStatus is the lifecycle state of a generation job.
type JobStatus string

const (
	JobStatusQueued     JobStatus = "queued"
	JobStatusProcessing JobStatus = "processing"
	JobStatusCompleted  JobStatus = "completed"
	JobStatusFailed     JobStatus = "failed"
)

// IsTerminal reports whether no transition may leave s.
func (s JobStatus) IsTerminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed
}

// Valid reports whether s is one of the known statuses.
func (s JobStatus) Valid() bool {
	switch s {
	case JobStatusQueued, JobStatusProcessing, JobStatusCompleted, JobStatusFailed:
		return true
	}
	return false
}

var validTransitions = map[JobStatus][]JobStatus{
	JobStatusQueued:     {JobStatusProcessing, JobStatusFailed},
	JobStatusProcessing: {JobStatusProcessing, JobStatusCompleted, JobStatusFailed},
}

// CanTransition reports whether a job in status s may move to next.
// processing -> processing is allowed so stages can publish progress.
func (s JobStatus) CanTransition(next JobStatus) bool {
	for _, allowed := range validTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// Job tracks one asynchronous image-to-mesh generation. The API returns the job id on
// POST /generate3d; the client polls GET /status/{job_id} until status is completed or failed.
//
// Result is set only when Status is completed, Error only when Status is failed.
type Job struct {
	ID          uuid.UUID         `json:"job_id"`
	Status      JobStatus         `json:"status"`
	Progress    int               `json:"progress"`
	Message     string            `json:"message"`
	Params      GenerationParams  `json:"params"`
	CreatedAt   time.Time         `json:"created_at"`
	StartedAt   *time.Time        `json:"started_at,omitempty"`
	CompletedAt *time.Time        `json:"completed_at,omitempty"`
	FailedAt    *time.Time        `json:"failed_at,omitempty"`
	Result      *GenerationResult `json:"result,omitempty"`
	Error       *JobError         `json:"error,omitempty"`
}

// Clone returns a deep copy of j so snapshots never share mutable state.
func (j *Job) Clone() *Job {
	if j == nil {
		return nil
	}
	c := *j
	c.StartedAt = cloneTime(j.StartedAt)
	c.CompletedAt = cloneTime(j.CompletedAt)
	c.FailedAt = cloneTime(j.FailedAt)
	if j.Result != nil {
		c.Result = j.Result.Clone()
	}
	if j.Error != nil {
		e := *j.Error
		c.Error = &e
	}
	return &c
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}

// JobError describes why a job failed. Trace is operator-facing detail (error chain or
// panic stack) and is not rendered to callers in hardened deployments.
type JobError struct {
	Message string `json:"message"`
	Stage   string `json:"stage,omitempty"`
	Trace   string `json:"trace,omitempty"`
}

// GenerationParams is the configuration captured at submission. Immutable after creation.
type GenerationParams struct {
	Prompt           string  `json:"prompt"`
	Style            string  `json:"style"`
	Quality          string  `json:"quality"`
	Model            string  `json:"model"`
	IncludeTextures  bool    `json:"include_textures"`
	OctreeResolution int     `json:"octree_resolution"`
	InferenceSteps   int     `json:"num_inference_steps"`
	GuidanceScale    float64 `json:"guidance_scale"`
	MaxFaceCount     int     `json:"max_face_count"`
	Seed             int64   `json:"seed"`
}

// DefaultGenerationParams returns the parameters used when a request omits them.
func DefaultGenerationParams() GenerationParams {
	return GenerationParams{
		Prompt:           "A detailed 3D building model",
		Style:            "architectural",
		Quality:          "standard",
		Model:            "hunyuan3d-2",
		IncludeTextures:  true,
		OctreeResolution: 128,
		InferenceSteps:   5,
		GuidanceScale:    5.0,
		MaxFaceCount:     40000,
		Seed:             1234,
	}
}

// ArtifactKind names a downloadable output of a completed job.
type ArtifactKind string

const (
	ArtifactModelGLB ArtifactKind = "model_glb"
	ArtifactModelOBJ ArtifactKind = "model_obj"
	ArtifactImage    ArtifactKind = "image"
	ArtifactTexture  ArtifactKind = "texture"
)

// ArtifactKinds lists every kind a job may produce, in materialization order.
var ArtifactKinds = []ArtifactKind{ArtifactModelGLB, ArtifactModelOBJ, ArtifactImage, ArtifactTexture}

// ParseArtifactKind returns the kind named by s, or false if s is unknown.
func ParseArtifactKind(s string) (ArtifactKind, bool) {
	for _, k := range ArtifactKinds {
		if string(k) == s {
			return k, true
		}
	}
	return "", false
}

// Artifact is one persisted output file.
type Artifact struct {
	Kind        ArtifactKind `json:"kind"`
	URL         string       `json:"url"`
	Filename    string       `json:"filename"`
	ContentType string       `json:"content_type"`
	Size        int64        `json:"size"`
	ETag        string       `json:"etag"`
}

// Artifacts maps artifact kind to its handle. Texture is absent when none was produced.
type Artifacts map[ArtifactKind]Artifact

// GenerationResult is attached to a completed job.
type GenerationResult struct {
	MeshStats        MeshStats        `json:"mesh_stats"`
	GenerationParams GenerationParams `json:"generation_params"`
	Artifacts        Artifacts        `json:"artifacts"`
	ModelInfo        ModelInfo        `json:"model_info"`
}

// Clone returns a deep copy of r.
func (r *GenerationResult) Clone() *GenerationResult {
	c := *r
	if r.Artifacts != nil {
		c.Artifacts = make(Artifacts, len(r.Artifacts))
		for k, v := range r.Artifacts {
			c.Artifacts[k] = v
		}
	}
	return &c
}

// ModelInfo records which backend produced a result.
type ModelInfo struct {
	Backend   string `json:"backend"`
	Device    string `json:"device"`
	ModelPath string `json:"model_path"`
	DemoMode  bool   `json:"demo_mode"`
}

// MeshStats summarises the final mesh.
type MeshStats struct {
	Vertices    int         `json:"vertices"`
	Faces       int         `json:"faces"`
	Materials   int         `json:"materials"`
	HasTexture  bool        `json:"has_texture"`
	BoundingBox BoundingBox `json:"bounding_box"`
}

// BoundingBox is an axis-aligned box.
type BoundingBox struct {
	Min [3]float64 `json:"min"`
	Max [3]float64 `json:"max"`
}
