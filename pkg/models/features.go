package models

// FeatureAnalysis is the heuristic structural-complexity estimate of an input image.
// It is returned by /analyze and never persisted.
type FeatureAnalysis struct {
	ImageProperties    ImageProperties    `json:"image_properties"`
	DetectedFeatures   DetectedFeatures   `json:"detected_features"`
	ComplexityAnalysis ComplexityAnalysis `json:"complexity_analysis"`
	Preprocessing      Preprocessing      `json:"preprocessing"`
	// Error is set when the estimate fell back to conservative defaults.
	Error string `json:"error,omitempty"`
}

type ImageProperties struct {
	Width           int     `json:"width"`
	Height          int     `json:"height"`
	AspectRatio     float64 `json:"aspect_ratio"`
	TotalPixels     int     `json:"total_pixels"`
	HasTransparency bool    `json:"has_transparency"`
}

type DetectedFeatures struct {
	TotalContours    int `json:"total_contours"`
	LargeContours    int `json:"large_contours"`
	MediumContours   int `json:"medium_contours"`
	SmallContours    int `json:"small_contours"`
	EstimatedWalls   int `json:"estimated_walls"`
	EstimatedDoors   int `json:"estimated_doors"`
	EstimatedWindows int `json:"estimated_windows"`
	EstimatedRooms   int `json:"estimated_rooms"`
}

type ComplexityAnalysis struct {
	ComplexityScore       float64 `json:"complexity_score"`
	DetailLevel           string  `json:"detail_level"`
	RecommendedResolution int     `json:"recommended_resolution"`
	RecommendedSteps      int     `json:"recommended_steps"`
}

type Preprocessing struct {
	BackgroundRemoved bool `json:"background_removed"`
}
