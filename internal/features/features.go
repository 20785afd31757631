// Package features estimates the structural complexity of a building image from
// its edge contours. The estimate only feeds parameter recommendations, so Analyze
// never fails: on any internal error it returns conservative defaults.
package features

import (
	"context"
	"errors"
	"fmt"
	"image"

	"github.com/kiranshivaraju/meshforge/internal/imageio"
	"github.com/kiranshivaraju/meshforge/pkg/models"
)

// Contour area bands in square pixels.
const (
	largeArea  = 100
	mediumArea = 50
	smallArea  = 10
)

// BackgroundRemover is the subset of models.GenerationBackend used to suppress
// background noise before edge detection.
type BackgroundRemover interface {
	RemoveBackground(ctx context.Context, img image.Image) (image.Image, error)
}

// Analyze runs the estimator on img. remover may be nil, in which case the raw
// image is analysed. A failing remover also falls back to the raw image.
func Analyze(ctx context.Context, img image.Image, remover BackgroundRemover) (fa models.FeatureAnalysis) {
	defer func() {
		if r := recover(); r != nil {
			fa = Fallback(fmt.Errorf("feature analysis panicked: %v", r))
		}
	}()

	if img == nil {
		return Fallback(errors.New("nil image"))
	}
	b := img.Bounds()
	if b.Dx() <= 0 || b.Dy() <= 0 {
		return Fallback(errors.New("empty image"))
	}

	processed := img
	removed := false
	if remover != nil {
		if out, err := remover.RemoveBackground(ctx, img); err == nil && out != nil {
			processed = out
			removed = true
		}
	}

	pb := processed.Bounds()
	w, h := pb.Dx(), pb.Dy()
	contours := externalContours(canny(toGray(processed), CannyLow, CannyHigh))

	var large, medium, small int
	for _, c := range contours {
		a := contourArea(c)
		switch {
		case a > largeArea:
			large++
		case a > mediumArea:
			medium++
		case a > smallArea:
			small++
		}
	}

	fa = models.FeatureAnalysis{
		ImageProperties: models.ImageProperties{
			Width:           w,
			Height:          h,
			AspectRatio:     float64(w) / float64(h),
			TotalPixels:     w * h,
			HasTransparency: imageio.HasTransparency(processed),
		},
		DetectedFeatures:   Estimate(len(contours), large, medium, small),
		ComplexityAnalysis: Complexity(len(contours), large),
		Preprocessing:      models.Preprocessing{BackgroundRemoved: removed},
	}
	return fa
}

// Estimate derives element counts from contour band sizes. Every count has a
// floor so a blank image still yields a usable estimate.
func Estimate(total, large, medium, small int) models.DetectedFeatures {
	walls := max(4, large/2)
	return models.DetectedFeatures{
		TotalContours:    total,
		LargeContours:    large,
		MediumContours:   medium,
		SmallContours:    small,
		EstimatedWalls:   walls,
		EstimatedDoors:   max(1, medium/3),
		EstimatedWindows: max(2, small/2),
		EstimatedRooms:   max(1, walls/3),
	}
}

// Complexity scores the contour counts on [0, 100] and recommends generation settings.
func Complexity(total, large int) models.ComplexityAnalysis {
	score := min(100, float64(total+2*large)/10)
	return recommend(score)
}

func recommend(score float64) models.ComplexityAnalysis {
	ca := models.ComplexityAnalysis{
		ComplexityScore:       score,
		DetailLevel:           "low",
		RecommendedResolution: 128,
		RecommendedSteps:      5,
	}
	switch {
	case score > 70:
		ca.DetailLevel = "high"
		ca.RecommendedResolution = 256
		ca.RecommendedSteps = 10
	case score > 40:
		ca.DetailLevel = "medium"
	}
	return ca
}

// Fallback is the degraded analysis returned when estimation fails.
func Fallback(err error) models.FeatureAnalysis {
	fa := models.FeatureAnalysis{
		DetectedFeatures: models.DetectedFeatures{
			EstimatedWalls:   8,
			EstimatedDoors:   3,
			EstimatedWindows: 6,
			EstimatedRooms:   4,
		},
		ComplexityAnalysis: recommend(50),
	}
	if err != nil {
		fa.Error = err.Error()
	}
	return fa
}
