// Package detection turns raw model output into a ranked, labeled result.
package detection

import (
	"context"
	"image"
)

// DefaultThreshold is the canonical confidence cutoff. Detections must be
// strictly above it to be retained.
const DefaultThreshold = 0.5

// RawDetection is one unfiltered box reported by an inference backend.
type RawDetection struct {
	ClassID    int        `json:"class_id"`
	Confidence float64    `json:"confidence"`
	BBox       [4]float64 `json:"bbox"`
}

// Detection is a retained, labeled box.
type Detection struct {
	ClassID    int
	ClassName  string
	Confidence float64
	BBox       [4]float64
}

// Set holds the retained detections in descending confidence order.
// Primary points at the first element, or is nil when nothing was retained.
type Set struct {
	Detections []Detection
	Primary    *Detection
}

// Empty reports whether no detection passed the threshold.
func (s Set) Empty() bool { return len(s.Detections) == 0 }

// Input is what an inference backend gets to see for a single request.
type Input struct {
	// RequestID correlates backend logs with the HTTP request.
	RequestID string
	// Path is the staged copy of the original bytes.
	Path string
	// Image is the decoded RGB picture.
	Image *image.NRGBA
	// Data is the original encoded image.
	Data []byte
	// Format is the detected encoding name.
	Format string
}

// Inferencer runs the detection model. Implementations must be safe for
// concurrent use.
type Inferencer interface {
	Infer(ctx context.Context, in Input) ([]RawDetection, error)
}

// InferencerFunc adapts a plain function to Inferencer.
type InferencerFunc func(ctx context.Context, in Input) ([]RawDetection, error)

// Infer calls f.
func (f InferencerFunc) Infer(ctx context.Context, in Input) ([]RawDetection, error) {
	return f(ctx, in)
}
