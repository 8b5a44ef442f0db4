// Package inference provides the detection backends behind detection.Inferencer.
package inference

import (
	"fmt"

	"github.com/example/weaponid/internal/detection"
)

// Backend names accepted by configuration.
const (
	BackendHTTP = "http"
	BackendGRPC = "grpc"
	BackendONNX = "onnx"
)

// wireDetection is the JSON shape shared by the HTTP and gRPC detectors.
type wireDetection struct {
	ClassID    *int      `json:"class_id"`
	Confidence *float64  `json:"confidence"`
	BBox       []float64 `json:"bbox"`
}

func (w wireDetection) toRaw(index int) (detection.RawDetection, error) {
	if w.ClassID == nil || w.Confidence == nil {
		return detection.RawDetection{}, fmt.Errorf("detection %d: missing class_id or confidence", index)
	}
	if c := *w.Confidence; !(c >= 0 && c <= 1) {
		return detection.RawDetection{}, fmt.Errorf("detection %d: confidence %v outside [0,1]", index, c)
	}
	if len(w.BBox) != 4 {
		return detection.RawDetection{}, fmt.Errorf("detection %d: bbox has %d values, want 4", index, len(w.BBox))
	}
	raw := detection.RawDetection{ClassID: *w.ClassID, Confidence: *w.Confidence}
	copy(raw.BBox[:], w.BBox)
	return raw, nil
}

func toRawList(wire []wireDetection) ([]detection.RawDetection, error) {
	raw := make([]detection.RawDetection, 0, len(wire))
	for i, d := range wire {
		r, err := d.toRaw(i)
		if err != nil {
			return nil, err
		}
		raw = append(raw, r)
	}
	return raw, nil
}
