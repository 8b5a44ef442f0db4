package detection

import (
	"context"
	"fmt"
	"sort"

	"github.com/example/weaponid/internal/apperr"
)

// Aggregator runs one inference per request and reduces the raw output to a Set.
type Aggregator struct {
	inferencer Inferencer
	labels     LabelTable
	threshold  float64
}

// NewAggregator builds an Aggregator. A threshold outside [0,1), or NaN, falls
// back to DefaultThreshold.
func NewAggregator(inferencer Inferencer, labels LabelTable, threshold float64) *Aggregator {
	if !(threshold >= 0 && threshold < 1) {
		threshold = DefaultThreshold
	}
	return &Aggregator{inferencer: inferencer, labels: labels, threshold: threshold}
}

// Threshold returns the retention cutoff in use.
func (a *Aggregator) Threshold() float64 { return a.threshold }

// Detect invokes the inferencer once. A failed call never produces a partial Set.
func (a *Aggregator) Detect(ctx context.Context, in Input) (Set, error) {
	raw, err := a.inferencer.Infer(ctx, in)
	if err != nil {
		return Set{}, apperr.Wrap(apperr.InferenceFailure, "识别失败", fmt.Errorf("run inference: %w", err))
	}
	return a.Reduce(raw), nil
}

// Reduce filters, labels and orders raw detections.
func (a *Aggregator) Reduce(raw []RawDetection) Set {
	kept := make([]Detection, 0, len(raw))
	for _, r := range raw {
		if !(r.Confidence > a.threshold) {
			continue
		}
		kept = append(kept, Detection{
			ClassID:    r.ClassID,
			ClassName:  a.labels.Name(r.ClassID),
			Confidence: r.Confidence,
			BBox:       r.BBox,
		})
	}

	sort.SliceStable(kept, func(i, j int) bool {
		return kept[i].Confidence > kept[j].Confidence
	})

	set := Set{Detections: kept}
	if len(kept) > 0 {
		set.Primary = &set.Detections[0]
	}
	return set
}
