package usecase

import (
	"context"

	"github.com/example/weaponid/internal/apperr"
)

// MetricsSummary represents aggregated recognition insights for one user.
type MetricsSummary struct {
	TotalRequests            int64   `json:"total_requests"`
	WithDetections           int64   `json:"with_detections"`
	DetectionRate            float64 `json:"detection_rate"`
	AveragePrimaryConfidence float64 `json:"average_primary_confidence"`
}

// GetMetricsSummary aggregates recognition metrics from persisted logs.
func (uc *RecognitionUseCase) GetMetricsSummary(ctx context.Context, userID string) (*MetricsSummary, error) {
	aggregation, err := uc.repo.AggregateMetrics(ctx, userID)
	if err != nil {
		return nil, apperr.Wrap(apperr.Internal, "统计失败", err)
	}

	summary := &MetricsSummary{
		TotalRequests:            aggregation.TotalCount,
		WithDetections:           aggregation.WithDetectionsCount,
		AveragePrimaryConfidence: aggregation.AveragePrimaryConfidence,
	}

	if aggregation.TotalCount > 0 {
		summary.DetectionRate = float64(aggregation.WithDetectionsCount) / float64(aggregation.TotalCount)
	}

	return summary, nil
}
