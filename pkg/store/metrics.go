package store

import (
	"context"
	"time"

	"github.com/usenetsync/usenetsync/pkg/models"
)

// RecordMetric appends one measurement sample.
func (s *GORMStore) RecordMetric(ctx context.Context, name string, value float64, labels string) error {
	return retryBusy(ctx, func() error {
		return s.db.WithContext(ctx).Create(&models.MetricSample{
			Name:   name,
			Value:  value,
			Labels: labels,
		}).Error
	})
}

// ListMetrics returns samples for one metric name since the given time.
func (s *GORMStore) ListMetrics(ctx context.Context, name string, since time.Time) ([]*models.MetricSample, error) {
	var samples []*models.MetricSample
	err := s.db.WithContext(ctx).
		Where("name = ? AND created_at >= ?", name, since).
		Order("created_at").
		Find(&samples).Error
	if err != nil {
		return nil, err
	}
	return samples, nil
}

// PruneMetrics deletes samples older than the cutoff and returns how many
// rows were removed.
func (s *GORMStore) PruneMetrics(ctx context.Context, olderThan time.Time) (int64, error) {
	var affected int64
	err := retryBusy(ctx, func() error {
		result := s.db.WithContext(ctx).
			Where("created_at < ?", olderThan).
			Delete(&models.MetricSample{})
		affected = result.RowsAffected
		return result.Error
	})
	return affected, err
}
