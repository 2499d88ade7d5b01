package metricstore

import (
	"context"

	"github.com/carverauto/hostpulse/pkg/models"
)

//go:generate mockgen -destination=mock_metricstore.go -package=metricstore github.com/carverauto/hostpulse/pkg/metricstore Writer

// Writer persists metric samples to the time-series store.
type Writer interface {
	// Write appends a batch of samples. A partial failure reports the
	// rejected subset in WriteResult.Failed alongside a
	// *models.StoreError, so callers can re-submit only those.
	Write(ctx context.Context, samples []models.MetricSample) (models.WriteResult, error)
}

// PointStore is the db-layer surface the writer needs.
type PointStore interface {
	WritePoints(ctx context.Context, points []models.TimeSeriesPoint) (models.WriteResult, error)
}
