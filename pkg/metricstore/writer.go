/*
 * Copyright 2025 Carver Automation Corporation.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing,
 * software distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

// Package metricstore adapts polled metric samples onto the time-series
// store.
package metricstore

import (
	"context"

	"github.com/carverauto/hostpulse/pkg/logger"
	"github.com/carverauto/hostpulse/pkg/models"
)

type writerImpl struct {
	store  PointStore
	logger logger.Logger
}

// NewWriter creates a Writer backed by the given point store.
func NewWriter(store PointStore, log logger.Logger) Writer {
	return &writerImpl{
		store:  store,
		logger: log,
	}
}

func (w *writerImpl) Write(ctx context.Context, samples []models.MetricSample) (models.WriteResult, error) {
	if len(samples) == 0 {
		return models.WriteResult{}, nil
	}

	points := make([]models.TimeSeriesPoint, 0, len(samples))
	for i := range samples {
		points = append(points, models.PointFromSample(&samples[i]))
	}

	result, err := w.store.WritePoints(ctx, points)
	if err != nil {
		w.logger.Warn().
			Err(err).
			Int("written", result.Written).
			Int("failed", len(result.Failed)).
			Msg("store write incomplete")
	}

	return result, err
}
