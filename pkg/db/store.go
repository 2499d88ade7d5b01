/*
 * Copyright 2025 Carver Automation Corporation.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/carverauto/hostpulse/pkg/logger"
	"github.com/carverauto/hostpulse/pkg/models"
)

// nowUTC allows tests to override the timestamp source.
//
//nolint:gochecknoglobals // test hooks need a package-level clock override.
var nowUTC = func() time.Time {
	return time.Now().UTC()
}

const upsertPointSQL = `
INSERT INTO timeseries_points (
	collected_at,
	source,
	metric_name,
	value,
	unit
) VALUES (
	$1,$2,$3,$4,$5
)
ON CONFLICT (source, metric_name, collected_at)
DO UPDATE SET value = EXCLUDED.value, unit = EXCLUDED.unit`

// Pool is the subset of pgxpool.Pool the store uses. Tests substitute fakes.
type Pool interface {
	SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Ping(ctx context.Context) error
	Close()
}

// Store appends time-series points to Postgres. Writes are idempotent keyed
// by (source, metric_name, collected_at).
type Store struct {
	pool   Pool
	logger logger.Logger
}

func NewStore(pool Pool, log logger.Logger) *Store {
	return &Store{pool: pool, logger: log}
}

// WritePoints persists a batch of points. The whole batch goes through one
// pgx sync point, so a single rejected row aborts every command in it; when
// that happens the store retries each point in its own statement and reports
// exactly which ones the cluster refused, so the caller can re-submit only
// those. Full unreachability comes back as a StoreError without per-point
// blame.
func (s *Store) WritePoints(ctx context.Context, points []models.TimeSeriesPoint) (models.WriteResult, error) {
	result := models.WriteResult{}

	if len(points) == 0 {
		return result, nil
	}

	batch := &pgx.Batch{}
	for i := range points {
		batch.Queue(upsertPointSQL, buildPointArgs(&points[i])...)
	}

	batchErr := s.sendPoints(ctx, batch)
	if batchErr == nil {
		result.Written = len(points)
		return result, nil
	}

	var pgErr *pgconn.PgError
	if !errors.As(batchErr, &pgErr) {
		return result, &models.StoreError{Kind: models.StoreUnreachable, Err: batchErr}
	}

	s.logger.Warn().
		Err(batchErr).
		Int("points", len(points)).
		Msg("batch write rejected, retrying points individually")

	for i := range points {
		if _, execErr := s.pool.Exec(ctx, upsertPointSQL, buildPointArgs(&points[i])...); execErr != nil {
			var rowErr *pgconn.PgError
			if !errors.As(execErr, &rowErr) {
				result.Failed = append(result.Failed, points[i:]...)
				return result, &models.StoreError{Kind: models.StoreUnreachable, Err: execErr}
			}

			result.Failed = append(result.Failed, points[i])

			continue
		}

		result.Written++
	}

	if len(result.Failed) > 0 {
		return result, &models.StoreError{Kind: models.StorePartialWrite, Err: batchErr}
	}

	return result, nil
}

// Ping verifies the store answers at the protocol level, beyond TCP reach.
func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

func (s *Store) Close() {
	s.pool.Close()
}

func (s *Store) sendPoints(ctx context.Context, batch *pgx.Batch) (err error) {
	br := s.pool.SendBatch(ctx, batch)
	defer func() {
		if closeErr := br.Close(); closeErr != nil && err == nil {
			err = fmt.Errorf("points batch close: %w", closeErr)
		}
	}()

	// Read results for each queued command to properly detect errors
	for i := 0; i < batch.Len(); i++ {
		if _, err = br.Exec(); err != nil {
			return fmt.Errorf("points batch exec (command %d): %w", i, err)
		}
	}

	return nil
}

func buildPointArgs(point *models.TimeSeriesPoint) []any {
	return []any{
		sanitizeTimestamp(point.CollectedAt),
		point.Source,
		point.MetricName,
		point.Value,
		point.Unit,
	}
}

func sanitizeTimestamp(ts time.Time) time.Time {
	if ts.IsZero() {
		return nowUTC()
	}

	return ts.UTC()
}
