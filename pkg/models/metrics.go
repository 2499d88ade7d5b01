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

package models

import "time"

// Units attached to metric samples.
const (
	UnitPercent        = "percent"
	UnitBytes          = "bytes"
	UnitBytesPerSecond = "bytes_per_second"
	UnitCount          = "count"
	UnitSeconds        = "seconds"
)

// MetricSample is one named measurement taken from an agent. Samples are
// read-only once constructed.
type MetricSample struct {
	Source      string    `json:"source"`
	MetricName  string    `json:"metric_name"`
	Value       float64   `json:"value"`
	Unit        string    `json:"unit"`
	CollectedAt time.Time `json:"collected_at"`
}

// Key returns the idempotence key for the sample.
func (s *MetricSample) Key() MetricKey {
	return MetricKey{Source: s.Source, MetricName: s.MetricName, CollectedAt: s.CollectedAt}
}

// MetricKey identifies a point in the store. Re-submitting a point with the
// same key must not create a duplicate.
type MetricKey struct {
	Source      string
	MetricName  string
	CollectedAt time.Time
}

// TimeSeriesPoint is the persisted form of a MetricSample. Seq is assigned by
// storage on insert; points are append-only.
type TimeSeriesPoint struct {
	Seq         int64     `json:"seq,omitempty"`
	Source      string    `json:"source"`
	MetricName  string    `json:"metric_name"`
	Value       float64   `json:"value"`
	Unit        string    `json:"unit"`
	CollectedAt time.Time `json:"collected_at"`
}

// PointFromSample converts a sample into its persisted form. Seq stays zero
// until storage assigns it.
func PointFromSample(s *MetricSample) TimeSeriesPoint {
	return TimeSeriesPoint{
		Source:      s.Source,
		MetricName:  s.MetricName,
		Value:       s.Value,
		Unit:        s.Unit,
		CollectedAt: s.CollectedAt,
	}
}

// Sample converts a point back into sample form so a failed subset can be
// re-submitted through the writer.
func (p *TimeSeriesPoint) Sample() MetricSample {
	return MetricSample{
		Source:      p.Source,
		MetricName:  p.MetricName,
		Value:       p.Value,
		Unit:        p.Unit,
		CollectedAt: p.CollectedAt,
	}
}

// WriteResult reports the outcome of a batch write. Failed holds the points
// the store rejected so the caller can re-submit only those.
type WriteResult struct {
	Written int               `json:"written"`
	Failed  []TimeSeriesPoint `json:"failed,omitempty"`
}
