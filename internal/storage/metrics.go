// Copyright 2024 CowFS Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package storage

import "time"

// Metrics are the engine-level counters. They are advisory and never
// affect block accounting.
type Metrics struct {
	TotalReads        uint64
	TotalWrites       uint64
	TotalSnapshots    uint64
	TotalRollbacks    uint64
	RowWrites         uint64
	CowWrites         uint64
	BytesSavedCow     uint64
	TotalReadTime     time.Duration
	TotalWriteTime    time.Duration
	TotalSnapshotTime time.Duration
	TotalRollbackTime time.Duration
}

// MetricsReport is the display form of Metrics merged with pool counters
type MetricsReport struct {
	PoolStats
	TotalReads      uint64  `json:"total_reads"`
	TotalWrites     uint64  `json:"total_writes"`
	TotalSnapshots  uint64  `json:"total_snapshots"`
	TotalRollbacks  uint64  `json:"total_rollbacks"`
	RowWrites       uint64  `json:"row_writes"`
	CowWrites       uint64  `json:"cow_writes"`
	BytesSavedCow   uint64  `json:"bytes_saved_cow"`
	AvgReadTime     float64 `json:"avg_read_time_ms"`
	AvgWriteTime    float64 `json:"avg_write_time_ms"`
	AvgSnapshotTime float64 `json:"avg_snapshot_time_ms"`
	AvgRollbackTime float64 `json:"avg_rollback_time_ms"`
}

func (m *Metrics) report(pool PoolStats) MetricsReport {
	return MetricsReport{
		PoolStats:       pool,
		TotalReads:      m.TotalReads,
		TotalWrites:     m.TotalWrites,
		TotalSnapshots:  m.TotalSnapshots,
		TotalRollbacks:  m.TotalRollbacks,
		RowWrites:       m.RowWrites,
		CowWrites:       m.CowWrites,
		BytesSavedCow:   m.BytesSavedCow,
		AvgReadTime:     avgMillis(m.TotalReadTime, m.TotalReads),
		AvgWriteTime:    avgMillis(m.TotalWriteTime, m.TotalWrites),
		AvgSnapshotTime: avgMillis(m.TotalSnapshotTime, m.TotalSnapshots),
		AvgRollbackTime: avgMillis(m.TotalRollbackTime, m.TotalRollbacks),
	}
}

func avgMillis(total time.Duration, n uint64) float64 {
	if n == 0 {
		return 0
	}
	return float64(total) / float64(time.Millisecond) / float64(n)
}
