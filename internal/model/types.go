package model

import "time"

// VersionedRecord captures schema and codec evolution for persistent data.
type VersionedRecord struct {
	SchemaVersion int `json:"schema_version"`
	CodecVersion  int `json:"codec_version"`
}

// RunRecord summarises one simulation run. Cell state is never recorded.
type RunRecord struct {
	VersionedRecord
	ID               string    `json:"id"`
	CreatedAtUTC     time.Time `json:"created_at_utc"`
	Cells            int       `json:"cells"`
	Iterations       int       `json:"iterations"`
	UpdatePerProcess bool      `json:"update_per_process"`
	ThresholdMeters  float64   `json:"threshold_meters"`
	CellProcesses    []string  `json:"cell_processes"`
	GlobalProcesses  []string  `json:"global_processes"`
}

// IterationRecord holds the statistics of one completed iteration.
type IterationRecord struct {
	VersionedRecord
	Iteration      int                `json:"iteration"`
	Cells          int                `json:"cells"`
	Edges          int                `json:"edges"`
	CellUpdates    int                `json:"cell_updates"`
	GlobalUpdates  int                `json:"global_updates"`
	DroppedUpdates int                `json:"dropped_updates"`
	Duration       time.Duration      `json:"duration_ns"`
	Totals         map[string]float64 `json:"totals,omitempty"`
}
