package storage

import (
	"context"

	"cellsim/internal/model"
)

// Store records simulation runs and their per-iteration statistics. Cell state
// is never persisted.
type Store interface {
	Init(ctx context.Context) error
	SaveRun(ctx context.Context, run model.RunRecord) error
	GetRun(ctx context.Context, id string) (model.RunRecord, bool, error)
	// ListRuns returns runs newest first. limit <= 0 returns every run.
	ListRuns(ctx context.Context, limit int) ([]model.RunRecord, error)
	DeleteRun(ctx context.Context, id string) error
	// AppendIterations adds records to a run, replacing any record with the
	// same iteration number.
	AppendIterations(ctx context.Context, runID string, records []model.IterationRecord) error
	GetIterations(ctx context.Context, runID string) ([]model.IterationRecord, bool, error)
}
