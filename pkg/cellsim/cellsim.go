// Package cellsim is the in-process boundary of the simulation kernel. Hosts
// define their own cell and global records, register processes and drive
// an Engine; the Client runs the bundled demo model from configuration.
package cellsim

import (
	"cellsim/internal/engine"
	"cellsim/internal/model"
	"cellsim/internal/network"
	"cellsim/internal/process"
)

type (
	CellIndex    = model.CellIndex
	Position     = model.Position
	Network      = model.Network
	Action       = model.Action
	Value        = model.Value
	CellUpdate   = model.CellUpdate
	FieldKind    = model.FieldKind
	Summary      = engine.IterationSummary
	Observer     = engine.Observer
	EngineConfig = engine.Config
	IndexKind    = network.IndexKind
)

type (
	Cell[C any]                            = model.Cell[C]
	IterationState[C model.Cell[C], G any] = model.IterationState[C, G]
	GlobalUpdate[G any]                    = model.GlobalUpdate[G]
	Field[T any]                           = model.Field[T]
	FieldTable[T any]                      = model.FieldTable[T]
	CellProcess[C model.Cell[C], G any]    = process.CellProcess[C, G]
	GlobalProcess[C model.Cell[C], G any]  = process.GlobalProcess[C, G]
	Engine[C model.Cell[C], G any]         = engine.Engine[C, G]
	EngineOptions[C model.Cell[C], G any]  = engine.Options[C, G]
	SetupOptions[C model.Cell[C], G any]   = engine.SetupOptions[C, G]
)

const (
	Add = model.Add
	Sub = model.Sub
	Set = model.Set

	IndexBruteForce = network.IndexBruteForce
	IndexRTree      = network.IndexRTree
)

var (
	ErrInvalidValueKind = model.ErrInvalidValueKind
	ErrIndexOutOfRange  = model.ErrIndexOutOfRange
	ErrImmutableField   = model.ErrImmutableField
)

func Float(v float64) Value { return model.Float(v) }

func Int(v int64) Value { return model.Int(v) }

func NewCellUpdate(target CellIndex, field string, action Action, value Value) CellUpdate {
	return model.NewCellUpdate(target, field, action, value)
}

func NewGlobalUpdate[G any](id string, action func(G) G) GlobalUpdate[G] {
	return model.NewGlobalUpdate(id, action)
}

func NewFieldTable[T any](fields ...Field[T]) *FieldTable[T] {
	return model.NewFieldTable(fields...)
}

func NumberField[T any, Z model.Number](name string, ref func(*T) *Z) Field[T] {
	return model.NumberField(name, ref)
}

// CountIterations is the global process that advances the iteration counter.
// Nothing else does.
func CountIterations[C model.Cell[C], G model.IterationCounter[G]]() GlobalProcess[C, G] {
	return process.CountIterations[C, G]()
}

// DefaultConfig is a batch-mode engine configuration with the given
// neighbour threshold in metres.
func DefaultConfig(thresholdMeters float64) EngineConfig {
	return engine.Config{
		Network: network.Config{
			ThresholdMeters: thresholdMeters,
			Index:           network.IndexBruteForce,
		},
		Workers: 1,
	}
}

// New builds an engine for host-defined records.
func New[C model.Cell[C], G any](cfg EngineConfig, opts EngineOptions[C, G]) (*Engine[C, G], error) {
	return engine.New(cfg, opts)
}
