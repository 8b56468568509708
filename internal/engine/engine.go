// Package engine drives iterations: derive the neighbour network, run cell
// processes, apply their updates, then run and apply global processes.
package engine

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"cellsim/internal/apply"
	"cellsim/internal/logging"
	"cellsim/internal/model"
	"cellsim/internal/network"
	"cellsim/internal/process"
)

const tracerName = "cellsim/engine"

type Config struct {
	Network network.Config
	// UpdatePerProcess applies updates after every cell process instead of
	// once after all of them.
	UpdatePerProcess bool
	// Workers > 1 parallelises network derivation and batch evaluation.
	// Serial mode always evaluates on one goroutine.
	Workers int
}

func (c Config) Validate() error {
	if err := c.Network.Validate(); err != nil {
		return fmt.Errorf("network: %w", err)
	}
	if c.Workers < 0 {
		return errors.New("workers must be >= 0")
	}
	return nil
}

// Mode names the cell process application strategy.
func (c Config) Mode() string {
	if c.UpdatePerProcess {
		return "serial"
	}
	return "batch"
}

type Options[C model.Cell[C], G any] struct {
	CellProcesses   []process.CellProcess[C, G]
	GlobalProcesses []process.GlobalProcess[C, G]
	Observer        Observer
	// Totals, when set, contributes aggregate values to each summary.
	Totals func(cells []C, global G) map[string]float64
	Logger *zerolog.Logger
	Tracer trace.Tracer
}

type Engine[C model.Cell[C], G any] struct {
	cfg             Config
	deriver         *network.Deriver[C]
	cellProcesses   []process.CellProcess[C, G]
	globalProcesses []process.GlobalProcess[C, G]
	observer        Observer
	totals          func([]C, G) map[string]float64
	log             zerolog.Logger
	tracer          trace.Tracer
	iterations      atomic.Int64
}

func New[C model.Cell[C], G any](cfg Config, opts Options[C, G]) (*Engine[C, G], error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.Network.Workers == 0 {
		cfg.Network.Workers = cfg.Workers
	}
	deriver, err := network.NewDeriver[C](cfg.Network)
	if err != nil {
		return nil, err
	}
	e := &Engine[C, G]{
		cfg:             cfg,
		deriver:         deriver,
		cellProcesses:   append([]process.CellProcess[C, G](nil), opts.CellProcesses...),
		globalProcesses: append([]process.GlobalProcess[C, G](nil), opts.GlobalProcesses...),
		observer:        opts.Observer,
		totals:          opts.Totals,
		tracer:          opts.Tracer,
	}
	if e.observer == nil {
		e.observer = NopObserver{}
	}
	if opts.Logger != nil {
		e.log = *opts.Logger
	} else {
		e.log = logging.New("engine")
	}
	if e.tracer == nil {
		e.tracer = otel.Tracer(tracerName)
	}
	return e, nil
}

func (e *Engine[C, G]) Config() Config { return e.cfg }

func (e *Engine[C, G]) Deriver() *network.Deriver[C] { return e.deriver }

// RegisterCellProcess appends p to the cell pipeline. Not safe to call while
// an iteration is running.
func (e *Engine[C, G]) RegisterCellProcess(p process.CellProcess[C, G]) {
	e.cellProcesses = append(e.cellProcesses, p)
}

func (e *Engine[C, G]) RegisterGlobalProcess(p process.GlobalProcess[C, G]) {
	e.globalProcesses = append(e.globalProcesses, p)
}

func (e *Engine[C, G]) CellProcesses() []process.CellProcess[C, G] {
	return append([]process.CellProcess[C, G](nil), e.cellProcesses...)
}

func (e *Engine[C, G]) GlobalProcesses() []process.GlobalProcess[C, G] {
	return append([]process.GlobalProcess[C, G](nil), e.globalProcesses...)
}

// Step runs one iteration. ctx is only consulted before the iteration starts;
// a started iteration always completes.
func (e *Engine[C, G]) Step(ctx context.Context, state model.IterationState[C, G]) (model.IterationState[C, G], error) {
	next, _, err := e.step(ctx, state)
	return next, err
}

// Run performs iterations steps and returns the final state together with a
// summary of every completed iteration. On cancellation it returns the last
// completed state and ctx's error.
func (e *Engine[C, G]) Run(ctx context.Context, state model.IterationState[C, G], iterations int) (model.IterationState[C, G], []IterationSummary, error) {
	if iterations < 0 {
		return state, nil, fmt.Errorf("iterations must be >= 0, got %d", iterations)
	}
	summaries := make([]IterationSummary, 0, iterations)
	for i := 0; i < iterations; i++ {
		next, summary, err := e.step(ctx, state)
		if err != nil {
			return state, summaries, err
		}
		state = next
		summaries = append(summaries, summary)
	}
	return state, summaries, nil
}

type SetupOptions[C model.Cell[C], G any] struct {
	CellProcesses   []process.CellProcess[C, G]
	GlobalProcesses []process.GlobalProcess[C, G]
	// Randomize runs Randomizer over every cell before the setup pass.
	Randomize  bool
	Randomizer func(rng *rand.Rand, cell C) C
	Seed       int64
}

// Setup builds the initial iteration state: optional randomisation, then one
// pass of the setup processes in the configured mode.
func (e *Engine[C, G]) Setup(ctx context.Context, cells []C, global G, opts SetupOptions[C, G]) (model.IterationState[C, G], error) {
	if err := ctx.Err(); err != nil {
		return model.IterationState[C, G]{Cells: cells, Global: global}, err
	}
	if err := model.CheckIndexes(cells); err != nil {
		return model.IterationState[C, G]{Cells: cells, Global: global}, err
	}
	ctx, span := e.tracer.Start(ctx, "engine.setup")
	defer span.End()

	cells = append([]C(nil), cells...)
	if opts.Randomize {
		if opts.Randomizer == nil {
			return model.IterationState[C, G]{Cells: cells, Global: global}, errors.New("randomize requested without a randomizer")
		}
		rng := rand.New(rand.NewSource(opts.Seed))
		for i, c := range cells {
			cells[i] = opts.Randomizer(rng, c)
		}
		if err := model.CheckIndexes(cells); err != nil {
			return model.IterationState[C, G]{Cells: cells, Global: global}, fmt.Errorf("randomizer: %w", err)
		}
	}

	next, summary := e.iterate(ctx, "setup", cells, global, opts.CellProcesses, opts.GlobalProcesses)
	summary.Setup = true
	e.observer.ObserveIteration(summary)
	e.log.Debug().
		Int("cells", summary.Cells).
		Int("edges", summary.Edges).
		Bool("randomized", opts.Randomize).
		Dur("duration", summary.Duration).
		Msg("setup complete")
	return next, nil
}

func (e *Engine[C, G]) step(ctx context.Context, state model.IterationState[C, G]) (model.IterationState[C, G], IterationSummary, error) {
	if err := ctx.Err(); err != nil {
		return state, IterationSummary{}, err
	}
	if err := model.CheckIndexes(state.Cells); err != nil {
		return state, IterationSummary{}, err
	}
	ctx, span := e.tracer.Start(ctx, "engine.step")
	defer span.End()

	next, summary := e.iterate(ctx, "step", state.Cells, state.Global, e.cellProcesses, e.globalProcesses)
	summary.Iteration = int(e.iterations.Add(1))
	span.SetAttributes(attribute.Int("cellsim.iteration", summary.Iteration))
	e.observer.ObserveIteration(summary)

	ev := e.log.Debug().
		Int("iteration", summary.Iteration).
		Str("mode", e.cfg.Mode()).
		Int("cells", summary.Cells).
		Int("edges", summary.Edges).
		Int("cell_updates", summary.CellUpdates).
		Int("global_updates", summary.GlobalUpdates).
		Dur("duration", summary.Duration)
	if summary.Dropped > 0 {
		ev = ev.Int("dropped", summary.Dropped)
	}
	ev.Msg("iteration complete")
	return next, summary, nil
}

func (e *Engine[C, G]) iterate(
	ctx context.Context,
	phase string,
	cells []C,
	global G,
	cellProcs []process.CellProcess[C, G],
	globalProcs []process.GlobalProcess[C, G],
) (model.IterationState[C, G], IterationSummary) {
	start := time.Now()
	summary := IterationSummary{Cells: len(cells)}

	_, span := e.tracer.Start(ctx, "network.derive")
	net := e.deriver.Derive(cells)
	span.SetAttributes(attribute.Int("cellsim.cells", len(cells)), attribute.Int("cellsim.edges", net.Edges()))
	span.End()
	summary.Edges = net.Edges()

	_, span = e.tracer.Start(ctx, "process.cells", trace.WithAttributes(attribute.String("cellsim.mode", e.cfg.Mode())))
	cells, global = e.runCells(phase, cells, net, cellProcs, global, &summary)
	span.End()

	_, span = e.tracer.Start(ctx, "process.global")
	globalUpdates := process.RunGlobal(cells, globalProcs, global)
	global = apply.Global(global, globalUpdates)
	summary.GlobalUpdates += len(globalUpdates)
	span.End()

	if e.totals != nil {
		summary.Totals = e.totals(cells, global)
	}
	summary.Duration = time.Since(start)
	return model.IterationState[C, G]{Cells: cells, Global: global, Network: net}, summary
}

func (e *Engine[C, G]) runCells(
	phase string,
	cells []C,
	net model.Network,
	procs []process.CellProcess[C, G],
	global G,
	summary *IterationSummary,
) ([]C, G) {
	if !e.cfg.UpdatePerProcess {
		cu, gu := process.RunCells(cells, net, procs, global, process.Options{Workers: e.cfg.Workers})
		cells = e.applyCells(phase, "batch", cells, cu, summary)
		summary.GlobalUpdates += len(gu)
		return cells, apply.Global(global, gu)
	}
	for _, p := range procs {
		cu, gu := process.RunOnCells(cells, net, p, global)
		cells = e.applyCells(phase, p.String(), cells, cu, summary)
		summary.GlobalUpdates += len(gu)
		global = apply.Global(global, gu)
	}
	return cells, global
}

func (e *Engine[C, G]) applyCells(phase, source string, cells []C, updates []model.CellUpdate, summary *IterationSummary) []C {
	next, stats := apply.Cells(cells, updates)
	summary.CellUpdates += len(updates)
	summary.Dropped += stats.Dropped
	e.log.Trace().
		Str("phase", phase).
		Str("source", source).
		Int("updates", len(updates)).
		Int("dropped", stats.Dropped).
		Msg("applied cell updates")
	return next
}
