package engine

import (
	"context"
	"errors"
	"reflect"
	"testing"

	"github.com/rs/zerolog"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"cellsim/internal/demo"
	"cellsim/internal/model"
	"cellsim/internal/network"
)

// Cells 0.3 degrees apart on the equator: a line network at 40 km.
func lineState(populations ...uint32) model.IterationState[demo.Cell, demo.Global] {
	cells := make([]demo.Cell, len(populations))
	for i, p := range populations {
		cells[i] = demo.NewCell(uint32(i), model.Position{Lon: 0.3 * float64(i)}, p)
	}
	return model.IterationState[demo.Cell, demo.Global]{Cells: cells}
}

func newEngine(t *testing.T, serial bool, opts Options[demo.Cell, demo.Global]) *Engine[demo.Cell, demo.Global] {
	t.Helper()
	nop := zerolog.Nop()
	opts.Logger = &nop
	e, err := New(Config{
		Network:          network.Config{ThresholdMeters: 40000},
		UpdatePerProcess: serial,
	}, opts)
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}
	return e
}

func populations(cells []demo.Cell) []uint32 {
	out := make([]uint32, len(cells))
	for i, c := range cells {
		out[i] = c.Population
	}
	return out
}

func TestStepModesDiverge(t *testing.T) {
	opts := Options[demo.Cell, demo.Global]{CellProcesses: demo.DefaultCellProcesses()}

	batch, err := newEngine(t, false, opts).Step(context.Background(), lineState(12, 40, 40))
	if err != nil {
		t.Fatalf("batch step: %v", err)
	}
	if got, want := populations(batch.Cells), []uint32{17, 50, 48}; !reflect.DeepEqual(got, want) {
		t.Fatalf("batch populations: got=%v want=%v", got, want)
	}
	if want := (model.Network{{1}, {0, 2}, {1}}); !reflect.DeepEqual(batch.Network, want) {
		t.Fatalf("unexpected network: got=%v want=%v", batch.Network, want)
	}

	serial, err := newEngine(t, true, opts).Step(context.Background(), lineState(12, 40, 40))
	if err != nil {
		t.Fatalf("serial step: %v", err)
	}
	if got, want := populations(serial.Cells), []uint32{18, 51, 49}; !reflect.DeepEqual(got, want) {
		t.Fatalf("serial populations: got=%v want=%v", got, want)
	}
}

// A process decides on the cell state it is handed. Batch mode hands every
// process the iteration's starting state, so the reset sees population 5.
// Serial mode hands ResetBelow the state after Grow and Migrate have been
// applied, so it sees 10 and leaves the cell alone. Only what a process sees
// of other processes' work differs between the modes.
func TestStepResetDecidedOnVisibleState(t *testing.T) {
	opts := Options[demo.Cell, demo.Global]{
		CellProcesses: []demo.CellProcess{demo.Grow(0), demo.Migrate(1), demo.ResetBelow(2, 5)},
	}

	batch, err := newEngine(t, false, opts).Step(context.Background(), lineState(5, 40))
	if err != nil {
		t.Fatalf("batch step: %v", err)
	}
	if got, want := populations(batch.Cells), []uint32{0, 45}; !reflect.DeepEqual(got, want) {
		t.Fatalf("batch populations: got=%v want=%v", got, want)
	}

	serial, err := newEngine(t, true, opts).Step(context.Background(), lineState(5, 40))
	if err != nil {
		t.Fatalf("serial step: %v", err)
	}
	if got, want := populations(serial.Cells), []uint32{10, 45}; !reflect.DeepEqual(got, want) {
		t.Fatalf("serial populations: got=%v want=%v", got, want)
	}
}

func TestStepProcessDecidesBeforeItsOwnUpdates(t *testing.T) {
	boostThenReset := demo.CellProcess{ID: 0, Name: "boost_then_reset", Func: func(c demo.Cell, _ []demo.Cell, _ demo.Global) ([]model.CellUpdate, []model.GlobalUpdate[demo.Global]) {
		updates := []model.CellUpdate{model.NewCellUpdate(c.Index, "population", model.Add, model.Int(10))}
		if c.Population <= 5 {
			updates = append(updates, model.NewCellUpdate(c.Index, "population", model.Set, model.Int(0)))
		}
		return updates, nil
	}}
	opts := Options[demo.Cell, demo.Global]{CellProcesses: []demo.CellProcess{boostThenReset}}
	for _, serial := range []bool{false, true} {
		next, err := newEngine(t, serial, opts).Step(context.Background(), lineState(5, 6))
		if err != nil {
			t.Fatalf("step serial=%v: %v", serial, err)
		}
		if got, want := populations(next.Cells), []uint32{0, 16}; !reflect.DeepEqual(got, want) {
			t.Fatalf("serial=%v populations: got=%v want=%v", serial, got, want)
		}
	}
}

func TestIterationCounterOnlyAdvancedByProcess(t *testing.T) {
	plain := newEngine(t, false, Options[demo.Cell, demo.Global]{})
	state := lineState(1, 2)
	state.Global = demo.Global{IterationCount: 3}
	next, err := plain.Step(context.Background(), state)
	if err != nil {
		t.Fatalf("step: %v", err)
	}
	if next.Global.IterationCount != 3 {
		t.Fatalf("expected counter untouched, got=%d", next.Global.IterationCount)
	}

	counting := newEngine(t, false, Options[demo.Cell, demo.Global]{})
	counting.RegisterGlobalProcess(demo.CountIterations(0))
	next, err = counting.Step(context.Background(), state)
	if err != nil {
		t.Fatalf("step: %v", err)
	}
	if next.Global.IterationCount != 4 {
		t.Fatalf("expected counter 4, got=%d", next.Global.IterationCount)
	}
}

func TestUnknownFieldUpdateIsDropped(t *testing.T) {
	typo := demo.CellProcess{ID: 0, Name: "typo", Func: func(c demo.Cell, _ []demo.Cell, _ demo.Global) ([]model.CellUpdate, []model.GlobalUpdate[demo.Global]) {
		return []model.CellUpdate{model.NewCellUpdate(c.Index, "populaton", model.Add, model.Int(1))}, nil
	}}
	var summaries []IterationSummary
	e := newEngine(t, false, Options[demo.Cell, demo.Global]{
		CellProcesses: []demo.CellProcess{typo},
		Observer:      ObserverFunc(func(s IterationSummary) { summaries = append(summaries, s) }),
	})
	state := lineState(7, 8)
	next, err := e.Step(context.Background(), state)
	if err != nil {
		t.Fatalf("step: %v", err)
	}
	if !reflect.DeepEqual(next.Cells, state.Cells) {
		t.Fatalf("expected cells unchanged: got=%+v", next.Cells)
	}
	if len(summaries) != 1 || summaries[0].Dropped != 2 || summaries[0].CellUpdates != 2 {
		t.Fatalf("unexpected summaries: %+v", summaries)
	}
}

func TestCellEmittedGlobalUpdatesApplyBeforeGlobalProcesses(t *testing.T) {
	tally := demo.CellProcess{ID: 0, Name: "tally", Func: func(c demo.Cell, _ []demo.Cell, _ demo.Global) ([]model.CellUpdate, []model.GlobalUpdate[demo.Global]) {
		return nil, []model.GlobalUpdate[demo.Global]{model.NewGlobalUpdate("tally", func(g demo.Global) demo.Global {
			g.Population += c.Population
			return g
		})}
	}}
	mirror := demo.GlobalProcess{ID: 0, Name: "mirror", Func: func(_ []demo.Cell, g demo.Global) []model.GlobalUpdate[demo.Global] {
		seen := g.Population
		return []model.GlobalUpdate[demo.Global]{model.NewGlobalUpdate("mirror", func(g demo.Global) demo.Global {
			g.IterationCount = seen
			return g
		})}
	}}
	for _, serial := range []bool{false, true} {
		e := newEngine(t, serial, Options[demo.Cell, demo.Global]{
			CellProcesses:   []demo.CellProcess{tally},
			GlobalProcesses: []demo.GlobalProcess{mirror},
		})
		next, err := e.Step(context.Background(), lineState(3, 4, 5))
		if err != nil {
			t.Fatalf("step: %v", err)
		}
		if next.Global.Population != 12 || next.Global.IterationCount != 12 {
			t.Fatalf("serial=%v unexpected global: %+v", serial, next.Global)
		}
	}
}

func TestGlobalProcessesSeeUpdatedCells(t *testing.T) {
	e := newEngine(t, false, Options[demo.Cell, demo.Global]{
		CellProcesses:   []demo.CellProcess{demo.Grow(0)},
		GlobalProcesses: []demo.GlobalProcess{demo.SumPopulation(0)},
	})
	next, err := e.Step(context.Background(), lineState(10, 20))
	if err != nil {
		t.Fatalf("step: %v", err)
	}
	if next.Global.Population != 33 {
		t.Fatalf("expected population 33, got=%d", next.Global.Population)
	}
}

func TestRunReturnsSummaries(t *testing.T) {
	e := newEngine(t, false, Options[demo.Cell, demo.Global]{
		CellProcesses:   demo.DefaultCellProcesses(),
		GlobalProcesses: demo.DefaultGlobalProcesses(),
		Totals: func(cells []demo.Cell, _ demo.Global) map[string]float64 {
			return map[string]float64{"population": float64(populations(cells)[0])}
		},
	})
	final, summaries, err := e.Run(context.Background(), lineState(12, 40, 40), 3)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if len(summaries) != 3 || final.Global.IterationCount != 3 {
		t.Fatalf("unexpected run: summaries=%d iterations=%d", len(summaries), final.Global.IterationCount)
	}
	for i, s := range summaries {
		if s.Iteration != i+1 || s.Cells != 3 || s.Edges != 4 || s.CellUpdates != 6 || s.GlobalUpdates != 2 {
			t.Fatalf("unexpected summary %d: %+v", i, s)
		}
	}
	if summaries[0].Totals["population"] != 17 {
		t.Fatalf("unexpected totals: %v", summaries[0].Totals)
	}
}

func TestRunStopsBetweenIterationsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	e := newEngine(t, false, Options[demo.Cell, demo.Global]{
		GlobalProcesses: demo.DefaultGlobalProcesses(),
		Observer: ObserverFunc(func(s IterationSummary) {
			if s.Iteration == 2 {
				cancel()
			}
		}),
	})
	final, summaries, err := e.Run(ctx, lineState(1), 10)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got=%v", err)
	}
	if len(summaries) != 2 || final.Global.IterationCount != 2 {
		t.Fatalf("expected two completed iterations, got summaries=%d iterations=%d", len(summaries), final.Global.IterationCount)
	}
}

func TestStepRejectsMisplacedCells(t *testing.T) {
	e := newEngine(t, false, Options[demo.Cell, demo.Global]{})
	state := lineState(1, 2)
	state.Cells[0], state.Cells[1] = state.Cells[1], state.Cells[0]
	if _, err := e.Step(context.Background(), state); err == nil {
		t.Fatal("expected misplaced cell ids to be rejected")
	}
}

func TestSetupRandomizesDeterministically(t *testing.T) {
	var observed []IterationSummary
	e := newEngine(t, false, Options[demo.Cell, demo.Global]{
		Observer: ObserverFunc(func(s IterationSummary) { observed = append(observed, s) }),
	})
	cells := lineState(0, 0, 0, 0).Cells
	opts := SetupOptions[demo.Cell, demo.Global]{
		GlobalProcesses: []demo.GlobalProcess{demo.SumPopulation(0)},
		Randomize:       true,
		Randomizer:      demo.Randomize,
		Seed:            99,
	}
	first, err := e.Setup(context.Background(), cells, demo.Global{}, opts)
	if err != nil {
		t.Fatalf("setup: %v", err)
	}
	second, err := e.Setup(context.Background(), cells, demo.Global{}, opts)
	if err != nil {
		t.Fatalf("setup: %v", err)
	}
	if !reflect.DeepEqual(first.Cells, second.Cells) {
		t.Fatal("expected identical randomisation for identical seeds")
	}
	if cells[0].Population != 0 {
		t.Fatal("expected input cells untouched")
	}
	var total uint32
	for _, c := range first.Cells {
		total += c.Population
	}
	if first.Global.Population != total {
		t.Fatalf("expected setup global process to run: got=%d want=%d", first.Global.Population, total)
	}
	if len(first.Network) != 4 {
		t.Fatalf("expected setup network, got=%v", first.Network)
	}
	if len(observed) != 2 || !observed[0].Setup || observed[0].Iteration != 0 {
		t.Fatalf("unexpected setup summaries: %+v", observed)
	}
}

func TestSetupRequiresRandomizer(t *testing.T) {
	e := newEngine(t, false, Options[demo.Cell, demo.Global]{})
	_, err := e.Setup(context.Background(), lineState(1).Cells, demo.Global{}, SetupOptions[demo.Cell, demo.Global]{Randomize: true})
	if err == nil {
		t.Fatal("expected missing randomizer to fail")
	}
}

func TestParallelWorkersMatchSequential(t *testing.T) {
	cells := demo.Grid(6, 8, model.Position{Lon: 10, Lat: 45}, 0.25, 30)
	state := model.IterationState[demo.Cell, demo.Global]{Cells: cells}
	nop := zerolog.Nop()
	build := func(workers int, index network.IndexKind) *Engine[demo.Cell, demo.Global] {
		e, err := New(Config{
			Network: network.Config{ThresholdMeters: 40000, Index: index},
			Workers: workers,
		}, Options[demo.Cell, demo.Global]{
			CellProcesses:   demo.DefaultCellProcesses(),
			GlobalProcesses: demo.DefaultGlobalProcesses(),
			Logger:          &nop,
		})
		if err != nil {
			t.Fatalf("new engine: %v", err)
		}
		return e
	}
	want, _, err := build(1, network.IndexBruteForce).Run(context.Background(), state, 4)
	if err != nil {
		t.Fatalf("sequential run: %v", err)
	}
	got, _, err := build(4, network.IndexRTree).Run(context.Background(), state, 4)
	if err != nil {
		t.Fatalf("parallel run: %v", err)
	}
	if !reflect.DeepEqual(got, want) {
		t.Fatal("parallel run differs from sequential run")
	}
}

func TestStepEmitsSpans(t *testing.T) {
	rec := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(rec))
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })

	e := newEngine(t, false, Options[demo.Cell, demo.Global]{Tracer: tp.Tracer("test")})
	if _, err := e.Step(context.Background(), lineState(1, 2)); err != nil {
		t.Fatalf("step: %v", err)
	}
	names := map[string]bool{}
	for _, s := range rec.Ended() {
		names[s.Name()] = true
	}
	for _, want := range []string{"engine.step", "network.derive", "process.cells", "process.global"} {
		if !names[want] {
			t.Fatalf("missing span %s in %v", want, names)
		}
	}
}

func TestConfigValidate(t *testing.T) {
	if err := (Config{}).Validate(); err == nil {
		t.Fatal("expected missing threshold to be rejected")
	}
	if err := (Config{Network: network.Config{ThresholdMeters: 1}, Workers: -1}).Validate(); err == nil {
		t.Fatal("expected negative workers to be rejected")
	}
}
