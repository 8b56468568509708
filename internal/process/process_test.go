package process_test

import (
	"errors"
	"reflect"
	"testing"

	"cellsim/internal/demo"
	"cellsim/internal/model"
	"cellsim/internal/process"
)

func lineCells(populations ...uint32) ([]demo.Cell, model.Network) {
	cells := make([]demo.Cell, len(populations))
	net := make(model.Network, len(populations))
	for i, p := range populations {
		cells[i] = demo.NewCell(uint32(i), model.Position{Lon: 0.3 * float64(i)}, p)
		net[i] = []model.CellIndex{}
		if i > 0 {
			net[i] = append(net[i], model.CellIndex(i-1))
		}
		if i < len(populations)-1 {
			net[i] = append(net[i], model.CellIndex(i+1))
		}
	}
	return cells, net
}

func TestRunCellsOrdersByCellThenProcess(t *testing.T) {
	cells, net := lineCells(12, 40, 40)
	cu, gu := process.RunCells(cells, net, demo.DefaultCellProcesses(), demo.Global{}, process.Options{})
	want := []model.CellUpdate{
		model.NewCellUpdate(0, "population", model.Add, model.Int(1)),
		model.NewCellUpdate(0, "population", model.Add, model.Int(4)),
		model.NewCellUpdate(1, "population", model.Add, model.Int(4)),
		model.NewCellUpdate(1, "population", model.Add, model.Int(6)),
		model.NewCellUpdate(2, "population", model.Add, model.Int(4)),
		model.NewCellUpdate(2, "population", model.Add, model.Int(4)),
	}
	if !reflect.DeepEqual(cu, want) {
		t.Fatalf("unexpected updates:\n got=%v\nwant=%v", cu, want)
	}
	if len(gu) != 0 {
		t.Fatalf("expected no global updates, got=%d", len(gu))
	}
	if cells[0].Population != 12 {
		t.Fatalf("expected input cells untouched, got=%d", cells[0].Population)
	}
}

func TestRunCellsParallelMatchesSequential(t *testing.T) {
	populations := make([]uint32, 97)
	for i := range populations {
		populations[i] = uint32(i * 7 % 53)
	}
	cells, net := lineCells(populations...)
	procs := []demo.CellProcess{demo.Grow(0), demo.Migrate(1), demo.ResetBelow(2, 20)}
	emitter := demo.CellProcess{ID: 3, Name: "tag", Func: func(c demo.Cell, _ []demo.Cell, _ demo.Global) ([]model.CellUpdate, []model.GlobalUpdate[demo.Global]) {
		return nil, []model.GlobalUpdate[demo.Global]{model.NewGlobalUpdate[demo.Global](c.Index.String(), nil)}
	}}
	procs = append(procs, emitter)

	wantCells, wantGlobals := process.RunCells(cells, net, procs, demo.Global{}, process.Options{})
	gotCells, gotGlobals := process.RunCells(cells, net, procs, demo.Global{}, process.Options{Workers: 4})
	if !reflect.DeepEqual(gotCells, wantCells) {
		t.Fatal("parallel cell updates differ from sequential")
	}
	if len(gotGlobals) != len(wantGlobals) {
		t.Fatalf("global update count: got=%d want=%d", len(gotGlobals), len(wantGlobals))
	}
	for i := range wantGlobals {
		if gotGlobals[i].ID != wantGlobals[i].ID {
			t.Fatalf("global update %d: got=%s want=%s", i, gotGlobals[i].ID, wantGlobals[i].ID)
		}
	}
}

func TestRunOnCellsSingleProcess(t *testing.T) {
	cells, net := lineCells(5, 50)
	cu, _ := process.RunOnCells(cells, net, demo.ResetBelow(0, 5), demo.Global{})
	want := []model.CellUpdate{model.NewCellUpdate(0, "population", model.Set, model.Int(0))}
	if !reflect.DeepEqual(cu, want) {
		t.Fatalf("unexpected updates: got=%v want=%v", cu, want)
	}
}

func TestNeighboursOutOfRangePanics(t *testing.T) {
	cells, _ := lineCells(1, 2)
	net := model.Network{{1, 5}, {0}}
	defer func() {
		r := recover()
		err, ok := r.(error)
		if !ok || !errors.Is(err, model.ErrIndexOutOfRange) {
			t.Fatalf("expected ErrIndexOutOfRange panic, got=%v", r)
		}
	}()
	process.Neighbours(cells, net, 0)
	t.Fatal("expected invalid neighbour to panic")
}

func TestRunGlobalConcatenatesInRegistrationOrder(t *testing.T) {
	cells, _ := lineCells(3, 4)
	procs := []demo.GlobalProcess{demo.SumPopulation(0), demo.CountIterations(1)}
	updates := process.RunGlobal(cells, procs, demo.Global{})
	if len(updates) != 2 || updates[0].ID != "sum_population" || updates[1].ID != "count_iterations" {
		t.Fatalf("unexpected global updates: %+v", updates)
	}
	g := demo.Global{IterationCount: 4}
	for _, u := range updates {
		g = u.Action(g)
	}
	if g.Population != 7 || g.IterationCount != 5 {
		t.Fatalf("unexpected global: %+v", g)
	}
}

func TestNames(t *testing.T) {
	got := process.Names([]demo.CellProcess{demo.Grow(0), {ID: 9}})
	want := []string{"grow", "cell-process-9"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("unexpected names: got=%v want=%v", got, want)
	}
}
