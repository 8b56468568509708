package demo

import (
	"fmt"
	"math"
	"strings"

	"gonum.org/v1/gonum/floats"

	"cellsim/internal/model"
	"cellsim/internal/process"
)

type (
	CellProcess   = process.CellProcess[Cell, Global]
	GlobalProcess = process.GlobalProcess[Cell, Global]
)

// Grow adds a tenth of the cell's own population, rounded down.
func Grow(id uint32) CellProcess {
	return CellProcess{ID: id, Name: "grow", Func: func(cell Cell, _ []Cell, _ Global) ([]model.CellUpdate, []model.GlobalUpdate[Global]) {
		return []model.CellUpdate{
			model.NewCellUpdate(cell.Index, "population", model.Add, model.Int(int64(cell.Population/10))),
		}, nil
	}}
}

// Migrate pulls a tenth of every neighbour's population, each rounded up,
// into the cell.
func Migrate(id uint32) CellProcess {
	return CellProcess{ID: id, Name: "migrate", Func: func(cell Cell, neighbours []Cell, _ Global) ([]model.CellUpdate, []model.GlobalUpdate[Global]) {
		var movement int64
		for _, n := range neighbours {
			movement += int64(math.Ceil(float64(n.Population) / 10))
		}
		return []model.CellUpdate{
			model.NewCellUpdate(cell.Index, "population", model.Add, model.Int(movement)),
		}, nil
	}}
}

// ResetBelow keeps populations above threshold and sets the rest to zero. The
// decision is made on the population the process sees when invoked.
func ResetBelow(id uint32, threshold uint32) CellProcess {
	return CellProcess{ID: id, Name: "reset_below", Func: func(cell Cell, _ []Cell, _ Global) ([]model.CellUpdate, []model.GlobalUpdate[Global]) {
		if cell.Population > threshold {
			return nil, nil
		}
		return []model.CellUpdate{
			model.NewCellUpdate(cell.Index, "population", model.Set, model.Int(0)),
		}, nil
	}}
}

// CapToCapacity trims populations that exceed a non-zero residential capacity.
func CapToCapacity(id uint32) CellProcess {
	return CellProcess{ID: id, Name: "cap_to_capacity", Func: func(cell Cell, _ []Cell, _ Global) ([]model.CellUpdate, []model.GlobalUpdate[Global]) {
		if cell.ResidentialCapacity == 0 || cell.Population <= cell.ResidentialCapacity {
			return nil, nil
		}
		return []model.CellUpdate{
			model.NewCellUpdate(cell.Index, "population", model.Set, model.Int(int64(cell.ResidentialCapacity))),
		}, nil
	}}
}

// CountIterations advances the global iteration counter by one.
func CountIterations(id uint32) GlobalProcess {
	p := process.CountIterations[Cell, Global]()
	p.ID = id
	return p
}

// SumPopulation stores the total cell population on the global record.
func SumPopulation(id uint32) GlobalProcess {
	return GlobalProcess{ID: id, Name: "sum_population", Func: func(cells []Cell, _ Global) []model.GlobalUpdate[Global] {
		total := uint32(floats.Sum(Populations(cells)))
		return []model.GlobalUpdate[Global]{
			model.NewGlobalUpdate("sum_population", func(g Global) Global {
				g.Population = total
				return g
			}),
		}
	}}
}

// Populations returns cell populations in collection order.
func Populations(cells []Cell) []float64 {
	out := make([]float64, len(cells))
	for i, c := range cells {
		out[i] = float64(c.Population)
	}
	return out
}

// Params tunes catalog processes that take arguments.
type Params struct {
	Threshold uint32
}

// LookupCellProcess builds a named cell process from the catalog.
func LookupCellProcess(id uint32, name string, params Params) (CellProcess, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "grow":
		return Grow(id), nil
	case "migrate":
		return Migrate(id), nil
	case "reset_below":
		return ResetBelow(id, params.Threshold), nil
	case "cap_to_capacity":
		return CapToCapacity(id), nil
	default:
		return CellProcess{}, fmt.Errorf("unknown cell process: %s", name)
	}
}

// LookupGlobalProcess builds a named global process from the catalog.
func LookupGlobalProcess(id uint32, name string) (GlobalProcess, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "count_iterations":
		return CountIterations(id), nil
	case "sum_population":
		return SumPopulation(id), nil
	default:
		return GlobalProcess{}, fmt.Errorf("unknown global process: %s", name)
	}
}

// DefaultCellProcesses is the grow-then-migrate pipeline.
func DefaultCellProcesses() []CellProcess {
	return []CellProcess{Grow(0), Migrate(1)}
}

func DefaultGlobalProcesses() []GlobalProcess {
	return []GlobalProcess{CountIterations(0), SumPopulation(1)}
}
