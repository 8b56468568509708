// Package process evaluates cell and global processes into pending updates.
// Nothing here applies updates; that is the applier's job.
package process

import (
	"fmt"

	"golang.org/x/sync/errgroup"

	"cellsim/internal/model"
	"cellsim/internal/network"
)

// CellFunc inspects one cell, its neighbours and the global record and
// returns the updates it wants applied. It must not retain the neighbour
// slice.
type CellFunc[C model.Cell[C], G any] func(cell C, neighbours []C, global G) ([]model.CellUpdate, []model.GlobalUpdate[G])

type CellProcess[C model.Cell[C], G any] struct {
	// ID only labels the process in diagnostics.
	ID   uint32
	Name string
	Func CellFunc[C, G]
}

func (p CellProcess[C, G]) String() string {
	if p.Name != "" {
		return p.Name
	}
	return fmt.Sprintf("cell-process-%d", p.ID)
}

type Options struct {
	// Workers > 1 evaluates disjoint cell ranges concurrently. Results are
	// concatenated in cell order either way.
	Workers int
}

// Run evaluates a single process on a single cell.
func Run[C model.Cell[C], G any](cell C, neighbours []C, p CellProcess[C, G], global G) ([]model.CellUpdate, []model.GlobalUpdate[G]) {
	if p.Func == nil {
		return nil, nil
	}
	return p.Func(cell, neighbours, global)
}

// Neighbours resolves the neighbour indices of cell i against cells.
func Neighbours[C model.Cell[C]](cells []C, net model.Network, i int) []C {
	ids := net.Neighbours(model.CellIndex(i))
	out := make([]C, len(ids))
	for k, id := range ids {
		if id.Int() >= len(cells) {
			panic(fmt.Errorf("%w: cell %d lists neighbour %d of %d cells", model.ErrIndexOutOfRange, i, id, len(cells)))
		}
		out[k] = cells[id]
	}
	return out
}

// RunCells evaluates every process against every cell of the same snapshot:
// for each cell in order, for each process in registration order.
func RunCells[C model.Cell[C], G any](
	cells []C,
	net model.Network,
	processes []CellProcess[C, G],
	global G,
	opts Options,
) ([]model.CellUpdate, []model.GlobalUpdate[G]) {
	if len(cells) == 0 || len(processes) == 0 {
		return nil, nil
	}
	evaluate := func(lo, hi int) batch[G] {
		var b batch[G]
		for i := lo; i < hi; i++ {
			neighbours := Neighbours(cells, net, i)
			for _, p := range processes {
				cu, gu := Run(cells[i], neighbours, p, global)
				b.cells = append(b.cells, cu...)
				b.globals = append(b.globals, gu...)
			}
		}
		return b
	}

	if opts.Workers <= 1 || len(cells) < 2*opts.Workers {
		b := evaluate(0, len(cells))
		return b.cells, b.globals
	}

	ranges := network.Ranges(len(cells), opts.Workers)
	results := make([]batch[G], len(ranges))
	var g errgroup.Group
	for k, r := range ranges {
		g.Go(func() error {
			results[k] = evaluate(r.Lo, r.Hi)
			return nil
		})
	}
	_ = g.Wait()

	var out batch[G]
	for _, b := range results {
		out.cells = append(out.cells, b.cells...)
		out.globals = append(out.globals, b.globals...)
	}
	return out.cells, out.globals
}

// RunOnCells evaluates one process over every cell, the unit of work of
// serial mode.
func RunOnCells[C model.Cell[C], G any](cells []C, net model.Network, p CellProcess[C, G], global G) ([]model.CellUpdate, []model.GlobalUpdate[G]) {
	return RunCells(cells, net, []CellProcess[C, G]{p}, global, Options{})
}

type batch[G any] struct {
	cells   []model.CellUpdate
	globals []model.GlobalUpdate[G]
}
