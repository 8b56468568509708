// Package apply folds pending updates into cell and global state.
package apply

import (
	"fmt"

	"cellsim/internal/model"
)

type Stats struct {
	Applied int
	// Dropped counts updates naming a field the target cell does not have.
	Dropped int
}

func (s Stats) Add(other Stats) Stats {
	return Stats{Applied: s.Applied + other.Applied, Dropped: s.Dropped + other.Dropped}
}

// Cells applies updates in input order to a copy of cells. Each update sees
// the result of every earlier update in the list.
func Cells[C model.Cell[C]](cells []C, updates []model.CellUpdate) ([]C, Stats) {
	out := append([]C(nil), cells...)
	var stats Stats
	for _, u := range updates {
		if u.Target.Int() >= len(out) {
			panic(fmt.Errorf("%w: update %s targets %d of %d cells", model.ErrIndexOutOfRange, u, u.Target, len(out)))
		}
		next, ok := out[u.Target].Apply(u)
		if !ok {
			stats.Dropped++
			continue
		}
		out[u.Target] = next
		stats.Applied++
	}
	return out, stats
}

// Global folds updates over the global record in input order.
func Global[G any](global G, updates []model.GlobalUpdate[G]) G {
	for _, u := range updates {
		if u.Action == nil {
			continue
		}
		global = u.Action(global)
	}
	return global
}
