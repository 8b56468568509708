package process

import (
	"fmt"

	"cellsim/internal/model"
)

// GlobalFunc aggregates over the whole cell collection. It never sees the
// neighbour network.
type GlobalFunc[C model.Cell[C], G any] func(cells []C, global G) []model.GlobalUpdate[G]

type GlobalProcess[C model.Cell[C], G any] struct {
	ID   uint32
	Name string
	Func GlobalFunc[C, G]
}

func (p GlobalProcess[C, G]) String() string {
	if p.Name != "" {
		return p.Name
	}
	return fmt.Sprintf("global-process-%d", p.ID)
}

// RunGlobal evaluates global processes in registration order and concatenates
// their updates.
func RunGlobal[C model.Cell[C], G any](cells []C, processes []GlobalProcess[C, G], global G) []model.GlobalUpdate[G] {
	var out []model.GlobalUpdate[G]
	for _, p := range processes {
		if p.Func == nil {
			continue
		}
		out = append(out, p.Func(cells, global)...)
	}
	return out
}

// CountIterations advances the global iteration counter by one. The engine
// never does this on its own.
func CountIterations[C model.Cell[C], G model.IterationCounter[G]]() GlobalProcess[C, G] {
	return GlobalProcess[C, G]{Name: "count_iterations", Func: func(_ []C, _ G) []model.GlobalUpdate[G] {
		return []model.GlobalUpdate[G]{
			model.NewGlobalUpdate("count_iterations", func(g G) G {
				return g.WithIterations(g.Iterations() + 1)
			}),
		}
	}}
}

// Names lists process names in registration order.
func Names[P fmt.Stringer](processes []P) []string {
	out := make([]string, len(processes))
	for i, p := range processes {
		out[i] = p.String()
	}
	return out
}
