package engine

import "time"

// IterationSummary describes one completed pass. Setup passes carry
// Iteration 0 and Setup true.
type IterationSummary struct {
	Iteration     int
	Setup         bool
	Cells         int
	Edges         int
	CellUpdates   int
	GlobalUpdates int
	// Dropped counts cell updates naming a field the target does not have.
	Dropped  int
	Duration time.Duration
	Totals   map[string]float64
}

// Observer receives a summary after every setup pass and iteration.
type Observer interface {
	ObserveIteration(IterationSummary)
}

type NopObserver struct{}

func (NopObserver) ObserveIteration(IterationSummary) {}

// Observers fans a summary out to several observers in order.
type Observers []Observer

func (o Observers) ObserveIteration(s IterationSummary) {
	for _, obs := range o {
		if obs != nil {
			obs.ObserveIteration(s)
		}
	}
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(IterationSummary)

func (f ObserverFunc) ObserveIteration(s IterationSummary) { f(s) }
