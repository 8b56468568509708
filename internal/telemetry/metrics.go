// Package telemetry exports engine iteration summaries as Prometheus metrics.
package telemetry

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"

	"cellsim/internal/engine"
)

const namespace = "cellsim"

// Collector implements engine.Observer.
type Collector struct {
	iterations    *prometheus.CounterVec
	duration      *prometheus.HistogramVec
	cellUpdates   *prometheus.CounterVec
	globalUpdates *prometheus.CounterVec
	dropped       prometheus.Counter
	cells         prometheus.Gauge
	edges         prometheus.Gauge
	totals        *prometheus.GaugeVec
}

// NewCollector registers the engine metrics on reg.
func NewCollector(reg prometheus.Registerer) (*Collector, error) {
	c := &Collector{
		iterations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "engine",
				Name:      "iterations_total",
				Help:      "Completed passes, split by setup and regular iterations.",
			},
			[]string{"setup"},
		),
		duration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "engine",
				Name:      "iteration_duration_seconds",
				Help:      "Wall time of one pass in seconds.",
				Buckets:   prometheus.ExponentialBuckets(0.0005, 4, 10),
			},
			[]string{"setup"},
		),
		cellUpdates: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "engine",
				Name:      "cell_updates_total",
				Help:      "Cell updates emitted by cell processes.",
			},
			[]string{"setup"},
		),
		globalUpdates: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "engine",
				Name:      "global_updates_total",
				Help:      "Global updates emitted by cell and global processes.",
			},
			[]string{"setup"},
		),
		dropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "engine",
			Name:      "dropped_updates_total",
			Help:      "Cell updates naming a field the target cell does not have.",
		}),
		cells: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "engine",
			Name:      "cells",
			Help:      "Cells in the most recent pass.",
		}),
		edges: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "network",
			Name:      "edges",
			Help:      "Directed neighbour edges in the most recent network.",
		}),
		totals: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "model",
				Name:      "total",
				Help:      "Aggregate values reported by the model after the most recent pass.",
			},
			[]string{"name"},
		),
	}
	for _, col := range []prometheus.Collector{
		c.iterations, c.duration, c.cellUpdates, c.globalUpdates, c.dropped, c.cells, c.edges, c.totals,
	} {
		if err := reg.Register(col); err != nil {
			return nil, err
		}
	}
	return c, nil
}

func (c *Collector) ObserveIteration(s engine.IterationSummary) {
	setup := strconv.FormatBool(s.Setup)
	c.iterations.WithLabelValues(setup).Inc()
	c.duration.WithLabelValues(setup).Observe(s.Duration.Seconds())
	c.cellUpdates.WithLabelValues(setup).Add(float64(s.CellUpdates))
	c.globalUpdates.WithLabelValues(setup).Add(float64(s.GlobalUpdates))
	c.dropped.Add(float64(s.Dropped))
	c.cells.Set(float64(s.Cells))
	c.edges.Set(float64(s.Edges))
	for name, v := range s.Totals {
		c.totals.WithLabelValues(name).Set(v)
	}
}

var _ engine.Observer = (*Collector)(nil)
