// Package network derives the per-iteration neighbour relation from cell
// positions.
//
// The brute force deriver evaluates every ordered pair of cells, O(N²)
// geodesic distances per iteration. That is the scalability ceiling of the
// kernel; IndexRTree narrows the candidates but keeps the exact predicate and
// the collection ordering of every neighbour list.
package network

import (
	"errors"
	"fmt"
	"math"

	"github.com/tidwall/geodesic"
	"golang.org/x/sync/errgroup"

	"cellsim/internal/model"
)

type IndexKind string

const (
	IndexBruteForce IndexKind = "brute_force"
	IndexRTree      IndexKind = "rtree"
)

type Config struct {
	// ThresholdMeters is the largest geodesic distance at which two cells
	// are neighbours. It has no default; +Inf makes every pair adjacent.
	ThresholdMeters float64
	Index           IndexKind
	// Workers > 1 derives disjoint index ranges concurrently.
	Workers int
}

func (c Config) Validate() error {
	if math.IsNaN(c.ThresholdMeters) || c.ThresholdMeters <= 0 {
		return fmt.Errorf("threshold must be > 0 meters, got %v", c.ThresholdMeters)
	}
	switch c.Index {
	case "", IndexBruteForce, IndexRTree:
	default:
		return fmt.Errorf("unsupported network index: %s", c.Index)
	}
	if c.Workers < 0 {
		return errors.New("workers must be >= 0")
	}
	return nil
}

// Deriver computes neighbour networks. It holds configuration only, so a
// single Deriver can be shared across iterations.
type Deriver[C model.Cell[C]] struct {
	cfg Config
}

func NewDeriver[C model.Cell[C]](cfg Config) (*Deriver[C], error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.Index == "" {
		cfg.Index = IndexBruteForce
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	return &Deriver[C]{cfg: cfg}, nil
}

func (d *Deriver[C]) Config() Config { return d.cfg }

// Distance returns the WGS84 geodesic distance between two positions in meters.
func Distance(a, b model.Position) float64 {
	var s12 float64
	geodesic.WGS84.Inverse(a.Lat, a.Lon, b.Lat, b.Lon, &s12, nil, nil)
	return s12
}

// Adjacent reports whether b belongs in a's neighbour list.
func (d *Deriver[C]) Adjacent(a, b C) bool {
	if a.ID() == b.ID() {
		return false
	}
	return Distance(a.Position(), b.Position()) <= d.cfg.ThresholdMeters
}

// Derive returns, for every cell in collection order, the indices of its
// neighbours in collection order.
func (d *Deriver[C]) Derive(cells []C) model.Network {
	network := make(model.Network, len(cells))
	if len(cells) == 0 {
		return network
	}

	var candidates func(i int) []int
	if d.cfg.Index == IndexRTree && !math.IsInf(d.cfg.ThresholdMeters, 1) {
		idx := newSpatialIndex(cells, d.cfg.ThresholdMeters)
		candidates = idx.candidates
	}

	derive := func(lo, hi int) {
		for i := lo; i < hi; i++ {
			network[i] = d.neighbours(cells, i, candidates)
		}
	}

	workers := d.cfg.Workers
	if workers <= 1 || len(cells) < 2*workers {
		derive(0, len(cells))
		return network
	}

	var g errgroup.Group
	for _, r := range Ranges(len(cells), workers) {
		g.Go(func() error {
			derive(r.Lo, r.Hi)
			return nil
		})
	}
	_ = g.Wait()
	return network
}

func (d *Deriver[C]) neighbours(cells []C, i int, candidates func(int) []int) []model.CellIndex {
	out := make([]model.CellIndex, 0)
	cell := cells[i]
	if candidates == nil {
		for _, other := range cells {
			if d.Adjacent(cell, other) {
				out = append(out, other.ID())
			}
		}
		return out
	}
	for _, j := range candidates(i) {
		if d.Adjacent(cell, cells[j]) {
			out = append(out, cells[j].ID())
		}
	}
	return out
}

// Range is a half-open span of cell offsets.
type Range struct {
	Lo, Hi int
}

// Ranges splits n items into at most parts contiguous spans in order.
func Ranges(n, parts int) []Range {
	if n <= 0 {
		return nil
	}
	if parts <= 1 || parts > n {
		parts = min(max(parts, 1), n)
	}
	size := n / parts
	rem := n % parts
	out := make([]Range, 0, parts)
	lo := 0
	for p := 0; p < parts; p++ {
		hi := lo + size
		if p < rem {
			hi++
		}
		out = append(out, Range{Lo: lo, Hi: hi})
		lo = hi
	}
	return out
}
