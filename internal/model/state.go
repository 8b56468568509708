package model

import (
	"fmt"
	"strconv"
)

// CellIndex identifies a cell and doubles as its offset in the cell slice.
type CellIndex uint32

func (i CellIndex) Int() int { return int(i) }

func (i CellIndex) String() string { return strconv.FormatUint(uint64(i), 10) }

// Position is a longitude/latitude pair in degrees.
type Position struct {
	Lon float64 `json:"lon" toml:"lon"`
	Lat float64 `json:"lat" toml:"lat"`
}

// Cell is the capability set the kernel needs from a cell type. Apply returns
// the replacement cell and whether the update named a known field.
type Cell[C any] interface {
	ID() CellIndex
	Position() Position
	Apply(u CellUpdate) (C, bool)
}

// IterationCounter is implemented by global records that track how many
// iterations have run.
type IterationCounter[G any] interface {
	Iterations() uint32
	WithIterations(n uint32) G
}

// Network maps each cell index to its neighbours for one iteration.
type Network [][]CellIndex

func (n Network) Neighbours(i CellIndex) []CellIndex {
	if i.Int() >= len(n) {
		panic(fmt.Errorf("%w: network has no entry for %d (len %d)", ErrIndexOutOfRange, i, len(n)))
	}
	return n[i]
}

// Ints renders the network with plain integers for hosts.
func (n Network) Ints() [][]uint32 {
	out := make([][]uint32, len(n))
	for i, ids := range n {
		row := make([]uint32, len(ids))
		for j, id := range ids {
			row[j] = uint32(id)
		}
		out[i] = row
	}
	return out
}

func (n Network) Edges() int {
	total := 0
	for _, ids := range n {
		total += len(ids)
	}
	return total
}

type IterationState[C Cell[C], G any] struct {
	Cells   []C
	Global  G
	Network Network
}

// CheckIndexes verifies that every cell sits at the offset named by its ID.
func CheckIndexes[C Cell[C]](cells []C) error {
	for i, c := range cells {
		if c.ID().Int() != i {
			return fmt.Errorf("cell at offset %d has id %d", i, c.ID())
		}
	}
	return nil
}
