// Package demo holds an example population model built on the kernel: a cell
// type, a global record and a handful of processes. The CLI and tests drive
// the engine with it.
package demo

import (
	"math/rand"

	"cellsim/internal/model"
)

type Cell struct {
	Index                model.CellIndex `json:"id"`
	Pos                  model.Position  `json:"position"`
	Population           uint32          `json:"population"`
	PopulationAttraction float64         `json:"population_attraction"`
	ResidentialCapacity  uint32          `json:"residential_capacity"`
	PopulationBirthRate  float64         `json:"population_birth_rate"`
	PopulationDeathRate  float64         `json:"population_death_rate"`
}

// NewCell returns a cell with the model defaults.
func NewCell(id uint32, pos model.Position, population uint32) Cell {
	return Cell{
		Index:                model.CellIndex(id),
		Pos:                  pos,
		Population:           population,
		PopulationAttraction: 1.0,
		PopulationBirthRate:  1.0,
	}
}

var CellFields = model.NewFieldTable(
	model.ReadOnlyField("id", model.FieldUint, func(c Cell) model.Value { return model.Int(int64(c.Index)) }),
	model.NumberField("population", func(c *Cell) *uint32 { return &c.Population }),
	model.NumberField("population_attraction", func(c *Cell) *float64 { return &c.PopulationAttraction }),
	model.NumberField("residential_capacity", func(c *Cell) *uint32 { return &c.ResidentialCapacity }),
	model.NumberField("population_birth_rate", func(c *Cell) *float64 { return &c.PopulationBirthRate }),
	model.NumberField("population_death_rate", func(c *Cell) *float64 { return &c.PopulationDeathRate }),
)

func (c Cell) ID() model.CellIndex      { return c.Index }
func (c Cell) Position() model.Position { return c.Pos }

func (c Cell) Apply(u model.CellUpdate) (Cell, bool) {
	return CellFields.Apply(c, u)
}

// Randomize seeds population and capacity for a fresh map.
func Randomize(rng *rand.Rand, c Cell) Cell {
	c.Population = uint32(rng.Intn(200))
	c.ResidentialCapacity = 100 + uint32(rng.Intn(100))
	c.PopulationDeathRate = rng.Float64() * 0.2
	return c
}

type Global struct {
	IterationCount uint32 `json:"iterations"`
	Population     uint32 `json:"population"`
}

var GlobalFields = model.NewFieldTable(
	model.NumberField("iterations", func(g *Global) *uint32 { return &g.IterationCount }),
	model.NumberField("population", func(g *Global) *uint32 { return &g.Population }),
)

func (g Global) Iterations() uint32 { return g.IterationCount }

func (g Global) WithIterations(n uint32) Global {
	g.IterationCount = n
	return g
}

// Grid lays out rows*cols cells spaced step degrees apart from origin.
func Grid(rows, cols int, origin model.Position, step float64, population uint32) []Cell {
	cells := make([]Cell, 0, rows*cols)
	for r := 0; r < rows; r++ {
		for c := 0; c < cols; c++ {
			pos := model.Position{Lon: origin.Lon + float64(c)*step, Lat: origin.Lat + float64(r)*step}
			cells = append(cells, NewCell(uint32(len(cells)), pos, population))
		}
	}
	return cells
}
