package network

import (
	"math"
	"sort"

	"github.com/ctessum/geom"
	"github.com/ctessum/geom/index/rtree"

	"cellsim/internal/model"
)

const (
	// Lower bounds on the WGS84 arc length of one degree, used to widen
	// query boxes so they never miss a neighbour.
	metersPerDegreeLat = 110_000.0
	metersPerDegreeLon = 111_000.0

	pointPad = 1e-9
)

type indexedCell struct {
	geom.Polygonal
	offset int
}

// spatialIndex prefilters neighbour candidates with an R-tree over cell
// positions. The exact geodesic predicate is still applied to every
// candidate.
type spatialIndex struct {
	tree      *rtree.Rtree
	positions []model.Position
	threshold float64
}

func newSpatialIndex[C model.Cell[C]](cells []C, thresholdMeters float64) *spatialIndex {
	idx := &spatialIndex{
		tree:      rtree.NewTree(25, 50),
		positions: make([]model.Position, len(cells)),
		threshold: thresholdMeters,
	}
	for i, c := range cells {
		p := c.Position()
		idx.positions[i] = p
		idx.tree.Insert(&indexedCell{
			Polygonal: &geom.Bounds{
				Min: geom.Point{X: p.Lon - pointPad, Y: p.Lat - pointPad},
				Max: geom.Point{X: p.Lon + pointPad, Y: p.Lat + pointPad},
			},
			offset: i,
		})
	}
	return idx
}

// candidates returns the offsets that may lie within the threshold of cell i,
// ascending.
func (idx *spatialIndex) candidates(i int) []int {
	hits := idx.tree.SearchIntersect(idx.queryBox(idx.positions[i]))
	out := make([]int, 0, len(hits))
	for _, h := range hits {
		out = append(out, h.(*indexedCell).offset)
	}
	sort.Ints(out)
	return out
}

func (idx *spatialIndex) queryBox(p model.Position) *geom.Bounds {
	dLat := idx.threshold / metersPerDegreeLat
	minLat, maxLat := p.Lat-dLat, p.Lat+dLat
	minLon, maxLon := -180.0, 180.0

	edge := math.Max(math.Abs(minLat), math.Abs(maxLat))
	if edge < 89 {
		dLon := idx.threshold / (metersPerDegreeLon * math.Cos(edge*math.Pi/180))
		if p.Lon-dLon >= -180 && p.Lon+dLon <= 180 {
			minLon, maxLon = p.Lon-dLon, p.Lon+dLon
		}
	}
	return &geom.Bounds{
		Min: geom.Point{X: minLon - pointPad, Y: math.Max(minLat, -90) - pointPad},
		Max: geom.Point{X: maxLon + pointPad, Y: math.Min(maxLat, 90) + pointPad},
	}
}
