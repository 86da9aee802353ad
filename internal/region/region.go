// Package region groups presence samples into spatially independent regions
// used as cross-validation folds.
package region

import (
	"math"
	"sort"

	"github.com/rotisserie/eris"

	"github.com/sells-group/habitat-cli/internal/grid"
	"github.com/sells-group/habitat-cli/internal/sample"
)

// ErrInvalidRadius is returned for negative or non-finite radii.
var ErrInvalidRadius = eris.New("region: invalid aggregation radius")

// Label connects every pair of samples at most radius apart and assigns one
// region id per connected component. Ids follow the index of each
// component's first sample, so the grouping is independent of input order
// while the numbering is reproducible for a given order. The input slice is
// not modified.
func Label(samples []sample.Sample, radius float64) ([]sample.Sample, error) {
	if radius < 0 || math.IsNaN(radius) || math.IsInf(radius, 0) {
		return nil, eris.Wrapf(ErrInvalidRadius, "region: radius %g", radius)
	}

	points := make([]grid.Point, len(samples))
	for i, s := range samples {
		points[i] = s.Point
	}

	ds := newDisjointSet(len(samples))
	idx := newSpatialIndex(radius)
	idx.build(points)

	r2 := radius * radius
	for i, p := range points {
		for _, j := range idx.neighbours(p) {
			if j <= i {
				continue
			}
			dx, dy := points[j].X-p.X, points[j].Y-p.Y
			if dx*dx+dy*dy <= r2 {
				ds.union(i, j)
			}
		}
	}

	ids := make(map[int]int)
	out := make([]sample.Sample, len(samples))
	for i, s := range samples {
		root := ds.find(i)
		id, ok := ids[root]
		if !ok {
			id = len(ids)
			ids[root] = id
		}
		s.Region = id
		out[i] = s
	}
	return out, nil
}

// Regions returns the sorted distinct region ids present in samples.
func Regions(samples []sample.Sample) []int {
	seen := make(map[int]struct{})
	for _, s := range samples {
		seen[s.Region] = struct{}{}
	}
	out := make([]int, 0, len(seen))
	for id := range seen {
		out = append(out, id)
	}
	sort.Ints(out)
	return out
}

// Sizes counts samples per region id.
func Sizes(samples []sample.Sample) map[int]int {
	out := make(map[int]int)
	for _, s := range samples {
		out[s.Region]++
	}
	return out
}

// disjointSet is an arena of union-find nodes indexed by sample position.
type disjointSet struct {
	parent []int
	rank   []int
}

func newDisjointSet(n int) *disjointSet {
	ds := &disjointSet{parent: make([]int, n), rank: make([]int, n)}
	for i := range ds.parent {
		ds.parent[i] = i
	}
	return ds
}

func (ds *disjointSet) find(x int) int {
	root := x
	for ds.parent[root] != root {
		root = ds.parent[root]
	}
	for ds.parent[x] != root {
		next := ds.parent[x]
		ds.parent[x] = root
		x = next
	}
	return root
}

func (ds *disjointSet) union(a, b int) {
	ra, rb := ds.find(a), ds.find(b)
	if ra == rb {
		return
	}
	switch {
	case ds.rank[ra] < ds.rank[rb]:
		ds.parent[ra] = rb
	case ds.rank[ra] > ds.rank[rb]:
		ds.parent[rb] = ra
	default:
		ds.parent[rb] = ra
		ds.rank[ra]++
	}
}

// spatialIndex buckets points into square cells of the query radius so a
// neighbourhood lookup only inspects the 3x3 block around a point.
type spatialIndex struct {
	cellSize float64
	buckets  map[[2]int64][]int
}

func newSpatialIndex(radius float64) *spatialIndex {
	return &spatialIndex{cellSize: radius, buckets: make(map[[2]int64][]int)}
}

func (si *spatialIndex) key(p grid.Point) [2]int64 {
	if si.cellSize == 0 {
		// Zero radius only joins coincident points; bucket by exact position.
		// Adding zero folds -0 into +0.
		return [2]int64{int64(math.Float64bits(p.X + 0)), int64(math.Float64bits(p.Y + 0))}
	}
	return [2]int64{int64(math.Floor(p.X / si.cellSize)), int64(math.Floor(p.Y / si.cellSize))}
}

func (si *spatialIndex) build(points []grid.Point) {
	for i, p := range points {
		k := si.key(p)
		si.buckets[k] = append(si.buckets[k], i)
	}
}

func (si *spatialIndex) neighbours(p grid.Point) []int {
	k := si.key(p)
	if si.cellSize == 0 {
		return si.buckets[k]
	}
	var out []int
	for dx := int64(-1); dx <= 1; dx++ {
		for dy := int64(-1); dy <= 1; dy++ {
			out = append(out, si.buckets[[2]int64{k[0] + dx, k[1] + dy}]...)
		}
	}
	return out
}
