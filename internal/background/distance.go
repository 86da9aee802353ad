package background

import (
	"math"
	"math/rand"
	"sort"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"

	"github.com/sells-group/habitat-cli/internal/grid"
	"github.com/sells-group/habitat-cli/internal/sample"
)

// featureSpace is the standardized, PCA-projected view of every valid cell.
type featureSpace struct {
	rows       map[grid.CellID]int
	proj       *mat.Dense
	components int
}

func (fs *featureSpace) point(c grid.CellID) ([]float64, bool) {
	i, ok := fs.rows[c]
	if !ok {
		return nil, false
	}
	return fs.proj.RawRowView(i), true
}

// buildFeatureSpace z-scores every band over the valid cells, fits a PCA on
// at most opts.MaxPCASamples of them and projects all valid cells onto the
// retained components.
func buildFeatureSpace(stack *grid.Stack, opts Options, rng *rand.Rand) (*featureSpace, error) {
	cells := stack.ValidCells()
	n, d := len(cells), stack.NumBands()
	if n == 0 {
		return nil, eris.New("background: predictor stack has no valid cells")
	}

	z := mat.NewDense(n, d, nil)
	rows := make(map[grid.CellID]int, n)
	for i, c := range cells {
		z.SetRow(i, stack.Features(c))
		rows[c] = i
	}
	col := make([]float64, n)
	for j := 0; j < d; j++ {
		mat.Col(col, j, z)
		mean, sd := stat.MeanStdDev(col, nil)
		if sd == 0 || math.IsNaN(sd) {
			sd = 1
		}
		for i := range col {
			z.Set(i, j, (col[i]-mean)/sd)
		}
	}

	if n < 2 {
		return &featureSpace{rows: rows, proj: z, components: d}, nil
	}

	fit := mat.Matrix(z)
	if n > opts.MaxPCASamples {
		pick := rng.Perm(n)[:opts.MaxPCASamples]
		sort.Ints(pick)
		sub := mat.NewDense(len(pick), d, nil)
		for i, r := range pick {
			sub.SetRow(i, z.RawRowView(r))
		}
		fit = sub
	}

	var pc stat.PC
	if ok := pc.PrincipalComponents(fit, nil); !ok {
		return nil, eris.New("background: principal component analysis failed")
	}
	var vecs mat.Dense
	pc.VectorsTo(&vecs)
	vars := pc.VarsTo(nil)

	k := chooseComponents(vars, opts)
	_, vc := vecs.Dims()
	if k > vc {
		k = vc
	}

	proj := mat.NewDense(n, k, nil)
	proj.Mul(z, vecs.Slice(0, d, 0, k))
	return &featureSpace{rows: rows, proj: proj, components: k}, nil
}

// chooseComponents returns the fixed component count or the smallest count
// whose cumulative variance reaches opts.VarianceFraction. vars is sorted
// in descending order.
func chooseComponents(vars []float64, opts Options) int {
	if len(vars) == 0 {
		return 0
	}
	if opts.Components > 0 {
		if opts.Components > len(vars) {
			return len(vars)
		}
		return opts.Components
	}
	total := floats.Sum(vars)
	if total <= 0 {
		return 1
	}
	var acc float64
	for i, v := range vars {
		acc += v
		if acc/total >= opts.VarianceFraction-1e-12 {
			return i + 1
		}
	}
	return len(vars)
}

// regionStats describes the presence cloud of one region in feature space.
type regionStats struct {
	centroid  []float64
	threshold float64
}

// presenceStats computes the centroid and separation threshold of every
// quota's presence cloud. Regions with fewer than two projected presences
// borrow the pooled spread.
func presenceStats(presences []sample.Sample, quotas []quota, fs *featureSpace, sigma float64) (map[int]regionStats, error) {
	byRegion := make(map[int][][]float64)
	var all [][]float64
	for _, p := range presences {
		v, ok := fs.point(p.Cell)
		if !ok {
			continue
		}
		byRegion[p.Region] = append(byRegion[p.Region], v)
		all = append(all, v)
	}
	if len(all) == 0 {
		return nil, eris.New("background: no presence sample lies on valid predictor cells")
	}

	type cloud struct {
		centroid []float64
		dists    []float64
	}
	clouds := make(map[int]cloud, len(quotas))
	var pooled []float64
	for _, q := range quotas {
		pts := all
		if q.region != sample.NoRegion && len(byRegion[q.region]) > 0 {
			pts = byRegion[q.region]
		}
		c := centroid(pts)
		dists := make([]float64, len(pts))
		for i, p := range pts {
			dists[i] = floats.Distance(p, c, 2)
		}
		clouds[q.region] = cloud{centroid: c, dists: dists}
		pooled = append(pooled, dists...)
	}

	pooledSD := 0.0
	if len(pooled) > 1 {
		_, pooledSD = stat.MeanStdDev(pooled, nil)
	}

	out := make(map[int]regionStats, len(clouds))
	for region, c := range clouds {
		mean := stat.Mean(c.dists, nil)
		sd := pooledSD
		if len(c.dists) > 1 {
			_, sd = stat.MeanStdDev(c.dists, nil)
		}
		out[region] = regionStats{centroid: c.centroid, threshold: mean + sigma*sd}
	}
	return out, nil
}

func centroid(pts [][]float64) []float64 {
	c := make([]float64, len(pts[0]))
	for _, p := range pts {
		floats.Add(c, p)
	}
	floats.Scale(1/float64(len(pts)), c)
	return c
}

type scored struct {
	idx  int
	dist float64
}

// sampleFeatureDistance prefers candidates farther from each region's
// presence centroid than the separation threshold and no farther than the
// outlier quantile. Shortfalls are topped up from the remaining candidates,
// closest to the eligible band first.
func sampleFeatureDistance(presences []sample.Sample, candidates []grid.CellID, quotas []quota,
	stack *grid.Stack, opts Options, rng *rand.Rand) (*Result, error) {
	fs, err := buildFeatureSpace(stack, opts, rng)
	if err != nil {
		return nil, err
	}
	stats, err := presenceStats(presences, quotas, fs, opts.SeparationSigma)
	if err != nil {
		return nil, err
	}

	res := &Result{Components: fs.components}
	used := make([]bool, len(candidates))
	for _, q := range quotas {
		st := stats[q.region]

		var pool []scored
		for i, c := range candidates {
			if used[i] {
				continue
			}
			v, _ := fs.point(c)
			pool = append(pool, scored{idx: i, dist: floats.Distance(v, st.centroid, 2)})
		}
		if len(pool) == 0 {
			break
		}

		sorted := make([]float64, len(pool))
		for i, s := range pool {
			sorted[i] = s.dist
		}
		sort.Float64s(sorted)
		limit := stat.Quantile(opts.OutlierQuantile, stat.Empirical, sorted, nil)

		var eligible, below, beyond []scored
		for _, s := range pool {
			switch {
			case s.dist > limit:
				beyond = append(beyond, s)
			case s.dist > st.threshold:
				eligible = append(eligible, s)
			default:
				below = append(below, s)
			}
		}
		rng.Shuffle(len(eligible), func(i, j int) { eligible[i], eligible[j] = eligible[j], eligible[i] })
		sort.SliceStable(below, func(i, j int) bool { return below[i].dist > below[j].dist })
		sort.SliceStable(beyond, func(i, j int) bool { return beyond[i].dist < beyond[j].dist })

		taken := 0
		take := func(list []scored, relaxed bool) {
			for _, s := range list {
				if taken == q.n {
					return
				}
				used[s.idx] = true
				res.Samples = append(res.Samples, absence(stack.Grid, candidates[s.idx], q.region))
				taken++
				if relaxed {
					res.Relaxed++
				}
			}
		}
		take(eligible, false)
		take(below, true)
		take(beyond, true)

		zap.L().Debug("background: region sampled",
			zap.Int("region", q.region),
			zap.Int("quota", q.n),
			zap.Int("eligible", len(eligible)),
			zap.Float64("threshold", st.threshold),
			zap.Float64("outlier_limit", limit),
		)
	}

	if res.Relaxed > 0 {
		zap.L().Info("background: relaxed separation threshold",
			zap.Int("relaxed", res.Relaxed),
			zap.Int("drawn", len(res.Samples)),
		)
	}
	return res, nil
}
