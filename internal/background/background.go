// Package background draws absence samples from the predictor domain, either
// uniformly or by distance from the presence samples in principal-component
// space.
package background

import (
	"math/rand"
	"sort"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/habitat-cli/internal/grid"
	"github.com/sells-group/habitat-cli/internal/sample"
)

// ErrDegenerateSampling is attached to Result.Warning when fewer absences
// could be drawn than requested. It is never returned as an error.
var ErrDegenerateSampling = eris.New("background: candidate pool smaller than requested")

// Method selects how absence cells are chosen.
type Method string

const (
	MethodRandom          Method = "random"
	MethodFeatureDistance Method = "feature-distance"
)

// ParseMethod validates a method name from configuration.
func ParseMethod(s string) (Method, error) {
	switch Method(s) {
	case MethodRandom, MethodFeatureDistance:
		return Method(s), nil
	default:
		return "", eris.Errorf("background: unknown method %q", s)
	}
}

// Options tunes the sampler.
type Options struct {
	Method Method `yaml:"method" mapstructure:"method"`
	// Count overrides the total number of absences. Zero matches the
	// presence count.
	Count int   `yaml:"count" mapstructure:"count"`
	Seed  int64 `yaml:"seed" mapstructure:"seed"`

	// Components fixes the number of principal components. Zero selects
	// the smallest number reaching VarianceFraction.
	Components       int     `yaml:"components" mapstructure:"components"`
	VarianceFraction float64 `yaml:"variance_fraction" mapstructure:"variance_fraction"`
	// SeparationSigma places the eligibility threshold at the mean presence
	// distance plus this many standard deviations.
	SeparationSigma float64 `yaml:"separation_sigma" mapstructure:"separation_sigma"`
	// OutlierQuantile caps eligible distances at this quantile of all
	// candidate distances so extreme cells are not picked.
	OutlierQuantile float64 `yaml:"outlier_quantile" mapstructure:"outlier_quantile"`
	// MaxPCASamples bounds the number of cells the PCA is fitted on.
	MaxPCASamples int `yaml:"max_pca_samples" mapstructure:"max_pca_samples"`
}

// DefaultOptions returns the production defaults.
func DefaultOptions() Options {
	return Options{
		Method:           MethodFeatureDistance,
		Seed:             42,
		VarianceFraction: 0.95,
		SeparationSigma:  1.0,
		OutlierQuantile:  0.99,
		MaxPCASamples:    10000,
	}
}

// Validate checks option ranges.
func (o Options) Validate() error {
	if _, err := ParseMethod(string(o.Method)); err != nil {
		return err
	}
	if o.Count < 0 {
		return eris.New("background: count must be >= 0")
	}
	if o.Method == MethodFeatureDistance {
		if o.Components < 0 {
			return eris.New("background: components must be >= 0")
		}
		if o.Components == 0 && (o.VarianceFraction <= 0 || o.VarianceFraction > 1) {
			return eris.New("background: variance_fraction must be in (0, 1]")
		}
		if o.OutlierQuantile <= 0 || o.OutlierQuantile > 1 {
			return eris.New("background: outlier_quantile must be in (0, 1]")
		}
		if o.MaxPCASamples < 2 {
			return eris.New("background: max_pca_samples must be >= 2")
		}
	}
	return nil
}

// Result holds the drawn absences and the sampling diagnostics.
type Result struct {
	Samples   []sample.Sample `json:"samples"`
	Requested int             `json:"requested"`
	Available int             `json:"available"`
	// Relaxed counts absences taken below the separation threshold
	// because too few candidates cleared it.
	Relaxed    int   `json:"relaxed"`
	Components int   `json:"components,omitempty"`
	Degenerate bool  `json:"degenerate"`
	Warning    error `json:"-"`
}

// quota is the number of absences to draw for one region.
type quota struct {
	region int
	n      int
}

// Sample draws absence samples for the given presences. When presences carry
// region ids the absences are balanced per region; otherwise one global
// quota is used. Presence cells are never returned and no cell is drawn
// twice.
func Sample(presences []sample.Sample, stack *grid.Stack, opts Options) (*Result, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	if len(presences) == 0 {
		return nil, eris.New("background: no presence samples")
	}

	occupied := sample.CellSet(presences)
	var candidates []grid.CellID
	for _, c := range stack.ValidCells() {
		if _, ok := occupied[c]; !ok {
			candidates = append(candidates, c)
		}
	}

	quotas := regionQuotas(presences, opts.Count)
	requested := 0
	for _, q := range quotas {
		requested += q.n
	}

	rng := rand.New(rand.NewSource(opts.Seed))
	var (
		res *Result
		err error
	)
	switch opts.Method {
	case MethodRandom:
		res = sampleRandom(candidates, quotas, stack.Grid, rng)
	case MethodFeatureDistance:
		res, err = sampleFeatureDistance(presences, candidates, quotas, stack, opts, rng)
		if err != nil {
			return nil, err
		}
	}

	res.Requested = requested
	res.Available = len(candidates)
	if len(res.Samples) < requested {
		res.Degenerate = true
		res.Warning = eris.Wrapf(ErrDegenerateSampling,
			"background: drew %d of %d requested absences", len(res.Samples), requested)
		zap.L().Warn("background: degenerate sampling",
			zap.String("method", string(opts.Method)),
			zap.Int("requested", requested),
			zap.Int("drawn", len(res.Samples)),
			zap.Int("candidates", len(candidates)),
		)
	}
	return res, nil
}

// regionQuotas splits total across regions in proportion to their presence
// counts. Unlabeled presences share a single quota.
func regionQuotas(presences []sample.Sample, total int) []quota {
	if total == 0 {
		total = len(presences)
	}
	if !sample.Labeled(presences) {
		return []quota{{region: sample.NoRegion, n: total}}
	}

	counts := sample.RegionCounts(presences)
	regions := make([]int, 0, len(counts))
	for r := range counts {
		regions = append(regions, r)
	}
	sort.Ints(regions)

	out := make([]quota, len(regions))
	assigned := 0
	for i, r := range regions {
		n := counts[r] * total / len(presences)
		out[i] = quota{region: r, n: n}
		assigned += n
	}
	// Hand the integer-division remainder to the first regions.
	for i := 0; assigned < total; i = (i + 1) % len(out) {
		out[i].n++
		assigned++
	}
	return out
}

func absence(g grid.Grid, c grid.CellID, region int) sample.Sample {
	return sample.Sample{
		Cell:   c,
		Point:  g.CoordinateOf(c),
		Class:  sample.Absence,
		Region: region,
	}
}

// sampleRandom draws uniformly without replacement.
func sampleRandom(candidates []grid.CellID, quotas []quota, g grid.Grid, rng *rand.Rand) *Result {
	order := rng.Perm(len(candidates))
	res := &Result{}
	next := 0
	for _, q := range quotas {
		for k := 0; k < q.n && next < len(order); k++ {
			res.Samples = append(res.Samples, absence(g, candidates[order[next]], q.region))
			next++
		}
	}
	return res
}
