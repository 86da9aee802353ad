// Package suitability trains presence/absence classifiers with
// leave-one-region-out cross-validation and produces a probability surface
// over the predictor grid.
package suitability

import (
	"context"
	"math"
	"math/rand"
	"sort"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"gonum.org/v1/gonum/mat"

	"github.com/sells-group/habitat-cli/internal/classifier"
	"github.com/sells-group/habitat-cli/internal/grid"
	"github.com/sells-group/habitat-cli/internal/sample"
)

var (
	// ErrInsufficientRegions is returned when fewer than two presence
	// regions exist; leave-one-out needs at least two folds.
	ErrInsufficientRegions = eris.New("suitability: at least two regions are required")
	// ErrNoAbsences is returned when the absence matrix is empty.
	ErrNoAbsences = eris.New("suitability: no absence samples")
)

// SurfaceMode selects how the returned surface is produced.
type SurfaceMode string

const (
	// SurfaceMean averages the fold models' predictions.
	SurfaceMean SurfaceMode = "mean"
	// SurfaceFinal retrains one model on every sample.
	SurfaceFinal SurfaceMode = "final"
)

// ParseSurfaceMode validates a mode name from configuration.
func ParseSurfaceMode(s string) (SurfaceMode, error) {
	switch SurfaceMode(s) {
	case SurfaceMean, SurfaceFinal:
		return SurfaceMode(s), nil
	default:
		return "", eris.Errorf("suitability: unknown surface mode %q", s)
	}
}

// Dataset holds the training features. Regions[i] is the region of
// Presence row i.
type Dataset struct {
	Presence *mat.Dense
	Regions  []int
	Absence  *mat.Dense
}

// FoldResult is the outcome of one held-out region.
type FoldResult struct {
	Region         int `json:"region"`
	TrainPresences int `json:"train_presences"`
	TrainAbsences  int `json:"train_absences"`
	ValPresences   int `json:"val_presences"`
	ValAbsences    int `json:"val_absences"`
	// Presence is the validation tally with presence as the positive class.
	Presence Counts `json:"presence"`
	// Predictions holds the held-out probabilities, presences first.
	Predictions []float64             `json:"-"`
	Model       classifier.Classifier `json:"-"`
}

// Result is the trained surface with its cross-validation record.
type Result struct {
	Surface *grid.Raster
	Folds   []FoldResult
	Scores  ScoreTable
	Mode    SurfaceMode
}

// Trainer runs the cross-validation.
type Trainer struct {
	NewClassifier classifier.Factory
	// Threshold turns a probability into a presence prediction (p >= Threshold).
	Threshold   float64
	Seed        int64
	Workers     int
	SurfaceMode SurfaceMode
}

// NewTrainer returns a Trainer with the default threshold and mode.
func NewTrainer(factory classifier.Factory) *Trainer {
	return &Trainer{
		NewClassifier: factory,
		Threshold:     0.5,
		Seed:          42,
		Workers:       4,
		SurfaceMode:   SurfaceMean,
	}
}

func (t *Trainer) validate(ds Dataset) ([]int, error) {
	if t.NewClassifier == nil {
		return nil, eris.New("suitability: no classifier factory")
	}
	if _, err := ParseSurfaceMode(string(t.SurfaceMode)); err != nil {
		return nil, err
	}
	if ds.Presence == nil {
		return nil, eris.New("suitability: no presence samples")
	}
	np, d := ds.Presence.Dims()
	if len(ds.Regions) != np {
		return nil, eris.Errorf("suitability: %d region ids for %d presences", len(ds.Regions), np)
	}
	if ds.Absence == nil {
		return nil, ErrNoAbsences
	}
	if na, da := ds.Absence.Dims(); na == 0 {
		return nil, ErrNoAbsences
	} else if da != d {
		return nil, eris.Errorf("suitability: presence has %d features, absence %d", d, da)
	}

	seen := make(map[int]struct{})
	for _, r := range ds.Regions {
		seen[r] = struct{}{}
	}
	regions := make([]int, 0, len(seen))
	for r := range seen {
		regions = append(regions, r)
	}
	sort.Ints(regions)
	if len(regions) < 2 {
		return nil, eris.Wrapf(ErrInsufficientRegions, "suitability: found %d region(s)", len(regions))
	}
	return regions, nil
}

// Train holds out each region in turn, fits a fresh classifier on the rest
// and scores it on the held-out presences plus a balanced draw of absences.
// When stack is non-nil a probability surface is produced over its valid
// cells; other cells are NaN.
func (t *Trainer) Train(ctx context.Context, ds Dataset, stack *grid.Stack) (*Result, error) {
	regions, err := t.validate(ds)
	if err != nil {
		return nil, err
	}

	var (
		cells   []grid.CellID
		cellX   *mat.Dense
		wantSum = stack != nil && t.SurfaceMode == SurfaceMean
	)
	if stack != nil {
		cells, cellX = StackFeatures(stack)
	}

	workers := t.Workers
	if workers <= 0 {
		workers = 1
	}

	folds := make([]FoldResult, len(regions))
	// Per-fold surface predictions, summed in region order after Wait so
	// the mean does not depend on goroutine scheduling.
	preds := make([][]float64, len(regions))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for i, r := range regions {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			fold, err := t.runFold(ds, r)
			if err != nil {
				return err
			}
			if wantSum && len(cells) > 0 {
				p, err := fold.Model.PredictProba(cellX)
				if err != nil {
					return eris.Wrapf(err, "suitability: predict surface for region %d", r)
				}
				preds[i] = p
			}
			folds[i] = *fold

			zap.L().Debug("suitability: fold complete",
				zap.Int("region", r),
				zap.Int("val_presences", fold.ValPresences),
				zap.Int("val_absences", fold.ValAbsences),
				zap.Int("tp", fold.Presence.TP),
				zap.Int("fp", fold.Presence.FP),
				zap.Int("fn", fold.Presence.FN),
			)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	res := &Result{Folds: folds, Scores: PooledScores(folds), Mode: t.SurfaceMode}
	for _, w := range res.Scores.Warnings() {
		zap.L().Warn("suitability: undefined score", zap.Error(w))
	}

	if stack != nil {
		surface := grid.NewRaster(stack.Grid, math.NaN())
		switch t.SurfaceMode {
		case SurfaceMean:
			sum := make([]float64, len(cells))
			for _, p := range preds {
				for k, v := range p {
					sum[k] += v
				}
			}
			for k, c := range cells {
				surface.Set(c, sum[k]/float64(len(folds)))
			}
		case SurfaceFinal:
			p, err := t.fitAll(ds, cellX)
			if err != nil {
				return nil, err
			}
			for k, c := range cells {
				surface.Set(c, p[k])
			}
		}
		res.Surface = surface
	}

	presence, _ := res.Scores.Row(sample.Presence)
	zap.L().Info("suitability: cross-validation complete",
		zap.Int("folds", len(folds)),
		zap.Float64("presence_f1", presence.F1),
		zap.String("surface", string(t.SurfaceMode)),
	)
	return res, nil
}

// runFold trains on every region but r.
func (t *Trainer) runFold(ds Dataset, r int) (*FoldResult, error) {
	np, _ := ds.Presence.Dims()
	na, _ := ds.Absence.Dims()

	var valP, trainP []int
	for i := 0; i < np; i++ {
		if ds.Regions[i] == r {
			valP = append(valP, i)
		} else {
			trainP = append(trainP, i)
		}
	}

	// Keep at least one absence for training.
	nValA := len(valP)
	if nValA > na-1 {
		nValA = na - 1
	}
	rng := rand.New(rand.NewSource(t.Seed + int64(r)))
	perm := rng.Perm(na)
	valA, trainA := perm[:nValA], perm[nValA:]

	trainX, trainY := stackRows(ds.Presence, trainP, ds.Absence, trainA)
	model := t.NewClassifier()
	if err := model.Fit(trainX, trainY); err != nil {
		return nil, eris.Wrapf(err, "suitability: fit fold for region %d", r)
	}

	valX, valY := stackRows(ds.Presence, valP, ds.Absence, valA)
	p, err := model.PredictProba(valX)
	if err != nil {
		return nil, eris.Wrapf(err, "suitability: predict fold for region %d", r)
	}

	var c Counts
	for i, prob := range p {
		predicted := prob >= t.Threshold
		switch {
		case valY[i] == 1 && predicted:
			c.TP++
		case valY[i] == 1:
			c.FN++
		case predicted:
			c.FP++
		default:
			c.TN++
		}
	}

	return &FoldResult{
		Region:         r,
		TrainPresences: len(trainP),
		TrainAbsences:  len(trainA),
		ValPresences:   len(valP),
		ValAbsences:    len(valA),
		Presence:       c,
		Predictions:    p,
		Model:          model,
	}, nil
}

func (t *Trainer) fitAll(ds Dataset, cellX *mat.Dense) ([]float64, error) {
	np, _ := ds.Presence.Dims()
	na, _ := ds.Absence.Dims()
	x, y := stackRows(ds.Presence, seq(np), ds.Absence, seq(na))
	model := t.NewClassifier()
	if err := model.Fit(x, y); err != nil {
		return nil, eris.Wrap(err, "suitability: fit final model")
	}
	if cellX == nil {
		return nil, nil
	}
	p, err := model.PredictProba(cellX)
	if err != nil {
		return nil, eris.Wrap(err, "suitability: predict final surface")
	}
	return p, nil
}

// stackRows concatenates the selected presence rows (label 1) and absence
// rows (label 0).
func stackRows(pres *mat.Dense, pIdx []int, abs *mat.Dense, aIdx []int) (*mat.Dense, []float64) {
	_, d := pres.Dims()
	x := mat.NewDense(len(pIdx)+len(aIdx), d, nil)
	y := make([]float64, len(pIdx)+len(aIdx))
	for k, i := range pIdx {
		x.SetRow(k, pres.RawRowView(i))
		y[k] = 1
	}
	off := len(pIdx)
	for k, i := range aIdx {
		x.SetRow(off+k, abs.RawRowView(i))
	}
	return x, y
}

func seq(n int) []int {
	out := make([]int, n)
	for i := range out {
		out[i] = i
	}
	return out
}
