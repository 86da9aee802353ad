package suitability

import (
	"context"
	"math"
	"math/rand"
	"sync/atomic"
	"testing"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"

	"github.com/sells-group/habitat-cli/internal/classifier"
	"github.com/sells-group/habitat-cli/internal/grid"
	"github.com/sells-group/habitat-cli/internal/sample"
)

// signClassifier predicts presence when the first feature is positive.
type signClassifier struct {
	fitRows int
	fitErr  error
}

func (s *signClassifier) Fit(x mat.Matrix, _ []float64) error {
	s.fitRows, _ = x.Dims()
	return s.fitErr
}

func (s *signClassifier) PredictProba(x mat.Matrix) ([]float64, error) {
	n, _ := x.Dims()
	out := make([]float64, n)
	for i := range out {
		out[i] = 0.1
		if x.At(i, 0) > 0 {
			out[i] = 0.9
		}
	}
	return out, nil
}

// constClassifier always returns p.
type constClassifier struct{ p float64 }

func (c constClassifier) Fit(mat.Matrix, []float64) error { return nil }

func (c constClassifier) PredictProba(x mat.Matrix) ([]float64, error) {
	n, _ := x.Dims()
	out := make([]float64, n)
	for i := range out {
		out[i] = c.p
	}
	return out, nil
}

func column(vals ...float64) *mat.Dense {
	return mat.NewDense(len(vals), 1, vals)
}

func newTrainer(f classifier.Factory) *Trainer {
	tr := NewTrainer(f)
	tr.Workers = 2
	return tr
}

// ---------------------------------------------------------------------------
// Scores
// ---------------------------------------------------------------------------

func TestCountsF1(t *testing.T) {
	assert.Equal(t, 0.0, Counts{FP: 1}.F1(), "no TP but a false positive scores zero")
	assert.Equal(t, 0.0, Counts{FN: 3}.F1(), "no TP but a false negative scores zero")
	assert.True(t, math.IsNaN(Counts{}.F1()), "no TP, FP or FN is undefined")
	assert.True(t, math.IsNaN(Counts{TN: 9}.F1()), "true negatives do not define F1")
	assert.InDelta(t, 2.0/3.0, Counts{TP: 1, FP: 1}.F1(), 1e-12)
}

func TestPooledScores_SumsBeforeScoring(t *testing.T) {
	folds := []FoldResult{
		{Presence: Counts{TP: 1}},
		{Presence: Counts{TP: 0, FN: 9}},
	}
	table := PooledScores(folds)

	pres, ok := table.Row(sample.Presence)
	require.True(t, ok)
	// Pooled: 2*1 / (2*1 + 9) rather than the fold mean (1 + 0) / 2.
	assert.InDelta(t, 2.0/11.0, pres.F1, 1e-12)
	assert.Equal(t, Counts{TP: 1, FN: 9}, pres.Counts)
	assert.NoError(t, pres.Warning)

	abs, ok := table.Row(sample.Absence)
	require.True(t, ok)
	assert.Equal(t, Counts{FP: 9, TN: 1}, abs.Counts)
	assert.Equal(t, 0.0, abs.F1)
}

func TestPooledScores_UndefinedIsSurfaced(t *testing.T) {
	table := PooledScores([]FoldResult{{Presence: Counts{TN: 4}}})
	pres, _ := table.Row(sample.Presence)
	assert.True(t, math.IsNaN(pres.F1))
	require.Error(t, pres.Warning)
	assert.True(t, eris.Is(pres.Warning, ErrUndefinedScore))
	assert.Len(t, table.Warnings(), 1)
}

// ---------------------------------------------------------------------------
// Train
// ---------------------------------------------------------------------------

func TestTrain_SingleRegion(t *testing.T) {
	ds := Dataset{
		Presence: column(1, 2, 3),
		Regions:  []int{0, 0, 0},
		Absence:  column(-1, -2),
	}
	_, err := newTrainer(func() classifier.Classifier { return &signClassifier{} }).Train(context.Background(), ds, nil)
	require.Error(t, err)
	assert.True(t, eris.Is(err, ErrInsufficientRegions))
}

func TestTrain_NoAbsences(t *testing.T) {
	ds := Dataset{Presence: column(1, 2), Regions: []int{0, 1}}
	_, err := newTrainer(func() classifier.Classifier { return &signClassifier{} }).Train(context.Background(), ds, nil)
	assert.True(t, eris.Is(err, ErrNoAbsences))
}

func TestTrain_InputValidation(t *testing.T) {
	tr := newTrainer(func() classifier.Classifier { return &signClassifier{} })

	_, err := tr.Train(context.Background(), Dataset{Presence: column(1, 2), Regions: []int{0}, Absence: column(-1)}, nil)
	assert.Error(t, err, "region count")

	_, err = tr.Train(context.Background(), Dataset{
		Presence: column(1, 2), Regions: []int{0, 1}, Absence: mat.NewDense(1, 2, []float64{0, 0}),
	}, nil)
	assert.Error(t, err, "feature count")

	tr.SurfaceMode = "median"
	_, err = tr.Train(context.Background(), Dataset{Presence: column(1, 2), Regions: []int{0, 1}, Absence: column(-1)}, nil)
	assert.Error(t, err)
}

func TestTrain_FoldsAndPooledScore(t *testing.T) {
	ds := Dataset{
		// Region 0: three presences, one on the wrong side.
		// Region 1: two presences.
		Presence: column(1, 2, -0.5, 3, 4),
		Regions:  []int{0, 0, 0, 1, 1},
		Absence:  column(-1, -2, -3, -4, -5, -6, -7, -8, -9, -10),
	}

	var fits atomic.Int32
	factory := func() classifier.Classifier {
		fits.Add(1)
		return &signClassifier{}
	}
	res, err := newTrainer(factory).Train(context.Background(), ds, nil)
	require.NoError(t, err)
	assert.Equal(t, int32(2), fits.Load(), "one fresh classifier per fold")
	assert.Nil(t, res.Surface)

	require.Len(t, res.Folds, 2)
	f0, f1 := res.Folds[0], res.Folds[1]
	assert.Equal(t, 0, f0.Region)
	assert.Equal(t, 3, f0.ValPresences)
	assert.Equal(t, 3, f0.ValAbsences)
	assert.Equal(t, 2, f0.TrainPresences)
	assert.Equal(t, 7, f0.TrainAbsences)
	assert.Equal(t, Counts{TP: 2, FN: 1, TN: 3}, f0.Presence)
	assert.Equal(t, 9, f0.Model.(*signClassifier).fitRows, "fit on 2 presences and 7 absences")

	assert.Equal(t, 1, f1.Region)
	assert.Equal(t, Counts{TP: 2, TN: 2}, f1.Presence)

	pres, _ := res.Scores.Row(sample.Presence)
	assert.Equal(t, Counts{TP: 4, FN: 1, TN: 5}, pres.Counts)
	assert.InDelta(t, 8.0/9.0, pres.F1, 1e-12)
}

func TestTrain_ZeroTruePositivesScoresZero(t *testing.T) {
	ds := Dataset{
		Presence: column(1, 2, 3, 4),
		Regions:  []int{0, 0, 1, 1},
		Absence:  column(-1, -2, -3, -4, -5),
	}
	res, err := newTrainer(func() classifier.Classifier { return constClassifier{p: 0.2} }).Train(context.Background(), ds, nil)
	require.NoError(t, err)

	pres, _ := res.Scores.Row(sample.Presence)
	assert.Equal(t, 0, pres.TP)
	assert.Equal(t, 4, pres.FN)
	assert.Equal(t, 0.0, pres.F1)
	assert.NoError(t, pres.Warning)
}

func TestTrain_UndefinedAbsenceScore(t *testing.T) {
	// A single absence is always kept for training, so no fold validates an
	// absence and the perfect classifier leaves the absence class empty.
	ds := Dataset{
		Presence: column(1, 2, 3),
		Regions:  []int{0, 1, 2},
		Absence:  column(-1),
	}
	res, err := newTrainer(func() classifier.Classifier { return &signClassifier{} }).Train(context.Background(), ds, nil)
	require.NoError(t, err, "an undefined score is a result, not a failure")

	for _, f := range res.Folds {
		assert.Zero(t, f.ValAbsences)
		assert.Equal(t, 1, f.TrainAbsences)
	}
	abs, _ := res.Scores.Row(sample.Absence)
	assert.True(t, math.IsNaN(abs.F1))
	assert.True(t, eris.Is(abs.Warning, ErrUndefinedScore))

	pres, _ := res.Scores.Row(sample.Presence)
	assert.Equal(t, 1.0, pres.F1)
}

func TestTrain_FitErrorAborts(t *testing.T) {
	ds := Dataset{Presence: column(1, 2), Regions: []int{0, 1}, Absence: column(-1, -2)}
	boom := eris.New("boom")
	_, err := newTrainer(func() classifier.Classifier { return &signClassifier{fitErr: boom} }).Train(context.Background(), ds, nil)
	require.Error(t, err)
	assert.True(t, eris.Is(err, boom))
}

func TestTrain_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	ds := Dataset{Presence: column(1, 2), Regions: []int{0, 1}, Absence: column(-1, -2)}
	_, err := newTrainer(func() classifier.Classifier { return &signClassifier{} }).Train(ctx, ds, nil)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestTrain_WorkerCountDoesNotChangeResult(t *testing.T) {
	rng := rand.New(rand.NewSource(5))
	var pres, abs []float64
	var regions []int
	for i := 0; i < 48; i++ {
		pres = append(pres, rng.NormFloat64()+0.5)
		regions = append(regions, i%12)
		abs = append(abs, rng.NormFloat64()-0.5)
	}
	ds := Dataset{Presence: column(pres...), Regions: regions, Absence: column(abs...)}

	g := grid.Grid{OriginX: 0, OriginY: 10, CellWidth: 10, CellHeight: 10, Rows: 1, Cols: 200}
	band := grid.NewRaster(g, 0)
	for i := range band.Data {
		band.Data[i] = rng.NormFloat64() * 2
	}
	stack, err := grid.NewStack([]string{"x"}, []*grid.Raster{band})
	require.NoError(t, err)

	factory := classifier.NewLogisticFactory(classifier.DefaultLogisticOptions())

	serial := newTrainer(factory)
	serial.Workers = 1
	a, err := serial.Train(context.Background(), ds, stack)
	require.NoError(t, err)

	for run := 0; run < 5; run++ {
		parallel := newTrainer(factory)
		parallel.Workers = 12
		b, err := parallel.Train(context.Background(), ds, stack)
		require.NoError(t, err)

		for i := range a.Folds {
			assert.Equal(t, a.Folds[i].Presence, b.Folds[i].Presence)
		}
		assert.Equal(t, a.Scores[0].Counts, b.Scores[0].Counts)
		for k := range a.Surface.Data {
			require.Equal(t, math.Float64bits(a.Surface.Data[k]), math.Float64bits(b.Surface.Data[k]),
				"run %d cell %d: %v != %v", run, k, a.Surface.Data[k], b.Surface.Data[k])
		}
	}
}

// ---------------------------------------------------------------------------
// Surface
// ---------------------------------------------------------------------------

func lineStack(t *testing.T) *grid.Stack {
	t.Helper()
	g := grid.Grid{OriginX: 0, OriginY: 10, CellWidth: 10, CellHeight: 10, Rows: 1, Cols: 5}
	band := &grid.Raster{Grid: g, Data: []float64{-2, -1, math.NaN(), 1, 2}}
	s, err := grid.NewStack([]string{"x"}, []*grid.Raster{band})
	require.NoError(t, err)
	return s
}

func TestTrain_Surface(t *testing.T) {
	ds := Dataset{
		Presence: column(1, 2, 3, 4),
		Regions:  []int{0, 0, 1, 1},
		Absence:  column(-1, -2, -3, -4, -5),
	}
	for _, mode := range []SurfaceMode{SurfaceMean, SurfaceFinal} {
		t.Run(string(mode), func(t *testing.T) {
			tr := newTrainer(func() classifier.Classifier { return &signClassifier{} })
			tr.SurfaceMode = mode

			res, err := tr.Train(context.Background(), ds, lineStack(t))
			require.NoError(t, err)
			require.NotNil(t, res.Surface)
			d := res.Surface.Data
			assert.InDelta(t, 0.1, d[0], 1e-12)
			assert.InDelta(t, 0.1, d[1], 1e-12)
			assert.True(t, math.IsNaN(d[2]), "NoData cells stay undefined")
			assert.InDelta(t, 0.9, d[3], 1e-12)
			assert.InDelta(t, 0.9, d[4], 1e-12)
		})
	}
}

func TestTrain_LogisticRegression(t *testing.T) {
	rng := rand.New(rand.NewSource(3))
	n := 60
	pres := mat.NewDense(n, 2, nil)
	abs := mat.NewDense(n, 2, nil)
	regions := make([]int, n)
	for i := 0; i < n; i++ {
		pres.SetRow(i, []float64{2 + rng.NormFloat64()*0.5, rng.NormFloat64()})
		abs.SetRow(i, []float64{-2 + rng.NormFloat64()*0.5, rng.NormFloat64()})
		regions[i] = i % 3
	}

	tr := newTrainer(classifier.NewLogisticFactory(classifier.DefaultLogisticOptions()))
	res, err := tr.Train(context.Background(), Dataset{Presence: pres, Regions: regions, Absence: abs}, nil)
	require.NoError(t, err)

	p, _ := res.Scores.Row(sample.Presence)
	assert.Greater(t, p.F1, 0.9)
}

// ---------------------------------------------------------------------------
// Datasets and masks
// ---------------------------------------------------------------------------

func TestNewDataset(t *testing.T) {
	stack := lineStack(t)
	cell := func(col int) grid.CellID { return grid.CellID{Row: 0, Col: col} }

	presences := []sample.Sample{
		{Cell: cell(3), Class: sample.Presence, Region: 0},
		{Cell: cell(2), Class: sample.Presence, Region: 1}, // NoData
		{Cell: cell(4), Class: sample.Presence, Region: 1},
	}
	absences := []sample.Sample{{Cell: cell(0), Class: sample.Absence}, {Cell: cell(1), Class: sample.Absence}}

	ds, err := NewDataset(stack, presences, absences)
	require.NoError(t, err)
	assert.Equal(t, []int{0, 1}, ds.Regions)
	assert.Equal(t, []float64{1, 2}, mat.Col(nil, 0, ds.Presence))
	assert.Equal(t, []float64{-2, -1}, mat.Col(nil, 0, ds.Absence))

	_, err = NewDataset(stack, presences, nil)
	assert.True(t, eris.Is(err, ErrNoAbsences))

	presences[0].Region = sample.NoRegion
	_, err = NewDataset(stack, presences, absences)
	assert.Error(t, err)
}

func TestMask(t *testing.T) {
	g := grid.Grid{OriginY: 1, CellWidth: 1, CellHeight: 1, Rows: 1, Cols: 4}
	surface := &grid.Raster{Grid: g, Data: []float64{0.2, 0.5, math.NaN(), 0.8}}

	m := Mask(surface, 0.5)
	assert.Equal(t, 0.0, m.Data[0])
	assert.Equal(t, 1.0, m.Data[1], "threshold is inclusive")
	assert.True(t, math.IsNaN(m.Data[2]))
	assert.Equal(t, 1.0, m.Data[3])

	stack, err := MaskStack(surface, []float64{0.5, 0.75})
	require.NoError(t, err)
	assert.Equal(t, []string{"p>=0.50", "p>=0.75"}, stack.Names)
	assert.Equal(t, 0.0, stack.Bands[1].Data[1])

	_, err = MaskStack(surface, []float64{1.5})
	assert.Error(t, err)
	_, err = MaskStack(surface, nil)
	assert.Error(t, err)
}

func TestMaskStack_RejectsCollidingNames(t *testing.T) {
	surface := grid.NewRaster(grid.Grid{OriginY: 1, CellWidth: 1, CellHeight: 1, Rows: 1, Cols: 2}, 0)

	_, err := MaskStack(surface, []float64{0.499, 0.501})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "p>=0.50")

	stack, err := MaskStack(surface, []float64{0.49, 0.5})
	require.NoError(t, err)
	assert.Equal(t, []string{"p>=0.49", "p>=0.50"}, stack.Names)
}

func TestMaskName(t *testing.T) {
	assert.Equal(t, "p>=0.05", MaskName(0.05))
	assert.Equal(t, "p>=0.50", MaskName(0.499))
	assert.Equal(t, "p>=1.00", MaskName(1))
	assert.Equal(t, 75, MaskPercent(0.75))
}
