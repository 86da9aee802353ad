package classifier

import (
	"math"
	"math/rand"
	"testing"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"
)

// blobs returns two overlapping gaussian clouds centered at -1 and +1 on the
// first feature. The second feature is noise on a different scale.
func blobs(n int, seed int64) (*mat.Dense, []float64) {
	rng := rand.New(rand.NewSource(seed))
	x := mat.NewDense(2*n, 2, nil)
	y := make([]float64, 2*n)
	for i := 0; i < 2*n; i++ {
		center := -1.0
		if i >= n {
			center = 1
			y[i] = 1
		}
		x.Set(i, 0, center+rng.NormFloat64()*0.6)
		x.Set(i, 1, 1000+rng.NormFloat64()*50)
	}
	return x, y
}

func TestLogisticRegression_SeparatesBlobs(t *testing.T) {
	x, y := blobs(100, 1)
	m := NewLogisticRegression(DefaultLogisticOptions())
	require.NoError(t, m.Fit(x, y))

	p, err := m.PredictProba(x)
	require.NoError(t, err)
	require.Len(t, p, 200)

	var correct int
	for i, v := range p {
		assert.True(t, v >= 0 && v <= 1)
		if (v >= 0.5) == (y[i] == 1) {
			correct++
		}
	}
	assert.Greater(t, correct, 180)

	w, _ := m.Coefficients()
	assert.Greater(t, w[0], 0.0, "presence rises with the first feature")
	assert.Less(t, math.Abs(w[1]), math.Abs(w[0]))
}

func TestLogisticRegression_ProbabilityMonotonic(t *testing.T) {
	x, y := blobs(50, 2)
	m := NewLogisticRegression(DefaultLogisticOptions())
	require.NoError(t, m.Fit(x, y))

	probe := mat.NewDense(3, 2, []float64{-2, 1000, 0, 1000, 2, 1000})
	p, err := m.PredictProba(probe)
	require.NoError(t, err)
	assert.Less(t, p[0], p[1])
	assert.Less(t, p[1], p[2])
}

func TestLogisticRegression_Errors(t *testing.T) {
	m := NewLogisticRegression(LogisticOptions{})

	_, err := m.PredictProba(mat.NewDense(1, 1, []float64{0}))
	assert.True(t, eris.Is(err, ErrNotFitted))

	x := mat.NewDense(3, 1, []float64{1, 2, 3})
	assert.Error(t, m.Fit(x, []float64{1, 0}), "label count")
	assert.Error(t, m.Fit(x, []float64{1, 1, 1}), "single class")
	assert.Error(t, m.Fit(x, []float64{1, 0, 2}), "non-binary label")

	require.NoError(t, m.Fit(x, []float64{0, 1, 1}))
	_, err = m.PredictProba(mat.NewDense(1, 2, []float64{0, 0}))
	assert.Error(t, err, "feature count")
}

func TestLogLoss_GradientMatchesFiniteDifference(t *testing.T) {
	x, y := blobs(20, 3)
	z := mat.DenseCopyOf(x)
	theta := []float64{0.3, -0.2, 0.1}
	const lambda, h = 0.01, 1e-6

	grad := make([]float64, 3)
	logLoss(z, y, theta, lambda, grad)

	for k := range theta {
		up := append([]float64(nil), theta...)
		down := append([]float64(nil), theta...)
		up[k] += h
		down[k] -= h
		numeric := (logLoss(z, y, up, lambda, nil) - logLoss(z, y, down, lambda, nil)) / (2 * h)
		assert.InDelta(t, numeric, grad[k], 1e-4, "component %d", k)
	}
}

func TestFactoryReturnsFreshModels(t *testing.T) {
	f := NewLogisticFactory(DefaultLogisticOptions())
	a, b := f(), f()
	assert.NotSame(t, a, b)
}

func TestSigmoidStable(t *testing.T) {
	assert.InDelta(t, 0.5, sigmoid(0), 1e-12)
	assert.Equal(t, 1.0, sigmoid(1000))
	assert.Equal(t, 0.0, sigmoid(-1000))
	assert.InDelta(t, 1000.0, softplus(1000), 1e-9)
	assert.InDelta(t, math.Log(2), softplus(0), 1e-12)
}
