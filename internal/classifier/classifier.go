// Package classifier defines the binary classifier capability used by the
// suitability trainer and ships a logistic regression implementation.
package classifier

import (
	"math"

	"github.com/rotisserie/eris"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/optimize"
	"gonum.org/v1/gonum/stat"
	"go.uber.org/zap"
)

// Classifier is a binary classifier. Labels are 1 for presence and 0 for
// absence.
type Classifier interface {
	Fit(x mat.Matrix, y []float64) error
	// PredictProba returns the presence probability of every row of x.
	PredictProba(x mat.Matrix) ([]float64, error)
}

// Factory creates an untrained classifier. The trainer calls it once per fold.
type Factory func() Classifier

// ErrNotFitted is returned when predicting before Fit succeeded.
var ErrNotFitted = eris.New("classifier: model is not fitted")

// LogisticOptions tunes LogisticRegression.
type LogisticOptions struct {
	L2            float64 `yaml:"l2" mapstructure:"l2"`
	MaxIterations int     `yaml:"max_iterations" mapstructure:"max_iterations"`
}

// DefaultLogisticOptions returns the production defaults.
func DefaultLogisticOptions() LogisticOptions {
	return LogisticOptions{L2: 1e-3, MaxIterations: 500}
}

// NewLogisticFactory returns a Factory producing logistic regressions.
func NewLogisticFactory(opts LogisticOptions) Factory {
	return func() Classifier { return NewLogisticRegression(opts) }
}

// LogisticRegression is an L2-regularised logistic regression over
// standardized features. The intercept is not penalised.
type LogisticRegression struct {
	opts LogisticOptions

	mean    []float64
	scale   []float64
	weights []float64
	bias    float64
	fitted  bool
}

// NewLogisticRegression returns an untrained model.
func NewLogisticRegression(opts LogisticOptions) *LogisticRegression {
	if opts.MaxIterations <= 0 {
		opts.MaxIterations = DefaultLogisticOptions().MaxIterations
	}
	return &LogisticRegression{opts: opts}
}

// Coefficients returns the weights in standardized feature space and the
// intercept.
func (m *LogisticRegression) Coefficients() ([]float64, float64) {
	w := make([]float64, len(m.weights))
	copy(w, m.weights)
	return w, m.bias
}

// Fit estimates the model by minimising the penalised mean log-loss with
// L-BFGS.
func (m *LogisticRegression) Fit(x mat.Matrix, y []float64) error {
	n, d := x.Dims()
	if n == 0 || d == 0 {
		return eris.New("classifier: empty training matrix")
	}
	if len(y) != n {
		return eris.Errorf("classifier: %d labels for %d rows", len(y), n)
	}
	var pos int
	for i, v := range y {
		switch v {
		case 1:
			pos++
		case 0:
		default:
			return eris.Errorf("classifier: label %g at row %d is not 0 or 1", v, i)
		}
	}
	if pos == 0 || pos == n {
		return eris.New("classifier: training labels contain a single class")
	}

	m.mean = make([]float64, d)
	m.scale = make([]float64, d)
	col := make([]float64, n)
	for j := 0; j < d; j++ {
		mat.Col(col, j, x)
		mean, sd := stat.MeanStdDev(col, nil)
		if sd == 0 || math.IsNaN(sd) {
			sd = 1
		}
		m.mean[j], m.scale[j] = mean, sd
	}
	z := m.standardize(x)

	lambda := m.opts.L2
	problem := optimize.Problem{
		Func: func(theta []float64) float64 {
			return logLoss(z, y, theta, lambda, nil)
		},
		Grad: func(grad, theta []float64) {
			logLoss(z, y, theta, lambda, grad)
		},
	}
	settings := &optimize.Settings{
		MajorIterations:   m.opts.MaxIterations,
		GradientThreshold: 1e-6,
	}

	init := make([]float64, d+1)
	// Start the intercept at the prior log-odds.
	init[d] = math.Log(float64(pos) / float64(n-pos))

	res, err := optimize.Minimize(problem, init, settings, &optimize.LBFGS{})
	if res == nil || res.Status == optimize.Failure {
		if err == nil {
			err = eris.New("optimiser failed")
		}
		return eris.Wrap(err, "classifier: optimise log-loss")
	}
	if err != nil {
		zap.L().Debug("classifier: optimiser stopped early",
			zap.String("status", res.Status.String()),
			zap.Error(err),
		)
	}
	for _, v := range res.X {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return eris.New("classifier: optimiser diverged")
		}
	}

	m.weights = append([]float64(nil), res.X[:d]...)
	m.bias = res.X[d]
	m.fitted = true
	return nil
}

// PredictProba returns sigmoid(w·z + b) for every row.
func (m *LogisticRegression) PredictProba(x mat.Matrix) ([]float64, error) {
	if !m.fitted {
		return nil, ErrNotFitted
	}
	n, d := x.Dims()
	if d != len(m.weights) {
		return nil, eris.Errorf("classifier: fitted on %d features, got %d", len(m.weights), d)
	}
	z := m.standardize(x)
	out := make([]float64, n)
	w := mat.NewVecDense(d, m.weights)
	for i := 0; i < n; i++ {
		out[i] = sigmoid(mat.Dot(z.RowView(i), w) + m.bias)
	}
	return out, nil
}

func (m *LogisticRegression) standardize(x mat.Matrix) *mat.Dense {
	n, d := x.Dims()
	z := mat.NewDense(n, d, nil)
	for i := 0; i < n; i++ {
		for j := 0; j < d; j++ {
			z.Set(i, j, (x.At(i, j)-m.mean[j])/m.scale[j])
		}
	}
	return z
}

// logLoss evaluates the penalised mean negative log-likelihood at theta
// (weights followed by intercept). When grad is non-nil it is overwritten
// with the gradient.
func logLoss(z *mat.Dense, y, theta []float64, lambda float64, grad []float64) float64 {
	n, d := z.Dims()
	w, b := theta[:d], theta[d]
	if grad != nil {
		for i := range grad {
			grad[i] = 0
		}
	}

	var loss float64
	for i := 0; i < n; i++ {
		row := z.RawRowView(i)
		s := b
		for j, v := range row {
			s += w[j] * v
		}
		loss += softplus(s) - y[i]*s
		if grad != nil {
			r := sigmoid(s) - y[i]
			for j, v := range row {
				grad[j] += r * v
			}
			grad[d] += r
		}
	}

	inv := 1 / float64(n)
	loss *= inv
	var pen float64
	for j := 0; j < d; j++ {
		pen += w[j] * w[j]
	}
	loss += 0.5 * lambda * pen

	if grad != nil {
		for j := 0; j < d; j++ {
			grad[j] = grad[j]*inv + lambda*w[j]
		}
		grad[d] *= inv
	}
	return loss
}

func sigmoid(s float64) float64 {
	if s >= 0 {
		return 1 / (1 + math.Exp(-s))
	}
	e := math.Exp(s)
	return e / (1 + e)
}

// softplus is log(1 + e^s) without overflow.
func softplus(s float64) float64 {
	if s > 0 {
		return s + math.Log1p(math.Exp(-s))
	}
	return math.Log1p(math.Exp(s))
}
