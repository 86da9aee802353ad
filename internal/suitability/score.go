package suitability

import (
	"math"

	"github.com/rotisserie/eris"

	"github.com/sells-group/habitat-cli/internal/sample"
)

// ErrUndefinedScore is attached to a ScoreRow whose F1 is NaN because the
// class had no true positives, false positives or false negatives.
var ErrUndefinedScore = eris.New("suitability: F1 undefined")

// Counts is a confusion tally from one class's point of view.
type Counts struct {
	TP int `json:"tp" yaml:"tp"`
	FP int `json:"fp" yaml:"fp"`
	FN int `json:"fn" yaml:"fn"`
	TN int `json:"tn" yaml:"tn"`
}

// Add returns the element-wise sum.
func (c Counts) Add(o Counts) Counts {
	return Counts{TP: c.TP + o.TP, FP: c.FP + o.FP, FN: c.FN + o.FN, TN: c.TN + o.TN}
}

// Invert returns the same tally seen from the opposite class.
func (c Counts) Invert() Counts {
	return Counts{TP: c.TN, FP: c.FN, FN: c.FP, TN: c.TP}
}

// F1 returns 2TP / (2TP + FP + FN), or NaN when the denominator is zero.
func (c Counts) F1() float64 {
	den := 2*c.TP + c.FP + c.FN
	if den == 0 {
		return math.NaN()
	}
	return float64(2*c.TP) / float64(den)
}

// Precision returns TP / (TP + FP), or NaN when nothing was predicted.
func (c Counts) Precision() float64 {
	if c.TP+c.FP == 0 {
		return math.NaN()
	}
	return float64(c.TP) / float64(c.TP+c.FP)
}

// Recall returns TP / (TP + FN), or NaN when the class never occurred.
func (c Counts) Recall() float64 {
	if c.TP+c.FN == 0 {
		return math.NaN()
	}
	return float64(c.TP) / float64(c.TP+c.FN)
}

// ScoreRow is the pooled cross-validation score of one class.
type ScoreRow struct {
	Class     sample.Class `json:"class" yaml:"class"`
	Counts    `yaml:",inline"`
	Precision float64 `json:"precision" yaml:"precision"`
	Recall    float64 `json:"recall" yaml:"recall"`
	F1        float64 `json:"f1" yaml:"f1"`
	Warning   error   `json:"-" yaml:"-"`
}

// ScoreTable has one row per class, presence first.
type ScoreTable []ScoreRow

// Row returns the row for class, or false.
func (t ScoreTable) Row(class sample.Class) (ScoreRow, bool) {
	for _, r := range t {
		if r.Class == class {
			return r, true
		}
	}
	return ScoreRow{}, false
}

// Warnings returns the non-nil row warnings.
func (t ScoreTable) Warnings() []error {
	var out []error
	for _, r := range t {
		if r.Warning != nil {
			out = append(out, r.Warning)
		}
	}
	return out
}

func newScoreRow(class sample.Class, c Counts) ScoreRow {
	row := ScoreRow{
		Class:     class,
		Counts:    c,
		Precision: c.Precision(),
		Recall:    c.Recall(),
		F1:        c.F1(),
	}
	if math.IsNaN(row.F1) {
		row.Warning = eris.Wrapf(ErrUndefinedScore, "suitability: class %s has no positives", class)
	}
	return row
}

// PooledScores sums the per-fold presence tallies before scoring, so small
// folds weigh in by their sample counts rather than by fold.
func PooledScores(folds []FoldResult) ScoreTable {
	var pooled Counts
	for _, f := range folds {
		pooled = pooled.Add(f.Presence)
	}
	return ScoreTable{
		newScoreRow(sample.Presence, pooled),
		newScoreRow(sample.Absence, pooled.Invert()),
	}
}
