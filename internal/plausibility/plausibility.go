// Package plausibility cross-tabulates binary suitability masks against an
// independent categorical reference layer.
package plausibility

import (
	"math"
	"os"
	"sort"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/sells-group/habitat-cli/internal/grid"
)

// ErrLabelMismatch is returned when the number of labels differs from the
// number of distinct reference categories.
var ErrLabelMismatch = eris.New("plausibility: label count does not match category count")

// NamedMask is one binary mask. Any finite non-zero value selects a pixel.
type NamedMask struct {
	Name string
	Mask *grid.Raster
}

// Report holds absolute and relative category counts, one row per mask and
// one column per category.
type Report struct {
	Masks      []string    `json:"masks" yaml:"masks"`
	Categories []int       `json:"categories" yaml:"categories"`
	Labels     []string    `json:"labels" yaml:"labels"`
	Counts     [][]int     `json:"counts" yaml:"counts"`
	Relative   [][]float64 `json:"relative" yaml:"relative"`
	// Totals is the number of categorised pixels selected by each mask.
	Totals []int `json:"totals" yaml:"totals"`
}

// Categories returns the sorted distinct codes of the finite reference
// pixels. Codes must be integral.
func Categories(reference *grid.Raster) ([]int, error) {
	seen := make(map[int]struct{})
	for i, v := range reference.Data {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			continue
		}
		if v != math.Trunc(v) {
			return nil, eris.Errorf("plausibility: non-integer category %g at pixel %d", v, i)
		}
		seen[int(v)] = struct{}{}
	}
	out := make([]int, 0, len(seen))
	for c := range seen {
		out = append(out, c)
	}
	sort.Ints(out)
	return out, nil
}

// Test counts, for every mask, the selected pixels falling in each
// reference category and normalises the counts per mask. A mask that
// selects no categorised pixel gets a NaN relative row.
func Test(masks []NamedMask, reference *grid.Raster, labels []string) (*Report, error) {
	cats, err := Categories(reference)
	if err != nil {
		return nil, err
	}
	if len(labels) != len(cats) {
		return nil, eris.Wrapf(ErrLabelMismatch,
			"plausibility: %d labels for %d categories %v", len(labels), len(cats), cats)
	}

	col := make(map[int]int, len(cats))
	for i, c := range cats {
		col[c] = i
	}

	rep := &Report{
		Categories: cats,
		Labels:     append([]string(nil), labels...),
		Masks:      make([]string, len(masks)),
		Counts:     make([][]int, len(masks)),
		Relative:   make([][]float64, len(masks)),
		Totals:     make([]int, len(masks)),
	}
	for m, nm := range masks {
		if !nm.Mask.Grid.SameAs(&reference.Grid) {
			return nil, eris.Wrapf(grid.ErrGridMismatch, "plausibility: mask %q", nm.Name)
		}
		counts := make([]int, len(cats))
		total := 0
		for i, v := range nm.Mask.Data {
			if v == 0 || math.IsNaN(v) || math.IsInf(v, 0) {
				continue
			}
			ref := reference.Data[i]
			if math.IsNaN(ref) || math.IsInf(ref, 0) {
				continue
			}
			counts[col[int(ref)]]++
			total++
		}

		rel := make([]float64, len(cats))
		for k, n := range counts {
			if total == 0 {
				rel[k] = math.NaN()
			} else {
				rel[k] = float64(n) / float64(total)
			}
		}
		if total == 0 {
			zap.L().Warn("plausibility: mask selects no categorised pixels", zap.String("mask", nm.Name))
		}

		rep.Masks[m] = nm.Name
		rep.Counts[m] = counts
		rep.Relative[m] = rel
		rep.Totals[m] = total
	}
	return rep, nil
}

// MasksFromStack names every band of a mask stack.
func MasksFromStack(stack *grid.Stack) []NamedMask {
	out := make([]NamedMask, stack.NumBands())
	for i, b := range stack.Bands {
		out[i] = NamedMask{Name: stack.Names[i], Mask: b}
	}
	return out
}

// labelsFile is the YAML layout of a labels file. A bare sequence is also
// accepted.
type labelsFile struct {
	Labels []string `yaml:"labels"`
}

// LoadLabels reads category labels, in ascending category-code order.
func LoadLabels(path string) ([]string, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "plausibility: read labels %s", path)
	}

	var list []string
	if err := yaml.Unmarshal(raw, &list); err == nil && len(list) > 0 {
		return list, nil
	}
	var f labelsFile
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return nil, eris.Wrapf(err, "plausibility: parse labels %s", path)
	}
	if len(f.Labels) == 0 {
		return nil, eris.Errorf("plausibility: no labels in %s", path)
	}
	return f.Labels, nil
}
