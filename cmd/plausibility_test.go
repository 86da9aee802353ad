package main

import (
	"bytes"
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/habitat-cli/internal/config"
	"github.com/sells-group/habitat-cli/internal/grid"
	"github.com/sells-group/habitat-cli/internal/plausibility"
)

// writePlausibilityInputs writes a 1x4 surface, a two-category reference
// layer and its labels.
func writePlausibilityInputs(t *testing.T, dir string) (surface, reference, labels string) {
	t.Helper()
	g := grid.Grid{OriginX: 0, OriginY: 1, CellWidth: 1, CellHeight: 1, Rows: 1, Cols: 4}

	s := grid.NewRaster(g, 0)
	copy(s.Data, []float64{0.1, 0.6, 0.8, math.NaN()})
	surface = filepath.Join(dir, "surface.asc")
	require.NoError(t, grid.WriteASC(surface, s))

	r := grid.NewRaster(g, 0)
	copy(r.Data, []float64{1, 1, 2, 2})
	reference = filepath.Join(dir, "landcover.asc")
	require.NoError(t, grid.WriteASC(reference, r))

	labels = filepath.Join(dir, "labels.yaml")
	require.NoError(t, os.WriteFile(labels, []byte("- forest\n- meadow\n"), 0o644))
	return surface, reference, labels
}

func TestRunPlausibility(t *testing.T) {
	surface, reference, labels := writePlausibilityInputs(t, t.TempDir())

	rep, err := runPlausibility(surface, reference, labels, []float64{0.5, 0.9})
	require.NoError(t, err)

	assert.Equal(t, []string{"forest", "meadow"}, rep.Labels)
	assert.Equal(t, []int{1, 1}, rep.Counts[0])
	assert.Equal(t, 0, rep.Totals[1])
	assert.True(t, math.IsNaN(rep.Relative[1][0]))

	var buf bytes.Buffer
	formatReport(&buf, rep)
	out := buf.String()
	assert.Contains(t, out, "forest")
	assert.Contains(t, out, "50.0%")
	assert.Contains(t, out, "-")
}

func TestRunPlausibility_LabelMismatch(t *testing.T) {
	dir := t.TempDir()
	surface, reference, _ := writePlausibilityInputs(t, dir)
	labels := filepath.Join(dir, "one.yaml")
	require.NoError(t, os.WriteFile(labels, []byte("- forest\n"), 0o644))

	_, err := runPlausibility(surface, reference, labels, []float64{0.5})
	require.Error(t, err)
	assert.ErrorIs(t, err, plausibility.ErrLabelMismatch)
}

func TestPlausibilityCmd_WritesArtefacts(t *testing.T) {
	dir := t.TempDir()
	surface, reference, labels := writePlausibilityInputs(t, dir)

	cfg = &config.Config{}
	cfg.Input.Surface = surface
	cfg.Input.Reference = reference
	cfg.Input.Labels = labels
	cfg.Plausibility.Thresholds = []float64{0.5}
	cfg.Output.Dir = filepath.Join(dir, "out")
	cfg.Output.Workbook = true

	require.NoError(t, plausibilityCmd.RunE(plausibilityCmd, nil))

	assert.FileExists(t, filepath.Join(cfg.Output.Dir, "plausibility.csv"))
	assert.FileExists(t, filepath.Join(cfg.Output.Dir, "plausibility.xlsx"))
	assert.NoFileExists(t, filepath.Join(cfg.Output.Dir, "plausibility.png"))
}
