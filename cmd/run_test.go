package main

import (
	"bytes"
	"context"
	"math"
	"strings"
	"testing"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/habitat-cli/internal/background"
	"github.com/sells-group/habitat-cli/internal/config"
	"github.com/sells-group/habitat-cli/internal/pipeline"
	"github.com/sells-group/habitat-cli/internal/sample"
	"github.com/sells-group/habitat-cli/internal/suitability"
)

func testFlags() *pflag.FlagSet {
	f := pflag.NewFlagSet("test", pflag.ContinueOnError)
	f.String("trajectory", "", "")
	f.StringSlice("predictors", nil, "")
	f.Float64("radius", 0, "")
	f.String("method", "", "")
	f.Int("workers", 0, "")
	f.Float64Slice("thresholds", nil, "")
	return f
}

func TestApplyInputFlags_OnlyChanged(t *testing.T) {
	c := &config.Config{}
	c.Input.Trajectory = "from-config.csv"
	c.Region.Radius = 100
	c.Train.Workers = 4

	f := testFlags()
	require.NoError(t, f.Parse([]string{"--radius=250", "--predictors=a.asc,b.asc", "--thresholds=0.4,0.8"}))
	require.NoError(t, applyInputFlags(f, c))

	assert.Equal(t, "from-config.csv", c.Input.Trajectory)
	assert.InDelta(t, 250.0, c.Region.Radius, 1e-9)
	assert.Equal(t, []string{"a.asc", "b.asc"}, c.Input.Predictors)
	assert.Equal(t, []float64{0.4, 0.8}, c.Plausibility.Thresholds)
	assert.Equal(t, 4, c.Train.Workers)
}

func TestApplyInputFlags_Method(t *testing.T) {
	c := &config.Config{}
	f := testFlags()
	require.NoError(t, f.Parse([]string{"--method=random"}))
	require.NoError(t, applyInputFlags(f, c))
	assert.Equal(t, background.MethodRandom, c.Background.Method)

	f = testFlags()
	require.NoError(t, f.Parse([]string{"--method=nearest"}))
	assert.Error(t, applyInputFlags(f, c))
}

func TestRunCmd_MethodUsageParses(t *testing.T) {
	usage := runCmd.Flags().Lookup("method").Usage
	open, end := strings.Index(usage, "("), strings.Index(usage, ")")
	require.True(t, open >= 0 && end > open, usage)

	for _, name := range strings.Split(usage[open+1:end], ",") {
		name = strings.TrimSpace(name)
		c := &config.Config{}
		f := testFlags()
		require.NoError(t, f.Parse([]string{"--method=" + name}))
		require.NoError(t, applyInputFlags(f, c), name)
		assert.Equal(t, background.Method(name), c.Background.Method)
	}
	assert.Contains(t, usage, string(background.MethodFeatureDistance))
}

func TestApplyInputFlags_GridReplacesPredictors(t *testing.T) {
	c := &config.Config{}
	c.Input.Predictors = []string{"a.asc", "b.asc"}

	f := pflag.NewFlagSet("reduce", pflag.ContinueOnError)
	f.String("grid", "", "")
	require.NoError(t, f.Parse([]string{"--grid=dem.asc"}))
	require.NoError(t, applyInputFlags(f, c))
	assert.Equal(t, []string{"dem.asc"}, c.Input.Predictors)
}

func TestRunCmd_RunE_FailsOnValidation(t *testing.T) {
	cfg = &config.Config{Store: config.StoreConfig{Driver: "none"}}

	runCmd.SetContext(context.Background())
	defer runCmd.SetContext(context.TODO())

	err := runCmd.RunE(runCmd, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "input.trajectory is required")
}

func TestFormatRunOutput(t *testing.T) {
	out := &pipeline.Output{
		RunID:      "run-1",
		Presences:  make([]sample.Sample, 3),
		Background: &background.Result{Samples: make([]sample.Sample, 3)},
		Train: &suitability.Result{Scores: suitability.ScoreTable{
			{Class: sample.Presence, Counts: suitability.Counts{TP: 2, FN: 1}, Precision: 1, Recall: 2.0 / 3.0, F1: 0.8},
			{Class: sample.Absence, Precision: math.NaN(), Recall: math.NaN(), F1: math.NaN()},
		}},
		Warnings: []string{"background: pool smaller than requested"},
		Files:    map[string]string{"surface": "out/surface.asc", "dwell": "out/dwell.asc"},
	}

	var buf bytes.Buffer
	formatRunOutput(&buf, out)
	s := buf.String()

	assert.Contains(t, s, "run-1")
	assert.Contains(t, s, "CLASS")
	assert.Contains(t, s, "0.800")
	assert.Contains(t, s, "n/a")
	assert.Contains(t, s, "warning: background: pool smaller than requested")
	assert.Less(t, strings.Index(s, "out/dwell.asc"), strings.Index(s, "out/surface.asc"))
}
