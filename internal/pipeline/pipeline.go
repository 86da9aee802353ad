// Package pipeline runs the stages of a suitability analysis in order and
// records their progress in the run store.
package pipeline

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/habitat-cli/internal/background"
	"github.com/sells-group/habitat-cli/internal/classifier"
	"github.com/sells-group/habitat-cli/internal/config"
	"github.com/sells-group/habitat-cli/internal/grid"
	"github.com/sells-group/habitat-cli/internal/model"
	"github.com/sells-group/habitat-cli/internal/plausibility"
	"github.com/sells-group/habitat-cli/internal/region"
	"github.com/sells-group/habitat-cli/internal/sample"
	"github.com/sells-group/habitat-cli/internal/store"
	"github.com/sells-group/habitat-cli/internal/suitability"
	"github.com/sells-group/habitat-cli/internal/trajectory"
)

// ErrNoPresences is returned when no cell passes the dwell filter.
var ErrNoPresences = eris.New("pipeline: no presence samples")

// errSkipped marks a stage whose optional work did not apply.
var errSkipped = eris.New("pipeline: phase skipped")

// Pipeline orchestrates reduce, label, sample, train, test and export.
type Pipeline struct {
	cfg   *config.Config
	store store.Store
	// NewClassifier creates the fold models. Defaults to logistic
	// regression with the configured options.
	NewClassifier classifier.Factory
}

// New creates a Pipeline. st may be nil to run without run history.
func New(cfg *config.Config, st store.Store) *Pipeline {
	return &Pipeline{
		cfg:           cfg,
		store:         st,
		NewClassifier: classifier.NewLogisticFactory(cfg.Train.Logistic),
	}
}

// Output is everything a run produced.
type Output struct {
	RunID      string
	Visits     []trajectory.VisitRecord
	Dwell      *grid.Raster
	Presences  []sample.Sample
	Background *background.Result
	Train      *suitability.Result
	Masks      *grid.Stack
	Report     *plausibility.Report
	Files      map[string]string
	Warnings   []string
	Phases     []model.PhaseResult
}

// Samples returns presences followed by absences.
func (o *Output) Samples() []sample.Sample {
	out := append([]sample.Sample(nil), o.Presences...)
	if o.Background != nil {
		out = append(out, o.Background.Samples...)
	}
	return out
}

// run carries per-run bookkeeping between stages.
type run struct {
	id  string
	log *zap.Logger
	out *Output
}

// Run executes every stage for one trajectory. A failing stage marks the
// run failed and its error is returned unchanged.
func (p *Pipeline) Run(ctx context.Context, in *Inputs) (*Output, error) {
	log := zap.L().With(zap.String("trajectory", in.Trajectory.ID))
	log.Info("pipeline: starting run")
	start := time.Now()

	r := &run{log: log, out: &Output{Files: make(map[string]string)}}

	if p.store != nil {
		rec, err := p.store.CreateRun(ctx, p.runInput(in))
		if err != nil {
			return nil, eris.Wrap(err, "pipeline: create run")
		}
		r.id = rec.ID
		r.out.RunID = rec.ID
		r.log = log.With(zap.String("run_id", rec.ID))
	}

	out := r.out
	var labeled []sample.Sample

	err := p.stage(ctx, r, model.RunStatusReducing, "reduce", func() (map[string]any, error) {
		visits, err := trajectory.Reduce(in.Trajectory, &in.Stack.Grid, trajectory.Options{Strict: p.cfg.Reduce.Strict})
		if err != nil {
			return nil, err
		}
		out.Visits = visits
		out.Dwell = trajectory.DwellRaster(visits, in.Stack.Grid)
		out.Presences = trajectory.PresenceSamples(visits, time.Duration(p.cfg.Reduce.MinDwellSecs)*time.Second)
		if len(out.Presences) == 0 {
			return nil, eris.Wrapf(ErrNoPresences, "pipeline: %d visits, min dwell %ds", len(visits), p.cfg.Reduce.MinDwellSecs)
		}
		return map[string]any{"visits": len(visits), "presences": len(out.Presences)}, nil
	})
	if err != nil {
		return out, err
	}

	err = p.stage(ctx, r, model.RunStatusLabeling, "label", func() (map[string]any, error) {
		var err error
		labeled, err = region.Label(out.Presences, p.cfg.Region.Radius)
		if err != nil {
			return nil, err
		}
		out.Presences = labeled
		sizes := region.Sizes(labeled)
		return map[string]any{"regions": len(sizes), "region_sizes": sizes, "radius": p.cfg.Region.Radius}, nil
	})
	if err != nil {
		return out, err
	}

	err = p.stage(ctx, r, model.RunStatusSampling, "sample", func() (map[string]any, error) {
		res, err := background.Sample(labeled, in.Stack, p.cfg.Background)
		if err != nil {
			return nil, err
		}
		out.Background = res
		if res.Warning != nil {
			out.Warnings = append(out.Warnings, res.Warning.Error())
		}
		return map[string]any{
			"method":     string(p.cfg.Background.Method),
			"requested":  res.Requested,
			"drawn":      len(res.Samples),
			"available":  res.Available,
			"relaxed":    res.Relaxed,
			"degenerate": res.Degenerate,
		}, nil
	})
	if err != nil {
		return out, err
	}

	err = p.stage(ctx, r, model.RunStatusTraining, "train", func() (map[string]any, error) {
		ds, err := suitability.NewDataset(in.Stack, labeled, out.Background.Samples)
		if err != nil {
			return nil, err
		}
		mode, err := suitability.ParseSurfaceMode(p.cfg.Train.SurfaceMode)
		if err != nil {
			return nil, err
		}
		tr := suitability.NewTrainer(p.NewClassifier)
		tr.Threshold = p.cfg.Train.Threshold
		tr.Seed = p.cfg.Train.Seed
		tr.Workers = p.cfg.Train.Workers
		tr.SurfaceMode = mode

		res, err := tr.Train(ctx, ds, in.Stack)
		if err != nil {
			return nil, err
		}
		out.Train = res
		for _, w := range res.Scores.Warnings() {
			out.Warnings = append(out.Warnings, w.Error())
		}
		meta := map[string]any{"folds": len(res.Folds), "surface_mode": string(mode)}
		for _, row := range res.Scores {
			if s := model.Score(row.F1); s != nil {
				meta[string(row.Class)+"_f1"] = *s
			}
		}
		return meta, nil
	})
	if err != nil {
		return out, err
	}

	err = p.stage(ctx, r, model.RunStatusTesting, "test", func() (map[string]any, error) {
		masks, err := suitability.MaskStack(out.Train.Surface, p.cfg.Plausibility.Thresholds)
		if err != nil {
			return nil, err
		}
		out.Masks = masks
		if in.Reference == nil {
			return map[string]any{"masks": masks.NumBands(), "reference": false}, errSkipped
		}
		rep, err := plausibility.Test(plausibility.MasksFromStack(masks), in.Reference, in.Labels)
		if err != nil {
			return nil, err
		}
		out.Report = rep
		return map[string]any{"masks": masks.NumBands(), "categories": len(rep.Categories)}, nil
	})
	if err != nil {
		return out, err
	}

	err = p.stage(ctx, r, model.RunStatusExporting, "export", func() (map[string]any, error) {
		if err := p.writeArtefacts(in, out); err != nil {
			return nil, err
		}
		meta := map[string]any{"files": len(out.Files), "dir": p.cfg.Output.Dir}
		if p.store != nil {
			n, err := p.store.SaveSamples(ctx, r.id, out.Samples())
			if err != nil {
				return nil, err
			}
			meta["samples_saved"] = n
		}
		return meta, nil
	})
	if err != nil {
		return out, err
	}

	if p.store != nil {
		result := p.runResult(out, time.Since(start))
		if err := p.store.CompleteRun(ctx, r.id, result); err != nil {
			r.log.Warn("pipeline: failed to save run result", zap.Error(err))
		}
	}

	presenceF1, _ := out.Train.Scores.Row(sample.Presence)
	r.log.Info("pipeline: run complete",
		zap.Int("visits", len(out.Visits)),
		zap.Int("presences", len(out.Presences)),
		zap.Int("absences", len(out.Background.Samples)),
		zap.Int("folds", len(out.Train.Folds)),
		zap.Float64("presence_f1", presenceF1.F1),
		zap.Int("warnings", len(out.Warnings)),
		zap.Duration("elapsed", time.Since(start)),
	)
	return out, nil
}

// stage runs fn as one tracked phase. On failure the run is marked failed
// at status.
func (p *Pipeline) stage(ctx context.Context, r *run, status model.RunStatus, name string, fn func() (map[string]any, error)) error {
	if err := ctx.Err(); err != nil {
		p.fail(ctx, r, status, err)
		return eris.Wrapf(err, "pipeline: %s", name)
	}

	var phase *model.RunPhase
	if p.store != nil {
		if err := p.store.UpdateRunStatus(ctx, r.id, status); err != nil {
			r.log.Warn("pipeline: failed to update status", zap.Error(err))
		}
		var err error
		phase, err = p.store.CreatePhase(ctx, r.id, name)
		if err != nil {
			r.log.Warn("pipeline: failed to create phase", zap.String("phase", name), zap.Error(err))
		}
	}

	start := time.Now()
	meta, fnErr := fn()
	result := model.PhaseResult{
		Name:     name,
		Status:   model.PhaseStatusComplete,
		Duration: time.Since(start).Milliseconds(),
		Metadata: meta,
	}

	if eris.Is(fnErr, errSkipped) {
		fnErr = nil
		result.Status = model.PhaseStatusSkipped
		r.log.Info("pipeline: phase skipped", zap.String("phase", name))
	} else if fnErr != nil {
		result.Status = model.PhaseStatusFailed
		result.Error = fnErr.Error()
		r.log.Error("pipeline: phase failed",
			zap.String("phase", name),
			zap.Int64("duration_ms", result.Duration),
			zap.Error(fnErr),
		)
	} else {
		r.log.Info("pipeline: phase complete",
			zap.String("phase", name),
			zap.Int64("duration_ms", result.Duration),
		)
	}

	if phase != nil {
		if err := p.store.CompletePhase(ctx, phase.ID, &result); err != nil {
			r.log.Warn("pipeline: failed to complete phase", zap.String("phase", name), zap.Error(err))
		}
	}
	r.out.Phases = append(r.out.Phases, result)

	if fnErr != nil {
		p.fail(ctx, r, status, fnErr)
	}
	return fnErr
}

func (p *Pipeline) fail(ctx context.Context, r *run, status model.RunStatus, cause error) {
	if p.store == nil {
		return
	}
	// Record the failure even when ctx is cancelled.
	err := p.store.FailRun(context.WithoutCancel(ctx), r.id, &model.RunError{Message: cause.Error(), Stage: status})
	if err != nil {
		r.log.Warn("pipeline: failed to mark run failed", zap.Error(err))
	}
}

func (p *Pipeline) runInput(in *Inputs) model.RunInput {
	return model.RunInput{
		TrajectoryID:   in.Trajectory.ID,
		TrajectoryPath: in.TrajectoryPath,
		Predictors:     in.PredictorPaths,
		ReferencePath:  in.ReferencePath,
		Method:         string(p.cfg.Background.Method),
		Radius:         p.cfg.Region.Radius,
		Seed:           p.cfg.Background.Seed,
	}
}

func (p *Pipeline) runResult(out *Output, elapsed time.Duration) *model.RunResult {
	res := &model.RunResult{
		Visits:     len(out.Visits),
		Presences:  len(out.Presences),
		Regions:    len(region.Regions(out.Presences)),
		Absences:   len(out.Background.Samples),
		Degenerate: out.Background.Degenerate,
		Relaxed:    out.Background.Relaxed,
		Folds:      len(out.Train.Folds),
		Warnings:   out.Warnings,
		OutputDir:  p.cfg.Output.Dir,
		DurationMs: elapsed.Milliseconds(),
		Phases:     out.Phases,
	}
	if row, ok := out.Train.Scores.Row(sample.Presence); ok {
		res.PresenceF1 = model.Score(row.F1)
	}
	if row, ok := out.Train.Scores.Row(sample.Absence); ok {
		res.AbsenceF1 = model.Score(row.F1)
	}
	return res
}
