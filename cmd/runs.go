package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"
	"text/tabwriter"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/habitat-cli/internal/model"
	"github.com/sells-group/habitat-cli/internal/store"
)

var runsCmd = &cobra.Command{
	Use:   "runs",
	Short: "Inspect suitability run history",
	Long:  "Commands for listing, viewing, and summarizing suitability runs.",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if err := rootCmd.PersistentPreRunE(cmd, args); err != nil {
			return err
		}
		return cfg.Validate("runs")
	},
}

// openRunStore opens the configured store; runs commands need one.
func openRunStore(ctx context.Context) (store.Store, error) {
	st, err := initStore(ctx)
	if err != nil {
		return nil, err
	}
	if st == nil {
		return nil, eris.New("runs: store driver none keeps no run history")
	}
	return st, nil
}

// -- runs list --

var runsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List suitability runs",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		st, err := openRunStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		status, _ := cmd.Flags().GetString("status")
		trajectoryID, _ := cmd.Flags().GetString("trajectory")
		limit, _ := cmd.Flags().GetInt("limit")
		offset, _ := cmd.Flags().GetInt("offset")

		filter := store.RunFilter{
			Status:       model.RunStatus(status),
			TrajectoryID: trajectoryID,
			Limit:        limit,
			Offset:       offset,
		}

		runs, err := st.ListRuns(ctx, filter)
		if err != nil {
			return eris.Wrap(err, "runs list")
		}

		if len(runs) == 0 {
			fmt.Fprintln(os.Stderr, "No runs found.")
			return nil
		}

		formatRunsList(os.Stdout, runs)
		return nil
	},
}

// -- runs show --

// runDetail is the JSON document printed by runs show.
type runDetail struct {
	*model.Run
	Phases []model.RunPhase `json:"phases"`
}

var runsShowCmd = &cobra.Command{
	Use:   "show <run-id>",
	Short: "Show full details of a run",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		st, err := openRunStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		run, err := st.GetRun(ctx, args[0])
		if err != nil {
			return eris.Wrap(err, "runs show")
		}
		phases, err := st.ListPhases(ctx, run.ID)
		if err != nil {
			return eris.Wrap(err, "runs show: phases")
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(runDetail{Run: run, Phases: phases})
	},
}

// -- runs stats --

var runsStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show aggregate run statistics",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		st, err := openRunStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		since, _ := cmd.Flags().GetDuration("since")
		filter := store.RunFilter{}
		if since > 0 {
			filter.CreatedAfter = time.Now().Add(-since)
		}
		filter.Limit = 10000 // high limit for stats

		runs, err := st.ListRuns(ctx, filter)
		if err != nil {
			return eris.Wrap(err, "runs stats")
		}

		stats := computeRunStats(runs)
		formatRunStats(os.Stdout, stats)
		return nil
	},
}

func init() {
	runsListCmd.Flags().String("status", "", "filter by run status (reducing, training, complete, failed, ...)")
	runsListCmd.Flags().String("trajectory", "", "filter by trajectory id")
	runsListCmd.Flags().Int("limit", 50, "max number of runs to display")
	runsListCmd.Flags().Int("offset", 0, "number of runs to skip")

	runsStatsCmd.Flags().Duration("since", 7*24*time.Hour, "time window for stats (e.g. 24h, 168h)")

	runsCmd.AddCommand(runsListCmd)
	runsCmd.AddCommand(runsShowCmd)
	runsCmd.AddCommand(runsStatsCmd)
	rootCmd.AddCommand(runsCmd)
}

// runStats holds aggregate statistics computed from a set of runs.
type runStats struct {
	Total    int
	Complete int
	Failed   int
	Other    int
	// FailedByStage counts failed runs by the stage they stopped in.
	FailedByStage map[model.RunStatus]int
	AvgDurSecs    float64
	// AvgPresenceF1 averages the defined presence F1 of complete runs.
	AvgPresenceF1 float64
	ScoredRuns    int
}

// computeRunStats computes aggregate statistics from a list of runs.
func computeRunStats(runs []model.Run) runStats {
	s := runStats{Total: len(runs), FailedByStage: make(map[model.RunStatus]int)}

	var totalDur time.Duration
	var durCount int
	var f1Sum float64

	for _, r := range runs {
		switch r.Status {
		case model.RunStatusComplete:
			s.Complete++
			totalDur += r.UpdatedAt.Sub(r.CreatedAt)
			durCount++
			if r.Result != nil && r.Result.PresenceF1 != nil {
				f1Sum += *r.Result.PresenceF1
				s.ScoredRuns++
			}
		case model.RunStatusFailed:
			s.Failed++
			stage := model.RunStatus("unknown")
			if r.Error != nil && r.Error.Stage != "" {
				stage = r.Error.Stage
			}
			s.FailedByStage[stage]++
		default:
			s.Other++
		}
	}

	if durCount > 0 {
		s.AvgDurSecs = totalDur.Seconds() / float64(durCount)
	}
	if s.ScoredRuns > 0 {
		s.AvgPresenceF1 = f1Sum / float64(s.ScoredRuns)
	}
	return s
}

// formatRunsList writes a tabular list of runs to w.
func formatRunsList(out io.Writer, runs []model.Run) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "ID\tTRAJECTORY\tSTATUS\tSTAGE\tPRESENCE_F1\tCREATED\tDURATION")
	_, _ = fmt.Fprintln(w, "--\t----------\t------\t-----\t-----------\t-------\t--------")

	for _, r := range runs {
		dur := "running"
		if r.Status.Terminal() {
			dur = r.UpdatedAt.Sub(r.CreatedAt).Round(time.Second).String()
		}

		stage := ""
		if r.Error != nil {
			stage = string(r.Error.Stage)
		}

		f1 := ""
		if r.Result != nil {
			f1 = "n/a"
			if r.Result.PresenceF1 != nil {
				f1 = fmt.Sprintf("%.3f", *r.Result.PresenceF1)
			}
		}

		traj := r.Input.TrajectoryID
		if len(traj) > 30 {
			traj = traj[:27] + "..."
		}

		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			truncateID(r.ID),
			traj,
			r.Status,
			stage,
			f1,
			r.CreatedAt.Format("2006-01-02 15:04"),
			dur,
		)
	}
	_ = w.Flush()
}

// formatRunStats writes aggregate stats to w.
func formatRunStats(out io.Writer, s runStats) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintf(w, "Total runs:\t%d\n", s.Total)
	_, _ = fmt.Fprintf(w, "Complete:\t%d\n", s.Complete)
	_, _ = fmt.Fprintf(w, "Failed:\t%d\n", s.Failed)

	stages := make([]string, 0, len(s.FailedByStage))
	for st := range s.FailedByStage {
		stages = append(stages, string(st))
	}
	sort.Strings(stages)
	for _, st := range stages {
		_, _ = fmt.Fprintf(w, "  %s:\t%d\n", st, s.FailedByStage[model.RunStatus(st)])
	}

	_, _ = fmt.Fprintf(w, "Other:\t%d\n", s.Other)
	if s.AvgDurSecs > 0 {
		_, _ = fmt.Fprintf(w, "Avg duration:\t%.1fs\n", s.AvgDurSecs)
	}
	if s.ScoredRuns > 0 {
		_, _ = fmt.Fprintf(w, "Avg presence F1:\t%.3f (%d runs)\n", s.AvgPresenceF1, s.ScoredRuns)
	}
	_ = w.Flush()
}

// truncateID returns the first 8 characters of a UUID for compact display.
func truncateID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
