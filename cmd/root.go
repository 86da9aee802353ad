package main

import (
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/habitat-cli/internal/config"
)

var cfg *config.Config

var rootCmd = &cobra.Command{
	Use:   "habitat-cli",
	Short: "Habitat suitability modelling from animal trajectories",
	Long:  "Reduces GPS trajectories to dwell-time presences, samples pseudo-absences, cross-validates a suitability model by spatial region and tests the resulting masks against a reference land-cover layer.",
	PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
		path, _ := cmd.Flags().GetString("config")
		c, err := config.LoadFile(path)
		if err != nil {
			return eris.Wrap(err, "load config")
		}
		cfg = c

		if err := applyLogFlags(cmd, &cfg.Log); err != nil {
			return err
		}
		if err := config.InitLogger(cfg.Log); err != nil {
			return eris.Wrap(err, "init logger")
		}
		zap.L().Debug("config loaded", zap.String("file", path), zap.String("store", cfg.Store.Driver))
		return nil
	},
	PersistentPostRun: func(_ *cobra.Command, _ []string) {
		_ = zap.L().Sync()
	},
}

// applyLogFlags lets --log-level and --log-format win over config and env.
func applyLogFlags(cmd *cobra.Command, lc *config.LogConfig) error {
	for name, dst := range map[string]*string{"log-level": &lc.Level, "log-format": &lc.Format} {
		f := cmd.Flags().Lookup(name)
		if f == nil || !f.Changed {
			continue
		}
		*dst = f.Value.String()
	}
	if lc.Format != "" && lc.Format != "json" && lc.Format != "console" {
		return eris.Errorf("flag --log-format: want json or console, got %q", lc.Format)
	}
	return nil
}

func init() {
	rootCmd.PersistentFlags().String("config", "", "config file (default ./config.yaml)")
	rootCmd.PersistentFlags().String("log-level", "", "log level override (debug, info, warn, error)")
	rootCmd.PersistentFlags().String("log-format", "", "log format override (json, console)")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
