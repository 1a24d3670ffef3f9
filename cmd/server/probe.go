package main

import (
	"encoding/json"
	"errors"
	"os"
	"time"

	"github.com/spf13/cobra"

	"medgate/internal/health"
	"medgate/internal/platform/config"
	"medgate/internal/platform/logger"
)

func probeCmd(load func() (*config.Config, error)) *cobra.Command {
	return &cobra.Command{
		Use:   "probe",
		Short: "Run the health checks once and exit non-zero when not ready",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := load()
			if err != nil {
				return err
			}
			log := logger.New(cfg.Log.Level, cfg.Log.Format)

			in, err := openInfra(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer in.close()

			probe := health.NewProbe(
				health.StandardChecks(cfg.Health, in.healthDeps(health.NewErrorTracker(time.Hour))),
				health.WithCheckTimeout(cfg.Health.CheckTimeout),
				health.WithLogger(log),
			)
			report := probe.Run(cmd.Context())

			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			if err := enc.Encode(report); err != nil {
				return err
			}
			if !report.Ready() {
				return errors.New("service is not ready: " + string(report.Status))
			}
			return nil
		},
	}
}
