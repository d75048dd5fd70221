package main

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"

	"github.com/pankaj-dahiya-devops/posture-watch/internal/metrics"
	"github.com/pankaj-dahiya-devops/posture-watch/internal/watch"
)

func newWatchCmd(opts *rootOptions) *cobra.Command {
	var runNow bool

	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Scan on a schedule and serve health and metrics endpoints",
		Long: `Watch runs a scan every time the schedule fires. Ticks that arrive while
a scan is still running are skipped. The HTTP server exposes /healthz,
/metrics and /v1/scans/last.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := opts.loadApp(cmd, flagBinding{
				"aws.profile":    "profile",
				"aws.regions":    "region",
				"policy.path":    "policy",
				"watch.schedule": "schedule",
				"watch.listen":   "listen",
			})
			if err != nil {
				return err
			}

			reg := prometheus.NewRegistry()
			reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
			m := metrics.New(reg)

			setup, err := buildScanner(cmd.Context(), a, opts.awsProvider(), false, m)
			if err != nil {
				return err
			}
			defer setup.cleanup()

			w, err := watch.New(setup.scanner, watch.Options{
				Schedule:   a.cfg.Watch.Schedule,
				Listen:     a.cfg.Watch.Listen,
				RunOnStart: runNow,
				Request:    setup.request,
				Logger:     a.logger,
				Metrics:    m,
			})
			if err != nil {
				return err
			}
			return w.Run(cmd.Context())
		},
	}

	cmd.Flags().String("profile", "", "AWS profile name (default: credential chain)")
	cmd.Flags().StringSlice("region", nil, "AWS region(s) to scan (default: all enabled regions)")
	cmd.Flags().String("policy", "", "policy file (default ./pw.yaml when present)")
	cmd.Flags().String("schedule", "", `cron schedule, e.g. "*/30 * * * *" or "@every 1h"`)
	cmd.Flags().String("listen", "", `HTTP listen address, e.g. ":9090" (empty disables)`)
	cmd.Flags().BoolVar(&runNow, "run-now", false, "run one scan immediately on start")
	return cmd
}
