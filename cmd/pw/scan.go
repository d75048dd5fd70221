package main

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/pankaj-dahiya-devops/posture-watch/internal/models"
	"github.com/pankaj-dahiya-devops/posture-watch/internal/output"
	"github.com/pankaj-dahiya-devops/posture-watch/internal/policy"
	"github.com/pankaj-dahiya-devops/posture-watch/internal/scanerr"
)

func newScanCmd(opts *rootOptions) *cobra.Command {
	var (
		reportFmt string
		outPath   string
		dryRun    bool
		colored   bool
	)

	cmd := &cobra.Command{
		Use:   "scan",
		Short: "Run one posture scan and notify new findings",
		Long: `Scan lists every bucket, role and instance in scope, evaluates the
posture rules, and notifies each finding that has not been reported before.

Exit status is 2 when a finding reaches the policy enforcement threshold and
3 when the scan timed out before every resource was processed.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := opts.loadApp(cmd, flagBinding{
				"aws.profile":  "profile",
				"aws.regions":  "region",
				"policy.path":  "policy",
				"scan.timeout": "timeout",
			})
			if err != nil {
				return err
			}

			setup, err := buildScanner(cmd.Context(), a, opts.awsProvider(), dryRun, nil)
			if err != nil {
				return err
			}
			defer setup.cleanup()

			report, scanErr := setup.scanner.Run(cmd.Context(), setup.request)
			if report == nil {
				return fmt.Errorf("scan failed: %w", scanErr)
			}

			if outPath != "" {
				if err := writeReportToFile(outPath, report); err != nil {
					return err
				}
			}
			if err := renderReport(cmd.OutOrStdout(), report, reportFmt, colored); err != nil {
				return err
			}

			return scanExit(report, scanErr, setup.policy)
		},
	}

	cmd.Flags().String("profile", "", "AWS profile name (default: credential chain)")
	cmd.Flags().StringSlice("region", nil, "AWS region(s) to scan (default: all enabled regions)")
	cmd.Flags().String("policy", "", "policy file (default ./pw.yaml when present)")
	cmd.Flags().Duration("timeout", 0, "overall scan timeout, e.g. 10m")
	cmd.Flags().StringVar(&reportFmt, "report", "table", "output format: table or json")
	cmd.Flags().StringVar(&outPath, "output", "", "also write the JSON report to this file")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "log findings instead of notifying and leave state untouched")
	cmd.Flags().BoolVar(&colored, "color", false, "color severities in table output")
	return cmd
}

func renderReport(w io.Writer, report *models.ScanReport, format string, colored bool) error {
	switch format {
	case "json":
		return output.WriteJSON(w, report)
	case "table", "":
		output.RenderReport(w, report, output.TableOptions{Colored: colored, IncludeStatus: true})
		return nil
	}
	return fmt.Errorf("unknown report format %q", format)
}

// writeReportToFile writes report as indented JSON to path, creating or
// overwriting the file. It does not affect stdout output.
func writeReportToFile(path string, report *models.ScanReport) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create report file %q: %w", path, err)
	}
	if err := output.WriteJSON(f, report); err != nil {
		f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("write report file %q: %w", path, err)
	}
	return nil
}

// scanExit maps a finished scan onto the process exit status. A timeout
// takes precedence over enforcement; other scan errors exit 1.
func scanExit(report *models.ScanReport, scanErr error, pol *policy.PolicyConfig) error {
	switch {
	case scanErr == nil:
	case errors.Is(scanErr, scanerr.ErrScanTimeout):
		return &exitError{code: exitTimeout, err: scanErr}
	default:
		return scanErr
	}
	if policy.ShouldFailScan(report.Findings, pol) {
		return &exitError{code: exitEnforcement, err: errors.New("policy enforcement threshold reached")}
	}
	return nil
}
