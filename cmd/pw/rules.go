package main

import (
	"fmt"
	"slices"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/pankaj-dahiya-devops/posture-watch/internal/policy"
	"github.com/pankaj-dahiya-devops/posture-watch/internal/rulepacks/posture"
)

func newRulesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "rules",
		Short: "List the posture rules and the resource kinds they cover",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tNAME\tKINDS\tDOMAIN")
			for _, r := range posture.NewRegistry().All() {
				var kinds, domains []string
				for _, k := range r.Kinds() {
					kinds = append(kinds, string(k))
					if d := k.Domain(); !slices.Contains(domains, d) {
						domains = append(domains, d)
					}
				}
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", r.ID(), r.Name(), strings.Join(kinds, ","), strings.Join(domains, ","))
			}
			return tw.Flush()
		},
	}
}

func newPolicyCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "policy",
		Short: "Work with posture policy files",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "validate FILE",
		Short: "Check a policy file against the known domains and rules",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := policy.LoadPolicy(args[0])
			if err != nil {
				return err
			}
			errs := policy.Validate(cfg, posture.NewRegistry().IDs())
			if len(errs) == 0 {
				fmt.Fprintf(cmd.OutOrStdout(), "%s: OK\n", args[0])
				return nil
			}
			for _, e := range errs {
				fmt.Fprintf(cmd.OutOrStdout(), "%s: %v\n", args[0], e)
			}
			return &exitError{code: 1, err: fmt.Errorf("%d policy error(s)", len(errs))}
		},
	})
	return cmd
}
