package main

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/pankaj-dahiya-devops/posture-watch/internal/dedup"
	"github.com/pankaj-dahiya-devops/posture-watch/internal/output"
	"github.com/pankaj-dahiya-devops/posture-watch/internal/state"
)

func newStateCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "state",
		Short: "Inspect and edit the recorded finding fingerprints",
	}
	cmd.AddCommand(newStateListCmd(opts))
	cmd.AddCommand(newStateClearCmd(opts))
	cmd.AddCommand(newStatePruneCmd(opts))
	return cmd
}

// withState loads the configured store, runs fn against its state and
// saves the result when fn reports a change.
func withState(cmd *cobra.Command, opts *rootOptions, bindings flagBinding, fn func(a *app, st *state.ScanState) (bool, error)) error {
	a, err := opts.loadApp(cmd, bindings)
	if err != nil {
		return err
	}
	store, err := openStore(a.cfg.State)
	if err != nil {
		return err
	}
	defer store.Close()

	st, err := store.Load(cmd.Context())
	if err != nil {
		return err
	}
	changed, err := fn(a, st)
	if err != nil || !changed {
		return err
	}
	return store.Save(cmd.Context(), st)
}

func newStateListCmd(opts *rootOptions) *cobra.Command {
	var format string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List recorded fingerprints",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withState(cmd, opts, nil, func(_ *app, st *state.ScanState) (bool, error) {
				entries := st.Entries()
				switch format {
				case "json":
					enc := json.NewEncoder(cmd.OutOrStdout())
					enc.SetIndent("", "  ")
					if entries == nil {
						entries = []state.Entry{}
					}
					return false, enc.Encode(entries)
				case "table", "":
					output.RenderStateEntries(cmd.OutOrStdout(), entries)
					return false, nil
				}
				return false, fmt.Errorf("unknown format %q", format)
			})
		},
	}
	cmd.Flags().StringVar(&format, "format", "table", "output format: table or json")
	return cmd
}

func newStateClearCmd(opts *rootOptions) *cobra.Command {
	var (
		resource string
		all      bool
	)
	cmd := &cobra.Command{
		Use:   "clear [FINGERPRINT...]",
		Short: "Forget fingerprints so the findings are notified again",
		Long: `Clear removes the named fingerprints, every fingerprint of one resource
(--resource provider:account:kind:id), or everything (--all).`,
		RunE: func(cmd *cobra.Command, args []string) error {
			modes := 0
			for _, set := range []bool{len(args) > 0, resource != "", all} {
				if set {
					modes++
				}
			}
			if modes != 1 {
				return errors.New("give fingerprints, --resource or --all (exactly one)")
			}

			return withState(cmd, opts, nil, func(a *app, st *state.ScanState) (bool, error) {
				d := dedup.New(st, dedup.Options{})
				removed := 0
				switch {
				case all:
					removed = st.DeleteFunc(func(state.Entry) bool { return true })
				case resource != "":
					removed = d.ClearResource(resource)
				default:
					for _, fp := range args {
						if d.Clear(fp) {
							removed++
						} else {
							a.logger.Warn().Str("fingerprint", fp).Msg("fingerprint not found")
						}
					}
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Removed %d fingerprint(s).\n", removed)
				return removed > 0, nil
			})
		},
	}
	cmd.Flags().StringVar(&resource, "resource", "", "clear every fingerprint of this resource key")
	cmd.Flags().BoolVar(&all, "all", false, "clear every fingerprint")
	return cmd
}

func newStatePruneCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "prune",
		Short: "Remove fingerprints older than the suppression expiry",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withState(cmd, opts, flagBinding{"scan.expiry": "expiry"}, func(a *app, st *state.ScanState) (bool, error) {
				if a.cfg.Scan.Expiry <= 0 {
					return false, errors.New("no expiry configured: set scan.expiry or pass --expiry")
				}
				removed := dedup.New(st, dedup.Options{Expiry: a.cfg.Scan.Expiry}).Prune()
				fmt.Fprintf(cmd.OutOrStdout(), "Pruned %d fingerprint(s) older than %s.\n", removed, a.cfg.Scan.Expiry)
				return removed > 0, nil
			})
		},
	}
	cmd.Flags().Duration("expiry", 0, "suppression expiry, e.g. 168h (default scan.expiry)")
	return cmd
}
