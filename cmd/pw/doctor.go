package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"google.golang.org/api/option"

	"github.com/pankaj-dahiya-devops/posture-watch/internal/config"
	gcpstorage "github.com/pankaj-dahiya-devops/posture-watch/internal/providers/gcp/storage"
)

// DoctorResult is the structured output of pw doctor. It can be serialised
// to JSON via --format=json or rendered as a table (default).
type DoctorResult struct {
	Config struct {
		Path  string `json:"path,omitempty"`
		Valid bool   `json:"valid"`
		Error string `json:"error,omitempty"`
	} `json:"config"`

	AWS struct {
		Enabled     bool   `json:"enabled"`
		Profile     string `json:"profile,omitempty"`
		Profiles    int    `json:"profiles_found"`
		Credentials bool   `json:"credentials_ok"`
		AccountID   string `json:"account_id,omitempty"`
		RegionsOK   bool   `json:"regions_ok"`
		Regions     int    `json:"regions,omitempty"`
		Error       string `json:"error,omitempty"`
	} `json:"aws"`

	GCP struct {
		Enabled  bool   `json:"enabled"`
		Project  string `json:"project,omitempty"`
		ClientOK bool   `json:"client_ok"`
		Error    string `json:"error,omitempty"`
	} `json:"gcp"`

	State struct {
		Backend  string `json:"backend,omitempty"`
		Path     string `json:"path,omitempty"`
		Readable bool   `json:"readable"`
		Entries  int    `json:"entries"`
		Error    string `json:"error,omitempty"`
	} `json:"state"`

	Policy struct {
		Present bool   `json:"present"`
		Valid   bool   `json:"valid"`
		Error   string `json:"error,omitempty"`
	} `json:"policy"`

	Notify struct {
		Channel string `json:"channel,omitempty"`
	} `json:"notify"`

	OverallHealthy bool `json:"overall_healthy"`
}

// gcpCheck builds and closes a storage client for project.
type gcpCheck func(ctx context.Context, cfg config.GCPConfig) error

func defaultGCPCheck(ctx context.Context, cfg config.GCPConfig) error {
	var opts []option.ClientOption
	if cfg.CredentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(cfg.CredentialsFile))
	}
	e, err := gcpstorage.NewEnumerator(ctx, cfg.Project, gcpstorage.Options{}, opts...)
	if err != nil {
		return err
	}
	return e.Close()
}

func newDoctorCmd(opts *rootOptions) *cobra.Command {
	var format string
	cmd := &cobra.Command{
		Use:   "doctor",
		Short: "Check configuration, credentials, state and policy",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			result := opts.collectDoctorResult(cmd, defaultGCPCheck)
			if err := renderDoctor(cmd.OutOrStdout(), result, format); err != nil {
				return err
			}
			if !result.OverallHealthy {
				return &exitError{code: 1}
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&format, "format", "table", `output format: "table" or "json"`)
	cmd.Flags().String("profile", "", "AWS profile to check (default: credential chain)")
	return cmd
}

// collectDoctorResult runs every check. It never fails; problems are
// recorded in the result.
func (o *rootOptions) collectDoctorResult(cmd *cobra.Command, check gcpCheck) DoctorResult {
	var result DoctorResult
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	a, err := o.loadApp(cmd, flagBinding{"aws.profile": "profile"})
	if err != nil {
		result.Config.Error = err.Error()
		return result
	}
	cfg := a.cfg
	result.Config.Path = a.path
	result.Config.Valid = true

	// AWS: credentials, STS account, region discovery.
	if cfg.AWS.Enabled {
		result.AWS.Enabled = true
		result.AWS.Profile = cfg.AWS.Profile
		provider := o.awsProvider()
		if names, err := provider.ProfileNames(); err == nil {
			result.AWS.Profiles = len(names)
		}
		pcfg, err := provider.LoadProfile(ctx, cfg.AWS.Profile, homeRegion(cfg.AWS.Regions))
		if err != nil {
			result.AWS.Error = err.Error()
		} else {
			result.AWS.Credentials = true
			result.AWS.AccountID = pcfg.AccountID
			if regions, err := provider.GetActiveRegions(ctx, pcfg); err != nil {
				result.AWS.Error = err.Error()
			} else {
				result.AWS.RegionsOK = true
				result.AWS.Regions = len(regions)
			}
		}
	}

	if cfg.GCP.Enabled {
		result.GCP.Enabled = true
		result.GCP.Project = cfg.GCP.Project
		if err := check(ctx, cfg.GCP); err != nil {
			result.GCP.Error = err.Error()
		} else {
			result.GCP.ClientOK = true
		}
	}

	result.State.Backend = cfg.State.Backend
	result.State.Path = cfg.State.Path
	if store, err := openStore(cfg.State); err != nil {
		result.State.Error = err.Error()
	} else {
		if st, err := store.Load(ctx); err != nil {
			result.State.Error = err.Error()
		} else {
			result.State.Readable = true
			result.State.Entries = st.Len()
		}
		_ = store.Close()
	}

	// Policy is optional; loadPolicy returns nil when no file exists.
	path := cfg.Policy.Path
	if path == "" {
		if _, err := os.Stat(defaultPolicyFile); err == nil {
			path = defaultPolicyFile
		}
	}
	if path != "" {
		result.Policy.Present = true
		if _, err := loadPolicy(path); err != nil {
			result.Policy.Error = err.Error()
		} else {
			result.Policy.Valid = true
		}
	}

	result.Notify.Channel = cfg.Notify.Channel

	result.OverallHealthy = result.Config.Valid &&
		(!result.AWS.Enabled || (result.AWS.Credentials && result.AWS.RegionsOK)) &&
		(!result.GCP.Enabled || result.GCP.ClientOK) &&
		result.State.Readable &&
		(!result.Policy.Present || result.Policy.Valid)
	return result
}

func renderDoctor(w io.Writer, result DoctorResult, format string) error {
	switch format {
	case "json":
		if err := json.NewEncoder(w).Encode(result); err != nil {
			return fmt.Errorf("encode doctor result: %w", err)
		}
		return nil
	case "table", "":
		renderDoctorTable(w, result)
		return nil
	}
	return fmt.Errorf("unknown format %q", format)
}

func renderDoctorTable(w io.Writer, result DoctorResult) {
	fmt.Fprintln(w, "Environment Diagnostics")

	fmt.Fprintln(w, "\nConfig:")
	if !result.Config.Valid {
		doctorPrint(w, "Config", "FAIL", result.Config.Error)
		return
	}
	if result.Config.Path != "" {
		doctorPrint(w, "Config", "OK", result.Config.Path)
	} else {
		doctorPrint(w, "Config", "OK", "defaults")
	}

	if result.AWS.Enabled {
		if result.AWS.Profile != "" {
			fmt.Fprintf(w, "\nAWS (profile: %s):\n", result.AWS.Profile)
		} else {
			fmt.Fprintln(w, "\nAWS:")
		}
		doctorPrint(w, "Shared profiles", fmt.Sprint(result.AWS.Profiles), "")
		if !result.AWS.Credentials {
			doctorPrint(w, "Credentials", "FAIL", result.AWS.Error)
			doctorPrint(w, "Regions API", "FAIL", "skipped")
		} else {
			doctorPrint(w, "Credentials", "OK", "Account: "+result.AWS.AccountID)
			if result.AWS.RegionsOK {
				doctorPrint(w, "Regions API", "OK", fmt.Sprintf("%d enabled", result.AWS.Regions))
			} else {
				doctorPrint(w, "Regions API", "FAIL", result.AWS.Error)
			}
		}
	}

	if result.GCP.Enabled {
		fmt.Fprintf(w, "\nGCP (project: %s):\n", result.GCP.Project)
		if result.GCP.ClientOK {
			doctorPrint(w, "Storage client", "OK", "")
		} else {
			doctorPrint(w, "Storage client", "FAIL", result.GCP.Error)
		}
	}

	fmt.Fprintf(w, "\nState (%s):\n", result.State.Backend)
	if result.State.Readable {
		doctorPrint(w, "Store", "OK", fmt.Sprintf("%d fingerprint(s) in %s", result.State.Entries, result.State.Path))
	} else {
		doctorPrint(w, "Store", "FAIL", result.State.Error)
	}

	fmt.Fprintln(w, "\nPolicy:")
	switch {
	case !result.Policy.Present:
		doctorPrint(w, "Policy file", "Not found (optional)", "")
	case result.Policy.Valid:
		doctorPrint(w, "Policy file", "OK", "")
	default:
		doctorPrint(w, "Policy file", "FAIL", result.Policy.Error)
	}

	fmt.Fprintln(w, "\nNotify:")
	doctorPrint(w, "Channel", result.Notify.Channel, "")
}

// doctorPrint writes one check line. A non-empty detail is appended in
// parentheses.
func doctorPrint(w io.Writer, label, status, detail string) {
	if detail != "" {
		fmt.Fprintf(w, "  %s: %s (%s)\n", label, status, detail)
	} else {
		fmt.Fprintf(w, "  %s: %s\n", label, status)
	}
}
