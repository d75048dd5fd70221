package main

import (
	"fmt"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/pankaj-dahiya-devops/posture-watch/internal/config"
	"github.com/pankaj-dahiya-devops/posture-watch/internal/logging"
	"github.com/pankaj-dahiya-devops/posture-watch/internal/providers/aws/common"
)

// rootOptions is shared by every subcommand.
type rootOptions struct {
	configPath string

	// newViper and awsProvider are replaced in tests.
	newViper    func() *viper.Viper
	awsProvider func() common.AWSClientProvider
}

func newRootCmd() *cobra.Command {
	return newRootCmdWith(&rootOptions{
		newViper:    config.NewViper,
		awsProvider: func() common.AWSClientProvider { return common.NewDefaultAWSClientProvider() },
	})
}

func newRootCmdWith(opts *rootOptions) *cobra.Command {
	root := &cobra.Command{
		Use:           "pw",
		Short:         "posture-watch: continuous cloud security posture scanning",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&opts.configPath, "config", "", "config file (default ~/.config/posture-watch/config.yaml)")
	root.PersistentFlags().String("log-level", "", "log level: debug, info, warn, error")
	root.PersistentFlags().String("log-format", "", "log format: console or json")

	root.AddCommand(newScanCmd(opts))
	root.AddCommand(newWatchCmd(opts))
	root.AddCommand(newStateCmd(opts))
	root.AddCommand(newRulesCmd())
	root.AddCommand(newPolicyCmd())
	root.AddCommand(newDoctorCmd(opts))
	root.AddCommand(newVersionCmd())
	return root
}

// app is the configuration and logger resolved for one command run.
type app struct {
	cfg    *config.Config
	logger zerolog.Logger
	path   string
}

// flagBinding maps a config key to the name of a flag on the command.
type flagBinding map[string]string

var loggingBindings = flagBinding{
	"logging.level":  "log-level",
	"logging.format": "log-format",
}

// loadApp binds the command's flags into a fresh viper, loads and
// validates the configuration, and builds the logger. Only flags the user
// actually set override the file and environment.
func (o *rootOptions) loadApp(cmd *cobra.Command, bindings flagBinding) (*app, error) {
	v := o.newViper()
	for _, b := range []flagBinding{loggingBindings, bindings} {
		for key, name := range b {
			f := cmd.Flags().Lookup(name)
			if f == nil || !f.Changed {
				continue
			}
			if err := v.BindPFlag(key, f); err != nil {
				return nil, fmt.Errorf("bind flag --%s: %w", name, err)
			}
		}
	}

	loader := config.NewLoader(o.configPath, v)
	cfg, err := loader.Load()
	if err != nil {
		return nil, err
	}
	logger := logging.NewWithWriter(logging.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
	}, cmd.ErrOrStderr())
	if p := loader.ConfigPath(); p != "" {
		logger.Debug().Str("path", p).Msg("config loaded")
	}
	return &app{cfg: cfg, logger: logger, path: loader.ConfigPath()}, nil
}
