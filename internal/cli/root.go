// Package cli provides the command-line interface for lakegov.
package cli

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/leapstack-labs/lakegov/internal/cli/commands"
	"github.com/leapstack-labs/lakegov/internal/config"
	"github.com/leapstack-labs/lakegov/internal/governance"
	"github.com/spf13/cobra"
)

// Version information (set at build time).
var (
	Version   = "0.1.0"
	BuildDate = "unknown"
	GitCommit = "unknown"
)

// Exit codes by error kind.
const (
	ExitError         = 1
	ExitConfiguration = 2
	ExitAccessDenied  = 3
	ExitMissingInput  = 4
)

// NewRootCmd creates and returns the root command.
func NewRootCmd() *cobra.Command {
	var cfgFile string
	var logCloser io.Closer

	rootCmd := &cobra.Command{
		Use:   "lakegov",
		Short: "lakegov - governed data lake control plane",
		Long: `lakegov moves events through a layered data lake (landing, raw, clean,
curated, serving, restricted_pii, exports) under role-based access control,
tokenizes PII, records every run in an append-only audit ledger and lineage
log, propagates GDPR erasure and records evidence for every activation export.`,
		Version: Version,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			// Skip config loading for help, completion and version
			switch cmd.Name() {
			case "help", "completion", "__complete", "version":
				return nil
			}

			cfg, err := config.Load(cfgFile, cmd.Flags())
			if err != nil {
				return err
			}

			logger, closer := newLogger(cfg, cmd.ErrOrStderr())
			logCloser = closer
			logger.Debug("configuration loaded", "project_root", cfg.ProjectRoot, "role", cfg.Role)

			cmd.SetContext(commands.WithSession(cmd.Context(), &commands.Session{
				Cfg:       cfg,
				Logger:    logger,
				Principal: cfg.Principal(),
			}))
			return nil
		},
		PersistentPostRunE: func(_ *cobra.Command, _ []string) error {
			if logCloser != nil {
				return logCloser.Close()
			}
			return nil
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.SetVersionTemplate(`{{.Name}} {{.Version}}
`)

	// Global persistent flags
	flags := rootCmd.PersistentFlags()
	flags.StringVar(&cfgFile, "config", "", "config file (default: ./lakegov.yaml)")
	flags.String("role", "", "Role to act as (env LAKEGOV_ROLE or GOVDEMO_ROLE)")
	flags.String("lake-root", "", "Path to the data lake root")
	flags.String("warehouse-dir", "", "Path to the warehouse directory")
	flags.String("roles", "", "Path to the role policy (.yaml or .toml)")
	flags.String("log-level", "", "Log level (debug|info|warn|error)")
	flags.String("log-file", "", "Write logs to this rotated file instead of stderr")
	flags.StringP("output", "o", "", "Output format (table|json)")

	_ = rootCmd.RegisterFlagCompletionFunc("output", func(_ *cobra.Command, _ []string, _ string) ([]string, cobra.ShellCompDirective) {
		return []string{commands.FormatTable, commands.FormatJSON}, cobra.ShellCompDirectiveNoFileComp
	})
	_ = rootCmd.RegisterFlagCompletionFunc("log-level", func(_ *cobra.Command, _ []string, _ string) ([]string, cobra.ShellCompDirective) {
		return []string{"debug", "info", "warn", "error"}, cobra.ShellCompDirectiveNoFileComp
	})

	rootCmd.AddCommand(
		commands.NewVersionCommand(Version),
		commands.NewInitCommand(),
		commands.NewSeedCommand(),
		commands.NewIngestCommand(),
		commands.NewCleanCommand(),
		commands.NewCurateCommand(),
		commands.NewServeCommand(),
		commands.NewBuildIdentityCommand(),
		commands.NewExportAudienceCommand(),
		commands.NewExportsCommand(),
		commands.NewGDPRCommand(),
		commands.NewRunsCommand(),
		commands.NewLineageCommand(),
		commands.NewAuditServerCommand(),
	)

	return rootCmd
}

// Execute runs the root command and returns the process exit code.
func Execute() int {
	rootCmd := NewRootCmd()
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return ExitCode(err)
	}
	return 0
}

// ExitCode maps an error to the process exit code.
func ExitCode(err error) int {
	var (
		denied  *governance.AccessDenied
		missing *governance.MissingInput
		cfgErr  *governance.ConfigurationError
	)
	switch {
	case err == nil:
		return 0
	case errors.As(err, &denied):
		return ExitAccessDenied
	case errors.As(err, &missing):
		return ExitMissingInput
	case errors.As(err, &cfgErr):
		return ExitConfiguration
	default:
		return ExitError
	}
}
