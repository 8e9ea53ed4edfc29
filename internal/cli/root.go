package cli

import (
	"context"
	"fmt"

	"initrunner/internal/config"
	"initrunner/pkg/logger"

	"github.com/spf13/cobra"
)

// GlobalFlags holds flags shared by every subcommand.
type GlobalFlags struct {
	ConfigPath string
	Verbose    bool
	Quiet      bool
}

var globalFlags GlobalFlags

type contextKey struct{}

// commandsNeedingNoContext skip config load and audit store setup —
// they have nothing to log or read.
var commandsNeedingNoContext = map[string]bool{
	"version": true,
	"help":    true,
	"validate": true,
}

// NewRootCmd assembles the initrunner CLI: compose orchestration and audit
// log inspection.
func NewRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "initrunner",
		Short: "initrunner - compose orchestrator for delegating agent services",
		Long: `initrunner runs a graph of named agent services from a compose file,
routes delegation between them with backpressure and circuit breaking,
supervises their health, and records every run and security event to an
append-only audit log.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if commandsNeedingNoContext[cmd.Name()] {
				return nil
			}

			configPath := globalFlags.ConfigPath
			if configPath == "" {
				var err error
				configPath, err = config.DefaultConfigPath()
				if err != nil {
					return err
				}
			}

			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}

			logLevel := cfg.Log.Level
			if globalFlags.Verbose {
				logLevel = "debug"
			}
			if globalFlags.Quiet {
				logLevel = "error"
			}

			if err := logger.Init(logger.LogConfig{
				Level:  logLevel,
				Format: cfg.Log.Format,
				File:   cfg.Log.File,
			}); err != nil {
				return err
			}

			log := logger.Get()
			cliCtx, err := NewCLIContext(cfg, configPath, log, globalFlags.Verbose, globalFlags.Quiet)
			if err != nil {
				return fmt.Errorf("initialize cli context: %w", err)
			}
			cmd.SetContext(context.WithValue(cmd.Context(), contextKey{}, cliCtx))

			return nil
		},
		PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
			cliCtx := GetCLIContext(cmd)
			if cliCtx != nil {
				return cliCtx.Close()
			}
			return nil
		},
	}

	rootCmd.PersistentFlags().StringVarP(&globalFlags.ConfigPath, "config", "c", "", "config file path")
	rootCmd.PersistentFlags().BoolVarP(&globalFlags.Verbose, "verbose", "v", false, "verbose output")
	rootCmd.PersistentFlags().BoolVarP(&globalFlags.Quiet, "quiet", "q", false, "quiet mode")

	rootCmd.AddCommand(NewVersionCmd())
	rootCmd.AddCommand(NewComposeCmd())
	rootCmd.AddCommand(NewAuditCmd())

	return rootCmd
}

// GetCLIContext retrieves the CLIContext attached by the root command's
// PersistentPreRunE, or nil if the command opted out of it.
func GetCLIContext(cmd *cobra.Command) *CLIContext {
	ctx := cmd.Context()
	if ctx == nil {
		return nil
	}
	cliCtx, ok := ctx.Value(contextKey{}).(*CLIContext)
	if !ok {
		return nil
	}
	return cliCtx
}
