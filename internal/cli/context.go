package cli

import (
	"github.com/rs/zerolog"

	"initrunner/internal/audit"
	"initrunner/internal/config"
)

// CLIContext carries everything a subcommand needs: resolved config, an
// open audit logger, and a logger scoped to the command invocation. It is
// attached to the cobra command context in the root command's
// PersistentPreRunE and torn down in PersistentPostRunE.
type CLIContext struct {
	Config     *config.Config
	ConfigPath string
	Logger     *zerolog.Logger
	Audit      *audit.Logger
	Verbose    bool
	Quiet      bool
}

// NewCLIContext builds a CLIContext and opens the audit store at the
// resolved config path. Commands that don't need the audit log (version,
// help) never reach this constructor.
func NewCLIContext(cfg *config.Config, configPath string, log *zerolog.Logger, verbose, quiet bool) (*CLIContext, error) {
	auditLogger, err := audit.Open(cfg.Audit.DBPath,
		audit.WithRetention(cfg.Audit.RetentionDays),
		audit.WithMaxRecords(cfg.Audit.MaxRecords),
		audit.WithAutoPruneInterval(cfg.Audit.AutoPruneInterval),
		audit.WithLogger(*log),
	)
	if err != nil {
		return nil, err
	}

	return &CLIContext{
		Config:     cfg,
		ConfigPath: configPath,
		Logger:     log,
		Audit:      auditLogger,
		Verbose:    verbose,
		Quiet:      quiet,
	}, nil
}

// Close releases the audit store's connection.
func (c *CLIContext) Close() error {
	if c.Audit == nil {
		return nil
	}
	return c.Audit.Close()
}
