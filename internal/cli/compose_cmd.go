package cli

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"os/signal"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"initrunner/internal/audit"
	"initrunner/internal/compose"
	"initrunner/internal/composerun"
	"initrunner/internal/roleload"
)

// NewComposeCmd assembles the `compose` command group: graph validation,
// foreground orchestration, delegate-event inspection, and systemd
// lifecycle management.
func NewComposeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "compose",
		Short: "Multi-agent compose orchestration",
	}

	cmd.AddCommand(
		newComposeValidateCmd(),
		newComposeUpCmd(),
		newComposeEventsCmd(),
		newComposeInstallCmd(),
		newComposeUninstallCmd(),
		newComposeStartCmd(),
		newComposeStopCmd(),
		newComposeRestartCmd(),
		newComposeStatusCmd(),
		newComposeLogsCmd(),
	)
	return cmd
}

func newComposeValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate <compose-file>",
		Short: "Validate a compose definition file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			composeFile := args[0]
			def, err := compose.Load(composeFile)
			if err != nil {
				return fmt.Errorf("invalid: %w", err)
			}

			names := make([]string, 0, len(def.Spec.Services))
			for name := range def.Spec.Services {
				names = append(names, name)
			}
			sort.Strings(names)

			fmt.Fprintf(cmd.OutOrStdout(), "Compose: %s\n", def.Metadata.Name)
			baseDir := filepath.Dir(composeFile)
			allValid := true
			for _, name := range names {
				svc := def.Spec.Services[name]
				sinkStr := "(none)"
				if svc.Sink != nil {
					sinkStr = strings.Join(svc.Sink.Target, ", ")
				}
				depsStr := "(none)"
				if len(svc.DependsOn) > 0 {
					depsStr = strings.Join(svc.DependsOn, ", ")
				}
				restart := svc.Restart.Condition
				if restart == "" {
					restart = compose.RestartNone
				}
				fmt.Fprintf(cmd.OutOrStdout(), "  %-20s role=%-30s sink=%-20s depends_on=%-20s restart=%s\n",
					name, svc.Role, sinkStr, depsStr, restart)

				rolePath := filepath.Join(baseDir, svc.Role)
				if _, err := os.Stat(rolePath); err != nil {
					fmt.Fprintf(cmd.ErrOrStderr(), "Error: role file not found for %q: %s\n", name, rolePath)
					allValid = false
				}
			}

			if !allValid {
				return fmt.Errorf("compose definition references missing role files")
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Valid")
			return nil
		},
	}
}

func newComposeUpCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "up <compose-file>",
		Short: "Start a compose orchestration in the foreground",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			composeFile := args[0]
			def, err := compose.Load(composeFile)
			if err != nil {
				return err
			}

			cliCtx := GetCLIContext(cmd)
			log := *cliCtx.Logger

			builder := &roleload.Builder{Log: log, AuditLogger: cliCtx.Audit}
			orch := composerun.NewOrchestrator(def, builder, cliCtx.Audit, log)

			if err := orch.Start(); err != nil {
				return fmt.Errorf("start compose: %w", err)
			}

			sigCh := make(chan os.Signal, 1)
			signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
			<-sigCh

			orch.Stop()
			composerun.PrintShutdownSummary(cmd.OutOrStdout(), orch)
			return nil
		},
	}
}

func newComposeEventsCmd() *cobra.Command {
	var source, target, status, runID, since, until string
	var limit int

	cmd := &cobra.Command{
		Use:   "events",
		Short: "Query delegate routing events from the audit trail",
		RunE: func(cmd *cobra.Command, args []string) error {
			cliCtx := GetCLIContext(cmd)

			filter := audit.DelegateQueryFilter{
				SourceService: source,
				TargetService: target,
				Status:        audit.DelegateEventStatus(status),
				SourceRunID:   runID,
				Limit:         limit,
			}
			if since != "" {
				t, err := time.Parse(time.RFC3339, since)
				if err != nil {
					return fmt.Errorf("parse --since: %w", err)
				}
				filter.Since = t
			}
			if until != "" {
				t, err := time.Parse(time.RFC3339, until)
				if err != nil {
					return fmt.Errorf("parse --until: %w", err)
				}
				filter.Until = t
			}

			events, err := cliCtx.Audit.QueryDelegateEvents(filter)
			if err != nil {
				return err
			}

			if len(events) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No delegate events found.")
				return nil
			}

			w := cmd.OutOrStdout()
			fmt.Fprintf(w, "Delegate Events (%d)\n", len(events))
			for _, ev := range events {
				fmt.Fprintf(w, "%s  %s -> %s  %-12s run=%s  %s\n",
					ev.Timestamp.Format(time.RFC3339), ev.SourceService, ev.TargetService, ev.Status, ev.SourceRunID, ev.Reason)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&source, "source", "", "filter by source service")
	cmd.Flags().StringVar(&target, "target", "", "filter by target service")
	cmd.Flags().StringVar(&status, "status", "", "filter by status")
	cmd.Flags().StringVar(&runID, "run-id", "", "filter by source run ID")
	cmd.Flags().StringVar(&since, "since", "", "start timestamp (RFC3339)")
	cmd.Flags().StringVar(&until, "until", "", "end timestamp (RFC3339)")
	cmd.Flags().IntVar(&limit, "limit", 100, "max events to show")
	return cmd
}

func newComposeInstallCmd() *cobra.Command {
	var force bool
	var envFile string
	var generateEnv bool

	cmd := &cobra.Command{
		Use:   "install <compose-file>",
		Short: "Install a systemd user unit for a compose project",
		Long: `Install a systemd user unit for a compose project.

The service runs in a restricted systemd environment. Environment variables
from your shell are NOT visible. Use --env-file or place a .env file in the
compose directory.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			composeFile := args[0]
			def, err := compose.Load(composeFile)
			if err != nil {
				return err
			}

			executable, err := compose.FindExecutable()
			if err != nil {
				return fmt.Errorf("locate initrunner executable: %w", err)
			}

			info, err := compose.InstallUnit(def.Metadata.Name, composeFile, executable, envFile, force)
			if err != nil {
				return err
			}

			w := cmd.OutOrStdout()
			fmt.Fprintf(w, "Installed %s\n", info.UnitName)
			fmt.Fprintf(w, "  Unit file: %s\n", info.UnitPath)
			fmt.Fprintln(w, "\nNext steps:")
			fmt.Fprintf(w, "  Start now:      initrunner compose start %s\n", def.Metadata.Name)
			fmt.Fprintf(w, "  Enable on boot: systemctl --user enable %s\n", info.UnitName)
			fmt.Fprintf(w, "  View status:    initrunner compose status %s\n", def.Metadata.Name)
			fmt.Fprintf(w, "  View logs:      initrunner compose logs %s\n", def.Metadata.Name)

			if !compose.CheckLingerEnabled() {
				fmt.Fprintln(w, "\nWarning: user lingering is not enabled. This service will stop when you log out.")
				fmt.Fprintln(w, "  To fix: loginctl enable-linger $USER")
			}

			envPath := filepath.Join(filepath.Dir(composeFile), ".env")
			if _, err := os.Stat(envPath); err != nil && envFile == "" {
				fmt.Fprintln(w, "\nHint: no .env file found. Shell env vars are NOT inherited by systemd services.")
				fmt.Fprintln(w, "  Use --generate-env to create a template, or --env-file to specify one.")
			}

			if generateEnv {
				if _, err := os.Stat(envPath); err == nil {
					fmt.Fprintf(w, "Skipped: %s already exists.\n", envPath)
				} else {
					content := compose.GenerateEnvTemplate(def.Metadata.Name)
					if err := os.WriteFile(envPath, []byte(content), 0o600); err != nil {
						return fmt.Errorf("write env template: %w", err)
					}
					fmt.Fprintf(w, "Created %s\n", envPath)
				}
			}
			return nil
		},
	}

	cmd.Flags().BoolVarP(&force, "force", "f", false, "overwrite existing unit file")
	cmd.Flags().StringVar(&envFile, "env-file", "", "additional EnvironmentFile for the unit")
	cmd.Flags().BoolVar(&generateEnv, "generate-env", false, "generate a template .env file in the compose directory")
	return cmd
}

func newComposeUninstallCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "uninstall <name-or-file>",
		Short: "Uninstall a systemd user unit for a compose project",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			composeName, err := compose.ResolveComposeName(args[0])
			if err != nil {
				return err
			}
			path, err := compose.UninstallUnit(composeName)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Uninstalled %s\n", filepath.Base(path))
			return nil
		},
	}
}

func systemctlWrapper(cmd *cobra.Command, action, nameOrFile string) error {
	if err := compose.CheckSystemdAvailable(); err != nil {
		return err
	}
	composeName, err := compose.ResolveComposeName(nameOrFile)
	if err != nil {
		return err
	}
	unitName := compose.UnitNameFor(composeName)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	c := exec.CommandContext(ctx, "systemctl", "--user", action, unitName)
	c.Stdout = cmd.OutOrStdout()
	c.Stderr = cmd.ErrOrStderr()
	if err := c.Run(); err != nil {
		return fmt.Errorf("systemctl %s failed: %w", action, err)
	}

	fmt.Fprintf(cmd.OutOrStdout(), "%c%sed %s\n", action[0]-('a'-'A'), action[1:], unitName)
	return nil
}

func newComposeStartCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "start <name-or-file>",
		Short: "Start a compose systemd service",
		Args:  cobra.ExactArgs(1),
		RunE:  func(cmd *cobra.Command, args []string) error { return systemctlWrapper(cmd, "start", args[0]) },
	}
}

func newComposeStopCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stop <name-or-file>",
		Short: "Stop a compose systemd service",
		Args:  cobra.ExactArgs(1),
		RunE:  func(cmd *cobra.Command, args []string) error { return systemctlWrapper(cmd, "stop", args[0]) },
	}
}

func newComposeRestartCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "restart <name-or-file>",
		Short: "Restart a compose systemd service",
		Args:  cobra.ExactArgs(1),
		RunE:  func(cmd *cobra.Command, args []string) error { return systemctlWrapper(cmd, "restart", args[0]) },
	}
}

func newComposeStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status <name-or-file>",
		Short: "Show the systemd status for a compose service",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			composeName, err := compose.ResolveComposeName(args[0])
			if err != nil {
				return err
			}
			output, err := compose.GetUnitStatus(composeName)
			if err != nil {
				return err
			}
			fmt.Fprint(cmd.OutOrStdout(), output)
			return nil
		},
	}
}

func newComposeLogsCmd() *cobra.Command {
	var follow bool
	var lines int

	cmd := &cobra.Command{
		Use:   "logs <name-or-file>",
		Short: "Show journald logs for a compose service",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := compose.CheckSystemdAvailable(); err != nil {
				return err
			}
			composeName, err := compose.ResolveComposeName(args[0])
			if err != nil {
				return err
			}
			unitName := compose.UnitNameFor(composeName)

			journalArgs := []string{"--user", "--unit=" + unitName, "--lines=" + strconv.Itoa(lines), "--no-pager"}
			if follow {
				journalArgs = append(journalArgs, "--follow")
			}

			var ctx context.Context
			var cancel context.CancelFunc
			if follow {
				ctx, cancel = context.WithCancel(context.Background())
			} else {
				ctx, cancel = context.WithTimeout(context.Background(), 30*time.Second)
			}
			defer cancel()

			c := exec.CommandContext(ctx, "journalctl", journalArgs...)
			c.Stdout = cmd.OutOrStdout()
			c.Stderr = cmd.ErrOrStderr()
			return c.Run()
		},
	}

	cmd.Flags().BoolVarP(&follow, "follow", "f", false, "follow log output")
	cmd.Flags().IntVarP(&lines, "lines", "n", 50, "number of lines to show")
	return cmd
}
