package cli

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"initrunner/internal/audit"
)

// NewAuditCmd assembles the `audit` command group: pruning and export of
// the append-only run log.
func NewAuditCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "audit",
		Short: "Inspect and export audit records",
	}
	cmd.AddCommand(newAuditPruneCmd(), newAuditExportCmd())
	return cmd
}

func newAuditPruneCmd() *cobra.Command {
	var retentionDays, maxRecords int

	cmd := &cobra.Command{
		Use:   "prune",
		Short: "Prune old audit records",
		RunE: func(cmd *cobra.Command, args []string) error {
			cliCtx := GetCLIContext(cmd)
			deleted := cliCtx.Audit.Prune(retentionDays, maxRecords)
			fmt.Fprintf(cmd.OutOrStdout(), "Pruned %d record(s).\n", deleted)
			return nil
		},
	}

	cmd.Flags().IntVar(&retentionDays, "retention-days", 90, "delete records older than this many days")
	cmd.Flags().IntVar(&maxRecords, "max-records", 100_000, "maximum records to keep")
	return cmd
}

func newAuditExportCmd() *cobra.Command {
	var format, output, agent, runID, triggerType, since, until string
	var limit int

	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export audit records as JSON or CSV",
		RunE: func(cmd *cobra.Command, args []string) error {
			if format != "json" && format != "csv" {
				return fmt.Errorf("unknown format %q. Use: json, csv", format)
			}

			filter := audit.QueryFilter{
				AgentName:   agent,
				RunID:       runID,
				TriggerType: triggerType,
				Limit:       limit,
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

			cliCtx := GetCLIContext(cmd)
			records, err := cliCtx.Audit.Query(filter)
			if err != nil {
				return err
			}

			var text []byte
			if format == "json" {
				text, err = audit.ExportJSON(records)
				if err != nil {
					return err
				}
			} else {
				text, err = exportCSV(records)
				if err != nil {
					return err
				}
			}

			if output != "" {
				if err := os.WriteFile(output, text, 0o644); err != nil {
					return fmt.Errorf("write export file: %w", err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Exported %d record(s) to %s.\n", len(records), output)
				return nil
			}

			_, err = cmd.OutOrStdout().Write(text)
			return err
		},
	}

	cmd.Flags().StringVarP(&format, "format", "f", "json", "output format: json or csv")
	cmd.Flags().StringVarP(&output, "output", "o", "", "output file (default: stdout)")
	cmd.Flags().StringVar(&agent, "agent", "", "filter by agent name")
	cmd.Flags().StringVar(&runID, "run-id", "", "filter by run ID")
	cmd.Flags().StringVar(&triggerType, "trigger-type", "", "filter by trigger type")
	cmd.Flags().StringVar(&since, "since", "", "filter: timestamp >= RFC3339 string")
	cmd.Flags().StringVar(&until, "until", "", "filter: timestamp <= RFC3339 string")
	cmd.Flags().IntVar(&limit, "limit", 1000, "max records to return")
	return cmd
}

func exportCSV(records []audit.Record) ([]byte, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if err := w.Write(audit.CSVHeader); err != nil {
		return nil, err
	}
	for _, r := range records {
		if err := w.Write(audit.ExportCSVRow(r)); err != nil {
			return nil, err
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
