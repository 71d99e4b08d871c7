package commands

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/permitportal/storageops/internal/config"
	serrors "github.com/permitportal/storageops/internal/errors"
	"github.com/permitportal/storageops/internal/health"
	"github.com/permitportal/storageops/internal/retryqueue"
	"github.com/permitportal/storageops/internal/scan"
)

// statusReport is the combined credential + scan snapshot the status command
// renders.
type statusReport struct {
	Severity    string           `json:"severity" yaml:"severity"`
	Credentials health.Status    `json:"credentials" yaml:"credentials"`
	Scans       map[string]int64 `json:"scans" yaml:"scans"`
}

func NewStatusCommand(cfg *config.Config) *cobra.Command {
	var format string

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show credential health and scan-table state without taking action",
		Long: `Compute and print the credential health snapshot and the per-status
counts of the scan table. Unlike 'health', this never refreshes
credentials or invalidates caches, so it is safe to run while diagnosing
an incident.

Examples:
  storageops status
  storageops status --format json | jq .credentials
  storageops status --format yaml`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if format != "table" && format != "json" && format != "yaml" {
				return serrors.UserError{
					Message:    fmt.Sprintf("Unknown output format %q", format),
					Suggestion: "Use --format table, json, or yaml",
				}
			}

			if err := cfg.Load(); err != nil {
				return err
			}
			ctx := cmd.Context()

			db, err := openDatabase(ctx, cfg)
			if err != nil {
				return err
			}
			defer db.Close()

			store, err := credentialStore(cfg, db)
			if err != nil {
				return err
			}

			engine, err := buildEngine(ctx, cfg, store)
			if err != nil {
				return err
			}

			monitor := health.NewMonitor(store, engine, buildClientCache(cfg, store),
				retryqueue.New(db, cfg.Logger), cfg.Logger,
				cfg.Definition.Rotation.HealthExpiryBuffer())

			credStatus := monitor.Observe(ctx)

			counts, err := scan.NewSQLRecordStore(db, cfg.Logger).CountByStatus(ctx)
			if err != nil {
				cfg.Logger.Warn("Failed to load scan counts: %v", err)
				counts = nil
			}
			scans := make(map[string]int64, len(counts))
			for status, n := range counts {
				scans[status.String()] = n
			}

			report := statusReport{
				Severity:    credStatus.Severity().String(),
				Credentials: credStatus,
				Scans:       scans,
			}

			switch format {
			case "json":
				out, err := json.MarshalIndent(report, "", "  ")
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), string(out))
			case "yaml":
				out, err := yaml.Marshal(report)
				if err != nil {
					return err
				}
				fmt.Fprint(cmd.OutOrStdout(), string(out))
			default:
				printStatusTable(cmd, report)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&format, "format", "table", "Output format: table, json, or yaml")
	return cmd
}

func printStatusTable(cmd *cobra.Command, report statusReport) {
	out := cmd.OutOrStdout()
	status := report.Credentials

	fmt.Fprintf(out, "Credential health: %s\n\n", report.Severity)
	fmt.Fprintf(out, "  Has credentials:       %t\n", status.HasCredentials)
	fmt.Fprintf(out, "  Credentials valid:     %t\n", status.CredentialsValid)
	if status.TimeUntilExpiry != nil {
		fmt.Fprintf(out, "  Time until expiry:     %.2f hours\n", status.TimeUntilExpiry.Hours())
	} else {
		fmt.Fprintf(out, "  Time until expiry:     n/a\n")
	}
	fmt.Fprintf(out, "  Needs refresh:         %t\n", status.NeedsRefresh)
	fmt.Fprintf(out, "  Using pending key:     %t\n", status.UsingPendingKey)
	fmt.Fprintf(out, "  Rotation source:       %s\n", accessibleWord(status.ParameterStoreAccessible))
	fmt.Fprintf(out, "  Environment fallback:  %s\n", availableWord(status.EnvironmentFallbackAvailable))

	fmt.Fprintf(out, "\nScan records:\n")
	for _, s := range []scan.Status{scan.StatusPending, scan.StatusScanning, scan.StatusClean, scan.StatusInfected, scan.StatusScanError} {
		fmt.Fprintf(out, "  %-12s %d\n", s.String()+":", report.Scans[s.String()])
	}
}

func accessibleWord(ok bool) string {
	if ok {
		return "accessible"
	}
	return "unreachable"
}

func availableWord(ok bool) string {
	if ok {
		return "available"
	}
	return "not configured"
}
