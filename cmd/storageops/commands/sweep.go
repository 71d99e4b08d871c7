package commands

import (
	"github.com/spf13/cobra"

	"github.com/permitportal/storageops/internal/config"
	"github.com/permitportal/storageops/internal/scan"
)

func NewSweepCommand(cfg *config.Config) *cobra.Command {
	return &cobra.Command{
		Use:   "sweep",
		Short: "Recover stuck, missed, and errored virus scans",
		Long: `Run one recovery pass over the scan table:

  - records scanning for over an hour are reset and rescanned
  - records with a file but no completed scan after 30 minutes are scanned
  - scan errors older than a day get one retry

Orphaned transient files older than two hours are also removed. Each
record's remediation is independent; failures are counted, not fatal.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := cfg.Load(); err != nil {
				return err
			}
			if !cfg.Definition.Scan.IsEnabled() {
				cfg.Logger.Warn("Virus scanning is disabled, skipping sweep")
				return nil
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

			manager, records, err := buildScanManager(ctx, cfg, db, store)
			if err != nil {
				return err
			}

			sweeper := scan.NewSweeper(records, manager, cfg.Logger, cfg.Definition.Scan.TempDir)
			report := sweeper.Reconcile(ctx)

			cfg.Logger.Info("Sweep finished: %d processed, %d errors, %d temp files removed",
				report.Processed, report.Errors, report.TempFilesRemoved)
			return nil
		},
	}
}
