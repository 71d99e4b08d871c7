package commands

import (
	"time"

	"github.com/spf13/cobra"

	"github.com/permitportal/storageops/internal/config"
)

func NewPendingCommand(cfg *config.Config) *cobra.Command {
	return &cobra.Command{
		Use:   "pending",
		Short: "Scan all files still awaiting a virus scan",
		Long: `Find every record whose scan is still pending and run it now.
Records without an attached file are marked as scan errors. One record's
failure never stops the rest.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := cfg.Load(); err != nil {
				return err
			}
			if !cfg.Definition.Scan.IsEnabled() {
				cfg.Logger.Warn("Virus scanning is disabled, nothing to do")
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

			pending, err := records.Unscanned(ctx, time.Now())
			if err != nil {
				return err
			}

			cfg.Logger.Info("Found %d records with pending virus scans", len(pending))
			if len(pending) == 0 {
				return nil
			}

			processed, failed := 0, 0
			for _, rec := range pending {
				if err := manager.Scan(ctx, rec.ID); err != nil {
					cfg.Logger.Error("Error processing virus scan for record %d: %v", rec.ID, err)
					failed++
					continue
				}
				processed++
			}

			cfg.Logger.Info("Pending scan pass completed: %d processed, %d errors", processed, failed)
			return nil
		},
	}
}
