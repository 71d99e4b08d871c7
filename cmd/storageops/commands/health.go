package commands

import (
	"github.com/spf13/cobra"

	"github.com/permitportal/storageops/internal/config"
	"github.com/permitportal/storageops/internal/health"
	"github.com/permitportal/storageops/internal/retryqueue"
)

func NewHealthCommand(cfg *config.Config) *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Run the scheduled credential health check",
		Long: `Check stored credential freshness and validity, and take corrective
action: an emergency refresh when credentials are missing, invalid, or
inside the needs-refresh window, and a durable async retry when the
emergency refresh itself fails.

The check never exits non-zero for bad credential health: remediation and
alerting happen inside the check (emergency refresh, durable retry, CRITICAL
log lines, metrics). A non-zero exit means the check itself could not run.`,
		RunE: func(cmd *cobra.Command, args []string) error {
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
			if err := store.EnsureSchema(ctx); err != nil {
				return err
			}

			engine, err := buildEngine(ctx, cfg, store)
			if err != nil {
				return err
			}

			retry := retryqueue.New(db, cfg.Logger)
			if err := retry.EnsureSchema(ctx); err != nil {
				return err
			}

			monitor := health.NewMonitor(store, engine, buildClientCache(cfg, store), retry,
				cfg.Logger, cfg.Definition.Rotation.HealthExpiryBuffer())

			monitor.RunHealthCheck(ctx)
			return nil
		},
	}
}
