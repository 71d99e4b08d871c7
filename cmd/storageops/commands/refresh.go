package commands

import (
	"github.com/spf13/cobra"

	"github.com/permitportal/storageops/internal/config"
	serrors "github.com/permitportal/storageops/internal/errors"
)

func NewRefreshCommand(cfg *config.Config) *cobra.Command {
	return &cobra.Command{
		Use:   "refresh",
		Short: "Refresh object-storage credentials from the rotation source",
		Long: `Run one credential refresh cycle.

The refresh is idempotent: if the stored credentials are still valid it is
a no-op. Otherwise expired sets are deactivated and new credentials are
fetched from the rotation source, falling back to environment credentials
when the source is unreachable.

Intended to run as a scheduled job. Exits non-zero only when every source
is exhausted.

Examples:
  # Normal scheduled invocation
  storageops refresh

  # Force a refresh after the rotation system reports a new key
  storageops refresh --debug`,
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

			if !engine.RefreshCredentials(ctx) {
				return serrors.UserError{
					Message:    "Credential refresh failed: rotation source and environment fallback are both exhausted",
					Suggestion: "Check rotation source accessibility with 'storageops status' and verify OBJECT_STORAGE_ACCESS_KEY_ID/OBJECT_STORAGE_SECRET_ACCESS_KEY are set for fallback",
				}
			}

			cfg.Logger.Info("Credential refresh completed")
			return nil
		},
	}
}
