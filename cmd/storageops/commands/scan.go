package commands

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/permitportal/storageops/internal/config"
	serrors "github.com/permitportal/storageops/internal/errors"
)

func NewScanCommand(cfg *config.Config) *cobra.Command {
	return &cobra.Command{
		Use:   "scan <record-id>",
		Short: "Run a virus scan for one uploaded file",
		Long: `Download the record's file to the transient scan area, stream it to
the ClamAV daemon, and record the verdict. Engine failures and timeouts
are recorded on the record as scan_error; only infrastructure faults
(record missing, database unreachable) exit non-zero.

Examples:
  storageops scan 1042`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return serrors.UserError{
					Message:    fmt.Sprintf("Invalid record id %q", args[0]),
					Suggestion: "Pass the numeric id of the uploaded file record",
				}
			}

			if err := cfg.Load(); err != nil {
				return err
			}
			if !cfg.Definition.Scan.IsEnabled() {
				cfg.Logger.Warn("Virus scanning is disabled, skipping scan for record %d", id)
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

			manager, _, err := buildScanManager(ctx, cfg, db, store)
			if err != nil {
				return err
			}

			return manager.Scan(ctx, id)
		},
	}
}
