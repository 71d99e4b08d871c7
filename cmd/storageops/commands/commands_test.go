package commands

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/permitportal/storageops/internal/config"
	"github.com/permitportal/storageops/internal/logging"
)

func scanDisabledConfig(t *testing.T) *config.Config {
	t.Helper()
	path := filepath.Join(t.TempDir(), "storageops.yaml")
	content := `
version: 1
storage:
  bucket: permit-docs
rotation:
  source: ssm
  parameter_base_path: /keys
scan:
  enabled: false
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return &config.Config{Path: path, Logger: logging.New(false, true)}
}

// The scan commands must exit cleanly before touching the database when
// scanning is turned off.
func TestScanCommandsSkipWhenScanningDisabled(t *testing.T) {
	cfg := scanDisabledConfig(t)

	scanCmd := NewScanCommand(cfg)
	require.NoError(t, scanCmd.RunE(scanCmd, []string{"42"}))

	pendingCmd := NewPendingCommand(cfg)
	require.NoError(t, pendingCmd.RunE(pendingCmd, nil))

	sweepCmd := NewSweepCommand(cfg)
	require.NoError(t, sweepCmd.RunE(sweepCmd, nil))
}
