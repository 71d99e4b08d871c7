package commands

import (
	"context"
	"database/sql"
	"os"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sts"
	_ "github.com/lib/pq"

	"github.com/permitportal/storageops/internal/config"
	"github.com/permitportal/storageops/internal/credstore"
	serrors "github.com/permitportal/storageops/internal/errors"
	"github.com/permitportal/storageops/internal/objstore"
	"github.com/permitportal/storageops/internal/paramsource"
	"github.com/permitportal/storageops/internal/refresh"
	"github.com/permitportal/storageops/internal/scan"
)

// encryptionKeyEnv holds the passphrase the credential store's field
// encryption key derives from.
const encryptionKeyEnv = "STORAGEOPS_ENCRYPTION_KEY"

func openDatabase(ctx context.Context, cfg *config.Config) (*sql.DB, error) {
	url := cfg.Definition.Database.URL
	if url == "" {
		return nil, serrors.UserError{
			Message:    "Database URL is not configured",
			Suggestion: "Set database.url in storageops.yaml or the STORAGEOPS_DATABASE_URL environment variable",
		}
	}

	db, err := sql.Open("postgres", url)
	if err != nil {
		return nil, serrors.UserError{
			Message: "Invalid database URL",
			Details: err.Error(),
			Err:     err,
		}
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, serrors.UserError{
			Message:    "Cannot connect to database",
			Suggestion: "Check that Postgres is reachable and the credentials are correct",
			Details:    err.Error(),
			Err:        err,
		}
	}
	return db, nil
}

func credentialStore(cfg *config.Config, db *sql.DB) (*credstore.SQLStore, error) {
	passphrase := os.Getenv(encryptionKeyEnv)
	if passphrase == "" {
		return nil, serrors.UserError{
			Message:    "Credential encryption key is not set",
			Suggestion: "Set the " + encryptionKeyEnv + " environment variable",
		}
	}
	return credstore.NewSQLStore(db, credstore.DeriveKey(passphrase), cfg.Logger), nil
}

func storageConfig(cfg *config.Config) objstore.Config {
	return objstore.Config{
		Endpoint:       cfg.Definition.Storage.Endpoint,
		Region:         cfg.Definition.Storage.Region,
		Bucket:         cfg.Definition.Storage.Bucket,
		ForcePathStyle: cfg.Definition.Storage.ForcePathStyle,
	}
}

func buildEngine(ctx context.Context, cfg *config.Config, store credstore.Store) (*refresh.Engine, error) {
	rotation := cfg.Definition.Rotation
	tester := objstore.NewConnectivityTester(storageConfig(cfg), cfg.Logger)

	engineCfg := refresh.Config{
		BasePath:      rotation.ParameterBasePath,
		Bucket:        cfg.Definition.Storage.Bucket,
		ExpiryBuffer:  rotation.EngineExpiryBuffer(),
		UseAssumeRole: rotation.Source == "assume_role",
		RoleARN:       rotation.RoleARN,
		SessionName:   rotation.SessionName,
	}

	if engineCfg.UseAssumeRole {
		awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(rotation.Region))
		if err != nil {
			return nil, serrors.UserError{
				Message: "Failed to load AWS configuration for role assumption",
				Details: err.Error(),
				Err:     err,
			}
		}
		return refresh.New(store, nil, tester, cfg.Logger, engineCfg,
			refresh.WithSTSClient(sts.NewFromConfig(awsCfg))), nil
	}

	source, err := paramsource.New(rotation, cfg.Logger)
	if err != nil {
		return nil, err
	}
	return refresh.New(store, source, tester, cfg.Logger, engineCfg), nil
}

func buildClientCache(cfg *config.Config, store credstore.Store) *objstore.ClientCache {
	return objstore.NewClientCache(storageConfig(cfg), store, cfg.Logger)
}

func buildScanner(cfg *config.Config) *scan.ClamAV {
	sc := cfg.Definition.Scan
	return scan.NewClamAV(sc.Host, sc.Port, sc.ScanTimeout(), cfg.Logger)
}

// buildScanManager wires the scan lifecycle against the cached storage
// client. The cache is returned so callers can invalidate it alongside
// credential changes.
func buildScanManager(ctx context.Context, cfg *config.Config, db *sql.DB, store credstore.Store) (*scan.Manager, *scan.SQLRecordStore, error) {
	cache := buildClientCache(cfg, store)
	client, err := cache.Client(ctx)
	if err != nil {
		return nil, nil, err
	}

	bucket := objstore.NewBucket(client, cfg.Definition.Storage.Bucket)
	records := scan.NewSQLRecordStore(db, cfg.Logger)
	manager := scan.NewManager(records, buildScanner(cfg), bucket, cfg.Logger, cfg.Definition.Scan.TempDir)
	return manager, records, nil
}
