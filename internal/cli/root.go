// Package cli is the zoneplane command line: the API server and a few
// operator commands that work directly against the database.
package cli

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"zoneplane/internal/allocator"
	"zoneplane/internal/authz"
	"zoneplane/internal/config"
	"zoneplane/internal/db"
	"zoneplane/internal/logging"
	"zoneplane/internal/metrics"
	"zoneplane/internal/notify"
	"zoneplane/internal/service"
)

var (
	envFiles []string
	dbPath   string
)

// NewRootCmd builds the command tree. Each call returns a fresh tree so tests
// can run commands in isolation.
func NewRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "zoneplane",
		Short:         "Zone, node and endpoint control plane",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringSliceVar(&envFiles, "env", nil, ".env files to load (default .env)")
	root.PersistentFlags().StringVar(&dbPath, "db", "", "database path (overrides DB_PATH)")

	root.AddCommand(newServeCmd(), newMigrateCmd(), newExportCmd(), newBackupCmd())
	return root
}

// Execute runs the root command and exits non-zero on failure.
func Execute() {
	if err := NewRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func loadConfig() (config.Config, error) {
	cfg, err := config.Load(envFiles...)
	if err != nil {
		return config.Config{}, err
	}
	if dbPath != "" {
		cfg.DBPath = dbPath
	}
	return cfg, nil
}

func newLogger(cfg config.Config, out io.Writer) logging.Logger {
	return logging.New(logging.Config{Level: cfg.LogLevel, Format: cfg.LogFormat, Output: out})
}

func newAuthorizer(cfg config.Config) (authz.Authorizer, error) {
	if cfg.AuthzFile == "" {
		return authz.AllowAll{}, nil
	}
	return authz.LoadFile(cfg.AuthzFile)
}

// newCoordinator opens the store and builds a coordinator from cfg. The
// caller owns the returned store.
func newCoordinator(cfg config.Config, pub notify.Publisher, m *metrics.Collector, log logging.Logger) (*service.Coordinator, *db.Store, error) {
	subnets, err := allocator.NewSubnetAllocator(cfg.SubnetSeed, cfg.SubnetLimit, cfg.ZoneSize)
	if err != nil {
		return nil, nil, err
	}
	az, err := newAuthorizer(cfg)
	if err != nil {
		return nil, nil, err
	}
	store, err := db.Open(cfg.DBPath)
	if err != nil {
		return nil, nil, err
	}
	coord := service.New(store, service.Options{
		Subnets:    subnets,
		Authorizer: az,
		Publisher:  pub,
		Metrics:    m,
		Logger:     log,
		MaxRetries: cfg.AllocMaxRetries,
	})
	return coord, store, nil
}
