// Package main is the entry point for the CreatorHub server.
//
// MAIN PACKAGE IN GO:
// The main package should be kept minimal. Its job is to:
// 1. Read configuration (config.Load: defaults, YAML, .env, environment)
// 2. Create dependencies (logger, database)
// 3. Hand over to the package that does the work
//
// COMMANDS:
//
//	creatorhub serve              run the web server and the outreach dispatcher
//	creatorhub migrate            create or upgrade the database schema, then exit
//	creatorhub dispatch           run one outreach pass, then exit
//
// All commands accept --config (default config.yaml). A missing file is fine:
// defaults and environment variables still apply.
package main

import (
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/sakif/creatorhub/internal/config"
	"github.com/sakif/creatorhub/internal/logging"
	sqliteRepo "github.com/sakif/creatorhub/internal/repository/sqlite"
	"github.com/sakif/creatorhub/internal/server"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		// cobra has already printed the error.
		os.Exit(1)
	}
}

// app is the state every subcommand shares once PersistentPreRunE has run.
type app struct {
	configPath string
	cfg        *config.Config
	logger     *slog.Logger
}

func newRootCmd() *cobra.Command {
	a := &app{}

	root := &cobra.Command{
		Use:          "creatorhub",
		Short:        "Creator discovery, CRM and outreach for brands",
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(a.configPath)
			if err != nil {
				return err
			}
			a.cfg = cfg
			a.logger = logging.New(cfg.Logging.Level, cfg.Logging.Format)
			return ensureDBDir(cfg.Database.Path)
		},
	}
	root.PersistentFlags().StringVarP(&a.configPath, "config", "c", "config.yaml", "path to the YAML config file")

	root.AddCommand(
		&cobra.Command{
			Use:   "serve",
			Short: "Run the web server",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				return a.serve()
			},
		},
		&cobra.Command{
			Use:   "migrate",
			Short: "Create or upgrade the database schema",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				return a.migrate(cmd)
			},
		},
		&cobra.Command{
			Use:   "dispatch",
			Short: "Send every outreach email that is due, once",
			Long: `Run a single outreach pass and exit.

Useful from cron when the server runs with outreach disabled, or to flush
the queue by hand. Daily caps still apply.`,
			Args: cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				return a.dispatch(cmd)
			},
		},
	)
	return root
}

func (a *app) serve() error {
	srv, err := server.New(a.cfg, a.logger)
	if err != nil {
		return fmt.Errorf("creating server: %w", err)
	}
	// Start() blocks until the server is shut down (via Ctrl+C or SIGTERM)
	return srv.Start()
}

func (a *app) migrate(cmd *cobra.Command) error {
	// sqlite.New migrates on open.
	db, err := sqliteRepo.New(a.cfg.Database.Path)
	if err != nil {
		return err
	}
	defer db.Close()
	fmt.Fprintf(cmd.OutOrStdout(), "database %s is up to date\n", a.cfg.Database.Path)
	return nil
}

func (a *app) dispatch(cmd *cobra.Command) error {
	db, err := sqliteRepo.New(a.cfg.Database.Path)
	if err != nil {
		return err
	}
	defer db.Close()

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	res, err := server.NewDispatcher(a.cfg, db, a.logger).RunOnce(ctx)
	if err != nil {
		return fmt.Errorf("dispatch: %w", err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "sent %d, completed %d, skipped %d, failed %d\n",
		res.Sent, res.Completed, res.Skipped, res.Failed)
	return nil
}

// ensureDBDir creates the database's parent directory (like `mkdir -p`).
func ensureDBDir(dbPath string) error {
	if dbPath == ":memory:" {
		return nil
	}
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating database directory %s: %w", dir, err)
	}
	return nil
}
