package main

import (
	"context"
	"fmt"
	"log/slog"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"atrium-hq/atrium/pkg/auth"
	"atrium-hq/atrium/pkg/config"
	"atrium-hq/atrium/pkg/mail"
	"atrium-hq/atrium/pkg/maintenance"
	"atrium-hq/atrium/pkg/resource/page"
	"atrium-hq/atrium/pkg/resource/post"
	"atrium-hq/atrium/pkg/resource/user"
	"atrium-hq/atrium/pkg/server"
	"atrium-hq/atrium/pkg/store"
	"atrium-hq/atrium/pkg/telemetry/logging"
)

var runFlags struct {
	listenAddress string
	dryRun        bool
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Start the Atrium server",
	Long: `Start the Atrium server with the specified configuration.

Examples:
  # Start with default config
  atrium run

  # Start with custom config
  atrium run --config /etc/atrium/config.yaml

  # Override listen address
  atrium run --listen 0.0.0.0:8080

  # Validate config without starting the server
  atrium run --dry-run`,
	RunE: runServer,
}

func init() {
	rootCmd.AddCommand(runCmd)

	runCmd.Flags().StringVarP(&runFlags.listenAddress, "listen", "l", "", "override listen address")
	runCmd.Flags().BoolVar(&runFlags.dryRun, "dry-run", false, "validate config without starting the server")
}

// loadConfig reads the configuration file and installs the configured
// logger. Shared by every subcommand that touches the datastore.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if verbose {
		cfg.Telemetry.Logging.Level = "debug"
	}
	if _, err := logging.Setup(cfg.Telemetry.Logging); err != nil {
		return nil, fmt.Errorf("failed to configure logging: %w", err)
	}
	return cfg, nil
}

// openStore opens the configured database and applies the schema.
func openStore(ctx context.Context, cfg *config.Config) (*store.Store, error) {
	st, err := store.Open(&store.Config{
		Path:        cfg.Database.Path,
		Driver:      cfg.Database.Driver,
		BusyTimeout: cfg.Database.BusyTimeout,
		WALMode:     cfg.Database.WALMode,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := st.Migrate(ctx); err != nil {
		st.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return st, nil
}

func runServer(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if runFlags.listenAddress != "" {
		cfg.Server.ListenAddress = runFlags.listenAddress
	}

	if runFlags.dryRun {
		fmt.Println("Configuration valid")
		return nil
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	st, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer st.Close()

	txn := auth.NewTransactor(st)
	mailer := mail.NewSMTPSender(&cfg.SMTP)

	srv := server.NewServer(cfg,
		user.New(txn, mailer, user.WithBcryptCost(cfg.Auth.BcryptCost)),
		post.New(txn),
		page.New(txn),
	)

	sched := maintenance.NewScheduler(maintenance.NewPruner(st, &cfg.Maintenance))
	if err := sched.Start(ctx); err != nil {
		return fmt.Errorf("failed to start maintenance scheduler: %w", err)
	}
	defer sched.Stop()

	slog.Info("starting server",
		"address", cfg.Server.ListenAddress,
		"tls_enabled", cfg.Server.TLS.Enabled,
		"database", cfg.Database.Path,
	)

	if err := srv.Start(ctx); err != nil {
		return fmt.Errorf("server error: %w", err)
	}
	return nil
}
