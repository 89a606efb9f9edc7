package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/charmbracelet/log"
	"github.com/urfave/cli/v3"

	"github.com/elsanchez/smart-publish/internal/auth"
	"github.com/elsanchez/smart-publish/internal/automation"
	"github.com/elsanchez/smart-publish/internal/automation/browser"
	"github.com/elsanchez/smart-publish/internal/automation/douyin"
	"github.com/elsanchez/smart-publish/internal/config"
	"github.com/elsanchez/smart-publish/internal/credentials"
	"github.com/elsanchez/smart-publish/internal/daemon"
	"github.com/elsanchez/smart-publish/internal/dedup"
	"github.com/elsanchez/smart-publish/internal/logger"
	"github.com/elsanchez/smart-publish/internal/publish"
	"github.com/elsanchez/smart-publish/internal/repository"
	"github.com/elsanchez/smart-publish/internal/repository/memory"
	"github.com/elsanchez/smart-publish/internal/repository/sqlite"
	"github.com/elsanchez/smart-publish/internal/schedule"
	"github.com/elsanchez/smart-publish/internal/stream"
)

const (
	version = "0.1.0"

	hubBuffer       = 64
	shutdownTimeout = 30 * time.Second
)

func main() {
	app := &cli.Command{
		Name:    "smart-publishd",
		Usage:   "Publish task orchestrator daemon",
		Version: version,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "Path to configuration file (default: ~/.config/smart-publish/config.toml)",
			},
			&cli.BoolFlag{
				Name:  "init-config",
				Usage: "Write the example configuration and exit",
			},
		},
		Action: run,
	}

	if err := app.Run(context.Background(), os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "smart-publishd: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cmd *cli.Command) error {
	if cmd.Bool("init-config") {
		path := cmd.String("config")
		if path == "" {
			path = config.DefaultPath()
		}
		if err := config.CreateConfigFile(path); err != nil {
			return err
		}
		fmt.Printf("✓ Config written to %s\n", path)
		return nil
	}

	cfg, err := config.Load(cmd.String("config"))
	if err != nil {
		return err
	}

	root, err := logger.New(os.Stderr, cfg.Log.Level)
	if err != nil {
		return err
	}
	root.Infof("smart-publishd v%s starting...", version)

	// Persistencia
	tasks, accounts, closeStore, err := openStore(cfg, root)
	if err != nil {
		return err
	}
	defer closeStore()

	creds, err := credentials.NewFileStore(cfg.Credentials.Dir)
	if err != nil {
		return fmt.Errorf("open credential store: %w", err)
	}
	root.Info("✓ Credential store ready", "dir", cfg.Credentials.Dir)

	// Navegador compartido por los adaptadores
	launcher := browser.NewLauncher(browser.Options{
		Headless:          cfg.Automation.Headless,
		ChromePath:        cfg.Automation.ChromePath,
		SessionsPerMinute: cfg.Automation.SessionsPerMinute,
		Burst:             cfg.Automation.Burst,
	}, logger.Component(root, "browser"))
	defer func() {
		if err := launcher.Close(); err != nil {
			root.Warn("browser shutdown", "err", err)
		}
	}()

	automations := automation.NewRegistry(
		douyin.New(launcher, logger.Component(root, "automation")),
	)

	hub := stream.NewHub(hubBuffer)

	validator := auth.NewValidator(accounts, creds, automations, cfg.Publish.ProbeTimeout.Duration, logger.Component(root, "auth"))
	logins := auth.NewLoginManager(accounts, creds, automations, hub, cfg.Login.Timeout.Duration, logger.Component(root, "login"))

	orch := publish.New(publish.Config{
		Workers:          cfg.Publish.Workers,
		MaxUploadRetries: cfg.Publish.MaxUploadRetries,
		RetryBackoff:     cfg.Publish.RetryBackoff.Duration,
		AuthRetryBackoff: cfg.Publish.AuthRetryBackoff.Duration,
		UploadTimeout:    cfg.Publish.UploadTimeout.Duration,
		ScheduleTimeout:  cfg.Publish.ScheduleTimeout.Duration,
		ConfirmTimeout:   cfg.Publish.ConfirmTimeout.Duration,
		Retention:        cfg.Publish.Retention.Duration,
		CleanupInterval:  cfg.Publish.CleanupInterval.Duration,
		FingerprintMode:  dedup.Mode(cfg.Publish.Fingerprint),
	}, publish.Deps{
		Tasks:       tasks,
		Accounts:    accounts,
		Validator:   validator,
		Credentials: creds,
		Automations: automations,
		Dedup:       dedup.NewRegistry(),
		Schedule:    schedule.NewCalculator(cfg.Publish.DefaultSlots),
		Hub:         hub,
		Logger:      logger.Component(root, "publish"),
	})
	if err := orch.Start(ctx); err != nil {
		return fmt.Errorf("start orchestrator: %w", err)
	}
	root.Infof("✓ Orchestrator started (%d workers)", cfg.Publish.Workers)

	handlers := &daemon.Handlers{
		Publisher:   orch,
		Logins:      logins,
		Validator:   validator,
		Accounts:    accounts,
		Credentials: creds,
		Importer:    credentials.NewCookieImporter(creds, accounts),
		Exporter:    credentials.NewCookieExporter(creds, accounts),
		Hub:         hub,
		Logger:      logger.Component(root, "api"),
	}

	server := daemon.NewServer(cfg.Server.Addr, cfg.Server.Socket, daemon.NewRouter(handlers), logger.Component(root, "server"))
	if err := server.Start(); err != nil {
		orch.Stop()
		return fmt.Errorf("start server: %w", err)
	}

	root.Info("✓ Server started", "socket", cfg.Server.Socket, "addr", cfg.Server.Addr)
	root.Info("smart-publishd is ready")

	// Esperar señal de terminación
	sigCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	<-sigCtx.Done()

	root.Info("Shutting down gracefully...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	// Primero el servidor: no entran tareas nuevas mientras paramos los workers
	if err := server.Stop(shutdownCtx); err != nil && !errors.Is(err, context.DeadlineExceeded) {
		root.Warn("server shutdown", "err", err)
	}
	orch.Stop()
	logins.Stop()

	root.Info("Bye")
	return nil
}

// openStore abre los repositorios según storage.driver
func openStore(cfg *config.Config, l *log.Logger) (repository.TaskRepository, repository.AccountRepository, func(), error) {
	if cfg.Storage.Driver == "memory" {
		l.Warn("Using in-memory storage; tasks and accounts are lost on restart")
		return memory.NewTaskRepository(), memory.NewAccountRepository(), func() {}, nil
	}

	db, err := sqlite.NewDatabase(cfg.Storage.DataDir)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("initialize database: %w", err)
	}
	l.Info("✓ Database initialized", "dir", cfg.Storage.DataDir)

	return db.TaskRepo, db.AccountRepo, func() {
		if err := db.Close(); err != nil {
			l.Warn("close database", "err", err)
		}
	}, nil
}
