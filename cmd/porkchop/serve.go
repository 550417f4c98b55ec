package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/hochfrequenz/porkchop/internal/catalog"
	"github.com/hochfrequenz/porkchop/internal/config"
	"github.com/hochfrequenz/porkchop/internal/dispatch"
	"github.com/hochfrequenz/porkchop/internal/generate"
	"github.com/hochfrequenz/porkchop/internal/notify"
	"github.com/hochfrequenz/porkchop/internal/schedule"
	"github.com/hochfrequenz/porkchop/internal/store"
	"github.com/hochfrequenz/porkchop/internal/validation"
	"github.com/hochfrequenz/porkchop/web/api"
	"github.com/spf13/cobra"
)

var (
	servePort      int
	serveSchedules string
)

func init() {
	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the API server",
		RunE:  runServe,
	}
	serveCmd.Flags().IntVar(&servePort, "port", 0, "port to listen on (default from config)")
	serveCmd.Flags().StringVar(&serveSchedules, "schedules", "", "extra TOML file with [[schedule]] entries")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if servePort != 0 {
		cfg.Web.Port = servePort
	}

	level, _ := config.ParseLevel(cfg.Logging.Level)
	logger, closeLog := config.SetupLogger(cfg.Logging.File, level)
	defer closeLog()
	slog.SetDefault(logger)

	if err := os.MkdirAll(filepath.Dir(cfg.General.DatabasePath), 0755); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}
	st, err := store.New(cfg.General.DatabasePath)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer st.Close()

	cat := promptCatalog(cfg, logger)

	client, err := generate.New(cfg.GenerateSettings())
	if err != nil {
		return fmt.Errorf("generation backend: %w", err)
	}

	svc := validation.New(validation.Config{
		Store:    st,
		Catalog:  cat,
		Client:   client,
		Options:  cfg.GenerateOptions(),
		Pool:     dispatch.NewPool(cfg.General.MaxConcurrentGenerations),
		Limits:   cfg.ValidationLimits(),
		Notifier: buildNotifier(cfg),
		Logger:   logger,
	})
	defer svc.Close()

	recovered, err := svc.RecoverInterrupted()
	if err != nil {
		return fmt.Errorf("recover interrupted batches: %w", err)
	}
	if recovered > 0 {
		logger.Warn("marked interrupted batches", "count", recovered)
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if promptDirs := cat.Dirs(); len(promptDirs) > 0 {
		watcher, err := catalog.NewWatcher(cat)
		if err != nil {
			logger.Warn("prompt watcher disabled", "error", err)
		} else {
			watcher.OnChange(func() { logger.Info("prompt catalog reloaded", "dirs", promptDirs) })
			watcher.Start(ctx)
			defer watcher.Stop()
		}
	}

	entries := cfg.Schedules
	if serveSchedules != "" {
		extra, err := schedule.LoadFile(serveSchedules)
		if err != nil {
			return err
		}
		entries = append(entries, extra...)
	}
	sched, err := schedule.New(entries, svc, logger)
	if err != nil {
		return err
	}
	if names := sched.Names(); len(names) > 0 {
		logger.Info("schedules loaded", "names", names)
	}
	schedDone := make(chan struct{})
	go func() {
		defer close(schedDone)
		sched.Start(ctx)
	}()

	server := api.NewServer(svc, api.Options{Addr: cfg.Addr(), Logger: logger})
	errCh := make(chan error, 1)
	go func() { errCh <- server.Start() }()

	fmt.Printf("porkchop listening at http://%s (model %s, %d concurrent generations)\n",
		cfg.Addr(), client.Model(), cfg.General.MaxConcurrentGenerations)

	select {
	case <-ctx.Done():
	case err := <-errCh:
		if err != nil {
			stop()
			<-schedDone
			return err
		}
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	// Event streams never end on their own; close them so Shutdown can drain
	svc.Events().Close()
	if err := server.Shutdown(shutdownCtx); err != nil && !errors.Is(err, context.DeadlineExceeded) {
		logger.Error("http shutdown", "error", err)
	}
	<-schedDone

	logger.Info("waiting for in-flight generations", "in_flight", svc.Pool().InFlight())
	svc.Close()
	return nil
}

// promptCatalog layers the configured prompts dir over the embedded set
func promptCatalog(cfg *config.Config, logger *slog.Logger) *catalog.Catalog {
	return catalog.New(logger, cfg.General.PromptsDir)
}

func buildNotifier(cfg *config.Config) notify.Notifier {
	var notifiers []notify.Notifier
	if cfg.Notifications.Desktop {
		notifiers = append(notifiers, notify.NewDesktopNotifier(true))
	}
	if cfg.Notifications.SlackWebhook != "" {
		notifiers = append(notifiers, notify.NewSlackNotifier(cfg.Notifications.SlackWebhook))
	}
	if len(notifiers) == 0 {
		return notify.NoopNotifier{}
	}
	return notify.NewMultiNotifier(notifiers...)
}
