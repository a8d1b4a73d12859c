package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/basket/taskbot/internal/bot"
	"github.com/basket/taskbot/internal/command"
	"github.com/basket/taskbot/internal/config"
	"github.com/basket/taskbot/internal/kv"
	"github.com/basket/taskbot/internal/tasks"
	"github.com/basket/taskbot/internal/telemetry"
	"github.com/mattn/go-isatty"
)

// Version is set via ldflags at build time: -ldflags "-X main.Version=..."
var Version = "dev"

func main() {
	showVersion := flag.Bool("version", false, "print version and exit")
	quiet := flag.Bool("quiet", false, "log to file only, keep stdout clean")
	flag.Parse()

	if *showVersion {
		fmt.Println("taskbot", Version)
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		fatal(nil, "config load failed", err)
	}

	quietLogs := *quiet || !isatty.IsTerminal(os.Stdout.Fd())
	logger, logCloser, err := telemetry.NewLogger(cfg.HomeDir, cfg.LogLevel, quietLogs)
	if err != nil {
		fatal(nil, "logger init failed", err)
	}
	defer func() { _ = logCloser.Close() }()
	slog.SetDefault(logger)

	if cfg.Telegram.Token == "" {
		fatal(logger, "missing telegram token", fmt.Errorf("set telegram.token in %s or TASKBOT_TELEGRAM_TOKEN", config.Path(cfg.HomeDir)))
	}

	meterProvider, err := telemetry.NewMeterProvider(ctx, cfg.MetricsEnabled)
	if err != nil {
		fatal(logger, "metrics init failed", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = meterProvider.Shutdown(shutdownCtx)
	}()

	metrics, err := telemetry.NewMetrics(meterProvider.Meter)
	if err != nil {
		fatal(logger, "metrics init failed", err)
	}

	store, err := kv.Open(cfg.DBPath)
	if err != nil {
		fatal(logger, "store open failed", err)
	}
	defer func() { _ = store.Close() }()

	taskStore := tasks.NewStore(store)
	dispatcher := command.NewDispatcher(logger, metrics)
	bot.NewHandlers(taskStore, cfg.PageSize).Register(dispatcher)

	channel := bot.NewTelegram(cfg.Telegram.Token, cfg.Telegram.AllowedChatIDs, dispatcher, logger)

	watcher := config.NewWatcher(cfg.HomeDir, logger)
	if err := watcher.Start(ctx); err != nil {
		logger.Warn("config watcher unavailable", "error", err)
	} else {
		go reloadLoop(ctx, watcher, channel, logger)
	}

	logger.Info("taskbot starting", "version", Version, "db_path", cfg.DBPath)
	if err := channel.Start(ctx); err != nil {
		fatal(logger, "telegram channel failed", err)
	}
	logger.Info("taskbot stopped")
}

// reloadLoop re-reads the config when the watcher fires and applies the
// fields that are safe to change at runtime.
func reloadLoop(ctx context.Context, watcher *config.Watcher, channel *bot.Telegram, logger *slog.Logger) {
	for {
		select {
		case <-ctx.Done():
			return
		case _, ok := <-watcher.Events():
			if !ok {
				return
			}
			cfg, err := config.Load()
			if err != nil {
				logger.Error("config reload failed", "error", err)
				continue
			}
			channel.SetAllowedChats(cfg.Telegram.AllowedChatIDs)
			logger.Info("config reloaded", "allowed_chats", len(cfg.Telegram.AllowedChatIDs))
		}
	}
}

func fatal(logger *slog.Logger, msg string, err error) {
	if logger != nil {
		logger.Error(msg, "error", err)
	}
	fmt.Fprintf(os.Stderr, "taskbot: %s: %v\n", msg, err)
	os.Exit(1)
}
