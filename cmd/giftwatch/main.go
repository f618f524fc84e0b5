package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/giftwatch/giftwatch/internal/botapi"
	"github.com/giftwatch/giftwatch/internal/config"
	"github.com/giftwatch/giftwatch/internal/downloader"
	"github.com/giftwatch/giftwatch/internal/history"
	"github.com/giftwatch/giftwatch/internal/lockfile"
	"github.com/giftwatch/giftwatch/internal/store"
	"github.com/giftwatch/giftwatch/internal/telegram"
	"github.com/giftwatch/giftwatch/internal/watcher"
)

func main() {
	initializeLogger()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("configuration invalid", "error", err)
		os.Exit(1)
	}
	parseFlags(cfg)

	if err := os.MkdirAll(cfg.StateDir, 0o755); err != nil {
		slog.Error("state directory creation failed", "error", err, "state_dir", cfg.StateDir)
		os.Exit(1)
	}

	lock, err := lockfile.Acquire(cfg.StateDir)
	if err != nil {
		slog.Error("state directory lock failed", "error", err)
		os.Exit(1)
	}
	defer lock.Release()

	st, err := store.Load(cfg.DataFile, cfg.FlushDebounce)
	if err != nil {
		// A corrupt store must not silently become an empty one: that would
		// re-announce every known gift.
		slog.Error("gift store load failed", "error", err, "path", cfg.DataFile)
		os.Exit(1)
	}

	hist, err := history.Open(cfg.HistoryDSN)
	if err != nil {
		slog.Warn("availability history disabled", "error", err)
	}
	defer hist.Close()

	bot, err := botapi.New(cfg.BotTokens,
		botapi.WithBaseURL(cfg.BotAPIBase),
		botapi.WithTimeout(cfg.HTTPTimeout),
	)
	if err != nil {
		slog.Error("bot API client init failed", "error", err)
		os.Exit(1)
	}
	slog.Info("bot API client ready", "senders", bot.Senders())

	tgc := telegram.New(telegram.Opts{
		APIID:       cfg.APIID,
		APIHash:     cfg.APIHash,
		SessionFile: cfg.SessionFile,
		Phone:       cfg.Phone,
		Password:    cfg.Password,
		QRLogin:     qrLogin,
	})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	err = tgc.Run(ctx, func(ctx context.Context) error {
		w := watcher.New(watcher.Config{
			NotifyChat:            cfg.NotifyChat,
			UpgradesChat:          cfg.UpgradesChat,
			CheckInterval:         cfg.CheckInterval,
			UpgradeInterval:       cfg.UpgradeInterval,
			UpgradeProbesPerCycle: cfg.UpgradeProbesPerCycle,
			AfterStickerDelay:     cfg.AfterStickerDelay,
			AfterTextDelay:        cfg.AfterTextDelay,
			UpdateIdleDelay:       cfg.UpdateIdleDelay,
			BatchDownloads:        cfg.BatchDownloads,
		}, st, hist, tgc, tgc, tgc, bot, downloader.New(tgc))
		return w.Run(ctx)
	})
	if err != nil && ctx.Err() == nil {
		slog.Error("giftwatch failed", "error", err)
		os.Exit(1)
	}
	slog.Info("giftwatch exited")
}

// qrLogin is set by the -qr flag; everything else comes from the
// environment with a handful of flag overrides.
var qrLogin bool

func initializeLogger() {
	level := slog.LevelInfo
	if os.Getenv("GIFTWATCH_DEBUG") != "" {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)
}

func parseFlags(cfg *config.Config) {
	flag.BoolVar(&qrLogin, "qr", false, "log in with a QR code instead of a phone code")
	stateDir := flag.String("state-dir", cfg.StateDir, "state directory (overrides $GIFTWATCH_STATE_DIR)")
	dataFile := flag.String("data-file", cfg.DataFile, "gift store file (overrides $GIFTWATCH_DATA_FILE)")
	historyDSN := flag.String("history-dsn", cfg.HistoryDSN, "availability history DSN (overrides $GIFTWATCH_HISTORY_DSN)")
	flag.Parse()

	// A -state-dir override moves the default data and session files along
	// with it unless those were overridden explicitly.
	if *stateDir != cfg.StateDir {
		if *dataFile == cfg.DataFile && cfg.DataFile == filepath.Join(cfg.StateDir, "star_gifts.json") {
			*dataFile = filepath.Join(*stateDir, "star_gifts.json")
		}
		if cfg.SessionFile == filepath.Join(cfg.StateDir, "session.json") {
			cfg.SessionFile = filepath.Join(*stateDir, "session.json")
		}
	}

	cfg.StateDir = *stateDir
	cfg.DataFile = *dataFile
	cfg.HistoryDSN = *historyDSN
}
