// Package config loads giftwatch runtime configuration.
//
// Configuration comes from the environment (GIFTWATCH_* variables), with an
// optional .env file loaded first. A few values can additionally be
// overridden by command-line flags in cmd/giftwatch.
package config

import (
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

const envPrefix = "GIFTWATCH"

// Config holds every runtime tunable of the watcher.
type Config struct {
	// Platform account used for catalog reads, media downloads and the
	// native sticker sends.
	APIID       int    `envconfig:"API_ID" required:"true"`
	APIHash     string `envconfig:"API_HASH" required:"true"`
	Phone       string `envconfig:"PHONE"`
	Password    string `envconfig:"PASSWORD"`
	SessionFile string `envconfig:"SESSION_FILE"`

	// BotTokens are the credentialed senders rotated by the outbound API
	// client, comma-separated.
	BotTokens  []string `envconfig:"BOT_TOKENS" required:"true"`
	BotAPIBase string   `envconfig:"BOT_API_BASE" default:"https://api.telegram.org"`

	// NotifyChat receives new-gift announcements; UpgradesChat receives
	// one-shot upgrade notices. Both are public usernames ("@gifts").
	// Leaving UpgradesChat empty disables the upgrade poller.
	NotifyChat   string `envconfig:"NOTIFY_CHAT" required:"true"`
	UpgradesChat string `envconfig:"UPGRADES_CHAT"`

	StateDir string `envconfig:"STATE_DIR" default:"/var/lib/giftwatch"`
	// DataFile defaults to <StateDir>/star_gifts.json.
	DataFile string `envconfig:"DATA_FILE"`
	// HistoryDSN enables the availability history recorder when set. Both
	// SQLite paths and postgres:// URLs are accepted.
	HistoryDSN string `envconfig:"HISTORY_DSN"`

	CheckInterval         time.Duration `envconfig:"CHECK_INTERVAL" default:"5s"`
	UpgradeInterval       time.Duration `envconfig:"UPGRADE_INTERVAL" default:"2s"`
	UpgradeProbesPerCycle int           `envconfig:"UPGRADE_PROBES_PER_CYCLE" default:"2"`
	FlushDebounce         time.Duration `envconfig:"FLUSH_DEBOUNCE" default:"2s"`
	AfterStickerDelay     time.Duration `envconfig:"AFTER_STICKER_DELAY" default:"1s"`
	AfterTextDelay        time.Duration `envconfig:"AFTER_TEXT_DELAY" default:"2s"`
	UpdateIdleDelay       time.Duration `envconfig:"UPDATE_IDLE_DELAY" default:"1s"`
	HTTPTimeout           time.Duration `envconfig:"HTTP_TIMEOUT" default:"20s"`

	// BatchDownloads groups sticker downloads per data center ahead of an
	// announcement batch instead of fetching one by one.
	BatchDownloads bool `envconfig:"BATCH_DOWNLOADS" default:"true"`
}

// Load reads the .env file (best effort) and the environment.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		slog.Debug("no .env file loaded", "error", err)
	}

	var cfg Config
	if err := envconfig.Process(envPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("process environment: %w", err)
	}

	tokens := cfg.BotTokens[:0]
	for _, t := range cfg.BotTokens {
		if t = strings.TrimSpace(t); t != "" {
			tokens = append(tokens, t)
		}
	}
	cfg.BotTokens = tokens
	if len(cfg.BotTokens) == 0 {
		return nil, fmt.Errorf("%s_BOT_TOKENS contains no usable tokens", envPrefix)
	}

	if cfg.DataFile == "" {
		cfg.DataFile = filepath.Join(cfg.StateDir, "star_gifts.json")
	}
	if cfg.SessionFile == "" {
		cfg.SessionFile = filepath.Join(cfg.StateDir, "session.json")
	}
	if !strings.HasPrefix(cfg.NotifyChat, "@") {
		return nil, fmt.Errorf("notify chat %q must be a public @username", cfg.NotifyChat)
	}
	if cfg.UpgradesChat != "" && !strings.HasPrefix(cfg.UpgradesChat, "@") {
		return nil, fmt.Errorf("upgrades chat %q must be a public @username", cfg.UpgradesChat)
	}

	return &cfg, nil
}
