package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "WPPGUARD_"

// Config represents the global ~/.wppguard/config.toml.
type Config struct {
	DefaultSession string `toml:"default_session"`
	LogLevel       string `toml:"log_level"`
	// StatusCache enables caching of status/broadcast traffic.
	StatusCache bool `toml:"status_cache"`
	// OwnerJID overrides the account recovered content is delivered to.
	OwnerJID string `toml:"owner_jid"`
	// PairPhone requests a phone pairing code for this number.
	PairPhone        string        `toml:"pair_phone"`
	Channels         []string      `toml:"channels"`
	BootstrapTimeout time.Duration `toml:"bootstrap_timeout"`

	Cache     CacheConfig     `toml:"cache"`
	Reconnect ReconnectConfig `toml:"reconnect"`
	Dispatch  DispatchConfig  `toml:"dispatch"`
	Recovery  RecoveryConfig  `toml:"recovery"`
	Watchdog  WatchdogConfig  `toml:"watchdog"`
}

type CacheConfig struct {
	MaxEntries int `toml:"max_entries"`
}

type ReconnectConfig struct {
	BaseDelay   time.Duration `toml:"base_delay"`
	Growth      float64       `toml:"growth"`
	MaxDelay    time.Duration `toml:"max_delay"`
	MaxAttempts int           `toml:"max_attempts"`
	Jitter      bool          `toml:"jitter"`
}

type DispatchConfig struct {
	ItemDelay time.Duration `toml:"item_delay"`
}

type RecoveryConfig struct {
	Interval        time.Duration `toml:"interval"`
	MediaMaxBytes   int64         `toml:"media_max_bytes"`
	DownloadTimeout time.Duration `toml:"download_timeout"`
	SendTimeout     time.Duration `toml:"send_timeout"`
}

type WatchdogConfig struct {
	Interval   time.Duration `toml:"interval"`
	WarnMB     float64       `toml:"warn_mb"`
	CriticalMB float64       `toml:"critical_mb"`
}

// Default returns the configuration used when no file or override sets a value.
func Default() *Config {
	return &Config{
		LogLevel:         "info",
		BootstrapTimeout: 30 * time.Second,
		Cache:            CacheConfig{MaxEntries: 1000},
		Reconnect: ReconnectConfig{
			BaseDelay:   2 * time.Second,
			Growth:      1.5,
			MaxDelay:    60 * time.Second,
			MaxAttempts: 10,
		},
		Dispatch: DispatchConfig{ItemDelay: 50 * time.Millisecond},
		Recovery: RecoveryConfig{
			Interval:        1500 * time.Millisecond,
			MediaMaxBytes:   50 << 20,
			DownloadTimeout: 60 * time.Second,
			SendTimeout:     30 * time.Second,
		},
		Watchdog: WatchdogConfig{
			Interval:   30 * time.Second,
			WarnMB:     400,
			CriticalMB: 700,
		},
	}
}

// Load reads config from the given path on top of the defaults. Returns an
// error if the file is missing.
func Load(path string) (*Config, error) {
	cfg := Default()
	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Resolve loads the file at path if present, applies environment overrides
// and normalizes the result.
func Resolve(path string) (*Config, error) {
	cfg, err := Load(path)
	if errors.Is(err, fs.ErrNotExist) {
		cfg, err = Default(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("load config %s: %w", path, err)
	}
	if err := cfg.ApplyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	cfg.Normalize()
	return cfg, nil
}

// ApplyEnv overrides fields from WPPGUARD_* variables.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	var errs []error
	str := func(key string, dst *string) {
		if v, ok := lookup(EnvPrefix + key); ok {
			*dst = v
		}
	}
	parse := func(key string, set func(string) error) {
		v, ok := lookup(EnvPrefix + key)
		if !ok || v == "" {
			return
		}
		if err := set(v); err != nil {
			errs = append(errs, fmt.Errorf("%s%s: %w", EnvPrefix, key, err))
		}
	}
	duration := func(dst *time.Duration) func(string) error {
		return func(v string) (err error) {
			*dst, err = time.ParseDuration(v)
			return err
		}
	}
	float := func(dst *float64) func(string) error {
		return func(v string) (err error) {
			*dst, err = strconv.ParseFloat(v, 64)
			return err
		}
	}

	str("DEFAULT_SESSION", &c.DefaultSession)
	str("LOG_LEVEL", &c.LogLevel)
	str("OWNER_JID", &c.OwnerJID)
	str("PAIR_PHONE", &c.PairPhone)
	parse("CHANNELS", func(v string) error {
		c.Channels = splitList(v)
		return nil
	})
	parse("STATUS_CACHE", func(v string) (err error) {
		c.StatusCache, err = strconv.ParseBool(v)
		return err
	})
	parse("BOOTSTRAP_TIMEOUT", duration(&c.BootstrapTimeout))
	parse("CACHE_MAX_ENTRIES", func(v string) (err error) {
		c.Cache.MaxEntries, err = strconv.Atoi(v)
		return err
	})
	parse("RECONNECT_BASE_DELAY", duration(&c.Reconnect.BaseDelay))
	parse("RECONNECT_GROWTH", float(&c.Reconnect.Growth))
	parse("RECONNECT_MAX_DELAY", duration(&c.Reconnect.MaxDelay))
	parse("RECONNECT_MAX_ATTEMPTS", func(v string) (err error) {
		c.Reconnect.MaxAttempts, err = strconv.Atoi(v)
		return err
	})
	parse("DISPATCH_ITEM_DELAY", duration(&c.Dispatch.ItemDelay))
	parse("RECOVERY_INTERVAL", duration(&c.Recovery.Interval))
	parse("RECOVERY_MEDIA_MAX_BYTES", func(v string) (err error) {
		c.Recovery.MediaMaxBytes, err = strconv.ParseInt(v, 10, 64)
		return err
	})
	parse("RECOVERY_DOWNLOAD_TIMEOUT", duration(&c.Recovery.DownloadTimeout))
	parse("WATCHDOG_INTERVAL", duration(&c.Watchdog.Interval))
	parse("WATCHDOG_WARN_MB", float(&c.Watchdog.WarnMB))
	parse("WATCHDOG_CRITICAL_MB", float(&c.Watchdog.CriticalMB))

	return errors.Join(errs...)
}

// Normalize replaces out-of-range values with safe ones.
func (c *Config) Normalize() {
	d := Default()
	if c.LogLevel == "" {
		c.LogLevel = d.LogLevel
	}
	if c.BootstrapTimeout <= 0 {
		c.BootstrapTimeout = d.BootstrapTimeout
	}
	if c.Cache.MaxEntries < 1 {
		c.Cache.MaxEntries = d.Cache.MaxEntries
	}
	if c.Reconnect.BaseDelay <= 0 {
		c.Reconnect.BaseDelay = d.Reconnect.BaseDelay
	}
	// Growth stays within [1.4, 1.5].
	c.Reconnect.Growth = min(max(c.Reconnect.Growth, 1.4), 1.5)
	if c.Reconnect.MaxDelay < c.Reconnect.BaseDelay {
		c.Reconnect.MaxDelay = max(d.Reconnect.MaxDelay, c.Reconnect.BaseDelay)
	}
	if c.Reconnect.MaxAttempts < 1 {
		c.Reconnect.MaxAttempts = d.Reconnect.MaxAttempts
	}
	if c.Dispatch.ItemDelay < 0 {
		c.Dispatch.ItemDelay = 0
	}
	if c.Recovery.Interval < 0 {
		c.Recovery.Interval = 0
	}
	if c.Recovery.MediaMaxBytes <= 0 {
		c.Recovery.MediaMaxBytes = d.Recovery.MediaMaxBytes
	}
	if c.Recovery.DownloadTimeout <= 0 {
		c.Recovery.DownloadTimeout = d.Recovery.DownloadTimeout
	}
	if c.Recovery.SendTimeout <= 0 {
		c.Recovery.SendTimeout = d.Recovery.SendTimeout
	}
	if c.Watchdog.Interval <= 0 {
		c.Watchdog.Interval = d.Watchdog.Interval
	}
	if c.Watchdog.WarnMB <= 0 {
		c.Watchdog.WarnMB = d.Watchdog.WarnMB
	}
	if c.Watchdog.CriticalMB <= c.Watchdog.WarnMB {
		c.Watchdog.CriticalMB = max(d.Watchdog.CriticalMB, c.Watchdog.WarnMB*1.5)
	}
}

// Save writes config to the given path, creating parent dirs as needed.
func Save(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return err
	}
	encErr := toml.NewEncoder(f).Encode(cfg)
	if closeErr := f.Close(); closeErr != nil && encErr == nil {
		return closeErr
	}
	return encErr
}

func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
