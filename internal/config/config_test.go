package config

import (
	"os"
	"path/filepath"
	"reflect"
	"testing"
	"time"
)

func TestSaveAndLoad(t *testing.T) {
	tmpDir := t.TempDir()
	path := filepath.Join(tmpDir, "config.toml")

	cfg := Default()
	cfg.DefaultSession = "work"
	cfg.Channels = []string{"120363000000000000@newsletter"}
	cfg.Reconnect.MaxDelay = 90 * time.Second
	if err := Save(path, cfg); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if loaded.DefaultSession != "work" {
		t.Errorf("DefaultSession = %q, want %q", loaded.DefaultSession, "work")
	}
	if loaded.Reconnect.MaxDelay != 90*time.Second {
		t.Errorf("Reconnect.MaxDelay = %s, want 1m30s", loaded.Reconnect.MaxDelay)
	}
	if !reflect.DeepEqual(loaded.Channels, cfg.Channels) {
		t.Errorf("Channels = %v, want %v", loaded.Channels, cfg.Channels)
	}
}

func TestLoadMissing(t *testing.T) {
	_, err := Load("/nonexistent/config.toml")
	if err == nil {
		t.Error("Load() expected error for missing file")
	}
}

func TestLoadPartialKeepsDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	raw := `
status_cache = true

[cache]
max_entries = 250

[recovery]
interval = "2s"
`
	if err := os.WriteFile(path, []byte(raw), 0600); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if !cfg.StatusCache {
		t.Error("StatusCache = false, want true")
	}
	if cfg.Cache.MaxEntries != 250 {
		t.Errorf("Cache.MaxEntries = %d, want 250", cfg.Cache.MaxEntries)
	}
	if cfg.Recovery.Interval != 2*time.Second {
		t.Errorf("Recovery.Interval = %s, want 2s", cfg.Recovery.Interval)
	}
	if cfg.Reconnect.Growth != 1.5 {
		t.Errorf("Reconnect.Growth = %v, want default 1.5", cfg.Reconnect.Growth)
	}
	if cfg.Watchdog.CriticalMB != 700 {
		t.Errorf("Watchdog.CriticalMB = %v, want default 700", cfg.Watchdog.CriticalMB)
	}
}

func TestResolveMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Resolve(filepath.Join(t.TempDir(), "absent.toml"))
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if cfg.Cache.MaxEntries != 1000 {
		t.Errorf("Cache.MaxEntries = %d, want 1000", cfg.Cache.MaxEntries)
	}
}

func TestResolveRejectsBrokenFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(path, []byte("cache = [[["), 0600); err != nil {
		t.Fatal(err)
	}
	if _, err := Resolve(path); err == nil {
		t.Error("Resolve() expected error for malformed file")
	}
}

func TestApplyEnv(t *testing.T) {
	env := map[string]string{
		"WPPGUARD_LOG_LEVEL":         "debug",
		"WPPGUARD_STATUS_CACHE":      "true",
		"WPPGUARD_CACHE_MAX_ENTRIES": "42",
		"WPPGUARD_CHANNELS":          "a@newsletter, b@newsletter,",
		"WPPGUARD_RECOVERY_INTERVAL": "250ms",
		"WPPGUARD_WATCHDOG_WARN_MB":  "128.5",
		"WPPGUARD_OWNER_JID":         "558592403672@s.whatsapp.net",
	}
	lookup := func(k string) (string, bool) {
		v, ok := env[k]
		return v, ok
	}

	cfg := Default()
	if err := cfg.ApplyEnv(lookup); err != nil {
		t.Fatalf("ApplyEnv() error = %v", err)
	}
	if cfg.LogLevel != "debug" {
		t.Errorf("LogLevel = %q", cfg.LogLevel)
	}
	if !cfg.StatusCache {
		t.Error("StatusCache = false")
	}
	if cfg.Cache.MaxEntries != 42 {
		t.Errorf("Cache.MaxEntries = %d", cfg.Cache.MaxEntries)
	}
	if want := []string{"a@newsletter", "b@newsletter"}; !reflect.DeepEqual(cfg.Channels, want) {
		t.Errorf("Channels = %v, want %v", cfg.Channels, want)
	}
	if cfg.Recovery.Interval != 250*time.Millisecond {
		t.Errorf("Recovery.Interval = %s", cfg.Recovery.Interval)
	}
	if cfg.Watchdog.WarnMB != 128.5 {
		t.Errorf("Watchdog.WarnMB = %v", cfg.Watchdog.WarnMB)
	}
	if cfg.OwnerJID != "558592403672@s.whatsapp.net" {
		t.Errorf("OwnerJID = %q", cfg.OwnerJID)
	}
}

func TestApplyEnvInvalid(t *testing.T) {
	lookup := func(k string) (string, bool) {
		switch k {
		case "WPPGUARD_CACHE_MAX_ENTRIES":
			return "many", true
		case "WPPGUARD_RECONNECT_BASE_DELAY":
			return "soon", true
		}
		return "", false
	}
	if err := Default().ApplyEnv(lookup); err == nil {
		t.Error("ApplyEnv() expected error for unparsable values")
	}
}

func TestNormalize(t *testing.T) {
	tests := []struct {
		name  string
		mod   func(*Config)
		check func(*testing.T, *Config)
	}{
		{
			name: "growth clamped high",
			mod:  func(c *Config) { c.Reconnect.Growth = 3 },
			check: func(t *testing.T, c *Config) {
				if c.Reconnect.Growth != 1.5 {
					t.Errorf("Growth = %v, want 1.5", c.Reconnect.Growth)
				}
			},
		},
		{
			name: "growth clamped low",
			mod:  func(c *Config) { c.Reconnect.Growth = 0 },
			check: func(t *testing.T, c *Config) {
				if c.Reconnect.Growth != 1.4 {
					t.Errorf("Growth = %v, want 1.4", c.Reconnect.Growth)
				}
			},
		},
		{
			name: "cache minimum",
			mod:  func(c *Config) { c.Cache.MaxEntries = 0 },
			check: func(t *testing.T, c *Config) {
				if c.Cache.MaxEntries != 1000 {
					t.Errorf("MaxEntries = %d, want 1000", c.Cache.MaxEntries)
				}
			},
		},
		{
			name: "critical above warn",
			mod: func(c *Config) {
				c.Watchdog.WarnMB = 800
				c.Watchdog.CriticalMB = 500
			},
			check: func(t *testing.T, c *Config) {
				if c.Watchdog.CriticalMB <= c.Watchdog.WarnMB {
					t.Errorf("CriticalMB = %v not above WarnMB = %v", c.Watchdog.CriticalMB, c.Watchdog.WarnMB)
				}
			},
		},
		{
			name: "max delay not below base",
			mod: func(c *Config) {
				c.Reconnect.BaseDelay = 2 * time.Minute
				c.Reconnect.MaxDelay = time.Second
			},
			check: func(t *testing.T, c *Config) {
				if c.Reconnect.MaxDelay < c.Reconnect.BaseDelay {
					t.Errorf("MaxDelay = %s below BaseDelay = %s", c.Reconnect.MaxDelay, c.Reconnect.BaseDelay)
				}
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mod(cfg)
			cfg.Normalize()
			tt.check(t, cfg)
		})
	}
}

func TestSavePermissions(t *testing.T) {
	tmpDir := t.TempDir()
	path := filepath.Join(tmpDir, "config.toml")

	if err := Save(path, &Config{DefaultSession: "main"}); err != nil {
		t.Fatal(err)
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatal(err)
	}
	perm := info.Mode().Perm()
	if perm != 0600 {
		t.Errorf("file permission = %o, want 0600", perm)
	}
}
