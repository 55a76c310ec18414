package config

import (
	"math"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// DefaultCacheTTL applies when USAGE_STATUS_CACHE_TTL_SECS is unset or invalid.
const DefaultCacheTTL = 60 * time.Second

const appDir = "qmeter"

// Env holds the process environment qmeter reads.
type Env struct {
	CachePath     string
	CacheTTL      time.Duration // Zero disables cache freshness
	StatePath     string
	SettingsPath  string
	Fixture       string // "demo" selects the embedded fixture set
	FixtureFile   string
	BashExe       string
	ClaudeCommand string
	CodexCommand  string
	LogLevel      string
}

// FixtureMode reports whether fixture data replaces the real sources.
func (e Env) FixtureMode() bool {
	return e.Fixture == "demo" || e.FixtureFile != ""
}

// LoadEnv resolves the environment, applying platform default paths.
func LoadEnv() Env {
	v := viper.New()
	_ = v.BindEnv("cache_path", "USAGE_STATUS_CACHE_PATH")
	_ = v.BindEnv("cache_ttl_secs", "USAGE_STATUS_CACHE_TTL_SECS")
	_ = v.BindEnv("notification_state_path", "USAGE_STATUS_NOTIFICATION_STATE_PATH")
	_ = v.BindEnv("settings_path", "USAGE_STATUS_SETTINGS_PATH", "USAGE_STATUS_TRAY_SETTINGS_PATH")
	_ = v.BindEnv("fixture", "USAGE_STATUS_FIXTURE")
	_ = v.BindEnv("fixture_file", "USAGE_STATUS_FIXTURE_FILE")
	_ = v.BindEnv("bash_exe", "USAGE_STATUS_BASH_EXE")
	_ = v.BindEnv("claude_command", "USAGE_STATUS_CLAUDE_COMMAND")
	_ = v.BindEnv("codex_command", "USAGE_STATUS_CODEX_COMMAND")
	_ = v.BindEnv("log_level", "USAGE_STATUS_LOG_LEVEL")

	get := func(key string) string { return strings.TrimSpace(v.GetString(key)) }

	return Env{
		CachePath:     orDefault(get("cache_path"), defaultCachePath),
		CacheTTL:      ParseCacheTTL(v.GetString("cache_ttl_secs")),
		StatePath:     orDefault(get("notification_state_path"), defaultStatePath),
		SettingsPath:  orDefault(get("settings_path"), defaultSettingsPath),
		Fixture:       strings.ToLower(get("fixture")),
		FixtureFile:   get("fixture_file"),
		BashExe:       get("bash_exe"),
		ClaudeCommand: get("claude_command"),
		CodexCommand:  get("codex_command"),
		LogLevel:      strings.ToLower(get("log_level")),
	}
}

// ParseCacheTTL parses a TTL in seconds. Fractions are allowed and truncated
// to milliseconds; blank, malformed or negative values give DefaultCacheTTL.
func ParseCacheTTL(raw string) time.Duration {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return DefaultCacheTTL
	}
	secs, err := strconv.ParseFloat(raw, 64)
	if err != nil || math.IsNaN(secs) || math.IsInf(secs, 0) || secs < 0 {
		return DefaultCacheTTL
	}
	return time.Duration(math.Floor(secs*1000)) * time.Millisecond
}

func orDefault(v string, fallback func() string) string {
	if v != "" {
		return v
	}
	return fallback()
}

func defaultCachePath() string {
	return filepath.Join(baseDir("LOCALAPPDATA", "XDG_CACHE_HOME", ".cache"), appDir, "cache.v1.json")
}

func defaultStatePath() string {
	return filepath.Join(baseDir("LOCALAPPDATA", "XDG_STATE_HOME", filepath.Join(".local", "state")), appDir, "notification-state.v1.json")
}

func defaultSettingsPath() string {
	return filepath.Join(baseDir("APPDATA", "XDG_CONFIG_HOME", ".config"), appDir, "settings.v1.json")
}

// baseDir picks the Windows variable on Windows, then the XDG variable,
// then a directory under the user's home.
func baseDir(windowsVar, xdgVar, homeRel string) string {
	if runtime.GOOS == "windows" {
		if dir := strings.TrimSpace(os.Getenv(windowsVar)); dir != "" {
			return dir
		}
	}
	if dir := strings.TrimSpace(os.Getenv(xdgVar)); dir != "" {
		return dir
	}
	home, err := os.UserHomeDir()
	if err != nil {
		home = os.TempDir()
	}
	return filepath.Join(home, homeRel)
}
