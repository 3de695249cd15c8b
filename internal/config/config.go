// Package config holds the botctl runtime configuration, its validation,
// and the template written by `botctl config init`.
package config

import (
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strings"
	"time"
)

var ErrInvalidConfig = errors.New("config: invalid")

// Config is the resolved runtime configuration.
type Config struct {
	ServiceID      string
	TokenEnv       string
	Prefix         string
	BaseDir        string
	RegistryFile   string
	FilesDir       string
	Interpreter    string
	EntryScript    string
	EntryExtension string
	KeepaliveAddr  string
	CloneTimeout   time.Duration
	StopGrace      time.Duration
	FetchTimeout   time.Duration
	MaxUploadBytes int64
	AllowedUsers   []string
	AllowedHosts   []string
	CORSOrigins    []string
	RestoreOnReady bool
}

func DefaultConfig() Config {
	return Config{
		ServiceID:      "botctl",
		TokenEnv:       "DISCORD_TOKEN",
		Prefix:         "!",
		BaseDir:        "bots",
		RegistryFile:   "bots_config.json",
		FilesDir:       filepath.Join("bots", "files"),
		Interpreter:    "python3",
		EntryScript:    "bot.py",
		EntryExtension: ".py",
		KeepaliveAddr:  "0.0.0.0:8080",
		CloneTimeout:   2 * time.Minute,
		StopGrace:      5 * time.Second,
		FetchTimeout:   30 * time.Second,
		MaxUploadBytes: 8 << 20,
		AllowedUsers:   []string{},
		AllowedHosts:   []string{},
		CORSOrigins:    []string{},
		RestoreOnReady: true,
	}
}

// Token reads the chat token from the environment variable named by TokenEnv.
func (c Config) Token() string {
	return strings.TrimSpace(os.Getenv(c.TokenEnv))
}

func Validate(cfg Config) error {
	required := []struct {
		key   string
		value string
	}{
		{"service_id", cfg.ServiceID},
		{"token_env", cfg.TokenEnv},
		{"prefix", cfg.Prefix},
		{"base_dir", cfg.BaseDir},
		{"registry_file", cfg.RegistryFile},
		{"files_dir", cfg.FilesDir},
		{"interpreter", cfg.Interpreter},
		{"entry_script", cfg.EntryScript},
		{"keepalive_addr", cfg.KeepaliveAddr},
	}
	for _, field := range required {
		if strings.TrimSpace(field.value) == "" {
			return fmt.Errorf("%w: %s is required", ErrInvalidConfig, field.key)
		}
	}
	if strings.ContainsAny(cfg.Prefix, " \t\n") {
		return fmt.Errorf("%w: prefix must not contain whitespace", ErrInvalidConfig)
	}
	if cfg.EntryScript != filepath.Base(cfg.EntryScript) {
		return fmt.Errorf("%w: entry_script must be a bare filename", ErrInvalidConfig)
	}
	if cfg.EntryExtension != "" && !strings.HasSuffix(cfg.EntryScript, cfg.EntryExtension) {
		return fmt.Errorf("%w: entry_script %q does not end in %q", ErrInvalidConfig, cfg.EntryScript, cfg.EntryExtension)
	}
	if _, _, err := net.SplitHostPort(cfg.KeepaliveAddr); err != nil {
		return fmt.Errorf("%w: keepalive_addr: %v", ErrInvalidConfig, err)
	}
	if cfg.CloneTimeout <= 0 || cfg.StopGrace <= 0 || cfg.FetchTimeout <= 0 {
		return fmt.Errorf("%w: clone_timeout, stop_grace and fetch_timeout must be positive", ErrInvalidConfig)
	}
	if cfg.MaxUploadBytes <= 0 {
		return fmt.Errorf("%w: max_upload_bytes must be positive", ErrInvalidConfig)
	}
	if samePath(cfg.BaseDir, cfg.FilesDir) {
		return fmt.Errorf("%w: files_dir must differ from base_dir", ErrInvalidConfig)
	}
	return nil
}

func samePath(a, b string) bool {
	absA, errA := filepath.Abs(a)
	absB, errB := filepath.Abs(b)
	if errA != nil || errB != nil {
		return filepath.Clean(a) == filepath.Clean(b)
	}
	return absA == absB
}
