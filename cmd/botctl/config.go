package main

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/danmuck/botctl/internal/config"
)

func loadServiceConfig(path string) (config.Config, error) {
	cfg := config.DefaultConfig()

	var raw config.File
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return config.Config{}, fmt.Errorf("load botctl config: %w", err)
	}

	setString := func(key string, value string, dst *string) {
		if meta.IsDefined(key) {
			if v := strings.TrimSpace(value); v != "" {
				*dst = v
			}
		}
	}
	setString("service_id", raw.ServiceID, &cfg.ServiceID)
	setString("token_env", raw.TokenEnv, &cfg.TokenEnv)
	setString("base_dir", raw.BaseDir, &cfg.BaseDir)
	setString("registry_file", raw.RegistryFile, &cfg.RegistryFile)
	setString("files_dir", raw.FilesDir, &cfg.FilesDir)
	setString("interpreter", raw.Interpreter, &cfg.Interpreter)
	setString("entry_script", raw.EntryScript, &cfg.EntryScript)
	setString("entry_extension", raw.EntryExtension, &cfg.EntryExtension)
	setString("keepalive_addr", raw.KeepaliveAddr, &cfg.KeepaliveAddr)

	// An explicitly empty prefix is rejected by validation rather than defaulted.
	if meta.IsDefined("prefix") {
		cfg.Prefix = strings.TrimSpace(raw.Prefix)
	}

	durations := []struct {
		key   string
		value string
		dst   *time.Duration
	}{
		{"clone_timeout", raw.CloneTimeout, &cfg.CloneTimeout},
		{"stop_grace", raw.StopGrace, &cfg.StopGrace},
		{"fetch_timeout", raw.FetchTimeout, &cfg.FetchTimeout},
	}
	for _, d := range durations {
		if !meta.IsDefined(d.key) {
			continue
		}
		parsed, err := time.ParseDuration(strings.TrimSpace(d.value))
		if err != nil {
			return config.Config{}, fmt.Errorf("parse %s: %w", d.key, err)
		}
		*d.dst = parsed
	}

	if meta.IsDefined("max_upload_bytes") {
		cfg.MaxUploadBytes = raw.MaxUploadBytes
	}
	if meta.IsDefined("allowed_users") {
		cfg.AllowedUsers = normalizeList(raw.AllowedUsers)
	}
	if meta.IsDefined("allowed_hosts") {
		cfg.AllowedHosts = normalizeList(raw.AllowedHosts)
	}
	if meta.IsDefined("cors_origins") {
		cfg.CORSOrigins = normalizeList(raw.CORSOrigins)
	}
	if meta.IsDefined("restore_on_ready") {
		cfg.RestoreOnReady = raw.RestoreOnReady
	}

	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		return config.Config{}, fmt.Errorf("unknown config key %q", undecoded[0].String())
	}
	return cfg, nil
}

// resolveConfig loads path, falling back to defaults when the file is absent
// and the path was not set explicitly.
func resolveConfig(path string, explicit bool) (config.Config, error) {
	cfg, err := loadServiceConfig(path)
	if err != nil {
		if !explicit && errors.Is(err, fs.ErrNotExist) {
			cfg = config.DefaultConfig()
		} else {
			return config.Config{}, err
		}
	}
	if err := config.Validate(cfg); err != nil {
		return config.Config{}, err
	}
	return cfg, nil
}

func normalizeList(in []string) []string {
	out := make([]string, 0, len(in))
	for _, item := range in {
		v := strings.TrimSpace(item)
		if v == "" {
			continue
		}
		out = append(out, v)
	}
	return out
}

