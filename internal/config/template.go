package config

import (
	"fmt"
	"os"

	"github.com/pelletier/go-toml/v2"
)

// File is the on-disk TOML shape. Durations are Go duration strings.
type File struct {
	ServiceID      string   `toml:"service_id"`
	TokenEnv       string   `toml:"token_env"`
	Prefix         string   `toml:"prefix"`
	BaseDir        string   `toml:"base_dir"`
	RegistryFile   string   `toml:"registry_file"`
	FilesDir       string   `toml:"files_dir"`
	Interpreter    string   `toml:"interpreter"`
	EntryScript    string   `toml:"entry_script"`
	EntryExtension string   `toml:"entry_extension"`
	KeepaliveAddr  string   `toml:"keepalive_addr"`
	CloneTimeout   string   `toml:"clone_timeout"`
	StopGrace      string   `toml:"stop_grace"`
	FetchTimeout   string   `toml:"fetch_timeout"`
	MaxUploadBytes int64    `toml:"max_upload_bytes"`
	AllowedUsers   []string `toml:"allowed_users"`
	AllowedHosts   []string `toml:"allowed_hosts"`
	CORSOrigins    []string `toml:"cors_origins"`
	RestoreOnReady bool     `toml:"restore_on_ready"`
}

func ToFile(cfg Config) File {
	return File{
		ServiceID:      cfg.ServiceID,
		TokenEnv:       cfg.TokenEnv,
		Prefix:         cfg.Prefix,
		BaseDir:        cfg.BaseDir,
		RegistryFile:   cfg.RegistryFile,
		FilesDir:       cfg.FilesDir,
		Interpreter:    cfg.Interpreter,
		EntryScript:    cfg.EntryScript,
		EntryExtension: cfg.EntryExtension,
		KeepaliveAddr:  cfg.KeepaliveAddr,
		CloneTimeout:   cfg.CloneTimeout.String(),
		StopGrace:      cfg.StopGrace.String(),
		FetchTimeout:   cfg.FetchTimeout.String(),
		MaxUploadBytes: cfg.MaxUploadBytes,
		AllowedUsers:   nonNil(cfg.AllowedUsers),
		AllowedHosts:   nonNil(cfg.AllowedHosts),
		CORSOrigins:    nonNil(cfg.CORSOrigins),
		RestoreOnReady: cfg.RestoreOnReady,
	}
}

const templateHeader = `# botctl configuration.
# The chat token is never stored here; it is read from the variable named by token_env.
`

// Template renders the default configuration as TOML.
func Template() ([]byte, error) {
	body, err := toml.Marshal(ToFile(DefaultConfig()))
	if err != nil {
		return nil, fmt.Errorf("render config template: %w", err)
	}
	return append([]byte(templateHeader), body...), nil
}

func WriteTemplate(path string, overwrite bool) error {
	data, err := Template()
	if err != nil {
		return err
	}
	if !overwrite {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("config already exists: %s", path)
		}
	}
	return os.WriteFile(path, data, 0o600)
}

func nonNil(in []string) []string {
	if in == nil {
		return []string{}
	}
	return in
}
