package install

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/danmuck/botctl/internal/tools"
	"github.com/rs/zerolog/log"
)

var (
	ErrInvalidRepo        = errors.New("install: invalid repository url")
	ErrRepoNotAllowed     = errors.New("install: repository host not allowed")
	ErrCloneFailed        = errors.New("install: clone failed")
	ErrInvalidEntry       = errors.New("install: invalid entry file")
	ErrUploadTooLarge     = errors.New("install: upload too large")
	ErrSandboxViolation   = errors.New("install: sandbox violation")
	ErrDestinationExists  = errors.New("install: destination already populated")
	ErrInvalidInstallRoot = errors.New("install: invalid install root")
)

// Config configures the installer.
type Config struct {
	BaseDir        string
	EntryScript    string
	EntryExtension string
	// AllowedHosts restricts clone hosts; empty allows any host.
	AllowedHosts []string
	CloneTimeout time.Duration
	MaxEntrySize int64
	Runner       tools.CommandRunner
}

func DefaultConfig() Config {
	return Config{
		BaseDir:        "bots",
		EntryScript:    "bot.py",
		EntryExtension: ".py",
		CloneTimeout:   2 * time.Minute,
		MaxEntrySize:   8 << 20,
	}
}

// Installer places bot sources under the base directory.
type Installer struct {
	baseDir      string
	entryScript  string
	entryExt     string
	allowedHosts map[string]struct{}
	cloneTimeout time.Duration
	maxEntrySize int64
	runner       tools.CommandRunner
}

// New validates cfg and creates the base directory.
func New(cfg Config) (*Installer, error) {
	def := DefaultConfig()
	base := strings.TrimSpace(cfg.BaseDir)
	if base == "" {
		base = def.BaseDir
	}
	baseAbs, err := filepath.Abs(base)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidInstallRoot, err)
	}
	if err := os.MkdirAll(baseAbs, 0o755); err != nil {
		return nil, err
	}

	entry := strings.TrimSpace(cfg.EntryScript)
	if entry == "" {
		entry = def.EntryScript
	}
	if entry != filepath.Base(entry) {
		return nil, fmt.Errorf("%w: entry script must be a bare filename: %q", ErrInvalidEntry, entry)
	}
	ext := strings.TrimSpace(cfg.EntryExtension)
	if ext == "" {
		ext = filepath.Ext(entry)
	}
	timeout := cfg.CloneTimeout
	if timeout <= 0 {
		timeout = def.CloneTimeout
	}
	maxSize := cfg.MaxEntrySize
	if maxSize <= 0 {
		maxSize = def.MaxEntrySize
	}
	runner := cfg.Runner
	if runner == nil {
		runner = tools.ExecRunner{}
	}

	return &Installer{
		baseDir:      baseAbs,
		entryScript:  entry,
		entryExt:     ext,
		allowedHosts: normalizeHosts(cfg.AllowedHosts),
		cloneTimeout: timeout,
		maxEntrySize: maxSize,
		runner:       runner,
	}, nil
}

// BaseDir returns the absolute bots directory.
func (i *Installer) BaseDir() string {
	return i.baseDir
}

// EntryExtension returns the required extension for uploaded entry files.
func (i *Installer) EntryExtension() string {
	return i.entryExt
}

// Dir resolves the directory for a bot name inside the base directory.
func (i *Installer) Dir(name string) (string, error) {
	rel := strings.TrimSpace(name)
	if rel == "" || rel != filepath.Base(rel) || rel == "." || rel == ".." {
		return "", fmt.Errorf("%w: name=%q", ErrSandboxViolation, name)
	}
	dest := filepath.Join(i.baseDir, rel)
	if !isWithin(dest, i.baseDir) || dest == i.baseDir {
		return "", fmt.Errorf("%w: name=%q outside base dir", ErrSandboxViolation, name)
	}
	return dest, nil
}

// Clone fetches repoURL into the bot directory with a shallow clone.
func (i *Installer) Clone(ctx context.Context, name, repoURL string) (string, error) {
	repo := strings.TrimSpace(repoURL)
	if err := i.validateRepo(repo); err != nil {
		return "", err
	}
	dest, err := i.Dir(name)
	if err != nil {
		return "", err
	}
	if err := ensureEmptyDestination(dest); err != nil {
		return "", err
	}

	cloneCtx, cancel := context.WithTimeout(ctx, i.cloneTimeout)
	defer cancel()

	log.Info().Str("bot", name).Str("repo", repo).Msg("install clone")
	if err := tools.RunChecked(cloneCtx, i.runner, "git", "clone", "--depth", "1", "--", repo, dest); err != nil {
		if rmErr := os.RemoveAll(dest); rmErr != nil {
			log.Warn().Str("bot", name).Err(rmErr).Msg("install clone cleanup failed")
		}
		return "", fmt.Errorf("%w: %v", ErrCloneFailed, err)
	}
	return dest, nil
}

// WriteEntry stores an uploaded file as the bot's entry script.
func (i *Installer) WriteEntry(name, filename string, body io.Reader) (string, error) {
	if !strings.HasSuffix(strings.ToLower(strings.TrimSpace(filename)), strings.ToLower(i.entryExt)) {
		return "", fmt.Errorf("%w: %q must end in %s", ErrInvalidEntry, filename, i.entryExt)
	}
	dest, err := i.Dir(name)
	if err != nil {
		return "", err
	}
	if err := ensureEmptyDestination(dest); err != nil {
		return "", err
	}
	if err := os.MkdirAll(dest, 0o755); err != nil {
		return "", err
	}

	target := filepath.Join(dest, i.entryScript)
	if err := writeLimited(target, body, i.maxEntrySize); err != nil {
		os.RemoveAll(dest)
		return "", err
	}
	log.Info().Str("bot", name).Str("file", filename).Msg("install entry written")
	return dest, nil
}

// Remove deletes a bot directory. Paths outside the base directory are refused.
func (i *Installer) Remove(path string) error {
	p := strings.TrimSpace(path)
	if p == "" {
		return fmt.Errorf("%w: empty path", ErrSandboxViolation)
	}
	abs, err := filepath.Abs(p)
	if err != nil {
		return err
	}
	if !isWithin(abs, i.baseDir) || abs == i.baseDir {
		return fmt.Errorf("%w: path=%q outside base dir", ErrSandboxViolation, path)
	}
	if err := os.RemoveAll(abs); err != nil {
		return err
	}
	log.Info().Str("path", abs).Msg("install removed")
	return nil
}

func (i *Installer) validateRepo(repo string) error {
	if repo == "" {
		return fmt.Errorf("%w: empty", ErrInvalidRepo)
	}
	if strings.HasPrefix(repo, "-") {
		return fmt.Errorf("%w: %q", ErrInvalidRepo, repo)
	}

	host, err := repoHost(repo)
	if err != nil {
		return err
	}
	if len(i.allowedHosts) == 0 {
		return nil
	}
	if _, ok := i.allowedHosts[strings.ToLower(host)]; !ok {
		return fmt.Errorf("%w: %s", ErrRepoNotAllowed, host)
	}
	return nil
}

// repoHost accepts URL forms (https, http, ssh, git) and scp-like git@host:path.
func repoHost(repo string) (string, error) {
	if !strings.Contains(repo, "://") {
		at := strings.Index(repo, "@")
		colon := strings.Index(repo, ":")
		if at > 0 && colon > at+1 && colon < len(repo)-1 {
			return repo[at+1 : colon], nil
		}
		return "", fmt.Errorf("%w: %q", ErrInvalidRepo, repo)
	}

	u, err := url.Parse(repo)
	if err != nil {
		return "", fmt.Errorf("%w: %q parse error: %v", ErrInvalidRepo, repo, err)
	}
	switch u.Scheme {
	case "https", "http", "ssh", "git":
	default:
		return "", fmt.Errorf("%w: unsupported scheme %q", ErrInvalidRepo, u.Scheme)
	}
	if u.Hostname() == "" {
		return "", fmt.Errorf("%w: %q missing host", ErrInvalidRepo, repo)
	}
	if strings.TrimSpace(u.Path) == "" || u.Path == "/" {
		return "", fmt.Errorf("%w: %q missing repository path", ErrInvalidRepo, repo)
	}
	return u.Hostname(), nil
}

func ensureEmptyDestination(dest string) error {
	entries, err := os.ReadDir(dest)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return err
	}
	if len(entries) > 0 {
		return fmt.Errorf("%w: %s", ErrDestinationExists, dest)
	}
	return nil
}

func writeLimited(target string, body io.Reader, limit int64) error {
	out, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	n, err := io.Copy(out, io.LimitReader(body, limit+1))
	if closeErr := out.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		return err
	}
	if n > limit {
		return fmt.Errorf("%w: limit=%d bytes", ErrUploadTooLarge, limit)
	}
	return nil
}

func normalizeHosts(in []string) map[string]struct{} {
	out := make(map[string]struct{})
	for _, raw := range in {
		host := strings.ToLower(strings.TrimSpace(raw))
		if host == "" {
			continue
		}
		out[host] = struct{}{}
	}
	return out
}

func isWithin(path string, root string) bool {
	rel, err := filepath.Rel(filepath.Clean(root), filepath.Clean(path))
	if err != nil {
		return false
	}
	return rel == "." || (!strings.HasPrefix(rel, ".."+string(os.PathSeparator)) && rel != "..")
}
