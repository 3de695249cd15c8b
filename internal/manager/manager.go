package manager

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/danmuck/botctl/internal/files"
	"github.com/danmuck/botctl/internal/install"
	"github.com/danmuck/botctl/internal/registry"
	"github.com/danmuck/botctl/internal/supervisor"
	"github.com/rs/zerolog/log"
)

var (
	ErrBotExists          = registry.ErrBotExists
	ErrBotNotFound        = registry.ErrBotNotFound
	ErrAttachmentRequired = errors.New("manager: attachment required")
	ErrAttachmentType     = errors.New("manager: attachment has wrong file type")
	ErrNotRunning         = errors.New("manager: bot not running")
	ErrNoLogs             = errors.New("manager: no logs captured")
	ErrFilesKept          = errors.New("manager: bot unregistered but files kept")
)

const maxLogTailBytes = 64 << 10

// Options wires the collaborators a Manager drives.
type Options struct {
	Registry   *registry.Registry
	Supervisor *supervisor.Supervisor
	Installer  *install.Installer
	Files      *files.Store
	Fetcher    Fetcher
	// Reserved names cannot be used for bots (the hosted files dir, for one).
	Reserved []string
}

// Manager serializes bot management operations.
type Manager struct {
	mu       sync.Mutex
	reg      *registry.Registry
	sup      *supervisor.Supervisor
	inst     *install.Installer
	files    *files.Store
	fetcher  Fetcher
	reserved []string
	now      func() time.Time
}

func New(opts Options) (*Manager, error) {
	if opts.Registry == nil || opts.Supervisor == nil || opts.Installer == nil || opts.Files == nil {
		return nil, fmt.Errorf("manager: registry, supervisor, installer, and files are required")
	}
	fetcher := opts.Fetcher
	if fetcher == nil {
		fetcher = NewHTTPFetcher(0)
	}
	return &Manager{
		reg:      opts.Registry,
		sup:      opts.Supervisor,
		inst:     opts.Installer,
		files:    opts.Files,
		fetcher:  fetcher,
		reserved: append([]string(nil), opts.Reserved...),
		now:      time.Now,
	}, nil
}

// AddResult reports the outcome of AddBot. A bot can be added but fail to start.
type AddResult struct {
	Name     string
	Path     string
	Source   string
	Started  bool
	StartErr error
}

// BotStatus is one row of ListBots.
type BotStatus struct {
	Name   string
	Path   string
	Online bool
	PID    int
	Uptime time.Duration
}

// AddBot installs a bot from repoURL, or from the first attachment when
// repoURL is empty, registers it, and starts it.
func (m *Manager) AddBot(ctx context.Context, name, repoURL string, attachments []Attachment) (AddResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	name = strings.TrimSpace(name)
	if err := registry.ValidateName(name, m.reserved...); err != nil {
		return AddResult{}, err
	}
	if _, ok, err := m.reg.Get(name); err != nil {
		return AddResult{}, err
	} else if ok {
		return AddResult{}, fmt.Errorf("%w: %s", ErrBotExists, name)
	}

	res := AddResult{Name: name}
	repo := strings.TrimSpace(repoURL)
	if repo != "" {
		path, err := m.inst.Clone(ctx, name, repo)
		if err != nil {
			return AddResult{}, err
		}
		res.Path = path
		res.Source = repo
	} else {
		path, source, err := m.installAttachment(ctx, name, attachments)
		if err != nil {
			return AddResult{}, err
		}
		res.Path = path
		res.Source = source
	}

	if err := m.reg.Add(name, res.Path); err != nil {
		if rmErr := m.inst.Remove(res.Path); rmErr != nil {
			log.Warn().Str("bot", name).Err(rmErr).Msg("manager add rollback failed")
		}
		return AddResult{}, err
	}

	if _, err := m.sup.Start(name, res.Path); err != nil {
		res.StartErr = err
		log.Warn().Str("bot", name).Err(err).Msg("manager bot added but not started")
		return res, nil
	}
	res.Started = true
	return res, nil
}

func (m *Manager) installAttachment(ctx context.Context, name string, attachments []Attachment) (string, string, error) {
	if len(attachments) == 0 {
		return "", "", ErrAttachmentRequired
	}
	att := attachments[0]
	ext := m.inst.EntryExtension()
	if !strings.HasSuffix(strings.ToLower(att.Filename), strings.ToLower(ext)) {
		return "", "", fmt.Errorf("%w: %q must end in %s", ErrAttachmentType, att.Filename, ext)
	}

	body, err := m.fetcher.Fetch(ctx, att.URL)
	if err != nil {
		return "", "", err
	}
	defer body.Close()

	path, err := m.inst.WriteEntry(name, att.Filename, body)
	if err != nil {
		return "", "", err
	}
	return path, att.Filename, nil
}

// ListBots returns every registered bot with its liveness.
func (m *Manager) ListBots() ([]BotStatus, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	entries, err := m.reg.Entries()
	if err != nil {
		return nil, err
	}
	now := m.now()
	list := make([]BotStatus, 0, len(entries))
	for _, entry := range entries {
		row := BotStatus{Name: entry.Name, Path: entry.Path}
		if proc, ok := m.sup.Lookup(entry.Name); ok {
			row.Online = true
			row.PID = proc.PID
			row.Uptime = proc.Uptime(now)
		}
		list = append(list, row)
	}
	return list, nil
}

// RemoveBot stops a bot, deletes its directory, and unregisters it. When the
// directory cannot be deleted the bot is still unregistered and ErrFilesKept
// is returned.
func (m *Manager) RemoveBot(name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	path, ok, err := m.reg.Get(name)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: %s", ErrBotNotFound, name)
	}

	m.sup.Stop(name)
	rmErr := m.inst.Remove(path)
	if rmErr != nil {
		log.Warn().Str("bot", name).Str("path", path).Err(rmErr).Msg("manager remove files skipped")
	}
	if _, err := m.reg.Remove(name); err != nil {
		return err
	}
	if rmErr != nil {
		return fmt.Errorf("%w: %s: %w", ErrFilesKept, name, rmErr)
	}
	log.Info().Str("bot", name).Msg("manager bot removed")
	return nil
}

// StartBot launches a registered bot that is not running.
func (m *Manager) StartBot(name string) (supervisor.Process, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	path, err := m.lookup(name)
	if err != nil {
		return supervisor.Process{}, err
	}
	return m.sup.Start(name, path)
}

// StopBot terminates a registered, running bot.
func (m *Manager) StopBot(name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, err := m.lookup(name); err != nil {
		return err
	}
	if !m.sup.Stop(name) {
		return fmt.Errorf("%w: %s", ErrNotRunning, name)
	}
	return nil
}

// RestartBot stops a bot if running and starts it again.
func (m *Manager) RestartBot(name string) (supervisor.Process, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	path, err := m.lookup(name)
	if err != nil {
		return supervisor.Process{}, err
	}
	m.sup.Stop(name)
	return m.sup.Start(name, path)
}

// Logs returns up to lines trailing lines of a bot's captured output.
func (m *Manager) Logs(name string, lines int) ([]string, error) {
	m.mu.Lock()
	path, err := m.lookup(name)
	m.mu.Unlock()
	if err != nil {
		return nil, err
	}

	logPath := m.sup.LogPath(path)
	if logPath == "" {
		return nil, fmt.Errorf("%w: capture disabled", ErrNoLogs)
	}
	out, err := tailFile(logPath, lines)
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrNoLogs, name)
	}
	return out, err
}

// UploadFile stores the first attachment under filename, or under the
// attachment's own name when filename is empty.
func (m *Manager) UploadFile(ctx context.Context, filename string, attachments []Attachment) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if len(attachments) == 0 {
		return "", ErrAttachmentRequired
	}
	att := attachments[0]
	name := strings.TrimSpace(filename)
	if name == "" {
		name = att.Filename
	}

	body, err := m.fetcher.Fetch(ctx, att.URL)
	if err != nil {
		return "", err
	}
	defer body.Close()

	stored, err := m.files.Put(name, body)
	if err != nil {
		return "", err
	}
	log.Info().Str("file", stored).Msg("manager file hosted")
	return stored, nil
}

// ListFiles returns hosted files.
func (m *Manager) ListFiles() ([]files.Info, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.files.List()
}

// Restore launches every registered bot whose directory exists and that is
// not already running. Failures are logged and skipped.
func (m *Manager) Restore(ctx context.Context) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	entries, err := m.reg.Entries()
	if err != nil {
		log.Error().Err(err).Msg("manager restore failed to load registry")
		return 0
	}
	started := 0
	for _, entry := range entries {
		if ctx.Err() != nil {
			break
		}
		if m.sup.Running(entry.Name) {
			continue
		}
		if info, err := os.Stat(entry.Path); err != nil || !info.IsDir() {
			log.Warn().Str("bot", entry.Name).Str("path", entry.Path).Msg("manager restore skipped missing dir")
			continue
		}
		if _, err := m.sup.Start(entry.Name, entry.Path); err != nil {
			log.Warn().Str("bot", entry.Name).Err(err).Msg("manager restore start failed")
			continue
		}
		started++
	}
	log.Info().Int("started", started).Int("registered", len(entries)).Msg("manager restore complete")
	return started
}

// RunningCount reports tracked children.
func (m *Manager) RunningCount() int {
	return m.sup.Count()
}

// Shutdown waits for the in-flight operation, then stops every child.
// Later starts fail with supervisor.ErrClosed.
func (m *Manager) Shutdown() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sup.StopAll()
}

func (m *Manager) lookup(name string) (string, error) {
	path, ok, err := m.reg.Get(name)
	if err != nil {
		return "", err
	}
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrBotNotFound, name)
	}
	return path, nil
}

func tailFile(path string, lines int) ([]string, error) {
	if lines <= 0 {
		lines = 20
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, err
	}
	offset := info.Size() - maxLogTailBytes
	if offset < 0 {
		offset = 0
	}
	if _, err := f.Seek(offset, io.SeekStart); err != nil {
		return nil, err
	}
	data, err := io.ReadAll(f)
	if err != nil {
		return nil, err
	}

	text := strings.TrimRight(string(data), "\n")
	if text == "" {
		return []string{}, nil
	}
	all := strings.Split(text, "\n")
	if offset > 0 && len(all) > 1 {
		// first line is likely partial
		all = all[1:]
	}
	if len(all) > lines {
		all = all[len(all)-lines:]
	}
	return all, nil
}

// Reserved returns the reserved bot names for a files directory under base.
func Reserved(baseDir, filesDir string) []string {
	rel, err := filepath.Rel(filepath.Clean(baseDir), filepath.Clean(filesDir))
	if err != nil || rel == "." || strings.HasPrefix(rel, "..") {
		return nil
	}
	first, _, _ := strings.Cut(filepath.ToSlash(rel), "/")
	return []string{first}
}
