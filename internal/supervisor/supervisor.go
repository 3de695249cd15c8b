package supervisor

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/danmuck/botctl/internal/observability"
	"github.com/rs/zerolog/log"
)

var (
	ErrAlreadyRunning = errors.New("supervisor: bot already running")
	ErrEntryMissing   = errors.New("supervisor: entry script missing")
	ErrStartFailed    = errors.New("supervisor: start failed")
	ErrClosed         = errors.New("supervisor: closed")
)

// Config controls how children are launched and stopped.
type Config struct {
	Interpreter string
	EntryScript string
	// LogFile is created inside the bot directory; empty discards output.
	LogFile   string
	StopGrace time.Duration
	// Env is the base child environment; nil means os.Environ().
	Env []string
	// StripEnv names variables removed from the child environment.
	StripEnv []string
}

func DefaultConfig() Config {
	return Config{
		Interpreter: "python3",
		EntryScript: "bot.py",
		LogFile:     "bot.log",
		StopGrace:   5 * time.Second,
	}
}

// Process is a snapshot of one tracked child.
type Process struct {
	Name    string
	Dir     string
	PID     int
	Started time.Time
}

// Uptime reports time since start relative to now.
func (p Process) Uptime(now time.Time) time.Duration {
	return now.Sub(p.Started).Truncate(time.Second)
}

type child struct {
	name    string
	dir     string
	cmd     *exec.Cmd
	started time.Time
	logFile *os.File
	done    chan struct{}
}

// Supervisor tracks children by bot name.
type Supervisor struct {
	cfg   Config
	mu    sync.Mutex
	procs map[string]*child
	wg    sync.WaitGroup
	// closed is set by StopAll; later starts fail.
	closed bool
}

func New(cfg Config) *Supervisor {
	def := DefaultConfig()
	if strings.TrimSpace(cfg.Interpreter) == "" {
		cfg.Interpreter = def.Interpreter
	}
	if strings.TrimSpace(cfg.EntryScript) == "" {
		cfg.EntryScript = def.EntryScript
	}
	if cfg.StopGrace <= 0 {
		cfg.StopGrace = def.StopGrace
	}
	return &Supervisor{
		cfg:   cfg,
		procs: make(map[string]*child),
	}
}

// EntryScript returns the fixed entry filename launched in each bot dir.
func (s *Supervisor) EntryScript() string {
	return s.cfg.EntryScript
}

// LogPath returns the captured output path for a bot directory.
func (s *Supervisor) LogPath(dir string) string {
	if s.cfg.LogFile == "" {
		return ""
	}
	return filepath.Join(dir, s.cfg.LogFile)
}

// Start launches the entry script in dir unless name is already tracked.
func (s *Supervisor) Start(name, dir string) (Process, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return Process{}, fmt.Errorf("%w: %s", ErrClosed, name)
	}
	if _, ok := s.procs[name]; ok {
		return Process{}, fmt.Errorf("%w: %s", ErrAlreadyRunning, name)
	}

	script := filepath.Join(dir, s.cfg.EntryScript)
	info, err := os.Stat(script)
	if err != nil || !info.Mode().IsRegular() {
		observability.RecordBotStart(false)
		return Process{}, fmt.Errorf("%w: %s", ErrEntryMissing, script)
	}

	cmd := exec.Command(s.cfg.Interpreter, s.cfg.EntryScript)
	cmd.Dir = dir
	cmd.Env = s.childEnv()

	var logFile *os.File
	if logPath := s.LogPath(dir); logPath != "" {
		logFile, err = os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			observability.RecordBotStart(false)
			return Process{}, fmt.Errorf("%w: open log: %v", ErrStartFailed, err)
		}
		cmd.Stdout = logFile
		cmd.Stderr = logFile
	}

	if err := cmd.Start(); err != nil {
		if logFile != nil {
			logFile.Close()
		}
		observability.RecordBotStart(false)
		return Process{}, fmt.Errorf("%w: %s: %v", ErrStartFailed, name, err)
	}

	c := &child{
		name:    name,
		dir:     dir,
		cmd:     cmd,
		started: time.Now(),
		logFile: logFile,
		done:    make(chan struct{}),
	}
	s.procs[name] = c
	s.wg.Add(1)
	go s.reap(c)

	observability.RecordBotStart(true)
	observability.SetBotsRunning(len(s.procs))
	log.Info().
		Str("bot", name).
		Str("dir", dir).
		Int("pid", cmd.Process.Pid).
		Msg("bot started")
	return c.snapshot(), nil
}

// Stop terminates a tracked child. It reports false when name is not tracked.
func (s *Supervisor) Stop(name string) bool {
	s.mu.Lock()
	c, ok := s.procs[name]
	if ok {
		delete(s.procs, name)
	}
	n := len(s.procs)
	s.mu.Unlock()
	if !ok {
		return false
	}

	observability.SetBotsRunning(n)
	observability.RecordBotStop()
	s.terminate(c)
	return true
}

// StopAll terminates every tracked child, waits for all reapers, and closes
// the supervisor to new starts.
func (s *Supervisor) StopAll() {
	s.mu.Lock()
	s.closed = true
	children := make([]*child, 0, len(s.procs))
	for _, c := range s.procs {
		children = append(children, c)
	}
	s.procs = make(map[string]*child)
	s.mu.Unlock()
	observability.SetBotsRunning(0)

	var wg sync.WaitGroup
	for _, c := range children {
		wg.Add(1)
		go func(c *child) {
			defer wg.Done()
			s.terminate(c)
		}(c)
	}
	wg.Wait()
	s.wg.Wait()
}

// Running reports whether name is tracked.
func (s *Supervisor) Running(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.procs[name]
	return ok
}

// Lookup returns the snapshot for a tracked child.
func (s *Supervisor) Lookup(name string) (Process, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.procs[name]
	if !ok {
		return Process{}, false
	}
	return c.snapshot(), true
}

// Count returns the number of tracked children.
func (s *Supervisor) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.procs)
}

// Status returns tracked children ordered by name.
func (s *Supervisor) Status() []Process {
	s.mu.Lock()
	list := make([]Process, 0, len(s.procs))
	for _, c := range s.procs {
		list = append(list, c.snapshot())
	}
	s.mu.Unlock()
	sort.Slice(list, func(i, j int) bool {
		return list[i].Name < list[j].Name
	})
	return list
}

func (s *Supervisor) terminate(c *child) {
	logger := log.With().Str("bot", c.name).Int("pid", c.cmd.Process.Pid).Logger()
	if err := c.cmd.Process.Signal(syscall.SIGTERM); err != nil && !errors.Is(err, os.ErrProcessDone) {
		logger.Warn().Err(err).Msg("bot terminate signal failed")
	}

	timer := time.NewTimer(s.cfg.StopGrace)
	defer timer.Stop()
	select {
	case <-c.done:
		logger.Info().Msg("bot stopped")
		return
	case <-timer.C:
	}

	logger.Warn().Dur("grace", s.cfg.StopGrace).Msg("bot ignored SIGTERM, killing")
	if err := c.cmd.Process.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
		logger.Error().Err(err).Msg("bot kill failed")
	}
	<-c.done
}

func (s *Supervisor) reap(c *child) {
	defer s.wg.Done()
	err := c.cmd.Wait()
	if c.logFile != nil {
		c.logFile.Close()
	}

	code := -1
	if c.cmd.ProcessState != nil {
		code = c.cmd.ProcessState.ExitCode()
	}

	s.mu.Lock()
	current, tracked := s.procs[c.name]
	unexpected := tracked && current == c
	if unexpected {
		delete(s.procs, c.name)
	}
	n := len(s.procs)
	s.mu.Unlock()
	close(c.done)

	observability.RecordBotExit(code)
	if !unexpected {
		return
	}
	observability.SetBotsRunning(n)
	event := log.Warn()
	if code == 0 {
		event = log.Info()
	}
	event.
		Str("bot", c.name).
		Int("exit_code", code).
		Dur("uptime", time.Since(c.started)).
		AnErr("wait_err", err).
		Msg("bot exited")
}

func (s *Supervisor) childEnv() []string {
	base := s.cfg.Env
	if base == nil {
		base = os.Environ()
	}
	if len(s.cfg.StripEnv) == 0 {
		return append([]string(nil), base...)
	}
	strip := make(map[string]struct{}, len(s.cfg.StripEnv))
	for _, name := range s.cfg.StripEnv {
		strip[name] = struct{}{}
	}
	out := make([]string, 0, len(base))
	for _, kv := range base {
		key, _, _ := strings.Cut(kv, "=")
		if _, ok := strip[key]; ok {
			continue
		}
		out = append(out, kv)
	}
	return out
}

func (c *child) snapshot() Process {
	return Process{
		Name:    c.name,
		Dir:     c.dir,
		PID:     c.cmd.Process.Pid,
		Started: c.started,
	}
}
