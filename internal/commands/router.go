package commands

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/danmuck/botctl/internal/auth"
	"github.com/danmuck/botctl/internal/manager"
	"github.com/danmuck/botctl/internal/observability"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

var (
	ErrCommandExists  = errors.New("commands: command already registered")
	ErrInvalidCommand = errors.New("commands: invalid command")
)

const DefaultPrefix = "!"

// Request is one parsed chat command.
type Request struct {
	ID          string
	AuthorID    string
	AuthorName  string
	ChannelID   string
	Command     string
	Args        []string
	Attachments []manager.Attachment
}

// Arg returns the i-th argument or "".
func (r Request) Arg(i int) string {
	if i < 0 || i >= len(r.Args) {
		return ""
	}
	return r.Args[i]
}

// Handler produces the reply for a request. A non-nil error is turned into
// a reply by the router.
type Handler func(ctx context.Context, req Request) (string, error)

// Command describes one chat command.
type Command struct {
	Name        string
	Usage       string
	Description string
	MinArgs     int
	// MaxArgs < 0 means unbounded.
	MaxArgs int
	// Public commands skip the author allow-list.
	Public  bool
	Handler Handler
}

// ReplyError carries a fixed user-facing reply for an error.
type ReplyError struct {
	Reply string
	Err   error
}

func (e *ReplyError) Error() string {
	return e.Err.Error()
}

func (e *ReplyError) Unwrap() error {
	return e.Err
}

// Router dispatches parsed requests to registered commands.
type Router struct {
	prefix     string
	authorizer auth.Authorizer
	mu         sync.RWMutex
	commands   map[string]Command
}

func NewRouter(prefix string, authorizer auth.Authorizer) *Router {
	if strings.TrimSpace(prefix) == "" {
		prefix = DefaultPrefix
	}
	if authorizer == nil {
		authorizer = auth.NewAllowList(nil)
	}
	return &Router{
		prefix:     prefix,
		authorizer: authorizer,
		commands:   make(map[string]Command),
	}
}

// Prefix returns the command prefix.
func (r *Router) Prefix() string {
	return r.prefix
}

// Register adds cmd. Names are case-insensitive.
func (r *Router) Register(cmd Command) error {
	name := strings.ToLower(strings.TrimSpace(cmd.Name))
	if name == "" || strings.ContainsAny(name, " \t\n") || cmd.Handler == nil {
		return fmt.Errorf("%w: %q", ErrInvalidCommand, cmd.Name)
	}
	cmd.Name = name

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.commands[name]; ok {
		return fmt.Errorf("%w: %s", ErrCommandExists, name)
	}
	r.commands[name] = cmd
	return nil
}

// Commands returns registered commands ordered by name.
func (r *Router) Commands() []Command {
	r.mu.RLock()
	defer r.mu.RUnlock()
	list := make([]Command, 0, len(r.commands))
	for _, cmd := range r.commands {
		list = append(list, cmd)
	}
	sort.Slice(list, func(i, j int) bool {
		return list[i].Name < list[j].Name
	})
	return list
}

// Parse splits a prefixed message into a command name and arguments.
func (r *Router) Parse(content string) (string, []string, bool) {
	return Parse(r.prefix, content)
}

// Parse splits content into a lowercase command name and arguments when it
// starts with prefix.
func Parse(prefix, content string) (string, []string, bool) {
	text := strings.TrimSpace(content)
	if prefix == "" || !strings.HasPrefix(text, prefix) {
		return "", nil, false
	}
	fields := strings.Fields(strings.TrimPrefix(text, prefix))
	if len(fields) == 0 {
		return "", nil, false
	}
	return strings.ToLower(fields[0]), fields[1:], true
}

// Dispatch runs the command named by req. handled is false for unknown
// commands, which get no reply.
func (r *Router) Dispatch(ctx context.Context, req Request) (reply string, handled bool) {
	r.mu.RLock()
	cmd, ok := r.commands[strings.ToLower(req.Command)]
	r.mu.RUnlock()
	if !ok {
		return "", false
	}
	if req.ID == "" {
		req.ID = uuid.NewString()
	}

	logger := log.With().
		Str("request_id", req.ID).
		Str("cmd", cmd.Name).
		Str("author", req.AuthorID).
		Str("channel", req.ChannelID).
		Logger()
	start := time.Now()
	outcome := "ok"
	defer func() {
		observability.RecordCommand(cmd.Name, outcome, time.Since(start))
		logger.Info().Str("outcome", outcome).Dur("duration", time.Since(start)).Msg("command handled")
	}()

	if !cmd.Public {
		if err := r.authorizer.Authorize(req.AuthorID); err != nil {
			outcome = "denied"
			return describeError(err, req), true
		}
	}
	if len(req.Args) < cmd.MinArgs || (cmd.MaxArgs >= 0 && len(req.Args) > cmd.MaxArgs) {
		outcome = "usage"
		return fmt.Sprintf("Usage: `%s%s`", r.prefix, cmd.Usage), true
	}

	out, err := cmd.Handler(ctx, req)
	if err != nil {
		msg, known := userMessage(err, req)
		if !known {
			outcome = "error"
			logger.Error().Err(err).Msg("command failed")
			return fmt.Sprintf("Something went wrong running `%s%s`.", r.prefix, cmd.Name), true
		}
		outcome = "rejected"
		logger.Warn().Err(err).Msg("command rejected")
		return msg, true
	}
	return out, true
}

func describeError(err error, req Request) string {
	msg, _ := userMessage(err, req)
	return msg
}
