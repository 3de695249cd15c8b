package commands

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/danmuck/botctl/internal/files"
	"github.com/danmuck/botctl/internal/manager"
	"github.com/danmuck/botctl/internal/supervisor"
)

// Service is the bot management surface the built-in commands drive.
type Service interface {
	AddBot(ctx context.Context, name, repoURL string, attachments []manager.Attachment) (manager.AddResult, error)
	ListBots() ([]manager.BotStatus, error)
	RemoveBot(name string) error
	StartBot(name string) (supervisor.Process, error)
	StopBot(name string) error
	RestartBot(name string) (supervisor.Process, error)
	Logs(name string, lines int) ([]string, error)
	UploadFile(ctx context.Context, filename string, attachments []manager.Attachment) (string, error)
	ListFiles() ([]files.Info, error)
}

const (
	defaultLogLines = 20
	maxLogLines     = 100
)

// Builtins holds the state shared by the built-in command handlers.
type Builtins struct {
	Service        Service
	EntryScript    string
	EntryExtension string
	router         *Router
}

// RegisterBuiltins installs the management commands on r. An empty entryExt
// falls back to the extension of entryScript.
func RegisterBuiltins(r *Router, svc Service, entryScript, entryExt string) error {
	if strings.TrimSpace(entryScript) == "" {
		entryScript = "bot.py"
	}
	if strings.TrimSpace(entryExt) == "" {
		entryExt = filepath.Ext(entryScript)
	}
	b := &Builtins{Service: svc, EntryScript: entryScript, EntryExtension: entryExt, router: r}
	for _, cmd := range b.commands() {
		if err := r.Register(cmd); err != nil {
			return err
		}
	}
	return nil
}

func (b *Builtins) commands() []Command {
	return []Command{
		{
			Name:        "addbot",
			Usage:       "addbot <name> [repo_url]",
			Description: fmt.Sprintf("Add a bot from a git repo, or attach a %s file.", b.EntryScript),
			MinArgs:     1,
			MaxArgs:     2,
			Handler:     b.addBot,
		},
		{
			Name:        "listbots",
			Usage:       "listbots",
			Description: "List all deployed bots with status.",
			MaxArgs:     0,
			Handler:     b.listBots,
		},
		{
			Name:        "removebot",
			Usage:       "removebot <name>",
			Description: "Stop and remove a deployed bot.",
			MinArgs:     1,
			MaxArgs:     1,
			Handler:     b.removeBot,
		},
		{
			Name:        "startbot",
			Usage:       "startbot <name>",
			Description: "Start a deployed bot that is offline.",
			MinArgs:     1,
			MaxArgs:     1,
			Handler:     b.startBot,
		},
		{
			Name:        "stopbot",
			Usage:       "stopbot <name>",
			Description: "Stop a running bot without removing it.",
			MinArgs:     1,
			MaxArgs:     1,
			Handler:     b.stopBot,
		},
		{
			Name:        "restartbot",
			Usage:       "restartbot <name>",
			Description: "Restart a deployed bot.",
			MinArgs:     1,
			MaxArgs:     1,
			Handler:     b.restartBot,
		},
		{
			Name:        "botlogs",
			Usage:       "botlogs <name> [lines]",
			Description: "Show the latest output of a bot.",
			MinArgs:     1,
			MaxArgs:     2,
			Handler:     b.botLogs,
		},
		{
			Name:        "uploadcode",
			Usage:       "uploadcode [filename]",
			Description: "Upload a code file to host (no auto-run). Attach the file in your message.",
			MaxArgs:     1,
			Handler:     b.uploadCode,
		},
		{
			Name:        "listfiles",
			Usage:       "listfiles",
			Description: "List hosted code files.",
			MaxArgs:     0,
			Handler:     b.listFiles,
		},
		{
			Name:        "help",
			Usage:       "help",
			Description: "Show this message.",
			MaxArgs:     -1,
			Public:      true,
			Handler:     b.help,
		},
	}
}

func (b *Builtins) addBot(ctx context.Context, req Request) (string, error) {
	name := req.Arg(0)
	res, err := b.Service.AddBot(ctx, name, req.Arg(1), req.Attachments)
	if errors.Is(err, manager.ErrAttachmentRequired) {
		return "", &ReplyError{
			Reply: fmt.Sprintf("Please attach your %s file when no repo URL is given.", b.EntryScript),
			Err:   err,
		}
	}
	if errors.Is(err, manager.ErrAttachmentType) {
		return "", &ReplyError{
			Reply: fmt.Sprintf("Attachment must be a %s file.", b.EntryExtension),
			Err:   err,
		}
	}
	if err != nil {
		return "", err
	}
	if !res.Started {
		return fmt.Sprintf("Bot `%s` added, but failed to start. Check your %s.", res.Name, b.EntryScript), nil
	}
	return fmt.Sprintf("Bot `%s` added and started.", res.Name), nil
}

func (b *Builtins) listBots(ctx context.Context, req Request) (string, error) {
	bots, err := b.Service.ListBots()
	if err != nil {
		return "", err
	}
	if len(bots) == 0 {
		return "No bots deployed.", nil
	}
	lines := make([]string, 0, len(bots))
	for _, bot := range bots {
		status := "🔴 Offline"
		if bot.Online {
			status = "🟢 Online"
		}
		lines = append(lines, fmt.Sprintf("%s — `%s`", status, bot.Name))
	}
	return strings.Join(lines, "\n"), nil
}

func (b *Builtins) removeBot(ctx context.Context, req Request) (string, error) {
	name := req.Arg(0)
	if err := b.Service.RemoveBot(name); err != nil {
		return "", err
	}
	return fmt.Sprintf("Bot `%s` stopped and removed.", name), nil
}

func (b *Builtins) startBot(ctx context.Context, req Request) (string, error) {
	name := req.Arg(0)
	proc, err := b.Service.StartBot(name)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("Bot `%s` started (pid %d).", name, proc.PID), nil
}

func (b *Builtins) stopBot(ctx context.Context, req Request) (string, error) {
	name := req.Arg(0)
	if err := b.Service.StopBot(name); err != nil {
		return "", err
	}
	return fmt.Sprintf("Bot `%s` stopped.", name), nil
}

func (b *Builtins) restartBot(ctx context.Context, req Request) (string, error) {
	name := req.Arg(0)
	proc, err := b.Service.RestartBot(name)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("Bot `%s` restarted (pid %d).", name, proc.PID), nil
}

func (b *Builtins) botLogs(ctx context.Context, req Request) (string, error) {
	name := req.Arg(0)
	lines := defaultLogLines
	if raw := req.Arg(1); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			return "", &ReplyError{Reply: "Line count must be a positive number.", Err: fmt.Errorf("commands: bad line count %q", raw)}
		}
		lines = min(n, maxLogLines)
	}

	out, err := b.Service.Logs(name, lines)
	if err != nil {
		return "", err
	}
	if len(out) == 0 {
		return fmt.Sprintf("No logs captured for `%s` yet.", name), nil
	}
	return codeBlock(out, MaxMessageLength), nil
}

func (b *Builtins) uploadCode(ctx context.Context, req Request) (string, error) {
	name, err := b.Service.UploadFile(ctx, req.Arg(0), req.Attachments)
	if errors.Is(err, manager.ErrAttachmentRequired) {
		return "", &ReplyError{Reply: "Attach a file to upload.", Err: err}
	}
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("File `%s` uploaded and hosted.", name), nil
}

func (b *Builtins) listFiles(ctx context.Context, req Request) (string, error) {
	list, err := b.Service.ListFiles()
	if err != nil {
		return "", err
	}
	if len(list) == 0 {
		return "No files hosted yet.", nil
	}
	names := make([]string, 0, len(list))
	for _, f := range list {
		names = append(names, fmt.Sprintf("`%s`", f.Name))
	}
	return "Hosted files:\n" + strings.Join(names, "\n"), nil
}

func (b *Builtins) help(ctx context.Context, req Request) (string, error) {
	prefix := b.router.Prefix()
	lines := []string{"Commands:"}
	for _, cmd := range b.router.Commands() {
		lines = append(lines, fmt.Sprintf("`%s%s` — %s", prefix, cmd.Usage, cmd.Description))
	}
	return strings.Join(lines, "\n"), nil
}

// codeBlock fences lines, dropping the oldest until the block fits limit.
func codeBlock(lines []string, limit int) string {
	const fence = "```"
	overhead := len(fence)*2 + 2
	total := overhead
	start := len(lines)
	for start > 0 {
		next := len(lines[start-1]) + 1
		if total+next > limit {
			break
		}
		total += next
		start--
	}
	if start == len(lines) {
		last := lines[len(lines)-1]
		keep := limit - overhead - 1
		if keep > len(last) {
			keep = len(last)
		}
		cut := len(last) - keep
		for cut < len(last) && !utf8.RuneStart(last[cut]) {
			cut++
		}
		return fence + "\n" + last[cut:] + "\n" + fence
	}
	return fence + "\n" + strings.Join(lines[start:], "\n") + "\n" + fence
}
