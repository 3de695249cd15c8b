package commands

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/danmuck/botctl/internal/auth"
	"github.com/danmuck/botctl/internal/files"
	"github.com/danmuck/botctl/internal/install"
	"github.com/danmuck/botctl/internal/manager"
	"github.com/danmuck/botctl/internal/registry"
	"github.com/danmuck/botctl/internal/supervisor"
	"github.com/danmuck/botctl/internal/testutil/testlog"
)

type fakeService struct {
	addResult manager.AddResult
	addErr    error
	bots      []manager.BotStatus
	files     []files.Info
	removeErr error
	startErr  error
	stopErr   error
	logs      []string
	logsErr   error
	uploadErr error

	calls []string
}

func (f *fakeService) AddBot(ctx context.Context, name, repoURL string, attachments []manager.Attachment) (manager.AddResult, error) {
	f.calls = append(f.calls, fmt.Sprintf("add %s %s %d", name, repoURL, len(attachments)))
	if f.addErr != nil {
		return manager.AddResult{}, f.addErr
	}
	res := f.addResult
	res.Name = name
	return res, nil
}

func (f *fakeService) ListBots() ([]manager.BotStatus, error) {
	return f.bots, nil
}

func (f *fakeService) RemoveBot(name string) error {
	f.calls = append(f.calls, "remove "+name)
	return f.removeErr
}

func (f *fakeService) StartBot(name string) (supervisor.Process, error) {
	f.calls = append(f.calls, "start "+name)
	return supervisor.Process{Name: name, PID: 42, Started: time.Now()}, f.startErr
}

func (f *fakeService) StopBot(name string) error {
	f.calls = append(f.calls, "stop "+name)
	return f.stopErr
}

func (f *fakeService) RestartBot(name string) (supervisor.Process, error) {
	f.calls = append(f.calls, "restart "+name)
	return supervisor.Process{Name: name, PID: 43, Started: time.Now()}, f.startErr
}

func (f *fakeService) Logs(name string, lines int) ([]string, error) {
	f.calls = append(f.calls, fmt.Sprintf("logs %s %d", name, lines))
	return f.logs, f.logsErr
}

func (f *fakeService) UploadFile(ctx context.Context, filename string, attachments []manager.Attachment) (string, error) {
	if len(attachments) == 0 {
		return "", manager.ErrAttachmentRequired
	}
	if f.uploadErr != nil {
		return "", f.uploadErr
	}
	if filename == "" {
		filename = attachments[0].Filename
	}
	return filename, nil
}

func (f *fakeService) ListFiles() ([]files.Info, error) {
	return f.files, nil
}

func newTestRouter(t *testing.T, svc Service, allowed ...string) *Router {
	t.Helper()
	r := NewRouter("!", auth.NewAllowList(allowed))
	if err := RegisterBuiltins(r, svc, "bot.py", ""); err != nil {
		t.Fatalf("register builtins: %v", err)
	}
	return r
}

func dispatch(t *testing.T, r *Router, content string, attachments ...manager.Attachment) string {
	t.Helper()
	name, args, ok := r.Parse(content)
	if !ok {
		t.Fatalf("parse failed for %q", content)
	}
	reply, handled := r.Dispatch(context.Background(), Request{
		AuthorID:    "100",
		Command:     name,
		Args:        args,
		Attachments: attachments,
	})
	if !handled {
		t.Fatalf("command %q not handled", name)
	}
	return reply
}

func TestParse(t *testing.T) {
	testlog.Start(t)
	tests := []struct {
		content string
		name    string
		args    []string
		ok      bool
	}{
		{content: "!addbot alpha https://x/y", name: "addbot", args: []string{"alpha", "https://x/y"}, ok: true},
		{content: "  !ListBots  ", name: "listbots", args: []string{}, ok: true},
		{content: "!", ok: false},
		{content: "hello !addbot", ok: false},
		{content: "", ok: false},
	}
	for _, tc := range tests {
		name, args, ok := Parse("!", tc.content)
		if ok != tc.ok || name != tc.name {
			t.Fatalf("Parse(%q) = %q,%v want %q,%v", tc.content, name, ok, tc.name, tc.ok)
		}
		if tc.ok && !reflect.DeepEqual(args, tc.args) {
			t.Fatalf("Parse(%q) args = %#v want %#v", tc.content, args, tc.args)
		}
	}
}

func TestRegisterRejectsDuplicatesAndInvalid(t *testing.T) {
	testlog.Start(t)
	r := NewRouter("", nil)
	if r.Prefix() != DefaultPrefix {
		t.Fatalf("unexpected default prefix %q", r.Prefix())
	}
	noop := func(ctx context.Context, req Request) (string, error) { return "", nil }
	if err := r.Register(Command{Name: "Ping", Handler: noop}); err != nil {
		t.Fatalf("register: %v", err)
	}
	if err := r.Register(Command{Name: "ping", Handler: noop}); !errors.Is(err, ErrCommandExists) {
		t.Fatalf("expected ErrCommandExists, got %v", err)
	}
	if err := r.Register(Command{Name: "", Handler: noop}); !errors.Is(err, ErrInvalidCommand) {
		t.Fatalf("expected ErrInvalidCommand, got %v", err)
	}
	if err := r.Register(Command{Name: "nohandler"}); !errors.Is(err, ErrInvalidCommand) {
		t.Fatalf("expected ErrInvalidCommand, got %v", err)
	}
}

func TestDispatchUnknownCommand(t *testing.T) {
	testlog.Start(t)
	r := newTestRouter(t, &fakeService{})
	if _, handled := r.Dispatch(context.Background(), Request{Command: "nope"}); handled {
		t.Fatalf("unknown command must not be handled")
	}
}

func TestDispatchUsage(t *testing.T) {
	testlog.Start(t)
	r := newTestRouter(t, &fakeService{})
	if got := dispatch(t, r, "!addbot"); got != "Usage: `!addbot <name> [repo_url]`" {
		t.Fatalf("unexpected usage reply: %q", got)
	}
	if got := dispatch(t, r, "!removebot a b"); got != "Usage: `!removebot <name>`" {
		t.Fatalf("unexpected usage reply: %q", got)
	}
}

func TestDispatchAuthorization(t *testing.T) {
	testlog.Start(t)
	svc := &fakeService{}
	r := newTestRouter(t, svc, "999")
	if got := dispatch(t, r, "!removebot alpha"); got != "You are not allowed to manage bots." {
		t.Fatalf("unexpected denial reply: %q", got)
	}
	if len(svc.calls) != 0 {
		t.Fatalf("denied command must not reach service: %v", svc.calls)
	}
	if got := dispatch(t, r, "!help"); !strings.HasPrefix(got, "Commands:") {
		t.Fatalf("help must stay public, got %q", got)
	}
}

func TestAddBotReplies(t *testing.T) {
	testlog.Start(t)
	tests := []struct {
		name    string
		svc     *fakeService
		content string
		atts    []manager.Attachment
		want    string
	}{
		{
			name:    "started",
			svc:     &fakeService{addResult: manager.AddResult{Started: true}},
			content: "!addbot alpha https://github.com/x/alpha.git",
			want:    "Bot `alpha` added and started.",
		},
		{
			name:    "added not started",
			svc:     &fakeService{addResult: manager.AddResult{Started: false}},
			content: "!addbot alpha https://github.com/x/alpha.git",
			want:    "Bot `alpha` added, but failed to start. Check your bot.py.",
		},
		{
			name:    "duplicate",
			svc:     &fakeService{addErr: fmt.Errorf("%w: alpha", registry.ErrBotExists)},
			content: "!addbot alpha",
			want:    "Bot `alpha` already exists.",
		},
		{
			name:    "clone failure",
			svc:     &fakeService{addErr: fmt.Errorf("%w: exit 128", install.ErrCloneFailed)},
			content: "!addbot alpha https://github.com/x/missing.git",
			want:    "Failed to clone repository.",
		},
		{
			name:    "missing attachment",
			svc:     &fakeService{addErr: manager.ErrAttachmentRequired},
			content: "!addbot alpha",
			want:    "Please attach your bot.py file when no repo URL is given.",
		},
		{
			name:    "wrong attachment type",
			svc:     &fakeService{addErr: manager.ErrAttachmentType},
			content: "!addbot alpha",
			atts:    []manager.Attachment{{Filename: "bot.js"}},
			want:    "Attachment must be a .py file.",
		},
		{
			name:    "unexpected error",
			svc:     &fakeService{addErr: errors.New("disk on fire")},
			content: "!addbot alpha",
			want:    "Something went wrong running `!addbot`.",
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			r := newTestRouter(t, tc.svc)
			if got := dispatch(t, r, tc.content, tc.atts...); got != tc.want {
				t.Fatalf("unexpected reply:\nwant: %q\ngot:  %q", tc.want, got)
			}
		})
	}
}

func TestListBotsReply(t *testing.T) {
	testlog.Start(t)
	r := newTestRouter(t, &fakeService{})
	if got := dispatch(t, r, "!listbots"); got != "No bots deployed." {
		t.Fatalf("unexpected empty reply: %q", got)
	}

	r = newTestRouter(t, &fakeService{bots: []manager.BotStatus{
		{Name: "alpha", Online: true, PID: 10},
		{Name: "beta"},
	}})
	want := "🟢 Online — `alpha`\n🔴 Offline — `beta`"
	if got := dispatch(t, r, "!listbots"); got != want {
		t.Fatalf("unexpected listing:\nwant: %q\ngot:  %q", want, got)
	}
}

func TestRemoveStartStopReplies(t *testing.T) {
	testlog.Start(t)
	svc := &fakeService{}
	r := newTestRouter(t, svc)
	if got := dispatch(t, r, "!removebot alpha"); got != "Bot `alpha` stopped and removed." {
		t.Fatalf("unexpected remove reply: %q", got)
	}
	if got := dispatch(t, r, "!startbot alpha"); got != "Bot `alpha` started (pid 42)." {
		t.Fatalf("unexpected start reply: %q", got)
	}
	if got := dispatch(t, r, "!stopbot alpha"); got != "Bot `alpha` stopped." {
		t.Fatalf("unexpected stop reply: %q", got)
	}
	if got := dispatch(t, r, "!restartbot alpha"); got != "Bot `alpha` restarted (pid 43)." {
		t.Fatalf("unexpected restart reply: %q", got)
	}

	svc.removeErr = fmt.Errorf("%w: ghost", registry.ErrBotNotFound)
	if got := dispatch(t, r, "!removebot ghost"); got != "Bot `ghost` not found." {
		t.Fatalf("unexpected not-found reply: %q", got)
	}
	svc.startErr = fmt.Errorf("%w: alpha", supervisor.ErrAlreadyRunning)
	if got := dispatch(t, r, "!startbot alpha"); got != "Bot `alpha` is already running." {
		t.Fatalf("unexpected already-running reply: %q", got)
	}
	svc.stopErr = manager.ErrNotRunning
	if got := dispatch(t, r, "!stopbot alpha"); got != "Bot `alpha` is not running." {
		t.Fatalf("unexpected not-running reply: %q", got)
	}
}

func TestBotLogsReply(t *testing.T) {
	testlog.Start(t)
	svc := &fakeService{logs: []string{"one", "two"}}
	r := newTestRouter(t, svc)
	if got := dispatch(t, r, "!botlogs alpha 500"); got != "```\none\ntwo\n```" {
		t.Fatalf("unexpected logs reply: %q", got)
	}
	if svc.calls[len(svc.calls)-1] != fmt.Sprintf("logs alpha %d", maxLogLines) {
		t.Fatalf("line count must be capped, calls=%v", svc.calls)
	}
	if got := dispatch(t, r, "!botlogs alpha zero"); got != "Line count must be a positive number." {
		t.Fatalf("unexpected bad count reply: %q", got)
	}
	svc.logs = nil
	if got := dispatch(t, r, "!botlogs alpha"); got != "No logs captured for `alpha` yet." {
		t.Fatalf("unexpected empty logs reply: %q", got)
	}
}

func TestUploadAndListFilesReplies(t *testing.T) {
	testlog.Start(t)
	svc := &fakeService{}
	r := newTestRouter(t, svc)
	if got := dispatch(t, r, "!uploadcode"); got != "Attach a file to upload." {
		t.Fatalf("unexpected missing attachment reply: %q", got)
	}
	att := manager.Attachment{Filename: "util.py", URL: "https://cdn/util.py"}
	if got := dispatch(t, r, "!uploadcode", att); got != "File `util.py` uploaded and hosted." {
		t.Fatalf("unexpected upload reply: %q", got)
	}
	if got := dispatch(t, r, "!uploadcode lib.py", att); got != "File `lib.py` uploaded and hosted." {
		t.Fatalf("unexpected renamed upload reply: %q", got)
	}
	svc.uploadErr = files.ErrTooLarge
	if got := dispatch(t, r, "!uploadcode", att); got != "File is too large." {
		t.Fatalf("unexpected too-large reply: %q", got)
	}

	if got := dispatch(t, r, "!listfiles"); got != "No files hosted yet." {
		t.Fatalf("unexpected empty files reply: %q", got)
	}
	svc.files = []files.Info{{Name: "a.py"}, {Name: "b.txt"}}
	if got := dispatch(t, r, "!listfiles"); got != "Hosted files:\n`a.py`\n`b.txt`" {
		t.Fatalf("unexpected files reply: %q", got)
	}
}

func TestHelpListsCommands(t *testing.T) {
	testlog.Start(t)
	r := newTestRouter(t, &fakeService{})
	got := dispatch(t, r, "!help")
	for _, want := range []string{"`!addbot <name> [repo_url]`", "`!listfiles`", "`!botlogs <name> [lines]`"} {
		if !strings.Contains(got, want) {
			t.Fatalf("help missing %s:\n%s", want, got)
		}
	}
}

func TestSplitMessage(t *testing.T) {
	testlog.Start(t)
	if got := SplitMessage("", 10); got != nil {
		t.Fatalf("expected nil for empty text, got %v", got)
	}
	if got := SplitMessage("short", 10); !reflect.DeepEqual(got, []string{"short"}) {
		t.Fatalf("unexpected short split: %v", got)
	}
	got := SplitMessage("aaaa\nbbbb\ncccc", 9)
	want := []string{"aaaa\nbbbb", "cccc"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("unexpected line split: %#v", got)
	}
	got = SplitMessage("abcdefghijkl", 5)
	want = []string{"abcde", "fghij", "kl"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("unexpected hard split: %#v", got)
	}
	for _, chunk := range SplitMessage(strings.Repeat("🟢 Online — `x`\n", 300), MaxMessageLength) {
		if len(chunk) > MaxMessageLength {
			t.Fatalf("chunk exceeds limit: %d", len(chunk))
		}
	}
}

func TestCodeBlockFits(t *testing.T) {
	testlog.Start(t)
	lines := make([]string, 0, 100)
	for i := 0; i < 100; i++ {
		lines = append(lines, strings.Repeat("x", 50))
	}
	out := codeBlock(lines, 500)
	if len(out) > 500 {
		t.Fatalf("code block exceeds limit: %d", len(out))
	}
	if !strings.HasPrefix(out, "```\n") || !strings.HasSuffix(out, "\n```") {
		t.Fatalf("code block not fenced: %q", out)
	}
	long := codeBlock([]string{strings.Repeat("y", 1000)}, 100)
	if len(long) > 100 {
		t.Fatalf("single long line exceeds limit: %d", len(long))
	}
}

func TestCodeBlockKeepsRunesWhole(t *testing.T) {
	testlog.Start(t)
	// 91 bytes of room after the fence: not a multiple of the 4-byte rune
	out := codeBlock([]string{strings.Repeat("🟢", 100)}, 100)
	if !utf8.ValidString(out) {
		t.Fatalf("code block split a rune: %q", out)
	}
	if len(out) > 100 {
		t.Fatalf("code block exceeds limit: %d", len(out))
	}
	body := strings.TrimSuffix(strings.TrimPrefix(out, "```\n"), "\n```")
	if body != strings.Repeat("🟢", 22) {
		t.Fatalf("unexpected trimmed body: %q", body)
	}
}

func TestAttachmentTypeReplyUsesConfiguredExtension(t *testing.T) {
	testlog.Start(t)
	svc := &fakeService{addErr: manager.ErrAttachmentType}
	r := NewRouter("!", nil)
	if err := RegisterBuiltins(r, svc, "main.sh", ".sh"); err != nil {
		t.Fatalf("register builtins: %v", err)
	}
	att := manager.Attachment{Filename: "bot.py"}
	if got := dispatch(t, r, "!addbot alpha", att); got != "Attachment must be a .sh file." {
		t.Fatalf("unexpected reply: %q", got)
	}
	svc.addErr = manager.ErrAttachmentRequired
	if got := dispatch(t, r, "!addbot alpha"); got != "Please attach your main.sh file when no repo URL is given." {
		t.Fatalf("unexpected reply: %q", got)
	}
}

func TestRemoveAndShutdownReplies(t *testing.T) {
	testlog.Start(t)
	svc := &fakeService{removeErr: fmt.Errorf("%w: stray: %w", manager.ErrFilesKept, install.ErrSandboxViolation)}
	r := newTestRouter(t, svc)
	want := "Bot `stray` stopped and unregistered, but its files could not be deleted."
	if got := dispatch(t, r, "!removebot stray"); got != want {
		t.Fatalf("unexpected reply: %q", got)
	}
	svc.startErr = fmt.Errorf("%w: alpha", supervisor.ErrClosed)
	if got := dispatch(t, r, "!startbot alpha"); got != "Bot manager is shutting down." {
		t.Fatalf("unexpected reply: %q", got)
	}
}
