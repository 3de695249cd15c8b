package commands

import (
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/danmuck/botctl/internal/auth"
	"github.com/danmuck/botctl/internal/files"
	"github.com/danmuck/botctl/internal/install"
	"github.com/danmuck/botctl/internal/manager"
	"github.com/danmuck/botctl/internal/registry"
	"github.com/danmuck/botctl/internal/supervisor"
)

// MaxMessageLength is the platform limit for one chat message.
const MaxMessageLength = 2000

// userMessage maps known errors to fixed replies. The subject is the first
// argument, which is the bot name for every bot command.
func userMessage(err error, req Request) (string, bool) {
	var replyErr *ReplyError
	if errors.As(err, &replyErr) {
		return replyErr.Reply, true
	}

	subject := req.Arg(0)
	switch {
	case errors.Is(err, auth.ErrUnauthorized):
		return "You are not allowed to manage bots.", true
	case errors.Is(err, registry.ErrBotExists):
		return fmt.Sprintf("Bot `%s` already exists.", subject), true
	case errors.Is(err, registry.ErrBotNotFound):
		return fmt.Sprintf("Bot `%s` not found.", subject), true
	case errors.Is(err, registry.ErrReservedName):
		return fmt.Sprintf("Bot name `%s` is reserved.", subject), true
	case errors.Is(err, registry.ErrInvalidName):
		return fmt.Sprintf("Invalid bot name `%s`. Use letters, digits, `.`, `-` or `_` (max %d).", subject, registry.MaxNameLength), true
	case errors.Is(err, install.ErrCloneFailed):
		return "Failed to clone repository.", true
	case errors.Is(err, install.ErrInvalidRepo):
		return "That does not look like a git repository URL.", true
	case errors.Is(err, install.ErrRepoNotAllowed):
		return "That repository host is not allowed.", true
	case errors.Is(err, install.ErrDestinationExists):
		return fmt.Sprintf("A directory for `%s` already exists. Remove it first.", subject), true
	case errors.Is(err, install.ErrUploadTooLarge), errors.Is(err, files.ErrTooLarge):
		return "File is too large.", true
	case errors.Is(err, manager.ErrAttachmentType):
		return "Attachment has the wrong file type.", true
	case errors.Is(err, manager.ErrFetchFailed):
		return "Could not download the attachment.", true
	case errors.Is(err, files.ErrInvalidName):
		return "Invalid file name.", true
	case errors.Is(err, supervisor.ErrAlreadyRunning):
		return fmt.Sprintf("Bot `%s` is already running.", subject), true
	case errors.Is(err, manager.ErrNotRunning):
		return fmt.Sprintf("Bot `%s` is not running.", subject), true
	case errors.Is(err, supervisor.ErrEntryMissing):
		return fmt.Sprintf("Bot `%s` has no entry script to run.", subject), true
	case errors.Is(err, manager.ErrFilesKept):
		return fmt.Sprintf("Bot `%s` stopped and unregistered, but its files could not be deleted.", subject), true
	case errors.Is(err, supervisor.ErrClosed):
		return "Bot manager is shutting down.", true
	case errors.Is(err, manager.ErrNoLogs):
		return fmt.Sprintf("No logs captured for `%s` yet.", subject), true
	default:
		return "", false
	}
}

// SplitMessage breaks text into chunks no longer than limit bytes, preferring
// line boundaries.
func SplitMessage(text string, limit int) []string {
	if limit <= 0 {
		limit = MaxMessageLength
	}
	if len(text) <= limit {
		if text == "" {
			return nil
		}
		return []string{text}
	}

	var chunks []string
	var current strings.Builder
	flush := func() {
		if current.Len() > 0 {
			chunks = append(chunks, current.String())
			current.Reset()
		}
	}
	for _, line := range strings.Split(text, "\n") {
		for len(line) > limit {
			flush()
			cut := runeBoundary(line, limit)
			chunks = append(chunks, line[:cut])
			line = line[cut:]
		}
		extra := len(line)
		if current.Len() > 0 {
			extra++
		}
		if current.Len()+extra > limit {
			flush()
		}
		if current.Len() > 0 {
			current.WriteByte('\n')
		}
		current.WriteString(line)
	}
	flush()
	return chunks
}

func runeBoundary(s string, limit int) int {
	cut := limit
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	if cut == 0 {
		return limit
	}
	return cut
}
