// Package discord connects the command router to a Discord gateway session.
package discord

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/bwmarrin/discordgo"
	"github.com/danmuck/botctl/internal/commands"
	"github.com/danmuck/botctl/internal/manager"
	"github.com/rs/zerolog/log"
)

var ErrMissingToken = errors.New("discord: bot token is empty")

const Intents = discordgo.IntentGuildMessages |
	discordgo.IntentDirectMessages |
	discordgo.IntentMessageContent

// Sender delivers one reply message to a channel.
type Sender interface {
	Send(channelID, content string) error
}

// Restorer relaunches registered bots once the gateway is ready.
type Restorer interface {
	Restore(ctx context.Context) int
}

type Options struct {
	Token          string
	Router         *commands.Router
	Restorer       Restorer
	RestoreOnReady bool
}

type Bot struct {
	session        *discordgo.Session
	router         *commands.Router
	restorer       Restorer
	restoreOnReady bool

	mu       sync.Mutex
	ctx      context.Context
	restored bool
}

func New(opts Options) (*Bot, error) {
	token := strings.TrimSpace(opts.Token)
	if token == "" {
		return nil, ErrMissingToken
	}
	if opts.Router == nil {
		return nil, errors.New("discord: router is required")
	}
	if !strings.HasPrefix(token, "Bot ") {
		token = "Bot " + token
	}
	session, err := discordgo.New(token)
	if err != nil {
		return nil, fmt.Errorf("discord: new session: %w", err)
	}
	session.Identify.Intents = Intents

	b := &Bot{
		session:        session,
		router:         opts.Router,
		restorer:       opts.Restorer,
		restoreOnReady: opts.RestoreOnReady,
		ctx:            context.Background(),
	}
	session.AddHandler(b.onReady)
	session.AddHandler(b.onMessageCreate)
	return b, nil
}

// Run opens the gateway and blocks until ctx ends.
func (b *Bot) Run(ctx context.Context) error {
	b.mu.Lock()
	b.ctx = ctx
	b.mu.Unlock()

	if err := b.session.Open(); err != nil {
		return fmt.Errorf("discord: open gateway: %w", err)
	}
	log.Info().Msg("discord gateway connected")

	<-ctx.Done()
	return b.Close()
}

func (b *Bot) Close() error {
	if err := b.session.Close(); err != nil {
		return fmt.Errorf("discord: close gateway: %w", err)
	}
	log.Info().Msg("discord gateway closed")
	return nil
}

func (b *Bot) context() context.Context {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.ctx
}

func (b *Bot) onReady(s *discordgo.Session, r *discordgo.Ready) {
	user := ""
	if r.User != nil {
		user = r.User.Username
	}
	log.Info().Str("user", user).Int("guilds", len(r.Guilds)).Msg("logged in")

	b.mu.Lock()
	run := b.restoreOnReady && b.restorer != nil && !b.restored
	b.restored = b.restored || run
	b.mu.Unlock()
	if !run {
		return
	}
	started := b.restorer.Restore(b.context())
	log.Info().Int("started", started).Msg("registered bots restored")
}

func (b *Bot) onMessageCreate(s *discordgo.Session, m *discordgo.MessageCreate) {
	if m == nil || m.Message == nil {
		return
	}
	selfID := ""
	if s.State != nil && s.State.User != nil {
		selfID = s.State.User.ID
	}
	HandleMessage(b.context(), b.router, selfID, m.Message, sessionSender{s})
}

// HandleMessage dispatches one gateway message and sends the reply.
func HandleMessage(ctx context.Context, router *commands.Router, selfID string, m *discordgo.Message, sender Sender) {
	req, ok := ToRequest(router.Prefix(), selfID, m)
	if !ok {
		return
	}
	reply, handled := router.Dispatch(ctx, req)
	if !handled || reply == "" {
		return
	}
	for _, chunk := range commands.SplitMessage(reply, commands.MaxMessageLength) {
		if err := sender.Send(req.ChannelID, chunk); err != nil {
			log.Error().Err(err).Str("request_id", req.ID).Str("channel", req.ChannelID).Msg("reply failed")
			return
		}
	}
}

// ToRequest converts a gateway message into a command request. Messages from
// selfID or other bots, and messages without the prefix, are skipped.
func ToRequest(prefix, selfID string, m *discordgo.Message) (commands.Request, bool) {
	if m == nil || m.Author == nil {
		return commands.Request{}, false
	}
	if m.Author.ID == selfID || m.Author.Bot {
		return commands.Request{}, false
	}
	name, args, ok := commands.Parse(prefix, m.Content)
	if !ok {
		return commands.Request{}, false
	}

	atts := make([]manager.Attachment, 0, len(m.Attachments))
	for _, a := range m.Attachments {
		if a == nil {
			continue
		}
		atts = append(atts, manager.Attachment{
			Filename: a.Filename,
			URL:      a.URL,
			Size:     a.Size,
		})
	}
	return commands.Request{
		AuthorID:    m.Author.ID,
		AuthorName:  m.Author.Username,
		ChannelID:   m.ChannelID,
		Command:     name,
		Args:        args,
		Attachments: atts,
	}, true
}

type sessionSender struct {
	s *discordgo.Session
}

func (ss sessionSender) Send(channelID, content string) error {
	_, err := ss.s.ChannelMessageSend(channelID, content)
	return err
}
