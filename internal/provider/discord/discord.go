// Package discord mirrors messages to Discord over its REST API.
package discord

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"sync"

	"github.com/bwmarrin/discordgo"

	"github.com/hazelchat/hazelsync/internal/models"
	"github.com/hazelchat/hazelsync/internal/provider"
	"github.com/hazelchat/hazelsync/internal/prune"
)

// maxMessageLength is Discord's content limit.
const maxMessageLength = 2000

// threadAutoArchiveMinutes keeps mirrored threads open for a day.
const threadAutoArchiveMinutes = 1440

// Adapter drives Discord with a single bot token. The session is created on
// first use so a missing token surfaces as a configuration error per call
// instead of failing startup.
type Adapter struct {
	log   *slog.Logger
	token string

	mu      sync.RWMutex
	session *discordgo.Session
}

func New(log *slog.Logger, botToken string) *Adapter {
	return &Adapter{
		log:   log.With(slog.String("adapter", "discord")),
		token: botToken,
	}
}

func (a *Adapter) Provider() models.Provider {
	return models.ProviderDiscord
}

func (a *Adapter) getOrCreateSession() (*discordgo.Session, error) {
	a.mu.RLock()
	s := a.session
	a.mu.RUnlock()
	if s != nil {
		return s, nil
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	if a.session != nil {
		return a.session, nil
	}
	if a.token == "" {
		return nil, &provider.ConfigurationError{Provider: models.ProviderDiscord, Reason: "bot token is not set"}
	}
	s, err := discordgo.New("Bot " + a.token)
	if err != nil {
		return nil, &provider.ConfigurationError{Provider: models.ProviderDiscord, Reason: err.Error()}
	}
	a.session = s
	return s, nil
}

// wrapErr translates discordgo failures into the shared API error type,
// keeping the HTTP status when Discord exposed one.
func wrapErr(err error) error {
	var rest *discordgo.RESTError
	if errors.As(err, &rest) {
		status := 0
		if rest.Response != nil {
			status = rest.Response.StatusCode
		}
		message := ""
		if rest.Message != nil {
			message = rest.Message.Message
		}
		if message == "" {
			message = http.StatusText(status)
		}
		return &provider.APIError{Provider: models.ProviderDiscord, Status: status, Message: message}
	}
	return &provider.APIError{Provider: models.ProviderDiscord, Message: err.Error()}
}

func isNotFound(err error) bool {
	var apiErr *provider.APIError
	return errors.As(err, &apiErr) && apiErr.Status == http.StatusNotFound
}

func (a *Adapter) CreateMessage(ctx context.Context, msg provider.OutboundMessage) (provider.CreatedMessage, error) {
	s, err := a.getOrCreateSession()
	if err != nil {
		return provider.CreatedMessage{}, err
	}

	// Threads are channels on Discord, so posting into one means sending
	// to the thread id.
	channelID := msg.ChannelID
	if msg.ThreadID != "" {
		channelID = msg.ThreadID
	}
	send := &discordgo.MessageSend{Content: prune.Clamp(msg.Content, maxMessageLength)}
	if msg.ReplyToID != "" {
		send.Reference = &discordgo.MessageReference{MessageID: msg.ReplyToID, ChannelID: channelID}
	}

	created, err := s.ChannelMessageSendComplex(channelID, send, discordgo.WithContext(ctx))
	if err != nil {
		return provider.CreatedMessage{}, wrapErr(err)
	}
	if created == nil || created.ID == "" {
		return provider.CreatedMessage{}, &provider.APIError{Provider: models.ProviderDiscord, Message: "response missing message id"}
	}
	a.log.Debug("created message", slog.String("channel_id", channelID), slog.String("message_id", created.ID))
	return provider.CreatedMessage{ID: created.ID}, nil
}

func (a *Adapter) UpdateMessage(ctx context.Context, channelID, messageID, content string) error {
	s, err := a.getOrCreateSession()
	if err != nil {
		return err
	}
	if _, err := s.ChannelMessageEdit(channelID, messageID, prune.Clamp(content, maxMessageLength), discordgo.WithContext(ctx)); err != nil {
		return wrapErr(err)
	}
	return nil
}

// DeleteMessage removes an external message. A 404 means the target is
// already gone, which is the outcome the caller wanted.
func (a *Adapter) DeleteMessage(ctx context.Context, channelID, messageID string) error {
	s, err := a.getOrCreateSession()
	if err != nil {
		return err
	}
	if err := s.ChannelMessageDelete(channelID, messageID, discordgo.WithContext(ctx)); err != nil {
		wrapped := wrapErr(err)
		if isNotFound(wrapped) {
			a.log.Debug("message already deleted", slog.String("message_id", messageID))
			return nil
		}
		return wrapped
	}
	return nil
}

func (a *Adapter) AddReaction(ctx context.Context, channelID, messageID, emoji string) error {
	s, err := a.getOrCreateSession()
	if err != nil {
		return err
	}
	if err := s.MessageReactionAdd(channelID, messageID, emoji, discordgo.WithContext(ctx)); err != nil {
		return wrapErr(err)
	}
	return nil
}

func (a *Adapter) RemoveReaction(ctx context.Context, channelID, messageID, emoji string) error {
	s, err := a.getOrCreateSession()
	if err != nil {
		return err
	}
	if err := s.MessageReactionRemove(channelID, messageID, emoji, "@me", discordgo.WithContext(ctx)); err != nil {
		return wrapErr(err)
	}
	return nil
}

func (a *Adapter) CreateThread(ctx context.Context, channelID, messageID, name string) (string, error) {
	s, err := a.getOrCreateSession()
	if err != nil {
		return "", err
	}
	thread, err := s.MessageThreadStart(channelID, messageID, name, threadAutoArchiveMinutes, discordgo.WithContext(ctx))
	if err != nil {
		return "", wrapErr(err)
	}
	if thread == nil || thread.ID == "" {
		return "", &provider.APIError{Provider: models.ProviderDiscord, Message: "response missing thread id"}
	}
	return thread.ID, nil
}
