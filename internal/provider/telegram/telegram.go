// Package telegram mirrors messages to Telegram chats and forum topics.
package telegram

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/hazelchat/hazelsync/internal/models"
	"github.com/hazelchat/hazelsync/internal/provider"
	"github.com/hazelchat/hazelsync/internal/prune"
)

// maxMessageLength is Telegram's text limit.
const maxMessageLength = 4096

// Adapter drives Telegram with a single bot token. Reactions and topic
// replies go through raw Bot API requests because the typed client predates
// those endpoints.
type Adapter struct {
	log   *slog.Logger
	token string

	mu  sync.RWMutex
	bot *tgbotapi.BotAPI
}

func New(log *slog.Logger, botToken string) *Adapter {
	return &Adapter{
		log:   log.With(slog.String("adapter", "telegram")),
		token: botToken,
	}
}

func (a *Adapter) Provider() models.Provider {
	return models.ProviderTelegram
}

func (a *Adapter) getOrCreateBot() (*tgbotapi.BotAPI, error) {
	a.mu.RLock()
	bot := a.bot
	a.mu.RUnlock()
	if bot != nil {
		return bot, nil
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	if a.bot != nil {
		return a.bot, nil
	}
	if a.token == "" {
		return nil, &provider.ConfigurationError{Provider: models.ProviderTelegram, Reason: "bot token is not set"}
	}
	bot, err := tgbotapi.NewBotAPI(a.token)
	if err != nil {
		return nil, &provider.ConfigurationError{Provider: models.ProviderTelegram, Reason: fmt.Sprintf("create bot: %v", err)}
	}
	a.bot = bot
	return bot, nil
}

func wrapErr(err error) error {
	var tgErr *tgbotapi.Error
	if errors.As(err, &tgErr) {
		return &provider.APIError{Provider: models.ProviderTelegram, Status: tgErr.Code, Message: tgErr.Message}
	}
	return &provider.APIError{Provider: models.ProviderTelegram, Message: err.Error()}
}

func responseErr(resp *tgbotapi.APIResponse) error {
	return &provider.APIError{Provider: models.ProviderTelegram, Status: resp.ErrorCode, Message: resp.Description}
}

func parseChatID(id string) (int64, error) {
	chatID, err := strconv.ParseInt(id, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid telegram chat id %q: %w", id, err)
	}
	return chatID, nil
}

func parseMessageID(id string) (int, error) {
	messageID, err := strconv.Atoi(id)
	if err != nil {
		return 0, fmt.Errorf("invalid telegram message id %q: %w", id, err)
	}
	return messageID, nil
}

func (a *Adapter) CreateMessage(ctx context.Context, msg provider.OutboundMessage) (provider.CreatedMessage, error) {
	bot, err := a.getOrCreateBot()
	if err != nil {
		return provider.CreatedMessage{}, err
	}
	if _, err := parseChatID(msg.ChannelID); err != nil {
		return provider.CreatedMessage{}, err
	}

	params := tgbotapi.Params{}
	params["chat_id"] = msg.ChannelID
	params["text"] = prune.Clamp(msg.Content, maxMessageLength)
	params.AddNonEmpty("message_thread_id", msg.ThreadID)
	params.AddNonEmpty("reply_to_message_id", msg.ReplyToID)

	resp, err := bot.MakeRequest("sendMessage", params)
	if err != nil {
		return provider.CreatedMessage{}, wrapErr(err)
	}
	if !resp.Ok {
		return provider.CreatedMessage{}, responseErr(resp)
	}
	var sent struct {
		MessageID int64 `json:"message_id"`
	}
	if err := json.Unmarshal(resp.Result, &sent); err != nil || sent.MessageID == 0 {
		return provider.CreatedMessage{}, &provider.APIError{Provider: models.ProviderTelegram, Message: "response missing message id"}
	}
	return provider.CreatedMessage{ID: strconv.FormatInt(sent.MessageID, 10)}, nil
}

func (a *Adapter) UpdateMessage(ctx context.Context, channelID, messageID, content string) error {
	bot, err := a.getOrCreateBot()
	if err != nil {
		return err
	}
	chatID, err := parseChatID(channelID)
	if err != nil {
		return err
	}
	msgID, err := parseMessageID(messageID)
	if err != nil {
		return err
	}
	edit := tgbotapi.NewEditMessageText(chatID, msgID, prune.Clamp(content, maxMessageLength))
	if _, err := bot.Request(edit); err != nil {
		return wrapErr(err)
	}
	return nil
}

// DeleteMessage removes an external message. Telegram reports an already
// deleted target as a 400 with a fixed description; that counts as done.
func (a *Adapter) DeleteMessage(ctx context.Context, channelID, messageID string) error {
	bot, err := a.getOrCreateBot()
	if err != nil {
		return err
	}
	chatID, err := parseChatID(channelID)
	if err != nil {
		return err
	}
	msgID, err := parseMessageID(messageID)
	if err != nil {
		return err
	}
	if _, err := bot.Request(tgbotapi.NewDeleteMessage(chatID, msgID)); err != nil {
		wrapped := wrapErr(err)
		var apiErr *provider.APIError
		if errors.As(wrapped, &apiErr) && strings.Contains(apiErr.Message, "message to delete not found") {
			a.log.Debug("message already deleted", slog.String("message_id", messageID))
			return nil
		}
		return wrapped
	}
	return nil
}

func (a *Adapter) AddReaction(ctx context.Context, channelID, messageID, emoji string) error {
	reaction, err := json.Marshal([]map[string]string{{"type": "emoji", "emoji": emoji}})
	if err != nil {
		return fmt.Errorf("encode reaction: %w", err)
	}
	return a.setReaction(channelID, messageID, string(reaction))
}

// RemoveReaction clears the bot's reactions on the message. Telegram keeps
// one reaction set per actor, so clearing is the remove operation.
func (a *Adapter) RemoveReaction(ctx context.Context, channelID, messageID, emoji string) error {
	return a.setReaction(channelID, messageID, "[]")
}

func (a *Adapter) setReaction(channelID, messageID, reaction string) error {
	bot, err := a.getOrCreateBot()
	if err != nil {
		return err
	}
	if _, err := parseChatID(channelID); err != nil {
		return err
	}
	if _, err := parseMessageID(messageID); err != nil {
		return err
	}

	params := tgbotapi.Params{}
	params["chat_id"] = channelID
	params["message_id"] = messageID
	params["reaction"] = reaction

	resp, err := bot.MakeRequest("setMessageReaction", params)
	if err != nil {
		return wrapErr(err)
	}
	if !resp.Ok {
		return responseErr(resp)
	}
	return nil
}
