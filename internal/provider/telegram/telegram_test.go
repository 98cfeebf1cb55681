package telegram

import (
	"context"
	"errors"
	"log/slog"
	"testing"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hazelchat/hazelsync/internal/models"
	"github.com/hazelchat/hazelsync/internal/provider"
)

func TestWrapErrTranslatesAPIError(t *testing.T) {
	err := wrapErr(&tgbotapi.Error{Code: 403, Message: "Forbidden: bot was blocked by the user"})

	var apiErr *provider.APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, models.ProviderTelegram, apiErr.Provider)
	assert.Equal(t, 403, apiErr.Status)
	assert.Contains(t, apiErr.Message, "blocked")
}

func TestWrapErrPlainError(t *testing.T) {
	err := wrapErr(errors.New("dial tcp: timeout"))

	var apiErr *provider.APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Zero(t, apiErr.Status)
}

func TestParseIDs(t *testing.T) {
	chatID, err := parseChatID("-1001234567890")
	require.NoError(t, err)
	assert.Equal(t, int64(-1001234567890), chatID)

	_, err = parseChatID("general")
	require.Error(t, err)

	msgID, err := parseMessageID("42")
	require.NoError(t, err)
	assert.Equal(t, 42, msgID)

	_, err = parseMessageID("42.5")
	require.Error(t, err)
}

func TestMissingTokenIsConfigurationError(t *testing.T) {
	a := New(slog.Default(), "")

	_, err := a.CreateMessage(context.Background(), provider.OutboundMessage{ChannelID: "1", Content: "hi"})

	var confErr *provider.ConfigurationError
	require.ErrorAs(t, err, &confErr)
	assert.Equal(t, models.ProviderTelegram, confErr.Provider)
}

func TestProviderName(t *testing.T) {
	assert.Equal(t, models.ProviderTelegram, New(slog.Default(), "token").Provider())
}
