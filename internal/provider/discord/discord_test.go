package discord

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"testing"

	"github.com/bwmarrin/discordgo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hazelchat/hazelsync/internal/models"
	"github.com/hazelchat/hazelsync/internal/provider"
)

func TestWrapErrKeepsStatusAndMessage(t *testing.T) {
	err := wrapErr(&discordgo.RESTError{
		Response: &http.Response{StatusCode: http.StatusForbidden},
		Message:  &discordgo.APIErrorMessage{Code: 50001, Message: "Missing Access"},
	})

	var apiErr *provider.APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, models.ProviderDiscord, apiErr.Provider)
	assert.Equal(t, http.StatusForbidden, apiErr.Status)
	assert.Equal(t, "Missing Access", apiErr.Message)
}

func TestWrapErrWithoutRESTError(t *testing.T) {
	err := wrapErr(errors.New("connection refused"))

	var apiErr *provider.APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Zero(t, apiErr.Status)
	assert.Equal(t, "connection refused", apiErr.Message)
}

func TestIsNotFound(t *testing.T) {
	notFound := wrapErr(&discordgo.RESTError{
		Response: &http.Response{StatusCode: http.StatusNotFound},
		Message:  &discordgo.APIErrorMessage{Message: "Unknown Message"},
	})
	forbidden := wrapErr(&discordgo.RESTError{
		Response: &http.Response{StatusCode: http.StatusForbidden},
	})

	assert.True(t, isNotFound(notFound))
	assert.False(t, isNotFound(forbidden))
	assert.False(t, isNotFound(errors.New("nope")))
}

func TestMissingTokenIsConfigurationError(t *testing.T) {
	a := New(slog.Default(), "")

	_, err := a.CreateMessage(context.Background(), provider.OutboundMessage{ChannelID: "123", Content: "hi"})

	var confErr *provider.ConfigurationError
	require.ErrorAs(t, err, &confErr)
	assert.Equal(t, models.ProviderDiscord, confErr.Provider)
}

func TestProviderName(t *testing.T) {
	a := New(slog.Default(), "token")

	assert.Equal(t, models.ProviderDiscord, a.Provider())
}
