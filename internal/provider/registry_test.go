package provider

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hazelchat/hazelsync/internal/models"
)

type stubAdapter struct {
	name models.Provider
}

func (a *stubAdapter) Provider() models.Provider {
	return a.name
}

func (a *stubAdapter) CreateMessage(ctx context.Context, msg OutboundMessage) (CreatedMessage, error) {
	return CreatedMessage{ID: "ext-1"}, nil
}

func (a *stubAdapter) UpdateMessage(ctx context.Context, channelID, messageID, content string) error {
	return nil
}

func (a *stubAdapter) DeleteMessage(ctx context.Context, channelID, messageID string) error {
	return nil
}

type stubReactor struct {
	stubAdapter
}

func (a *stubReactor) AddReaction(ctx context.Context, channelID, messageID, emoji string) error {
	return nil
}

func (a *stubReactor) RemoveReaction(ctx context.Context, channelID, messageID, emoji string) error {
	return nil
}

func TestRegisterAndGet(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(&stubAdapter{name: models.ProviderDiscord}))

	a, err := r.Get(models.ProviderDiscord)
	require.NoError(t, err)
	assert.Equal(t, models.ProviderDiscord, a.Provider())
}

func TestRegisterRejectsNilAndDuplicates(t *testing.T) {
	r := NewRegistry()
	assert.Error(t, r.Register(nil))

	require.NoError(t, r.Register(&stubAdapter{name: models.ProviderDiscord}))
	err := r.Register(&stubAdapter{name: models.ProviderDiscord})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already registered")
}

func TestGetUnknownProvider(t *testing.T) {
	r := NewRegistry()

	_, err := r.Get(models.ProviderTelegram)

	var notSupported *NotSupportedError
	require.ErrorAs(t, err, &notSupported)
	assert.Equal(t, models.ProviderTelegram, notSupported.Provider)
	assert.Empty(t, notSupported.Capability)
}

func TestReactorCapability(t *testing.T) {
	r := NewRegistry()
	r.MustRegister(&stubReactor{stubAdapter{name: models.ProviderDiscord}})
	r.MustRegister(&stubAdapter{name: models.ProviderTelegram})

	_, err := r.Reactor(models.ProviderDiscord)
	require.NoError(t, err)

	_, err = r.Reactor(models.ProviderTelegram)
	var notSupported *NotSupportedError
	require.ErrorAs(t, err, &notSupported)
	assert.Equal(t, "reactions", notSupported.Capability)
}

func TestThreadCreatorCapabilityMissing(t *testing.T) {
	r := NewRegistry()
	r.MustRegister(&stubAdapter{name: models.ProviderDiscord})

	_, err := r.ThreadCreator(models.ProviderDiscord)

	var notSupported *NotSupportedError
	require.ErrorAs(t, err, &notSupported)
	assert.Equal(t, "threads", notSupported.Capability)
}

func TestMustRegisterPanicsOnDuplicate(t *testing.T) {
	r := NewRegistry()
	r.MustRegister(&stubAdapter{name: models.ProviderDiscord})

	assert.Panics(t, func() {
		r.MustRegister(&stubAdapter{name: models.ProviderDiscord})
	})
}
