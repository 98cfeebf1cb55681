// Package provider defines the outbound surface the sync engine drives
// against external chat platforms. Each platform ships an Adapter; optional
// capabilities are separate interfaces discovered by type assertion.
package provider

import (
	"context"

	"github.com/hazelchat/hazelsync/internal/models"
)

// OutboundMessage is the normalized payload for creating an external message.
type OutboundMessage struct {
	ChannelID string
	Content   string
	// ThreadID posts into an existing external thread when set.
	ThreadID string
	// ReplyToID references the external message being replied to when set.
	ReplyToID string
}

// CreatedMessage is what the platform reports back after a create.
type CreatedMessage struct {
	ID       string
	ThreadID string
}

// Adapter is the minimal interface every provider implements.
type Adapter interface {
	Provider() models.Provider
	CreateMessage(ctx context.Context, msg OutboundMessage) (CreatedMessage, error)
	UpdateMessage(ctx context.Context, channelID, messageID, content string) error
	DeleteMessage(ctx context.Context, channelID, messageID string) error
}

// Reactor mirrors emoji reactions onto external messages.
type Reactor interface {
	AddReaction(ctx context.Context, channelID, messageID, emoji string) error
	RemoveReaction(ctx context.Context, channelID, messageID, emoji string) error
}

// ThreadCreator opens a platform thread rooted at an external message and
// returns the new thread id.
type ThreadCreator interface {
	CreateThread(ctx context.Context, channelID, messageID, name string) (string, error)
}
