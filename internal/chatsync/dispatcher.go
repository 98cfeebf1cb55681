package chatsync

import (
	"context"
	"errors"
	"log/slog"

	"github.com/hazelchat/hazelsync/internal/models"
	"github.com/hazelchat/hazelsync/internal/store"
)

// Syncer is the outbound half of the worker, as the dispatcher drives it.
type Syncer interface {
	SyncMessageCreate(ctx context.Context, in OutboundMessageInput) (Result, error)
	SyncMessageUpdate(ctx context.Context, in OutboundMessageInput) (Result, error)
	SyncMessageDelete(ctx context.Context, in OutboundMessageInput) (Result, error)
	SyncReactionAdd(ctx context.Context, in OutboundReactionInput) (Result, error)
	SyncReactionRemove(ctx context.Context, in OutboundReactionInput) (Result, error)
	SyncThreadCreate(ctx context.Context, in OutboundThreadInput) (Result, error)
}

// Dispatcher fans one Hazel-side event out to every connection whose channel
// link carries it outward. One connection failing never stops the others;
// the shared dedupe key keeps re-dispatch harmless because each connection
// holds its own receipt under that key.
type Dispatcher struct {
	log      *slog.Logger
	messages MessageRepo
	links    ChannelLinkRepo
	syncer   Syncer
}

func NewDispatcher(log *slog.Logger, messages MessageRepo, links ChannelLinkRepo, syncer Syncer) *Dispatcher {
	return &Dispatcher{
		log:      log.With(slog.String("component", "dispatcher")),
		messages: messages,
		links:    links,
		syncer:   syncer,
	}
}

// SyncMessageCreateToAll mirrors a new Hazel message to every outbound
// target of its channel for the given provider.
func (d *Dispatcher) SyncMessageCreateToAll(ctx context.Context, provider models.Provider, hazelMessageID, dedupeKey string) (FanOutResult, error) {
	return d.fanOut(ctx, provider, hazelMessageID, func(ctx context.Context, connID string) (Result, error) {
		return d.syncer.SyncMessageCreate(ctx, OutboundMessageInput{
			SyncConnectionID: connID,
			HazelMessageID:   hazelMessageID,
			DedupeKey:        dedupeKey,
		})
	})
}

// SyncMessageUpdateToAll pushes a Hazel edit to every outbound target.
func (d *Dispatcher) SyncMessageUpdateToAll(ctx context.Context, provider models.Provider, hazelMessageID, dedupeKey string) (FanOutResult, error) {
	return d.fanOut(ctx, provider, hazelMessageID, func(ctx context.Context, connID string) (Result, error) {
		return d.syncer.SyncMessageUpdate(ctx, OutboundMessageInput{
			SyncConnectionID: connID,
			HazelMessageID:   hazelMessageID,
			DedupeKey:        dedupeKey,
		})
	})
}

// SyncMessageDeleteToAll deletes the external mirrors of a Hazel message.
func (d *Dispatcher) SyncMessageDeleteToAll(ctx context.Context, provider models.Provider, hazelMessageID, dedupeKey string) (FanOutResult, error) {
	return d.fanOut(ctx, provider, hazelMessageID, func(ctx context.Context, connID string) (Result, error) {
		return d.syncer.SyncMessageDelete(ctx, OutboundMessageInput{
			SyncConnectionID: connID,
			HazelMessageID:   hazelMessageID,
			DedupeKey:        dedupeKey,
		})
	})
}

// SyncReactionAddToAll mirrors a Hazel reaction to every outbound target.
func (d *Dispatcher) SyncReactionAddToAll(ctx context.Context, provider models.Provider, hazelMessageID, emoji, dedupeKey string) (FanOutResult, error) {
	return d.fanOut(ctx, provider, hazelMessageID, func(ctx context.Context, connID string) (Result, error) {
		return d.syncer.SyncReactionAdd(ctx, OutboundReactionInput{
			SyncConnectionID: connID,
			HazelMessageID:   hazelMessageID,
			Emoji:            emoji,
			DedupeKey:        dedupeKey,
		})
	})
}

// SyncReactionRemoveToAll removes the mirrored reaction everywhere.
func (d *Dispatcher) SyncReactionRemoveToAll(ctx context.Context, provider models.Provider, hazelMessageID, emoji, dedupeKey string) (FanOutResult, error) {
	return d.fanOut(ctx, provider, hazelMessageID, func(ctx context.Context, connID string) (Result, error) {
		return d.syncer.SyncReactionRemove(ctx, OutboundReactionInput{
			SyncConnectionID: connID,
			HazelMessageID:   hazelMessageID,
			Emoji:            emoji,
			DedupeKey:        dedupeKey,
		})
	})
}

// SyncThreadCreateToAll opens external threads rooted at every mirror of the
// Hazel message.
func (d *Dispatcher) SyncThreadCreateToAll(ctx context.Context, provider models.Provider, hazelMessageID, name, dedupeKey string) (FanOutResult, error) {
	return d.fanOut(ctx, provider, hazelMessageID, func(ctx context.Context, connID string) (Result, error) {
		return d.syncer.SyncThreadCreate(ctx, OutboundThreadInput{
			SyncConnectionID: connID,
			HazelMessageID:   hazelMessageID,
			Name:             name,
			DedupeKey:        dedupeKey,
		})
	})
}

// fanOut resolves the message's channel, lists its outbound targets, and
// applies the verb per connection. A vanished message is a no-op: the
// dispatcher often runs behind async delivery and the row may be gone.
func (d *Dispatcher) fanOut(ctx context.Context, provider models.Provider, hazelMessageID string, verb func(ctx context.Context, connID string) (Result, error)) (FanOutResult, error) {
	var result FanOutResult

	msg, err := d.messages.FindByID(ctx, hazelMessageID)
	if errors.Is(err, store.ErrNotFound) {
		d.log.Debug("fan-out for unknown message",
			slog.String("hazel_message_id", hazelMessageID))
		return result, nil
	}
	if err != nil {
		return result, err
	}

	targets, err := d.links.FindActiveOutboundTargets(ctx, msg.ChannelID, provider)
	if err != nil {
		return result, err
	}
	for _, link := range targets {
		if !link.Direction.AllowsOutbound() {
			continue
		}
		if _, err := verb(ctx, link.SyncConnectionID); err != nil {
			result.Failed++
			d.log.Error("fan-out connection",
				slog.String("provider", string(provider)),
				slog.String("sync_connection_id", link.SyncConnectionID),
				slog.String("hazel_message_id", hazelMessageID),
				slog.Any("error", err))
			continue
		}
		result.Synced++
	}
	return result, nil
}
