package chatsync

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/hazelchat/hazelsync/internal/models"
)

// notifyChannel is the Postgres NOTIFY channel Hazel raises domain events
// on. The payload is one JSON messageEvent per notification.
const notifyChannel = "hazel_message_events"

// listenRetryDelay paces reconnect attempts after the listening connection
// drops.
const listenRetryDelay = 2 * time.Second

// Hazel-side event verbs carried in notification payloads.
const (
	eventMessageCreate  = "message_create"
	eventMessageUpdate  = "message_update"
	eventMessageDelete  = "message_delete"
	eventReactionAdd    = "reaction_add"
	eventReactionRemove = "reaction_remove"
	eventThreadCreate   = "thread_create"
)

// messageEvent is the notification payload for one Hazel domain event.
type messageEvent struct {
	Verb      string          `json:"verb"`
	Provider  models.Provider `json:"provider"`
	MessageID string          `json:"message_id"`
	Emoji     string          `json:"emoji,omitempty"`
	Name      string          `json:"name,omitempty"`
	DedupeKey string          `json:"dedupe_key,omitempty"`
}

// eventRouter is the dispatcher surface the listener routes into.
type eventRouter interface {
	SyncMessageCreateToAll(ctx context.Context, provider models.Provider, hazelMessageID, dedupeKey string) (FanOutResult, error)
	SyncMessageUpdateToAll(ctx context.Context, provider models.Provider, hazelMessageID, dedupeKey string) (FanOutResult, error)
	SyncMessageDeleteToAll(ctx context.Context, provider models.Provider, hazelMessageID, dedupeKey string) (FanOutResult, error)
	SyncReactionAddToAll(ctx context.Context, provider models.Provider, hazelMessageID, emoji, dedupeKey string) (FanOutResult, error)
	SyncReactionRemoveToAll(ctx context.Context, provider models.Provider, hazelMessageID, emoji, dedupeKey string) (FanOutResult, error)
	SyncThreadCreateToAll(ctx context.Context, provider models.Provider, hazelMessageID, name, dedupeKey string) (FanOutResult, error)
}

// EventListener bridges Hazel's LISTEN/NOTIFY stream into the dispatcher.
// It holds one pooled connection on LISTEN and reconnects with a short delay
// whenever that connection dies. A malformed or unknown payload is dropped
// with a warning; fan-out failures are already absorbed per connection by
// the dispatcher.
type EventListener struct {
	log    *slog.Logger
	pool   *pgxpool.Pool
	router eventRouter
}

func NewEventListener(log *slog.Logger, pool *pgxpool.Pool, dispatcher *Dispatcher) *EventListener {
	return &EventListener{
		log:    log.With(slog.String("component", "listener")),
		pool:   pool,
		router: dispatcher,
	}
}

// Run listens until the context ends.
func (l *EventListener) Run(ctx context.Context) error {
	for {
		err := l.listen(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		l.log.Error("listen connection lost", slog.Any("error", err))
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(listenRetryDelay):
		}
	}
}

func (l *EventListener) listen(ctx context.Context) error {
	conn, err := l.pool.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("acquire listen connection: %w", err)
	}
	defer conn.Release()

	if _, err := conn.Exec(ctx, "LISTEN "+notifyChannel); err != nil {
		return fmt.Errorf("listen %s: %w", notifyChannel, err)
	}
	l.log.Info("listening for hazel events", slog.String("channel", notifyChannel))

	for {
		notification, err := conn.Conn().WaitForNotification(ctx)
		if err != nil {
			return fmt.Errorf("wait for notification: %w", err)
		}
		if err := l.handle(ctx, notification.Payload); err != nil {
			l.log.Error("handle hazel event", slog.Any("error", err))
		}
	}
}

// handle parses one notification payload and routes it. Undeliverable
// payloads are dropped so one bad event cannot wedge the stream.
func (l *EventListener) handle(ctx context.Context, payload string) error {
	var event messageEvent
	if err := json.Unmarshal([]byte(payload), &event); err != nil {
		l.log.Warn("malformed event payload", slog.Any("error", err))
		return nil
	}
	if event.Provider == "" || event.MessageID == "" {
		l.log.Warn("incomplete event payload",
			slog.String("verb", event.Verb),
			slog.String("message_id", event.MessageID))
		return nil
	}

	var (
		result FanOutResult
		err    error
	)
	switch event.Verb {
	case eventMessageCreate:
		result, err = l.router.SyncMessageCreateToAll(ctx, event.Provider, event.MessageID, event.DedupeKey)
	case eventMessageUpdate:
		result, err = l.router.SyncMessageUpdateToAll(ctx, event.Provider, event.MessageID, event.DedupeKey)
	case eventMessageDelete:
		result, err = l.router.SyncMessageDeleteToAll(ctx, event.Provider, event.MessageID, event.DedupeKey)
	case eventReactionAdd:
		result, err = l.router.SyncReactionAddToAll(ctx, event.Provider, event.MessageID, event.Emoji, event.DedupeKey)
	case eventReactionRemove:
		result, err = l.router.SyncReactionRemoveToAll(ctx, event.Provider, event.MessageID, event.Emoji, event.DedupeKey)
	case eventThreadCreate:
		result, err = l.router.SyncThreadCreateToAll(ctx, event.Provider, event.MessageID, event.Name, event.DedupeKey)
	default:
		l.log.Warn("unknown event verb", slog.String("verb", event.Verb))
		return nil
	}
	if err != nil {
		return fmt.Errorf("dispatch %s: %w", event.Verb, err)
	}
	l.log.Debug("dispatched hazel event",
		slog.String("verb", event.Verb),
		slog.String("message_id", event.MessageID),
		slog.Int("synced", result.Synced),
		slog.Int("failed", result.Failed))
	return nil
}
