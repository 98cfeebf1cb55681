// Package chatsync is the provider-agnostic sync engine. Its verbs mirror
// messages, reactions, and threads between Hazel channels and external chat
// providers, each one fenced by a dedupe-receipt claim so retries and
// redeliveries have at most one effect.
package chatsync

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"github.com/hazelchat/hazelsync/internal/identity"
	"github.com/hazelchat/hazelsync/internal/models"
	"github.com/hazelchat/hazelsync/internal/provider"
	"github.com/hazelchat/hazelsync/internal/receipt"
	"github.com/hazelchat/hazelsync/internal/store"
)

// defaultMaxPerChannel bounds a backfill pass when the caller passes no
// limit of its own.
const defaultMaxPerChannel = 50

// maxThreadNameLength matches the tightest provider limit (Discord: 100).
const maxThreadNameLength = 100

// ConnectionRepo is the slice of the connection store the engine reads.
type ConnectionRepo interface {
	FindByID(ctx context.Context, id string) (models.SyncConnection, error)
	FindActiveByProvider(ctx context.Context, provider models.Provider) ([]models.SyncConnection, error)
	UpdateLastSyncedAt(ctx context.Context, id string) error
}

// ChannelLinkRepo resolves and heartbeats channel links.
type ChannelLinkRepo interface {
	FindByHazelChannel(ctx context.Context, syncConnectionID, hazelChannelID string) (models.SyncChannelLink, error)
	FindByExternalChannel(ctx context.Context, syncConnectionID, externalChannelID string) (models.SyncChannelLink, error)
	FindActiveBySyncConnection(ctx context.Context, syncConnectionID string) ([]models.SyncChannelLink, error)
	FindActiveOutboundTargets(ctx context.Context, hazelChannelID string, provider models.Provider) ([]models.SyncChannelLink, error)
	UpdateLastSyncedAt(ctx context.Context, id string) error
}

// MessageLinkRepo owns the per-message identity map.
type MessageLinkRepo interface {
	FindByHazelMessage(ctx context.Context, channelLinkID, hazelMessageID string) (models.SyncMessageLink, error)
	FindByExternalMessage(ctx context.Context, channelLinkID, externalMessageID string) (models.SyncMessageLink, error)
	Insert(ctx context.Context, params store.InsertMessageLinkParams) (models.SyncMessageLink, error)
	SetExternalThread(ctx context.Context, id, externalThreadID string) error
	UpdateLastSyncedAt(ctx context.Context, id string) error
	SoftDelete(ctx context.Context, id string) error
}

// MessageRepo reads and writes internal messages under an actor.
type MessageRepo interface {
	FindByID(ctx context.Context, id string) (models.Message, error)
	Insert(ctx context.Context, actor models.Actor, params store.InsertMessageParams) (models.Message, error)
	UpdateContent(ctx context.Context, actor models.Actor, id, content string) (models.Message, error)
	SoftDelete(ctx context.Context, actor models.Actor, id string) error
	FindUnsyncedByChannel(ctx context.Context, hazelChannelID, channelLinkID string, limit int) ([]models.Message, error)
}

// ReactionRepo mirrors external reactions onto internal messages.
type ReactionRepo interface {
	Upsert(ctx context.Context, messageID, userID, emoji string) error
	SoftDelete(ctx context.Context, messageID, userID, emoji string) error
}

// ReceiptLedger fences every verb with claim/commit.
type ReceiptLedger interface {
	Claim(ctx context.Context, claim receipt.Claim) (bool, error)
	Commit(ctx context.Context, commit receipt.Commit) error
}

// AuthorResolver maps external authors onto internal users.
type AuthorResolver interface {
	ResolveAuthor(ctx context.Context, provider models.Provider, organizationID string, author identity.ExternalAuthor) (string, error)
}

// BotProvisioner supplies the bridge account for unattributed events.
type BotProvisioner interface {
	GetOrCreateBotUser(ctx context.Context, provider models.Provider, organizationID string) (string, error)
}

// Deps bundles the worker's collaborators.
type Deps struct {
	Connections  ConnectionRepo
	ChannelLinks ChannelLinkRepo
	MessageLinks MessageLinkRepo
	Messages     MessageRepo
	Reactions    ReactionRepo
	Receipts     ReceiptLedger
	Authors      AuthorResolver
	Bots         BotProvisioner
}

// Worker executes sync verbs against one database and the adapter registry.
// It is safe for concurrent use; every verb is a sequential pipeline whose
// only cross-invocation coordination is the receipt ledger's unique key.
type Worker struct {
	log          *slog.Logger
	registry     *provider.Registry
	connections  ConnectionRepo
	channelLinks ChannelLinkRepo
	messageLinks MessageLinkRepo
	messages     MessageRepo
	reactions    ReactionRepo
	receipts     ReceiptLedger
	authors      AuthorResolver
	bots         BotProvisioner
}

func NewWorker(log *slog.Logger, registry *provider.Registry, deps Deps) *Worker {
	return &Worker{
		log:          log.With(slog.String("component", "sync")),
		registry:     registry,
		connections:  deps.Connections,
		channelLinks: deps.ChannelLinks,
		messageLinks: deps.MessageLinks,
		messages:     deps.Messages,
		reactions:    deps.Reactions,
		receipts:     deps.Receipts,
		authors:      deps.Authors,
		bots:         deps.Bots,
	}
}

// IngestMessageInput describes one external message event. Create uses every
// field; update needs the ids and content; delete needs only the ids.
type IngestMessageInput struct {
	SyncConnectionID          string
	Provider                  models.Provider
	ExternalChannelID         string
	ExternalMessageID         string
	Content                   string
	ExternalAuthorID          string
	ExternalAuthorDisplayName string
	ExternalAuthorAvatarURL   string
	ExternalThreadID          string
	DedupeKey                 string
}

// IngestReactionInput describes one external reaction event.
type IngestReactionInput struct {
	SyncConnectionID          string
	Provider                  models.Provider
	ExternalChannelID         string
	ExternalMessageID         string
	Emoji                     string
	ExternalAuthorID          string
	ExternalAuthorDisplayName string
	ExternalAuthorAvatarURL   string
	DedupeKey                 string
}

// OutboundMessageInput keys an outbound verb to one Hazel message.
type OutboundMessageInput struct {
	SyncConnectionID string
	HazelMessageID   string
	DedupeKey        string
}

// OutboundReactionInput mirrors one Hazel reaction outward.
type OutboundReactionInput struct {
	SyncConnectionID string
	HazelMessageID   string
	Emoji            string
	DedupeKey        string
}

// OutboundThreadInput opens an external thread rooted at a mirrored message.
type OutboundThreadInput struct {
	SyncConnectionID string
	HazelMessageID   string
	Name             string
	DedupeKey        string
}

// Receipt payloads. Only the hash persists; the shapes exist so retried
// commits of the same outcome hash identically.
type messagePayload struct {
	HazelMessageID    string `json:"hazel_message_id,omitempty"`
	ExternalMessageID string `json:"external_message_id,omitempty"`
}

type reactionPayload struct {
	HazelMessageID    string `json:"hazel_message_id,omitempty"`
	ExternalMessageID string `json:"external_message_id,omitempty"`
	Emoji             string `json:"emoji"`
}

type threadPayload struct {
	HazelMessageID   string `json:"hazel_message_id"`
	ExternalThreadID string `json:"external_thread_id,omitempty"`
}

// IngestMessageCreate mirrors an external message into the linked Hazel
// channel: resolve link and author, insert the internal message, record the
// pair. A duplicate dedupe key short-circuits to {deduped}; an existing pair
// commits ignored and reports {already_linked}.
func (w *Worker) IngestMessageCreate(ctx context.Context, in IngestMessageInput) (Result, error) {
	key := in.DedupeKey
	if key == "" {
		key = externalMessageKey(verbCreate, in.ExternalMessageID)
	}
	claim, won, err := w.claim(ctx, in.SyncConnectionID, models.SourceExternal, key)
	if err != nil {
		return Result{}, err
	}
	if !won {
		return Result{Status: StatusDeduped}, nil
	}
	payload := messagePayload{ExternalMessageID: in.ExternalMessageID}

	conn, skip, err := w.activeConnection(ctx, claim, in.Provider, payload)
	if err != nil {
		return Result{}, err
	}
	if skip != nil {
		return *skip, nil
	}
	if _, err := w.registry.Get(conn.Provider); err != nil {
		return Result{}, w.fail(ctx, claim, payload, err)
	}
	link, err := w.ingressLink(ctx, &claim, conn, in.ExternalChannelID, payload)
	if err != nil {
		return Result{}, err
	}

	if _, err := w.messageLinks.FindByExternalMessage(ctx, link.ID, in.ExternalMessageID); err == nil {
		if err := w.commit(ctx, claim, models.ReceiptStatusIgnored, payload); err != nil {
			return Result{}, err
		}
		return Result{Status: StatusAlreadyLinked}, nil
	} else if !errors.Is(err, store.ErrNotFound) {
		return Result{}, err
	}

	authorID, err := w.resolveAuthor(ctx, conn, in.ExternalAuthorID, in.ExternalAuthorDisplayName, in.ExternalAuthorAvatarURL)
	if err != nil {
		return Result{}, err
	}
	msg, err := w.messages.Insert(ctx, models.SystemActor, store.InsertMessageParams{
		ChannelID: link.HazelChannelID,
		AuthorID:  authorID,
		Content:   in.Content,
	})
	if err != nil {
		return Result{}, err
	}
	if _, err := w.messageLinks.Insert(ctx, store.InsertMessageLinkParams{
		ChannelLinkID:     link.ID,
		HazelMessageID:    msg.ID,
		ExternalMessageID: in.ExternalMessageID,
		Source:            models.SourceExternal,
		ExternalThreadID:  in.ExternalThreadID,
	}); err != nil {
		return Result{}, err
	}

	payload.HazelMessageID = msg.ID
	if err := w.commit(ctx, claim, models.ReceiptStatusProcessed, payload); err != nil {
		return Result{}, err
	}
	w.heartbeat(ctx, conn.ID, link.ID)
	w.log.Info("mirrored external message",
		slog.String("sync_connection_id", conn.ID),
		slog.String("external_message_id", in.ExternalMessageID),
		slog.String("hazel_message_id", msg.ID))
	return Result{Status: StatusCreated, HazelMessageID: msg.ID, ExternalMessageID: in.ExternalMessageID}, nil
}

// IngestMessageUpdate applies an external edit to the mirrored internal
// message. An event for a message that was never mirrored commits ignored.
func (w *Worker) IngestMessageUpdate(ctx context.Context, in IngestMessageInput) (Result, error) {
	key := in.DedupeKey
	if key == "" {
		key = externalMessageKey(verbUpdate, in.ExternalMessageID)
	}
	claim, won, err := w.claim(ctx, in.SyncConnectionID, models.SourceExternal, key)
	if err != nil {
		return Result{}, err
	}
	if !won {
		return Result{Status: StatusDeduped}, nil
	}
	payload := messagePayload{ExternalMessageID: in.ExternalMessageID}

	conn, skip, err := w.activeConnection(ctx, claim, in.Provider, payload)
	if err != nil {
		return Result{}, err
	}
	if skip != nil {
		return *skip, nil
	}
	if _, err := w.registry.Get(conn.Provider); err != nil {
		return Result{}, w.fail(ctx, claim, payload, err)
	}
	link, err := w.ingressLink(ctx, &claim, conn, in.ExternalChannelID, payload)
	if err != nil {
		return Result{}, err
	}

	mlink, err := w.messageLinks.FindByExternalMessage(ctx, link.ID, in.ExternalMessageID)
	if errors.Is(err, store.ErrNotFound) {
		if err := w.commit(ctx, claim, models.ReceiptStatusIgnored, payload); err != nil {
			return Result{}, err
		}
		return Result{Status: StatusIgnoredMissingLink}, nil
	}
	if err != nil {
		return Result{}, err
	}

	if _, err := w.messages.UpdateContent(ctx, models.SystemActor, mlink.HazelMessageID, in.Content); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return Result{}, w.fail(ctx, claim, payload, &MessageNotFoundError{MessageID: mlink.HazelMessageID})
		}
		return Result{}, err
	}

	payload.HazelMessageID = mlink.HazelMessageID
	if err := w.commit(ctx, claim, models.ReceiptStatusProcessed, payload); err != nil {
		return Result{}, err
	}
	w.heartbeat(ctx, conn.ID, link.ID)
	w.touchMessageLink(ctx, mlink.ID)
	return Result{Status: StatusUpdated, HazelMessageID: mlink.HazelMessageID, ExternalMessageID: in.ExternalMessageID}, nil
}

// IngestMessageDelete soft-deletes the mirrored internal message. The
// message link survives on purpose: a later outbound delete still needs the
// mapping, and the adapter treats the external side being gone as success.
func (w *Worker) IngestMessageDelete(ctx context.Context, in IngestMessageInput) (Result, error) {
	key := in.DedupeKey
	if key == "" {
		key = externalMessageKey(verbDelete, in.ExternalMessageID)
	}
	claim, won, err := w.claim(ctx, in.SyncConnectionID, models.SourceExternal, key)
	if err != nil {
		return Result{}, err
	}
	if !won {
		return Result{Status: StatusDeduped}, nil
	}
	payload := messagePayload{ExternalMessageID: in.ExternalMessageID}

	conn, skip, err := w.activeConnection(ctx, claim, in.Provider, payload)
	if err != nil {
		return Result{}, err
	}
	if skip != nil {
		return *skip, nil
	}
	if _, err := w.registry.Get(conn.Provider); err != nil {
		return Result{}, w.fail(ctx, claim, payload, err)
	}
	link, err := w.ingressLink(ctx, &claim, conn, in.ExternalChannelID, payload)
	if err != nil {
		return Result{}, err
	}

	mlink, err := w.messageLinks.FindByExternalMessage(ctx, link.ID, in.ExternalMessageID)
	if errors.Is(err, store.ErrNotFound) {
		if err := w.commit(ctx, claim, models.ReceiptStatusIgnored, payload); err != nil {
			return Result{}, err
		}
		return Result{Status: StatusIgnoredMissingLink}, nil
	}
	if err != nil {
		return Result{}, err
	}

	if err := w.messages.SoftDelete(ctx, models.SystemActor, mlink.HazelMessageID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return Result{}, w.fail(ctx, claim, payload, &MessageNotFoundError{MessageID: mlink.HazelMessageID})
		}
		return Result{}, err
	}

	payload.HazelMessageID = mlink.HazelMessageID
	if err := w.commit(ctx, claim, models.ReceiptStatusProcessed, payload); err != nil {
		return Result{}, err
	}
	w.heartbeat(ctx, conn.ID, link.ID)
	return Result{Status: StatusDeleted, HazelMessageID: mlink.HazelMessageID, ExternalMessageID: in.ExternalMessageID}, nil
}

// IngestReactionAdd mirrors an external reaction onto the internal message,
// resolving the reactor to a shadow user like any other author.
func (w *Worker) IngestReactionAdd(ctx context.Context, in IngestReactionInput) (Result, error) {
	return w.ingestReaction(ctx, in, verbAdd)
}

// IngestReactionRemove retires the mirrored reaction.
func (w *Worker) IngestReactionRemove(ctx context.Context, in IngestReactionInput) (Result, error) {
	return w.ingestReaction(ctx, in, verbRemove)
}

func (w *Worker) ingestReaction(ctx context.Context, in IngestReactionInput, verb string) (Result, error) {
	key := in.DedupeKey
	if key == "" {
		key = externalReactionKey(verb, in.ExternalMessageID, in.ExternalAuthorID, in.Emoji)
	}
	claim, won, err := w.claim(ctx, in.SyncConnectionID, models.SourceExternal, key)
	if err != nil {
		return Result{}, err
	}
	if !won {
		return Result{Status: StatusDeduped}, nil
	}
	payload := reactionPayload{ExternalMessageID: in.ExternalMessageID, Emoji: in.Emoji}

	conn, skip, err := w.activeConnection(ctx, claim, in.Provider, payload)
	if err != nil {
		return Result{}, err
	}
	if skip != nil {
		return *skip, nil
	}
	if _, err := w.registry.Get(conn.Provider); err != nil {
		return Result{}, w.fail(ctx, claim, payload, err)
	}
	link, err := w.ingressLink(ctx, &claim, conn, in.ExternalChannelID, payload)
	if err != nil {
		return Result{}, err
	}

	mlink, err := w.messageLinks.FindByExternalMessage(ctx, link.ID, in.ExternalMessageID)
	if errors.Is(err, store.ErrNotFound) {
		if err := w.commit(ctx, claim, models.ReceiptStatusIgnored, payload); err != nil {
			return Result{}, err
		}
		return Result{Status: StatusIgnoredMissingLink}, nil
	}
	if err != nil {
		return Result{}, err
	}

	authorID, err := w.resolveAuthor(ctx, conn, in.ExternalAuthorID, in.ExternalAuthorDisplayName, in.ExternalAuthorAvatarURL)
	if err != nil {
		return Result{}, err
	}

	status := StatusCreated
	if verb == verbRemove {
		err = w.reactions.SoftDelete(ctx, mlink.HazelMessageID, authorID, in.Emoji)
		status = StatusDeleted
	} else {
		err = w.reactions.Upsert(ctx, mlink.HazelMessageID, authorID, in.Emoji)
	}
	if err != nil {
		return Result{}, err
	}

	payload.HazelMessageID = mlink.HazelMessageID
	if err := w.commit(ctx, claim, models.ReceiptStatusProcessed, payload); err != nil {
		return Result{}, err
	}
	w.heartbeat(ctx, conn.ID, link.ID)
	return Result{Status: status, HazelMessageID: mlink.HazelMessageID, ExternalMessageID: in.ExternalMessageID}, nil
}

// SyncMessageCreate mirrors a Hazel message outward through the
// connection's adapter and records the pair. The adapter call happens only
// after the claim, so a crash between the two is absorbed by the ledger.
func (w *Worker) SyncMessageCreate(ctx context.Context, in OutboundMessageInput) (Result, error) {
	key := in.DedupeKey
	if key == "" {
		key = hazelMessageKey(verbCreate, in.HazelMessageID)
	}
	claim, won, err := w.claim(ctx, in.SyncConnectionID, models.SourceHazel, key)
	if err != nil {
		return Result{}, err
	}
	if !won {
		return Result{Status: StatusDeduped}, nil
	}
	payload := messagePayload{HazelMessageID: in.HazelMessageID}

	conn, skip, err := w.activeConnection(ctx, claim, "", payload)
	if err != nil {
		return Result{}, err
	}
	if skip != nil {
		return *skip, nil
	}
	adapter, err := w.registry.Get(conn.Provider)
	if err != nil {
		return Result{}, w.fail(ctx, claim, payload, err)
	}

	msg, err := w.loadMessage(ctx, claim, in.HazelMessageID, payload)
	if err != nil {
		return Result{}, err
	}
	link, err := w.outboundLink(ctx, &claim, conn, msg.ChannelID, payload)
	if err != nil {
		return Result{}, err
	}

	if _, err := w.messageLinks.FindByHazelMessage(ctx, link.ID, msg.ID); err == nil {
		if err := w.commit(ctx, claim, models.ReceiptStatusIgnored, payload); err != nil {
			return Result{}, err
		}
		return Result{Status: StatusAlreadyLinked}, nil
	} else if !errors.Is(err, store.ErrNotFound) {
		return Result{}, err
	}

	created, err := adapter.CreateMessage(ctx, provider.OutboundMessage{
		ChannelID: link.ExternalChannelID,
		Content:   msg.Content,
	})
	if err != nil {
		return Result{}, w.fail(ctx, claim, payload, err)
	}
	if _, err := w.messageLinks.Insert(ctx, store.InsertMessageLinkParams{
		ChannelLinkID:     link.ID,
		HazelMessageID:    msg.ID,
		ExternalMessageID: created.ID,
		Source:            models.SourceHazel,
		ExternalThreadID:  created.ThreadID,
	}); err != nil {
		return Result{}, err
	}

	payload.ExternalMessageID = created.ID
	if err := w.commit(ctx, claim, models.ReceiptStatusProcessed, payload); err != nil {
		return Result{}, err
	}
	w.heartbeat(ctx, conn.ID, link.ID)
	w.log.Info("mirrored hazel message",
		slog.String("sync_connection_id", conn.ID),
		slog.String("hazel_message_id", msg.ID),
		slog.String("external_message_id", created.ID))
	return Result{Status: StatusSynced, HazelMessageID: msg.ID, ExternalMessageID: created.ID}, nil
}

// SyncMessageUpdate pushes a Hazel edit to the external mirror. A message
// that was never mirrored commits ignored.
func (w *Worker) SyncMessageUpdate(ctx context.Context, in OutboundMessageInput) (Result, error) {
	key := in.DedupeKey
	if key == "" {
		key = hazelMessageKey(verbUpdate, in.HazelMessageID)
	}
	claim, won, err := w.claim(ctx, in.SyncConnectionID, models.SourceHazel, key)
	if err != nil {
		return Result{}, err
	}
	if !won {
		return Result{Status: StatusDeduped}, nil
	}
	payload := messagePayload{HazelMessageID: in.HazelMessageID}

	conn, skip, err := w.activeConnection(ctx, claim, "", payload)
	if err != nil {
		return Result{}, err
	}
	if skip != nil {
		return *skip, nil
	}
	adapter, err := w.registry.Get(conn.Provider)
	if err != nil {
		return Result{}, w.fail(ctx, claim, payload, err)
	}

	msg, err := w.loadMessage(ctx, claim, in.HazelMessageID, payload)
	if err != nil {
		return Result{}, err
	}
	link, err := w.outboundLink(ctx, &claim, conn, msg.ChannelID, payload)
	if err != nil {
		return Result{}, err
	}

	mlink, err := w.messageLinks.FindByHazelMessage(ctx, link.ID, msg.ID)
	if errors.Is(err, store.ErrNotFound) {
		if err := w.commit(ctx, claim, models.ReceiptStatusIgnored, payload); err != nil {
			return Result{}, err
		}
		return Result{Status: StatusIgnoredMissingLink}, nil
	}
	if err != nil {
		return Result{}, err
	}

	if err := adapter.UpdateMessage(ctx, link.ExternalChannelID, mlink.ExternalMessageID, msg.Content); err != nil {
		return Result{}, w.fail(ctx, claim, payload, err)
	}

	payload.ExternalMessageID = mlink.ExternalMessageID
	if err := w.commit(ctx, claim, models.ReceiptStatusProcessed, payload); err != nil {
		return Result{}, err
	}
	w.heartbeat(ctx, conn.ID, link.ID)
	w.touchMessageLink(ctx, mlink.ID)
	return Result{Status: StatusUpdated, HazelMessageID: msg.ID, ExternalMessageID: mlink.ExternalMessageID}, nil
}

// SyncMessageDelete deletes the external mirror and retires the message
// link. This is the one verb that soft-deletes the link; ingress delete
// leaves it alive for exactly this late call.
func (w *Worker) SyncMessageDelete(ctx context.Context, in OutboundMessageInput) (Result, error) {
	key := in.DedupeKey
	if key == "" {
		key = hazelMessageKey(verbDelete, in.HazelMessageID)
	}
	claim, won, err := w.claim(ctx, in.SyncConnectionID, models.SourceHazel, key)
	if err != nil {
		return Result{}, err
	}
	if !won {
		return Result{Status: StatusDeduped}, nil
	}
	payload := messagePayload{HazelMessageID: in.HazelMessageID}

	conn, skip, err := w.activeConnection(ctx, claim, "", payload)
	if err != nil {
		return Result{}, err
	}
	if skip != nil {
		return *skip, nil
	}
	adapter, err := w.registry.Get(conn.Provider)
	if err != nil {
		return Result{}, w.fail(ctx, claim, payload, err)
	}

	// FindByID keeps returning soft-deleted rows: the Hazel side is already
	// gone by the time delete fan-out runs, and we still need its channel.
	msg, err := w.loadMessage(ctx, claim, in.HazelMessageID, payload)
	if err != nil {
		return Result{}, err
	}
	link, err := w.outboundLink(ctx, &claim, conn, msg.ChannelID, payload)
	if err != nil {
		return Result{}, err
	}

	mlink, err := w.messageLinks.FindByHazelMessage(ctx, link.ID, msg.ID)
	if errors.Is(err, store.ErrNotFound) {
		if err := w.commit(ctx, claim, models.ReceiptStatusIgnored, payload); err != nil {
			return Result{}, err
		}
		return Result{Status: StatusIgnoredMissingLink}, nil
	}
	if err != nil {
		return Result{}, err
	}

	if err := adapter.DeleteMessage(ctx, link.ExternalChannelID, mlink.ExternalMessageID); err != nil {
		return Result{}, w.fail(ctx, claim, payload, err)
	}
	if err := w.messageLinks.SoftDelete(ctx, mlink.ID); err != nil {
		return Result{}, err
	}

	payload.ExternalMessageID = mlink.ExternalMessageID
	if err := w.commit(ctx, claim, models.ReceiptStatusProcessed, payload); err != nil {
		return Result{}, err
	}
	w.heartbeat(ctx, conn.ID, link.ID)
	return Result{Status: StatusDeleted, HazelMessageID: msg.ID, ExternalMessageID: mlink.ExternalMessageID}, nil
}

// SyncReactionAdd mirrors a Hazel reaction outward. Providers without
// reaction support fail with a capability error.
func (w *Worker) SyncReactionAdd(ctx context.Context, in OutboundReactionInput) (Result, error) {
	return w.syncReaction(ctx, in, verbAdd)
}

// SyncReactionRemove removes the mirrored reaction from the external side.
func (w *Worker) SyncReactionRemove(ctx context.Context, in OutboundReactionInput) (Result, error) {
	return w.syncReaction(ctx, in, verbRemove)
}

func (w *Worker) syncReaction(ctx context.Context, in OutboundReactionInput, verb string) (Result, error) {
	key := in.DedupeKey
	if key == "" {
		key = hazelReactionKey(verb, in.HazelMessageID, in.Emoji)
	}
	claim, won, err := w.claim(ctx, in.SyncConnectionID, models.SourceHazel, key)
	if err != nil {
		return Result{}, err
	}
	if !won {
		return Result{Status: StatusDeduped}, nil
	}
	payload := reactionPayload{HazelMessageID: in.HazelMessageID, Emoji: in.Emoji}

	conn, skip, err := w.activeConnection(ctx, claim, "", payload)
	if err != nil {
		return Result{}, err
	}
	if skip != nil {
		return *skip, nil
	}
	reactor, err := w.registry.Reactor(conn.Provider)
	if err != nil {
		return Result{}, w.fail(ctx, claim, payload, err)
	}

	msg, err := w.loadMessage(ctx, claim, in.HazelMessageID, payload)
	if err != nil {
		return Result{}, err
	}
	link, err := w.outboundLink(ctx, &claim, conn, msg.ChannelID, payload)
	if err != nil {
		return Result{}, err
	}

	mlink, err := w.messageLinks.FindByHazelMessage(ctx, link.ID, msg.ID)
	if errors.Is(err, store.ErrNotFound) {
		if err := w.commit(ctx, claim, models.ReceiptStatusIgnored, payload); err != nil {
			return Result{}, err
		}
		return Result{Status: StatusIgnoredMissingLink}, nil
	}
	if err != nil {
		return Result{}, err
	}

	if verb == verbRemove {
		err = reactor.RemoveReaction(ctx, link.ExternalChannelID, mlink.ExternalMessageID, in.Emoji)
	} else {
		err = reactor.AddReaction(ctx, link.ExternalChannelID, mlink.ExternalMessageID, in.Emoji)
	}
	if err != nil {
		return Result{}, w.fail(ctx, claim, payload, err)
	}

	payload.ExternalMessageID = mlink.ExternalMessageID
	if err := w.commit(ctx, claim, models.ReceiptStatusProcessed, payload); err != nil {
		return Result{}, err
	}
	w.heartbeat(ctx, conn.ID, link.ID)
	return Result{Status: StatusSynced, HazelMessageID: msg.ID, ExternalMessageID: mlink.ExternalMessageID}, nil
}

// SyncThreadCreate opens an external thread rooted at the mirror of a Hazel
// message and records the thread id on the message link.
func (w *Worker) SyncThreadCreate(ctx context.Context, in OutboundThreadInput) (Result, error) {
	key := in.DedupeKey
	if key == "" {
		key = hazelThreadKey(in.HazelMessageID)
	}
	claim, won, err := w.claim(ctx, in.SyncConnectionID, models.SourceHazel, key)
	if err != nil {
		return Result{}, err
	}
	if !won {
		return Result{Status: StatusDeduped}, nil
	}
	payload := threadPayload{HazelMessageID: in.HazelMessageID}

	conn, skip, err := w.activeConnection(ctx, claim, "", payload)
	if err != nil {
		return Result{}, err
	}
	if skip != nil {
		return *skip, nil
	}
	creator, err := w.registry.ThreadCreator(conn.Provider)
	if err != nil {
		return Result{}, w.fail(ctx, claim, payload, err)
	}

	msg, err := w.loadMessage(ctx, claim, in.HazelMessageID, payload)
	if err != nil {
		return Result{}, err
	}
	link, err := w.outboundLink(ctx, &claim, conn, msg.ChannelID, payload)
	if err != nil {
		return Result{}, err
	}

	mlink, err := w.messageLinks.FindByHazelMessage(ctx, link.ID, msg.ID)
	if errors.Is(err, store.ErrNotFound) {
		if err := w.commit(ctx, claim, models.ReceiptStatusIgnored, payload); err != nil {
			return Result{}, err
		}
		return Result{Status: StatusIgnoredMissingLink}, nil
	}
	if err != nil {
		return Result{}, err
	}

	name := in.Name
	if name == "" {
		name = threadName(msg.Content)
	}
	threadID, err := creator.CreateThread(ctx, link.ExternalChannelID, mlink.ExternalMessageID, name)
	if err != nil {
		return Result{}, w.fail(ctx, claim, payload, err)
	}
	if err := w.messageLinks.SetExternalThread(ctx, mlink.ID, threadID); err != nil {
		return Result{}, err
	}

	payload.ExternalThreadID = threadID
	if err := w.commit(ctx, claim, models.ReceiptStatusProcessed, payload); err != nil {
		return Result{}, err
	}
	w.heartbeat(ctx, conn.ID, link.ID)
	return Result{
		Status:            StatusSynced,
		HazelMessageID:    msg.ID,
		ExternalMessageID: mlink.ExternalMessageID,
		ExternalThreadID:  threadID,
	}, nil
}

// SyncConnection backfills one connection: for every outbound-eligible
// active link, offer never-mirrored live messages to SyncMessageCreate in
// (created_at, id) order, up to maxPerChannel each. Per-message failures
// are logged and counted, never fatal to the pass.
func (w *Worker) SyncConnection(ctx context.Context, syncConnectionID string, maxPerChannel int) (ConnectionSummary, error) {
	if maxPerChannel <= 0 {
		maxPerChannel = defaultMaxPerChannel
	}
	summary := ConnectionSummary{SyncConnectionID: syncConnectionID}

	conn, err := w.connections.FindByID(ctx, syncConnectionID)
	if errors.Is(err, store.ErrNotFound) {
		return summary, &ConnectionNotFoundError{SyncConnectionID: syncConnectionID}
	}
	if err != nil {
		return summary, err
	}
	if conn.Status != models.ConnectionStatusActive {
		return summary, nil
	}

	links, err := w.channelLinks.FindActiveBySyncConnection(ctx, conn.ID)
	if err != nil {
		return summary, err
	}
	for _, link := range links {
		if !link.Direction.AllowsOutbound() {
			continue
		}
		msgs, err := w.messages.FindUnsyncedByChannel(ctx, link.HazelChannelID, link.ID, maxPerChannel)
		if err != nil {
			return summary, err
		}
		for _, msg := range msgs {
			res, err := w.SyncMessageCreate(ctx, OutboundMessageInput{
				SyncConnectionID: conn.ID,
				HazelMessageID:   msg.ID,
			})
			if err != nil {
				summary.Failed++
				w.log.Error("backfill message",
					slog.String("sync_connection_id", conn.ID),
					slog.String("hazel_message_id", msg.ID),
					slog.Any("error", err))
				continue
			}
			if res.Status == StatusSynced {
				summary.Sent++
			} else {
				summary.Skipped++
			}
		}
	}
	return summary, nil
}

func (w *Worker) claim(ctx context.Context, syncConnectionID string, source models.EventSource, dedupeKey string) (receipt.Claim, bool, error) {
	claim := receipt.Claim{
		SyncConnectionID: syncConnectionID,
		Source:           source,
		DedupeKey:        dedupeKey,
	}
	won, err := w.receipts.Claim(ctx, claim)
	return claim, won, err
}

func (w *Worker) commit(ctx context.Context, claim receipt.Claim, status models.ReceiptStatus, payload any) error {
	return w.receipts.Commit(ctx, receipt.Commit{Claim: claim, Status: status, Payload: payload})
}

// fail commits the claim as failed so the dedupe key is terminal and
// observable, then hands the cause back. Domain and adapter failures after
// a won claim route through here; plain database errors do not, leaving the
// row claimed for a reaper.
func (w *Worker) fail(ctx context.Context, claim receipt.Claim, payload any, cause error) error {
	commit := receipt.Commit{
		Claim:        claim,
		Status:       models.ReceiptStatusFailed,
		Payload:      payload,
		ErrorMessage: cause.Error(),
	}
	if err := w.receipts.Commit(ctx, commit); err != nil {
		w.log.Error("commit failed receipt",
			slog.String("dedupe_key", claim.DedupeKey),
			slog.Any("error", err))
	}
	return cause
}

// activeConnection loads the claimed connection and applies the shared
// gates. A non-nil Result is the benign short-circuit, already committed
// ignored. The provider check only applies when the caller knows which
// provider the event came from.
func (w *Worker) activeConnection(ctx context.Context, claim receipt.Claim, expected models.Provider, payload any) (models.SyncConnection, *Result, error) {
	conn, err := w.connections.FindByID(ctx, claim.SyncConnectionID)
	if errors.Is(err, store.ErrNotFound) {
		cause := &ConnectionNotFoundError{SyncConnectionID: claim.SyncConnectionID}
		return models.SyncConnection{}, nil, w.fail(ctx, claim, payload, cause)
	}
	if err != nil {
		return models.SyncConnection{}, nil, err
	}
	if conn.Status != models.ConnectionStatusActive || (expected != "" && conn.Provider != expected) {
		if err := w.commit(ctx, claim, models.ReceiptStatusIgnored, payload); err != nil {
			return models.SyncConnection{}, nil, err
		}
		return conn, &Result{Status: StatusIgnoredConnectionInactive}, nil
	}
	return conn, nil, nil
}

// ingressLink resolves the channel link for an external channel and stamps
// its id onto the claim so later commits carry it.
func (w *Worker) ingressLink(ctx context.Context, claim *receipt.Claim, conn models.SyncConnection, externalChannelID string, payload any) (models.SyncChannelLink, error) {
	link, err := w.channelLinks.FindByExternalChannel(ctx, conn.ID, externalChannelID)
	if errors.Is(err, store.ErrNotFound) {
		cause := &ChannelLinkNotFoundError{SyncConnectionID: conn.ID, ExternalChannelID: externalChannelID}
		return models.SyncChannelLink{}, w.fail(ctx, *claim, payload, cause)
	}
	if err != nil {
		return models.SyncChannelLink{}, err
	}
	claim.ChannelLinkID = link.ID
	return link, nil
}

// outboundLink is ingressLink for the Hazel side of the pair.
func (w *Worker) outboundLink(ctx context.Context, claim *receipt.Claim, conn models.SyncConnection, hazelChannelID string, payload any) (models.SyncChannelLink, error) {
	link, err := w.channelLinks.FindByHazelChannel(ctx, conn.ID, hazelChannelID)
	if errors.Is(err, store.ErrNotFound) {
		cause := &ChannelLinkNotFoundError{SyncConnectionID: conn.ID, HazelChannelID: hazelChannelID}
		return models.SyncChannelLink{}, w.fail(ctx, *claim, payload, cause)
	}
	if err != nil {
		return models.SyncChannelLink{}, err
	}
	claim.ChannelLinkID = link.ID
	return link, nil
}

// loadMessage fetches the Hazel message behind an outbound verb, including
// soft-deleted rows so delete fan-out can still resolve the channel.
func (w *Worker) loadMessage(ctx context.Context, claim receipt.Claim, hazelMessageID string, payload any) (models.Message, error) {
	msg, err := w.messages.FindByID(ctx, hazelMessageID)
	if errors.Is(err, store.ErrNotFound) {
		return models.Message{}, w.fail(ctx, claim, payload, &MessageNotFoundError{MessageID: hazelMessageID})
	}
	if err != nil {
		return models.Message{}, err
	}
	return msg, nil
}

func (w *Worker) resolveAuthor(ctx context.Context, conn models.SyncConnection, externalID, displayName, avatarURL string) (string, error) {
	if externalID == "" {
		return w.bots.GetOrCreateBotUser(ctx, conn.Provider, conn.OrganizationID)
	}
	return w.authors.ResolveAuthor(ctx, conn.Provider, conn.OrganizationID, identity.ExternalAuthor{
		ID:          externalID,
		DisplayName: displayName,
		AvatarURL:   avatarURL,
	})
}

// heartbeat stamps lastSyncedAt on the connection and channel link after a
// processed commit. The effect is already durable, so failures only warn.
func (w *Worker) heartbeat(ctx context.Context, syncConnectionID, channelLinkID string) {
	if err := w.connections.UpdateLastSyncedAt(ctx, syncConnectionID); err != nil {
		w.log.Warn("stamp connection heartbeat",
			slog.String("sync_connection_id", syncConnectionID),
			slog.Any("error", err))
	}
	if err := w.channelLinks.UpdateLastSyncedAt(ctx, channelLinkID); err != nil {
		w.log.Warn("stamp channel link heartbeat",
			slog.String("channel_link_id", channelLinkID),
			slog.Any("error", err))
	}
}

func (w *Worker) touchMessageLink(ctx context.Context, id string) {
	if err := w.messageLinks.UpdateLastSyncedAt(ctx, id); err != nil {
		w.log.Warn("stamp message link heartbeat",
			slog.String("message_link_id", id),
			slog.Any("error", err))
	}
}

// threadName derives a thread title from message content when the caller
// supplies none.
func threadName(content string) string {
	name := strings.TrimSpace(content)
	if name == "" {
		return "Thread"
	}
	if runes := []rune(name); len(runes) > maxThreadNameLength {
		return string(runes[:maxThreadNameLength])
	}
	return name
}
