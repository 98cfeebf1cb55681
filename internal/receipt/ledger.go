// Package receipt is the dedupe ledger that gives every sync verb
// at-most-once effect. A verb claims its dedupe key before any side effect
// and commits a terminal status afterwards; losing the claim means another
// worker already owns the event.
package receipt

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/hazelchat/hazelsync/internal/models"
	"github.com/hazelchat/hazelsync/internal/store"
)

// Store is the persistence seam of the ledger.
type Store interface {
	Claim(ctx context.Context, params store.ClaimReceiptParams) (bool, error)
	Update(ctx context.Context, params store.UpdateReceiptParams) error
}

// Claim identifies one logical operation before any side effect runs.
// ChannelLinkID may be empty when the claim is taken before the link is
// resolved; the commit fills it in.
type Claim struct {
	SyncConnectionID string
	ChannelLinkID    string
	Source           models.EventSource
	DedupeKey        string
}

// Commit records the terminal outcome of a claimed operation. Payload, when
// set, is hashed and stored for diagnostics; the payload itself never
// persists.
type Commit struct {
	Claim
	Status       models.ReceiptStatus
	Payload      any
	ErrorMessage string
}

// Ledger wraps the receipt store with the claim/commit protocol.
type Ledger struct {
	log   *slog.Logger
	store Store
}

func NewLedger(log *slog.Logger, s Store) *Ledger {
	return &Ledger{
		log:   log.With(slog.String("component", "receipts")),
		store: s,
	}
}

// Claim inserts the claim row and reports whether this caller won. False
// means the key was already claimed, in whatever terminal state, and the
// caller must not run the side effect.
func (l *Ledger) Claim(ctx context.Context, claim Claim) (bool, error) {
	won, err := l.store.Claim(ctx, store.ClaimReceiptParams{
		SyncConnectionID: claim.SyncConnectionID,
		ChannelLinkID:    claim.ChannelLinkID,
		Source:           claim.Source,
		DedupeKey:        claim.DedupeKey,
	})
	if err != nil {
		return false, err
	}
	if !won {
		l.log.Debug("claim already taken",
			slog.String("sync_connection_id", claim.SyncConnectionID),
			slog.String("source", string(claim.Source)),
			slog.String("dedupe_key", claim.DedupeKey))
	}
	return won, nil
}

// Commit moves a claimed receipt to its terminal status.
func (l *Ledger) Commit(ctx context.Context, commit Commit) error {
	hash, err := PayloadHash(commit.Payload)
	if err != nil {
		return err
	}
	return l.store.Update(ctx, store.UpdateReceiptParams{
		SyncConnectionID: commit.SyncConnectionID,
		ChannelLinkID:    commit.ChannelLinkID,
		Source:           commit.Source,
		DedupeKey:        commit.DedupeKey,
		Status:           commit.Status,
		PayloadHash:      hash,
		ErrorMessage:     commit.ErrorMessage,
	})
}

// PayloadHash renders the canonical hash stored on receipts: hex-encoded
// SHA-256 over the JSON encoding of the payload. A nil payload hashes to the
// empty string, stored as NULL.
func PayloadHash(payload any) (string, error) {
	if payload == nil {
		return "", nil
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("encode receipt payload: %w", err)
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}
