package store

import (
	"errors"

	"github.com/hazelchat/hazelsync/internal/db"
)

// ErrNotFound is returned by Find methods when no live row matches.
var ErrNotFound = errors.New("store: not found")

// Stores bundles every repository over one database handle.
type Stores struct {
	Connections  *ConnectionStore
	ChannelLinks *ChannelLinkStore
	MessageLinks *MessageLinkStore
	Receipts     *ReceiptStore
	Messages     *MessageStore
	Users        *UserStore
	OrgMembers   *OrgMemberStore
	Integrations *IntegrationStore
	Reactions    *ReactionStore
}

// NewStores assembles all repositories over the given handle.
func NewStores(dbtx db.DBTX) *Stores {
	return &Stores{
		Connections:  NewConnectionStore(dbtx),
		ChannelLinks: NewChannelLinkStore(dbtx),
		MessageLinks: NewMessageLinkStore(dbtx),
		Receipts:     NewReceiptStore(dbtx),
		Messages:     NewMessageStore(dbtx),
		Users:        NewUserStore(dbtx),
		OrgMembers:   NewOrgMemberStore(dbtx),
		Integrations: NewIntegrationStore(dbtx),
		Reactions:    NewReactionStore(dbtx),
	}
}
