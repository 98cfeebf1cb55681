package models

import (
	"errors"
	"fmt"
	"time"
)

// Provider tags an external chat platform.
type Provider string

const (
	ProviderDiscord  Provider = "discord"
	ProviderTelegram Provider = "telegram"
	ProviderLark     Provider = "lark"
)

func (p Provider) String() string {
	return string(p)
}

// Valid reports whether p names a supported platform.
func (p Provider) Valid() bool {
	switch p {
	case ProviderDiscord, ProviderTelegram, ProviderLark:
		return true
	}
	return false
}

// ConnectionStatus is the lifecycle state of a sync connection.
type ConnectionStatus string

const (
	ConnectionStatusActive   ConnectionStatus = "active"
	ConnectionStatusInactive ConnectionStatus = "inactive"
	ConnectionStatusError    ConnectionStatus = "error"
)

// LinkDirection declares which way messages may flow through a channel link.
type LinkDirection string

const (
	DirectionBoth            LinkDirection = "both"
	DirectionHazelToExternal LinkDirection = "hazel_to_external"
	DirectionExternalToHazel LinkDirection = "external_to_hazel"
)

// AllowsOutbound reports whether hazel-authored changes may be mirrored out.
func (d LinkDirection) AllowsOutbound() bool {
	return d == DirectionBoth || d == DirectionHazelToExternal
}

// AllowsIngress reports whether external events may be mirrored in.
func (d LinkDirection) AllowsIngress() bool {
	return d == DirectionBoth || d == DirectionExternalToHazel
}

// EventSource records which side originated a mirrored pair or receipt.
type EventSource string

const (
	SourceHazel    EventSource = "hazel"
	SourceExternal EventSource = "external"
)

// ReceiptStatus is the lifecycle state of an event receipt.
type ReceiptStatus string

const (
	ReceiptStatusClaimed   ReceiptStatus = "claimed"
	ReceiptStatusProcessed ReceiptStatus = "processed"
	ReceiptStatusIgnored   ReceiptStatus = "ignored"
	ReceiptStatusFailed    ReceiptStatus = "failed"
)

// UserType distinguishes human accounts from machine identities.
type UserType string

const (
	UserTypeHuman   UserType = "human"
	UserTypeMachine UserType = "machine"
)

const (
	MemberRoleMember = "member"

	// ShadowUserFallbackName is used when an external author carries no
	// usable display name.
	ShadowUserFallbackName = "External User"
)

// Actor identifies who is performing a repository write. The sync engine
// always writes as the system actor.
type Actor struct {
	UserID string
	System bool
}

// SystemActor authorizes engine-owned writes that bypass authorship checks.
var SystemActor = Actor{System: true}

// SyncConnection binds a Hazel organization to an external workspace.
type SyncConnection struct {
	ID                  string
	OrganizationID      string
	Provider            Provider
	ExternalWorkspaceID string
	Status              ConnectionStatus
	LastSyncedAt        *time.Time
	CreatedBy           string
	CreatedAt           time.Time
	UpdatedAt           time.Time
}

// SyncChannelLink pairs a Hazel channel with an external channel.
type SyncChannelLink struct {
	ID                string
	SyncConnectionID  string
	HazelChannelID    string
	ExternalChannelID string
	Direction         LinkDirection
	IsActive          bool
	LastSyncedAt      *time.Time
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

func (l SyncChannelLink) Validate() error {
	if l.SyncConnectionID == "" {
		return errors.New("sync connection ID is required")
	}
	if l.HazelChannelID == "" {
		return errors.New("hazel channel ID is required")
	}
	if l.ExternalChannelID == "" {
		return errors.New("external channel ID is required")
	}
	switch l.Direction {
	case DirectionBoth, DirectionHazelToExternal, DirectionExternalToHazel:
	default:
		return fmt.Errorf("invalid link direction: %s", l.Direction)
	}
	return nil
}

// SyncMessageLink pairs a Hazel message with an external message inside one
// channel link.
type SyncMessageLink struct {
	ID                    string
	ChannelLinkID         string
	HazelMessageID        string
	ExternalMessageID     string
	Source                EventSource
	ExternalThreadID      string
	ExternalRootMessageID string
	LastSyncedAt          *time.Time
	CreatedAt             time.Time
	DeletedAt             *time.Time
}

// Live reports whether the link row is not soft-deleted.
func (l SyncMessageLink) Live() bool {
	return l.DeletedAt == nil
}

// EventReceipt is the at-most-once-effect ledger row, uniquely keyed by
// (SyncConnectionID, Source, DedupeKey).
type EventReceipt struct {
	ID               string
	SyncConnectionID string
	ChannelLinkID    string
	Source           EventSource
	DedupeKey        string
	PayloadHash      string
	Status           ReceiptStatus
	ErrorMessage     string
	ProcessedAt      *time.Time
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// Message is a Hazel chat message as the engine sees it.
type Message struct {
	ID               string
	ChannelID        string
	AuthorID         string
	Content          string
	ReplyToMessageID string
	ThreadID         string
	CreatedAt        time.Time
	UpdatedAt        time.Time
	DeletedAt        *time.Time
}

// User is a Hazel account; shadow users are machine-typed rows materializing
// external identities.
type User struct {
	ID         string
	ExternalID string
	Email      string
	FirstName  string
	AvatarURL  string
	UserType   UserType
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// ShadowUserExternalID derives the synthetic external id of a shadow user.
func ShadowUserExternalID(provider Provider, externalUserID string) string {
	return fmt.Sprintf("%s-user-%s", provider, externalUserID)
}

// ShadowUserEmail derives the synthetic email of a shadow user.
func ShadowUserEmail(provider Provider, externalUserID string) string {
	return fmt.Sprintf("%s@%s.internal", externalUserID, provider)
}

// BotDisplayName is the first name given to per-provider bridge accounts.
const BotDisplayName = "Hazel Bridge"

// BotUserExternalID derives the external id of a provider's bridge account,
// the author of record for unattributed external events.
func BotUserExternalID(provider Provider) string {
	return fmt.Sprintf("%s-bot", provider)
}

// BotUserEmail derives the synthetic email of a provider's bridge account.
func BotUserEmail(provider Provider) string {
	return fmt.Sprintf("%s-bot@%s.internal", provider, provider)
}

// OrganizationMember records a user's membership in an organization.
type OrganizationMember struct {
	ID             string
	OrganizationID string
	UserID         string
	Role           string
	JoinedAt       time.Time
}

// IntegrationConnection maps an external account to a Hazel user within an
// organization. The engine only reads these.
type IntegrationConnection struct {
	ID                string
	OrganizationID    string
	Provider          Provider
	ExternalAccountID string
	UserID            string
	Status            string
}

// MessageReaction is one emoji reaction on a Hazel message.
type MessageReaction struct {
	ID        string
	MessageID string
	UserID    string
	Emoji     string
	CreatedAt time.Time
	DeletedAt *time.Time
}
