package chatsync

import "fmt"

// ConnectionNotFoundError reports a verb keyed to a connection that does not
// exist. The claim is committed failed before this surfaces, so the dedupe
// key stays terminal.
type ConnectionNotFoundError struct {
	SyncConnectionID string
}

func (e *ConnectionNotFoundError) Error() string {
	return fmt.Sprintf("sync connection not found: %s", e.SyncConnectionID)
}

// ChannelLinkNotFoundError reports a channel with no link on the connection.
// Exactly one of HazelChannelID or ExternalChannelID is set, matching the
// direction of the failing verb.
type ChannelLinkNotFoundError struct {
	SyncConnectionID  string
	HazelChannelID    string
	ExternalChannelID string
}

func (e *ChannelLinkNotFoundError) Error() string {
	if e.ExternalChannelID != "" {
		return fmt.Sprintf("no channel link for external channel %s on connection %s", e.ExternalChannelID, e.SyncConnectionID)
	}
	return fmt.Sprintf("no channel link for hazel channel %s on connection %s", e.HazelChannelID, e.SyncConnectionID)
}

// MessageNotFoundError reports an outbound verb keyed to a Hazel message
// that does not exist, or an ingress edit whose mirror row is gone.
type MessageNotFoundError struct {
	MessageID string
}

func (e *MessageNotFoundError) Error() string {
	return fmt.Sprintf("message not found: %s", e.MessageID)
}
