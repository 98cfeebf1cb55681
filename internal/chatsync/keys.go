package chatsync

import "fmt"

// Default dedupe-key families. Callers that replay events through their own
// pipeline (the gateway, fan-out retries) pass explicit keys instead; these
// defaults cover direct invocations. The `hazel:` and `external:` prefixes
// partition the keyspace so the two directions can never collide on a shared
// connection.

func externalMessageKey(verb, externalMessageID string) string {
	return fmt.Sprintf("external:message:%s:%s", verb, externalMessageID)
}

func hazelMessageKey(verb, hazelMessageID string) string {
	return fmt.Sprintf("hazel:message:%s:%s", verb, hazelMessageID)
}

// Reaction keys carry a composite id: a bare message id would collapse every
// reaction on the message into one receipt.

func externalReactionKey(verb, externalMessageID, externalUserID, emoji string) string {
	return fmt.Sprintf("external:reaction:%s:%s:%s:%s", verb, externalMessageID, externalUserID, emoji)
}

func hazelReactionKey(verb, hazelMessageID, emoji string) string {
	return fmt.Sprintf("hazel:reaction:%s:%s:%s", verb, hazelMessageID, emoji)
}

func hazelThreadKey(hazelMessageID string) string {
	return fmt.Sprintf("hazel:thread:create:%s", hazelMessageID)
}

const (
	verbCreate = "create"
	verbUpdate = "update"
	verbDelete = "delete"
	verbAdd    = "add"
	verbRemove = "remove"
)
