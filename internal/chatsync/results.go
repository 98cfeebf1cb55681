package chatsync

// Status is the benign outcome of a sync verb. Failures are errors, never
// statuses; statuses are never logged as errors.
type Status string

const (
	// StatusCreated: ingress created an internal mirror message.
	StatusCreated Status = "created"
	// StatusUpdated: an existing mirror was edited, either side.
	StatusUpdated Status = "updated"
	// StatusDeleted: an existing mirror was deleted, either side.
	StatusDeleted Status = "deleted"
	// StatusSynced: outbound created an external mirror message, mirrored a
	// reaction, or opened a thread.
	StatusSynced Status = "synced"
	// StatusDeduped: another invocation already claimed this dedupe key.
	StatusDeduped Status = "deduped"
	// StatusAlreadyLinked: the message pair is already mapped, nothing to do.
	StatusAlreadyLinked Status = "already_linked"
	// StatusIgnoredMissingLink: no message link exists to update or delete.
	StatusIgnoredMissingLink Status = "ignored_missing_link"
	// StatusIgnoredConnectionInactive: the connection is paused, deleted, or
	// belongs to a different provider than the event claims.
	StatusIgnoredConnectionInactive Status = "ignored_connection_inactive"
)

// Result is the outcome of one sync verb invocation.
type Result struct {
	Status            Status
	HazelMessageID    string
	ExternalMessageID string
	ExternalThreadID  string
}

// ConnectionSummary aggregates one backfill pass over a connection.
type ConnectionSummary struct {
	SyncConnectionID string `json:"sync_connection_id"`
	Sent             int    `json:"sent"`
	Skipped          int    `json:"skipped"`
	Failed           int    `json:"failed"`
	Error            string `json:"error,omitempty"`
}

// FanOutResult aggregates one dispatcher pass across connections.
type FanOutResult struct {
	Synced int `json:"synced"`
	Failed int `json:"failed"`
}
