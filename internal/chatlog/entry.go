// Package chatlog persists the chat history in a remote version-controlled
// document store. The store only offers whole-document reads and
// version-conditioned writes, so appending a single entry is layered on top
// with optimistic concurrency: fetch the freshest revision, append, write
// conditioned on the revision tag, retry on conflict.
package chatlog

import "time"

// Entry is one immutable chat message record as persisted in the remote
// document and as shipped to clients in the chat log payload.
type Entry struct {
	Username  string `json:"username"`
	Message   string `json:"message"`
	Timestamp string `json:"timestamp"` // ISO-8601 / RFC 3339, UTC
}

// NewEntry builds an Entry stamped with the current UTC time.
func NewEntry(username, message string) Entry {
	return Entry{
		Username:  username,
		Message:   message,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}
}
