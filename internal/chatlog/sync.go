package chatlog

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/minoa/simple-chat/internal/metrics"
)

// MaxWriteAttempts bounds the number of conditioned write attempts per
// append. The read-modify-write window spans a network round trip, so
// conflicts between concurrent senders are expected, not exceptional.
const MaxWriteAttempts = 3

// ErrRetriesExhausted is returned by Append when every write attempt lost the
// race. The entry was already broadcast to live clients; only its persistence
// is abandoned.
var ErrRetriesExhausted = errors.New("chatlog: write retries exhausted")

// Synchronizer owns reconciliation between the in-memory view of the chat
// history and the remote store. Appends appear atomic to the rest of the
// system even though the store only supports whole-document conditioned
// writes.
type Synchronizer struct {
	store Store

	// mu serializes in-flight appends from this process. It cannot protect
	// against other processes, which is what the version tag is for, but it
	// keeps one process from racing itself.
	mu sync.Mutex
}

// NewSynchronizer creates a Synchronizer over the given store.
func NewSynchronizer(store Store) *Synchronizer {
	return &Synchronizer{store: store}
}

// Append persists one entry. Each attempt re-fetches the freshest revision
// and appends to that, never to a cached copy, so concurrent appends from
// other processes are not silently dropped. On conflict it retries up to
// MaxWriteAttempts; on a network error it aborts immediately.
func (s *Synchronizer) Append(ctx context.Context, entry Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	start := time.Now()
	defer func() {
		metrics.AppendLatency.Observe(time.Since(start).Seconds())
	}()

	for attempt := 1; attempt <= MaxWriteAttempts; attempt++ {
		entries, version, err := s.store.Fetch(ctx)
		if err != nil {
			metrics.PersistFailures.Inc()
			return fmt.Errorf("chatlog: append fetch: %w", err)
		}

		_, err = s.store.Write(ctx, append(entries, entry), version)
		if err == nil {
			return nil
		}
		if !errors.Is(err, ErrConflict) {
			metrics.PersistFailures.Inc()
			return fmt.Errorf("chatlog: append write: %w", err)
		}

		metrics.PersistConflicts.Inc()
		log.Printf("chatlog: write conflict on attempt %d/%d, refetching", attempt, MaxWriteAttempts)
	}

	metrics.PersistFailures.Inc()
	return ErrRetriesExhausted
}

// Load returns the current remote chat log for hydrating a newly connected
// session. Any failure degrades to an empty log; a client sees an empty
// history, never an error.
func (s *Synchronizer) Load(ctx context.Context) []Entry {
	entries, _, err := s.store.Fetch(ctx)
	if err != nil {
		log.Printf("chatlog: load failed, serving empty history: %v", err)
		return []Entry{}
	}
	return entries
}
