package chatlog

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeStore is an in-memory Store with a monotonically increasing version
// tag and hooks for injecting failures and out-of-band writers.
type fakeStore struct {
	mu      sync.Mutex
	entries []Entry
	version int

	fetchErr error
	writeErr error

	// interlopers are entries appended out-of-band, one per Write call,
	// before the version check. This simulates another process winning the
	// race between our fetch and our write.
	interlopers []Entry

	fetches int
	writes  int
}

func (f *fakeStore) Fetch(ctx context.Context) ([]Entry, string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fetches++
	if f.fetchErr != nil {
		return nil, "", f.fetchErr
	}
	out := make([]Entry, len(f.entries))
	copy(out, f.entries)
	return out, strconv.Itoa(f.version), nil
}

func (f *fakeStore) Write(ctx context.Context, entries []Entry, expectedVersion string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.writes++
	if f.writeErr != nil {
		return "", f.writeErr
	}

	if len(f.interlopers) > 0 {
		f.entries = append(f.entries, f.interlopers[0])
		f.interlopers = f.interlopers[1:]
		f.version++
	}

	if expectedVersion != strconv.Itoa(f.version) {
		return "", ErrConflict
	}
	f.entries = make([]Entry, len(entries))
	copy(f.entries, entries)
	f.version++
	return strconv.Itoa(f.version), nil
}

func TestAppend_RoundTrip(t *testing.T) {
	store := &fakeStore{}
	s := NewSynchronizer(store)
	ctx := context.Background()

	_, before, err := store.Fetch(ctx)
	require.NoError(t, err)

	entry := Entry{Username: "alice", Message: "hi", Timestamp: "2024-01-01T00:00:00Z"}
	require.NoError(t, s.Append(ctx, entry))

	entries, after, err := store.Fetch(ctx)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, entry, entries[len(entries)-1])
	assert.NotEqual(t, before, after, "version tag must change on successful append")
}

func TestAppend_ConflictRetryKeepsBothEntries(t *testing.T) {
	// Another writer lands an entry between our fetch and our first write.
	// The first attempt must observe a conflict, refetch, and preserve the
	// interloper's entry ahead of ours.
	other := Entry{Username: "bob", Message: "first", Timestamp: "2024-01-01T00:00:00Z"}
	store := &fakeStore{interlopers: []Entry{other}}
	s := NewSynchronizer(store)
	ctx := context.Background()

	ours := Entry{Username: "alice", Message: "second", Timestamp: "2024-01-01T00:00:01Z"}
	require.NoError(t, s.Append(ctx, ours))

	entries, _, err := store.Fetch(ctx)
	require.NoError(t, err)
	require.Len(t, entries, 2, "no entry may be lost under a concurrent append")
	assert.Equal(t, other, entries[0])
	assert.Equal(t, ours, entries[1])
	assert.Equal(t, 2, store.writes, "expected one conflicted write plus one successful retry")
}

func TestAppend_RetriesExhausted(t *testing.T) {
	// Enough interlopers that every attempt conflicts.
	store := &fakeStore{}
	for i := 0; i < MaxWriteAttempts+1; i++ {
		store.interlopers = append(store.interlopers, Entry{Username: "bob", Message: strconv.Itoa(i)})
	}
	s := NewSynchronizer(store)

	err := s.Append(context.Background(), Entry{Username: "alice", Message: "hi"})
	require.ErrorIs(t, err, ErrRetriesExhausted)
	assert.Equal(t, MaxWriteAttempts, store.writes)
}

func TestAppend_NetworkErrorOnFetchAbortsImmediately(t *testing.T) {
	store := &fakeStore{fetchErr: errors.New("connection refused")}
	s := NewSynchronizer(store)

	err := s.Append(context.Background(), Entry{Username: "alice", Message: "hi"})
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrRetriesExhausted)
	assert.Equal(t, 1, store.fetches, "network errors are not retried")
	assert.Equal(t, 0, store.writes)
}

func TestAppend_NetworkErrorOnWriteAbortsImmediately(t *testing.T) {
	store := &fakeStore{writeErr: errors.New("connection reset")}
	s := NewSynchronizer(store)

	err := s.Append(context.Background(), Entry{Username: "alice", Message: "hi"})
	require.Error(t, err)
	assert.Equal(t, 1, store.writes, "network errors on write are not retried")
}

func TestLoad_DegradesToEmptyOnFailure(t *testing.T) {
	store := &fakeStore{fetchErr: errors.New("unreachable")}
	s := NewSynchronizer(store)

	entries := s.Load(context.Background())
	require.NotNil(t, entries)
	assert.Empty(t, entries)
}

func TestLoad_ReturnsCurrentEntries(t *testing.T) {
	store := &fakeStore{entries: []Entry{
		{Username: "alice", Message: "hi"},
		{Username: "bob", Message: "hey"},
	}}
	s := NewSynchronizer(store)

	entries := s.Load(context.Background())
	require.Len(t, entries, 2)
	assert.Equal(t, "alice", entries[0].Username)
	assert.Equal(t, "bob", entries[1].Username)
}
