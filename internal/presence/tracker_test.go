package presence

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestName_FirstCallOnlySucceeds(t *testing.T) {
	tr := NewTracker()
	tr.Admit("c1")

	count, err := tr.Name("c1", "alice")
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	// Repeated naming is rejected, never overwritten, and the count does not
	// move again no matter how often the client retries.
	for i := 0; i < 3; i++ {
		count, err = tr.Name("c1", "mallory")
		require.ErrorIs(t, err, ErrAlreadyNamed)
		assert.Equal(t, 1, count)
	}
	assert.Equal(t, "alice", tr.Get("c1").Username)
}

func TestName_UnknownSession(t *testing.T) {
	tr := NewTracker()

	count, err := tr.Name("ghost", "alice")
	require.ErrorIs(t, err, ErrUnknownSession)
	assert.Equal(t, 0, count)
}

func TestCount_DerivedFromNamedSessions(t *testing.T) {
	tr := NewTracker()
	tr.Admit("c1")
	tr.Admit("c2")
	tr.Admit("c3")

	assert.Equal(t, 0, tr.Count(), "unnamed sessions do not count")

	_, err := tr.Name("c1", "alice")
	require.NoError(t, err)
	_, err = tr.Name("c2", "bob")
	require.NoError(t, err)
	assert.Equal(t, 2, tr.Count())

	_, wasNamed, count := tr.Remove("c2")
	assert.True(t, wasNamed)
	assert.Equal(t, 1, count)
}

func TestRemove_UnnamedSessionDoesNotAffectCount(t *testing.T) {
	tr := NewTracker()
	tr.Admit("c1")
	tr.Admit("c2")
	_, err := tr.Name("c1", "alice")
	require.NoError(t, err)

	username, wasNamed, count := tr.Remove("c2")
	assert.Empty(t, username)
	assert.False(t, wasNamed)
	assert.Equal(t, 1, count)
}

func TestRemove_UnknownSessionIsNoop(t *testing.T) {
	tr := NewTracker()
	tr.Admit("c1")
	_, err := tr.Name("c1", "alice")
	require.NoError(t, err)

	_, wasNamed, count := tr.Remove("ghost")
	assert.False(t, wasNamed)
	assert.Equal(t, 1, count)
}

func TestLifecycle_NoTransitionOutOfDisconnected(t *testing.T) {
	tr := NewTracker()
	tr.Admit("c1")
	tr.Remove("c1")

	// The session is gone from the registry; naming it again is an unknown
	// session, not a resurrection.
	_, err := tr.Name("c1", "alice")
	require.ErrorIs(t, err, ErrUnknownSession)
	assert.Nil(t, tr.Get("c1"))
}

func TestSessionStateAccessors(t *testing.T) {
	tr := NewTracker()
	s := tr.Admit("c1")

	assert.Equal(t, StateConnected, s.State())
	assert.False(t, s.IsNamed())

	_, err := tr.Name("c1", "alice")
	require.NoError(t, err)
	assert.Equal(t, StateActive, s.State())
	assert.True(t, s.IsNamed())
}
