package chat

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/minoa/simple-chat/internal/chatlog"
	"github.com/minoa/simple-chat/internal/presence"
	"github.com/minoa/simple-chat/internal/protocol"
)

// fakeSender records every frame handed to it, decoded into generic maps for
// easy assertions.
type fakeSender struct {
	mu         sync.Mutex
	sent       map[string][]map[string]interface{} // connID -> direct frames
	broadcasts []broadcastRec
}

type broadcastRec struct {
	Except string
	Frame  map[string]interface{}
}

func newFakeSender() *fakeSender {
	return &fakeSender{sent: make(map[string][]map[string]interface{})}
}

func decodeFrame(data []byte) map[string]interface{} {
	var m map[string]interface{}
	_ = json.Unmarshal(data, &m)
	return m
}

func (f *fakeSender) Send(connID string, data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent[connID] = append(f.sent[connID], decodeFrame(data))
	return nil
}

func (f *fakeSender) BroadcastExcept(exceptID string, data []byte) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.broadcasts = append(f.broadcasts, broadcastRec{Except: exceptID, Frame: decodeFrame(data)})
}

func (f *fakeSender) sentTo(connID string) []map[string]interface{} {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]map[string]interface{}, len(f.sent[connID]))
	copy(out, f.sent[connID])
	return out
}

func (f *fakeSender) allBroadcasts() []broadcastRec {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]broadcastRec, len(f.broadcasts))
	copy(out, f.broadcasts)
	return out
}

// fakeSyncer captures appended entries on a channel and serves a fixed log.
type fakeSyncer struct {
	log      []chatlog.Entry
	appended chan chatlog.Entry
}

func newFakeSyncer() *fakeSyncer {
	return &fakeSyncer{log: []chatlog.Entry{}, appended: make(chan chatlog.Entry, 16)}
}

func (f *fakeSyncer) Append(ctx context.Context, entry chatlog.Entry) error {
	f.appended <- entry
	return nil
}

func (f *fakeSyncer) Load(ctx context.Context) []chatlog.Entry {
	return f.log
}

func newTestCoordinator() (*Coordinator, *fakeSender, *fakeSyncer) {
	sender := newFakeSender()
	syncer := newFakeSyncer()
	c := NewCoordinator(sender, presence.NewTracker(), syncer)
	return c, sender, syncer
}

func TestHandleConnect_HydratesWithChatLog(t *testing.T) {
	c, sender, syncer := newTestCoordinator()
	syncer.log = []chatlog.Entry{{Username: "alice", Message: "hi", Timestamp: "2024-01-01T00:00:00Z"}}

	c.HandleConnect("c1")

	require.Eventually(t, func() bool {
		return len(sender.sentTo("c1")) > 0
	}, time.Second, 5*time.Millisecond)

	frame := sender.sentTo("c1")[0]
	assert.Equal(t, protocol.TypeChatLog, frame["type"])
	log, ok := frame["log"].([]interface{})
	require.True(t, ok)
	require.Len(t, log, 1)
}

func TestHandleConnect_UnreachableStoreSendsEmptyLog(t *testing.T) {
	c, sender, _ := newTestCoordinator()

	c.HandleConnect("c1")

	require.Eventually(t, func() bool {
		return len(sender.sentTo("c1")) > 0
	}, time.Second, 5*time.Millisecond)

	frame := sender.sentTo("c1")[0]
	assert.Equal(t, protocol.TypeChatLog, frame["type"])
	log, ok := frame["log"].([]interface{})
	require.True(t, ok, "client must receive a log array, not an error: got %v", frame["log"])
	assert.Empty(t, log)
}

func TestAddUser_LoginAndJoinScenario(t *testing.T) {
	c, sender, _ := newTestCoordinator()

	// Client A connects and names "alice".
	c.HandleConnect("a")
	c.HandleAddUser("a", "alice")

	loginA := lastOfType(sender.sentTo("a"), protocol.TypeLogin)
	require.NotNil(t, loginA)
	assert.Equal(t, float64(1), loginA["numUsers"])

	bcasts := sender.allBroadcasts()
	require.Len(t, bcasts, 1)
	assert.Equal(t, "a", bcasts[0].Except)
	assert.Equal(t, protocol.TypeUserJoined, bcasts[0].Frame["type"])
	assert.Equal(t, "alice", bcasts[0].Frame["username"])
	assert.Equal(t, float64(1), bcasts[0].Frame["numUsers"])

	// Client B connects and names "bob".
	c.HandleConnect("b")
	c.HandleAddUser("b", "bob")

	loginB := lastOfType(sender.sentTo("b"), protocol.TypeLogin)
	require.NotNil(t, loginB)
	assert.Equal(t, float64(2), loginB["numUsers"])

	bcasts = sender.allBroadcasts()
	require.Len(t, bcasts, 2)
	assert.Equal(t, "b", bcasts[1].Except)
	assert.Equal(t, "bob", bcasts[1].Frame["username"])
	assert.Equal(t, float64(2), bcasts[1].Frame["numUsers"])
}

func TestAddUser_DuplicateIsSilentNoop(t *testing.T) {
	c, sender, _ := newTestCoordinator()
	c.HandleConnect("a")
	c.HandleAddUser("a", "alice")
	c.HandleAddUser("a", "alice")
	c.HandleAddUser("a", "mallory")

	logins := 0
	for _, frame := range sender.sentTo("a") {
		if frame["type"] == protocol.TypeLogin {
			logins++
		}
	}
	assert.Equal(t, 1, logins, "only the first add user may produce a login")
	assert.Len(t, sender.allBroadcasts(), 1, "only the first add user may produce a user joined")
}

func TestAddUser_InvalidUsernameGetsErrorAck(t *testing.T) {
	c, sender, _ := newTestCoordinator()
	c.HandleConnect("a")
	c.HandleAddUser("a", "")

	errFrame := lastOfType(sender.sentTo("a"), protocol.TypeError)
	require.NotNil(t, errFrame)
	assert.Equal(t, "invalid_username", errFrame["code"])
	assert.Empty(t, sender.allBroadcasts())
}

func TestNewMessage_FanOutAndPersistence(t *testing.T) {
	c, sender, syncer := newTestCoordinator()
	c.HandleConnect("a")
	c.HandleAddUser("a", "alice")

	c.HandleNewMessage("a", "hi")

	msg := lastBroadcastOfType(sender, protocol.TypeNewMessage)
	require.NotNil(t, msg)
	assert.Equal(t, "a", msg.Except, "the sender must not receive its own message")
	assert.Equal(t, "alice", msg.Frame["username"])
	assert.Equal(t, "hi", msg.Frame["message"])

	select {
	case entry := <-syncer.appended:
		assert.Equal(t, "alice", entry.Username)
		assert.Equal(t, "hi", entry.Message)
		_, err := time.Parse(time.RFC3339, entry.Timestamp)
		assert.NoError(t, err, "timestamp must be RFC 3339")
	case <-time.After(time.Second):
		t.Fatal("message was never handed to the synchronizer")
	}
}

func TestNewMessage_FromUnnamedSessionRejected(t *testing.T) {
	c, sender, syncer := newTestCoordinator()
	c.HandleConnect("a")

	c.HandleNewMessage("a", "hi")

	assert.Empty(t, sender.allBroadcasts(), "no broadcast for an unnamed sender")
	select {
	case <-syncer.appended:
		t.Fatal("message from unnamed session must not be persisted")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestNewMessage_PreservesSubmissionOrder(t *testing.T) {
	c, sender, _ := newTestCoordinator()
	c.HandleConnect("a")
	c.HandleAddUser("a", "alice")

	c.HandleNewMessage("a", "one")
	c.HandleNewMessage("a", "two")
	c.HandleNewMessage("a", "three")

	var texts []string
	for _, b := range sender.allBroadcasts() {
		if b.Frame["type"] == protocol.TypeNewMessage {
			texts = append(texts, b.Frame["message"].(string))
		}
	}
	assert.Equal(t, []string{"one", "two", "three"}, texts)
}

func TestTyping_RelayedWithUsername(t *testing.T) {
	c, sender, _ := newTestCoordinator()
	c.HandleConnect("a")
	c.HandleAddUser("a", "alice")

	c.HandleTyping("a")
	c.HandleStopTyping("a")

	typing := lastBroadcastOfType(sender, protocol.TypeTyping)
	require.NotNil(t, typing)
	assert.Equal(t, "a", typing.Except)
	assert.Equal(t, "alice", typing.Frame["username"])

	stop := lastBroadcastOfType(sender, protocol.TypeStopTyping)
	require.NotNil(t, stop)
	assert.Equal(t, "alice", stop.Frame["username"])
}

func TestTyping_FromUnnamedSessionIgnored(t *testing.T) {
	c, sender, _ := newTestCoordinator()
	c.HandleConnect("a")

	c.HandleTyping("a")
	assert.Empty(t, sender.allBroadcasts())
}

func TestDisconnect_NamedSessionAnnouncesLeave(t *testing.T) {
	c, sender, _ := newTestCoordinator()
	c.HandleConnect("a")
	c.HandleAddUser("a", "alice")
	c.HandleConnect("b")
	c.HandleAddUser("b", "bob")

	c.HandleDisconnect("a")

	left := lastBroadcastOfType(sender, protocol.TypeUserLeft)
	require.NotNil(t, left)
	assert.Equal(t, "alice", left.Frame["username"])
	assert.Equal(t, float64(1), left.Frame["numUsers"])
}

func TestDisconnect_UnnamedSessionIsInvisible(t *testing.T) {
	c, sender, _ := newTestCoordinator()
	c.HandleConnect("a")
	c.HandleAddUser("a", "alice")
	c.HandleConnect("b")

	before := len(sender.allBroadcasts())
	c.HandleDisconnect("b")
	assert.Len(t, sender.allBroadcasts(), before, "an unnamed leave must not be announced")
}

func TestRelay_MirrorsFanOut(t *testing.T) {
	c, _, _ := newTestCoordinator()

	var mu sync.Mutex
	var relayed []map[string]interface{}
	c.SetRelay(func(data []byte) {
		mu.Lock()
		relayed = append(relayed, decodeFrame(data))
		mu.Unlock()
	})

	c.HandleConnect("a")
	c.HandleAddUser("a", "alice")
	c.HandleNewMessage("a", "hi")

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, relayed, 2, "user joined and new message should both be relayed")
	assert.Equal(t, protocol.TypeUserJoined, relayed[0]["type"])
	assert.Equal(t, protocol.TypeNewMessage, relayed[1]["type"])
}

func lastOfType(frames []map[string]interface{}, msgType string) map[string]interface{} {
	for i := len(frames) - 1; i >= 0; i-- {
		if frames[i]["type"] == msgType {
			return frames[i]
		}
	}
	return nil
}

func lastBroadcastOfType(sender *fakeSender, msgType string) *broadcastRec {
	bcasts := sender.allBroadcasts()
	for i := len(bcasts) - 1; i >= 0; i-- {
		if bcasts[i].Frame["type"] == msgType {
			return &bcasts[i]
		}
	}
	return nil
}
