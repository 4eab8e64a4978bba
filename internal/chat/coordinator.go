// Package chat implements the broadcast coordinator: it routes inbound client
// events to outbound events for all other connected sessions, gates every
// operation on the session's lifecycle state, and hands accepted messages to
// the log synchronizer for best-effort persistence. Broadcast is never blocked
// by persistence; a message reaches live clients whether or not its append to
// the remote store ultimately succeeds.
package chat

import (
	"context"
	"log"
	"time"

	"github.com/minoa/simple-chat/internal/chatlog"
	"github.com/minoa/simple-chat/internal/metrics"
	"github.com/minoa/simple-chat/internal/presence"
	"github.com/minoa/simple-chat/internal/protocol"
)

// persistTimeout bounds one append attempt chain against the remote store.
// It outlives the originating connection on purpose: a disconnect during an
// in-flight append does not cancel the append.
const persistTimeout = 30 * time.Second

// hydrateTimeout bounds the remote fetch that backs the chat log sent to a
// newly connected client.
const hydrateTimeout = 10 * time.Second

// Sender delivers frames to live connections. Implemented by the ws server.
type Sender interface {
	Send(connID string, data []byte) error
	BroadcastExcept(exceptID string, data []byte)
}

// LogSyncer persists accepted messages and hydrates new sessions.
// Implemented by chatlog.Synchronizer.
type LogSyncer interface {
	Append(ctx context.Context, entry chatlog.Entry) error
	Load(ctx context.Context) []chatlog.Entry
}

// Coordinator fans inbound events out to every other live session and drives
// asynchronous persistence. All handlers are safe for concurrent use; frames
// from one connection arrive serially, which is what preserves a sender's
// submission order in the fan-out.
type Coordinator struct {
	sender  Sender
	tracker *presence.Tracker
	logs    LogSyncer
	relay   func(data []byte) // optional cross-instance relay, may be nil
}

// NewCoordinator creates a Coordinator over the given sender, presence
// tracker, and log synchronizer.
func NewCoordinator(sender Sender, tracker *presence.Tracker, logs LogSyncer) *Coordinator {
	return &Coordinator{sender: sender, tracker: tracker, logs: logs}
}

// SetRelay registers a cross-instance relay. Every frame fanned out to local
// sessions is also handed to the relay so peer server instances can deliver
// it to their own clients.
func (c *Coordinator) SetRelay(relay func(data []byte)) {
	c.relay = relay
}

// fanOut delivers a frame to every live session except the originator, and
// mirrors it to the relay when one is configured.
func (c *Coordinator) fanOut(exceptID string, data []byte) {
	c.sender.BroadcastExcept(exceptID, data)
	if c.relay != nil {
		c.relay(data)
	}
}

// HandleConnect admits the connection into the presence tracker and hydrates
// it with the persisted chat history. The remote fetch happens in the
// background so a slow or unreachable store never stalls the accept path; on
// failure the client receives an empty log, not an error.
func (c *Coordinator) HandleConnect(connID string) {
	c.tracker.Admit(connID)
	metrics.ConnectionsTotal.Inc()

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), hydrateTimeout)
		defer cancel()

		entries := c.logs.Load(ctx)
		data, err := protocol.NewServerMessage(protocol.TypeChatLog, protocol.ChatLogMsg{Log: entries})
		if err != nil {
			log.Printf("chat: failed to build chat log for %s: %v", connID, err)
			return
		}
		if err := c.sender.Send(connID, data); err != nil {
			log.Printf("chat: failed to send chat log to %s: %v", connID, err)
		}
	}()
}

// HandleAddUser names the session. Only the first add user per session
// succeeds; duplicates and operations on dead sessions are silent no-ops, as
// the protocol has no error acks for them. On success the caller gets a
// login event and everyone else a user joined event.
func (c *Coordinator) HandleAddUser(connID, username string) {
	if err := ValidateUsername(username); err != nil {
		c.sendError(connID, "invalid_username", err.Error())
		return
	}

	count, err := c.tracker.Name(connID, username)
	if err != nil {
		log.Printf("chat: add user rejected for %s: %v", connID, err)
		return
	}
	metrics.NamedUsers.Set(float64(count))

	if data, err := protocol.NewServerMessage(protocol.TypeLogin, protocol.LoginMsg{NumUsers: count}); err == nil {
		if err := c.sender.Send(connID, data); err != nil {
			log.Printf("chat: failed to send login to %s: %v", connID, err)
		}
	}

	joined, err := protocol.NewServerMessage(protocol.TypeUserJoined, protocol.UserJoinedMsg{
		Username: username,
		NumUsers: count,
	})
	if err != nil {
		log.Printf("chat: failed to build user joined: %v", err)
		return
	}
	c.fanOut(connID, joined)

	log.Printf("chat: user joined username=%q session=%s num_users=%d", username, connID, count)
}

// HandleNewMessage accepts a chat message from a named session, fans it out
// to every other session, and then persists it asynchronously. A message
// from an unnamed or unknown session is rejected without broadcast or
// persistence.
func (c *Coordinator) HandleNewMessage(connID, text string) {
	sess := c.tracker.Get(connID)
	if sess == nil || !sess.IsNamed() {
		log.Printf("chat: message from unnamed session %s rejected", connID)
		return
	}
	if err := ValidateMessage(text); err != nil {
		c.sendError(connID, "invalid_message", err.Error())
		return
	}
	metrics.MessagesTotal.WithLabelValues("received").Inc()

	entry := chatlog.NewEntry(sess.Username, text)

	// Fan out first. Real-time delivery is independent of persistence and
	// must not wait on the remote store's round trip.
	data, err := protocol.NewServerMessage(protocol.TypeNewMessage, protocol.ServerNewMessageMsg{
		Username: entry.Username,
		Message:  entry.Message,
	})
	if err != nil {
		log.Printf("chat: failed to build new message: %v", err)
		return
	}
	c.fanOut(connID, data)
	metrics.MessagesTotal.WithLabelValues("broadcast").Inc()

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
		defer cancel()

		if err := c.logs.Append(ctx, entry); err != nil {
			log.Printf("chat: persistence abandoned for message from %q: %v", entry.Username, err)
		}
	}()
}

// HandleTyping relays a typing indicator from a named session to all other
// sessions. Nothing is retained server-side and nothing is persisted.
func (c *Coordinator) HandleTyping(connID string) {
	c.relayTyping(connID, protocol.TypeTyping)
}

// HandleStopTyping relays the end of typing to all other sessions.
func (c *Coordinator) HandleStopTyping(connID string) {
	c.relayTyping(connID, protocol.TypeStopTyping)
}

func (c *Coordinator) relayTyping(connID, msgType string) {
	sess := c.tracker.Get(connID)
	if sess == nil || !sess.IsNamed() {
		return
	}

	var (
		data []byte
		err  error
	)
	if msgType == protocol.TypeTyping {
		data, err = protocol.NewServerMessage(msgType, protocol.ServerTypingMsg{Username: sess.Username})
	} else {
		data, err = protocol.NewServerMessage(msgType, protocol.ServerStopTypingMsg{Username: sess.Username})
	}
	if err != nil {
		log.Printf("chat: failed to build %q: %v", msgType, err)
		return
	}
	c.fanOut(connID, data)
}

// HandleDisconnect removes the session. If it had been named, everyone else
// is told the user left along with the updated count; an unnamed session
// leaving is invisible.
func (c *Coordinator) HandleDisconnect(connID string) {
	metrics.ConnectionsTotal.Dec()

	username, wasNamed, count := c.tracker.Remove(connID)
	if !wasNamed {
		return
	}
	metrics.NamedUsers.Set(float64(count))

	data, err := protocol.NewServerMessage(protocol.TypeUserLeft, protocol.UserLeftMsg{
		Username: username,
		NumUsers: count,
	})
	if err != nil {
		log.Printf("chat: failed to build user left: %v", err)
		return
	}
	c.fanOut(connID, data)

	log.Printf("chat: user left username=%q session=%s num_users=%d", username, connID, count)
}

func (c *Coordinator) sendError(connID, code, message string) {
	data, err := protocol.NewServerMessage(protocol.TypeError, protocol.ErrorMsg{
		Code:    code,
		Message: message,
	})
	if err != nil {
		log.Printf("chat: failed to build error message: %v", err)
		return
	}
	if err := c.sender.Send(connID, data); err != nil {
		log.Printf("chat: failed to send error to %s: %v", connID, err)
	}
}
