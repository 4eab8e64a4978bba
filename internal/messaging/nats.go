// Package messaging provides a NATS-backed relay for fanning chat room
// events across server instances. Each instance publishes the frames it fans
// out locally; peer instances deliver them to their own connected clients.
// The relay is optional: a single-instance deployment runs without NATS.
package messaging

import (
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/nats-io/nats.go"
)

// SubjectRoomEvents is the subject all instances share for the single chat
// room.
const SubjectRoomEvents = "chat.room.events"

// RoomEvent wraps a fan-out frame with the originating instance name so
// instances can ignore their own publications.
type RoomEvent struct {
	Origin string          `json:"origin"`
	Frame  json.RawMessage `json:"frame"`
}

// RelayConfig holds NATS connection settings.
type RelayConfig struct {
	URL           string        // nats://localhost:4222
	Name          string        // instance name, used as event origin
	ReconnectWait time.Duration // time between reconnect attempts
	MaxReconnects int           // max reconnect attempts (-1 for infinite)
}

// DefaultRelayConfig returns sensible defaults.
func DefaultRelayConfig() RelayConfig {
	return RelayConfig{
		URL:           "nats://localhost:4222",
		Name:          "chat-1",
		ReconnectWait: 2 * time.Second,
		MaxReconnects: -1,
	}
}

// Relay wraps the NATS connection for publishing and receiving room events.
type Relay struct {
	conn   *nats.Conn
	origin string
	sub    *nats.Subscription
}

// NewRelay connects to NATS with the given config and returns a ready relay.
// It returns an error if the initial connection fails.
func NewRelay(config RelayConfig) (*Relay, error) {
	opts := []nats.Option{
		nats.Name(config.Name),
		nats.ReconnectWait(config.ReconnectWait),
		nats.MaxReconnects(config.MaxReconnects),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				log.Printf("[nats] disconnected: %v", err)
			} else {
				log.Printf("[nats] disconnected")
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Printf("[nats] reconnected to %s", nc.ConnectedUrl())
		}),
		nats.ClosedHandler(func(_ *nats.Conn) {
			log.Printf("[nats] connection closed")
		}),
	}

	nc, err := nats.Connect(config.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("nats connect: %w", err)
	}

	log.Printf("[nats] connected to %s as %s", nc.ConnectedUrl(), config.Name)

	return &Relay{conn: nc, origin: config.Name}, nil
}

// PublishFrame publishes a fan-out frame to the room subject, tagged with
// this instance's origin. Publish failures are logged, not propagated: the
// local fan-out already happened and must not be rolled back.
func (r *Relay) PublishFrame(frame []byte) {
	event, err := json.Marshal(RoomEvent{Origin: r.origin, Frame: frame})
	if err != nil {
		log.Printf("[nats] encode room event: %v", err)
		return
	}
	if err := r.conn.Publish(SubjectRoomEvents, event); err != nil {
		log.Printf("[nats] publish room event: %v", err)
	}
}

// SubscribeFrames registers a handler for frames published by other
// instances. Events originating from this instance are filtered out.
func (r *Relay) SubscribeFrames(handler func(frame []byte)) error {
	sub, err := r.conn.Subscribe(SubjectRoomEvents, func(msg *nats.Msg) {
		var event RoomEvent
		if err := json.Unmarshal(msg.Data, &event); err != nil {
			log.Printf("[nats] decode room event: %v", err)
			return
		}
		if event.Origin == r.origin {
			return // don't echo our own events
		}
		handler(event.Frame)
	})
	if err != nil {
		return fmt.Errorf("nats subscribe %s: %w", SubjectRoomEvents, err)
	}
	r.sub = sub
	return nil
}

// Close drains the subscription and the NATS connection.
func (r *Relay) Close() {
	if r.sub != nil {
		if err := r.sub.Drain(); err != nil {
			log.Printf("[nats] drain %s: %v", SubjectRoomEvents, err)
		}
	}
	if err := r.conn.Drain(); err != nil {
		log.Printf("[nats] connection drain: %v", err)
	}
	log.Printf("[nats] relay closed")
}
