// Package dispatch turns record change notifications into WebSocket
// broadcasts. Each topic is bound once, at construction, to the handler for
// its record type.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/Tyrowin/notifyws/internal/broadcast"
	"github.com/Tyrowin/notifyws/internal/domain"
	"github.com/Tyrowin/notifyws/internal/metrics"
	"github.com/Tyrowin/notifyws/internal/presence"
	"github.com/Tyrowin/notifyws/internal/serializer"
)

// ErrUnknownTopic is returned when no handler is bound to a topic.
var ErrUnknownTopic = errors.New("unknown topic")

// Topic names, one per record type and operation.
const (
	TopicUsersCreate    = "api:users:create"
	TopicUsersUpdate    = "api:users:update"
	TopicRoomsCreate    = "api:rooms:create"
	TopicRoomsUpdate    = "api:rooms:update"
	TopicMessagesCreate = "api:messages:create"
	TopicMessagesUpdate = "api:messages:update"
)

// Event is one change notification.
type Event struct {
	Record  domain.Record `json:"record"`
	Context EventContext  `json:"context"`
}

// EventContext carries the request that caused the change, if any.
type EventContext struct {
	Request struct {
		Meta *struct {
			Headers map[string]string `json:"headers"`
		} `json:"meta,omitempty"`
	} `json:"request"`
}

// Origin returns the change origin used for authorship checks. Events without
// request metadata come from code.
func (e Event) Origin() broadcast.Origin {
	meta := e.Context.Request.Meta
	if meta == nil || meta.Headers == nil {
		return broadcast.Origin{}
	}
	return broadcast.Origin{Headers: meta.Headers}
}

// Presence is the view of the presence manager the handlers need.
type Presence interface {
	ConnectionsInRoom(roomID string) []*presence.Connection
	Connections() []*presence.Connection
	ConnectionsForUsers(userIDs []string) []*presence.Connection
	ResyncRoom(roomID string, userIDs []string)
	SyncUserRooms(userID string, rooms []string) *presence.Connection
}

// Broadcaster delivers one payload to many connections.
type Broadcaster interface {
	Fanout(ctx context.Context, conns []*presence.Connection, payload []byte, origin broadcast.Origin) map[broadcast.Outcome]int
}

// HandlerFunc handles one change event.
type HandlerFunc func(ctx context.Context, ev Event) error

// Dispatcher routes change events to their record handler.
type Dispatcher struct {
	presence    Presence
	broadcaster Broadcaster
	routes      map[string]HandlerFunc
	topics      []string
	tracer      trace.Tracer
	log         zerolog.Logger
}

// New creates a dispatcher with a handler bound to every topic.
func New(p Presence, b Broadcaster, log zerolog.Logger) *Dispatcher {
	d := &Dispatcher{
		presence:    p,
		broadcaster: b,
		routes:      make(map[string]HandlerFunc),
		tracer:      otel.Tracer("github.com/Tyrowin/notifyws/internal/dispatch"),
		log:         log.With().Str("component", "dispatch").Logger(),
	}

	handlers := []struct {
		resource string
		handle   HandlerFunc
	}{
		{"users", d.handleUser},
		{"rooms", d.handleRoom},
		{"messages", d.handleMessage},
	}
	for _, h := range handlers {
		for _, op := range []string{"create", "update"} {
			topic := "api:" + h.resource + ":" + op
			d.routes[topic] = h.handle
			d.topics = append(d.topics, topic)
		}
	}
	return d
}

// Topics returns every topic the dispatcher handles.
func (d *Dispatcher) Topics() []string {
	return append([]string(nil), d.topics...)
}

// Dispatch runs the handler bound to topic.
func (d *Dispatcher) Dispatch(ctx context.Context, topic string, ev Event) error {
	handle, ok := d.routes[topic]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownTopic, topic)
	}

	ctx, span := d.tracer.Start(ctx, "dispatch "+topic,
		trace.WithSpanKind(trace.SpanKindConsumer),
		trace.WithAttributes(
			attribute.String("notify.topic", topic),
			attribute.String("notify.record_id", ev.Record.ID()),
		),
	)
	defer span.End()

	metrics.ChangeEvents.WithLabelValues(topic).Inc()
	start := time.Now()
	err := handle(ctx, ev)
	metrics.FanoutDuration.WithLabelValues(topic).Observe(time.Since(start).Seconds())
	if err != nil {
		span.RecordError(err)
	}
	return err
}

// fanout serializes record only when there is someone to send it to.
func (d *Dispatcher) fanout(ctx context.Context, conns []*presence.Connection, schema serializer.Schema, ev Event) error {
	if len(conns) == 0 {
		return nil
	}
	payload, err := schema.Serialize(ev.Record)
	if err != nil {
		return fmt.Errorf("serialize %s %s: %w", schema.Type, ev.Record.ID(), err)
	}

	counts := d.broadcaster.Fanout(ctx, conns, payload, ev.Origin())
	d.log.Debug().
		Str("type", schema.Type).
		Str("record_id", ev.Record.ID()).
		Int("recipients", len(conns)).
		Interface("outcomes", counts).
		Msg("change broadcast")
	return nil
}

// handleMessage notifies the local members of the message's room.
func (d *Dispatcher) handleMessage(ctx context.Context, ev Event) error {
	conns := d.presence.ConnectionsInRoom(ev.Record.String("room"))
	return d.fanout(ctx, conns, serializer.MessageSchema, ev)
}

// handleRoom resyncs the room membership from the record, then notifies the
// connected members of the new list.
func (d *Dispatcher) handleRoom(ctx context.Context, ev Event) error {
	members := ev.Record.Strings("users")
	d.presence.ResyncRoom(ev.Record.ID(), members)

	conns := d.presence.ConnectionsForUsers(members)
	return d.fanout(ctx, conns, serializer.RoomSchema, ev)
}

// handleUser adds the user's connection to its listed rooms, then notifies
// every connected user of the profile change.
func (d *Dispatcher) handleUser(ctx context.Context, ev Event) error {
	d.presence.SyncUserRooms(ev.Record.ID(), ev.Record.Strings("rooms"))

	return d.fanout(ctx, d.presence.Connections(), serializer.UserSchema, ev)
}
