// Package eventbus feeds change events from NATS into the dispatcher.
//
// Every instance subscribes without a queue group so that each one sees every
// event; an instance only acts on the sockets connected to it. Messages from
// all topics share one channel and are dispatched by a single goroutine, in
// the order they arrive.
package eventbus

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"

	"github.com/Tyrowin/notifyws/internal/dispatch"
)

const pendingEvents = 4096

// Dispatcher handles one decoded change event.
type Dispatcher interface {
	Topics() []string
	Dispatch(ctx context.Context, topic string, ev dispatch.Event) error
}

// Subscriber consumes the change-event topics of a Dispatcher.
type Subscriber struct {
	nc         *nats.Conn
	dispatcher Dispatcher
	log        zerolog.Logger

	mu   sync.Mutex
	subs []*nats.Subscription
	msgs chan *nats.Msg
	done chan struct{}
}

// NewSubscriber creates a subscriber. Nothing is consumed until Start.
func NewSubscriber(nc *nats.Conn, dispatcher Dispatcher, log zerolog.Logger) *Subscriber {
	return &Subscriber{
		nc:         nc,
		dispatcher: dispatcher,
		log:        log.With().Str("component", "eventbus").Logger(),
	}
}

// Start subscribes to every topic and begins dispatching.
func (s *Subscriber) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.msgs != nil {
		return errors.New("subscriber already started")
	}
	s.msgs = make(chan *nats.Msg, pendingEvents)
	s.done = make(chan struct{})

	for _, topic := range s.dispatcher.Topics() {
		sub, err := s.nc.ChanSubscribe(topic, s.msgs)
		if err != nil {
			s.unsubscribeLocked()
			return fmt.Errorf("subscribe %s: %w", topic, err)
		}
		s.subs = append(s.subs, sub)
		s.log.Info().Str("topic", topic).Msg("subscribed")
	}

	go s.loop(s.msgs, s.done)
	return nil
}

// Stop unsubscribes from every topic and waits for the event in flight.
func (s *Subscriber) Stop() {
	s.mu.Lock()
	msgs, done := s.msgs, s.done
	s.unsubscribeLocked()
	s.msgs = nil
	s.mu.Unlock()

	if msgs == nil {
		return
	}
	close(msgs)
	<-done
}

func (s *Subscriber) unsubscribeLocked() {
	for _, sub := range s.subs {
		if err := sub.Unsubscribe(); err != nil && !errors.Is(err, nats.ErrConnectionClosed) {
			s.log.Warn().Err(err).Str("topic", sub.Subject).Msg("unsubscribe failed")
		}
	}
	s.subs = nil
}

func (s *Subscriber) loop(msgs <-chan *nats.Msg, done chan<- struct{}) {
	defer close(done)
	for msg := range msgs {
		s.handle(msg)
	}
}

// handle decodes and dispatches one message. Errors are logged and the
// message is dropped; nothing is redelivered.
func (s *Subscriber) handle(msg *nats.Msg) {
	// Numbers stay json.Number so large ids survive the round trip.
	var ev dispatch.Event
	dec := json.NewDecoder(bytes.NewReader(msg.Data))
	dec.UseNumber()
	if err := dec.Decode(&ev); err != nil {
		s.log.Warn().Err(err).Str("topic", msg.Subject).Msg("invalid change event")
		return
	}

	ctx := context.Background()
	if msg.Header != nil {
		ctx = otel.GetTextMapPropagator().Extract(ctx, headerCarrier(msg.Header))
	}

	if err := s.dispatcher.Dispatch(ctx, msg.Subject, ev); err != nil {
		s.log.Error().
			Err(err).
			Str("topic", msg.Subject).
			Str("record_id", ev.Record.ID()).
			Msg("change event failed")
	}
}

// headerCarrier adapts nats.Header to propagation.TextMapCarrier.
type headerCarrier nats.Header

func (c headerCarrier) Get(key string) string { return nats.Header(c).Get(key) }

func (c headerCarrier) Set(key, value string) { nats.Header(c).Set(key, value) }

func (c headerCarrier) Keys() []string {
	keys := make([]string, 0, len(c))
	for k := range c {
		keys = append(keys, k)
	}
	return keys
}
