package changefeed

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"food-ordering-kiosk/internal/entity"

	"github.com/rs/zerolog"
	"github.com/segmentio/kafka-go"
)

const (
	CartTopic  = "cart-changes"
	OrderTopic = "order-topic"
)

// MessageWriter is satisfied by *kafka.Writer.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
}

// MessageReader is satisfied by *kafka.Reader.
type MessageReader interface {
	ReadMessage(ctx context.Context) (kafka.Message, error)
}

// Publisher writes cart change notifications and order events.
type Publisher struct {
	changes MessageWriter
	orders  MessageWriter
}

// NewPublisher accepts nil writers; publishing to a missing topic is a no-op.
func NewPublisher(changes, orders MessageWriter) *Publisher {
	return &Publisher{changes: changes, orders: orders}
}

// PublishChange keys the message "<table>.<type>.<user_id>" so all changes of
// one user land on the same partition in order.
func (p *Publisher) PublishChange(ctx context.Context, evt entity.ChangeEvent) error {
	if p.changes == nil {
		return nil
	}
	value, err := json.Marshal(evt)
	if err != nil {
		return err
	}
	return p.changes.WriteMessages(ctx, kafka.Message{
		Key:   []byte(fmt.Sprintf("%s.%s.%s", evt.Table, evt.Type, evt.UserID)),
		Value: value,
	})
}

// PublishOrder keys the message "order-<event>-<id>", e.g. order-created-1f2e.
func (p *Publisher) PublishOrder(ctx context.Context, evt entity.OrderEvent) error {
	if p.orders == nil {
		return nil
	}
	value, err := json.Marshal(evt)
	if err != nil {
		return err
	}
	return p.orders.WriteMessages(ctx, kafka.Message{
		Key:   []byte(fmt.Sprintf("order-%s-%s", evt.Event, evt.Order.ID)),
		Value: value,
	})
}

// Decode reads a change event. Fields missing from the payload are taken from
// the "<table>.<type>.<user_id>" message key.
func Decode(msg kafka.Message) (entity.ChangeEvent, error) {
	var evt entity.ChangeEvent
	if err := json.Unmarshal(msg.Value, &evt); err != nil {
		return evt, err
	}
	parts := strings.SplitN(string(msg.Key), ".", 3)
	if len(parts) == 3 {
		if evt.Table == "" {
			evt.Table = parts[0]
		}
		if evt.Type == "" {
			evt.Type = entity.ChangeType(parts[1])
		}
		if evt.UserID == "" {
			evt.UserID = parts[2]
		}
	}
	if evt.Table == "" {
		return evt, errors.New("change event has no table")
	}
	return evt, nil
}

type Predicate func(entity.ChangeEvent) bool

// ForUser matches changes to the cart table of whoever current returns at the
// time the event arrives.
func ForUser(current func() string) Predicate {
	return func(evt entity.ChangeEvent) bool {
		userID := current()
		return userID != "" && evt.Table == "cart_items" && evt.UserID == userID
	}
}

// Feed consumes change notifications and hands matching ones to a handler.
type Feed struct {
	reader MessageReader
	match  Predicate
	handle func(entity.ChangeEvent)
	logger zerolog.Logger
}

func NewFeed(reader MessageReader, match Predicate, handle func(entity.ChangeEvent), logger zerolog.Logger) *Feed {
	if match == nil {
		match = func(entity.ChangeEvent) bool { return true }
	}
	return &Feed{
		reader: reader,
		match:  match,
		handle: handle,
		logger: logger.With().Str("component", "changefeed").Logger(),
	}
}

// Run reads until ctx is done or the reader is closed.
func (f *Feed) Run(ctx context.Context) error {
	for {
		msg, err := f.reader.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, io.EOF) {
				return nil
			}
			f.logger.Error().Err(err).Msg("Error reading message")
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(time.Second):
			}
			continue
		}
		f.process(msg)
	}
}

func (f *Feed) process(msg kafka.Message) {
	evt, err := Decode(msg)
	if err != nil {
		f.logger.Error().Err(err).Msgf("Error decoding message %s", string(msg.Key))
		return
	}
	if !f.match(evt) {
		return
	}
	f.handle(evt)
}
