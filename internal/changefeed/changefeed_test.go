package changefeed

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"testing"

	"food-ordering-kiosk/internal/entity"

	"github.com/rs/zerolog"
	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type captureWriter struct {
	msgs []kafka.Message
}

func (w *captureWriter) WriteMessages(ctx context.Context, msgs ...kafka.Message) error {
	w.msgs = append(w.msgs, msgs...)
	return nil
}

type scriptedReader struct {
	msgs []kafka.Message
	errs []error
}

func (r *scriptedReader) ReadMessage(ctx context.Context) (kafka.Message, error) {
	if len(r.errs) > 0 {
		err := r.errs[0]
		r.errs = r.errs[1:]
		if err != nil {
			return kafka.Message{}, err
		}
	}
	if len(r.msgs) == 0 {
		return kafka.Message{}, io.EOF
	}
	msg := r.msgs[0]
	r.msgs = r.msgs[1:]
	return msg, nil
}

func TestPublishKeys(t *testing.T) {
	changes, orders := &captureWriter{}, &captureWriter{}
	p := NewPublisher(changes, orders)
	ctx := context.Background()

	require.NoError(t, p.PublishChange(ctx, entity.ChangeEvent{Table: "cart_items", Type: entity.ChangeUpdate, UserID: "u1", Origin: "kiosk-1"}))
	require.NoError(t, p.PublishOrder(ctx, entity.OrderEvent{Event: "created", Order: entity.Order{ID: "o9"}}))

	require.Len(t, changes.msgs, 1)
	assert.Equal(t, "cart_items.update.u1", string(changes.msgs[0].Key))
	evt, err := Decode(changes.msgs[0])
	require.NoError(t, err)
	assert.Equal(t, "kiosk-1", evt.Origin)

	require.Len(t, orders.msgs, 1)
	assert.Equal(t, "order-created-o9", string(orders.msgs[0].Key))
}

func TestPublishWithoutWriterIsNoop(t *testing.T) {
	p := NewPublisher(nil, nil)
	assert.NoError(t, p.PublishChange(context.Background(), entity.ChangeEvent{Table: "cart_items"}))
	assert.NoError(t, p.PublishOrder(context.Background(), entity.OrderEvent{Event: "created"}))
}

func TestDecodeFillsFromKey(t *testing.T) {
	evt, err := Decode(kafka.Message{Key: []byte("cart_items.delete.u7"), Value: []byte(`{"origin":"pos"}`)})
	require.NoError(t, err)
	assert.Equal(t, "cart_items", evt.Table)
	assert.Equal(t, entity.ChangeDelete, evt.Type)
	assert.Equal(t, "u7", evt.UserID)

	_, err = Decode(kafka.Message{Value: []byte(`{}`)})
	assert.Error(t, err)
	_, err = Decode(kafka.Message{Value: []byte(`not json`)})
	assert.Error(t, err)
}

func TestFeedFiltersAndSkipsMalformed(t *testing.T) {
	mine, _ := json.Marshal(entity.ChangeEvent{Table: "cart_items", Type: entity.ChangeInsert, UserID: "u1"})
	other, _ := json.Marshal(entity.ChangeEvent{Table: "cart_items", Type: entity.ChangeInsert, UserID: "u2"})
	reader := &scriptedReader{msgs: []kafka.Message{
		{Value: []byte("garbage")},
		{Value: other},
		{Value: mine},
	}}

	var got []entity.ChangeEvent
	feed := NewFeed(reader, ForUser(func() string { return "u1" }), func(evt entity.ChangeEvent) {
		got = append(got, evt)
	}, zerolog.Nop())

	require.NoError(t, feed.Run(context.Background()))
	require.Len(t, got, 1)
	assert.Equal(t, "u1", got[0].UserID)
}

func TestFeedStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	reader := &scriptedReader{errs: []error{errors.New("broker gone")}}

	feed := NewFeed(reader, nil, func(entity.ChangeEvent) { t.Fatal("unexpected event") }, zerolog.Nop())
	assert.NoError(t, feed.Run(ctx))
}

func TestForUserIgnoresAnonymous(t *testing.T) {
	match := ForUser(func() string { return "" })
	assert.False(t, match(entity.ChangeEvent{Table: "cart_items", UserID: ""}))
}
