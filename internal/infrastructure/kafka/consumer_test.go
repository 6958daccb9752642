package kafka

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mdao/lm-indexer/internal/domain/cursor"
	"github.com/mdao/lm-indexer/internal/domain/event"
	"github.com/mdao/lm-indexer/internal/domain/validation"
	"github.com/mdao/lm-indexer/internal/feed"
)

type fakeReader struct {
	offset   int64
	messages []kafka.Message
	closed   bool
	cfg      kafka.ReaderConfig
}

func (r *fakeReader) SetOffset(offset int64) error {
	r.offset = offset
	return nil
}

func (r *fakeReader) FetchMessage(ctx context.Context) (kafka.Message, error) {
	if len(r.messages) == 0 {
		<-ctx.Done()
		return kafka.Message{}, ctx.Err()
	}
	msg := r.messages[0]
	r.messages = r.messages[1:]
	return msg, nil
}

func (r *fakeReader) Close() error {
	r.closed = true
	return nil
}

var testSub = cursor.Subscription{Name: "labor-markets-indexer", Namespace: "mdao-dev", Version: "0.0.1"}

func newTestSource(r *fakeReader) *Source {
	s := NewSource(SourceConfig{Brokers: []string{"localhost:9092"}, Topic: "events", Partition: 0, Limit: 5},
		slog.New(slog.NewTextHandler(io.Discard, nil)))
	s.newReader = func(cfg kafka.ReaderConfig) messageReader {
		r.cfg = cfg
		return r
	}
	return s
}

func envelope(t *testing.T, name string, args map[string]any) []byte {
	t.Helper()
	value, err := event.Encode(name, "0xabc", args)
	require.NoError(t, err)
	return value
}

func TestSourceStartOffset(t *testing.T) {
	tests := []struct {
		name string
		from cursor.Position
		want int64
	}{
		{name: "beginning", from: cursor.Beginning, want: kafka.FirstOffset},
		{name: "resume", from: 9, want: 10},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := &fakeReader{}
			stream, err := newTestSource(r).Subscribe(context.Background(), testSub, tt.from)
			require.NoError(t, err)
			defer stream.Close()

			assert.Equal(t, tt.want, r.offset)
			assert.Equal(t, "events", r.cfg.Topic)
			assert.Empty(t, r.cfg.GroupID)
			assert.Equal(t, 5, r.cfg.QueueCapacity)
		})
	}
}

func TestStreamDecodesMessages(t *testing.T) {
	r := &fakeReader{messages: []kafka.Message{
		{Offset: 0, Value: envelope(t, event.RequestCreated, map[string]any{"requestId": "1"})},
		{Offset: 1, Value: []byte("not json")},
		{Offset: 2, Value: envelope(t, event.RequestFulfilled, nil)},
	}}
	stream, err := newTestSource(r).Subscribe(context.Background(), testSub, cursor.Beginning)
	require.NoError(t, err)

	ctx := context.Background()
	first, err := stream.Next(ctx)
	require.NoError(t, err)
	assert.Equal(t, event.RequestCreated, first.Name)
	assert.Equal(t, "0xabc", first.TxHash)
	assert.Equal(t, cursor.Position(0), first.Position)
	assert.Equal(t, "1", first.Args["requestId"])

	broken, err := stream.Next(ctx)
	require.NoError(t, err)
	assert.Empty(t, broken.Name)
	assert.Equal(t, cursor.Position(1), broken.Position)

	third, err := stream.Next(ctx)
	require.NoError(t, err)
	assert.Equal(t, event.RequestFulfilled, third.Name)

	require.NoError(t, stream.Close())
	assert.True(t, r.closed)
	_, err = stream.Next(ctx)
	assert.ErrorIs(t, err, feed.ErrClosed)
}

func TestStreamKeepsNameOfEventWithMalformedArgs(t *testing.T) {
	r := &fakeReader{messages: []kafka.Message{
		{Offset: 0, Value: []byte(`{"decoded":{"name":"RequestFulfilled","args":["0xabc","1","paid"]},"txHash":"0x1"}`)},
	}}
	stream, err := newTestSource(r).Subscribe(context.Background(), testSub, cursor.Beginning)
	require.NoError(t, err)
	defer stream.Close()

	evt, err := stream.Next(context.Background())
	require.NoError(t, err)
	assert.Equal(t, event.RequestFulfilled, evt.Name)
	assert.Equal(t, "0x1", evt.TxHash)
	_, ok := validation.AsError(evt.ArgsErr)
	assert.True(t, ok)
}

func TestStreamRejectsRegressedOffset(t *testing.T) {
	r := &fakeReader{messages: []kafka.Message{
		{Offset: 4, Value: envelope(t, event.RequestCreated, nil)},
	}}
	stream, err := newTestSource(r).Subscribe(context.Background(), testSub, 4)
	require.NoError(t, err)

	_, err = stream.Next(context.Background())
	assert.ErrorIs(t, err, feed.ErrOutOfOrder)
}

func TestStreamHonoursContext(t *testing.T) {
	stream, err := newTestSource(&fakeReader{}).Subscribe(context.Background(), testSub, cursor.Beginning)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = stream.Next(ctx)
	assert.True(t, errors.Is(err, context.Canceled))
}

func TestSubscribeValidatesSubscription(t *testing.T) {
	_, err := newTestSource(&fakeReader{}).Subscribe(context.Background(), cursor.Subscription{Name: "x"}, cursor.Beginning)
	assert.Error(t, err)
}
