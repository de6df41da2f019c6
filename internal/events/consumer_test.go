package events

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/maltedev/price-updater/internal/database"
)

type MockStreamReader struct {
	mock.Mock
}

func (m *MockStreamReader) XGroupCreateMkStream(ctx context.Context, stream, group, start string) *redis.StatusCmd {
	args := m.Called(ctx, stream, group, start)
	cmd := redis.NewStatusCmd(ctx)
	if err := args.Error(0); err != nil {
		cmd.SetErr(err)
	}
	return cmd
}

func (m *MockStreamReader) XReadGroup(ctx context.Context, a *redis.XReadGroupArgs) *redis.XStreamSliceCmd {
	args := m.Called(ctx, a)
	cmd := redis.NewXStreamSliceCmd(ctx)
	if err := args.Error(1); err != nil {
		cmd.SetErr(err)
		return cmd
	}
	cmd.SetVal(args.Get(0).([]redis.XStream))
	return cmd
}

func (m *MockStreamReader) XAck(ctx context.Context, stream, group string, ids ...string) *redis.IntCmd {
	m.Called(ctx, stream, group, ids)
	cmd := redis.NewIntCmd(ctx)
	cmd.SetVal(1)
	return cmd
}

type recordingDelayer struct {
	waits  []time.Duration
	onWait func()
}

func (r *recordingDelayer) Wait(ctx context.Context, d time.Duration) error {
	r.waits = append(r.waits, d)
	if r.onWait != nil {
		r.onWait()
	}
	return nil
}

func streamEntry(t *testing.T, id, eventType string, payload PricePayload) redis.XMessage {
	t.Helper()
	body, err := json.Marshal(payload)
	require.NoError(t, err)
	data, err := json.Marshal(database.StreamMessage{
		ID:            "evt-" + id,
		Type:          eventType,
		AggregateType: "product",
		AggregateID:   payload.ProductID,
		Payload:       body,
	})
	require.NoError(t, err)
	return redis.XMessage{ID: id, Values: map[string]interface{}{"data": string(data), "type": eventType}}
}

func strPtr(s string) *string { return &s }

func testConsumer(reader StreamReader, handle Handler, delayer *recordingDelayer) *Consumer {
	return NewConsumer(reader, ConsumerConfig{Group: "price-watch", Name: "w-1"}, handle, delayer, slog.Default())
}

func TestDecodeMessage(t *testing.T) {
	msg := streamEntry(t, "1-0", EventPriceUpdated, PricePayload{ProductID: "101", Price: strPtr("99.9")})

	event, err := DecodeMessage(msg)
	require.NoError(t, err)
	assert.Equal(t, "1-0", event.MessageID)
	assert.Equal(t, EventPriceUpdated, event.Envelope.Type)
	assert.Equal(t, "101", event.Price.ProductID)
	require.NotNil(t, event.Price.Price)
	assert.Equal(t, "99.9", *event.Price.Price)

	_, err = DecodeMessage(redis.XMessage{ID: "2-0", Values: map[string]interface{}{}})
	assert.Error(t, err)

	_, err = DecodeMessage(redis.XMessage{ID: "3-0", Values: map[string]interface{}{"data": "{"}})
	assert.Error(t, err)
}

func TestConsumer_PollAcksHandledMessages(t *testing.T) {
	ctx := context.Background()
	reader := new(MockStreamReader)

	good := streamEntry(t, "1-0", EventPriceUpdated, PricePayload{ProductID: "101"})
	rejected := streamEntry(t, "2-0", EventPriceUpdated, PricePayload{ProductID: "102"})
	malformed := redis.XMessage{ID: "3-0", Values: map[string]interface{}{"data": "nope"}}

	reader.On("XReadGroup", ctx, mock.MatchedBy(func(a *redis.XReadGroupArgs) bool {
		return a.Group == "price-watch" && a.Consumer == "w-1" &&
			a.Streams[0] == database.DefaultPriceStream && a.Streams[1] == ">"
	})).Return([]redis.XStream{{Stream: database.DefaultPriceStream, Messages: []redis.XMessage{good, rejected, malformed}}}, nil)
	reader.On("XAck", ctx, database.DefaultPriceStream, "price-watch", []string{"1-0"}).Return()
	reader.On("XAck", ctx, database.DefaultPriceStream, "price-watch", []string{"3-0"}).Return()

	var handled []string
	c := testConsumer(reader, func(_ context.Context, e Event) error {
		handled = append(handled, e.Price.ProductID)
		if e.Price.ProductID == "102" {
			return errors.New("downstream unavailable")
		}
		return nil
	}, &recordingDelayer{})

	require.NoError(t, c.poll(ctx))
	assert.Equal(t, []string{"101", "102"}, handled)
	reader.AssertExpectations(t)
	reader.AssertNotCalled(t, "XAck", ctx, database.DefaultPriceStream, "price-watch", []string{"2-0"})
}

func TestConsumer_PollTreatsTimeoutAsEmpty(t *testing.T) {
	ctx := context.Background()
	reader := new(MockStreamReader)
	reader.On("XReadGroup", ctx, mock.Anything).Return(nil, redis.Nil)

	c := testConsumer(reader, func(context.Context, Event) error { return nil }, &recordingDelayer{})
	assert.NoError(t, c.poll(ctx))
}

func TestConsumer_RunBacksOffAndStops(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	reader := new(MockStreamReader)
	reader.On("XGroupCreateMkStream", ctx, database.DefaultPriceStream, "price-watch", "0").
		Return(errors.New("BUSYGROUP Consumer Group name already exists"))
	reader.On("XReadGroup", ctx, mock.Anything).Return(nil, errors.New("connection refused")).Once()

	delayer := &recordingDelayer{onWait: cancel}
	c := testConsumer(reader, func(context.Context, Event) error { return nil }, delayer)

	err := c.Run(ctx)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, []time.Duration{time.Second}, delayer.waits)
}

func TestConsumer_RunFailsOnGroupError(t *testing.T) {
	ctx := context.Background()
	reader := new(MockStreamReader)
	reader.On("XGroupCreateMkStream", ctx, database.DefaultPriceStream, "price-watch", "0").
		Return(errors.New("NOAUTH Authentication required"))

	c := testConsumer(reader, func(context.Context, Event) error { return nil }, &recordingDelayer{})
	err := c.Run(ctx)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "consumer group")
}
