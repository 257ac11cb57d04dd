package broker

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/cenkalti/backoff/v4"
	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeReader struct {
	mu        sync.Mutex
	pending   []kafka.Message
	committed []int64
}

func (r *fakeReader) FetchMessage(ctx context.Context) (kafka.Message, error) {
	r.mu.Lock()
	if len(r.pending) > 0 {
		msg := r.pending[0]
		r.pending = r.pending[1:]
		r.mu.Unlock()
		return msg, nil
	}
	r.mu.Unlock()
	<-ctx.Done()
	return kafka.Message{}, ctx.Err()
}

func (r *fakeReader) CommitMessages(_ context.Context, msgs ...kafka.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, m := range msgs {
		r.committed = append(r.committed, m.Offset)
	}
	return nil
}

func (r *fakeReader) Close() error { return nil }

func newTestConsumer(offsets ...int64) (*Consumer, *fakeReader) {
	reader := &fakeReader{}
	for _, o := range offsets {
		reader.pending = append(reader.pending, kafka.Message{Offset: o})
	}
	return &Consumer{
		reader:     reader,
		topic:      "ledger-events",
		newBackOff: func() backoff.BackOff { return &backoff.ZeroBackOff{} },
	}, reader
}

func TestStartConsumingRetriesFailedMessageBeforeCommitting(t *testing.T) {
	consumer, reader := newTestConsumer(0, 1, 2)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var handled []int64
	failures := 0
	err := consumer.StartConsuming(ctx, func(_ context.Context, msg kafka.Message) error {
		if msg.Offset == 1 && failures < 2 {
			failures++
			return errors.New("database unavailable")
		}
		handled = append(handled, msg.Offset)
		if msg.Offset == 2 {
			cancel()
		}
		return nil
	})

	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 2, failures)
	assert.Equal(t, []int64{0, 1, 2}, handled)
	require.Equal(t, []int64{0, 1, 2}, reader.committed)
}

func TestStartConsumingSkipsPermanentFailures(t *testing.T) {
	consumer, reader := newTestConsumer(0, 1)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	calls := 0
	err := consumer.StartConsuming(ctx, func(_ context.Context, msg kafka.Message) error {
		calls++
		if msg.Offset == 0 {
			return backoff.Permanent(errors.New("not json"))
		}
		cancel()
		return nil
	})

	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 2, calls)
	assert.Equal(t, []int64{0, 1}, reader.committed)
}

func TestStartConsumingStopsRetryingWhenCancelled(t *testing.T) {
	consumer, reader := newTestConsumer(0)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	attempts := 0
	err := consumer.StartConsuming(ctx, func(context.Context, kafka.Message) error {
		attempts++
		if attempts == 3 {
			cancel()
		}
		return errors.New("database unavailable")
	})

	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, reader.committed)
}
