package queue

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"changeguard/internal/domain"
	"changeguard/internal/testutil"
)

// fakeReader serves messages from a channel and records commits.
type fakeReader struct {
	msgs     chan kafka.Message
	fetchErr error
	fetches  atomic.Int32

	mu        sync.Mutex
	committed []int64
}

func newFakeReader() *fakeReader {
	return &fakeReader{msgs: make(chan kafka.Message, 8)}
}

func (r *fakeReader) FetchMessage(ctx context.Context) (kafka.Message, error) {
	r.fetches.Add(1)
	if r.fetchErr != nil {
		return kafka.Message{}, r.fetchErr
	}
	select {
	case <-ctx.Done():
		return kafka.Message{}, ctx.Err()
	case msg := <-r.msgs:
		return msg, nil
	}
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

func (r *fakeReader) commits() []int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]int64(nil), r.committed...)
}

func jobMessage(t *testing.T, offset int64) kafka.Message {
	t.Helper()
	value, err := encodeJob(domain.SimulationJob{ChangeID: "c1", SimulationID: "s1"})
	require.NoError(t, err)
	return kafka.Message{Offset: offset, Value: value}
}

func runConsumer(ctx context.Context, c *KafkaConsumer, handler Handler) <-chan error {
	done := make(chan error, 1)
	go func() { done <- c.Run(ctx, handler) }()
	return done
}

func waitDone(t *testing.T, done <-chan error) {
	t.Helper()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return")
	}
}

func TestKafkaConsumer_InFlightJobSurvivesShutdown(t *testing.T) {
	t.Parallel()

	reader := newFakeReader()
	c := &KafkaConsumer{reader: reader, logger: testutil.DiscardLogger(), drainTimeout: 5 * time.Second, fetchBackoff: time.Millisecond}

	started := make(chan struct{})
	release := make(chan struct{})
	var handlerErr atomic.Value
	handler := func(ctx context.Context, _ domain.SimulationJob) error {
		close(started)
		<-release
		if err := ctx.Err(); err != nil {
			handlerErr.Store(err)
		}
		return nil
	}

	ctx, cancel := context.WithCancel(context.Background())
	reader.msgs <- jobMessage(t, 7)
	done := runConsumer(ctx, c, handler)

	<-started
	cancel()
	close(release)
	waitDone(t, done)

	assert.Nil(t, handlerErr.Load(), "handler context must outlive the fetch context")
	assert.Equal(t, []int64{7}, reader.commits())
}

func TestKafkaConsumer_DrainDeadlineCancelsHandler(t *testing.T) {
	t.Parallel()

	reader := newFakeReader()
	c := &KafkaConsumer{reader: reader, logger: testutil.DiscardLogger(), drainTimeout: 50 * time.Millisecond, fetchBackoff: time.Millisecond}

	started := make(chan struct{})
	var handlerErr atomic.Value
	handler := func(ctx context.Context, _ domain.SimulationJob) error {
		close(started)
		<-ctx.Done()
		handlerErr.Store(ctx.Err())
		return ctx.Err()
	}

	ctx, cancel := context.WithCancel(context.Background())
	reader.msgs <- jobMessage(t, 3)
	done := runConsumer(ctx, c, handler)

	<-started
	cancel()
	waitDone(t, done)

	require.NotNil(t, handlerErr.Load())
	assert.ErrorIs(t, handlerErr.Load().(error), context.Canceled)
}

func TestKafkaConsumer_FetchErrorsBackOff(t *testing.T) {
	t.Parallel()

	reader := newFakeReader()
	reader.fetchErr = errors.New("dial tcp: connection refused")
	c := &KafkaConsumer{reader: reader, logger: testutil.DiscardLogger(), drainTimeout: time.Second, fetchBackoff: 20 * time.Millisecond}

	ctx, cancel := context.WithCancel(context.Background())
	done := runConsumer(ctx, c, func(context.Context, domain.SimulationJob) error { return nil })

	time.Sleep(200 * time.Millisecond)
	cancel()
	waitDone(t, done)

	// 20ms, 40ms, 80ms, 160ms: at most a handful of attempts in 200ms.
	fetches := reader.fetches.Load()
	assert.GreaterOrEqual(t, fetches, int32(2))
	assert.LessOrEqual(t, fetches, int32(6))
}

func TestKafkaConsumer_MalformedMessageIsCommitted(t *testing.T) {
	t.Parallel()

	reader := newFakeReader()
	c := &KafkaConsumer{reader: reader, logger: testutil.DiscardLogger(), drainTimeout: time.Second, fetchBackoff: time.Millisecond}

	var calls atomic.Int32
	ctx, cancel := context.WithCancel(context.Background())
	reader.msgs <- kafka.Message{Offset: 1, Value: []byte("{not json")}
	reader.msgs <- jobMessage(t, 2)
	done := runConsumer(ctx, c, func(context.Context, domain.SimulationJob) error {
		calls.Add(1)
		return nil
	})

	require.Eventually(t, func() bool { return len(reader.commits()) == 2 }, 5*time.Second, 5*time.Millisecond)
	cancel()
	waitDone(t, done)

	assert.Equal(t, []int64{1, 2}, reader.commits())
	assert.Equal(t, int32(1), calls.Load())
}
