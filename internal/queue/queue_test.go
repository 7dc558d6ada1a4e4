package queue

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"changeguard/internal/domain"
	"changeguard/internal/testutil"
)

func TestJobCodec(t *testing.T) {
	t.Parallel()

	raw, err := encodeJob(domain.SimulationJob{ChangeID: "c1", SimulationID: "s1"})
	require.NoError(t, err)
	assert.JSONEq(t, `{"change_id":"c1","simulation_id":"s1"}`, string(raw))

	tests := []struct {
		name    string
		raw     string
		wantErr bool
	}{
		{name: "valid", raw: `{"change_id":"c1","simulation_id":"s1"}`},
		{name: "missing simulation", raw: `{"change_id":"c1"}`, wantErr: true},
		{name: "not json", raw: `change c1`, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			job, err := decodeJob([]byte(tt.raw))
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, domain.SimulationJob{ChangeID: "c1", SimulationID: "s1"}, job)
		})
	}

	_, err = encodeJob(domain.SimulationJob{ChangeID: "c1"})
	var validation *domain.ValidationError
	require.ErrorAs(t, err, &validation)
}

func TestMemoryQueue_DeliversAllJobs(t *testing.T) {
	t.Parallel()

	q := NewMemoryQueue(16, 4, testutil.DiscardLogger())
	for i := range 10 {
		require.NoError(t, q.Enqueue(context.Background(), domain.SimulationJob{
			ChangeID:     "c1",
			SimulationID: string(rune('a' + i)),
		}))
	}
	q.Close()

	var (
		mu   sync.Mutex
		seen = map[string]bool{}
	)
	err := q.Run(context.Background(), func(_ context.Context, job domain.SimulationJob) error {
		mu.Lock()
		defer mu.Unlock()
		seen[job.SimulationID] = true
		return nil
	})
	require.NoError(t, err)
	assert.Len(t, seen, 10)
}

func TestMemoryQueue_HandlerFailuresDoNotStopPool(t *testing.T) {
	t.Parallel()

	q := NewMemoryQueue(8, 2, testutil.DiscardLogger())
	jobs := []domain.SimulationJob{
		{ChangeID: "c1", SimulationID: "error"},
		{ChangeID: "c1", SimulationID: "panic"},
		{ChangeID: "c1", SimulationID: "ok"},
	}
	for _, job := range jobs {
		require.NoError(t, q.Enqueue(context.Background(), job))
	}
	q.Close()

	var handled atomic.Int32
	err := q.Run(context.Background(), func(_ context.Context, job domain.SimulationJob) error {
		handled.Add(1)
		switch job.SimulationID {
		case "error":
			return errors.New("simulation failed")
		case "panic":
			panic("unexpected")
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, int32(3), handled.Load())
}

func TestMemoryQueue_Full(t *testing.T) {
	t.Parallel()

	q := NewMemoryQueue(1, 1, testutil.DiscardLogger())
	job := domain.SimulationJob{ChangeID: "c1", SimulationID: "s1"}

	require.NoError(t, q.Enqueue(context.Background(), job))
	require.ErrorIs(t, q.Enqueue(context.Background(), job), ErrQueueFull)

	q.Close()
	require.ErrorIs(t, q.Enqueue(context.Background(), job), ErrQueueClosed)
}

func TestMemoryQueue_StopsOnCancel(t *testing.T) {
	t.Parallel()

	q := NewMemoryQueue(4, 1, testutil.DiscardLogger())
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() {
		done <- q.Run(ctx, func(context.Context, domain.SimulationJob) error { return nil })
	}()

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestProcess_RecoversPanic(t *testing.T) {
	t.Parallel()

	err := process(context.Background(), BackendMemory, func(context.Context, domain.SimulationJob) error {
		panic("boom")
	}, domain.SimulationJob{ChangeID: "c1", SimulationID: "s1"}, testutil.DiscardLogger())

	require.Error(t, err)
	assert.Contains(t, err.Error(), "boom")
}
