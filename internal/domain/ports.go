package domain

import (
	"context"
	"time"
)

// JobQueue accepts simulation jobs for asynchronous execution. Delivery is
// at least once.
// Implemented by queue.MemoryQueue and queue.KafkaProducer.
type JobQueue interface {
	Enqueue(ctx context.Context, job SimulationJob) error
}

// Leaser is a best-effort, time-bounded mutual exclusion primitive.
// Implemented by lease.SQLiteLeaser and lease.RedisLeaser.
type Leaser interface {
	// Acquire takes the lease for key. It returns ErrLeaseHeld when another
	// holder owns an unexpired lease.
	Acquire(ctx context.Context, key string, ttl time.Duration) (token string, err error)
	// Release gives up the lease if token still owns it.
	Release(ctx context.Context, key, token string) error
}

// TrafficSource loads the historical traffic sample used by simulations.
// Implementations wrap ErrTrafficUnavailable when the sample cannot be reached.
type TrafficSource interface {
	Load(ctx context.Context) ([]TrafficRecord, error)
}
