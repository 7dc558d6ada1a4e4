// Package app provides application-level wiring and dependency injection
// for ChangeGuard.
package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"

	"changeguard/internal/api"
	"changeguard/internal/config"
	"changeguard/internal/db/repository"
	"changeguard/internal/domain"
	"changeguard/internal/lease"
	"changeguard/internal/middleware"
	"changeguard/internal/queue"
	"changeguard/internal/service/audit"
	"changeguard/internal/service/change"
	"changeguard/internal/service/idempotency"
	"changeguard/internal/service/risk"
	"changeguard/internal/service/simulation"
	"changeguard/internal/traffic"
)

// Deps holds the external dependencies that main() must provide.
// The database pools are opened and migrated by the caller.
type Deps struct {
	Cfg     *config.Config
	WriteDB *sql.DB
	ReadDB  *sql.DB
	Logger  *slog.Logger
}

// Services groups the service pointers the API handler needs.
type Services struct {
	Changes     *change.Manager
	Risk        *risk.Service
	Simulations *simulation.Service
	Audit       *audit.Service
	Guard       *idempotency.Guard
}

// App holds the fully-wired application.
type App struct {
	Cfg        *config.Config
	Store      *repository.Store
	Services   Services
	Runner     *simulation.Runner
	Reconciler *simulation.Reconciler

	// Queue is the producer side of the job queue.
	Queue domain.JobQueue

	memQueue  *queue.MemoryQueue // nil unless QUEUE_BACKEND=memory
	closers   []func() error
	closeOnce sync.Once
	closeErr  error
	logger    *slog.Logger
}

// New wires repositories, services, the job queue, the lease backend and
// the traffic source from the provided deps.
func New(ctx context.Context, deps Deps) (*App, error) {
	cfg := deps.Cfg
	a := &App{
		Cfg:    cfg,
		Store:  repository.NewStore(deps.WriteDB, deps.ReadDB),
		logger: deps.Logger,
	}

	// === Job queue ===
	switch cfg.QueueBackend {
	case config.QueueKafka:
		producer := queue.NewKafkaProducer(cfg.Kafka.Brokers, cfg.Kafka.Topic)
		a.Queue = producer
		a.closers = append(a.closers, producer.Close)
	default:
		a.memQueue = queue.NewMemoryQueue(queue.DefaultBufferSize, cfg.WorkerConcurrency, deps.Logger)
		a.Queue = a.memQueue
	}

	// === Lease ===
	var leaser domain.Leaser
	switch cfg.LeaseBackend {
	case config.LeaseRedis:
		client, err := lease.NewRedisClient(ctx, cfg.RedisURL)
		if err != nil {
			_ = a.Close()
			return nil, err
		}
		a.closers = append(a.closers, client.Close)
		leaser = lease.NewRedisLeaser(client)
	default:
		leaser = lease.NewSQLiteLeaser(deps.WriteDB)
	}

	// === Traffic ===
	source, err := traffic.New(cfg.TrafficSource, traffic.S3Options{
		Region:    cfg.S3.Region,
		Endpoint:  cfg.S3.Endpoint,
		KeyID:     cfg.S3.KeyID,
		Secret:    cfg.S3.Secret,
		PathStyle: cfg.S3.PathStyle,
	})
	if err != nil {
		_ = a.Close()
		return nil, fmt.Errorf("traffic source: %w", err)
	}

	// === Services ===
	reads := a.Store.Reads()
	a.Services = Services{
		Changes:     change.NewManager(a.Store, reads, a.Queue, deps.Logger.With("component", "changes")),
		Risk:        risk.NewService(a.Store, reads, deps.Logger.With("component", "risk")),
		Simulations: simulation.NewService(reads),
		Audit:       audit.NewService(reads.Audit),
		Guard:       idempotency.NewGuard(a.Store, deps.Logger.With("component", "idempotency")),
	}
	a.Runner = simulation.NewRunner(a.Store, reads, source, leaser, cfg.LeaseTTL,
		deps.Logger.With("component", "simulation"))
	a.Reconciler = simulation.NewReconciler(cfg.ReconcileSchedule, reads, a.Queue, cfg.ReconcileStaleAfter,
		deps.Logger.With("component", "reconciler"))

	return a, nil
}

// Router builds the HTTP handler. ctx bounds background middleware work.
func (a *App) Router(ctx context.Context) (http.Handler, error) {
	var validator middleware.TokenValidator
	if a.Cfg.AuthEnabled() {
		v, err := middleware.NewHS256Validator(a.Cfg.JWTSecret)
		if err != nil {
			return nil, err
		}
		validator = v
	}

	h := api.NewHandler(api.Deps{
		Changes:     a.Services.Changes,
		Risk:        a.Services.Risk,
		Simulations: a.Services.Simulations,
		Audit:       a.Services.Audit,
		Guard:       a.Services.Guard,
		Store:       a.Store,
		Env:         a.Cfg.Env,
		Logger:      a.logger,
	})
	return api.NewRouter(ctx, h, api.RouterConfig{
		CORSAllowedOrigins: a.Cfg.CORSAllowedOrigins,
		RateLimit: middleware.RateLimitConfig{
			RequestsPerSecond: a.Cfg.RateLimitRPS,
			Burst:             a.Cfg.RateLimitBurst,
			TrustForwardedFor: a.Cfg.TrustForwardedFor,
		},
		Validator: validator,
		Logger:    a.logger,
	}), nil
}

// InProcessWorkers reports whether simulations run inside the API process.
func (a *App) InProcessWorkers() bool {
	return a.memQueue != nil
}

// RunWorkers consumes simulation jobs until ctx is cancelled. With the
// memory backend it drains the in-process queue; with Kafka it joins the
// consumer group.
func (a *App) RunWorkers(ctx context.Context) error {
	if a.memQueue != nil {
		return a.memQueue.Run(ctx, a.Runner.Handle)
	}

	consumer := queue.NewKafkaConsumer(a.Cfg.Kafka.Brokers, a.Cfg.Kafka.Topic, a.Cfg.Kafka.GroupID, queue.DefaultDrainTimeout, a.logger)
	defer consumer.Close() //nolint:errcheck
	return consumer.Run(ctx, a.Runner.Handle)
}

// Close stops accepting jobs and releases external clients. It is safe to
// call more than once.
func (a *App) Close() error {
	a.closeOnce.Do(func() {
		if a.memQueue != nil {
			a.memQueue.Close()
		}
		var errs []error
		for i := len(a.closers) - 1; i >= 0; i-- {
			if err := a.closers[i](); err != nil {
				errs = append(errs, err)
			}
		}
		a.closeErr = errors.Join(errs...)
	})
	return a.closeErr
}
