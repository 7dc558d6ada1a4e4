// Package idempotency deduplicates retried mutating requests. A request
// carrying a client key is answered from the stored response when the same
// key, endpoint and body were seen before.
package idempotency

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"changeguard/internal/domain"
	"changeguard/internal/metrics"
)

// MaxKeyLength bounds client-supplied keys.
const MaxKeyLength = 255

// Request identifies one guarded call.
type Request struct {
	Key         string
	Endpoint    string
	RequestHash string
}

// NewRequest builds a Request from the raw header value, the request path
// and the raw body. It returns nil, nil when key is empty: the call is not
// guarded.
func NewRequest(key, endpoint string, body []byte) (*Request, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return nil, nil
	}
	if len(key) > MaxKeyLength {
		return nil, domain.ErrValidation("Idempotency-Key must be at most %d characters", MaxKeyLength)
	}
	return &Request{Key: key, Endpoint: endpoint, RequestHash: HashBody(body)}, nil
}

// HashBody returns the hex SHA-256 of body.
func HashBody(body []byte) string {
	sum := sha256.Sum256(body)
	return hex.EncodeToString(sum[:])
}

// Response is what the client receives.
type Response struct {
	StatusCode int
	Body       []byte
	// Replayed is true when Body came from a stored record and the
	// operation did not run.
	Replayed bool
}

// Handler performs the guarded operation within the transaction and returns
// the status code and value to encode as the response body.
type Handler func(ctx context.Context, r domain.Repos) (status int, body any, err error)

// Guard runs handlers and their idempotency bookkeeping in one transaction.
type Guard struct {
	tx     domain.TxRunner
	logger *slog.Logger
}

// NewGuard creates a new Guard.
func NewGuard(tx domain.TxRunner, logger *slog.Logger) *Guard {
	return &Guard{tx: tx, logger: logger}
}

// Do runs fn unless req matches a stored record. The record lookup, fn and
// the record insert share a write transaction, so of two concurrent calls
// with the same key one replays and the other runs, or the second insert
// hits the (key, endpoint) unique constraint and is rejected with Conflict.
// A nil req runs fn in a transaction with no bookkeeping.
func (g *Guard) Do(ctx context.Context, req *Request, fn Handler) (*Response, error) {
	var (
		resp     *Response
		keyReuse bool
	)
	err := g.tx.InTx(ctx, func(ctx context.Context, r domain.Repos) error {
		if req != nil {
			replay, err := lookup(ctx, r, req)
			if err != nil {
				keyReuse = isConflict(err)
				return err
			}
			if replay != nil {
				resp = replay
				return nil
			}
		}

		status, value, err := fn(ctx, r)
		if err != nil {
			return err
		}
		body, err := json.Marshal(value)
		if err != nil {
			return fmt.Errorf("encode response: %w", err)
		}
		resp = &Response{StatusCode: status, Body: body}

		if req == nil {
			return nil
		}
		err = r.Idempotency.Create(ctx, &domain.IdempotencyRecord{
			Key:          req.Key,
			Endpoint:     req.Endpoint,
			RequestHash:  req.RequestHash,
			ResponseBody: body,
			StatusCode:   status,
		})
		keyReuse = isConflict(err)
		return err
	})
	if err != nil {
		if keyReuse {
			metrics.IdempotencyOutcomes.WithLabelValues("conflict").Inc()
		}
		return nil, err
	}

	if req != nil {
		outcome := "executed"
		if resp.Replayed {
			outcome = "replayed"
			g.logger.Info("idempotent replay", "endpoint", req.Endpoint, "status", resp.StatusCode)
		}
		metrics.IdempotencyOutcomes.WithLabelValues(outcome).Inc()
	}
	return resp, nil
}

func isConflict(err error) bool {
	var conflict *domain.ConflictError
	return errors.As(err, &conflict)
}

func lookup(ctx context.Context, r domain.Repos, req *Request) (*Response, error) {
	rec, err := r.Idempotency.Get(ctx, req.Key, req.Endpoint)
	if err != nil {
		var notFound *domain.NotFoundError
		if errors.As(err, &notFound) {
			return nil, nil
		}
		return nil, err
	}
	if rec.RequestHash != req.RequestHash {
		return nil, domain.ErrConflict("Idempotency key reuse with different payload")
	}
	return &Response{StatusCode: rec.StatusCode, Body: rec.ResponseBody, Replayed: true}, nil
}
