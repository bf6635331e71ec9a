package postgres

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/jackc/pgx/v5/pgconn"
	"go.opentelemetry.io/otel"

	"github.com/socialops/oversight-agent/internal/adapter/observability"
	"github.com/socialops/oversight-agent/internal/domain"
)

// DB bundles the pool with the shared breaker. All repos embed it.
type DB struct {
	Pool    PgxPool
	Breaker *Breaker
}

// NewDB wraps a pool with a fresh breaker.
func NewDB(pool PgxPool) *DB { return &DB{Pool: pool, Breaker: NewBreaker()} }

const (
	retryAttempts     = 3
	retryInitialDelay = 500 * time.Millisecond
	retryMaxDelay     = 4 * time.Second
)

// run executes fn under the breaker with bounded retry. Only connection,
// timeout, and OS errors are retried; everything else surfaces immediately.
func (d *DB) run(ctx context.Context, entity, op string, fn func(context.Context) error) error {
	ctx, span := otel.Tracer("repo."+entity).Start(ctx, entity+"."+op)
	defer span.End()
	if !d.Breaker.Allow() {
		observability.StoreCallsTotal.WithLabelValues(entity, op, "circuit_open").Inc()
		return fmt.Errorf("op=%s.%s: %w", entity, op, domain.ErrCircuitOpen)
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = retryInitialDelay
	bo.MaxInterval = retryMaxDelay

	var err error
	for attempt := 0; attempt < retryAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				err = ctx.Err()
				attempt = retryAttempts
			case <-time.After(bo.NextBackOff()):
			}
			if err != nil {
				break
			}
		}
		err = fn(ctx)
		if err == nil || !isRetryable(err) {
			break
		}
	}

	if err != nil {
		// NotFound is an answer, not a store failure.
		if errors.Is(err, domain.ErrNotFound) {
			d.Breaker.Success()
			observability.StoreCallsTotal.WithLabelValues(entity, op, "not_found").Inc()
			return fmt.Errorf("op=%s.%s: %w", entity, op, err)
		}
		d.Breaker.Failure()
		observability.StoreCallsTotal.WithLabelValues(entity, op, "error").Inc()
		return fmt.Errorf("op=%s.%s: %w", entity, op, err)
	}
	d.Breaker.Success()
	observability.StoreCallsTotal.WithLabelValues(entity, op, "ok").Inc()
	return nil
}

func isRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	var sysErr *os.SyscallError
	if errors.As(err, &sysErr) {
		return true
	}
	return pgconn.SafeToRetry(err)
}
