package retention

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"time"

	"github.com/quantsphere/qmail/store"
)

const (
	// DefaultInterval is the time between sweeps.
	DefaultInterval = time.Hour
	// MaxErrors is how many consecutive failed sweeps Run tolerates.
	MaxErrors = 3

	jitterFactor = 0.1
)

// ErrTooManyErrors is returned by Run after MaxErrors consecutive failures.
var ErrTooManyErrors = errors.New("maximum sweep errors exceeded")

// Config configures a Sweeper.
type Config struct {
	// Retention is how long an identity stays revoked before its secret is
	// erased. Zero or negative disables purging.
	Retention time.Duration
	Interval  time.Duration
	Metrics   *Metrics
	Logger    *slog.Logger
	Now       func() time.Time
}

// Sweeper purges expired revoked identities from a store.
type Sweeper struct {
	store     store.Store
	retention time.Duration
	interval  time.Duration
	metrics   *Metrics
	logger    *slog.Logger
	now       func() time.Time
}

// New returns a Sweeper over st.
func New(st store.Store, cfg Config) *Sweeper {
	s := &Sweeper{
		store:     st,
		retention: cfg.Retention,
		interval:  cfg.Interval,
		metrics:   cfg.Metrics,
		logger:    cfg.Logger,
		now:       cfg.Now,
	}
	if s.interval <= 0 {
		s.interval = DefaultInterval
	}
	if s.metrics == nil {
		s.metrics = NewMetrics(nil)
	}
	if s.logger == nil {
		s.logger = slog.New(slog.DiscardHandler)
	}
	if s.now == nil {
		s.now = time.Now
	}
	return s
}

// Enabled reports whether a retention period is configured.
func (s *Sweeper) Enabled() bool {
	return s.retention > 0
}

// Sweep runs one pass and returns how many identities were purged. Each
// identity is purged in its own transaction; a failure on one does not stop
// the others, and the first such error is returned.
func (s *Sweeper) Sweep(ctx context.Context) (int, error) {
	if !s.Enabled() {
		return 0, nil
	}

	now := s.now()
	expired, err := s.store.RevokedBefore(ctx, now.Add(-s.retention))
	if err != nil {
		s.metrics.errors.Inc()
		return 0, fmt.Errorf("list revoked identities: %w", err)
	}

	purged := 0
	var firstErr error
	for _, ident := range expired {
		if err := ctx.Err(); err != nil {
			return purged, err
		}
		err := s.store.Transact(ctx, store.PurgeIdentitySecret{ID: ident.ID, PurgedAt: now})
		if err != nil {
			s.logger.WarnContext(ctx, "purge failed", "identity_id", ident.ID, "error", err)
			if firstErr == nil {
				firstErr = fmt.Errorf("purge identity %s: %w", ident.ID, err)
			}
			continue
		}
		purged++
		s.metrics.purged.Inc()
		s.logger.InfoContext(ctx, "identity secret purged", "identity_id", ident.ID, "user_id", ident.UserID)
	}

	if firstErr != nil {
		s.metrics.errors.Inc()
		return purged, firstErr
	}
	s.metrics.lastSweep.Set(float64(now.Unix()))
	return purged, nil
}

// Run sweeps every interval until ctx is done. It returns nil on
// cancellation and ErrTooManyErrors after MaxErrors consecutive failed
// sweeps. With retention disabled it returns immediately.
func (s *Sweeper) Run(ctx context.Context) error {
	if !s.Enabled() {
		s.logger.InfoContext(ctx, "revoked key retention disabled")
		return nil
	}

	errCount := 0
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(s.wait()):
		}

		if _, err := s.Sweep(ctx); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			errCount++
			s.logger.ErrorContext(ctx, "sweep failed", "attempt", errCount, "max", MaxErrors, "error", err)
			if errCount >= MaxErrors {
				return ErrTooManyErrors
			}
			continue
		}
		errCount = 0
	}
}

func (s *Sweeper) wait() time.Duration {
	jitter := time.Duration(rand.Float64() * jitterFactor * float64(s.interval))
	return s.interval + jitter
}
