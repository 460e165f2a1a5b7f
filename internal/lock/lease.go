package lock

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// ErrHeld is returned when another holder owns an unexpired lease
var ErrHeld = errors.New("lease held by another process")

// Store persists lease rows
type Store interface {
	AcquireLease(ctx context.Context, name, holder string, ttl time.Duration) (bool, error)
	RenewLease(ctx context.Context, name, holder string, ttl time.Duration) (bool, error)
	ReleaseLease(ctx context.Context, name, holder string) error
}

// Lease is a named, expiring exclusive lock kept alive by its holder
type Lease struct {
	store  Store
	name   string
	holder string
	ttl    time.Duration
	logger zerolog.Logger
}

// New creates a lease with a unique holder id for this process
func New(store Store, name string, ttl time.Duration) *Lease {
	host, _ := os.Hostname()
	holder := fmt.Sprintf("%s:%d:%s", host, os.Getpid(), uuid.NewString())
	return &Lease{
		store:  store,
		name:   name,
		holder: holder,
		ttl:    ttl,
		logger: log.With().Str("component", "lease").Str("lease", name).Logger(),
	}
}

// Name returns the lease name
func (l *Lease) Name() string { return l.name }

// Holder returns the id this process holds the lease under
func (l *Lease) Holder() string { return l.holder }

// Acquire takes the lease or returns ErrHeld
func (l *Lease) Acquire(ctx context.Context) error {
	ok, err := l.store.AcquireLease(ctx, l.name, l.holder, l.ttl)
	if err != nil {
		return fmt.Errorf("acquiring lease %s: %w", l.name, err)
	}
	if !ok {
		return ErrHeld
	}
	l.logger.Info().Str("holder", l.holder).Dur("ttl", l.ttl).Msg("Lease acquired")
	return nil
}

// Release drops the lease. Safe to call when it was already lost.
func (l *Lease) Release(ctx context.Context) error {
	if err := l.store.ReleaseLease(ctx, l.name, l.holder); err != nil {
		return fmt.Errorf("releasing lease %s: %w", l.name, err)
	}
	l.logger.Info().Msg("Lease released")
	return nil
}

// KeepAlive renews the lease every ttl/3 until stop is called. The returned
// channel is closed if the lease is lost, either because another holder took
// it or because renewals kept failing until it expired.
func (l *Lease) KeepAlive(ctx context.Context) (lost <-chan struct{}, stop func()) {
	ctx, cancel := context.WithCancel(ctx)
	lostCh := make(chan struct{})

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		l.renewLoop(ctx, lostCh)
	}()

	var once sync.Once
	return lostCh, func() {
		once.Do(func() {
			cancel()
			wg.Wait()
		})
	}
}

func (l *Lease) renewLoop(ctx context.Context, lost chan<- struct{}) {
	interval := l.ttl / 3
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	lastRenewed := time.Now()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			ok, err := l.store.RenewLease(ctx, l.name, l.holder, l.ttl)
			if ctx.Err() != nil {
				return
			}
			switch {
			case err != nil:
				l.logger.Warn().Err(err).Msg("Failed to renew lease")
				if time.Since(lastRenewed) < l.ttl {
					continue
				}
				l.logger.Error().Msg("Lease expired while renewals were failing")
			case !ok:
				l.logger.Error().Msg("Lease taken over by another holder")
			default:
				lastRenewed = time.Now()
				continue
			}
			close(lost)
			return
		}
	}
}
