package lock

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/Alias1177/TruthMesh/internal/testutil"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type memStore struct {
	mu       sync.Mutex
	holder   string
	renewErr error
	renewals int
}

func (s *memStore) AcquireLease(_ context.Context, _, holder string, _ time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.holder != "" && s.holder != holder {
		return false, nil
	}
	s.holder = holder
	return true, nil
}

func (s *memStore) RenewLease(_ context.Context, _, holder string, _ time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.renewals++
	if s.renewErr != nil {
		return false, s.renewErr
	}
	return s.holder == holder, nil
}

func (s *memStore) ReleaseLease(_ context.Context, _, holder string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.holder == holder {
		s.holder = ""
	}
	return nil
}

func (s *memStore) steal(holder string) {
	s.mu.Lock()
	s.holder = holder
	s.mu.Unlock()
}

func TestAcquireExclusive(t *testing.T) {
	store := &memStore{}
	a := New(store, "signal-drain", time.Minute)
	b := New(store, "signal-drain", time.Minute)
	assert.NotEqual(t, a.Holder(), b.Holder())

	require.NoError(t, a.Acquire(context.Background()))
	assert.ErrorIs(t, b.Acquire(context.Background()), ErrHeld)

	require.NoError(t, a.Release(context.Background()))
	require.NoError(t, b.Acquire(context.Background()))
}

func TestKeepAliveRenews(t *testing.T) {
	store := &memStore{}
	l := New(store, "signal-drain", 30*time.Millisecond)
	require.NoError(t, l.Acquire(context.Background()))

	lost, stop := l.KeepAlive(context.Background())
	time.Sleep(80 * time.Millisecond)
	stop()
	stop()

	select {
	case <-lost:
		t.Fatal("lease reported lost while renewals succeed")
	default:
	}
	store.mu.Lock()
	defer store.mu.Unlock()
	assert.GreaterOrEqual(t, store.renewals, 2)
}

func TestKeepAliveDetectsTakeover(t *testing.T) {
	store := &memStore{}
	l := New(store, "signal-drain", 30*time.Millisecond)
	require.NoError(t, l.Acquire(context.Background()))

	lost, stop := l.KeepAlive(context.Background())
	defer stop()
	store.steal("someone-else")

	select {
	case <-lost:
	case <-time.After(time.Second):
		t.Fatal("takeover not detected")
	}
}

func TestKeepAliveGivesUpAfterTTL(t *testing.T) {
	store := &memStore{renewErr: errors.New("db down")}
	l := New(store, "signal-drain", 30*time.Millisecond)
	require.NoError(t, l.Acquire(context.Background()))

	lost, stop := l.KeepAlive(context.Background())
	defer stop()

	select {
	case <-lost:
	case <-time.After(time.Second):
		t.Fatal("lease should be considered lost once the ttl passes without renewal")
	}
}

func TestLeaseAgainstDatabase(t *testing.T) {
	db := testutil.OpenTestDB(t)
	ctx := context.Background()

	a := New(db, "signal-drain", time.Minute)
	b := New(db, "signal-drain", time.Minute)

	require.NoError(t, a.Acquire(ctx))
	assert.ErrorIs(t, b.Acquire(ctx), ErrHeld)
	require.NoError(t, a.Release(ctx))
	require.NoError(t, b.Acquire(ctx))
	require.NoError(t, b.Release(ctx))
}
