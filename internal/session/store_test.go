package session

import (
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"datalens/internal/clean"
	"datalens/internal/dataset"
	"datalens/internal/errors"
)

func testStore(t *testing.T, ttl time.Duration) *Store {
	t.Helper()
	return NewStore(ttl, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func smallDataset(t *testing.T) *dataset.Dataset {
	t.Helper()
	d, err := dataset.New(dataset.Column{Name: "a", Cells: []any{1.0, 2.0}})
	require.NoError(t, err)
	return d
}

func TestCreateAndWith(t *testing.T) {
	store := testStore(t, time.Hour)
	sess := store.Create(smallDataset(t), "data.csv")
	require.NotEmpty(t, sess.ID)

	err := store.With(sess.ID, func(s *Session) error {
		assert.Equal(t, "data.csv", s.Filename)
		assert.Equal(t, 2, s.Dataset.NumRows())
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 1, store.Count())
}

func TestWithUnknownSession(t *testing.T) {
	store := testStore(t, time.Hour)

	err := store.With("nope", func(*Session) error { return nil })
	require.Error(t, err)
	assert.Equal(t, errors.ErrSessionNotFound, err)
}

func TestWithDoesNotBlockOtherSessions(t *testing.T) {
	store := testStore(t, time.Hour)
	a := store.Create(smallDataset(t), "a.csv")
	b := store.Create(smallDataset(t), "b.csv")

	entered := make(chan struct{})
	release := make(chan struct{})
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = store.With(a.ID, func(*Session) error {
			close(entered)
			<-release
			return nil
		})
	}()
	<-entered

	// Session A is mid-operation; session B must still be reachable.
	err := store.With(b.ID, func(*Session) error { return nil })
	require.NoError(t, err)

	close(release)
	<-done
}

func TestWithSerializesSameSession(t *testing.T) {
	store := testStore(t, time.Hour)
	sess := store.Create(smallDataset(t), "a.csv")

	var inside, max int32
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = store.With(sess.ID, func(*Session) error {
				n := atomic.AddInt32(&inside, 1)
				if n > atomic.LoadInt32(&max) {
					atomic.StoreInt32(&max, n)
				}
				time.Sleep(time.Millisecond)
				atomic.AddInt32(&inside, -1)
				return nil
			})
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), atomic.LoadInt32(&max))
}

func TestDelete(t *testing.T) {
	store := testStore(t, time.Hour)
	sess := store.Create(smallDataset(t), "data.csv")

	store.Delete(sess.ID)
	assert.Equal(t, 0, store.Count())

	store.Delete("already-gone")
}

func TestSweepEvictsIdleSessions(t *testing.T) {
	store := testStore(t, 10*time.Millisecond)
	sess := store.Create(smallDataset(t), "data.csv")

	time.Sleep(25 * time.Millisecond)
	store.sweep()

	err := store.With(sess.ID, func(*Session) error { return nil })
	assert.Error(t, err)
	assert.Equal(t, 0, store.Count())
}

func TestWithRefreshesLastAccess(t *testing.T) {
	store := testStore(t, 50*time.Millisecond)
	sess := store.Create(smallDataset(t), "data.csv")

	// Keep touching the session past its original TTL window.
	for i := 0; i < 3; i++ {
		time.Sleep(25 * time.Millisecond)
		require.NoError(t, store.With(sess.ID, func(*Session) error { return nil }))
	}
	store.sweep()
	assert.Equal(t, 1, store.Count())
}

func TestReplaceDatasetClearsArtifacts(t *testing.T) {
	store := testStore(t, time.Hour)
	sess := store.Create(smallDataset(t), "data.csv")

	err := store.With(sess.ID, func(s *Session) error {
		s.OutlierReport = &clean.OutlierReport{Fingerprint: "stale"}
		s.ReplaceDataset(smallDataset(t))
		return nil
	})
	require.NoError(t, err)

	err = store.With(sess.ID, func(s *Session) error {
		assert.Nil(t, s.OutlierReport)
		assert.Nil(t, s.Regression)
		assert.Nil(t, s.Forest)
		return nil
	})
	require.NoError(t, err)
}
