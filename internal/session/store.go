// Package session holds per-user analysis state: the active dataset and
// the artifacts computed from it. Engines stay pure; everything stateful
// lives here.
package session

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"datalens/internal/clean"
	"datalens/internal/dataset"
	"datalens/internal/encode"
	"datalens/internal/errors"
	"datalens/internal/forest"
	"datalens/internal/regress"
)

// Session is one user's workspace. Artifacts are tied to the dataset they
// were computed from; swapping the dataset clears them.
type Session struct {
	mu sync.Mutex

	ID         string
	Filename   string
	CreatedAt  time.Time
	LastAccess time.Time

	Dataset       *dataset.Dataset
	OutlierReport *clean.OutlierReport
	Encoding      *encode.Result
	EncodedData   *dataset.Dataset
	Regression    *regress.Model
	Forest        *forest.Model
}

// Store is an in-memory session registry with TTL eviction.
type Store struct {
	mu       sync.Mutex
	sessions map[string]*Session
	ttl      time.Duration
	logger   *slog.Logger
}

// NewStore creates a store evicting sessions idle longer than ttl.
func NewStore(ttl time.Duration, logger *slog.Logger) *Store {
	return &Store{
		sessions: make(map[string]*Session),
		ttl:      ttl,
		logger:   logger.With(slog.String("component", "session_store")),
	}
}

// Create registers a new session around an uploaded dataset.
func (s *Store) Create(d *dataset.Dataset, filename string) *Session {
	now := time.Now()
	sess := &Session{
		ID:         uuid.New().String(),
		Filename:   filename,
		CreatedAt:  now,
		LastAccess: now,
		Dataset:    d,
	}

	s.mu.Lock()
	s.sessions[sess.ID] = sess
	s.mu.Unlock()

	s.logger.Info("session created",
		slog.String("session_id", sess.ID),
		slog.String("filename", filename),
		slog.Int("rows", d.NumRows()),
		slog.Int("cols", d.NumCols()))
	return sess
}

// With runs fn against the session under that session's own lock. The store
// lock covers only the lookup, so a long engine call in one session never
// blocks requests against other sessions; requests against the same session
// serialize the way the single-dataset UI does.
func (s *Store) With(id string, fn func(*Session) error) error {
	s.mu.Lock()
	sess, ok := s.sessions[id]
	if ok {
		sess.LastAccess = time.Now()
	}
	s.mu.Unlock()
	if !ok {
		return errors.ErrSessionNotFound
	}

	sess.mu.Lock()
	defer sess.mu.Unlock()
	return fn(sess)
}

// Delete removes a session. Deleting an unknown id is not an error.
func (s *Store) Delete(id string) {
	s.mu.Lock()
	_, ok := s.sessions[id]
	delete(s.sessions, id)
	s.mu.Unlock()

	if ok {
		s.logger.Info("session deleted", slog.String("session_id", id))
	}
}

// Count returns the number of live sessions.
func (s *Store) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

// StartSweeper evicts idle sessions every interval until ctx is done.
func (s *Store) StartSweeper(ctx context.Context, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.sweep()
			}
		}
	}()
}

func (s *Store) sweep() {
	cutoff := time.Now().Add(-s.ttl)

	s.mu.Lock()
	var evicted []string
	for id, sess := range s.sessions {
		if sess.LastAccess.Before(cutoff) {
			delete(s.sessions, id)
			evicted = append(evicted, id)
		}
	}
	s.mu.Unlock()

	for _, id := range evicted {
		s.logger.Info("session expired", slog.String("session_id", id))
	}
}

// ReplaceDataset swaps the session's dataset and drops every artifact that
// was computed against the old one.
func (sess *Session) ReplaceDataset(d *dataset.Dataset) {
	sess.Dataset = d
	sess.OutlierReport = nil
	sess.Encoding = nil
	sess.EncodedData = nil
	sess.Regression = nil
	sess.Forest = nil
}
