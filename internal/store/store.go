// Package store owns the in-memory registries for experiments and game
// sessions. A single mutex guards both maps: every handler holds it for the
// whole read-modify-publish sequence, which is what makes the gameStarted
// latch and the readiness check race-free. Records live for the process
// lifetime; nothing is ever deleted.
package store

import (
	"sync"

	"github.com/Kmccabe/bTree-sub000/internal/model"
)

type Store struct {
	mu          sync.Mutex
	experiments map[string]*model.Experiment
	sessions    map[string]*model.GameSession
}

func New() *Store {
	return &Store{
		experiments: make(map[string]*model.Experiment),
		sessions:    make(map[string]*model.GameSession),
	}
}

// Lock acquires the registry-wide critical section. Handlers must not block
// on I/O while holding it.
func (s *Store) Lock() { s.mu.Lock() }

func (s *Store) Unlock() { s.mu.Unlock() }

// Experiment returns the live record or nil. Caller must hold the lock.
func (s *Store) Experiment(id string) *model.Experiment {
	return s.experiments[id]
}

// PutExperiment registers a record. Caller must hold the lock.
func (s *Store) PutExperiment(exp *model.Experiment) {
	s.experiments[exp.ID] = exp
}

// Experiments returns every live experiment record. Caller must hold the
// lock; the slice is fresh but the records are shared.
func (s *Store) Experiments() []*model.Experiment {
	result := make([]*model.Experiment, 0, len(s.experiments))
	for _, exp := range s.experiments {
		result = append(result, exp)
	}
	return result
}

// Session returns the live session record or nil. Caller must hold the lock.
func (s *Store) Session(id string) *model.GameSession {
	return s.sessions[id]
}

// PutSession registers a session. Caller must hold the lock.
func (s *Store) PutSession(sess *model.GameSession) {
	s.sessions[sess.ID] = sess
}
