package transfer

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/rescp17/relaySharer/pkg/protocol"
)

// Session is the registry's view of an in-progress transfer, either side.
type Session interface {
	// ID returns the transfer identifier the session is keyed by.
	ID() string
	// Handle feeds one incoming envelope to the session. Envelopes for
	// terminal sessions are absorbed without effect.
	Handle(env protocol.Envelope)
}

// Registry maps transfer identifiers to live sessions. Terminal sessions
// linger for a grace period so that late duplicate envelopes are still
// absorbed idempotently instead of being treated as unknown transfers.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]Session
	timers   map[string]*time.Timer
	grace    time.Duration
	logger   *slog.Logger
}

func NewRegistry(grace time.Duration, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		sessions: make(map[string]Session),
		timers:   make(map[string]*time.Timer),
		grace:    grace,
		logger:   logger,
	}
}

// Put registers a new session under its transfer ID.
func (r *Registry) Put(s Session) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	id := s.ID()
	if _, exists := r.sessions[id]; exists {
		return fmt.Errorf("register transfer %s: %w", id, ErrTransferAlreadyExists)
	}
	r.sessions[id] = s
	return nil
}

// Get looks up the session for a transfer ID.
func (r *Registry) Get(id string) (Session, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[id]
	if !ok {
		return nil, fmt.Errorf("lookup transfer %s: %w", id, ErrTransferNotFound)
	}
	return s, nil
}

// Remove drops a session immediately, cancelling any pending purge.
func (r *Registry) Remove(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if t, ok := r.timers[id]; ok {
		t.Stop()
		delete(r.timers, id)
	}
	delete(r.sessions, id)
}

// MarkTerminal schedules the session for removal after the grace period.
// During the grace period the session stays resolvable so stray
// retransmissions and duplicate acks land somewhere harmless.
func (r *Registry) MarkTerminal(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.sessions[id]; !ok {
		return
	}
	if _, ok := r.timers[id]; ok {
		return
	}
	r.timers[id] = time.AfterFunc(r.grace, func() {
		r.Remove(id)
		r.logger.Debug("purged terminal transfer", "transferID", id)
	})
}

// Len reports the number of registered sessions, terminal ones included.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}
