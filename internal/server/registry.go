package server

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/veriwave/veriwave/internal/config"
)

// ErrDuplicateConnection is returned by [Registry.Register] when another live
// session already holds the requested client identity and the duplicate
// policy is reject.
var ErrDuplicateConnection = errors.New("server: duplicate connection")

// Registry is the process-wide table of live sessions keyed by client
// identity. It is created at server start and drained at shutdown; all
// mutations are atomic with respect to concurrent lookups and snapshots.
type Registry struct {
	policy config.DuplicatePolicy

	mu       sync.RWMutex
	sessions map[string]*Session

	createdAt        time.Time
	totalConnections uint64
	totalDetections  uint64
}

// NewRegistry creates an empty [Registry] with the given duplicate-identity
// policy.
func NewRegistry(policy config.DuplicatePolicy) *Registry {
	if !policy.IsValid() {
		policy = config.DuplicateReject
	}
	return &Registry{
		policy:    policy,
		sessions:  make(map[string]*Session),
		createdAt: time.Now(),
	}
}

// Register claims the session's client identity. Under the reject policy a
// second claim fails with [ErrDuplicateConnection] and the existing session
// is left untouched. Under the evict policy the existing session is returned
// so the caller can close it outside the registry lock.
func (r *Registry) Register(s *Session) (evicted *Session, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, ok := r.sessions[s.ClientID()]; ok {
		if r.policy == config.DuplicateReject {
			return nil, fmt.Errorf("%w: %q", ErrDuplicateConnection, s.ClientID())
		}
		evicted = existing
	}
	r.sessions[s.ClientID()] = s
	r.totalConnections++
	return evicted, nil
}

// Release removes the registry entry for s and folds its detection count
// into the process-wide total, in one atomic step so snapshots never double
// count. The entry is deleted only while s still owns it; a session evicted
// by a later registrant must not remove its replacement.
func (r *Registry) Release(s *Session) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if current, ok := r.sessions[s.ClientID()]; ok && current == s {
		delete(r.sessions, s.ClientID())
	}
	r.totalDetections += s.Detections()
}

// Get returns the live session for clientID, or nil.
func (r *Registry) Get(clientID string) *Session {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.sessions[clientID]
}

// Len returns the number of live sessions.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// AggregateStats is the snapshot served by the /stats HTTP endpoint.
type AggregateStats struct {
	ActiveConnections int                        `json:"active_connections"`
	TotalConnections  uint64                     `json:"total_connections"`
	TotalDetections   uint64                     `json:"total_detections"`
	UptimeSeconds     float64                    `json:"uptime_seconds"`
	Connections       map[string]ConnectionStats `json:"connections"`
}

// Snapshot returns an aggregate view over all live sessions. It holds the
// read lock only for the duration of the iteration.
func (r *Registry) Snapshot() AggregateStats {
	r.mu.RLock()
	defer r.mu.RUnlock()

	total := r.totalDetections
	conns := make(map[string]ConnectionStats, len(r.sessions))
	for id, s := range r.sessions {
		total += s.Detections()
		conns[id] = s.ConnectionStats()
	}
	return AggregateStats{
		ActiveConnections: len(r.sessions),
		TotalConnections:  r.totalConnections,
		TotalDetections:   total,
		UptimeSeconds:     time.Since(r.createdAt).Seconds(),
		Connections:       conns,
	}
}

// Drain closes every live session and waits for each to finish tearing down
// or for ctx to expire.
func (r *Registry) Drain(ctx context.Context) {
	r.mu.RLock()
	sessions := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		sessions = append(sessions, s)
	}
	r.mu.RUnlock()

	for _, s := range sessions {
		s.Close(StatusGoingAway, "server shutting down")
		select {
		case <-s.Done():
		case <-ctx.Done():
			return
		}
	}
}
