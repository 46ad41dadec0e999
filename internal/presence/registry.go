package presence

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/Alireza-Koohzad/Nova-chat/internal/domain"
)

// Registry tracks which users currently hold live connections and debounces
// brief reconnects before declaring a user offline. A user with at least one
// registered connection is online. When the last connection goes away the
// registry waits for a grace period; if no connection returns within it, the
// user is marked offline, the status is persisted and the OnOffline callback
// fires.
type Registry struct {
	users  domain.UserRepository
	grace  time.Duration
	logger *slog.Logger

	mu      sync.Mutex
	conns   map[string]map[string]struct{}
	pending map[string]*graceTimer

	// OnOffline is invoked after a user transitions to offline, outside the
	// registry lock. Set before the first Connect.
	OnOffline func(userID string, lastSeenAt time.Time)
}

type graceTimer struct {
	gen   uint64
	timer *time.Timer
}

func NewRegistry(users domain.UserRepository, grace time.Duration, logger *slog.Logger) *Registry {
	return &Registry{
		users:   users,
		grace:   grace,
		logger:  logger,
		conns:   make(map[string]map[string]struct{}),
		pending: make(map[string]*graceTimer),
	}
}

// Connect registers a connection for the user and reports whether the user
// transitioned from offline to online, along with the last-seen stamp
// persisted for that transition. A connection arriving during the grace
// window cancels the pending offline transition and reports false.
func (r *Registry) Connect(ctx context.Context, userID, connID string) (bool, time.Time, error) {
	r.mu.Lock()
	set, existed := r.conns[userID]
	if !existed {
		set = make(map[string]struct{})
		r.conns[userID] = set
	}
	set[connID] = struct{}{}

	if p, ok := r.pending[userID]; ok {
		p.timer.Stop()
		p.gen++ // invalidates a timer that already fired and is waiting on the lock
		delete(r.pending, userID)
		r.mu.Unlock()
		r.logger.Debug("presence grace cancelled", "user_id", userID, "conn_id", connID)
		return false, time.Time{}, nil
	}
	wasOnline := existed && len(set) > 1
	r.mu.Unlock()

	if wasOnline {
		return false, time.Time{}, nil
	}

	at := time.Now()
	if err := r.users.SetPresence(ctx, userID, domain.StatusOnline, at); err != nil {
		return true, at, err
	}
	return true, at, nil
}

// Disconnect removes a connection. When it was the user's last one, an
// offline transition is scheduled after the grace period instead of applied
// immediately, so page reloads do not flap the user's status.
func (r *Registry) Disconnect(userID, connID string) {
	r.mu.Lock()
	set, ok := r.conns[userID]
	if !ok {
		r.mu.Unlock()
		return
	}
	delete(set, connID)
	if len(set) > 0 {
		r.mu.Unlock()
		return
	}
	delete(r.conns, userID)

	p, ok := r.pending[userID]
	if !ok {
		p = &graceTimer{}
		r.pending[userID] = p
	} else {
		p.timer.Stop()
	}
	p.gen++
	gen := p.gen
	p.timer = time.AfterFunc(r.grace, func() {
		r.expire(userID, gen)
	})
	r.mu.Unlock()

	r.logger.Debug("presence grace started", "user_id", userID, "conn_id", connID)
}

func (r *Registry) expire(userID string, gen uint64) {
	r.mu.Lock()
	p, ok := r.pending[userID]
	if !ok || p.gen != gen {
		r.mu.Unlock()
		return
	}
	delete(r.pending, userID)
	if len(r.conns[userID]) > 0 {
		r.mu.Unlock()
		return
	}
	r.mu.Unlock()

	lastSeen := time.Now()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := r.users.SetPresence(ctx, userID, domain.StatusOffline, lastSeen); err != nil {
		r.logger.Error("persist offline status", "user_id", userID, "error", err)
	}
	r.logger.Info("user went offline", "user_id", userID)

	if r.OnOffline != nil {
		r.OnOffline(userID, lastSeen)
	}
}

// IsOnline reports whether the user holds at least one live connection.
// Users inside the grace window still count as online.
func (r *Registry) IsOnline(userID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.conns[userID]) > 0 {
		return true
	}
	_, graced := r.pending[userID]
	return graced
}

// ConnectionCount returns the number of live connections the user holds.
func (r *Registry) ConnectionCount(userID string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.conns[userID])
}

// OnlineUserIDs returns the ids of all users currently considered online,
// including those inside the grace window.
func (r *Registry) OnlineUserIDs() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	ids := make([]string, 0, len(r.conns)+len(r.pending))
	for id := range r.conns {
		ids = append(ids, id)
	}
	for id := range r.pending {
		if _, ok := r.conns[id]; !ok {
			ids = append(ids, id)
		}
	}
	return ids
}
