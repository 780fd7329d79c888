package presence

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"
)

// Conn is one live connection handle for a user. The websocket client
// implements it; tests substitute fakes.
type Conn interface {
	ID() string
	Send(event string, payload interface{}) error
}

// RoleDirectory resolves a user's role key and whether that role is
// staff-capable. The registry caches the answer per user for the lifetime
// of the presence entry.
type RoleDirectory interface {
	UserRole(ctx context.Context, userID string) (string, error)
	IsStaffRole(ctx context.Context, roleKey string) (bool, error)
}

type entry struct {
	conns map[string]Conn
	role  string
	staff bool
}

// Registry tracks which users have live connections in this process.
// A user with several tabs open has several handles under one entry; the
// entry disappears when the last handle goes. All mutation happens under
// one mutex so racing connect/disconnect events for the same user cannot
// lose updates.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]*entry
	roles   RoleDirectory
	logger  *zap.Logger
}

func NewRegistry(roles RoleDirectory, logger *zap.Logger) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Registry{
		entries: make(map[string]*entry),
		roles:   roles,
		logger:  logger,
	}
}

// Connect records a new handle for the user. The role lookup happens only
// on the user's first live connection and is cached on the entry.
func (r *Registry) Connect(ctx context.Context, userID string, c Conn) error {
	if userID == "" || c == nil {
		return fmt.Errorf("presence: user id and connection required")
	}

	r.mu.Lock()
	e, ok := r.entries[userID]
	r.mu.Unlock()

	if !ok {
		roleKey, err := r.roles.UserRole(ctx, userID)
		if err != nil {
			return fmt.Errorf("presence: role lookup for %s: %w", userID, err)
		}
		staff, err := r.roles.IsStaffRole(ctx, roleKey)
		if err != nil {
			return fmt.Errorf("presence: role check for %s: %w", roleKey, err)
		}

		r.mu.Lock()
		// Another connection may have raced us here; reuse its entry.
		e, ok = r.entries[userID]
		if !ok {
			e = &entry{
				conns: make(map[string]Conn),
				role:  roleKey,
				staff: staff,
			}
			r.entries[userID] = e
			incTrackedUsers()
		}
		e.conns[c.ID()] = c
		incConnections()
		r.mu.Unlock()
	} else {
		r.mu.Lock()
		e, ok = r.entries[userID]
		if !ok {
			// Entry vanished between reads; redo the slow path.
			r.mu.Unlock()
			return r.Connect(ctx, userID, c)
		}
		e.conns[c.ID()] = c
		incConnections()
		r.mu.Unlock()
	}

	r.logger.Debug("presence connect",
		zap.String("userId", userID),
		zap.String("connId", c.ID()),
	)
	return nil
}

// Disconnect removes the handle; the entry itself is deleted once its last
// handle is gone.
func (r *Registry) Disconnect(userID string, c Conn) {
	if userID == "" || c == nil {
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.entries[userID]
	if !ok {
		return
	}
	if _, ok := e.conns[c.ID()]; !ok {
		return
	}
	delete(e.conns, c.ID())
	decConnections()
	if len(e.conns) == 0 {
		delete(r.entries, userID)
		decTrackedUsers()
	}
}

// ConnsFor returns every live handle for the user; empty if offline.
func (r *Registry) ConnsFor(userID string) []Conn {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, ok := r.entries[userID]
	if !ok {
		return nil
	}
	conns := make([]Conn, 0, len(e.conns))
	for _, c := range e.conns {
		conns = append(conns, c)
	}
	return conns
}

// OnlineStaffIDs lists users whose cached role is staff-capable.
func (r *Registry) OnlineStaffIDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := make([]string, 0)
	for userID, e := range r.entries {
		if e.staff {
			ids = append(ids, userID)
		}
	}
	return ids
}

func (r *Registry) IsOnline(userID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.entries[userID]
	return ok
}
