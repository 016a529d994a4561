package realtime

import (
	"log/slog"
	"sync"

	"github.com/coursekit/coursekit/pkg/logger"
)

// Registry maps user IDs to their live connections. It is the in-process
// Relay implementation: local, per-process, never a source of cross-process
// coordination.
type Registry struct {
	mu         sync.RWMutex
	byUser     map[string]map[string]Conn
	userByConn map[string]string
	log        *slog.Logger
}

// NewRegistry creates an empty connection registry
func NewRegistry(log *slog.Logger) *Registry {
	return &Registry{
		byUser:     make(map[string]map[string]Conn),
		userByConn: make(map[string]string),
		log:        log.With(logger.Scope("realtime")),
	}
}

// Join registers a connection for a user. A user may hold several
// connections (multiple tabs, devices).
func (r *Registry) Join(userID, connID string, conn Conn) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.byUser[userID] == nil {
		r.byUser[userID] = make(map[string]Conn)
	}
	r.byUser[userID][connID] = conn
	r.userByConn[connID] = userID

	r.log.Debug("connection joined",
		slog.String("user_id", userID),
		slog.String("connection_id", connID))
}

// Leave removes a connection. Safe to call twice.
func (r *Registry) Leave(connID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	userID, ok := r.userByConn[connID]
	if !ok {
		return
	}
	delete(r.userByConn, connID)
	if conns := r.byUser[userID]; conns != nil {
		delete(conns, connID)
		if len(conns) == 0 {
			delete(r.byUser, userID)
		}
	}

	r.log.Debug("connection left",
		slog.String("user_id", userID),
		slog.String("connection_id", connID))
}

// EmitToUser delivers an event to every live connection of one user.
// Dead connections found along the way are evicted.
func (r *Registry) EmitToUser(userID, event string, payload any) {
	r.mu.RLock()
	targets := make(map[string]Conn, len(r.byUser[userID]))
	for id, conn := range r.byUser[userID] {
		targets[id] = conn
	}
	r.mu.RUnlock()

	for connID, conn := range targets {
		if err := conn.Send(event, payload); err != nil {
			r.log.Warn("send failed, evicting connection",
				slog.String("connection_id", connID),
				logger.Error(err))
			r.Leave(connID)
		}
	}
}

// BroadcastExcept delivers an event to every connected user but one
func (r *Registry) BroadcastExcept(userID, event string, payload any) {
	r.mu.RLock()
	users := make([]string, 0, len(r.byUser))
	for id := range r.byUser {
		if id != userID {
			users = append(users, id)
		}
	}
	r.mu.RUnlock()

	for _, id := range users {
		r.EmitToUser(id, event, payload)
	}
}

// ConnectionCount returns the number of live connections
func (r *Registry) ConnectionCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.userByConn)
}

// UserConnected reports whether a user has at least one live connection
func (r *Registry) UserConnected(userID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byUser[userID]) > 0
}
