package realtime

import (
	"sync"

	"edulive/internal/core/domain"
	"edulive/internal/core/ports"
	"edulive/internal/infrastructure/monitoring"

	"go.uber.org/zap"
)

// Router fans events out to connection subsets: whole rooms, all of a
// user's devices, or a breakout subset of a session. Delivery is
// best-effort per connection; a slow or dropped recipient never aborts
// delivery to the rest.
type Router struct {
	registry ports.ConnectionRegistry
	metrics  *monitoring.PrometheusCollector
	logger   *zap.SugaredLogger

	mu        sync.RWMutex
	breakouts map[domain.SessionID]map[domain.UserID]domain.BreakoutID
}

func NewRouter(registry ports.ConnectionRegistry, metrics *monitoring.PrometheusCollector, logger *zap.SugaredLogger) *Router {
	return &Router{
		registry:  registry,
		metrics:   metrics,
		logger:    logger,
		breakouts: make(map[domain.SessionID]map[domain.UserID]domain.BreakoutID),
	}
}

var _ ports.Broadcaster = (*Router)(nil)

func (rt *Router) ToRoom(roomID domain.RoomID, ev domain.Event, exclude domain.ConnectionID) {
	rt.metrics.BroadcastSent()
	for _, connID := range rt.registry.RoomConnections(roomID) {
		if connID == exclude {
			continue
		}
		rt.deliver(connID, ev)
	}
}

// ToRoomFrom fans out room-level traffic according to the sender's scope.
// While a participant is assigned to a breakout, their chat stays inside
// it; everyone else's traffic takes the whole room.
func (rt *Router) ToRoomFrom(roomID domain.RoomID, sender domain.UserID, ev domain.Event, exclude domain.ConnectionID) {
	if sessionID, ok := domain.SessionFromRoom(roomID); ok {
		if breakoutID := rt.BreakoutOf(sessionID, sender); breakoutID != "" {
			rt.toBreakout(sessionID, breakoutID, ev, exclude)
			return
		}
	}
	rt.ToRoom(roomID, ev, exclude)
}

func (rt *Router) ToUser(userID domain.UserID, ev domain.Event) int {
	delivered := 0
	for _, connID := range rt.registry.ConnectionsForUser(userID) {
		if rt.deliver(connID, ev) {
			delivered++
		}
	}
	return delivered
}

func (rt *Router) ToConnection(connID domain.ConnectionID, ev domain.Event) error {
	err := rt.registry.Send(connID, ev)
	if err != nil {
		rt.metrics.DeliveryFailed()
	}
	return err
}

func (rt *Router) ToBreakout(sessionID domain.SessionID, breakoutID domain.BreakoutID, ev domain.Event) {
	rt.toBreakout(sessionID, breakoutID, ev, "")
}

func (rt *Router) toBreakout(sessionID domain.SessionID, breakoutID domain.BreakoutID, ev domain.Event, exclude domain.ConnectionID) {
	rt.mu.RLock()
	members := make(map[domain.UserID]struct{})
	for userID, b := range rt.breakouts[sessionID] {
		if b == breakoutID {
			members[userID] = struct{}{}
		}
	}
	rt.mu.RUnlock()

	if len(members) == 0 {
		return
	}

	rt.metrics.BroadcastSent()
	for _, connID := range rt.registry.RoomConnections(sessionID.Room()) {
		if connID == exclude {
			continue
		}
		userID, _, err := rt.registry.Identity(connID)
		if err != nil {
			continue
		}
		if _, ok := members[userID]; ok {
			rt.deliver(connID, ev)
		}
	}
}

func (rt *Router) AssignBreakout(sessionID domain.SessionID, userID domain.UserID, breakoutID domain.BreakoutID) {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	if rt.breakouts[sessionID] == nil {
		rt.breakouts[sessionID] = make(map[domain.UserID]domain.BreakoutID)
	}
	rt.breakouts[sessionID][userID] = breakoutID
}

func (rt *Router) ClearBreakout(sessionID domain.SessionID, userID domain.UserID) {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	if session, ok := rt.breakouts[sessionID]; ok {
		delete(session, userID)
		if len(session) == 0 {
			delete(rt.breakouts, sessionID)
		}
	}
}

func (rt *Router) BreakoutOf(sessionID domain.SessionID, userID domain.UserID) domain.BreakoutID {
	rt.mu.RLock()
	defer rt.mu.RUnlock()
	return rt.breakouts[sessionID][userID]
}

func (rt *Router) DropSession(sessionID domain.SessionID) {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	delete(rt.breakouts, sessionID)
}

func (rt *Router) deliver(connID domain.ConnectionID, ev domain.Event) bool {
	if err := rt.registry.Send(connID, ev); err != nil {
		rt.metrics.DeliveryFailed()
		rt.logger.Warnw("event delivery failed", "conn_id", connID, "event", ev.Type, "error", err)
		return false
	}
	return true
}
