package realtime

import (
	"errors"
	"sync"
	"testing"

	"edulive/internal/core/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type recorder struct {
	mu     sync.Mutex
	events []domain.Event
	fail   bool
}

func (rec *recorder) sender() func(domain.Event) error {
	return func(ev domain.Event) error {
		rec.mu.Lock()
		defer rec.mu.Unlock()
		if rec.fail {
			return errors.New("send queue full")
		}
		rec.events = append(rec.events, ev)
		return nil
	}
}

func (rec *recorder) count() int {
	rec.mu.Lock()
	defer rec.mu.Unlock()
	return len(rec.events)
}

func newTestRouter(t *testing.T) (*Router, *Registry) {
	t.Helper()
	registry := NewRegistry(zap.NewNop().Sugar())
	return NewRouter(registry, nil, zap.NewNop().Sugar()), registry
}

func TestRouter_ToRoomExcludesSender(t *testing.T) {
	router, registry := newTestRouter(t)

	a, b, c := &recorder{}, &recorder{}, &recorder{}
	require.NoError(t, registry.Register("conn-a", "user-a", domain.RoleStudent, a.sender()))
	require.NoError(t, registry.Register("conn-b", "user-b", domain.RoleStudent, b.sender()))
	require.NoError(t, registry.Register("conn-c", "user-c", domain.RoleStudent, c.sender()))
	mustJoin(t, registry, "conn-a", "room-1")
	mustJoin(t, registry, "conn-b", "room-1")

	router.ToRoom("room-1", domain.Event{Type: domain.EventNewMessage}, "conn-a")

	assert.Equal(t, 0, a.count())
	assert.Equal(t, 1, b.count())
	assert.Equal(t, 0, c.count())
}

func TestRouter_ToRoomSurvivesFailedDelivery(t *testing.T) {
	router, registry := newTestRouter(t)

	bad, good := &recorder{fail: true}, &recorder{}
	require.NoError(t, registry.Register("conn-bad", "user-1", domain.RoleStudent, bad.sender()))
	require.NoError(t, registry.Register("conn-good", "user-2", domain.RoleStudent, good.sender()))
	mustJoin(t, registry, "conn-bad", "room-1")
	mustJoin(t, registry, "conn-good", "room-1")

	router.ToRoom("room-1", domain.Event{Type: domain.EventNewMessage}, "")

	assert.Equal(t, 1, good.count())
}

func TestRouter_ToUserReachesAllDevices(t *testing.T) {
	router, registry := newTestRouter(t)

	d1, d2, other := &recorder{}, &recorder{}, &recorder{}
	require.NoError(t, registry.Register("conn-1", "user-1", domain.RoleStudent, d1.sender()))
	require.NoError(t, registry.Register("conn-2", "user-1", domain.RoleStudent, d2.sender()))
	require.NoError(t, registry.Register("conn-3", "user-2", domain.RoleStudent, other.sender()))

	delivered := router.ToUser("user-1", domain.Event{Type: domain.EventWebRTCSignal})

	assert.Equal(t, 2, delivered)
	assert.Equal(t, 1, d1.count())
	assert.Equal(t, 1, d2.count())
	assert.Equal(t, 0, other.count())
}

func TestRouter_ToUserOffline(t *testing.T) {
	router, _ := newTestRouter(t)
	assert.Equal(t, 0, router.ToUser("nobody", domain.Event{Type: domain.EventWebRTCSignal}))
}

func TestRouter_ToBreakoutIsolation(t *testing.T) {
	router, registry := newTestRouter(t)
	sessionID := domain.SessionID("sess-1")
	room := sessionID.Room()

	a, b, c := &recorder{}, &recorder{}, &recorder{}
	require.NoError(t, registry.Register("conn-a", "user-a", domain.RoleStudent, a.sender()))
	require.NoError(t, registry.Register("conn-b", "user-b", domain.RoleStudent, b.sender()))
	require.NoError(t, registry.Register("conn-c", "user-c", domain.RoleStudent, c.sender()))
	for _, connID := range []domain.ConnectionID{"conn-a", "conn-b", "conn-c"} {
		mustJoin(t, registry, connID, room)
	}

	router.AssignBreakout(sessionID, "user-a", "breakout-1")
	router.AssignBreakout(sessionID, "user-b", "breakout-1")
	router.AssignBreakout(sessionID, "user-c", "breakout-2")

	router.ToBreakout(sessionID, "breakout-1", domain.Event{Type: domain.EventNewMessage})

	assert.Equal(t, 1, a.count())
	assert.Equal(t, 1, b.count())
	assert.Equal(t, 0, c.count())
}

func TestRouter_ToRoomFromScopesByBreakout(t *testing.T) {
	router, registry := newTestRouter(t)
	sessionID := domain.SessionID("sess-1")
	room := sessionID.Room()

	a, b, c := &recorder{}, &recorder{}, &recorder{}
	require.NoError(t, registry.Register("conn-a", "user-a", domain.RoleStudent, a.sender()))
	require.NoError(t, registry.Register("conn-b", "user-b", domain.RoleStudent, b.sender()))
	require.NoError(t, registry.Register("conn-c", "user-c", domain.RoleStudent, c.sender()))
	for _, connID := range []domain.ConnectionID{"conn-a", "conn-b", "conn-c"} {
		mustJoin(t, registry, connID, room)
	}

	router.AssignBreakout(sessionID, "user-a", "breakout-1")
	router.AssignBreakout(sessionID, "user-b", "breakout-1")
	router.AssignBreakout(sessionID, "user-c", "breakout-2")

	// A sender inside a breakout reaches only co-members, minus the
	// excluded connection.
	router.ToRoomFrom(room, "user-a", domain.Event{Type: domain.EventNewMessage}, "conn-a")
	assert.Equal(t, 0, a.count())
	assert.Equal(t, 1, b.count())
	assert.Equal(t, 0, c.count())

	// An unassigned sender still reaches the whole room.
	router.ClearBreakout(sessionID, "user-a")
	router.ToRoomFrom(room, "user-a", domain.Event{Type: domain.EventNewMessage}, "conn-a")
	assert.Equal(t, 0, a.count())
	assert.Equal(t, 2, b.count())
	assert.Equal(t, 1, c.count())
}

func TestRouter_ToRoomFromOutsideSessionsBehavesLikeToRoom(t *testing.T) {
	router, registry := newTestRouter(t)

	a, b := &recorder{}, &recorder{}
	require.NoError(t, registry.Register("conn-a", "user-a", domain.RoleStudent, a.sender()))
	require.NoError(t, registry.Register("conn-b", "user-b", domain.RoleStudent, b.sender()))
	mustJoin(t, registry, "conn-a", "room-1")
	mustJoin(t, registry, "conn-b", "room-1")

	router.ToRoomFrom("room-1", "user-a", domain.Event{Type: domain.EventNewMessage}, "conn-a")

	assert.Equal(t, 0, a.count())
	assert.Equal(t, 1, b.count())
}

func TestRouter_BreakoutAssignmentLifecycle(t *testing.T) {
	router, _ := newTestRouter(t)
	sessionID := domain.SessionID("sess-1")

	router.AssignBreakout(sessionID, "user-a", "breakout-1")
	assert.Equal(t, domain.BreakoutID("breakout-1"), router.BreakoutOf(sessionID, "user-a"))

	// Reassignment moves the user, it does not duplicate membership.
	router.AssignBreakout(sessionID, "user-a", "breakout-2")
	assert.Equal(t, domain.BreakoutID("breakout-2"), router.BreakoutOf(sessionID, "user-a"))

	router.ClearBreakout(sessionID, "user-a")
	assert.Equal(t, domain.BreakoutID(""), router.BreakoutOf(sessionID, "user-a"))
}

func TestRouter_DropSessionClearsBreakouts(t *testing.T) {
	router, _ := newTestRouter(t)
	sessionID := domain.SessionID("sess-1")

	router.AssignBreakout(sessionID, "user-a", "breakout-1")
	router.AssignBreakout(sessionID, "user-b", "breakout-2")
	router.DropSession(sessionID)

	assert.Equal(t, domain.BreakoutID(""), router.BreakoutOf(sessionID, "user-a"))
	assert.Equal(t, domain.BreakoutID(""), router.BreakoutOf(sessionID, "user-b"))
}
