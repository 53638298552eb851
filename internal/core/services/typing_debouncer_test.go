package services_test

import (
	"sync"
	"testing"
	"time"

	"edulive/internal/core/domain"
	"edulive/internal/core/services"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeBroadcaster records room fan-outs; the other Broadcaster methods are
// unused by the debouncer.
type fakeBroadcaster struct {
	mu     sync.Mutex
	events []domain.Event
}

func (f *fakeBroadcaster) ToRoom(roomID domain.RoomID, ev domain.Event, exclude domain.ConnectionID) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, ev)
}

func (f *fakeBroadcaster) ToRoomFrom(roomID domain.RoomID, sender domain.UserID, ev domain.Event, exclude domain.ConnectionID) {
	f.ToRoom(roomID, ev, exclude)
}

func (f *fakeBroadcaster) ToUser(domain.UserID, domain.Event) int            { return 0 }
func (f *fakeBroadcaster) ToConnection(domain.ConnectionID, domain.Event) error {
	return nil
}
func (f *fakeBroadcaster) ToBreakout(domain.SessionID, domain.BreakoutID, domain.Event) {}
func (f *fakeBroadcaster) AssignBreakout(domain.SessionID, domain.UserID, domain.BreakoutID) {
}
func (f *fakeBroadcaster) ClearBreakout(domain.SessionID, domain.UserID) {}
func (f *fakeBroadcaster) BreakoutOf(domain.SessionID, domain.UserID) domain.BreakoutID {
	return ""
}
func (f *fakeBroadcaster) DropSession(domain.SessionID) {}

func (f *fakeBroadcaster) typingEvents() []services.TypingPayload {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []services.TypingPayload
	for _, ev := range f.events {
		if ev.Type == domain.EventUserTyping {
			out = append(out, ev.Payload.(services.TypingPayload))
		}
	}
	return out
}

func TestTypingDebouncer_StartEmitsOnce(t *testing.T) {
	b := &fakeBroadcaster{}
	d := services.NewTypingDebouncer(time.Minute, b)

	d.Start("room-1", "user-1")
	d.Start("room-1", "user-1")
	d.Start("room-1", "user-1")

	events := b.typingEvents()
	require.Len(t, events, 1)
	assert.True(t, events[0].Typing)
	assert.Equal(t, domain.RoomID("room-1"), events[0].RoomID)
	assert.Equal(t, 1, d.ActiveCount())
}

func TestTypingDebouncer_StopEmitsFalseOnce(t *testing.T) {
	b := &fakeBroadcaster{}
	d := services.NewTypingDebouncer(time.Minute, b)

	d.Start("room-1", "user-1")
	d.Stop("room-1", "user-1")
	d.Stop("room-1", "user-1")

	events := b.typingEvents()
	require.Len(t, events, 2)
	assert.True(t, events[0].Typing)
	assert.False(t, events[1].Typing)
	assert.Equal(t, 0, d.ActiveCount())
}

func TestTypingDebouncer_StopWithoutStart(t *testing.T) {
	b := &fakeBroadcaster{}
	d := services.NewTypingDebouncer(time.Minute, b)

	d.Stop("room-1", "user-1")
	assert.Empty(t, b.typingEvents())
}

func TestTypingDebouncer_ExpiryEmitsFalse(t *testing.T) {
	b := &fakeBroadcaster{}
	d := services.NewTypingDebouncer(20*time.Millisecond, b)

	d.Start("room-1", "user-1")

	assert.Eventually(t, func() bool {
		events := b.typingEvents()
		return len(events) == 2 && !events[1].Typing
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, 0, d.ActiveCount())
}

func TestTypingDebouncer_StartResetsWindow(t *testing.T) {
	b := &fakeBroadcaster{}
	d := services.NewTypingDebouncer(60*time.Millisecond, b)

	d.Start("room-1", "user-1")
	time.Sleep(40 * time.Millisecond)
	d.Start("room-1", "user-1")
	time.Sleep(40 * time.Millisecond)

	// The re-arm keeps the indicator alive past the original deadline.
	assert.Equal(t, 1, d.ActiveCount())
	require.Len(t, b.typingEvents(), 1)
}

func TestTypingDebouncer_IndependentKeys(t *testing.T) {
	b := &fakeBroadcaster{}
	d := services.NewTypingDebouncer(time.Minute, b)

	d.Start("room-1", "user-1")
	d.Start("room-1", "user-2")
	d.Start("room-2", "user-1")
	assert.Equal(t, 3, d.ActiveCount())

	d.Stop("room-1", "user-2")
	assert.Equal(t, 2, d.ActiveCount())
}

func TestTypingDebouncer_CancelUserClearsAllRooms(t *testing.T) {
	b := &fakeBroadcaster{}
	d := services.NewTypingDebouncer(time.Minute, b)

	d.Start("room-1", "user-1")
	d.Start("room-2", "user-1")
	d.Start("room-1", "user-2")

	d.CancelUser("user-1")

	assert.Equal(t, 1, d.ActiveCount())
	var falses int
	for _, ev := range b.typingEvents() {
		if !ev.Typing {
			require.Equal(t, domain.UserID("user-1"), ev.UserID)
			falses++
		}
	}
	assert.Equal(t, 2, falses)
}

func TestTypingDebouncer_CloseStopsSilently(t *testing.T) {
	b := &fakeBroadcaster{}
	d := services.NewTypingDebouncer(time.Minute, b)

	d.Start("room-1", "user-1")
	d.Close()

	assert.Equal(t, 0, d.ActiveCount())
	// No typing=false on shutdown; the connections are going away anyway.
	require.Len(t, b.typingEvents(), 1)
}
