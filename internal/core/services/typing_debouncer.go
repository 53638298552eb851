package services

import (
	"sync"
	"time"

	"edulive/internal/core/domain"
	"edulive/internal/core/ports"
)

// DefaultTypingWindow is the inactivity window after which a typing
// indicator clears on its own.
const DefaultTypingWindow = 3 * time.Second

type typingKey struct {
	room domain.RoomID
	user domain.UserID
}

// TypingPayload is the body of user_typing events.
type TypingPayload struct {
	RoomID domain.RoomID `json:"room_id"`
	UserID domain.UserID `json:"user_id"`
	Typing bool          `json:"typing"`
}

// typingEntry pairs the armed timer with a generation counter. Every
// re-arm bumps the generation, so an expiry callback that fired just
// before a refresh identifies itself as stale and clears nothing.
type typingEntry struct {
	timer *time.Timer
	gen   uint64
}

// TypingDebouncer manages short-lived typing indicators. The first start
// for a (room, user) pair broadcasts typing=true; repeated starts only
// re-arm the timer. Expiry, an explicit stop, or a disconnect cascade
// broadcasts typing=false exactly once.
//
// The same expiry mechanism serves any ephemeral indicator that needs an
// inactivity window; the window is fixed per instance. Hand-raise state
// deliberately has no instance here: it persists until toggled.
type TypingDebouncer struct {
	window      time.Duration
	broadcaster ports.Broadcaster

	mu     sync.Mutex
	timers map[typingKey]*typingEntry
}

func NewTypingDebouncer(window time.Duration, broadcaster ports.Broadcaster) *TypingDebouncer {
	if window <= 0 {
		window = DefaultTypingWindow
	}
	return &TypingDebouncer{
		window:      window,
		broadcaster: broadcaster,
		timers:      make(map[typingKey]*typingEntry),
	}
}

var _ ports.TypingNotifier = (*TypingDebouncer)(nil)

func (d *TypingDebouncer) Start(roomID domain.RoomID, userID domain.UserID) {
	key := typingKey{room: roomID, user: userID}

	d.mu.Lock()
	defer d.mu.Unlock()

	if entry, ok := d.timers[key]; ok {
		entry.timer.Stop()
		entry.gen++
		d.arm(key, entry)
		return
	}

	entry := &typingEntry{}
	d.timers[key] = entry
	d.arm(key, entry)
	d.emit(key, true)
}

// caller must hold d.mu
func (d *TypingDebouncer) arm(key typingKey, entry *typingEntry) {
	gen := entry.gen
	entry.timer = time.AfterFunc(d.window, func() {
		d.expire(key, gen)
	})
}

func (d *TypingDebouncer) Stop(roomID domain.RoomID, userID domain.UserID) {
	d.cancel(typingKey{room: roomID, user: userID})
}

func (d *TypingDebouncer) CancelRoomUser(roomID domain.RoomID, userID domain.UserID) {
	d.cancel(typingKey{room: roomID, user: userID})
}

// CancelUser clears every active indicator the user holds, in any room.
// Called before disconnect broadcasts so recipients never see a typing
// indicator outlive its owner.
func (d *TypingDebouncer) CancelUser(userID domain.UserID) {
	d.mu.Lock()
	defer d.mu.Unlock()

	for key, entry := range d.timers {
		if key.user != userID {
			continue
		}
		entry.timer.Stop()
		delete(d.timers, key)
		d.emit(key, false)
	}
}

// Close stops all timers without emitting. Used on shutdown, when the
// connections the indicators belong to are closing anyway.
func (d *TypingDebouncer) Close() {
	d.mu.Lock()
	defer d.mu.Unlock()

	for key, entry := range d.timers {
		entry.timer.Stop()
		delete(d.timers, key)
	}
}

// ActiveCount reports the number of armed indicators.
func (d *TypingDebouncer) ActiveCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.timers)
}

func (d *TypingDebouncer) cancel(key typingKey) {
	d.mu.Lock()
	defer d.mu.Unlock()

	entry, ok := d.timers[key]
	if !ok {
		return
	}
	entry.timer.Stop()
	delete(d.timers, key)
	d.emit(key, false)
}

func (d *TypingDebouncer) expire(key typingKey, gen uint64) {
	d.mu.Lock()
	defer d.mu.Unlock()

	// A stop or a refresh that won the race leaves a missing key or a
	// newer generation; a stale expiry clears nothing.
	entry, ok := d.timers[key]
	if !ok || entry.gen != gen {
		return
	}
	delete(d.timers, key)
	d.emit(key, false)
}

// caller must hold d.mu; senders only enqueue, so this stays cheap and
// preserves true/false ordering per key.
func (d *TypingDebouncer) emit(key typingKey, typing bool) {
	d.broadcaster.ToRoomFrom(key.room, key.user, domain.Event{
		Type: domain.EventUserTyping,
		Payload: TypingPayload{
			RoomID: key.room,
			UserID: key.user,
			Typing: typing,
		},
	}, "")
}
