package chat

import (
	"sync"
	"time"
)

// TypingIdleTimeout is how long after the last keystroke the composing
// signal is considered finished.
const TypingIdleTimeout = 2 * time.Second

// Debouncer coalesces per-keystroke typing notifications into one start
// publish per composing burst and one terminal stop publish after the idle
// timeout. The core publishes on every call, so flood control lives here.
type Debouncer struct {
	idle  time.Duration
	start func(channelID string)
	stop  func(channelID string)

	mu     sync.Mutex
	bursts map[string]*burst
}

// burst identifies one composing run. The expiry callback only acts if its
// burst is still the channel's current one, so a timer that fired while a
// keystroke held the lock cannot end a burst it no longer owns.
type burst struct {
	timer *time.Timer
}

func NewDebouncer(idle time.Duration, start, stop func(channelID string)) *Debouncer {
	if idle <= 0 {
		idle = TypingIdleTimeout
	}
	return &Debouncer{
		idle:   idle,
		start:  start,
		stop:   stop,
		bursts: make(map[string]*burst),
	}
}

// Keystroke records input activity in a channel. The first keystroke of a
// burst fires the start callback; subsequent ones only reset the idle timer.
func (d *Debouncer) Keystroke(channelID string) {
	d.mu.Lock()
	if b, ok := d.bursts[channelID]; ok {
		if b.timer.Reset(d.idle) {
			d.mu.Unlock()
			return
		}
		// The timer already fired and its expiry is waiting on the lock.
		// Supersede it: same burst continues on a fresh timer, and the
		// pending expiry bails on the identity check.
		d.bursts[channelID] = d.newBurst(channelID)
		d.mu.Unlock()
		return
	}
	d.bursts[channelID] = d.newBurst(channelID)
	d.mu.Unlock()
	d.start(channelID)
}

// newBurst arms the idle timer for a new burst. Caller holds d.mu.
func (d *Debouncer) newBurst(channelID string) *burst {
	b := &burst{}
	b.timer = time.AfterFunc(d.idle, func() { d.expire(channelID, b) })
	return b
}

func (d *Debouncer) expire(channelID string, b *burst) {
	d.mu.Lock()
	if d.bursts[channelID] != b {
		d.mu.Unlock()
		return
	}
	delete(d.bursts, channelID)
	d.mu.Unlock()
	d.stop(channelID)
}

// Flush ends a composing burst immediately, as when the message is sent.
// A no-op if no burst is active.
func (d *Debouncer) Flush(channelID string) {
	d.mu.Lock()
	b, ok := d.bursts[channelID]
	if ok {
		b.timer.Stop()
		delete(d.bursts, channelID)
	}
	d.mu.Unlock()
	if ok {
		d.stop(channelID)
	}
}
