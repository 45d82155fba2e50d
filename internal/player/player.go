package player

import (
	"log"
	"sync"
)

// MediaElement is the native playback capability set the player drives.
// Seeking past either end is clamped by the element, not by the player.
type MediaElement interface {
	Play() error
	Pause()
	CurrentTime() float64
	SetCurrentTime(seconds float64)
	Duration() float64
}

// Item is the currently loaded audio episode. At most one exists at a time.
type Item struct {
	Title       string `json:"title"`
	Description string `json:"description"`
	ArtworkURL  string `json:"artwork_url"`
	SourceURL   string `json:"source_url"`
}

// State is a snapshot of the player for its UI consumer.
type State struct {
	Current         *Item   `json:"current,omitempty"`
	Playing         bool    `json:"playing"`
	PositionSeconds float64 `json:"position_seconds"`
	DurationSeconds float64 `json:"duration_seconds"`
	ExpandedView    bool    `json:"expanded_view"`
}

// Player is the single-item audio transport: Idle until an item loads, then
// Loaded-Playing/Loaded-Paused. Playing reflects actual device state: if the
// element rejects playback the flag is reconciled to false, not left at the
// optimistic intent.
type Player struct {
	mu       sync.Mutex
	media    MediaElement
	current  *Item
	playing  bool
	position float64
	duration float64
	expanded bool
}

func New(media MediaElement) *Player {
	return &Player{media: media}
}

// LoadAndPlay replaces the current item unconditionally, resets progress and
// starts playback. There is no queue; loading over a playing item discards
// its position. expandView mirrors the narrow-viewport full-player behavior
// and is presentation state only.
func (p *Player) LoadAndPlay(item Item, expandView bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.current = &item
	p.position = 0
	p.media.SetCurrentTime(0)
	if expandView {
		p.expanded = true
	}
	p.playing = p.play()
}

// play issues the play command and reports whether playback actually
// started. Caller holds p.mu.
func (p *Player) play() bool {
	if err := p.media.Play(); err != nil {
		log.Printf("[player] playback rejected: %v", err)
		return false
	}
	return true
}

// TogglePlay flips between playing and paused. A no-op with no item loaded.
func (p *Player) TogglePlay() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.current == nil {
		return
	}
	if p.playing {
		p.media.Pause()
		p.playing = false
		return
	}
	p.playing = p.play()
}

// Stop pauses and rewinds to the start but keeps the item loaded, so the
// artwork and title stay visible.
func (p *Player) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.current == nil {
		return
	}
	p.media.Pause()
	p.media.SetCurrentTime(0)
	p.position = 0
	p.playing = false
}

// Skip moves the element's position by delta seconds, forward or back.
// Clamping to the item bounds is the element's job.
func (p *Player) Skip(deltaSeconds float64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.current == nil {
		return
	}
	p.media.SetCurrentTime(p.media.CurrentTime() + deltaSeconds)
}

// SeekToPercent seeks to a 0-100 position within the known duration.
func (p *Player) SeekToPercent(percent float64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.current == nil || p.duration <= 0 {
		return
	}
	target := percent / 100 * p.duration
	p.media.SetCurrentTime(target)
	p.position = target
}

// OnTimeUpdate reconciles position and duration from the element's live
// values. This is the only path progress advances on; the player runs no
// timer of its own.
func (p *Player) OnTimeUpdate() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.position = p.media.CurrentTime()
	p.duration = p.media.Duration()
}

// OnEnded handles the element's native end-of-item signal. With no queue to
// advance, the player just parks in the paused state.
func (p *Player) OnEnded() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.playing = false
}

// SetExpandedView toggles the full-player presentation flag.
func (p *Player) SetExpandedView(expanded bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.expanded = expanded
}

// State returns a snapshot for display.
func (p *Player) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	s := State{
		Playing:         p.playing,
		PositionSeconds: p.position,
		DurationSeconds: p.duration,
		ExpandedView:    p.expanded,
	}
	if p.current != nil {
		item := *p.current
		s.Current = &item
	}
	return s
}
