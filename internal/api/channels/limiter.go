package channels

import (
	"sync"

	"golang.org/x/time/rate"
)

// SenderLimiter caps how fast any single sender can post messages.
type SenderLimiter struct {
	mu    sync.Mutex
	m     map[string]*rate.Limiter
	rps   float64
	burst int
}

func NewSenderLimiter(rps float64, burst int) *SenderLimiter {
	if rps <= 0 {
		rps = 5
	}
	if burst <= 0 {
		burst = 10
	}
	return &SenderLimiter{m: make(map[string]*rate.Limiter), rps: rps, burst: burst}
}

func (p *SenderLimiter) get(senderID string) *rate.Limiter {
	p.mu.Lock()
	defer p.mu.Unlock()
	if l, ok := p.m[senderID]; ok {
		return l
	}
	l := rate.NewLimiter(rate.Limit(p.rps), p.burst)
	p.m[senderID] = l
	return l
}

func (p *SenderLimiter) Allow(senderID string) bool {
	return p.get(senderID).Allow()
}
