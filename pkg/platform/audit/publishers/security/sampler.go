package security

import (
	"math/rand/v2"
	"sync"

	"medgate/pkg/platform/audit"
)

// Sampler thins out high-volume, low-severity security events. Critical
// events are always kept.
type Sampler struct {
	mu           sync.RWMutex
	defaultRate  float64
	rateByAction map[string]float64
	random       func() float64
}

// NewSampler creates a sampler keeping defaultRate (0..1) of events.
func NewSampler(defaultRate float64) *Sampler {
	return &Sampler{
		defaultRate:  clampRate(defaultRate),
		rateByAction: make(map[string]float64),
		random:       rand.Float64,
	}
}

// SetRate overrides the rate for one action.
func (s *Sampler) SetRate(action string, rate float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rateByAction[action] = clampRate(rate)
}

// Keep reports whether event should be published.
func (s *Sampler) Keep(event audit.SecurityEvent) bool {
	if event.Severity == audit.SeverityCritical {
		return true
	}
	rate := s.rateFor(event.Action)
	switch rate {
	case 1:
		return true
	case 0:
		return false
	}
	return s.random() < rate //nolint:gosec // sampling doesn't need crypto rand
}

func (s *Sampler) rateFor(action string) float64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if rate, ok := s.rateByAction[action]; ok {
		return rate
	}
	return s.defaultRate
}

func clampRate(rate float64) float64 {
	return max(0, min(1, rate))
}
