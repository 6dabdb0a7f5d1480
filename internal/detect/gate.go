// Package detect turns per-tick similarity scores into discrete,
// deduplicated death events.
package detect

import (
	"image"
	"time"

	"github.com/m1ndfucker/autotracker/internal/match"
	"github.com/m1ndfucker/autotracker/internal/state"
	"github.com/m1ndfucker/autotracker/internal/syncx"
)

// Cooldown settings. A "YOU DIED" screen stays up for several seconds,
// so repeated matches inside the window are expected steady state, not
// errors.
const DefaultCooldown = 5 * time.Second

var allowedCooldowns = []time.Duration{3 * time.Second, 5 * time.Second, 10 * time.Second}

// NormalizeCooldown snaps a configured cooldown onto the supported set,
// falling back to the default.
func NormalizeCooldown(d time.Duration) time.Duration {
	for _, allowed := range allowedCooldowns {
		if d == allowed {
			return d
		}
	}
	return DefaultCooldown
}

// Event is one confirmed death. Boss carries the boss-fight mode sampled
// at evaluation time; mode flips between evaluation and dispatch do not
// retag the event.
type Event struct {
	Boss       bool
	Confidence float64
	At         time.Time
}

// Gate decides, once per tick, whether a death event fires. It holds
// exactly one piece of mutable state: the time of the last event.
type Gate struct {
	matcher  match.Scorer
	store    *state.Store
	cooldown time.Duration

	lastEvent *syncx.RWGuard[time.Time]
}

// NewGate wires a gate over a scorer and the shared session state.
func NewGate(matcher match.Scorer, store *state.Store, cooldown time.Duration) *Gate {
	return &Gate{
		matcher:   matcher,
		store:     store,
		cooldown:  NormalizeCooldown(cooldown),
		lastEvent: syncx.NewGuard(time.Time{}),
	}
}

// Evaluate scores one frame and returns an event, or nil.
//
// The policy gate short-circuits before the matcher runs: with detection
// disabled or the connection down, no evaluation happens at all.
func (g *Gate) Evaluate(frame image.Image, now time.Time) *Event {
	session := g.store.Snapshot()
	if !session.DetectionEnabled || !session.Connected {
		return nil
	}

	matched, confidence := g.matcher.Match(frame)
	if !matched {
		return nil
	}

	fired := g.lastEvent.Update(func(last *time.Time) any {
		if now.Sub(*last) < g.cooldown {
			// Duplicate inside the cooldown window. Suppressed silently.
			return false
		}
		*last = now
		return true
	})
	if !fired.(bool) {
		return nil
	}

	return &Event{Boss: session.BossMode, Confidence: confidence, At: now}
}
