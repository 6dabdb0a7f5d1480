package match

import (
	"image"

	"github.com/corona10/goimagehash"

	"github.com/m1ndfucker/autotracker/internal/syncx"
)

// MaxHashDistance is the Hamming distance (64-bit perceptual hash) under
// which two frames count as the same picture. A "YOU DIED" screen sits
// still for seconds, so most ticks hit the memo.
const MaxHashDistance = 3

// Scorer is the decision surface the gate consumes.
type Scorer interface {
	Match(frame image.Image) (matched bool, confidence float64)
}

// Memo wraps a Scorer and reuses the previous decision while consecutive
// frames are perceptually identical. Reusing the decision (rather than
// suppressing it) keeps the cooldown semantics downstream intact: a
// cached match still re-fires once the cooldown window expires.
type Memo struct {
	inner       Scorer
	maxDistance int
	last        *syncx.RWGuard[decision]
}

// decision is the memoized outcome for the previously scored frame.
type decision struct {
	hash    *goimagehash.ImageHash
	matched bool
	conf    float64
}

// NewMemo wraps inner with perceptual-hash memoization. A negative
// maxDistance selects the default.
func NewMemo(inner Scorer, maxDistance int) *Memo {
	if maxDistance < 0 {
		maxDistance = MaxHashDistance
	}
	return &Memo{inner: inner, maxDistance: maxDistance, last: syncx.NewGuard(decision{})}
}

// Match returns the inner decision, served from the memo when the frame
// hashes close enough to the previous one.
func (m *Memo) Match(frame image.Image) (bool, float64) {
	if frame == nil {
		return m.inner.Match(frame)
	}

	hash, err := goimagehash.PerceptionHash(frame)
	if err != nil {
		return m.inner.Match(frame)
	}

	cached := m.last.Get()
	if cached.hash != nil {
		if dist, err := cached.hash.Distance(hash); err == nil && dist <= m.maxDistance {
			return cached.matched, cached.conf
		}
	}

	matched, conf := m.inner.Match(frame)
	m.last.Set(decision{hash: hash, matched: matched, conf: conf})
	return matched, conf
}

// Invalidate drops the memo. Call after the underlying template changes.
func (m *Memo) Invalidate() {
	m.last.Set(decision{})
}
