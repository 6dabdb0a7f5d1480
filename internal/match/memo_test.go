package match

import (
	"image"
	"testing"
)

type countingScorer struct {
	matched bool
	conf    float64
	calls   int
}

func (c *countingScorer) Match(_ image.Image) (bool, float64) {
	c.calls++
	return c.matched, c.conf
}

func TestMemoReusesDecisionForSameFrame(t *testing.T) {
	inner := &countingScorer{matched: true, conf: 0.9}
	m := NewMemo(inner, -1)
	frame := gradient(64, 64)

	for i := 0; i < 5; i++ {
		matched, conf := m.Match(frame)
		if !matched || conf != 0.9 {
			t.Fatalf("tick %d: got (%v, %f), want (true, 0.9)", i, matched, conf)
		}
	}

	if inner.calls != 1 {
		t.Errorf("inner scorer called %d times for identical frames, want 1", inner.calls)
	}
}

func TestMemoRescoresChangedFrame(t *testing.T) {
	inner := &countingScorer{matched: false, conf: 0.1}
	m := NewMemo(inner, -1)

	a := gradient(64, 64)
	b := inverted(a)

	m.Match(a)
	m.Match(b)

	if inner.calls != 2 {
		t.Errorf("inner scorer called %d times for distinct frames, want 2", inner.calls)
	}
}

func TestMemoNilFramePassesThrough(t *testing.T) {
	inner := &countingScorer{}
	m := NewMemo(inner, -1)

	matched, conf := m.Match(nil)
	if matched || conf != 0.0 {
		t.Errorf("Match(nil) = (%v, %f), want (false, 0.0)", matched, conf)
	}
	if inner.calls != 1 {
		t.Errorf("nil frame should reach inner scorer, calls = %d", inner.calls)
	}
}

func TestMemoInvalidate(t *testing.T) {
	inner := &countingScorer{matched: true, conf: 0.8}
	m := NewMemo(inner, -1)
	frame := gradient(64, 64)

	m.Match(frame)
	m.Invalidate()
	m.Match(frame)

	if inner.calls != 2 {
		t.Errorf("inner scorer called %d times across invalidation, want 2", inner.calls)
	}
}
