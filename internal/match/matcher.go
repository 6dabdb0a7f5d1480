// Package match scores captured frames against a fixed reference
// template using normalized cross-correlation, with a perceptual-hash
// memo to skip rescoring visually identical frames.
package match

import (
	"image"
	"math"

	"github.com/nfnt/resize"

	"github.com/m1ndfucker/autotracker/internal/syncx"
)

// Threshold bounds. Values outside the range are clamped, so a bad
// config cannot turn the matcher into an always- or never-firing one.
const (
	MinThreshold     = 0.5
	MaxThreshold     = 0.95
	DefaultThreshold = 0.75
)

// reference is the template/threshold pair swapped as a unit, so no
// in-flight Match observes a half-updated state.
type reference struct {
	tpl       *Template
	threshold float64
}

// Matcher compares frames against one reference template.
// Safe for concurrent use.
type Matcher struct {
	ref *syncx.RWGuard[reference]
}

// NewMatcher creates a matcher. A nil template is legal and never
// matches, covering the "template not configured yet" window.
func NewMatcher(tpl *Template, threshold float64) *Matcher {
	return &Matcher{ref: syncx.NewGuard(reference{tpl: tpl, threshold: clampThreshold(threshold)})}
}

// Reload replaces the template and threshold in one step.
func (m *Matcher) Reload(tpl *Template, threshold float64) {
	m.ref.Set(reference{tpl: tpl, threshold: clampThreshold(threshold)})
}

// Threshold returns the effective (clamped) threshold.
func (m *Matcher) Threshold() float64 {
	return m.ref.Get().threshold
}

// Score returns the similarity of frame to the current template in
// [-1, 1]. A nil/empty frame or missing template scores 0.
func (m *Matcher) Score(frame image.Image) float64 {
	return score(frame, m.ref.Get().tpl)
}

// Match reports whether the frame matches the template, with the raw
// confidence. The threshold comparison is inclusive.
func (m *Matcher) Match(frame image.Image) (bool, float64) {
	ref := m.ref.Get()
	if frame == nil || frame.Bounds().Empty() || ref.tpl == nil {
		return false, 0.0
	}
	s := score(frame, ref.tpl)
	return s >= ref.threshold, s
}

func clampThreshold(t float64) float64 {
	switch {
	case t < MinThreshold:
		return MinThreshold
	case t > MaxThreshold:
		return MaxThreshold
	default:
		return t
	}
}

// score computes normalized cross-correlation between the frame and the
// template, both reduced to grayscale and the frame resampled to the
// template's dimensions first.
func score(frame image.Image, tpl *Template) float64 {
	if frame == nil || frame.Bounds().Empty() || tpl == nil {
		return 0.0
	}

	tb := tpl.gray.Bounds()
	if frame.Bounds().Dx() != tb.Dx() || frame.Bounds().Dy() != tb.Dy() {
		frame = resize.Resize(uint(tb.Dx()), uint(tb.Dy()), frame, resize.Bilinear)
	}
	fg := toGray(frame)
	fb := fg.Bounds()

	n := float64(tb.Dx() * tb.Dy())

	var sumF, sumT float64
	for y := 0; y < tb.Dy(); y++ {
		for x := 0; x < tb.Dx(); x++ {
			sumF += float64(fg.GrayAt(fb.Min.X+x, fb.Min.Y+y).Y)
			sumT += float64(tpl.gray.GrayAt(tb.Min.X+x, tb.Min.Y+y).Y)
		}
	}
	meanF, meanT := sumF/n, sumT/n

	var num, varF, varT float64
	for y := 0; y < tb.Dy(); y++ {
		for x := 0; x < tb.Dx(); x++ {
			df := float64(fg.GrayAt(fb.Min.X+x, fb.Min.Y+y).Y) - meanF
			dt := float64(tpl.gray.GrayAt(tb.Min.X+x, tb.Min.Y+y).Y) - meanT
			num += df * dt
			varF += df * df
			varT += dt * dt
		}
	}

	if varF == 0 || varT == 0 {
		// Flat images carry no texture to correlate. Two equally flat
		// images of the same intensity are a perfect match.
		if varF == 0 && varT == 0 && meanF == meanT {
			return 1.0
		}
		return 0.0
	}
	return num / math.Sqrt(varF*varT)
}
