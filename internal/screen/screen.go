// Package screen provides platform-agnostic screen capture.
package screen

import (
	"bytes"
	"image"
	"image/draw"
	_ "image/jpeg"
	_ "image/png"
	"log/slog"
	"os"
)

// Source produces frames of the display for detection.
type Source interface {
	// Grab returns the current frame, or nil if capture failed.
	Grab() image.Image
	// GrabRegion returns the given sub-rectangle of the current frame,
	// or nil if capture failed or the rectangle is empty.
	GrabRegion(x, y, w, h int) image.Image
	Close()
}

// backend implements platform-specific raw capture
type backend interface {
	captureRaw() []byte
	cleanup()
}

// baseSource decodes raw backend output into frames.
type baseSource struct {
	backend
	tempDir string
}

func newBase(b backend, tempDir string) *baseSource {
	return &baseSource{backend: b, tempDir: tempDir}
}

func (s *baseSource) Grab() image.Image {
	data := s.captureRaw()
	if data == nil {
		return nil
	}
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		slog.Error("failed to decode screenshot", "error", err)
		return nil
	}
	return img
}

func (s *baseSource) GrabRegion(x, y, w, h int) image.Image {
	return Crop(s.Grab(), x, y, w, h)
}

func (s *baseSource) Close() {
	s.cleanup()
	if s.tempDir != "" {
		os.RemoveAll(s.tempDir)
	}
}

// Crop returns the part of img covered by the rectangle at (x, y) with the
// given size, clamped to the image bounds. Returns nil when img is nil or
// the clamped rectangle is empty.
func Crop(img image.Image, x, y, w, h int) image.Image {
	if img == nil {
		return nil
	}
	rect := image.Rect(x, y, x+w, y+h).Intersect(img.Bounds())
	if rect.Empty() {
		return nil
	}
	type subImager interface {
		SubImage(image.Rectangle) image.Image
	}
	if si, ok := img.(subImager); ok {
		return si.SubImage(rect)
	}
	out := image.NewRGBA(image.Rect(0, 0, rect.Dx(), rect.Dy()))
	draw.Draw(out, out.Bounds(), img, rect.Min, draw.Src)
	return out
}

// region restricts another Source to a fixed sub-rectangle.
type region struct {
	inner      Source
	x, y, w, h int
}

// WithRegion wraps src so that Grab returns only the given rectangle.
func WithRegion(src Source, x, y, w, h int) Source {
	return &region{inner: src, x: x, y: y, w: w, h: h}
}

func (r *region) Grab() image.Image {
	return r.inner.GrabRegion(r.x, r.y, r.w, r.h)
}

func (r *region) GrabRegion(x, y, w, h int) image.Image {
	return Crop(r.Grab(), x, y, w, h)
}

func (r *region) Close() { r.inner.Close() }
