package match

import (
	"fmt"
	"image"
	"image/draw"
	_ "image/jpeg" // template decoder
	_ "image/png"  // template decoder
	"os"
)

// Template is the immutable reference pattern for the on-screen death
// indicator, reduced to a single intensity channel. Replaced wholesale,
// never mutated in place.
type Template struct {
	gray *image.Gray
}

// NewTemplate builds a template from a decoded image. Returns nil for a
// nil or empty source, which the matcher treats as "never match".
func NewTemplate(img image.Image) *Template {
	if img == nil || img.Bounds().Empty() {
		return nil
	}
	return &Template{gray: toGray(img)}
}

// LoadTemplate reads and decodes a template image from disk.
func LoadTemplate(path string) (*Template, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open template: %w", err)
	}
	defer f.Close()

	img, _, err := image.Decode(f)
	if err != nil {
		return nil, fmt.Errorf("decode template %s: %w", path, err)
	}
	tpl := NewTemplate(img)
	if tpl == nil {
		return nil, fmt.Errorf("template %s is empty", path)
	}
	return tpl, nil
}

// Bounds returns the template dimensions.
func (t *Template) Bounds() image.Rectangle {
	return t.gray.Bounds()
}

// toGray collapses any color model to one intensity channel so frames
// and templates with different channel depths compare on equal footing.
func toGray(img image.Image) *image.Gray {
	if g, ok := img.(*image.Gray); ok {
		return g
	}
	b := img.Bounds()
	g := image.NewGray(b)
	draw.Draw(g, b, img, b.Min, draw.Src)
	return g
}
