// Package watermark turns a watermark description into an image overlay for the render surface.
package watermark

import (
	"strings"

	"github.com/ivlev/html2video/internal/config"
)

type Kind string

const (
	KindText  Kind = "text"
	KindImage Kind = "image"
	KindQR    Kind = "qr"
)

// Spec describes one watermark.
type Spec struct {
	Enabled  bool
	Kind     Kind
	Content  string // text, image path, or QR payload
	Position string
	Opacity  float64
	Size     float64 // relative height, (0,1]
}

func FromConfig(w config.Watermark) Spec {
	return Spec{
		Enabled:  w.Enabled,
		Kind:     Kind(strings.ToLower(strings.TrimSpace(w.Type))),
		Content:  w.Content,
		Position: w.Position,
		Opacity:  w.Opacity,
		Size:     w.Size,
	}
}

// Active reports whether anything should be drawn.
func (s Spec) Active() bool {
	return s.Enabled && strings.TrimSpace(s.Content) != ""
}

// heightVH returns the overlay height in vh. Converted text is sized relative to
// the font size it was rendered with, images relative to the viewport.
func (s Spec) heightVH() float64 {
	if s.Kind == KindText {
		return s.Size * 35
	}
	return s.Size * 100
}
