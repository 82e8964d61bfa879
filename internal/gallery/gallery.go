// Package gallery tracks which product image is displayed large and the zoom state.
package gallery

import "math"

// Focus is the zoom origin as percentages of the image's width and height.
type Focus struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

var center = Focus{X: 50, Y: 50}

type Selector struct {
	images []string
	active int
	zoomed bool
	focus  Focus
}

func New(images []string) *Selector {
	return &Selector{images: images, focus: center}
}

// Select makes index the active image. Out-of-range indexes are rejected and
// leave the active image unchanged.
func (s *Selector) Select(index int) bool {
	if index < 0 || index >= len(s.images) {
		return false
	}
	s.active = index
	return true
}

func (s *Selector) ToggleZoom() {
	s.zoomed = !s.zoomed
	if !s.zoomed {
		s.focus = center
	}
}

// MoveFocus follows the pointer while zoomed; coordinates are clamped to 0..100.
func (s *Selector) MoveFocus(x, y float64) {
	if !s.zoomed {
		return
	}
	s.focus = Focus{X: clamp(x), Y: clamp(y)}
}

func (s *Selector) ActiveIndex() int { return s.active }
func (s *Selector) Zoomed() bool     { return s.zoomed }
func (s *Selector) Focus() Focus     { return s.focus }
func (s *Selector) Images() []string { return s.images }
func (s *Selector) HasImages() bool  { return len(s.images) > 0 }

// Active returns the displayed image, or "" when there are none.
func (s *Selector) Active() string {
	if !s.HasImages() {
		return ""
	}
	return s.images[s.active]
}

func clamp(v float64) float64 {
	switch {
	case math.IsNaN(v):
		return 50
	case v < 0:
		return 0
	case v > 100:
		return 100
	}
	return v
}
