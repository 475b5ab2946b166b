// Package geometry contains the screen-space types of the overlay, the current screen geometry
// store and the mapping from normalized detection boxes to screen rectangles.
package geometry

import (
	"fmt"

	"github.com/golang/geo/r1"
	"github.com/golang/geo/r2"
)

// Rect is an axis aligned rectangle given by its origin and size.
type Rect struct {
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// NewRect is a convenience constructor.
func NewRect(x, y, width, height float64) Rect {
	return Rect{X: x, Y: y, Width: width, Height: height}
}

// MaxX is the right edge.
func (r Rect) MaxX() float64 { return r.X + r.Width }

// MaxY is the far edge along the vertical axis.
func (r Rect) MaxY() float64 { return r.Y + r.Height }

// Size returns the extent of the rectangle.
func (r Rect) Size() Size { return Size{Width: r.Width, Height: r.Height} }

// IsEmpty reports whether the rectangle has no area.
func (r Rect) IsEmpty() bool { return r.Width <= 0 || r.Height <= 0 }

// R2 converts the rectangle to an interval-based r2.Rect.
func (r Rect) R2() r2.Rect {
	return r2.Rect{
		X: r1.Interval{Lo: r.X, Hi: r.MaxX()},
		Y: r1.Interval{Lo: r.Y, Hi: r.MaxY()},
	}
}

func (r Rect) String() string {
	return fmt.Sprintf("(%g,%g %gx%g)", r.X, r.Y, r.Width, r.Height)
}

// Size is the screen geometry the overlay is drawn into: the rectangle (0,0)-(Width,Height).
type Size struct {
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// IsZero reports whether the geometry has no area. Nothing is renderable into a zero-area
// geometry.
func (s Size) IsZero() bool { return s.Width <= 0 || s.Height <= 0 }

// Bounds is the rectangle (0,0)-(Width,Height).
func (s Size) Bounds() Rect { return Rect{Width: s.Width, Height: s.Height} }

// Contains reports whether r lies within the bounds, allowing for epsilon of floating point slop
// on every edge.
func (s Size) Contains(r Rect, epsilon float64) bool {
	return s.Bounds().R2().ExpandedByMargin(epsilon).Contains(r.R2())
}

func (s Size) String() string {
	return fmt.Sprintf("%gx%g", s.Width, s.Height)
}
