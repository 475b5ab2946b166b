package geometry

import "go.viam.com/overlay/orientation"

// Map converts a normalized detection box into a screen rectangle.
//
// The box is expected in normalized [0,1] coordinates and already oriented to image-up by the
// classifier, with its vertical axis measured from the bottom edge. The result is measured from
// the top-left corner of screen, so the vertical axis is flipped. The orientation does not move
// the box; only label text inside it is rotated. A zero-area screen yields a zero rectangle.
func Map(box Rect, screen Size, _ orientation.Capture) Rect {
	if screen.IsZero() {
		return Rect{}
	}
	x := box.X * screen.Width
	y := box.Y * screen.Height
	w := box.Width * screen.Width
	h := box.Height * screen.Height
	return Rect{
		X:      x,
		Y:      screen.Height - (y + h),
		Width:  w,
		Height: h,
	}
}
