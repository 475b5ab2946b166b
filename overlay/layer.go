// Package overlay builds the layer tree drawn on top of the live camera preview: one box with an
// auto-sized, orientation-aware label per detection, rebuilt from scratch for every batch.
package overlay

import (
	"image/color"
	"sync"

	"github.com/go-gl/mathgl/mgl64"
	"github.com/pkg/errors"

	"go.viam.com/overlay/geometry"
)

// GravityResizeAspectFill scales content to fill the layer, cropping to keep the aspect ratio.
const GravityResizeAspectFill = "resizeAspectFill"

// Style is the appearance of overlay boxes.
type Style struct {
	BorderWidth  float64
	CornerRadius float64
	BorderColor  color.Color
	LabelColor   color.Color
}

// DefaultStyle is a 4pt half-transparent black border with black label text.
func DefaultStyle() Style {
	return Style{
		BorderWidth:  4,
		CornerRadius: 4,
		BorderColor:  color.NRGBA{A: 128},
		LabelColor:   color.Black,
	}
}

// Label is the text drawn inside a box.
type Label struct {
	Text     string
	FontSize float64
	// Bounds is the label extent; labels fill their box and are centered horizontally.
	Bounds geometry.Rect
	// RotationDegrees is the counter-clockwise rotation about the box center.
	RotationDegrees float64
	Transform       mgl64.Mat4
}

// Box is the overlay for one detection.
type Box struct {
	Frame      geometry.Rect
	Label      Label
	Confidence float64
	Style      Style
}

// Layer is a node of the overlay layer tree. The detection root holds the boxes of exactly one
// batch; a preview layer holds a frame and content gravity. Only the render loop mutates layers,
// but a layer may be read from any goroutine.
type Layer struct {
	name string

	mu         sync.RWMutex
	frame      geometry.Rect
	gravity    string
	boxes      []Box
	sublayers  []*Layer
	superlayer *Layer
}

// NewLayer returns an empty layer.
func NewLayer(name string) *Layer {
	return &Layer{name: name}
}

// Name returns the layer's name.
func (l *Layer) Name() string {
	return l.name
}

// Frame returns the layer's frame in its superlayer's coordinates.
func (l *Layer) Frame() geometry.Rect {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.frame
}

// SetFrame resizes the layer.
func (l *Layer) SetFrame(frame geometry.Rect) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.frame = frame
}

// Gravity returns how content is fit into the layer.
func (l *Layer) Gravity() string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.gravity
}

// SetGravity sets how content is fit into the layer.
func (l *Layer) SetGravity(gravity string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.gravity = gravity
}

// SetBoxes replaces every box of the layer at once. Readers see either the previous batch or
// this one, never a mix.
func (l *Layer) SetBoxes(boxes []Box) {
	next := make([]Box, len(boxes))
	copy(next, boxes)
	l.mu.Lock()
	defer l.mu.Unlock()
	l.boxes = next
}

// Boxes returns a copy of the current boxes in drawing order.
func (l *Layer) Boxes() []Box {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]Box, len(l.boxes))
	copy(out, l.boxes)
	return out
}

// AddSublayer appends child on top of the existing sublayers.
func (l *Layer) AddSublayer(child *Layer) error {
	if child == nil {
		return errors.New("cannot add a nil sublayer")
	}
	if child == l {
		return errors.Errorf("layer %q cannot be its own sublayer", l.name)
	}
	child.mu.Lock()
	if child.superlayer != nil {
		parent := child.superlayer.name
		child.mu.Unlock()
		return errors.Errorf("layer %q is already attached to %q", child.name, parent)
	}
	child.superlayer = l
	child.mu.Unlock()

	l.mu.Lock()
	defer l.mu.Unlock()
	l.sublayers = append(l.sublayers, child)
	return nil
}

// RemoveFromSuperlayer detaches the layer from its parent, if any.
func (l *Layer) RemoveFromSuperlayer() {
	l.mu.Lock()
	parent := l.superlayer
	l.superlayer = nil
	l.mu.Unlock()
	if parent == nil {
		return
	}

	parent.mu.Lock()
	defer parent.mu.Unlock()
	kept := make([]*Layer, 0, len(parent.sublayers))
	for _, sub := range parent.sublayers {
		if sub != l {
			kept = append(kept, sub)
		}
	}
	parent.sublayers = kept
}

// Superlayer returns the parent layer or nil.
func (l *Layer) Superlayer() *Layer {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.superlayer
}

// Sublayers returns the children from bottom to top.
func (l *Layer) Sublayers() []*Layer {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]*Layer, len(l.sublayers))
	copy(out, l.sublayers)
	return out
}
