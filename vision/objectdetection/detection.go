// Package objectdetection defines the detections produced by a classifier and the contract the
// overlay engine consumes them through.
package objectdetection

import (
	"fmt"

	"go.viam.com/overlay/geometry"
)

// Detection is a single object found in a frame. Detections are immutable once constructed.
type Detection interface {
	// BoundingBox is the box in normalized [0,1]x[0,1] image coordinates.
	BoundingBox() geometry.Rect
	// Score is the confidence in [0,1].
	Score() float64
	// Label is the top class label, possibly empty.
	Label() string
}

// NewDetection creates a simple 2D detection.
func NewDetection(bb geometry.Rect, score float64, label string) Detection {
	return &detection2D{boundingBox: bb, score: score, label: label}
}

// detection2D is a simple struct for storing 2D detections.
type detection2D struct {
	boundingBox geometry.Rect
	score       float64
	label       string
}

// BoundingBox returns the normalized bounding box around the object.
func (d *detection2D) BoundingBox() geometry.Rect {
	return d.boundingBox
}

// Score returns a confidence score of the detection between 0.0 and 1.0.
func (d *detection2D) Score() float64 {
	return d.score
}

// Label returns the class label of the object in the bounding box.
func (d *detection2D) Label() string {
	return d.label
}

// String turns the detection into a string.
func (d *detection2D) String() string {
	return fmt.Sprintf("Label: %s, Score: %.2f, Box: %v", d.label, d.score, d.boundingBox)
}
