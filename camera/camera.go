// Package camera defines what the overlay engine consumes from the host: a capture source that
// delivers pixel buffers, the current device and interface orientation, and the screen size.
package camera

import (
	"context"
	"image"
	"time"

	"github.com/pkg/errors"

	"go.viam.com/overlay/geometry"
	"go.viam.com/overlay/orientation"
)

// ErrPermissionDenied is returned by Source.Start when the user has not granted camera access.
var ErrPermissionDenied = errors.New("camera permission denied")

// Frame is a captured sample.
type Frame struct {
	// Image is the pixel buffer; nil when the sample carried none.
	Image image.Image
	// OrientationSupported reports whether the connection the frame arrived on can be told a
	// video orientation.
	OrientationSupported bool
	Timestamp            time.Time
}

// A Source delivers frames at the device frame rate once started.
type Source interface {
	Start(ctx context.Context) error
	// Frames is closed when the source stops.
	Frames() <-chan *Frame
	Stop(ctx context.Context) error
}

// An OrientationSource can be polled for the current orientation.
type OrientationSource interface {
	DeviceOrientation() orientation.DeviceOrientation
	InterfaceOrientation() orientation.InterfaceOrientation
}

// A ScreenProvider reports the size of the window the overlay is drawn into. It is only called
// from the render loop.
type ScreenProvider interface {
	ScreenSize() geometry.Size
}

// ScreenSizeFunc adapts a function to the ScreenProvider interface.
type ScreenSizeFunc func() geometry.Size

// ScreenSize calls f.
func (f ScreenSizeFunc) ScreenSize() geometry.Size {
	return f()
}
