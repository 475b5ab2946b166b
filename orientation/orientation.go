// Package orientation resolves raw device and interface orientation readings into the capture
// orientation used to configure video connections and rotate overlay labels.
package orientation

import (
	"strings"

	"github.com/go-gl/mathgl/mgl64"
	"github.com/pkg/errors"

	"go.viam.com/overlay/utils"
)

// DeviceOrientation is the physical orientation reported by the device's motion sensors.
type DeviceOrientation int

// Known device orientations.
const (
	DeviceUnknown DeviceOrientation = iota
	DevicePortrait
	DevicePortraitUpsideDown
	DeviceLandscapeLeft
	DeviceLandscapeRight
	DeviceFaceUp
	DeviceFaceDown
)

// InterfaceOrientation is the orientation of the host's user interface.
type InterfaceOrientation int

// Known interface orientations.
const (
	InterfaceUnknown InterfaceOrientation = iota
	InterfacePortrait
	InterfacePortraitUpsideDown
	InterfaceLandscapeLeft
	InterfaceLandscapeRight
)

// Capture is the normalized orientation shared by geometry and rotation logic.
type Capture int

// The capture orientations. Portrait is the zero value.
const (
	Portrait Capture = iota
	PortraitUpsideDown
	LandscapeLeft
	LandscapeRight
)

func (c Capture) String() string {
	switch c {
	case Portrait:
		return "portrait"
	case PortraitUpsideDown:
		return "portraitUpsideDown"
	case LandscapeLeft:
		return "landscapeLeft"
	case LandscapeRight:
		return "landscapeRight"
	default:
		return "unknown"
	}
}

// FromDevice maps a device orientation to a capture orientation. The landscape directions are
// swapped: the device reports the side the home edge points to, while capture orientation names
// the side the top of the image faces. Face up, face down and unknown resolve to portrait.
func FromDevice(raw DeviceOrientation) Capture {
	switch raw {
	case DevicePortrait:
		return Portrait
	case DevicePortraitUpsideDown:
		return PortraitUpsideDown
	case DeviceLandscapeLeft:
		return LandscapeRight
	case DeviceLandscapeRight:
		return LandscapeLeft
	case DeviceUnknown, DeviceFaceUp, DeviceFaceDown:
		return Portrait
	default:
		return Portrait
	}
}

// FromInterface maps an interface orientation to a capture orientation. Unlike FromDevice the
// landscape directions map to themselves.
func FromInterface(raw InterfaceOrientation) Capture {
	switch raw {
	case InterfacePortrait:
		return Portrait
	case InterfacePortraitUpsideDown:
		return PortraitUpsideDown
	case InterfaceLandscapeLeft:
		return LandscapeLeft
	case InterfaceLandscapeRight:
		return LandscapeRight
	case InterfaceUnknown:
		return Portrait
	default:
		return Portrait
	}
}

// LabelRotationDegrees is the counter-clockwise rotation applied to label text so it stays
// upright relative to the device.
func LabelRotationDegrees(c Capture) float64 {
	switch c {
	case LandscapeLeft:
		return 90
	case LandscapeRight:
		return 270
	case PortraitUpsideDown:
		return 180
	case Portrait:
		return 0
	default:
		return 0
	}
}

// LabelTransform is the homogeneous rotation about the z axis for a label in the given
// orientation. Portrait yields the identity.
func LabelTransform(c Capture) mgl64.Mat4 {
	degrees := LabelRotationDegrees(c)
	if degrees == 0 {
		return mgl64.Ident4()
	}
	return mgl64.HomogRotate3DZ(utils.DegToRad(degrees))
}

// ParseInterface parses an interface orientation name such as "landscape-left" or
// "landscapeLeft". Case and separators are ignored.
func ParseInterface(name string) (InterfaceOrientation, error) {
	normalized := strings.NewReplacer("-", "", "_", "", " ", "").Replace(strings.ToLower(name))
	switch normalized {
	case "portrait":
		return InterfacePortrait, nil
	case "portraitupsidedown":
		return InterfacePortraitUpsideDown, nil
	case "landscapeleft":
		return InterfaceLandscapeLeft, nil
	case "landscaperight":
		return InterfaceLandscapeRight, nil
	default:
		return InterfaceUnknown, errors.Errorf("unknown interface orientation %q", name)
	}
}
