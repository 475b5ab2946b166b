package inject

import (
	"context"

	"go.viam.com/overlay/camera"
	"go.viam.com/overlay/geometry"
	"go.viam.com/overlay/orientation"
)

// Source is an injected capture source.
type Source struct {
	camera.Source
	StartFunc  func(ctx context.Context) error
	FramesFunc func() <-chan *camera.Frame
	StopFunc   func(ctx context.Context) error
}

// Start calls the injected Start or the real version.
func (s *Source) Start(ctx context.Context) error {
	if s.StartFunc == nil {
		return s.Source.Start(ctx)
	}
	return s.StartFunc(ctx)
}

// Frames calls the injected Frames or the real version.
func (s *Source) Frames() <-chan *camera.Frame {
	if s.FramesFunc == nil {
		return s.Source.Frames()
	}
	return s.FramesFunc()
}

// Stop calls the injected Stop or the real version.
func (s *Source) Stop(ctx context.Context) error {
	if s.StopFunc == nil {
		return s.Source.Stop(ctx)
	}
	return s.StopFunc(ctx)
}

// OrientationSource is an injected orientation source.
type OrientationSource struct {
	camera.OrientationSource
	DeviceOrientationFunc    func() orientation.DeviceOrientation
	InterfaceOrientationFunc func() orientation.InterfaceOrientation
}

// DeviceOrientation calls the injected DeviceOrientation or the real version.
func (o *OrientationSource) DeviceOrientation() orientation.DeviceOrientation {
	if o.DeviceOrientationFunc == nil {
		return o.OrientationSource.DeviceOrientation()
	}
	return o.DeviceOrientationFunc()
}

// InterfaceOrientation calls the injected InterfaceOrientation or the real version.
func (o *OrientationSource) InterfaceOrientation() orientation.InterfaceOrientation {
	if o.InterfaceOrientationFunc == nil {
		return o.OrientationSource.InterfaceOrientation()
	}
	return o.InterfaceOrientationFunc()
}

// ScreenProvider is an injected screen provider.
type ScreenProvider struct {
	camera.ScreenProvider
	ScreenSizeFunc func() geometry.Size
}

// ScreenSize calls the injected ScreenSize or the real version.
func (s *ScreenProvider) ScreenSize() geometry.Size {
	if s.ScreenSizeFunc == nil {
		return s.ScreenProvider.ScreenSize()
	}
	return s.ScreenSizeFunc()
}
