// Package engine coordinates the hand-off of detection results from the inference goroutine to
// the render loop, and the setup handshake between the capture session worker and the loop.
package engine

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"
	"go.opencensus.io/trace"
	"go.uber.org/atomic"

	"go.viam.com/overlay/camera"
	"go.viam.com/overlay/geometry"
	"go.viam.com/overlay/logging"
	"go.viam.com/overlay/orientation"
	"go.viam.com/overlay/overlay"
	"go.viam.com/overlay/renderloop"
	"go.viam.com/overlay/vision/objectdetection"
)

var (
	// ErrHandshakeTimeout is returned when the render loop does not complete a handshake step in
	// time. Session start should be aborted; it can be retried.
	ErrHandshakeTimeout = errors.New("timed out waiting for the render loop")
	// ErrClosed is returned by operations on a closed engine.
	ErrClosed = errors.New("overlay engine is closed")
)

// DefaultHandshakeTimeout bounds each handshake step when none is configured.
const DefaultHandshakeTimeout = 2 * time.Second

// Engine is the detection overlay engine.
type Engine interface {
	// AttachOverlay adds the overlay root on top of parent's sublayers.
	AttachOverlay(ctx context.Context, parent *overlay.Layer) error
	// UpdateGeometry records a new screen size and resizes the overlay. The write happens on the
	// render loop; the call itself may come from anywhere.
	UpdateGeometry(width, height float64) error
	// CurrentOverlayRoot returns the layer the boxes are published into.
	CurrentOverlayRoot() *overlay.Layer
	// OnResult delivers one completed inference pass. It is called off the render loop. The
	// snapshot is the geometry at submission; composition uses the geometry current on the
	// loop when the result is handled.
	OnResult(ctx context.Context, detections []objectdetection.Detection, snapshot geometry.Size)
	// AwaitGeometry asks the render loop for the screen size and blocks until it has been
	// recorded. It must not be called from the render loop.
	AwaitGeometry(ctx context.Context) (geometry.Size, error)
	// Handshake runs step on the render loop and blocks until it has finished, with the same
	// bound as AwaitGeometry. The bound covers queueing the step. When an error is returned the
	// step has not run and never will.
	Handshake(ctx context.Context, step func()) error
	// WatchGeometry registers fn to run on the render loop after every geometry change. The
	// returned func unregisters it and may be called more than once.
	WatchGeometry(fn func(geometry.Size, orientation.Capture)) (unwatch func())
	Geometry() geometry.Size
	Orientation() orientation.Capture
	// Generation counts published overlay batches.
	Generation() uint64
	Close(ctx context.Context) error
}

// Config holds an engine's collaborators.
type Config struct {
	Loop     *renderloop.Loop
	Screen   camera.ScreenProvider
	Composer *overlay.Composer
	// Orientation is sampled on every geometry change. When nil the overlay stays in portrait.
	Orientation      camera.OrientationSource
	HandshakeTimeout time.Duration
}

type overlayEngine struct {
	loop             *renderloop.Loop
	screen           camera.ScreenProvider
	composer         *overlay.Composer
	orientationSrc   camera.OrientationSource
	handshakeTimeout time.Duration
	logger           logging.Logger

	store       *geometry.Store
	root        *overlay.Layer
	orientation *atomic.Int32
	generation  *atomic.Uint64
	closed      *atomic.Bool

	watchersMu  sync.Mutex
	nextWatcher uint64
	watchers    []geometryWatcher
}

type geometryWatcher struct {
	id uint64
	fn func(geometry.Size, orientation.Capture)
}

// New returns an engine publishing into a fresh overlay root.
func New(conf Config, logger logging.Logger) (Engine, error) {
	if conf.Loop == nil {
		return nil, errors.New("overlay engine requires a render loop")
	}
	if conf.Screen == nil {
		return nil, errors.New("overlay engine requires a screen provider")
	}
	if conf.Composer == nil {
		conf.Composer = overlay.NewComposer(overlay.ComposerConfig{}, logger)
	}
	if conf.HandshakeTimeout <= 0 {
		conf.HandshakeTimeout = DefaultHandshakeTimeout
	}
	return &overlayEngine{
		loop:             conf.Loop,
		screen:           conf.Screen,
		composer:         conf.Composer,
		orientationSrc:   conf.Orientation,
		handshakeTimeout: conf.HandshakeTimeout,
		logger:           logger,
		store:            geometry.NewStore(),
		root:             overlay.NewLayer("detections"),
		orientation:      atomic.NewInt32(int32(orientation.Portrait)),
		generation:       atomic.NewUint64(0),
		closed:           atomic.NewBool(false),
	}, nil
}

func (e *overlayEngine) AttachOverlay(ctx context.Context, parent *overlay.Layer) error {
	if e.closed.Load() {
		return ErrClosed
	}
	var err error
	if syncErr := e.loop.Sync(ctx, func() {
		if err = parent.AddSublayer(e.root); err != nil {
			return
		}
		e.root.SetFrame(e.store.Get().Bounds())
	}); syncErr != nil {
		return syncErr
	}
	return err
}

func (e *overlayEngine) UpdateGeometry(width, height float64) error {
	if e.closed.Load() {
		return ErrClosed
	}
	return e.loop.Async(func() { e.applyGeometry(width, height) })
}

// applyGeometry runs on the render loop.
func (e *overlayEngine) applyGeometry(width, height float64) {
	e.store.Set(width, height)
	size := e.store.Get()
	e.root.SetFrame(size.Bounds())

	o := orientation.Portrait
	if e.orientationSrc != nil {
		o = orientation.FromInterface(e.orientationSrc.InterfaceOrientation())
	}
	e.orientation.Store(int32(o))
	e.logger.Debugw("screen geometry updated", "size", size.String(), "orientation", o.String())

	e.watchersMu.Lock()
	watchers := make([]geometryWatcher, len(e.watchers))
	copy(watchers, e.watchers)
	e.watchersMu.Unlock()
	for _, w := range watchers {
		w.fn(size, o)
	}
}

func (e *overlayEngine) CurrentOverlayRoot() *overlay.Layer {
	return e.root
}

func (e *overlayEngine) OnResult(ctx context.Context, detections []objectdetection.Detection, snapshot geometry.Size) {
	_, span := trace.StartSpan(ctx, "engine::OnResult")
	defer span.End()

	if e.closed.Load() {
		return
	}
	batch := make([]objectdetection.Detection, len(detections))
	copy(batch, detections)
	if err := e.loop.Async(func() { e.publish(batch, snapshot) }); err != nil {
		e.logger.Debugw("dropping detection batch", "count", len(batch), "reason", err)
	}
}

// publish runs on the render loop.
func (e *overlayEngine) publish(batch []objectdetection.Detection, snapshot geometry.Size) {
	// The owning view may have gone away while the result was in flight.
	if e.closed.Load() {
		return
	}
	current := e.store.Get()
	if current != snapshot {
		e.logger.Debugw("screen geometry changed during inference", "submitted", snapshot.String(), "current", current.String())
	}
	e.composer.Publish(e.root, batch, current, e.Orientation())
	e.generation.Inc()
}

func (e *overlayEngine) AwaitGeometry(ctx context.Context) (geometry.Size, error) {
	if err := e.Handshake(ctx, func() {
		size := e.screen.ScreenSize()
		e.applyGeometry(size.Width, size.Height)
	}); err != nil {
		return geometry.Size{}, errors.Wrap(err, "waiting for screen geometry")
	}
	return e.store.Get(), nil
}

func (e *overlayEngine) Handshake(ctx context.Context, step func()) error {
	if e.closed.Load() {
		return ErrClosed
	}
	stepCtx, cancel := context.WithTimeout(ctx, e.handshakeTimeout)
	defer cancel()

	r := newRendezvous()
	err := e.loop.AsyncContext(stepCtx, func() { r.run(step) })
	if err == nil {
		err = r.wait(stepCtx)
	}
	if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
		return ErrHandshakeTimeout
	}
	return err
}

func (e *overlayEngine) WatchGeometry(fn func(geometry.Size, orientation.Capture)) func() {
	e.watchersMu.Lock()
	defer e.watchersMu.Unlock()
	e.nextWatcher++
	id := e.nextWatcher
	e.watchers = append(e.watchers, geometryWatcher{id: id, fn: fn})
	return func() {
		e.watchersMu.Lock()
		defer e.watchersMu.Unlock()
		for i, w := range e.watchers {
			if w.id == id {
				e.watchers = append(e.watchers[:i:i], e.watchers[i+1:]...)
				return
			}
		}
	}
}

func (e *overlayEngine) Geometry() geometry.Size {
	return e.store.Get()
}

func (e *overlayEngine) Orientation() orientation.Capture {
	return orientation.Capture(e.orientation.Load())
}

func (e *overlayEngine) Generation() uint64 {
	return e.generation.Load()
}

// Close detaches the overlay. Results still in flight are dropped.
func (e *overlayEngine) Close(ctx context.Context) error {
	if !e.closed.CompareAndSwap(false, true) {
		return nil
	}
	if e.loop.Stopped() {
		e.root.RemoveFromSuperlayer()
		return nil
	}
	err := e.loop.Sync(ctx, e.root.RemoveFromSuperlayer)
	if errors.Is(err, renderloop.ErrStopped) {
		e.root.RemoveFromSuperlayer()
		return nil
	}
	return err
}
