// Package session runs a capture session: it performs the setup handshake with the render loop,
// loads the classifier, and feeds captured frames through inference into the overlay engine.
package session

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"go.opencensus.io/trace"
	"go.uber.org/atomic"
	"go.uber.org/multierr"
	"golang.org/x/time/rate"

	"go.viam.com/overlay/camera"
	"go.viam.com/overlay/engine"
	"go.viam.com/overlay/geometry"
	"go.viam.com/overlay/logging"
	"go.viam.com/overlay/orientation"
	"go.viam.com/overlay/overlay"
	"go.viam.com/overlay/renderloop"
	"go.viam.com/overlay/utils"
	"go.viam.com/overlay/vision/objectdetection"
)

var (
	// ErrModelLoad is wrapped by the error Start returns when the classifier cannot be loaded.
	// There is nothing useful to show without detections, so the session does not start.
	ErrModelLoad = errors.New("failed to load detection model")
	// ErrAlreadyStarted is returned by Start on a running session.
	ErrAlreadyStarted = errors.New("capture session already started")
	// ErrClosed is returned by Start on a closed session.
	ErrClosed = errors.New("capture session is closed")
)

// PreviewLayerName names the layer showing the camera feed.
const PreviewLayerName = "preview"

// Config holds a session's collaborators.
type Config struct {
	Source camera.Source
	Loader objectdetection.Loader
	Engine engine.Engine
	Loop   *renderloop.Loop
	// Parent is the host layer the preview and the overlay are attached to.
	Parent *overlay.Layer
	// Orientation is sampled once, on the first frame whose connection supports orientation.
	// When nil frames are tagged portrait.
	Orientation camera.OrientationSource
}

// Stats counts what happened to the frames a session received.
type Stats struct {
	FramesReceived uint64
	// FramesSkipped carried no pixel buffer.
	FramesSkipped uint64
	// FramesDropped arrived while an inference was in flight.
	FramesDropped     uint64
	InferenceFailures uint64
	ResultsDelivered  uint64
}

// A Session owns one run of the capture pipeline.
type Session struct {
	id     uuid.UUID
	conf   Config
	logger logging.Logger

	mu         sync.Mutex
	started    bool
	closed     bool
	workers    utils.StoppableWorkers
	classifier objectdetection.Classifier
	preview    *overlay.Layer
	unwatch    func()

	pending            chan objectdetection.Frame
	busy               *atomic.Bool
	orientationSampled *atomic.Bool
	videoOrientation   *atomic.Int32
	sequence           *atomic.Uint64
	latest             *atomic.Pointer[camera.Frame]
	dropLog            *rate.Limiter

	framesReceived    *atomic.Uint64
	framesSkipped     *atomic.Uint64
	framesDropped     *atomic.Uint64
	inferenceFailures *atomic.Uint64
	resultsDelivered  *atomic.Uint64
}

// New returns a session that has not been started.
func New(conf Config, logger logging.Logger) (*Session, error) {
	switch {
	case conf.Source == nil:
		return nil, errors.New("capture session requires a source")
	case conf.Loader == nil:
		return nil, errors.New("capture session requires a model loader")
	case conf.Engine == nil:
		return nil, errors.New("capture session requires an overlay engine")
	case conf.Loop == nil:
		return nil, errors.New("capture session requires a render loop")
	case conf.Parent == nil:
		return nil, errors.New("capture session requires a parent layer")
	}
	return &Session{
		id:                 uuid.New(),
		conf:               conf,
		logger:             logger,
		pending:            make(chan objectdetection.Frame, 1),
		busy:               atomic.NewBool(false),
		orientationSampled: atomic.NewBool(false),
		videoOrientation:   atomic.NewInt32(int32(orientation.Portrait)),
		sequence:           atomic.NewUint64(0),
		latest:             atomic.NewPointer[camera.Frame](nil),
		dropLog:            rate.NewLimiter(rate.Every(time.Second), 1),
		framesReceived:     atomic.NewUint64(0),
		framesSkipped:      atomic.NewUint64(0),
		framesDropped:      atomic.NewUint64(0),
		inferenceFailures:  atomic.NewUint64(0),
		resultsDelivered:   atomic.NewUint64(0),
	}, nil
}

// ID returns the id of this session.
func (s *Session) ID() uuid.UUID {
	return s.id
}

// Start runs setup on the session worker and returns once setup has finished. On success the
// worker goes on to deliver frames. A failed start leaves nothing attached and may be retried.
func (s *Session) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	if s.started {
		return ErrAlreadyStarted
	}

	ctx, span := trace.StartSpan(ctx, "session::Start")
	defer span.End()

	ready := make(chan error, 1)
	workers := utils.NewStoppableWorkers(
		func(workerCtx context.Context) {
			err := s.setup(ctx)
			ready <- err
			if err != nil {
				return
			}
			s.deliverFrames(workerCtx)
		},
		s.runInference,
	)
	if err := <-ready; err != nil {
		workers.Stop()
		s.teardown(ctx)
		return err
	}
	s.workers = workers
	s.started = true
	s.logger.Infow("capture session started", "id", s.id.String())
	return nil
}

// setup runs on the session worker with s.mu held by Start.
func (s *Session) setup(ctx context.Context) error {
	size, err := s.conf.Engine.AwaitGeometry(ctx)
	if err != nil {
		return err
	}

	preview := overlay.NewLayer(PreviewLayerName)
	preview.SetFrame(size.Bounds())
	preview.SetGravity(overlay.GravityResizeAspectFill)
	// A failed handshake never runs the attach, so there is nothing to undo here.
	var attachErr error
	if err := s.conf.Engine.Handshake(ctx, func() {
		attachErr = s.conf.Parent.AddSublayer(preview)
	}); err != nil {
		return errors.Wrap(err, "attaching preview layer")
	}
	if attachErr != nil {
		return attachErr
	}
	s.preview = preview
	s.unwatch = s.conf.Engine.WatchGeometry(func(size geometry.Size, _ orientation.Capture) {
		preview.SetFrame(size.Bounds())
	})

	if err := s.conf.Engine.AttachOverlay(ctx, s.conf.Parent); err != nil {
		return err
	}

	classifier, err := s.conf.Loader(ctx)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrModelLoad, err)
	}
	if len(classifier.Labels()) == 0 {
		return multierr.Combine(
			errors.Wrap(ErrModelLoad, "model has no class labels"),
			classifier.Close(ctx),
		)
	}
	s.classifier = classifier

	if err := s.conf.Source.Start(ctx); err != nil {
		return errors.Wrap(err, "starting capture source")
	}
	return nil
}

// teardown undoes a partial setup.
func (s *Session) teardown(ctx context.Context) {
	if s.unwatch != nil {
		s.unwatch()
		s.unwatch = nil
	}
	if s.classifier != nil {
		if err := s.classifier.Close(ctx); err != nil {
			s.logger.Warnw("error closing classifier", "error", err)
		}
		s.classifier = nil
	}
	if s.conf.Loop.Stopped() {
		return
	}
	preview := s.preview
	s.preview = nil
	root := s.conf.Engine.CurrentOverlayRoot()
	if err := s.conf.Loop.Async(func() {
		if preview != nil {
			preview.RemoveFromSuperlayer()
		}
		if root.Superlayer() == s.conf.Parent {
			root.RemoveFromSuperlayer()
		}
	}); err != nil {
		s.logger.Debugw("could not detach layers", "error", err)
	}
}

func (s *Session) deliverFrames(ctx context.Context) {
	frames := s.conf.Source.Frames()
	for {
		select {
		case <-ctx.Done():
			return
		case frame, ok := <-frames:
			if !ok {
				s.logger.Debug("capture source stopped delivering frames")
				return
			}
			s.handleFrame(ctx, frame)
		}
	}
}

func (s *Session) handleFrame(ctx context.Context, frame *camera.Frame) {
	s.framesReceived.Inc()
	if frame == nil || frame.Image == nil {
		s.framesSkipped.Inc()
		return
	}
	s.latest.Store(frame)
	if frame.OrientationSupported && !s.orientationSampled.Load() {
		s.sampleOrientation(ctx)
	}

	if !s.busy.CompareAndSwap(false, true) {
		dropped := s.framesDropped.Inc()
		if s.dropLog.Allow() {
			s.logger.Debugw("inference busy, dropping frames", "dropped", dropped)
		}
		return
	}
	f := objectdetection.Frame{
		Image:       frame.Image,
		Orientation: s.VideoOrientation(),
		Sequence:    s.sequence.Inc(),
	}
	select {
	case <-ctx.Done():
		s.busy.Store(false)
	case s.pending <- f:
	}
}

// sampleOrientation reads the interface orientation on the render loop and keeps it as the
// video orientation for the rest of the session.
func (s *Session) sampleOrientation(ctx context.Context) {
	if s.conf.Orientation == nil {
		s.orientationSampled.Store(true)
		return
	}
	var raw orientation.InterfaceOrientation
	if err := s.conf.Loop.Sync(ctx, func() {
		raw = s.conf.Orientation.InterfaceOrientation()
	}); err != nil {
		s.logger.Debugw("could not sample orientation", "error", err)
		return
	}
	o := orientation.FromInterface(raw)
	s.videoOrientation.Store(int32(o))
	s.orientationSampled.Store(true)
	s.logger.Debugw("video orientation set", "orientation", o.String())
}

func (s *Session) runInference(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case f := <-s.pending:
			s.infer(ctx, f)
		}
	}
}

func (s *Session) infer(ctx context.Context, f objectdetection.Frame) {
	// The span covers delivery, which may happen after Classify returns.
	ctx, span := trace.StartSpan(ctx, "session::infer")
	endSpan := sync.OnceFunc(span.End)

	snapshot := s.conf.Engine.Geometry()
	var once sync.Once
	err := s.classifier.Classify(ctx, f, func(detections []objectdetection.Detection, err error) {
		once.Do(func() {
			defer endSpan()
			defer s.busy.Store(false)
			if err != nil {
				s.inferenceFailures.Inc()
				s.logger.Warnw("inference failed", "frame", f.Sequence, "error", err)
				return
			}
			s.resultsDelivered.Inc()
			s.conf.Engine.OnResult(ctx, detections, snapshot)
		})
	})
	if err != nil {
		s.inferenceFailures.Inc()
		s.logger.Warnw("classifier rejected frame", "frame", f.Sequence, "error", err)
		s.busy.Store(false)
		endSpan()
	}
}

// Preview returns the preview layer, or nil before a successful Start.
func (s *Session) Preview() *overlay.Layer {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.preview
}

// LatestFrame returns the most recent frame that carried a pixel buffer.
func (s *Session) LatestFrame() *camera.Frame {
	return s.latest.Load()
}

// VideoOrientation returns the orientation frames are tagged with.
func (s *Session) VideoOrientation() orientation.Capture {
	return orientation.Capture(s.videoOrientation.Load())
}

// Stats returns the frame counters.
func (s *Session) Stats() Stats {
	return Stats{
		FramesReceived:    s.framesReceived.Load(),
		FramesSkipped:     s.framesSkipped.Load(),
		FramesDropped:     s.framesDropped.Load(),
		InferenceFailures: s.inferenceFailures.Load(),
		ResultsDelivered:  s.resultsDelivered.Load(),
	}
}

// Close stops capture and inference and detaches the overlay. Results still in flight are
// dropped.
func (s *Session) Close(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true

	var err error
	if s.started {
		err = multierr.Combine(err, s.conf.Source.Stop(ctx))
		s.workers.Stop()
	}
	err = multierr.Combine(err, s.conf.Engine.Close(ctx))
	s.teardown(ctx)
	s.logger.Infow("capture session closed", "id", s.id.String(), "stats", s.Stats())
	return err
}
