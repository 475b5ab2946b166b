// Package fake implements camera sources for tools and tests.
package fake

import (
	"context"
	"image"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/disintegration/imaging"
	"github.com/pkg/errors"

	"go.viam.com/overlay/camera"
	"go.viam.com/overlay/utils"
)

// StaticSource delivers the same image at a fixed rate. Frames the consumer is not ready for are
// dropped, like a capture output that discards late buffers.
type StaticSource struct {
	img                  image.Image
	interval             time.Duration
	clock                clock.Clock
	orientationSupported bool

	mu        sync.Mutex
	frames    chan *camera.Frame
	workers   utils.StoppableWorkers
	started   bool
	closeOnce sync.Once
}

// NewStaticSource returns a source emitting img fps times a second, timed by clk.
func NewStaticSource(img image.Image, fps float64, clk clock.Clock) (*StaticSource, error) {
	if fps <= 0 {
		return nil, errors.Errorf("frame rate must be positive, got %v", fps)
	}
	if clk == nil {
		clk = clock.New()
	}
	return &StaticSource{
		img:                  img,
		interval:             time.Duration(float64(time.Second) / fps),
		clock:                clk,
		orientationSupported: true,
		frames:               make(chan *camera.Frame, 1),
	}, nil
}

// NewImageFileSource decodes the image at path and serves it like NewStaticSource.
func NewImageFileSource(path string, fps float64, clk clock.Clock) (*StaticSource, error) {
	img, err := imaging.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "cannot open image %q", path)
	}
	return NewStaticSource(img, fps, clk)
}

// SetOrientationSupported sets what delivered frames report about their connection.
func (s *StaticSource) SetOrientationSupported(supported bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.orientationSupported = supported
}

// Start begins delivering frames.
func (s *StaticSource) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return errors.New("static source already started")
	}
	s.started = true
	ticker := s.clock.Ticker(s.interval)
	s.workers = utils.NewStoppableWorkers(func(ctx context.Context) {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case now := <-ticker.C:
				s.emit(now)
			}
		}
	})
	return nil
}

func (s *StaticSource) emit(now time.Time) {
	s.mu.Lock()
	frame := &camera.Frame{Image: s.img, OrientationSupported: s.orientationSupported, Timestamp: now}
	s.mu.Unlock()
	select {
	case s.frames <- frame:
	default:
	}
}

// Frames returns the delivery channel.
func (s *StaticSource) Frames() <-chan *camera.Frame {
	return s.frames
}

// Stop ends delivery and closes the frame channel.
func (s *StaticSource) Stop(ctx context.Context) error {
	s.mu.Lock()
	workers := s.workers
	s.mu.Unlock()
	if workers != nil {
		workers.Stop()
	}
	s.closeOnce.Do(func() { close(s.frames) })
	return nil
}
