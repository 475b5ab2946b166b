package session_test

import (
	"context"
	"image"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"go.opencensus.io/trace"
	"go.uber.org/atomic"
	"go.viam.com/test"
	"go.viam.com/utils/testutils"

	"go.viam.com/overlay/camera"
	"go.viam.com/overlay/engine"
	"go.viam.com/overlay/geometry"
	"go.viam.com/overlay/logging"
	"go.viam.com/overlay/orientation"
	"go.viam.com/overlay/overlay"
	"go.viam.com/overlay/renderloop"
	"go.viam.com/overlay/session"
	"go.viam.com/overlay/testutils/inject"
	"go.viam.com/overlay/vision/objectdetection"
)

type harness struct {
	loop   *renderloop.Loop
	engine engine.Engine
	parent *overlay.Layer
	frames chan *camera.Frame
	source *inject.Source
	conf   session.Config
}

func newHarness(t *testing.T, classifier *inject.Classifier, timeout time.Duration) *harness {
	t.Helper()
	logger := logging.NewTestLogger(t)
	loop := renderloop.New(0, logger)
	t.Cleanup(loop.Stop)

	eng, err := engine.New(engine.Config{
		Loop:             loop,
		Screen:           camera.ScreenSizeFunc(func() geometry.Size { return geometry.Size{Width: 1080, Height: 1920} }),
		HandshakeTimeout: timeout,
	}, logger)
	test.That(t, err, test.ShouldBeNil)

	h := &harness{
		loop:   loop,
		engine: eng,
		parent: overlay.NewLayer("view"),
		frames: make(chan *camera.Frame),
	}
	h.source = &inject.Source{
		StartFunc:  func(ctx context.Context) error { return nil },
		FramesFunc: func() <-chan *camera.Frame { return h.frames },
		StopFunc:   func(ctx context.Context) error { return nil },
	}
	h.conf = session.Config{
		Source: h.source,
		Loader: func(ctx context.Context) (objectdetection.Classifier, error) { return classifier, nil },
		Engine: eng,
		Loop:   loop,
		Parent: h.parent,
	}
	return h
}

func (h *harness) newSession(t *testing.T) *session.Session {
	t.Helper()
	sess, err := session.New(h.conf, logging.NewTestLogger(t))
	test.That(t, err, test.ShouldBeNil)
	t.Cleanup(func() {
		test.That(t, sess.Close(context.Background()), test.ShouldBeNil)
	})
	return sess
}

func (h *harness) drain(t *testing.T) {
	t.Helper()
	test.That(t, h.loop.Sync(context.Background(), func() {}), test.ShouldBeNil)
}

// watchCountingEngine tracks how many geometry watchers are registered.
type watchCountingEngine struct {
	engine.Engine
	live atomic.Int32
}

func (e *watchCountingEngine) WatchGeometry(fn func(geometry.Size, orientation.Capture)) func() {
	e.live.Inc()
	unwatch := e.Engine.WatchGeometry(fn)
	var once sync.Once
	return func() {
		once.Do(func() {
			e.live.Dec()
			unwatch()
		})
	}
}

func testFrame() *camera.Frame {
	return &camera.Frame{Image: image.NewNRGBA(image.Rect(0, 0, 4, 4)), Timestamp: time.Now()}
}

// immediateClassifier reports one detection per frame from its own goroutine.
func immediateClassifier() *inject.Classifier {
	return &inject.Classifier{
		LabelsFunc: func() []string { return []string{"cat"} },
		ClassifyFunc: func(ctx context.Context, frame objectdetection.Frame, done objectdetection.ResultFunc) error {
			go done([]objectdetection.Detection{
				objectdetection.NewDetection(geometry.NewRect(0.25, 0.25, 0.5, 0.5), 0.9, "cat"),
			}, nil)
			return nil
		},
		CloseFunc: func(ctx context.Context) error { return nil },
	}
}

func TestNewValidation(t *testing.T) {
	h := newHarness(t, immediateClassifier(), time.Second)
	logger := logging.NewTestLogger(t)

	conf := h.conf
	conf.Source = nil
	_, err := session.New(conf, logger)
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, err.Error(), test.ShouldContainSubstring, "source")

	conf = h.conf
	conf.Loader = nil
	_, err = session.New(conf, logger)
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, err.Error(), test.ShouldContainSubstring, "model loader")

	conf = h.conf
	conf.Parent = nil
	_, err = session.New(conf, logger)
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, err.Error(), test.ShouldContainSubstring, "parent layer")

	sess1, err := session.New(h.conf, logger)
	test.That(t, err, test.ShouldBeNil)
	sess2, err := session.New(h.conf, logger)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, sess1.ID(), test.ShouldNotEqual, uuid.Nil)
	test.That(t, sess1.ID(), test.ShouldNotEqual, sess2.ID())
}

func TestStartAttachesLayers(t *testing.T) {
	h := newHarness(t, immediateClassifier(), time.Second)
	sess := h.newSession(t)
	test.That(t, sess.Start(context.Background()), test.ShouldBeNil)
	h.drain(t)

	preview := sess.Preview()
	test.That(t, preview, test.ShouldNotBeNil)
	test.That(t, preview.Gravity(), test.ShouldEqual, overlay.GravityResizeAspectFill)
	test.That(t, preview.Frame(), test.ShouldResemble, geometry.NewRect(0, 0, 1080, 1920))

	subs := h.parent.Sublayers()
	test.That(t, subs, test.ShouldHaveLength, 2)
	test.That(t, subs[0], test.ShouldEqual, preview)
	test.That(t, subs[1], test.ShouldEqual, h.engine.CurrentOverlayRoot())

	test.That(t, sess.Start(context.Background()), test.ShouldBeError, session.ErrAlreadyStarted)
}

func TestPreviewFollowsGeometry(t *testing.T) {
	h := newHarness(t, immediateClassifier(), time.Second)
	sess := h.newSession(t)
	test.That(t, sess.Start(context.Background()), test.ShouldBeNil)

	test.That(t, h.engine.UpdateGeometry(1920, 1080), test.ShouldBeNil)
	h.drain(t)
	test.That(t, sess.Preview().Frame(), test.ShouldResemble, geometry.NewRect(0, 0, 1920, 1080))
	test.That(t, h.engine.CurrentOverlayRoot().Frame(), test.ShouldResemble, geometry.NewRect(0, 0, 1920, 1080))
}

func TestFramesReachOverlay(t *testing.T) {
	h := newHarness(t, immediateClassifier(), time.Second)
	sess := h.newSession(t)
	test.That(t, sess.Start(context.Background()), test.ShouldBeNil)

	frame := testFrame()
	h.frames <- frame
	testutils.WaitForAssertion(t, func(tb testing.TB) {
		tb.Helper()
		test.That(tb, h.engine.Generation(), test.ShouldEqual, uint64(1))
	})
	h.drain(t)

	boxes := h.engine.CurrentOverlayRoot().Boxes()
	test.That(t, boxes, test.ShouldHaveLength, 1)
	test.That(t, boxes[0].Frame, test.ShouldResemble, geometry.NewRect(270, 480, 540, 960))
	test.That(t, sess.LatestFrame(), test.ShouldEqual, frame)

	stats := sess.Stats()
	test.That(t, stats.FramesReceived, test.ShouldEqual, uint64(1))
	test.That(t, stats.ResultsDelivered, test.ShouldEqual, uint64(1))
}

type spanRecorder struct {
	mu    sync.Mutex
	spans map[string]*trace.SpanData
}

func (r *spanRecorder) ExportSpan(sd *trace.SpanData) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.spans[sd.Name] = sd
}

func (r *spanRecorder) get(name string) *trace.SpanData {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.spans[name]
}

func TestInferSpanCoversDelivery(t *testing.T) {
	recorder := &spanRecorder{spans: map[string]*trace.SpanData{}}
	trace.RegisterExporter(recorder)
	trace.ApplyConfig(trace.Config{DefaultSampler: trace.AlwaysSample()})
	t.Cleanup(func() {
		trace.UnregisterExporter(recorder)
		trace.ApplyConfig(trace.Config{DefaultSampler: trace.ProbabilitySampler(1e-4)})
	})

	release := make(chan struct{})
	classifier := &inject.Classifier{
		LabelsFunc: func() []string { return []string{"cat"} },
		ClassifyFunc: func(ctx context.Context, frame objectdetection.Frame, done objectdetection.ResultFunc) error {
			go func() {
				<-release
				done([]objectdetection.Detection{
					objectdetection.NewDetection(geometry.NewRect(0.25, 0.25, 0.5, 0.5), 0.9, "cat"),
				}, nil)
			}()
			return nil
		},
		CloseFunc: func(ctx context.Context) error { return nil },
	}
	h := newHarness(t, classifier, time.Second)
	sess := h.newSession(t)
	test.That(t, sess.Start(context.Background()), test.ShouldBeNil)

	h.frames <- testFrame()
	// Classify has returned, but the result is still outstanding.
	time.Sleep(20 * time.Millisecond)
	test.That(t, recorder.get("session::infer"), test.ShouldBeNil)
	close(release)

	testutils.WaitForAssertion(t, func(tb testing.TB) {
		tb.Helper()
		test.That(tb, recorder.get("session::infer"), test.ShouldNotBeNil)
		test.That(tb, recorder.get("engine::OnResult"), test.ShouldNotBeNil)
	})
	infer := recorder.get("session::infer")
	onResult := recorder.get("engine::OnResult")
	test.That(t, onResult.ParentSpanID, test.ShouldEqual, infer.SpanID)
	test.That(t, onResult.EndTime.After(infer.EndTime), test.ShouldBeFalse)
}

func TestSkipsFramesWithoutImage(t *testing.T) {
	h := newHarness(t, immediateClassifier(), time.Second)
	sess := h.newSession(t)
	test.That(t, sess.Start(context.Background()), test.ShouldBeNil)

	h.frames <- &camera.Frame{}
	h.frames <- nil
	testutils.WaitForAssertion(t, func(tb testing.TB) {
		tb.Helper()
		test.That(tb, sess.Stats().FramesSkipped, test.ShouldEqual, uint64(2))
	})
	test.That(t, sess.Stats().ResultsDelivered, test.ShouldEqual, uint64(0))
	test.That(t, h.engine.Generation(), test.ShouldEqual, uint64(0))
	test.That(t, sess.LatestFrame(), test.ShouldBeNil)
}

func TestDropsFramesWhileBusy(t *testing.T) {
	release := make(chan struct{})
	var mu sync.Mutex
	var pending []objectdetection.ResultFunc
	classifier := &inject.Classifier{
		LabelsFunc: func() []string { return []string{"cat"} },
		ClassifyFunc: func(ctx context.Context, frame objectdetection.Frame, done objectdetection.ResultFunc) error {
			mu.Lock()
			pending = append(pending, done)
			mu.Unlock()
			go func() {
				<-release
				done(nil, nil)
			}()
			return nil
		},
	}
	h := newHarness(t, classifier, time.Second)
	sess := h.newSession(t)
	test.That(t, sess.Start(context.Background()), test.ShouldBeNil)

	for i := 0; i < 3; i++ {
		h.frames <- testFrame()
	}
	testutils.WaitForAssertion(t, func(tb testing.TB) {
		tb.Helper()
		test.That(tb, sess.Stats().FramesDropped, test.ShouldEqual, uint64(2))
	})
	testutils.WaitForAssertion(t, func(tb testing.TB) {
		tb.Helper()
		mu.Lock()
		defer mu.Unlock()
		test.That(tb, pending, test.ShouldHaveLength, 1)
	})

	close(release)
	testutils.WaitForAssertion(t, func(tb testing.TB) {
		tb.Helper()
		test.That(tb, sess.Stats().ResultsDelivered, test.ShouldEqual, uint64(1))
	})

	// the pipeline accepts frames again once the result is in
	h.frames <- testFrame()
	testutils.WaitForAssertion(t, func(tb testing.TB) {
		tb.Helper()
		test.That(tb, sess.Stats().ResultsDelivered, test.ShouldEqual, uint64(2))
	})
	test.That(t, sess.Stats().FramesDropped, test.ShouldEqual, uint64(2))
}

func TestInferenceFailureKeepsPreviousBoxes(t *testing.T) {
	var calls int
	var mu sync.Mutex
	classifier := &inject.Classifier{
		LabelsFunc: func() []string { return []string{"cat"} },
		ClassifyFunc: func(ctx context.Context, frame objectdetection.Frame, done objectdetection.ResultFunc) error {
			mu.Lock()
			calls++
			n := calls
			mu.Unlock()
			switch n {
			case 1:
				go done([]objectdetection.Detection{
					objectdetection.NewDetection(geometry.NewRect(0, 0, 0.5, 0.5), 0.9, "cat"),
				}, nil)
			case 2:
				go done(nil, errors.New("inference exploded"))
			default:
				return errors.New("not accepting frames")
			}
			return nil
		},
	}
	h := newHarness(t, classifier, time.Second)
	sess := h.newSession(t)
	test.That(t, sess.Start(context.Background()), test.ShouldBeNil)

	h.frames <- testFrame()
	testutils.WaitForAssertion(t, func(tb testing.TB) {
		tb.Helper()
		test.That(tb, h.engine.Generation(), test.ShouldEqual, uint64(1))
	})
	h.frames <- testFrame()
	testutils.WaitForAssertion(t, func(tb testing.TB) {
		tb.Helper()
		test.That(tb, sess.Stats().InferenceFailures, test.ShouldEqual, uint64(1))
	})
	h.frames <- testFrame()
	testutils.WaitForAssertion(t, func(tb testing.TB) {
		tb.Helper()
		test.That(tb, sess.Stats().InferenceFailures, test.ShouldEqual, uint64(2))
	})
	h.drain(t)

	test.That(t, h.engine.Generation(), test.ShouldEqual, uint64(1))
	test.That(t, h.engine.CurrentOverlayRoot().Boxes(), test.ShouldHaveLength, 1)
}

func TestOrientationSampledOnce(t *testing.T) {
	var mu sync.Mutex
	current := orientation.InterfaceLandscapeLeft
	var seen []orientation.Capture
	classifier := &inject.Classifier{
		LabelsFunc: func() []string { return []string{"cat"} },
		ClassifyFunc: func(ctx context.Context, frame objectdetection.Frame, done objectdetection.ResultFunc) error {
			mu.Lock()
			seen = append(seen, frame.Orientation)
			mu.Unlock()
			go done(nil, nil)
			return nil
		},
	}
	h := newHarness(t, classifier, time.Second)
	h.conf.Orientation = &inject.OrientationSource{
		InterfaceOrientationFunc: func() orientation.InterfaceOrientation {
			mu.Lock()
			defer mu.Unlock()
			return current
		},
	}
	sess := h.newSession(t)
	test.That(t, sess.Start(context.Background()), test.ShouldBeNil)

	// frames on a connection without orientation support stay portrait
	h.frames <- testFrame()
	testutils.WaitForAssertion(t, func(tb testing.TB) {
		tb.Helper()
		test.That(tb, sess.Stats().ResultsDelivered, test.ShouldEqual, uint64(1))
	})

	for i := 0; i < 2; i++ {
		frame := testFrame()
		frame.OrientationSupported = true
		h.frames <- frame
		want := uint64(i + 2)
		testutils.WaitForAssertion(t, func(tb testing.TB) {
			tb.Helper()
			test.That(tb, sess.Stats().ResultsDelivered, test.ShouldEqual, want)
		})
		mu.Lock()
		current = orientation.InterfaceLandscapeRight
		mu.Unlock()
	}

	test.That(t, sess.VideoOrientation(), test.ShouldEqual, orientation.LandscapeLeft)
	mu.Lock()
	defer mu.Unlock()
	test.That(t, seen, test.ShouldResemble, []orientation.Capture{
		orientation.Portrait, orientation.LandscapeLeft, orientation.LandscapeLeft,
	})
}

func TestStartFailures(t *testing.T) {
	t.Run("model load", func(t *testing.T) {
		h := newHarness(t, nil, time.Second)
		loadErr := errors.New("no such model")
		h.conf.Loader = func(ctx context.Context) (objectdetection.Classifier, error) { return nil, loadErr }
		sess := h.newSession(t)

		err := sess.Start(context.Background())
		test.That(t, errors.Is(err, session.ErrModelLoad), test.ShouldBeTrue)
		test.That(t, errors.Is(err, loadErr), test.ShouldBeTrue)
		h.drain(t)
		test.That(t, h.parent.Sublayers(), test.ShouldBeEmpty)
		test.That(t, sess.Preview(), test.ShouldBeNil)
	})

	t.Run("no labels", func(t *testing.T) {
		closed := false
		classifier := &inject.Classifier{
			LabelsFunc: func() []string { return nil },
			CloseFunc: func(ctx context.Context) error {
				closed = true
				return nil
			},
		}
		h := newHarness(t, classifier, time.Second)
		sess := h.newSession(t)

		err := sess.Start(context.Background())
		test.That(t, errors.Is(err, session.ErrModelLoad), test.ShouldBeTrue)
		test.That(t, err.Error(), test.ShouldContainSubstring, "no class labels")
		test.That(t, closed, test.ShouldBeTrue)
	})

	t.Run("permission denied", func(t *testing.T) {
		classifier := immediateClassifier()
		closed := false
		classifier.CloseFunc = func(ctx context.Context) error {
			closed = true
			return nil
		}
		h := newHarness(t, classifier, time.Second)
		h.source.StartFunc = func(ctx context.Context) error { return camera.ErrPermissionDenied }
		sess := h.newSession(t)

		err := sess.Start(context.Background())
		test.That(t, errors.Is(err, camera.ErrPermissionDenied), test.ShouldBeTrue)
		test.That(t, closed, test.ShouldBeTrue)
		h.drain(t)
		test.That(t, h.parent.Sublayers(), test.ShouldBeEmpty)
	})

	t.Run("handshake timeout then retry", func(t *testing.T) {
		h := newHarness(t, immediateClassifier(), 20*time.Millisecond)
		sess := h.newSession(t)

		block := make(chan struct{})
		test.That(t, h.loop.Async(func() { <-block }), test.ShouldBeNil)
		err := sess.Start(context.Background())
		test.That(t, errors.Is(err, engine.ErrHandshakeTimeout), test.ShouldBeTrue)
		close(block)
		h.drain(t)

		test.That(t, sess.Start(context.Background()), test.ShouldBeNil)
		h.drain(t)
		test.That(t, h.parent.Sublayers(), test.ShouldHaveLength, 2)
	})

	t.Run("preview attach timeout then retry", func(t *testing.T) {
		h := newHarness(t, immediateClassifier(), 30*time.Millisecond)
		block := make(chan struct{})
		var calls atomic.Int32
		eng, err := engine.New(engine.Config{
			Loop: h.loop,
			// The first geometry read stalls the loop right after it, so the geometry phase
			// completes and the preview attach is left waiting.
			Screen: camera.ScreenSizeFunc(func() geometry.Size {
				if calls.Inc() == 1 {
					if err := h.loop.Async(func() { <-block }); err != nil {
						t.Error(err)
					}
				}
				return geometry.Size{Width: 1080, Height: 1920}
			}),
			HandshakeTimeout: 30 * time.Millisecond,
		}, logging.NewTestLogger(t))
		test.That(t, err, test.ShouldBeNil)
		h.engine = eng
		h.conf.Engine = eng
		sess := h.newSession(t)

		err = sess.Start(context.Background())
		test.That(t, errors.Is(err, engine.ErrHandshakeTimeout), test.ShouldBeTrue)
		test.That(t, err.Error(), test.ShouldContainSubstring, "attaching preview layer")
		close(block)
		h.drain(t)
		test.That(t, h.parent.Sublayers(), test.ShouldBeEmpty)
		test.That(t, sess.Preview(), test.ShouldBeNil)

		test.That(t, sess.Start(context.Background()), test.ShouldBeNil)
		h.drain(t)
		subs := h.parent.Sublayers()
		test.That(t, subs, test.ShouldHaveLength, 2)
		test.That(t, subs[0], test.ShouldEqual, sess.Preview())
		test.That(t, subs[1], test.ShouldEqual, eng.CurrentOverlayRoot())
	})

	t.Run("failed starts release geometry watchers", func(t *testing.T) {
		h := newHarness(t, immediateClassifier(), time.Second)
		counting := &watchCountingEngine{Engine: h.engine}
		h.conf.Engine = counting
		var failLoad atomic.Bool
		failLoad.Store(true)
		h.conf.Loader = func(ctx context.Context) (objectdetection.Classifier, error) {
			if failLoad.Load() {
				return nil, errors.New("no such model")
			}
			return immediateClassifier(), nil
		}
		sess := h.newSession(t)

		for i := 0; i < 3; i++ {
			test.That(t, errors.Is(sess.Start(context.Background()), session.ErrModelLoad), test.ShouldBeTrue)
			test.That(t, counting.live.Load(), test.ShouldEqual, int32(0))
		}

		failLoad.Store(false)
		test.That(t, sess.Start(context.Background()), test.ShouldBeNil)
		test.That(t, counting.live.Load(), test.ShouldEqual, int32(1))
		test.That(t, sess.Close(context.Background()), test.ShouldBeNil)
		test.That(t, counting.live.Load(), test.ShouldEqual, int32(0))
	})
}

func TestClose(t *testing.T) {
	classifierClosed := false
	classifier := immediateClassifier()
	classifier.CloseFunc = func(ctx context.Context) error {
		classifierClosed = true
		return nil
	}
	h := newHarness(t, classifier, time.Second)
	sourceStopped := false
	h.source.StopFunc = func(ctx context.Context) error {
		sourceStopped = true
		return nil
	}
	sess, err := session.New(h.conf, logging.NewTestLogger(t))
	test.That(t, err, test.ShouldBeNil)
	test.That(t, sess.Start(context.Background()), test.ShouldBeNil)

	test.That(t, sess.Close(context.Background()), test.ShouldBeNil)
	h.drain(t)
	test.That(t, sourceStopped, test.ShouldBeTrue)
	test.That(t, classifierClosed, test.ShouldBeTrue)
	test.That(t, h.parent.Sublayers(), test.ShouldBeEmpty)

	test.That(t, sess.Close(context.Background()), test.ShouldBeNil)
	test.That(t, sess.Start(context.Background()), test.ShouldBeError, session.ErrClosed)
}

func TestCloseCombinesErrors(t *testing.T) {
	classifier := immediateClassifier()
	h := newHarness(t, classifier, time.Second)
	h.source.StopFunc = func(ctx context.Context) error { return errors.New("stop failed") }
	sess, err := session.New(h.conf, logging.NewTestLogger(t))
	test.That(t, err, test.ShouldBeNil)
	test.That(t, sess.Start(context.Background()), test.ShouldBeNil)

	err = sess.Close(context.Background())
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, err.Error(), test.ShouldContainSubstring, "stop failed")
}
