// Package main is a demo that runs the detection overlay against a still image and a recorded
// set of detections, and writes the composed frame to a PNG.
package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/disintegration/imaging"
	"github.com/pkg/errors"
	"github.com/urfave/cli/v2"
	"go.uber.org/multierr"

	"go.viam.com/overlay/camera"
	"go.viam.com/overlay/camera/fake"
	"go.viam.com/overlay/config"
	"go.viam.com/overlay/engine"
	"go.viam.com/overlay/geometry"
	"go.viam.com/overlay/logging"
	"go.viam.com/overlay/orientation"
	"go.viam.com/overlay/overlay"
	"go.viam.com/overlay/renderloop"
	"go.viam.com/overlay/session"
	"go.viam.com/overlay/vision/objectdetection"
)

const (
	// Flags.
	flagConfig      = "config"
	flagDebug       = "debug"
	flagImage       = "image"
	flagDetections  = "detections"
	flagOut         = "out"
	flagWidth       = "width"
	flagHeight      = "height"
	flagOrientation = "orientation"
	flagFrames      = "frames"
	flagFPS         = "fps"
	flagTimeout     = "timeout"
)

type demoOptions struct {
	imagePath      string
	detectionsPath string
	outPath        string
	screen         geometry.Size
	orientation    orientation.InterfaceOrientation
	frames         uint64
	fps            float64
	timeout        time.Duration
}

// fixedOrientation reports the same orientation on every poll.
type fixedOrientation orientation.InterfaceOrientation

func (o fixedOrientation) DeviceOrientation() orientation.DeviceOrientation {
	switch orientation.InterfaceOrientation(o) {
	case orientation.InterfacePortrait:
		return orientation.DevicePortrait
	case orientation.InterfacePortraitUpsideDown:
		return orientation.DevicePortraitUpsideDown
	case orientation.InterfaceLandscapeLeft:
		return orientation.DeviceLandscapeRight
	case orientation.InterfaceLandscapeRight:
		return orientation.DeviceLandscapeLeft
	case orientation.InterfaceUnknown:
		return orientation.DeviceUnknown
	default:
		return orientation.DeviceUnknown
	}
}

func (o fixedOrientation) InterfaceOrientation() orientation.InterfaceOrientation {
	return orientation.InterfaceOrientation(o)
}

func main() {
	logger := logging.NewLogger("overlay-demo")
	logging.ReplaceGlobal(logger)

	app := &cli.App{
		Name:  "overlay-demo",
		Usage: "draw recorded detections over a camera frame",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    flagConfig,
				Aliases: []string{"c"},
				Usage:   "load overlay configuration from `FILE` (json or yaml)",
			},
			&cli.BoolFlag{
				Name:  flagDebug,
				Usage: "enable debug logging",
			},
		},
		Commands: []*cli.Command{
			{
				Name:  "run",
				Usage: "run a capture session and write the composed overlay",
				Flags: []cli.Flag{
					&cli.PathFlag{Name: flagImage, Required: true, Usage: "camera frame to replay"},
					&cli.PathFlag{Name: flagDetections, Required: true, Usage: "JSON recording of detection batches"},
					&cli.PathFlag{Name: flagOut, Required: true, Usage: "PNG to write"},
					&cli.Float64Flag{Name: flagWidth, Value: 1080, Usage: "screen width in points"},
					&cli.Float64Flag{Name: flagHeight, Value: 1920, Usage: "screen height in points"},
					&cli.StringFlag{Name: flagOrientation, Value: "portrait", Usage: "interface orientation"},
					&cli.Uint64Flag{Name: flagFrames, Value: 1, Usage: "number of overlay batches to wait for"},
					&cli.Float64Flag{Name: flagFPS, Value: 30, Usage: "simulated capture frame rate"},
					&cli.DurationFlag{Name: flagTimeout, Value: 10 * time.Second, Usage: "give up after this long"},
				},
				Action: func(c *cli.Context) error {
					cfg := config.Default()
					if path := c.String(flagConfig); path != "" {
						var err error
						if cfg, err = config.Read(path); err != nil {
							return err
						}
					}
					logger.SetLevel(cfg.Level())
					if c.Bool(flagDebug) {
						logger.SetLevel(logging.DEBUG)
					}

					o, err := orientation.ParseInterface(c.String(flagOrientation))
					if err != nil {
						return err
					}
					opts := demoOptions{
						imagePath:      c.Path(flagImage),
						detectionsPath: c.Path(flagDetections),
						outPath:        c.Path(flagOut),
						screen:         geometry.Size{Width: c.Float64(flagWidth), Height: c.Float64(flagHeight)},
						orientation:    o,
						frames:         c.Uint64(flagFrames),
						fps:            c.Float64(flagFPS),
						timeout:        c.Duration(flagTimeout),
					}
					stats, err := runDemo(c.Context, cfg, opts, logger)
					if err != nil {
						return err
					}
					fmt.Fprintf(c.App.Writer, "wrote %s: %d frames, %d dropped, %d results\n",
						opts.outPath, stats.FramesReceived, stats.FramesDropped, stats.ResultsDelivered)
					return nil
				},
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		logger.Fatal(err)
	}
}

func runDemo(ctx context.Context, cfg *config.Config, opts demoOptions, logger logging.Logger) (session.Stats, error) {
	if opts.screen.IsZero() {
		return session.Stats{}, errors.Errorf("screen size %v has no area", opts.screen)
	}
	ctx, cancel := context.WithTimeout(ctx, opts.timeout)
	defer cancel()

	loop := renderloop.New(cfg.RenderQueueSize, logger.Sublogger("renderloop"))
	defer loop.Stop()

	composer := overlay.NewComposer(cfg.ComposerConfig(overlay.NewFontMeasurer(nil)), logger.Sublogger("composer"))
	orient := fixedOrientation(opts.orientation)
	eng, err := engine.New(engine.Config{
		Loop:             loop,
		Screen:           camera.ScreenSizeFunc(func() geometry.Size { return opts.screen }),
		Composer:         composer,
		Orientation:      orient,
		HandshakeTimeout: cfg.HandshakeTimeout,
	}, logger.Sublogger("engine"))
	if err != nil {
		return session.Stats{}, err
	}

	source, err := fake.NewImageFileSource(opts.imagePath, opts.fps, nil)
	if err != nil {
		return session.Stats{}, err
	}
	source.SetOrientationSupported(true)

	view := overlay.NewLayer("view")
	view.SetFrame(opts.screen.Bounds())
	sess, err := session.New(session.Config{
		Source:      source,
		Loader:      objectdetection.NewReplayLoader(opts.detectionsPath),
		Engine:      eng,
		Loop:        loop,
		Parent:      view,
		Orientation: orient,
	}, logger.Sublogger("session"))
	if err != nil {
		return session.Stats{}, err
	}
	if err := sess.Start(ctx); err != nil {
		return session.Stats{}, multierr.Combine(err, sess.Close(context.Background()))
	}
	logger.Infow("session running", "id", sess.ID().String(), "screen", opts.screen.String())

	waitErr := waitForBatches(ctx, eng, opts.frames)
	var rendered error
	if waitErr == nil {
		rendered = writeSnapshot(ctx, loop, view, sess, opts.outPath)
	}
	stats := sess.Stats()
	return stats, multierr.Combine(waitErr, rendered, sess.Close(context.Background()))
}

func waitForBatches(ctx context.Context, eng engine.Engine, n uint64) error {
	ticker := time.NewTicker(10 * time.Millisecond)
	defer ticker.Stop()
	for eng.Generation() < n {
		select {
		case <-ctx.Done():
			return errors.Wrapf(ctx.Err(), "waiting for %d overlay batches, got %d", n, eng.Generation())
		case <-ticker.C:
		}
	}
	return nil
}

func writeSnapshot(ctx context.Context, loop *renderloop.Loop, view *overlay.Layer, sess *session.Session, outPath string) error {
	frame := sess.LatestFrame()
	if frame == nil {
		return errors.New("no camera frame to render")
	}
	var err error
	if syncErr := loop.Sync(ctx, func() {
		img, renderErr := overlay.Render(view, frame.Image)
		if renderErr != nil {
			err = renderErr
			return
		}
		err = imaging.Save(img, outPath)
	}); syncErr != nil {
		return syncErr
	}
	return err
}
