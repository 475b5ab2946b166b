package overlay

import (
	"go.viam.com/overlay/geometry"
	"go.viam.com/overlay/logging"
	"go.viam.com/overlay/orientation"
	"go.viam.com/overlay/vision/objectdetection"
)

// edgeTolerance is the slop allowed before a mapped box counts as off screen.
const edgeTolerance = 1e-6

// ComposerConfig configures a Composer. Zero values select the defaults.
type ComposerConfig struct {
	Measurer    Measurer
	MaxFontSize float64
	MinFontSize float64
	// MinConfidence drops detections scoring below it. The default of 0 keeps every detection.
	MinConfidence float64
	Style         *Style
}

// Composer turns a batch of detections into overlay boxes.
type Composer struct {
	measurer    Measurer
	maxFontSize float64
	minFontSize float64
	filter      objectdetection.Postprocessor
	style       Style
	logger      logging.Logger
}

// NewComposer returns a composer.
func NewComposer(conf ComposerConfig, logger logging.Logger) *Composer {
	c := &Composer{
		measurer:    conf.Measurer,
		maxFontSize: conf.MaxFontSize,
		minFontSize: conf.MinFontSize,
		filter:      objectdetection.NewScoreFilter(conf.MinConfidence),
		style:       DefaultStyle(),
		logger:      logger,
	}
	if c.measurer == nil {
		c.measurer = NewFontMeasurer(nil)
	}
	if c.maxFontSize == 0 {
		c.maxFontSize = DefaultMaxFontSize
	}
	if c.minFontSize == 0 {
		c.minFontSize = DefaultMinFontSize
	}
	if conf.Style != nil {
		c.style = *conf.Style
	}
	return c
}

// Compose builds the boxes for one batch, one per kept detection and in input order, so that
// later detections draw over earlier ones. The previous batch plays no part: publishing the
// result replaces it entirely. A zero-area screen yields zero-area boxes.
func (c *Composer) Compose(
	detections []objectdetection.Detection,
	screen geometry.Size,
	o orientation.Capture,
) []Box {
	kept := c.filter(detections)
	boxes := make([]Box, 0, len(kept))
	rotation := orientation.LabelRotationDegrees(o)
	transform := orientation.LabelTransform(o)
	for _, d := range kept {
		frame := geometry.Map(d.BoundingBox(), screen, o)
		if !screen.IsZero() && !screen.Contains(frame, edgeTolerance) {
			c.logger.Debugw("detection extends past the screen edge", "label", d.Label(), "frame", frame.String())
		}
		boxes = append(boxes, Box{
			Frame: frame,
			Label: Label{
				Text:            d.Label(),
				FontSize:        FitFontSize(c.measurer, d.Label(), frame.Size(), c.maxFontSize, c.minFontSize),
				Bounds:          geometry.Rect{Width: frame.Width, Height: frame.Height},
				RotationDegrees: rotation,
				Transform:       transform,
			},
			Confidence: d.Score(),
			Style:      c.style,
		})
	}
	return boxes
}

// Publish composes the batch and swaps it into root in one step.
func (c *Composer) Publish(
	root *Layer,
	detections []objectdetection.Detection,
	screen geometry.Size,
	o orientation.Capture,
) []Box {
	boxes := c.Compose(detections, screen, o)
	root.SetBoxes(boxes)
	return boxes
}
