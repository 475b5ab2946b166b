// Package inject provides test doubles whose behavior is set per test through function fields.
package inject

import (
	"context"

	"go.viam.com/overlay/vision/objectdetection"
)

// Classifier is an injected classifier.
type Classifier struct {
	objectdetection.Classifier
	ClassifyFunc func(ctx context.Context, frame objectdetection.Frame, done objectdetection.ResultFunc) error
	LabelsFunc   func() []string
	CloseFunc    func(ctx context.Context) error
}

// Classify calls the injected Classify or the real version.
func (c *Classifier) Classify(ctx context.Context, frame objectdetection.Frame, done objectdetection.ResultFunc) error {
	if c.ClassifyFunc == nil {
		return c.Classifier.Classify(ctx, frame, done)
	}
	return c.ClassifyFunc(ctx, frame, done)
}

// Labels calls the injected Labels or the real version.
func (c *Classifier) Labels() []string {
	if c.LabelsFunc == nil {
		return c.Classifier.Labels()
	}
	return c.LabelsFunc()
}

// Close calls the injected Close or the real version. With neither it does nothing.
func (c *Classifier) Close(ctx context.Context) error {
	if c.CloseFunc == nil {
		if c.Classifier == nil {
			return nil
		}
		return c.Classifier.Close(ctx)
	}
	return c.CloseFunc(ctx)
}
