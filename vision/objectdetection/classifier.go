package objectdetection

import (
	"context"
	"image"

	"go.viam.com/overlay/orientation"
)

// Frame is one captured pixel buffer handed to a classifier.
type Frame struct {
	// Image is the pixel buffer. The classifier must not modify it.
	Image image.Image
	// Orientation is the capture orientation of the video connection the frame was taken on.
	Orientation orientation.Capture
	// Sequence numbers frames in capture order, starting at 1.
	Sequence uint64
}

// ResultFunc receives the outcome of one classification pass. It is called exactly once per
// submitted frame, on a goroutine owned by the classifier.
type ResultFunc func(detections []Detection, err error)

// A Classifier turns a frame into detections.
type Classifier interface {
	// Classify submits a frame. The result is delivered asynchronously through done. An error
	// returned here means the frame was not accepted and done will not be called.
	Classify(ctx context.Context, frame Frame, done ResultFunc) error
	// Labels lists the class labels the model can produce.
	Labels() []string
	Close(ctx context.Context) error
}

// A Loader loads the model behind a classifier. Loading happens once, at session start.
type Loader func(ctx context.Context) (Classifier, error)
