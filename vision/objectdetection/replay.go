package objectdetection

import (
	"context"
	"encoding/json"
	"os"
	"sort"
	"sync"

	"github.com/pkg/errors"
	"github.com/samber/lo"
	goutils "go.viam.com/utils"

	"go.viam.com/overlay/geometry"
)

// ErrClassifierClosed is returned by Classify after Close.
var ErrClassifierClosed = errors.New("classifier is closed")

// RecordedDetection is the on-disk form of a detection.
type RecordedDetection struct {
	Label string        `json:"label"`
	Score float64       `json:"score"`
	Box   geometry.Rect `json:"box"`
}

// Recording is a sequence of detection batches, one per classified frame.
type Recording struct {
	// Labels lists the model's classes. When empty the labels seen in Batches are used.
	Labels  []string              `json:"labels,omitempty"`
	Batches [][]RecordedDetection `json:"batches"`
}

// ReplayClassifier answers each frame with the next recorded batch, wrapping around at the end.
type ReplayClassifier struct {
	labels  []string
	batches [][]Detection

	mu       sync.Mutex
	next     int
	closed   bool
	inFlight sync.WaitGroup
}

// NewReplayClassifier returns a classifier replaying rec.
func NewReplayClassifier(rec Recording) (*ReplayClassifier, error) {
	if len(rec.Batches) == 0 {
		return nil, errors.New("recording has no batches")
	}
	var seen []string
	batches := make([][]Detection, 0, len(rec.Batches))
	for i, recorded := range rec.Batches {
		batch := make([]Detection, 0, len(recorded))
		for j, d := range recorded {
			if d.Score < 0 || d.Score > 1 {
				return nil, errors.Errorf("batch %d detection %d: score %v is not in [0,1]", i, j, d.Score)
			}
			batch = append(batch, NewDetection(d.Box, d.Score, d.Label))
			if d.Label != "" {
				seen = append(seen, d.Label)
			}
		}
		batches = append(batches, batch)
	}
	labels := append([]string(nil), rec.Labels...)
	if len(labels) == 0 {
		labels = lo.Uniq(seen)
		sort.Strings(labels)
	}
	return &ReplayClassifier{labels: labels, batches: batches}, nil
}

// LoadRecording reads a JSON recording from filePath.
func LoadRecording(filePath string) (Recording, error) {
	var rec Recording
	data, err := os.ReadFile(filePath) //nolint:gosec
	if err != nil {
		return rec, err
	}
	if err := json.Unmarshal(data, &rec); err != nil {
		return rec, errors.Wrapf(err, "failed to decode recording %q", filePath)
	}
	return rec, nil
}

// NewReplayLoader returns a Loader that replays the recording stored at filePath.
func NewReplayLoader(filePath string) Loader {
	return func(ctx context.Context) (Classifier, error) {
		rec, err := LoadRecording(filePath)
		if err != nil {
			return nil, err
		}
		return NewReplayClassifier(rec)
	}
}

// Classify delivers the next batch from a separate goroutine.
func (rc *ReplayClassifier) Classify(ctx context.Context, frame Frame, done ResultFunc) error {
	if frame.Image == nil {
		return errors.New("frame has no image")
	}
	rc.mu.Lock()
	defer rc.mu.Unlock()
	if rc.closed {
		return ErrClassifierClosed
	}
	batch := rc.batches[rc.next]
	rc.next = (rc.next + 1) % len(rc.batches)

	rc.inFlight.Add(1)
	goutils.PanicCapturingGo(func() {
		defer rc.inFlight.Done()
		if err := ctx.Err(); err != nil {
			done(nil, err)
			return
		}
		out := make([]Detection, len(batch))
		copy(out, batch)
		done(out, nil)
	})
	return nil
}

// Labels returns the class labels.
func (rc *ReplayClassifier) Labels() []string {
	return append([]string(nil), rc.labels...)
}

// Close rejects further frames and waits for delivered results to return.
func (rc *ReplayClassifier) Close(ctx context.Context) error {
	rc.mu.Lock()
	rc.closed = true
	rc.mu.Unlock()
	rc.inFlight.Wait()
	return nil
}
