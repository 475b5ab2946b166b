package objectdetection

// Postprocessor defines a function that filters/modifies on an incoming array of Detections.
// Postprocessors return a new slice and never modify their input.
type Postprocessor func([]Detection) []Detection

// NewScoreFilter returns a function that filters out detections below a certain confidence.
// A threshold of 0 keeps every detection.
func NewScoreFilter(conf float64) Postprocessor {
	return func(in []Detection) []Detection {
		out := make([]Detection, 0, len(in))
		for _, d := range in {
			if d.Score() >= conf {
				out = append(out, d)
			}
		}
		return out
	}
}
