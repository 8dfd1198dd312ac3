package detection

// FilterByConfidence keeps detections whose confidence strictly exceeds threshold.
func FilterByConfidence(in []Detection, threshold float64) []Detection {
	out := make([]Detection, 0, len(in))
	for _, d := range in {
		if d.Confidence > threshold {
			out = append(out, d)
		}
	}
	return out
}
