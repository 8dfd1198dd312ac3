package detection

import (
	"image"
	"math"

	"github.com/pkg/errors"
)

// decodeDETR converts raw DETR outputs into frame-space detections.
//
// logits is laid out [queries][classes+1] where the trailing column is the
// "no object" class; boxes is [queries][4] holding normalised (cx, cy, w, h).
// Every query yields its best real class, scored with the "no object" mass
// still in the softmax denominator. Thresholding is left to the caller.
func decodeDETR(logits, boxes []float32, frameW, frameH int) ([]Detection, error) {
	if len(boxes) == 0 || len(boxes)%4 != 0 {
		return nil, errors.Errorf("malformed box output of length %d", len(boxes))
	}
	queries := len(boxes) / 4
	if len(logits)%queries != 0 {
		return nil, errors.Errorf("logits length %d not divisible by %d queries", len(logits), queries)
	}
	width := len(logits) / queries
	if width < 2 {
		return nil, errors.Errorf("logits width %d too small", width)
	}
	noObject := width - 1

	dets := make([]Detection, 0, queries)
	probs := make([]float64, width)
	for q := 0; q < queries; q++ {
		softmax(logits[q*width:(q+1)*width], probs)

		best, bestProb := 0, probs[0]
		for c := 1; c < noObject; c++ {
			if probs[c] > bestProb {
				best, bestProb = c, probs[c]
			}
		}

		b := boxes[q*4 : q*4+4]
		dets = append(dets, Detection{
			ClassID:    best,
			Confidence: bestProb,
			Box:        boxFromCenter(b[0], b[1], b[2], b[3], frameW, frameH),
		})
	}
	return dets, nil
}

// softmax writes the numerically stable softmax of in into out
func softmax(in []float32, out []float64) {
	maxV := math.Inf(-1)
	for _, v := range in {
		maxV = math.Max(maxV, float64(v))
	}
	var sum float64
	for i, v := range in {
		out[i] = math.Exp(float64(v) - maxV)
		sum += out[i]
	}
	for i := range out {
		out[i] /= sum
	}
}

func boxFromCenter(cx, cy, w, h float32, frameW, frameH int) image.Rectangle {
	fw, fh := float64(frameW), float64(frameH)
	x0 := (float64(cx) - float64(w)/2) * fw
	y0 := (float64(cy) - float64(h)/2) * fh
	x1 := (float64(cx) + float64(w)/2) * fw
	y1 := (float64(cy) + float64(h)/2) * fh
	// image.Rect canonicalises so Min <= Max even for negative sizes
	return image.Rect(int(math.Round(x0)), int(math.Round(y0)), int(math.Round(x1)), int(math.Round(y1)))
}
