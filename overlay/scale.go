package overlay

import "math"

const (
	DefaultMinLabelScale = 0.4
	DefaultMaxLabelScale = 1.2
)

// LabelScale maps a box's share of the frame area to a font scale in
// [minScale, maxScale]. The log keeps large boxes from growing labels linearly.
func LabelScale(boxW, boxH, frameW, frameH int, minScale, maxScale float64) float64 {
	boxArea := float64(max(boxW, 0)) * float64(max(boxH, 0))
	frameArea := float64(frameW) * float64(frameH)

	ratio := 0.0
	if frameW > 0 && frameH > 0 {
		ratio = boxArea / frameArea
	}

	scale := minScale + (math.Log1p(100*ratio)/5)*(maxScale-minScale)
	return math.Max(minScale, math.Min(maxScale, scale))
}
