package overlay

import (
	"fmt"
	"image"
	"image/color"
	"math"

	"detrvid/detection"

	"gocv.io/x/gocv"
)

// ClassNamer resolves a class id to a display name
type ClassNamer interface {
	ClassName(classID int) string
}

// Renderer handles detection and FPS overlay rendering
type Renderer struct {
	palette  Palette
	namer    ClassNamer
	font     gocv.HersheyFont
	minScale float64
	maxScale float64

	labelPadding int
	labelColor   color.RGBA

	fpsScale     float64
	fpsThickness int
	fpsMargin    int
	fpsPadding   int
	fpsAlpha     float64 // background opacity
	fpsText      color.RGBA
}

// RendererOption customizes a Renderer at construction time
type RendererOption func(*Renderer)

// WithFont sets the Hershey font used for all text
func WithFont(font gocv.HersheyFont) RendererOption {
	return func(r *Renderer) {
		r.font = font
	}
}

// WithLabelScaleRange bounds the label font scale
func WithLabelScaleRange(minScale, maxScale float64) RendererOption {
	return func(r *Renderer) {
		r.minScale = minScale
		r.maxScale = maxScale
	}
}

// NewRenderer creates a new overlay renderer
func NewRenderer(palette Palette, namer ClassNamer, opts ...RendererOption) *Renderer {
	r := &Renderer{
		palette:      palette,
		namer:        namer,
		font:         gocv.FontHersheySimplex,
		minScale:     DefaultMinLabelScale,
		maxScale:     DefaultMaxLabelScale,
		labelPadding: 4,
		labelColor:   color.RGBA{0, 0, 0, 255},
		fpsScale:     0.7,
		fpsThickness: 2,
		fpsMargin:    10,
		fpsPadding:   6,
		fpsAlpha:     0.6,
		fpsText:      color.RGBA{255, 255, 255, 255},
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// DrawDetection draws the box, a filled label background and the label text
// for one detection. Boxes are clamped to the frame; boxes entirely outside
// it draw nothing.
func (r *Renderer) DrawDetection(img *gocv.Mat, det detection.Detection) {
	if img == nil || img.Empty() {
		return
	}
	frame := image.Rect(0, 0, img.Cols(), img.Rows())
	box, ok := clampBox(det.Box, frame)
	if !ok {
		return
	}

	boxColor := r.palette.Lookup(det.ClassID)
	scale := LabelScale(box.Dx(), box.Dy(), frame.Dx(), frame.Dy(), r.minScale, r.maxScale)
	stroke := max(2, int(math.Round(3*scale)))
	textThickness := max(1, int(math.Round(scale)))

	label := fmt.Sprintf("%s: %.2f", r.namer.ClassName(det.ClassID), det.Confidence)
	textSize, baseline := gocv.GetTextSizeWithBaseline(label, r.font, scale, textThickness)

	gocv.Rectangle(img, box, boxColor, stroke)

	bg := labelRect(box, frame, textSize, baseline, r.labelPadding)
	gocv.Rectangle(img, bg, boxColor, -1)

	origin := image.Pt(bg.Min.X+r.labelPadding, bg.Max.Y-baseline-r.labelPadding)
	gocv.PutText(img, label, origin, r.font, scale, r.labelColor, textThickness)
}

// DrawFPS draws the FPS readout in the top-right corner over a
// semi-transparent black background.
func (r *Renderer) DrawFPS(img *gocv.Mat, fps float64) {
	if img == nil || img.Empty() {
		return
	}
	frame := image.Rect(0, 0, img.Cols(), img.Rows())

	text := fmt.Sprintf("FPS: %.1f", fps)
	textSize, baseline := gocv.GetTextSizeWithBaseline(text, r.font, r.fpsScale, r.fpsThickness)
	w := textSize.X + 2*r.fpsPadding
	h := textSize.Y + baseline + 2*r.fpsPadding

	bg := image.Rect(frame.Max.X-r.fpsMargin-w, r.fpsMargin, frame.Max.X-r.fpsMargin, r.fpsMargin+h)
	if clipped := bg.Intersect(frame); !clipped.Empty() {
		r.darken(img, clipped)
	}

	origin := image.Pt(bg.Min.X+r.fpsPadding, bg.Min.Y+r.fpsPadding+textSize.Y)
	gocv.PutText(img, text, origin, r.font, r.fpsScale, r.fpsText, r.fpsThickness)
}

// darken blends the region towards black by fpsAlpha
func (r *Renderer) darken(img *gocv.Mat, rect image.Rectangle) {
	region := img.Region(rect)
	defer region.Close()

	black := gocv.NewMatWithSizeFromScalar(gocv.NewScalar(0, 0, 0, 0), rect.Dy(), rect.Dx(), img.Type())
	defer black.Close()

	gocv.AddWeighted(region, 1-r.fpsAlpha, black, r.fpsAlpha, 0, &region)
}

// clampBox limits b to the drawable pixels of frame. It reports false when b
// does not touch the frame at all.
func clampBox(b, frame image.Rectangle) (image.Rectangle, bool) {
	b = b.Canon()
	if b.Max.X < frame.Min.X || b.Max.Y < frame.Min.Y || b.Min.X >= frame.Max.X || b.Min.Y >= frame.Max.Y {
		return image.Rectangle{}, false
	}
	clampX := func(v int) int { return min(max(v, frame.Min.X), frame.Max.X-1) }
	clampY := func(v int) int { return min(max(v, frame.Min.Y), frame.Max.Y-1) }
	return image.Rectangle{
		Min: image.Pt(clampX(b.Min.X), clampY(b.Min.Y)),
		Max: image.Pt(clampX(b.Max.X), clampY(b.Max.Y)),
	}, true
}

// labelRect places the label background above the box's top-left corner,
// or just inside the box when there is no room above it.
func labelRect(box, frame image.Rectangle, textSize image.Point, baseline, pad int) image.Rectangle {
	w := textSize.X + 2*pad
	h := textSize.Y + baseline + 2*pad

	x0 := box.Min.X
	if x0+w > frame.Max.X {
		x0 = max(frame.Min.X, frame.Max.X-w)
	}
	bottom := box.Min.Y
	if bottom-h < frame.Min.Y {
		bottom = box.Min.Y + h
	}
	return image.Rect(x0, bottom-h, x0+w, bottom)
}
