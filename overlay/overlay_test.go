package overlay

import (
	"image"
	"math"
	"testing"

	"go.viam.com/test"
	"gocv.io/x/gocv"

	"detrvid/detection"
)

type staticNamer map[int]string

func (n staticNamer) ClassName(id int) string {
	if name, ok := n[id]; ok {
		return name
	}
	return "unknown"
}

func TestGeneratePalette(t *testing.T) {
	a := GeneratePalette(91, 42)
	b := GeneratePalette(91, 42)
	test.That(t, a.Len(), test.ShouldEqual, 91)
	test.That(t, a, test.ShouldResemble, b)

	for i := 0; i < a.Len(); i++ {
		test.That(t, a.Lookup(i).A, test.ShouldEqual, uint8(255))
	}

	c := GeneratePalette(91, 7)
	test.That(t, c, test.ShouldNotResemble, a)

	test.That(t, a.Lookup(999), test.ShouldResemble, DefaultColor)
	test.That(t, a.Lookup(-1), test.ShouldResemble, DefaultColor)
	test.That(t, a.Lookup(91), test.ShouldResemble, DefaultColor)

	empty := GeneratePalette(-3, 42)
	test.That(t, empty.Len(), test.ShouldEqual, 0)
	test.That(t, empty.Lookup(0), test.ShouldResemble, DefaultColor)
}

func TestLabelScale(t *testing.T) {
	test.That(t, LabelScale(0, 0, 640, 480, 0.4, 1.2), test.ShouldEqual, 0.4)
	test.That(t, LabelScale(0, 300, 640, 480, 0.4, 1.2), test.ShouldEqual, 0.4)
	test.That(t, LabelScale(-10, 20, 640, 480, 0.4, 1.2), test.ShouldEqual, 0.4)
	test.That(t, LabelScale(10, 10, 0, 0, 0.4, 1.2), test.ShouldEqual, 0.4)
	test.That(t, LabelScale(640, 480, 640, 480, 0.4, 1.2), test.ShouldEqual, 1.2)

	// 1% of the frame: 0.4 + ln(2)/5*0.8
	got := LabelScale(64, 48, 640, 480, 0.4, 1.2)
	test.That(t, got, test.ShouldAlmostEqual, 0.4+math.Log(2)/5*0.8)

	t.Run("monotonic and bounded", func(t *testing.T) {
		prev := 0.0
		for side := 0; side <= 480; side += 8 {
			s := LabelScale(side, side, 640, 480, 0.4, 1.2)
			test.That(t, math.IsNaN(s), test.ShouldBeFalse)
			test.That(t, s, test.ShouldBeGreaterThanOrEqualTo, prev)
			test.That(t, s, test.ShouldBeBetweenOrEqual, 0.4, 1.2)
			prev = s
		}
	})
}

func TestClampBox(t *testing.T) {
	frame := image.Rect(0, 0, 200, 100)

	b, ok := clampBox(image.Rect(10, 10, 50, 50), frame)
	test.That(t, ok, test.ShouldBeTrue)
	test.That(t, b, test.ShouldResemble, image.Rect(10, 10, 50, 50))

	b, ok = clampBox(image.Rect(-20, -20, 500, 500), frame)
	test.That(t, ok, test.ShouldBeTrue)
	test.That(t, b, test.ShouldResemble, image.Rect(0, 0, 199, 99))

	_, ok = clampBox(image.Rect(-50, -50, -10, -10), frame)
	test.That(t, ok, test.ShouldBeFalse)
	_, ok = clampBox(image.Rect(200, 10, 300, 50), frame)
	test.That(t, ok, test.ShouldBeFalse)

	// zero-area boxes inside the frame are still drawable
	b, ok = clampBox(image.Rect(5, 5, 5, 5), frame)
	test.That(t, ok, test.ShouldBeTrue)
	test.That(t, b.Min, test.ShouldResemble, image.Pt(5, 5))
}

func TestLabelRect(t *testing.T) {
	frame := image.Rect(0, 0, 200, 100)
	size := image.Pt(40, 10)

	r := labelRect(image.Rect(20, 50, 80, 90), frame, size, 3, 4)
	test.That(t, r, test.ShouldResemble, image.Rect(20, 29, 68, 50))

	// no room above: drop inside the box
	r = labelRect(image.Rect(20, 5, 80, 90), frame, size, 3, 4)
	test.That(t, r.Min.Y, test.ShouldEqual, 5)

	// right edge: shift left to stay in frame
	r = labelRect(image.Rect(180, 50, 199, 90), frame, size, 3, 4)
	test.That(t, r.Max.X, test.ShouldEqual, 200)
}

func newBlankFrame(w, h int, v float64) gocv.Mat {
	return gocv.NewMatWithSizeFromScalar(gocv.NewScalar(v, v, v, 0), h, w, gocv.MatTypeCV8UC3)
}

func TestDrawDetection(t *testing.T) {
	img := newBlankFrame(200, 100, 0)
	defer img.Close()

	palette := GeneratePalette(DefaultPaletteClasses, DefaultPaletteSeed)
	r := NewRenderer(palette, staticNamer{1: "person"})

	r.DrawDetection(&img, detection.Detection{ClassID: 1, Confidence: 0.95, Box: image.Rect(50, 50, 150, 90)})

	want := palette.Lookup(1)
	px := img.GetVecbAt(90, 100) // bottom edge of the box, BGR
	test.That(t, px[0], test.ShouldEqual, want.B)
	test.That(t, px[1], test.ShouldEqual, want.G)
	test.That(t, px[2], test.ShouldEqual, want.R)

	// interior untouched
	inner := img.GetVecbAt(70, 100)
	test.That(t, inner[0], test.ShouldEqual, uint8(0))
}

func TestDrawDetectionOutOfBounds(t *testing.T) {
	img := newBlankFrame(200, 100, 0)
	defer img.Close()

	r := NewRenderer(GeneratePalette(3, 1), staticNamer{})
	for _, box := range []image.Rectangle{
		image.Rect(-50, -50, -10, -10),
		image.Rect(300, 200, 400, 300),
		image.Rect(-20, -20, 500, 500),
		image.Rect(190, 0, 260, 40),
		image.Rect(0, 0, 0, 0),
	} {
		r.DrawDetection(&img, detection.Detection{ClassID: 999, Confidence: 0.99, Box: box})
	}

	empty := gocv.NewMat()
	defer empty.Close()
	r.DrawDetection(&empty, detection.Detection{Box: image.Rect(0, 0, 10, 10)})
	r.DrawDetection(nil, detection.Detection{})
}

func TestDrawFPS(t *testing.T) {
	img := newBlankFrame(320, 240, 255)
	defer img.Close()

	r := NewRenderer(GeneratePalette(1, 1), staticNamer{})
	r.DrawFPS(&img, 24.7)

	// inside the background padding near the right edge
	px := img.GetVecbAt(r.fpsMargin+1, 320-r.fpsMargin-2)
	test.That(t, px[0], test.ShouldEqual, uint8(102))

	// outside the readout
	far := img.GetVecbAt(200, 10)
	test.That(t, far[0], test.ShouldEqual, uint8(255))

	tiny := newBlankFrame(8, 8, 0)
	defer tiny.Close()
	r.DrawFPS(&tiny, 1000)
}
