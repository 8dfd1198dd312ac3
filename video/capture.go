package video

import (
	"io"
	"math"

	"github.com/pkg/errors"
	"gocv.io/x/gocv"
)

// Capture is a Source backed by an OpenCV VideoCapture
type Capture struct {
	path   string
	cap    *gocv.VideoCapture
	geom   Geometry
	read   int
	closed bool
}

// OpenCapture opens a video file and reads its geometry. It fails with
// ErrOpen if the file cannot be opened or reports no frames.
func OpenCapture(path string) (*Capture, error) {
	vc, err := gocv.OpenVideoCapture(path)
	if err != nil {
		return nil, errors.Wrapf(ErrOpen, "open input %s: %v", path, err)
	}
	if !vc.IsOpened() {
		vc.Close()
		return nil, errors.Wrapf(ErrOpen, "open input %s", path)
	}

	fps := vc.Get(gocv.VideoCaptureFPS)
	if fps <= 0 || math.IsNaN(fps) || math.IsInf(fps, 0) {
		fps = fallbackFPS
	}
	geom := Geometry{
		Width:      int(vc.Get(gocv.VideoCaptureFrameWidth)),
		Height:     int(vc.Get(gocv.VideoCaptureFrameHeight)),
		FPS:        fps,
		FrameCount: int(vc.Get(gocv.VideoCaptureFrameCount)),
	}
	if geom.FrameCount <= 0 {
		vc.Close()
		return nil, errors.Wrapf(ErrOpen, "input %s has no frames", path)
	}
	if geom.Width <= 0 || geom.Height <= 0 {
		vc.Close()
		return nil, errors.Wrapf(ErrOpen, "input %s has invalid size %dx%d", path, geom.Width, geom.Height)
	}

	return &Capture{path: path, cap: vc, geom: geom}, nil
}

// Geometry returns the stream geometry read at open time
func (c *Capture) Geometry() Geometry {
	return c.geom
}

// Read decodes the next frame. It returns io.EOF once the decoder runs out of
// frames at the end of the stream, and ErrRead if it stops well short of it.
func (c *Capture) Read(dst *gocv.Mat) error {
	if c.closed {
		return errors.Wrap(ErrRead, "capture closed")
	}
	if ok := c.cap.Read(dst); !ok {
		if endOfStream(c.read, c.geom.FrameCount, c.cap.Get(gocv.VideoCapturePosAVIRatio)) {
			return io.EOF
		}
		return errors.Wrapf(ErrRead, "decoder stopped at frame %d of %d", c.read+1, c.geom.FrameCount)
	}
	if dst.Empty() {
		return errors.Wrapf(ErrRead, "empty frame %d", c.read+1)
	}
	c.read++
	return nil
}

// Close releases the capture. Safe to call more than once.
func (c *Capture) Close() error {
	if c.closed {
		return nil
	}
	c.closed = true
	return c.cap.Close()
}

const (
	// endRatio is the relative stream position treated as the end of file
	endRatio = 0.99
	// containers estimate the frame count from duration and rate, so a
	// small shortfall at the tail is still a clean end
	minShortfallFrames = 3
	shortfallFraction  = 0.05
)

// endOfStream decides whether a failed decode after read frames is the end
// of the stream. The advertised count is an estimate that can overshoot, so
// the decoder position and a small tail margin are also accepted.
func endOfStream(read, advertised int, posRatio float64) bool {
	if read >= advertised {
		return true
	}
	if posRatio >= endRatio && !math.IsNaN(posRatio) {
		return true
	}
	margin := max(minShortfallFrames, int(math.Ceil(float64(advertised)*shortfallFraction)))
	return advertised-read <= margin
}
