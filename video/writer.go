package video

import (
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
	"gocv.io/x/gocv"
)

// Writer is a Sink backed by an OpenCV VideoWriter
type Writer struct {
	path   string
	vw     *gocv.VideoWriter
	geom   Geometry
	closed bool
}

// CreateWriter opens an output file with the given geometry, using the
// nominal frame rate in geom.FPS.
func CreateWriter(path string, geom Geometry) (*Writer, error) {
	if geom.Width <= 0 || geom.Height <= 0 || geom.FPS <= 0 {
		return nil, errors.Wrapf(ErrOpen, "invalid output geometry %dx%d@%.2f", geom.Width, geom.Height, geom.FPS)
	}
	vw, err := gocv.VideoWriterFile(path, codecFor(path), geom.FPS, geom.Width, geom.Height, true)
	if err != nil {
		return nil, errors.Wrapf(ErrOpen, "create output %s: %v", path, err)
	}
	if !vw.IsOpened() {
		vw.Close()
		return nil, errors.Wrapf(ErrOpen, "create output %s", path)
	}
	return &Writer{path: path, vw: vw, geom: geom}, nil
}

// Write encodes one frame
func (w *Writer) Write(frame gocv.Mat) error {
	if w.closed {
		return errors.New("writer closed")
	}
	if frame.Cols() != w.geom.Width || frame.Rows() != w.geom.Height {
		return errors.Errorf("frame size %dx%d does not match output %dx%d",
			frame.Cols(), frame.Rows(), w.geom.Width, w.geom.Height)
	}
	return errors.Wrapf(w.vw.Write(frame), "write %s", w.path)
}

// Close flushes and releases the writer. Safe to call more than once.
func (w *Writer) Close() error {
	if w.closed {
		return nil
	}
	w.closed = true
	return w.vw.Close()
}

// codecFor picks a FourCC the OpenCV build can usually encode for the
// container implied by the file extension.
func codecFor(path string) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".avi":
		return "MJPG"
	case ".mkv":
		return "XVID"
	default:
		return "mp4v"
	}
}
