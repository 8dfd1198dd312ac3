// Package video wraps frame decode and encode behind small interfaces so the
// processing loop does not depend on a particular container library.
package video

import (
	"github.com/pkg/errors"
	"gocv.io/x/gocv"
)

var (
	// ErrOpen means a source or sink could not be created.
	ErrOpen = errors.New("open failure")
	// ErrRead means the decoder failed mid-stream.
	ErrRead = errors.New("fatal read error")
)

const fallbackFPS = 30.0

// Geometry describes a stream. FPS is the nominal container frame rate.
type Geometry struct {
	Width      int
	Height     int
	FPS        float64
	FrameCount int
}

// Source yields decoded BGR frames until io.EOF
type Source interface {
	Geometry() Geometry
	// Read decodes the next frame into dst
	Read(dst *gocv.Mat) error
	Close() error
}

// Sink accepts BGR frames for encoding
type Sink interface {
	Write(frame gocv.Mat) error
	Close() error
}
