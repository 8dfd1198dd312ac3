package ffmpeg

import (
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
	ffmpeg "github.com/u2takey/ffmpeg-go"
	"go.uber.org/zap"
	"gocv.io/x/gocv"

	"detrvid/video"
)

const stderrLines = 100

// PipeWriter is a video.Sink that streams raw BGR frames into an ffmpeg
// process which encodes them as H.264.
type PipeWriter struct {
	path   string
	geom   video.Geometry
	pw     *io.PipeWriter
	stderr *OutputBuffer
	done   chan error
	logger *zap.SugaredLogger
	closed bool
}

// NewPipeWriter starts ffmpeg writing to path at the nominal frame rate in geom.
func NewPipeWriter(path string, geom video.Geometry, logger *zap.SugaredLogger) (*PipeWriter, error) {
	if geom.Width <= 0 || geom.Height <= 0 || geom.FPS <= 0 {
		return nil, errors.Wrapf(video.ErrOpen, "invalid output geometry %dx%d@%.2f", geom.Width, geom.Height, geom.FPS)
	}
	if _, err := exec.LookPath("ffmpeg"); err != nil {
		return nil, errors.Wrapf(video.ErrOpen, "ffmpeg not found: %v", err)
	}
	if dir := filepath.Dir(path); dir != "" {
		if st, err := os.Stat(dir); err != nil || !st.IsDir() {
			return nil, errors.Wrapf(video.ErrOpen, "output directory %s does not exist", dir)
		}
	}

	pr, pw := io.Pipe()
	w := &PipeWriter{
		path:   path,
		geom:   geom,
		pw:     pw,
		stderr: NewOutputBuffer(stderrLines),
		done:   make(chan error, 1),
		logger: logger.Named("ffmpeg"),
	}

	args := encodeArgs(path, geom)
	cmd := exec.Command("ffmpeg", args...)
	cmd.Stdin = pr
	cmd.Stderr = w.stderr

	w.logger.Debugw("starting ffmpeg", "output", path, "args", strings.Join(args, " "))
	if err := cmd.Start(); err != nil {
		_ = pw.Close()
		return nil, errors.Wrapf(video.ErrOpen, "start ffmpeg: %v", err)
	}
	go func() {
		err := cmd.Wait()
		// unblock any pending Write if ffmpeg exits early
		pr.CloseWithError(errors.New("ffmpeg exited"))
		w.done <- err
	}()
	return w, nil
}

// encodeArgs builds the ffmpeg command line for a raw BGR stdin stream
// encoded as H.264. The stream is run through os/exec rather than
// Stream.Run, which prints the command through the standard logger.
func encodeArgs(path string, geom video.Geometry) []string {
	return ffmpeg.Input("pipe:", ffmpeg.KwArgs{
		"format":  "rawvideo",
		"pix_fmt": "bgr24",
		"s":       fmt.Sprintf("%dx%d", geom.Width, geom.Height),
		"r":       geom.FPS,
	}).Output(path, ffmpeg.KwArgs{
		"c:v":     "libx264",
		"pix_fmt": "yuv420p",
	}).OverWriteOutput().GetArgs()
}

// Write sends one frame to ffmpeg
func (w *PipeWriter) Write(frame gocv.Mat) error {
	if w.closed {
		return errors.New("pipe writer closed")
	}
	if frame.Cols() != w.geom.Width || frame.Rows() != w.geom.Height {
		return errors.Errorf("frame size %dx%d does not match output %dx%d",
			frame.Cols(), frame.Rows(), w.geom.Width, w.geom.Height)
	}
	if frame.Type() != gocv.MatTypeCV8UC3 {
		return errors.Errorf("unsupported frame type %v", frame.Type())
	}
	if _, err := w.pw.Write(frame.ToBytes()); err != nil {
		return errors.Wrapf(err, "write frame to ffmpeg (%s)", w.tail())
	}
	return nil
}

// Close ends the input stream and waits for ffmpeg to finish the file.
// Safe to call more than once.
func (w *PipeWriter) Close() error {
	if w.closed {
		return nil
	}
	w.closed = true
	_ = w.pw.Close()

	if err := <-w.done; err != nil {
		return errors.Wrapf(err, "ffmpeg encoding %s failed after frame %d (%s)", w.path, w.stderr.LastFrame(), w.tail())
	}
	w.logger.Debugw("ffmpeg finished", "output", w.path, "frames", w.stderr.LastFrame())
	return nil
}

func (w *PipeWriter) tail() string {
	return strings.Join(w.stderr.Recent(5), " | ")
}
