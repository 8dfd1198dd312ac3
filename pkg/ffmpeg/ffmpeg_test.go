package ffmpeg

import (
	"fmt"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"

	"github.com/pkg/errors"
	"go.uber.org/zap/zaptest"
	"go.viam.com/test"
	"gocv.io/x/gocv"

	"detrvid/video"
)

func TestOutputBufferKeepsNewest(t *testing.T) {
	ob := NewOutputBuffer(3)
	test.That(t, ob.Recent(0), test.ShouldHaveLength, 0)

	for i := 1; i <= 5; i++ {
		ob.Add(fmt.Sprintf("line %d", i))
	}
	test.That(t, ob.Recent(0), test.ShouldResemble, []string{"line 3", "line 4", "line 5"})
	test.That(t, ob.Recent(2), test.ShouldResemble, []string{"line 4", "line 5"})
}

func TestOutputBufferWriteSplitsLines(t *testing.T) {
	ob := NewOutputBuffer(10)

	chunk := []byte("Input #0, rawvideo\nframe=   12 fps=0.0 q=28.0\rframe=  4")
	n, err := ob.Write(chunk)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, n, test.ShouldEqual, len(chunk))
	test.That(t, ob.Recent(0), test.ShouldResemble, []string{"Input #0, rawvideo", "frame=   12 fps=0.0 q=28.0"})
	test.That(t, ob.LastFrame(), test.ShouldEqual, 12)

	_, err = ob.Write([]byte("8 fps=24\n\n\r"))
	test.That(t, err, test.ShouldBeNil)
	test.That(t, ob.LastFrame(), test.ShouldEqual, 48)
	test.That(t, ob.Recent(1), test.ShouldResemble, []string{"frame=  48 fps=24"})
}

func TestOutputBufferMinimumSize(t *testing.T) {
	ob := NewOutputBuffer(0)
	ob.Add("a")
	ob.Add("b")
	test.That(t, ob.Recent(0), test.ShouldResemble, []string{"b"})
}

func TestNewPipeWriterRejectsBadOutput(t *testing.T) {
	logger := zaptest.NewLogger(t).Sugar()

	_, err := NewPipeWriter(filepath.Join(t.TempDir(), "out.mp4"), video.Geometry{Width: 0, Height: 10, FPS: 30}, logger)
	test.That(t, errors.Is(err, video.ErrOpen), test.ShouldBeTrue)

	_, err = NewPipeWriter(filepath.Join(t.TempDir(), "missing", "out.mp4"), video.Geometry{Width: 16, Height: 16, FPS: 30}, logger)
	test.That(t, errors.Is(err, video.ErrOpen), test.ShouldBeTrue)
}

func requireX264(t *testing.T) {
	t.Helper()
	if _, err := exec.LookPath("ffmpeg"); err != nil {
		t.Skip("ffmpeg not installed")
	}
	out, err := exec.Command("ffmpeg", "-hide_banner", "-encoders").Output()
	if err != nil || !strings.Contains(string(out), "libx264") {
		t.Skip("ffmpeg built without libx264")
	}
}

func TestEncodeArgs(t *testing.T) {
	args := encodeArgs("/tmp/out.mp4", video.Geometry{Width: 64, Height: 48, FPS: 25})
	joined := strings.Join(args, " ")

	test.That(t, joined, test.ShouldContainSubstring, "-f rawvideo")
	test.That(t, joined, test.ShouldContainSubstring, "-pix_fmt bgr24")
	test.That(t, joined, test.ShouldContainSubstring, "-s 64x48")
	test.That(t, joined, test.ShouldContainSubstring, "-r 25")
	test.That(t, joined, test.ShouldContainSubstring, "-i pipe:")
	test.That(t, joined, test.ShouldContainSubstring, "-c:v libx264")
	test.That(t, joined, test.ShouldContainSubstring, "-pix_fmt yuv420p")
	test.That(t, args, test.ShouldContain, "-y")
	test.That(t, args, test.ShouldContain, "/tmp/out.mp4")
}

func TestPipeWriterEncodesFrames(t *testing.T) {
	requireX264(t)
	logger := zaptest.NewLogger(t).Sugar()

	path := filepath.Join(t.TempDir(), "out.mp4")
	geom := video.Geometry{Width: 64, Height: 48, FPS: 10}
	w, err := NewPipeWriter(path, geom, logger)
	test.That(t, err, test.ShouldBeNil)

	frame := gocv.NewMatWithSizeFromScalar(gocv.NewScalar(0, 128, 255, 0), geom.Height, geom.Width, gocv.MatTypeCV8UC3)
	defer frame.Close()
	for i := 0; i < 8; i++ {
		test.That(t, w.Write(frame), test.ShouldBeNil)
	}

	wrong := gocv.NewMatWithSize(10, 10, gocv.MatTypeCV8UC3)
	defer wrong.Close()
	test.That(t, w.Write(wrong), test.ShouldNotBeNil)

	test.That(t, w.Close(), test.ShouldBeNil)
	test.That(t, w.Close(), test.ShouldBeNil)
	test.That(t, w.Write(frame), test.ShouldNotBeNil)

	c, err := video.OpenCapture(path)
	test.That(t, err, test.ShouldBeNil)
	defer c.Close()
	got := c.Geometry()
	test.That(t, got.Width, test.ShouldEqual, geom.Width)
	test.That(t, got.Height, test.ShouldEqual, geom.Height)
	test.That(t, got.FrameCount, test.ShouldEqual, 8)
	test.That(t, got.FPS, test.ShouldAlmostEqual, geom.FPS, 0.01)
}

func TestPipeWriterReportsFFmpegFailure(t *testing.T) {
	requireX264(t)
	logger := zaptest.NewLogger(t).Sugar()

	// no muxer matches the extension, so ffmpeg exits before encoding
	path := filepath.Join(t.TempDir(), "out.notacontainer")
	geom := video.Geometry{Width: 64, Height: 48, FPS: 10}
	w, err := NewPipeWriter(path, geom, logger)
	test.That(t, err, test.ShouldBeNil)

	frame := gocv.NewMatWithSize(geom.Height, geom.Width, gocv.MatTypeCV8UC3)
	defer frame.Close()
	for i := 0; i < 3; i++ {
		_ = w.Write(frame)
	}

	err = w.Close()
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, err.Error(), test.ShouldContainSubstring, "ffmpeg encoding")

	recent := w.stderr.Recent(1)
	test.That(t, recent, test.ShouldHaveLength, 1)
	test.That(t, err.Error(), test.ShouldContainSubstring, recent[0])
}
