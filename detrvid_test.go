package main

import (
	"context"
	"testing"

	"go.viam.com/test"

	"detrvid/detection"
	"detrvid/pipeline"
)

func parseArgs(t *testing.T, args ...string) (appConfig, error) {
	t.Helper()
	var got appConfig
	app := newApp(func(_ context.Context, cfg appConfig) error {
		got = cfg
		return nil
	})
	err := app.Run(append([]string{"detrvid"}, args...))
	return got, err
}

func TestCLIDefaults(t *testing.T) {
	cfg, err := parseArgs(t, "in.mp4", "out.mp4")
	test.That(t, err, test.ShouldBeNil)
	test.That(t, cfg.Input, test.ShouldEqual, "in.mp4")
	test.That(t, cfg.Output, test.ShouldEqual, "out.mp4")
	test.That(t, cfg.Threshold, test.ShouldEqual, pipeline.DefaultThreshold)
	test.That(t, cfg.Device, test.ShouldEqual, detection.DeviceAuto)
	test.That(t, cfg.ModelPath, test.ShouldEqual, defaultModelPath)
	test.That(t, cfg.Encoder, test.ShouldEqual, encoderOpenCV)
	test.That(t, cfg.ReclaimInterval, test.ShouldEqual, pipeline.DefaultReclaimInterval)
	test.That(t, cfg.PaletteSeed, test.ShouldEqual, int64(42))
	test.That(t, cfg.ShowProgress, test.ShouldBeTrue)
	test.That(t, cfg.Debug, test.ShouldBeFalse)
}

func TestCLIFlags(t *testing.T) {
	cfg, err := parseArgs(t,
		"--threshold", "0.5",
		"--device", "gpu",
		"--encoder", "FFmpeg",
		"--reclaim-interval", "0",
		"--palette-seed", "7",
		"--no-progress",
		"--debug",
		"a.mp4", "b.mp4")
	test.That(t, err, test.ShouldBeNil)
	test.That(t, cfg.Threshold, test.ShouldEqual, 0.5)
	test.That(t, cfg.Device, test.ShouldEqual, detection.DeviceCUDA)
	test.That(t, cfg.Encoder, test.ShouldEqual, encoderFFmpeg)
	test.That(t, cfg.ReclaimInterval, test.ShouldEqual, 0)
	test.That(t, cfg.PaletteSeed, test.ShouldEqual, int64(7))
	test.That(t, cfg.ShowProgress, test.ShouldBeFalse)
	test.That(t, cfg.Debug, test.ShouldBeTrue)
}

func TestCLIEnv(t *testing.T) {
	t.Setenv("DETRVID_THRESHOLD", "0.25")
	t.Setenv("DETRVID_DEVICE", "cpu")
	cfg, err := parseArgs(t, "in.mp4", "out.mp4")
	test.That(t, err, test.ShouldBeNil)
	test.That(t, cfg.Threshold, test.ShouldEqual, 0.25)
	test.That(t, cfg.Device, test.ShouldEqual, detection.DeviceCPU)
}

func TestCLIRejectsBadInput(t *testing.T) {
	_, err := parseArgs(t, "only-one.mp4")
	test.That(t, err, test.ShouldNotBeNil)

	_, err = parseArgs(t, "--threshold", "1.5", "in.mp4", "out.mp4")
	test.That(t, err, test.ShouldNotBeNil)

	_, err = parseArgs(t, "--encoder", "gstreamer", "in.mp4", "out.mp4")
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, err.Error(), test.ShouldContainSubstring, "unknown encoder")

	_, err = parseArgs(t, "--device", "tpu", "in.mp4", "out.mp4")
	test.That(t, err, test.ShouldNotBeNil)

	_, err = parseArgs(t, "--reclaim-interval", "-3", "in.mp4", "out.mp4")
	test.That(t, err, test.ShouldNotBeNil)
}
