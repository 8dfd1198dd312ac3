// Package pipeline runs the decode, detect, render and encode loop over a
// finite video file.
package pipeline

import (
	"context"
	"fmt"
	"io"
	"path/filepath"

	"github.com/benbjohnson/clock"
	"github.com/pkg/errors"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"gocv.io/x/gocv"

	"detrvid/detection"
	"detrvid/video"
)

// Detector is the part of a detection provider the loop needs
type Detector interface {
	// Detect runs inference on an RGB frame
	Detect(frame gocv.Mat) ([]detection.Detection, error)
	ReclaimScratch()
}

// Overlay draws onto a BGR frame in place
type Overlay interface {
	DrawDetection(img *gocv.Mat, det detection.Detection)
	DrawFPS(img *gocv.Mat, fps float64)
}

// SourceOpener opens an input video
type SourceOpener func(path string) (video.Source, error)

// SinkCreator creates an output video with the given geometry
type SinkCreator func(path string, geom video.Geometry) (video.Sink, error)

// OpenCaptureSource is the default SourceOpener
func OpenCaptureSource(path string) (video.Source, error) {
	c, err := video.OpenCapture(path)
	if err != nil {
		return nil, err
	}
	return c, nil
}

// CreateWriterSink is the default SinkCreator
func CreateWriterSink(path string, geom video.Geometry) (video.Sink, error) {
	w, err := video.CreateWriter(path, geom)
	if err != nil {
		return nil, err
	}
	return w, nil
}

// Processor runs the frame processing loop
type Processor struct {
	cfg        Config
	detector   Detector
	overlay    Overlay
	logger     *zap.SugaredLogger
	clock      clock.Clock
	openSource SourceOpener
	createSink SinkCreator
}

// Option customizes a Processor
type Option func(*Processor)

// WithClock sets the clock used for per-frame timing
func WithClock(c clock.Clock) Option {
	return func(p *Processor) {
		p.clock = c
	}
}

// WithSourceOpener replaces the input opener
func WithSourceOpener(fn SourceOpener) Option {
	return func(p *Processor) {
		p.openSource = fn
	}
}

// WithSinkCreator replaces the output creator
func WithSinkCreator(fn SinkCreator) Option {
	return func(p *Processor) {
		p.createSink = fn
	}
}

// NewProcessor validates cfg and builds a Processor around an already loaded detector
func NewProcessor(cfg Config, det Detector, ov Overlay, logger *zap.SugaredLogger, opts ...Option) (*Processor, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if det == nil {
		return nil, errors.New("must have a Detector")
	}
	if ov == nil {
		return nil, errors.New("must have an Overlay")
	}
	p := &Processor{
		cfg:        cfg,
		detector:   det,
		overlay:    ov,
		logger:     logger.Named("pipeline"),
		clock:      clock.New(),
		openSource: OpenCaptureSource,
		createSink: CreateWriterSink,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

// run holds the resources of a single ProcessVideo call
type run struct {
	source    video.Source
	sink      video.Sink
	frame     gocv.Mat
	rgb       gocv.Mat
	bar       progress
	detector  Detector
	finalized bool
}

// finalize releases everything the run acquired. It is idempotent and safe
// after a partial Init.
func (r *run) finalize() error {
	if r.finalized {
		return nil
	}
	r.finalized = true

	r.bar.Stop()
	var err error
	if r.source != nil {
		err = multierr.Append(err, errors.Wrap(r.source.Close(), "close source"))
	}
	if r.sink != nil {
		err = multierr.Append(err, errors.Wrap(r.sink.Close(), "close sink"))
	}
	r.frame.Close()
	r.rgb.Close()
	r.detector.ReclaimScratch()
	return err
}

// ProcessVideo annotates every frame of inputPath and writes the result to
// outputPath at the input's nominal frame rate. Cleanup runs on every exit
// path and its errors are appended to the returned error.
func (p *Processor) ProcessVideo(ctx context.Context, inputPath, outputPath string) (stats RunningStats, err error) {
	r := &run{
		frame:    gocv.NewMat(),
		rgb:      gocv.NewMat(),
		bar:      noopProgress{},
		detector: p.detector,
	}
	defer func() {
		err = multierr.Append(err, r.finalize())
		if err != nil {
			p.logger.Errorw("processing failed",
				"input", inputPath, "output", outputPath,
				"frames_written", stats.FrameCount, "error", err)
		}
	}()

	// Init
	r.source, err = p.openSource(inputPath)
	if err != nil {
		r.source = nil
		return stats, asOpenError(err)
	}
	geom := r.source.Geometry()
	if geom.FrameCount <= 0 {
		return stats, errors.Wrapf(video.ErrOpen, "input %s has no frames", inputPath)
	}

	r.sink, err = p.createSink(outputPath, video.Geometry{
		Width:      geom.Width,
		Height:     geom.Height,
		FPS:        geom.FPS,
		FrameCount: geom.FrameCount,
	})
	if err != nil {
		r.sink = nil
		return stats, asOpenError(err)
	}
	p.logger.Infow("processing video",
		"input", inputPath, "output", outputPath,
		"width", geom.Width, "height", geom.Height,
		"nominal_fps", geom.FPS, "frames", geom.FrameCount,
		"threshold", p.cfg.Threshold)

	bar, barErr := startProgress(p.cfg.ShowProgress, geom.FrameCount, filepath.Base(inputPath))
	if barErr != nil {
		p.logger.Debugw("progress bar unavailable", "error", barErr)
	}
	r.bar = bar

	// Reading
	for {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return stats, errors.Wrapf(ctxErr, "interrupted after %d frames", stats.FrameCount)
		}
		frameNum := stats.FrameCount + 1
		start := p.clock.Now()

		if readErr := r.source.Read(&r.frame); readErr != nil {
			if errors.Is(readErr, io.EOF) {
				break
			}
			return stats, errors.Wrapf(asReadError(readErr), "read frame %d", frameNum)
		}

		// Detect
		gocv.CvtColor(r.frame, &r.rgb, gocv.ColorBGRToRGB)
		dets, detErr := p.detector.Detect(r.rgb)
		if detErr != nil {
			return stats, errors.Wrapf(detErr, "detect frame %d", frameNum)
		}

		// Filter and render
		for _, det := range detection.FilterByConfidence(dets, p.cfg.Threshold) {
			p.overlay.DrawDetection(&r.frame, det)
		}
		fps, degenerate := instantFPS(p.clock.Since(start))
		if degenerate {
			p.logger.Debugw("degenerate frame timing, clamping FPS", "frame", frameNum, "fps", fps)
		}
		p.overlay.DrawFPS(&r.frame, fps)

		// Encode
		if writeErr := r.sink.Write(r.frame); writeErr != nil {
			return stats, errors.Wrapf(writeErr, "write frame %d", frameNum)
		}
		stats.add(fps)
		r.bar.Increment()

		if p.cfg.ReclaimInterval > 0 && stats.FrameCount%p.cfg.ReclaimInterval == 0 {
			p.reclaimScratch(r, stats.FrameCount)
		}
	}

	p.logger.Infow("processing complete",
		"output", outputPath, "frames", stats.FrameCount,
		"mean_fps", fmt.Sprintf("%.2f", stats.MeanFPS()))
	return stats, nil
}

// reclaimScratch drops the colour-conversion buffer and asks the detector to
// release its transient memory.
func (p *Processor) reclaimScratch(r *run, frameNum int) {
	r.rgb.Close()
	r.rgb = gocv.NewMat()
	p.detector.ReclaimScratch()
	p.logger.Debugw("reclaimed inference scratch memory", "frame", frameNum)
}

// asOpenError tags err as video.ErrOpen, keeping its message
func asOpenError(err error) error {
	if errors.Is(err, video.ErrOpen) {
		return err
	}
	return errors.Wrap(video.ErrOpen, err.Error())
}

// asReadError tags err as video.ErrRead, keeping its message
func asReadError(err error) error {
	if errors.Is(err, video.ErrRead) {
		return err
	}
	return errors.Wrap(video.ErrRead, err.Error())
}
