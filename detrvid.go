package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/pkg/errors"
	"github.com/pterm/pterm"
	"github.com/urfave/cli/v2"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"detrvid/detection"
	"detrvid/overlay"
	"detrvid/pipeline"
	"detrvid/pkg/ffmpeg"
	"detrvid/video"
)

const (
	defaultModelPath = "detr-resnet-50.onnx"

	encoderOpenCV = "opencv"
	encoderFFmpeg = "ffmpeg"
)

// appConfig is everything the command line and environment can set
type appConfig struct {
	Input           string
	Output          string
	Threshold       float64
	Device          detection.Device
	ModelPath       string
	LabelsPath      string
	Encoder         string
	ReclaimInterval int
	PaletteSeed     int64
	ShowProgress    bool
	Debug           bool
}

func (c appConfig) pipelineConfig() pipeline.Config {
	return pipeline.Config{
		Threshold:       c.Threshold,
		ReclaimInterval: c.ReclaimInterval,
		ShowProgress:    c.ShowProgress,
	}
}

func (c appConfig) validate() error {
	if c.Input == "" || c.Output == "" {
		return errors.New("input and output paths are required")
	}
	if c.ModelPath == "" {
		return errors.New("model path is required")
	}
	switch c.Encoder {
	case encoderOpenCV, encoderFFmpeg:
	default:
		return errors.Errorf("unknown encoder %q (want %s or %s)", c.Encoder, encoderOpenCV, encoderFFmpeg)
	}
	return c.pipelineConfig().Validate()
}

func main() {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		pterm.Warning.Printfln("could not load .env: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app := newApp(run)
	if err := app.RunContext(ctx, os.Args); err != nil {
		pterm.Error.Println(err)
		stop()
		os.Exit(1)
	}
}

// newApp builds the CLI. action receives the parsed and validated config.
func newApp(action func(ctx context.Context, cfg appConfig) error) *cli.App {
	return &cli.App{
		Name:      "detrvid",
		Usage:     "annotate a video with DETR object detections",
		ArgsUsage: "<input> <output>",
		Flags: []cli.Flag{
			&cli.Float64Flag{
				Name:    "threshold",
				Aliases: []string{"t"},
				Value:   pipeline.DefaultThreshold,
				Usage:   "draw detections with confidence strictly above `VALUE`",
				EnvVars: []string{"DETRVID_THRESHOLD"},
			},
			&cli.StringFlag{
				Name:    "device",
				Value:   string(detection.DeviceAuto),
				Usage:   "inference device: auto, cpu or cuda",
				EnvVars: []string{"DETRVID_DEVICE"},
			},
			&cli.StringFlag{
				Name:    "model",
				Aliases: []string{"m"},
				Value:   defaultModelPath,
				Usage:   "DETR ONNX model `FILE`",
				EnvVars: []string{"DETRVID_MODEL"},
			},
			&cli.StringFlag{
				Name:    "labels",
				Usage:   "class names `FILE`, one per line in class id order",
				EnvVars: []string{"DETRVID_LABELS"},
			},
			&cli.StringFlag{
				Name:    "encoder",
				Value:   encoderOpenCV,
				Usage:   "output encoder: opencv or ffmpeg",
				EnvVars: []string{"DETRVID_ENCODER"},
			},
			&cli.IntFlag{
				Name:    "reclaim-interval",
				Value:   pipeline.DefaultReclaimInterval,
				Usage:   "release inference scratch memory every `N` frames (0 disables)",
				EnvVars: []string{"DETRVID_RECLAIM_INTERVAL"},
			},
			&cli.Int64Flag{
				Name:    "palette-seed",
				Value:   overlay.DefaultPaletteSeed,
				Usage:   "seed for the class colour palette",
				EnvVars: []string{"DETRVID_PALETTE_SEED"},
			},
			&cli.BoolFlag{
				Name:    "no-progress",
				Usage:   "disable the progress bar",
				EnvVars: []string{"DETRVID_NO_PROGRESS"},
			},
			&cli.BoolFlag{
				Name:    "debug",
				Usage:   "enable debug logging",
				EnvVars: []string{"DETRVID_DEBUG"},
			},
		},
		Action: func(c *cli.Context) error {
			cfg, err := configFromContext(c)
			if err != nil {
				return err
			}
			return action(c.Context, cfg)
		},
	}
}

func configFromContext(c *cli.Context) (appConfig, error) {
	if c.NArg() != 2 {
		return appConfig{}, errors.Errorf("expected <input> <output>, got %d arguments", c.NArg())
	}
	device, err := detection.ParseDevice(c.String("device"))
	if err != nil {
		return appConfig{}, err
	}
	cfg := appConfig{
		Input:           c.Args().Get(0),
		Output:          c.Args().Get(1),
		Threshold:       c.Float64("threshold"),
		Device:          device,
		ModelPath:       c.String("model"),
		LabelsPath:      c.String("labels"),
		Encoder:         strings.ToLower(c.String("encoder")),
		ReclaimInterval: c.Int("reclaim-interval"),
		PaletteSeed:     c.Int64("palette-seed"),
		ShowProgress:    !c.Bool("no-progress"),
		Debug:           c.Bool("debug"),
	}
	if err := cfg.validate(); err != nil {
		return appConfig{}, err
	}
	return cfg, nil
}

func newLogger(debug bool) (*zap.SugaredLogger, error) {
	var zc zap.Config
	if debug {
		zc = zap.NewDevelopmentConfig()
	} else {
		zc = zap.NewProductionConfig()
		zc.Encoding = "console"
		zc.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	}
	logger, err := zc.Build()
	if err != nil {
		return nil, err
	}
	return logger.Sugar(), nil
}

// sinkCreator picks the output encoder
func sinkCreator(encoder string, logger *zap.SugaredLogger) pipeline.SinkCreator {
	if encoder == encoderFFmpeg {
		return func(path string, geom video.Geometry) (video.Sink, error) {
			w, err := ffmpeg.NewPipeWriter(path, geom, logger)
			if err != nil {
				return nil, err
			}
			return w, nil
		}
	}
	return pipeline.CreateWriterSink
}

func run(ctx context.Context, cfg appConfig) error {
	logger, err := newLogger(cfg.Debug)
	if err != nil {
		return errors.Wrap(err, "build logger")
	}
	defer func() {
		_ = logger.Sync()
	}()

	logger.Debugw("starting", "config", cfg.String())

	pm := detection.NewProviderManager(cfg.ModelPath, cfg.LabelsPath, logger)
	if err := pm.Load(cfg.Device); err != nil {
		logger.Errorw("failed to load detector", "model", cfg.ModelPath, "device", cfg.Device, "error", err)
		return err
	}
	defer func() {
		if relErr := pm.Release(); relErr != nil {
			logger.Warnw("failed to release detector", "error", relErr)
		}
	}()
	info := pm.Info()
	logger.Infow("detector ready", "device", info.Device, "backend", info.Backend, "init_time", info.InitTime)

	palette := overlay.GeneratePalette(pm.NumClasses(), cfg.PaletteSeed)
	renderer := overlay.NewRenderer(palette, pm)

	proc, err := pipeline.NewProcessor(cfg.pipelineConfig(), pm, renderer, logger,
		pipeline.WithSinkCreator(sinkCreator(cfg.Encoder, logger)))
	if err != nil {
		return err
	}

	stats, err := proc.ProcessVideo(ctx, cfg.Input, cfg.Output)
	if err != nil {
		return err
	}
	pterm.Success.Printfln("Processing complete. Output saved to %s (%d frames, mean %.2f FPS)",
		cfg.Output, stats.FrameCount, stats.MeanFPS())
	return nil
}

func (c appConfig) String() string {
	return fmt.Sprintf("input=%s output=%s threshold=%.2f device=%s encoder=%s",
		c.Input, c.Output, c.Threshold, c.Device, c.Encoder)
}
