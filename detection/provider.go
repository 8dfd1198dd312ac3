package detection

import (
	"image"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"
	"gocv.io/x/gocv"
)

// Detection is one predicted object instance for a single frame.
type Detection struct {
	ClassID    int
	Confidence float64
	Box        image.Rectangle // frame pixel coordinates
}

// Detector defines the interface for frame-level object detection
type Detector interface {
	// Detect runs inference on an RGB frame
	Detect(frame gocv.Mat) ([]Detection, error)
	ClassName(classID int) string
	NumClasses() int
	// ReclaimScratch drops transient inference buffers
	ReclaimScratch()
	Release() error
}

// Device selects the compute target for inference
type Device string

const (
	DeviceAuto Device = "auto"
	DeviceCPU  Device = "cpu"
	DeviceCUDA Device = "cuda"
)

// ParseDevice validates a device preference string
func ParseDevice(s string) (Device, error) {
	switch d := Device(strings.ToLower(strings.TrimSpace(s))); d {
	case DeviceAuto, DeviceCPU, DeviceCUDA:
		return d, nil
	case "":
		return DeviceAuto, nil
	case "gpu":
		return DeviceCUDA, nil
	default:
		return "", errors.Errorf("unknown device %q (want auto, cpu or cuda)", s)
	}
}

// ProviderInfo contains information about the loaded provider
type ProviderInfo struct {
	Device   Device
	Backend  string
	Target   string
	InitTime time.Duration
}

// providerFactory builds an unloaded provider for a concrete device
type providerFactory func(device Device) (provider, error)

// provider is a Detector with an explicit device-bound lifecycle
type provider interface {
	Detector
	Info() ProviderInfo
}

// ProviderManager owns device placement for a detector: it probes for a GPU,
// falls back to CPU and exposes explicit Load/Release.
type ProviderManager struct {
	factory   providerFactory
	current   provider
	info      ProviderInfo
	logger    *zap.SugaredLogger
	gpuProbe  func() bool
	memReport func() (GPUMemory, error)
}

// NewProviderManager creates a manager that loads DETR models from modelPath.
// An empty labelsPath keeps the built-in COCO class table.
func NewProviderManager(modelPath, labelsPath string, logger *zap.SugaredLogger) *ProviderManager {
	pm := &ProviderManager{
		logger:   logger.Named("provider"),
		gpuProbe: hasGPUCapability,
	}
	pm.factory = func(device Device) (provider, error) {
		return NewDETRProvider(modelPath, labelsPath, device)
	}
	pm.memReport = QueryGPUMemory
	return pm
}

// Load initializes a provider on the requested device. With DeviceAuto a CUDA
// provider is tried first and must pass a test inference, otherwise CPU is used.
func (pm *ProviderManager) Load(device Device) error {
	if pm.current != nil {
		return errors.New("provider already loaded")
	}

	if device == DeviceAuto || device == DeviceCUDA {
		if device == DeviceCUDA || pm.gpuProbe() {
			pm.logger.Info("attempting CUDA initialization")
			err := pm.tryLoad(DeviceCUDA)
			if err == nil {
				return nil
			}
			if device == DeviceCUDA {
				return errors.Wrap(err, "cuda provider")
			}
			pm.logger.Warnw("CUDA initialization failed, falling back to CPU", "error", err)
		} else {
			pm.logger.Info("no GPU capability detected")
		}
	}

	pm.logger.Info("initializing CPU provider")
	if err := pm.tryLoad(DeviceCPU); err != nil {
		return errors.Wrap(err, "cpu provider")
	}
	return nil
}

func (pm *ProviderManager) tryLoad(device Device) error {
	start := time.Now()
	p, err := pm.factory(device)
	if err != nil {
		return err
	}
	if !testProvider(p) {
		_ = p.Release()
		return errors.Errorf("%s test inference failed", device)
	}
	pm.current = p
	pm.info = p.Info()
	pm.info.InitTime = time.Since(start)
	pm.logger.Infow("provider initialized",
		"device", pm.info.Device, "backend", pm.info.Backend, "target", pm.info.Target,
		"init_time", pm.info.InitTime)
	return nil
}

// Info returns information about the current provider
func (pm *ProviderManager) Info() ProviderInfo {
	return pm.info
}

// Detect runs the loaded provider
func (pm *ProviderManager) Detect(frame gocv.Mat) ([]Detection, error) {
	if pm.current == nil {
		return nil, errors.New("provider not loaded")
	}
	return pm.current.Detect(frame)
}

// ClassName returns the display name of a class, or "unknown"
func (pm *ProviderManager) ClassName(classID int) string {
	if pm.current == nil {
		return unknownClass
	}
	return pm.current.ClassName(classID)
}

// NumClasses returns the class-id space size of the loaded provider
func (pm *ProviderManager) NumClasses() int {
	if pm.current == nil {
		return len(cocoClasses)
	}
	return pm.current.NumClasses()
}

// ReclaimScratch releases provider scratch memory and reports accelerator usage
func (pm *ProviderManager) ReclaimScratch() {
	if pm.current == nil {
		return
	}
	pm.current.ReclaimScratch()

	if pm.info.Device != DeviceCUDA {
		return
	}
	mem, err := pm.memReport()
	if err != nil {
		pm.logger.Debugw("failed to query GPU memory", "error", err)
		return
	}
	pm.logger.Debugw("GPU memory",
		"used_mb", mem.UsedMB, "total_mb", mem.TotalMB,
		"percent", mem.Percent(), "temp_c", mem.TemperatureC)
	if mem.Percent() >= gpuMemoryWarnPercent {
		pm.logger.Warnw("GPU memory usage high", "percent", mem.Percent())
	}
}

// Release closes the current provider. Safe to call more than once.
func (pm *ProviderManager) Release() error {
	if pm.current == nil {
		return nil
	}
	err := pm.current.Release()
	pm.current = nil
	return err
}

// hasGPUCapability checks if GPU inference is possible
func hasGPUCapability() bool {
	if !hasNVIDIAGPU() {
		return false
	}
	// CUDA itself is tested by the test inference during Load
	return hasNVIDIADriver()
}

// hasNVIDIAGPU checks if NVIDIA GPU is present
func hasNVIDIAGPU() bool {
	output, err := exec.Command("lspci").Output()
	if err != nil {
		return false
	}
	return strings.Contains(strings.ToLower(string(output)), "nvidia")
}

// hasNVIDIADriver checks if NVIDIA drivers are loaded
func hasNVIDIADriver() bool {
	if err := exec.Command("nvidia-smi", "--query-gpu=name", "--format=csv,noheader").Run(); err != nil {
		return false
	}
	matches, _ := filepath.Glob("/dev/nvidia*")
	return len(matches) > 0
}

// testProvider performs a quick test inference to verify the provider works
func testProvider(p Detector) bool {
	testFrame := gocv.NewMatWithSize(detrInputSize, detrInputSize, gocv.MatTypeCV8UC3)
	defer testFrame.Close()

	_, err := p.Detect(testFrame)
	return err == nil
}
