package detection

import (
	"image"
	"image/color"
	"math"
	"runtime"
	"runtime/debug"
	"sync"

	"github.com/pkg/errors"
	"gocv.io/x/gocv"
)

const (
	detrInputSize = 800

	detrLogitsLayer = "logits"
	detrBoxesLayer  = "pred_boxes"
)

// ImageNet normalisation the DETR backbone was trained with, RGB order
var (
	detrMean = [3]float32{0.485, 0.456, 0.406}
	detrStd  = [3]float32{0.229, 0.224, 0.225}

	// detrMean scaled to 8-bit. gocv writes B into channel 0, which holds
	// red in the RGB input frame.
	detrPadColor = color.RGBA{R: 104, G: 116, B: 124, A: 0}
)

// DETRProvider implements DETR inference using the OpenCV DNN module
type DETRProvider struct {
	net        gocv.Net
	classNames []string
	device     Device
	backend    string
	target     string
	mu         sync.Mutex
}

// NewDETRProvider loads an ONNX DETR export and binds it to a device
func NewDETRProvider(modelPath, labelsPath string, device Device) (*DETRProvider, error) {
	classNames, err := loadClassNames(labelsPath)
	if err != nil {
		return nil, err
	}

	net := gocv.ReadNetFromONNX(modelPath)
	if net.Empty() {
		return nil, errors.Errorf("failed to load DETR network from %s", modelPath)
	}

	dp := &DETRProvider{
		net:        net,
		classNames: classNames,
		device:     device,
	}
	switch device {
	case DeviceCUDA:
		dp.backend, dp.target = "CUDA", "CUDA"
		if err := net.SetPreferableBackend(gocv.NetBackendCUDA); err != nil {
			net.Close()
			return nil, errors.Wrap(err, "set CUDA backend")
		}
		if err := net.SetPreferableTarget(gocv.NetTargetCUDA); err != nil {
			net.Close()
			return nil, errors.Wrap(err, "set CUDA target")
		}
	default:
		dp.device = DeviceCPU
		dp.backend, dp.target = "OpenCV", "CPU"
		if err := net.SetPreferableBackend(gocv.NetBackendDefault); err != nil {
			net.Close()
			return nil, errors.Wrap(err, "set default backend")
		}
		if err := net.SetPreferableTarget(gocv.NetTargetCPU); err != nil {
			net.Close()
			return nil, errors.Wrap(err, "set CPU target")
		}
	}
	return dp, nil
}

// Detect performs object detection on an RGB frame
func (dp *DETRProvider) Detect(frame gocv.Mat) ([]Detection, error) {
	dp.mu.Lock()
	defer dp.mu.Unlock()

	if frame.Empty() {
		return nil, errors.New("empty frame")
	}

	input := gocv.NewMat()
	defer input.Close()
	side := letterbox(frame, &input)

	blob := gocv.BlobFromImage(input, 1.0/255.0, image.Pt(detrInputSize, detrInputSize),
		gocv.NewScalar(0, 0, 0, 0), false, false)
	defer blob.Close()

	if err := normalizeBlob(blob); err != nil {
		return nil, err
	}

	dp.net.SetInput(blob, "")
	outputs := dp.net.ForwardLayers([]string{detrLogitsLayer, detrBoxesLayer})
	defer func() {
		for i := range outputs {
			outputs[i].Close()
		}
	}()
	if len(outputs) != 2 {
		return nil, errors.Errorf("expected 2 DETR outputs, got %d", len(outputs))
	}

	logits, err := outputs[0].DataPtrFloat32()
	if err != nil {
		return nil, errors.Wrap(err, "read logits")
	}
	boxes, err := outputs[1].DataPtrFloat32()
	if err != nil {
		return nil, errors.Wrap(err, "read boxes")
	}

	// boxes are relative to the padded square, which spans side x side frame pixels
	return decodeDETR(logits, boxes, side, side)
}

// letterboxSize returns the resized frame size that fits the longer edge to
// the model input, and the frame-pixel side of the padded square.
func letterboxSize(w, h int) (image.Point, int) {
	side := max(w, h)
	scale := float64(detrInputSize) / float64(side)
	size := image.Pt(
		min(detrInputSize, max(1, int(math.Round(float64(w)*scale)))),
		min(detrInputSize, max(1, int(math.Round(float64(h)*scale)))),
	)
	return size, side
}

// letterbox resizes frame into dst keeping its aspect ratio and pads the
// bottom and right edges with the mean colour, so padding normalises to zero.
func letterbox(frame gocv.Mat, dst *gocv.Mat) int {
	size, side := letterboxSize(frame.Cols(), frame.Rows())

	resized := gocv.NewMat()
	defer resized.Close()
	gocv.Resize(frame, &resized, size, 0, 0, gocv.InterpolationLinear)

	gocv.CopyMakeBorder(resized, dst, 0, detrInputSize-size.Y, 0, detrInputSize-size.X,
		gocv.BorderConstant, detrPadColor)
	return side
}

// normalizeBlob applies per-channel mean/std to an NCHW float blob in place
func normalizeBlob(blob gocv.Mat) error {
	data, err := blob.DataPtrFloat32()
	if err != nil {
		return errors.Wrap(err, "read blob")
	}
	plane := detrInputSize * detrInputSize
	if len(data) != 3*plane {
		return errors.Errorf("unexpected blob size %d", len(data))
	}
	for c := 0; c < 3; c++ {
		ch := data[c*plane : (c+1)*plane]
		for i := range ch {
			ch[i] = (ch[i] - detrMean[c]) / detrStd[c]
		}
	}
	return nil
}

// ClassName returns the label for a class id
func (dp *DETRProvider) ClassName(classID int) string {
	return className(dp.classNames, classID)
}

// NumClasses returns the number of labelled classes
func (dp *DETRProvider) NumClasses() int {
	return len(dp.classNames)
}

// ReclaimScratch forces release of transient inference memory
func (dp *DETRProvider) ReclaimScratch() {
	dp.mu.Lock()
	defer dp.mu.Unlock()
	runtime.GC()
	debug.FreeOSMemory()
}

// Release releases the network
func (dp *DETRProvider) Release() error {
	dp.mu.Lock()
	defer dp.mu.Unlock()
	return dp.net.Close()
}

// Info returns information about the provider
func (dp *DETRProvider) Info() ProviderInfo {
	return ProviderInfo{
		Device:  dp.device,
		Backend: dp.backend,
		Target:  dp.target,
	}
}
