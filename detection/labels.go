package detection

import (
	"os"
	"strings"

	"github.com/pkg/errors"
)

const unknownClass = "unknown"

// cocoClasses is the 91-id COCO table DETR predicts over. Ids without a
// category are kept as "N/A" so indices match the model output.
var cocoClasses = []string{
	"N/A", "person", "bicycle", "car", "motorcycle", "airplane", "bus", "train", "truck", "boat",
	"traffic light", "fire hydrant", "N/A", "stop sign", "parking meter", "bench", "bird", "cat", "dog", "horse",
	"sheep", "cow", "elephant", "bear", "zebra", "giraffe", "N/A", "backpack", "umbrella", "N/A",
	"N/A", "handbag", "tie", "suitcase", "frisbee", "skis", "snowboard", "sports ball", "kite", "baseball bat",
	"baseball glove", "skateboard", "surfboard", "tennis racket", "bottle", "N/A", "wine glass", "cup", "fork", "knife",
	"spoon", "bowl", "banana", "apple", "sandwich", "orange", "broccoli", "carrot", "hot dog", "pizza",
	"donut", "cake", "chair", "couch", "potted plant", "bed", "N/A", "dining table", "N/A", "N/A",
	"toilet", "N/A", "tv", "laptop", "mouse", "remote", "keyboard", "cell phone", "microwave", "oven",
	"toaster", "sink", "refrigerator", "N/A", "book", "clock", "vase", "scissors", "teddy bear", "hair drier",
	"toothbrush",
}

// COCOClassNames returns a copy of the built-in class table
func COCOClassNames() []string {
	return append([]string(nil), cocoClasses...)
}

// loadClassNames reads one class name per line, or returns the COCO table
// when path is empty.
func loadClassNames(path string) ([]string, error) {
	if path == "" {
		return COCOClassNames(), nil
	}
	namesBytes, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "could not read class names")
	}
	names := strings.Split(strings.TrimRight(string(namesBytes), "\r\n"), "\n")
	for i := range names {
		names[i] = strings.TrimSpace(names[i])
	}
	if len(names) == 0 || (len(names) == 1 && names[0] == "") {
		return nil, errors.Errorf("class names file %s is empty", path)
	}
	return names, nil
}

func className(names []string, classID int) string {
	if classID < 0 || classID >= len(names) {
		return unknownClass
	}
	return names[classID]
}
