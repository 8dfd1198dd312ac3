package detection

import (
	"os/exec"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

const gpuMemoryWarnPercent = 85.0

// GPUMemory is a snapshot of the first GPU reported by nvidia-smi
type GPUMemory struct {
	UsedMB       float64
	TotalMB      float64
	TemperatureC float64
}

// Percent returns memory usage as a percentage of total
func (m GPUMemory) Percent() float64 {
	if m.TotalMB <= 0 {
		return 0
	}
	return m.UsedMB / m.TotalMB * 100
}

// QueryGPUMemory asks nvidia-smi for memory usage and temperature
func QueryGPUMemory() (GPUMemory, error) {
	cmd := exec.Command("nvidia-smi", "--query-gpu=memory.used,memory.total,temperature.gpu", "--format=csv,noheader,nounits")
	output, err := cmd.Output()
	if err != nil {
		return GPUMemory{}, errors.Wrap(err, "query GPU memory")
	}
	return parseGPUMemory(string(output))
}

func parseGPUMemory(output string) (GPUMemory, error) {
	lines := strings.Split(strings.TrimSpace(output), "\n")
	if len(lines) == 0 || lines[0] == "" {
		return GPUMemory{}, errors.New("no GPU memory data returned")
	}

	fields := strings.Split(lines[0], ",")
	if len(fields) < 3 {
		return GPUMemory{}, errors.Errorf("invalid GPU memory data format: %q", lines[0])
	}

	var vals [3]float64
	for i := range vals {
		v, err := strconv.ParseFloat(strings.TrimSpace(fields[i]), 64)
		if err != nil {
			return GPUMemory{}, errors.Wrapf(err, "parse field %d", i)
		}
		vals[i] = v
	}
	return GPUMemory{UsedMB: vals[0], TotalMB: vals[1], TemperatureC: vals[2]}, nil
}
