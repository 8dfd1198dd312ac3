package pipeline

import "github.com/pkg/errors"

const (
	DefaultThreshold       = 0.9
	DefaultReclaimInterval = 100
)

// Config holds runtime settings for the frame processing loop
type Config struct {
	// Threshold is the strict lower bound on rendered detection confidence
	Threshold float64
	// ReclaimInterval is the frame period for forcing release of inference
	// scratch memory; 0 disables it
	ReclaimInterval int
	ShowProgress    bool
}

// DefaultConfig returns the settings used when no flags are given
func DefaultConfig() Config {
	return Config{
		Threshold:       DefaultThreshold,
		ReclaimInterval: DefaultReclaimInterval,
		ShowProgress:    true,
	}
}

// Validate checks the config for values the loop cannot work with
func (c Config) Validate() error {
	if c.Threshold < 0 || c.Threshold >= 1 {
		return errors.Errorf("threshold %v must be in [0, 1)", c.Threshold)
	}
	if c.ReclaimInterval < 0 {
		return errors.Errorf("reclaim interval %d must not be negative", c.ReclaimInterval)
	}
	return nil
}
