package pipeline

import "time"

// MaxInstantFPS caps the on-screen FPS when a frame finishes in under
// 1/MaxInstantFPS seconds.
const MaxInstantFPS = 1000.0

const minFrameElapsed = time.Second / time.Duration(MaxInstantFPS)

// RunningStats accumulates per-frame FPS for the final summary
type RunningStats struct {
	FrameCount int
	TotalFPS   float64
}

func (s *RunningStats) add(fps float64) {
	s.FrameCount++
	s.TotalFPS += fps
}

// MeanFPS returns the average instantaneous FPS, or 0 with no frames
func (s RunningStats) MeanFPS() float64 {
	if s.FrameCount == 0 {
		return 0
	}
	return s.TotalFPS / float64(s.FrameCount)
}

// instantFPS returns 1/elapsed. A near-zero elapsed time is reported as
// degenerate and clamped to MaxInstantFPS.
func instantFPS(elapsed time.Duration) (fps float64, degenerate bool) {
	if elapsed < minFrameElapsed {
		return MaxInstantFPS, true
	}
	return 1 / elapsed.Seconds(), false
}
