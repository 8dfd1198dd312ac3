package ffmpeg

import (
	"regexp"
	"strconv"
	"strings"
	"sync"
)

var frameRegex = regexp.MustCompile(`frame=\s*(\d+)`)

// OutputBuffer stores recent ffmpeg output lines for failure reports. It is an
// io.Writer so it can be handed to a process as its stderr.
type OutputBuffer struct {
	lines     []string
	maxLines  int
	index     int
	full      bool
	partial   strings.Builder
	lastFrame int
	mutex     sync.RWMutex
}

// NewOutputBuffer creates a circular buffer for storing recent output
func NewOutputBuffer(maxLines int) *OutputBuffer {
	if maxLines < 1 {
		maxLines = 1
	}
	return &OutputBuffer{
		lines:    make([]string, maxLines),
		maxLines: maxLines,
	}
}

// Write splits p into lines on '\n' or '\r' (ffmpeg redraws progress with '\r')
func (ob *OutputBuffer) Write(p []byte) (int, error) {
	ob.mutex.Lock()
	defer ob.mutex.Unlock()

	for _, b := range p {
		if b == '\n' || b == '\r' {
			ob.flushLocked()
			continue
		}
		ob.partial.WriteByte(b)
	}
	return len(p), nil
}

// Add stores a complete line
func (ob *OutputBuffer) Add(line string) {
	ob.mutex.Lock()
	defer ob.mutex.Unlock()
	ob.addLocked(line)
}

func (ob *OutputBuffer) flushLocked() {
	if ob.partial.Len() == 0 {
		return
	}
	line := ob.partial.String()
	ob.partial.Reset()
	ob.addLocked(line)
}

func (ob *OutputBuffer) addLocked(line string) {
	line = strings.TrimSpace(line)
	if line == "" {
		return
	}
	if m := frameRegex.FindStringSubmatch(line); len(m) > 1 {
		if n, err := strconv.Atoi(m[1]); err == nil && n > ob.lastFrame {
			ob.lastFrame = n
		}
	}
	ob.lines[ob.index] = line
	ob.index = (ob.index + 1) % ob.maxLines
	if ob.index == 0 {
		ob.full = true
	}
}

// Recent returns up to n of the most recent lines, oldest first. n <= 0 returns all.
func (ob *OutputBuffer) Recent(n int) []string {
	ob.mutex.RLock()
	defer ob.mutex.RUnlock()

	var result []string
	if ob.full {
		for i := 0; i < ob.maxLines; i++ {
			result = append(result, ob.lines[(ob.index+i)%ob.maxLines])
		}
	} else {
		result = append(result, ob.lines[:ob.index]...)
	}
	if n > 0 && len(result) > n {
		result = result[len(result)-n:]
	}
	return result
}

// LastFrame returns the highest frame= counter ffmpeg has reported
func (ob *OutputBuffer) LastFrame() int {
	ob.mutex.RLock()
	defer ob.mutex.RUnlock()
	return ob.lastFrame
}
