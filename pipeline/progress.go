package pipeline

import (
	"github.com/pterm/pterm"
)

// progress reports per-frame advancement
type progress interface {
	Increment()
	Stop()
}

type noopProgress struct{}

func (noopProgress) Increment() {}
func (noopProgress) Stop()      {}

type ptermProgress struct {
	bar     *pterm.ProgressbarPrinter
	stopped bool
}

func (p *ptermProgress) Increment() {
	if !p.stopped {
		p.bar.Increment()
	}
}

// Stop is idempotent
func (p *ptermProgress) Stop() {
	if p.stopped {
		return
	}
	p.stopped = true
	_, _ = p.bar.Stop()
}

// startProgress starts a progress bar sized to total frames. A failure to
// start the bar is not fatal: processing continues without one.
func startProgress(enabled bool, total int, title string) (progress, error) {
	if !enabled || total <= 0 {
		return noopProgress{}, nil
	}
	bar, err := pterm.DefaultProgressbar.
		WithTotal(total).
		WithTitle(title).
		WithRemoveWhenDone(false).
		Start()
	if err != nil {
		return noopProgress{}, err
	}
	return &ptermProgress{bar: bar}, nil
}
