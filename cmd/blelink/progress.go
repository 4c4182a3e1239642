package main

import (
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fatih/color"

	"github.com/srg/blelink/internal/orchestrator"
)

const (
	progressUpdateInterval = 100 * time.Millisecond
	clearLineSequence      = "\r\033[K"
)

// ProgressPrinter displays the current phase with elapsed time on one line.
//
// Usage:
//
//	p := NewProgressPrinter(w, "Connecting to Printer", "Idle", "Ready", "Failed")
//	p.Start()
//	defer p.Stop()
//
// A ProgressPrinter is single-use; Stop must be called to end its goroutine.
type ProgressPrinter struct {
	out        io.Writer
	prefix     string
	phase      atomic.Value        // stores string - current phase name
	stopPhases map[string]struct{} // set of phases that trigger a graceful shutdown
	startTime  time.Time

	mu       sync.Mutex // serializes writes to out
	started  atomic.Bool
	stopOnce sync.Once
	stopChan chan struct{}
	done     chan struct{}
}

// NewProgressPrinter creates a progress printer that counts up.
// stopPhases end the display when reported through Callback.
func NewProgressPrinter(out io.Writer, prefix, phase string, stopPhases ...string) *ProgressPrinter {
	stopSet := make(map[string]struct{}, len(stopPhases))
	for _, p := range stopPhases {
		stopSet[p] = struct{}{}
	}
	p := &ProgressPrinter{
		out:        out,
		prefix:     prefix,
		stopPhases: stopSet,
		stopChan:   make(chan struct{}),
		done:       make(chan struct{}),
	}
	p.phase.Store(phase)
	return p
}

// Start begins displaying progress updates in a background goroutine.
// Panics if called more than once on the same ProgressPrinter instance.
func (p *ProgressPrinter) Start() {
	if !p.started.CompareAndSwap(false, true) {
		panic("ProgressPrinter.Start called more than once")
	}
	p.startTime = time.Now()
	p.print(p.phase.Load().(string), 0)

	ticker := time.NewTicker(progressUpdateInterval)
	go func() {
		defer close(p.done)
		defer ticker.Stop()
		for {
			select {
			case <-p.stopChan:
				return
			case <-ticker.C:
				p.print(p.phase.Load().(string), int(time.Since(p.startTime).Seconds()))
			}
		}
	}()
}

func (p *ProgressPrinter) print(phase string, seconds int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if seconds > 0 {
		fmt.Fprintf(p.out, "\r%s (%s %ds)   ", p.prefix, phase, seconds)
	} else {
		fmt.Fprintf(p.out, "\r%s (%s...)   ", p.prefix, phase)
	}
}

// Callback returns a phase setter; a stop phase stops the printer.
// This function is safe to call from multiple goroutines.
func (p *ProgressPrinter) Callback() func(phase string) {
	return func(phase string) {
		p.phase.Store(phase)
		if _, isStopPhase := p.stopPhases[phase]; isStopPhase {
			p.Stop()
		}
	}
}

// Observer adapts the printer to handshake transitions.
func (p *ProgressPrinter) Observer() orchestrator.Observer {
	cb := p.Callback()
	return func(_ string, _, to orchestrator.State) {
		cb(to.String())
	}
}

// Stop stops the display and clears the line. Safe to call repeatedly.
func (p *ProgressPrinter) Stop() {
	p.stopOnce.Do(func() {
		close(p.stopChan)
		if p.started.Load() {
			<-p.done
		}
		p.mu.Lock()
		fmt.Fprint(p.out, clearLineSequence)
		p.mu.Unlock()
	})
}

var (
	okColor   = color.New(color.FgGreen)
	failColor = color.New(color.FgRed)
	stepColor = color.New(color.FgCyan)
)

// transitionLogger prints one colored line per handshake transition, used
// with --trace.
func transitionLogger(out io.Writer) orchestrator.Observer {
	var mu sync.Mutex
	return func(identifier string, from, to orchestrator.State) {
		mu.Lock()
		defer mu.Unlock()
		c := stepColor
		switch to {
		case orchestrator.StateReady:
			c = okColor
		case orchestrator.StateFailed:
			c = failColor
		}
		fmt.Fprintf(out, "%s: %s -> %s\n", identifier, from, c.Sprint(to))
	}
}
