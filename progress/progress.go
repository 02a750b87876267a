// Package progress draws spinners and bars on a terminal.
package progress

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"golang.org/x/term"
)

const defaultTermHeight = 24

// State is one line of output.
type State interface {
	String() string
}

type stopper interface {
	Stop()
}

// Progress redraws its states in place. When the writer is not a terminal
// nothing is drawn until Stop, which prints every state once.
type Progress struct {
	mu sync.Mutex
	// buffer output to minimize flickering
	w *bufio.Writer

	fd  int
	tty bool

	pos     int
	stopped bool

	ticker *time.Ticker
	done   chan struct{}
	states []State
}

func NewProgress(w io.Writer) *Progress {
	p := &Progress{w: bufio.NewWriter(w), fd: -1}
	if f, ok := w.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		p.fd, p.tty = int(f.Fd()), true
		p.ticker = time.NewTicker(100 * time.Millisecond)
		p.done = make(chan struct{})

		// hide cursor
		fmt.Fprint(p.w, "\033[?25l")
		go p.start()
	}

	return p
}

func (p *Progress) Add(state State) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.states = append(p.states, state)
}

// stop halts the redraw loop and every state that can be stopped. It reports
// false if p was already stopped.
func (p *Progress) stop() bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.stopped {
		return false
	}
	p.stopped = true

	for _, state := range p.states {
		if s, ok := state.(stopper); ok {
			s.Stop()
		}
	}

	if p.tty {
		p.ticker.Stop()
		close(p.done)
	}

	return true
}

// Stop leaves the final state of every line on screen.
func (p *Progress) Stop() {
	if !p.stop() {
		return
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.tty {
		for _, state := range p.states {
			fmt.Fprintln(p.w, state.String())
		}
		p.w.Flush()
		return
	}

	p.render()
	fmt.Fprintln(p.w)
	// show cursor
	fmt.Fprint(p.w, "\033[?25h")
	p.w.Flush()
}

// StopAndClear removes every line drawn so far.
func (p *Progress) StopAndClear() {
	if !p.stop() || !p.tty {
		return
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	for range p.pos - 1 {
		fmt.Fprint(p.w, "\033[A")
	}

	fmt.Fprint(p.w, "\033[2K", "\033[1G")
	// show cursor
	fmt.Fprint(p.w, "\033[?25h")
	p.w.Flush()
}

// render redraws every state. p.mu must be held.
func (p *Progress) render() {
	_, termHeight, err := term.GetSize(p.fd)
	if err != nil {
		termHeight = defaultTermHeight
	}

	fmt.Fprint(p.w, "\033[?2026h")
	defer fmt.Fprint(p.w, "\033[?2026l")

	for range p.pos - 1 {
		fmt.Fprint(p.w, "\033[A")
	}

	fmt.Fprint(p.w, "\033[1G")

	maxHeight := min(len(p.states), termHeight)
	for i := len(p.states) - maxHeight; i < len(p.states); i++ {
		fmt.Fprint(p.w, p.states[i].String(), "\033[K")
		if i < len(p.states)-1 {
			fmt.Fprint(p.w, "\n")
		}
	}

	p.pos = maxHeight
	p.w.Flush()
}

func (p *Progress) start() {
	for {
		select {
		case <-p.done:
			return
		case <-p.ticker.C:
			p.mu.Lock()
			if !p.stopped {
				p.render()
			}
			p.mu.Unlock()
		}
	}
}
