package progress

import (
	"fmt"
	"strings"
	"sync"
	"time"
)

var spinnerFrames = []string{"⠋", "⠙", "⠹", "⠸", "⠼", "⠴", "⠦", "⠧", "⠇", "⠏"}

// Spinner shows a message while work of unknown length runs, then the time
// it took.
type Spinner struct {
	message string

	mu      sync.Mutex
	started time.Time
	stopped time.Time
}

func NewSpinner(message string) *Spinner {
	return &Spinner{message: strings.TrimSpace(message), started: time.Now()}
}

func (s *Spinner) String() string {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.stopped.IsZero() {
		return fmt.Sprintf("%s (%s)", s.message, s.stopped.Sub(s.started).Round(time.Millisecond))
	}

	frame := int(time.Since(s.started)/(100*time.Millisecond)) % len(spinnerFrames)
	return s.message + " " + spinnerFrames[frame]
}

func (s *Spinner) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stopped.IsZero() {
		s.stopped = time.Now()
	}
}
