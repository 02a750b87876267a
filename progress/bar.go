package progress

import (
	"fmt"
	"math"
	"os"
	"strings"
	"sync/atomic"

	"golang.org/x/term"
)

// Bar counts completed items out of a known total.
type Bar struct {
	message string
	total   int64
	current atomic.Int64
}

func NewBar(message string, total int64) *Bar {
	return &Bar{message: strings.TrimSpace(message), total: total}
}

func (b *Bar) Set(value int64) {
	b.current.Store(min(max(value, 0), b.total))
}

func (b *Bar) percent() float64 {
	if b.total > 0 {
		return float64(b.current.Load()) / float64(b.total) * 100
	}
	return 0
}

func (b *Bar) String() string {
	termWidth, _, err := term.GetSize(int(os.Stderr.Fd()))
	if err != nil {
		termWidth = 80
	}

	percent := b.percent()

	var pre strings.Builder
	if b.message != "" {
		pre.WriteString(b.message)
		pre.WriteString(" ")
	}
	fmt.Fprintf(&pre, "%3.0f%% ", math.Floor(percent))

	suf := fmt.Sprintf(" %d/%d", b.current.Load(), b.total)

	// 2 boundary characters
	var mid strings.Builder
	if f := termWidth - pre.Len() - len(suf) - 2; f > 0 {
		n := int(float64(f) * percent / 100)
		mid.WriteString("▕")
		mid.WriteString(strings.Repeat("█", n))
		mid.WriteString(strings.Repeat(" ", f-n))
		mid.WriteString("▏")
	}

	return pre.String() + mid.String() + suf
}
