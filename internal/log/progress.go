// Package log provides the CLI's progress feedback for long-running
// estimate runs, in the same spinner-plus-bar shape the teacher uses for
// its scan pipelines, built on zerolog for the structured side-channel.
package log

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// RunProgress reports a Monte-Carlo estimator's progress across its run
// budget, mirroring the teacher's ProgressIndicator but scoped to one
// product's estimate call.
type RunProgress struct {
	mu         sync.Mutex
	productID  string
	maxRuns    int
	runsDone   int
	startTime  time.Time
	spinnerIdx int
	quiet      bool
}

var spinnerChars = []string{"⠋", "⠙", "⠹", "⠸", "⠼", "⠴", "⠦", "⠧", "⠇", "⠏"}

// NewRunProgress starts tracking one product's estimate run. Pass quiet=true
// to suppress terminal output (e.g. when stdout is not a TTY).
func NewRunProgress(productID string, maxRuns int, quiet bool) *RunProgress {
	return &RunProgress{
		productID: productID,
		maxRuns:   maxRuns,
		startTime: time.Now(),
		quiet:     quiet,
	}
}

// Advance records one completed Monte-Carlo run and redraws the line.
func (p *RunProgress) Advance() {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.runsDone++
	p.spinnerIdx = (p.spinnerIdx + 1) % len(spinnerChars)
	if !p.quiet {
		p.print()
	}
}

func (p *RunProgress) print() {
	var b strings.Builder
	b.WriteString("\r\033[K")
	b.WriteString(spinnerChars[p.spinnerIdx])
	b.WriteString(" ")
	b.WriteString(p.productID)

	if p.maxRuns > 0 {
		pct := float64(p.runsDone) / float64(p.maxRuns) * 100
		width := 20
		filled := int(float64(width) * float64(p.runsDone) / float64(p.maxRuns))
		b.WriteString(" [")
		for i := 0; i < width; i++ {
			if i < filled {
				b.WriteString("#")
			} else {
				b.WriteString("-")
			}
		}
		b.WriteString(fmt.Sprintf("] %d/%d (%.0f%%)", p.runsDone, p.maxRuns, pct))
	}
	fmt.Print(b.String())
}

// Finish completes the progress line and emits a structured log entry with
// the final timing.
func (p *RunProgress) Finish(converged bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	duration := time.Since(p.startTime)
	if !p.quiet {
		fmt.Printf("\r\033[Kdone: %s (%d runs, %v)\n", p.productID, p.runsDone, duration.Round(time.Millisecond))
	}
	log.Info().
		Str("product_id", p.productID).
		Int("runs", p.runsDone).
		Bool("converged", converged).
		Dur("duration", duration).
		Msg("estimate run completed")
}

// Fail completes the progress line with a failure reason.
func (p *RunProgress) Fail(reason string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	duration := time.Since(p.startTime)
	if !p.quiet {
		fmt.Printf("\r\033[Kfailed: %s - %s (%v)\n", p.productID, reason, duration.Round(time.Millisecond))
	}
	log.Error().
		Str("product_id", p.productID).
		Int("runs", p.runsDone).
		Str("reason", reason).
		Dur("duration", duration).
		Msg("estimate run failed")
}
