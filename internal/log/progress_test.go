package log

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNewRunProgressInitializesQuiet(t *testing.T) {
	p := NewRunProgress("prod-1", 100, true)
	assert.Equal(t, "prod-1", p.productID)
	assert.Equal(t, 100, p.maxRuns)
	assert.Equal(t, 0, p.runsDone)
}

func TestAdvanceIncrementsRunsDoneAndSpinner(t *testing.T) {
	p := NewRunProgress("prod-1", 3, true)
	p.Advance()
	p.Advance()
	assert.Equal(t, 2, p.runsDone)
	assert.Equal(t, 2, p.spinnerIdx)
}

func TestAdvanceWrapsSpinnerIndex(t *testing.T) {
	p := NewRunProgress("prod-1", 100, true)
	for i := 0; i < len(spinnerChars)+1; i++ {
		p.Advance()
	}
	assert.Equal(t, 1, p.spinnerIdx)
}

func TestFinishAndFailDoNotPanicWhenQuiet(t *testing.T) {
	p := NewRunProgress("prod-1", 10, true)
	p.Advance()
	assert.NotPanics(t, func() { p.Finish(true) })

	f := NewRunProgress("prod-2", 10, true)
	assert.NotPanics(t, func() { f.Fail("no feasible recipe") })
}
