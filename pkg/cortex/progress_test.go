package cortex

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestProgressEventIsTerminal(t *testing.T) {
	assert.True(t, ProgressEvent{Type: ProgressDone}.IsTerminal())
	assert.True(t, ProgressEvent{Type: ProgressError}.IsTerminal())
	assert.False(t, ProgressEvent{Type: ProgressDelta}.IsTerminal())
	assert.False(t, ProgressEvent{Type: ProgressToolCall}.IsTerminal())
}
