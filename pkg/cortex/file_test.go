package cortex

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFileRecordVisibleToMirrorsPathwayRule(t *testing.T) {
	f := &FileRecord{InCollection: true}
	assert.True(t, f.VisibleTo("any-chat"))

	f = &FileRecord{ChatIDs: map[string]bool{"room-1": true}}
	assert.True(t, f.VisibleTo("room-1"))
	assert.False(t, f.VisibleTo("room-2"))

	f = &FileRecord{}
	assert.False(t, f.VisibleTo("room-1"))
}
