package cortex

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestCompressionThresholdDefaultsToPointSix(t *testing.T) {
	p := &Pathway{}
	assert.Equal(t, 0.6, p.CompressionThreshold())

	p.CompressionThresholdFraction = 0.3
	assert.Equal(t, 0.3, p.CompressionThreshold())
}

func TestVisibleToInCollectionWinsOutright(t *testing.T) {
	p := &Pathway{InCollection: true}
	assert.True(t, p.VisibleTo(true, "anything"))
	assert.True(t, p.VisibleTo(false, "anything"))
}

func TestVisibleToChecksChatIDMembership(t *testing.T) {
	p := &Pathway{ChatIDs: map[string]bool{"room-1": true}}
	assert.True(t, p.VisibleTo(false, "room-1"))
	assert.False(t, p.VisibleTo(false, "room-2"))
}

func TestVisibleToWildcardChatID(t *testing.T) {
	p := &Pathway{ChatIDs: map[string]bool{"*": true}}
	assert.True(t, p.VisibleTo(false, "any-room"))
}

func TestVisibleToNilChatIDsDeniesByDefault(t *testing.T) {
	p := &Pathway{}
	assert.False(t, p.VisibleTo(false, "room-1"))
}

func TestFingerprintStableForIdenticalConfig(t *testing.T) {
	a := &Pathway{Name: "summarize", Template: "tpl", Model: "gpt-4o", Timeout: 30 * time.Second}
	b := &Pathway{Name: "summarize", Template: "tpl", Model: "gpt-4o", Timeout: 30 * time.Second}
	assert.Equal(t, a.Fingerprint(), b.Fingerprint())
}

func TestFingerprintDiffersOnPolicyChange(t *testing.T) {
	a := &Pathway{Name: "summarize", Template: "tpl", Model: "gpt-4o"}
	b := &Pathway{Name: "summarize", Template: "tpl", Model: "gpt-4o-mini"}
	assert.NotEqual(t, a.Fingerprint(), b.Fingerprint())
}
