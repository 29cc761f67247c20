package pathway

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aj-archipelago/cortex/pkg/cortex"
)

func TestRegistryRegisterAndGet(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(&cortex.Pathway{Name: "chat"}))

	p, ok := r.Get("chat")
	require.True(t, ok)
	assert.Equal(t, "chat", p.Name)

	_, ok = r.Get("Chat")
	assert.False(t, ok, "exact Get must be case-sensitive")
}

func TestRegistryGetCaseInsensitive(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(&cortex.Pathway{Name: "Summarize"}))

	p, ok := r.GetCaseInsensitive("summarize")
	require.True(t, ok)
	assert.Equal(t, "Summarize", p.Name)
}

func TestRegistryRejectsDuplicateName(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(&cortex.Pathway{Name: "chat"}))
	err := r.Register(&cortex.Pathway{Name: "chat"})
	assert.Error(t, err)
}

func TestRegistryRejectsUnnamed(t *testing.T) {
	r := NewRegistry()
	assert.Error(t, r.Register(&cortex.Pathway{}))
	assert.Error(t, r.Register(nil))
}

func TestRegistryListPreservesRegistrationOrder(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(&cortex.Pathway{Name: "b"}))
	require.NoError(t, r.Register(&cortex.Pathway{Name: "a"}))
	require.NoError(t, r.Register(&cortex.Pathway{Name: "c"}))

	names := make([]string, 0, 3)
	for _, p := range r.List() {
		names = append(names, p.Name)
	}
	assert.Equal(t, []string{"b", "a", "c"}, names)
}

func TestResolveEmulatedModelsFirstRegisteredWins(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(&cortex.Pathway{Name: "first", EmulateOpenAIChatModel: "gpt-4"}))
	require.NoError(t, r.Register(&cortex.Pathway{Name: "second", EmulateOpenAIChatModel: "gpt-4"}))
	require.NoError(t, r.Register(&cortex.Pathway{Name: "other", EmulateOpenAIChatModel: "gpt-3.5"}))
	require.NoError(t, r.Register(&cortex.Pathway{Name: "noEmulation"}))

	claimed := r.ResolveEmulatedModels()
	require.Len(t, claimed, 2)
	assert.Equal(t, "first", claimed["gpt-4"].Name)
	assert.Equal(t, "other", claimed["gpt-3.5"].Name)
}
