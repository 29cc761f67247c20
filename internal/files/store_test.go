package files

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aj-archipelago/cortex/pkg/cortex"
)

type fakeHandler struct {
	mu      sync.Mutex
	blobs   map[string][]byte
	failNew bool
}

func newFakeHandler() *fakeHandler {
	return &fakeHandler{blobs: make(map[string][]byte)}
}

func (h *fakeHandler) Upload(_ context.Context, content []byte, filename string) (string, error) {
	if h.failNew {
		return "", fmt.Errorf("upload rejected")
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	url := "blob://" + filename + "/" + uuid.NewString()
	h.blobs[url] = append([]byte(nil), content...)
	return url, nil
}

func (h *fakeHandler) Download(_ context.Context, storageURL string) ([]byte, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	b, ok := h.blobs[storageURL]
	if !ok {
		return nil, fmt.Errorf("no such blob %s", storageURL)
	}
	return append([]byte(nil), b...), nil
}

func (h *fakeHandler) Delete(_ context.Context, storageURL string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.blobs, storageURL)
	return nil
}

var systemKey = []byte("system-secret-key-for-tests")

func TestWriteFileAndLoad(t *testing.T) {
	store := NewStore(newFakeHandler(), systemKey)

	rec, err := store.WriteFile(context.Background(), []byte("hello world"), "greeting.txt", nil, []string{"demo"}, "a note")
	require.NoError(t, err)
	assert.True(t, rec.EncryptedOne)
	assert.False(t, rec.EncryptedTwo)

	content, err := store.Content(context.Background(), rec, nil)
	require.NoError(t, err)
	assert.Equal(t, "hello world", string(content))

	all := store.Load(nil)
	assert.Len(t, all, 1)
}

func TestWriteFileTwoLayerWithUserKey(t *testing.T) {
	store := NewStore(newFakeHandler(), systemKey)
	userKey := []byte("user-secret")

	rec, err := store.WriteFile(context.Background(), []byte("secret payload"), "f.txt", userKey, nil, "")
	require.NoError(t, err)
	assert.True(t, rec.EncryptedTwo)

	content, err := store.Content(context.Background(), rec, userKey)
	require.NoError(t, err)
	assert.Equal(t, "secret payload", string(content))

	// Wrong user key should not decrypt to the original plaintext.
	content2, err := store.Content(context.Background(), rec, []byte("wrong-key"))
	require.NoError(t, err)
	assert.NotEqual(t, "secret payload", string(content2))
}

func TestLoadFilterCoexistence(t *testing.T) {
	store := NewStore(newFakeHandler(), systemKey)
	store.records["global"] = &cortex.FileRecord{ID: "global", InCollection: true}
	store.records["scoped"] = &cortex.FileRecord{ID: "scoped", ChatIDs: map[string]bool{"chat-1": true}}
	store.records["other"] = &cortex.FileRecord{ID: "other", ChatIDs: map[string]bool{"chat-2": true}}

	got := store.Load(&LoadFilter{ChatIDs: []string{"chat-1"}})
	assert.Len(t, got, 2)
}

func TestSyncAndStripReplacesFilePart(t *testing.T) {
	store := NewStore(newFakeHandler(), systemKey)
	history := []cortex.ChatMessage{
		{
			Role: cortex.RoleUser,
			Content: cortex.PartsContent([]cortex.ContentPart{
				cortex.Text("see attached"),
				{Type: cortex.ContentFile, File: &cortex.FilePart{URL: "https://example.com/a.pdf", Filename: "a.pdf", Hash: "abc123"}},
			}),
		},
	}

	rewritten, resolved := store.SyncAndStrip(history, "chat-1")
	require.Len(t, resolved, 1)
	assert.Equal(t, "abc123", resolved[0].Hash)
	assert.True(t, resolved[0].ChatIDs["chat-1"])

	placeholder := rewritten[0].Content.Parts[1]
	assert.Equal(t, cortex.ContentText, placeholder.Type)
	assert.Contains(t, placeholder.Text, "a.pdf")
	assert.Contains(t, placeholder.Text, "abc123")
}

func TestEditFileSearchReplace(t *testing.T) {
	store := NewStore(newFakeHandler(), systemKey)
	rec, err := store.WriteFile(context.Background(), []byte("line one\nline two\nline three"), "doc.txt", nil, nil, "")
	require.NoError(t, err)

	updated, err := store.EditFile(context.Background(), rec.ID, EditOp{
		SearchReplace: &SearchReplaceEdit{OldString: "two", NewString: "TWO"},
	}, nil)
	require.NoError(t, err)

	content, err := store.Content(context.Background(), updated, nil)
	require.NoError(t, err)
	assert.Equal(t, "line one\nline TWO\nline three", string(content))
}

func TestEditFileLineRange(t *testing.T) {
	store := NewStore(newFakeHandler(), systemKey)
	rec, err := store.WriteFile(context.Background(), []byte("a\nb\nc\nd"), "doc.txt", nil, nil, "")
	require.NoError(t, err)

	updated, err := store.EditFile(context.Background(), rec.ID, EditOp{
		LineRange: &LineRangeEdit{StartLine: 2, EndLine: 3, Content: "B\nC"},
	}, nil)
	require.NoError(t, err)

	content, err := store.Content(context.Background(), updated, nil)
	require.NoError(t, err)
	assert.Equal(t, "a\nB\nC\nd", string(content))
}

func TestEditFileUploadFailureKeepsOldRecordReachable(t *testing.T) {
	handler := newFakeHandler()
	store := NewStore(handler, systemKey)
	rec, err := store.WriteFile(context.Background(), []byte("original"), "doc.txt", nil, nil, "")
	require.NoError(t, err)
	oldURL := rec.StorageURL

	handler.failNew = true
	_, err = store.EditFile(context.Background(), rec.ID, EditOp{
		SearchReplace: &SearchReplaceEdit{OldString: "original", NewString: "changed"},
	}, nil)
	assert.Error(t, err)

	// The record in the store must still point at the old, untouched blob.
	store.mu.RLock()
	current := store.records[rec.ID]
	store.mu.RUnlock()
	assert.Equal(t, oldURL, current.StorageURL)

	content, err := store.Content(context.Background(), current, nil)
	require.NoError(t, err)
	assert.Equal(t, "original", string(content))
}

func TestEditQueueSerializesConcurrentEdits(t *testing.T) {
	store := NewStore(newFakeHandler(), systemKey)
	rec, err := store.WriteFile(context.Background(), []byte("0"), "counter.txt", nil, nil, "")
	require.NoError(t, err)

	const n = 20
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = store.EditFile(context.Background(), rec.ID, EditOp{
				SearchReplace: &SearchReplaceEdit{OldString: "0", NewString: "0x", ReplaceAll: true},
			}, nil)
		}()
	}
	wg.Wait()

	store.mu.RLock()
	final := store.records[rec.ID]
	store.mu.RUnlock()
	content, err := store.Content(context.Background(), final, nil)
	require.NoError(t, err)
	assert.Equal(t, n, len(content)-1) // each serialized edit appends exactly one "x"
}
