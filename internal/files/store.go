// Package files implements the file-collection substrate (§4.6): chat
// history carries file references, never raw bytes; the substrate resolves
// those references into a collection of FileRecords, encrypts content at
// rest in up to two layers, and serializes concurrent edits per fileId.
package files

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/google/uuid"

	"github.com/aj-archipelago/cortex/pkg/cortex"
)

// Handler is the file-storage collaborator: it persists and retrieves
// opaque (already layer-encrypted, where applicable) content bytes under a
// storage URL it assigns.
type Handler interface {
	Upload(ctx context.Context, content []byte, filename string) (storageURL string, err error)
	Download(ctx context.Context, storageURL string) ([]byte, error)
	Delete(ctx context.Context, storageURL string) error
}

// LoadFilter narrows Load to records visible to one of ChatIDs, applying
// the §9 decision 2 coexistence rule (inCollection==true short-circuits,
// otherwise chatId/"*" membership). A nil or empty filter returns every
// record.
type LoadFilter struct {
	ChatIDs []string
}

// LineRangeEdit replaces lines [StartLine, EndLine] (1-indexed, inclusive)
// with Content.
type LineRangeEdit struct {
	StartLine int
	EndLine   int
	Content   string
}

// SearchReplaceEdit replaces occurrences of OldString with NewString.
type SearchReplaceEdit struct {
	OldString  string
	NewString  string
	ReplaceAll bool
}

// EditOp is exactly one of LineRange or SearchReplace (§4.6 editFile).
type EditOp struct {
	LineRange     *LineRangeEdit
	SearchReplace *SearchReplaceEdit
}

// Store is the in-memory FileRecord index backed by a Handler collaborator,
// with two-layer encryption and a per-fileId serialized edit queue.
type Store struct {
	mu        sync.RWMutex
	records   map[string]*cortex.FileRecord
	handler   Handler
	systemKey []byte
	queue     *EditQueue
}

// NewStore creates a Store backed by handler, encrypting every write with
// systemKey at minimum.
func NewStore(handler Handler, systemKey []byte) *Store {
	return &Store{
		records:   make(map[string]*cortex.FileRecord),
		handler:   handler,
		systemKey: systemKey,
		queue:     NewEditQueue(),
	}
}

// Load returns the merged file list, filtered per LoadFilter.
func (s *Store) Load(filter *LoadFilter) []*cortex.FileRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*cortex.FileRecord
	for _, rec := range s.records {
		if filter == nil || len(filter.ChatIDs) == 0 {
			out = append(out, rec)
			continue
		}
		for _, id := range filter.ChatIDs {
			if rec.VisibleTo(id) {
				out = append(out, rec)
				break
			}
		}
	}
	return out
}

// Content fetches and decrypts a record's payload using userKey (the
// context's contextKey) and the store's systemKey.
func (s *Store) Content(ctx context.Context, rec *cortex.FileRecord, userKey []byte) ([]byte, error) {
	raw, err := s.handler.Download(ctx, rec.StorageURL)
	if err != nil {
		return nil, fmt.Errorf("files: download %s: %w", rec.ID, err)
	}
	if !rec.EncryptedOne {
		return raw, nil
	}
	return DecryptTwoLayer(string(raw), userKey, s.systemKey)
}

// SyncAndStrip walks history, resolving each file content part into the
// collection (upserting chatId membership) and replacing it with the
// textual placeholder the model actually receives. Returns the rewritten
// history and the set of resolved records, for downstream tool calls
// (§4.6).
func (s *Store) SyncAndStrip(history []cortex.ChatMessage, chatID string) ([]cortex.ChatMessage, []*cortex.FileRecord) {
	var resolved []*cortex.FileRecord
	rewritten := make([]cortex.ChatMessage, len(history))

	for i, msg := range history {
		if len(msg.Content.Parts) == 0 {
			rewritten[i] = msg
			continue
		}

		newParts := make([]cortex.ContentPart, len(msg.Content.Parts))
		for j, part := range msg.Content.Parts {
			if part.Type != cortex.ContentFile || part.File == nil {
				newParts[j] = part
				continue
			}
			rec := s.upsertFilePart(part.File, chatID)
			resolved = append(resolved, rec)
			newParts[j] = cortex.Text(fmt.Sprintf("[file: %s, hash: %s] available via file tools", rec.Filename, rec.Hash))
		}
		msg.Content.Parts = newParts
		rewritten[i] = msg
	}
	return rewritten, resolved
}

func (s *Store) upsertFilePart(part *cortex.FilePart, chatID string) *cortex.FileRecord {
	key := filePartKey(part)

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, rec := range s.records {
		if rec.Hash == key {
			rec.ChatIDs[chatID] = true
			rec.UpdatedAt = time.Now()
			return rec
		}
	}

	now := time.Now()
	rec := &cortex.FileRecord{
		ID:         uuid.NewString(),
		Filename:   part.Filename,
		Hash:       key,
		StorageURL: part.URL,
		ChatIDs:    map[string]bool{chatID: true},
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	s.records[rec.ID] = rec
	return rec
}

func filePartKey(part *cortex.FilePart) string {
	switch {
	case part.Hash != "":
		return part.Hash
	case part.GCS != "":
		return "gcs:" + part.GCS
	default:
		return "url:" + part.URL
	}
}

// WriteFile computes a content hash, encrypts content, uploads it through
// the Handler collaborator, and on success inserts a new record (§4.6).
func (s *Store) WriteFile(ctx context.Context, content []byte, filename string, userKey []byte, tags []string, notes string) (*cortex.FileRecord, error) {
	payload, twoLayer, err := EncryptTwoLayer(content, userKey, s.systemKey)
	if err != nil {
		return nil, fmt.Errorf("files: encrypt %s: %w", filename, err)
	}

	storageURL, err := s.handler.Upload(ctx, []byte(payload), filename)
	if err != nil {
		return nil, fmt.Errorf("files: upload %s: %w", filename, err)
	}

	now := time.Now()
	rec := &cortex.FileRecord{
		ID:           uuid.NewString(),
		Filename:     filename,
		Hash:         contentHash(content),
		StorageURL:   storageURL,
		EncryptedOne: true,
		EncryptedTwo: twoLayer,
		ChatIDs:      make(map[string]bool),
		Tags:         tags,
		Notes:        notes,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	s.mu.Lock()
	s.records[rec.ID] = rec
	s.mu.Unlock()
	return rec, nil
}

// EditFile applies op to fileId through the per-fileId serialized queue,
// implementing upload-new-then-delete-old: on upload failure the existing
// record is left untouched and remains reachable at the same fileId (§4.6).
func (s *Store) EditFile(ctx context.Context, fileID string, op EditOp, userKey []byte) (*cortex.FileRecord, error) {
	result, err := s.queue.Submit(ctx, fileID, func(ctx context.Context) (any, error) {
		return s.applyEdit(ctx, fileID, op, userKey)
	})
	if err != nil {
		return nil, err
	}
	return result.(*cortex.FileRecord), nil
}

func (s *Store) applyEdit(ctx context.Context, fileID string, op EditOp, userKey []byte) (*cortex.FileRecord, error) {
	s.mu.RLock()
	rec, ok := s.records[fileID]
	s.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("files: unknown file id %q", fileID)
	}

	content, err := s.Content(ctx, rec, userKey)
	if err != nil {
		return nil, err
	}

	newContent, err := applyEditOp(string(content), op)
	if err != nil {
		return nil, fmt.Errorf("files: edit %s: %w", fileID, err)
	}

	payload, twoLayer, err := EncryptTwoLayer([]byte(newContent), userKey, s.systemKey)
	if err != nil {
		return nil, fmt.Errorf("files: encrypt %s: %w", fileID, err)
	}

	newURL, err := s.handler.Upload(ctx, []byte(payload), rec.Filename)
	if err != nil {
		// Upload-new-then-delete-old: the old blob and record are untouched.
		return nil, fmt.Errorf("files: upload replacement for %s: %w", fileID, err)
	}
	oldURL := rec.StorageURL

	s.mu.Lock()
	rec.StorageURL = newURL
	rec.Hash = contentHash([]byte(newContent))
	rec.EncryptedOne = true
	rec.EncryptedTwo = twoLayer
	rec.UpdatedAt = time.Now()
	s.mu.Unlock()

	if err := s.handler.Delete(ctx, oldURL); err != nil {
		// The new content is already live under fileId; a dangling old blob
		// is a cleanup concern, not a correctness one.
		return rec, fmt.Errorf("files: delete previous blob for %s: %w", fileID, err)
	}
	return rec, nil
}

func applyEditOp(content string, op EditOp) (string, error) {
	switch {
	case op.LineRange != nil:
		return applyLineRangeEdit(content, op.LineRange)
	case op.SearchReplace != nil:
		return applySearchReplaceEdit(content, op.SearchReplace)
	default:
		return "", fmt.Errorf("edit op carries neither lineRange nor searchReplace")
	}
}

func applyLineRangeEdit(content string, e *LineRangeEdit) (string, error) {
	lines := strings.Split(content, "\n")
	if e.StartLine < 1 || e.EndLine < e.StartLine || e.EndLine > len(lines) {
		return "", fmt.Errorf("line range [%d,%d] out of bounds for %d lines", e.StartLine, e.EndLine, len(lines))
	}

	out := make([]string, 0, len(lines))
	out = append(out, lines[:e.StartLine-1]...)
	out = append(out, strings.Split(e.Content, "\n")...)
	out = append(out, lines[e.EndLine:]...)
	return strings.Join(out, "\n"), nil
}

func applySearchReplaceEdit(content string, e *SearchReplaceEdit) (string, error) {
	if !strings.Contains(content, e.OldString) {
		return "", fmt.Errorf("oldString not found")
	}
	if e.ReplaceAll {
		return strings.ReplaceAll(content, e.OldString, e.NewString), nil
	}
	return strings.Replace(content, e.OldString, e.NewString, 1), nil
}

func contentHash(content []byte) string {
	return strconv.FormatUint(xxhash.Sum64(content), 16)
}
