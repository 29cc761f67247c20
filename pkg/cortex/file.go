package cortex

import "time"

// FileRecord is an entry in the file-collection substrate (§4.6). Content
// is addressed by Hash (xxhash of plaintext) and may be stored encrypted at
// rest under one or two layers (user key, then system key).
type FileRecord struct {
	ID           string
	Filename     string
	Hash         string
	StorageURL   string
	EncryptedOne bool // at least one encryption layer applied
	EncryptedTwo bool // both user and system layers applied
	InCollection bool
	ChatIDs      map[string]bool
	Tags         []string
	Notes        string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// VisibleTo applies the same coexistence rule as Pathway.VisibleTo (§9
// decision 2) from the file's side of the relationship.
func (f *FileRecord) VisibleTo(chatID string) bool {
	if f.InCollection {
		return true
	}
	if f.ChatIDs == nil {
		return false
	}
	return f.ChatIDs[chatID] || f.ChatIDs["*"]
}
