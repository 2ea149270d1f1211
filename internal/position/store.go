package position

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"math"
	"os"
	"path/filepath"
	"sync"
)

const (
	stateFileName = "reading_positions.json"
	hashBytes     = 8192 // first 8KB for content hash

	// saveEpsilon debounces persistence: a relocation with the same
	// locator and a progress delta below this is a no-op write.
	saveEpsilon = 0.001
)

// Record is everything persisted per document: the resumable Position and
// the separate TTS playback cursor.
type Record struct {
	Position     Position `json:"position"`
	TTSParagraph int      `json:"tts_paragraph,omitempty"`
}

// Store manages persistent reading state, keyed by document content hash.
type Store struct {
	path string
	data map[string]Record
	mu   sync.RWMutex
}

// NewStore creates or loads state from XDG_STATE_HOME/reflow.
func NewStore() (*Store, error) {
	dir := getStateDir()
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, err
	}

	store := &Store{
		path: filepath.Join(dir, stateFileName),
		data: make(map[string]Record),
	}
	if err := store.load(); err != nil {
		// Non-fatal - start with empty state
		store.data = make(map[string]Record)
	}
	return store, nil
}

// getStateDir returns XDG_STATE_HOME/reflow or ~/.local/state/reflow.
func getStateDir() string {
	if dir := os.Getenv("XDG_STATE_HOME"); dir != "" {
		return filepath.Join(dir, "reflow")
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".local", "state", "reflow")
}

// ComputeHash generates a content hash for document identity. Locators
// are renderer-specific, so identity must come from the bytes themselves.
func ComputeHash(filename string) (string, error) {
	f, err := os.Open(filename)
	if err != nil {
		return "", err
	}
	defer f.Close()

	buf := make([]byte, hashBytes)
	n, err := io.ReadFull(f, buf)
	if err != nil && err != io.ErrUnexpectedEOF && err != io.EOF {
		return "", err
	}

	hash := sha256.Sum256(buf[:n])
	return hex.EncodeToString(hash[:16]), nil
}

// Get returns the saved record for a document.
func (s *Store) Get(hash string) (Record, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.data[hash]
	return rec, ok
}

// SavePosition persists a Position unless it is a no-op relative to the
// last saved one (same locator, progress delta below epsilon).
func (s *Store) SavePosition(hash string, pos Position) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if rec, ok := s.data[hash]; ok {
		last := rec.Position
		if last.Locator == pos.Locator && math.Abs(last.Progress-pos.Progress) < saveEpsilon {
			return nil
		}
	}
	return s.putLocked(hash, pos)
}

// FlushPosition persists unconditionally; used on visibility-hide and
// session close where losing the latest state is worse than a redundant
// write.
func (s *Store) FlushPosition(hash string, pos Position) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.putLocked(hash, pos)
}

func (s *Store) putLocked(hash string, pos Position) error {
	rec := s.data[hash]
	rec.Position = pos
	s.data[hash] = rec
	return s.save()
}

// SaveTTSCursor persists the playback paragraph index, independent of the
// reading Position.
func (s *Store) SaveTTSCursor(hash string, paragraph int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec := s.data[hash]
	rec.TTSParagraph = paragraph
	s.data[hash] = rec
	return s.save()
}

// Clear removes saved state for a document.
func (s *Store) Clear(hash string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.data, hash)
	return s.save()
}

func (s *Store) load() error {
	data, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return err
	}
	return json.Unmarshal(data, &s.data)
}

func (s *Store) save() error {
	data, err := json.MarshalIndent(s.data, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(s.path, data, 0644)
}
