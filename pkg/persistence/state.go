package persistence

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fxamacker/cbor/v2"
)

// SnapshotVersion is the current version of the snapshot file format.
const SnapshotVersion = 1

// ErrVersion indicates a snapshot written by an incompatible version.
var ErrVersion = errors.New("unsupported snapshot version")

// CacheSnapshot is the persisted form of a client cache.
type CacheSnapshot struct {
	// Version is the snapshot file format version.
	Version int `cbor:"1,keyasint"`

	// SavedAt is when the snapshot was last saved.
	SavedAt time.Time `cbor:"2,keyasint"`

	// Entries are the cached observable values.
	Entries []CacheEntry `cbor:"3,keyasint,omitempty"`
}

// CacheEntry is one cached observable value.
type CacheEntry struct {
	ObsID    uint32 `cbor:"1,keyasint"`
	Checksum uint64 `cbor:"2,keyasint"`
	Value    []byte `cbor:"3,keyasint,omitempty"`
}

// CacheStore loads and saves cache snapshots.
type CacheStore interface {
	// Save persists snap.
	Save(snap *CacheSnapshot) error

	// Load returns the stored snapshot, or nil, nil if there is none.
	Load() (*CacheSnapshot, error)
}

var (
	encMode cbor.EncMode
	decMode cbor.DecMode
)

func init() {
	var err error
	encMode, err = cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic(fmt.Sprintf("failed to create snapshot CBOR encoder mode: %v", err))
	}
	decMode, err = cbor.DecOptions{}.DecMode()
	if err != nil {
		panic(fmt.Sprintf("failed to create snapshot CBOR decoder mode: %v", err))
	}
}

// FileCacheStore keeps a snapshot in a single CBOR file.
type FileCacheStore struct {
	mu   sync.Mutex
	path string
}

// NewFileCacheStore creates a store writing to path.
func NewFileCacheStore(path string) *FileCacheStore {
	return &FileCacheStore{path: path}
}

// Save writes the snapshot. The file is replaced atomically so a crash
// never leaves a partial snapshot behind.
func (s *FileCacheStore) Save(snap *CacheSnapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}

	snap.Version = SnapshotVersion
	if snap.SavedAt.IsZero() {
		snap.SavedAt = time.Now()
	}

	data, err := encMode.Marshal(snap)
	if err != nil {
		return fmt.Errorf("encode snapshot: %w", err)
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(s.path)+".*.tmp")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), s.path)
}

// Load reads the snapshot.
// Returns nil, nil if the file doesn't exist (empty cache).
func (s *FileCacheStore) Load() (*CacheSnapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	snap := &CacheSnapshot{}
	if err := decMode.Unmarshal(data, snap); err != nil {
		return nil, fmt.Errorf("decode snapshot: %w", err)
	}
	if snap.Version != SnapshotVersion {
		return nil, fmt.Errorf("%w: %d", ErrVersion, snap.Version)
	}
	return snap, nil
}

// Clear removes the snapshot file.
func (s *FileCacheStore) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	err := os.Remove(s.path)
	if os.IsNotExist(err) {
		return nil
	}
	return err
}

// Compile-time interface satisfaction check.
var _ CacheStore = (*FileCacheStore)(nil)
