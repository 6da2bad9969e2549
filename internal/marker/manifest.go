package marker

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	badger "github.com/dgraph-io/badger/v4"
)

// Status of a manifest entry.
type Status string

const (
	StatusPassed Status = "passed"
	StatusEmpty  Status = "empty"
	StatusFailed Status = "failed"
)

// Entry records the outcome of one unit/date/family combination.
type Entry struct {
	Status   Status    `json:"status"`
	Artifact string    `json:"artifact,omitempty"`
	Checksum string    `json:"checksum,omitempty"`
	Written  time.Time `json:"written"`
}

// Manifest is the batch-level record of completed work, kept in an embedded
// key-value store under the processing directory. It complements the per-unit
// marker files: markers drive skip decisions in the chains, the manifest
// drives progress reporting and cross-run bookkeeping.
type Manifest struct {
	db *badger.DB
}

// OpenManifest opens (or creates) the manifest store under processingDir.
func OpenManifest(processingDir string) (*Manifest, error) {
	opts := badger.DefaultOptions(filepath.Join(processingDir, ".manifest"))
	opts.Logger = nil

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open manifest store: %w", err)
	}
	return &Manifest{db: db}, nil
}

// Close closes the underlying store.
func (m *Manifest) Close() error {
	return m.db.Close()
}

func manifestKey(unit, date string, family Family) []byte {
	return []byte(fmt.Sprintf("%s|%s|%s", unit, date, family))
}

// Record stores the outcome for a unit/date/family combination.
func (m *Manifest) Record(unit, date string, family Family, entry Entry) error {
	if entry.Written.IsZero() {
		entry.Written = time.Now().UTC()
	}
	value, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("failed to encode manifest entry: %w", err)
	}

	err = m.db.Update(func(txn *badger.Txn) error {
		return txn.Set(manifestKey(unit, date, family), value)
	})
	if err != nil {
		return fmt.Errorf("failed to write manifest entry: %w", err)
	}
	return nil
}

// Lookup returns the entry for a unit/date/family combination, or ok=false
// when none has been recorded.
func (m *Manifest) Lookup(unit, date string, family Family) (Entry, bool, error) {
	var entry Entry
	found := false

	err := m.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(manifestKey(unit, date, family))
		if err == badger.ErrKeyNotFound {
			return nil
		}
		if err != nil {
			return err
		}
		found = true
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &entry)
		})
	})
	if err != nil {
		return Entry{}, false, fmt.Errorf("failed to read manifest entry: %w", err)
	}
	return entry, found, nil
}

// Progress summarises the manifest per status.
type Progress struct {
	Passed int `json:"passed"`
	Empty  int `json:"empty"`
	Failed int `json:"failed"`
	Total  int `json:"total"`
}

// Summary walks the manifest and counts entries per status.
func (m *Manifest) Summary() (Progress, error) {
	var p Progress

	err := m.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			var entry Entry
			err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &entry)
			})
			if err != nil {
				return err
			}
			p.Total++
			switch entry.Status {
			case StatusPassed:
				p.Passed++
			case StatusEmpty:
				p.Empty++
			case StatusFailed:
				p.Failed++
			}
		}
		return nil
	})
	if err != nil {
		return Progress{}, fmt.Errorf("failed to scan manifest: %w", err)
	}
	return p, nil
}

// Units returns the distinct unit keys present in the manifest.
func (m *Manifest) Units() ([]string, error) {
	seen := map[string]bool{}

	err := m.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			key := string(it.Item().Key())
			if unit, _, ok := strings.Cut(key, "|"); ok {
				seen[unit] = true
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to scan manifest keys: %w", err)
	}

	units := make([]string, 0, len(seen))
	for unit := range seen {
		units = append(units, unit)
	}
	return units, nil
}
