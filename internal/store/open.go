package store

import (
	"path/filepath"
	"strings"

	"ontogen/internal/ontology"
)

// IsSQLitePath reports whether path selects the SQLite backend.
func IsSQLitePath(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".db", ".sqlite", ".sqlite3":
		return true
	}
	return false
}

// Open returns the snapshot store for path: SQLite for .db/.sqlite files,
// a JSON document otherwise. The returned close function is never nil.
func Open(path string) (ontology.Store, func() error, error) {
	if IsSQLitePath(path) {
		s, err := NewSnapshotStore(path)
		if err != nil {
			return nil, nil, err
		}
		return s, s.Close, nil
	}
	return ontology.NewFileStore(path), func() error { return nil }, nil
}
