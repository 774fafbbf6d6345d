// Package storage defines the incoming scan directory abstraction.
package storage

import "github.com/starford/mrtrack/internal/models"

// Provider exposes the incoming root to the indexer and the relabel
// workflow. Paths are slash separated and relative to the root.
type Provider interface {
	// List returns metadata for every visible scan file under dir.
	List(dir string) ([]models.ScanFile, error)
	// Stat returns metadata for a single file, checksum included.
	Stat(path string) (models.ScanFile, error)
	// Move renames from to to. An existing target is never replaced.
	Move(from, to string) error
	Root() string
}
