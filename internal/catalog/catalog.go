package catalog

import "github.com/starford/mrtrack/internal/models"

// ScanCatalog defines the interface for catalog operations.
// Consumers should depend on this interface rather than the concrete *DB type.
type ScanCatalog interface {
	UpsertScan(s models.Scan) error
	DeleteScan(path string) error
	GetScan(path string) (*models.Scan, error)
	GetChecksum(path string) (string, error)
	ListScans(f Filter) ([]models.Scan, int, error)
	Sessions(study, subject string) ([]models.Session, error)
	RecordReject(r models.Reject) error
	Rejects(limit, offset int) ([]models.Reject, int, error)
	Search(query string, limit int) ([]models.Scan, error)
	AllChecksums() (map[string]string, error)
	Ping() error
	Close() error
}

// Verify *DB satisfies ScanCatalog at compile time.
var _ ScanCatalog = (*DB)(nil)

// Filter narrows ListScans. Study and Subject match a scan's own codes or
// its Internal equivalents, so Site-Issued files of a mapped subject are
// found by Internal codes.
type Filter struct {
	Study      string
	Site       string
	Subject    string
	Convention string
	Phantom    *bool
	Limit      int
	Offset     int
}
