package catalog

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/starford/mrtrack/internal/metrics"
	"github.com/starford/mrtrack/internal/models"
	"github.com/starford/mrtrack/internal/scanid"
	"github.com/starford/mrtrack/internal/storage"
	"github.com/starford/mrtrack/internal/studyconfig"
)

// Reject kinds that are not identifier error kinds.
const (
	RejectUnknownStudy = "unknown_study"
	RejectUnknownSite  = "unknown_site"
	RejectInvalidName  = "invalid_name"
)

// Event kinds passed to EventCallback.
const (
	EventCreated  = "created"
	EventUpdated  = "updated"
	EventDeleted  = "deleted"
	EventRejected = "rejected"
)

// EventCallback is called after a catalog change.
type EventCallback func(kind string, path string)

// Studies resolves the study that owns an identifier and its Internal form.
// *studyconfig.Registry implements it.
type Studies interface {
	ForIdentifier(id scanid.Identifier) (*studyconfig.Study, error)
	Canonical(id scanid.Identifier) (scanid.Identifier, error)
}

// Indexer keeps the catalog in step with the incoming root.
type Indexer struct {
	db      *DB
	store   storage.Provider
	studies Studies
	metrics *metrics.Metrics
	logger  *slog.Logger
}

// NewIndexer wires an indexer. m may be nil.
func NewIndexer(db *DB, store storage.Provider, studies Studies, m *metrics.Metrics, logger *slog.Logger) *Indexer {
	return &Indexer{db: db, store: store, studies: studies, metrics: m, logger: logger}
}

// SyncStats summarizes one Sync run.
type SyncStats struct {
	IngestID  string `json:"ingest_id"`
	Indexed   int    `json:"indexed"`
	Unchanged int    `json:"unchanged"`
	Rejected  int    `json:"rejected"`
	Removed   int    `json:"removed"`
}

// Sync walks the incoming root and brings the catalog up to date:
//   - new/changed files are parsed and upserted or rejected
//   - files removed from disk are deleted from the catalog
func (ix *Indexer) Sync(ctx context.Context) (SyncStats, error) {
	start := time.Now()
	stats := SyncStats{IngestID: uuid.NewString()}

	metas, err := ix.store.List("")
	if err != nil {
		return stats, fmt.Errorf("catalog: sync: %w", err)
	}
	checksums, err := ix.db.AllChecksums()
	if err != nil {
		return stats, fmt.Errorf("catalog: sync: %w", err)
	}

	disk := make(map[string]struct{}, len(metas))
	for _, m := range metas {
		if err := ctx.Err(); err != nil {
			return stats, err
		}
		disk[m.Path] = struct{}{}

		prev, known := checksums[m.Path]
		if known && prev == m.Checksum {
			stats.Unchanged++
			continue
		}
		kind, err := ix.apply(m, stats.IngestID, known)
		if err != nil {
			ix.logger.Warn("catalog: index failed", slog.String("path", m.Path), slog.String("error", err.Error()))
			continue
		}
		if kind == EventRejected {
			stats.Rejected++
		} else {
			stats.Indexed++
		}
	}

	// Remove stale entries.
	for p := range checksums {
		if _, ok := disk[p]; ok {
			continue
		}
		if err := ix.db.DeleteScan(p); err != nil {
			ix.logger.Warn("catalog: delete failed", slog.String("path", p), slog.String("error", err.Error()))
			continue
		}
		stats.Removed++
		ix.logger.Debug("catalog: removed stale", slog.String("path", p))
	}

	ix.metrics.ObserveSync(time.Since(start))
	ix.logger.Info("catalog: synced",
		slog.String("ingest_id", stats.IngestID),
		slog.Int("indexed", stats.Indexed),
		slog.Int("unchanged", stats.Unchanged),
		slog.Int("rejected", stats.Rejected),
		slog.Int("removed", stats.Removed))
	return stats, nil
}

// IndexFile catalogues one file under the incoming root and returns the
// event kind, or "" when the file is unchanged.
func (ix *Indexer) IndexFile(path string) (string, error) {
	meta, err := ix.store.Stat(path)
	if err != nil {
		return "", fmt.Errorf("catalog: index %s: %w", path, err)
	}
	prev, err := ix.db.GetChecksum(meta.Path)
	if err != nil {
		return "", err
	}
	if prev != "" && prev == meta.Checksum {
		return "", nil
	}
	return ix.apply(meta, uuid.NewString(), prev != "")
}

// Remove deletes path from the catalog.
func (ix *Indexer) Remove(path string) error {
	return ix.db.DeleteScan(path)
}

func (ix *Indexer) apply(meta models.ScanFile, ingestID string, known bool) (string, error) {
	scan, rej := ix.Classify(meta, ingestID)
	if rej != nil {
		if err := ix.db.RecordReject(*rej); err != nil {
			return "", err
		}
		ix.metrics.IncrementRejected(rej.Kind)
		ix.logger.Debug("catalog: rejected", slog.String("path", rej.Path), slog.String("kind", rej.Kind))
		return EventRejected, nil
	}
	if err := ix.db.UpsertScan(*scan); err != nil {
		return "", err
	}
	ix.metrics.IncrementIndexed()
	ix.logger.Debug("catalog: indexed", slog.String("path", scan.Path), slog.String("label", scan.Label))
	if known {
		return EventUpdated, nil
	}
	return EventCreated, nil
}

// Classify parses a file's name and resolves its study. Exactly one of the
// results is non-nil. Files whose subject has no mapping are still
// catalogued, without an Internal label.
func (ix *Indexer) Classify(meta models.ScanFile, ingestID string) (*models.Scan, *models.Reject) {
	reject := func(kind string, field scanid.Field, err error) (*models.Scan, *models.Reject) {
		return nil, &models.Reject{
			Path:      meta.Path,
			Kind:      kind,
			Field:     string(field),
			Message:   err.Error(),
			IngestID:  ingestID,
			UpdatedAt: meta.UpdatedAt,
		}
	}

	id, err := scanid.ParseFilename(meta.Path)
	ix.metrics.ObserveParse(id, err)
	if err != nil {
		kind := scanid.KindOf(err)
		if kind == "" {
			kind = RejectInvalidName
		}
		return reject(kind, scanid.FieldOf(err), err)
	}
	if id.Convention() != scanid.Interchange {
		if _, err := ix.studies.ForIdentifier(id); err != nil {
			return reject(RejectUnknownStudy, scanid.FieldStudy, err)
		}
	}

	scan := scanFromIdentifier(id, meta, ingestID)
	canonical, err := ix.studies.Canonical(id)
	if err != nil {
		ix.metrics.ObserveError(err)
		ix.logger.Debug("catalog: no internal form", slog.String("path", meta.Path), slog.String("error", err.Error()))
		return &scan, nil
	}
	st, err := ix.studies.ForIdentifier(canonical)
	if err != nil {
		return reject(RejectUnknownStudy, scanid.FieldStudy, err)
	}
	if site, ok := canonical.Site(); ok && !st.HasSite(site) {
		return reject(RejectUnknownSite, scanid.FieldSite, fmt.Errorf("site %s is not part of study %s", site, st.Code))
	}
	scan.InternalLabel, _ = canonical.Label()
	scan.ArchiveSubject, _ = canonical.ArchiveSubjectKey()
	scan.ArchiveExperiment, _ = canonical.ArchiveExperimentKey()
	return &scan, nil
}

func scanFromIdentifier(id scanid.Identifier, meta models.ScanFile, ingestID string) models.Scan {
	ptr := func(n int, ok bool) *int {
		if !ok {
			return nil
		}
		return &n
	}
	s := models.Scan{
		Path:       meta.Path,
		Convention: id.Convention().String(),
		Phantom:    id.IsPhantom(),
		Checksum:   meta.Checksum,
		Size:       meta.Size,
		IngestID:   ingestID,
		UpdatedAt:  meta.UpdatedAt,
	}
	s.Study, _ = id.Study()
	s.Site, _ = id.Site()
	s.Subject, _ = id.Subject()
	s.PhantomKind, _ = id.PhantomKind()
	s.PhantomIndex = ptr(id.PhantomIndex())
	s.Timepoint, _ = id.Timepoint()
	s.Session = ptr(id.Session())
	s.Tag, _ = id.Tag()
	s.Description, _ = id.Description()
	s.Series = ptr(id.Series())
	s.Extension, _ = id.Extension()
	s.Label, _ = id.Label()
	return s
}
