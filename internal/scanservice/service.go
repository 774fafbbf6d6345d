// Package scanservice coordinates identifier parsing, the study registry,
// the scan catalog and the incoming directory.
package scanservice

import (
	"context"
	"fmt"
	"path"
	"slices"

	"github.com/starford/mrtrack/internal/catalog"
	"github.com/starford/mrtrack/internal/metrics"
	"github.com/starford/mrtrack/internal/models"
	"github.com/starford/mrtrack/internal/scanid"
	"github.com/starford/mrtrack/internal/storage"
	"github.com/starford/mrtrack/internal/studyconfig"
)

// Service is shared by the HTTP API, the MCP server and the CLI.
type Service struct {
	store   storage.Provider
	db      catalog.ScanCatalog
	indexer *catalog.Indexer
	studies *studyconfig.Registry
	metrics *metrics.Metrics
	notify  catalog.EventCallback
}

// Option configures a Service.
type Option func(*Service)

// WithMetrics records parse outcomes.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

// WithNotifier is called after the service itself changes the catalog.
func WithNotifier(cb catalog.EventCallback) Option {
	return func(s *Service) { s.notify = cb }
}

// NewService creates a new scan service.
func NewService(store storage.Provider, db catalog.ScanCatalog, ix *catalog.Indexer, studies *studyconfig.Registry, opts ...Option) *Service {
	s := &Service{store: store, db: db, indexer: ix, studies: studies}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Studies returns the loaded study registry.
func (s *Service) Studies() *studyconfig.Registry { return s.studies }

// ParseLabel parses a bare label. A zero convention tries all of them in
// precedence order.
func (s *Service) ParseLabel(_ context.Context, raw string, conv scanid.Convention, kind scanid.EntityKind) (scanid.Identifier, error) {
	id, err := scanid.Parse(raw, scanid.WithConvention(conv), scanid.WithKind(kind))
	s.metrics.ObserveParse(id, err)
	return id, err
}

// ParseFile parses a full scan file name.
func (s *Service) ParseFile(_ context.Context, name string, conv scanid.Convention) (scanid.Identifier, error) {
	id, err := scanid.ParseFilename(name, scanid.WithConvention(conv))
	s.metrics.ObserveParse(id, err)
	return id, err
}

// Translate converts id using the mapping of the study that owns it.
func (s *Service) Translate(_ context.Context, id scanid.Identifier, to scanid.Convention) (scanid.Identifier, error) {
	out, err := s.studies.Translate(id, to)
	if err != nil {
		s.metrics.ObserveError(err)
	}
	return out, err
}

// MatchOptions controls Match.
type MatchOptions struct {
	Ignore []scanid.Field
	// Canonical maps both identifiers to Internal before comparing, so
	// labels of different conventions can match.
	Canonical bool
}

// MatchResult reports the compared identifiers and the outcome.
type MatchResult struct {
	A     scanid.Identifier `json:"a"`
	B     scanid.Identifier `json:"b"`
	Match bool              `json:"match"`
}

// Match parses two labels and compares them.
func (s *Service) Match(ctx context.Context, a, b string, opts MatchOptions) (MatchResult, error) {
	var ids [2]scanid.Identifier
	for i, raw := range []string{a, b} {
		id, err := s.ParseLabel(ctx, raw, 0, scanid.KindAny)
		if err != nil {
			return MatchResult{}, err
		}
		if opts.Canonical && id.Convention() != scanid.Internal {
			if id, err = s.Translate(ctx, id, scanid.Internal); err != nil {
				return MatchResult{}, err
			}
		}
		ids[i] = id
	}
	return MatchResult{A: ids[0], B: ids[1], Match: scanid.Match(ids[0], ids[1], opts.Ignore...)}, nil
}

// ListScans returns one page of catalogued scans.
func (s *Service) ListScans(_ context.Context, f catalog.Filter) ([]models.Scan, int, error) {
	return s.db.ListScans(f)
}

// GetScan returns one catalogued scan.
func (s *Service) GetScan(_ context.Context, p string) (*models.Scan, error) {
	return s.db.GetScan(p)
}

// Sessions returns a subject's visits. The subject is addressed by its
// Internal codes.
func (s *Service) Sessions(_ context.Context, study, subject string) ([]models.Session, error) {
	if _, err := s.studies.Study(study); err != nil {
		return nil, err
	}
	return s.db.Sessions(study, subject)
}

// Rejects returns files the catalog could not take.
func (s *Service) Rejects(_ context.Context, limit, offset int) ([]models.Reject, int, error) {
	return s.db.Rejects(limit, offset)
}

// Search delegates substring search to the catalog.
func (s *Service) Search(_ context.Context, query string, limit int) ([]models.Scan, error) {
	return s.db.Search(query, limit)
}

// Sync brings the catalog up to date with the incoming root.
func (s *Service) Sync(ctx context.Context) (catalog.SyncStats, error) {
	return s.indexer.Sync(ctx)
}

// IndexFile catalogues one file and returns the event kind.
func (s *Service) IndexFile(_ context.Context, p string) (string, error) {
	kind, err := s.indexer.IndexFile(p)
	if err == nil {
		s.emit(kind, p)
	}
	return kind, err
}

// RelabelResult describes one rename.
type RelabelResult struct {
	From    string `json:"from"`
	To      string `json:"to"`
	Changed bool   `json:"changed"`
	DryRun  bool   `json:"dry_run"`
}

// Relabel renames a file under the incoming root to the Internal canonical
// file name of its identifier. An existing target is never replaced: the
// call fails with apperr.ErrAlreadyExists.
func (s *Service) Relabel(ctx context.Context, p string, dryRun bool) (RelabelResult, error) {
	id, err := s.ParseFile(ctx, path.Base(p), 0)
	if err != nil {
		return RelabelResult{}, err
	}
	canonical, err := s.Translate(ctx, id, scanid.Internal)
	if err != nil {
		return RelabelResult{}, err
	}
	name, err := scanid.Render(canonical, scanid.KindFile)
	if err != nil {
		return RelabelResult{}, err
	}

	res := RelabelResult{From: p, To: path.Join(path.Dir(p), name), DryRun: dryRun}
	res.Changed = res.To != path.Clean(p)
	if !res.Changed || dryRun {
		return res, nil
	}

	if err := s.store.Move(p, res.To); err != nil {
		return RelabelResult{}, fmt.Errorf("scanservice: relabel %s: %w", p, err)
	}
	if err := s.indexer.Remove(p); err != nil {
		return RelabelResult{}, err
	}
	s.emit(catalog.EventDeleted, p)
	if _, err := s.IndexFile(ctx, res.To); err != nil {
		return RelabelResult{}, err
	}
	return res, nil
}

func (s *Service) emit(kind, p string) {
	if s.notify != nil && kind != "" {
		s.notify(kind, p)
	}
}

// ParseIgnore converts field names into scanid fields.
func ParseIgnore(names []string) ([]scanid.Field, error) {
	out := make([]scanid.Field, 0, len(names))
	for _, n := range names {
		f, err := scanid.ParseField(n)
		if err != nil {
			return nil, err
		}
		if !slices.Contains(out, f) {
			out = append(out, f)
		}
	}
	return out, nil
}
