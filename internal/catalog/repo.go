package catalog

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/starford/mrtrack/internal/apperr"
	"github.com/starford/mrtrack/internal/models"
	"github.com/starford/mrtrack/internal/scanid"
)

const (
	defaultLimit = 100
	maxLimit     = 1000
)

const scanColumns = `path, convention, phantom, study, site, subject, phantom_kind, phantom_index,
	timepoint, session, tag, description, series, extension, label, internal_label,
	archive_subject, archive_experiment, checksum, size, ingest_id, updated_at`

// UpsertScan inserts or replaces a scan row. A reject recorded for the same
// path is cleared.
func (db *DB) UpsertScan(s models.Scan) error {
	tx, err := db.conn.Begin()
	if err != nil {
		return fmt.Errorf("catalog: begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // best-effort on failure path

	internalStudy, internalSubject := internalKey(s.InternalLabel)
	_, err = tx.Exec(`
		INSERT INTO scans (`+scanColumns+`, internal_study, internal_subject)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(path) DO UPDATE SET
			convention         = excluded.convention,
			phantom            = excluded.phantom,
			study              = excluded.study,
			site               = excluded.site,
			subject            = excluded.subject,
			phantom_kind       = excluded.phantom_kind,
			phantom_index      = excluded.phantom_index,
			timepoint          = excluded.timepoint,
			session            = excluded.session,
			tag                = excluded.tag,
			description        = excluded.description,
			series             = excluded.series,
			extension          = excluded.extension,
			label              = excluded.label,
			internal_label     = excluded.internal_label,
			archive_subject    = excluded.archive_subject,
			archive_experiment = excluded.archive_experiment,
			checksum           = excluded.checksum,
			size               = excluded.size,
			ingest_id          = excluded.ingest_id,
			updated_at         = excluded.updated_at,
			internal_study     = excluded.internal_study,
			internal_subject   = excluded.internal_subject
	`, s.Path, s.Convention, s.Phantom, s.Study, s.Site, s.Subject, s.PhantomKind, nullInt(s.PhantomIndex),
		s.Timepoint, nullInt(s.Session), s.Tag, s.Description, nullInt(s.Series), s.Extension, s.Label, s.InternalLabel,
		s.ArchiveSubject, s.ArchiveExperiment, s.Checksum, s.Size, s.IngestID, s.UpdatedAt,
		internalStudy, internalSubject)
	if err != nil {
		return fmt.Errorf("catalog: upsert scan: %w", err)
	}
	if _, err := tx.Exec(`DELETE FROM rejects WHERE path = ?`, s.Path); err != nil {
		return fmt.Errorf("catalog: clear reject: %w", err)
	}
	return tx.Commit()
}

// internalKey extracts the Internal study and subject used to group scans
// of one subject across conventions.
func internalKey(label string) (study, subject string) {
	if label == "" {
		return "", ""
	}
	id, err := scanid.Parse(label, scanid.WithConvention(scanid.Internal))
	if err != nil {
		return "", ""
	}
	study, _ = id.Study()
	subject, _ = id.Subject()
	return study, subject
}

// DeleteScan removes the scan or reject row for path.
func (db *DB) DeleteScan(path string) error {
	tx, err := db.conn.Begin()
	if err != nil {
		return fmt.Errorf("catalog: begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	for _, table := range []string{"scans", "rejects"} {
		if _, err := tx.Exec(`DELETE FROM `+table+` WHERE path = ?`, path); err != nil {
			return fmt.Errorf("catalog: delete %s from %s: %w", path, table, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("catalog: delete %s: %w", path, err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRow(r rowScanner) (models.Scan, error) {
	var (
		s                             models.Scan
		phantomIndex, session, series sql.NullInt64
	)
	err := r.Scan(&s.Path, &s.Convention, &s.Phantom, &s.Study, &s.Site, &s.Subject, &s.PhantomKind, &phantomIndex,
		&s.Timepoint, &session, &s.Tag, &s.Description, &series, &s.Extension, &s.Label, &s.InternalLabel,
		&s.ArchiveSubject, &s.ArchiveExperiment, &s.Checksum, &s.Size, &s.IngestID, &s.UpdatedAt)
	if err != nil {
		return models.Scan{}, err
	}
	s.PhantomIndex = intPtr(phantomIndex)
	s.Session = intPtr(session)
	s.Series = intPtr(series)
	return s, nil
}

// GetScan returns the scan at path or apperr.ErrNotFound.
func (db *DB) GetScan(path string) (*models.Scan, error) {
	s, err := scanRow(db.conn.QueryRow(`SELECT `+scanColumns+` FROM scans WHERE path = ?`, path))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("catalog: scan %s: %w", path, apperr.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("catalog: get scan: %w", err)
	}
	return &s, nil
}

// GetChecksum returns the stored checksum for a scan, or empty string if not found.
func (db *DB) GetChecksum(path string) (string, error) {
	var cs string
	err := db.conn.QueryRow(`SELECT checksum FROM scans WHERE path = ?`, path).Scan(&cs)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("catalog: get checksum: %w", err)
	}
	return cs, nil
}

// AllChecksums returns the checksum of every catalogued path. Rejected
// paths map to an empty checksum so a sync always re-examines them.
func (db *DB) AllChecksums() (map[string]string, error) {
	rows, err := db.conn.Query(`SELECT path, checksum FROM scans UNION ALL SELECT path, '' FROM rejects`)
	if err != nil {
		return nil, fmt.Errorf("catalog: all checksums: %w", err)
	}
	defer rows.Close()
	out := make(map[string]string)
	for rows.Next() {
		var p, cs string
		if err := rows.Scan(&p, &cs); err != nil {
			return nil, err
		}
		out[p] = cs
	}
	return out, rows.Err()
}

func (f Filter) where() (string, []any) {
	var (
		conds []string
		args  []any
	)
	if f.Study != "" {
		v := strings.ToUpper(f.Study)
		conds = append(conds, `(study = ? OR internal_study = ?)`)
		args = append(args, v, v)
	}
	if f.Subject != "" {
		v := strings.ToUpper(f.Subject)
		conds = append(conds, `(subject = ? OR internal_subject = ?)`)
		args = append(args, v, v)
	}
	if f.Site != "" {
		conds = append(conds, `site = ?`)
		args = append(args, strings.ToUpper(f.Site))
	}
	if f.Convention != "" {
		conds = append(conds, `convention = ?`)
		args = append(args, f.Convention)
	}
	if f.Phantom != nil {
		conds = append(conds, `phantom = ?`)
		args = append(args, *f.Phantom)
	}
	if len(conds) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

func clampLimit(limit int) int {
	switch {
	case limit <= 0:
		return defaultLimit
	case limit > maxLimit:
		return maxLimit
	}
	return limit
}

// ListScans returns one page of scans ordered by path and the total number
// of matching scans.
func (db *DB) ListScans(f Filter) ([]models.Scan, int, error) {
	where, args := f.where()

	var total int
	if err := db.conn.QueryRow(`SELECT count(*) FROM scans`+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("catalog: count scans: %w", err)
	}

	rows, err := db.conn.Query(`SELECT `+scanColumns+` FROM scans`+where+` ORDER BY path LIMIT ? OFFSET ?`,
		append(args, clampLimit(f.Limit), max(f.Offset, 0))...)
	if err != nil {
		return nil, 0, fmt.Errorf("catalog: list scans: %w", err)
	}
	defer rows.Close()

	out, err := collect(rows)
	if err != nil {
		return nil, 0, err
	}
	return out, total, nil
}

func collect(rows *sql.Rows) ([]models.Scan, error) {
	out := []models.Scan{}
	for rows.Next() {
		s, err := scanRow(rows)
		if err != nil {
			return nil, fmt.Errorf("catalog: scan row: %w", err)
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// Sessions groups every scan of a subject into visits. Scans are keyed by
// their Internal label when mapped, so files of both site conventions land
// in the same visit. Visits keep the order of their first scan by path.
func (db *DB) Sessions(study, subject string) ([]models.Session, error) {
	rows, err := db.conn.Query(`SELECT `+scanColumns+` FROM scans
		WHERE phantom = 0 AND ((study = ? AND subject = ?) OR (internal_study = ? AND internal_subject = ?))
		ORDER BY path`,
		strings.ToUpper(study), strings.ToUpper(subject), strings.ToUpper(study), strings.ToUpper(subject))
	if err != nil {
		return nil, fmt.Errorf("catalog: sessions: %w", err)
	}
	defer rows.Close()
	scans, err := collect(rows)
	if err != nil {
		return nil, err
	}

	ids := make([]scanid.Identifier, 0, len(scans))
	byLabel := make(map[string][]models.Scan)
	for _, s := range scans {
		id, err := visitKey(s)
		if err != nil {
			continue
		}
		label, _ := id.Label()
		if _, seen := byLabel[label]; !seen {
			ids = append(ids, id)
		}
		byLabel[label] = append(byLabel[label], s)
	}

	out := []models.Session{}
	for _, group := range scanid.Group(ids) {
		head := group[0]
		label, _ := head.Label()
		sess := models.Session{Label: label}
		sess.Timepoint, _ = head.Timepoint()
		if n, ok := head.Session(); ok {
			sess.Session = &n
		}
		for _, id := range group {
			l, _ := id.Label()
			sess.Scans = append(sess.Scans, byLabel[l]...)
		}
		out = append(out, sess)
	}
	return out, nil
}

func visitKey(s models.Scan) (scanid.Identifier, error) {
	if s.InternalLabel != "" {
		return scanid.Parse(s.InternalLabel, scanid.WithConvention(scanid.Internal))
	}
	conv, err := scanid.ParseConvention(s.Convention)
	if err != nil {
		return scanid.Identifier{}, err
	}
	return scanid.Parse(s.Label, scanid.WithConvention(conv))
}

// RecordReject stores why a file could not be catalogued, replacing any
// scan row for the same path.
func (db *DB) RecordReject(r models.Reject) error {
	tx, err := db.conn.Begin()
	if err != nil {
		return fmt.Errorf("catalog: begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	_, err = tx.Exec(`
		INSERT INTO rejects (path, kind, field, message, ingest_id, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(path) DO UPDATE SET
			kind       = excluded.kind,
			field      = excluded.field,
			message    = excluded.message,
			ingest_id  = excluded.ingest_id,
			updated_at = excluded.updated_at
	`, r.Path, r.Kind, r.Field, r.Message, r.IngestID, r.UpdatedAt)
	if err != nil {
		return fmt.Errorf("catalog: record reject: %w", err)
	}
	if _, err := tx.Exec(`DELETE FROM scans WHERE path = ?`, r.Path); err != nil {
		return fmt.Errorf("catalog: clear scan: %w", err)
	}
	return tx.Commit()
}

// Rejects returns one page of rejects ordered by path and the total count.
func (db *DB) Rejects(limit, offset int) ([]models.Reject, int, error) {
	var total int
	if err := db.conn.QueryRow(`SELECT count(*) FROM rejects`).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("catalog: count rejects: %w", err)
	}
	rows, err := db.conn.Query(`SELECT path, kind, field, message, ingest_id, updated_at FROM rejects
		ORDER BY path LIMIT ? OFFSET ?`, clampLimit(limit), max(offset, 0))
	if err != nil {
		return nil, 0, fmt.Errorf("catalog: rejects: %w", err)
	}
	defer rows.Close()

	out := []models.Reject{}
	for rows.Next() {
		var r models.Reject
		if err := rows.Scan(&r.Path, &r.Kind, &r.Field, &r.Message, &r.IngestID, &r.UpdatedAt); err != nil {
			return nil, 0, fmt.Errorf("catalog: reject row: %w", err)
		}
		out = append(out, r)
	}
	return out, total, rows.Err()
}

// Search matches query as a substring of the path, labels, tag or
// description, case-insensitively.
func (db *DB) Search(query string, limit int) ([]models.Scan, error) {
	q := strings.TrimSpace(query)
	if q == "" {
		return []models.Scan{}, nil
	}
	pattern := "%" + escapeLike(q) + "%"
	rows, err := db.conn.Query(`SELECT `+scanColumns+` FROM scans
		WHERE path LIKE ?1 ESCAPE '\' OR label LIKE ?1 ESCAPE '\' OR internal_label LIKE ?1 ESCAPE '\'
			OR tag LIKE ?1 ESCAPE '\' OR description LIKE ?1 ESCAPE '\'
		ORDER BY path LIMIT ?2`, pattern, clampLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("catalog: search: %w", err)
	}
	defer rows.Close()
	return collect(rows)
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

func escapeLike(s string) string { return likeEscaper.Replace(s) }

func nullInt(p *int) sql.NullInt64 {
	if p == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(*p), Valid: true}
}

func intPtr(n sql.NullInt64) *int {
	if !n.Valid {
		return nil
	}
	v := int(n.Int64)
	return &v
}
