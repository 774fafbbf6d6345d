// Package models defines the shared domain types for mrtrack.
package models

import "time"

// ScanFile is the on-disk metadata of one file under the incoming root.
type ScanFile struct {
	Path      string    `json:"path"`
	Checksum  string    `json:"checksum"`
	Size      int64     `json:"size"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Scan is a catalogued scan file together with its parsed identifier fields.
// Optional fields are empty or nil when the identifier does not carry them.
type Scan struct {
	Path              string    `json:"path"`
	Convention        string    `json:"convention"`
	Phantom           bool      `json:"is_phantom"`
	Study             string    `json:"study,omitempty"`
	Site              string    `json:"site,omitempty"`
	Subject           string    `json:"subject,omitempty"`
	PhantomKind       string    `json:"phantom_kind,omitempty"`
	PhantomIndex      *int      `json:"phantom_index,omitempty"`
	Timepoint         string    `json:"timepoint,omitempty"`
	Session           *int      `json:"session,omitempty"`
	Tag               string    `json:"tag"`
	Description       string    `json:"description,omitempty"`
	Series            *int      `json:"series_number,omitempty"`
	Extension         string    `json:"extension"`
	Label             string    `json:"label"`
	InternalLabel     string    `json:"internal_label,omitempty"`
	ArchiveSubject    string    `json:"archive_subject,omitempty"`
	ArchiveExperiment string    `json:"archive_experiment,omitempty"`
	Checksum          string    `json:"checksum"`
	Size              int64     `json:"size"`
	IngestID          string    `json:"ingest_id"`
	UpdatedAt         time.Time `json:"updated_at"`
}

// Reject records a file under the incoming root whose name could not be
// catalogued.
type Reject struct {
	Path      string    `json:"path"`
	Kind      string    `json:"kind"`
	Field     string    `json:"field,omitempty"`
	Message   string    `json:"message"`
	IngestID  string    `json:"ingest_id"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Session groups the scans of one subject visit.
type Session struct {
	Label     string `json:"label"`
	Timepoint string `json:"timepoint,omitempty"`
	Session   *int   `json:"session,omitempty"`
	Scans     []Scan `json:"scans"`
}
