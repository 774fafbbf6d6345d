package api

import (
	"github.com/starford/mrtrack/internal/models"
	"github.com/starford/mrtrack/internal/scanid"
)

// ParseRequest is the request body for parsing an identifier.
type ParseRequest struct {
	Raw        string `json:"raw" example:"STU01_UTO_10001_01_SE01" validate:"required"`
	Convention string `json:"convention,omitempty" example:"internal"`
	// Kind is subject, phantom, file or empty for any.
	Kind string `json:"kind,omitempty" example:"subject"`
}

// LabelSet holds every derived label that applies to an identifier.
type LabelSet struct {
	Subject                     string `json:"subject_label,omitempty"`
	FullWithTimepoint           string `json:"full_label_with_timepoint,omitempty"`
	FullWithTimepointAndSession string `json:"full_label_with_timepoint_and_session,omitempty"`
	ArchiveSubject              string `json:"archive_subject,omitempty"`
	ArchiveExperiment           string `json:"archive_experiment,omitempty"`
}

func labelsOf(id scanid.Identifier) LabelSet {
	var l LabelSet
	l.Subject, _ = id.SubjectLabel()
	l.FullWithTimepoint, _ = id.FullSubjectLabelWithTimepoint()
	l.FullWithTimepointAndSession, _ = id.FullSubjectLabelWithTimepointAndSession()
	l.ArchiveSubject, _ = id.ArchiveSubjectKey()
	l.ArchiveExperiment, _ = id.ArchiveExperimentKey()
	return l
}

// IdentifierResponse is a parsed identifier with its derived labels.
type IdentifierResponse struct {
	Identifier scanid.Identifier `json:"identifier"`
	Labels     LabelSet          `json:"labels"`
}

// TranslateRequest is the request body for translating an identifier.
type TranslateRequest struct {
	Raw  string `json:"raw" example:"STX01_UTP_A-17_BL" validate:"required"`
	From string `json:"from,omitempty" example:"site-issued"`
	To   string `json:"to" example:"internal" validate:"required"`
}

// TranslateResponse pairs the source identifier with its translation.
type TranslateResponse struct {
	Source scanid.Identifier `json:"source"`
	Target scanid.Identifier `json:"target"`
}

// MatchRequest is the request body for comparing two identifiers.
type MatchRequest struct {
	A         string   `json:"a" example:"STU01_UTO_10001_01_SE01" validate:"required"`
	B         string   `json:"b" example:"STU01_UTO_10001_01_SE02" validate:"required"`
	Ignore    []string `json:"ignore,omitempty" example:"session"`
	Canonical bool     `json:"canonical,omitempty"`
}

// RelabelRequest is the request body for renaming a scan file.
type RelabelRequest struct {
	Path   string `json:"path" example:"STX01_UTP_A-17_01_T1.nii.gz" validate:"required"`
	DryRun bool   `json:"dry_run,omitempty"`
}

// ScanListResponse wraps paginated scan listings.
type ScanListResponse struct {
	Scans []models.Scan `json:"scans" validate:"required"`
	Total int           `json:"total" example:"42" validate:"required"`
}

// RejectListResponse wraps paginated rejects.
type RejectListResponse struct {
	Rejects []models.Reject `json:"rejects" validate:"required"`
	Total   int             `json:"total" validate:"required"`
}

// SessionsResponse lists a subject's visits.
type SessionsResponse struct {
	Study    string           `json:"study"`
	Subject  string           `json:"subject"`
	Sessions []models.Session `json:"sessions" validate:"required"`
}

// SearchResponse wraps search results.
type SearchResponse struct {
	Results []models.Scan `json:"results" validate:"required"`
}
