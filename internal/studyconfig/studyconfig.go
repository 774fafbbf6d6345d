// Package studyconfig loads per-study YAML files: the study's codes, its
// sites, the archive project it is uploaded to and the subject mapping
// between the Internal and Site-Issued conventions.
package studyconfig

import (
	"errors"
	"fmt"
	"regexp"
	"slices"
	"sort"
	"strings"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/go-ozzo/ozzo-validation/v4/is"

	"github.com/starford/mrtrack/internal/apperr"
	"github.com/starford/mrtrack/internal/scanid"
	pkgconfig "github.com/starford/mrtrack/pkg/config"
)

// File is one study file as written on disk.
type File struct {
	Study           string            `yaml:"study"`
	SiteIssuedStudy string            `yaml:"site_issued_study"`
	ArchiveProject  string            `yaml:"archive_project"`
	Sites           []string          `yaml:"sites"`
	SiteMap         map[string]string `yaml:"site_map"`
	IDMap           []Entry           `yaml:"id_map"`
}

// Entry pairs an Internal subject with its Site-Issued equivalent. Study
// codes left empty default to the file's study codes.
type Entry struct {
	Internal   scanid.SubjectRef `yaml:"internal"`
	SiteIssued scanid.SubjectRef `yaml:"site_issued"`
}

var siteIssuedSubject = validation.Match(regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9-]*$`))

// Validate validates the study file.
func (f *File) Validate() error {
	return validation.ValidateStruct(f,
		validation.Field(&f.Study, validation.Required, validation.Length(2, 8), is.Alphanumeric),
		validation.Field(&f.SiteIssuedStudy, validation.Length(2, 8), is.Alphanumeric),
		validation.Field(&f.ArchiveProject, validation.Length(1, 64)),
		validation.Field(&f.Sites, validation.Each(validation.Length(2, 6), is.Alphanumeric)),
		validation.Field(&f.SiteMap, validation.Each(validation.Required, validation.Length(2, 8), is.Alphanumeric)),
		validation.Field(&f.IDMap),
	)
}

// Validate validates one mapping entry.
func (e Entry) Validate() error {
	return validation.Errors{
		"internal": validateRef(e.Internal, validation.Length(2, 6), is.Alphanumeric),
		"site_issued": validateRef(e.SiteIssued, validation.Length(2, 8),
			validation.Length(1, 16), siteIssuedSubject),
	}.Filter()
}

func validateRef(r scanid.SubjectRef, site validation.Rule, subject ...validation.Rule) error {
	return validation.Errors{
		"study":   validation.Validate(r.Study, validation.Length(2, 8), is.Alphanumeric),
		"site":    validation.Validate(r.Site, site, is.Alphanumeric),
		"subject": validation.Validate(r.Subject, append([]validation.Rule{validation.Required, validation.Length(1, 16)}, subject...)...),
	}.Filter()
}

// Study is a loaded, normalized study.
type Study struct {
	Code           string
	SiteIssuedCode string
	ArchiveProject string
	Sites          []string

	table *scanid.MappingTable
}

// Mapping returns the study's subject mapping table.
func (s *Study) Mapping() *scanid.MappingTable { return s.table }

// HasSite reports whether site belongs to the study. A study that lists no
// sites accepts every site.
func (s *Study) HasSite(site string) bool {
	if len(s.Sites) == 0 {
		return true
	}
	return slices.Contains(s.Sites, strings.ToUpper(site))
}

// Registry indexes studies by their Internal code, Site-Issued code and
// archive project. It is read-only after construction.
type Registry struct {
	studies   map[string]*Study
	bySite    map[string]*Study
	byProject map[string]*Study
	// merged holds every study's entries for Interchange lookups, which carry
	// no study code.
	merged *scanid.MappingTable
}

// LoadDir loads every study file in dir.
func LoadDir(dir string) (*Registry, error) {
	files, err := pkgconfig.LoadDir(dir, func() *File { return &File{} })
	if err != nil {
		return nil, fmt.Errorf("studyconfig: %w", err)
	}
	return NewRegistry(files...)
}

// NewRegistry builds a registry from already-decoded files. Files are
// validated again so callers need not.
func NewRegistry(files ...*File) (*Registry, error) {
	r := &Registry{
		studies:   make(map[string]*Study, len(files)),
		bySite:    make(map[string]*Study, len(files)),
		byProject: make(map[string]*Study, len(files)),
	}
	var all []scanid.MappingEntry
	for _, f := range files {
		if err := f.Validate(); err != nil {
			return nil, fmt.Errorf("studyconfig: study %s: %w", f.Study, err)
		}
		st, entries, err := build(f)
		if err != nil {
			return nil, err
		}
		if _, dup := r.studies[st.Code]; dup {
			return nil, fmt.Errorf("studyconfig: study %s: %w", st.Code, apperr.ErrAlreadyExists)
		}
		r.studies[st.Code] = st
		for _, code := range siteCodes(st, entries) {
			if other, dup := r.bySite[code]; dup && other != st {
				return nil, fmt.Errorf("studyconfig: site-issued study %s claimed by %s and %s: %w",
					code, other.Code, st.Code, apperr.ErrConflict)
			}
			r.bySite[code] = st
		}
		if st.ArchiveProject != "" {
			key := strings.ToLower(st.ArchiveProject)
			if other, dup := r.byProject[key]; dup {
				return nil, fmt.Errorf("studyconfig: archive project %s claimed by %s and %s: %w",
					st.ArchiveProject, other.Code, st.Code, apperr.ErrConflict)
			}
			r.byProject[key] = st
		}
		all = append(all, entries...)
	}
	merged, err := scanid.NewMappingTable(all, nil)
	if err != nil {
		return nil, fmt.Errorf("studyconfig: %w", err)
	}
	r.merged = merged
	return r, nil
}

func build(f *File) (*Study, []scanid.MappingEntry, error) {
	code := upper(f.Study)
	st := &Study{
		Code:           code,
		SiteIssuedCode: upper(f.SiteIssuedStudy),
		ArchiveProject: strings.TrimSpace(f.ArchiveProject),
	}
	if st.SiteIssuedCode == "" {
		st.SiteIssuedCode = code
	}
	for _, s := range f.Sites {
		st.Sites = append(st.Sites, upper(s))
	}
	sort.Strings(st.Sites)
	st.Sites = slices.Compact(st.Sites)

	for from := range f.SiteMap {
		if !st.HasSite(from) {
			return nil, nil, fmt.Errorf("studyconfig: study %s: site map names unknown site %s", code, upper(from))
		}
	}

	entries := make([]scanid.MappingEntry, 0, len(f.IDMap))
	targets := make(map[scanid.SubjectRef]scanid.SubjectRef, len(f.IDMap))
	for i, e := range f.IDMap {
		in, out := e.Internal, e.SiteIssued
		if in.Study == "" {
			in.Study = code
		}
		if out.Study == "" {
			out.Study = st.SiteIssuedCode
		}
		in, out = normalize(in), normalize(out)
		if in.Study != code {
			return nil, nil, fmt.Errorf("studyconfig: study %s: id_map[%d]: internal study %s belongs to another study", code, i, in.Study)
		}
		if in.Site != "" && !st.HasSite(in.Site) {
			return nil, nil, fmt.Errorf("studyconfig: study %s: id_map[%d]: unknown site %s", code, i, in.Site)
		}
		if prev, ok := targets[in]; ok && prev != out {
			return nil, nil, fmt.Errorf("studyconfig: study %s: id_map[%d]: %s maps to both %s and %s: %w",
				code, i, in, prev, out, apperr.ErrConflict)
		}
		targets[in] = out
		entries = append(entries, scanid.MappingEntry{Internal: in, SiteIssued: out})
	}

	table, err := scanid.NewMappingTable(entries, f.SiteMap, scanid.WithStudyPair(code, st.SiteIssuedCode))
	if err != nil {
		return nil, nil, fmt.Errorf("studyconfig: study %s: %w", code, err)
	}
	st.table = table
	return st, entries, nil
}

func siteCodes(st *Study, entries []scanid.MappingEntry) []string {
	codes := []string{st.SiteIssuedCode}
	for _, e := range entries {
		if !slices.Contains(codes, e.SiteIssued.Study) {
			codes = append(codes, e.SiteIssued.Study)
		}
	}
	return codes
}

// Study returns the study with the given Internal code.
func (r *Registry) Study(code string) (*Study, error) {
	if st, ok := r.studies[upper(code)]; ok {
		return st, nil
	}
	return nil, fmt.Errorf("studyconfig: study %s: %w", code, apperr.ErrUnknownStudy)
}

// Studies returns every study ordered by code.
func (r *Registry) Studies() []*Study {
	out := make([]*Study, 0, len(r.studies))
	for _, st := range r.studies {
		out = append(out, st)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Code < out[j].Code })
	return out
}

// ForArchiveProject returns the study uploaded to the named archive project.
// Project names compare case-insensitively.
func (r *Registry) ForArchiveProject(name string) (*Study, error) {
	if st, ok := r.byProject[strings.ToLower(strings.TrimSpace(name))]; ok {
		return st, nil
	}
	return nil, fmt.Errorf("studyconfig: archive project %s: %w", name, apperr.ErrUnknownStudy)
}

// ForIdentifier returns the study an Internal or Site-Issued identifier
// belongs to. Interchange identifiers carry no study code.
func (r *Registry) ForIdentifier(id scanid.Identifier) (*Study, error) {
	code, ok := id.Study()
	if !ok {
		return nil, fmt.Errorf("studyconfig: %s identifier has no study: %w", id.Convention(), apperr.ErrUnknownStudy)
	}
	switch id.Convention() {
	case scanid.Internal:
		return r.Study(code)
	case scanid.SiteIssued:
		if st, ok := r.bySite[code]; ok {
			return st, nil
		}
	}
	return nil, fmt.Errorf("studyconfig: %s study %s: %w", id.Convention(), code, apperr.ErrUnknownStudy)
}

// Translate converts id into another convention using the owning study's
// mapping. Interchange identifiers are first resolved to Internal through
// every study's entries. Phantoms keep their calibration fields; their study
// and site codes are mapped through the owning study.
func (r *Registry) Translate(id scanid.Identifier, to scanid.Convention) (scanid.Identifier, error) {
	if id.Convention() == to || to == scanid.Interchange && id.IsPhantom() {
		return scanid.Translate(id, to, nil)
	}
	if id.IsPhantom() {
		if id.Convention() == scanid.Interchange {
			return scanid.Translate(id, to, nil)
		}
		st, err := r.ForIdentifier(id)
		if err != nil {
			return scanid.Identifier{}, err
		}
		return scanid.Translate(id, to, st.Mapping())
	}
	if id.Convention() == scanid.Interchange {
		internal, err := scanid.Translate(id, scanid.Internal, r.merged)
		if err != nil || to == scanid.Internal {
			return internal, err
		}
		id = internal
	}
	st, err := r.ForIdentifier(id)
	if err != nil {
		return scanid.Identifier{}, err
	}
	return scanid.Translate(id, to, st.Mapping())
}

// Canonical returns id in the Internal convention.
func (r *Registry) Canonical(id scanid.Identifier) (scanid.Identifier, error) {
	return r.Translate(id, scanid.Internal)
}

// IsUnknownStudy reports whether err means no study owns an identifier.
func IsUnknownStudy(err error) bool { return errors.Is(err, apperr.ErrUnknownStudy) }

func normalize(r scanid.SubjectRef) scanid.SubjectRef {
	return scanid.SubjectRef{Study: upper(r.Study), Site: upper(r.Site), Subject: upper(r.Subject)}
}

func upper(s string) string { return strings.ToUpper(strings.TrimSpace(s)) }
