package scanid

import (
	"encoding/json"
	"slices"
	"strconv"
)

// Identifier is a validated, convention-tagged scan session name. The zero
// value is not a valid identifier; values are built by Parse, ParseFilename
// and Translate and are never modified afterwards.
type Identifier struct {
	convention   Convention
	phantom      bool
	study        string
	site         string
	subject      string
	phantomKind  string
	phantomIndex int
	timepoint    string
	session      int
	file         *fileInfo
}

// fileInfo holds the acquisition tail of a scan file name.
type fileInfo struct {
	tag         string
	description string
	series      int
	hasSeries   bool
	extension   string
}

func (id Identifier) Convention() Convention { return id.convention }
func (id Identifier) IsZero() bool           { return id.convention == 0 }
func (id Identifier) IsPhantom() bool        { return id.phantom }

// IsFile reports whether the identifier was parsed from a scan file name.
func (id Identifier) IsFile() bool { return id.file != nil }

// Kind returns the entity kind the identifier renders as by default.
func (id Identifier) Kind() EntityKind {
	switch {
	case id.file != nil:
		return KindFile
	case id.phantom:
		return KindPhantom
	}
	return KindSubject
}

func (id Identifier) Study() (string, bool)       { return id.study, id.study != "" }
func (id Identifier) Site() (string, bool)        { return id.site, id.site != "" }
func (id Identifier) Subject() (string, bool)     { return id.subject, id.subject != "" }
func (id Identifier) PhantomKind() (string, bool) { return id.phantomKind, id.phantomKind != "" }
func (id Identifier) PhantomIndex() (int, bool)   { return id.phantomIndex, id.phantomIndex != 0 }
func (id Identifier) Timepoint() (string, bool)   { return id.timepoint, id.timepoint != "" }
func (id Identifier) Session() (int, bool)        { return id.session, id.session != 0 }

func (id Identifier) Tag() (string, bool) {
	if id.file == nil {
		return "", false
	}
	return id.file.tag, true
}

func (id Identifier) Description() (string, bool) {
	if id.file == nil || id.file.description == "" {
		return "", false
	}
	return id.file.description, true
}

func (id Identifier) Series() (int, bool) {
	if id.file == nil || !id.file.hasSeries {
		return 0, false
	}
	return id.file.series, true
}

func (id Identifier) Extension() (string, bool) {
	if id.file == nil {
		return "", false
	}
	return id.file.extension, true
}

// Value returns the normalized text of a field: codes upper-cased and
// integers without padding. Absent fields report false.
func (id Identifier) Value(f Field) (string, bool) {
	itoa := func(n int, ok bool) (string, bool) {
		if !ok {
			return "", false
		}
		return strconv.Itoa(n), true
	}
	switch f {
	case FieldConvention:
		return id.convention.String(), !id.IsZero()
	case FieldStudy:
		return id.Study()
	case FieldSite:
		return id.Site()
	case FieldSubject:
		return id.Subject()
	case FieldPhantomKind:
		return id.PhantomKind()
	case FieldPhantomIndex:
		return itoa(id.PhantomIndex())
	case FieldTimepoint:
		return id.Timepoint()
	case FieldSession:
		return itoa(id.Session())
	case FieldTag:
		return id.Tag()
	case FieldDescription:
		return id.Description()
	case FieldSeries:
		return itoa(id.Series())
	case FieldExtension:
		return id.Extension()
	}
	return "", false
}

// Fields returns every present field keyed by name.
func (id Identifier) Fields() map[Field]string {
	out := make(map[Field]string, len(allFields))
	for _, f := range allFields {
		if v, ok := id.Value(f); ok {
			out[f] = v
		}
	}
	return out
}

// EqualsIgnoring compares every field, including the convention and the file
// tail, except the ones listed.
func (id Identifier) EqualsIgnoring(other Identifier, ignore ...Field) bool {
	if id.phantom != other.phantom {
		return false
	}
	return id.equalOn(other, allFields, ignore)
}

// Equal reports field-for-field equality.
func (id Identifier) Equal(other Identifier) bool {
	return id.EqualsIgnoring(other)
}

func (id Identifier) equalOn(other Identifier, fields, ignore []Field) bool {
	for _, f := range fields {
		if slices.Contains(ignore, f) {
			continue
		}
		a, aok := id.Value(f)
		b, bok := other.Value(f)
		if aok != bok || a != b {
			return false
		}
	}
	return true
}

// String returns the canonical rendering in the identifier's own convention,
// or a placeholder when it cannot be rendered.
func (id Identifier) String() string {
	s, err := Render(id, KindAny)
	if err != nil {
		return "<invalid " + id.convention.String() + " identifier>"
	}
	return s
}

// Label renders the subject or phantom label without a file name tail.
func (id Identifier) Label() (string, error) {
	g, err := id.grammar()
	if err != nil {
		return "", err
	}
	return g.build(id)
}

// SubjectLabel renders the subject scope without timepoint or session. For
// phantoms it is the full phantom label.
func (id Identifier) SubjectLabel() (string, error) {
	g, err := id.grammar()
	if err != nil {
		return "", err
	}
	return g.build(id, FieldTimepoint, FieldSession)
}

// FullSubjectLabelWithTimepoint fails with ErrUnrenderable when a subject
// identifier carries no timepoint.
func (id Identifier) FullSubjectLabelWithTimepoint() (string, error) {
	g, err := id.grammar()
	if err != nil {
		return "", err
	}
	if !id.phantom && id.timepoint == "" {
		return "", &RenderError{Convention: id.convention, Kind: KindSubject, Field: FieldTimepoint, Reason: "timepoint is absent"}
	}
	return g.build(id, FieldSession)
}

// FullSubjectLabelWithTimepointAndSession requires a timepoint like
// FullSubjectLabelWithTimepoint; an absent session is omitted.
func (id Identifier) FullSubjectLabelWithTimepointAndSession() (string, error) {
	g, err := id.grammar()
	if err != nil {
		return "", err
	}
	if !id.phantom && id.timepoint == "" {
		return "", &RenderError{Convention: id.convention, Kind: KindSubject, Field: FieldTimepoint, Reason: "timepoint is absent"}
	}
	return g.build(id)
}

// ArchiveSubjectKey names the archive subject entity, which spans every
// session of one subject at one timepoint: the label without its session.
// Labels without a timepoint and phantoms use the full label. Interchange
// identifiers have no archive naming.
func (id Identifier) ArchiveSubjectKey() (string, error) {
	g, err := id.archiveGrammar()
	if err != nil {
		return "", err
	}
	if id.phantom || id.timepoint == "" {
		return g.build(id)
	}
	return g.build(id, FieldSession)
}

// ArchiveExperimentKey names one MR session in the archive: the full label
// with timepoint and session, then the experiment token.
func (id Identifier) ArchiveExperimentKey() (string, error) {
	g, err := id.archiveGrammar()
	if err != nil {
		return "", err
	}
	key, err := g.build(id)
	if err != nil {
		return "", err
	}
	return key + experimentToken, nil
}

func (id Identifier) archiveGrammar() (*grammar, error) {
	if id.convention == Interchange {
		return nil, &RenderError{Convention: id.convention, Kind: id.Kind(), Field: FieldConvention, Reason: "interchange identifiers have no archive keys"}
	}
	return id.grammar()
}

const experimentToken = "_MR"

func (id Identifier) grammar() (*grammar, error) {
	g := grammarFor(id.convention, id.phantom)
	if g == nil {
		return nil, &RenderError{Convention: id.convention, Kind: id.Kind(), Field: FieldConvention, Reason: "no grammar for convention"}
	}
	return g, nil
}

type identifierJSON struct {
	Convention   Convention `json:"convention"`
	Phantom      bool       `json:"is_phantom"`
	Study        string     `json:"study,omitempty"`
	Site         string     `json:"site,omitempty"`
	Subject      string     `json:"subject,omitempty"`
	PhantomKind  string     `json:"phantom_kind,omitempty"`
	PhantomIndex *int       `json:"phantom_index,omitempty"`
	Timepoint    string     `json:"timepoint,omitempty"`
	Session      *int       `json:"session,omitempty"`
	Tag          string     `json:"tag,omitempty"`
	Description  string     `json:"description,omitempty"`
	Series       *int       `json:"series_number,omitempty"`
	Extension    string     `json:"extension,omitempty"`
	Label        string     `json:"label"`
}

// MarshalJSON emits present fields only, plus the canonical label.
func (id Identifier) MarshalJSON() ([]byte, error) {
	ptr := func(n int, ok bool) *int {
		if !ok {
			return nil
		}
		return &n
	}
	out := identifierJSON{
		Convention:   id.convention,
		Phantom:      id.phantom,
		Study:        id.study,
		Site:         id.site,
		Subject:      id.subject,
		PhantomKind:  id.phantomKind,
		PhantomIndex: ptr(id.PhantomIndex()),
		Timepoint:    id.timepoint,
		Session:      ptr(id.Session()),
		Series:       ptr(id.Series()),
		Label:        id.String(),
	}
	if id.file != nil {
		out.Tag = id.file.tag
		out.Description = id.file.description
		out.Extension = id.file.extension
	}
	return json.Marshal(out)
}
