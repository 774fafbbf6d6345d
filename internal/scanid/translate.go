package scanid

import (
	"errors"
	"fmt"
	"slices"
	"sort"
	"strings"
)

// SubjectRef names a subject in one convention. Site is optional.
type SubjectRef struct {
	Study   string `json:"study" yaml:"study"`
	Site    string `json:"site,omitempty" yaml:"site,omitempty"`
	Subject string `json:"subject" yaml:"subject"`
}

func (r SubjectRef) normalize() SubjectRef {
	return SubjectRef{
		Study:   strings.ToUpper(strings.TrimSpace(r.Study)),
		Site:    strings.ToUpper(strings.TrimSpace(r.Site)),
		Subject: strings.ToUpper(strings.TrimSpace(r.Subject)),
	}
}

func (r SubjectRef) String() string {
	parts := []string{r.Study}
	if r.Site != "" {
		parts = append(parts, r.Site)
	}
	return strings.Join(append(parts, r.Subject), "_")
}

// MappingEntry pairs an Internal subject with its Site-Issued equivalent.
type MappingEntry struct {
	Internal   SubjectRef `json:"internal" yaml:"internal"`
	SiteIssued SubjectRef `json:"site_issued" yaml:"site_issued"`
}

type refKey struct{ study, subject string }

// MappingTable is a read-only snapshot of one or more studies' subject
// mappings. It is safe for concurrent use.
type MappingTable struct {
	entries []MappingEntry
	forward map[refKey][]int
	reverse map[refKey][]int
	// bySubject indexes entries by Internal subject code alone.
	bySubject map[string][]int
	sites     map[string]string
	siteBack  map[string][]string
	// studies pairs Internal and Site-Issued study codes for labels that
	// carry no subject, such as phantoms.
	studies   map[string]string
	studyBack map[string]string
}

// TableOption configures a MappingTable.
type TableOption func(*MappingTable)

// WithStudyPair declares that the Internal study code internal is written
// siteIssued under the Site-Issued convention. Declared pairs take
// precedence over pairs implied by the entries.
func WithStudyPair(internal, siteIssued string) TableOption {
	return func(t *MappingTable) {
		in := strings.ToUpper(strings.TrimSpace(internal))
		out := strings.ToUpper(strings.TrimSpace(siteIssued))
		if in == "" || out == "" {
			return
		}
		t.studies[in] = out
		t.studyBack[out] = in
	}
}

// NewMappingTable normalizes entries and the Internal -> Site-Issued site map
// and indexes them. Entries lacking a study or subject on either side are
// rejected; exact duplicates are collapsed.
func NewMappingTable(entries []MappingEntry, sites map[string]string, opts ...TableOption) (*MappingTable, error) {
	t := &MappingTable{
		forward:   make(map[refKey][]int),
		reverse:   make(map[refKey][]int),
		bySubject: make(map[string][]int),
		sites:     make(map[string]string, len(sites)),
		siteBack:  make(map[string][]string, len(sites)),
		studies:   make(map[string]string),
		studyBack: make(map[string]string),
	}
	for _, opt := range opts {
		opt(t)
	}
	seen := make(map[MappingEntry]bool, len(entries))
	for i, e := range entries {
		e = MappingEntry{Internal: e.Internal.normalize(), SiteIssued: e.SiteIssued.normalize()}
		if e.Internal.Study == "" || e.Internal.Subject == "" {
			return nil, fmt.Errorf("scanid: mapping entry %d: internal study and subject are required", i)
		}
		if e.SiteIssued.Study == "" || e.SiteIssued.Subject == "" {
			return nil, fmt.Errorf("scanid: mapping entry %d: site-issued study and subject are required", i)
		}
		if seen[e] {
			continue
		}
		seen[e] = true
		n := len(t.entries)
		t.entries = append(t.entries, e)
		fk := refKey{e.Internal.Study, e.Internal.Subject}
		rk := refKey{e.SiteIssued.Study, e.SiteIssued.Subject}
		t.forward[fk] = append(t.forward[fk], n)
		t.reverse[rk] = append(t.reverse[rk], n)
		t.bySubject[e.Internal.Subject] = append(t.bySubject[e.Internal.Subject], n)
		if _, ok := t.studies[e.Internal.Study]; !ok {
			t.studies[e.Internal.Study] = e.SiteIssued.Study
		}
		if _, ok := t.studyBack[e.SiteIssued.Study]; !ok {
			t.studyBack[e.SiteIssued.Study] = e.Internal.Study
		}
	}

	keys := make([]string, 0, len(sites))
	for k := range sites {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		from := strings.ToUpper(strings.TrimSpace(k))
		to := strings.ToUpper(strings.TrimSpace(sites[k]))
		if from == "" || to == "" {
			return nil, fmt.Errorf("scanid: site map entry %q: empty site code", k)
		}
		t.sites[from] = to
		t.siteBack[to] = append(t.siteBack[to], from)
	}
	return t, nil
}

// Entries returns a copy of the normalized entries.
func (t *MappingTable) Entries() []MappingEntry {
	if t == nil {
		return nil
	}
	return append([]MappingEntry(nil), t.entries...)
}

func (t *MappingTable) Len() int {
	if t == nil {
		return 0
	}
	return len(t.entries)
}

// Translate converts id into another convention. Identifiers already in the
// target convention are returned unchanged. The table may be nil when no
// lookup is needed, as for projections into Interchange of Internal ids and
// for phantoms.
func Translate(id Identifier, to Convention, table *MappingTable) (Identifier, error) {
	if id.IsZero() {
		return Identifier{}, &TranslationError{To: to, Err: ErrUnmappedIdentifier, Field: FieldConvention, Reason: "identifier is empty"}
	}
	if id.convention == to {
		return id, nil
	}
	if !slices.Contains(Conventions(), to) {
		return Identifier{}, &TranslationError{From: id.convention, To: to, Err: ErrUnmappedIdentifier, Field: FieldConvention, Reason: "unknown target convention"}
	}
	tr := translator{src: id, to: to, table: table}

	var (
		out Identifier
		err error
	)
	switch {
	case id.phantom:
		out, err = tr.projectPhantom()
	case to == Interchange:
		out, err = tr.toInterchange()
	case id.convention == Interchange:
		out, err = tr.fromInterchange()
	default:
		out, err = tr.lookup(id, to)
	}
	if err != nil {
		return Identifier{}, err
	}

	out.file = id.file
	g := grammarFor(to, out.phantom)
	if g.defaults != nil {
		g.defaults(&out)
	}
	if _, err := g.build(out); err != nil {
		var re *RenderError
		if errors.As(err, &re) {
			return Identifier{}, tr.fail(ErrUnrenderable, re.Field, re.Reason)
		}
		return Identifier{}, err
	}
	return out, nil
}

type translator struct {
	src   Identifier
	to    Convention
	table *MappingTable
}

func (tr translator) fail(kind error, f Field, reason string, candidates ...string) *TranslationError {
	return &TranslationError{
		Source:     tr.src.String(),
		From:       tr.src.convention,
		To:         tr.to,
		Field:      f,
		Candidates: candidates,
		Reason:     reason,
		Err:        kind,
	}
}

// projectPhantom copies the shared calibration fields. Study and site cannot
// be recovered from an Interchange phantom. With a table, study and site are
// mapped the way a subject's would be.
func (tr translator) projectPhantom() (Identifier, error) {
	src := tr.src
	out := Identifier{convention: tr.to, phantom: true, phantomKind: src.phantomKind, phantomIndex: src.phantomIndex}
	if tr.to == Interchange {
		return out, nil
	}
	if src.study == "" {
		return Identifier{}, tr.fail(ErrUnmappedIdentifier, FieldStudy, "phantom label carries no study")
	}
	if src.site == "" {
		return Identifier{}, tr.fail(ErrUnmappedIdentifier, FieldSite, "phantom label carries no site")
	}
	out.study, out.site = src.study, src.site
	if tr.table == nil || src.convention == Interchange {
		return out, nil
	}

	// Between Internal and Site-Issued the study and site codes go through
	// the table's study pairs and site map.
	switch tr.to {
	case SiteIssued:
		if code, ok := tr.table.studies[src.study]; ok {
			out.study = code
		}
	case Internal:
		if code, ok := tr.table.studyBack[src.study]; ok {
			out.study = code
		}
	}
	site, err := tr.resolveSite("", src.site, tr.to)
	if err != nil {
		return Identifier{}, err
	}
	out.site = site
	return out, nil
}

// toInterchange projects onto the Interchange fields. Interchange labels use
// Internal subject codes, so Site-Issued ids are mapped to Internal first.
func (tr translator) toInterchange() (Identifier, error) {
	src := tr.src
	if src.convention == SiteIssued {
		mid, err := tr.lookup(src, Internal)
		if err != nil {
			return Identifier{}, err
		}
		src = mid
	}
	if src.subject == "" {
		return Identifier{}, tr.fail(ErrUnmappedIdentifier, FieldSubject, "subject is absent")
	}
	return Identifier{convention: Interchange, subject: src.subject, timepoint: src.timepoint}, nil
}

// fromInterchange recovers study and site from the unique table entry whose
// Internal subject equals the Interchange label.
func (tr translator) fromInterchange() (Identifier, error) {
	if tr.table == nil {
		return Identifier{}, tr.fail(ErrUnmappedIdentifier, FieldStudy, "no mapping table to derive study and site from")
	}
	refs := tr.table.distinct(tr.table.bySubject[tr.src.subject], func(e MappingEntry) SubjectRef { return e.Internal })
	switch {
	case len(refs) == 0:
		return Identifier{}, tr.fail(ErrUnmappedIdentifier, FieldStudy, fmt.Sprintf("no mapping entry for subject %s", tr.src.subject))
	case len(refs) > 1:
		return Identifier{}, tr.fail(ErrAmbiguousTranslation, FieldStudy, "subject is mapped in several studies", refStrings(refs)...)
	}
	ref := refs[0]
	if ref.Site == "" {
		return Identifier{}, tr.fail(ErrUnmappedIdentifier, FieldSite, fmt.Sprintf("mapping entry for %s has no internal site", ref))
	}
	internal := Identifier{convention: Internal, study: ref.Study, site: ref.Site, subject: ref.Subject, timepoint: tr.src.timepoint}
	if tr.to == Internal {
		return internal, nil
	}
	return tr.lookup(internal, tr.to)
}

// lookup maps between Internal and Site-Issued through the table.
func (tr translator) lookup(id Identifier, to Convention) (Identifier, error) {
	if tr.table == nil {
		return Identifier{}, tr.fail(ErrUnmappedIdentifier, FieldSubject, "no mapping table")
	}
	key := refKey{id.study, id.subject}
	var (
		idx            []int
		source, target func(MappingEntry) SubjectRef
	)
	internal := func(e MappingEntry) SubjectRef { return e.Internal }
	site := func(e MappingEntry) SubjectRef { return e.SiteIssued }
	switch to {
	case SiteIssued:
		idx, source, target = tr.table.forward[key], internal, site
	case Internal:
		idx, source, target = tr.table.reverse[key], site, internal
	default:
		return Identifier{}, tr.fail(ErrUnmappedIdentifier, FieldConvention, "no lookup into "+to.String())
	}

	// Entries that pin a source site only apply to that site.
	matching := idx[:0:0]
	for _, i := range idx {
		if s := source(tr.table.entries[i]).Site; s == "" || s == id.site {
			matching = append(matching, i)
		}
	}
	refs := tr.table.distinct(matching, target)
	switch {
	case len(refs) == 0:
		return Identifier{}, tr.fail(ErrUnmappedIdentifier, FieldSubject,
			fmt.Sprintf("no mapping entry for study %s subject %s", id.study, id.subject))
	case len(refs) > 1:
		return Identifier{}, tr.fail(ErrAmbiguousTranslation, FieldSubject,
			fmt.Sprintf("study %s subject %s has %d %s candidates", id.study, id.subject, len(refs), to), refStrings(refs)...)
	}

	ref := refs[0]
	siteCode, err := tr.resolveSite(ref.Site, id.site, to)
	if err != nil {
		return Identifier{}, err
	}
	return Identifier{
		convention: to,
		study:      ref.Study,
		site:       siteCode,
		subject:    ref.Subject,
		timepoint:  id.timepoint,
		session:    id.session,
	}, nil
}

// resolveSite picks the target site: the entry's own site, then the site
// map, then the source site unchanged.
func (tr translator) resolveSite(entry, src string, to Convention) (string, error) {
	if entry != "" {
		return entry, nil
	}
	switch to {
	case SiteIssued:
		if s, ok := tr.table.sites[src]; ok {
			return s, nil
		}
	case Internal:
		back := tr.table.siteBack[src]
		if len(back) > 1 {
			return "", tr.fail(ErrAmbiguousTranslation, FieldSite, "site map has several internal sites for "+src, back...)
		}
		if len(back) == 1 {
			return back[0], nil
		}
	}
	if src == "" {
		return "", tr.fail(ErrUnmappedIdentifier, FieldSite, "site is absent")
	}
	return src, nil
}

func (t *MappingTable) distinct(idx []int, side func(MappingEntry) SubjectRef) []SubjectRef {
	var out []SubjectRef
	for _, i := range idx {
		r := side(t.entries[i])
		found := false
		for _, o := range out {
			if o == r {
				found = true
				break
			}
		}
		if !found {
			out = append(out, r)
		}
	}
	return out
}

func refStrings(refs []SubjectRef) []string {
	out := make([]string, len(refs))
	for i, r := range refs {
		out[i] = r.String()
	}
	return out
}
