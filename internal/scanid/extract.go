package scanid

import (
	"errors"
	"fmt"
	"path/filepath"
	"strconv"
	"strings"
)

type parseOptions struct {
	convention Convention
	kind       EntityKind
}

// ParseOption narrows the grammars Parse and ParseFilename try.
type ParseOption func(*parseOptions)

// WithConvention restricts parsing to a single convention.
func WithConvention(c Convention) ParseOption {
	return func(o *parseOptions) { o.convention = c }
}

// WithKind restricts parsing to subject or phantom grammars. KindFile passed
// to Parse selects the file name grammars.
func WithKind(k EntityKind) ParseOption {
	return func(o *parseOptions) { o.kind = k }
}

func newParseOptions(opts []ParseOption) parseOptions {
	var o parseOptions
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// Parse reads a bare subject, session or phantom label.
func Parse(raw string, opts ...ParseOption) (Identifier, error) {
	o := newParseOptions(opts)
	if o.kind == KindFile {
		o.kind = KindAny
		return extract(strings.TrimSpace(raw), o, true)
	}
	return extract(strings.TrimSpace(raw), o, false)
}

// ParseFilename reads a scan file name. Directories are ignored; the
// extension is required.
func ParseFilename(name string, opts ...ParseOption) (Identifier, error) {
	o := newParseOptions(opts)
	if o.kind == KindFile {
		o.kind = KindAny
	}
	return extract(filepath.Base(strings.TrimSpace(name)), o, true)
}

// ParseArchiveLabel reads an archive subject or experiment label. The
// experiment token is stripped before parsing; interchange grammars are never
// tried.
func ParseArchiveLabel(label string, opts ...ParseOption) (Identifier, error) {
	o := newParseOptions(opts)
	label = strings.TrimSpace(label)
	body := label
	if n := len(experimentToken); len(body) > n && strings.EqualFold(body[len(body)-n:], experimentToken) {
		body = body[:len(body)-n]
	}
	if o.convention == Interchange {
		return Identifier{}, &ParseError{Raw: label, Kind: o.kind, Tried: []Convention{Interchange}, Err: ErrGrammarMismatch}
	}
	if o.convention != 0 {
		return extract(body, o, false)
	}
	var (
		tried []Convention
		err   error
	)
	for _, c := range []Convention{Internal, SiteIssued} {
		tried = append(tried, c)
		o.convention = c
		var id Identifier
		if id, err = extract(body, o, false); err == nil {
			return id, nil
		}
		if !errors.Is(err, ErrGrammarMismatch) {
			break
		}
	}
	var pe *ParseError
	if errors.As(err, &pe) {
		pe.Raw, pe.Tried = label, tried
	}
	return Identifier{}, err
}

// IsPhantom reports whether raw looks like a phantom label or phantom scan
// file name in any convention. Only the structure is checked, so a phantom
// with an unknown kind still reports true.
func IsPhantom(raw string) bool {
	raw = strings.TrimSpace(raw)
	base, ext := SplitExtension(filepath.Base(raw))
	for _, g := range candidates(0, KindPhantom) {
		if _, ok := g.match(raw, false); ok {
			return true
		}
		if ext != "" {
			if _, ok := g.match(base, true); ok {
				return true
			}
		}
	}
	return false
}

// SplitExtension separates a file name from its extension, recognising
// compound extensions such as .nii.gz as a single unit.
func SplitExtension(name string) (base, ext string) {
	lower := strings.ToLower(name)
	for _, c := range compoundExtensions {
		if strings.HasSuffix(lower, c) && len(name) > len(c) {
			return name[:len(name)-len(c)], name[len(name)-len(c):]
		}
	}
	ext = filepath.Ext(name)
	if ext == name {
		return name, ""
	}
	return name[:len(name)-len(ext)], ext
}

func extract(raw string, o parseOptions, file bool) (Identifier, error) {
	kind := o.kind
	if file && kind == KindAny {
		kind = KindFile
	}
	body, ext := raw, ""
	if file {
		body, ext = SplitExtension(raw)
		if ext == "" {
			return Identifier{}, &ParseError{Raw: raw, Kind: kind, Err: ErrGrammarMismatch}
		}
	}

	var tried []Convention
	for _, g := range candidates(o.convention, o.kind) {
		if len(tried) == 0 || tried[len(tried)-1] != g.convention {
			tried = append(tried, g.convention)
		}
		values, ok := g.match(body, file)
		if !ok {
			continue
		}
		// The first structural match decides: a field it rejects is
		// reported rather than retried under a looser convention.
		id, perr := g.assemble(values, file)
		if perr != nil {
			perr.Raw, perr.Kind, perr.Tried = raw, kind, tried
			return Identifier{}, perr
		}
		if file {
			id.file.extension = ext
		}
		return id, nil
	}
	return Identifier{}, &ParseError{Raw: raw, Kind: kind, Tried: tried, Err: ErrGrammarMismatch}
}

// assemble validates matched values and builds the identifier.
func (g *grammar) assemble(values map[Field]string, file bool) (Identifier, *ParseError) {
	id := Identifier{convention: g.convention, phantom: g.kind == KindPhantom}
	invalid := func(f Field, err error) *ParseError {
		return &ParseError{Convention: g.convention, Field: f, Err: ErrFieldValidation, Cause: err}
	}

	for _, f := range g.fields {
		v, ok := values[f.name]
		if !ok {
			continue
		}
		v = f.normalize(v)
		if err := f.check(v); err != nil {
			return Identifier{}, invalid(f.name, err)
		}
		if err := id.set(f.name, v); err != nil {
			return Identifier{}, invalid(f.name, err)
		}
	}
	if g.defaults != nil {
		g.defaults(&id)
	}

	if file {
		id.file = &fileInfo{}
		for _, f := range fileRules {
			v, ok := values[f.name]
			if !ok {
				continue
			}
			if err := f.check(v); err != nil {
				return Identifier{}, invalid(f.name, err)
			}
			switch f.name {
			case FieldTag:
				id.file.tag = v
			case FieldDescription:
				id.file.description = v
			case FieldSeries:
				n, _ := strconv.Atoi(v)
				id.file.series, id.file.hasSeries = n, true
			}
		}
	}
	return id, nil
}

// set stores a checked value. Numeric fields become integers and numeric
// timepoints are zero-padded.
func (id *Identifier) set(f Field, v string) error {
	atoi := func() (int, error) {
		n, err := strconv.Atoi(v)
		if err != nil {
			return 0, fmt.Errorf("must be an integer: %w", err)
		}
		return n, nil
	}
	var err error
	switch f {
	case FieldStudy:
		id.study = v
	case FieldSite:
		id.site = v
	case FieldSubject:
		id.subject = v
	case FieldPhantomKind:
		id.phantomKind = v
	case FieldPhantomIndex:
		id.phantomIndex, err = atoi()
	case FieldTimepoint:
		id.timepoint = canonicalTimepoint(v)
	case FieldSession:
		id.session, err = atoi()
	default:
		err = fmt.Errorf("field %s is not an identity field", f)
	}
	return err
}

func canonicalTimepoint(v string) string {
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return v
	}
	return fmt.Sprintf("%02d", n)
}
