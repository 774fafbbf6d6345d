package scanid

import (
	"fmt"
	"slices"
	"strconv"
	"strings"
)

// Render writes id in its own convention. KindAny picks the kind the
// identifier was parsed as.
func Render(id Identifier, kind EntityKind) (string, error) {
	return RenderAs(id, id.convention, kind)
}

// RenderAs writes id using another convention's grammar as is, without
// translation. Fields the grammar cannot carry make it fail with
// ErrUnrenderable rather than being dropped.
func RenderAs(id Identifier, conv Convention, kind EntityKind) (string, error) {
	fail := func(f Field, reason string) (string, error) {
		return "", &RenderError{Convention: conv, Kind: kind, Field: f, Reason: reason}
	}
	if id.IsZero() {
		return fail(FieldConvention, "identifier is empty")
	}
	if kind == KindAny {
		kind = id.Kind()
	}
	switch kind {
	case KindSubject:
		if id.phantom {
			return fail(FieldPhantomKind, "phantom identifier cannot be rendered as a subject label")
		}
	case KindPhantom:
		if !id.phantom {
			return fail(FieldSubject, "subject identifier cannot be rendered as a phantom label")
		}
	case KindFile:
		if id.file == nil {
			return fail(FieldTag, "identifier was not parsed from a file name")
		}
	}

	g := grammarFor(conv, id.phantom)
	if g == nil {
		return fail(FieldConvention, "unknown convention")
	}
	label, err := g.build(id)
	if err != nil {
		return "", err
	}
	if kind != KindFile {
		return label, nil
	}
	tail, err := renderTail(conv, id.file)
	if err != nil {
		return "", err
	}
	return label + tail, nil
}

// build renders the label part of id, treating the omitted fields as absent.
func (g *grammar) build(id Identifier, omit ...Field) (string, error) {
	kind := g.kind
	for _, f := range identityFields {
		if _, ok := id.Value(f); ok && !g.has(f) {
			return "", &RenderError{Convention: g.convention, Kind: kind, Field: f,
				Reason: fmt.Sprintf("%s grammar has no %s field", g.convention, f)}
		}
	}

	var (
		b   strings.Builder
		gap Field
	)
	for _, f := range g.fields {
		v, ok := g.text(id, f)
		if slices.Contains(omit, f.name) {
			ok = false
		}
		if !ok {
			if !f.optional {
				return "", &RenderError{Convention: g.convention, Kind: kind, Field: f.name, Reason: "required field is absent"}
			}
			if gap == "" {
				gap = f.name
			}
			continue
		}
		if gap != "" {
			return "", &RenderError{Convention: g.convention, Kind: kind, Field: f.name,
				Reason: fmt.Sprintf("cannot be written without %s", gap)}
		}
		if err := f.check(v); err != nil {
			return "", &RenderError{Convention: g.convention, Kind: kind, Field: f.name, Reason: err.Error()}
		}
		b.WriteString(f.lead)
		b.WriteString(v)
		b.WriteString(f.trail)
	}
	return b.String(), nil
}

// text formats a field value the way the grammar writes it.
func (g *grammar) text(id Identifier, f fieldRule) (string, bool) {
	v, ok := id.Value(f.name)
	if !ok || !f.numeric {
		return v, ok
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return v, true
	}
	return fmt.Sprintf("%0*d", f.width, n), true
}

func renderTail(conv Convention, fi *fileInfo) (string, error) {
	fail := func(f Field, reason string) (string, error) {
		return "", &RenderError{Convention: conv, Kind: KindFile, Field: f, Reason: reason}
	}
	var b strings.Builder
	for _, f := range fileRules {
		var v string
		switch f.name {
		case FieldTag:
			v = fi.tag
			if v == "" {
				return fail(f.name, "required field is absent")
			}
		case FieldDescription:
			v = fi.description
		case FieldSeries:
			if fi.hasSeries {
				v = fmt.Sprintf("%0*d", f.width, fi.series)
			}
		}
		if v == "" {
			continue
		}
		if err := f.check(v); err != nil {
			return fail(f.name, err.Error())
		}
		b.WriteString(f.lead)
		b.WriteString(v)
	}
	if !strings.HasPrefix(fi.extension, ".") || len(fi.extension) < 2 {
		return fail(FieldExtension, "extension is missing")
	}
	b.WriteString(fi.extension)
	return b.String(), nil
}
