package scanid

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	validation "github.com/go-ozzo/ozzo-validation/v4"
)

// phantomKinds is the calibration-object vocabulary shared by every convention.
var phantomKinds = []string{"FBIRN", "ADNI", "AGAR", "QA", "LEGO", "NIST"}

// PhantomKinds returns a copy of the phantom vocabulary.
func PhantomKinds() []string {
	return append([]string(nil), phantomKinds...)
}

func isPhantomKind(s string) bool {
	for _, k := range phantomKinds {
		if s == k {
			return true
		}
	}
	return false
}

const (
	alnum   = `[A-Za-z0-9]+`
	letters = `[A-Za-z]+`
	digits  = `[0-9]+`
)

// fieldRule is one entry of an ordered field grammar. A field is written as
// lead + value + trail; optional fields nest, so an optional field is only
// present when every optional field before it is.
type fieldRule struct {
	name     Field
	lead     string
	trail    string
	expr     string
	width    int
	numeric  bool
	optional bool
	upper    bool
	reserved func(string) bool
	rules    []validation.Rule
	value    *regexp.Regexp
}

func (f fieldRule) compile() fieldRule {
	f.value = regexp.MustCompile(`(?i)^(?:` + f.expr + `)$`)
	return f
}

// check runs the structural and semantic checks of a single value.
func (f fieldRule) check(v string) error {
	if !f.value.MatchString(v) {
		return fmt.Errorf("must match %s", f.expr)
	}
	if f.reserved != nil && f.reserved(strings.ToUpper(v)) {
		return errors.New("is a reserved phantom token")
	}
	return validation.Validate(v, f.rules...)
}

func (f fieldRule) normalize(v string) string {
	if f.upper {
		return strings.ToUpper(v)
	}
	return v
}

type grammar struct {
	convention Convention
	kind       EntityKind
	fields     []fieldRule
	defaults   func(*Identifier)
	label      *regexp.Regexp
	file       *regexp.Regexp
}

func newGrammar(c Convention, k EntityKind, defaults func(*Identifier), fields ...fieldRule) *grammar {
	g := &grammar{convention: c, kind: k, defaults: defaults, fields: make([]fieldRule, len(fields))}

	var b strings.Builder
	opens := 0
	for i, f := range fields {
		g.fields[i] = f.compile()
		if f.optional {
			b.WriteString("(?:")
			opens++
		}
		b.WriteString(regexp.QuoteMeta(f.lead))
		fmt.Fprintf(&b, "(?P<%s>%s)", f.name, f.expr)
		b.WriteString(regexp.QuoteMeta(f.trail))
	}
	b.WriteString(strings.Repeat(")?", opens))

	g.label = regexp.MustCompile(`(?i)^` + b.String() + `$`)
	g.file = regexp.MustCompile(`(?i)^` + b.String() + fileTail + `$`)
	return g
}

func (g *grammar) has(name Field) bool {
	for _, f := range g.fields {
		if f.name == name {
			return true
		}
	}
	return false
}

// match applies the structural grammar only. Reserved tokens count as a
// structural mismatch.
func (g *grammar) match(s string, file bool) (map[Field]string, bool) {
	re := g.label
	if file {
		re = g.file
	}
	m := re.FindStringSubmatch(s)
	if m == nil {
		return nil, false
	}
	values := make(map[Field]string, len(m))
	for i, name := range re.SubexpNames() {
		if i == 0 || name == "" || m[i] == "" {
			continue
		}
		values[Field(name)] = m[i]
	}
	for _, f := range g.fields {
		if f.reserved == nil {
			continue
		}
		if v, ok := values[f.name]; ok && f.reserved(strings.ToUpper(v)) {
			return nil, false
		}
	}
	if tag, ok := values[FieldTag]; ok && sessionToken.MatchString(tag) {
		return nil, false
	}
	return values, true
}

// sessionToken is never an acquisition tag. Without this a file name missing
// its tag reads the Internal session as the tag and defaults the session.
var sessionToken = regexp.MustCompile(`(?i)^SE[0-9]+$`)

// Scan file name tail: _TAG[_DESCRIPTION][_SERIES]. The description is lazy
// so a trailing number is read as the series.
const fileTail = `_(?P<tag>[A-Za-z][A-Za-z0-9-]*)(?:_(?P<description>[^./]+?))??(?:_(?P<series_number>[0-9]{1,3}))?`

var fileRules = []fieldRule{
	fieldRule{name: FieldTag, lead: "_", expr: `[A-Za-z][A-Za-z0-9-]*`,
		rules: []validation.Rule{validation.Length(1, 32)}}.compile(),
	fieldRule{name: FieldDescription, lead: "_", expr: `[^./]+`, optional: true,
		rules: []validation.Rule{validation.Length(1, 128)}}.compile(),
	fieldRule{name: FieldSeries, lead: "_", expr: `[0-9]{1,3}`, numeric: true, width: 2, optional: true,
		rules: []validation.Rule{between(0, 999)}}.compile(),
}

// Compound extensions are checked before falling back to the last dot.
var compoundExtensions = []string{".nii.gz", ".tar.gz", ".tar.bz2", ".mnc.gz", ".dcm.gz"}

var (
	twoDigits = validation.Match(regexp.MustCompile(`^[0-9]{2}$`)).
			Error("must be a zero-padded two-digit number")
	knownPhantomKind = validation.In(anySlice(phantomKinds)...).
				Error("must be one of " + strings.Join(phantomKinds, ", "))
	notPhantomKind = validation.NotIn(anySlice(phantomKinds)...).
			Error("must not be a phantom kind")
)

func between(lo, hi int) validation.Rule {
	return validation.By(func(value interface{}) error {
		s, _ := value.(string)
		n, err := strconv.Atoi(s)
		if err != nil {
			return errors.New("must be an integer")
		}
		if n < lo || n > hi {
			return fmt.Errorf("must be between %d and %d", lo, hi)
		}
		return nil
	})
}

func anySlice(ss []string) []interface{} {
	out := make([]interface{}, len(ss))
	for i, s := range ss {
		out[i] = s
	}
	return out
}

func internalDefaults(id *Identifier) {
	if id.timepoint != "" && id.session == 0 {
		id.session = 1
	}
}

// reservedSubject rejects subject codes that spell a phantom in any
// convention: PHA, <KIND>PHA and PHA<KIND>... Values arrive upper-cased.
func reservedSubject(s string) bool {
	if s == "PHA" {
		return true
	}
	if k, ok := strings.CutSuffix(s, "PHA"); ok && isPhantomKind(k) {
		return true
	}
	if rest, ok := strings.CutPrefix(s, "PHA"); ok {
		for _, k := range phantomKinds {
			if strings.HasPrefix(rest, k) {
				return true
			}
		}
	}
	return false
}

var (
	internalSubject = newGrammar(Internal, KindSubject, internalDefaults,
		fieldRule{name: FieldStudy, expr: alnum, upper: true, rules: []validation.Rule{validation.Length(2, 8)}},
		fieldRule{name: FieldSite, lead: "_", expr: alnum, upper: true, rules: []validation.Rule{validation.Length(2, 6)}},
		fieldRule{name: FieldSubject, lead: "_", expr: alnum, upper: true, reserved: reservedSubject,
			rules: []validation.Rule{validation.Length(1, 16), notPhantomKind}},
		fieldRule{name: FieldTimepoint, lead: "_", expr: digits, optional: true,
			rules: []validation.Rule{twoDigits, between(1, 99)}},
		fieldRule{name: FieldSession, lead: "_SE", expr: digits, numeric: true, width: 2, optional: true,
			rules: []validation.Rule{twoDigits, between(1, 99)}},
	)

	internalPhantom = newGrammar(Internal, KindPhantom, nil,
		fieldRule{name: FieldStudy, expr: alnum, upper: true, rules: []validation.Rule{validation.Length(2, 8)}},
		fieldRule{name: FieldSite, lead: "_", expr: alnum, upper: true, rules: []validation.Rule{validation.Length(2, 6)}},
		fieldRule{name: FieldPhantomKind, lead: "_PHA_", expr: letters, upper: true, rules: []validation.Rule{knownPhantomKind}},
		fieldRule{name: FieldPhantomIndex, lead: "_", expr: digits, numeric: true, width: 2, optional: true,
			rules: []validation.Rule{twoDigits, between(1, 99)}},
	)

	siteSubject = newGrammar(SiteIssued, KindSubject, nil,
		fieldRule{name: FieldStudy, expr: alnum, upper: true, rules: []validation.Rule{validation.Length(2, 8)}},
		fieldRule{name: FieldSite, lead: "_", expr: alnum, upper: true, rules: []validation.Rule{validation.Length(2, 8)}},
		fieldRule{name: FieldSubject, lead: "_", expr: `[A-Za-z0-9][A-Za-z0-9-]*`, upper: true, reserved: reservedSubject,
			rules: []validation.Rule{validation.Length(1, 16), notPhantomKind}},
		fieldRule{name: FieldTimepoint, lead: "_", expr: alnum, upper: true, optional: true,
			rules: []validation.Rule{validation.Length(1, 8)}},
		fieldRule{name: FieldSession, lead: "_", expr: digits, numeric: true, width: 2, optional: true,
			rules: []validation.Rule{validation.Length(1, 3), between(1, 999)}},
	)

	sitePhantom = newGrammar(SiteIssued, KindPhantom, nil,
		fieldRule{name: FieldStudy, expr: alnum, upper: true, rules: []validation.Rule{validation.Length(2, 8)}},
		fieldRule{name: FieldSite, lead: "_", expr: alnum, upper: true, rules: []validation.Rule{validation.Length(2, 8)}},
		fieldRule{name: FieldPhantomKind, lead: "_", trail: "PHA", expr: letters, upper: true, rules: []validation.Rule{knownPhantomKind}},
		fieldRule{name: FieldPhantomIndex, lead: "_", expr: digits, numeric: true, width: 4, optional: true,
			rules: []validation.Rule{validation.Length(1, 4), between(1, 9999)}},
	)

	interchangeSubject = newGrammar(Interchange, KindSubject, nil,
		fieldRule{name: FieldSubject, lead: "sub-", expr: alnum, upper: true, reserved: reservedSubject,
			rules: []validation.Rule{validation.Length(1, 32), notPhantomKind}},
		fieldRule{name: FieldTimepoint, lead: "_ses-", expr: alnum, upper: true, optional: true,
			rules: []validation.Rule{validation.Length(1, 16)}},
	)

	interchangePhantom = newGrammar(Interchange, KindPhantom, nil,
		fieldRule{name: FieldPhantomKind, lead: "sub-PHA", expr: letters, upper: true, rules: []validation.Rule{knownPhantomKind}},
		fieldRule{name: FieldPhantomIndex, expr: digits, numeric: true, width: 2, optional: true,
			rules: []validation.Rule{validation.Length(1, 4), between(1, 9999)}},
	)
)

// registry is ordered by parse precedence and never modified after init.
var registry = []*grammar{
	internalSubject, internalPhantom,
	siteSubject, sitePhantom,
	interchangeSubject, interchangePhantom,
}

// candidates returns the grammars to try for a convention and kind, in
// precedence order. A zero convention means all of them.
func candidates(conv Convention, kind EntityKind) []*grammar {
	out := make([]*grammar, 0, len(registry))
	for _, g := range registry {
		if conv != 0 && g.convention != conv {
			continue
		}
		if (kind == KindSubject || kind == KindPhantom) && g.kind != kind {
			continue
		}
		out = append(out, g)
	}
	return out
}

func grammarFor(conv Convention, phantom bool) *grammar {
	kind := KindSubject
	if phantom {
		kind = KindPhantom
	}
	for _, g := range registry {
		if g.convention == conv && g.kind == kind {
			return g
		}
	}
	return nil
}
