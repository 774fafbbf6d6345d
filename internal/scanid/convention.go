package scanid

import (
	"fmt"
	"strings"
)

// Convention tags the naming scheme an Identifier belongs to.
type Convention int

const (
	Internal Convention = iota + 1
	SiteIssued
	Interchange
)

// Conventions returns every convention in parse precedence order.
func Conventions() []Convention {
	return []Convention{Internal, SiteIssued, Interchange}
}

func (c Convention) String() string {
	switch c {
	case Internal:
		return "internal"
	case SiteIssued:
		return "site-issued"
	case Interchange:
		return "interchange"
	}
	return fmt.Sprintf("convention(%d)", int(c))
}

// ParseConvention accepts the String form and a few common aliases.
func ParseConvention(s string) (Convention, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "internal":
		return Internal, nil
	case "site-issued", "site", "siteissued":
		return SiteIssued, nil
	case "interchange", "bids":
		return Interchange, nil
	}
	return 0, fmt.Errorf("scanid: unknown convention %q", s)
}

// MarshalText implements encoding.TextMarshaler.
func (c Convention) MarshalText() ([]byte, error) {
	return []byte(c.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (c *Convention) UnmarshalText(text []byte) error {
	v, err := ParseConvention(string(text))
	if err != nil {
		return err
	}
	*c = v
	return nil
}

// EntityKind says what a string denotes: a subject/session label, a phantom
// label or a full scan file name.
type EntityKind int

const (
	KindAny EntityKind = iota
	KindSubject
	KindPhantom
	KindFile
)

func (k EntityKind) String() string {
	switch k {
	case KindAny:
		return "any"
	case KindSubject:
		return "subject"
	case KindPhantom:
		return "phantom"
	case KindFile:
		return "file"
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// ParseKind is the inverse of EntityKind.String. The empty string is KindAny.
func ParseKind(s string) (EntityKind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "any":
		return KindAny, nil
	case "subject":
		return KindSubject, nil
	case "phantom":
		return KindPhantom, nil
	case "file":
		return KindFile, nil
	}
	return 0, fmt.Errorf("scanid: unknown entity kind %q", s)
}

// Field names a logical identifier field.
type Field string

const (
	FieldConvention   Field = "convention"
	FieldStudy        Field = "study"
	FieldSite         Field = "site"
	FieldSubject      Field = "subject"
	FieldPhantomKind  Field = "phantom_kind"
	FieldPhantomIndex Field = "phantom_index"
	FieldTimepoint    Field = "timepoint"
	FieldSession      Field = "session"
	FieldTag          Field = "tag"
	FieldDescription  Field = "description"
	FieldSeries       Field = "series_number"
	FieldExtension    Field = "extension"
)

// identityFields are the fields that name a scan session, as opposed to a file.
var identityFields = []Field{
	FieldStudy, FieldSite, FieldSubject, FieldPhantomKind, FieldPhantomIndex,
	FieldTimepoint, FieldSession,
}

var allFields = []Field{
	FieldConvention,
	FieldStudy, FieldSite, FieldSubject, FieldPhantomKind, FieldPhantomIndex,
	FieldTimepoint, FieldSession,
	FieldTag, FieldDescription, FieldSeries, FieldExtension,
}

// ParseField validates a field name coming from user input.
func ParseField(s string) (Field, error) {
	f := Field(strings.ToLower(strings.TrimSpace(s)))
	for _, known := range allFields {
		if f == known {
			return f, nil
		}
	}
	return "", fmt.Errorf("scanid: unknown field %q", s)
}
