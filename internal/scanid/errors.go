package scanid

import (
	"errors"
	"fmt"
	"strings"
)

// Failure kinds. Every error returned by this package wraps exactly one.
var (
	ErrGrammarMismatch      = errors.New("no grammar matched")
	ErrFieldValidation      = errors.New("field failed validation")
	ErrAmbiguousTranslation = errors.New("ambiguous translation")
	ErrUnmappedIdentifier   = errors.New("unmapped identifier")
	ErrUnrenderable         = errors.New("unrenderable identifier")
)

// ParseError reports a raw string that could not become an Identifier.
type ParseError struct {
	Raw  string
	Kind EntityKind
	// Tried lists the conventions attempted, in order.
	Tried []Convention
	// Convention and Field are set for field validation failures.
	Convention Convention
	Field      Field
	Err        error
	Cause      error
}

func (e *ParseError) Error() string {
	if errors.Is(e.Err, ErrFieldValidation) {
		return fmt.Sprintf("scanid: %q: %s %s: %v", e.Raw, e.Convention, e.Field, e.Cause)
	}
	return fmt.Sprintf("scanid: %q: no %s grammar matched (tried %s)", e.Raw, e.Kind, joinConventions(e.Tried))
}

func (e *ParseError) Unwrap() error { return e.Err }

// TranslationError reports a failed cross-convention translation.
type TranslationError struct {
	Source     string
	From, To   Convention
	Field      Field
	Candidates []string
	Reason     string
	Err        error
}

func (e *TranslationError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "scanid: translate %s from %s to %s: %v", e.Source, e.From, e.To, e.Err)
	if e.Field != "" {
		fmt.Fprintf(&b, " (field %s)", e.Field)
	}
	if len(e.Candidates) > 0 {
		fmt.Fprintf(&b, " candidates [%s]", strings.Join(e.Candidates, ", "))
	}
	if e.Reason != "" {
		b.WriteString(": ")
		b.WriteString(e.Reason)
	}
	return b.String()
}

func (e *TranslationError) Unwrap() error { return e.Err }

// RenderError reports a field combination a grammar cannot express.
type RenderError struct {
	Convention Convention
	Kind       EntityKind
	Field      Field
	Reason     string
}

func (e *RenderError) Error() string {
	return fmt.Sprintf("scanid: cannot render %s %s: %s: %s", e.Convention, e.Kind, e.Field, e.Reason)
}

func (e *RenderError) Unwrap() error { return ErrUnrenderable }

// KindOf returns a stable snake_case name for the failure kind wrapped by
// err, or "" when err does not come from this package.
func KindOf(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrGrammarMismatch):
		return "grammar_mismatch"
	case errors.Is(err, ErrFieldValidation):
		return "field_validation"
	case errors.Is(err, ErrAmbiguousTranslation):
		return "ambiguous_translation"
	case errors.Is(err, ErrUnmappedIdentifier):
		return "unmapped_identifier"
	case errors.Is(err, ErrUnrenderable):
		return "unrenderable_identifier"
	}
	return ""
}

// FieldOf returns the field an error is about, if it names one.
func FieldOf(err error) Field {
	var pe *ParseError
	if errors.As(err, &pe) {
		return pe.Field
	}
	var te *TranslationError
	if errors.As(err, &te) {
		return te.Field
	}
	var re *RenderError
	if errors.As(err, &re) {
		return re.Field
	}
	return ""
}

func joinConventions(cs []Convention) string {
	parts := make([]string, len(cs))
	for i, c := range cs {
		parts[i] = c.String()
	}
	return strings.Join(parts, ", ")
}
