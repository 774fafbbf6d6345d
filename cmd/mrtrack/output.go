package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strconv"

	"github.com/mattn/go-isatty"

	"github.com/starford/mrtrack/internal/scanid"
)

// printer writes tables to a terminal and JSON everywhere else.
type printer struct {
	w    io.Writer
	json bool
}

func newPrinter(w io.Writer, forceJSON bool) printer {
	return printer{w: w, json: forceJSON || !isTerminal(w)}
}

func isTerminal(w io.Writer) bool {
	file, ok := w.(*os.File)
	if !ok {
		return false
	}
	fd := file.Fd()
	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}

func (p printer) JSON(v any) error {
	enc := json.NewEncoder(p.w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func (p printer) Table(headers []string, rows [][]string, aligns ...columnAlignment) error {
	_, err := fmt.Fprintln(p.w, renderTable(headers, rows, aligns))
	return err
}

// parseResult is one line of `mrtrack parse` output.
type parseResult struct {
	Input      string             `json:"input"`
	Identifier *scanid.Identifier `json:"identifier,omitempty"`
	Error      string             `json:"error,omitempty"`
	Kind       string             `json:"error_kind,omitempty"`
	Field      string             `json:"error_field,omitempty"`
}

func newParseResult(raw string, id scanid.Identifier, err error) parseResult {
	if err != nil {
		return parseResult{
			Input: raw,
			Error: err.Error(),
			Kind:  scanid.KindOf(err),
			Field: string(scanid.FieldOf(err)),
		}
	}
	return parseResult{Input: raw, Identifier: &id}
}

var identifierHeaders = []string{"INPUT", "CONVENTION", "STUDY", "SITE", "SUBJECT", "TIMEPOINT", "SESSION", "LABEL"}

func identifierRow(r parseResult) []string {
	if r.Identifier == nil {
		return []string{r.Input, "-", "", "", "", "", "", r.Kind + ": " + r.Field}
	}
	id := *r.Identifier
	study, _ := id.Study()
	site, _ := id.Site()
	subject, _ := id.Subject()
	if id.IsPhantom() {
		kind, _ := id.PhantomKind()
		subject = "phantom " + kind
	}
	timepoint, _ := id.Timepoint()
	session := ""
	if n, ok := id.Session(); ok {
		session = strconv.Itoa(n)
	}
	return []string{r.Input, id.Convention().String(), study, site, subject, timepoint, session, id.String()}
}
