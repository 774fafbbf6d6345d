package api

import (
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/starford/mrtrack/internal/catalog"
	"github.com/starford/mrtrack/internal/scanid"
	"github.com/starford/mrtrack/internal/scanservice"
)

// Handler holds API route handlers.
type Handler struct {
	svc *scanservice.Service
}

// NewHandler creates a new Handler.
func NewHandler(svc *scanservice.Service) *Handler {
	return &Handler{svc: svc}
}

// scanPath extracts the scan path from the URL (everything after /api/scans/).
// Supports encoded slashes.
func scanPath(r *http.Request) string {
	raw := strings.TrimPrefix(chi.URLParam(r, "*"), "/")
	if raw == "" {
		return ""
	}
	decoded, err := url.PathUnescape(raw)
	if err != nil {
		return raw
	}
	return decoded
}

func optionalConvention(s string) (scanid.Convention, error) {
	if strings.TrimSpace(s) == "" {
		return 0, nil
	}
	return scanid.ParseConvention(s)
}

// ParseIdentifier handles POST /api/identifiers/parse.
//
//	@Summary		Parse a label or scan file name
//	@Tags			identifiers
//	@Accept			json
//	@Produce		json
//	@Param			body	body		ParseRequest	true	"Identifier to parse"
//	@Success		200		{object}	IdentifierResponse
//	@Failure		400		{object}	errResponse
//	@Failure		422		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/identifiers/parse [post]
func (h *Handler) ParseIdentifier(w http.ResponseWriter, r *http.Request) {
	var req ParseRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody(err.Error()))
		return
	}
	if req.Raw == "" {
		writeJSON(w, http.StatusBadRequest, errorBody("raw is required"))
		return
	}
	conv, err := optionalConvention(req.Convention)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody(err.Error()))
		return
	}
	kind, err := scanid.ParseKind(req.Kind)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody(err.Error()))
		return
	}

	var id scanid.Identifier
	if kind == scanid.KindFile {
		id, err = h.svc.ParseFile(r.Context(), req.Raw, conv)
	} else {
		id, err = h.svc.ParseLabel(r.Context(), req.Raw, conv, kind)
	}
	if err != nil {
		writeError(w, "parse identifier", err)
		return
	}
	writeJSON(w, http.StatusOK, IdentifierResponse{Identifier: id, Labels: labelsOf(id)})
}

// TranslateIdentifier handles POST /api/identifiers/translate.
//
//	@Summary		Translate an identifier into another convention
//	@Tags			identifiers
//	@Accept			json
//	@Produce		json
//	@Param			body	body		TranslateRequest	true	"Identifier and target convention"
//	@Success		200		{object}	TranslateResponse
//	@Failure		400		{object}	errResponse
//	@Failure		404		{object}	errResponse
//	@Failure		422		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/identifiers/translate [post]
func (h *Handler) TranslateIdentifier(w http.ResponseWriter, r *http.Request) {
	var req TranslateRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody(err.Error()))
		return
	}
	if req.Raw == "" || req.To == "" {
		writeJSON(w, http.StatusBadRequest, errorBody("raw and to are required"))
		return
	}
	from, err := optionalConvention(req.From)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody(err.Error()))
		return
	}
	to, err := scanid.ParseConvention(req.To)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody(err.Error()))
		return
	}

	src, err := h.svc.ParseLabel(r.Context(), req.Raw, from, scanid.KindAny)
	if err != nil {
		writeError(w, "translate identifier", err)
		return
	}
	out, err := h.svc.Translate(r.Context(), src, to)
	if err != nil {
		writeError(w, "translate identifier", err)
		return
	}
	writeJSON(w, http.StatusOK, TranslateResponse{Source: src, Target: out})
}

// MatchIdentifiers handles POST /api/identifiers/match.
//
//	@Summary		Compare two identifiers
//	@Tags			identifiers
//	@Accept			json
//	@Produce		json
//	@Param			body	body		MatchRequest	true	"Identifiers to compare"
//	@Success		200		{object}	scanservice.MatchResult
//	@Failure		400		{object}	errResponse
//	@Failure		422		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/identifiers/match [post]
func (h *Handler) MatchIdentifiers(w http.ResponseWriter, r *http.Request) {
	var req MatchRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody(err.Error()))
		return
	}
	if req.A == "" || req.B == "" {
		writeJSON(w, http.StatusBadRequest, errorBody("a and b are required"))
		return
	}
	ignore, err := scanservice.ParseIgnore(req.Ignore)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody(err.Error()))
		return
	}
	res, err := h.svc.Match(r.Context(), req.A, req.B, scanservice.MatchOptions{Ignore: ignore, Canonical: req.Canonical})
	if err != nil {
		writeError(w, "match identifiers", err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// ListScans handles GET /api/scans.
//
//	@Summary		List catalogued scans
//	@Tags			scans
//	@Produce		json
//	@Param			study		query		string	false	"Study code (Internal or own)"
//	@Param			site		query		string	false	"Site code"
//	@Param			subject		query		string	false	"Subject code (Internal or own)"
//	@Param			convention	query		string	false	"Naming convention"
//	@Param			phantom		query		bool	false	"Only phantoms or only subjects"
//	@Param			limit		query		int		false	"Page size"
//	@Param			offset		query		int		false	"Page offset"
//	@Success		200			{object}	ScanListResponse
//	@Security		BearerAuth
//	@Router			/scans [get]
func (h *Handler) ListScans(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f := catalog.Filter{
		Study:   q.Get("study"),
		Site:    q.Get("site"),
		Subject: q.Get("subject"),
	}
	f.Limit, _ = strconv.Atoi(q.Get("limit"))
	f.Offset, _ = strconv.Atoi(q.Get("offset"))
	if c := q.Get("convention"); c != "" {
		conv, err := scanid.ParseConvention(c)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, errorBody(err.Error()))
			return
		}
		f.Convention = conv.String()
	}
	if p := q.Get("phantom"); p != "" {
		b, err := strconv.ParseBool(p)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, errorBody("phantom must be a boolean"))
			return
		}
		f.Phantom = &b
	}

	scans, total, err := h.svc.ListScans(r.Context(), f)
	if err != nil {
		writeError(w, "list scans", err)
		return
	}
	writeJSON(w, http.StatusOK, ScanListResponse{Scans: scans, Total: total})
}

// GetScan handles GET /api/scans/*.
//
//	@Summary		Get one catalogued scan by path
//	@Tags			scans
//	@Produce		json
//	@Param			path	path		string	true	"Scan path under the incoming root"
//	@Success		200		{object}	models.Scan
//	@Failure		404		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/scans/{path} [get]
func (h *Handler) GetScan(w http.ResponseWriter, r *http.Request) {
	p := scanPath(r)
	if p == "" {
		writeJSON(w, http.StatusBadRequest, errorBody("path is required"))
		return
	}
	scan, err := h.svc.GetScan(r.Context(), p)
	if err != nil {
		writeError(w, "get scan", err)
		return
	}
	writeJSON(w, http.StatusOK, scan)
}

// RelabelScan handles POST /api/scans/relabel.
//
//	@Summary		Rename a scan file to its Internal canonical name
//	@Tags			scans
//	@Accept			json
//	@Produce		json
//	@Param			body	body		RelabelRequest	true	"File to rename"
//	@Success		200		{object}	scanservice.RelabelResult
//	@Failure		409		{object}	errResponse
//	@Failure		422		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/scans/relabel [post]
func (h *Handler) RelabelScan(w http.ResponseWriter, r *http.Request) {
	var req RelabelRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody(err.Error()))
		return
	}
	if req.Path == "" {
		writeJSON(w, http.StatusBadRequest, errorBody("path is required"))
		return
	}
	res, err := h.svc.Relabel(r.Context(), req.Path, req.DryRun)
	if err != nil {
		writeError(w, "relabel scan", err)
		return
	}
	if res.Changed && !res.DryRun {
		slog.Info("scan relabelled", slog.String("from", res.From), slog.String("to", res.To))
	}
	writeJSON(w, http.StatusOK, res)
}

// Sessions handles GET /api/subjects/{study}/{subject}/sessions.
//
//	@Summary		List a subject's visits
//	@Tags			scans
//	@Produce		json
//	@Param			study	path		string	true	"Internal study code"
//	@Param			subject	path		string	true	"Internal subject code"
//	@Success		200		{object}	SessionsResponse
//	@Failure		404		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/subjects/{study}/{subject}/sessions [get]
func (h *Handler) Sessions(w http.ResponseWriter, r *http.Request) {
	study, subject := chi.URLParam(r, "study"), chi.URLParam(r, "subject")
	sessions, err := h.svc.Sessions(r.Context(), study, subject)
	if err != nil {
		writeError(w, "sessions", err)
		return
	}
	writeJSON(w, http.StatusOK, SessionsResponse{
		Study:    strings.ToUpper(study),
		Subject:  strings.ToUpper(subject),
		Sessions: sessions,
	})
}

// Rejects handles GET /api/rejects.
//
//	@Summary		List files the catalog could not take
//	@Tags			scans
//	@Produce		json
//	@Param			limit	query		int	false	"Page size"
//	@Param			offset	query		int	false	"Page offset"
//	@Success		200		{object}	RejectListResponse
//	@Security		BearerAuth
//	@Router			/rejects [get]
func (h *Handler) Rejects(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))
	rejects, total, err := h.svc.Rejects(r.Context(), limit, offset)
	if err != nil {
		writeError(w, "rejects", err)
		return
	}
	writeJSON(w, http.StatusOK, RejectListResponse{Rejects: rejects, Total: total})
}

// Search handles GET /api/search.
//
//	@Summary		Substring search across scan paths and labels
//	@Tags			search
//	@Produce		json
//	@Param			q		query		string	true	"Search query"
//	@Param			limit	query		int		false	"Max results"
//	@Success		200		{object}	SearchResponse
//	@Failure		400		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/search [get]
func (h *Handler) Search(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query().Get("q")
	if q == "" {
		writeJSON(w, http.StatusBadRequest, errorBody("query parameter 'q' is required"))
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	results, err := h.svc.Search(r.Context(), q, limit)
	if err != nil {
		writeError(w, "search", err)
		return
	}
	writeJSON(w, http.StatusOK, SearchResponse{Results: results})
}
