package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/starford/mrtrack/internal/scanservice"
	"github.com/starford/mrtrack/internal/testutil"
)

// testEnv sets up a temp incoming root, SQLite catalog, service, and router.
// An empty authToken means disabled mode.
func testEnv(t *testing.T, authToken string) (*scanservice.Service, http.Handler, string) {
	t.Helper()
	dir, svc := testutil.TestService(t)
	router := NewRouter(svc, authToken != "", authToken, nil)
	return svc, router, dir
}

func do(t *testing.T, router http.Handler, method, target string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatal(err)
		}
	}
	req := httptest.NewRequest(method, target, &buf)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode %q: %v", w.Body.String(), err)
	}
	return out
}

func TestParseIdentifier(t *testing.T) {
	_, router, _ := testEnv(t, "")

	w := do(t, router, http.MethodPost, "/identifiers/parse", ParseRequest{Raw: "STU01_UTO_10001_01_SE02"})
	if w.Code != http.StatusOK {
		t.Fatalf("parse status = %d, body = %s", w.Code, w.Body.String())
	}
	var resp struct {
		Identifier map[string]any `json:"identifier"`
		Labels     LabelSet       `json:"labels"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if resp.Identifier["convention"] != "internal" {
		t.Errorf("convention = %v", resp.Identifier["convention"])
	}
	if resp.Labels.Subject != "STU01_UTO_10001" {
		t.Errorf("subject label = %q", resp.Labels.Subject)
	}
	if resp.Labels.FullWithTimepoint != "STU01_UTO_10001_01" {
		t.Errorf("timepoint label = %q", resp.Labels.FullWithTimepoint)
	}
}

func TestParseIdentifier_File(t *testing.T) {
	_, router, _ := testEnv(t, "")

	w := do(t, router, http.MethodPost, "/identifiers/parse", ParseRequest{
		Raw:  "STU01_UTO_10001_01_SE01_T1_03.nii.gz",
		Kind: "file",
	})
	if w.Code != http.StatusOK {
		t.Fatalf("parse file status = %d, body = %s", w.Code, w.Body.String())
	}
	id := decode(t, w)["identifier"].(map[string]any)
	if id["tag"] != "T1" || id["extension"] != ".nii.gz" {
		t.Errorf("file fields = %v", id)
	}
}

func TestParseIdentifier_FieldValidation(t *testing.T) {
	_, router, _ := testEnv(t, "")

	w := do(t, router, http.MethodPost, "/identifiers/parse", ParseRequest{
		Raw:        "STU01_UTO_10001_01_SE00",
		Convention: "internal",
	})
	if w.Code != http.StatusUnprocessableEntity {
		t.Fatalf("invalid session = %d, want 422", w.Code)
	}
	body := decode(t, w)
	if body["kind"] != "field_validation" || body["field"] != "session" {
		t.Errorf("error body = %v", body)
	}
}

func TestParseIdentifier_BadRequest(t *testing.T) {
	_, router, _ := testEnv(t, "")

	tests := []struct {
		name string
		body any
	}{
		{"missing raw", ParseRequest{}},
		{"bad convention", ParseRequest{Raw: "x", Convention: "dicom"}},
		{"bad kind", ParseRequest{Raw: "x", Kind: "animal"}},
		{"unknown field", map[string]string{"raw": "x", "colour": "red"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := do(t, router, http.MethodPost, "/identifiers/parse", tt.body)
			if w.Code != http.StatusBadRequest {
				t.Errorf("status = %d, want 400", w.Code)
			}
		})
	}
}

func TestTranslateIdentifier(t *testing.T) {
	_, router, _ := testEnv(t, "")

	w := do(t, router, http.MethodPost, "/identifiers/translate", TranslateRequest{
		Raw: "STX01_UTP_A-17_01",
		To:  "internal",
	})
	if w.Code != http.StatusOK {
		t.Fatalf("translate status = %d, body = %s", w.Code, w.Body.String())
	}
	target := decode(t, w)["target"].(map[string]any)
	if target["label"] != "STU01_UTO_10001_01_SE01" {
		t.Errorf("target label = %v", target["label"])
	}
}

func TestTranslateIdentifier_Unmapped(t *testing.T) {
	_, router, _ := testEnv(t, "")

	w := do(t, router, http.MethodPost, "/identifiers/translate", TranslateRequest{
		Raw: "STU01_UTO_10002",
		To:  "site-issued",
	})
	if w.Code != http.StatusUnprocessableEntity {
		t.Fatalf("unmapped = %d, want 422", w.Code)
	}
	if kind := decode(t, w)["kind"]; kind != "unmapped_identifier" {
		t.Errorf("kind = %v", kind)
	}
}

func TestTranslateIdentifier_UnknownStudy(t *testing.T) {
	_, router, _ := testEnv(t, "")

	w := do(t, router, http.MethodPost, "/identifiers/translate", TranslateRequest{
		Raw: "ZZZ99_UTO_10001",
		To:  "site-issued",
	})
	if w.Code != http.StatusNotFound {
		t.Errorf("unknown study = %d, want 404", w.Code)
	}
}

func TestMatchIdentifiers(t *testing.T) {
	_, router, _ := testEnv(t, "")

	w := do(t, router, http.MethodPost, "/identifiers/match", MatchRequest{
		A:      "STU01_UTO_10001_01_SE01",
		B:      "STU01_UTO_10001_01_SE02",
		Ignore: []string{"session"},
	})
	if w.Code != http.StatusOK {
		t.Fatalf("match status = %d, body = %s", w.Code, w.Body.String())
	}
	if decode(t, w)["match"] != true {
		t.Errorf("expected match ignoring session: %s", w.Body.String())
	}

	w = do(t, router, http.MethodPost, "/identifiers/match", MatchRequest{
		A:      "STU01_UTO_10001",
		B:      "STU01_UTO_10001",
		Ignore: []string{"colour"},
	})
	if w.Code != http.StatusBadRequest {
		t.Errorf("unknown ignore field = %d, want 400", w.Code)
	}
}

func TestListAndGetScans(t *testing.T) {
	svc, router, dir := testEnv(t, "")
	testutil.WriteFile(t, dir, "STU01_UTO_10001_01_SE01_T1_02.nii.gz")
	testutil.WriteFile(t, dir, "site/STX01_UTP_A-17_01_T2_03.nii.gz")
	testutil.WriteFile(t, dir, "STU01_UTO_PHA_FBIRN_01_QA.dcm")
	testutil.WriteFile(t, dir, "notes.txt")
	if _, err := svc.Sync(context.Background()); err != nil {
		t.Fatal(err)
	}

	w := do(t, router, http.MethodGet, "/scans", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("list status = %d", w.Code)
	}
	var list ScanListResponse
	_ = json.Unmarshal(w.Body.Bytes(), &list)
	if list.Total != 3 {
		t.Errorf("total = %d, want 3", list.Total)
	}

	w = do(t, router, http.MethodGet, "/scans?phantom=true", nil)
	_ = json.Unmarshal(w.Body.Bytes(), &list)
	if list.Total != 1 || !list.Scans[0].Phantom {
		t.Errorf("phantom filter = %+v", list)
	}

	w = do(t, router, http.MethodGet, "/scans?phantom=maybe", nil)
	if w.Code != http.StatusBadRequest {
		t.Errorf("bad phantom = %d, want 400", w.Code)
	}

	w = do(t, router, http.MethodGet, "/scans/site/STX01_UTP_A-17_01_T2_03.nii.gz", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("get status = %d", w.Code)
	}
	scan := decode(t, w)
	if scan["internal_label"] != "STU01_UTO_10001_01_SE01" {
		t.Errorf("internal_label = %v", scan["internal_label"])
	}
}

func TestGetScan_NotFound(t *testing.T) {
	_, router, _ := testEnv(t, "")

	w := do(t, router, http.MethodGet, "/scans/nope.nii", nil)
	if w.Code != http.StatusNotFound {
		t.Errorf("missing scan = %d, want 404", w.Code)
	}
}

func TestRelabelScan(t *testing.T) {
	svc, router, dir := testEnv(t, "")
	testutil.WriteFile(t, dir, "STX01_UTP_A-17_01_T1.nii")
	if _, err := svc.Sync(context.Background()); err != nil {
		t.Fatal(err)
	}

	w := do(t, router, http.MethodPost, "/scans/relabel", RelabelRequest{Path: "STX01_UTP_A-17_01_T1.nii"})
	if w.Code != http.StatusOK {
		t.Fatalf("relabel status = %d, body = %s", w.Code, w.Body.String())
	}
	var res scanservice.RelabelResult
	_ = json.Unmarshal(w.Body.Bytes(), &res)
	if res.To != "STU01_UTO_10001_01_SE01_T1.nii" || !res.Changed {
		t.Errorf("relabel = %+v", res)
	}

	w = do(t, router, http.MethodGet, "/scans/"+res.To, nil)
	if w.Code != http.StatusOK {
		t.Errorf("relabelled scan = %d, want 200", w.Code)
	}
}

func TestRelabelScan_Conflict(t *testing.T) {
	_, router, dir := testEnv(t, "")
	testutil.WriteFile(t, dir, "STX01_UTP_A-17_01_T1.nii")
	testutil.WriteFile(t, dir, "STU01_UTO_10001_01_SE01_T1.nii")

	w := do(t, router, http.MethodPost, "/scans/relabel", RelabelRequest{Path: "STX01_UTP_A-17_01_T1.nii"})
	if w.Code != http.StatusConflict {
		t.Errorf("relabel onto existing = %d, want 409", w.Code)
	}
}

func TestSessions(t *testing.T) {
	svc, router, dir := testEnv(t, "")
	testutil.WriteFile(t, dir, "STU01_UTO_10001_01_SE01_T1.nii")
	testutil.WriteFile(t, dir, "STU01_UTO_10001_02_SE01_T1.nii")
	if _, err := svc.Sync(context.Background()); err != nil {
		t.Fatal(err)
	}

	w := do(t, router, http.MethodGet, "/subjects/stu01/10001/sessions", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("sessions status = %d", w.Code)
	}
	var resp SessionsResponse
	_ = json.Unmarshal(w.Body.Bytes(), &resp)
	if resp.Study != "STU01" || len(resp.Sessions) != 2 {
		t.Errorf("sessions = %+v", resp)
	}

	w = do(t, router, http.MethodGet, "/subjects/NOPE/1/sessions", nil)
	if w.Code != http.StatusNotFound {
		t.Errorf("unknown study = %d, want 404", w.Code)
	}
}

func TestRejectsEndpoint(t *testing.T) {
	svc, router, dir := testEnv(t, "")
	testutil.WriteFile(t, dir, "readme.txt")
	testutil.WriteFile(t, dir, "ZZZ99_UTO_10001_01_SE01_T1.nii")
	if _, err := svc.Sync(context.Background()); err != nil {
		t.Fatal(err)
	}

	w := do(t, router, http.MethodGet, "/rejects", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("rejects status = %d", w.Code)
	}
	var resp RejectListResponse
	_ = json.Unmarshal(w.Body.Bytes(), &resp)
	if resp.Total != 2 {
		t.Errorf("total = %d, want 2", resp.Total)
	}
	kinds := map[string]string{}
	for _, r := range resp.Rejects {
		kinds[r.Path] = r.Kind
	}
	if kinds["ZZZ99_UTO_10001_01_SE01_T1.nii"] != "unknown_study" {
		t.Errorf("rejects = %v", kinds)
	}
}

func TestSearchEndpoint(t *testing.T) {
	svc, router, dir := testEnv(t, "")
	testutil.WriteFile(t, dir, "STU01_UTO_10001_01_SE01_T2_flair_04.nii.gz")
	testutil.WriteFile(t, dir, "STU01_UTO_10001_01_SE01_T1_02.nii.gz")
	if _, err := svc.Sync(context.Background()); err != nil {
		t.Fatal(err)
	}

	w := do(t, router, http.MethodGet, "/search?q=flair", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("search status = %d", w.Code)
	}
	var resp SearchResponse
	_ = json.Unmarshal(w.Body.Bytes(), &resp)
	if len(resp.Results) != 1 {
		t.Errorf("results = %d, want 1", len(resp.Results))
	}
}

func TestSearchMissingQuery(t *testing.T) {
	_, router, _ := testEnv(t, "")

	w := do(t, router, http.MethodGet, "/search", nil)
	if w.Code != http.StatusBadRequest {
		t.Errorf("search no query = %d, want 400", w.Code)
	}
}

func TestAuthMiddleware_ValidToken(t *testing.T) {
	_, router, _ := testEnv(t, "secret123")

	req := httptest.NewRequest(http.MethodGet, "/scans", nil)
	req.Header.Set("Authorization", "Bearer secret123")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Errorf("authed list = %d, want 200", w.Code)
	}
}

func TestAuthMiddleware_MissingToken(t *testing.T) {
	_, router, _ := testEnv(t, "secret123")

	w := do(t, router, http.MethodGet, "/scans", nil)
	if w.Code != http.StatusUnauthorized {
		t.Errorf("unauthed = %d, want 401", w.Code)
	}
	if w.Header().Get("WWW-Authenticate") == "" {
		t.Error("missing WWW-Authenticate header")
	}
}

func TestAuthMiddleware_WrongToken(t *testing.T) {
	_, router, _ := testEnv(t, "secret123")

	req := httptest.NewRequest(http.MethodGet, "/scans", nil)
	req.Header.Set("Authorization", "Bearer wrong")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != http.StatusUnauthorized {
		t.Errorf("wrong token = %d, want 401", w.Code)
	}
}

func TestAuthMiddleware_Disabled(t *testing.T) {
	_, router, _ := testEnv(t, "")

	w := do(t, router, http.MethodGet, "/scans", nil)
	if w.Code != http.StatusOK {
		t.Errorf("no auth = %d, want 200", w.Code)
	}
}

// SSE endpoint auth tests.

func TestSSEEvents_AuthProtected(t *testing.T) {
	router := testEnvWithSSE(t, true, "secret")

	req := httptest.NewRequest(http.MethodGet, "/events", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != http.StatusUnauthorized {
		t.Errorf("SSE no auth = %d, want 401", w.Code)
	}
}

func TestSSEEvents_AuthDisabled(t *testing.T) {
	router := testEnvWithSSE(t, false, "")

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	req := httptest.NewRequest(http.MethodGet, "/events", nil).WithContext(ctx)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code == http.StatusUnauthorized {
		t.Error("SSE should not require auth when disabled")
	}
}

func TestSSEEvents_ValidToken(t *testing.T) {
	router := testEnvWithSSE(t, true, "tok")

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	req := httptest.NewRequest(http.MethodGet, "/events", nil).WithContext(ctx)
	req.Header.Set("Authorization", "Bearer tok")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code == http.StatusUnauthorized {
		t.Error("SSE with valid token should not 401")
	}
}

// testEnvWithSSE creates a router with a stub SSE handler to test auth on /events.
func testEnvWithSSE(t *testing.T, authEnabled bool, token string) http.Handler {
	t.Helper()
	_, svc := testutil.TestService(t)

	sseHandler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		w.WriteHeader(http.StatusOK)
		<-r.Context().Done()
	})
	return NewRouter(svc, authEnabled, token, sseHandler)
}
