package httputil

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestError_EnvelopeShape(t *testing.T) {
	rec := httptest.NewRecorder()
	Error(rec, http.StatusForbidden, "forbidden")

	if rec.Code != http.StatusForbidden {
		t.Fatalf("status = %d, want 403", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/json; charset=utf-8" {
		t.Errorf("content type = %q", ct)
	}
	var body ErrorResponse
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode envelope: %v", err)
	}
	if body.Error != "forbidden" {
		t.Errorf("error = %q, want forbidden", body.Error)
	}
}

func TestDecode_RejectsMalformedAndOversizedBodies(t *testing.T) {
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader("{not json"))
	var dst map[string]any
	if Decode(rec, req, &dst) {
		t.Error("Decode accepted malformed JSON")
	}
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}

	rec = httptest.NewRecorder()
	huge := `{"pad":"` + strings.Repeat("x", maxBodyBytes+1) + `"}`
	req = httptest.NewRequest(http.MethodPost, "/", strings.NewReader(huge))
	if Decode(rec, req, &dst) {
		t.Error("Decode accepted a body over the size cap")
	}
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}

func TestInternalError_NeverLeaksTheCause(t *testing.T) {
	rec := httptest.NewRecorder()
	InternalError(rec, errSecret{})

	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", rec.Code)
	}
	if strings.Contains(rec.Body.String(), "connection string") {
		t.Error("internal error detail reached the client")
	}
}

type errSecret struct{}

func (errSecret) Error() string { return "pq: bad connection string with credentials" }
