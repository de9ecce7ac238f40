package response

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestError(t *testing.T) {
	rec := httptest.NewRecorder()
	Error(rec, http.StatusForbidden, "TOKEN_INVALID", "Invalid or expired token", nil)

	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("unexpected content type %q", ct)
	}

	var body map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body["success"] != false || body["code"] != "TOKEN_INVALID" {
		t.Errorf("unexpected body %v", body)
	}
	if _, ok := body["details"]; ok {
		t.Error("expected details to be omitted when empty")
	}
	if _, ok := body["timestamp"]; !ok {
		t.Error("expected timestamp")
	}
}

func TestDecodeRejectsUnknownFields(t *testing.T) {
	req := httptest.NewRequest("POST", "/", strings.NewReader(`{"email":"a@b.c","extra":1}`))
	var dst struct {
		Email string `json:"email"`
	}
	if err := Decode(httptest.NewRecorder(), req, &dst); err == nil {
		t.Fatal("expected error for unknown field")
	}
}
