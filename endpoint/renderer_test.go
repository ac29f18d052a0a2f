package endpoint

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestStringRenderer_SetsContentTypeAndBody(t *testing.T) {
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/", nil)

	r := StringRenderer{Body: "hello"}
	if err := r.Render(rec, req); err != nil {
		t.Fatalf("Render returned error: %v", err)
	}

	resp := rec.Result()
	if got := resp.Header.Get("Content-Type"); got != "text/plain; charset=utf-8" {
		t.Fatalf("expected Content-Type %q, got %q", "text/plain; charset=utf-8", got)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected status %d, got %d", http.StatusOK, resp.StatusCode)
	}
	if got := rec.Body.String(); got != "hello" {
		t.Fatalf("expected body %q, got %q", "hello", got)
	}
}

func TestStringRenderer_DoesNotOverrideExistingContentType(t *testing.T) {
	rec := httptest.NewRecorder()
	rec.Header().Set("Content-Type", "text/custom")

	r := StringRenderer{Body: "hello", ContentType: "text/other", Status: http.StatusAccepted}
	if err := r.Render(rec, httptest.NewRequest(http.MethodGet, "/", nil)); err != nil {
		t.Fatalf("Render returned error: %v", err)
	}
	if got := rec.Header().Get("Content-Type"); got != "text/custom" {
		t.Fatalf("expected Content-Type %q, got %q", "text/custom", got)
	}
	if rec.Code != http.StatusAccepted {
		t.Fatalf("expected status %d, got %d", http.StatusAccepted, rec.Code)
	}
}

func TestNoContentRenderer(t *testing.T) {
	rec := httptest.NewRecorder()
	if err := (&NoContentRenderer{}).Render(rec, httptest.NewRequest(http.MethodOptions, "/", nil)); err != nil {
		t.Fatal(err)
	}
	if rec.Code != http.StatusNoContent || rec.Body.Len() != 0 {
		t.Fatalf("expected empty 204, got %d %q", rec.Code, rec.Body.String())
	}

	rec = httptest.NewRecorder()
	(&NoContentRenderer{Status: http.StatusResetContent}).Render(rec, nil)
	if rec.Code != http.StatusResetContent {
		t.Fatalf("expected status %d, got %d", http.StatusResetContent, rec.Code)
	}
}
