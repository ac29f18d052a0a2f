package endpoint

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/mailru/easyjson/jwriter"
)

var errSentinel = errors.New("json encode error")

type jsonBadValue struct{}

func (jsonBadValue) MarshalJSON() ([]byte, error) {
	return nil, errSentinel
}

// easyValue marshals itself with easyjson, the way generated code does.
type easyValue struct {
	Name string
}

func (v easyValue) MarshalEasyJSON(w *jwriter.Writer) {
	w.RawByte('{')
	w.RawString(`"name":`)
	w.String(v.Name)
	w.RawByte('}')
}

func TestJSONRenderer_SetsContentTypeAndEncodesBody(t *testing.T) {
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/", nil)

	r := JSONRenderer{Value: map[string]string{"hello": "<world>"}}
	if err := r.Render(rec, req); err != nil {
		t.Fatalf("Render returned error: %v", err)
	}

	resp := rec.Result()
	if got := resp.Header.Get("Content-Type"); got != "application/json; charset=utf-8" {
		t.Fatalf("expected Content-Type %q, got %q", "application/json; charset=utf-8", got)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected status %d, got %d", http.StatusOK, resp.StatusCode)
	}
	if got := rec.Body.String(); got != `{"hello":"<world>"}` {
		t.Fatalf("expected unescaped body, got %q", got)
	}
}

func TestJSONRenderer_Easyjson(t *testing.T) {
	rec := httptest.NewRecorder()
	r := JSONRenderer{Value: easyValue{Name: "x"}, Status: http.StatusCreated}
	if err := r.Render(rec, httptest.NewRequest(http.MethodGet, "/", nil)); err != nil {
		t.Fatalf("Render returned error: %v", err)
	}
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected status %d, got %d", http.StatusCreated, rec.Code)
	}
	if got := rec.Body.String(); got != `{"name":"x"}` {
		t.Fatalf("expected easyjson body, got %q", got)
	}
}

func TestJSONRenderer_EncodeError_SendsNothing(t *testing.T) {
	rec := httptest.NewRecorder()
	r := JSONRenderer{Value: jsonBadValue{}}
	err := r.Render(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	if !errors.Is(err, errSentinel) {
		t.Fatalf("expected sentinel error, got %v", err)
	}
	if rec.Body.Len() != 0 {
		t.Fatalf("expected no body, got %q", rec.Body.String())
	}
}
