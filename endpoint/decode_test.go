package endpoint

import (
	"bytes"
	"errors"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

type textUpper string

func (t *textUpper) UnmarshalText(b []byte) error {
	*t = textUpper(strings.ToUpper(string(b)))
	return nil
}

type decodeParams struct {
	ID    string   `path:"id"`
	Q     string   `query:"q"`
	N     int      `query:"n"`
	Ok    bool     `query:"ok"`
	Ratio float64  `query:"ratio"`
	P     *int     `query:"p"`
	F     string   `form:"f"`
	Limit uint     `form:"limit"`
	Flag  *bool    `form:"flag"`
	Score *float64 `form:"score"`
}

func serveDecode(t *testing.T, pattern string, req *http.Request, dst any) error {
	t.Helper()
	var decodeErr error
	mux := http.NewServeMux()
	mux.HandleFunc(pattern, func(w http.ResponseWriter, r *http.Request) {
		decodeErr = Unmarshal(r, dst)
	})
	mux.ServeHTTP(httptest.NewRecorder(), req)
	return decodeErr
}

func TestUnmarshal_PathQueryForm(t *testing.T) {
	var p decodeParams
	req := httptest.NewRequest(http.MethodPost, "/users/42?q=hello&n=7&ok=true&ratio=0.5&p=9",
		strings.NewReader("f=x&limit=3&flag=true&score=1.25"))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	if err := serveDecode(t, "/users/{id}", req, &p); err != nil {
		t.Fatalf("Unmarshal returned error: %v", err)
	}
	if p.ID != "42" || p.Q != "hello" || p.N != 7 || !p.Ok || p.Ratio != 0.5 {
		t.Fatalf("unexpected path/query values: %+v", p)
	}
	if p.P == nil || *p.P != 9 {
		t.Fatalf("expected P=9, got %v", p.P)
	}
	if p.F != "x" || p.Limit != 3 || p.Flag == nil || !*p.Flag || p.Score == nil || *p.Score != 1.25 {
		t.Fatalf("unexpected form values: %+v", p)
	}
}

func TestUnmarshal_NonStructParams_ReturnsError(t *testing.T) {
	var n int
	err := Unmarshal(httptest.NewRequest(http.MethodGet, "/", nil), &n)
	var ee *EndpointError
	if !errors.As(err, &ee) || ee.Status != http.StatusInternalServerError {
		t.Fatalf("expected 500 EndpointError, got %v", err)
	}
	if err := Unmarshal(httptest.NewRequest(http.MethodGet, "/", nil), nil); err == nil {
		t.Fatal("expected error for nil dst")
	}
}

func TestUnmarshal_SourcePrecedence(t *testing.T) {
	var p struct {
		Method string `path:"method" query:"~method" form:"~method"`
		Format string `query:"~format" form:"~format"`
	}
	req := httptest.NewRequest(http.MethodPost, "/api/Sum?~method=Other&~format=json",
		strings.NewReader("~method=Third&~format=cbor"))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	if err := serveDecode(t, "/api/{method}", req, &p); err != nil {
		t.Fatal(err)
	}
	if p.Method != "Sum" {
		t.Fatalf("expected path to win, got %q", p.Method)
	}
	if p.Format != "json" {
		t.Fatalf("expected query to beat form, got %q", p.Format)
	}

	var q struct {
		Method string `query:"~method" form:"~method"`
	}
	req = httptest.NewRequest(http.MethodPost, "/", strings.NewReader("~method=Posted"))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	if err := Unmarshal(req, &q); err != nil {
		t.Fatal(err)
	}
	if q.Method != "Posted" {
		t.Fatalf("expected form fallback, got %q", q.Method)
	}
}

func TestUnmarshal_DocumentBodyIsLeftUnread(t *testing.T) {
	var p struct {
		Q string `query:"q" form:"q"`
	}
	body := `{"q":"from-body"}`
	req := httptest.NewRequest(http.MethodPost, "/?q=from-query", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	if err := Unmarshal(req, &p); err != nil {
		t.Fatal(err)
	}
	if p.Q != "from-query" {
		t.Fatalf("expected query value, got %q", p.Q)
	}
	var rest bytes.Buffer
	rest.ReadFrom(req.Body)
	if rest.String() != body {
		t.Fatalf("expected body to remain unread, got %q", rest.String())
	}
}

func TestUnmarshal_MultipartForm_Files(t *testing.T) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	mw.WriteField("title", "report")
	fw, _ := mw.CreateFormFile("upload", "a.txt")
	fw.Write([]byte("content"))
	mw.Close()

	req := httptest.NewRequest(http.MethodPost, "/", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())

	var p struct {
		Title  string                  `form:"title"`
		Upload []*multipart.FileHeader `form:"upload"`
	}
	if err := Unmarshal(req, &p); err != nil {
		t.Fatal(err)
	}
	if p.Title != "report" {
		t.Fatalf("expected title, got %q", p.Title)
	}
	if len(p.Upload) != 1 || p.Upload[0].Filename != "a.txt" {
		t.Fatalf("expected one uploaded file, got %v", p.Upload)
	}
}

func TestUnmarshal_CollectionsAndHeaders(t *testing.T) {
	var p struct {
		IDs   []int    `query:"id"`
		Tags  []string `query:"tags"`
		Agent string   `header:"user-agent"`
	}
	req := httptest.NewRequest(http.MethodGet, "/?id=1&id=2&tags=a,b", nil)
	req.Header.Set("User-Agent", "tester")
	if err := Unmarshal(req, &p); err != nil {
		t.Fatal(err)
	}
	if len(p.IDs) != 2 || p.IDs[1] != 2 {
		t.Fatalf("expected repeated ids, got %v", p.IDs)
	}
	if len(p.Tags) != 2 || p.Tags[0] != "a" {
		t.Fatalf("expected comma-split tags, got %v", p.Tags)
	}
	if p.Agent != "tester" {
		t.Fatalf("expected header value, got %q", p.Agent)
	}
}

func TestUnmarshal_JSONFlag(t *testing.T) {
	var p struct {
		Filter map[string]int `query:"filter,json"`
	}
	req := httptest.NewRequest(http.MethodGet, "/?filter=%7B%22a%22%3A1%7D", nil)
	if err := Unmarshal(req, &p); err != nil {
		t.Fatal(err)
	}
	if p.Filter["a"] != 1 {
		t.Fatalf("expected decoded filter, got %v", p.Filter)
	}

	req = httptest.NewRequest(http.MethodGet, "/?filter=%7B%22a%22%3A", nil)
	err := Unmarshal(req, &p)
	var ee *EndpointError
	if !errors.As(err, &ee) || ee.Status != http.StatusBadRequest {
		t.Fatalf("expected 400, got %v", err)
	}
}

func TestUnmarshal_MaxLength(t *testing.T) {
	var p struct {
		Short string `query:"s" maxLength:"3"`
		Free  string `query:"f" maxLength:""`
		Bad   string `query:"b" maxLength:"x"`
	}

	req := httptest.NewRequest(http.MethodGet, "/?s=abcd", nil)
	err := Unmarshal(req, &p)
	var ee *EndpointError
	if !errors.As(err, &ee) || ee.Status != http.StatusBadRequest {
		t.Fatalf("expected 400 for long value, got %v", err)
	}

	req = httptest.NewRequest(http.MethodGet, "/?b=1", nil)
	if err := Unmarshal(req, &p); !errors.As(err, &ee) || ee.Status != http.StatusInternalServerError {
		t.Fatalf("expected 500 for invalid maxLength tag, got %v", err)
	}
}

func TestUnmarshal_DefaultFieldLimit(t *testing.T) {
	var p struct {
		V string `query:"v"`
	}
	req := httptest.NewRequest(http.MethodGet, "/?v="+strings.Repeat("a", defaultFieldLimit+1), nil)
	err := Unmarshal(req, &p)
	var ee *EndpointError
	if !errors.As(err, &ee) || ee.Status != http.StatusBadRequest {
		t.Fatalf("expected 400, got %v", err)
	}
}

func TestUnmarshal_IgnoreDashAndDefaults(t *testing.T) {
	var p struct {
		Skip  string `query:"-"`
		Named string `query:""`
		Plain int
	}
	req := httptest.NewRequest(http.MethodGet, "/?skip=x&named=y&plain=5", nil)
	if err := Unmarshal(req, &p); err != nil {
		t.Fatal(err)
	}
	if p.Skip != "" || p.Named != "y" || p.Plain != 5 {
		t.Fatalf("unexpected values: %+v", p)
	}
}

func TestUnmarshal_NestedStructAndTextUnmarshaler(t *testing.T) {
	type inner struct {
		Page int `query:"page"`
	}
	var p struct {
		Inner inner
		Ptr   *inner
		When  time.Time  `query:"when"`
		Shout textUpper  `query:"shout"`
		Opt   *time.Time `query:"opt"`
	}
	req := httptest.NewRequest(http.MethodGet, "/?page=3&when=2024-05-06T07:08:09Z&shout=hey", nil)
	if err := Unmarshal(req, &p); err != nil {
		t.Fatal(err)
	}
	if p.Inner.Page != 3 || p.Ptr == nil || p.Ptr.Page != 3 {
		t.Fatalf("expected nested page, got %+v %+v", p.Inner, p.Ptr)
	}
	if p.When.Month() != time.May {
		t.Fatalf("expected parsed time, got %v", p.When)
	}
	if p.Shout != "HEY" {
		t.Fatalf("expected TextUnmarshaler, got %q", p.Shout)
	}
	if p.Opt != nil {
		t.Fatalf("expected missing pointer to stay nil")
	}
}

func TestUnmarshal_UnknownFlag(t *testing.T) {
	var p struct {
		V []byte `query:"v,base64"`
	}
	err := Unmarshal(httptest.NewRequest(http.MethodGet, "/?v=AA", nil), &p)
	var ee *EndpointError
	if !errors.As(err, &ee) || ee.Status != http.StatusInternalServerError {
		t.Fatalf("expected 500 for unknown flag, got %v", err)
	}
}
