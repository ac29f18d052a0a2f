package endpoint

import "net/http"

// StringRenderer writes a string as the response body with an optional
// status code and content type.
//
// When ContentType is empty, StringRenderer defaults to
// "text/plain; charset=utf-8".
type StringRenderer struct {
	Status      int
	Body        string
	ContentType string
}

// setContentType sets Content-Type unless an outer processor already did.
func setContentType(w http.ResponseWriter, contentType string) {
	if w.Header().Get("Content-Type") == "" {
		if contentType == "" {
			contentType = "text/plain; charset=utf-8"
		}
		w.Header().Set("Content-Type", contentType)
	}
}

// Render implements Renderer for StringRenderer.
func (sr *StringRenderer) Render(w http.ResponseWriter, _ *http.Request) error {
	setContentType(w, sr.ContentType)
	w.WriteHeader(statusOr(sr.Status, http.StatusOK))
	if sr.Body == "" {
		return nil
	}
	_, err := w.Write([]byte(sr.Body))
	return err
}

// NoContentRenderer writes a response with no body. It answers CORS
// preflight requests.
//
// If Status is 0, it defaults to http.StatusNoContent.
type NoContentRenderer struct {
	Status int
}

func (ncr *NoContentRenderer) Render(w http.ResponseWriter, _ *http.Request) error {
	w.WriteHeader(statusOr(ncr.Status, http.StatusNoContent))
	return nil
}

func statusOr(status, def int) int {
	if status == 0 {
		return def
	}
	return status
}
