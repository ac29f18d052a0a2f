package slim

import (
	"net/http"

	"go.uber.org/zap"

	"github.com/guoyu07/SlimWebApi/api"
	"github.com/guoyu07/SlimWebApi/compression"
	"github.com/guoyu07/SlimWebApi/endpoint"
)

const (
	contentTypeJSON       = "application/json; charset=utf-8"
	contentTypeJavaScript = "text/javascript; charset=utf-8"
)

// responseRenderer writes a dispatch outcome as an envelope. The HTTP status
// mirrors resp.Status.
type responseRenderer struct {
	resp     *api.Response
	callback string
	cw       *compression.ResponseWriter
}

func (rr *responseRenderer) Render(w http.ResponseWriter, _ *http.Request) error {
	body, err := encodeBody(envelopeOf(rr.resp), rr.callback)
	if err != nil {
		return endpoint.Error(http.StatusInternalServerError, api.MessageUnhandled, err)
	}

	setContentType(w, rr.callback)
	if rr.resp.Encoding != compression.Identity && rr.resp.Encoding != "" {
		cw, err := compression.NewResponseWriter(w, rr.resp.Encoding)
		if err != nil {
			return endpoint.Error(http.StatusInternalServerError, api.MessageUnhandled, err)
		}
		rr.cw = cw
		w = cw
	}
	w.WriteHeader(rr.resp.Status)
	if _, err := w.Write(body); err != nil {
		return err
	}
	return rr.Close()
}

// Close finalizes a compressed body. It is safe to call more than once.
func (rr *responseRenderer) Close() error {
	if rr.cw == nil {
		return nil
	}
	return rr.cw.Close()
}

func setContentType(w http.ResponseWriter, callback string) {
	if callback != "" {
		w.Header().Set("Content-Type", contentTypeJavaScript)
		return
	}
	w.Header().Set("Content-Type", contentTypeJSON)
}

// writeError renders a transport-level failure: a processor rejection, a
// malformed form or an invalid callback. Statuses below 300, such as a CORS
// preflight answered by a processor, are written without a body.
func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status, message := endpoint.StatusOf(err)
	if status < http.StatusMultipleChoices {
		w.WriteHeader(status)
		return
	}

	callback := r.URL.Query().Get(MetaCallback)
	if !ValidCallback(callback) {
		callback = ""
	}
	body, encErr := encodeBody(Envelope{Code: status, Message: message}, callback)
	if encErr != nil {
		http.Error(w, message, status)
		return
	}

	logger := h.logger()
	level := zap.WarnLevel
	if status >= http.StatusInternalServerError {
		level = zap.ErrorLevel
	}
	if ce := logger.Check(level, "request rejected"); ce != nil {
		ce.Write(
			zap.String("request", describe(r)),
			zap.Int("status", status),
			zap.ByteString("response", body),
			zap.Error(err),
		)
	}

	setContentType(w, callback)
	w.WriteHeader(status)
	_, _ = w.Write(body)
}
