package api

import (
	"encoding/json"
	"net/http"
	"strconv"

	"go.uber.org/zap"

	"github.com/ownerexit/ownerexit-cli/internal/apperr"
	"github.com/ownerexit/ownerexit-cli/internal/ratelimit"
)

type errorBody struct {
	Error string `json:"error"`
	Field string `json:"field,omitempty"`
}

// fallbackBody is sent when a response cannot be encoded.
const fallbackBody = `{"error":"internal server error"}` + "\n"

// writeJSON encodes v before writing the status, so an unencodable value
// becomes a 500 instead of a truncated success.
func writeJSON(w http.ResponseWriter, status int, v any) {
	body, err := json.Marshal(v)
	w.Header().Set("Content-Type", "application/json")
	if err != nil {
		zap.L().Error("api: encode response", zap.Int("status", status), zap.Error(err))
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(fallbackBody))
		return
	}
	w.WriteHeader(status)
	_, _ = w.Write(append(body, '\n'))
}

// writeError maps err onto the error taxonomy. Unexpected errors are logged
// and answered with a generic message.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	kind := apperr.KindOf(err)
	body := errorBody{Error: apperr.PublicMessage(err)}

	if ae, ok := apperr.As(err); ok {
		body.Field = ae.Field
		if kind == apperr.KindRateLimit {
			w.Header().Set("Retry-After", strconv.Itoa(ratelimit.RetryAfterSeconds(ae.RetryAfter)))
		}
	}
	if kind == apperr.KindUnexpected {
		zap.L().Error("api: unexpected error",
			zap.String("path", r.URL.Path),
			zap.String("request_id", requestID(r)),
			zap.Error(err),
		)
	}
	writeJSON(w, apperr.HTTPStatus(kind), body)
}
