package httpapi

import (
	"encoding/json"
	"io"
	"net/http"

	"github.com/vonbase/nexusmem/internal/apierr"
	"github.com/vonbase/nexusmem/internal/observe"
)

// decodeJSONBody decodes r's body into v, tolerating a fully empty body
// (leaving v at its zero value) for endpoints where every field is
// optional.
func decodeJSONBody(r *http.Request, v any) error {
	if r.Body == nil || r.ContentLength == 0 {
		return nil
	}
	err := json.NewDecoder(r.Body).Decode(v)
	if err == io.EOF {
		return nil
	}
	return err
}

// statusForKind maps an [apierr.Kind] to its HTTP status code.
func statusForKind(kind apierr.Kind) int {
	switch kind {
	case apierr.InvalidRequest:
		return http.StatusBadRequest
	case apierr.NotFound:
		return http.StatusNotFound
	case apierr.Duplicate:
		return http.StatusConflict
	case apierr.ProviderUnavailable, apierr.StorageUnavailable, apierr.EmbeddingUnavailable:
		return http.StatusServiceUnavailable
	case apierr.DeadlineExceeded:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

// respondJSON writes v as a JSON body with the given status code.
func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// respondError maps err to an HTTP status via its [apierr.Kind] (defaulting
// to 500/InternalError for plain errors) and writes a JSON error body
// carrying a trace id so 5xx responses can be correlated with server logs.
func respondError(w http.ResponseWriter, r *http.Request, err error) {
	kind := apierr.KindOf(err)
	status := statusForKind(kind)
	body := map[string]any{
		"error": err.Error(),
		"kind":  string(kind),
	}
	if status >= 500 {
		body["trace_id"] = observe.CorrelationID(r.Context())
	}
	respondJSON(w, status, body)
}

// respondValidationError writes a 422 body for a request-body validation
// failure, distinct from the 400 used for malformed JSON/decoding errors.
func respondValidationError(w http.ResponseWriter, err error) {
	respondJSON(w, http.StatusUnprocessableEntity, map[string]any{
		"error": err.Error(),
		"kind":  "validation_error",
	})
}
