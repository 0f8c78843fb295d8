// Package httpx holds the JSON transport shared by every service handler.
package httpx

import (
	"encoding/json"
	stderrors "errors"
	"io"
	"net/http"

	"go.uber.org/zap"

	"erp/ecommerce/internal/platform/errors"
)

// PlatformErrorCodeHeader shows the error code of platform error.
const PlatformErrorCodeHeader = "X-Platform-Error-Code"

const maxBodyBytes = 1 << 20

var statusCodePlatformError = map[string]int{
	errors.EInternal:            http.StatusInternalServerError,
	errors.EInvalid:             http.StatusBadRequest,
	errors.EUnprocessableEntity: http.StatusUnprocessableEntity,
	errors.EConflict:            http.StatusConflict,
	errors.ENotFound:            http.StatusNotFound,
	errors.EUnavailable:         http.StatusServiceUnavailable,
	errors.EForbidden:           http.StatusForbidden,
	errors.ETooManyRequests:     http.StatusTooManyRequests,
	errors.EUnauthorized:        http.StatusUnauthorized,
	errors.EMethodNotAllowed:    http.StatusMethodNotAllowed,
	errors.ETooLarge:            http.StatusRequestEntityTooLarge,
}

// StatusCode returns the HTTP status for err's platform code.
func StatusCode(err error) int {
	code, ok := statusCodePlatformError[errors.ErrorCode(err)]
	if !ok {
		return http.StatusBadRequest
	}
	return code
}

type API struct {
	log *zap.Logger
}

func NewAPI(log *zap.Logger) *API {
	if log == nil {
		log = zap.NewNop()
	}
	return &API{log: log}
}

// Respond writes v as JSON with status. A nil v writes only the status.
func (a *API) Respond(w http.ResponseWriter, r *http.Request, status int, v any) {
	if v == nil {
		w.WriteHeader(status)
		return
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		a.log.Debug("failed to write response", zap.String("path", r.URL.Path), zap.Error(err))
	}
}

// Item writes the single-entity envelope.
func (a *API) Item(w http.ResponseWriter, r *http.Request, status int, item any, topic string) {
	a.Respond(w, r, status, map[string]any{"item": item, "event_topic": topic})
}

// List writes the list envelope.
func (a *API) List(w http.ResponseWriter, r *http.Request, items any, nextCursor string, cached bool, topic string) {
	a.Respond(w, r, http.StatusOK, map[string]any{
		"items":       items,
		"next_cursor": nextCursor,
		"cached":      cached,
		"event_topic": topic,
	})
}

// Err encodes err with the status of its platform code and sets the
// X-Platform-Error-Code header. Internal messages are never returned.
func (a *API) Err(w http.ResponseWriter, r *http.Request, err error) {
	if err == nil {
		return
	}
	code := errors.ErrorCode(err)
	status := StatusCode(err)
	if status >= http.StatusInternalServerError {
		a.log.Error("request failed",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.String("tenant_id", TenantID(r.Context())),
			zap.Error(err),
		)
	}
	w.Header().Set(PlatformErrorCodeHeader, code)
	a.Respond(w, r, status, map[string]string{
		"code":    code,
		"message": errors.ErrorMessage(err),
	})
}

// DecodeJSON reads at most 1 MiB of JSON into v and validates it.
func (a *API) DecodeJSON(r *http.Request, v any) error {
	body := http.MaxBytesReader(nil, r.Body, maxBodyBytes)
	defer body.Close()

	dec := json.NewDecoder(body)
	if err := dec.Decode(v); err != nil {
		var tooLarge *http.MaxBytesError
		switch {
		case stderrors.Is(err, io.EOF):
			return errors.New(errors.EInvalid, "request body is required")
		case stderrors.As(err, &tooLarge):
			return errors.New(errors.ETooLarge, "request body too large")
		default:
			return &errors.Error{Code: errors.EInvalid, Msg: "invalid JSON payload", Err: err}
		}
	}
	return Validate(v)
}
