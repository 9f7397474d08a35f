package rest

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
)

// Sentinels recognizable with errors.Is. HTTPError maps well-known status
// codes and error codes onto these.
var (
	// ErrUnauthorized is a 401 or an Unauthorized error code: the
	// workspace token is missing, expired, or wrong.
	ErrUnauthorized = errors.New("rest: unauthorized")

	// ErrConflict is a 409: the target resource already exists and the
	// request did not allow overwriting it.
	ErrConflict = errors.New("rest: conflict")

	// ErrModuleExecution reports a failure inside the remote function
	// rather than in the transport.
	ErrModuleExecution = errors.New("rest: module execution failed")
)

// HTTPError is a non-2xx response. Code, Message and Details are filled
// when the body carries the management API's error envelope; Body always
// holds the raw response for diagnostics.
type HTTPError struct {
	StatusCode int
	Code       string
	Message    string
	Details    string
	Body       []byte
}

func (e *HTTPError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("rest: %d %s: %s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("rest: unexpected status %d", e.StatusCode)
}

// Unwrap maps the error onto its sentinel, when one applies.
func (e *HTTPError) Unwrap() error {
	switch {
	case e.StatusCode == http.StatusUnauthorized || e.Code == "Unauthorized":
		return ErrUnauthorized
	case e.StatusCode == http.StatusConflict:
		return ErrConflict
	case e.Code == "ModuleExecutionError":
		return ErrModuleExecution
	}
	return nil
}

// envelope is the error body shape the management API returns:
// {"error": {"code", "message", "details"}}. Details may be a list of
// nested envelopes or a bare string; we flatten either into text.
type envelope struct {
	Error struct {
		Code    string          `json:"code"`
		Message string          `json:"message"`
		Details json.RawMessage `json:"details"`
	} `json:"error"`
}

func newHTTPError(status int, body []byte) *HTTPError {
	he := &HTTPError{StatusCode: status, Body: body}

	var env envelope
	if err := json.Unmarshal(body, &env); err == nil {
		he.Code = env.Error.Code
		he.Message = env.Error.Message
		he.Details = flattenDetails(env.Error.Details)
	}
	return he
}

func flattenDetails(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var s string
	if json.Unmarshal(raw, &s) == nil {
		return s
	}
	var nested []envelope
	if json.Unmarshal(raw, &nested) == nil {
		var out string
		for i, n := range nested {
			if i > 0 {
				out += "; "
			}
			out += n.Error.Code + ": " + n.Error.Message
		}
		return out
	}
	return string(raw)
}
