package elastic

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/pkg/errors"
)

// Error returned for any non-2xx response, Body keeps the raw response
type Error struct {
	Method     string
	Path       string
	StatusCode int
	Body       string
}

func (e *Error) Error() string {
	return fmt.Sprintf("elastic respond an error %d on %s %s: %s", e.StatusCode, e.Method, e.Path, e.Body)
}

// Type returns error.type reported by the engine, empty if the body has none
func (e *Error) Type() string {
	var envelope struct {
		Error struct {
			Type      string `json:"type"`
			RootCause []struct {
				Type string `json:"type"`
			} `json:"root_cause"`
		} `json:"error"`
	}
	if err := json.Unmarshal([]byte(e.Body), &envelope); err != nil {
		return ""
	}
	if envelope.Error.Type == "search_phase_execution_exception" && len(envelope.Error.RootCause) > 0 {
		return envelope.Error.RootCause[0].Type
	}
	return envelope.Error.Type
}

// StatusCode extracts http status from err if it is (or wraps) *Error, 0 otherwise
func StatusCode(err error) int {
	var e *Error
	if errors.As(err, &e) {
		return e.StatusCode
	}
	return 0
}

// IsNotFound checks if err is 404 response
func IsNotFound(err error) bool {
	return StatusCode(err) == http.StatusNotFound
}
