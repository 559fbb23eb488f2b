package host

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
)

// maxErrorBody limits how much of a failed response is read.
const maxErrorBody = 64 << 10

// Error is the body hosts answer failed requests with. On the orchestrator side it is returned as error.
type Error struct {
	Message string `json:"error"`
	Status  int    `json:"status"`
}

func NewError(err error, status int) *Error {
	return &Error{Message: err.Error(), Status: status}
}

func (e *Error) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("host returned status %d without details", e.Status)
	}
	return fmt.Sprintf("host returned status %d: %s", e.Status, e.Message)
}

// Write sends e as JSON response.
func (e *Error) Write(w http.ResponseWriter) {
	w.Header().Set("Content-Type", MediaTypeJSON)
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.WriteHeader(e.Status)
	_ = json.NewEncoder(w).Encode(e)
}

// readError turns a failed response into an *Error. A body that is not a JSON error becomes the message.
func readError(resp *http.Response) error {
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	if err != nil {
		return fmt.Errorf("host returned status %d, reading the details failed: %w", resp.StatusCode, err)
	}

	e := &Error{}
	if err := json.Unmarshal(data, e); err != nil || e.Message == "" {
		e.Message = string(bytes.TrimSpace(data))
	}
	e.Status = resp.StatusCode

	return e
}
