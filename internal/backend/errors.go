package backend

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/tidwall/gjson"
)

const maxErrorBody = 2048

// APIError is a non-2xx response from the backend.
type APIError struct {
	StatusCode int
	Message    string
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("backend http %d: %s", e.StatusCode, e.Message)
}

// newAPIError prefers the FastAPI "detail" field (a string, or a list of
// validation errors) and falls back to the status text.
func newAPIError(status int, body []byte) *APIError {
	raw := string(body)
	if len(raw) > maxErrorBody {
		raw = raw[:maxErrorBody]
	}
	message := ""
	if gjson.ValidBytes(body) {
		detail := gjson.GetBytes(body, "detail")
		switch {
		case detail.IsArray():
			parts := make([]string, 0, len(detail.Array()))
			for _, item := range detail.Array() {
				msg := item.Get("msg").String()
				if msg == "" {
					msg = item.String()
				}
				parts = append(parts, msg)
			}
			message = strings.Join(parts, "; ")
		case detail.Exists() && detail.Type != gjson.Null:
			message = detail.String()
		}
	}
	message = strings.TrimSpace(message)
	if message == "" {
		message = http.StatusText(status)
	}
	if message == "" {
		message = "request failed"
	}
	return &APIError{StatusCode: status, Message: message, Body: raw}
}
