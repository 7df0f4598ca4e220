package meta

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// ErrInvalidCredential indicates the API rejected the access token.
var ErrInvalidCredential = errors.New("meta invalid credential")

// oauthErrorCode is the Graph API code for expired or invalid tokens.
const oauthErrorCode = 190

// APIError is a non-2xx response from the Marketing API.
type APIError struct {
	Endpoint  string
	Status    int
	Body      string
	Message   string
	Type      string
	Code      int
	Subcode   int
	FBTraceID string
}

func (e *APIError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("meta %s: status=%d code=%d: %s", e.Endpoint, e.Status, e.Code, e.Message)
	}
	return fmt.Sprintf("meta %s: status=%d body=%s", e.Endpoint, e.Status, e.Body)
}

// Is lets errors.Is(err, ErrInvalidCredential) match authentication failures.
func (e *APIError) Is(target error) bool {
	return target == ErrInvalidCredential && (e.Status == http.StatusUnauthorized || e.Code == oauthErrorCode)
}

// Temporary reports whether retrying the same request later may succeed.
func (e *APIError) Temporary() bool {
	return e.Status == http.StatusTooManyRequests || e.Status >= http.StatusInternalServerError
}

// IsTemporary reports whether err wraps a temporary APIError.
func IsTemporary(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Temporary()
}

func newAPIError(endpoint string, status int, body []byte) *APIError {
	apiErr := &APIError{
		Endpoint: endpoint,
		Status:   status,
		Body:     strings.TrimSpace(string(body)),
	}
	var envelope struct {
		Error struct {
			Message   string `json:"message"`
			Type      string `json:"type"`
			Code      int    `json:"code"`
			Subcode   int    `json:"error_subcode"`
			FBTraceID string `json:"fbtrace_id"`
		} `json:"error"`
	}
	if err := json.Unmarshal(body, &envelope); err == nil {
		apiErr.Message = envelope.Error.Message
		apiErr.Type = envelope.Error.Type
		apiErr.Code = envelope.Error.Code
		apiErr.Subcode = envelope.Error.Subcode
		apiErr.FBTraceID = envelope.Error.FBTraceID
	}
	return apiErr
}
