// Package testutil holds request builders and envelope assertions shared by
// handler and gateway tests.
package testutil

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// NewRequest builds a bodiless request.
func NewRequest(t *testing.T, method, path string) *http.Request {
	t.Helper()
	return httptest.NewRequest(method, path, nil)
}

// NewRequestWithBody builds a request carrying a raw JSON body.
func NewRequestWithBody(t *testing.T, method, path string, body string) *http.Request {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	return req
}

// DoRequest serves req through handler and returns the recorder.
func DoRequest(handler http.Handler, req *http.Request) *httptest.ResponseRecorder {
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	return rr
}

// UnmarshalResponse decodes the whole response body into T.
func UnmarshalResponse[T any](t *testing.T, rr *httptest.ResponseRecorder) *T {
	t.Helper()
	var result T
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &result), "response is not JSON: %s", rr.Body.String())
	return &result
}

// ErrorResult is the error member of a failure envelope.
type ErrorResult struct {
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Details map[string]any `json:"details"`
}

// DecodeError decodes a failure envelope and checks success is false.
func DecodeError(t *testing.T, rr *httptest.ResponseRecorder) ErrorResult {
	t.Helper()
	env := UnmarshalResponse[struct {
		Success bool        `json:"success"`
		Error   ErrorResult `json:"error"`
	}](t, rr)
	assert.False(t, env.Success, "failure envelope must carry success=false")
	return env.Error
}

// AssertErrorCode asserts the envelope carries code.
func AssertErrorCode(t *testing.T, rr *httptest.ResponseRecorder, code string) {
	t.Helper()
	assert.Equal(t, code, DecodeError(t, rr).Code, "unexpected error code")
}

// AssertStatusAndError asserts the status and the envelope code together.
func AssertStatusAndError(t *testing.T, rr *httptest.ResponseRecorder, status int, code string) {
	t.Helper()
	assert.Equal(t, status, rr.Code, "unexpected status code")
	AssertErrorCode(t, rr, code)
}
