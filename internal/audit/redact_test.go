package audit

import (
	"encoding/json"
	"net/http"
	"net/url"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIsPatientRoute(t *testing.T) {
	tests := []struct {
		path string
		want bool
	}{
		{"/api/v1/patients", true},
		{"/api/v1/patients/42", true},
		{"/api/v2/visits/9/notes", true},
		{"/api/v1/encounters/3", true},
		{"/api/v1/observations", true},
		{"/api/v1/medications", true},
		{"/api/v1/prescriptions/1", true},
		{"/api/v1/service-requests", true},
		{"/api/v1/invoices/7", true},
		{"/api/v1/exports", true},
		{"/api/v1/Patients", true},
		{"/api/v1/users/me", false},
		{"/api/v1/auth/login", false},
		{"/health/ping", false},
		{"/api/v1/patientsearch", false},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			assert.Equal(t, tt.want, IsPatientRoute(tt.path))
		})
	}
}

func TestRedactValueIsRecursiveAndCaseInsensitive(t *testing.T) {
	in := map[string]any{
		"name":     "Ada",
		"Password": "secret123",
		"profile": map[string]any{
			"API_KEY": "k",
			"notes":   "ok",
		},
		"cards": []any{
			map[string]any{"credit_card": "4111", "label": "main"},
		},
		"Social_Security_Number": "078-05-1120",
	}

	out := RedactValue(in).(map[string]any)

	assert.Equal(t, "Ada", out["name"])
	assert.Equal(t, Redacted, out["Password"])
	assert.Equal(t, Redacted, out["profile"].(map[string]any)["API_KEY"])
	assert.Equal(t, "ok", out["profile"].(map[string]any)["notes"])
	assert.Equal(t, Redacted, out["cards"].([]any)[0].(map[string]any)["credit_card"])
	assert.Equal(t, "main", out["cards"].([]any)[0].(map[string]any)["label"])
	assert.Equal(t, Redacted, out["Social_Security_Number"])
	assert.Equal(t, "secret123", in["Password"], "input must not be modified")
}

func TestRedactHeaders(t *testing.T) {
	h := http.Header{}
	h.Set("Authorization", "Bearer abc")
	h.Set("X-Api-Key", "k")
	h.Set("Cookie", "session=1")
	h.Set("X-Auth-Token", "t")
	h.Add("Accept", "application/json")
	h.Add("Accept", "text/plain")

	out := RedactHeaders(h)

	assert.Equal(t, Redacted, out["authorization"])
	assert.Equal(t, Redacted, out["x-api-key"])
	assert.Equal(t, Redacted, out["cookie"])
	assert.Equal(t, Redacted, out["x-auth-token"])
	assert.Equal(t, "application/json, text/plain", out["accept"])
	assert.Nil(t, RedactHeaders(nil))
}

func TestRedactQuery(t *testing.T) {
	out := RedactQuery(url.Values{"token": {"abc"}, "page": {"2"}})

	assert.Equal(t, Redacted, out["token"])
	assert.Equal(t, "2", out["page"])
	assert.Nil(t, RedactQuery(url.Values{}))
}

func TestCaptureBody(t *testing.T) {
	t.Run("json is redacted", func(t *testing.T) {
		body := []byte(`{"patient_id":42,"password":"secret123","nested":{"Token":"t"},"list":[{"ssn":"1"}]}`)

		got := CaptureBody(body, "application/json; charset=utf-8", DefaultBodyCap)

		assert.JSONEq(t, `{"patient_id":42,"password":"[REDACTED]","nested":{"Token":"[REDACTED]"},"list":[{"ssn":"[REDACTED]"}]}`, string(got))
		assert.NotContains(t, string(got), "secret123")
	})

	t.Run("vendor json is redacted", func(t *testing.T) {
		got := CaptureBody([]byte(`{"secret":"x"}`), "application/vnd.emr.v2+json", DefaultBodyCap)
		assert.JSONEq(t, `{"secret":"[REDACTED]"}`, string(got))
	})

	t.Run("large numbers keep their literal", func(t *testing.T) {
		got := CaptureBody([]byte(`{"mrn":12345678901234567890}`), "application/json", DefaultBodyCap)
		assert.Equal(t, `{"mrn":12345678901234567890}`, string(got))
	})

	t.Run("form is redacted", func(t *testing.T) {
		got := CaptureBody([]byte("patient_id=42&password=secret123&tag=a&tag=b"), "application/x-www-form-urlencoded", DefaultBodyCap)
		assert.JSONEq(t, `{"patient_id":"42","password":"[REDACTED]","tag":["a","b"]}`, string(got))
	})

	t.Run("oversize body becomes a truncation marker", func(t *testing.T) {
		body := []byte(`{"notes":"` + strings.Repeat("a", DefaultBodyCap) + `"}`)

		got := CaptureBody(body, "application/json", DefaultBodyCap)

		var marker map[string]any
		require.NoError(t, json.Unmarshal(got, &marker))
		assert.Equal(t, true, marker["_truncated"])
		assert.Equal(t, float64(len(body)), marker["size_bytes"])
		assert.Len(t, marker, 2)
	})

	t.Run("body at the cap is kept", func(t *testing.T) {
		body := []byte(`{"a":"bcd"}`)
		got := CaptureBody(body, "application/json", len(body))
		assert.JSONEq(t, string(body), string(got))
	})

	t.Run("other media types are omitted", func(t *testing.T) {
		got := CaptureBody([]byte("binary"), "application/pdf", DefaultBodyCap)
		assert.JSONEq(t, `{"_omitted":true,"size_bytes":6,"content_type":"application/pdf"}`, string(got))
	})

	t.Run("empty body", func(t *testing.T) {
		assert.Nil(t, CaptureBody(nil, "application/json", DefaultBodyCap))
	})
}
