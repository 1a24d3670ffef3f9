package audit

import (
	"bytes"
	"encoding/json"
	"fmt"
	"mime"
	"net/http"
	"net/url"
	"strings"
)

// Redacted replaces every deny-listed value.
const Redacted = "[REDACTED]"

var sensitiveFields = map[string]struct{}{
	"password":               {},
	"password_confirmation":  {},
	"token":                  {},
	"api_key":                {},
	"secret":                 {},
	"credit_card":            {},
	"ssn":                    {},
	"social_security_number": {},
}

var sensitiveHeaders = map[string]struct{}{
	"authorization": {},
	"x-api-key":     {},
	"cookie":        {},
	"x-auth-token":  {},
}

func isSensitiveField(name string) bool {
	_, ok := sensitiveFields[strings.ToLower(name)]
	return ok
}

// RedactValue returns v with deny-listed keys replaced at any depth.
func RedactValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, val := range t {
			if isSensitiveField(k) {
				out[k] = Redacted
				continue
			}
			out[k] = RedactValue(val)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, val := range t {
			out[i] = RedactValue(val)
		}
		return out
	default:
		return v
	}
}

// RedactHeaders flattens h with deny-listed headers masked. Names are
// lowercased.
func RedactHeaders(h http.Header) map[string]string {
	if len(h) == 0 {
		return nil
	}
	out := make(map[string]string, len(h))
	for name, values := range h {
		key := strings.ToLower(name)
		if _, ok := sensitiveHeaders[key]; ok {
			out[key] = Redacted
			continue
		}
		out[key] = strings.Join(values, ", ")
	}
	return out
}

// RedactQuery flattens q with deny-listed parameters masked.
func RedactQuery(q url.Values) map[string]string {
	if len(q) == 0 {
		return nil
	}
	out := make(map[string]string, len(q))
	for name, values := range q {
		if isSensitiveField(name) {
			out[name] = Redacted
			continue
		}
		out[name] = strings.Join(values, ",")
	}
	return out
}

// CaptureBody returns the redacted JSON snapshot of body. Bodies larger than
// limit are replaced by a truncation marker without being parsed.
func CaptureBody(body []byte, contentType string, limit int) json.RawMessage {
	if len(body) == 0 {
		return nil
	}
	if len(body) > limit {
		return marker("_truncated", len(body), "")
	}

	mediaType, _, _ := mime.ParseMediaType(contentType)
	var doc any
	switch {
	case isJSONMedia(mediaType):
		dec := json.NewDecoder(bytes.NewReader(body))
		dec.UseNumber()
		if err := dec.Decode(&doc); err != nil {
			return marker("_unparsed", len(body), mediaType)
		}
	case mediaType == "application/x-www-form-urlencoded":
		values, err := url.ParseQuery(string(body))
		if err != nil {
			return marker("_unparsed", len(body), mediaType)
		}
		form := make(map[string]any, len(values))
		for k, vs := range values {
			if len(vs) == 1 {
				form[k] = vs[0]
				continue
			}
			list := make([]any, len(vs))
			for i, v := range vs {
				list[i] = v
			}
			form[k] = list
		}
		doc = form
	default:
		return marker("_omitted", len(body), mediaType)
	}

	out, err := json.Marshal(RedactValue(doc))
	if err != nil {
		return marker("_unparsed", len(body), mediaType)
	}
	return out
}

func marker(flag string, size int, mediaType string) json.RawMessage {
	if mediaType != "" {
		return json.RawMessage(fmt.Sprintf(`{%q:true,"size_bytes":%d,"content_type":%q}`, flag, size, mediaType))
	}
	return json.RawMessage(fmt.Sprintf(`{%q:true,"size_bytes":%d}`, flag, size))
}

func isJSONMedia(mediaType string) bool {
	return mediaType == "application/json" || strings.HasSuffix(mediaType, "+json")
}
