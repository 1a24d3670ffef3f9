package sanitize

import (
	"net/url"
	"strings"
)

// Form sanitizes every value of an application/x-www-form-urlencoded string
// (a request body or a raw query). Pair order and duplicate keys are kept;
// keys are re-escaped but otherwise untouched.
func Form(raw string) (string, error) {
	if raw == "" {
		return "", nil
	}
	pairs := strings.Split(raw, "&")
	out := make([]string, 0, len(pairs))
	for _, pair := range pairs {
		if pair == "" {
			continue
		}
		key, value, hasValue := strings.Cut(pair, "=")
		k, err := url.QueryUnescape(key)
		if err != nil {
			return "", err
		}
		if !hasValue {
			out = append(out, url.QueryEscape(k))
			continue
		}
		v, err := url.QueryUnescape(value)
		if err != nil {
			return "", err
		}
		out = append(out, url.QueryEscape(k)+"="+url.QueryEscape(String(v)))
	}
	return strings.Join(out, "&"), nil
}
