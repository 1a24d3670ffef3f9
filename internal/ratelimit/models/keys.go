package models

import "strings"

// SanitizeKeySegment escapes the key delimiter in caller-controlled segments so
// an identifier such as "user:admin" cannot address a neighbouring counter.
func SanitizeKeySegment(s string) string {
	return strings.ReplaceAll(s, ":", "_")
}

// NewKey builds the counter key for bucket. Authenticated callers are keyed by
// user and IP; anonymous callers by IP alone.
func NewKey(bucket Bucket, userID, ip string) Key {
	b := SanitizeKeySegment(string(bucket))
	ip = SanitizeKeySegment(ip)
	if ip == "" {
		ip = "unknown"
	}
	if userID == "" {
		return Key(b + ":" + ip)
	}
	return Key(b + ":" + SanitizeKeySegment(userID) + ":" + ip)
}
