package domain

import (
	"fmt"
	"regexp"
	"slices"
)

// APIVersion is a validated version path segment such as "v1".
type APIVersion string

const (
	APIVersionV1 APIVersion = "v1"
	APIVersionV2 APIVersion = "v2"
)

// supportedVersions is ordered oldest first.
var supportedVersions = []APIVersion{APIVersionV1, APIVersionV2}

var versionToken = regexp.MustCompile(`^v\d+$`)

// IsVersionToken reports whether s has the shape of a version path segment,
// supported or not.
func IsVersionToken(s string) bool {
	return versionToken.MatchString(s)
}

// ParseAPIVersion accepts only supported versions.
func ParseAPIVersion(s string) (APIVersion, error) {
	if !IsVersionToken(s) {
		return "", fmt.Errorf("malformed API version: %q", s)
	}
	v := APIVersion(s)
	if !slices.Contains(supportedVersions, v) {
		return "", fmt.Errorf("unsupported API version: %s", s)
	}
	return v, nil
}

func (v APIVersion) String() string {
	return string(v)
}

// SupportedVersions returns a copy of the supported versions, oldest first.
func SupportedVersions() []APIVersion {
	return slices.Clone(supportedVersions)
}

// DefaultVersion is assumed when a path carries no version segment.
func DefaultVersion() APIVersion {
	return APIVersionV1
}
