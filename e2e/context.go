package e2e

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"math/rand/v2"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const (
	defaultBaseURL    = "http://localhost:8080"
	defaultSigningKey = "dev-secret-key-change-in-production"
	defaultIssuer     = "medgate"
)

// TestContext holds the HTTP client and the last response of a scenario.
// It targets a running gateway at MEDGATE_E2E_BASE_URL and mints tokens with
// the same key and issuer the gateway is configured with.
type TestContext struct {
	BaseURL    string
	HTTPClient *http.Client

	signingKey []byte
	issuer     string

	accessToken string
	clientIP    string
	savedIDs    map[string]string

	lastStatus int
	lastHeader http.Header
	lastBody   []byte
}

func NewTestContext() *TestContext {
	return &TestContext{
		BaseURL:    envOr("MEDGATE_E2E_BASE_URL", defaultBaseURL),
		HTTPClient: &http.Client{Timeout: 10 * time.Second},
		signingKey: []byte(envOr("MEDGATE_AUTH_JWT_SIGNING_KEY", defaultSigningKey)),
		issuer:     envOr("MEDGATE_AUTH_JWT_ISSUER", defaultIssuer),
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// Reset clears per-scenario state. Each scenario gets its own client IP so
// IP-keyed quotas do not leak between scenarios. The gateway honours that
// X-Forwarded-For only when the runner's address is listed in
// MEDGATE_GATEWAY_TRUSTED_PROXIES (127.0.0.1 for a local server).
func (tc *TestContext) Reset() {
	tc.accessToken = ""
	tc.savedIDs = make(map[string]string)
	tc.lastStatus = 0
	tc.lastHeader = nil
	tc.lastBody = nil
	tc.clientIP = fmt.Sprintf("198.51.%d.%d", rand.IntN(256), 1+rand.IntN(254))
}

// SignIn mints an access token for a synthetic user holding role.
func (tc *TestContext) SignIn(userID, role string) error {
	now := time.Now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub":   userID,
		"roles": []string{role},
		"iss":   tc.issuer,
		"iat":   now.Unix(),
		"exp":   now.Add(10 * time.Minute).Unix(),
	})
	signed, err := token.SignedString(tc.signingKey)
	if err != nil {
		return fmt.Errorf("sign token: %w", err)
	}
	tc.accessToken = signed
	return nil
}

func (tc *TestContext) SetAccessToken(token string) { tc.accessToken = token }

func (tc *TestContext) SignOut() { tc.accessToken = "" }

func (tc *TestContext) Do(method, path string, body any, headers map[string]string) error {
	var reader io.Reader
	switch b := body.(type) {
	case nil:
	case string:
		reader = strings.NewReader(b)
	default:
		raw, err := json.Marshal(b)
		if err != nil {
			return fmt.Errorf("marshal body: %w", err)
		}
		reader = bytes.NewReader(raw)
	}

	req, err := http.NewRequest(method, tc.BaseURL+path, reader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	if reader != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("X-Forwarded-For", tc.clientIP)
	if tc.accessToken != "" {
		req.Header.Set("Authorization", "Bearer "+tc.accessToken)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := tc.HTTPClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	tc.lastBody, err = io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	tc.lastStatus = resp.StatusCode
	tc.lastHeader = resp.Header
	return nil
}

func (tc *TestContext) GET(path string, headers map[string]string) error {
	return tc.Do(http.MethodGet, path, nil, headers)
}

func (tc *TestContext) POST(path string, body any) error {
	return tc.Do(http.MethodPost, path, body, nil)
}

func (tc *TestContext) GetLastResponseStatus() int { return tc.lastStatus }
func (tc *TestContext) GetLastResponseBody() []byte { return tc.lastBody }
func (tc *TestContext) GetLastHeader(name string) string {
	if tc.lastHeader == nil {
		return ""
	}
	return tc.lastHeader.Get(name)
}

// GetResponseField walks a dotted path ("data.id", "error.code") through the
// last JSON response.
func (tc *TestContext) GetResponseField(path string) (any, error) {
	var doc any
	if err := json.Unmarshal(tc.lastBody, &doc); err != nil {
		return nil, fmt.Errorf("response is not JSON: %w", err)
	}
	cur := doc
	for _, part := range strings.Split(path, ".") {
		obj, ok := cur.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("field %q: %q is not an object", path, part)
		}
		cur, ok = obj[part]
		if !ok {
			return nil, fmt.Errorf("field %q not found in response", path)
		}
	}
	return cur, nil
}

func (tc *TestContext) SaveID(name, value string) { tc.savedIDs[name] = value }

// Expand replaces {name} placeholders with saved ids.
func (tc *TestContext) Expand(path string) string {
	for k, v := range tc.savedIDs {
		path = strings.ReplaceAll(path, "{"+k+"}", v)
	}
	return path
}
