package audit

import (
	"encoding/hex"
	"encoding/json"
	"fmt"

	"golang.org/x/crypto/blake2b"

	auditlog "medgate/pkg/platform/audit"
)

// ContentHash is the BLAKE2b-256 digest of the record's JSON encoding with
// ContentHash itself empty.
func ContentHash(record auditlog.AccessRecord) (string, error) {
	record.ContentHash = ""
	raw, err := json.Marshal(record)
	if err != nil {
		return "", fmt.Errorf("encode access record: %w", err)
	}
	sum := blake2b.Sum256(raw)
	return hex.EncodeToString(sum[:]), nil
}

// Verify reports whether record still matches its content hash.
func Verify(record auditlog.AccessRecord) bool {
	want, err := ContentHash(record)
	return err == nil && want == record.ContentHash
}
