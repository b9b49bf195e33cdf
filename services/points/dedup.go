package points

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"time"
)

const dateKeyLayout = "2006-01-02"

// DateKey is the UTC calendar day of t.
func DateKey(t time.Time) string {
	return t.UTC().Format(dateKeyLayout)
}

// BuildDedupKey identifies one grantable action instance. Daily scope adds
// the day so the same action can be granted again tomorrow.
func BuildDedupKey(scope DedupScope, userID, typ, sourceID, actorUserID, dateKey string) string {
	parts := []string{userID, typ, sourceID, actorUserID}
	if scope == ScopeDaily {
		parts = append(parts, dateKey)
	}

	sum := sha256.Sum256([]byte(strings.Join(parts, "\x1f")))
	return hex.EncodeToString(sum[:])
}
