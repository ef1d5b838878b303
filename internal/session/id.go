package session

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"time"
)

const idTimeLayout = "20060102-150405"

// NewID generates a session ID: a timestamp prefix and a random suffix.
// Format: YYYYMMDD-HHMMSS-RANDOM (e.g., "20240115-143052-a1b2c3")
// IDs sort chronologically and appear in logs as the "session" attribute.
func NewID() string {
	return newIDAt(time.Now())
}

func newIDAt(now time.Time) string {
	random := make([]byte, 3) // 6 hex chars
	rand.Read(random)
	return fmt.Sprintf("%s-%s", now.Format(idTimeLayout), hex.EncodeToString(random))
}

// ParseIDTime extracts the timestamp from a session ID.
// Returns zero time if parsing fails.
func ParseIDTime(id string) time.Time {
	if len(id) < len(idTimeLayout) {
		return time.Time{}
	}
	t, _ := time.Parse(idTimeLayout, id[:len(idTimeLayout)])
	return t
}

// ShortID returns a shortened version of the session ID for display.
// Example: "20240115-143052-a1b2c3" -> "240115-1430"
func ShortID(id string) string {
	if len(id) < len(idTimeLayout) {
		return id
	}
	// Skip first 2 chars (century), take YYMMDD-HHMM
	return id[2:8] + "-" + id[9:13]
}
