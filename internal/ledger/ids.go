package ledger

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"strconv"
	"time"
)

// newID generates a client-side id with the scheme described in §4.4: a
// short type prefix, a millisecond timestamp in base36, and a 16-hex-char
// random suffix — chosen so a batch of events that reference each other
// (e.g. an outcome and the act it emits) can be assembled without a
// round-trip to the ledger for server-generated ids.
func newID(prefix string, now time.Time) (string, error) {
	ts := strconv.FormatInt(now.UnixMilli(), 36)
	buf := make([]byte, 8)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("ledger: generate id: %w", err)
	}
	return fmt.Sprintf("%s_%s%s", prefix, ts, hex.EncodeToString(buf)), nil
}
