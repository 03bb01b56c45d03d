package logging

import (
	"encoding/hex"
	"log/slog"
	"strings"

	"lukechampine.com/blake3"
)

// RedactedValue replaces values of keys that are not known to be safe.
const RedactedValue = "[REDACTED]"

// safeKeys are emitted verbatim by MaskField. Everything the executor logs
// about a transaction is public once committed.
var safeKeys = map[string]struct{}{
	"service":      {},
	"env":          {},
	"endpoint":     {},
	"error":        {},
	"reason":       {},
	"tx":           {},
	"execution_id": {},
	"entity":       {},
	"kind":         {},
}

// IsAllowlisted reports whether key is exempt from masking. Matching ignores
// case and surrounding space.
func IsAllowlisted(key string) bool {
	_, ok := safeKeys[strings.ToLower(strings.TrimSpace(key))]
	return ok
}

// MaskField keeps value only when it is empty or key is allowlisted. Used for
// operator supplied strings such as exporter headers.
func MaskField(key, value string) slog.Attr {
	if strings.TrimSpace(value) == "" || IsAllowlisted(key) {
		return slog.String(key, value)
	}
	return slog.String(key, RedactedValue)
}

// RedactBytes describes a substate payload by length and a short blake3
// digest. Payloads are opaque contract data and never logged raw.
func RedactBytes(key string, payload []byte) slog.Attr {
	if len(payload) == 0 {
		return slog.Group(key, slog.Int("len", 0))
	}
	sum := blake3.Sum256(payload)
	return slog.Group(key,
		slog.Int("len", len(payload)),
		slog.String("digest", hex.EncodeToString(sum[:8])),
	)
}
