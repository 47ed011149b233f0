package recall

import (
	"crypto/md5"
	"encoding/hex"
	"strings"
	"time"

	"github.com/google/uuid"
)

// NewID generates a globally unique, time-sortable UUIDv7 (RFC 9562).
func NewID() string {
	return uuid.Must(uuid.NewV7()).String()
}

// NowUnix returns current time as Unix seconds.
func NowUnix() int64 {
	return time.Now().Unix()
}

// MD5Hex returns the lowercase hex MD5 digest of s. Used for cache keys,
// not for anything security-sensitive.
func MD5Hex(s string) string {
	sum := md5.Sum([]byte(s))
	return hex.EncodeToString(sum[:])
}

// ContentHash keys a search result by its lowercased content, for
// cross-source deduplication.
func ContentHash(content string) string {
	return MD5Hex(strings.ToLower(content))
}
