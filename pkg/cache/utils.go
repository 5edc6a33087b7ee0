package cache

import (
	"strconv"
	"strings"

	"github.com/cespare/xxhash/v2"
)

// Key joins parts with ':' the way keys are namespaced in Redis.
func Key(parts ...string) string {
	return strings.Join(parts, ":")
}

// HashKey shortens arbitrary text (embedding input, query strings) to a
// fixed-width hex digest usable as a key segment.
func HashKey(text string) string {
	return strconv.FormatUint(xxhash.Sum64String(text), 16)
}
