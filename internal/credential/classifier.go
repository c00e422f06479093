package credential

import (
	"strings"

	"github.com/lamnq/durascan/internal/core/domain"
)

// Token lists checked in priority order. A signal matching several
// categories resolves to the first one here.
var (
	quotaTokens = []string{"quota", "resource exhausted", "billing"}

	rateLimitTokens = []string{
		"rate limit", "rate_limit", "ratelimit",
		"too many requests", "429",
	}

	invalidKeyTokens = []string{
		"invalid api key", "invalid key", "api key not valid",
		"unauthorized", "authentication", "401", "403", "forbidden",
		"permission denied",
	}

	expiredKeyTokens = []string{"expired", "revoked", "deactivated", "suspended"}
)

// Classify maps an arbitrary failure signal to an ErrorKind by
// case-insensitive substring matching. Best effort; anything unmatched is
// ErrorKindUnknown.
func Classify(signal string) domain.ErrorKind {
	s := strings.ToLower(signal)

	switch {
	case containsAny(s, quotaTokens):
		return domain.ErrorKindQuotaExceeded
	case containsAny(s, rateLimitTokens):
		return domain.ErrorKindRateLimit
	case containsAny(s, invalidKeyTokens):
		return domain.ErrorKindInvalidKey
	case containsAny(s, expiredKeyTokens):
		return domain.ErrorKindExpiredKey
	default:
		return domain.ErrorKindUnknown
	}
}

func containsAny(s string, tokens []string) bool {
	for _, tok := range tokens {
		if strings.Contains(s, tok) {
			return true
		}
	}
	return false
}
