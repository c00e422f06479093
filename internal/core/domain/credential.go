package domain

import (
	"strings"
	"time"
)

// Credential is one API key for a remote provider.
type Credential struct {
	Provider   string     `json:"provider"`
	Secret     string     `json:"-"`
	Primary    bool       `json:"primary"`
	Active     bool       `json:"active"`
	UsageCount int        `json:"usage_count"`
	LastUsedAt *time.Time `json:"last_used_at,omitempty"`
	LastError  string     `json:"last_error,omitempty"`
}

// Masked returns the secret with the middle elided, safe for logs and prompts.
func (c *Credential) Masked() string {
	return MaskSecret(c.Secret)
}

// MaskSecret keeps a short prefix and suffix of a secret and elides the rest.
func MaskSecret(secret string) string {
	if len(secret) <= 8 {
		return strings.Repeat("*", len(secret))
	}
	return secret[:4] + "..." + secret[len(secret)-4:]
}

// ErrorKind classifies a provider failure.
type ErrorKind string

const (
	ErrorKindQuotaExceeded ErrorKind = "quota_exceeded"
	ErrorKindRateLimit     ErrorKind = "rate_limit"
	ErrorKindInvalidKey    ErrorKind = "invalid_key"
	ErrorKindExpiredKey    ErrorKind = "expired_key"
	ErrorKindUnknown       ErrorKind = "unknown"
)

// ProviderUsage is a point-in-time snapshot of how a provider's credentials
// were exercised during a scan, stored with the scan state for audit.
type ProviderUsage struct {
	Provider    string     `json:"provider"`
	Calls       int        `json:"calls"`
	Failures    int        `json:"failures"`
	ActiveKeys  int        `json:"active_keys"`
	CursorIndex int        `json:"cursor_index"`
	LastError   string     `json:"last_error,omitempty"`
	LastUsedAt  *time.Time `json:"last_used_at,omitempty"`
}
