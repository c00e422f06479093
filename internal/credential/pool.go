package credential

import (
	"sync"
	"time"

	"github.com/lamnq/durascan/internal/core/domain"
)

// Pool manages per-provider credential lists with a failover cursor.
//
// Each provider owns an ordered sequence of credentials (primary first) and
// a cursor pointing at the credential currently in use. Failover is
// monotonic: the cursor only moves forward, so a provider with k active
// credentials supports at most k-1 automatic advances before a new key has
// to be supplied. Supplying a new primary key resets the cursor to 0 and
// restarts that budget.
type Pool struct {
	mu      sync.RWMutex
	buckets map[string]*bucket
}

type bucket struct {
	creds   []*domain.Credential
	current int
}

// NewPool creates an empty credential pool.
func NewPool() *Pool {
	return &Pool{buckets: make(map[string]*bucket)}
}

// AddCredential inserts a credential for a provider; primary credentials go
// to the front of the sequence, others are appended. The cursor is not
// moved (see ResetCursor). Duplicate secrets are permitted.
func (p *Pool) AddCredential(provider, secret string, primary bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	b, ok := p.buckets[provider]
	if !ok {
		b = &bucket{}
		p.buckets[provider] = b
	}

	cred := &domain.Credential{
		Provider: provider,
		Secret:   secret,
		Primary:  primary,
		Active:   true,
	}

	if primary {
		b.creds = append([]*domain.Credential{cred}, b.creds...)
	} else {
		b.creds = append(b.creds, cred)
	}
}

// Current returns the secret at the cursor, if the provider exists and the
// credential there is active.
func (p *Pool) Current(provider string) (string, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	cred, ok := p.cursorCred(provider)
	if !ok || !cred.Active {
		return "", false
	}
	return cred.Secret, true
}

// CurrentMasked returns the masked form of the current secret for display,
// or "(none)" if the provider has no usable credential.
func (p *Pool) CurrentMasked(provider string) string {
	p.mu.RLock()
	defer p.mu.RUnlock()

	cred, ok := p.cursorCred(provider)
	if !ok || !cred.Active {
		return "(none)"
	}
	return cred.Masked()
}

// AdvanceToNextActive moves the cursor strictly forward to the next active
// credential. Returns false and leaves the cursor unchanged when none is
// found; the cursor never wraps and never decreases.
func (p *Pool) AdvanceToNextActive(provider string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	b, ok := p.buckets[provider]
	if !ok {
		return false
	}

	for i := b.current + 1; i < len(b.creds); i++ {
		if b.creds[i].Active {
			b.current = i
			return true
		}
	}
	return false
}

// RecordUsage increments the usage counter and timestamp of the credential
// at the cursor. No-op when the provider or cursor is invalid.
func (p *Pool) RecordUsage(provider string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	cred, ok := p.cursorCred(provider)
	if !ok {
		return
	}
	now := time.Now()
	cred.UsageCount++
	cred.LastUsedAt = &now
}

// RecordFailure stamps the credential at the cursor with the last failure
// signal. No-op when the provider or cursor is invalid.
func (p *Pool) RecordFailure(provider, signal string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	cred, ok := p.cursorCred(provider)
	if !ok {
		return
	}
	cred.LastError = signal
}

// Deactivate soft-deletes the credential at the given index. Credentials
// are never removed during a run; inactive ones are skipped by failover.
func (p *Pool) Deactivate(provider string, index int) {
	p.mu.Lock()
	defer p.mu.Unlock()

	b, ok := p.buckets[provider]
	if !ok || index < 0 || index >= len(b.creds) {
		return
	}
	b.creds[index].Active = false
}

// ResetCursor points the provider back at index 0. Used by the recovery
// flow after a new primary credential is supplied.
func (p *Pool) ResetCursor(provider string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if b, ok := p.buckets[provider]; ok {
		b.current = 0
	}
}

// CursorIndex returns the provider's current cursor position, or -1 for an
// unknown provider.
func (p *Pool) CursorIndex(provider string) int {
	p.mu.RLock()
	defer p.mu.RUnlock()

	b, ok := p.buckets[provider]
	if !ok {
		return -1
	}
	return b.current
}

// Providers returns the names of all providers with at least one credential.
func (p *Pool) Providers() []string {
	p.mu.RLock()
	defer p.mu.RUnlock()

	names := make([]string, 0, len(p.buckets))
	for name := range p.buckets {
		names = append(names, name)
	}
	return names
}

// Snapshot builds per-provider usage summaries for persisting with scan
// state.
func (p *Pool) Snapshot() map[string]domain.ProviderUsage {
	p.mu.RLock()
	defer p.mu.RUnlock()

	out := make(map[string]domain.ProviderUsage, len(p.buckets))
	for name, b := range p.buckets {
		usage := domain.ProviderUsage{
			Provider:    name,
			CursorIndex: b.current,
		}
		for _, cred := range b.creds {
			usage.Calls += cred.UsageCount
			if cred.Active {
				usage.ActiveKeys++
			}
			if cred.LastError != "" {
				usage.Failures++
				usage.LastError = cred.LastError
			}
			if cred.LastUsedAt != nil &&
				(usage.LastUsedAt == nil || cred.LastUsedAt.After(*usage.LastUsedAt)) {
				t := *cred.LastUsedAt
				usage.LastUsedAt = &t
			}
		}
		out[name] = usage
	}
	return out
}

// cursorCred returns the credential under the cursor. Caller holds p.mu.
func (p *Pool) cursorCred(provider string) (*domain.Credential, bool) {
	b, ok := p.buckets[provider]
	if !ok || b.current < 0 || b.current >= len(b.creds) {
		return nil, false
	}
	return b.creds[b.current], true
}
