package captcha

import (
	"sort"
	"sync"
	"time"
)

// Metrics keeps per-provider usage counters for the current process.
type Metrics struct {
	mu        sync.RWMutex
	providers map[string]*ProviderStats
}

// ProviderStats is one provider's running totals.
type ProviderStats struct {
	Provider    string        `json:"provider"`
	Attempts    int64         `json:"attempts"`
	Successes   int64         `json:"successes"`
	Failures    int64         `json:"failures"`
	TotalCost   float64       `json:"total_cost"`
	TotalTime   time.Duration `json:"total_time"`
	LastBalance float64       `json:"last_balance"`
	LastError   string        `json:"last_error,omitempty"`
	LastUsed    time.Time     `json:"last_used,omitempty"`
}

// SuccessRate returns successes as a percentage of attempts.
func (p ProviderStats) SuccessRate() float64 {
	if p.Attempts == 0 {
		return 0
	}
	return float64(p.Successes) / float64(p.Attempts) * 100
}

// AverageTime returns the mean time per attempt.
func (p ProviderStats) AverageTime() time.Duration {
	if p.Attempts == 0 {
		return 0
	}
	return p.TotalTime / time.Duration(p.Attempts)
}

// NewMetrics creates an empty tracker.
func NewMetrics() *Metrics {
	return &Metrics{providers: make(map[string]*ProviderStats)}
}

// RecordAttempt counts one solve attempt.
func (m *Metrics) RecordAttempt(provider string, success bool, cost float64, elapsed time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s := m.getOrCreate(provider)
	s.Attempts++
	s.TotalTime += elapsed
	s.LastUsed = time.Now()
	if success {
		s.Successes++
		s.TotalCost += cost
	} else {
		s.Failures++
	}
}

// RecordError remembers the provider's most recent error.
func (m *Metrics) RecordError(provider, msg string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.getOrCreate(provider).LastError = msg
}

// UpdateBalance caches the provider's last reported balance.
func (m *Metrics) UpdateBalance(provider string, balance float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.getOrCreate(provider).LastBalance = balance
}

// Stats returns a copy of one provider's totals.
func (m *Metrics) Stats(provider string) (ProviderStats, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.providers[provider]
	if !ok {
		return ProviderStats{}, false
	}
	return *s, true
}

// Snapshot returns every provider's totals sorted by name.
func (m *Metrics) Snapshot() []ProviderStats {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]ProviderStats, 0, len(m.providers))
	for _, s := range m.providers {
		out = append(out, *s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Provider < out[j].Provider })
	return out
}

// TotalCost sums spend across providers.
func (m *Metrics) TotalCost() float64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var total float64
	for _, s := range m.providers {
		total += s.TotalCost
	}
	return total
}

// Must be called with lock held.
func (m *Metrics) getOrCreate(provider string) *ProviderStats {
	s, ok := m.providers[provider]
	if !ok {
		s = &ProviderStats{Provider: provider}
		m.providers[provider] = s
	}
	return s
}
