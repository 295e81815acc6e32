// Package stats tracks per-domain outcomes of local solving sessions.
package stats

import (
	"net/url"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// DefaultMaxDomains is the number of domains tracked before the least
// recently seen ones are evicted.
const DefaultMaxDomains = 1000

// evictionBatchSize is how many domains are dropped at once when full.
const evictionBatchSize = 10

// DomainStats summarises the sessions created for one target domain.
type DomainStats struct {
	Domain       string        `json:"domain"`
	Sessions     int64         `json:"sessions"`
	Tokens       int64         `json:"tokens"`
	Expired      int64         `json:"expired"`
	TotalLatency time.Duration `json:"-"`
	LastSeen     time.Time     `json:"last_seen"`
}

// AvgTokenTime is the mean time from session creation to token arrival.
func (d DomainStats) AvgTokenTime() time.Duration {
	if d.Tokens == 0 {
		return 0
	}
	return d.TotalLatency / time.Duration(d.Tokens)
}

// SuccessRate is the share of sessions that received a token.
func (d DomainStats) SuccessRate() float64 {
	if d.Sessions == 0 {
		return 0
	}
	return float64(d.Tokens) / float64(d.Sessions)
}

// Tracker holds DomainStats for every target domain seen. It is safe for
// concurrent use.
type Tracker struct {
	mu         sync.Mutex
	domains    map[string]*DomainStats
	maxDomains int
	now        func() time.Time
}

// NewTracker creates a tracker bounded to maxDomains entries. Zero or less
// uses DefaultMaxDomains.
func NewTracker(maxDomains int) *Tracker {
	if maxDomains <= 0 {
		maxDomains = DefaultMaxDomains
	}
	return &Tracker{
		domains:    make(map[string]*DomainStats),
		maxDomains: maxDomains,
		now:        time.Now,
	}
}

// ExtractDomain returns the host of rawURL without its port, or "" when the
// URL has none.
func ExtractDomain(rawURL string) string {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	return parsed.Hostname()
}

// RecordSession counts a new session for the domain of rawURL.
func (t *Tracker) RecordSession(rawURL string) {
	t.update(rawURL, func(d *DomainStats) { d.Sessions++ })
}

// RecordToken counts a token that arrived latency after its session started.
func (t *Tracker) RecordToken(rawURL string, latency time.Duration) {
	t.update(rawURL, func(d *DomainStats) {
		d.Tokens++
		d.TotalLatency += latency
	})
}

// RecordExpired counts a session removed before any token arrived.
func (t *Tracker) RecordExpired(rawURL string) {
	t.update(rawURL, func(d *DomainStats) { d.Expired++ })
}

func (t *Tracker) update(rawURL string, fn func(*DomainStats)) {
	domain := ExtractDomain(rawURL)
	if domain == "" {
		return
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	d, ok := t.domains[domain]
	if !ok {
		if len(t.domains) >= t.maxDomains {
			t.evictOldestLocked(evictionBatchSize)
		}
		d = &DomainStats{Domain: domain}
		t.domains[domain] = d
	}
	d.LastSeen = t.now()
	fn(d)
}

// evictOldestLocked drops the count least recently seen domains.
// t.mu must be held.
func (t *Tracker) evictOldestLocked(count int) {
	all := make([]*DomainStats, 0, len(t.domains))
	for _, d := range t.domains {
		all = append(all, d)
	}
	sort.Slice(all, func(i, j int) bool { return all[i].LastSeen.Before(all[j].LastSeen) })
	if count > len(all) {
		count = len(all)
	}
	for _, d := range all[:count] {
		delete(t.domains, d.Domain)
	}
	log.Debug().Int("evicted", count).Int("remaining", len(t.domains)).Msg("Evicted stale domain stats")
}

// Get returns a copy of one domain's stats.
func (t *Tracker) Get(domain string) (DomainStats, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	d, ok := t.domains[domain]
	if !ok {
		return DomainStats{}, false
	}
	return *d, true
}

// All returns every domain, busiest first.
func (t *Tracker) All() []DomainStats {
	t.mu.Lock()
	out := make([]DomainStats, 0, len(t.domains))
	for _, d := range t.domains {
		out = append(out, *d)
	}
	t.mu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].Sessions != out[j].Sessions {
			return out[i].Sessions > out[j].Sessions
		}
		return out[i].Domain < out[j].Domain
	})
	return out
}

// Len returns the number of tracked domains.
func (t *Tracker) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.domains)
}
