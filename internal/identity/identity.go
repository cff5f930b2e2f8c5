// Package identity supplies the per-run anti-blocking profile: rotating
// user-agents, randomized pacing delays, proxy selection and a best-effort
// robots.txt check. Everything here degrades to a safe default instead of
// returning an error.
package identity

import (
	"math/rand"
	"time"

	"github.com/scrapegrid/scrapegrid/internal/models"
)

const fallbackUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"

// Pool is the read-only shared configuration every run draws its identity
// from. Construct once at startup and inject; never mutate afterwards.
type Pool struct {
	UserAgents []string
	Proxies    []models.ProxyConfig
	MinDelay   time.Duration
	MaxDelay   time.Duration
}

// Identity is the profile one run scrapes with. Selection is per run, not
// sticky across retries within the run.
type Identity struct {
	UserAgent string
	Proxy     models.ProxyConfig
}

// NewPool builds a pool, substituting the fallback user-agent when the
// configured list is empty.
func NewPool(userAgents []string, proxies []models.ProxyConfig, minDelay, maxDelay time.Duration) *Pool {
	if len(userAgents) == 0 {
		userAgents = []string{fallbackUserAgent}
	}
	return &Pool{
		UserAgents: userAgents,
		Proxies:    proxies,
		MinDelay:   minDelay,
		MaxDelay:   maxDelay,
	}
}

// PickUserAgent returns one signature drawn uniformly at random.
func (p *Pool) PickUserAgent() string {
	if len(p.UserAgents) == 0 {
		return fallbackUserAgent
	}
	return p.UserAgents[rand.Intn(len(p.UserAgents))]
}

// PickProxy returns one proxy drawn uniformly at random, or the no-proxy
// sentinel when the pool is empty.
func (p *Pool) PickProxy() models.ProxyConfig {
	if len(p.Proxies) == 0 {
		return models.ProxyConfig{}
	}
	return p.Proxies[rand.Intn(len(p.Proxies))]
}

// Pick assembles a fresh identity for one run.
func (p *Pool) Pick() Identity {
	return Identity{
		UserAgent: p.PickUserAgent(),
		Proxy:     p.PickProxy(),
	}
}

// Delay returns a pacing delay drawn from the pool's configured bounds.
func (p *Pool) Delay() time.Duration {
	return RandomDelay(p.MinDelay, p.MaxDelay)
}

// RandomDelay returns a duration uniform over [min, max]. Swapped or
// degenerate bounds collapse to min, so a fixed-interval fingerprint is the
// worst misconfiguration can produce.
func RandomDelay(min, max time.Duration) time.Duration {
	if max <= min {
		return min
	}
	return min + time.Duration(rand.Int63n(int64(max-min)+1))
}
