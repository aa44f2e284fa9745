package ratelimit

import (
	"crypto/sha256"
	"encoding/hex"
	"math"
	"sync"
	"time"
)

// Class separates cheap reads from requests that cost real resources.
type Class int

const (
	// ClassRead covers status lookups, worker lists and the watch upgrade.
	ClassRead Class = iota
	// ClassCostly covers session starts (a provider room plus an OS process)
	// and interview completions. These draw from the general bucket and from
	// a second, tighter one.
	ClassCostly
)

type Config struct {
	RPS   float64
	Burst int

	// CostlyRPS and CostlyBurst bound ClassCostly requests per client on top
	// of RPS/Burst. Zero disables the extra bucket.
	CostlyRPS   float64
	CostlyBurst int

	MaxConcurrentRequests int

	// Operational bounds for the in-memory map (single-process only).
	MaxEntries int
	EntryTTL   time.Duration
}

type Limiter struct {
	cfg Config

	mu      sync.Mutex
	clients map[string]*client
}

type client struct {
	mu       sync.Mutex
	general  bucket
	costly   bucket
	lastSeen time.Time

	inflight chan struct{}
}

type bucket struct {
	tokens float64
	last   time.Time
	primed bool
}

func New(cfg Config) *Limiter {
	if cfg.MaxEntries <= 0 {
		cfg.MaxEntries = 10_000
	}
	if cfg.EntryTTL <= 0 {
		cfg.EntryTTL = 30 * time.Minute
	}
	return &Limiter{
		cfg:     cfg,
		clients: make(map[string]*client),
	}
}

// PrincipalKeyFromIP hashes a client address so raw IPs never sit in the
// limiter map.
func PrincipalKeyFromIP(ip string) string {
	sum := sha256.Sum256([]byte(ip))
	return "ip_" + hex.EncodeToString(sum[:16])
}

type Permit struct {
	release func()
}

func (p *Permit) Release() {
	if p == nil || p.release == nil {
		return
	}
	p.release()
	p.release = nil
}

type Decision struct {
	Allowed    bool
	RetryAfter int
	Permit     *Permit
}

func (l *Limiter) AcquireRequest(key string, class Class, now time.Time) Decision {
	if key == "" {
		key = "anonymous"
	}
	c := l.client(key, now)

	if ok, retryAfter := l.take(c, class, now); !ok {
		return Decision{RetryAfter: retryAfter}
	}

	if l.cfg.MaxConcurrentRequests <= 0 {
		return Decision{Allowed: true, Permit: &Permit{release: func() {}}}
	}
	select {
	case c.inflight <- struct{}{}:
		return Decision{Allowed: true, Permit: &Permit{release: func() { <-c.inflight }}}
	default:
		return Decision{RetryAfter: 1}
	}
}

// take spends one token from every bucket the class draws on, or none of
// them. A costly request refused by its own bucket leaves the general
// bucket untouched.
func (l *Limiter) take(c *client, class Class, now time.Time) (bool, int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lastSeen = now

	useGeneral := l.cfg.RPS > 0 && l.cfg.Burst > 0
	useCostly := class == ClassCostly && l.cfg.CostlyRPS > 0 && l.cfg.CostlyBurst > 0

	retryAfter := 0
	if useGeneral {
		c.general.refill(now, l.cfg.RPS, l.cfg.Burst)
		if c.general.tokens < 1 {
			retryAfter = c.general.wait(l.cfg.RPS)
		}
	}
	if useCostly {
		c.costly.refill(now, l.cfg.CostlyRPS, l.cfg.CostlyBurst)
		if c.costly.tokens < 1 {
			retryAfter = max(retryAfter, c.costly.wait(l.cfg.CostlyRPS))
		}
	}
	if retryAfter > 0 {
		return false, retryAfter
	}

	if useGeneral {
		c.general.tokens--
	}
	if useCostly {
		c.costly.tokens--
	}
	return true, 0
}

func (b *bucket) refill(now time.Time, rps float64, burst int) {
	capacity := float64(burst)
	if !b.primed {
		*b = bucket{tokens: capacity, last: now, primed: true}
		return
	}
	if elapsed := now.Sub(b.last).Seconds(); elapsed > 0 {
		b.tokens = math.Min(capacity, b.tokens+elapsed*rps)
		b.last = now
	}
}

// wait is the whole number of seconds until one token is available.
func (b *bucket) wait(rps float64) int {
	secs := int(math.Ceil((1 - b.tokens) / rps))
	return max(secs, 1)
}

func (l *Limiter) client(key string, now time.Time) *client {
	l.mu.Lock()
	defer l.mu.Unlock()

	if c, ok := l.clients[key]; ok {
		return c
	}
	if len(l.clients) >= l.cfg.MaxEntries {
		l.evictLocked(now)
	}
	c := &client{
		inflight: make(chan struct{}, max(1, l.cfg.MaxConcurrentRequests)),
		lastSeen: now,
	}
	l.clients[key] = c
	return c
}

// evictLocked drops idle clients, then an arbitrary one if the map is still
// full. Memory stays bounded at the cost of resetting someone's budget.
func (l *Limiter) evictLocked(now time.Time) {
	for k, c := range l.clients {
		c.mu.Lock()
		idle := now.Sub(c.lastSeen) > l.cfg.EntryTTL
		c.mu.Unlock()
		if idle {
			delete(l.clients, k)
		}
	}
	if len(l.clients) < l.cfg.MaxEntries {
		return
	}
	for k := range l.clients {
		delete(l.clients, k)
		return
	}
}
