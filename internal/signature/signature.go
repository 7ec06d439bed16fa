// Package signature derives a privacy-preserving per-visitor identity
// via keyed HMAC, maintains its bounded behavior history, and discovers
// signature families via union-find. Behavior mutations are serialized
// per signature; raw request identity never outlives the hash.
package signature

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"io"
	"math"
	"regexp"
	"strings"
	"sync"
	"time"

	"golang.org/x/crypto/hkdf"
)

// HistoryCapacity is the default bound on a signature's behavior ring
// buffer.
const HistoryCapacity = 100

// DefaultIdleTTL is the duration after which an idle signature (and its
// family membership) is evicted.
const DefaultIdleTTL = time.Hour

// Secret is a process-lifetime HKDF root key. Signatures computed with
// one Secret are never comparable to signatures computed with another,
// including across process restarts. Per-factor subkeys are derived via
// HKDF-Expand so that knowing the "ip" subkey gives no advantage toward
// recovering the "ua" or "primary" subkeys.
type Secret struct {
	key []byte

	mu      sync.Mutex
	subkeys map[string][]byte
}

// NewSecret generates a fresh random process-lifetime secret.
func NewSecret() (*Secret, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return nil, err
	}
	return &Secret{key: buf, subkeys: make(map[string][]byte)}, nil
}

// NewSecretFromKey builds a Secret from an operator-supplied key, for
// deployments that need signature continuity across restarts. The
// trade-off: anyone holding the key can recompute signatures for known
// (ip, ua) pairs, so the key must be managed like any other credential.
func NewSecretFromKey(key []byte) (*Secret, error) {
	if len(key) < 16 {
		return nil, errors.New("signature: stable key must be at least 16 bytes")
	}
	cp := make([]byte, len(key))
	copy(cp, key)
	return &Secret{key: cp, subkeys: make(map[string][]byte)}, nil
}

// subkeyFor derives (and caches) a 32-byte domain-separated subkey for
// label via HKDF-Expand(SHA-256, key, info=label).
func (s *Secret) subkeyFor(label string) []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	if k, ok := s.subkeys[label]; ok {
		return k
	}
	r := hkdf.Expand(sha256.New, s.key, []byte(label))
	sub := make([]byte, 32)
	if _, err := io.ReadFull(r, sub); err != nil {
		// HKDF-Expand over SHA-256 output only fails if more than
		// 255*32 bytes are requested; 32 never hits that ceiling.
		panic("signature: hkdf expand: " + err.Error())
	}
	s.subkeys[label] = sub
	return sub
}

func (s *Secret) hmacHex(label string, parts ...string) string {
	mac := hmac.New(sha256.New, s.subkeyFor(label))
	mac.Write([]byte(strings.Join(parts, "|")))
	return hex.EncodeToString(mac.Sum(nil))
}

// Signature is the set of HMAC-derived identifiers for one visitor.
type Signature struct {
	Primary             string
	IPSignature         string
	UASignature         string
	ClientSideSignature string
	FactorCount         int
}

// Compute derives a Signature from raw per-request factors. Raw IP/UA
// never appear in the returned struct or anywhere downstream of this call.
func Compute(secret *Secret, ip, ua, clientSideToken string) Signature {
	factors := 0
	var ipSig, uaSig, clientSig string
	if ip != "" {
		ipSig = secret.hmacHex("ip", ip)
		factors++
	}
	if ua != "" {
		uaSig = secret.hmacHex("ua", ua)
		factors++
	}
	if clientSideToken != "" {
		clientSig = secret.hmacHex("client", clientSideToken)
		factors++
	}
	primary := secret.hmacHex("primary", ip, ua, clientSideToken)
	return Signature{
		Primary:             primary,
		IPSignature:         ipSig,
		UASignature:         uaSig,
		ClientSideSignature: clientSig,
		FactorCount:         factors,
	}
}

// Request is one generalized, PII-stripped observation appended to a
// signature's behavior ring buffer.
type Request struct {
	Timestamp       time.Time
	GeneralizedPath string
	BotProbability  float64
	Detectors       []string
	Signals         map[string]any
}

var (
	hexRunRe   = regexp.MustCompile(`[0-9a-fA-F]{8,}`)
	longDigits = regexp.MustCompile(`\d{4,}`)
	guidRe     = regexp.MustCompile(`(?i)[0-9a-f]{8}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{12}`)
)

// GeneralizePath normalizes a request path for storage: GUIDs, long hex
// runs, and long digit runs become "*"; the query string is dropped
// entirely.
func GeneralizePath(path string) string {
	p := guidRe.ReplaceAllString(path, "*")
	p = hexRunRe.ReplaceAllString(p, "*")
	p = longDigits.ReplaceAllString(p, "*")
	return p
}

// Behavior is the derived, cross-request view of one signature.
type Behavior struct {
	Signature string

	FirstSeen time.Time
	LastSeen  time.Time

	RequestCount          int
	AverageIntervalSec    float64
	PathEntropy           float64
	TimingCoefficient     float64
	AverageBotProbability float64
	AberrationScore       float64
	IsAberrant            bool

	CountryCode  string
	ASN          string
	IsDatacenter bool

	recent []Request // ring buffer, oldest first, capped at HistoryCapacity
}

// snapshot returns a value copy safe to hand to a caller outside the lock.
func (b *Behavior) snapshot() Behavior {
	cp := *b
	cp.recent = append([]Request(nil), b.recent...)
	return cp
}

// Requests returns a copy of the bounded recent-request buffer.
func (b Behavior) Requests() []Request {
	return append([]Request(nil), b.recent...)
}

type behaviorEntry struct {
	mu sync.Mutex
	b  *Behavior
}

// Coordinator is the Signature Coordinator.
type Coordinator struct {
	secret *Secret
	ttl    time.Duration

	mu        sync.RWMutex
	behaviors map[string]*behaviorEntry
	ipIndex   map[string]map[string]time.Time // ip_signature -> signature -> last seen
	families  *familyTracker
}

// NewCoordinator builds a Coordinator with the given secret and idle TTL.
func NewCoordinator(secret *Secret, ttl time.Duration) *Coordinator {
	if ttl <= 0 {
		ttl = DefaultIdleTTL
	}
	return &Coordinator{
		secret:    secret,
		ttl:       ttl,
		behaviors: make(map[string]*behaviorEntry),
		ipIndex:   make(map[string]map[string]time.Time),
		families:  newFamilyTracker(),
	}
}

// Observe records one request's evidence against its signature's behavior
// history, updates the IP index, and opportunistically runs family
// discovery.
func (c *Coordinator) Observe(now time.Time, sig Signature, reqPath string, botProbability float64, detectors []string, signals map[string]any, countryCode, asn string, isDatacenter bool) {
	entry := c.entryFor(sig.Primary)

	entry.mu.Lock()
	b := entry.b
	if b.FirstSeen.IsZero() {
		b.FirstSeen = now
	}
	b.LastSeen = now
	b.CountryCode = countryCode
	b.ASN = asn
	b.IsDatacenter = isDatacenter

	req := Request{
		Timestamp:       now,
		GeneralizedPath: GeneralizePath(reqPath),
		BotProbability:  botProbability,
		Detectors:       append([]string(nil), detectors...),
		Signals:         filterPII(signals),
	}
	b.recent = append(b.recent, req)
	if len(b.recent) > HistoryCapacity {
		b.recent = b.recent[len(b.recent)-HistoryCapacity:]
	}
	recomputeDerived(b)
	entry.mu.Unlock()

	if sig.IPSignature != "" {
		c.mu.Lock()
		set, ok := c.ipIndex[sig.IPSignature]
		if !ok {
			set = make(map[string]time.Time)
			c.ipIndex[sig.IPSignature] = set
		}
		set[sig.Primary] = now
		c.mu.Unlock()
	}

	c.discoverFamilies(now, sig)
}

func (c *Coordinator) entryFor(primary string) *behaviorEntry {
	c.mu.RLock()
	e, ok := c.behaviors[primary]
	c.mu.RUnlock()
	if ok {
		return e
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if e, ok = c.behaviors[primary]; ok {
		return e
	}
	e = &behaviorEntry{b: &Behavior{Signature: primary}}
	c.behaviors[primary] = e
	return e
}

// GetBehavior returns a snapshot of a signature's behavior, if known.
func (c *Coordinator) GetBehavior(sig string) (Behavior, bool) {
	c.mu.RLock()
	e, ok := c.behaviors[sig]
	c.mu.RUnlock()
	if !ok {
		return Behavior{}, false
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.b.snapshot(), true
}

// GetAllBehaviors returns a snapshot of every tracked behavior.
func (c *Coordinator) GetAllBehaviors() []Behavior {
	c.mu.RLock()
	entries := make([]*behaviorEntry, 0, len(c.behaviors))
	for _, e := range c.behaviors {
		entries = append(entries, e)
	}
	c.mu.RUnlock()

	out := make([]Behavior, 0, len(entries))
	for _, e := range entries {
		e.mu.Lock()
		out = append(out, e.b.snapshot())
		e.mu.Unlock()
	}
	return out
}

// GetIPIndex returns a copy of the IP-signature -> signature-set index.
func (c *Coordinator) GetIPIndex() map[string]map[string]time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make(map[string]map[string]time.Time, len(c.ipIndex))
	for ip, sigs := range c.ipIndex {
		inner := make(map[string]time.Time, len(sigs))
		for s, t := range sigs {
			inner[s] = t
		}
		out[ip] = inner
	}
	return out
}

// GetFamily returns the family a signature belongs to, if any.
func (c *Coordinator) GetFamily(sig string) (Family, bool) {
	return c.families.familyOf(sig)
}

// EvictIdle drops behaviors (and clears their family membership) whose
// last-seen time is older than the coordinator's idle TTL relative to now.
func (c *Coordinator) EvictIdle(now time.Time) {
	c.mu.Lock()
	var dead []string
	for sig, e := range c.behaviors {
		e.mu.Lock()
		idle := now.Sub(e.b.LastSeen) > c.ttl
		e.mu.Unlock()
		if idle {
			dead = append(dead, sig)
			delete(c.behaviors, sig)
		}
	}
	for _, sigs := range c.ipIndex {
		for _, sig := range dead {
			delete(sigs, sig)
		}
	}
	c.mu.Unlock()

	for _, sig := range dead {
		c.families.remove(sig)
	}
}

func recomputeDerived(b *Behavior) {
	n := len(b.recent)
	b.RequestCount = n
	if n == 0 {
		return
	}

	var probSum float64
	pathCounts := make(map[string]int)
	intervals := make([]float64, 0, n-1)
	for i, r := range b.recent {
		probSum += r.BotProbability
		pathCounts[r.GeneralizedPath]++
		if i > 0 {
			intervals = append(intervals, r.Timestamp.Sub(b.recent[i-1].Timestamp).Seconds())
		}
	}
	b.AverageBotProbability = probSum / float64(n)
	b.PathEntropy = shannonEntropy(pathCounts, n)

	if len(intervals) == 0 {
		b.AverageIntervalSec = 0
		b.TimingCoefficient = 0
	} else {
		mean, stddev := meanStddev(intervals)
		b.AverageIntervalSec = mean
		if mean > 0 {
			b.TimingCoefficient = stddev / mean
		} else {
			b.TimingCoefficient = 0
		}
	}

	// Aberration score: a low path-entropy, low-timing-variance, high
	// bot-probability combination signals scripted repetition.
	b.AberrationScore = clamp01(b.AverageBotProbability*0.5 + (1-clamp01(b.PathEntropy/4))*0.25 + (1-clamp01(b.TimingCoefficient))*0.25)
	b.IsAberrant = b.AberrationScore >= 0.7 && n >= 5
}

func shannonEntropy(counts map[string]int, total int) float64 {
	if total == 0 {
		return 0
	}
	var h float64
	for _, c := range counts {
		if c == 0 {
			continue
		}
		p := float64(c) / float64(total)
		h -= p * math.Log2(p)
	}
	return h
}

func meanStddev(xs []float64) (mean, stddev float64) {
	n := float64(len(xs))
	for _, x := range xs {
		mean += x
	}
	mean /= n
	var sumSq float64
	for _, x := range xs {
		d := x - mean
		sumSq += d * d
	}
	stddev = math.Sqrt(sumSq / n)
	return mean, stddev
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// piiSignalKeys are excluded from the small signal subset persisted into
// behavior history.
var piiSignalKeys = map[string]struct{}{
	"ip.raw": {}, "ua.raw": {}, "client_ip_raw": {}, "user_agent_raw": {},
	"request.ip": {}, "request.ua": {},
}

func filterPII(signals map[string]any) map[string]any {
	if len(signals) == 0 {
		return nil
	}
	out := make(map[string]any, len(signals))
	for k, v := range signals {
		if _, excluded := piiSignalKeys[k]; excluded {
			continue
		}
		out[k] = v
	}
	return out
}
