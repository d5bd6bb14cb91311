package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/iago/feedback-insights/internal/domain"
)

type Entry struct {
	Classification domain.Classification
	ModelID        string
	CreatedAt      time.Time
	ExpiresAt      time.Time
}

type Config struct {
	TTL        time.Duration
	MaxEntries int
	Now        func() time.Time
}

// ClassificationCache keeps model labels per normalized text so identical
// feedback re-submitted by retried jobs is not classified twice.
type ClassificationCache struct {
	mu         sync.RWMutex
	entries    map[string]Entry
	ttl        time.Duration
	maxEntries int
	now        func() time.Time
}

func NewClassificationCache(config Config) *ClassificationCache {
	if config.TTL <= 0 {
		config.TTL = 6 * time.Hour
	}
	if config.MaxEntries <= 0 {
		config.MaxEntries = 10000
	}
	if config.Now == nil {
		config.Now = func() time.Time { return time.Now().UTC() }
	}
	return &ClassificationCache{
		entries:    make(map[string]Entry),
		ttl:        config.TTL,
		maxEntries: config.MaxEntries,
		now:        config.Now,
	}
}

func (c *ClassificationCache) Get(signature string) (Entry, bool) {
	if c == nil {
		return Entry{}, false
	}
	c.mu.RLock()
	entry, exists := c.entries[signature]
	c.mu.RUnlock()

	if !exists {
		return Entry{}, false
	}
	if c.now().After(entry.ExpiresAt) {
		c.mu.Lock()
		delete(c.entries, signature)
		c.mu.Unlock()
		return Entry{}, false
	}
	return entry, true
}

// Set stores an AI-verified label. Labels from any other source are ignored.
func (c *ClassificationCache) Set(signature string, entry Entry) {
	if c == nil || entry.Classification.Source != domain.ClassifiedByAI {
		return
	}
	now := c.now()
	entry.CreatedAt = now
	entry.ExpiresAt = now.Add(c.ttl)

	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.entries[signature]; !exists && len(c.entries) >= c.maxEntries {
		c.evictOldest()
	}
	c.entries[signature] = entry
}

func (c *ClassificationCache) Len() int {
	if c == nil {
		return 0
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// BuildSignature hashes the case- and whitespace-normalized parts.
func BuildSignature(parts ...string) string {
	normalized := make([]string, 0, len(parts))
	for _, part := range parts {
		normalized = append(normalized, strings.Join(strings.Fields(strings.ToLower(part)), " "))
	}
	joined := strings.Join(normalized, "||")
	sum := sha256.Sum256([]byte(joined))
	return hex.EncodeToString(sum[:])
}

func (c *ClassificationCache) evictOldest() {
	if len(c.entries) == 0 {
		return
	}

	type pair struct {
		key   string
		value Entry
	}
	pairs := make([]pair, 0, len(c.entries))
	for key, value := range c.entries {
		pairs = append(pairs, pair{key: key, value: value})
	}
	sort.Slice(pairs, func(i, j int) bool {
		return pairs[i].value.CreatedAt.Before(pairs[j].value.CreatedAt)
	})
	delete(c.entries, pairs[0].key)
}
