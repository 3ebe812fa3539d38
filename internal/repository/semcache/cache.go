// Package semcache implements the similarity-indexed result cache: an
// exact-key L1 fast path, a tenant-partitioned cosine index over cached
// query embeddings, and a key-value L2 so entries survive process restarts.
// The cache is an optimization, never a dependency: every read path fails
// open to a miss, and anything ambiguous fails closed to a miss too.
package semcache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/kailas-cloud/retrievex/internal/db"
	"github.com/kailas-cloud/retrievex/internal/domain"
	"github.com/kailas-cloud/retrievex/internal/domain/candidate"
	"github.com/kailas-cloud/retrievex/internal/domain/query"
)

const keyPrefix = "sem_cache:"

// Hit classifies how a lookup matched.
type Hit string

const (
	// HitExact means the derived key matched byte for byte.
	HitExact Hit = "hit_exact"
	// HitSemantic means a same-tenant entry matched by embedding similarity.
	HitSemantic Hit = "hit_semantic"
	// Miss means no usable entry was found.
	Miss Hit = "miss"
)

// Entry is one cached ranked result set.
type Entry struct {
	Key       string
	TenantID  string
	UserID    string
	Results   []candidate.Candidate
	Embedding []float32
	CreatedAt time.Time
	ExpiresAt time.Time
}

// Config holds cache tuning parameters.
type Config struct {
	SimilarityThreshold float64
	TTL                 time.Duration
	MaxProbes           int
	L1Size              int
	SweepInterval       time.Duration
}

// Cache is the semantic result cache. Safe for concurrent use.
type Cache struct {
	cfg    Config
	l1     *expirable.LRU[string, *Entry]
	index  *similarityIndex
	kv     db.KVStore
	logger *zap.Logger

	lookups *prometheus.CounterVec

	// byDoc maps document ids to the cache keys whose result sets contain
	// them, for the invalidate-by-document hook.
	docMu sync.Mutex
	byDoc map[string]map[string]string // docID -> key -> tenantID

	stop chan struct{}
	done chan struct{}
}

// New creates a semantic cache. kv may be nil, in which case entries live
// only in process memory. lookups is a counter vec with label "result",
// passed explicitly.
func New(cfg Config, kv db.KVStore, lookups *prometheus.CounterVec, logger *zap.Logger) *Cache {
	return &Cache{
		cfg:     cfg,
		l1:      expirable.NewLRU[string, *Entry](cfg.L1Size, nil, cfg.TTL),
		index:   newSimilarityIndex(),
		kv:      kv,
		logger:  logger,
		lookups: lookups,
		byDoc:   make(map[string]map[string]string),
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
	}
}

// Key derives the exact-match cache key. Tenant and user are part of the key
// so no two principals can ever collide on it.
func Key(q *query.Query) string {
	h := sha256.New()
	for _, part := range []string{q.TenantID(), q.UserID(), q.NormalizedText(), q.CanonicalFilters()} {
		h.Write([]byte(part))
		h.Write([]byte{0x1f})
	}
	return keyPrefix + hex.EncodeToString(h.Sum(nil))
}

// Lookup returns a cached entry for the query, trying the exact key first
// and then same-tenant similarity matches in descending similarity order.
// embedding may be nil, which limits the lookup to the exact path.
func (c *Cache) Lookup(ctx context.Context, q *query.Query, embedding []float32) (*Entry, Hit) {
	if e, ok := c.LookupExact(ctx, q); ok {
		return e, HitExact
	}
	return c.LookupSimilar(ctx, q, embedding)
}

// LookupExact checks only the derived exact key. It is cheap enough to run
// before the query embedding exists. A non-match is not counted as a miss;
// callers are expected to follow up with LookupSimilar.
func (c *Cache) LookupExact(ctx context.Context, q *query.Query) (*Entry, bool) {
	if e := c.getUsable(ctx, Key(q), q.TenantID(), time.Now()); e != nil {
		c.incLookup(HitExact)
		return e, true
	}
	return nil, false
}

// LookupSimilar probes same-tenant entries by embedding similarity in
// descending similarity order. It counts the lookup outcome, so it must be
// called at most once per request.
func (c *Cache) LookupSimilar(ctx context.Context, q *query.Query, embedding []float32) (*Entry, Hit) {
	now := time.Now()
	if len(embedding) > 0 {
		matches := c.index.search(
			q.TenantID(), embedding, c.cfg.SimilarityThreshold, c.cfg.MaxProbes, now,
		)
		for _, m := range matches {
			if e := c.getUsable(ctx, m.key, q.TenantID(), now); e != nil {
				c.incLookup(HitSemantic)
				return e, HitSemantic
			}
		}
	}

	c.incLookup(Miss)
	return nil, Miss
}

// Store writes a freshly computed result set. Callers must not store
// degraded results; the cache trusts them to enforce that.
// Duplicate concurrent writes for the same key are idempotent overwrites.
func (c *Cache) Store(ctx context.Context, q *query.Query, embedding []float32, results []candidate.Candidate) {
	now := time.Now()
	entry := &Entry{
		Key:       Key(q),
		TenantID:  q.TenantID(),
		UserID:    q.UserID(),
		Results:   results,
		Embedding: embedding,
		CreatedAt: now,
		ExpiresAt: now.Add(c.cfg.TTL),
	}

	c.l1.Add(entry.Key, entry)
	if len(embedding) > 0 {
		c.index.add(entry.TenantID, entry.Key, embedding, entry.ExpiresAt)
	}
	c.trackDocs(entry)

	if c.kv == nil {
		return
	}
	data, err := json.Marshal(toDTO(entry))
	if err != nil {
		c.logger.Warn("Failed to encode cache entry", zap.Error(err))
		return
	}
	if err := c.kv.SetWithTTL(ctx, entry.Key, data, c.cfg.TTL); err != nil {
		c.logger.Warn("Failed to persist cache entry", zap.String("key", entry.Key), zap.Error(err))
	}
}

// Invalidate purges every cached entry whose result set references the
// document. Consumed by the document store's change-notification hook.
func (c *Cache) Invalidate(ctx context.Context, docID string) int {
	c.docMu.Lock()
	keys := c.byDoc[docID]
	delete(c.byDoc, docID)
	c.docMu.Unlock()

	for key, tenantID := range keys {
		c.evict(ctx, key, tenantID)
	}
	return len(keys)
}

// Start launches the periodic expiry sweep. Stop must be called on shutdown.
func (c *Cache) Start() {
	go func() {
		defer close(c.done)
		ticker := time.NewTicker(c.cfg.SweepInterval)
		defer ticker.Stop()
		for {
			select {
			case <-c.stop:
				return
			case <-ticker.C:
				if removed := c.index.sweep(time.Now()); removed > 0 {
					c.logger.Debug("Swept expired cache index entries", zap.Int("removed", removed))
				}
			}
		}
	}()
}

// Stop terminates the sweep goroutine.
func (c *Cache) Stop() {
	close(c.stop)
	<-c.done
}

// getUsable fetches an entry by key and validates it. Expired entries are
// deleted, tenant mismatches are treated as cache inconsistency: purged and
// never served. Backend read errors degrade to a miss.
func (c *Cache) getUsable(ctx context.Context, key, tenantID string, now time.Time) *Entry {
	entry, ok := c.l1.Get(key)
	if !ok {
		entry = c.getFromKV(ctx, key)
		if entry == nil {
			return nil
		}
		c.l1.Add(key, entry)
	}

	if now.After(entry.ExpiresAt) {
		c.evict(ctx, key, entry.TenantID)
		return nil
	}
	if err := c.validate(entry, key, tenantID); err != nil {
		c.logger.Warn("Discarding inconsistent cache entry", zap.String("key", key), zap.Error(err))
		c.evict(ctx, key, entry.TenantID)
		return nil
	}
	return entry
}

func (c *Cache) validate(entry *Entry, key, tenantID string) error {
	if entry.Key != key {
		return fmt.Errorf("%w: key mismatch", domain.ErrCacheInconsistency)
	}
	if entry.TenantID != tenantID {
		return fmt.Errorf("%w: tenant mismatch", domain.ErrCacheInconsistency)
	}
	if len(entry.Results) == 0 {
		return fmt.Errorf("%w: empty result set", domain.ErrCacheInconsistency)
	}
	return nil
}

func (c *Cache) getFromKV(ctx context.Context, key string) *Entry {
	if c.kv == nil {
		return nil
	}
	data, err := c.kv.Get(ctx, key)
	if err != nil {
		if !errors.Is(err, db.ErrKeyNotFound) {
			// Fail open: a cache backend outage is a miss, not a failure.
			c.logger.Warn("Cache read failed, treating as miss", zap.String("key", key), zap.Error(err))
		}
		return nil
	}

	var dto entryDTO
	if err := json.Unmarshal(data, &dto); err != nil {
		c.logger.Warn("Failed to decode cache entry", zap.String("key", key), zap.Error(err))
		c.deleteKV(ctx, key)
		return nil
	}

	entry := fromDTO(&dto)
	if len(entry.Embedding) > 0 {
		c.index.add(entry.TenantID, entry.Key, entry.Embedding, entry.ExpiresAt)
	}
	c.trackDocs(entry)
	return entry
}

func (c *Cache) evict(ctx context.Context, key, tenantID string) {
	c.l1.Remove(key)
	c.index.remove(tenantID, key)
	c.deleteKV(ctx, key)
}

func (c *Cache) deleteKV(ctx context.Context, key string) {
	if c.kv == nil {
		return
	}
	if err := c.kv.Del(ctx, key); err != nil {
		c.logger.Warn("Failed to delete cache entry", zap.String("key", key), zap.Error(err))
	}
}

func (c *Cache) trackDocs(entry *Entry) {
	c.docMu.Lock()
	defer c.docMu.Unlock()
	for _, res := range entry.Results {
		keys, ok := c.byDoc[res.DocID]
		if !ok {
			keys = make(map[string]string)
			c.byDoc[res.DocID] = keys
		}
		keys[entry.Key] = entry.TenantID
	}
}

func (c *Cache) incLookup(h Hit) {
	if c.lookups != nil {
		c.lookups.WithLabelValues(string(h)).Inc()
	}
}
