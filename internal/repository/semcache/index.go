package semcache

import (
	"math"
	"sort"
	"sync"
	"time"
)

// similarityIndex holds cached query embeddings partitioned by tenant.
// Partitioning is the isolation mechanism: a lookup can only ever see keys
// written under the same tenant, there is no cross-tenant path to omit.
type similarityIndex struct {
	mu      sync.RWMutex
	tenants map[string][]indexEntry
}

type indexEntry struct {
	key       string
	embedding []float32
	norm      float64
	expiresAt time.Time
}

type indexMatch struct {
	key        string
	similarity float64
}

func newSimilarityIndex() *similarityIndex {
	return &similarityIndex{tenants: make(map[string][]indexEntry)}
}

// add registers an embedding under a tenant, replacing a stale entry for the
// same key if one exists.
func (ix *similarityIndex) add(tenantID, key string, embedding []float32, expiresAt time.Time) {
	norm := vectorNorm(embedding)
	if norm == 0 {
		return
	}

	ix.mu.Lock()
	defer ix.mu.Unlock()

	entries := ix.tenants[tenantID]
	for i := range entries {
		if entries[i].key == key {
			entries[i] = indexEntry{key: key, embedding: embedding, norm: norm, expiresAt: expiresAt}
			return
		}
	}
	ix.tenants[tenantID] = append(entries, indexEntry{
		key: key, embedding: embedding, norm: norm, expiresAt: expiresAt,
	})
}

// search returns up to limit non-expired keys of the same tenant whose cosine
// similarity to the probe meets the threshold, best first.
func (ix *similarityIndex) search(
	tenantID string, probe []float32, threshold float64, limit int, now time.Time,
) []indexMatch {
	probeNorm := vectorNorm(probe)
	if probeNorm == 0 {
		return nil
	}

	ix.mu.RLock()
	defer ix.mu.RUnlock()

	var matches []indexMatch
	for _, e := range ix.tenants[tenantID] {
		if now.After(e.expiresAt) {
			continue
		}
		sim := cosine(probe, probeNorm, e.embedding, e.norm)
		if sim >= threshold {
			matches = append(matches, indexMatch{key: e.key, similarity: sim})
		}
	}

	sort.Slice(matches, func(i, j int) bool {
		if matches[i].similarity != matches[j].similarity {
			return matches[i].similarity > matches[j].similarity
		}
		return matches[i].key < matches[j].key
	})

	if len(matches) > limit {
		matches = matches[:limit]
	}
	return matches
}

// remove deletes a key from a tenant partition.
func (ix *similarityIndex) remove(tenantID, key string) {
	ix.mu.Lock()
	defer ix.mu.Unlock()

	entries := ix.tenants[tenantID]
	for i := range entries {
		if entries[i].key == key {
			entries[i] = entries[len(entries)-1]
			ix.tenants[tenantID] = entries[:len(entries)-1]
			return
		}
	}
}

// sweep drops expired entries across all tenants and returns how many were removed.
func (ix *similarityIndex) sweep(now time.Time) int {
	ix.mu.Lock()
	defer ix.mu.Unlock()

	removed := 0
	for tenant, entries := range ix.tenants {
		kept := entries[:0]
		for _, e := range entries {
			if now.After(e.expiresAt) {
				removed++
				continue
			}
			kept = append(kept, e)
		}
		if len(kept) == 0 {
			delete(ix.tenants, tenant)
		} else {
			ix.tenants[tenant] = kept
		}
	}
	return removed
}

func vectorNorm(v []float32) float64 {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	return math.Sqrt(sum)
}

func cosine(a []float32, normA float64, b []float32, normB float64) float64 {
	if len(a) != len(b) || normA == 0 || normB == 0 {
		return 0
	}
	var dot float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
	}
	return dot / (normA * normB)
}
