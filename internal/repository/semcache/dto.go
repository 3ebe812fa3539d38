package semcache

import (
	"time"

	"github.com/kailas-cloud/retrievex/internal/domain/candidate"
)

// entryDTO is the stored form of a cache entry (L2 JSON encoding).
type entryDTO struct {
	Key       string         `json:"key"`
	TenantID  string         `json:"tenant_id"`
	UserID    string         `json:"user_id"`
	Results   []candidateDTO `json:"results"`
	Embedding []float32      `json:"embedding"`
	CreatedAt int64          `json:"created_at_ms"`
	ExpiresAt int64          `json:"expires_at_ms"`
}

type candidateDTO struct {
	DocID        string  `json:"doc_id"`
	Content      string  `json:"content,omitempty"`
	LexicalRank  int     `json:"lexical_rank,omitempty"`
	VectorRank   int     `json:"vector_rank,omitempty"`
	LexicalScore float64 `json:"lexical_score,omitempty"`
	VectorScore  float64 `json:"vector_score,omitempty"`
	FusedScore   float64 `json:"fused_score"`
	RerankScore  float64 `json:"rerank_score,omitempty"`
	Reranked     bool    `json:"reranked,omitempty"`
}

func toDTO(e *Entry) entryDTO {
	results := make([]candidateDTO, len(e.Results))
	for i, c := range e.Results {
		results[i] = candidateDTO{
			DocID:        c.DocID,
			Content:      c.Content,
			LexicalRank:  c.LexicalRank,
			VectorRank:   c.VectorRank,
			LexicalScore: c.LexicalScore,
			VectorScore:  c.VectorScore,
			FusedScore:   c.FusedScore,
			RerankScore:  c.RerankScore,
			Reranked:     c.Reranked,
		}
	}
	return entryDTO{
		Key:       e.Key,
		TenantID:  e.TenantID,
		UserID:    e.UserID,
		Results:   results,
		Embedding: e.Embedding,
		CreatedAt: e.CreatedAt.UnixMilli(),
		ExpiresAt: e.ExpiresAt.UnixMilli(),
	}
}

func fromDTO(d *entryDTO) *Entry {
	results := make([]candidate.Candidate, len(d.Results))
	for i, c := range d.Results {
		results[i] = candidate.Candidate{
			DocID:        c.DocID,
			Content:      c.Content,
			LexicalRank:  c.LexicalRank,
			VectorRank:   c.VectorRank,
			LexicalScore: c.LexicalScore,
			VectorScore:  c.VectorScore,
			FusedScore:   c.FusedScore,
			RerankScore:  c.RerankScore,
			Reranked:     c.Reranked,
		}
	}
	return &Entry{
		Key:       d.Key,
		TenantID:  d.TenantID,
		UserID:    d.UserID,
		Results:   results,
		Embedding: d.Embedding,
		CreatedAt: time.UnixMilli(d.CreatedAt),
		ExpiresAt: time.UnixMilli(d.ExpiresAt),
	}
}
