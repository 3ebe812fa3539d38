// Package fusion runs lexical and vector search concurrently and merges the
// two rankings via weighted Reciprocal Rank Fusion.
package fusion

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/kailas-cloud/retrievex/internal/domain"
	"github.com/kailas-cloud/retrievex/internal/domain/candidate"
	"github.com/kailas-cloud/retrievex/internal/metrics"
)

// Config holds fusion tuning parameters.
type Config struct {
	RRFK          int
	LexicalWeight float64
	VectorWeight  float64
	// MaxPerBackend caps candidates requested from each backend.
	MaxPerBackend int
	// BackendTimeout bounds each individual backend call. It must be shorter
	// than the request budget; the caller's deadline still applies on top.
	BackendTimeout time.Duration
}

// Engine fuses the two retrieval backends.
type Engine struct {
	lexical LexicalSearcher
	vector  VectorSearcher
	cfg     Config
	logger  *zap.Logger
}

// New creates a fusion engine.
func New(lexical LexicalSearcher, vector VectorSearcher, cfg Config, logger *zap.Logger) *Engine {
	if cfg.RRFK <= 0 {
		cfg.RRFK = DefaultRRFK
	}
	if cfg.MaxPerBackend <= 0 {
		cfg.MaxPerBackend = 100
	}
	return &Engine{lexical: lexical, vector: vector, cfg: cfg, logger: logger}
}

// Fuse runs both searches concurrently and merges the rankings. It returns
// up to k*2 candidates ordered by fused score. When one backend fails the
// surviving ranking is used alone and degraded=true; when both fail it
// returns domain.ErrBackendUnavailable.
func (e *Engine) Fuse(
	ctx context.Context, text string, embedding []float32,
	filters map[string]string, k int,
) (cands []candidate.Candidate, degraded bool, err error) {
	perBackend := k * 2
	if perBackend > e.cfg.MaxPerBackend {
		perBackend = e.cfg.MaxPerBackend
	}

	var (
		lexHits, vecHits []candidate.Hit
		lexErr, vecErr   error
	)

	// Plain errgroup, no shared cancellation: one backend failing must not
	// cancel the survivor.
	var g errgroup.Group

	g.Go(func() error {
		bctx, cancel := e.backendContext(ctx)
		defer cancel()
		lexHits, lexErr = e.lexical.SearchLexical(bctx, text, filters, perBackend)
		return nil
	})

	g.Go(func() error {
		if len(embedding) == 0 {
			vecErr = fmt.Errorf("no query embedding")
			return nil
		}
		bctx, cancel := e.backendContext(ctx)
		defer cancel()
		vecHits, vecErr = e.vector.SearchVector(bctx, embedding, filters, perBackend)
		return nil
	})

	_ = g.Wait()

	if lexErr != nil {
		metrics.BackendErrorsTotal.WithLabelValues("lexical").Inc()
		e.logger.Warn("Lexical backend failed, fusing vector-only", zap.Error(lexErr))
	}
	if vecErr != nil {
		metrics.BackendErrorsTotal.WithLabelValues("vector").Inc()
		e.logger.Warn("Vector backend failed, fusing lexical-only", zap.Error(vecErr))
	}
	if lexErr != nil && vecErr != nil {
		return nil, false, fmt.Errorf("%w: lexical: %v; vector: %v",
			domain.ErrBackendUnavailable, lexErr, vecErr)
	}

	wLex, wVec := adaptWeights(text, e.cfg.LexicalWeight, e.cfg.VectorWeight)
	fused := fuseRRF(lexHits, vecHits, e.cfg.RRFK, wLex, wVec)

	if len(fused) > k*2 {
		fused = fused[:k*2]
	}

	return fused, lexErr != nil || vecErr != nil, nil
}

func (e *Engine) backendContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if e.cfg.BackendTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, e.cfg.BackendTimeout)
}
