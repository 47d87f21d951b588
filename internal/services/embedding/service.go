// Package embedding wraps the raw embedding client with the resilience
// pipeline the pipelines rely on: bounded retry with exponential backoff and
// jitter, a circuit breaker, and a content-keyed LRU cache consulted both
// before the upstream call and as a fallback when the upstream is down.
package embedding

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	lru "github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/sony/gobreaker/v2"

	"github.com/docfold/docgraph-backend/internal/platform/apperr"
	"github.com/docfold/docgraph-backend/internal/platform/logger"
	"github.com/docfold/docgraph-backend/internal/rag"
)

// Upstream is the raw embedding endpoint (one HTTP round trip, no policy).
type Upstream interface {
	Embed(ctx context.Context, inputs []string) ([][]float32, error)
}

type Service struct {
	log      *logger.Logger
	upstream Upstream
	dims     int
	cfg      Config
	cache    *lru.LRU[string, []float32]
	breaker  *gobreaker.CircuitBreaker[[][]float32]
}

var _ rag.Embedder = (*Service)(nil)

func NewService(log *logger.Logger, upstream Upstream, dims int, cfg Config) (*Service, error) {
	if log == nil {
		return nil, fmt.Errorf("embedding: logger required")
	}
	if upstream == nil {
		return nil, fmt.Errorf("embedding: upstream required")
	}
	if dims <= 0 {
		return nil, fmt.Errorf("embedding: dimensions must be positive, got %d", dims)
	}

	var cache *lru.LRU[string, []float32]
	if cfg.Enabled && cfg.MaxCachedItems > 0 {
		cache = lru.NewLRU[string, []float32](
			cfg.MaxCachedItems,
			nil,
			time.Duration(cfg.ExpirationHours)*time.Hour,
		)
	}

	breaker := gobreaker.NewCircuitBreaker[[][]float32](gobreaker.Settings{
		Name:        "embedding",
		MaxRequests: 1,
		Interval:    time.Duration(cfg.CircuitSamplingSec) * time.Second,
		Timeout:     time.Duration(cfg.CircuitBreakSec) * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < uint32(cfg.CircuitMinThroughput) {
				return false
			}
			ratio := float64(counts.TotalFailures) / float64(counts.Requests)
			return ratio >= cfg.CircuitFailureRatio
		},
	})

	return &Service{
		log:      log.With("service", "EmbeddingService"),
		upstream: upstream,
		dims:     dims,
		cfg:      cfg,
		cache:    cache,
		breaker:  breaker,
	}, nil
}

func (s *Service) Dimensions() int { return s.dims }

func (s *Service) Embed(ctx context.Context, text string) ([]float32, error) {
	vecs, err := s.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

func (s *Service) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	out := make([][]float32, len(texts))
	missing := make([]int, 0, len(texts))
	for i, text := range texts {
		if cached, ok := s.cacheGet(text); ok {
			out[i] = cached
			continue
		}
		missing = append(missing, i)
	}
	if len(missing) == 0 {
		return out, nil
	}

	inputs := make([]string, len(missing))
	for j, i := range missing {
		inputs[j] = texts[i]
	}

	vecs, err := s.callUpstream(ctx, inputs)
	if err != nil {
		return nil, s.upstreamFailure(err)
	}
	if len(vecs) != len(inputs) {
		return nil, apperr.New(apperr.KindInternal,
			fmt.Sprintf("embedding batch size mismatch: want=%d got=%d", len(inputs), len(vecs)))
	}

	for j, vec := range vecs {
		if len(vec) != s.dims {
			return nil, apperr.New(apperr.KindDimensionMismatch,
				fmt.Sprintf("embedding dimension mismatch: expected=%d got=%d", s.dims, len(vec)))
		}
		out[missing[j]] = vec
		s.cacheAdd(inputs[j], vec)
	}
	return out, nil
}

// callUpstream runs one resilient upstream call: the breaker guards the
// retry loop, each attempt gets its own timeout.
func (s *Service) callUpstream(ctx context.Context, inputs []string) ([][]float32, error) {
	return s.breaker.Execute(func() ([][]float32, error) {
		bo := backoff.NewExponentialBackOff()
		bo.InitialInterval = time.Duration(s.cfg.InitialDelayMs) * time.Millisecond
		bo.MaxInterval = time.Duration(s.cfg.MaxDelayMs) * time.Millisecond
		bo.Multiplier = s.cfg.BackoffMultiplier
		if !s.cfg.UseJitter {
			bo.RandomizationFactor = 0
		}

		var result [][]float32
		operation := func() error {
			attemptCtx, cancel := context.WithTimeout(ctx, time.Duration(s.cfg.TimeoutSec)*time.Second)
			defer cancel()
			vecs, err := s.upstream.Embed(attemptCtx, inputs)
			if err != nil {
				if ctx.Err() != nil {
					return backoff.Permanent(ctx.Err())
				}
				return err
			}
			result = vecs
			return nil
		}

		retries := uint64(0)
		if s.cfg.MaxRetryAttempts > 1 {
			retries = uint64(s.cfg.MaxRetryAttempts - 1)
		}
		if err := backoff.Retry(operation, backoff.WithContext(backoff.WithMaxRetries(bo, retries), ctx)); err != nil {
			return nil, err
		}
		return result, nil
	})
}

// upstreamFailure classifies a failed upstream call. Open-circuit and
// transport errors surface as upstream-unavailable with the original reason.
func (s *Service) upstreamFailure(err error) error {
	reason := "embedding service unavailable"
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		reason = "embedding circuit breaker open"
	}
	s.log.Warn("embedding upstream failed", "reason", reason, "error", err)
	return apperr.Wrap(apperr.KindUpstreamUnavailable, reason, err)
}

func (s *Service) cacheGet(text string) ([]float32, bool) {
	if s.cache == nil {
		return nil, false
	}
	return s.cache.Get(cacheKey(text))
}

func (s *Service) cacheAdd(text string, vec []float32) {
	if s.cache == nil {
		return
	}
	s.cache.Add(cacheKey(text), vec)
}

func cacheKey(text string) string {
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:])
}
