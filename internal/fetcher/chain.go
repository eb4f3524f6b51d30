// Package fetcher selects between page-fetching strategies.
package fetcher

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/manga-crawler/internal/crawler"
	"github.com/JakeFAU/manga-crawler/internal/logging"
	"github.com/JakeFAU/manga-crawler/internal/metrics"
)

// Chain tries an ordered list of strategies, each at most once per fetch.
// Strategies that expose a Probe are checked once at construction and left
// out of the chain when unavailable.
type Chain struct {
	strategies []crawler.Strategy
	detector   crawler.ChallengeDetector
	logger     *zap.Logger
}

// NewChain probes the candidate strategies and returns a chain of the ones
// that are usable, in the order given. Nil strategies are skipped.
func NewChain(
	ctx context.Context,
	detector crawler.ChallengeDetector,
	logger *zap.Logger,
	candidates ...crawler.Strategy,
) (*Chain, error) {
	logger = logging.OrNop(logger)
	var usable []crawler.Strategy
	for _, s := range candidates {
		if s == nil {
			continue
		}
		if p, ok := s.(crawler.Prober); ok {
			if err := p.Probe(ctx); err != nil {
				logger.Warn("fetch strategy unavailable", zap.String("strategy", s.Name()), zap.Error(err))
				continue
			}
		}
		logger.Info("fetch strategy enabled", zap.String("strategy", s.Name()))
		usable = append(usable, s)
	}
	if len(usable) == 0 {
		return nil, crawler.ErrNoStrategies
	}
	return &Chain{strategies: usable, detector: detector, logger: logger}, nil
}

// Names lists the strategies in the order they are tried.
func (c *Chain) Names() []string {
	names := make([]string, len(c.strategies))
	for i, s := range c.strategies {
		names[i] = s.Name()
	}
	return names
}

// Fetch returns the first usable page. A strategy fails when it errors,
// returns no HTML, or returns a challenge interstitial; the next strategy is
// then tried once. There are no retries beyond the chain.
func (c *Chain) Fetch(ctx context.Context, req crawler.FetchRequest) (crawler.Page, error) {
	var errs []error
	for i, s := range c.strategies {
		if err := ctx.Err(); err != nil {
			return crawler.Page{}, fmt.Errorf("fetch %s: %w", req.URL, err)
		}
		start := time.Now()
		page, err := s.Fetch(ctx, req)
		if err == nil {
			err = c.check(page)
		}
		if err == nil {
			metrics.ObserveFetch(s.Name(), "ok", time.Since(start))
			page.Strategy = s.Name()
			if page.URL == "" {
				page.URL = req.URL
			}
			return page, nil
		}
		metrics.ObserveFetch(s.Name(), outcome(err), time.Since(start))
		errs = append(errs, fmt.Errorf("%s: %w", s.Name(), err))
		if i < len(c.strategies)-1 {
			metrics.ObserveFallback()
			c.logger.Warn("fetch strategy failed, falling back",
				zap.String("strategy", s.Name()),
				zap.String("next", c.strategies[i+1].Name()),
				zap.String("url", req.URL),
				zap.Error(err),
			)
		}
	}
	return crawler.Page{}, fmt.Errorf("%w: %s: %w", crawler.ErrFetchFailed, req.URL, errors.Join(errs...))
}

func (c *Chain) check(page crawler.Page) error {
	if strings.TrimSpace(page.HTML) == "" {
		return crawler.ErrEmptyPage
	}
	if c.detector != nil && c.detector.IsChallenge(page.HTML) {
		return crawler.ErrChallenge
	}
	return nil
}

func outcome(err error) string {
	switch {
	case errors.Is(err, crawler.ErrEmptyPage):
		return "empty"
	case errors.Is(err, crawler.ErrChallenge):
		return "challenge"
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	default:
		return "error"
	}
}
