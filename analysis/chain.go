package analysis

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/poiesic/trendwire/ai"
	"github.com/poiesic/trendwire/core"
)

// providerChain is the fallback state of one request: the providers in
// priority order, the index of the provider to try next and the set of
// providers that already failed. It is not safe for concurrent use.
type providerChain struct {
	providers []ai.CompletionProvider
	current   int
	tried     map[string]bool
	errs      []error
	timeout   time.Duration
	maxTokens int
	logger    *slog.Logger
}

func newProviderChain(providers []ai.CompletionProvider, timeout time.Duration, maxTokens int, logger *slog.Logger) *providerChain {
	return &providerChain{
		providers: providers,
		tried:     make(map[string]bool, len(providers)),
		timeout:   timeout,
		maxTokens: maxTokens,
		logger:    logger,
	}
}

// complete sends prompt to the current provider and falls through the
// remaining ones on failure. It returns the text and the provider that
// produced it.
func (c *providerChain) complete(ctx context.Context, prompt string) (string, string, error) {
	for ; c.current < len(c.providers); c.current++ {
		provider := c.providers[c.current]
		name := provider.Name()
		if c.tried[name] {
			continue
		}

		text, err := c.call(ctx, provider, prompt)
		if err == nil {
			return text, name, nil
		}
		if ctx.Err() != nil {
			// Cancelled by the caller.
			return "", "", ctx.Err()
		}

		c.tried[name] = true
		c.errs = append(c.errs, err)
		c.logger.Warn("completion provider failed, falling back",
			"provider", name,
			"kind", ai.KindOf(err).String(),
			"remaining", len(c.providers)-c.current-1,
			"err", err)
	}

	return "", "", fmt.Errorf("%w: %w", core.ErrAllProvidersExhausted, errors.Join(c.errs...))
}

func (c *providerChain) call(ctx context.Context, provider ai.CompletionProvider, prompt string) (string, error) {
	callCtx := ctx
	if c.timeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	text, err := provider.Complete(callCtx, prompt, c.maxTokens)
	if err != nil {
		return "", ai.Classify(provider.Name(), err)
	}
	if strings.TrimSpace(text) == "" {
		return "", ai.Classify(provider.Name(), ai.ErrEmptyCompletion)
	}
	return text, nil
}

// triedCount returns how many providers have failed so far.
func (c *providerChain) triedCount() int {
	return len(c.tried)
}
