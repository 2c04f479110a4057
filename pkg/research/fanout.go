package research

import (
	"context"
	"errors"
	"log/slog"

	"golang.org/x/sync/errgroup"
)

// FanOut issues one search per query concurrently and returns the groups in
// query order. A failed query is recorded with zero results; only context
// cancellation fails the batch, and then nothing is returned so the caller
// never appends a partial round.
func FanOut(ctx context.Context, provider SearchProvider, queries []string, maxResults int, logger *slog.Logger) ([]ResultGroup, error) {
	if logger == nil {
		logger = slog.Default()
	}
	groups := make([]ResultGroup, len(queries))
	if len(queries) == 0 {
		return groups, nil
	}

	var g errgroup.Group
	g.SetLimit(len(queries))
	for i, q := range queries {
		g.Go(func() error {
			logger.Info("Search query start", "query", q)
			items, err := provider.Search(ctx, q, maxResults)
			if err != nil {
				var perr *ProviderError
				if !errors.As(err, &perr) {
					err = &ProviderError{Provider: "search", Query: q, Err: err}
				}
				logger.Warn("Search query failed, recording empty results", "query", q, "error", err)
				items = nil
			}
			if len(items) > maxResults {
				items = items[:maxResults]
			}
			out := make([]ResultItem, len(items))
			copy(out, items)
			groups[i] = ResultGroup{Query: q, Results: out}
			logger.Info("Search query done", "query", q, "results", len(out))
			return nil
		})
	}

	done := make(chan struct{})
	go func() {
		_ = g.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		// In-flight calls are abandoned; they only write to groups, which is dropped.
		return nil, ctx.Err()
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return groups, nil
}
