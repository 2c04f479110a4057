package generation

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// Retry re-issues a generation until its output validates.
type Retry struct {
	Attempts int
	// Backoff is multiplied by the attempt number before each retry.
	Backoff time.Duration
	Logger  *slog.Logger
}

// DefaultRetry makes 3 attempts with a linear one second backoff.
func DefaultRetry() Retry {
	return Retry{Attempts: 3, Backoff: time.Second}
}

// Do calls g and validates the output, retrying on either failing. A
// streaming request is never retried once a chunk has reached the caller.
func (r Retry) Do(ctx context.Context, g Generator, req Request, validate func(string) error) (string, error) {
	attempts := r.Attempts
	if attempts <= 0 {
		attempts = 1
	}
	logger := r.Logger
	if logger == nil {
		logger = slog.Default()
	}

	streamed := false
	if req.Stream != nil {
		forward := req.Stream
		req.Stream = func(chunk string) {
			streamed = true
			forward(chunk)
		}
	}

	var lastErr error
	tried := 0
	for i := 0; i < attempts; i++ {
		if i > 0 {
			logger.Warn("Retrying LLM generation", "role", req.Role, "attempt", i+1, "last_error", lastErr)
			select {
			case <-ctx.Done():
				return "", ctx.Err()
			case <-time.After(r.Backoff * time.Duration(i)):
			}
		}

		tried++
		content, err := g.Generate(ctx, req)
		if err != nil {
			lastErr = err
		} else if err := validate(content); err != nil {
			lastErr = fmt.Errorf("validation failed: %w", err)
		} else {
			return content, nil
		}

		if ctx.Err() != nil || streamed {
			break
		}
	}
	return "", fmt.Errorf("operation failed after %d attempts: %w", tried, lastErr)
}
