package bridge

import (
	"context"
	"errors"
	"net"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/rs/zerolog"
	"github.com/sammcj/auditor/llm"
	"github.com/sammcj/auditor/types"
)

// retryingCompleter retries model calls that failed on a network timeout
type retryingCompleter struct {
	next     llm.Completer
	attempts int
	backoff  time.Duration
	logger   zerolog.Logger
}

// withRetry wraps next only when attempts allows more than one call
func withRetry(next llm.Completer, attempts int, logger zerolog.Logger) llm.Completer {
	if attempts <= 1 {
		return next
	}
	return &retryingCompleter{next: next, attempts: attempts, backoff: time.Second, logger: logger}
}

func (r *retryingCompleter) Complete(ctx context.Context, messages []types.Message, tools []mcp.Tool) (*types.LLMResponse, error) {
	backoff := r.backoff
	var err error
	for attempt := 1; attempt <= r.attempts; attempt++ {
		var resp *types.LLMResponse
		resp, err = r.next.Complete(ctx, messages, tools)
		if err == nil {
			return resp, nil
		}
		if !isRetryableError(err) || attempt == r.attempts {
			break
		}

		r.logger.Warn().Err(err).Int("attempt", attempt).Dur("backoff", backoff).Msg("retrying model call")
		select {
		case <-time.After(backoff):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
		backoff *= 2
	}
	return nil, err
}

// isRetryableError determines if an error should trigger a retry
func isRetryableError(err error) bool {
	if err == nil {
		return false
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return netErr.Timeout()
	}
	return false
}
