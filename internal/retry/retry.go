// Package retry implements capped exponential backoff with jitter for
// upstream adapter calls.
package retry

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/confluence-watch/internal/logging"
)

// RetryConfig configures retry behavior.
type RetryConfig struct {
	MaxAttempts  int           // Maximum number of attempts (including the first)
	InitialDelay time.Duration // Delay before the first retry
	MaxDelay     time.Duration // Ceiling on any single delay
	Multiplier   float64       // Exponential backoff multiplier
}

// DefaultRetryConfig returns the spec-mandated 3-attempt backoff:
// 1s, 2s, capped at 10s, plus jitter.
func DefaultRetryConfig() *RetryConfig {
	return &RetryConfig{
		MaxAttempts:  3,
		InitialDelay: 1 * time.Second,
		MaxDelay:     10 * time.Second,
		Multiplier:   2.0,
	}
}

// RetryResult summarizes the outcome of a retried operation.
type RetryResult struct {
	Attempts      int
	Success       bool
	TotalDuration time.Duration
	LastError     error
}

// RetryFunc is a function that can be retried. It receives the 1-based
// attempt number.
type RetryFunc func(ctx context.Context, attempt int) error

// WithExponentialBackoff executes fn with exponential backoff, honoring
// ctx cancellation between attempts.
func WithExponentialBackoff(ctx context.Context, config *RetryConfig, fn RetryFunc) *RetryResult {
	logger := logging.FromContext(ctx)
	startTime := time.Now()

	result := &RetryResult{}

	var lastErr error

	for attempt := 1; attempt <= config.MaxAttempts; attempt++ {
		result.Attempts = attempt

		err := fn(ctx, attempt)
		if err == nil {
			result.Success = true
			result.TotalDuration = time.Since(startTime)

			if attempt > 1 {
				logger.WithFields(map[string]interface{}{
					"attempts":      attempt,
					"totalDuration": result.TotalDuration,
				}).Info("operation succeeded after retry")
			}

			return result
		}

		lastErr = err
		result.LastError = err

		if attempt >= config.MaxAttempts {
			logger.WithFields(map[string]interface{}{
				"attempts":      attempt,
				"totalDuration": time.Since(startTime),
				"error":         err.Error(),
			}).Warn("operation failed after max retry attempts")
			break
		}

		if ctx.Err() != nil {
			logger.WithError(ctx.Err()).Warn("retry cancelled due to context cancellation")
			result.LastError = ctx.Err()
			break
		}

		delay := calculateDelay(config, attempt)

		logger.WithFields(map[string]interface{}{
			"attempt":     attempt,
			"maxAttempts": config.MaxAttempts,
			"delay":       delay,
			"error":       err.Error(),
		}).Debug("operation failed, retrying with backoff")

		select {
		case <-time.After(delay):
		case <-ctx.Done():
			logger.WithError(ctx.Err()).Warn("retry cancelled during backoff")
			result.LastError = ctx.Err()
			result.TotalDuration = time.Since(startTime)
			return result
		}
	}

	result.TotalDuration = time.Since(startTime)
	result.LastError = lastErr
	return result
}

// calculateDelay computes the backoff delay for attempt, adding up to 20%
// jitter derived from the attempt number so unit tests stay deterministic
// (see DESIGN.md for why this isn't a random source).
func calculateDelay(config *RetryConfig, attempt int) time.Duration {
	delay := float64(config.InitialDelay) * math.Pow(config.Multiplier, float64(attempt-1))
	if delay > float64(config.MaxDelay) {
		delay = float64(config.MaxDelay)
	}

	jitterFraction := 0.2 * jitterSeed(attempt)
	delay += delay * jitterFraction

	return time.Duration(delay)
}

// jitterSeed returns a deterministic pseudo-random value in [0, 1) derived
// from attempt alone, avoiding math/rand so retry timing stays
// reproducible in tests. Every caller gets the same value for a given
// attempt, so concurrent callers retrying at the same attempt are not
// spread apart from each other.
func jitterSeed(attempt int) float64 {
	x := math.Sin(float64(attempt) * 12.9898)
	frac := x - math.Floor(x)
	return frac
}

// WithRetry runs fn under DefaultRetryConfig.
func WithRetry(ctx context.Context, fn RetryFunc) error {
	result := WithExponentialBackoff(ctx, DefaultRetryConfig(), fn)
	if !result.Success {
		return fmt.Errorf("operation failed after %d attempts: %w", result.Attempts, result.LastError)
	}
	return nil
}

// RetryableFunc wraps a function with a fixed retry config.
type RetryableFunc struct {
	config *RetryConfig
	fn     RetryFunc
}

func NewRetryableFunc(config *RetryConfig, fn RetryFunc) *RetryableFunc {
	return &RetryableFunc{config: config, fn: fn}
}

func (rf *RetryableFunc) Execute(ctx context.Context) *RetryResult {
	return WithExponentialBackoff(ctx, rf.config, rf.fn)
}

func (rf *RetryableFunc) ExecuteWithResult(ctx context.Context) error {
	result := rf.Execute(ctx)
	if !result.Success {
		return fmt.Errorf("operation failed after %d attempts: %w", result.Attempts, result.LastError)
	}
	return nil
}

// RetryStats aggregates outcomes across many retried operations, useful
// for an adapter's periodic health log line.
type RetryStats struct {
	TotalOperations int
	SuccessfulOps   int
	FailedOps       int
	TotalRetries    int
	AverageAttempts float64
}

// RetryStatsTracker accumulates RetryStats. Not safe for concurrent use;
// callers serialize access (e.g. one tracker per adapter instance,
// updated from the adapter's own call path).
type RetryStatsTracker struct {
	stats RetryStats
}

func NewRetryStatsTracker() *RetryStatsTracker {
	return &RetryStatsTracker{}
}

func (rst *RetryStatsTracker) RecordResult(result *RetryResult) {
	rst.stats.TotalOperations++

	if result.Success {
		rst.stats.SuccessfulOps++
	} else {
		rst.stats.FailedOps++
	}

	if result.Attempts > 1 {
		rst.stats.TotalRetries += result.Attempts - 1
	}

	rst.stats.AverageAttempts = float64(rst.stats.TotalRetries+rst.stats.TotalOperations) / float64(rst.stats.TotalOperations)
}

func (rst *RetryStatsTracker) GetStats() RetryStats {
	return rst.stats
}

func (rst *RetryStatsTracker) Reset() {
	rst.stats = RetryStats{}
}
