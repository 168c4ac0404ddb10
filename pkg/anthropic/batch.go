package anthropic

import (
	"context"
	"fmt"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

const (
	defaultBatchPollInterval = 2 * time.Second
	defaultBatchPollTimeout  = 30 * time.Minute
)

// ErrPollExhausted is returned when PollBatch uses up its attempt budget
// before the batch ends.
var ErrPollExhausted = eris.New("anthropic: poll attempts exhausted")

// PollOption configures batch polling behavior.
type PollOption func(*pollConfig)

type pollConfig struct {
	interval    time.Duration
	timeout     time.Duration
	maxAttempts int
	observe     func(attempt int, batch *BatchResponse)
}

func defaultPollConfig() pollConfig {
	return pollConfig{
		interval: defaultBatchPollInterval,
		timeout:  defaultBatchPollTimeout,
	}
}

// WithFixedInterval sets the wait between GetBatch calls.
func WithFixedInterval(d time.Duration) PollOption {
	return func(c *pollConfig) {
		c.interval = d
	}
}

// WithPollTimeout overrides the default poll timeout.
func WithPollTimeout(d time.Duration) PollOption {
	return func(c *pollConfig) {
		c.timeout = d
	}
}

// WithPollMaxAttempts bounds the number of GetBatch calls. Zero means unbounded.
func WithPollMaxAttempts(n int) PollOption {
	return func(c *pollConfig) {
		c.maxAttempts = n
	}
}

// WithPollObserver registers a callback invoked after every GetBatch call.
func WithPollObserver(fn func(attempt int, batch *BatchResponse)) PollOption {
	return func(c *pollConfig) {
		c.observe = fn
	}
}

// PollBatch polls GetBatch at a fixed interval until the batch ends, the
// attempt budget is spent or the context expires.
// Returns immediately with an error if the batch is expired or canceled.
func PollBatch(ctx context.Context, client Client, batchID string, opts ...PollOption) (*BatchResponse, error) {
	cfg := defaultPollConfig()
	for _, opt := range opts {
		opt(&cfg)
	}

	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cfg.timeout)
		defer cancel()
	}

	for attempt := 1; ; attempt++ {
		batch, err := client.GetBatch(ctx, batchID)
		if err != nil {
			if ctx.Err() != nil {
				return nil, eris.Wrap(ctx.Err(), fmt.Sprintf("anthropic: poll batch %s timed out", batchID))
			}
			return nil, eris.Wrap(err, fmt.Sprintf("anthropic: poll batch %s", batchID))
		}
		if cfg.observe != nil {
			cfg.observe(attempt, batch)
		}

		switch batch.ProcessingStatus {
		case "ended":
			return batch, nil
		case "expired":
			return batch, eris.Errorf("anthropic: batch %s expired", batchID)
		case "canceled", "canceling":
			return batch, eris.Errorf("anthropic: batch %s canceled", batchID)
		}

		if cfg.maxAttempts > 0 && attempt >= cfg.maxAttempts {
			return batch, eris.Wrapf(ErrPollExhausted, "batch %s after %d attempts", batchID, attempt)
		}

		select {
		case <-ctx.Done():
			return nil, eris.Wrap(ctx.Err(), fmt.Sprintf("anthropic: poll batch %s timed out", batchID))
		case <-time.After(cfg.interval):
		}
	}
}

// BatchFailure records a single failed batch item.
type BatchFailure struct {
	CustomID string
	Type     string // "errored", "canceled", "expired"
}

// BatchCollectResult holds both succeeded and failed items from a batch.
type BatchCollectResult struct {
	Succeeded map[string]*MessageResponse
	Failures  []BatchFailure
}

// CollectBatchResultsDetailed drains a BatchResultIterator and returns both
// succeeded results and a list of failed items.
func CollectBatchResultsDetailed(iter BatchResultIterator) (*BatchCollectResult, error) {
	defer iter.Close()

	result := &BatchCollectResult{
		Succeeded: make(map[string]*MessageResponse),
	}
	for iter.Next() {
		item := iter.Item()
		if item.Type == "succeeded" && item.Message != nil {
			result.Succeeded[item.CustomID] = item.Message
		} else if item.Type != "succeeded" {
			result.Failures = append(result.Failures, BatchFailure{
				CustomID: item.CustomID,
				Type:     item.Type,
			})
			zap.L().Warn("anthropic: batch item failed",
				zap.String("custom_id", item.CustomID),
				zap.String("type", item.Type),
			)
		}
	}
	if err := iter.Err(); err != nil {
		return nil, eris.Wrap(err, "anthropic: collect batch results")
	}

	if len(result.Failures) > 0 {
		zap.L().Warn("anthropic: batch had failed items",
			zap.Int("succeeded", len(result.Succeeded)),
			zap.Int("failed", len(result.Failures)),
		)
	}

	return result, nil
}
