package anthropic

import (
	"context"
	"fmt"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

const (
	defaultBatchPollInterval = 30 * time.Second
	defaultBatchPollTimeout  = time.Hour
)

// PollOption configures batch polling behavior.
type PollOption func(*pollConfig)

type pollConfig struct {
	interval time.Duration
	timeout  time.Duration
}

func defaultPollConfig() pollConfig {
	return pollConfig{
		interval: defaultBatchPollInterval,
		timeout:  defaultBatchPollTimeout,
	}
}

// WithPollInterval overrides the fixed poll interval.
func WithPollInterval(d time.Duration) PollOption {
	return func(c *pollConfig) {
		c.interval = d
	}
}

// WithPollTimeout overrides the overall polling deadline.
func WithPollTimeout(d time.Duration) PollOption {
	return func(c *pollConfig) {
		c.timeout = d
	}
}

// PollBatch polls GetBatch at a fixed interval until the batch ends or the
// context expires. When the caller supplies no deadline, one is always
// installed from the configured timeout so the wait is bounded. Returns the
// terminal batch with an error if it expired or was canceled.
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

	for {
		batch, err := client.GetBatch(ctx, batchID)
		if err != nil {
			return nil, eris.Wrap(err, fmt.Sprintf("anthropic: poll batch %s", batchID))
		}

		switch batch.ProcessingStatus {
		case "ended":
			return batch, nil
		case "expired":
			return batch, eris.Errorf("anthropic: batch %s expired", batchID)
		case "canceled", "canceling":
			return batch, eris.Errorf("anthropic: batch %s canceled", batchID)
		}

		select {
		case <-ctx.Done():
			return nil, eris.Wrap(ctx.Err(), fmt.Sprintf("anthropic: poll batch %s timed out", batchID))
		case <-time.After(cfg.interval):
		}
	}
}

// ItemFailure records one item the provider rejected before processing.
// These never produced a usable result; they are one of the two independent
// failure channels the enrichment engine reconciles.
type ItemFailure struct {
	CustomID string
	Type     string // "errored", "canceled", "expired"
}

// BatchArtifacts is a completed batch split into its two output channels:
// per-item results keyed by custom_id, and provider-level rejections.
type BatchArtifacts struct {
	Results  map[string]*MessageResponse
	Failures []ItemFailure
}

// FailedIDs returns the custom ids of all provider-level rejections.
func (a *BatchArtifacts) FailedIDs() []string {
	ids := make([]string, 0, len(a.Failures))
	for _, f := range a.Failures {
		ids = append(ids, f.CustomID)
	}
	return ids
}

// CollectArtifacts drains a BatchResultIterator and partitions the stream
// into the results channel and the provider-failure channel.
func CollectArtifacts(iter BatchResultIterator) (*BatchArtifacts, error) {
	defer iter.Close()

	out := &BatchArtifacts{
		Results: make(map[string]*MessageResponse),
	}
	for iter.Next() {
		item := iter.Item()
		if item.Type == "succeeded" && item.Message != nil {
			out.Results[item.CustomID] = item.Message
			continue
		}
		if item.Type != "succeeded" {
			out.Failures = append(out.Failures, ItemFailure{
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
		return nil, eris.Wrap(err, "anthropic: collect batch artifacts")
	}

	if len(out.Failures) > 0 {
		zap.L().Warn("anthropic: batch had failed items",
			zap.Int("succeeded", len(out.Results)),
			zap.Int("failed", len(out.Failures)),
		)
	}

	return out, nil
}
