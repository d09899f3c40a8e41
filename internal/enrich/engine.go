// Package enrich implements batch LLM enrichment of pull requests: one
// submit against the primary model, a single fallback pass over everything
// that failed, and a terminal failure marker for the rest. There is no
// third tier.
package enrich

import (
	"context"
	"fmt"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/devlens/devlens/internal/model"
	"github.com/devlens/devlens/internal/resilience"
	"github.com/devlens/devlens/internal/store"
	"github.com/devlens/devlens/pkg/anthropic"
)

// Purpose prefixes for the batch-job audit log. The onboarding pass and
// the background top-up pass track their open batches independently.
const (
	PurposeOnboard    = "enrich"
	PurposeBackground = "background"
)

// Config tunes one enrichment run.
type Config struct {
	PrimaryModel  string
	FallbackModel string
	MaxBatchSize  int
	PollInterval  time.Duration
	PollTimeout   time.Duration
}

func (c Config) withDefaults() Config {
	if c.MaxBatchSize <= 0 {
		c.MaxBatchSize = 300
	}
	if c.PollInterval <= 0 {
		c.PollInterval = 30 * time.Second
	}
	if c.PollTimeout <= 0 {
		c.PollTimeout = time.Hour
	}
	return c
}

// Stats summarizes one enrichment run.
type Stats struct {
	Submitted        int     `json:"submitted"`
	Succeeded        int     `json:"succeeded"`
	ProviderFailures int     `json:"provider_failures"`
	ParseFailures    int     `json:"parse_failures"`
	Retried          int     `json:"retried"`
	Recovered        int     `json:"recovered"`
	Failed           int     `json:"failed"`
	InputTokens      int64   `json:"input_tokens"`
	OutputTokens     int64   `json:"output_tokens"`
	CostUSD          float64 `json:"cost_usd"`
}

// Engine runs the two-tier batch enrichment flow.
type Engine struct {
	store  store.Store
	client anthropic.Client
	cfg    Config
	logger *zap.Logger
}

func NewEngine(st store.Store, client anthropic.Client, cfg Config) *Engine {
	return &Engine{
		store:  st,
		client: client,
		cfg:    cfg.withDefaults(),
		logger: zap.L().Named("enrich"),
	}
}

// EnrichTeam enriches up to MaxBatchSize unanalyzed pull requests for the
// team. purpose selects the audit-log namespace (PurposeOnboard or
// PurposeBackground) so an interrupted run resumes its own open batch
// instead of double-submitting. Safe under at-least-once redelivery.
func (e *Engine) EnrichTeam(ctx context.Context, teamID, purpose string) (*Stats, error) {
	logger := e.logger.With(zap.String("team_id", teamID), zap.String("purpose", purpose))

	prs, err := e.store.ListPullRequests(ctx, teamID, store.PRFilter{
		OnlyUnanalyzed: true,
		Limit:          e.cfg.MaxBatchSize,
	})
	if err != nil {
		return nil, eris.Wrap(err, "enrich: list pending pull requests")
	}
	if len(prs) == 0 {
		logger.Info("nothing to enrich")
		return &Stats{}, nil
	}

	byID := make(map[string]model.PullRequest, len(prs))
	for _, pr := range prs {
		byID[pr.ID] = pr
	}

	stats := &Stats{Submitted: len(prs)}

	// Tier 1: primary model over the full pending set.
	artifacts, err := e.runBatch(ctx, teamID, purpose+"_primary", e.cfg.PrimaryModel, prs, stats)
	if err != nil {
		return nil, err
	}

	analyses := make(map[string]*model.PRAnalysis, len(prs))
	failReasons := make(map[string]string)

	for _, f := range artifacts.Failures {
		if _, known := byID[f.CustomID]; !known {
			continue
		}
		failReasons[f.CustomID] = "provider: " + f.Type
		stats.ProviderFailures++
	}
	for id, resp := range artifacts.Results {
		if _, known := byID[id]; !known {
			logger.Warn("unknown custom_id in batch results", zap.String("custom_id", id))
			continue
		}
		stats.addUsage(resp.Usage, e.cfg.PrimaryModel)
		analysis, perr := ParseAnalysis(resp, e.cfg.PrimaryModel)
		if perr != nil {
			failReasons[id] = perr.Error()
			stats.ParseFailures++
			continue
		}
		analyses[id] = analysis
	}

	// Tier 2: one fallback pass over the union of both failure channels.
	if len(failReasons) > 0 {
		retry := make([]model.PullRequest, 0, len(failReasons))
		for id := range failReasons {
			retry = append(retry, byID[id])
		}
		stats.Retried = len(retry)
		logger.Info("retrying failed items with fallback model",
			zap.Int("count", len(retry)),
			zap.String("model", e.cfg.FallbackModel))

		fbArtifacts, err := e.runBatch(ctx, teamID, purpose+"_fallback", e.cfg.FallbackModel, retry, stats)
		if err != nil {
			return nil, err
		}

		for id, resp := range fbArtifacts.Results {
			if _, retried := failReasons[id]; !retried {
				continue
			}
			stats.addUsage(resp.Usage, e.cfg.FallbackModel)
			analysis, perr := ParseAnalysis(resp, e.cfg.FallbackModel)
			if perr != nil {
				failReasons[id] = perr.Error()
				continue
			}
			// Fallback result replaces the failure for this id only.
			analyses[id] = analysis
			delete(failReasons, id)
			stats.Recovered++
		}
		for _, f := range fbArtifacts.Failures {
			if _, retried := failReasons[f.CustomID]; retried {
				failReasons[f.CustomID] = "fallback provider: " + f.Type
			}
		}
	}

	// Whatever is still failing gets a terminal marker so it does not
	// re-enter the pending set on every pass.
	for id, reason := range failReasons {
		analyses[id] = &model.PRAnalysis{
			Failed: true,
			Error:  reason,
			Model:  e.cfg.FallbackModel,
		}
		stats.Failed++
	}
	stats.Succeeded = len(analyses) - stats.Failed

	if err := e.store.UpdateAnalyses(ctx, teamID, analyses); err != nil {
		return nil, eris.Wrap(err, "enrich: persist analyses")
	}

	logger.Info("enrichment run complete",
		zap.Int("submitted", stats.Submitted),
		zap.Int("succeeded", stats.Succeeded),
		zap.Int("provider_failures", stats.ProviderFailures),
		zap.Int("parse_failures", stats.ParseFailures),
		zap.Int("recovered", stats.Recovered),
		zap.Int("failed", stats.Failed),
		zap.Float64("cost_usd", stats.CostUSD))
	return stats, nil
}

// runBatch submits one batch (or resumes the open one recorded for this
// team and purpose), waits for it to end, and returns its artifacts.
func (e *Engine) runBatch(ctx context.Context, teamID, purpose, llmModel string, prs []model.PullRequest, stats *Stats) (*anthropic.BatchArtifacts, error) {
	logger := e.logger.With(zap.String("team_id", teamID), zap.String("purpose", purpose))

	batchID, err := e.resumeOrSubmit(ctx, teamID, purpose, llmModel, prs, stats)
	if err != nil {
		return nil, err
	}

	resp, err := anthropic.PollBatch(ctx, e.client, batchID,
		anthropic.WithPollInterval(e.cfg.PollInterval),
		anthropic.WithPollTimeout(e.cfg.PollTimeout),
	)
	if err != nil {
		return nil, eris.Wrapf(err, "enrich: poll batch %s", batchID)
	}
	logger.Info("batch ended",
		zap.String("batch_id", batchID),
		zap.Int64("succeeded", resp.RequestCounts.Succeeded),
		zap.Int64("errored", resp.RequestCounts.Errored),
		zap.Int64("expired", resp.RequestCounts.Expired))

	iter, err := e.client.GetBatchResults(ctx, batchID)
	if err != nil {
		return nil, eris.Wrapf(err, "enrich: get batch results %s", batchID)
	}
	artifacts, err := anthropic.CollectArtifacts(iter)
	if err != nil {
		return nil, err
	}

	if err := e.store.CloseBatchJob(ctx, batchID); err != nil {
		return nil, err
	}
	return artifacts, nil
}

// resumeOrSubmit returns the batch id to poll: the open batch recorded for
// (team, purpose) if a previous delivery already submitted one, otherwise
// a fresh submission.
func (e *Engine) resumeOrSubmit(ctx context.Context, teamID, purpose, llmModel string, prs []model.PullRequest, stats *Stats) (string, error) {
	open, err := e.store.OpenBatchJob(ctx, teamID, purpose)
	if err != nil {
		return "", err
	}
	if open != nil {
		e.logger.Info("resuming open batch",
			zap.String("team_id", teamID),
			zap.String("purpose", purpose),
			zap.String("batch_id", open.BatchID))
		return open.BatchID, nil
	}

	items := make([]anthropic.BatchRequestItem, 0, len(prs))
	for _, pr := range prs {
		items = append(items, anthropic.BatchRequestItem{
			CustomID: pr.ID,
			Params:   BuildRequest(pr, llmModel),
		})
	}

	e.firePrimer(ctx, llmModel, items, stats)

	resp, err := e.client.CreateBatch(ctx, anthropic.BatchRequest{Requests: items})
	if err != nil {
		if resilience.IsTransient(err) {
			return "", eris.Wrap(err, "enrich: create batch")
		}
		return "", resilience.NewFatalError(fmt.Errorf("enrich: create batch: %w", err))
	}

	if err := e.store.RecordBatchJob(ctx, model.BatchJob{
		TeamID:    teamID,
		BatchID:   resp.ID,
		Purpose:   purpose,
		Model:     llmModel,
		ItemCount: len(items),
	}); err != nil {
		return "", err
	}
	return resp.ID, nil
}

// firePrimer sends the first batch item as a single message ahead of the
// submit, warming the cache-marked system prompt. Its usage counts toward
// the run; a primer failure never blocks the submit.
func (e *Engine) firePrimer(ctx context.Context, llmModel string, items []anthropic.BatchRequestItem, stats *Stats) {
	if len(items) == 0 {
		return
	}
	resp, err := anthropic.PrimerRequest(ctx, e.client, items[0].Params)
	if err != nil {
		e.logger.Debug("primer request failed", zap.Error(err))
		return
	}
	stats.addUsage(resp.Usage, llmModel)
}

func (s *Stats) addUsage(u anthropic.TokenUsage, llmModel string) {
	s.InputTokens += u.InputTokens
	s.OutputTokens += u.OutputTokens
	s.CostUSD += u.EstimateCost(llmModel)
}
