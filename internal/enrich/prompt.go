package enrich

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/devlens/devlens/internal/model"
	"github.com/devlens/devlens/pkg/anthropic"
)

const maxTokensPerItem = 1024

const systemPrompt = `You are an engineering-analytics assistant. For each pull request you
receive, produce a single JSON object with exactly these fields:

  "summary":     one or two sentences describing what the change does
  "category":    one of "feature", "fix", "refactor", "chore", "docs"
  "risk_score":  a number from 0.0 (trivial) to 1.0 (very risky)
  "ai_assisted": true if the title or description suggests AI-generated code

Respond with only the JSON object. No markdown fences, no commentary.`

// BuildRequest constructs the per-PR enrichment request. The custom id of
// the enclosing batch item is the pull request's storage id, which is what
// lets results be written back without a join.
func BuildRequest(pr model.PullRequest, llmModel string) anthropic.MessageRequest {
	var b strings.Builder
	fmt.Fprintf(&b, "Repository: %s\n", pr.Repo)
	fmt.Fprintf(&b, "PR #%d: %s\n", pr.Number, pr.Title)
	fmt.Fprintf(&b, "Author: %s\n", pr.Author)
	fmt.Fprintf(&b, "Diff size: +%d -%d\n", pr.Additions, pr.Deletions)
	if len(pr.Reviewers) > 0 {
		fmt.Fprintf(&b, "Reviewers: %s\n", strings.Join(pr.Reviewers, ", "))
	}
	if !pr.MergedAt.IsZero() {
		fmt.Fprintf(&b, "Merged: %s (opened %s)\n",
			pr.MergedAt.Format("2006-01-02 15:04"), pr.CreatedAt.Format("2006-01-02 15:04"))
	}

	return anthropic.MessageRequest{
		Model:     llmModel,
		MaxTokens: maxTokensPerItem,
		System:    anthropic.BuildCachedSystemBlocks(systemPrompt),
		Messages: []anthropic.Message{
			{Role: "user", Content: b.String()},
		},
	}
}

// cleanJSON strips markdown fences a model sometimes wraps around output.
func cleanJSON(s string) string {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "```") {
		s = strings.TrimPrefix(s, "```json")
		s = strings.TrimPrefix(s, "```")
		if i := strings.LastIndex(s, "```"); i >= 0 {
			s = s[:i]
		}
	}
	return strings.TrimSpace(s)
}

// ParseAnalysis decodes and validates one enrichment response. A parse or
// validation error here is a local failure: the provider succeeded but the
// output is unusable, so the item joins the retry set.
func ParseAnalysis(resp *anthropic.MessageResponse, llmModel string) (*model.PRAnalysis, error) {
	if resp == nil {
		return nil, eris.New("enrich: nil response")
	}
	text := cleanJSON(resp.Text())
	if text == "" {
		return nil, eris.New("enrich: empty response body")
	}

	var raw struct {
		Summary    string  `json:"summary"`
		Category   string  `json:"category"`
		RiskScore  float64 `json:"risk_score"`
		AIAssisted bool    `json:"ai_assisted"`
	}
	if err := json.Unmarshal([]byte(text), &raw); err != nil {
		return nil, eris.Wrap(err, "enrich: parse analysis JSON")
	}

	analysis := &model.PRAnalysis{
		Summary:    strings.TrimSpace(raw.Summary),
		Category:   model.PRCategory(raw.Category),
		RiskScore:  raw.RiskScore,
		AIAssisted: raw.AIAssisted,
		Model:      llmModel,
	}
	if err := analysis.Validate(); err != nil {
		return nil, eris.Wrap(err, "enrich: validate analysis")
	}
	return analysis, nil
}
