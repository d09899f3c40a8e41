package insight

import (
	"context"
	"fmt"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/devlens/devlens/internal/model"
	"github.com/devlens/devlens/internal/resilience"
	"github.com/devlens/devlens/internal/store"
	"github.com/devlens/devlens/pkg/anthropic"
)

const narrateSystemPrompt = `You write short readouts for engineering managers. Given a list of
findings about one team, write one plain paragraph per finding: what it
means and one concrete suggestion. Keep each paragraph under 60 words.
Separate paragraphs with a blank line, in the order given, no headings.`

// Narrator turns fired insights into manager-readable prose with a
// single direct (non-batch) LLM call per team.
type Narrator struct {
	store  store.Store
	client anthropic.Client
	model  string
	logger *zap.Logger
}

func NewNarrator(st store.Store, client anthropic.Client, llmModel string) *Narrator {
	return &Narrator{
		store:  st,
		client: client,
		model:  llmModel,
		logger: zap.L().Named("insight"),
	}
}

// NarrateTeam narrates every stored insight for the team that does not
// have a narrative yet. Already-narrated insights are left alone, so a
// redelivered task only fills gaps.
func (n *Narrator) NarrateTeam(ctx context.Context, teamID string) (int, error) {
	insights, err := n.store.ListInsights(ctx, teamID)
	if err != nil {
		return 0, eris.Wrap(err, "insight: list")
	}

	var pending []model.Insight
	for _, in := range insights {
		if in.Narrative == "" {
			pending = append(pending, in)
		}
	}
	if len(pending) == 0 {
		return 0, nil
	}

	var b strings.Builder
	for i, in := range pending {
		fmt.Fprintf(&b, "%d. [%s] %s: %s\n", i+1, in.Severity, in.Title, in.Detail)
	}

	resp, err := resilience.DoVal(ctx, resilience.DefaultRetryConfig(), func(ctx context.Context) (*anthropic.MessageResponse, error) {
		return n.client.CreateMessage(ctx, anthropic.MessageRequest{
			Model:     n.model,
			MaxTokens: 2048,
			System:    anthropic.BuildCachedSystemBlocks(narrateSystemPrompt),
			Messages:  []anthropic.Message{{Role: "user", Content: b.String()}},
		})
	})
	if err != nil {
		return 0, eris.Wrap(err, "insight: narrate call")
	}

	paragraphs := splitParagraphs(resp.Text())
	if len(paragraphs) != len(pending) {
		// A miscounted response narrates nothing rather than narrating
		// the wrong finding.
		n.logger.Warn("narration paragraph count mismatch",
			zap.String("team_id", teamID),
			zap.Int("want", len(pending)),
			zap.Int("got", len(paragraphs)))
		return 0, nil
	}

	for i, in := range pending {
		if err := n.store.SetInsightNarrative(ctx, teamID, in.RuleKey, paragraphs[i]); err != nil {
			return i, err
		}
	}
	resp.Usage.LogCost(n.model, "narrate")
	return len(pending), nil
}

func splitParagraphs(text string) []string {
	var out []string
	for _, p := range strings.Split(strings.TrimSpace(text), "\n\n") {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
