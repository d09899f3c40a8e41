package notify

import (
	"context"
	"fmt"
	"time"

	"github.com/jomei/notionapi"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/devlens/devlens/internal/model"
	"github.com/devlens/devlens/pkg/notion"
)

// NotionNotifier publishes readout pages into a Notion database. One page
// per (team, milestone, day); a redelivered milestone finds the existing
// page and does nothing.
type NotionNotifier struct {
	client notion.Client
	dbID   string
	logger *zap.Logger
}

func NewNotion(client notion.Client, dbID string) *NotionNotifier {
	return &NotionNotifier{
		client: client,
		dbID:   dbID,
		logger: zap.L().Named("notify"),
	}
}

func (n *NotionNotifier) PhaseComplete(ctx context.Context, r Readout) error {
	return n.publish(ctx, "onboarding", r)
}

func (n *NotionNotifier) ResyncComplete(ctx context.Context, r Readout) error {
	return n.publish(ctx, "resync", r)
}

func (n *NotionNotifier) publish(ctx context.Context, milestone string, r Readout) error {
	title := fmt.Sprintf("%s — %s — %s", r.Team.Name, milestone, time.Now().UTC().Format("2006-01-02"))

	existing, err := notion.FindPageByTitle(ctx, n.client, n.dbID, title)
	if err != nil {
		return err
	}
	if existing != nil {
		n.logger.Info("readout already published",
			zap.String("team_id", r.Team.ID),
			zap.String("title", title))
		return nil
	}

	props := notionapi.Properties{
		"Name": notionapi.TitleProperty{
			Title: richText(title),
		},
		"Team": notionapi.RichTextProperty{
			RichText: richText(r.Team.Name),
		},
		"Org": notionapi.RichTextProperty{
			RichText: richText(r.Team.Org),
		},
		"Insights": notionapi.NumberProperty{
			Number: float64(len(r.Insights)),
		},
	}
	if latest, ok := latestPeriod(r.Periods); ok {
		props["PRs/week"] = notionapi.NumberProperty{Number: float64(latest.PRCount)}
		props["Avg risk"] = notionapi.NumberProperty{Number: latest.AvgRiskScore}
	}

	_, err = n.client.CreatePage(ctx, &notionapi.PageCreateRequest{
		Parent: notionapi.Parent{
			Type:       notionapi.ParentTypeDatabaseID,
			DatabaseID: notionapi.DatabaseID(n.dbID),
		},
		Properties: props,
		Children:   readoutBlocks(r),
	})
	if err != nil {
		return eris.Wrapf(err, "notify: publish readout for %s", r.Team.ID)
	}

	n.logger.Info("readout published",
		zap.String("team_id", r.Team.ID),
		zap.String("title", title),
		zap.Int("insights", len(r.Insights)))
	return nil
}

func latestPeriod(periods []model.MetricPeriod) (model.MetricPeriod, bool) {
	if len(periods) == 0 {
		return model.MetricPeriod{}, false
	}
	return periods[len(periods)-1], true
}

func readoutBlocks(r Readout) []notionapi.Block {
	blocks := []notionapi.Block{
		heading("Findings"),
	}
	if len(r.Insights) == 0 {
		blocks = append(blocks, paragraph("No findings fired for this period."))
		return blocks
	}
	for _, in := range r.Insights {
		body := in.Narrative
		if body == "" {
			body = in.Detail
		}
		blocks = append(blocks, paragraph(fmt.Sprintf("%s: %s", in.Title, body)))
	}
	return blocks
}

func richText(s string) []notionapi.RichText {
	return []notionapi.RichText{{Text: &notionapi.Text{Content: s}}}
}

func heading(s string) notionapi.Block {
	return &notionapi.Heading2Block{
		BasicBlock: notionapi.BasicBlock{
			Object: notionapi.ObjectTypeBlock,
			Type:   notionapi.BlockTypeHeading2,
		},
		Heading2: notionapi.Heading{RichText: richText(s)},
	}
}

func paragraph(s string) notionapi.Block {
	return &notionapi.ParagraphBlock{
		BasicBlock: notionapi.BasicBlock{
			Object: notionapi.ObjectTypeBlock,
			Type:   notionapi.BlockTypeParagraph,
		},
		Paragraph: notionapi.Paragraph{RichText: richText(s)},
	}
}
