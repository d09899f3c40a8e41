package model

import "time"

// PRCategory is the classification assigned by the enrichment model.
type PRCategory string

const (
	CategoryFeature  PRCategory = "feature"
	CategoryFix      PRCategory = "fix"
	CategoryRefactor PRCategory = "refactor"
	CategoryChore    PRCategory = "chore"
	CategoryDocs     PRCategory = "docs"
)

// ValidCategory reports whether c is one of the known categories.
func ValidCategory(c PRCategory) bool {
	switch c {
	case CategoryFeature, CategoryFix, CategoryRefactor, CategoryChore, CategoryDocs:
		return true
	}
	return false
}

// PullRequest is one synced pull request, keyed by (repo, number) from the
// provider. Analysis fields are populated by the batch enrichment engine.
type PullRequest struct {
	ID        string    `json:"id"`
	TeamID    string    `json:"team_id"`
	Repo      string    `json:"repo"`
	Number    int       `json:"number"`
	Title     string    `json:"title"`
	Author    string    `json:"author"`
	Additions int       `json:"additions"`
	Deletions int       `json:"deletions"`
	Reviewers []string  `json:"reviewers,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	MergedAt  time.Time `json:"merged_at,omitempty"`
	UpdatedAt time.Time `json:"updated_at"`

	Analysis *PRAnalysis `json:"analysis,omitempty"`
}

// PRAnalysis is the structured output the enrichment model must return for
// one pull request. Any missing or out-of-range field fails validation and
// counts as a parse failure for that item.
type PRAnalysis struct {
	Summary    string     `json:"summary"`
	Category   PRCategory `json:"category"`
	RiskScore  float64    `json:"risk_score"`
	AIAssisted bool       `json:"ai_assisted"`

	// Model that produced the analysis, for audit. Empty until enriched.
	Model string `json:"model,omitempty"`

	// Failed marks an item that exhausted both enrichment passes. The
	// error string preserves which failure channel rejected it last.
	Failed bool   `json:"failed,omitempty"`
	Error  string `json:"error,omitempty"`
}

// Validate checks that an analysis conforms to the expected schema.
func (a *PRAnalysis) Validate() error {
	if a == nil {
		return errEmptyAnalysis
	}
	if a.Summary == "" {
		return errMissingSummary
	}
	if !ValidCategory(a.Category) {
		return errBadCategory
	}
	if a.RiskScore < 0 || a.RiskScore > 1 {
		return errBadRiskScore
	}
	return nil
}
