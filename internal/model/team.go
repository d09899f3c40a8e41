package model

import "time"

// PipelineStatus represents a team's progress through the onboarding and
// background-sync pipeline. It is the only coordination point between work
// units: each unit writes the successor status when it finishes, and the
// dispatcher reacts to that write.
type PipelineStatus string

const (
	// Phase 1: initial bounded-history onboarding.
	StatusNotStarted         PipelineStatus = "not_started"
	StatusSyncingMembers     PipelineStatus = "syncing_members"
	StatusSyncing            PipelineStatus = "syncing"
	StatusLLMProcessing      PipelineStatus = "llm_processing"
	StatusComputingMetrics   PipelineStatus = "computing_metrics"
	StatusComputingInsights  PipelineStatus = "computing_insights"
	StatusGeneratingInsights PipelineStatus = "generating_insights"
	StatusPhase1Complete     PipelineStatus = "phase1_complete"

	// Phase 2: rolling-window background catch-up.
	StatusBackgroundSyncing PipelineStatus = "background_syncing"
	StatusBackgroundLLM     PipelineStatus = "background_llm"
	StatusComplete          PipelineStatus = "complete"
)

// statusOrder lists all statuses in pipeline order, used for the
// dashboard percentage mapping.
var statusOrder = []PipelineStatus{
	StatusNotStarted,
	StatusSyncingMembers,
	StatusSyncing,
	StatusLLMProcessing,
	StatusComputingMetrics,
	StatusComputingInsights,
	StatusGeneratingInsights,
	StatusPhase1Complete,
	StatusBackgroundSyncing,
	StatusBackgroundLLM,
	StatusComplete,
}

// AllStatuses returns every pipeline status in order.
func AllStatuses() []PipelineStatus {
	out := make([]PipelineStatus, len(statusOrder))
	copy(out, statusOrder)
	return out
}

// Valid reports whether s is a known pipeline status.
func (s PipelineStatus) Valid() bool {
	for _, v := range statusOrder {
		if v == s {
			return true
		}
	}
	return false
}

// Terminal reports whether s is a state from which no work is dispatched.
func (s PipelineStatus) Terminal() bool {
	return s == StatusComplete
}

// Percent maps the status onto an enum-ordered completion percentage for
// progress display. not_started is 0, complete is 100.
func (s PipelineStatus) Percent() int {
	for i, v := range statusOrder {
		if v == s {
			return i * 100 / (len(statusOrder) - 1)
		}
	}
	return 0
}

// Team is the pipeline record for one onboarded team. PipelineStatus and
// StatusUpdatedAt together are the durable source of truth for pipeline
// progress; StatusUpdatedAt is what the recovery sweep uses to detect
// stalls.
type Team struct {
	ID              string         `json:"id"`
	Name            string         `json:"name"`
	Org             string         `json:"org"`
	Repos           []string       `json:"repos"`
	PipelineStatus  PipelineStatus `json:"pipeline_status"`
	StatusUpdatedAt time.Time      `json:"status_updated_at"`
	CreatedAt       time.Time      `json:"created_at"`
}

// Member is one synced team member, keyed by provider login.
type Member struct {
	ID     string `json:"id"`
	TeamID string `json:"team_id"`
	Login  string `json:"login"`
	Name   string `json:"name,omitempty"`
}

// RepoWatermark records how far history sync has progressed for one
// repository, so background syncs resume incrementally.
type RepoWatermark struct {
	TeamID       string    `json:"team_id"`
	Repo         string    `json:"repo"`
	LastSyncedAt time.Time `json:"last_synced_at"`
}
