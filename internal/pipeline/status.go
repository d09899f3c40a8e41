// Package pipeline drives team processing through the persisted
// pipeline_status field. There is no coordinator holding a plan: each
// status maps to exactly one work unit, the unit does its stage and
// writes the successor status, and that write dispatches the next unit.
// Progress lives only in the database, so any worker can pick up any
// team at any point.
package pipeline

import "github.com/devlens/devlens/internal/model"

// Task names as they appear on the queue.
const (
	TaskSyncMembers      = "sync_members"
	TaskSyncHistory      = "sync_history"
	TaskProcessBatch     = "process_batch"
	TaskComputeMetrics   = "compute_metrics"
	TaskComputeInsights  = "compute_insights"
	TaskGenerateInsights = "generate_insights"
	TaskFinishPhase1     = "finish_phase1"
	TaskBackgroundSync   = "background_sync"
	TaskBackgroundEnrich = "background_enrich"
)

// Transition binds a status to the work unit that performs it and the
// status that unit writes on success.
type Transition struct {
	Task string
	Next model.PipelineStatus
}

// Transitions is the dispatch table. A status names the stage in
// progress; the mapped unit performs that stage. `not_started` has no
// entry (onboarding is triggered explicitly) and `complete` is terminal
// until the sweep re-opens it for a resync.
var Transitions = map[model.PipelineStatus]Transition{
	model.StatusSyncingMembers:     {Task: TaskSyncMembers, Next: model.StatusSyncing},
	model.StatusSyncing:            {Task: TaskSyncHistory, Next: model.StatusLLMProcessing},
	model.StatusLLMProcessing:      {Task: TaskProcessBatch, Next: model.StatusComputingMetrics},
	model.StatusComputingMetrics:   {Task: TaskComputeMetrics, Next: model.StatusComputingInsights},
	model.StatusComputingInsights:  {Task: TaskComputeInsights, Next: model.StatusGeneratingInsights},
	model.StatusGeneratingInsights: {Task: TaskGenerateInsights, Next: model.StatusPhase1Complete},
	model.StatusPhase1Complete:     {Task: TaskFinishPhase1, Next: model.StatusBackgroundSyncing},
	model.StatusBackgroundSyncing:  {Task: TaskBackgroundSync, Next: model.StatusBackgroundLLM},
	model.StatusBackgroundLLM:      {Task: TaskBackgroundEnrich, Next: model.StatusComplete},
}
