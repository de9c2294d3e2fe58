package engine

import "time"

// EventType enumerates the engine's observable milestones.
type EventType string

const (
	EventPlanningUpdated      EventType = "planning_updated"
	EventSearchBatchCompleted EventType = "search_batch_completed"
	EventReflectionCompleted  EventType = "reflection_completed"
	EventFinalized            EventType = "finalized"
	EventFailed               EventType = "failed"
)

// Event is one engine milestone, safe to serialize onto an SSE stream.
type Event struct {
	Type      EventType              `json:"type"`
	SessionID string                 `json:"session_id"`
	Timestamp time.Time              `json:"timestamp"`
	Payload   map[string]interface{} `json:"payload,omitempty"`
}
