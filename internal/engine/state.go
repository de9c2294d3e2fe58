package engine

import (
	"time"

	"github.com/mohammad-safakhou/scout/internal/research"
)

// SessionStatus is the engine's position in the session lifecycle.
type SessionStatus string

const (
	StatusInit            SessionStatus = "init"
	StatusGenerateQueries SessionStatus = "generate_queries"
	StatusPlanning        SessionStatus = "planning"
	StatusPlanningWait    SessionStatus = "planning_wait"
	StatusResearchFanOut  SessionStatus = "research_fan_out"
	StatusValidate        SessionStatus = "validate"
	StatusCompress        SessionStatus = "compress"
	StatusReflect         SessionStatus = "reflect"
	StatusFinalize        SessionStatus = "finalize"
	StatusDone            SessionStatus = "done"
	StatusCancelled       SessionStatus = "cancelled"
	StatusFailed          SessionStatus = "failed"
)

// Terminal reports whether no further transition can happen.
func (s SessionStatus) Terminal() bool {
	return s == StatusDone || s == StatusCancelled || s == StatusFailed
}

// PlanningStatus tracks the confirmation handshake around a plan.
type PlanningStatus string

const (
	PlanningNone         PlanningStatus = ""
	PlanningAwaiting     PlanningStatus = "awaiting_confirmation"
	PlanningConfirmed    PlanningStatus = "confirmed"
	PlanningAutoApproved PlanningStatus = "auto_approved"
)

// Message is one turn of the session conversation. Append-only.
type Message struct {
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// Aliases keep the research package's evidence vocabulary as the engine's
// public state vocabulary.
type (
	EvidenceUnit = research.EvidenceUnit
	PlanStep     = research.PlanStep
)

// SessionState is the single mutable aggregate of one research session. It is
// owned by the session goroutine; snapshots are handed out by value.
type SessionState struct {
	ID       string    `json:"id"`
	Question string    `json:"question"`
	Messages []Message `json:"messages"`

	Plan           []PlanStep `json:"plan"`
	PendingQueries []string   `json:"pending_queries"`

	RawResults        []EvidenceUnit `json:"raw_results"`
	ValidatedResults  []EvidenceUnit `json:"validated_results"`
	CompressedResults []EvidenceUnit `json:"compressed_results"`

	// Sources maps canonical URL to its citation id. Ids are never reassigned
	// or reused within a session.
	Sources map[string]int `json:"sources"`

	ResearchLoopCount int            `json:"research_loop_count"`
	PlanningStatus    PlanningStatus `json:"planning_status"`
	IsSufficient      bool           `json:"is_sufficient"`
	KnowledgeGap      string         `json:"knowledge_gap"`

	Status    SessionStatus `json:"status"`
	Answer    string        `json:"answer,omitempty"`
	FailCause string        `json:"fail_cause,omitempty"`

	StartedAt time.Time `json:"started_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// nextCitationID returns the smallest unused citation id (ids start at 1).
func (s *SessionState) nextCitationID() int {
	max := 0
	for _, id := range s.Sources {
		if id > max {
			max = id
		}
	}
	return max + 1
}

// snapshot returns a deep-enough copy for read-only consumers.
func (s *SessionState) snapshot() SessionState {
	cp := *s
	cp.Messages = append([]Message(nil), s.Messages...)
	cp.Plan = append([]PlanStep(nil), s.Plan...)
	cp.PendingQueries = append([]string(nil), s.PendingQueries...)
	cp.RawResults = append([]EvidenceUnit(nil), s.RawResults...)
	cp.ValidatedResults = append([]EvidenceUnit(nil), s.ValidatedResults...)
	cp.CompressedResults = append([]EvidenceUnit(nil), s.CompressedResults...)
	cp.Sources = make(map[string]int, len(s.Sources))
	for k, v := range s.Sources {
		cp.Sources[k] = v
	}
	return cp
}
