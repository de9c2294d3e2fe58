package research

// EvidenceUnit is one scored piece of retrieved evidence. CitationIndex is 0
// until the session assigns a stable citation id to the source.
type EvidenceUnit struct {
	SourceURL     string  `json:"source_url"`
	Title         string  `json:"title"`
	Snippet       string  `json:"snippet"`
	Score         float64 `json:"score"`
	CitationIndex int     `json:"citation_index"`
}

// StepStatus tracks a plan step through its lifecycle. Steps are never
// deleted from a plan, only re-statused.
type StepStatus string

const (
	StepPending    StepStatus = "pending"
	StepInProgress StepStatus = "in_progress"
	StepDone       StepStatus = "done"
	StepBlocked    StepStatus = "blocked"
)

// PlanStep is one research sub-goal with the query that serves it.
type PlanStep struct {
	ID     string     `json:"id"`
	Title  string     `json:"title"`
	Query  string     `json:"query"`
	Tool   string     `json:"tool"`
	Status StepStatus `json:"status"`
}

// ReflectionResult is the verdict after one research round.
type ReflectionResult struct {
	IsSufficient    bool     `json:"is_sufficient"`
	KnowledgeGap    string   `json:"knowledge_gap"`
	FollowUpQueries []string `json:"follow_up_queries"`
}
