package engine

// StageInfo describes one engine stage for observability: what it does and
// which parts of the session state it reads and writes.
type StageInfo struct {
	Name        SessionStatus `json:"name"`
	Description string        `json:"description"`
	Reads       []string      `json:"reads"`
	Writes      []string      `json:"writes"`
}

var stageRegistry = []StageInfo{
	{
		Name:        StatusGenerateQueries,
		Description: "derive initial search queries and a step plan from the question",
		Reads:       []string{"question"},
		Writes:      []string{"pending_queries", "plan", "messages"},
	},
	{
		Name:        StatusPlanning,
		Description: "decide whether the plan needs user confirmation",
		Reads:       []string{"plan"},
		Writes:      []string{"planning_status"},
	},
	{
		Name:        StatusPlanningWait,
		Description: "suspend until a planning command arrives; checkpointed",
		Reads:       []string{"planning_status"},
		Writes:      []string{"planning_status"},
	},
	{
		Name:        StatusResearchFanOut,
		Description: "run all pending queries against search providers concurrently",
		Reads:       []string{"pending_queries"},
		Writes:      []string{"raw_results", "plan"},
	},
	{
		Name:        StatusValidate,
		Description: "normalize and dedupe sources, score relevance, assign citation ids, ingest evidence",
		Reads:       []string{"raw_results", "pending_queries", "sources"},
		Writes:      []string{"validated_results", "sources"},
	},
	{
		Name:        StatusCompress,
		Description: "pack validated evidence into the synthesis token budget",
		Reads:       []string{"validated_results"},
		Writes:      []string{"compressed_results"},
	},
	{
		Name:        StatusReflect,
		Description: "grade evidence sufficiency and produce follow-up queries",
		Reads:       []string{"question", "compressed_results", "research_loop_count"},
		Writes:      []string{"is_sufficient", "knowledge_gap", "pending_queries", "research_loop_count", "plan"},
	},
	{
		Name:        StatusFinalize,
		Description: "synthesize the cited answer",
		Reads:       []string{"question", "compressed_results", "sources"},
		Writes:      []string{"answer", "messages"},
	},
}

// Stages returns the static stage table.
func Stages() []StageInfo {
	out := make([]StageInfo, len(stageRegistry))
	copy(out, stageRegistry)
	return out
}
