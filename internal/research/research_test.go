package research

import (
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/mohammad-safakhou/scout/internal/llm"
	"github.com/mohammad-safakhou/scout/internal/search"
	"github.com/mohammad-safakhou/scout/internal/search/models"
)

// stubProvider replays canned responses.
type stubProvider struct {
	response  string
	objectErr error
	genErr    error
}

func (s stubProvider) Generate(ctx context.Context, prompt string) (string, error) {
	return s.response, s.genErr
}

func (s stubProvider) GenerateObject(ctx context.Context, prompt string, out interface{}) error {
	if s.objectErr != nil {
		return s.objectErr
	}
	return json.Unmarshal([]byte(s.response), out)
}

func (s stubProvider) Embed(ctx context.Context, input []string) ([][]float32, error) {
	vecs := make([][]float32, len(input))
	for i := range vecs {
		vecs[i] = []float32{1, 0, 0}
	}
	return vecs, nil
}

func TestGenerateQueriesDedupesAndCaps(t *testing.T) {
	p := NewPlanner(stubProvider{
		response: `{"queries":["Solar records","solar records","battery costs","grid storage","spare"],"rationale":"r"}`,
	}, nil)
	queries, err := p.GenerateQueries(context.Background(), "energy question", 3)
	if err != nil {
		t.Fatalf("GenerateQueries: %v", err)
	}
	if len(queries) != 3 {
		t.Fatalf("got %d queries, want 3: %v", len(queries), queries)
	}
	if queries[0] != "Solar records" || queries[1] != "battery costs" {
		t.Fatalf("dedupe order broken: %v", queries)
	}
}

func TestGenerateQueriesFallsBackToQuestion(t *testing.T) {
	p := NewPlanner(stubProvider{
		objectErr: llm.SchemaValidationError{Raw: "not json"},
	}, nil)
	queries, err := p.GenerateQueries(context.Background(), "what is a qubit", 3)
	if err != nil {
		t.Fatalf("GenerateQueries: %v", err)
	}
	if len(queries) != 1 || queries[0] != "what is a qubit" {
		t.Fatalf("fallback queries = %v, want the raw question", queries)
	}
}

func TestGenerateQueriesEmptyModelOutputFallsBack(t *testing.T) {
	p := NewPlanner(stubProvider{response: `{"queries":["", "  "],"rationale":""}`}, nil)
	queries, err := p.GenerateQueries(context.Background(), "question", 3)
	if err != nil {
		t.Fatalf("GenerateQueries: %v", err)
	}
	if len(queries) != 1 || queries[0] != "question" {
		t.Fatalf("fallback queries = %v", queries)
	}
}

func TestReflectSchemaErrorDegradesToSufficient(t *testing.T) {
	r := NewReflector(stubProvider{objectErr: llm.SchemaValidationError{Raw: "garbage"}}, nil)
	res, err := r.Reflect(context.Background(), "q", nil, 1)
	if err != nil {
		t.Fatalf("Reflect: %v", err)
	}
	if !res.IsSufficient {
		t.Fatalf("schema failure must degrade to sufficient, got %+v", res)
	}
}

func TestReflectGapWithoutFollowUpsFinalizes(t *testing.T) {
	r := NewReflector(stubProvider{
		response: `{"is_sufficient":false,"knowledge_gap":"missing pricing data","follow_up_queries":[]}`,
	}, nil)
	res, err := r.Reflect(context.Background(), "q", nil, 1)
	if err != nil {
		t.Fatalf("Reflect: %v", err)
	}
	if !res.IsSufficient {
		t.Fatalf("gap without follow-ups must finalize, got %+v", res)
	}
}

func TestReflectPassesThroughFollowUps(t *testing.T) {
	r := NewReflector(stubProvider{
		response: `{"is_sufficient":false,"knowledge_gap":"need market share","follow_up_queries":["ev market share europe","EV market share europe"]}`,
	}, nil)
	res, err := r.Reflect(context.Background(), "q", nil, 1)
	if err != nil {
		t.Fatalf("Reflect: %v", err)
	}
	if res.IsSufficient {
		t.Fatalf("expected insufficient result")
	}
	if len(res.FollowUpQueries) != 1 {
		t.Fatalf("follow-ups should be deduped case-insensitively: %v", res.FollowUpQueries)
	}
	if res.KnowledgeGap != "need market share" {
		t.Fatalf("knowledge gap lost: %+v", res)
	}
}

func TestValidateDedupesCanonicalURLs(t *testing.T) {
	v := NewValidator(nil)
	batch := []search.QueryResult{
		{Query: "a", Results: []models.Result{
			{URL: "https://Example.com/story?utm_source=x", Title: "Story", Snippet: "solar panels broke the efficiency record"},
			{URL: "https://example.com/story", Title: "Story again", Snippet: "duplicate of the first"},
		}},
		{Query: "b", Results: []models.Result{
			{URL: "https://other.org/report", Title: "Report", Snippet: "battery storage costs keep falling"},
			{URL: "", Title: "no url", Snippet: "dropped"},
		}},
	}
	units, err := v.Validate([]string{"solar efficiency record"}, batch)
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if len(units) != 2 {
		t.Fatalf("got %d units, want 2 after dedupe: %+v", len(units), units)
	}
	for _, u := range units {
		if strings.Contains(u.SourceURL, "utm_source") {
			t.Fatalf("tracking params must be stripped: %s", u.SourceURL)
		}
	}
	if units[0].SourceURL != "https://example.com/story" {
		t.Fatalf("relevance ordering wrong, best unit = %+v", units[0])
	}
	if units[0].Score <= units[1].Score {
		t.Fatalf("matching unit should outscore non-matching one: %+v", units)
	}
}

func TestValidateEmptyBatch(t *testing.T) {
	v := NewValidator(nil)
	units, err := v.Validate([]string{"q"}, []search.QueryResult{{Query: "q"}})
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if len(units) != 0 {
		t.Fatalf("expected no units, got %+v", units)
	}
}

func TestCompressRespectsBudget(t *testing.T) {
	c := NewCompressor(20, nil) // ~80 chars
	units := []EvidenceUnit{
		{SourceURL: "u1", Snippet: strings.Repeat("a", 40), Score: 0.9, CitationIndex: 1},
		{SourceURL: "u2", Snippet: strings.Repeat("b", 40), Score: 0.5, CitationIndex: 2},
		{SourceURL: "u3", Snippet: strings.Repeat("c", 40), Score: 0.7, CitationIndex: 3},
	}
	out := c.Compress(units)
	if len(out) != 2 {
		t.Fatalf("got %d units, want 2 within budget: %+v", len(out), out)
	}
	// Highest scores win (u1, u3) but original order is preserved.
	if out[0].SourceURL != "u1" || out[1].SourceURL != "u3" {
		t.Fatalf("selection/order wrong: %+v", out)
	}
	if out[0].CitationIndex != 1 || out[1].CitationIndex != 3 {
		t.Fatalf("citation indexes must be preserved: %+v", out)
	}
}

func TestCompressOversizedBestUnitTruncated(t *testing.T) {
	c := NewCompressor(5, nil) // 20 chars
	units := []EvidenceUnit{
		{SourceURL: "u1", Snippet: strings.Repeat("x", 400), Score: 1.0},
	}
	out := c.Compress(units)
	if len(out) != 1 {
		t.Fatalf("oversized best unit must be kept: %+v", out)
	}
	if len(out[0].Snippet) > 20 {
		t.Fatalf("snippet not truncated to budget: %d chars", len(out[0].Snippet))
	}
}

func TestSynthesizeNoEvidenceCarriesCaveat(t *testing.T) {
	s := NewSynthesizer(stubProvider{response: "should not be called"}, nil)
	answer, err := s.Synthesize(context.Background(), "anything", nil, nil)
	if err != nil {
		t.Fatalf("Synthesize: %v", err)
	}
	if !strings.Contains(answer, "unverified") {
		t.Fatalf("no-evidence answer must carry a caveat: %q", answer)
	}
}

func TestSynthesizeAppendsSourceList(t *testing.T) {
	s := NewSynthesizer(stubProvider{response: "Solar efficiency improved [1]."}, nil)
	evidence := []EvidenceUnit{
		{SourceURL: "https://example.com/a", Title: "A", Snippet: "snippet a", CitationIndex: 1},
	}
	answer, err := s.Synthesize(context.Background(), "q", evidence, map[string]int{"https://example.com/a": 1})
	if err != nil {
		t.Fatalf("Synthesize: %v", err)
	}
	if !strings.Contains(answer, "Sources:") || !strings.Contains(answer, "[1]") {
		t.Fatalf("answer missing source list: %q", answer)
	}
}

func TestBuildPlanOneStepPerQuery(t *testing.T) {
	p := NewPlanner(stubProvider{}, nil)
	steps := p.BuildPlan([]string{"q1", "q2"})
	if len(steps) != 2 {
		t.Fatalf("got %d steps, want 2", len(steps))
	}
	for _, step := range steps {
		if step.Status != StepPending || step.Tool != "web_search" || step.ID == "" {
			t.Fatalf("bad step: %+v", step)
		}
	}
	if steps[0].ID == steps[1].ID {
		t.Fatalf("step ids must be unique")
	}
}
