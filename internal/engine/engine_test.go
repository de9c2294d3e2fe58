package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/mohammad-safakhou/scout/config"
	"github.com/mohammad-safakhou/scout/internal/search"
	"github.com/mohammad-safakhou/scout/internal/search/models"
)

// scriptedProvider replays a queue of structured responses in call order.
type scriptedProvider struct {
	mu      sync.Mutex
	objects []string
	errs    []error
	answer  string
}

func (p *scriptedProvider) Generate(ctx context.Context, prompt string) (string, error) {
	return p.answer, nil
}

func (p *scriptedProvider) GenerateObject(ctx context.Context, prompt string, out interface{}) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.errs) > 0 {
		err := p.errs[0]
		p.errs = p.errs[1:]
		if err != nil {
			return err
		}
	}
	if len(p.objects) == 0 {
		return fmt.Errorf("scripted provider exhausted")
	}
	raw := p.objects[0]
	p.objects = p.objects[1:]
	return json.Unmarshal([]byte(raw), out)
}

func (p *scriptedProvider) Embed(ctx context.Context, input []string) ([][]float32, error) {
	vecs := make([][]float32, len(input))
	for i := range vecs {
		vecs[i] = []float32{1, 0, 0}
	}
	return vecs, nil
}

// stubSearcher answers every query with canned results.
type stubSearcher struct {
	mu      sync.Mutex
	byQuery map[string][]models.Result
	batches int
}

func (s *stubSearcher) FanOut(ctx context.Context, queries []string) []search.QueryResult {
	s.mu.Lock()
	s.batches++
	s.mu.Unlock()
	out := make([]search.QueryResult, len(queries))
	for i, q := range queries {
		out[i] = search.QueryResult{Query: q, Results: s.byQuery[q], Provider: "stub"}
		if len(out[i].Results) == 0 {
			out[i].Failure = &search.AllProvidersFailedError{Query: q}
		}
	}
	return out
}

func testConfig(confirm bool, maxLoops int) config.Config {
	return config.Config{
		Engine: config.EngineConfig{
			MaxResearchLoops:            maxLoops,
			InitialQueryCount:           3,
			RequirePlanningConfirmation: confirm,
			MaxParallel:                 4,
			TokenBudget:                 4000,
		},
	}
}

func waitDone(t *testing.T, s *Session) {
	t.Helper()
	select {
	case <-s.Done():
	case <-time.After(5 * time.Second):
		t.Fatalf("session did not terminate, status %s", s.State().Status)
	}
}

func waitStatus(t *testing.T, s *Session, want SessionStatus) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if s.State().Status == want {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("session never reached %s, status %s", want, s.State().Status)
}

func TestRouteTable(t *testing.T) {
	cases := []struct {
		status     PlanningStatus
		cmd        Command
		wantStatus PlanningStatus
		wantNext   SessionStatus
	}{
		{PlanningAwaiting, CommandConfirmPlan, PlanningConfirmed, StatusResearchFanOut},
		{PlanningAwaiting, CommandSkipPlanning, PlanningAutoApproved, StatusResearchFanOut},
		{PlanningAwaiting, CommandEnterPlanning, PlanningAwaiting, StatusPlanning},
		{PlanningAwaiting, Command("bogus"), PlanningAwaiting, StatusPlanningWait},
		{PlanningConfirmed, Command(""), PlanningConfirmed, StatusPlanningWait},
	}
	for _, tc := range cases {
		gotStatus, gotNext := Route(tc.status, tc.cmd)
		if gotStatus != tc.wantStatus || gotNext != tc.wantNext {
			t.Fatalf("Route(%q, %q) = (%q, %q), want (%q, %q)",
				tc.status, tc.cmd, gotStatus, gotNext, tc.wantStatus, tc.wantNext)
		}
	}
}

func TestSessionEndToEndAutoApproved(t *testing.T) {
	provider := &scriptedProvider{
		objects: []string{
			`{"queries":["solar efficiency"],"rationale":"r"}`,
			`{"is_sufficient":true,"knowledge_gap":"","follow_up_queries":[]}`,
		},
		answer: "Efficiency keeps rising [1].",
	}
	searcher := &stubSearcher{byQuery: map[string][]models.Result{
		"solar efficiency": {{URL: "https://example.com/a", Title: "A", Snippet: "solar efficiency hit a record"}},
	}}
	e := NewEngine(testConfig(false, 3), provider, searcher, nil, nil, nil, nil)

	s, err := e.Start(context.Background(), "how efficient are solar panels?")
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	waitDone(t, s)

	state := s.State()
	if state.Status != StatusDone {
		t.Fatalf("status = %s, want done (cause: %s)", state.Status, state.FailCause)
	}
	if state.PlanningStatus != PlanningAutoApproved {
		t.Fatalf("planning status = %s, want auto_approved", state.PlanningStatus)
	}
	if state.ResearchLoopCount != 1 {
		t.Fatalf("loop count = %d, want 1", state.ResearchLoopCount)
	}
	if !strings.Contains(state.Answer, "Sources:") {
		t.Fatalf("answer missing source list: %q", state.Answer)
	}
	if id := state.Sources["https://example.com/a"]; id != 1 {
		t.Fatalf("citation id = %d, want 1", id)
	}
	for _, step := range state.Plan {
		if step.Status != "done" {
			t.Fatalf("plan step not completed: %+v", step)
		}
	}
	if len(state.Messages) != 2 || state.Messages[1].Role != "assistant" {
		t.Fatalf("conversation not recorded: %+v", state.Messages)
	}
}

func TestSessionTerminatesAtLoopCeiling(t *testing.T) {
	// Reflection never reports sufficiency; the ceiling must stop the session.
	provider := &scriptedProvider{
		objects: []string{
			`{"queries":["q1"],"rationale":""}`,
			`{"is_sufficient":false,"knowledge_gap":"more","follow_up_queries":["q2"]}`,
			`{"is_sufficient":false,"knowledge_gap":"more","follow_up_queries":["q3"]}`,
			`{"is_sufficient":false,"knowledge_gap":"more","follow_up_queries":["q4"]}`,
		},
		answer: "best effort answer",
	}
	searcher := &stubSearcher{byQuery: map[string][]models.Result{
		"q1": {{URL: "https://a.example/1", Title: "1", Snippet: "s1"}},
		"q2": {{URL: "https://a.example/2", Title: "2", Snippet: "s2"}},
		"q3": {{URL: "https://a.example/3", Title: "3", Snippet: "s3"}},
	}}
	e := NewEngine(testConfig(false, 2), provider, searcher, nil, nil, nil, nil)

	s, err := e.Start(context.Background(), "never enough")
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	waitDone(t, s)

	state := s.State()
	if state.Status != StatusDone {
		t.Fatalf("status = %s, want done (cause: %s)", state.Status, state.FailCause)
	}
	if state.ResearchLoopCount != 2 {
		t.Fatalf("loop count = %d, want exactly the ceiling 2", state.ResearchLoopCount)
	}
	if searcher.batches != 2 {
		t.Fatalf("fan-out ran %d times, want 2", searcher.batches)
	}
}

func TestCitationIDsMonotonicAcrossRounds(t *testing.T) {
	provider := &scriptedProvider{
		objects: []string{
			`{"queries":["round one"],"rationale":""}`,
			`{"is_sufficient":false,"knowledge_gap":"gap","follow_up_queries":["round two"]}`,
			`{"is_sufficient":true,"knowledge_gap":"","follow_up_queries":[]}`,
		},
		answer: "answer",
	}
	searcher := &stubSearcher{byQuery: map[string][]models.Result{
		"round one": {
			{URL: "https://b.example/x", Title: "B", Snippet: "beta"},
			{URL: "https://a.example/x", Title: "A", Snippet: "alpha"},
		},
		"round two": {
			{URL: "https://a.example/x", Title: "A", Snippet: "alpha again"},
			{URL: "https://c.example/x", Title: "C", Snippet: "gamma"},
		},
	}}
	e := NewEngine(testConfig(false, 3), provider, searcher, nil, nil, nil, nil)

	s, err := e.Start(context.Background(), "question")
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	waitDone(t, s)

	state := s.State()
	if state.Status != StatusDone {
		t.Fatalf("status = %s (cause: %s)", state.Status, state.FailCause)
	}
	// Round one URLs sorted lexicographically get ids 1 and 2.
	if state.Sources["https://a.example/x"] != 1 || state.Sources["https://b.example/x"] != 2 {
		t.Fatalf("first-round ids wrong: %v", state.Sources)
	}
	// The overlapping URL keeps its id; the new one gets the next id.
	if state.Sources["https://c.example/x"] != 3 {
		t.Fatalf("second-round id not monotone: %v", state.Sources)
	}
}

func TestSuspensionDoesNotSilentlyAdvance(t *testing.T) {
	provider := &scriptedProvider{
		objects: []string{
			`{"queries":["q"],"rationale":""}`,
			`{"is_sufficient":true,"knowledge_gap":"","follow_up_queries":[]}`,
		},
		answer: "answer",
	}
	searcher := &stubSearcher{byQuery: map[string][]models.Result{
		"q": {{URL: "https://example.com/a", Title: "A", Snippet: "snippet"}},
	}}
	checkpoints := NewMemoryCheckpointStore()
	e := NewEngine(testConfig(true, 3), provider, searcher, nil, checkpoints, nil, nil)

	s, err := e.Start(context.Background(), "question")
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	waitStatus(t, s, StatusPlanningWait)

	if _, err := checkpoints.Load(context.Background(), s.ID()); err != nil {
		t.Fatalf("suspension must persist a checkpoint: %v", err)
	}

	// An unknown command keeps the session suspended.
	if err := e.Resume(context.Background(), s.ID(), Command("frobnicate")); err != nil {
		t.Fatalf("Resume: %v", err)
	}
	time.Sleep(50 * time.Millisecond)
	if got := s.State().Status; got != StatusPlanningWait {
		t.Fatalf("unknown command advanced the session to %s", got)
	}

	if err := e.Resume(context.Background(), s.ID(), CommandConfirmPlan); err != nil {
		t.Fatalf("Resume confirm: %v", err)
	}
	waitDone(t, s)
	state := s.State()
	if state.Status != StatusDone {
		t.Fatalf("status = %s (cause: %s)", state.Status, state.FailCause)
	}
	if state.PlanningStatus != PlanningConfirmed {
		t.Fatalf("planning status = %s, want confirmed", state.PlanningStatus)
	}
	if _, err := checkpoints.Load(context.Background(), s.ID()); err != ErrCheckpointNotFound {
		t.Fatalf("checkpoint should be dropped after resume, got %v", err)
	}
}

func TestRecoverFromCheckpointReentersWait(t *testing.T) {
	checkpoints := NewMemoryCheckpointStore()
	state := SessionState{
		ID:             "sess-crashed",
		Question:       "question",
		Plan:           []PlanStep{{ID: "p1", Query: "q", Status: "pending"}},
		PendingQueries: []string{"q"},
		Sources:        map[string]int{},
		PlanningStatus: PlanningAwaiting,
		Status:         StatusPlanningWait,
		StartedAt:      time.Now().UTC(),
	}
	if err := checkpoints.Save(context.Background(), Checkpoint{SessionID: state.ID, State: state, SavedAt: time.Now()}); err != nil {
		t.Fatalf("seed checkpoint: %v", err)
	}

	provider := &scriptedProvider{
		objects: []string{`{"is_sufficient":true,"knowledge_gap":"","follow_up_queries":[]}`},
		answer:  "recovered answer",
	}
	searcher := &stubSearcher{byQuery: map[string][]models.Result{
		"q": {{URL: "https://example.com/a", Title: "A", Snippet: "snippet"}},
	}}
	e := NewEngine(testConfig(true, 3), provider, searcher, nil, checkpoints, nil, nil)

	// The session is not in memory; Resume must recover it and deliver the command.
	if err := e.Resume(context.Background(), "sess-crashed", CommandConfirmPlan); err != nil {
		t.Fatalf("Resume after crash: %v", err)
	}
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		st, err := e.Status("sess-crashed")
		if err == nil && st.Status == StatusDone {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	st, _ := e.Status("sess-crashed")
	t.Fatalf("recovered session never finished, status %s (cause: %s)", st.Status, st.FailCause)
}

func TestCancelStopsSession(t *testing.T) {
	provider := &scriptedProvider{
		objects: []string{`{"queries":["q"],"rationale":""}`},
		answer:  "answer",
	}
	searcher := &stubSearcher{byQuery: map[string][]models.Result{}}
	e := NewEngine(testConfig(true, 3), provider, searcher, nil, nil, nil, nil)

	s, err := e.Start(context.Background(), "question")
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	waitStatus(t, s, StatusPlanningWait)
	if err := e.Cancel(s.ID()); err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	waitDone(t, s)
	if got := s.State().Status; got != StatusCancelled {
		t.Fatalf("status = %s, want cancelled", got)
	}
}

func TestProviderFailureFailsSession(t *testing.T) {
	provider := &scriptedProvider{
		errs: []error{fmt.Errorf("model endpoint down")},
	}
	e := NewEngine(testConfig(false, 3), provider, &stubSearcher{}, nil, nil, nil, nil)

	s, err := e.Start(context.Background(), "question")
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	waitDone(t, s)
	state := s.State()
	if state.Status != StatusFailed {
		t.Fatalf("status = %s, want failed", state.Status)
	}
	if !strings.Contains(state.FailCause, string(StatusGenerateQueries)) {
		t.Fatalf("fail cause should name the stage: %q", state.FailCause)
	}
}

func TestStagesRegistryCoversPipeline(t *testing.T) {
	names := make(map[SessionStatus]bool)
	for _, st := range Stages() {
		names[st.Name] = true
		if st.Description == "" {
			t.Fatalf("stage %s has no description", st.Name)
		}
	}
	for _, want := range []SessionStatus{
		StatusGenerateQueries, StatusPlanning, StatusPlanningWait, StatusResearchFanOut,
		StatusValidate, StatusCompress, StatusReflect, StatusFinalize,
	} {
		if !names[want] {
			t.Fatalf("stage registry missing %s", want)
		}
	}
}
