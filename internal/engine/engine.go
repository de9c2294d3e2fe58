package engine

import (
	"context"
	"fmt"
	"log"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/mohammad-safakhou/scout/config"
	"github.com/mohammad-safakhou/scout/internal/index"
	"github.com/mohammad-safakhou/scout/internal/llm"
	"github.com/mohammad-safakhou/scout/internal/research"
	"github.com/mohammad-safakhou/scout/internal/search"
	"github.com/mohammad-safakhou/scout/internal/telemetry"
)

var engineTracer trace.Tracer = otel.Tracer("scout/internal/engine")

// Searcher runs a batch of queries and joins the whole batch before
// returning. Per-query failures live inside the results.
type Searcher interface {
	FanOut(ctx context.Context, queries []string) []search.QueryResult
}

// EvidenceIndex receives validated evidence chunks. Write failures are
// reported per chunk and never abort a session.
type EvidenceIndex interface {
	Ingest(ctx context.Context, subgoalID string, chunks []index.Chunk) (index.IngestResult, error)
}

// Engine owns all live research sessions. One goroutine drives each session
// through its lifecycle; the engine itself only routes commands and hands out
// state snapshots.
type Engine struct {
	cfg      config.EngineConfig
	provider llm.Provider

	planner     *research.Planner
	reflector   *research.Reflector
	validator   *research.Validator
	compressor  *research.Compressor
	enricher    *research.Enricher
	synthesizer *research.Synthesizer

	searcher    Searcher
	index       EvidenceIndex
	checkpoints CheckpointStore
	telemetry   *telemetry.Telemetry
	logger      *log.Logger

	mu       sync.RWMutex
	sessions map[string]*Session

	events chan Event
}

// Session is one live research run. All state access goes through the
// session's mutex; the engine goroutine is the only writer.
type Session struct {
	mu       sync.RWMutex
	state    SessionState
	cancel   context.CancelFunc
	commands chan Command
	done     chan struct{}

	// lastBatch holds the raw fan-out output between the search and
	// validation stages; it never leaves the engine.
	lastBatch []search.QueryResult
}

// ID returns the session id.
func (s *Session) ID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state.ID
}

// State returns a snapshot safe for concurrent readers.
func (s *Session) State() SessionState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state.snapshot()
}

// Done is closed when the session reaches a terminal status.
func (s *Session) Done() <-chan struct{} { return s.done }

// NewEngine wires the research stages around the given collaborators. The
// index may be nil (evidence is then not persisted); the checkpoint store may
// be nil (suspension then survives only in process memory).
func NewEngine(cfg config.Config, provider llm.Provider, searcher Searcher, idx EvidenceIndex, checkpoints CheckpointStore, tele *telemetry.Telemetry, logger *log.Logger) *Engine {
	if logger == nil {
		logger = log.New(log.Writer(), "[ENGINE] ", log.LstdFlags)
	}
	ecfg := cfg.Engine.Normalize()
	if checkpoints == nil {
		checkpoints = NewMemoryCheckpointStore()
	}
	return &Engine{
		cfg:         ecfg,
		provider:    provider,
		planner:     research.NewPlanner(provider, logger),
		reflector:   research.NewReflector(provider, logger),
		validator:   research.NewValidator(logger),
		compressor:  research.NewCompressor(ecfg.TokenBudget, logger),
		enricher:    research.NewEnricher(cfg.Search.Enrich, logger),
		synthesizer: research.NewSynthesizer(provider, logger),
		searcher:    searcher,
		index:       idx,
		checkpoints: checkpoints,
		telemetry:   tele,
		logger:      logger,
		sessions:    make(map[string]*Session),
		events:      make(chan Event, 256),
	}
}

// Events exposes the engine's milestone stream. A slow consumer drops events
// rather than blocking sessions.
func (e *Engine) Events() <-chan Event { return e.events }

// Start launches a new session for the question and returns immediately.
func (e *Engine) Start(ctx context.Context, question string) (*Session, error) {
	question = strings.TrimSpace(question)
	if question == "" {
		return nil, fmt.Errorf("question must not be empty")
	}
	now := time.Now().UTC()
	s := &Session{
		state: SessionState{
			ID:        uuid.New().String(),
			Question:  question,
			Messages:  []Message{{Role: "user", Content: question, Timestamp: now}},
			Sources:   make(map[string]int),
			Status:    StatusInit,
			StartedAt: now,
			UpdatedAt: now,
		},
		commands: make(chan Command, 1),
		done:     make(chan struct{}),
	}
	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	s.cancel = cancel

	e.mu.Lock()
	e.sessions[s.state.ID] = s
	e.mu.Unlock()

	e.telemetry.RecordSessionStart()
	go e.run(runCtx, s)
	return s, nil
}

// Status returns a snapshot of the session's state.
func (e *Engine) Status(sessionID string) (SessionState, error) {
	s, err := e.session(sessionID)
	if err != nil {
		return SessionState{}, err
	}
	return s.State(), nil
}

// List returns snapshots of every known session, newest first.
func (e *Engine) List() []SessionState {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]SessionState, 0, len(e.sessions))
	for _, s := range e.sessions {
		out = append(out, s.State())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.After(out[j].StartedAt) })
	return out
}

// Resume delivers a planning command to a suspended session. When the
// session is not in memory (crash during suspension) it is recovered from its
// checkpoint first.
func (e *Engine) Resume(ctx context.Context, sessionID string, cmd Command) error {
	s, err := e.session(sessionID)
	if err != nil {
		s, err = e.recover(ctx, sessionID)
		if err != nil {
			return err
		}
	}
	s.mu.RLock()
	status := s.state.Status
	s.mu.RUnlock()
	if status != StatusPlanningWait {
		return fmt.Errorf("session %s is not suspended (status %s)", sessionID, status)
	}
	select {
	case s.commands <- cmd:
		return nil
	default:
		return fmt.Errorf("session %s already has a pending command", sessionID)
	}
}

// Cancel stops a running session. Terminal sessions are left untouched.
func (e *Engine) Cancel(sessionID string) error {
	s, err := e.session(sessionID)
	if err != nil {
		return err
	}
	s.mu.RLock()
	terminal := s.state.Status.Terminal()
	s.mu.RUnlock()
	if terminal {
		return nil
	}
	s.cancel()
	return nil
}

func (e *Engine) session(sessionID string) (*Session, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	s, ok := e.sessions[sessionID]
	if !ok {
		return nil, fmt.Errorf("unknown session %s", sessionID)
	}
	return s, nil
}

// recover rebuilds a suspended session from its checkpoint and re-enters the
// wait state.
func (e *Engine) recover(ctx context.Context, sessionID string) (*Session, error) {
	cp, err := e.checkpoints.Load(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("recover session %s: %w", sessionID, err)
	}
	s := &Session{
		state:    cp.State,
		commands: make(chan Command, 1),
		done:     make(chan struct{}),
	}
	s.state.Status = StatusPlanningWait
	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	s.cancel = cancel

	e.mu.Lock()
	e.sessions[sessionID] = s
	e.mu.Unlock()

	e.logger.Printf("session %s recovered from checkpoint (saved %s)", sessionID, cp.SavedAt.Format(time.RFC3339))
	go e.run(runCtx, s)
	return s, nil
}

// run drives a session until a terminal status. Stage errors become
// StageFatalError; cancellation wins over everything.
func (e *Engine) run(ctx context.Context, s *Session) {
	defer close(s.done)
	start := time.Now()

	ctx, span := engineTracer.Start(ctx, "engine.session",
		trace.WithAttributes(attribute.String("session.id", s.ID())))
	defer span.End()

	for {
		if ctx.Err() != nil {
			e.setStatus(s, StatusCancelled)
			e.telemetry.RecordSessionEnd(string(StatusCancelled), time.Since(start))
			e.logger.Printf("session %s cancelled", s.ID())
			return
		}

		s.mu.RLock()
		status := s.state.Status
		s.mu.RUnlock()

		var err error
		switch status {
		case StatusInit:
			e.setStatus(s, StatusGenerateQueries)
		case StatusGenerateQueries:
			err = e.stage(ctx, s, StatusGenerateQueries, e.stageGenerateQueries)
		case StatusPlanning:
			err = e.stage(ctx, s, StatusPlanning, e.stagePlanning)
		case StatusPlanningWait:
			err = e.stageWait(ctx, s)
		case StatusResearchFanOut:
			err = e.stage(ctx, s, StatusResearchFanOut, e.stageFanOut)
		case StatusValidate:
			err = e.stage(ctx, s, StatusValidate, e.stageValidate)
		case StatusCompress:
			err = e.stage(ctx, s, StatusCompress, e.stageCompress)
		case StatusReflect:
			err = e.stage(ctx, s, StatusReflect, e.stageReflect)
		case StatusFinalize:
			err = e.stage(ctx, s, StatusFinalize, e.stageFinalize)
		case StatusDone:
			e.telemetry.RecordSessionEnd(string(StatusDone), time.Since(start))
			return
		case StatusCancelled, StatusFailed:
			e.telemetry.RecordSessionEnd(string(status), time.Since(start))
			return
		default:
			err = fmt.Errorf("unknown session status %q", status)
		}

		if err != nil {
			if ctx.Err() != nil {
				continue // cancellation handled at loop top
			}
			fatal := StageFatalError{Stage: status, Err: err}
			span.RecordError(fatal)
			span.SetStatus(codes.Error, fatal.Error())
			e.logger.Printf("session %s: %v", s.ID(), fatal)
			s.mu.Lock()
			s.state.FailCause = fatal.Error()
			s.mu.Unlock()
			e.setStatus(s, StatusFailed)
			e.emit(Event{Type: EventFailed, SessionID: s.ID(), Payload: map[string]interface{}{
				"stage": string(status),
				"error": fatal.Error(),
			}})
		}
	}
}

// stage wraps one stage function in a span.
func (e *Engine) stage(ctx context.Context, s *Session, name SessionStatus, fn func(context.Context, *Session) error) error {
	ctx, span := engineTracer.Start(ctx, "engine."+string(name))
	defer span.End()
	if err := fn(ctx, s); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}
	return nil
}

func (e *Engine) stageGenerateQueries(ctx context.Context, s *Session) error {
	question := s.State().Question
	queries, err := e.planner.GenerateQueries(ctx, question, e.cfg.InitialQueryCount)
	if err != nil {
		return err
	}
	steps := e.planner.BuildPlan(queries)

	s.mu.Lock()
	s.state.PendingQueries = queries
	s.state.Plan = steps
	s.state.UpdatedAt = time.Now().UTC()
	s.mu.Unlock()
	e.setStatus(s, StatusPlanning)
	return nil
}

func (e *Engine) stagePlanning(ctx context.Context, s *Session) error {
	if !e.cfg.RequirePlanningConfirmation {
		s.mu.Lock()
		s.state.PlanningStatus = PlanningAutoApproved
		s.mu.Unlock()
		e.setStatus(s, StatusResearchFanOut)
		return nil
	}

	s.mu.Lock()
	s.state.PlanningStatus = PlanningAwaiting
	s.mu.Unlock()
	e.setStatus(s, StatusPlanningWait)

	if err := e.saveCheckpoint(ctx, s); err != nil {
		return err
	}
	e.emit(Event{Type: EventPlanningUpdated, SessionID: s.ID(), Payload: map[string]interface{}{
		"planning_status": string(PlanningAwaiting),
		"plan":            s.State().Plan,
	}})
	return nil
}

// stageWait blocks until a command or cancellation. An unrecognized command
// keeps the session suspended.
func (e *Engine) stageWait(ctx context.Context, s *Session) error {
	select {
	case <-ctx.Done():
		return nil // loop top observes cancellation
	case cmd := <-s.commands:
		s.mu.Lock()
		planningStatus, next := Route(s.state.PlanningStatus, cmd)
		s.state.PlanningStatus = planningStatus
		s.mu.Unlock()

		if next == StatusPlanningWait {
			e.logger.Printf("session %s: unknown planning command %q, staying suspended", s.ID(), cmd)
			e.emit(Event{Type: EventPlanningUpdated, SessionID: s.ID(), Payload: map[string]interface{}{
				"planning_status":  string(planningStatus),
				"rejected_command": string(cmd),
			}})
			return nil
		}
		if next == StatusResearchFanOut {
			if err := e.checkpoints.Delete(ctx, s.ID()); err != nil {
				e.logger.Printf("session %s: drop checkpoint failed: %v", s.ID(), err)
			}
		}
		e.setStatus(s, next)
		e.emit(Event{Type: EventPlanningUpdated, SessionID: s.ID(), Payload: map[string]interface{}{
			"planning_status": string(planningStatus),
			"command":         string(cmd),
		}})
		return nil
	}
}

func (e *Engine) stageFanOut(ctx context.Context, s *Session) error {
	state := s.State()
	// Hard ceiling: checked before a round launches, never after.
	if state.ResearchLoopCount >= e.cfg.MaxResearchLoops {
		e.setStatus(s, StatusFinalize)
		return nil
	}
	if len(state.PendingQueries) == 0 {
		e.setStatus(s, StatusFinalize)
		return nil
	}

	e.markSteps(s, state.PendingQueries, research.StepInProgress)
	batch := e.searcher.FanOut(ctx, state.PendingQueries)
	e.telemetry.RecordRound()

	raw := make([]EvidenceUnit, 0, 16)
	failures := 0
	for _, qr := range batch {
		if qr.Failure != nil {
			failures++
			e.logger.Printf("session %s: %v", s.ID(), qr.Failure)
		}
		for _, res := range qr.Results {
			raw = append(raw, EvidenceUnit{SourceURL: res.URL, Title: res.Title, Snippet: res.Snippet})
		}
	}

	s.mu.Lock()
	s.state.RawResults = raw
	s.state.UpdatedAt = time.Now().UTC()
	s.lastBatch = batch
	s.mu.Unlock()
	e.markSteps(s, state.PendingQueries, research.StepDone)

	e.emit(Event{Type: EventSearchBatchCompleted, SessionID: s.ID(), Payload: map[string]interface{}{
		"queries":        len(batch),
		"failed_queries": failures,
		"raw_results":    len(raw),
	}})
	e.setStatus(s, StatusValidate)
	return nil
}

func (e *Engine) stageValidate(ctx context.Context, s *Session) error {
	s.mu.RLock()
	batch := s.lastBatch
	queries := append([]string(nil), s.state.PendingQueries...)
	s.mu.RUnlock()

	units, err := e.validator.Validate(queries, batch)
	if err != nil {
		return err
	}
	units = e.enricher.Enrich(ctx, units)

	s.mu.Lock()
	assignCitations(&s.state, units)
	s.state.ValidatedResults = units
	s.state.UpdatedAt = time.Now().UTC()
	s.mu.Unlock()

	e.ingestEvidence(ctx, s, units)
	e.setStatus(s, StatusCompress)
	return nil
}

func (e *Engine) stageCompress(ctx context.Context, s *Session) error {
	s.mu.Lock()
	s.state.CompressedResults = e.compressor.Compress(s.state.ValidatedResults)
	s.state.UpdatedAt = time.Now().UTC()
	s.mu.Unlock()
	e.setStatus(s, StatusReflect)
	return nil
}

func (e *Engine) stageReflect(ctx context.Context, s *Session) error {
	state := s.State()
	result, err := e.reflector.Reflect(ctx, state.Question, state.CompressedResults, state.ResearchLoopCount+1)
	if err != nil {
		return err
	}

	s.mu.Lock()
	s.state.ResearchLoopCount++
	s.state.IsSufficient = result.IsSufficient
	s.state.KnowledgeGap = result.KnowledgeGap
	loops := s.state.ResearchLoopCount
	if result.IsSufficient || loops >= e.cfg.MaxResearchLoops {
		s.state.PendingQueries = nil
	} else {
		s.state.PendingQueries = result.FollowUpQueries
		s.state.Plan = append(s.state.Plan, e.planner.BuildPlan(result.FollowUpQueries)...)
	}
	s.state.UpdatedAt = time.Now().UTC()
	s.mu.Unlock()

	e.emit(Event{Type: EventReflectionCompleted, SessionID: s.ID(), Payload: map[string]interface{}{
		"loop":          loops,
		"is_sufficient": result.IsSufficient,
		"knowledge_gap": result.KnowledgeGap,
		"follow_ups":    len(result.FollowUpQueries),
	}})

	if result.IsSufficient || loops >= e.cfg.MaxResearchLoops {
		e.setStatus(s, StatusFinalize)
	} else {
		e.setStatus(s, StatusResearchFanOut)
	}
	return nil
}

func (e *Engine) stageFinalize(ctx context.Context, s *Session) error {
	state := s.State()
	answer, err := e.synthesizer.Synthesize(ctx, state.Question, state.CompressedResults, state.Sources)
	if err != nil {
		return err
	}

	s.mu.Lock()
	s.state.Answer = answer
	s.state.Messages = append(s.state.Messages, Message{Role: "assistant", Content: answer, Timestamp: time.Now().UTC()})
	s.state.UpdatedAt = time.Now().UTC()
	s.mu.Unlock()

	if err := e.checkpoints.Delete(ctx, s.ID()); err != nil {
		e.logger.Printf("session %s: drop checkpoint failed: %v", s.ID(), err)
	}
	e.setStatus(s, StatusDone)
	e.emit(Event{Type: EventFinalized, SessionID: s.ID(), Payload: map[string]interface{}{
		"loops":   state.ResearchLoopCount,
		"sources": len(state.Sources),
	}})
	return nil
}

// ingestEvidence embeds the validated units and writes them to the evidence
// index. Never fatal: partial writes and embedding failures are logged and
// the session moves on.
func (e *Engine) ingestEvidence(ctx context.Context, s *Session, units []EvidenceUnit) {
	if e.index == nil || len(units) == 0 {
		return
	}
	inputs := make([]string, len(units))
	for i, u := range units {
		inputs[i] = u.Title + "\n" + u.Snippet
	}
	vecs, err := e.provider.Embed(ctx, inputs)
	if err != nil {
		e.logger.Printf("session %s: embedding for index skipped: %v", s.ID(), err)
		return
	}
	chunks := make([]index.Chunk, 0, len(units))
	for i, u := range units {
		if i >= len(vecs) {
			break
		}
		chunks = append(chunks, index.Chunk{
			Text:      u.Snippet,
			Embedding: vecs[i],
			Source:    index.ChunkSource{URL: u.SourceURL, Title: u.Title, FetchedAt: time.Now().UTC()},
		})
	}
	res, err := e.index.Ingest(ctx, s.ID(), chunks)
	if err != nil {
		e.logger.Printf("session %s: evidence ingest failed: %v", s.ID(), err)
		return
	}
	for _, pw := range res.Partial {
		e.logger.Printf("session %s: %v", s.ID(), pw)
	}
}

// assignCitations gives every new canonical URL the next citation id.
// Existing ids never change; new ids follow the lexicographic order of the
// batch's URLs, so the same batch always yields the same mapping.
func assignCitations(state *SessionState, units []EvidenceUnit) {
	urls := make([]string, 0, len(units))
	seen := make(map[string]struct{}, len(units))
	for _, u := range units {
		if _, dup := seen[u.SourceURL]; dup {
			continue
		}
		seen[u.SourceURL] = struct{}{}
		urls = append(urls, u.SourceURL)
	}
	sort.Strings(urls)
	next := state.nextCitationID()
	for _, url := range urls {
		if _, ok := state.Sources[url]; !ok {
			state.Sources[url] = next
			next++
		}
	}
	for i := range units {
		units[i].CitationIndex = state.Sources[units[i].SourceURL]
	}
}

func (e *Engine) markSteps(s *Session, queries []string, status research.StepStatus) {
	want := make(map[string]struct{}, len(queries))
	for _, q := range queries {
		want[strings.ToLower(q)] = struct{}{}
	}
	s.mu.Lock()
	for i := range s.state.Plan {
		if _, ok := want[strings.ToLower(s.state.Plan[i].Query)]; ok {
			s.state.Plan[i].Status = status
		}
	}
	s.mu.Unlock()
}

func (e *Engine) saveCheckpoint(ctx context.Context, s *Session) error {
	cp := Checkpoint{SessionID: s.ID(), State: s.State(), SavedAt: time.Now().UTC()}
	if err := e.checkpoints.Save(ctx, cp); err != nil {
		return fmt.Errorf("save checkpoint: %w", err)
	}
	return nil
}

func (e *Engine) setStatus(s *Session, status SessionStatus) {
	s.mu.Lock()
	s.state.Status = status
	s.state.UpdatedAt = time.Now().UTC()
	s.mu.Unlock()
}

func (e *Engine) emit(ev Event) {
	ev.Timestamp = time.Now().UTC()
	select {
	case e.events <- ev:
	default:
		e.logger.Printf("event stream full, dropped %s for session %s", ev.Type, ev.SessionID)
	}
}
