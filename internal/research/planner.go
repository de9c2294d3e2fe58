package research

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"

	"github.com/google/uuid"

	"github.com/mohammad-safakhou/scout/internal/llm"
)

// Planner turns a user question into search queries and a step plan.
type Planner struct {
	provider llm.Provider
	logger   *log.Logger
}

// NewPlanner builds a planner around the given LLM capability.
func NewPlanner(provider llm.Provider, logger *log.Logger) *Planner {
	if logger == nil {
		logger = log.New(log.Writer(), "[PLAN] ", log.LstdFlags)
	}
	return &Planner{provider: provider, logger: logger}
}

type queryPlanResponse struct {
	Queries   []string `json:"queries"`
	Rationale string   `json:"rationale"`
}

// GenerateQueries asks the model for up to n distinct search queries covering
// the question. Duplicates are folded case-insensitively. When the model
// yields nothing usable the raw question itself becomes the single query, so
// a session can always proceed.
func (p *Planner) GenerateQueries(ctx context.Context, question string, n int) ([]string, error) {
	if n <= 0 {
		n = 3
	}
	prompt := p.createQueryPrompt(question, n)

	var resp queryPlanResponse
	if err := p.provider.GenerateObject(ctx, prompt, &resp); err != nil {
		var schemaErr llm.SchemaValidationError
		if errors.As(err, &schemaErr) {
			p.logger.Printf("query generation returned malformed output, falling back to raw question: %v", err)
			return []string{strings.TrimSpace(question)}, nil
		}
		return nil, fmt.Errorf("generate queries: %w", err)
	}

	queries := dedupeQueries(resp.Queries, n)
	if len(queries) == 0 {
		p.logger.Printf("query generation returned no usable queries, falling back to raw question")
		return []string{strings.TrimSpace(question)}, nil
	}
	return queries, nil
}

func (p *Planner) createQueryPrompt(question string, n int) string {
	var b strings.Builder
	b.WriteString("You are a research planner. Produce web search queries that together cover the question below.\n\n")
	fmt.Fprintf(&b, "QUESTION: %s\n\n", question)
	b.WriteString("SCHEMA RULES:\n")
	fmt.Fprintf(&b, "- Return JSON only: {\"queries\": [string, ...], \"rationale\": string}\n")
	fmt.Fprintf(&b, "- At most %d queries, each a standalone search engine query.\n", n)
	b.WriteString("- No numbering, no markdown, no commentary outside the JSON.\n\n")
	b.WriteString("VALID OUTPUT EXAMPLE:\n")
	b.WriteString(`{"queries":["solar panel efficiency records 2025","perovskite tandem cell commercialization"],"rationale":"covers both current records and upcoming technology"}`)
	return b.String()
}

// BuildPlan derives one pending step per query. Step ids are stable for the
// session's lifetime; reflection appends steps rather than rewriting them.
func (p *Planner) BuildPlan(queries []string) []PlanStep {
	steps := make([]PlanStep, 0, len(queries))
	for _, q := range queries {
		steps = append(steps, PlanStep{
			ID:     uuid.New().String(),
			Title:  q,
			Query:  q,
			Tool:   "web_search",
			Status: StepPending,
		})
	}
	return steps
}

func dedupeQueries(in []string, n int) []string {
	seen := make(map[string]struct{}, len(in))
	out := make([]string, 0, len(in))
	for _, q := range in {
		q = strings.TrimSpace(q)
		if q == "" {
			continue
		}
		key := strings.ToLower(q)
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, q)
		if len(out) == n {
			break
		}
	}
	return out
}
