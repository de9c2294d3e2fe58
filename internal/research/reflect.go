package research

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"

	"github.com/mohammad-safakhou/scout/internal/llm"
)

// Reflector decides after each round whether the gathered evidence answers
// the question or more research is needed.
type Reflector struct {
	provider llm.Provider
	logger   *log.Logger
}

// NewReflector builds a reflector around the given LLM capability.
func NewReflector(provider llm.Provider, logger *log.Logger) *Reflector {
	if logger == nil {
		logger = log.New(log.Writer(), "[REFLECT] ", log.LstdFlags)
	}
	return &Reflector{provider: provider, logger: logger}
}

// Reflect grades the evidence against the question. A malformed model
// response degrades to "sufficient" so a broken reflection can never trap a
// session in an endless loop; real provider failures still propagate.
func (r *Reflector) Reflect(ctx context.Context, question string, evidence []EvidenceUnit, loop int) (ReflectionResult, error) {
	prompt := r.createReflectionPrompt(question, evidence, loop)

	var result ReflectionResult
	if err := r.provider.GenerateObject(ctx, prompt, &result); err != nil {
		var schemaErr llm.SchemaValidationError
		if errors.As(err, &schemaErr) {
			r.logger.Printf("reflection returned malformed output, treating evidence as sufficient: %v", err)
			return ReflectionResult{IsSufficient: true}, nil
		}
		return ReflectionResult{}, fmt.Errorf("reflect on round %d: %w", loop, err)
	}

	result.FollowUpQueries = dedupeQueries(result.FollowUpQueries, len(result.FollowUpQueries))
	if !result.IsSufficient && len(result.FollowUpQueries) == 0 {
		// Nothing actionable to research next; stop rather than spin.
		r.logger.Printf("reflection flagged a gap but offered no follow-up queries, finalizing")
		result.IsSufficient = true
	}
	return result, nil
}

func (r *Reflector) createReflectionPrompt(question string, evidence []EvidenceUnit, loop int) string {
	var b strings.Builder
	b.WriteString("You are grading research evidence. Decide whether it suffices to answer the question.\n\n")
	fmt.Fprintf(&b, "QUESTION: %s\n", question)
	fmt.Fprintf(&b, "RESEARCH ROUND: %d\n\n", loop)
	b.WriteString("EVIDENCE:\n")
	if len(evidence) == 0 {
		b.WriteString("(none gathered)\n")
	}
	for i, unit := range evidence {
		fmt.Fprintf(&b, "%d. %s — %s (%s)\n", i+1, unit.Title, unit.Snippet, unit.SourceURL)
	}
	b.WriteString("\nSCHEMA RULES:\n")
	b.WriteString(`- Return JSON only: {"is_sufficient": bool, "knowledge_gap": string, "follow_up_queries": [string, ...]}` + "\n")
	b.WriteString("- When is_sufficient is true, knowledge_gap and follow_up_queries must be empty.\n")
	b.WriteString("- Follow-up queries must target the gap, not repeat earlier queries.\n")
	return b.String()
}
