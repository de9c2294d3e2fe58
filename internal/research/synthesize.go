package research

import (
	"context"
	"fmt"
	"log"
	"sort"
	"strings"

	"github.com/mohammad-safakhou/scout/internal/helpers"
	"github.com/mohammad-safakhou/scout/internal/llm"
)

// Synthesizer writes the final cited answer from compressed evidence.
type Synthesizer struct {
	provider llm.Provider
	logger   *log.Logger
}

// NewSynthesizer builds a synthesizer around the given LLM capability.
func NewSynthesizer(provider llm.Provider, logger *log.Logger) *Synthesizer {
	if logger == nil {
		logger = log.New(log.Writer(), "[SYNTH] ", log.LstdFlags)
	}
	return &Synthesizer{provider: provider, logger: logger}
}

// Synthesize produces the answer text with a trailing source list. With no
// evidence at all it returns a caveated answer without calling the model;
// that is a soft outcome, not a failure.
func (s *Synthesizer) Synthesize(ctx context.Context, question string, evidence []EvidenceUnit, sources map[string]int) (string, error) {
	if len(evidence) == 0 {
		return fmt.Sprintf("No supporting evidence could be gathered for: %s\n\nThis answer is given without sources and should be treated as unverified.", question), nil
	}

	prompt := s.createSynthesisPrompt(question, evidence)
	answer, err := s.provider.Generate(ctx, prompt)
	if err != nil {
		return "", fmt.Errorf("synthesize answer: %w", err)
	}

	citations := buildCitations(evidence, sources)
	if len(citations) == 0 {
		return strings.TrimSpace(answer), nil
	}
	var b strings.Builder
	b.WriteString(strings.TrimSpace(answer))
	b.WriteString("\n\nSources:\n")
	for _, line := range helpers.FormatCitations(citations) {
		b.WriteString(line)
		b.WriteByte('\n')
	}
	return b.String(), nil
}

func (s *Synthesizer) createSynthesisPrompt(question string, evidence []EvidenceUnit) string {
	var b strings.Builder
	b.WriteString("Answer the question using only the evidence below. Cite evidence inline as [n] using the given citation numbers.\n\n")
	fmt.Fprintf(&b, "QUESTION: %s\n\nEVIDENCE:\n", question)
	for _, unit := range evidence {
		fmt.Fprintf(&b, "[%d] %s — %s (%s)\n", unit.CitationIndex, unit.Title, unit.Snippet, unit.SourceURL)
	}
	b.WriteString("\nWrite a direct, well-structured answer. Do not invent sources or citation numbers.")
	return b.String()
}

// buildCitations lists each cited source once, ordered by citation id.
func buildCitations(evidence []EvidenceUnit, sources map[string]int) []helpers.Citation {
	byIndex := make(map[int]helpers.Citation)
	for _, unit := range evidence {
		idx := unit.CitationIndex
		if idx == 0 {
			if mapped, ok := sources[unit.SourceURL]; ok {
				idx = mapped
			}
		}
		if idx == 0 {
			continue
		}
		if _, dup := byIndex[idx]; dup {
			continue
		}
		byIndex[idx] = helpers.Citation{Index: idx, Title: unit.Title, URL: unit.SourceURL, Snippet: unit.Snippet}
	}
	out := make([]helpers.Citation, 0, len(byIndex))
	for _, c := range byIndex {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Index < out[j].Index })
	return out
}
