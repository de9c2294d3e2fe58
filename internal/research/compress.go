package research

import (
	"log"
	"sort"
)

// charsPerToken is the usual rough estimate for English prose.
const charsPerToken = 4

// Compressor packs validated evidence into a token budget for the synthesis
// prompt.
type Compressor struct {
	budget int
	logger *log.Logger
}

// NewCompressor builds a compressor with the given token budget.
func NewCompressor(tokenBudget int, logger *log.Logger) *Compressor {
	if logger == nil {
		logger = log.New(log.Writer(), "[COMPRESS] ", log.LstdFlags)
	}
	if tokenBudget <= 0 {
		tokenBudget = 4000
	}
	return &Compressor{budget: tokenBudget, logger: logger}
}

// Compress greedily selects the highest-scoring units until the budget is
// spent, then returns them in their original order with citation indexes
// untouched. A unit that alone exceeds the whole budget is truncated rather
// than dropped so the round always contributes something.
func (c *Compressor) Compress(units []EvidenceUnit) []EvidenceUnit {
	if len(units) == 0 {
		return nil
	}
	order := make([]int, len(units))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool {
		return units[order[a]].Score > units[order[b]].Score
	})

	remaining := c.budget
	picked := make([]int, 0, len(units))
	truncate := make(map[int]int)
	for _, idx := range order {
		cost := estimateTokens(units[idx])
		if cost <= remaining {
			picked = append(picked, idx)
			remaining -= cost
			continue
		}
		if len(picked) == 0 {
			// Best unit alone blows the budget: keep a truncated copy.
			picked = append(picked, idx)
			truncate[idx] = remaining * charsPerToken
			remaining = 0
		}
		break
	}
	sort.Ints(picked)

	out := make([]EvidenceUnit, 0, len(picked))
	for _, idx := range picked {
		unit := units[idx]
		if limit, ok := truncate[idx]; ok && len(unit.Snippet) > limit {
			unit.Snippet = unit.Snippet[:limit]
		}
		out = append(out, unit)
	}
	if len(out) < len(units) {
		c.logger.Printf("compressed %d units to %d within %d tokens", len(units), len(out), c.budget)
	}
	return out
}

func estimateTokens(u EvidenceUnit) int {
	n := (len(u.Snippet) + len(u.Title)) / charsPerToken
	if n < 1 {
		n = 1
	}
	return n
}
