package search

import (
	"fmt"
	"strings"
)

// ProviderFailure records one failed provider attempt for a query.
type ProviderFailure struct {
	Provider string
	Reason   string
}

// AllProvidersFailedError is returned when every provider in the chain failed
// for a query. Callers treat it as "zero evidence for this query", not as a
// fatal abort of the fan-out.
type AllProvidersFailedError struct {
	Query    string
	Attempts []ProviderFailure
}

func (e *AllProvidersFailedError) Error() string {
	reasons := make([]string, 0, len(e.Attempts))
	for _, a := range e.Attempts {
		reasons = append(reasons, fmt.Sprintf("%s: %s", a.Provider, a.Reason))
	}
	return fmt.Sprintf("all providers failed for %q: %s", e.Query, strings.Join(reasons, "; "))
}
