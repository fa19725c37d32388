package providers

import (
	"strings"

	"slidecast/internal/domain"
)

// StatusMap translates a provider's native status vocabulary.
type StatusMap map[string]domain.JobState

// Resolve maps native case-insensitively. Anything unrecognised is treated as
// still running so the monitor keeps polling.
func (m StatusMap) Resolve(native string) domain.JobState {
	if s, ok := m[strings.ToLower(strings.TrimSpace(native))]; ok {
		return s
	}
	return domain.JobStateProcessing
}

// Progress clamps p to 100 and returns nil for negative values.
func Progress(p float64) *int {
	if p < 0 {
		return nil
	}
	if p > 100 {
		p = 100
	}
	v := int(p)
	return &v
}
