package repo

import (
	"github.com/google/uuid"

	"slidecast/internal/domain"
)

// rowID returns id in the canonical form bound to uuid columns. Anything
// that does not parse cannot name a row, so it reads as domain.ErrNotFound
// instead of failing the statement.
func rowID(id string) (string, error) {
	u, err := uuid.Parse(id)
	if err != nil {
		return "", domain.ErrNotFound
	}
	return u.String(), nil
}
