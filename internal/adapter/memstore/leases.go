package memstore

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

type lease struct {
	token   string
	expires time.Time
}

// Leases is an in-process monitor lease table with the same expiry rules as
// the Postgres one.
type Leases struct {
	mu   sync.Mutex
	held map[string]lease
	now  func() time.Time
}

func NewLeases() *Leases {
	return &Leases{held: make(map[string]lease), now: time.Now}
}

func (l *Leases) Acquire(ctx context.Context, jobID string, ttl time.Duration) (string, bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := l.now()
	if cur, ok := l.held[jobID]; ok && now.Before(cur.expires) {
		return "", false, nil
	}
	token := uuid.NewString()
	l.held[jobID] = lease{token: token, expires: now.Add(ttl)}
	return token, true, nil
}

func (l *Leases) Release(ctx context.Context, jobID, token string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if cur, ok := l.held[jobID]; ok && cur.token == token {
		delete(l.held, jobID)
	}
	return nil
}
