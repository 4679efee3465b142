// Package guard enforces one live execution at a time per exchange
// account. Two concurrent triangles on one account would race for the
// same balances and make the pre-flight balance check meaningless.
package guard

import (
	"errors"
	"sync"

	"github.com/ARB4ME/arb4me-unified-sub000/internal/infra/metrics"
)

var ErrExecutionInFlight = errors.New("an execution is already in flight for this account")

type Guard struct {
	mu       sync.Mutex
	inFlight map[string]bool
}

func New() *Guard {
	return &Guard{inFlight: make(map[string]bool)}
}

// Acquire claims the account's execution slot. The returned release
// function must be called exactly once; it is idempotent to make the
// caller's defer safe.
func (g *Guard) Acquire(account string) (func(), error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.inFlight[account] {
		metrics.GuardBlocksTotal.Inc()
		return nil, ErrExecutionInFlight
	}
	g.inFlight[account] = true

	var once sync.Once
	release := func() {
		once.Do(func() {
			g.mu.Lock()
			defer g.mu.Unlock()
			delete(g.inFlight, account)
		})
	}
	return release, nil
}
