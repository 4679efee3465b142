package guard

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAcquireBlocksSecondCaller(t *testing.T) {
	g := New()

	release, err := g.Acquire("valr")
	require.NoError(t, err)

	_, err = g.Acquire("valr")
	assert.ErrorIs(t, err, ErrExecutionInFlight)

	release()
	release2, err := g.Acquire("valr")
	require.NoError(t, err)
	release2()
}

func TestAcquireAccountsAreIndependent(t *testing.T) {
	g := New()

	r1, err := g.Acquire("valr")
	require.NoError(t, err)
	defer r1()

	r2, err := g.Acquire("binance")
	require.NoError(t, err)
	defer r2()
}

func TestReleaseIsIdempotent(t *testing.T) {
	g := New()

	release, err := g.Acquire("valr")
	require.NoError(t, err)
	release()
	release() // second call must not free someone else's slot

	r2, err := g.Acquire("valr")
	require.NoError(t, err)

	_, err = g.Acquire("valr")
	assert.ErrorIs(t, err, ErrExecutionInFlight)
	r2()
}

func TestAcquireUnderContention(t *testing.T) {
	g := New()

	const goroutines = 32
	var wins int
	var mu sync.Mutex
	var wg sync.WaitGroup
	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if release, err := g.Acquire("valr"); err == nil {
				mu.Lock()
				wins++
				mu.Unlock()
				release()
			}
		}()
	}
	wg.Wait()
	assert.GreaterOrEqual(t, wins, 1, "at least one goroutine must win the slot")
}
