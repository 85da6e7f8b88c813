package testutil

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"

	appErrors "github.com/unclebandit/smsleopard-dispatch/internal/errors"
)

// Many workers race to reserve from one shared balance. The conditional
// decrement must admit exactly balance/amount of them; the rest get an
// insufficient-credits denial and the balance never goes negative.
func TestReserveNoOverspendUnderConcurrency(t *testing.T) {
	l := NewLedger()
	l.SetBalance(1, 100)

	const workers = 50
	var successes, denials int64
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := l.Reserve(context.Background(), 1, 10, fmt.Sprintf("recipient:%d", i))
			if err == nil {
				atomic.AddInt64(&successes, 1)
				return
			}
			if appErrors.IsInsufficientCredits(err) {
				atomic.AddInt64(&denials, 1)
			}
		}(i)
	}
	wg.Wait()

	assert.EqualValues(t, 10, successes)
	assert.EqualValues(t, workers-10, denials)
	balance, err := l.Balance(context.Background(), 1)
	assert.NoError(t, err)
	assert.Zero(t, balance)
	assert.Equal(t, 10, l.OpenReservations())
}
