package engine

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gold-alert-engine/internal/market"
)

func routerObs(asset string, price int64) market.PriceObservation {
	return market.PriceObservation{
		Asset:     asset,
		Currency:  market.USD,
		Price:     decimal.NewFromInt(price),
		Timestamp: time.Now().UTC(),
	}
}

func TestRouterShutdownUnblocksPendingSubmit(t *testing.T) {
	started := make(chan struct{}, 4)
	release := make(chan struct{})
	var processed atomic.Int32

	r := newRouter(1, func(obs market.PriceObservation) {
		started <- struct{}{}
		<-release
		processed.Add(1)
	})

	ctx := context.Background()

	// First tick occupies the lane goroutine, second fills the buffer.
	require.NoError(t, r.submit(ctx, routerObs("XAU", 4000)))
	<-started
	require.NoError(t, r.submit(ctx, routerObs("XAU", 4001)))

	// Third parks on the full lane.
	submitErr := make(chan error, 1)
	go func() {
		submitErr <- r.submit(ctx, routerObs("XAU", 4002))
	}()
	time.Sleep(20 * time.Millisecond)

	closed := make(chan struct{})
	go func() {
		r.close()
		close(closed)
	}()

	// Shutdown must release the parked submit with ErrClosed, not panic.
	select {
	case err := <-submitErr:
		assert.True(t, errors.Is(err, ErrClosed), "want ErrClosed, got %v", err)
	case <-time.After(2 * time.Second):
		t.Fatal("blocked submit was not released by close")
	}

	close(release)

	select {
	case <-closed:
	case <-time.After(2 * time.Second):
		t.Fatal("close did not complete")
	}

	// Both accepted ticks drained before close returned.
	assert.Equal(t, int32(2), processed.Load())
}

func TestRouterConcurrentSubmitAndClose(t *testing.T) {
	r := newRouter(1, func(obs market.PriceObservation) {
		time.Sleep(time.Millisecond)
	})

	ctx := context.Background()
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				err := r.submit(ctx, routerObs("XAU", int64(4000+n)))
				if err != nil {
					assert.True(t, errors.Is(err, ErrClosed), "unexpected submit error: %v", err)
					return
				}
			}
		}(i)
	}

	time.Sleep(5 * time.Millisecond)
	r.close()
	wg.Wait()

	// Intake stays rejected after close.
	err := r.submit(ctx, routerObs("XAU", 4000))
	assert.True(t, errors.Is(err, ErrClosed))
}

func TestRouterCloseIsIdempotent(t *testing.T) {
	r := newRouter(1, func(market.PriceObservation) {})
	require.NoError(t, r.submit(context.Background(), routerObs("XAU", 4000)))
	r.close()
	r.close()
}
