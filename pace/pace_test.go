package pace

import (
	"context"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func TestGrantsUpToLimit(t *testing.T) {
	clk := clockwork.NewFakeClock()
	p := newPacer(clk, 3, time.Second)
	defer p.Stop()

	ctx := context.Background()
	for i := 0; i < 3; i++ {
		require.NoError(t, p.Acquire(ctx))
	}
}

func TestBlocksUntilWindowSlides(t *testing.T) {
	clk := clockwork.NewFakeClock()
	p := newPacer(clk, 2, time.Second)
	defer p.Stop()

	ctx := context.Background()
	require.NoError(t, p.Acquire(ctx))
	require.NoError(t, p.Acquire(ctx))

	result := make(chan error, 1)
	go func() {
		result <- p.Acquire(ctx)
	}()

	// The coordinator must now be asleep until the window slides.
	clk.BlockUntil(1)
	select {
	case err := <-result:
		t.Fatalf("acquire returned early: %v", err)
	case <-time.After(50 * time.Millisecond):
	}

	clk.Advance(time.Second)
	select {
	case err := <-result:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("acquire was not granted after the window slid")
	}
}

func TestUnlimitedWhenIntervalZero(t *testing.T) {
	p := NewPacer(1, 0)
	defer p.Stop()

	ctx := context.Background()
	for i := 0; i < 100; i++ {
		require.NoError(t, p.Acquire(ctx))
	}
}

func TestAcquireHonorsContext(t *testing.T) {
	clk := clockwork.NewFakeClock()
	p := newPacer(clk, 1, time.Second)
	defer p.Stop()

	require.NoError(t, p.Acquire(context.Background()))

	ctx, cancel := context.WithCancel(context.Background())
	result := make(chan error, 1)
	go func() {
		result <- p.Acquire(ctx)
	}()

	clk.BlockUntil(1)
	cancel()

	select {
	case err := <-result:
		require.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("acquire did not observe cancellation")
	}
}

func TestStopUnblocksWaiters(t *testing.T) {
	clk := clockwork.NewFakeClock()
	p := newPacer(clk, 1, time.Second)

	require.NoError(t, p.Acquire(context.Background()))

	result := make(chan error, 1)
	go func() {
		result <- p.Acquire(context.Background())
	}()

	clk.BlockUntil(1)
	p.Stop()

	select {
	case err := <-result:
		require.ErrorIs(t, err, ErrStopped)
	case <-time.After(2 * time.Second):
		t.Fatal("acquire did not observe stop")
	}
}
