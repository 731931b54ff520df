package sweeper

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
)

type fakeExpirer struct {
	mu      sync.Mutex
	batches []int
	calls   int
	err     error
}

func (f *fakeExpirer) ExpireStale(ctx context.Context, limit int) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return 0, f.err
	}
	if len(f.batches) == 0 {
		return 0, nil
	}
	n := f.batches[0]
	f.batches = f.batches[1:]
	return n, nil
}

func (f *fakeExpirer) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func TestSweepLoopsOverFullBatches(t *testing.T) {
	f := &fakeExpirer{batches: []int{batchSize, batchSize, 3}}
	assert.Equal(t, 2*batchSize+3, Sweep(context.Background(), f, zap.NewNop()))
	assert.Equal(t, 3, f.calls)
}

func TestSweepStopsOnError(t *testing.T) {
	f := &fakeExpirer{err: errors.New("db down")}
	assert.Zero(t, Sweep(context.Background(), f, zap.NewNop()))
	assert.Equal(t, 1, f.calls)
}

func TestRunStopsWithContext(t *testing.T) {
	f := &fakeExpirer{}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		Run(ctx, f, 5*time.Millisecond, nil)
		close(done)
	}()
	assert.Eventually(t, func() bool { return f.callCount() >= 2 }, time.Second, 5*time.Millisecond)
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("sweeper did not stop")
	}
}
