package worker

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/OpenPipe/pipeline/internal/config"
	"github.com/OpenPipe/pipeline/internal/queue"
)

// blockingSource delivers one notification per Listen call, then blocks
// until the context ends or fails once, depending on failFirst.
type blockingSource struct {
	calls     atomic.Int32
	failFirst bool
}

func (s *blockingSource) Listen(ctx context.Context, channel string, deliver func(string)) error {
	call := s.calls.Add(1)
	if s.failFirst && call == 1 {
		return assert.AnError
	}
	deliver("1")
	<-ctx.Done()
	return ctx.Err()
}

func testPool(source *blockingSource) *Pool {
	cfg := config.WorkerConfig{Count: 1, LeaseSeconds: 300, HeartbeatSeconds: 30, PollSeconds: 15}
	return NewPool(cfg, nil, queue.New(nil, "pipeline_jobs", 0), nil, nil, source)
}

func TestListen_DeliversWakeups(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	p := testPool(&blockingSource{})
	wake := make(chan struct{}, 1)
	go p.listen(ctx, wake)

	select {
	case <-wake:
	case <-time.After(2 * time.Second):
		t.Fatal("no wakeup delivered")
	}
}

func TestListen_RestartsAfterFailure(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	source := &blockingSource{failFirst: true}
	p := testPool(source)
	wake := make(chan struct{}, 1)
	go p.listen(ctx, wake)

	// The first Listen call fails; the second delivers.
	select {
	case <-wake:
	case <-time.After(5 * time.Second):
		t.Fatal("listener did not restart")
	}
	assert.GreaterOrEqual(t, source.calls.Load(), int32(2))
}

func TestListen_StopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	p := testPool(&blockingSource{})
	wake := make(chan struct{}, 1)
	done := make(chan struct{})
	go func() {
		p.listen(ctx, wake)
		close(done)
	}()

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("listener did not stop on cancel")
	}
}
