package notify

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

// fakeSource hands the test direct control over payload delivery.
type fakeSource struct {
	mu      sync.Mutex
	deliver func(payload string)
	started int
}

func (f *fakeSource) Listen(ctx context.Context, channel string, deliver func(payload string)) error {
	f.mu.Lock()
	f.deliver = deliver
	f.started++
	f.mu.Unlock()
	<-ctx.Done()
	return ctx.Err()
}

func (f *fakeSource) emit(payload string) {
	f.mu.Lock()
	deliver := f.deliver
	f.mu.Unlock()
	deliver(payload)
}

func (f *fakeSource) waitStarted(t *testing.T) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		f.mu.Lock()
		ready := f.deliver != nil
		f.mu.Unlock()
		if ready {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatal("listener never started")
}

func TestPublisher_ListenerLifecycle(t *testing.T) {
	source := &fakeSource{}
	p := NewPublisher("pipeline_run_tasks", source)

	assert.False(t, p.Listening())

	first := p.Subscribe("7")
	assert.True(t, p.Listening())

	second := p.Subscribe("9")
	assert.True(t, p.Listening())
	assert.Equal(t, 2, p.SubscriberCount())

	p.Unsubscribe(first)
	assert.True(t, p.Listening(), "listener stays up while subscribers remain")

	p.Unsubscribe(second)
	assert.False(t, p.Listening(), "last subscriber out stops the listener")
	assert.Equal(t, 0, p.SubscriberCount())
}

func TestPublisher_FanOutMatchesFilter(t *testing.T) {
	source := &fakeSource{}
	p := NewPublisher("pipeline_run_tasks", source)

	seven := p.Subscribe("7")
	nine := p.Subscribe("9")
	source.waitStarted(t)

	source.emit("7")
	source.emit("9")
	source.emit("7")

	assert.Equal(t, "7", <-seven.Messages())
	assert.Equal(t, "7", <-seven.Messages())
	assert.Equal(t, "9", <-nine.Messages())

	select {
	case payload := <-nine.Messages():
		t.Fatalf("unexpected payload %q for filter 9", payload)
	default:
	}

	p.Unsubscribe(seven)
	p.Unsubscribe(nine)
}

func TestPublisher_SlowSubscriberIsDropped(t *testing.T) {
	source := &fakeSource{}
	p := NewPublisher("pipeline_run_tasks", source)

	slow := p.Subscribe("7")
	steady := p.Subscribe("7")
	source.waitStarted(t)

	// Overflow the slow subscriber's buffer; the steady one drains
	// after every emit and never falls behind.
	for i := 0; i < subscriberBuffer+1; i++ {
		source.emit("7")
		<-steady.Messages()
	}

	assert.Equal(t, 1, p.SubscriberCount(), "slow subscriber removed, steady one kept")

	// The dropped subscriber's stream closes.
	drained := 0
	for range slow.Messages() {
		drained++
	}
	assert.Equal(t, subscriberBuffer, drained)

	p.Unsubscribe(steady)
	assert.False(t, p.Listening())
	_ = slow
}

func TestPublisher_UnsubscribeTwiceIsSafe(t *testing.T) {
	source := &fakeSource{}
	p := NewPublisher("pipeline_run_tasks", source)

	sub := p.Subscribe("1")
	p.Unsubscribe(sub)
	p.Unsubscribe(sub)
	assert.False(t, p.Listening())
}
