// Package notify bridges the database's asynchronous notifications to
// connected WebSocket clients. One Publisher exists per notification
// channel; its listener runs only while at least one subscriber is
// attached.
package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Source delivers notification payloads for one channel. Listen blocks
// until ctx is cancelled or the underlying stream fails, invoking
// deliver once per notification.
type Source interface {
	Listen(ctx context.Context, channel string, deliver func(payload string)) error
}

// PGSource listens on a dedicated connection from the pool using the
// database's LISTEN facility.
type PGSource struct {
	Pool *pgxpool.Pool
}

func (s *PGSource) Listen(ctx context.Context, channel string, deliver func(payload string)) error {
	conn, err := s.Pool.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("acquire listener connection: %w", err)
	}
	defer conn.Release()

	if _, err := conn.Exec(ctx, "LISTEN "+quoteChannel(channel)); err != nil {
		return fmt.Errorf("listen on %s: %w", channel, err)
	}

	for {
		notification, err := conn.Conn().WaitForNotification(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("wait for notification: %w", err)
		}
		deliver(notification.Payload)
	}
}

func quoteChannel(channel string) string {
	// LISTEN takes an identifier, not a bind parameter.
	return `"` + channel + `"`
}

// subscriberBuffer is how many undelivered payloads a subscriber may
// accumulate before it is dropped as a slow consumer.
const subscriberBuffer = 32

// Subscriber receives the payloads matching its filter.
type Subscriber struct {
	filter string
	ch     chan string
}

// Messages is the subscriber's inbound payload stream. It closes when
// the subscriber is removed from the publisher.
func (s *Subscriber) Messages() <-chan string {
	return s.ch
}

// Publisher fans one notification channel out to a dynamic subscriber
// set. The listener starts when the subscriber count goes 0 to 1 and
// stops when it returns to 0.
type Publisher struct {
	channel string
	source  Source

	mu          sync.Mutex
	subscribers map[*Subscriber]struct{}
	cancel      context.CancelFunc
}

// NewPublisher creates a publisher for one notification channel.
func NewPublisher(channel string, source Source) *Publisher {
	return &Publisher{
		channel:     channel,
		source:      source,
		subscribers: make(map[*Subscriber]struct{}),
	}
}

// Channel returns the notification channel this publisher serves.
func (p *Publisher) Channel() string {
	return p.channel
}

// Subscribe registers a subscriber whose filter is compared against
// each notification payload. The first subscriber starts the listener.
func (p *Publisher) Subscribe(filter string) *Subscriber {
	sub := &Subscriber{filter: filter, ch: make(chan string, subscriberBuffer)}

	p.mu.Lock()
	defer p.mu.Unlock()
	p.subscribers[sub] = struct{}{}
	if p.cancel == nil {
		p.startListenerLocked()
	}
	return sub
}

// Unsubscribe removes a subscriber. The last subscriber out stops the
// listener.
func (p *Publisher) Unsubscribe(sub *Subscriber) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.removeLocked(sub)
}

func (p *Publisher) removeLocked(sub *Subscriber) {
	if _, ok := p.subscribers[sub]; !ok {
		return
	}
	delete(p.subscribers, sub)
	close(sub.ch)
	if len(p.subscribers) == 0 && p.cancel != nil {
		p.cancel()
		p.cancel = nil
	}
}

// startListenerLocked launches the listener goroutine. Callers hold the
// mutex.
func (p *Publisher) startListenerLocked() {
	ctx, cancel := context.WithCancel(context.Background())
	p.cancel = cancel

	go func() {
		err := p.source.Listen(ctx, p.channel, p.dispatch)
		if err != nil && !errors.Is(err, context.Canceled) {
			slog.Error("notification listener failed", "channel", p.channel, "error", err)
		}
		// A failed listener tears down; the next subscriber action
		// restarts it.
		p.mu.Lock()
		if p.cancel != nil && ctx.Err() == nil {
			p.cancel()
			p.cancel = nil
		}
		p.mu.Unlock()
	}()
}

// dispatch fans one payload out to every matching subscriber. Sends
// are non-blocking against each subscriber's buffer, so holding the
// lock keeps removal and delivery from racing. A subscriber that
// cannot keep up is removed, all others keep receiving.
func (p *Publisher) dispatch(payload string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for sub := range p.subscribers {
		if sub.filter != payload {
			continue
		}
		select {
		case sub.ch <- payload:
		default:
			slog.Warn("dropping slow subscriber", "channel", p.channel, "filter", sub.filter)
			p.removeLocked(sub)
		}
	}
}

// Listening reports whether the channel listener is currently up.
func (p *Publisher) Listening() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.cancel != nil
}

// SubscriberCount returns the current subscriber count.
func (p *Publisher) SubscriberCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.subscribers)
}
