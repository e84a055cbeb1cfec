package events

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/Charitha2009/chronicle/internal/domain"
)

// Bus fans committed events out to live subscribers of a campaign.
type Bus interface {
	Publish(ctx context.Context, evt domain.Event) error
	// Subscribe returns a channel of events for the campaign. The channel is
	// closed once ctx is done or the returned cancel func is called.
	Subscribe(ctx context.Context, campaignCode string) (<-chan domain.Event, func(), error)
	Close() error
}

const subscriberBuffer = 32

// sendTimeout bounds how long a slow subscriber may hold up a publish.
const sendTimeout = 2 * time.Second

// ErrBusClosed is returned by Subscribe once the bus has been closed.
var ErrBusClosed = errors.New("event bus closed")

type subscription struct {
	ch   chan domain.Event
	done chan struct{}
}

// MemoryBus is an in-process Bus for single-instance deployments.
// Channels are only sent on and closed while mu is held, so a publish never
// races a cancel or Close.
type MemoryBus struct {
	mu     sync.RWMutex
	subs   map[string]map[*subscription]struct{}
	closed bool
}

func NewMemoryBus() *MemoryBus {
	return &MemoryBus{subs: map[string]map[*subscription]struct{}{}}
}

func (b *MemoryBus) Publish(ctx context.Context, evt domain.Event) error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for sub := range b.subs[evt.CampaignCode] {
		deliver(ctx, sub.ch, evt)
	}
	return nil
}

func deliver(ctx context.Context, ch chan<- domain.Event, evt domain.Event) {
	select {
	case ch <- evt:
		return
	default:
	}
	timer := time.NewTimer(sendTimeout)
	defer timer.Stop()
	select {
	case ch <- evt:
	case <-timer.C:
	case <-ctx.Done():
	}
}

func (b *MemoryBus) Subscribe(ctx context.Context, campaignCode string) (<-chan domain.Event, func(), error) {
	sub := &subscription{
		ch:   make(chan domain.Event, subscriberBuffer),
		done: make(chan struct{}),
	}
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil, nil, ErrBusClosed
	}
	if b.subs[campaignCode] == nil {
		b.subs[campaignCode] = map[*subscription]struct{}{}
	}
	b.subs[campaignCode][sub] = struct{}{}
	b.mu.Unlock()

	cancel := func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		b.remove(campaignCode, sub)
	}
	go func() {
		select {
		case <-ctx.Done():
			cancel()
		case <-sub.done:
		}
	}()
	return sub.ch, cancel, nil
}

// remove drops sub and closes its channels. It is a no-op when sub has
// already been removed. Callers hold mu.
func (b *MemoryBus) remove(campaignCode string, sub *subscription) {
	set, ok := b.subs[campaignCode]
	if !ok {
		return
	}
	if _, ok := set[sub]; !ok {
		return
	}
	delete(set, sub)
	if len(set) == 0 {
		delete(b.subs, campaignCode)
	}
	close(sub.ch)
	close(sub.done)
}

// Subscribers reports the live subscriber count for a campaign.
func (b *MemoryBus) Subscribers(campaignCode string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs[campaignCode])
}

func (b *MemoryBus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	for code, set := range b.subs {
		for sub := range set {
			b.remove(code, sub)
		}
	}
	return nil
}
