package events

import (
	"context"
	"errors"
	"sync"

	"github.com/davidahmann/surety/pkg/types"
)

// Bus is an in-process Publisher and Subscriber. Publish calls matching handlers
// synchronously and returns the first handler error.
type Bus struct {
	mu     sync.RWMutex
	nextID int
	subs   map[int]subscription
}

type subscription struct {
	kinds  []types.EventKind
	handle Handler
}

func NewBus() *Bus {
	return &Bus{subs: map[int]subscription{}}
}

func (b *Bus) Publish(ctx context.Context, ev Event) error {
	b.mu.RLock()
	matched := make([]Handler, 0, len(b.subs))
	for _, sub := range b.subs {
		if wants(sub.kinds, ev.Kind) {
			matched = append(matched, sub.handle)
		}
	}
	b.mu.RUnlock()

	var errs []error
	for _, handle := range matched {
		if err := handle(ctx, ev); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Subscribe registers handle and blocks until ctx is done.
func (b *Bus) Subscribe(ctx context.Context, kinds []types.EventKind, handle Handler) error {
	b.mu.Lock()
	id := b.nextID
	b.nextID++
	b.subs[id] = subscription{kinds: kinds, handle: handle}
	b.mu.Unlock()

	<-ctx.Done()

	b.mu.Lock()
	delete(b.subs, id)
	b.mu.Unlock()
	return nil
}

// Subscribers reports how many subscriptions are live.
func (b *Bus) Subscribers() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}
