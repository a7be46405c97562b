package event

import "sync"

// Bus is a synchronous publish/subscribe registry for values of type T.
// Handlers run on the publishing goroutine in subscription order
type Bus[T any] struct {
	mu     sync.RWMutex
	nextID uint64
	order  []uint64
	subs   map[uint64]func(T)
}

// NewBus creates an empty bus
func NewBus[T any]() *Bus[T] {
	return &Bus[T]{subs: make(map[uint64]func(T))}
}

// Subscribe registers fn and returns a function that removes it again.
// The returned function is idempotent and waits for deliveries already in
// progress on this bus to finish, so fn is never invoked after it returns.
// It must not be called from inside a handler of the same bus
func (b *Bus[T]) Subscribe(fn func(T)) (unsubscribe func()) {
	b.mu.Lock()
	b.nextID++
	id := b.nextID
	b.subs[id] = fn
	b.order = append(b.order, id)
	b.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			delete(b.subs, id)
			for i, v := range b.order {
				if v == id {
					b.order = append(b.order[:i], b.order[i+1:]...)
					break
				}
			}
		})
	}
}

// Publish delivers v to every current subscriber
func (b *Bus[T]) Publish(v T) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, id := range b.order {
		b.subs[id](v)
	}
}

// Len returns the number of current subscribers
func (b *Bus[T]) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}
