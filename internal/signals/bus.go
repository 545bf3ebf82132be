package signals

import "sync"

type subscription struct {
	id uint64
	fn Handler
}

// Bus is an in-process Source. Emit delivers synchronously, in subscription
// order, and returns whether the default action was prevented.
type Bus struct {
	mu       sync.RWMutex
	subs     map[Kind][]subscription
	nextID   uint64
	viewport   Viewport
	hidden     bool
	fullscreen bool
}

// NewBus creates a bus with the given initial viewport.
func NewBus(viewport Viewport) *Bus {
	return &Bus{
		subs:     make(map[Kind][]subscription),
		viewport: viewport,
	}
}

// Subscribe implements Source.
func (b *Bus) Subscribe(kind Kind, fn Handler) func() {
	b.mu.Lock()
	b.nextID++
	id := b.nextID
	b.subs[kind] = append(b.subs[kind], subscription{id: id, fn: fn})
	b.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			list := b.subs[kind]
			for i, s := range list {
				if s.id == id {
					b.subs[kind] = append(list[:i:i], list[i+1:]...)
					break
				}
			}
			if len(b.subs[kind]) == 0 {
				delete(b.subs, kind)
			}
		})
	}
}

// Viewport implements Source.
func (b *Bus) Viewport() Viewport {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.viewport
}

// Hidden implements Source.
func (b *Bus) Hidden() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.hidden
}

// Fullscreen implements Source.
func (b *Bus) Fullscreen() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.fullscreen
}

// Subscribers returns the number of live subscriptions across all kinds.
func (b *Bus) Subscribers() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	n := 0
	for _, list := range b.subs {
		n += len(list)
	}
	return n
}

// Emit publishes e. Visibility, fullscreen and resize events also update
// the state reported by Hidden, Fullscreen and Viewport before handlers run.
func (b *Bus) Emit(e *Event) bool {
	b.mu.Lock()
	switch e.Kind {
	case KindVisibilityChange:
		b.hidden = e.Hidden
	case KindFullscreenChange:
		b.fullscreen = e.Fullscreen
	case KindResize:
		b.viewport = e.Viewport
	}
	list := make([]subscription, len(b.subs[e.Kind]))
	copy(list, b.subs[e.Kind])
	b.mu.Unlock()

	for _, s := range list {
		s.fn(e)
	}
	return e.DefaultPrevented()
}

// SetViewport changes the dimensions without emitting an event, as a
// docked devtools panel does before any resize fires.
func (b *Bus) SetViewport(v Viewport) {
	b.mu.Lock()
	b.viewport = v
	b.mu.Unlock()
}
