package control

import (
	"log/slog"
	"sync"
)

// subscriberBuffer — ёмкость канала подписчика. Переполнение означает
// зависшего потребителя: событие отбрасывается с warn, шина не блокируется
// и не копит неограниченную очередь.
const subscriberBuffer = 128

type bus struct {
	mu     sync.Mutex
	subs   map[int]chan Event
	nextID int
	closed bool
}

func newBus() *bus {
	return &bus{subs: make(map[int]chan Event)}
}

// subscribe возвращает канал событий и функцию отписки. После отписки
// канал закрывается, читатель завершает range естественно.
func (b *bus) subscribe() (<-chan Event, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch := make(chan Event, subscriberBuffer)
	if b.closed {
		close(ch)
		return ch, func() {}
	}
	id := b.nextID
	b.nextID++
	b.subs[id] = ch

	return ch, func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if sub, ok := b.subs[id]; ok {
			delete(b.subs, id)
			close(sub)
		}
	}
}

func (b *bus) publish(ev Event) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}
	for id, sub := range b.subs {
		select {
		case sub <- ev:
		default:
			slog.Warn("event dropped: slow subscriber", "subscriber", id, "kind", ev.Kind)
		}
	}
}

func (b *bus) close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}
	b.closed = true
	for id, sub := range b.subs {
		delete(b.subs, id)
		close(sub)
	}
}
