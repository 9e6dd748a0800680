package replay

import (
	"fmt"
	"sync"

	"github.com/polysync/rnr/internal/logger"
	"github.com/polysync/rnr/internal/msgtype"
	"github.com/rs/zerolog"
)

// Handler receives one replayed message
type Handler func(msg msgtype.Message)

type subscription struct {
	id      uint64
	handler Handler
}

// Listeners maps message types to handlers. Handlers for a type run in
// registration order, followed by the catch-all handlers, synchronously on
// the delivering goroutine.
type Listeners struct {
	mu     sync.RWMutex
	byType map[msgtype.Type][]subscription
	all    []subscription
	nextID uint64
	log    zerolog.Logger
}

// NewListeners creates an empty registry
func NewListeners() *Listeners {
	return &Listeners{
		byType: make(map[msgtype.Type][]subscription),
		log:    logger.WithComponent("replay.listeners"),
	}
}

// Subscribe registers h for messages of type t and returns its unsubscribe func
func (l *Listeners) Subscribe(t msgtype.Type, h Handler) func() {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.nextID++
	id := l.nextID
	l.byType[t] = append(l.byType[t], subscription{id: id, handler: h})

	return func() {
		l.mu.Lock()
		defer l.mu.Unlock()
		l.byType[t] = remove(l.byType[t], id)
		if len(l.byType[t]) == 0 {
			delete(l.byType, t)
		}
	}
}

// SubscribeAll registers h for every delivered message
func (l *Listeners) SubscribeAll(h Handler) func() {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.nextID++
	id := l.nextID
	l.all = append(l.all, subscription{id: id, handler: h})

	return func() {
		l.mu.Lock()
		defer l.mu.Unlock()
		l.all = remove(l.all, id)
	}
}

func remove(subs []subscription, id uint64) []subscription {
	out := subs[:0:0]
	for _, s := range subs {
		if s.id != id {
			out = append(out, s)
		}
	}
	return out
}

// Has reports whether any handler would receive type t
func (l *Listeners) Has(t msgtype.Type) bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.byType[t]) > 0 || len(l.all) > 0
}

// Dispatch invokes the handlers for msg and returns how many ran. A
// panicking handler is logged and does not stop the others.
func (l *Listeners) Dispatch(msg msgtype.Message) int {
	l.mu.RLock()
	typed := l.byType[msg.Type]
	handlers := make([]Handler, 0, len(typed)+len(l.all))
	for _, s := range typed {
		handlers = append(handlers, s.handler)
	}
	for _, s := range l.all {
		handlers = append(handlers, s.handler)
	}
	l.mu.RUnlock()

	for _, h := range handlers {
		l.invoke(h, msg)
	}
	return len(handlers)
}

func (l *Listeners) invoke(h Handler, msg msgtype.Message) {
	defer func() {
		if r := recover(); r != nil {
			l.log.Error().
				Str("panic", fmt.Sprint(r)).
				Uint32("type", uint32(msg.Type)).
				Uint64("timestamp", msg.Timestamp).
				Msg("Replay handler panicked")
		}
	}()
	h(msg)
}
