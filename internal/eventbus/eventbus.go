// Package eventbus предоставляет шину событий между узлами репликации:
// in-memory реализацию для одного процесса и NATS JetStream для кластера.
package eventbus

import (
	"context"
	"sync"
	"time"
)

// Envelope единица обмена на шине: зеркалированный батч поз или служебное
// событие, снабжённое метаданными маршрутизации.
type Envelope struct {
	ID        string            // уникальный идентификатор события (UUID)
	Timestamp time.Time         // время создания, UTC
	Source    string            // имя узла-отправителя
	EventType string            // тип события (PoseBatch и т.п.)
	Version   int               // версия схемы полезной нагрузки
	Priority  int               // 0=низший … 9=критический; при перегрузке низкие вытесняются
	Payload   []byte            // сериализованные данные
	Metadata  map[string]string // произвольные метаданные (например, адресат батча)
}

// Filter ограничивает подписку типами и источниками событий.
// Пустой срез означает «без ограничений».
type Filter struct {
	Types   []string
	Sources []string
}

// Subscription позволяет отписаться от шины
type Subscription interface {
	Unsubscribe()
}

// Handler потребляет события шины
type Handler func(ctx context.Context, ev *Envelope)

// Stats счётчики шины
type Stats struct {
	Published uint64
	Consumed  uint64
	Dropped   uint64
	InFlight  int
}

// EventBus абстракция шины событий
type EventBus interface {
	Publish(ctx context.Context, ev *Envelope) error
	Subscribe(ctx context.Context, f Filter, h Handler) (Subscription, error)
	Metrics() Stats
}

//================ In-memory реализация =================//

// memoryBus шина в пределах одного процесса. Очередь ограничена; при
// заполнении события с приоритетом ниже 5 отбрасываются, остальные ждут
// освобождения места.
type memoryBus struct {
	mu     sync.RWMutex
	subs   map[int]memSubscriber
	nextID int
	stats  Stats
	queue  chan *Envelope
}

type memSubscriber struct {
	filter  Filter
	handler Handler
	ctx     context.Context
	cancel  context.CancelFunc
}

// NewMemoryBus создаёт in-memory шину с очередью указанной ёмкости
func NewMemoryBus(capacity int) EventBus {
	mb := &memoryBus{
		subs:  make(map[int]memSubscriber),
		queue: make(chan *Envelope, capacity),
	}
	go mb.dispatchLoop()
	return mb
}

func (mb *memoryBus) Publish(ctx context.Context, ev *Envelope) error {
	select {
	case mb.queue <- ev:
		mb.addPublished()
		return nil
	default:
	}

	// очередь полна: низкий приоритет теряется молча
	if ev.Priority < 5 {
		mb.mu.Lock()
		mb.stats.Dropped++
		mb.mu.Unlock()
		return nil
	}

	// высокий приоритет ждёт места либо отмены контекста
	select {
	case mb.queue <- ev:
		mb.addPublished()
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (mb *memoryBus) addPublished() {
	mb.mu.Lock()
	mb.stats.Published++
	mb.mu.Unlock()
}

func (mb *memoryBus) Subscribe(ctx context.Context, f Filter, h Handler) (Subscription, error) {
	cctx, cancel := context.WithCancel(ctx)

	mb.mu.Lock()
	id := mb.nextID
	mb.nextID++
	mb.subs[id] = memSubscriber{filter: f, handler: h, ctx: cctx, cancel: cancel}
	mb.mu.Unlock()

	return &memSub{bus: mb, id: id}, nil
}

func (mb *memoryBus) Metrics() Stats {
	mb.mu.RLock()
	defer mb.mu.RUnlock()
	s := mb.stats
	s.InFlight = len(mb.queue)
	return s
}

// dispatchLoop раздаёт события подписчикам; каждый обработчик вызывается
// в собственной горутине, чтобы медленный потребитель не тормозил очередь
func (mb *memoryBus) dispatchLoop() {
	for ev := range mb.queue {
		mb.mu.RLock()
		subs := make([]memSubscriber, 0, len(mb.subs))
		for _, sub := range mb.subs {
			subs = append(subs, sub)
		}
		mb.mu.RUnlock()

		for _, sub := range subs {
			if !matchFilter(ev, sub.filter) {
				continue
			}
			go func(s memSubscriber, ev *Envelope) {
				select {
				case <-s.ctx.Done():
				default:
					s.handler(s.ctx, ev)
					mb.mu.Lock()
					mb.stats.Consumed++
					mb.mu.Unlock()
				}
			}(sub, ev)
		}
	}
}

// matchFilter проверяет событие на соответствие фильтру подписки
func matchFilter(ev *Envelope, f Filter) bool {
	contains := func(val string, arr []string) bool {
		if len(arr) == 0 {
			return true
		}
		for _, v := range arr {
			if v == val {
				return true
			}
		}
		return false
	}
	return contains(ev.EventType, f.Types) && contains(ev.Source, f.Sources)
}

type memSub struct {
	bus *memoryBus
	id  int
}

func (s *memSub) Unsubscribe() {
	s.bus.mu.Lock()
	if sub, ok := s.bus.subs[s.id]; ok {
		sub.cancel()
		delete(s.bus.subs, s.id)
	}
	s.bus.mu.Unlock()
}
