package replication

import (
	"sync"
	"time"
)

// TickerSource реализует TickSource поверх time.Ticker с фиксированной
// частотой. Подписчики вызываются синхронно и последовательно в порядке
// подписки — тики не перекрываются.
type TickerSource struct {
	interval time.Duration

	mu     sync.Mutex
	subs   map[int]func()
	order  []int
	nextID int

	quit chan struct{}
	wg   sync.WaitGroup
}

// NewTickerSource создаёт источник тиков с частотой hz
func NewTickerSource(hz int) *TickerSource {
	if hz <= 0 {
		hz = 20
	}
	return &TickerSource{
		interval: time.Second / time.Duration(hz),
		subs:     make(map[int]func()),
		quit:     make(chan struct{}),
	}
}

// Subscribe добавляет подписчика; возвращает функцию отписки
func (ts *TickerSource) Subscribe(fn func()) (unsubscribe func()) {
	ts.mu.Lock()
	defer ts.mu.Unlock()

	id := ts.nextID
	ts.nextID++
	ts.subs[id] = fn
	ts.order = append(ts.order, id)

	return func() {
		ts.mu.Lock()
		defer ts.mu.Unlock()
		delete(ts.subs, id)
		for i, v := range ts.order {
			if v == id {
				ts.order = append(ts.order[:i], ts.order[i+1:]...)
				break
			}
		}
	}
}

// Start запускает цикл тиков
func (ts *TickerSource) Start() {
	ts.wg.Add(1)
	go ts.loop()
}

// Stop останавливает цикл; текущий тик дорабатывает до конца
func (ts *TickerSource) Stop() {
	close(ts.quit)
	ts.wg.Wait()
}

func (ts *TickerSource) loop() {
	defer ts.wg.Done()

	ticker := time.NewTicker(ts.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			ts.fire()
		case <-ts.quit:
			return
		}
	}
}

// fire вызывает подписчиков снимком, чтобы отписка внутри тика была безопасной
func (ts *TickerSource) fire() {
	ts.mu.Lock()
	fns := make([]func(), 0, len(ts.order))
	for _, id := range ts.order {
		if fn, ok := ts.subs[id]; ok {
			fns = append(fns, fn)
		}
	}
	ts.mu.Unlock()

	for _, fn := range fns {
		fn()
	}
}
