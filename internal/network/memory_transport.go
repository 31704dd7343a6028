package network

import (
	"fmt"
	"sync"
)

// MemoryHub связывает несколько in-process конечных точек в одну «сеть».
// Доставка синхронная и без потерь; используется в тестах и однопроцессных
// конфигурациях, где сервер и клиенты живут в одном бинарнике.
type MemoryHub struct {
	mu        sync.RWMutex
	endpoints map[string]*MemoryEndpoint
}

// NewMemoryHub создаёт пустой хаб
func NewMemoryHub() *MemoryHub {
	return &MemoryHub{
		endpoints: make(map[string]*MemoryEndpoint),
	}
}

// Endpoint создаёт (или возвращает существующую) конечную точку с данным id
func (h *MemoryHub) Endpoint(id string) *MemoryEndpoint {
	h.mu.Lock()
	defer h.mu.Unlock()

	if ep, ok := h.endpoints[id]; ok {
		return ep
	}
	ep := &MemoryEndpoint{
		id:       id,
		hub:      h,
		handlers: make(map[string]Handler),
	}
	h.endpoints[id] = ep
	return ep
}

func (h *MemoryHub) lookup(id string) (*MemoryEndpoint, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	ep, ok := h.endpoints[id]
	return ep, ok
}

func (h *MemoryHub) remove(id string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.endpoints, id)
}

// MemoryEndpoint реализует Transport поверх MemoryHub
type MemoryEndpoint struct {
	id       string
	hub      *MemoryHub
	mu       sync.RWMutex
	handlers map[string]Handler
}

// ID возвращает идентификатор конечной точки
func (ep *MemoryEndpoint) ID() string { return ep.id }

// Send доставляет сообщение адресату синхронно.
// Полезная нагрузка копируется: отправитель переиспользует свой буфер.
func (ep *MemoryEndpoint) Send(channel string, target string, payload []byte, flags ChannelFlags) error {
	peer, ok := ep.hub.lookup(target)
	if !ok {
		return fmt.Errorf("%w: %s", ErrTargetNotFound, target)
	}

	peer.mu.RLock()
	handler, ok := peer.handlers[channel]
	peer.mu.RUnlock()
	if !ok {
		// адресат не слушает канал — сообщение теряется, как в сети
		return nil
	}

	data := make([]byte, len(payload))
	copy(data, payload)
	handler(ep.id, data)
	return nil
}

// RegisterHandler назначает обработчик входящих сообщений канала
func (ep *MemoryEndpoint) RegisterHandler(channel string, h Handler) {
	ep.mu.Lock()
	defer ep.mu.Unlock()
	ep.handlers[channel] = h
}

// UnregisterHandler снимает обработчик канала
func (ep *MemoryEndpoint) UnregisterHandler(channel string) {
	ep.mu.Lock()
	defer ep.mu.Unlock()
	delete(ep.handlers, channel)
}

// Close отключает конечную точку от хаба
func (ep *MemoryEndpoint) Close() error {
	ep.hub.remove(ep.id)
	return nil
}
