package replication

import "sync"

// Registry хранит соответствие id → аксессор для отслеживаемых сущностей.
// Регистрация и удаление могут вызываться из кода спавна/деспавна конкурентно
// с тиком рассылки, поэтому доступ защищён RWMutex.
type Registry struct {
	mu       sync.RWMutex
	entities map[uint64]EntityAccessor
}

// NewRegistry создаёт пустой реестр сущностей
func NewRegistry() *Registry {
	return &Registry{
		entities: make(map[uint64]EntityAccessor),
	}
}

// Register добавляет сущность в реестр. Повторная регистрация заменяет аксессор.
func (r *Registry) Register(id uint64, acc EntityAccessor) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entities[id] = acc
}

// Unregister удаляет сущность из реестра; после вызова ядро её не трогает
func (r *Registry) Unregister(id uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.entities, id)
}

// Get возвращает аксессор сущности по id
func (r *Registry) Get(id uint64) (EntityAccessor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	acc, ok := r.entities[id]
	return acc, ok
}

// Count возвращает количество зарегистрированных сущностей
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entities)
}

// ForEach вызывает fn для каждой зарегистрированной пары (id, аксессор).
// Порядок обхода не определён. Мутировать реестр из fn нельзя.
func (r *Registry) ForEach(fn func(id uint64, acc EntityAccessor)) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for id, acc := range r.entities {
		fn(id, acc)
	}
}
