package replication

import "sync"

// SessionRoster выдаёт id сущностей и связывает сессии транспорта с их
// контролируемыми сущностями. Колбэк подключения выполняется на горутине
// accept-цикла, колбэк отключения — на горутине чтения каждой сессии,
// поэтому и карта, и счётчик id защищены мьютексом.
type SessionRoster struct {
	mu       sync.Mutex
	sessions map[string]uint64
	nextID   uint64
}

// NewSessionRoster создаёт пустой реестр сессий; id выдаются с единицы
func NewSessionRoster() *SessionRoster {
	return &SessionRoster{
		sessions: make(map[string]uint64),
		nextID:   1,
	}
}

// Allocate выдаёт следующий свободный id сущности без привязки к сессии
func (sr *SessionRoster) Allocate() uint64 {
	sr.mu.Lock()
	defer sr.mu.Unlock()
	id := sr.nextID
	sr.nextID++
	return id
}

// Bind выдаёт id контролируемой сущности и связывает его с сессией.
// Повторная привязка той же сессии заменяет прежнюю связь.
func (sr *SessionRoster) Bind(sessionID string) uint64 {
	sr.mu.Lock()
	defer sr.mu.Unlock()
	id := sr.nextID
	sr.nextID++
	sr.sessions[sessionID] = id
	return id
}

// Release снимает связь сессии и возвращает id её сущности.
// ok=false, если сессия не была привязана.
func (sr *SessionRoster) Release(sessionID string) (uint64, bool) {
	sr.mu.Lock()
	defer sr.mu.Unlock()
	id, ok := sr.sessions[sessionID]
	if ok {
		delete(sr.sessions, sessionID)
	}
	return id, ok
}

// Count возвращает количество привязанных сессий
func (sr *SessionRoster) Count() int {
	sr.mu.Lock()
	defer sr.mu.Unlock()
	return len(sr.sessions)
}
