package replication

import (
	"sync"

	"github.com/annel0/mmo-replication/internal/logging"
	"github.com/annel0/mmo-replication/internal/network"
	"github.com/annel0/mmo-replication/internal/protocol"
)

// Receiver принимает батчи поз и передаёт декодированные цели локальным
// сущностям. Записи с неизвестным id молча отбрасываются — буферизации до
// поздней регистрации нет, следующий dirty-тик принесёт актуальную позу.
type Receiver struct {
	ratio     float64
	transport network.Transport

	mu    sync.RWMutex
	sinks map[uint64]InterpolationSink

	m *replMetrics
}

// NewReceiver создаёт приёмник с указанным коэффициентом квантизации.
// Коэффициент должен совпадать с серверным, иначе позиции декодируются с
// неверным масштабом.
func NewReceiver(ratio float64, transport network.Transport) *Receiver {
	return &Receiver{
		ratio:     ratio,
		transport: transport,
		sinks:     make(map[uint64]InterpolationSink),
		m:         getMetrics(),
	}
}

// Start регистрирует обработчик канала поз в транспорте
func (r *Receiver) Start() {
	r.transport.RegisterHandler(ChannelPoseSync, func(from string, payload []byte) {
		r.HandleBatch(payload)
	})
	logging.Info("📥 Receiver запущен")
}

// Stop снимает обработчик канала
func (r *Receiver) Stop() {
	r.transport.UnregisterHandler(ChannelPoseSync)
	logging.Info("📥 Receiver остановлен")
}

// Register связывает локальную сущность с приёмником целевых поз
func (r *Receiver) Register(id uint64, sink InterpolationSink) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sinks[id] = sink
}

// Unregister удаляет локальную сущность
func (r *Receiver) Unregister(id uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.sinks, id)
}

// HandleBatch разбирает батч и рассылает целевые позы за один проход
func (r *Receiver) HandleBatch(payload []byte) {
	records, err := protocol.UnmarshalBatch(payload)
	if err != nil {
		logging.Warn("Receiver: повреждённый батч (%d байт): %v", len(payload), err)
		return
	}

	r.m.recvBatches.Inc()
	r.m.recvRecords.Add(float64(len(records)))

	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, rec := range records {
		id, pos, yaw := protocol.DecodePose(rec, r.ratio)
		sink, ok := r.sinks[uint64(id)]
		if !ok {
			r.m.recvDropped.Inc()
			continue
		}
		sink.SetTargetPose(pos, yaw)
	}
}
