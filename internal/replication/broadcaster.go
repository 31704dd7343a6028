package replication

import (
	"context"
	"sync"
	"sync/atomic"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/annel0/mmo-replication/internal/config"
	"github.com/annel0/mmo-replication/internal/logging"
	"github.com/annel0/mmo-replication/internal/network"
	"github.com/annel0/mmo-replication/internal/protocol"
	"github.com/annel0/mmo-replication/internal/vec"
)

// dirtyEntry поза сущности, зафиксированная в фазе детекции.
// Фаза рассылки читает только эти снимки, не трогая аксессоры.
type dirtyEntry struct {
	id  uint64
	pos vec.Vec3Float
	yaw float64
}

// observerState состояние подключённого наблюдателя
type observerState struct {
	refEntityID uint64 // контролируемая сущность — источник опорной позиции
}

// BroadcasterStats снимок счётчиков рассылки для REST/отладки
type BroadcasterStats struct {
	Observers     int    `json:"observers"`
	Entities      int    `json:"entities"`
	LastTickDirty int    `json:"last_tick_dirty"`
	TicksTotal    uint64 `json:"ticks_total"`
	BatchesSent   uint64 `json:"batches_sent"`
	RecordsSent   uint64 `json:"records_sent"`
}

// Broadcaster выполняет полный цикл репликации раз в тик: детекция изменений,
// AOI-фильтрация по наблюдателям, сборка батчей и отправка в транспорт.
//
// Тик выполняется синхронно и однопоточно; dirty-набор и буферы — scratch,
// переиспользуемый между тиками. Конкурентны только мутации реестра
// наблюдателей (AddObserver/RemoveObserver защищены мьютексом).
type Broadcaster struct {
	registry  *Registry
	tracker   *ChangeTracker
	filter    *InterestFilter
	asm       *BatchAssembler
	transport network.Transport
	mirror    *BatchMirror // nil — зеркалирование выключено
	ratio     float64

	tickSource  TickSource
	unsubscribe func()

	observersMu sync.RWMutex
	observers   map[string]*observerState

	// scratch-буферы тика
	dirty         []dirtyEntry
	wire          []byte
	currentTarget string

	tracer trace.Tracer
	m      *replMetrics

	lastDirty   atomic.Int64
	ticksTotal  atomic.Uint64
	batchesSent atomic.Uint64
	recordsSent atomic.Uint64
}

// NewBroadcaster создаёт рассыльщик поверх реестра, транспорта и источника тиков
func NewBroadcaster(cfg *config.ReplicationConfig, registry *Registry, transport network.Transport, tickSource TickSource) *Broadcaster {
	b := &Broadcaster{
		registry:   registry,
		tracker:    NewChangeTracker(cfg.GetPosThreshold(), cfg.GetRotThreshold()),
		filter:     NewInterestFilter(cfg.GetSyncDistance()),
		transport:  transport,
		ratio:      cfg.GetQuantizationRatio(),
		tickSource: tickSource,
		observers:  make(map[string]*observerState),
		tracer:     otel.Tracer("replication"),
		m:          getMetrics(),
	}
	b.asm = NewBatchAssembler(cfg.GetBatchCap(), b.flushBatch)

	logging.Info("✅ Broadcaster инициализирован: ratio=%.0f, posThr=%.3f, rotThr=%.2f°, aoi=%.1f, cap=%d",
		cfg.GetQuantizationRatio(), cfg.GetPosThreshold(), cfg.GetRotThreshold(),
		cfg.GetSyncDistance(), cfg.GetBatchCap())
	return b
}

// SetMirror включает зеркалирование исходящих батчей в шину событий
func (b *Broadcaster) SetMirror(m *BatchMirror) { b.mirror = m }

// Start подписывает рассыльщик на источник тиков
func (b *Broadcaster) Start() {
	if b.unsubscribe != nil {
		return
	}
	b.unsubscribe = b.tickSource.Subscribe(b.Tick)
	logging.Info("📡 Broadcaster запущен")
}

// Stop отписывает рассыльщик от источника тиков; незавершённой асинхронной
// работы нет — вся работа тика синхронна.
func (b *Broadcaster) Stop() {
	if b.unsubscribe != nil {
		b.unsubscribe()
		b.unsubscribe = nil
	}
	logging.Info("📡 Broadcaster остановлен")
}

// AddObserver регистрирует наблюдателя (id сессии транспорта) с контролируемой
// сущностью, позиция которой служит опорной точкой AOI.
func (b *Broadcaster) AddObserver(sessionID string, refEntityID uint64) {
	b.observersMu.Lock()
	defer b.observersMu.Unlock()
	b.observers[sessionID] = &observerState{refEntityID: refEntityID}
	logging.Debug("Broadcaster: наблюдатель добавлен id=%s ref=%d", sessionID, refEntityID)
}

// RemoveObserver удаляет наблюдателя
func (b *Broadcaster) RemoveObserver(sessionID string) {
	b.observersMu.Lock()
	defer b.observersMu.Unlock()
	delete(b.observers, sessionID)
	logging.Debug("Broadcaster: наблюдатель удалён id=%s", sessionID)
}

// ObserverCount возвращает количество подключённых наблюдателей
func (b *Broadcaster) ObserverCount() int {
	b.observersMu.RLock()
	defer b.observersMu.RUnlock()
	return len(b.observers)
}

// Tick выполняет один цикл репликации. Вызывается источником тиков;
// повторного входа и перекрытия тиков не бывает.
func (b *Broadcaster) Tick() {
	// без наблюдателей тик не делает ничего
	if b.ObserverCount() == 0 {
		b.m.ticksSkipped.Inc()
		return
	}

	_, span := b.tracer.Start(context.Background(), "replication.tick")
	defer span.End()

	b.ticksTotal.Add(1)
	b.m.ticksTotal.Inc()

	// Фаза 1: пересчёт dirty-набора по всем сущностям.
	// Единственное место, где мутируются baseline'ы; полностью завершается
	// до начала рассылки.
	b.dirty = b.dirty[:0]
	b.registry.ForEach(func(id uint64, acc EntityAccessor) {
		pos := acc.CurrentPosition()
		yaw := acc.CurrentYaw()
		if b.tracker.EvaluatePose(acc, pos, yaw) {
			b.dirty = append(b.dirty, dirtyEntry{id: id, pos: pos, yaw: yaw})
		}
	})

	b.lastDirty.Store(int64(len(b.dirty)))
	b.m.dirtyPerTick.Observe(float64(len(b.dirty)))
	span.SetAttributes(attribute.Int("replication.dirty", len(b.dirty)))

	if len(b.dirty) == 0 {
		return
	}

	// Фаза 2: независимая рассылка по каждому наблюдателю.
	b.observersMu.RLock()
	for sessionID, obs := range b.observers {
		b.sendToObserver(sessionID, obs)
	}
	b.observersMu.RUnlock()
}

// sendToObserver собирает и отправляет батчи одного наблюдателя
func (b *Broadcaster) sendToObserver(sessionID string, obs *observerState) {
	refAcc, ok := b.registry.Get(obs.refEntityID)
	if !ok {
		// наблюдатель без опорной позиции пропускается на этот тик
		b.m.observersSkipped.Inc()
		logging.Trace("Broadcaster: наблюдатель %s без опорной сущности %d, пропуск", sessionID, obs.refEntityID)
		return
	}
	refPos := refAcc.CurrentPosition()

	b.currentTarget = sessionID
	b.asm.Begin()
	for i := range b.dirty {
		e := &b.dirty[i]
		if b.filter.InRange(refPos, e.pos) {
			b.asm.Append(protocol.EncodePoseRatio(uint16(e.id), e.pos, e.yaw, b.ratio))
		}
	}
	b.asm.End()
}

// flushBatch сериализует готовый батч и отправляет его текущему наблюдателю.
// Вызывается сборщиком синхронно внутри sendToObserver.
func (b *Broadcaster) flushBatch(records []protocol.PoseRecord) {
	b.wire = protocol.MarshalBatch(b.wire[:0], records)

	// fire-and-forget: потерянный батч перешлётся следующим dirty-тиком
	if err := b.transport.Send(ChannelPoseSync, b.currentTarget, b.wire, network.FlagUnreliableOrdered); err != nil {
		logging.Warn("Broadcaster: ошибка отправки батча наблюдателю %s: %v", b.currentTarget, err)
	}

	if b.mirror != nil {
		b.mirror.Publish(b.currentTarget, b.wire)
	}

	b.batchesSent.Add(1)
	b.recordsSent.Add(uint64(len(records)))
	b.m.batchesSent.Inc()
	b.m.recordsSent.Add(float64(len(records)))
}

// Stats возвращает снимок счётчиков рассылки
func (b *Broadcaster) Stats() BroadcasterStats {
	return BroadcasterStats{
		Observers:     b.ObserverCount(),
		Entities:      b.registry.Count(),
		LastTickDirty: int(b.lastDirty.Load()),
		TicksTotal:    b.ticksTotal.Load(),
		BatchesSent:   b.batchesSent.Load(),
		RecordsSent:   b.recordsSent.Load(),
	}
}
