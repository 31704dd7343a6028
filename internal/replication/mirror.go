package replication

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/annel0/mmo-replication/internal/eventbus"
	"github.com/annel0/mmo-replication/internal/logging"
)

// EventTypePoseBatch тип события шины для зеркалированных батчей поз
const EventTypePoseBatch = "PoseBatch"

// BatchMirror публикует каждый отправленный батч в шину событий: другие узлы
// или инструменты отладки могут слушать трафик репликации без подключения к
// игровому транспорту.
type BatchMirror struct {
	bus    eventbus.EventBus
	source string // имя текущего узла
}

// NewBatchMirror создаёт зеркало батчей для указанного узла
func NewBatchMirror(bus eventbus.EventBus, source string) *BatchMirror {
	return &BatchMirror{bus: bus, source: source}
}

// Publish отправляет батч в шину. Полезная нагрузка копируется: вызывающий
// переиспользует свой буфер на следующем же сбросе.
func (bm *BatchMirror) Publish(target string, payload []byte) {
	data := make([]byte, len(payload))
	copy(data, payload)

	env := &eventbus.Envelope{
		ID:        uuid.NewString(),
		Timestamp: time.Now().UTC(),
		Source:    bm.source,
		EventType: EventTypePoseBatch,
		Version:   1,
		Priority:  3, // позиции вытесняются первыми при перегрузке шины
		Payload:   data,
		Metadata:  map[string]string{"target": target},
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := bm.bus.Publish(ctx, env); err != nil {
		logging.Warn("BatchMirror: ошибка публикации: %v", err)
	}
}

// MirrorConsumer применяет зеркалированные батчи чужих узлов к локальному
// приёмнику. Собственные события узла игнорируются.
type MirrorConsumer struct {
	sub      eventbus.Subscription
	receiver *Receiver
	source   string
}

// NewMirrorConsumer подписывается на PoseBatch события шины
func NewMirrorConsumer(bus eventbus.EventBus, receiver *Receiver, source string) (*MirrorConsumer, error) {
	mc := &MirrorConsumer{receiver: receiver, source: source}
	sub, err := bus.Subscribe(context.Background(), eventbus.Filter{Types: []string{EventTypePoseBatch}}, mc.handle)
	if err != nil {
		return nil, err
	}
	mc.sub = sub
	return mc, nil
}

func (mc *MirrorConsumer) handle(ctx context.Context, ev *eventbus.Envelope) {
	if ev.Source == mc.source {
		return
	}
	logging.Trace("MirrorConsumer: батч %d байт от %s", len(ev.Payload), ev.Source)
	mc.receiver.HandleBatch(ev.Payload)
}

// Stop отписывается от шины
func (mc *MirrorConsumer) Stop() { mc.sub.Unsubscribe() }
