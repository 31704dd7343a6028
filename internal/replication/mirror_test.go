package replication

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/annel0/mmo-replication/internal/eventbus"
	"github.com/annel0/mmo-replication/internal/protocol"
	"github.com/annel0/mmo-replication/internal/vec"
)

// TestMirrorDeliversBatchesAcrossNodes проверяет путь через шину: батч,
// опубликованный узлом A, применяется приёмником узла B
func TestMirrorDeliversBatchesAcrossNodes(t *testing.T) {
	bus := eventbus.NewMemoryBus(16)

	receiver := NewReceiver(50, newStubTransport())
	sink := &stubSink{}
	receiver.Register(1, sink)

	consumer, err := NewMirrorConsumer(bus, receiver, "node-b")
	require.NoError(t, err)
	defer consumer.Stop()

	mirror := NewBatchMirror(bus, "node-a")
	payload := protocol.MarshalBatch(nil, []protocol.PoseRecord{
		protocol.EncodePoseRatio(1, vec.Vec3Float{X: 6.5}, 45, 50),
	})
	mirror.Publish("client-1", payload)

	// доставка шины асинхронная
	require.Eventually(t, func() bool { return sink.calls == 1 }, time.Second, 5*time.Millisecond)
	assert.InDelta(t, 6.5, sink.pos.X, 0.01)
	assert.InDelta(t, 45.0, sink.yaw, 0.01)
}

// TestMirrorConsumerSkipsOwnEvents проверяет, что узел не применяет
// собственные зеркалированные батчи
func TestMirrorConsumerSkipsOwnEvents(t *testing.T) {
	bus := eventbus.NewMemoryBus(16)

	receiver := NewReceiver(50, newStubTransport())
	sink := &stubSink{}
	receiver.Register(1, sink)

	consumer, err := NewMirrorConsumer(bus, receiver, "node-a")
	require.NoError(t, err)
	defer consumer.Stop()

	mirror := NewBatchMirror(bus, "node-a")
	mirror.Publish("client-1", protocol.MarshalBatch(nil, []protocol.PoseRecord{
		protocol.EncodePoseRatio(1, vec.Vec3Float{X: 1}, 0, 50),
	}))

	// даём шине время на доставку; событие собственного узла игнорируется
	time.Sleep(50 * time.Millisecond)
	assert.Zero(t, sink.calls)
}

// TestMirrorPublishCopiesPayload проверяет копирование буфера: мутация
// исходного среза после публикации не влияет на доставленный батч
func TestMirrorPublishCopiesPayload(t *testing.T) {
	bus := eventbus.NewMemoryBus(16)

	receiver := NewReceiver(50, newStubTransport())
	sink := &stubSink{}
	receiver.Register(1, sink)

	consumer, err := NewMirrorConsumer(bus, receiver, "node-b")
	require.NoError(t, err)
	defer consumer.Stop()

	mirror := NewBatchMirror(bus, "node-a")
	payload := protocol.MarshalBatch(nil, []protocol.PoseRecord{
		protocol.EncodePoseRatio(1, vec.Vec3Float{X: 3}, 0, 50),
	})
	mirror.Publish("client-1", payload)
	// имитация переиспользования буфера отправителем
	for i := range payload {
		payload[i] = 0xFF
	}

	require.Eventually(t, func() bool { return sink.calls == 1 }, time.Second, 5*time.Millisecond)
	assert.InDelta(t, 3.0, sink.pos.X, 0.01)
}
