package replication

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/annel0/mmo-replication/internal/config"
	"github.com/annel0/mmo-replication/internal/network"
	"github.com/annel0/mmo-replication/internal/protocol"
	"github.com/annel0/mmo-replication/internal/vec"
)

// sentMsg перехваченное исходящее сообщение
type sentMsg struct {
	channel string
	target  string
	payload []byte
	flags   network.ChannelFlags
}

// stubTransport реализует network.Transport с записью отправок
type stubTransport struct {
	mu       sync.Mutex
	sent     []sentMsg
	handlers map[string]network.Handler
}

func newStubTransport() *stubTransport {
	return &stubTransport{handlers: make(map[string]network.Handler)}
}

func (st *stubTransport) Send(channel, target string, payload []byte, flags network.ChannelFlags) error {
	st.mu.Lock()
	defer st.mu.Unlock()
	// копия: отправитель переиспользует буфер
	data := make([]byte, len(payload))
	copy(data, payload)
	st.sent = append(st.sent, sentMsg{channel: channel, target: target, payload: data, flags: flags})
	return nil
}

func (st *stubTransport) RegisterHandler(channel string, h network.Handler) {
	st.handlers[channel] = h
}

func (st *stubTransport) UnregisterHandler(channel string) {
	delete(st.handlers, channel)
}

func (st *stubTransport) Close() error { return nil }

func (st *stubTransport) sentTo(target string) []sentMsg {
	st.mu.Lock()
	defer st.mu.Unlock()
	var out []sentMsg
	for _, m := range st.sent {
		if m.target == target {
			out = append(out, m)
		}
	}
	return out
}

// baselinedEntity создаёт аксессор с уже установленным baseline (не dirty)
func baselinedEntity(pos vec.Vec3Float, yaw float64) *stubEntity {
	return &stubEntity{pos: pos, yaw: yaw, basePos: pos, baseYaw: yaw, baseSet: true}
}

func testConfig() *config.ReplicationConfig {
	return &config.ReplicationConfig{
		QuantizationRatio: 50,
		PosThreshold:      0.05,
		RotThreshold:      1.0,
		SyncDistance:      30,
		BatchCap:          100,
	}
}

func newTestBroadcaster(cfg *config.ReplicationConfig) (*Broadcaster, *Registry, *stubTransport) {
	registry := NewRegistry()
	transport := newStubTransport()
	b := NewBroadcaster(cfg, registry, transport, NewTickerSource(20))
	return b, registry, transport
}

// TestTickSkippedWithoutObservers проверяет, что без наблюдателей цикл
// пропускается целиком: нет ни отправок, ни продвижения baseline
func TestTickSkippedWithoutObservers(t *testing.T) {
	b, registry, transport := newTestBroadcaster(testConfig())

	e := &stubEntity{pos: vec.Vec3Float{X: 1}}
	registry.Register(1, e)

	b.Tick()

	assert.Empty(t, transport.sent)
	assert.False(t, e.baseSet, "детекция не должна выполняться без наблюдателей")
}

// TestObserverReceivesOnlyEntitiesInRange проверяет AOI-фильтрацию рассылки
func TestObserverReceivesOnlyEntitiesInRange(t *testing.T) {
	b, registry, transport := newTestBroadcaster(testConfig())

	// опорная сущность наблюдателя, уже синхронизирована
	registry.Register(100, baselinedEntity(vec.Vec3Float{}, 0))
	b.AddObserver("obs-1", 100)

	near := &stubEntity{pos: vec.Vec3Float{X: 10}, yaw: 90}
	far := &stubEntity{pos: vec.Vec3Float{X: 100}}
	registry.Register(1, near)
	registry.Register(2, far)

	b.Tick()

	msgs := transport.sentTo("obs-1")
	require.Len(t, msgs, 1)
	assert.Equal(t, ChannelPoseSync, msgs[0].channel)

	records, err := protocol.UnmarshalBatch(msgs[0].payload)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, uint16(1), records[0].EntityID)

	id, pos, yaw := protocol.DecodePose(records[0], 50)
	assert.Equal(t, uint16(1), id)
	assert.InDelta(t, 10.0, pos.X, 0.01)
	assert.InDelta(t, 90.0, yaw, 0.01)

	// far всё равно получил baseline: детекция глобальна, фильтрация локальна
	assert.True(t, far.baseSet)
}

// TestObserverWithoutReferenceSkipped проверяет пропуск наблюдателя,
// опорная сущность которого не зарегистрирована
func TestObserverWithoutReferenceSkipped(t *testing.T) {
	b, registry, transport := newTestBroadcaster(testConfig())

	registry.Register(1, &stubEntity{pos: vec.Vec3Float{X: 1}})
	b.AddObserver("obs-1", 999)

	b.Tick()

	assert.Empty(t, transport.sentTo("obs-1"))
}

// TestBaselineAdvanceCausesPermanentMissForFarObserver фиксирует рискованное
// поведение протокола: baseline продвигается при детекции, поэтому наблюдатель
// вне радиуса не получит пропущенное изменение и позже, пока сущность не
// изменится снова
func TestBaselineAdvanceCausesPermanentMissForFarObserver(t *testing.T) {
	b, registry, transport := newTestBroadcaster(testConfig())

	registry.Register(100, baselinedEntity(vec.Vec3Float{}, 0))
	registry.Register(200, baselinedEntity(vec.Vec3Float{X: 200}, 0))
	b.AddObserver("near", 100)
	b.AddObserver("far", 200)

	e := &stubEntity{pos: vec.Vec3Float{X: 5}}
	registry.Register(1, e)

	// тик 1: сущность dirty (первое наблюдение); видит только near
	b.Tick()
	assert.Len(t, transport.sentTo("near"), 1)
	assert.Empty(t, transport.sentTo("far"))

	// тик 2: поза не менялась — baseline уже продвинут, не получает никто,
	// включая far, который так и не узнал о сущности
	b.Tick()
	assert.Len(t, transport.sentTo("near"), 1)
	assert.Empty(t, transport.sentTo("far"))
}

// TestBatchCapProducesExpectedMessageSizes проверяет сквозную нарезку батчей:
// 250 dirty сущностей в радиусе → 3 сообщения размерами 101, 101, 48
func TestBatchCapProducesExpectedMessageSizes(t *testing.T) {
	b, registry, transport := newTestBroadcaster(testConfig())

	registry.Register(1000, baselinedEntity(vec.Vec3Float{}, 0))
	b.AddObserver("obs-1", 1000)

	for i := 0; i < 250; i++ {
		// все в радиусе AOI
		registry.Register(uint64(i), &stubEntity{pos: vec.Vec3Float{X: float64(i%20) - 10}})
	}

	b.Tick()

	msgs := transport.sentTo("obs-1")
	require.Len(t, msgs, 3)

	var sizes []int
	total := 0
	for _, m := range msgs {
		records, err := protocol.UnmarshalBatch(m.payload)
		require.NoError(t, err)
		sizes = append(sizes, len(records))
		total += len(records)
	}
	assert.ElementsMatch(t, []int{101, 101, 48}, sizes)
	assert.Equal(t, 250, total)
	assert.Equal(t, 101, sizes[0])
	assert.Equal(t, 101, sizes[1])
	assert.Equal(t, 48, sizes[2])
}

// TestEntityIDAliasesAboveWireRange фиксирует контракт кодека: id сущности
// выше 65535 молча усекается до младших 16 бит, поэтому сущности с шагом
// 65536 неразличимы на проводе. Выделять id за пределами u16 нельзя.
func TestEntityIDAliasesAboveWireRange(t *testing.T) {
	b, registry, transport := newTestBroadcaster(testConfig())

	registry.Register(100, baselinedEntity(vec.Vec3Float{}, 0))
	b.AddObserver("obs-1", 100)

	registry.Register(1, &stubEntity{pos: vec.Vec3Float{X: 1}})
	registry.Register(65537, &stubEntity{pos: vec.Vec3Float{X: 2}})

	b.Tick()

	msgs := transport.sentTo("obs-1")
	require.Len(t, msgs, 1)
	records, err := protocol.UnmarshalBatch(msgs[0].payload)
	require.NoError(t, err)
	require.Len(t, records, 2)

	// обе записи приходят с id=1: приёмник не может их различить
	assert.Equal(t, uint16(1), records[0].EntityID)
	assert.Equal(t, uint16(1), records[1].EntityID)
}

// TestStatsCounters проверяет счётчики рассылки
func TestStatsCounters(t *testing.T) {
	b, registry, transport := newTestBroadcaster(testConfig())

	registry.Register(100, baselinedEntity(vec.Vec3Float{}, 0))
	b.AddObserver("obs-1", 100)
	registry.Register(1, &stubEntity{pos: vec.Vec3Float{X: 1}})

	b.Tick()

	stats := b.Stats()
	assert.Equal(t, 1, stats.Observers)
	assert.Equal(t, 2, stats.Entities)
	assert.Equal(t, 1, stats.LastTickDirty)
	assert.Equal(t, uint64(1), stats.TicksTotal)
	assert.Equal(t, uint64(1), stats.BatchesSent)
	assert.Equal(t, uint64(1), stats.RecordsSent)
	assert.Len(t, transport.sent, 1)
}
