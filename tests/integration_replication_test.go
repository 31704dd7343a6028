package tests

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/annel0/mmo-replication/internal/config"
	"github.com/annel0/mmo-replication/internal/network"
	"github.com/annel0/mmo-replication/internal/replication"
	"github.com/annel0/mmo-replication/internal/vec"
)

// movingEntity серверный аксессор позы для интеграционных тестов
type movingEntity struct {
	pos vec.Vec3Float
	yaw float64

	basePos vec.Vec3Float
	baseYaw float64
	baseSet bool
}

func (e *movingEntity) CurrentPosition() vec.Vec3Float { return e.pos }
func (e *movingEntity) CurrentYaw() float64            { return e.yaw }

func (e *movingEntity) Baseline() (vec.Vec3Float, float64, bool) {
	return e.basePos, e.baseYaw, e.baseSet
}

func (e *movingEntity) SetBaseline(pos vec.Vec3Float, yaw float64) {
	e.basePos = pos
	e.baseYaw = yaw
	e.baseSet = true
}

// targetSink клиентская сторона: последняя полученная целевая поза
type targetSink struct {
	pos   vec.Vec3Float
	yaw   float64
	calls int
}

func (s *targetSink) SetTargetPose(pos vec.Vec3Float, yaw float64) {
	s.pos = pos
	s.yaw = yaw
	s.calls++
}

func replicationConfig() *config.ReplicationConfig {
	return &config.ReplicationConfig{
		QuantizationRatio: 50,
		PosThreshold:      0.05,
		RotThreshold:      1.0,
		SyncDistance:      30,
		BatchCap:          100,
	}
}

// TestReplicationEndToEnd прогоняет полный путь: сервер детектирует изменения,
// собирает батчи и шлёт их через in-memory сеть; клиентский приёмник
// декодирует и обновляет цели интерполяции.
func TestReplicationEndToEnd(t *testing.T) {
	hub := network.NewMemoryHub()
	serverEP := hub.Endpoint("server")
	clientEP := hub.Endpoint("client-1")

	// сервер
	registry := replication.NewRegistry()
	broadcaster := replication.NewBroadcaster(replicationConfig(), registry, serverEP, replication.NewTickerSource(20))

	avatar := &movingEntity{} // контролируемая сущность клиента в центре мира
	registry.Register(100, avatar)
	broadcaster.AddObserver("client-1", 100)

	npc := &movingEntity{pos: vec.Vec3Float{X: 12.3, Y: 1, Z: -4.5}, yaw: 135}
	registry.Register(1, npc)

	// клиент
	receiver := replication.NewReceiver(50, clientEP)
	receiver.Start()
	defer receiver.Stop()

	avatarSink := &targetSink{}
	npcSink := &targetSink{}
	receiver.Register(100, avatarSink)
	receiver.Register(1, npcSink)

	// тик 1: обе сущности dirty (первое наблюдение), обе в радиусе
	broadcaster.Tick()

	require.Equal(t, 1, npcSink.calls)
	assert.InDelta(t, 12.3, npcSink.pos.X, 0.01)
	assert.InDelta(t, 1.0, npcSink.pos.Y, 0.01)
	assert.InDelta(t, -4.5, npcSink.pos.Z, 0.01)
	assert.InDelta(t, 135.0, npcSink.yaw, 0.01)
	assert.Equal(t, 1, avatarSink.calls)

	// тик 2: движения нет — ничего не приходит
	broadcaster.Tick()
	assert.Equal(t, 1, npcSink.calls)

	// тик 3: NPC сдвинулся выше порога — клиент получает новую цель
	npc.pos = npc.pos.Add(vec.Vec3Float{X: 0.5})
	broadcaster.Tick()
	require.Equal(t, 2, npcSink.calls)
	assert.InDelta(t, 12.8, npcSink.pos.X, 0.01)

	// тик 4: дрейф ниже порога не реплицируется
	npc.pos = npc.pos.Add(vec.Vec3Float{X: 0.01})
	broadcaster.Tick()
	assert.Equal(t, 2, npcSink.calls)
}

// TestReplicationRespectsInterestRadius проверяет, что два клиента с разными
// опорными позициями видят разные подмножества мира
func TestReplicationRespectsInterestRadius(t *testing.T) {
	hub := network.NewMemoryHub()
	serverEP := hub.Endpoint("server")

	registry := replication.NewRegistry()
	broadcaster := replication.NewBroadcaster(replicationConfig(), registry, serverEP, replication.NewTickerSource(20))

	// два клиента в противоположных концах мира
	avatarA := &movingEntity{pos: vec.Vec3Float{X: 0}}
	avatarB := &movingEntity{pos: vec.Vec3Float{X: 100}}
	registry.Register(100, avatarA)
	registry.Register(200, avatarB)
	broadcaster.AddObserver("client-a", 100)
	broadcaster.AddObserver("client-b", 200)

	npcNearA := &movingEntity{pos: vec.Vec3Float{X: 10}}
	npcNearB := &movingEntity{pos: vec.Vec3Float{X: 90}}
	registry.Register(1, npcNearA)
	registry.Register(2, npcNearB)

	recvA := replication.NewReceiver(50, hub.Endpoint("client-a"))
	recvB := replication.NewReceiver(50, hub.Endpoint("client-b"))
	recvA.Start()
	recvB.Start()
	defer recvA.Stop()
	defer recvB.Stop()

	sinkA1, sinkA2 := &targetSink{}, &targetSink{}
	recvA.Register(1, sinkA1)
	recvA.Register(2, sinkA2)
	sinkB1, sinkB2 := &targetSink{}, &targetSink{}
	recvB.Register(1, sinkB1)
	recvB.Register(2, sinkB2)

	broadcaster.Tick()

	// клиент A видит только ближний NPC, клиент B — только свой
	assert.Equal(t, 1, sinkA1.calls)
	assert.Zero(t, sinkA2.calls)
	assert.Zero(t, sinkB1.calls)
	assert.Equal(t, 1, sinkB2.calls)
}

// TestReplicationQuantizationTolerance проверяет, что погрешность сквозного
// пути не превышает половину шага квантизации
func TestReplicationQuantizationTolerance(t *testing.T) {
	hub := network.NewMemoryHub()
	serverEP := hub.Endpoint("server")

	cfg := replicationConfig()
	registry := replication.NewRegistry()
	broadcaster := replication.NewBroadcaster(cfg, registry, serverEP, replication.NewTickerSource(20))

	avatar := &movingEntity{}
	registry.Register(100, avatar)
	broadcaster.AddObserver("client-1", 100)

	npc := &movingEntity{pos: vec.Vec3Float{X: 7.777, Y: -3.333, Z: 21.212}, yaw: 123.456}
	registry.Register(1, npc)

	receiver := replication.NewReceiver(cfg.QuantizationRatio, hub.Endpoint("client-1"))
	receiver.Start()
	defer receiver.Stop()

	sink := &targetSink{}
	receiver.Register(1, sink)

	broadcaster.Tick()

	require.Equal(t, 1, sink.calls)
	step := 1.0 / (2.0 * cfg.QuantizationRatio)
	assert.InDelta(t, npc.pos.X, sink.pos.X, step)
	assert.InDelta(t, npc.pos.Y, sink.pos.Y, step)
	assert.InDelta(t, npc.pos.Z, sink.pos.Z, step)
	assert.InDelta(t, npc.yaw, sink.yaw, 360.0/131070.0)
}
