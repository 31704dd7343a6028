package main

import (
	"context"
	"log"
	"math/rand"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/annel0/mmo-replication/internal/api"
	"github.com/annel0/mmo-replication/internal/config"
	"github.com/annel0/mmo-replication/internal/eventbus"
	"github.com/annel0/mmo-replication/internal/logging"
	"github.com/annel0/mmo-replication/internal/network"
	"github.com/annel0/mmo-replication/internal/observability"
	"github.com/annel0/mmo-replication/internal/replication"
	"github.com/annel0/mmo-replication/internal/vec"
)

// wanderer демонстрационная сущность: случайное блуждание по миру.
// Реализует replication.EntityAccessor; мутируется только в тике.
type wanderer struct {
	pos     vec.Vec3Float
	yaw     float64
	heading vec.Vec3Float
	speed   float64

	basePos vec.Vec3Float
	baseYaw float64
	baseSet bool
}

func newWanderer(area float64) *wanderer {
	return &wanderer{
		pos: vec.Vec3Float{
			X: (rand.Float64()*2 - 1) * area,
			Z: (rand.Float64()*2 - 1) * area,
		},
		yaw:     rand.Float64() * 360,
		heading: vec.Vec3Float{X: rand.Float64()*2 - 1, Z: rand.Float64()*2 - 1}.Normalized(),
		speed:   1.0 + rand.Float64()*2.0,
	}
}

func (w *wanderer) CurrentPosition() vec.Vec3Float { return w.pos }
func (w *wanderer) CurrentYaw() float64            { return w.yaw }

func (w *wanderer) Baseline() (vec.Vec3Float, float64, bool) {
	return w.basePos, w.baseYaw, w.baseSet
}

func (w *wanderer) SetBaseline(pos vec.Vec3Float, yaw float64) {
	w.basePos = pos
	w.baseYaw = yaw
	w.baseSet = true
}

// step продвигает блуждание на dt секунд
func (w *wanderer) step(dt float64) {
	if rand.Float64() < 0.02 {
		w.heading = vec.Vec3Float{X: rand.Float64()*2 - 1, Z: rand.Float64()*2 - 1}.Normalized()
	}
	w.pos = w.pos.Add(w.heading.Mul(w.speed * dt))
	w.yaw += (rand.Float64()*2 - 1) * 30 * dt
}

func main() {
	if err := logging.InitDefaultLogger("server"); err != nil {
		log.Fatalf("❌ Ошибка инициализации логирования: %v", err)
	}
	defer logging.CloseDefaultLogger()

	logging.Info("🎮 Запуск сервера репликации поз...")

	cfg, err := config.Load("")
	if err != nil {
		logging.Error("❌ Ошибка чтения конфигурации: %v", err)
		log.Fatalf("❌ Ошибка чтения конфигурации: %v", err)
	}
	if cfg == nil {
		cfg = &config.Config{}
	}

	// === ТЕЛЕМЕТРИЯ ===
	ctx := context.Background()
	otelShutdown, err := observability.InitTelemetry(ctx, "mmo-replication")
	if err != nil {
		logging.Warn("OpenTelemetry недоступен: %v", err)
		otelShutdown = func(context.Context) error { return nil }
	}

	// === ШИНА СОБЫТИЙ ===
	var bus eventbus.EventBus
	if cfg.EventBus.URL != "" {
		jsBus, err := eventbus.NewJetStreamBus(cfg.EventBus.URL, cfg.EventBus.Stream,
			time.Duration(cfg.EventBus.Retention)*time.Hour)
		if err != nil {
			logging.Error("❌ Ошибка подключения к NATS: %v", err)
			log.Fatalf("❌ Ошибка подключения к NATS: %v", err)
		}
		defer jsBus.Close()
		bus = jsBus
		logging.Info("🔄 Шина событий: NATS JetStream %s", cfg.EventBus.URL)
	} else {
		bus = eventbus.NewMemoryBus(256)
		logging.Info("🔄 Шина событий: in-memory")
	}
	if err := eventbus.StartLoggingListener(bus); err != nil {
		logging.Warn("LoggingListener не запущен: %v", err)
	}

	// === ЯДРО РЕПЛИКАЦИИ ===
	registry := replication.NewRegistry()
	tickSource := replication.NewTickerSource(cfg.Replication.GetTickRateHz())

	kcpAddr := ":" + strconv.Itoa(cfg.Server.GetKCPPort())
	netLogger := logging.GetNetworkLogger()
	transport, err := network.NewKCPServer(kcpAddr, netLogger)
	if err != nil {
		logging.Error("❌ Ошибка запуска KCP: %v", err)
		log.Fatalf("❌ Ошибка запуска KCP: %v", err)
	}

	broadcaster := replication.NewBroadcaster(&cfg.Replication, registry, transport, tickSource)
	if cfg.EventBus.Mirror {
		hostname, _ := os.Hostname()
		broadcaster.SetMirror(replication.NewBatchMirror(bus, hostname))
		logging.Info("🔄 Зеркалирование батчей в шину включено (node=%s)", hostname)
	}

	// === ДЕМО-СУЩНОСТИ ===
	// Блуждающие NPC создают реальный трафик репликации без игровых клиентов.
	const npcCount = 25
	const areaHalf = 60.0
	dt := 1.0 / float64(cfg.Replication.GetTickRateHz())

	roster := replication.NewSessionRoster()
	npcs := make(map[uint64]*wanderer, npcCount)
	for i := 0; i < npcCount; i++ {
		w := newWanderer(areaHalf)
		id := roster.Allocate()
		npcs[id] = w
		registry.Register(id, w)
	}
	logging.Info("🐄 Зарегистрировано %d демо-сущностей", npcCount)

	// движение выполняется до тика рассылки (порядок подписки)
	unsubMove := tickSource.Subscribe(func() {
		for _, w := range npcs {
			w.step(dt)
		}
	})
	defer unsubMove()

	// === НАБЛЮДАТЕЛИ ===
	// Каждая KCP-сессия получает контролируемую сущность в центре мира,
	// её позиция служит опорной точкой AOI. Колбэки подключения и отключения
	// приходят с разных горутин транспорта, реестр сессий их синхронизирует.
	transport.OnConnect(func(sessionID string) {
		w := newWanderer(5.0)
		id := roster.Bind(sessionID)
		registry.Register(id, w)
		broadcaster.AddObserver(sessionID, id)
	})
	transport.OnDisconnect(func(sessionID string, err error) {
		broadcaster.RemoveObserver(sessionID)
		if id, ok := roster.Release(sessionID); ok {
			registry.Unregister(id)
		}
	})

	// === ЗАПУСК ===
	broadcaster.Start()
	tickSource.Start()

	statsServer := api.NewStatsServer(cfg.Server.GetRESTPort(), broadcaster)
	statsServer.Start()

	logging.Info("✅ Сервер запущен: KCP %s, тик %d Гц", kcpAddr, cfg.Replication.GetTickRateHz())
	logging.Info("   ❤️  Health check: http://localhost:%d/health", cfg.Server.GetRESTPort())

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	logging.Info("📡 Получен сигнал %v, завершение работы...", sig)

	// === GRACEFUL SHUTDOWN ===
	tickSource.Stop()
	broadcaster.Stop()
	if err := statsServer.Stop(); err != nil {
		logging.Error("Ошибка остановки Stats API: %v", err)
	}
	if err := transport.Close(); err != nil {
		logging.Error("Ошибка остановки KCP: %v", err)
	}
	if err := otelShutdown(ctx); err != nil {
		logging.Error("Ошибка остановки телеметрии: %v", err)
	}

	logging.Info("👋 Сервер успешно остановлен")
}
