// Package replication реализует серверный протокол пакетной репликации поз:
// детектор изменений с порогами, AOI-фильтрацию по наблюдателям, сборку
// батчей с лимитом записей и приём входящих батчей на стороне клиента.
package replication

import (
	"github.com/annel0/mmo-replication/internal/vec"
)

// ChannelPoseSync имя канала транспорта для батчей поз
const ChannelPoseSync = "pose_sync"

// EntityAccessor предоставляет доступ к позе отслеживаемой сущности.
// Сама сущность принадлежит внешнему коду; ядро хранит только аксессоры.
type EntityAccessor interface {
	// CurrentPosition возвращает текущую позицию в мировых единицах
	CurrentPosition() vec.Vec3Float

	// CurrentYaw возвращает текущий угол поворота в градусах
	CurrentYaw() float64

	// Baseline возвращает позу последней синхронизации; ok=false если baseline ещё не установлен
	Baseline() (pos vec.Vec3Float, yaw float64, ok bool)

	// SetBaseline фиксирует позу последней синхронизации.
	// Вызывается только детектором изменений.
	SetBaseline(pos vec.Vec3Float, yaw float64)
}

// InterpolationSink принимает целевую позу для плавного движения удалённой
// сущности. Интерполяцию выполняет внешний код, ядро только передаёт цель.
type InterpolationSink interface {
	SetTargetPose(pos vec.Vec3Float, yaw float64)
}

// TickSource источник периодических тиков симуляции.
// Subscribe возвращает функцию отписки.
type TickSource interface {
	Subscribe(fn func()) (unsubscribe func())
}
