package replication

import (
	"github.com/annel0/mmo-replication/internal/vec"
)

// InterestFilter отбирает сущности по дистанции до наблюдателя (area of interest).
// Сравнение идёт по квадратам расстояний, без корня на каждую пару.
//
// Фильтр линейно обходит dirty-набор для каждого наблюдателя — O(наблюдатели ×
// dirty) за тик. Для целевых масштабов протокола этого достаточно;
// пространственный индекс здесь сознательно не используется.
type InterestFilter struct {
	syncDistanceSq float64
}

// NewInterestFilter создаёт фильтр с указанным радиусом синхронизации
func NewInterestFilter(syncDistance float64) *InterestFilter {
	return &InterestFilter{
		syncDistanceSq: syncDistance * syncDistance,
	}
}

// InRange возвращает true, если сущность попадает в область интереса наблюдателя.
// Граница включается: дистанция ровно syncDistance проходит фильтр.
func (f *InterestFilter) InRange(observerPos, entityPos vec.Vec3Float) bool {
	return observerPos.DistanceSquaredTo(entityPos) <= f.syncDistanceSq
}
