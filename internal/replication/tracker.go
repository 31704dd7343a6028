package replication

import (
	"math"

	"github.com/annel0/mmo-replication/internal/vec"
)

// ChangeTracker определяет, изменилась ли поза сущности достаточно для
// повторной отправки, сравнивая её с baseline последней синхронизации.
type ChangeTracker struct {
	posThreshold float64 // порог линейной дистанции, мировые единицы
	rotThreshold float64 // порог поворота, градусы
}

// NewChangeTracker создаёт детектор с указанными порогами
func NewChangeTracker(posThreshold, rotThreshold float64) *ChangeTracker {
	return &ChangeTracker{
		posThreshold: posThreshold,
		rotThreshold: rotThreshold,
	}
}

// Evaluate возвращает true, если сущность dirty, и при этом сразу продвигает
// baseline к текущей позе.
//
// Сущность без baseline всегда dirty: так новые сущности уходят наблюдателям
// при первой же возможности. Переход Unbaselined → Baselined одностороннй.
//
// Baseline продвигается в момент детекции, до AOI-фильтрации по наблюдателям.
// Наблюдатель вне радиуса не получит это изменение ни сейчас, ни позже, пока
// сущность не изменится снова — поведение сохранено намеренно ради экономии
// трафика (см. DESIGN.md).
func (ct *ChangeTracker) Evaluate(acc EntityAccessor) bool {
	pos := acc.CurrentPosition()
	yaw := acc.CurrentYaw()
	return ct.EvaluatePose(acc, pos, yaw)
}

// EvaluatePose как Evaluate, но с уже считанной позой (чтобы не читать её дважды за тик)
func (ct *ChangeTracker) EvaluatePose(acc EntityAccessor, pos vec.Vec3Float, yaw float64) bool {
	basePos, baseYaw, ok := acc.Baseline()
	if !ok {
		acc.SetBaseline(pos, yaw)
		return true
	}

	posDelta := pos.DistanceTo(basePos)
	yawDelta := ShortestAngle(yaw, baseYaw)

	// дельта, равная порогу, считается dirty
	if posDelta >= ct.posThreshold || math.Abs(yawDelta) >= ct.rotThreshold {
		acc.SetBaseline(pos, yaw)
		return true
	}
	return false
}

// ShortestAngle возвращает минимальную знаковую разницу углов a-b
// по кратчайшей дуге, в диапазоне [-180, 180]. Разница 359° и 1° — это 2°, не 358°.
func ShortestAngle(a, b float64) float64 {
	diff := math.Mod(a-b, 360.0)
	if diff > 180.0 {
		diff -= 360.0
	} else if diff < -180.0 {
		diff += 360.0
	}
	return diff
}
