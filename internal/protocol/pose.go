// Package protocol реализует бинарный кодек записей поз для канала репликации.
package protocol

import (
	"math"

	"github.com/annel0/mmo-replication/internal/vec"
)

// PoseRecord представляет квантизованную позу сущности — единица передачи.
// Фиксированный размер 10 байт: id:u16, x:i16, y:i16, z:i16, yaw:u16.
type PoseRecord struct {
	EntityID uint16
	X        int16
	Y        int16
	Z        int16
	Yaw      uint16
}

// PoseRecordSize размер одной записи на проводе, в байтах
const PoseRecordSize = 10

// YawScale максимальное значение квантизованного yaw (полный u16 диапазон)
const YawScale = 65535.0

// EncodePose квантизует позу в компактную запись.
//
// Позиция умножается на ratio и округляется до ближайшего шага; значения за
// пределами i16 обрезаются до [-32768, 32767] (при ratio=50 диапазон ±655.34 м).
// Yaw нормализуется в [0,360) и линейно отображается на [0,65535], что даёт
// точность 360/65536 ≈ 0.0055°.
//
// ID сущности > 65535 молча усекается до младших 16 бит — контракт протокола
// предполагает, что id выделяются в пределах u16.
func EncodePose(entityID uint16, pos vec.Vec3Float, yaw float64) PoseRecord {
	return EncodePoseRatio(entityID, pos, yaw, DefaultRatio)
}

// DefaultRatio коэффициент квантизации по умолчанию (юнитов на метр)
const DefaultRatio = 50.0

// EncodePoseRatio квантизует позу с явным коэффициентом квантизации.
func EncodePoseRatio(entityID uint16, pos vec.Vec3Float, yaw float64, ratio float64) PoseRecord {
	return PoseRecord{
		EntityID: entityID,
		X:        quantizeAxis(pos.X, ratio),
		Y:        quantizeAxis(pos.Y, ratio),
		Z:        quantizeAxis(pos.Z, ratio),
		Yaw:      quantizeYaw(yaw),
	}
}

// DecodePose восстанавливает позу из записи: position = raw/ratio, yaw = raw/65535*360.
// Гарантия round-trip: ошибка позиции ≤ 1/(2*ratio) на ось,
// ошибка yaw ≤ 360/131070 по модулю 360.
func DecodePose(rec PoseRecord, ratio float64) (uint16, vec.Vec3Float, float64) {
	pos := vec.Vec3Float{
		X: float64(rec.X) / ratio,
		Y: float64(rec.Y) / ratio,
		Z: float64(rec.Z) / ratio,
	}
	yaw := float64(rec.Yaw) / YawScale * 360.0
	return rec.EntityID, pos, yaw
}

// quantizeAxis округляет компоненту позиции до шага квантизации с обрезкой до i16
func quantizeAxis(v, ratio float64) int16 {
	scaled := math.Round(v * ratio)
	if scaled > math.MaxInt16 {
		return math.MaxInt16
	}
	if scaled < math.MinInt16 {
		return math.MinInt16
	}
	return int16(scaled)
}

// quantizeYaw нормализует угол в [0,360) и отображает на полный u16 диапазон
func quantizeYaw(yaw float64) uint16 {
	yaw = math.Mod(yaw, 360.0)
	if yaw < 0 {
		yaw += 360.0
	}
	return uint16(math.Round(yaw / 360.0 * YawScale))
}
