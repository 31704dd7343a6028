package replication

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/annel0/mmo-replication/internal/protocol"
)

// collectFlushes возвращает сборщик и срез размеров сброшенных сообщений
func collectFlushes(cap int) (*BatchAssembler, *[]int) {
	sizes := &[]int{}
	ba := NewBatchAssembler(cap, func(records []protocol.PoseRecord) {
		*sizes = append(*sizes, len(records))
	})
	return ba, sizes
}

// TestAssemblerCapOverflow проверяет off-by-one поведение лимита: сообщение
// сбрасывается после строгого превышения, т.е. несёт до cap+1 записей
func TestAssemblerCapOverflow(t *testing.T) {
	ba, sizes := collectFlushes(100)

	ba.Begin()
	for i := 0; i < 250; i++ {
		ba.Append(protocol.PoseRecord{EntityID: uint16(i)})
	}
	ba.End()

	// 250 записей при cap=100 → ровно 3 сообщения: 101, 101, 48
	assert.Equal(t, []int{101, 101, 48}, *sizes)
}

// TestAssemblerNoRecordsNoMessage проверяет, что пустой проход не шлёт сообщений
func TestAssemblerNoRecordsNoMessage(t *testing.T) {
	ba, sizes := collectFlushes(100)

	ba.Begin()
	ba.End()

	assert.Empty(t, *sizes)
}

// TestAssemblerExactCapSingleMessage проверяет, что ровно cap записей уходят
// одним сообщением без промежуточного сброса
func TestAssemblerExactCapSingleMessage(t *testing.T) {
	ba, sizes := collectFlushes(100)

	ba.Begin()
	for i := 0; i < 100; i++ {
		ba.Append(protocol.PoseRecord{EntityID: uint16(i)})
	}
	ba.End()

	assert.Equal(t, []int{100}, *sizes)
}

// TestAssemblerMessageNeverExceedsCapPlusOne проверяет верхнюю границу размера
// и отсутствие двух подряд «коротких» сбросов, пока записи остаются
func TestAssemblerMessageNeverExceedsCapPlusOne(t *testing.T) {
	const cap = 7
	ba, sizes := collectFlushes(cap)

	ba.Begin()
	for i := 0; i < 95; i++ {
		ba.Append(protocol.PoseRecord{EntityID: uint16(i)})
	}
	ba.End()

	for i, size := range *sizes {
		assert.LessOrEqual(t, size, cap+1, "сообщение %d", i)
		if i < len(*sizes)-1 {
			// все сообщения кроме последнего — переполненные сбросы
			assert.Equal(t, cap+1, size, "сообщение %d", i)
		}
	}

	total := 0
	for _, size := range *sizes {
		total += size
	}
	assert.Equal(t, 95, total)
}

// TestAssemblerBeginClearsLeftovers проверяет очистку буфера между проходами
func TestAssemblerBeginClearsLeftovers(t *testing.T) {
	ba, sizes := collectFlushes(100)

	ba.Begin()
	ba.Append(protocol.PoseRecord{EntityID: 1})
	// End не вызван — имитация прерванного прохода

	ba.Begin()
	ba.Append(protocol.PoseRecord{EntityID: 2})
	ba.End()

	assert.Equal(t, []int{1}, *sizes)
}
