package replication

import (
	"github.com/annel0/mmo-replication/internal/protocol"
)

// BatchAssembler упаковывает принятые записи в сообщения, ограниченные
// максимальным числом записей. Буфер записей переиспользуется между проходами,
// чтобы не аллоцировать на каждом тике; при параллелизации по наблюдателям
// каждому проходу нужен собственный экземпляр.
type BatchAssembler struct {
	cap   int
	buf   []protocol.PoseRecord
	flush func(records []protocol.PoseRecord)
}

// NewBatchAssembler создаёт сборщик с лимитом записей на сообщение.
// flush вызывается для каждого готового сообщения; слайс records валиден
// только до возврата из flush — дальше буфер переиспользуется.
func NewBatchAssembler(cap int, flush func(records []protocol.PoseRecord)) *BatchAssembler {
	return &BatchAssembler{
		cap:   cap,
		buf:   make([]protocol.PoseRecord, 0, cap+1),
		flush: flush,
	}
}

// Begin очищает буфер перед проходом по сущностям очередного наблюдателя
func (ba *BatchAssembler) Begin() {
	ba.buf = ba.buf[:0]
}

// Append добавляет запись; если после добавления длина строго превысила лимит,
// сообщение сбрасывается немедленно. Из-за порядка «добавить, потом проверить»
// одно сообщение может содержать до cap+1 записей — это зафиксированное
// поведение протокола, на него рассчитан приёмник.
func (ba *BatchAssembler) Append(rec protocol.PoseRecord) {
	ba.buf = append(ba.buf, rec)
	if len(ba.buf) > ba.cap {
		ba.flush(ba.buf)
		ba.buf = ba.buf[:0]
	}
}

// End сбрасывает остаток после окончания прохода. Наблюдатель без единой
// принятой записи не получает сообщения вовсе.
func (ba *BatchAssembler) End() {
	if len(ba.buf) > 0 {
		ba.flush(ba.buf)
		ba.buf = ba.buf[:0]
	}
}
