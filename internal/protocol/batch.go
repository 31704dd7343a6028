package protocol

import (
	"encoding/binary"
	"fmt"
)

// Формат батча на проводе (big-endian, без поля версии):
//
//	count:u16 | count × (id:u16 x:i16 y:i16 z:i16 yaw:u16)
//
// Раскладка задана явно и не зависит от представления структур в памяти.

// MarshalBatch сериализует записи в бинарный батч.
// dst переиспользуется между вызовами для избежания аллокаций; передавайте
// buf[:0] от предыдущего вызова.
func MarshalBatch(dst []byte, records []PoseRecord) []byte {
	dst = binary.BigEndian.AppendUint16(dst, uint16(len(records)))
	for _, rec := range records {
		dst = binary.BigEndian.AppendUint16(dst, rec.EntityID)
		dst = binary.BigEndian.AppendUint16(dst, uint16(rec.X))
		dst = binary.BigEndian.AppendUint16(dst, uint16(rec.Y))
		dst = binary.BigEndian.AppendUint16(dst, uint16(rec.Z))
		dst = binary.BigEndian.AppendUint16(dst, rec.Yaw)
	}
	return dst
}

// UnmarshalBatch разбирает бинарный батч в слайс записей.
func UnmarshalBatch(payload []byte) ([]PoseRecord, error) {
	if len(payload) < 2 {
		return nil, fmt.Errorf("batch payload too short: %d bytes", len(payload))
	}

	count := int(binary.BigEndian.Uint16(payload[:2]))
	body := payload[2:]
	if len(body) < count*PoseRecordSize {
		return nil, fmt.Errorf("batch payload truncated: want %d records (%d bytes), have %d bytes",
			count, count*PoseRecordSize, len(body))
	}

	records := make([]PoseRecord, count)
	for i := 0; i < count; i++ {
		off := i * PoseRecordSize
		records[i] = PoseRecord{
			EntityID: binary.BigEndian.Uint16(body[off : off+2]),
			X:        int16(binary.BigEndian.Uint16(body[off+2 : off+4])),
			Y:        int16(binary.BigEndian.Uint16(body[off+4 : off+6])),
			Z:        int16(binary.BigEndian.Uint16(body[off+6 : off+8])),
			Yaw:      binary.BigEndian.Uint16(body[off+8 : off+10]),
		}
	}
	return records, nil
}
