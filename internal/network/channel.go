// Package network предоставляет унифицированный интерфейс транспорта для
// каналов репликации поверх разных реализаций (KCP, in-memory).
package network

import "errors"

// ChannelFlags определяет флаги доставки сообщений
type ChannelFlags uint8

const (
	// FlagReliable гарантирует доставку сообщения
	FlagReliable ChannelFlags = 1 << iota
	// FlagOrdered гарантирует порядок доставки сообщений
	FlagOrdered
	// FlagUnsequenced отправляет без гарантии порядка
	FlagUnsequenced
	// FlagCompressed сжимает полезную нагрузку (zstd)
	FlagCompressed
)

// FlagUnreliableOrdered режим канала позиций: потери допустимы, порядок в
// пределах потока сохраняется — следующий тик перешлёт актуальное состояние.
const FlagUnreliableOrdered = FlagOrdered

// Handler обрабатывает входящее сообщение канала.
// from — идентификатор отправителя (id сессии).
type Handler func(from string, payload []byte)

// ErrTargetNotFound возвращается при отправке несуществующему адресату
var ErrTargetNotFound = errors.New("transport: target not found")

// Transport абстракция канального транспорта: именованные каналы поверх
// сессий. Send работает в режиме fire-and-forget — повторов и подтверждений
// на этом уровне нет.
type Transport interface {
	// Send отправляет сообщение адресату в указанный канал
	Send(channel string, target string, payload []byte, flags ChannelFlags) error

	// RegisterHandler назначает обработчик входящих сообщений канала.
	// Повторная регистрация заменяет предыдущий обработчик.
	RegisterHandler(channel string, h Handler)

	// UnregisterHandler снимает обработчик канала
	UnregisterHandler(channel string)

	// Close закрывает транспорт и все сессии
	Close() error
}
