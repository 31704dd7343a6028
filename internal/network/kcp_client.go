package network

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/klauspost/compress/zstd"
	"github.com/xtaci/kcp-go/v5"

	"github.com/annel0/mmo-replication/internal/logging"
)

// KCPClient клиентская сторона транспорта: одна сессия до сервера.
// Параметр target в Send игнорируется — адресат всегда сервер.
type KCPClient struct {
	conn   *kcp.UDPSession
	logger *logging.Logger

	handlersMu sync.RWMutex
	handlers   map[string]Handler

	compressor   *zstd.Encoder
	decompressor *zstd.Decoder

	onDisconnect func(err error)

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// DialKCP подключается к серверу репликации
func DialKCP(addr string, logger *logging.Logger) (*KCPClient, error) {
	conn, err := kcp.DialWithOptions(addr, nil, 10, 3)
	if err != nil {
		return nil, fmt.Errorf("kcp dial %s: %w", addr, err)
	}
	tuneSession(conn)

	compressor, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("zstd writer: %w", err)
	}
	decompressor, err := zstd.NewReader(nil)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("zstd reader: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	kc := &KCPClient{
		conn:         conn,
		logger:       logger,
		handlers:     make(map[string]Handler),
		compressor:   compressor,
		decompressor: decompressor,
		ctx:          ctx,
		cancel:       cancel,
	}

	kc.wg.Add(1)
	go kc.readLoop()

	logger.Info("KCP client connected: addr=%s", addr)
	return kc, nil
}

// OnDisconnect назначает обработчик разрыва соединения
func (kc *KCPClient) OnDisconnect(fn func(err error)) { kc.onDisconnect = fn }

func (kc *KCPClient) readLoop() {
	defer kc.wg.Done()

	var err error
	for {
		var channel string
		var payload []byte

		channel, _, payload, err = readFrame(kc.conn, kc.decompressor)
		if err != nil {
			break
		}

		kc.handlersMu.RLock()
		handler, ok := kc.handlers[channel]
		kc.handlersMu.RUnlock()
		if ok {
			handler("server", payload)
		}
	}

	select {
	case <-kc.ctx.Done():
		// штатное закрытие
	default:
		if err != nil && err != io.EOF {
			kc.logger.Warn("KCP client read error: %v", err)
		}
		if kc.onDisconnect != nil {
			kc.onDisconnect(err)
		}
	}
}

// Send отправляет сообщение серверу; target игнорируется
func (kc *KCPClient) Send(channel string, _ string, payload []byte, flags ChannelFlags) error {
	frame := buildFrame(channel, payload, flags, kc.compressor)
	kc.conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	if _, err := kc.conn.Write(frame); err != nil {
		return fmt.Errorf("kcp send: %w", err)
	}
	return nil
}

// RegisterHandler назначает обработчик входящих сообщений канала
func (kc *KCPClient) RegisterHandler(channel string, h Handler) {
	kc.handlersMu.Lock()
	defer kc.handlersMu.Unlock()
	kc.handlers[channel] = h
}

// UnregisterHandler снимает обработчик канала
func (kc *KCPClient) UnregisterHandler(channel string) {
	kc.handlersMu.Lock()
	defer kc.handlersMu.Unlock()
	delete(kc.handlers, channel)
}

// Close закрывает соединение
func (kc *KCPClient) Close() error {
	kc.cancel()
	err := kc.conn.Close()
	kc.wg.Wait()
	kc.compressor.Close()
	kc.decompressor.Close()
	return err
}
