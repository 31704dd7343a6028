package network

import (
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/klauspost/compress/zstd"
	"github.com/xtaci/kcp-go/v5"

	"github.com/annel0/mmo-replication/internal/logging"
)

// Формат кадра поверх KCP-потока (big-endian):
//
//	length:u32 | flags:u8 | chanLen:u8 | channel | payload
//
// length покрывает всё после себя. При флаге FlagCompressed payload сжат zstd.

const maxFrameSize = 1 << 20 // защита от мусорного префикса длины

// KCPServer принимает сессии наблюдателей и реализует Transport поверх них.
// Адресат Send — id сессии, выданный при подключении.
type KCPServer struct {
	listener *kcp.Listener
	logger   *logging.Logger

	sessionsMu sync.RWMutex
	sessions   map[string]*kcp.UDPSession

	handlersMu sync.RWMutex
	handlers   map[string]Handler

	compressor   *zstd.Encoder
	decompressor *zstd.Decoder

	onConnect    func(sessionID string)
	onDisconnect func(sessionID string, err error)

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewKCPServer открывает слушатель на addr и начинает принимать сессии
func NewKCPServer(addr string, logger *logging.Logger) (*KCPServer, error) {
	listener, err := kcp.ListenWithOptions(addr, nil, 10, 3)
	if err != nil {
		return nil, fmt.Errorf("kcp listen %s: %w", addr, err)
	}

	compressor, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		listener.Close()
		return nil, fmt.Errorf("zstd writer: %w", err)
	}
	decompressor, err := zstd.NewReader(nil)
	if err != nil {
		listener.Close()
		return nil, fmt.Errorf("zstd reader: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	ks := &KCPServer{
		listener:     listener,
		logger:       logger,
		sessions:     make(map[string]*kcp.UDPSession),
		handlers:     make(map[string]Handler),
		compressor:   compressor,
		decompressor: decompressor,
		ctx:          ctx,
		cancel:       cancel,
	}

	ks.wg.Add(1)
	go ks.acceptLoop()

	logger.Info("KCP server listening: addr=%s", addr)
	return ks, nil
}

// Addr возвращает фактический адрес слушателя (порт 0 резолвится при старте)
func (ks *KCPServer) Addr() net.Addr { return ks.listener.Addr() }

// OnConnect назначает обработчик подключения сессии
func (ks *KCPServer) OnConnect(fn func(sessionID string)) { ks.onConnect = fn }

// OnDisconnect назначает обработчик отключения сессии
func (ks *KCPServer) OnDisconnect(fn func(sessionID string, err error)) { ks.onDisconnect = fn }

// Sessions возвращает id активных сессий
func (ks *KCPServer) Sessions() []string {
	ks.sessionsMu.RLock()
	defer ks.sessionsMu.RUnlock()

	ids := make([]string, 0, len(ks.sessions))
	for id := range ks.sessions {
		ids = append(ids, id)
	}
	return ids
}

func (ks *KCPServer) acceptLoop() {
	defer ks.wg.Done()

	for {
		conn, err := ks.listener.AcceptKCP()
		if err != nil {
			select {
			case <-ks.ctx.Done():
				return
			default:
				ks.logger.Error("KCP accept error: %v", err)
				continue
			}
		}

		tuneSession(conn)

		sessionID := uuid.NewString()
		ks.sessionsMu.Lock()
		ks.sessions[sessionID] = conn
		ks.sessionsMu.Unlock()

		ks.logger.Info("KCP session accepted: id=%s addr=%s", sessionID, conn.RemoteAddr())
		if ks.onConnect != nil {
			ks.onConnect(sessionID)
		}

		ks.wg.Add(1)
		go ks.readLoop(sessionID, conn)
	}
}

// tuneSession выставляет параметры KCP под игровой трафик
func tuneSession(conn *kcp.UDPSession) {
	conn.SetStreamMode(true)
	conn.SetWriteDelay(false)
	conn.SetNoDelay(1, 20, 2, 1)
	conn.SetWindowSize(512, 512)
	conn.SetMtu(1400)
}

func (ks *KCPServer) readLoop(sessionID string, conn *kcp.UDPSession) {
	defer ks.wg.Done()

	var err error
	for {
		var channel string
		var flags ChannelFlags
		var payload []byte

		channel, flags, payload, err = readFrame(conn, ks.decompressor)
		if err != nil {
			break
		}
		ks.dispatch(sessionID, channel, flags, payload)
	}

	ks.dropSession(sessionID, conn, err)
}

func (ks *KCPServer) dispatch(sessionID, channel string, _ ChannelFlags, payload []byte) {
	ks.handlersMu.RLock()
	handler, ok := ks.handlers[channel]
	ks.handlersMu.RUnlock()

	if !ok {
		ks.logger.Trace("KCP: no handler for channel %q, dropping %d bytes", channel, len(payload))
		return
	}
	handler(sessionID, payload)
}

func (ks *KCPServer) dropSession(sessionID string, conn *kcp.UDPSession, err error) {
	ks.sessionsMu.Lock()
	delete(ks.sessions, sessionID)
	ks.sessionsMu.Unlock()

	_ = conn.Close()

	if err != nil && err != io.EOF {
		ks.logger.Warn("KCP session closed: id=%s error=%v", sessionID, err)
	} else {
		ks.logger.Info("KCP session closed: id=%s", sessionID)
	}
	if ks.onDisconnect != nil {
		ks.onDisconnect(sessionID, err)
	}
}

// Send отправляет сообщение в канал указанной сессии
func (ks *KCPServer) Send(channel string, target string, payload []byte, flags ChannelFlags) error {
	ks.sessionsMu.RLock()
	conn, ok := ks.sessions[target]
	ks.sessionsMu.RUnlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrTargetNotFound, target)
	}

	frame := buildFrame(channel, payload, flags, ks.compressor)
	conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	if _, err := conn.Write(frame); err != nil {
		return fmt.Errorf("kcp send to %s: %w", target, err)
	}
	return nil
}

// RegisterHandler назначает обработчик входящих сообщений канала
func (ks *KCPServer) RegisterHandler(channel string, h Handler) {
	ks.handlersMu.Lock()
	defer ks.handlersMu.Unlock()
	ks.handlers[channel] = h
}

// UnregisterHandler снимает обработчик канала
func (ks *KCPServer) UnregisterHandler(channel string) {
	ks.handlersMu.Lock()
	defer ks.handlersMu.Unlock()
	delete(ks.handlers, channel)
}

// Close закрывает слушатель и все сессии
func (ks *KCPServer) Close() error {
	ks.cancel()
	err := ks.listener.Close()

	ks.sessionsMu.Lock()
	for id, conn := range ks.sessions {
		_ = conn.Close()
		delete(ks.sessions, id)
	}
	ks.sessionsMu.Unlock()

	ks.wg.Wait()
	ks.compressor.Close()
	ks.decompressor.Close()
	return err
}

// buildFrame собирает кадр; при FlagCompressed полезная нагрузка сжимается zstd
func buildFrame(channel string, payload []byte, flags ChannelFlags, compressor *zstd.Encoder) []byte {
	if flags&FlagCompressed != 0 && compressor != nil {
		payload = compressor.EncodeAll(payload, nil)
	}

	bodyLen := 1 + 1 + len(channel) + len(payload)
	frame := make([]byte, 0, 4+bodyLen)
	frame = binary.BigEndian.AppendUint32(frame, uint32(bodyLen))
	frame = append(frame, byte(flags), byte(len(channel)))
	frame = append(frame, channel...)
	frame = append(frame, payload...)
	return frame
}

// readFrame читает один кадр из потока
func readFrame(r io.Reader, decompressor *zstd.Decoder) (channel string, flags ChannelFlags, payload []byte, err error) {
	var header [4]byte
	if _, err = io.ReadFull(r, header[:]); err != nil {
		return "", 0, nil, err
	}

	bodyLen := binary.BigEndian.Uint32(header[:])
	if bodyLen < 2 || bodyLen > maxFrameSize {
		return "", 0, nil, fmt.Errorf("bad frame length %d", bodyLen)
	}

	body := make([]byte, bodyLen)
	if _, err = io.ReadFull(r, body); err != nil {
		return "", 0, nil, err
	}

	flags = ChannelFlags(body[0])
	chanLen := int(body[1])
	if 2+chanLen > len(body) {
		return "", 0, nil, fmt.Errorf("bad channel length %d", chanLen)
	}

	channel = string(body[2 : 2+chanLen])
	payload = body[2+chanLen:]

	if flags&FlagCompressed != 0 && decompressor != nil {
		payload, err = decompressor.DecodeAll(payload, nil)
		if err != nil {
			return "", 0, nil, fmt.Errorf("zstd decode: %w", err)
		}
	}
	return channel, flags, payload, nil
}
