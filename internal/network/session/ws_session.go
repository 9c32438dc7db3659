package session

import (
	"context"
	"net"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	network "github.com/lk2023060901/coedit-go/internal/network"
	"github.com/lk2023060901/coedit-go/internal/network/serializer"
	"github.com/lk2023060901/coedit-go/pkg/log"
	"github.com/lk2023060901/coedit-go/pkg/util/conc"
	"github.com/lk2023060901/coedit-go/pkg/util/merr"
)

// Config 描述单个会话的发送参数。
type Config struct {
	// SendQueueSize 为每个会话的发送队列容量。
	SendQueueSize int
	// WriteTimeout 为单次写出的超时时间，0 表示不设置 deadline。
	WriteTimeout time.Duration
	// Serializer 为消息编码使用的序列化器，为空时使用 sonic JSON。
	Serializer serializer.Serializer
}

const defaultSendQueueSize = 256

func (c Config) withDefaults() Config {
	if c.SendQueueSize <= 0 {
		c.SendQueueSize = defaultSendQueueSize
	}
	if c.Serializer == nil {
		c.Serializer = serializer.JSONSerializer{}
	}
	return c
}

// WSSession 是基于 gorilla/websocket 的 Session 实现。
//
// 设计目标：
//   - Send 只做序列化与非阻塞投递，保证调用方（例如 Hub 事件循环）永远不会被慢连接拖住；
//   - 由独立的发送协程串行写出文本帧，满足 gorilla/websocket “同一时刻只有一个写者”的要求；
//   - Close 幂等，关闭后 Context 取消，发送协程随之退出。
type WSSession struct {
	id uint64

	ctx    context.Context
	cancel context.CancelFunc

	conn *websocket.Conn
	cfg  Config

	remoteAddr net.Addr
	localAddr  net.Addr

	// sendQueue 为已编码好的待发送帧。
	sendQueue chan []byte

	closeOnce sync.Once
}

// 确保 WSSession 实现了 Session 接口。
var _ Session = (*WSSession)(nil)

// NewWSSession 创建一个 WebSocket 会话并启动发送协程。
//
// 参数：
//   - parent：会话所属的上层上下文；若为 nil，则使用 context.Background()；
//   - id    ：会话 ID，由 IDGenerator 分配；
//   - conn  ：已完成握手的 WebSocket 连接。
func NewWSSession(parent context.Context, id uint64, conn *websocket.Conn, cfg Config) *WSSession {
	s := newWSSession(parent, id, conn, cfg)

	// 使用 conc.Go 启动发送协程，避免直接使用原生 go 关键字。
	_ = conc.Go(func() (struct{}, error) {
		s.sendLoop()
		return struct{}{}, nil
	})
	return s
}

func newWSSession(parent context.Context, id uint64, conn *websocket.Conn, cfg Config) *WSSession {
	if parent == nil {
		parent = context.Background()
	}
	cfg = cfg.withDefaults()

	ctx, cancel := context.WithCancel(parent)
	ctx = log.WithFields(ctx, log.FieldSession(id))

	s := &WSSession{
		id:        id,
		ctx:       ctx,
		cancel:    cancel,
		conn:      conn,
		cfg:       cfg,
		sendQueue: make(chan []byte, cfg.SendQueueSize),
	}
	if conn != nil {
		s.remoteAddr = conn.RemoteAddr()
		s.localAddr = conn.LocalAddr()
	}
	return s
}

// ID 实现 Session.ID。
func (s *WSSession) ID() uint64 {
	return s.id
}

// Context 实现 Session.Context。
func (s *WSSession) Context() context.Context {
	return s.ctx
}

// RemoteAddr 实现 Session.RemoteAddr。
func (s *WSSession) RemoteAddr() net.Addr {
	return s.remoteAddr
}

// LocalAddr 实现 Session.LocalAddr。
func (s *WSSession) LocalAddr() net.Addr {
	return s.localAddr
}

// Send 实现 Session.Send。
func (s *WSSession) Send(msg any) error {
	if s.ctx.Err() != nil {
		return merr.WrapErrSessionClosed(s.id)
	}

	data, err := s.cfg.Serializer.Marshal(msg)
	if err != nil {
		return errors.Wrapf(network.ErrEncodeFailed, "session %d: %v", s.id, err)
	}

	select {
	case <-s.ctx.Done():
		return merr.WrapErrSessionClosed(s.id)
	case s.sendQueue <- data:
		return nil
	default:
		return merr.WrapErrSendQueueFull(s.id, cap(s.sendQueue))
	}
}

// Close 实现 Session.Close。
func (s *WSSession) Close() error {
	return s.CloseWithCode(websocket.CloseNormalClosure, "")
}

// CloseWithCode 发送关闭帧后关闭会话，code 取值见 RFC 6455。
func (s *WSSession) CloseWithCode(code int, reason string) error {
	var err error
	s.closeOnce.Do(func() {
		// 先取消上下文，再关闭连接。
		s.cancel()
		if s.conn == nil {
			return
		}
		deadline := time.Now().Add(time.Second)
		_ = s.conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason), deadline)
		err = s.conn.Close()
	})
	return err
}

// sendLoop 为每个会话启动的专职发送协程。
//
// 行为：
//   - 从 sendQueue 中按顺序取出已编码的帧并以文本帧写出；
//   - 写出失败视为会话异常，关闭会话以触发读协程退出和上层清理。
func (s *WSSession) sendLoop() {
	logger := log.Ctx(s.ctx)
	for {
		select {
		case <-s.ctx.Done():
			return
		case data := <-s.sendQueue:
			if err := s.write(data); err != nil {
				logger.Warn("session write failed, closing", zap.Error(err))
				_ = s.Close()
				return
			}
		}
	}
}

func (s *WSSession) write(data []byte) error {
	if s.cfg.WriteTimeout > 0 {
		if err := s.conn.SetWriteDeadline(time.Now().Add(s.cfg.WriteTimeout)); err != nil {
			return errors.Wrap(network.ErrSendFailed, err.Error())
		}
	}
	if err := s.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return errors.Wrap(network.ErrSendFailed, err.Error())
	}
	return nil
}
