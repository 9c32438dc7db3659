package connector

import (
	"context"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/gorilla/websocket"

	network "github.com/lk2023060901/coedit-go/internal/network"
	"github.com/lk2023060901/coedit-go/internal/network/serializer"
	"github.com/lk2023060901/coedit-go/pkg/util/conc"
	"github.com/lk2023060901/coedit-go/pkg/util/merr"
	"github.com/lk2023060901/coedit-go/pkg/util/retry"
)

// Config 描述客户端连接的基础配置。
type Config struct {
	SendQueueSize int

	ReadTimeout  time.Duration
	WriteTimeout time.Duration

	// DialAttempts 为建立连接的最大尝试次数，DialBackoff 为首次重试前的等待时间。
	DialAttempts uint
	DialBackoff  time.Duration

	// Serializer 为上行消息使用的序列化器，为空时使用 sonic JSON。
	Serializer serializer.Serializer
}

func defaultConfig() Config {
	return Config{
		SendQueueSize: 256,
		DialAttempts:  5,
		DialBackoff:   200 * time.Millisecond,
	}
}

// ClientConn 抽象了客户端侧的一条连接。
//
// 注意：客户端连接不包含会话 ID 概念，参与者 ID 由服务端在首个快照中下发。
type ClientConn interface {
	Context() context.Context
	RemoteAddr() net.Addr
	LocalAddr() net.Addr

	// Send 序列化 msg 并投递到发送队列，队列满时阻塞直到连接关闭。
	Send(msg any) error

	Close() error
}

// ConnectorHandler 描述客户端在各阶段的回调能力。
//
// OnMessage 在接收协程中串行调用。
type ConnectorHandler interface {
	OnConnected(conn ClientConn)
	OnMessage(conn ClientConn, payload []byte)
	OnClosed(conn ClientConn, err error)
	OnError(conn ClientConn, stage network.Stage, err error)
}

// Connector 抽象了客户端的拨号器。
type Connector interface {
	Dial(ctx context.Context, urlStr string, h ConnectorHandler, header http.Header) (ClientConn, error)
}

// wsConnector 是基于 gorilla/websocket 的默认 Connector 实现。
type wsConnector struct {
	cfg    Config
	dialer *websocket.Dialer
}

// NewWSConnector 创建一个基于 WebSocket 的 Connector。
func NewWSConnector(cfg Config) Connector {
	def := defaultConfig()
	if cfg.SendQueueSize <= 0 {
		cfg.SendQueueSize = def.SendQueueSize
	}
	if cfg.DialAttempts == 0 {
		cfg.DialAttempts = def.DialAttempts
	}
	if cfg.DialBackoff <= 0 {
		cfg.DialBackoff = def.DialBackoff
	}
	if cfg.Serializer == nil {
		cfg.Serializer = serializer.JSONSerializer{}
	}
	return &wsConnector{cfg: cfg, dialer: websocket.DefaultDialer}
}

// Dial 按配置的次数与退避间隔尝试建立连接。
//
// 握手被服务端明确拒绝（HTTP 4xx）时不再重试。
func (c *wsConnector) Dial(ctx context.Context, urlStr string, h ConnectorHandler, header http.Header) (ClientConn, error) {
	if h == nil {
		return nil, merr.WrapErrParameterMissing("handler")
	}

	var conn *websocket.Conn
	err := retry.Do(ctx, func() error {
		ws, resp, err := c.dialer.DialContext(ctx, urlStr, header)
		if err != nil {
			if resp != nil && resp.StatusCode >= 400 && resp.StatusCode < 500 {
				return retry.Unrecoverable(merr.WrapErrDialFailed(urlStr, err))
			}
			return merr.WrapErrDialFailed(urlStr, err)
		}
		conn = ws
		return nil
	}, retry.Attempts(c.cfg.DialAttempts), retry.Sleep(c.cfg.DialBackoff))
	if err != nil {
		h.OnError(nil, network.StageHandshake, err)
		return nil, err
	}

	connCtx, cancel := context.WithCancel(ctx)
	cc := newWSClientConn(connCtx, cancel, conn, c.cfg, h)
	h.OnConnected(cc)
	cc.start()
	return cc, nil
}

// wsClientConn 是基于 WebSocket 的 ClientConn 默认实现。
type wsClientConn struct {
	conn *websocket.Conn

	ctx    context.Context
	cancel context.CancelFunc

	cfg Config
	h   ConnectorHandler

	remoteAddr net.Addr
	localAddr  net.Addr

	sendChan chan []byte

	closeOnce sync.Once
}

func newWSClientConn(
	ctx context.Context,
	cancel context.CancelFunc,
	conn *websocket.Conn,
	cfg Config,
	h ConnectorHandler,
) *wsClientConn {
	return &wsClientConn{
		conn:       conn,
		ctx:        ctx,
		cancel:     cancel,
		cfg:        cfg,
		h:          h,
		remoteAddr: conn.RemoteAddr(),
		localAddr:  conn.LocalAddr(),
		sendChan:   make(chan []byte, cfg.SendQueueSize),
	}
}

// start 使用 conc.Go 启动收发协程，避免直接使用原生 go 关键字。
func (c *wsClientConn) start() {
	_ = conc.Go(func() (struct{}, error) {
		c.recvLoop()
		return struct{}{}, nil
	})
	_ = conc.Go(func() (struct{}, error) {
		c.sendLoop()
		return struct{}{}, nil
	})
}

// ClientConn 接口实现。

func (c *wsClientConn) Context() context.Context { return c.ctx }
func (c *wsClientConn) RemoteAddr() net.Addr     { return c.remoteAddr }
func (c *wsClientConn) LocalAddr() net.Addr      { return c.localAddr }
func (c *wsClientConn) Close() error             { return c.close(nil) }

func (c *wsClientConn) Send(msg any) error {
	data, err := c.cfg.Serializer.Marshal(msg)
	if err != nil {
		c.h.OnError(c, network.StageEncode, err)
		return errors.Wrap(network.ErrEncodeFailed, err.Error())
	}

	select {
	case <-c.ctx.Done():
		return merr.WrapErrSessionClosed(0, "client connection closed")
	case c.sendChan <- data:
		return nil
	}
}

func (c *wsClientConn) writeRaw(data []byte) error {
	if c.cfg.WriteTimeout > 0 {
		if err := c.conn.SetWriteDeadline(time.Now().Add(c.cfg.WriteTimeout)); err != nil {
			c.h.OnError(c, network.StageSend, err)
			c.close(network.ErrSendFailed)
			return network.ErrSendFailed
		}
	}
	if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		c.h.OnError(c, network.StageSend, err)
		c.close(err)
		return network.ErrSendFailed
	}
	return nil
}

func (c *wsClientConn) close(cause error) error {
	var err error
	c.closeOnce.Do(func() {
		if c.cancel != nil {
			c.cancel()
		}
		if c.conn != nil {
			deadline := time.Now().Add(time.Second)
			_ = c.conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadline)
			if cerr := c.conn.Close(); cerr != nil && err == nil {
				err = cerr
			}
		}
		c.h.OnClosed(c, cause)
	})
	return err
}

// recvLoop 持续读取 WebSocket 文本帧并回调 OnMessage。
func (c *wsClientConn) recvLoop() {
	for {
		if c.cfg.ReadTimeout > 0 {
			if err := c.conn.SetReadDeadline(time.Now().Add(c.cfg.ReadTimeout)); err != nil {
				c.h.OnError(c, network.StageRecvRaw, err)
				c.close(network.ErrRecvFailed)
				return
			}
		}

		msgType, data, err := c.conn.ReadMessage()
		if err != nil {
			if c.ctx.Err() != nil || websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				c.close(nil)
				return
			}
			c.h.OnError(c, network.StageRecvRaw, err)
			c.close(errors.Wrap(network.ErrRecvFailed, err.Error()))
			return
		}
		if msgType != websocket.TextMessage {
			continue
		}

		c.h.OnMessage(c, data)
	}
}

// sendLoop 从 sendChan 读取已编码的消息并写入 WebSocket。
func (c *wsClientConn) sendLoop() {
	for {
		select {
		case <-c.ctx.Done():
			return
		case data := <-c.sendChan:
			if err := c.writeRaw(data); err != nil {
				return
			}
		}
	}
}
