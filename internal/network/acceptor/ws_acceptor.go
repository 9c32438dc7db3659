package acceptor

import (
	"context"
	"net"
	"net/http"
	"sync"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	network "github.com/lk2023060901/coedit-go/internal/network"
	"github.com/lk2023060901/coedit-go/internal/network/session"
	"github.com/lk2023060901/coedit-go/pkg/log"
	"github.com/lk2023060901/coedit-go/pkg/util/conc"
	"github.com/lk2023060901/coedit-go/pkg/util/merr"
)

// WSAcceptor 是 Acceptor 接口基于 gorilla/websocket 的实现。
//
// 设计目标：
//   - 对外只暴露 Acceptor 接口和 Handler 回调，不绑定具体业务逻辑；
//   - 每个连接的读循环运行在固定容量的 ants 协程池中，池满即拒绝，从而限制在线连接数；
//   - 每个连接在单个 worker 中串行读取并回调 Handler，保证同一 Session 上 Handler 串行执行。
type WSAcceptor struct {
	cfg      Config
	upgrader *websocket.Upgrader
	handler  Handler

	ids      session.IDGenerator
	sessions session.SessionManager
	workers  *conc.Pool[struct{}]

	ctx    context.Context
	cancel context.CancelFunc

	closeOnce sync.Once
}

// 确保 WSAcceptor 实现了 Acceptor 接口。
var _ Acceptor = (*WSAcceptor)(nil)

// NewWSAcceptor 创建一个 WebSocket 接入器。
//
// 参数：
//   - cfg：接入配置，零值字段使用默认值；
//   - h  ：业务回调，不能为空。
func NewWSAcceptor(cfg Config, h Handler) (*WSAcceptor, error) {
	if h == nil {
		return nil, merr.WrapErrParameterMissing("handler")
	}

	def := defaultConfig()
	if cfg.MaxConnections <= 0 {
		cfg.MaxConnections = def.MaxConnections
	}
	if cfg.SendQueueSize <= 0 {
		cfg.SendQueueSize = def.SendQueueSize
	}
	if cfg.WriteTimeout < 0 {
		return nil, merr.WrapErrParameterInvalidRange(0, int64(def.WriteTimeout), int64(cfg.WriteTimeout), "write timeout")
	}

	upgrader := cfg.Upgrader
	if upgrader == nil {
		upgrader = &websocket.Upgrader{
			CheckOrigin: func(*http.Request) bool { return true },
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &WSAcceptor{
		cfg:      cfg,
		upgrader: upgrader,
		handler:  h,
		sessions: session.NewBaseSessionManager(),
		workers: conc.NewPool[struct{}](cfg.MaxConnections,
			conc.WithNonBlocking(true),
			conc.WithConcealPanic(true),
		),
		ctx:    ctx,
		cancel: cancel,
	}, nil
}

// ServeHTTP 完成 WebSocket 升级，并把连接交给协程池中的 worker 处理。
func (a *WSAcceptor) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if a.ctx.Err() != nil {
		http.Error(w, "acceptor closed", http.StatusServiceUnavailable)
		return
	}

	conn, err := a.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade 失败时已向客户端写回 HTTP 错误。
		a.handler.OnError(nil, network.StageHandshake, merr.WrapErrUpgradeFailed(err))
		return
	}

	sess := session.NewWSSession(a.ctx, a.ids.Next(), conn, session.Config{
		SendQueueSize: a.cfg.SendQueueSize,
		WriteTimeout:  a.cfg.WriteTimeout,
		Serializer:    a.cfg.Serializer,
	})

	future := a.workers.Submit(func() (struct{}, error) {
		a.serve(sess, conn)
		return struct{}{}, nil
	})
	// 非阻塞池在满载时会同步返回错误。
	select {
	case <-future.Inner():
		if err := future.Err(); err != nil {
			a.reject(sess, err)
		}
	default:
	}
}

// Close 实现 Acceptor.Close。
func (a *WSAcceptor) Close() error {
	var err error
	a.closeOnce.Do(func() {
		a.cancel()
		err = a.sessions.CloseAll()
		a.workers.Release()
	})
	return err
}

// Sessions 实现 Acceptor.Sessions。
func (a *WSAcceptor) Sessions() []session.Session {
	out := make([]session.Session, 0, a.sessions.Count())
	a.sessions.Range(func(sess session.Session) bool {
		out = append(out, sess)
		return true
	})
	return out
}

func (a *WSAcceptor) reject(sess *session.WSSession, cause error) {
	err := merr.WrapErrConnectionLimit(a.cfg.MaxConnections, cause.Error())
	a.handler.OnError(sess, network.StageHandshake, err)
	_ = sess.CloseWithCode(websocket.CloseTryAgainLater, "too many connections")
}

// serve 处理单个连接的生命周期。
//
// 流程：
//  1. 将 Session 注册到 SessionManager；
//  2. 调用 Handler.OnConnected；
//  3. 循环读取数据帧并顺序回调 Handler.OnMessage；
//  4. 读失败或对端关闭后，移除 Session、回调 Handler.OnClosed 并关闭连接。
func (a *WSAcceptor) serve(sess *session.WSSession, conn *websocket.Conn) {
	logger := log.Ctx(sess.Context()).With(
		log.FieldComponent("acceptor"),
		zap.String("traceID", uuid.NewString()),
		zap.Stringer("remote", addrStringer{sess.RemoteAddr()}),
	)

	if err := a.sessions.Register(sess); err != nil {
		a.handler.OnError(sess, network.StageHandshake, err)
		_ = sess.Close()
		return
	}
	logger.Debug("session connected")

	var cause error
	defer func() {
		_ = a.sessions.Unregister(sess.ID())
		a.handler.OnClosed(sess, cause)
		_ = sess.Close()
		logger.Debug("session closed", zap.Error(cause))
	}()

	a.handler.OnConnected(sess)

	if a.cfg.ReadLimit > 0 {
		conn.SetReadLimit(a.cfg.ReadLimit)
	}
	cause = a.readLoop(sess, conn)
}

// readLoop 持续读取数据帧并回调 Handler.OnMessage。
//
// 返回值：
//   - nil 表示正常结束（对端正常关闭或本端主动关闭）；
//   - 非 nil error 表示读过程中发生的异常。
func (a *WSAcceptor) readLoop(sess session.Session, conn *websocket.Conn) error {
	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			if isNormalClose(err) || sess.Context().Err() != nil {
				return nil
			}
			a.handler.OnError(sess, network.StageRecvRaw, err)
			return err
		}
		if msgType != websocket.TextMessage && msgType != websocket.BinaryMessage {
			continue
		}
		a.handler.OnMessage(sess, data)
	}
}

func isNormalClose(err error) bool {
	if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived) {
		return true
	}
	return errors.Is(err, net.ErrClosed)
}

type addrStringer struct {
	addr net.Addr
}

func (s addrStringer) String() string {
	if s.addr == nil {
		return ""
	}
	return s.addr.String()
}
