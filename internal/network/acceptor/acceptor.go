package acceptor

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	network "github.com/lk2023060901/coedit-go/internal/network"
	"github.com/lk2023060901/coedit-go/internal/network/serializer"
	"github.com/lk2023060901/coedit-go/internal/network/session"
)

// Config 描述 Acceptor 在会话层面的配置。
//
// 说明：
//   - MaxConnections 为同时在线的连接上限，超出时以 1013 (Try Again Later) 关闭新连接；
//   - SendQueueSize/WriteTimeout 透传给每个会话；
//   - ReadLimit 为单条消息的最大字节数，0 表示不限制。
type Config struct {
	MaxConnections int
	SendQueueSize  int

	ReadLimit    int64
	WriteTimeout time.Duration

	// Upgrader 允许调用方自定义 gorilla/websocket 的升级行为。
	// 若为 nil，则使用内部默认的 Upgrader（允许任意 Origin）。
	Upgrader *websocket.Upgrader

	// Serializer 为会话下行消息使用的序列化器。
	Serializer serializer.Serializer
}

// 默认配置。
func defaultConfig() Config {
	return Config{
		MaxConnections: 1024,
		SendQueueSize:  256,
		WriteTimeout:   10 * time.Second,
	}
}

// Handler 由框架使用者实现，用于在服务器侧的各个阶段插入自定义逻辑。
//
// 说明：
//   - 同一会话上的 OnConnected/OnMessage/OnClosed 在该会话的读协程中串行调用；
//   - 不同会话的回调可能并发执行，实现方需要自行保证并发安全。
type Handler interface {
	// OnConnected 在握手成功并创建好会话后被调用。
	OnConnected(sess session.Session)

	// OnMessage 在收到一条完整的数据帧后被调用，payload 为帧的原始字节。
	OnMessage(sess session.Session, payload []byte)

	// OnClosed 在会话生命周期结束时被调用。
	//
	// 参数 err 为关闭原因，正常关闭时为 nil。
	OnClosed(sess session.Session, err error)

	// OnError 在会话处理的各个阶段发生错误时被调用。
	//
	// stage 用于标识错误发生的位置，便于监控与排查；握手阶段的错误 sess 为 nil。
	OnError(sess session.Session, stage network.Stage, err error)
}

// Acceptor 抽象了服务器侧的 WebSocket 接入层。
//
// 职责：
//   - 作为 http.Handler 挂载到路由上，处理 WebSocket 升级；
//   - 为每个连接创建 Session，并调用 Handler 的各阶段回调；
//   - 维护当前活跃会话列表，便于运维与监控。
type Acceptor interface {
	http.Handler

	// Close 主动关闭所有会话以及内部资源。
	Close() error

	// Sessions 返回当前活跃会话的快照。
	Sessions() []session.Session
}
