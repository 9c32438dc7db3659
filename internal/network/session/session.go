package session

import (
	"context"
	"net"
)

// Session 抽象了一条网络会话/连接。
//
// 约定：
//   - 每个 Session 对应一条底层 WebSocket 连接。
//   - Session ID 使用 64 位无符号整型，在进程内保持唯一且不复用。
//   - 框架层只关心会话本身，不关心“参与者”等具体业务概念。
type Session interface {
	// ID 返回该会话在进程内的唯一标识。
	//
	// 说明：
	//   - 由接入层在完成握手时通过 IDGenerator 分配；
	//   - 业务层可以通过该 ID 建立 “Session <-> 参与者” 的映射关系。
	ID() uint64

	// Context 返回与该会话关联的上下文。
	//
	// 说明：
	//   - 会话关闭时触发 Context.Done()，可用于级联取消；
	//   - 上下文中携带了带 sessionID 字段的日志器，可通过 log.Ctx 取出。
	Context() context.Context

	// RemoteAddr 返回远端地址（客户端地址）。
	RemoteAddr() net.Addr

	// LocalAddr 返回本端地址。
	LocalAddr() net.Addr

	// Send 将一条业务消息序列化后投递到发送队列。
	//
	// 行为：
	//   - 序列化在调用方协程中完成，失败时返回 network.ErrEncodeFailed；
	//   - 投递不会阻塞：队列已满时返回 merr.ErrSendQueueFull，会话已关闭时返回 merr.ErrSessionClosed；
	//   - 真正的写出由会话内部的发送协程串行完成，避免并发写连接。
	Send(msg any) error

	// Close 主动关闭该会话。
	//
	// 说明：
	//   - 会关闭底层连接，并触发 Context 的取消。
	//   - 多次调用是幂等的。
	Close() error
}
