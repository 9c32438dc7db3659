package session

import "go.uber.org/atomic"

// IDGenerator 为会话分配进程内唯一、严格递增的 ID，从 1 开始。
type IDGenerator struct {
	last atomic.Uint64
}

// Next 返回下一个 ID。
func (g *IDGenerator) Next() uint64 {
	return g.last.Inc()
}
