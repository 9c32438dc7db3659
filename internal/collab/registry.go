// Package collab 实现服务端的参与者注册表、广播分发与事件循环。
package collab

import (
	"fmt"
	"math/rand/v2"

	"github.com/samber/lo"

	"github.com/lk2023060901/coedit-go/internal/network/session"
	"github.com/lk2023060901/coedit-go/internal/protocol"
)

// Participant 为注册表中的一条记录。
//
// Session 仅用于投递快照，永远不会出现在线上消息中。
type Participant struct {
	ID            uint64
	Color         string
	Name          string
	CaretPosition int

	Session session.Session
}

// Public 返回参与者对外可见的字段。
func (p *Participant) Public() protocol.Participant {
	return protocol.Participant{
		ID:            p.ID,
		Color:         p.Color,
		Name:          p.Name,
		CaretPosition: p.CaretPosition,
	}
}

// ColorSource 返回一个 24 位颜色值，高 8 位会被忽略。
type ColorSource func() uint32

func randomColor() uint32 {
	return rand.Uint32() & 0xFFFFFF
}

// RegistryOption 用于定制 Registry。
type RegistryOption func(*Registry)

// WithColorSource 替换默认的随机颜色来源。
func WithColorSource(src ColorSource) RegistryOption {
	return func(r *Registry) {
		if src != nil {
			r.color = src
		}
	}
}

// Registry 保存所有在线参与者与唯一的共享文档。
//
// Registry 不做任何同步，只能由单个协程（Hub 事件循环）访问。
// 参与者按注册顺序保存，快照中的 others 顺序与之一致。
type Registry struct {
	lastID uint64
	order  []uint64
	byID   map[uint64]*Participant
	text   string
	color  ColorSource
}

// NewRegistry 创建一个空注册表，文档初始为空字符串。
func NewRegistry(opts ...RegistryOption) *Registry {
	r := &Registry{
		byID:  make(map[uint64]*Participant),
		color: randomColor,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Register 为新连接分配下一个 ID、随机颜色与默认名称，光标位于 0。
//
// ID 严格递增且从不复用，因此不会与任何在线参与者冲突。
func (r *Registry) Register(conn session.Session) *Participant {
	r.lastID++
	p := &Participant{
		ID:      r.lastID,
		Color:   fmt.Sprintf("%06x", r.color()&0xFFFFFF),
		Name:    fmt.Sprintf("Unknown %d", r.lastID),
		Session: conn,
	}
	r.byID[p.ID] = p
	r.order = append(r.order, p.ID)
	return p
}

// Apply 将部分更新写入指定参与者与共享文档。
//
// 规则：
//   - Text 存在时整体替换文档；
//   - Name/CaretPosition 存在时覆盖对应字段，缺省字段保持不变；
//   - 负数光标位置按 0 处理；
//   - id 未注册时不做任何修改并返回 false。
func (r *Registry) Apply(id uint64, patch protocol.Update) bool {
	p, ok := r.byID[id]
	if !ok {
		return false
	}
	if patch.Text != nil {
		r.text = *patch.Text
	}
	if patch.Name != nil {
		p.Name = *patch.Name
	}
	if patch.CaretPosition != nil {
		p.CaretPosition = max(*patch.CaretPosition, 0)
	}
	return true
}

// Unregister 移除参与者，重复调用是安全的。返回值表示本次是否真正删除了记录。
func (r *Registry) Unregister(id uint64) bool {
	if _, ok := r.byID[id]; !ok {
		return false
	}
	delete(r.byID, id)
	r.order = lo.Without(r.order, id)
	return true
}

// SnapshotFor 构造发给指定参与者的快照，others 按注册顺序排列且不含自己。
func (r *Registry) SnapshotFor(id uint64) (protocol.Snapshot, bool) {
	p, ok := r.byID[id]
	if !ok {
		return protocol.Snapshot{}, false
	}
	others := make([]protocol.Participant, 0, len(r.order))
	for _, other := range r.order {
		if other == id {
			continue
		}
		others = append(others, r.byID[other].Public())
	}
	return protocol.Snapshot{
		User:   p.Public(),
		Others: others,
		Text:   r.text,
	}, true
}

// Participant 按 ID 查找参与者。
func (r *Registry) Participant(id uint64) (*Participant, bool) {
	p, ok := r.byID[id]
	return p, ok
}

// IDs 返回按注册顺序排列的在线参与者 ID。
func (r *Registry) IDs() []uint64 {
	return append([]uint64(nil), r.order...)
}

// Len 返回在线参与者数量。
func (r *Registry) Len() int {
	return len(r.order)
}

// Text 返回当前共享文档。
func (r *Registry) Text() string {
	return r.text
}
