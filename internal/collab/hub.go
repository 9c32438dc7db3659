package collab

import (
	"context"

	"go.uber.org/atomic"
	"go.uber.org/zap"

	network "github.com/lk2023060901/coedit-go/internal/network"
	"github.com/lk2023060901/coedit-go/internal/network/acceptor"
	"github.com/lk2023060901/coedit-go/internal/network/serializer"
	"github.com/lk2023060901/coedit-go/internal/network/session"
	"github.com/lk2023060901/coedit-go/internal/protocol"
	"github.com/lk2023060901/coedit-go/pkg/log"
	"github.com/lk2023060901/coedit-go/pkg/metrics"
	"github.com/lk2023060901/coedit-go/pkg/util/merr"
)

const (
	hubRole             = "collab"
	defaultEventBacklog = 1024
)

// event 为 Hub 事件循环处理的事件，apply 在事件循环协程中执行。
type event interface {
	apply(h *Hub)
}

type registerEvent struct {
	sess session.Session
	done chan struct{}
}

type updateEvent struct {
	sess   session.Session
	update protocol.Update
}

type unregisterEvent struct {
	sess session.Session
	done chan struct{}
}

// Hub 串行处理所有会话事件，是 Registry 的唯一访问者。
//
// 每个事件（注册、更新、断开）在事件循环中一次性处理完毕，
// 因此 Apply 与随后的广播相对其它消息是原子的，Registry 无需加锁。
// Hub 实现了 acceptor.Handler，可直接交给 WSAcceptor 使用。
type Hub struct {
	log.Binder

	reg        *Registry
	serializer serializer.Serializer

	// participants 为 session ID -> participant ID，仅由事件循环访问。
	participants map[uint64]uint64

	events chan event
	done   chan struct{}
	ctx    context.Context

	online atomic.Int64
}

// 确保 Hub 实现了 acceptor.Handler 接口。
var _ acceptor.Handler = (*Hub)(nil)

// HubOption 用于定制 Hub。
type HubOption func(*Hub)

// WithSerializer 指定上行消息的解码器，默认使用 sonic JSON。
func WithSerializer(s serializer.Serializer) HubOption {
	return func(h *Hub) {
		if s != nil {
			h.serializer = s
		}
	}
}

// WithRegistry 使用外部创建的 Registry，便于测试注入颜色来源。
func WithRegistry(reg *Registry) HubOption {
	return func(h *Hub) {
		if reg != nil {
			h.reg = reg
		}
	}
}

// WithLogger 指定 Hub 使用的 Logger，事件处理中的上下文日志也基于它输出。
func WithLogger(logger *log.MLogger) HubOption {
	return func(h *Hub) {
		if logger != nil {
			h.SetLogger(logger)
		}
	}
}

// NewHub 创建 Hub，需调用 Run 启动事件循环。
func NewHub(opts ...HubOption) *Hub {
	h := &Hub{
		reg:          NewRegistry(),
		serializer:   serializer.JSONSerializer{},
		participants: make(map[uint64]uint64),
		events:       make(chan event, defaultEventBacklog),
		done:         make(chan struct{}),
		ctx:          context.Background(),
	}
	h.SetLogger(log.With(log.FieldModule(hubRole)))
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Run 运行事件循环，直到 ctx 结束。Run 只能调用一次。
func (h *Hub) Run(ctx context.Context) error {
	h.ctx = log.WithCtxLogger(ctx, h.Logger())
	defer close(h.done)

	h.Logger().Info("collab hub started")
	for {
		select {
		case <-ctx.Done():
			h.Logger().Info("collab hub stopped", zap.Int("participants", h.reg.Len()))
			return nil
		case ev := <-h.events:
			ev.apply(h)
		}
	}
}

// Online 返回当前在线参与者数量，可在任意协程调用。
func (h *Hub) Online() int {
	return int(h.online.Load())
}

// post 将事件投递到事件循环；事件循环已退出时返回 false。
func (h *Hub) post(ev event) bool {
	// 已退出时不再入队，即使缓冲区仍有空位。
	select {
	case <-h.done:
		return false
	default:
	}
	select {
	case h.events <- ev:
		return true
	case <-h.done:
		return false
	}
}

// wait 等待事件处理完成；事件循环已退出时立即返回。
func (h *Hub) wait(done <-chan struct{}) {
	select {
	case <-done:
	case <-h.done:
	}
}

// OnConnected 注册参与者并下发初始快照，返回时注册已完成。
func (h *Hub) OnConnected(sess session.Session) {
	ev := registerEvent{sess: sess, done: make(chan struct{})}
	if h.post(ev) {
		h.wait(ev.done)
	}
}

// OnMessage 解码一条上行消息并交给事件循环处理。
//
// 无法解析或缺少 id 的消息直接丢弃，不会关闭连接。
func (h *Hub) OnMessage(sess session.Session, payload []byte) {
	var update protocol.Update
	if err := h.serializer.Unmarshal(payload, &update); err != nil {
		h.rejectMalformed(sess, merr.WrapErrMalformedMessage(err))
		return
	}
	if err := update.Validate(); err != nil {
		h.rejectMalformed(sess, err)
		return
	}
	h.post(updateEvent{sess: sess, update: update})
}

// OnClosed 同步移除参与者：返回时该参与者已不会再出现在任何广播中。
func (h *Hub) OnClosed(sess session.Session, err error) {
	if err != nil {
		h.Logger().Debug("session closed with error", log.FieldSession(sess.ID()), zap.Error(err))
	}
	ev := unregisterEvent{sess: sess, done: make(chan struct{})}
	if h.post(ev) {
		h.wait(ev.done)
	}
}

// OnError 记录传输层错误。
func (h *Hub) OnError(sess session.Session, stage network.Stage, err error) {
	fields := []zap.Field{zap.String("stage", string(stage)), zap.Error(err)}
	if sess != nil {
		fields = append(fields, log.FieldSession(sess.ID()))
	}
	h.Logger().RatedWarn(1, "transport error", fields...)
}

func (h *Hub) rejectMalformed(sess session.Session, err error) {
	metrics.UpdatesTotal.WithLabelValues(metrics.UpdateMalformed).Inc()
	h.Logger().RatedWarn(1, "drop malformed update",
		log.FieldSession(sess.ID()),
		zap.Error(err))
}

func (h *Hub) updateGauges() {
	h.online.Store(int64(h.reg.Len()))
	metrics.ParticipantsOnline.Set(float64(h.reg.Len()))
	metrics.DocumentChars.Set(float64(len([]rune(h.reg.Text()))))
}

func (e registerEvent) apply(h *Hub) {
	defer close(e.done)

	p := h.reg.Register(e.sess)
	h.participants[e.sess.ID()] = p.ID
	h.updateGauges()

	ctx := log.WithFields(h.ctx, log.FieldParticipant(p.ID), log.FieldSession(e.sess.ID()))
	log.Ctx(ctx).Info("participant registered", zap.String("color", p.Color))

	snapshot, _ := h.reg.SnapshotFor(p.ID)
	if err := e.sess.Send(snapshot); err != nil {
		log.Ctx(ctx).Warn("send initial snapshot failed", zap.Error(err))
	}
	Deliver(ctx, ComputeFanout(h.reg, p.ID), LookupFrom(h.reg))
}

func (e updateEvent) apply(h *Hub) {
	id := *e.update.ID
	ctx, span := log.NewIntentContext(h.ctx, hubRole, "apply-update")
	defer span.End()
	ctx = log.WithFields(ctx, log.FieldParticipant(id), log.FieldSession(e.sess.ID()))

	if owner, ok := h.participants[e.sess.ID()]; ok && owner != id {
		log.Ctx(ctx).Debug("update addresses another participant", zap.Uint64("owner", owner))
	}

	if !h.reg.Apply(id, e.update) {
		metrics.UpdatesTotal.WithLabelValues(metrics.UpdateUnknownParticipant).Inc()
		log.Ctx(ctx).Debug("ignore update for unknown participant",
			zap.Error(merr.WrapErrParticipantNotFound(id)))
		return
	}
	metrics.UpdatesTotal.WithLabelValues(metrics.UpdateApplied).Inc()
	h.updateGauges()

	report := Deliver(ctx, ComputeFanout(h.reg, id), LookupFrom(h.reg))
	log.Ctx(ctx).Debug("update applied",
		zap.Int("sent", report.Sent),
		zap.Int("failed", len(report.Failed)))
}

func (e unregisterEvent) apply(h *Hub) {
	defer close(e.done)

	id, ok := h.participants[e.sess.ID()]
	if !ok {
		return
	}
	delete(h.participants, e.sess.ID())
	if !h.reg.Unregister(id) {
		return
	}
	h.updateGauges()

	ctx := log.WithFields(h.ctx, log.FieldParticipant(id), log.FieldSession(e.sess.ID()))
	log.Ctx(ctx).Info("participant unregistered")
	Deliver(ctx, ComputeFanout(h.reg, id), LookupFrom(h.reg))
}
