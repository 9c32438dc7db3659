// Package editor 是客户端的编辑器视图模型：维护共享文本、远端光标标记树与本地光标，
// 并把本地编辑经防抖后发送给服务端。
package editor

import (
	"strings"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"
	"golang.org/x/net/html"

	"github.com/lk2023060901/coedit-go/internal/client/blink"
	"github.com/lk2023060901/coedit-go/internal/client/caret"
	"github.com/lk2023060901/coedit-go/internal/client/marker"
	"github.com/lk2023060901/coedit-go/internal/client/scheduler"
	network "github.com/lk2023060901/coedit-go/internal/network"
	"github.com/lk2023060901/coedit-go/internal/network/connector"
	"github.com/lk2023060901/coedit-go/internal/network/serializer"
	"github.com/lk2023060901/coedit-go/internal/protocol"
	"github.com/lk2023060901/coedit-go/pkg/log"
	"github.com/lk2023060901/coedit-go/pkg/util/merr"
)

const viewRole = "editor"

// Sender 为上行消息的发送方，connector.ClientConn 满足该接口。
type Sender interface {
	Send(msg any) error
}

// Config 描述视图的可调参数，零值字段使用默认值。
type Config struct {
	Debounce      time.Duration
	BlinkInterval time.Duration
	Order         marker.Order
	Clock         clockwork.Clock
	Serializer    serializer.Serializer
	// OnChange 在每次应用快照后调用，调用时不持有视图的锁。
	OnChange func(protocol.Snapshot)
	// Logger 为空时使用带 editor 模块字段的全局 Logger。
	Logger *log.MLogger
}

type textState struct {
	text  string
	caret int
}

// View 持有本地参与者、其他参与者、共享文本、当前标记树与本地光标偏移。
//
// View 实现了 connector.ConnectorHandler：连接建立后以该连接作为 Sender，
// 收到的快照通过 ApplySnapshot 应用。
type View struct {
	log.Binder

	mu sync.Mutex

	injector   *marker.Injector
	blink      *blink.Indicator
	serializer serializer.Serializer
	onChange   func(protocol.Snapshot)

	textSched  *scheduler.Debouncer[textState]
	caretSched *scheduler.Debouncer[int]

	sender Sender
	user   protocol.Participant
	joined bool
	others []protocol.Participant
	text   string
	// caret 为本地光标的字符偏移，sel 为其在当前标记树中的位置。
	caret  int
	sel    caret.Endpoint
	hasSel bool
	closed bool
}

var _ connector.ConnectorHandler = (*View)(nil)

// NewView 创建视图。sender 可以为空，此时在 OnConnected 时绑定。
func NewView(sender Sender, cfg Config) *View {
	clock := cfg.Clock
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if cfg.Serializer == nil {
		cfg.Serializer = serializer.JSONSerializer{}
	}

	v := &View{
		injector:   &marker.Injector{Order: cfg.Order},
		blink:      blink.New(blink.WithClock(clock), blink.WithInterval(cfg.BlinkInterval)),
		serializer: cfg.Serializer,
		onChange:   cfg.OnChange,
		sender:     sender,
	}
	v.textSched = scheduler.New(cfg.Debounce, v.sendText, scheduler.WithClock(clock))
	v.caretSched = scheduler.New(cfg.Debounce, v.sendCaret, scheduler.WithClock(clock))
	if cfg.Logger != nil {
		v.SetLogger(cfg.Logger)
	} else {
		v.SetLogger(log.With(log.FieldModule(viewRole)))
	}
	return v
}

// ApplySnapshot 采用快照中的本地参与者、其他参与者与文本，重新生成标记树，
// 并在新树中重新定位本地光标；定位失败时保留之前的位置。
func (v *View) ApplySnapshot(s protocol.Snapshot) error {
	v.mu.Lock()
	if v.closed {
		v.mu.Unlock()
		return merr.WrapErrSessionClosed(s.User.ID, "view closed")
	}

	root := v.injector.Render(s.Text, s.Others)

	if v.joined && v.user.ID != s.User.ID {
		v.Logger().Debug("participant id changed", log.FieldParticipant(s.User.ID), zap.Uint64("previous", v.user.ID))
	}
	v.user = s.User
	v.joined = true
	v.others = s.Others
	v.text = s.Text
	v.adoptLocked(root)
	remote := len(s.Others)
	onChange := v.onChange
	v.mu.Unlock()

	v.blink.Sync(remote)
	if onChange != nil {
		onChange(s)
	}
	return nil
}

// adoptLocked 替换当前标记树并在其中重新定位本地光标。
func (v *View) adoptLocked(root *html.Node) {
	if ep, ok := caret.ResolvePosition(root, v.caret); ok {
		v.sel = ep
		v.hasSel = true
	}
	v.blink.SetRoot(root)
}

// Edit 处理本地内容编辑：root 为编辑后的标记树，sel 为编辑后的光标位置。
// 文本取自 root（去除光标标记），光标偏移由 sel 测量，随后调度一次文本+光标更新。
func (v *View) Edit(root *html.Node, sel *caret.Endpoint) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.closed || root == nil {
		return
	}

	v.text = caret.Text(root)
	v.caret = caret.MeasureOffset(root, sel)
	if sel != nil {
		v.sel = *sel
		v.hasSel = true
	}
	v.blink.SetRoot(root)
	v.textSched.Schedule(textState{text: v.text, caret: v.caret})
}

// EditText 以纯文本形式提交本地编辑，offset 为编辑后的光标字符偏移。
// 标记树按当前的其他参与者重新生成。
func (v *View) EditText(text string, offset int) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.closed {
		return merr.WrapErrSessionClosed(v.user.ID, "view closed")
	}

	root := v.injector.Render(text, v.others)
	v.text = text
	v.caret = min(max(offset, 0), caret.TextLength(root))
	v.adoptLocked(root)
	v.textSched.Schedule(textState{text: v.text, caret: v.caret})
	return nil
}

// MoveCaret 处理不改变文本的光标移动，sel 必须位于当前标记树中。
func (v *View) MoveCaret(sel *caret.Endpoint) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.closed {
		return
	}

	v.blink.Do(func(root *html.Node) {
		v.caret = caret.MeasureOffset(root, sel)
	})
	if sel != nil {
		v.sel = *sel
		v.hasSel = true
	}
	v.caretSched.Schedule(v.caret)
}

// Rename 立即发送改名消息，不经过防抖。
func (v *View) Rename(name string) error {
	v.mu.Lock()
	sender, user, joined, closed := v.sender, v.user, v.joined, v.closed
	v.mu.Unlock()

	switch {
	case closed:
		return merr.WrapErrSessionClosed(user.ID, "view closed")
	case !joined:
		return merr.WrapErrMissingParticipantID("no snapshot received yet")
	case sender == nil:
		return merr.WrapErrParameterMissing("sender")
	}
	return sender.Send(protocol.NewNameUpdate(user.ID, name))
}

// Flush 立即发送所有尚未发送的更新。
func (v *View) Flush() {
	v.textSched.Flush()
	v.caretSched.Flush()
}

// Close 取消所有待发送的更新并停止光标闪烁，可重复调用。
func (v *View) Close() {
	v.mu.Lock()
	v.closed = true
	v.mu.Unlock()

	v.textSched.Cancel()
	v.caretSched.Cancel()
	v.blink.Stop()
}

// User 返回本地参与者，第二个返回值表示是否已收到首个快照。
func (v *View) User() (protocol.Participant, bool) {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.user, v.joined
}

// Others 返回其他参与者的副本。
func (v *View) Others() []protocol.Participant {
	v.mu.Lock()
	defer v.mu.Unlock()
	out := make([]protocol.Participant, len(v.others))
	copy(out, v.others)
	return out
}

// Text 返回当前的共享文本。
func (v *View) Text() string {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.text
}

// CaretOffset 返回本地光标的字符偏移。
func (v *View) CaretOffset() int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.caret
}

// Selection 返回本地光标在标记树中的位置。
func (v *View) Selection() (caret.Endpoint, bool) {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.sel, v.hasSel
}

// Blinking 返回远端光标是否正在闪烁。
func (v *View) Blinking() bool {
	return v.blink.Running()
}

// Do 在持有标记树锁的情况下访问当前标记树。
func (v *View) Do(fn func(root *html.Node)) {
	v.blink.Do(fn)
}

// HTML 返回当前标记树的 HTML 文本。
func (v *View) HTML() (string, error) {
	var sb strings.Builder
	if err := v.blink.Render(&sb); err != nil {
		return "", err
	}
	return sb.String(), nil
}

func (v *View) sendText(s textState) {
	v.send("text", func(id uint64) protocol.Update {
		return protocol.NewTextUpdate(id, s.text, s.caret)
	})
}

func (v *View) sendCaret(pos int) {
	v.send("caret", func(id uint64) protocol.Update {
		return protocol.NewCaretUpdate(id, pos)
	})
}

func (v *View) send(kind string, build func(id uint64) protocol.Update) {
	v.mu.Lock()
	sender, user, joined, closed := v.sender, v.user, v.joined, v.closed
	v.mu.Unlock()

	if closed {
		return
	}
	if !joined || sender == nil {
		v.Logger().Debug("drop update before join", zap.String("kind", kind))
		return
	}
	if err := sender.Send(build(user.ID)); err != nil {
		v.Logger().Warn("send update failed",
			zap.String("kind", kind), log.FieldParticipant(user.ID), zap.Error(err))
	}
}

// OnConnected 绑定连接作为 Sender。
func (v *View) OnConnected(conn connector.ClientConn) {
	v.mu.Lock()
	v.sender = conn
	v.mu.Unlock()
	v.Logger().Info("connected", zap.Stringer("remote", conn.RemoteAddr()))
}

// OnMessage 解码服务端快照并应用。
func (v *View) OnMessage(_ connector.ClientConn, payload []byte) {
	var s protocol.Snapshot
	if err := v.serializer.Unmarshal(payload, &s); err != nil {
		v.Logger().Warn("malformed snapshot", zap.Error(merr.WrapErrMalformedMessage(err)))
		return
	}
	if err := v.ApplySnapshot(s); err != nil {
		v.Logger().Debug("snapshot not applied", zap.Error(err))
	}
}

// OnClosed 在连接关闭时结束视图。
func (v *View) OnClosed(_ connector.ClientConn, err error) {
	if err != nil {
		v.Logger().Info("connection closed", zap.Error(err))
	}
	v.Close()
}

// OnError 记录传输层错误。
func (v *View) OnError(_ connector.ClientConn, stage network.Stage, err error) {
	v.Logger().Warn("connection error", zap.String("stage", string(stage)), zap.Error(err))
}
