// Package blink 周期性切换远端光标标记的可见性。
package blink

import (
	"io"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"golang.org/x/net/html"

	"github.com/lk2023060901/coedit-go/internal/client/marker"
)

// DefaultInterval 为默认的闪烁周期。
const DefaultInterval = 500 * time.Millisecond

type options struct {
	clock    clockwork.Clock
	interval time.Duration
}

// Option 用于定制 Indicator。
type Option func(*options)

// WithClock 替换时钟。
func WithClock(clock clockwork.Clock) Option {
	return func(o *options) {
		if clock != nil {
			o.clock = clock
		}
	}
}

// WithInterval 设置闪烁周期，非正值被忽略。
func WithInterval(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.interval = d
		}
	}
}

// Indicator 持有当前的标记树，并在存在远端参与者时按固定周期
// 切换每个标记上的 hidden class。
//
// 标记树的读写都经过 Indicator 的锁，外部渲染请使用 Render 或 Do。
type Indicator struct {
	mu       sync.Mutex
	clock    clockwork.Clock
	interval time.Duration

	root   *html.Node
	ticker clockwork.Ticker
	stop   chan struct{}
	wg     sync.WaitGroup
	ticks  int
}

// New 创建一个尚未启动的 Indicator。
func New(opts ...Option) *Indicator {
	o := &options{
		clock:    clockwork.NewRealClock(),
		interval: DefaultInterval,
	}
	for _, opt := range opts {
		opt(o)
	}
	return &Indicator{
		clock:    o.clock,
		interval: o.interval,
	}
}

// SetRoot 替换当前的标记树。新树中的标记保持可见，直到下一次切换。
func (i *Indicator) SetRoot(root *html.Node) {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.root = root
}

// Sync 根据远端参与者数量启停闪烁：大于 0 时启动，否则停止并清除 hidden。
func (i *Indicator) Sync(remoteCount int) {
	if remoteCount > 0 {
		i.start()
		return
	}
	i.Stop()
}

// Running 返回闪烁是否处于运行状态。
func (i *Indicator) Running() bool {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.ticker != nil
}

// Ticks 返回已执行的切换次数。
func (i *Indicator) Ticks() int {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.ticks
}

// Stop 停止闪烁，并移除当前树中所有标记的 hidden class。
func (i *Indicator) Stop() {
	i.mu.Lock()
	if i.ticker == nil {
		i.clearLocked()
		i.mu.Unlock()
		return
	}
	i.ticker.Stop()
	i.ticker = nil
	close(i.stop)
	i.clearLocked()
	i.mu.Unlock()

	i.wg.Wait()
}

// Do 在持有锁的情况下访问当前的标记树，fn 中不能再调用 Indicator 的方法。
func (i *Indicator) Do(fn func(root *html.Node)) {
	i.mu.Lock()
	defer i.mu.Unlock()
	fn(i.root)
}

// Render 将当前标记树渲染为 HTML。
func (i *Indicator) Render(w io.Writer) error {
	i.mu.Lock()
	defer i.mu.Unlock()
	if i.root == nil {
		return nil
	}
	return html.Render(w, i.root)
}

func (i *Indicator) start() {
	i.mu.Lock()
	defer i.mu.Unlock()
	if i.ticker != nil {
		return
	}

	ticker := i.clock.NewTicker(i.interval)
	stop := make(chan struct{})
	i.ticker = ticker
	i.stop = stop

	i.wg.Add(1)
	go func() {
		defer i.wg.Done()
		for {
			select {
			case <-stop:
				return
			case <-ticker.Chan():
				i.toggle(stop)
			}
		}
	}()
}

func (i *Indicator) toggle(stop chan struct{}) {
	i.mu.Lock()
	defer i.mu.Unlock()
	// Stop 与 tick 竞争时，以 Stop 为准。
	select {
	case <-stop:
		return
	default:
	}
	for _, m := range marker.Markers(i.root) {
		marker.ToggleClass(m, marker.HiddenClass)
	}
	i.ticks++
}

func (i *Indicator) clearLocked() {
	for _, m := range marker.Markers(i.root) {
		marker.RemoveClass(m, marker.HiddenClass)
	}
}
