// Package scheduler 合并高频的本地编辑事件，只在静默窗口结束后发送最后一次状态。
package scheduler

import (
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
)

// DefaultWindow 为默认的防抖窗口。
const DefaultWindow = 250 * time.Millisecond

type options struct {
	clock clockwork.Clock
}

// Option 用于定制 Debouncer。
type Option func(*options)

// WithClock 替换时钟，测试中通常传入 clockwork.NewFakeClock()。
func WithClock(clock clockwork.Clock) Option {
	return func(o *options) {
		if clock != nil {
			o.clock = clock
		}
	}
}

// Debouncer 是尾沿防抖器：每次 Schedule 记录最新状态并重新计时，
// 窗口内没有新事件时才以最后一次状态调用 send，中间状态被丢弃而不是排队。
//
// send 在计时器协程中调用，且不持有内部锁。
type Debouncer[T any] struct {
	mu     sync.Mutex
	clock  clockwork.Clock
	window time.Duration
	send   func(T)

	pending    T
	hasPending bool
	timer      clockwork.Timer
	// gen 在每次 Schedule/Cancel/Flush 时递增，使过期的计时器回调失效。
	gen uint64
}

// New 创建一个防抖器，window <= 0 时使用 DefaultWindow。
func New[T any](window time.Duration, send func(T), opts ...Option) *Debouncer[T] {
	o := &options{clock: clockwork.NewRealClock()}
	for _, opt := range opts {
		opt(o)
	}
	if window <= 0 {
		window = DefaultWindow
	}
	return &Debouncer[T]{
		clock:  o.clock,
		window: window,
		send:   send,
	}
}

// Schedule 记录最新状态并重新开始计时。
func (d *Debouncer[T]) Schedule(state T) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.pending = state
	d.hasPending = true
	d.gen++
	d.stopTimerLocked()

	gen := d.gen
	d.timer = d.clock.AfterFunc(d.window, func() {
		d.fire(gen)
	})
}

// Cancel 丢弃尚未发送的状态。
func (d *Debouncer[T]) Cancel() {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.gen++
	d.stopTimerLocked()
	d.clearLocked()
}

// Flush 立即发送尚未发送的状态，返回是否发送了消息。
func (d *Debouncer[T]) Flush() bool {
	d.mu.Lock()
	if !d.hasPending {
		d.mu.Unlock()
		return false
	}
	d.gen++
	d.stopTimerLocked()
	state := d.pending
	d.clearLocked()
	d.mu.Unlock()

	d.send(state)
	return true
}

// Pending 返回是否有尚未发送的状态。
func (d *Debouncer[T]) Pending() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.hasPending
}

func (d *Debouncer[T]) fire(gen uint64) {
	d.mu.Lock()
	if gen != d.gen || !d.hasPending {
		d.mu.Unlock()
		return
	}
	state := d.pending
	d.clearLocked()
	d.timer = nil
	d.mu.Unlock()

	d.send(state)
}

func (d *Debouncer[T]) stopTimerLocked() {
	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
}

func (d *Debouncer[T]) clearLocked() {
	var zero T
	d.pending = zero
	d.hasPending = false
}
