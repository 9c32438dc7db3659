package scheduler

import (
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type edit struct {
	text  string
	caret int
}

func newRecorder() (chan edit, func(edit)) {
	ch := make(chan edit, 8)
	return ch, func(e edit) { ch <- e }
}

func expectNone(t *testing.T, ch <-chan edit) {
	t.Helper()
	select {
	case e := <-ch:
		t.Fatalf("unexpected send %+v", e)
	case <-time.After(50 * time.Millisecond):
	}
}

func expectOne(t *testing.T, ch <-chan edit) edit {
	t.Helper()
	select {
	case e := <-ch:
		return e
	case <-time.After(5 * time.Second):
		t.Fatal("expected a send")
	}
	return edit{}
}

func TestDebounceCoalescesToLatest(t *testing.T) {
	clock := clockwork.NewFakeClock()
	ch, send := newRecorder()
	d := New(DefaultWindow, send, WithClock(clock))

	d.Schedule(edit{text: "h", caret: 1})
	clock.Advance(50 * time.Millisecond)
	d.Schedule(edit{text: "hi", caret: 2})

	clock.Advance(249 * time.Millisecond)
	expectNone(t, ch)
	assert.True(t, d.Pending())

	clock.Advance(time.Millisecond)
	assert.Equal(t, edit{text: "hi", caret: 2}, expectOne(t, ch))
	expectNone(t, ch)
	assert.False(t, d.Pending())
}

func TestDebounceCancel(t *testing.T) {
	clock := clockwork.NewFakeClock()
	ch, send := newRecorder()
	d := New(DefaultWindow, send, WithClock(clock))

	d.Schedule(edit{text: "x"})
	d.Cancel()
	clock.Advance(time.Second)
	expectNone(t, ch)
	assert.False(t, d.Pending())

	// 取消后仍可继续使用。
	d.Schedule(edit{text: "y"})
	clock.Advance(DefaultWindow)
	assert.Equal(t, "y", expectOne(t, ch).text)
}

func TestDebounceFlush(t *testing.T) {
	clock := clockwork.NewFakeClock()
	ch, send := newRecorder()
	d := New(DefaultWindow, send, WithClock(clock))

	assert.False(t, d.Flush())

	d.Schedule(edit{text: "now"})
	require.True(t, d.Flush())
	assert.Equal(t, "now", expectOne(t, ch).text)

	clock.Advance(time.Second)
	expectNone(t, ch)
}

func TestDebounceSeparateWindows(t *testing.T) {
	clock := clockwork.NewFakeClock()
	ch, send := newRecorder()
	d := New(100*time.Millisecond, send, WithClock(clock))

	d.Schedule(edit{caret: 1})
	clock.Advance(100 * time.Millisecond)
	assert.Equal(t, 1, expectOne(t, ch).caret)

	d.Schedule(edit{caret: 2})
	clock.Advance(100 * time.Millisecond)
	assert.Equal(t, 2, expectOne(t, ch).caret)
}

func TestDefaultWindow(t *testing.T) {
	d := New(0, func(int) {})
	assert.Equal(t, DefaultWindow, d.window)
}
