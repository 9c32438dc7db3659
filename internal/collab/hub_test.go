package collab

import (
	"bytes"
	"context"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/lk2023060901/coedit-go/internal/protocol"
	"github.com/lk2023060901/coedit-go/pkg/log"
	"github.com/lk2023060901/coedit-go/pkg/metrics"
)

type HubSuite struct {
	suite.Suite

	hub    *Hub
	cancel context.CancelFunc
	done   chan struct{}
}

func (s *HubSuite) SetupTest() {
	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.hub = NewHub(WithRegistry(NewRegistry(fixedColor(0x123456))))
	s.done = make(chan struct{})
	go func() {
		defer close(s.done)
		_ = s.hub.Run(ctx)
	}()
}

func (s *HubSuite) TearDownTest() {
	s.cancel()
	<-s.done
}

func (s *HubSuite) next(f *fakeSession) protocol.Snapshot {
	select {
	case snap := <-f.ch:
		return snap
	case <-time.After(5 * time.Second):
		s.FailNow("expected a snapshot")
	}
	return protocol.Snapshot{}
}

func (s *HubSuite) assertQuiet(f *fakeSession) {
	select {
	case snap := <-f.ch:
		s.Failf("unexpected snapshot", "%+v", snap)
	case <-time.After(50 * time.Millisecond):
	}
}

func ids(ps []protocol.Participant) []uint64 {
	out := make([]uint64, 0, len(ps))
	for _, p := range ps {
		out = append(out, p.ID)
	}
	return out
}

func (s *HubSuite) TestRegistrationScenario() {
	a := newFakeSession(100)
	s.hub.OnConnected(a)
	snapA := s.next(a)
	s.Equal(uint64(1), snapA.User.ID)
	s.Equal("123456", snapA.User.Color)
	s.Empty(snapA.Others)
	s.Equal("", snapA.Text)

	b := newFakeSession(200)
	s.hub.OnConnected(b)
	snapB := s.next(b)
	s.Equal(uint64(2), snapB.User.ID)
	s.Equal([]uint64{1}, ids(snapB.Others))

	broadcast := s.next(a)
	s.Equal(uint64(1), broadcast.User.ID)
	s.Equal([]uint64{2}, ids(broadcast.Others))
	s.Equal(2, s.hub.Online())
}

func (s *HubSuite) TestUpdateIsNotEchoed() {
	a, b := newFakeSession(100), newFakeSession(200)
	s.hub.OnConnected(a)
	s.next(a)
	s.hub.OnConnected(b)
	s.next(b)
	s.next(a)

	s.hub.OnMessage(a, []byte(`{"id":1,"text":"hi","caretPosition":2}`))
	snap := s.next(b)
	s.Equal("hi", snap.Text)
	s.Require().Len(snap.Others, 1)
	s.Equal(uint64(1), snap.Others[0].ID)
	s.Equal(2, snap.Others[0].CaretPosition)
	s.assertQuiet(a)
}

func (s *HubSuite) TestMalformedAndUnknownAreDropped() {
	a, b := newFakeSession(100), newFakeSession(200)
	s.hub.OnConnected(a)
	s.next(a)
	s.hub.OnConnected(b)
	s.next(b)
	s.next(a)

	malformed := testutil.ToFloat64(metrics.UpdatesTotal.WithLabelValues(metrics.UpdateMalformed))
	s.hub.OnMessage(a, []byte(`{not json`))
	s.hub.OnMessage(a, []byte(`{"text":"no id"}`))
	s.Equal(malformed+2, testutil.ToFloat64(metrics.UpdatesTotal.WithLabelValues(metrics.UpdateMalformed)))

	unknown := testutil.ToFloat64(metrics.UpdatesTotal.WithLabelValues(metrics.UpdateUnknownParticipant))
	s.hub.OnMessage(a, []byte(`{"id":99,"text":"ghost"}`))
	s.Eventually(func() bool {
		return testutil.ToFloat64(metrics.UpdatesTotal.WithLabelValues(metrics.UpdateUnknownParticipant)) == unknown+1
	}, 5*time.Second, 10*time.Millisecond)

	s.assertQuiet(a)
	s.assertQuiet(b)
}

func (s *HubSuite) TestDisconnectRemovesParticipant() {
	a, b, c := newFakeSession(100), newFakeSession(200), newFakeSession(300)
	s.hub.OnConnected(a)
	s.next(a)
	s.hub.OnConnected(b)
	s.next(b)
	s.next(a)
	s.hub.OnConnected(c)
	s.next(c)
	s.next(a)
	s.next(b)

	s.hub.OnClosed(b, nil)
	s.Equal(2, s.hub.Online())
	s.Equal([]uint64{3}, ids(s.next(a).Others))
	s.Equal([]uint64{1}, ids(s.next(c).Others))

	// 迟到的消息不会复活已断开的参与者。
	s.hub.OnMessage(b, []byte(`{"id":2,"text":"late"}`))
	s.hub.OnMessage(a, []byte(`{"id":1,"caretPosition":0}`))
	snap := s.next(c)
	s.Equal("", snap.Text)
	s.NotContains(ids(snap.Others), uint64(2))

	// 重复关闭是安全的。
	s.hub.OnClosed(b, nil)
	s.Equal(2, s.hub.Online())
}

func (s *HubSuite) TestOnClosedAfterStopDoesNotBlock() {
	a := newFakeSession(100)
	s.hub.OnConnected(a)
	s.next(a)

	s.cancel()
	<-s.done

	finished := make(chan struct{})
	go func() {
		s.hub.OnClosed(a, nil)
		s.hub.OnConnected(newFakeSession(200))
		close(finished)
	}()
	select {
	case <-finished:
	case <-time.After(5 * time.Second):
		s.Fail("callbacks blocked after hub stopped")
	}
}

func (s *HubSuite) TestPostAfterStopIsRejected() {
	s.cancel()
	<-s.done

	sess := newFakeSession(300)
	for i := 0; i < 2*defaultEventBacklog; i++ {
		s.False(s.hub.post(updateEvent{sess: sess}))
	}
	s.Zero(len(s.hub.events))
}

func TestHubWithLogger(t *testing.T) {
	buf := &bytes.Buffer{}
	zl, _, err := log.InitLoggerWithWriteSyncer(&log.Config{Level: "debug", Format: "json"}, zapcore.AddSync(&lockedWriter{w: buf}))
	require.NoError(t, err)

	hub := NewHub(
		WithRegistry(NewRegistry(fixedColor(0x123456))),
		WithLogger((&log.MLogger{Logger: zl}).With(zap.String("hub", "collab-test"))),
	)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = hub.Run(ctx)
	}()

	sess := newFakeSession(1)
	hub.OnConnected(sess)
	select {
	case <-sess.ch:
	case <-time.After(5 * time.Second):
		t.Fatal("expected a snapshot")
	}
	cancel()
	<-done

	out := buf.String()
	assert.Contains(t, out, "participant registered")
	assert.Contains(t, out, `"hub":"collab-test"`)
}

type lockedWriter struct {
	mu sync.Mutex
	w  *bytes.Buffer
}

func (l *lockedWriter) Write(p []byte) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.w.Write(p)
}

func TestHub(t *testing.T) {
	suite.Run(t, new(HubSuite))
}
