package session

import (
	"context"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lk2023060901/coedit-go/pkg/util/merr"
)

type fakeSession struct {
	id     uint64
	closed bool
}

func (f *fakeSession) ID() uint64               { return f.id }
func (f *fakeSession) Context() context.Context { return context.Background() }
func (f *fakeSession) RemoteAddr() net.Addr     { return nil }
func (f *fakeSession) LocalAddr() net.Addr      { return nil }
func (f *fakeSession) Send(any) error           { return nil }
func (f *fakeSession) Close() error {
	f.closed = true
	return nil
}

func TestIDGeneratorStrictlyIncreasing(t *testing.T) {
	var g IDGenerator
	prev := uint64(0)
	for i := 0; i < 100; i++ {
		id := g.Next()
		assert.Greater(t, id, prev)
		prev = id
	}
	assert.Equal(t, uint64(100), prev)
}

func TestBaseSessionManager(t *testing.T) {
	m := NewBaseSessionManager()
	a, b := &fakeSession{id: 1}, &fakeSession{id: 2}

	require.NoError(t, m.Register(a))
	require.NoError(t, m.Register(b))
	assert.ErrorIs(t, m.Register(&fakeSession{id: 1}), merr.ErrSessionDuplicate)
	assert.Error(t, m.Register(nil))
	assert.Equal(t, 2, m.Count())

	got, ok := m.Get(2)
	require.True(t, ok)
	assert.Same(t, b, got)

	require.NoError(t, m.Unregister(2))
	assert.ErrorIs(t, m.Unregister(2), merr.ErrSessionClosed)

	require.NoError(t, m.CloseAll())
	assert.True(t, a.closed)
	assert.False(t, b.closed)
}

func TestWSSessionSendQueueFull(t *testing.T) {
	s := newWSSession(context.Background(), 7, nil, Config{SendQueueSize: 1})

	require.NoError(t, s.Send(map[string]int{"n": 1}))
	err := s.Send(map[string]int{"n": 2})
	assert.ErrorIs(t, err, merr.ErrSendQueueFull)
	assert.True(t, merr.IsRetryableErr(err))
}

func TestWSSessionSendAfterClose(t *testing.T) {
	s := newWSSession(context.Background(), 8, nil, Config{})
	require.NoError(t, s.Close())
	require.NoError(t, s.Close())

	assert.ErrorIs(t, s.Send("late"), merr.ErrSessionClosed)
	assert.Error(t, s.Context().Err())
}

func TestWSSessionWritesTextFrames(t *testing.T) {
	upgrader := websocket.Upgrader{}
	sent := make(chan error, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			sent <- err
			return
		}
		s := NewWSSession(context.Background(), 1, conn, Config{WriteTimeout: time.Second})
		sent <- s.Send(map[string]string{"text": "hi"})
	}))
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, <-sent)
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	mt, data, err := conn.ReadMessage()
	require.NoError(t, err)
	assert.Equal(t, websocket.TextMessage, mt)
	assert.JSONEq(t, `{"text":"hi"}`, string(data))
}
