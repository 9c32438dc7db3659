package connector

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/atomic"

	network "github.com/lk2023060901/coedit-go/internal/network"
	"github.com/lk2023060901/coedit-go/pkg/util/merr"
)

type chanHandler struct {
	connected atomic.Bool
	messages  chan []byte
	closed    chan error
}

func newChanHandler() *chanHandler {
	return &chanHandler{messages: make(chan []byte, 4), closed: make(chan error, 1)}
}

func (h *chanHandler) OnConnected(ClientConn)                   { h.connected.Store(true) }
func (h *chanHandler) OnMessage(_ ClientConn, payload []byte)   { h.messages <- payload }
func (h *chanHandler) OnClosed(_ ClientConn, err error)         { h.closed <- err }
func (h *chanHandler) OnError(ClientConn, network.Stage, error) {}

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func TestDialEcho(t *testing.T) {
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		for {
			mt, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			if err := conn.WriteMessage(mt, data); err != nil {
				return
			}
		}
	}))
	defer srv.Close()

	h := newChanHandler()
	cc, err := NewWSConnector(Config{}).Dial(context.Background(), wsURL(srv), h, nil)
	require.NoError(t, err)
	assert.True(t, h.connected.Load())

	require.NoError(t, cc.Send(map[string]int{"id": 1}))
	select {
	case payload := <-h.messages:
		assert.JSONEq(t, `{"id":1}`, string(payload))
	case <-time.After(5 * time.Second):
		t.Fatal("no echo")
	}

	require.NoError(t, cc.Close())
	select {
	case err := <-h.closed:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("OnClosed not called")
	}
	assert.ErrorIs(t, cc.Send("late"), merr.ErrSessionClosed)
}

func TestDialRejectedIsNotRetried(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Inc()
		http.NotFound(w, r)
	}))
	defer srv.Close()

	_, err := NewWSConnector(Config{DialAttempts: 3, DialBackoff: time.Millisecond}).
		Dial(context.Background(), wsURL(srv), newChanHandler(), nil)
	assert.ErrorIs(t, err, merr.ErrDialFailed)
	assert.Equal(t, int32(1), hits.Load())
}

func TestDialRetriesUnreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := wsURL(srv)
	srv.Close()

	_, err := NewWSConnector(Config{DialAttempts: 2, DialBackoff: time.Millisecond}).
		Dial(context.Background(), url, newChanHandler(), nil)
	assert.ErrorIs(t, err, merr.ErrDialFailed)
}
