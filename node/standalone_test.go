package node

import (
	"bufio"
	"context"
	"io"
	"net"
	"net/http"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mqy/gptmessenger/api"
	"github.com/mqy/gptmessenger/chatstore"
	"github.com/mqy/gptmessenger/server"
	"github.com/mqy/gptmessenger/store"
)

type fakeRunner struct {
	stopped chan struct{}
}

func (r *fakeRunner) Run(ctx context.Context, stopDoneNotifyC chan<- struct{}) {
	<-ctx.Done()
	close(r.stopped)
	stopDoneNotifyC <- struct{}{}
}

func TestStandalone(t *testing.T) {
	a := api.NewApi(chatstore.NewState(), store.NewFileSink(filepath.Join(t.TempDir(), "data.txt")))
	hub := server.NewHub(a, 0)
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.Handle("/ws", hub)
	runner := &fakeRunner{stopped: make(chan struct{})}

	s := NewStandalone(&Config{
		Addr:     "127.0.0.1:0",
		HttpAddr: "127.0.0.1:0",
		Hub:      hub,
		Mux:      mux,
		Notifier: runner,
	})
	require.NoError(t, s.Listen())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	stopC := make(chan struct{}, 1)
	go s.Run(ctx, stopC)

	// line protocol over tcp.
	conn, err := net.Dial("tcp", s.Addr().String())
	require.NoError(t, err)
	defer conn.Close()
	conn.SetDeadline(time.Now().Add(5 * time.Second))
	_, err = conn.Write([]byte("REGISTER\talice\tpw\n"))
	require.NoError(t, err)
	r := bufio.NewReader(conn)
	line, err := r.ReadString('\n')
	require.NoError(t, err)
	assert.Equal(t, "OK\tregistered\n", line)

	// same state over websocket.
	ws, _, err := websocket.DefaultDialer.Dial("ws://"+s.HttpAddr().String()+"/ws", nil)
	require.NoError(t, err)
	defer ws.Close()
	ws.SetReadDeadline(time.Now().Add(5 * time.Second))
	require.NoError(t, ws.WriteMessage(websocket.TextMessage, []byte("LOGIN\talice\tpw")))
	_, msg, err := ws.ReadMessage()
	require.NoError(t, err)
	assert.Equal(t, "OK\tlogged", string(msg))

	resp, err := http.Get("http://" + s.HttpAddr().String() + "/metrics")
	require.NoError(t, err)
	body, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	require.NoError(t, err)
	assert.Contains(t, string(body), "gptmessenger_commands_total")
	assert.Contains(t, string(body), "gptmessenger_active_sessions")

	cancel()
	select {
	case <-stopC:
	case <-time.After(5 * time.Second):
		t.Fatal("node did not stop")
	}
	<-runner.stopped
	assert.NoError(t, s.Err())

	_, err = r.ReadString('\n')
	assert.Error(t, err)
	_, _, err = ws.ReadMessage()
	assert.Error(t, err)
	_, err = net.DialTimeout("tcp", s.Addr().String(), time.Second)
	assert.Error(t, err)
}

func TestListenError(t *testing.T) {
	lis, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer lis.Close()

	s := NewStandalone(&Config{Addr: lis.Addr().String()})
	err = s.Listen()
	require.Error(t, err)
	assert.True(t, strings.Contains(err.Error(), lis.Addr().String()))
}

func TestHttpDisabled(t *testing.T) {
	s := NewStandalone(&Config{Addr: "127.0.0.1:0", Hub: server.NewHub(nil, 0)})
	require.NoError(t, s.Listen())
	assert.Nil(t, s.HttpAddr())

	ctx, cancel := context.WithCancel(context.Background())
	stopC := make(chan struct{}, 1)
	go s.Run(ctx, stopC)
	cancel()
	select {
	case <-stopC:
	case <-time.After(5 * time.Second):
		t.Fatal("node did not stop")
	}
}

func TestLineServerErrorStopsNode(t *testing.T) {
	runner := &fakeRunner{stopped: make(chan struct{})}
	s := NewStandalone(&Config{Addr: "127.0.0.1:0", Hub: server.NewHub(nil, 0), Notifier: runner})
	require.NoError(t, s.Listen())
	// accept fails at once.
	s.lis.Close()

	stopC := make(chan struct{}, 1)
	go s.Run(context.Background(), stopC)
	select {
	case <-stopC:
	case <-time.After(5 * time.Second):
		t.Fatal("node did not stop")
	}
	<-runner.stopped
	require.Error(t, s.Err())
	assert.Contains(t, s.Err().Error(), "line server")
}
