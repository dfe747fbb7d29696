package server

import (
	"bufio"
	"context"
	"io"
	"net"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// echoApi replies "OK\t<line>" and records every line it got.
type echoApi struct {
	sync.Mutex
	lines []string
}

func (a *echoApi) Handle(line string) string {
	a.Lock()
	a.lines = append(a.lines, line)
	a.Unlock()
	return "OK\t" + line
}

func (a *echoApi) got() []string {
	a.Lock()
	defer a.Unlock()
	return append([]string(nil), a.lines...)
}

func startHub(t *testing.T, maxLineBytes int) (*Hub, *echoApi, string, context.CancelFunc, <-chan error) {
	api := &echoApi{}
	hub := NewHub(api, maxLineBytes)
	lis, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	errC := make(chan error, 1)
	go func() { errC <- hub.Serve(ctx, lis) }()
	t.Cleanup(cancel)
	return hub, api, lis.Addr().String(), cancel, errC
}

func dial(t *testing.T, addr string) (net.Conn, *bufio.Reader) {
	conn, err := net.Dial("tcp", addr)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	conn.SetDeadline(time.Now().Add(5 * time.Second))
	return conn, bufio.NewReader(conn)
}

func readLine(t *testing.T, r *bufio.Reader) string {
	t.Helper()
	line, err := r.ReadString('\n')
	require.NoError(t, err)
	return strings.TrimSuffix(line, "\n")
}

func TestTcpSession(t *testing.T) {
	hub, api, addr, _, _ := startHub(t, 0)
	conn, r := dial(t, addr)

	// split writes and CRLF.
	_, err := conn.Write([]byte("PI"))
	require.NoError(t, err)
	time.Sleep(10 * time.Millisecond)
	_, err = conn.Write([]byte("NG\r\nSEND_DM\talice\tbob\thi\n"))
	require.NoError(t, err)

	assert.Equal(t, "OK\tPING", readLine(t, r))
	assert.Equal(t, "OK\tSEND_DM\talice\tbob\thi", readLine(t, r))
	assert.Equal(t, 1, hub.Sessions())

	_, err = conn.Write([]byte("QUIT\nPING\n"))
	require.NoError(t, err)
	_, err = r.ReadString('\n')
	assert.Equal(t, io.EOF, err)

	assert.Equal(t, []string{"PING", "SEND_DM\talice\tbob\thi"}, api.got())
	assert.Eventually(t, func() bool { return hub.Sessions() == 0 }, time.Second, 5*time.Millisecond)
}

func TestTcpSessionsAreIndependent(t *testing.T) {
	hub, _, addr, _, _ := startHub(t, 0)
	c1, r1 := dial(t, addr)
	c2, r2 := dial(t, addr)

	_, err := c1.Write([]byte("one\n"))
	require.NoError(t, err)
	assert.Equal(t, "OK\tone", readLine(t, r1))

	c1.Close()
	_, err = c2.Write([]byte("two\n"))
	require.NoError(t, err)
	assert.Equal(t, "OK\ttwo", readLine(t, r2))
	assert.Eventually(t, func() bool { return hub.Sessions() == 1 }, time.Second, 5*time.Millisecond)
}

func TestTcpLineTooLong(t *testing.T) {
	_, api, addr, _, _ := startHub(t, 16)
	conn, r := dial(t, addr)

	_, err := conn.Write([]byte("PING\n" + strings.Repeat("x", 17)))
	require.NoError(t, err)
	assert.Equal(t, "OK\tPING", readLine(t, r))
	assert.Equal(t, replyLineTooLong, readLine(t, r))
	_, err = r.ReadString('\n')
	assert.Equal(t, io.EOF, err)
	assert.Equal(t, []string{"PING"}, api.got())
}

func TestServeStopClosesSessions(t *testing.T) {
	hub, _, addr, cancel, errC := startHub(t, 0)
	conn, r := dial(t, addr)
	_, err := conn.Write([]byte("PING\n"))
	require.NoError(t, err)
	assert.Equal(t, "OK\tPING", readLine(t, r))

	cancel()
	select {
	case err := <-errC:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Serve did not return")
	}
	_, err = r.ReadString('\n')
	assert.Error(t, err)
	assert.Zero(t, hub.Sessions())

	_, err = net.DialTimeout("tcp", addr, time.Second)
	assert.Error(t, err)
}

func TestWsSession(t *testing.T) {
	api := &echoApi{}
	hub := NewHub(api, 0)
	srv := httptest.NewServer(hub)
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("PING")))
	_, msg, err := conn.ReadMessage()
	require.NoError(t, err)
	assert.Equal(t, "OK\tPING", string(msg))

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("GET_GROUP\tteam\r\n")))
	_, msg, err = conn.ReadMessage()
	require.NoError(t, err)
	assert.Equal(t, "OK\tGET_GROUP\tteam", string(msg))
	assert.Equal(t, 1, hub.Sessions())

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("QUIT")))
	_, _, err = conn.ReadMessage()
	assert.Error(t, err)
	assert.Eventually(t, func() bool { return hub.Sessions() == 0 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, []string{"PING", "GET_GROUP\tteam"}, api.got())
}

func TestWsFrameTooLong(t *testing.T) {
	api := &echoApi{}
	hub := NewHub(api, 8)
	srv := httptest.NewServer(hub)
	defer srv.Close()

	tooLong := closedSessions.WithLabelValues(transportWs, LineTooLong.String())
	writeErrors := closedSessions.WithLabelValues(transportWs, WriteError.String())
	before, beforeWrite := testutil.ToFloat64(tooLong), testutil.ToFloat64(writeErrors)

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	require.NoError(t, err)
	defer conn.Close()
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("PING")))
	_, msg, err := conn.ReadMessage()
	require.NoError(t, err)
	assert.Equal(t, "OK\tPING", string(msg))

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(strings.Repeat("x", 9))))
	_, _, err = conn.ReadMessage()
	assert.True(t, websocket.IsCloseError(err, websocket.CloseMessageTooBig), "err: %v", err)

	assert.Eventually(t, func() bool { return hub.Sessions() == 0 }, time.Second, 5*time.Millisecond)
	assert.Eventually(t, func() bool { return testutil.ToFloat64(tooLong) == before+1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, beforeWrite, testutil.ToFloat64(writeErrors))
	assert.Equal(t, []string{"PING"}, api.got())
}

func TestWsBinaryFrameCloses(t *testing.T) {
	hub := NewHub(&echoApi{}, 0)
	srv := httptest.NewServer(hub)
	defer srv.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	require.NoError(t, err)
	defer conn.Close()
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))

	require.NoError(t, conn.WriteMessage(websocket.BinaryMessage, []byte("PING")))
	_, _, err = conn.ReadMessage()
	assert.Error(t, err)
	assert.Eventually(t, func() bool { return hub.Sessions() == 0 }, time.Second, 5*time.Millisecond)
}

func TestGetRemoteIP(t *testing.T) {
	r := httptest.NewRequest("GET", "/ws", nil)
	r.RemoteAddr = "10.0.0.1:1234"
	assert.Equal(t, "10.0.0.1", getRemoteIP(r))

	r.Header.Set("X-Forwarded-For", "1.1.1.1, 2.2.2.2")
	assert.Equal(t, "2.2.2.2", getRemoteIP(r))

	r.Header.Set("X-Real-IP", "3.3.3.3")
	assert.Equal(t, "3.3.3.3", getRemoteIP(r))
}

func TestHandlerStore(t *testing.T) {
	hs := newHandlerStore()
	h := &Handler{sid: "a"}
	hs.add(h)
	assert.Equal(t, 1, hs.len())
	assert.False(t, hs.del("b"))
	assert.True(t, hs.del("a"))
	assert.False(t, hs.del("a"))
	assert.Zero(t, hs.len())
}
