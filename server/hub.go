package server

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/golang/glog"
	"github.com/pborman/uuid"
)

const (
	acceptMinInterval = 5 * time.Millisecond
	acceptMaxInterval = time.Second
)

// Hub accepts connections of both transports and owns their sessions.
type Hub struct {
	api          IApi
	maxLineBytes int
	hstore       *HandlerStore
}

// NewHub creates a `Hub`. maxLineBytes <= 0 leaves request lines unbounded.
func NewHub(api IApi, maxLineBytes int) *Hub {
	if maxLineBytes < 0 {
		maxLineBytes = 0
	}
	return &Hub{
		api:          api,
		maxLineBytes: maxLineBytes,
		hstore:       newHandlerStore(),
	}
}

// Serve accepts TCP connections from lis until ctx is done, then closes lis and every session.
func (h *Hub) Serve(ctx context.Context, lis net.Listener) error {
	go func() {
		<-ctx.Done()
		lis.Close()
	}()
	defer func() {
		glog.Infof("close connections ...")
		h.Close()
		glog.Infof("close connections done")
	}()

	var sleep time.Duration
	for {
		conn, err := lis.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				acceptBackoff(&sleep)
				glog.Errorf("accept error: %v; retrying in %v", err, sleep)
				time.Sleep(sleep)
				continue
			}
			return err
		}
		sleep = 0

		handler := newHandler(h, newSid(), conn)
		h.hstore.add(handler)
		sessionOpened(transportTcp)
		glog.V(5).Infof("session opened, %s", handler)
		go handler.serve()
	}
}

// ServeHTTP upgrades the request to a websocket session.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	// If the upgrade fails, then Upgrade replies to the client with an HTTP error response.
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		glog.Errorf("ServeHTTP(): upgrader.Upgrade error: %v", err)
		return
	}

	handler := &WsHandler{
		sid:      newSid(),
		remote:   getRemoteIP(r),
		hub:      h,
		conn:     conn,
		dataChan: make(chan *sessionData, 16),
		done:     make(chan struct{}),
	}

	conn.SetCloseHandler(func(code int, text string) error {
		glog.V(5).Infof("session closed by peer, %s, code: %d, text: %s", handler, code, text)
		handler.close(ClientQuit)
		return nil
	})

	h.hstore.add(handler)
	sessionOpened(transportWs)
	glog.V(5).Infof("session opened, %s", handler)

	go handler.recvLoop()
	go handler.sendLoop()
}

// Close closes every live session.
func (h *Hub) Close() {
	h.hstore.close()
}

// Sessions returns the number of live sessions.
func (h *Hub) Sessions() int {
	return h.hstore.len()
}

func (h *Hub) delHandler(sid string) {
	h.hstore.del(sid)
}

func newSid() string {
	return strings.ReplaceAll(uuid.New(), "-", "")
}

func acceptBackoff(d *time.Duration) {
	if *d == 0 {
		*d = acceptMinInterval
	} else {
		*d *= 2
		if *d > acceptMaxInterval {
			*d = acceptMaxInterval
		}
	}
}

func getRemoteIP(r *http.Request) string {
	ip := r.Header.Get("X-REAL-IP")
	if ip == "" {
		if ips := r.Header.Get("X-FORWARDED-FOR"); ips != "" {
			for _, x := range strings.Split(ips, ",") {
				if x = strings.TrimSpace(x); x != "" {
					ip = x
				}
			}
		}
	}
	if ip == "" {
		ip, _, _ = net.SplitHostPort(r.RemoteAddr)
	}
	return ip
}
