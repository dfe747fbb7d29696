package server

import (
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/golang/glog"
	"github.com/gorilla/websocket"
)

const (
	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = 20 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 25 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// WsHandler carries the line protocol over a websocket: one text frame per command line, one
// text frame per reply.
type WsHandler struct {
	sync.Mutex

	sid    string
	remote string
	hub    *Hub
	conn   *websocket.Conn

	dataChan chan *sessionData
	// closed by close(). dataChan is never closed.
	done    chan struct{}
	closing bool
}

// sessionData is the data structure for `dataChan`.
type sessionData struct {
	Error SessionError
	Reply string
}

func (h *WsHandler) Sid() string {
	return h.sid
}

func (h *WsHandler) String() string {
	return fmt.Sprintf("ws session %s from %s", h.sid, h.remote)
}

func (h *WsHandler) close(cause SessionError) {
	h.Lock()
	defer h.Unlock()
	if h.closing {
		return
	}
	h.closing = true

	_ = h.conn.WriteControl(websocket.CloseMessage, []byte{}, time.Now().Add(writeWait))
	h.conn.Close()

	close(h.done)
	sessionClosed(transportWs, cause)

	if cause != ServerStop {
		glog.V(5).Infof("session closed, cause: %s, %s", cause, h)
		h.hub.delHandler(h.sid)
	}
}

func (h *WsHandler) appendDataChan(v *sessionData) {
	select {
	case h.dataChan <- v:
	case <-h.done:
	}
}

func (h *WsHandler) isClosing() bool {
	h.Lock()
	defer h.Unlock()
	return h.closing
}

func (h *WsHandler) recvLoop() {
	defer func() { glog.V(5).Infof("recvLoop(): exited, %s", h) }()

	if max := h.hub.maxLineBytes; max > 0 {
		h.conn.SetReadLimit(int64(max))
	}
	h.conn.SetReadDeadline(time.Now().Add(pongWait))
	h.conn.SetPongHandler(func(string) error {
		h.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for !h.isClosing() {
		msgType, msg, err := h.conn.ReadMessage()
		if err != nil {
			if err == websocket.ErrReadLimit {
				// gorilla has already sent close 1009, no reply can follow.
				glog.Errorf("recvLoop(): frame exceeds %d bytes, %s", h.hub.maxLineBytes, h)
				h.appendDataChan(&sessionData{Error: LineTooLong})
				return
			}
			if !h.isClosing() {
				glog.V(5).Infof("recvLoop(): read error, %s: %v", h, err)
			}
			h.appendDataChan(&sessionData{Error: ReadError})
			return
		}

		if msgType != websocket.TextMessage {
			glog.Errorf("recvLoop(): unexpected message type: %d, %s", msgType, h)
			h.appendDataChan(&sessionData{Error: BadRequest})
			return
		}

		line := strings.TrimSuffix(strings.TrimSuffix(string(msg), "\n"), "\r")
		if line == quitLine {
			h.appendDataChan(&sessionData{Error: ClientQuit})
			return
		}
		h.appendDataChan(&sessionData{Reply: h.hub.api.Handle(line)})
	}
}

func (h *WsHandler) sendLoop() {
	pingTicker := time.NewTicker(pingPeriod)
	defer func() {
		pingTicker.Stop()
		glog.V(5).Infof("sendLoop(): exited, %s", h)
	}()

	for {
		select {
		case <-h.done:
			return
		case v := <-h.dataChan:
			if v.Error > 0 {
				h.close(v.Error)
				return
			}

			h.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := h.conn.WriteMessage(websocket.TextMessage, []byte(v.Reply)); err != nil {
				glog.Errorf("sendLoop(): write error, %s: %v", h, err)
				h.close(WriteError)
				return
			}
		case <-pingTicker.C:
			h.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := h.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				glog.Errorf("sendLoop(): write ping error, %s: %v", h, err)
				h.close(PingError)
				return
			}
		}
	}
}
