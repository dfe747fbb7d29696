package server

import (
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"github.com/golang/glog"
)

const (
	// Time allowed to write a reply to the peer.
	writeWait = 3 * time.Second

	readChunk = 1024
)

// Handler serves one TCP connection: one request line in, one reply line out, in order.
type Handler struct {
	sync.Mutex

	sid    string
	conn   net.Conn
	hub    *Hub
	framer framer

	closing bool
}

func newHandler(hub *Hub, sid string, conn net.Conn) *Handler {
	return &Handler{
		sid:    sid,
		conn:   conn,
		hub:    hub,
		framer: framer{max: hub.maxLineBytes},
	}
}

func (h *Handler) Sid() string {
	return h.sid
}

func (h *Handler) String() string {
	return fmt.Sprintf("tcp session %s from %s", h.sid, h.conn.RemoteAddr())
}

func (h *Handler) close(cause SessionError) {
	h.Lock()
	defer h.Unlock()
	if h.closing {
		return
	}
	h.closing = true
	h.conn.Close()
	sessionClosed(transportTcp, cause)

	if cause != ServerStop {
		glog.V(5).Infof("session closed, cause: %s, %s", cause, h)
		h.hub.delHandler(h.sid)
	}
}

func (h *Handler) isClosing() bool {
	h.Lock()
	defer h.Unlock()
	return h.closing
}

func (h *Handler) serve() {
	defer func() { glog.V(5).Infof("serve(): exited, %s", h) }()

	chunk := make([]byte, readChunk)
	for {
		n, err := h.conn.Read(chunk)
		if n > 0 {
			lines, ferr := h.framer.feed(chunk[:n])
			for _, line := range lines {
				if line == quitLine {
					h.close(ClientQuit)
					return
				}
				if werr := h.writeLine(h.hub.api.Handle(line)); werr != nil {
					glog.Errorf("serve(): write error, %s: %v", h, werr)
					h.close(WriteError)
					return
				}
			}
			if errors.Is(ferr, errLineTooLong) {
				glog.Errorf("serve(): line exceeds %d bytes, %s", h.framer.max, h)
				_ = h.writeLine(replyLineTooLong)
				h.close(LineTooLong)
				return
			}
		}
		if err != nil {
			cause := ReadError
			if err == io.EOF {
				cause = ClientQuit
			} else if !h.isClosing() {
				glog.Errorf("serve(): read error, %s: %v", h, err)
			}
			h.close(cause)
			return
		}
	}
}

func (h *Handler) writeLine(line string) error {
	h.conn.SetWriteDeadline(time.Now().Add(writeWait))
	_, err := io.WriteString(h.conn, line+"\n")
	return err
}
