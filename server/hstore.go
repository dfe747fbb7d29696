package server

import (
	"sync"
)

// memory handler store for live sessions of both transports.
type HandlerStore struct {
	sync.RWMutex
	handlers map[string]session
}

func newHandlerStore() *HandlerStore {
	return &HandlerStore{handlers: make(map[string]session)}
}

func (hs *HandlerStore) del(sid string) bool {
	hs.Lock()
	defer hs.Unlock()
	if _, ok := hs.handlers[sid]; ok {
		delete(hs.handlers, sid)
		return true
	}
	return false
}

func (hs *HandlerStore) add(h session) {
	hs.Lock()
	hs.handlers[h.Sid()] = h
	hs.Unlock()
}

func (hs *HandlerStore) len() int {
	hs.RLock()
	defer hs.RUnlock()
	return len(hs.handlers)
}

// close closes every session and empties the store.
func (hs *HandlerStore) close() {
	hs.Lock()
	handlers := hs.handlers
	hs.handlers = make(map[string]session)
	hs.Unlock()

	for _, h := range handlers {
		h.close(ServerStop)
	}
}
