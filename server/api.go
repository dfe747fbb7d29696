package server

// IApi executes one protocol line and returns the response line, without terminator.
type IApi interface {
	Handle(line string) string
}

type SessionError int

const (
	ReadError   SessionError = 1
	WriteError  SessionError = 2
	PingError   SessionError = 3
	BadRequest  SessionError = 4
	ServerStop  SessionError = 5
	ClientQuit  SessionError = 6
	LineTooLong SessionError = 7
)

// Line sent by a client to end its session. It gets no reply.
const quitLine = "QUIT"

const replyLineTooLong = "ERR\tline too long"

type session interface {
	Sid() string
	close(cause SessionError)
}
