package api

import "github.com/mqy/gptmessenger/notify"

const (
	replyOK  = "OK"
	replyErr = "ERR"
)

// error reasons sent to clients.
const (
	errEmptyCommand    = "empty command"
	errUnknownCommand  = "unknown command"
	errLineBreak       = "line break in command"
	errStorage         = "storage failure"
	errBadName         = "bad name"
	errBadId           = "bad id"
	errUserExists      = "user exists"
	errBadCredentials  = "bad credentials"
	errBadUsers        = "bad users"
	errUnknownUser     = "unknown user"
	errGroupExists     = "group exists"
	errGroupNotFound   = "group not found"
	errNotFriends      = "not friends"
	errNotMember       = "not a member"
	errReplyNotFound   = "reply target not found"
	errMessageNotFound = "message not found"
	errNotOwner        = "only owner can delete"
)

type reply struct {
	ok      bool
	payload string
	// published after the command is committed.
	events []*notify.Event
}

func okReply(payload string, events ...*notify.Event) reply {
	return reply{ok: true, payload: payload, events: events}
}

func errReply(reason string) reply {
	return reply{payload: reason}
}

func (r reply) String() string {
	if r.ok {
		return replyOK + "\t" + r.payload
	}
	return replyErr + "\t" + r.payload
}
