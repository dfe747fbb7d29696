package api

import (
	"strconv"
	"strings"

	"github.com/mqy/gptmessenger/chatstore"
	"github.com/mqy/gptmessenger/notify"
	"github.com/mqy/gptmessenger/store"
)

type command struct {
	usage string
	// number of fields including the command name. A minimum when variadic: surplus fields
	// are joined back into the last one.
	nfields  int
	variadic bool
	write    bool
	run      func(a *ChatApi, s *chatstore.State, args []string) reply
}

func (c *command) arityOk(n int) bool {
	if c.variadic {
		return n >= c.nfields
	}
	return n == c.nfields
}

var commands map[string]*command

func init() {
	commands = map[string]*command{
		"PING":             {nfields: 1, run: ping},
		"REGISTER":         {usage: `\tuser\tpass`, nfields: 3, write: true, run: register},
		"LOGIN":            {usage: `\tuser\tpass`, nfields: 3, run: login},
		"ADD_FRIEND":       {usage: `\tuser\tpeer`, nfields: 3, write: true, run: addFriend},
		"REMOVE_FRIEND":    {usage: `\tuser\tpeer`, nfields: 3, write: true, run: removeFriend},
		"LIST_FRIENDS":     {usage: `\tuser`, nfields: 2, run: listFriends},
		"CREATE_GROUP":     {usage: `\tuser\tgroup`, nfields: 3, write: true, run: createGroup},
		"JOIN_GROUP":       {usage: `\tuser\tgroup`, nfields: 3, write: true, run: joinGroup},
		"GROUP_MEMBERS":    {usage: `\tgroup`, nfields: 2, run: groupMembers},
		"SEND_DM":          {usage: `\tfrom\tto\ttext`, nfields: 4, variadic: true, write: true, run: sendDm},
		"REPLY_DM":         {usage: `\tfrom\tto\treply_id\ttext`, nfields: 5, variadic: true, write: true, run: replyDm},
		"DELETE_DM":        {usage: `\tuser\tpeer\tid`, nfields: 4, write: true, run: deleteDm},
		"GET_DM":           {usage: `\tuser\tpeer`, nfields: 3, run: getDm},
		"SEND_GROUP":       {usage: `\tfrom\tgroup\ttext`, nfields: 4, variadic: true, write: true, run: sendGroup},
		"REPLY_GROUP":      {usage: `\tfrom\tgroup\treply_id\ttext`, nfields: 5, variadic: true, write: true, run: replyGroup},
		"DELETE_GROUP_MSG": {usage: `\tuser\tgroup\tid`, nfields: 4, write: true, run: deleteGroupMsg},
		"GET_GROUP":        {usage: `\tgroup`, nfields: 2, run: getGroup},
	}
}

func ping(_ *ChatApi, _ *chatstore.State, _ []string) reply {
	return okReply("PONG")
}

func register(_ *ChatApi, s *chatstore.State, args []string) reply {
	user, pass := args[0], args[1]
	if !chatstore.ValidName(user) {
		return errReply(errBadName)
	}
	if _, ok := s.Users[user]; ok {
		return errReply(errUserExists)
	}
	s.Users[user] = chatstore.NewUser(user, pass)
	return okReply("registered")
}

func login(a *ChatApi, s *chatstore.State, args []string) reply {
	u, ok := s.Users[args[0]]
	if !ok || !a.checker.Check(u.Password, args[1]) {
		return errReply(errBadCredentials)
	}
	return okReply("logged")
}

func addFriend(_ *ChatApi, s *chatstore.State, args []string) reply {
	u, ok1 := s.Users[args[0]]
	peer, ok2 := s.Users[args[1]]
	if !ok1 || !ok2 || u == peer {
		return errReply(errBadUsers)
	}
	u.Friends[peer.Username] = struct{}{}
	peer.Friends[u.Username] = struct{}{}
	return okReply("friend added")
}

func removeFriend(_ *ChatApi, s *chatstore.State, args []string) reply {
	u, ok := s.Users[args[0]]
	if !ok {
		return errReply(errUnknownUser)
	}
	delete(u.Friends, args[1])
	if peer, ok := s.Users[args[1]]; ok {
		delete(peer.Friends, u.Username)
	}
	return okReply("friend removed")
}

func listFriends(_ *ChatApi, s *chatstore.State, args []string) reply {
	u, ok := s.Users[args[0]]
	if !ok {
		return errReply(errUnknownUser)
	}
	return okReply(strings.Join(chatstore.SortedSet(u.Friends), ","))
}

func createGroup(_ *ChatApi, s *chatstore.State, args []string) reply {
	user, name := args[0], args[1]
	if _, ok := s.Users[user]; !ok {
		return errReply(errUnknownUser)
	}
	if !chatstore.ValidName(name) {
		return errReply(errBadName)
	}
	if _, ok := s.Groups[name]; ok {
		return errReply(errGroupExists)
	}
	g := chatstore.NewGroup(name)
	g.Members[user] = struct{}{}
	s.Groups[name] = g
	return okReply("group created")
}

func joinGroup(_ *ChatApi, s *chatstore.State, args []string) reply {
	user := args[0]
	if _, ok := s.Users[user]; !ok {
		return errReply(errUnknownUser)
	}
	g, ok := s.Groups[args[1]]
	if !ok {
		return errReply(errGroupNotFound)
	}
	g.Members[user] = struct{}{}
	return okReply("joined")
}

func groupMembers(_ *ChatApi, s *chatstore.State, args []string) reply {
	g, ok := s.Groups[args[0]]
	if !ok {
		return errReply(errGroupNotFound)
	}
	return okReply(strings.Join(chatstore.SortedSet(g.Members), ","))
}

func sendDm(a *ChatApi, s *chatstore.State, args []string) reply {
	from, to, text := args[0], args[1], args[2]
	u, ok1 := s.Users[from]
	_, ok2 := s.Users[to]
	if !ok1 || !ok2 {
		return errReply(errUnknownUser)
	}
	if _, ok := u.Friends[to]; !ok {
		return errReply(errNotFriends)
	}
	key := chatstore.DmKey(from, to)
	m := a.newMessage(s, from, text, nil)
	s.DMs[key] = append(s.DMs[key], m)
	return okReply(idString(m.Id), dmEvent(notify.TypeDmNew, key, &m))
}

func replyDm(a *ChatApi, s *chatstore.State, args []string) reply {
	from, to, text := args[0], args[1], args[3]
	replyId, err := parseId(args[2])
	if err != nil {
		return errReply(errBadId)
	}
	key := chatstore.DmKey(from, to)
	msgs := s.DMs[key]
	if chatstore.FindMessage(msgs, replyId) < 0 {
		return errReply(errReplyNotFound)
	}
	m := a.newMessage(s, from, text, &replyId)
	s.DMs[key] = append(msgs, m)
	return okReply(idString(m.Id), dmEvent(notify.TypeDmNew, key, &m))
}

func deleteDm(_ *ChatApi, s *chatstore.State, args []string) reply {
	user := args[0]
	id, err := parseId(args[2])
	if err != nil {
		return errReply(errBadId)
	}
	key := chatstore.DmKey(user, args[1])
	msgs := s.DMs[key]
	i := chatstore.FindMessage(msgs, id)
	if i < 0 {
		return errReply(errMessageNotFound)
	}
	if msgs[i].From != user {
		return errReply(errNotOwner)
	}
	m := msgs[i]
	if rest := removeAt(msgs, i); rest != nil {
		s.DMs[key] = rest
	} else {
		delete(s.DMs, key)
	}
	return okReply("deleted", dmEvent(notify.TypeDmDeleted, key, &m))
}

func getDm(_ *ChatApi, s *chatstore.State, args []string) reply {
	return okReply(store.SerializeMessages(s.DMs[chatstore.DmKey(args[0], args[1])]))
}

func sendGroup(a *ChatApi, s *chatstore.State, args []string) reply {
	from, text := args[0], args[2]
	g, ok := s.Groups[args[1]]
	if !ok {
		return errReply(errGroupNotFound)
	}
	if _, ok := g.Members[from]; !ok {
		return errReply(errNotMember)
	}
	m := a.newMessage(s, from, text, nil)
	g.Messages = append(g.Messages, m)
	return okReply(idString(m.Id), groupEvent(notify.TypeGroupNew, g, &m))
}

// Membership is not checked for replies: the reply target existing in the group is enough.
func replyGroup(a *ChatApi, s *chatstore.State, args []string) reply {
	from, text := args[0], args[3]
	g, ok := s.Groups[args[1]]
	if !ok {
		return errReply(errGroupNotFound)
	}
	replyId, err := parseId(args[2])
	if err != nil {
		return errReply(errBadId)
	}
	if chatstore.FindMessage(g.Messages, replyId) < 0 {
		return errReply(errReplyNotFound)
	}
	m := a.newMessage(s, from, text, &replyId)
	g.Messages = append(g.Messages, m)
	return okReply(idString(m.Id), groupEvent(notify.TypeGroupNew, g, &m))
}

func deleteGroupMsg(_ *ChatApi, s *chatstore.State, args []string) reply {
	user := args[0]
	g, ok := s.Groups[args[1]]
	if !ok {
		return errReply(errGroupNotFound)
	}
	id, err := parseId(args[2])
	if err != nil {
		return errReply(errBadId)
	}
	i := chatstore.FindMessage(g.Messages, id)
	if i < 0 {
		return errReply(errMessageNotFound)
	}
	if g.Messages[i].From != user {
		return errReply(errNotOwner)
	}
	m := g.Messages[i]
	g.Messages = removeAt(g.Messages, i)
	return okReply("deleted", groupEvent(notify.TypeGroupDeleted, g, &m))
}

func getGroup(_ *ChatApi, s *chatstore.State, args []string) reply {
	g, ok := s.Groups[args[0]]
	if !ok {
		return errReply(errGroupNotFound)
	}
	return okReply(store.SerializeMessages(g.Messages))
}

// newMessage consumes the next id of s.
func (a *ChatApi) newMessage(s *chatstore.State, from, text string, replyTo *int64) chatstore.Message {
	m := chatstore.Message{
		Id:        s.NextMessageId,
		From:      from,
		Text:      text,
		Timestamp: a.timestamp(),
		ReplyTo:   replyTo,
	}
	s.NextMessageId++
	return m
}

// removeAt drops msgs[i], in place. An emptied thread becomes nil: empty threads are not stored.
func removeAt(msgs []chatstore.Message, i int) []chatstore.Message {
	msgs = append(msgs[:i], msgs[i+1:]...)
	if len(msgs) == 0 {
		return nil
	}
	return msgs
}

func parseId(s string) (int64, error) {
	return strconv.ParseInt(s, 10, 64)
}

func idString(id int64) string {
	return strconv.FormatInt(id, 10)
}

func dmEvent(typ, key string, m *chatstore.Message) *notify.Event {
	a, b, _ := chatstore.SplitDmKey(key)
	return newEvent(typ, key, []string{a, b}, m)
}

func groupEvent(typ string, g *chatstore.Group, m *chatstore.Message) *notify.Event {
	return newEvent(typ, g.Name, chatstore.SortedSet(g.Members), m)
}

func newEvent(typ, thread string, to []string, m *chatstore.Message) *notify.Event {
	e := &notify.Event{
		Type:    typ,
		Thread:  thread,
		Id:      m.Id,
		From:    m.From,
		To:      to,
		ReplyTo: m.ReplyTo,
		Time:    m.Timestamp,
	}
	if typ == notify.TypeDmNew || typ == notify.TypeGroupNew {
		e.Text = m.Text
	}
	return e
}
