package chatstore

import (
	"sort"
	"strings"
)

// DmKeySep joins the two participants of a direct thread.
const DmKeySep = "|"

// TimeLayout is the layout of Message.Timestamp.
const TimeLayout = "2006-01-02 15:04:05"

type Message struct {
	Id        int64
	From      string
	Text      string
	Timestamp string
	ReplyTo   *int64 // nil: not a reply
}

type User struct {
	Username string
	Password string
	Friends  map[string]struct{}
}

type Group struct {
	Name     string
	Members  map[string]struct{}
	Messages []Message
}

// State is everything that is persisted. It has no locking of its own: the owner serializes
// access.
type State struct {
	Users  map[string]*User
	Groups map[string]*Group
	// canonical dm key -> thread in send order.
	DMs map[string][]Message

	NextMessageId int64
}

func NewState() *State {
	return &State{
		Users:         make(map[string]*User),
		Groups:        make(map[string]*Group),
		DMs:           make(map[string][]Message),
		NextMessageId: 1,
	}
}

func NewUser(username, password string) *User {
	return &User{
		Username: username,
		Password: password,
		Friends:  make(map[string]struct{}),
	}
}

func NewGroup(name string) *Group {
	return &Group{
		Name:    name,
		Members: make(map[string]struct{}),
	}
}

// DmKey returns the order independent key of the direct thread between a and b.
func DmKey(a, b string) string {
	if a > b {
		a, b = b, a
	}
	return a + DmKeySep + b
}

// SplitDmKey is the inverse of DmKey.
func SplitDmKey(key string) (string, string, bool) {
	return strings.Cut(key, DmKeySep)
}

// SortedSet returns the members of set in ascending order.
func SortedSet(set map[string]struct{}) []string {
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// FindMessage returns the index of message `id` in msgs, or -1.
func FindMessage(msgs []Message, id int64) int {
	for i := range msgs {
		if msgs[i].Id == id {
			return i
		}
	}
	return -1
}

// Clone returns a deep copy of s.
func (s *State) Clone() *State {
	out := &State{
		Users:         make(map[string]*User, len(s.Users)),
		Groups:        make(map[string]*Group, len(s.Groups)),
		DMs:           make(map[string][]Message, len(s.DMs)),
		NextMessageId: s.NextMessageId,
	}
	for name, u := range s.Users {
		out.Users[name] = &User{
			Username: u.Username,
			Password: u.Password,
			Friends:  cloneSet(u.Friends),
		}
	}
	for name, g := range s.Groups {
		out.Groups[name] = &Group{
			Name:     g.Name,
			Members:  cloneSet(g.Members),
			Messages: cloneMessages(g.Messages),
		}
	}
	for key, msgs := range s.DMs {
		out.DMs[key] = cloneMessages(msgs)
	}
	return out
}

func cloneSet(set map[string]struct{}) map[string]struct{} {
	out := make(map[string]struct{}, len(set))
	for k := range set {
		out[k] = struct{}{}
	}
	return out
}

func cloneMessages(msgs []Message) []Message {
	if msgs == nil {
		return nil
	}
	out := make([]Message, len(msgs))
	for i, m := range msgs {
		if m.ReplyTo != nil {
			v := *m.ReplyTo
			m.ReplyTo = &v
		}
		out[i] = m
	}
	return out
}
