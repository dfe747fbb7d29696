package store

import (
	"bytes"
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"

	"github.com/mqy/gptmessenger/chatstore"
)

const (
	sectionMeta          = "[meta]"
	sectionUsers         = "[users]"
	sectionGroups        = "[groups]"
	sectionDM            = "[dm]"
	sectionGroupMessages = "[group_messages]"

	noReply = "-"
)

// MalformedRecordError reports a record of the state file that can not be decoded.
type MalformedRecordError struct {
	Line    int // 1 based
	Section string
	Reason  string
}

func (e *MalformedRecordError) Error() string {
	return fmt.Sprintf("malformed record at line %d in section %s: %s", e.Line, e.Section, e.Reason)
}

// LoadFile reads and decodes the state file at path. A missing file yields an empty state.
func LoadFile(path string) (*chatstore.State, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return chatstore.NewState(), nil
		}
		return nil, fmt.Errorf("read state file: %w", err)
	}
	return Decode(data)
}

// Decode parses the sectioned state file format.
func Decode(raw []byte) (*chatstore.State, error) {
	s := chatstore.NewState()
	var maxId int64
	var section string

	lines := strings.Split(string(raw), "\n")
	for i, line := range lines {
		line = strings.TrimSuffix(line, "\r")
		if strings.HasPrefix(line, "[") {
			section = line
			continue
		}
		if line == "" {
			continue
		}

		malformed := func(format string, args ...interface{}) error {
			return &MalformedRecordError{Line: i + 1, Section: section, Reason: fmt.Sprintf(format, args...)}
		}

		switch section {
		case sectionMeta:
			n, err := strconv.ParseInt(strings.TrimSpace(line), 10, 64)
			if err != nil || n < 0 {
				return nil, malformed("bad next message id %q", line)
			}
			s.NextMessageId = n
		case sectionUsers:
			fields := strings.SplitN(line, "\t", 3)
			if fields[0] == "" {
				return nil, malformed("empty username")
			}
			u := chatstore.NewUser(fields[0], "")
			if len(fields) > 1 {
				u.Password = unescapeText(fields[1])
			}
			if len(fields) > 2 {
				addAll(u.Friends, fields[2])
			}
			s.Users[u.Username] = u
		case sectionGroups:
			fields := strings.SplitN(line, "\t", 2)
			if fields[0] == "" {
				return nil, malformed("empty group name")
			}
			g := groupOf(s, fields[0])
			if len(fields) > 1 {
				addAll(g.Members, fields[1])
			}
		case sectionDM, sectionGroupMessages:
			fields := strings.SplitN(line, "\t", 6)
			if len(fields) < 5 || fields[0] == "" {
				return nil, malformed("expect 6 tab separated fields, got %d", len(fields))
			}
			m, err := decodeMessage(fields[1:])
			if err != nil {
				return nil, malformed("%v", err)
			}
			if m.Id > maxId {
				maxId = m.Id
			}
			if section == sectionDM {
				s.DMs[fields[0]] = append(s.DMs[fields[0]], m)
			} else {
				g := groupOf(s, fields[0])
				g.Messages = append(g.Messages, m)
			}
		default:
			// rows of unknown sections are skipped.
		}
	}

	if s.NextMessageId <= maxId {
		s.NextMessageId = maxId + 1
	}
	if s.NextMessageId < 1 {
		s.NextMessageId = 1
	}
	return s, nil
}

// fields: id, from, timestamp, reply, [text]
func decodeMessage(fields []string) (chatstore.Message, error) {
	var m chatstore.Message
	id, err := strconv.ParseInt(fields[0], 10, 64)
	if err != nil {
		return m, fmt.Errorf("bad message id %q", fields[0])
	}
	m.Id = id
	m.From = unescapeText(fields[1])
	m.Timestamp = fields[2]
	if fields[3] != noReply {
		reply, err := strconv.ParseInt(fields[3], 10, 64)
		if err != nil {
			return m, fmt.Errorf("bad reply id %q", fields[3])
		}
		m.ReplyTo = &reply
	}
	if len(fields) > 4 {
		m.Text = unescapeText(fields[4])
	}
	return m, nil
}

func groupOf(s *chatstore.State, name string) *chatstore.Group {
	g, ok := s.Groups[name]
	if !ok {
		g = chatstore.NewGroup(name)
		s.Groups[name] = g
	}
	return g
}

func addAll(set map[string]struct{}, csv string) {
	for _, v := range strings.Split(csv, ",") {
		if v != "" {
			set[v] = struct{}{}
		}
	}
}

// Encode renders s in the sectioned state file format. Output is deterministic: users, groups
// and threads are sorted by key, messages keep thread order.
func Encode(s *chatstore.State) []byte {
	var b bytes.Buffer

	b.WriteString(sectionMeta + "\n")
	b.WriteString(strconv.FormatInt(s.NextMessageId, 10) + "\n")

	b.WriteString(sectionUsers + "\n")
	for _, name := range sortedKeys(s.Users) {
		u := s.Users[name]
		b.WriteString(name + "\t" + escapeText(u.Password) + "\t" + strings.Join(chatstore.SortedSet(u.Friends), ",") + "\n")
	}

	b.WriteString(sectionGroups + "\n")
	groupNames := sortedKeys(s.Groups)
	for _, name := range groupNames {
		g := s.Groups[name]
		b.WriteString(name + "\t" + strings.Join(chatstore.SortedSet(g.Members), ",") + "\n")
	}

	b.WriteString(sectionDM + "\n")
	for _, key := range sortedKeys(s.DMs) {
		for _, m := range s.DMs[key] {
			encodeMessage(&b, key, &m)
		}
	}

	b.WriteString(sectionGroupMessages + "\n")
	for _, name := range groupNames {
		for _, m := range s.Groups[name].Messages {
			encodeMessage(&b, name, &m)
		}
	}
	return b.Bytes()
}

func encodeMessage(b *bytes.Buffer, thread string, m *chatstore.Message) {
	reply := noReply
	if m.ReplyTo != nil {
		reply = strconv.FormatInt(*m.ReplyTo, 10)
	}
	b.WriteString(thread)
	b.WriteByte('\t')
	b.WriteString(strconv.FormatInt(m.Id, 10))
	b.WriteByte('\t')
	b.WriteString(escapeText(m.From))
	b.WriteByte('\t')
	b.WriteString(m.Timestamp)
	b.WriteByte('\t')
	b.WriteString(reply)
	b.WriteByte('\t')
	b.WriteString(escapeText(m.Text))
	b.WriteByte('\n')
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
