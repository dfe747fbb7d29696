package store

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/mqy/gptmessenger/chatstore"
)

var ErrBadPayload = errors.New("bad message list payload")

var fieldEscaper = strings.NewReplacer(`\`, `\\`, `|`, `\|`, `;`, `\;`, `,`, `\,`)

// EscapeField prefixes every `\`, `|`, `;` and `,` in s with a backslash.
func EscapeField(s string) string {
	return fieldEscaper.Replace(s)
}

// SerializeMessages renders msgs as the GET_DM / GET_GROUP reply payload:
// `id,from,timestamp,reply_or_dash,text` records joined by `;`.
func SerializeMessages(msgs []chatstore.Message) string {
	var b strings.Builder
	for i, m := range msgs {
		if i > 0 {
			b.WriteByte(';')
		}
		b.WriteString(strconv.FormatInt(m.Id, 10))
		b.WriteByte(',')
		b.WriteString(EscapeField(m.From))
		b.WriteByte(',')
		b.WriteString(EscapeField(m.Timestamp))
		b.WriteByte(',')
		if m.ReplyTo != nil {
			b.WriteString(strconv.FormatInt(*m.ReplyTo, 10))
		} else {
			b.WriteString(noReply)
		}
		b.WriteByte(',')
		b.WriteString(EscapeField(m.Text))
	}
	return b.String()
}

// ParseMessages is the inverse of SerializeMessages.
func ParseMessages(payload string) ([]chatstore.Message, error) {
	if payload == "" {
		return nil, nil
	}
	var out []chatstore.Message
	for _, record := range splitEscaped(payload, ';') {
		fields := splitEscaped(record, ',')
		if len(fields) != 5 {
			return nil, fmt.Errorf("%w: record %q has %d fields", ErrBadPayload, record, len(fields))
		}
		id, err := strconv.ParseInt(fields[0], 10, 64)
		if err != nil {
			return nil, fmt.Errorf("%w: bad id %q", ErrBadPayload, fields[0])
		}
		m := chatstore.Message{
			Id:        id,
			From:      unescapeField(fields[1]),
			Timestamp: unescapeField(fields[2]),
			Text:      unescapeField(fields[4]),
		}
		if fields[3] != noReply {
			reply, err := strconv.ParseInt(fields[3], 10, 64)
			if err != nil {
				return nil, fmt.Errorf("%w: bad reply id %q", ErrBadPayload, fields[3])
			}
			m.ReplyTo = &reply
		}
		out = append(out, m)
	}
	return out, nil
}

// splitEscaped splits s at every sep that is not preceded by an escaping backslash. The parts
// keep their escapes.
func splitEscaped(s string, sep byte) []string {
	var parts []string
	start := 0
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case '\\':
			i++
		case sep:
			parts = append(parts, s[start:i])
			start = i + 1
		}
	}
	return append(parts, s[start:])
}

func unescapeField(s string) string {
	if !strings.Contains(s, `\`) {
		return s
	}
	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); i++ {
		if s[i] == '\\' && i+1 < len(s) {
			i++
		}
		b.WriteByte(s[i])
	}
	return b.String()
}
