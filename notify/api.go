package notify

import (
	"context"

	"github.com/segmentio/kafka-go"
)

const (
	TypeDmNew        = "dm.new"
	TypeDmDeleted    = "dm.deleted"
	TypeGroupNew     = "group.new"
	TypeGroupDeleted = "group.deleted"
)

// Event is published for every committed message change. `To` lists the users who can read the
// thread.
type Event struct {
	Type    string   `json:"type"`
	Thread  string   `json:"thread"`
	Id      int64    `json:"id"`
	From    string   `json:"from,omitempty"`
	To      []string `json:"to,omitempty"`
	Text    string   `json:"text,omitempty"`
	ReplyTo *int64   `json:"reply_to,omitempty"`
	Time    string   `json:"time,omitempty"`
}

// INotifier must not block: it is called with the dispatcher lock held.
type INotifier interface {
	Publish(e *Event)
}

type IKafkaWriter interface {
	WriteMessages(context.Context, ...kafka.Message) error
	Close() error
}
