package api

import (
	"strings"
	"sync"
	"time"

	"github.com/golang/glog"

	"github.com/mqy/gptmessenger/auth"
	"github.com/mqy/gptmessenger/chatstore"
	"github.com/mqy/gptmessenger/notify"
	"github.com/mqy/gptmessenger/store"
)

// ChatApi executes protocol command lines against the state it owns. Commands are serialized
// by one lock: validate, mutate, persist and reply never interleave between commands.
type ChatApi struct {
	sync.Mutex

	state    *chatstore.State
	sink     store.ISink
	checker  auth.Checker
	notifier notify.INotifier
	now      func() time.Time
}

type Option func(*ChatApi)

func WithNotifier(n notify.INotifier) Option {
	return func(a *ChatApi) { a.notifier = n }
}

func WithChecker(c auth.Checker) Option {
	return func(a *ChatApi) { a.checker = c }
}

func WithClock(now func() time.Time) Option {
	return func(a *ChatApi) { a.now = now }
}

// NewApi takes ownership of state; the caller must not touch it afterwards.
func NewApi(state *chatstore.State, sink store.ISink, opts ...Option) *ChatApi {
	a := &ChatApi{
		state:   state,
		sink:    sink,
		checker: auth.PlainChecker{},
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Handle executes one request line and returns the response line, without the terminator.
func (a *ChatApi) Handle(line string) string {
	start := time.Now()
	fields := splitFields(line)
	name := fields[0]

	var r reply
	cmd, ok := commands[name]
	switch {
	case line == "":
		name = ""
		r = errReply(errEmptyCommand)
	case strings.ContainsAny(line, "\r\n"):
		// state file records are single lines.
		r = errReply(errLineBreak)
	case !ok:
		r = errReply(errUnknownCommand)
	case !cmd.arityOk(len(fields)):
		r = errReply("usage " + name + cmd.usage)
	default:
		if cmd.variadic {
			fields = joinTail(fields, cmd.nfields)
		}
		r = a.exec(cmd, fields[1:])
	}

	observeCommand(name, r.ok, time.Since(start))
	glog.V(5).Infof("api: %q -> ok: %t %q", name, r.ok, r.payload)
	return r.String()
}

// Snapshot returns a deep copy of the current state.
func (a *ChatApi) Snapshot() *chatstore.State {
	a.Lock()
	defer a.Unlock()
	return a.state.Clone()
}

func (a *ChatApi) exec(cmd *command, args []string) reply {
	a.Lock()
	defer a.Unlock()

	if !cmd.write {
		return cmd.run(a, a.state, args)
	}

	// Mutations go to a copy that replaces the state only once it is persisted.
	next := a.state.Clone()
	r := cmd.run(a, next, args)
	if !r.ok {
		return r
	}

	start := time.Now()
	err := a.sink.Save(next)
	observePersist(err, time.Since(start))
	if err != nil {
		glog.Errorf("api: persist error, state unchanged: %v", err)
		return errReply(errStorage)
	}
	a.state = next

	if a.notifier != nil {
		for _, e := range r.events {
			a.notifier.Publish(e)
		}
	}
	return r
}

func (a *ChatApi) timestamp() string {
	return a.now().Format(chatstore.TimeLayout)
}

// splitFields splits line at tabs. A trailing empty field is dropped, so "SEND_DM\ta\tb\t"
// has three fields.
func splitFields(line string) []string {
	fields := strings.Split(line, "\t")
	if n := len(fields); n > 1 && fields[n-1] == "" {
		fields = fields[:n-1]
	}
	return fields
}

// joinTail folds fields[n-1:] into one field, so text keeps its tabs.
func joinTail(fields []string, n int) []string {
	if len(fields) <= n {
		return fields
	}
	out := append([]string(nil), fields[:n-1]...)
	return append(out, strings.Join(fields[n-1:], "\t"))
}
