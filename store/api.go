package store

import (
	"errors"

	"github.com/golang/glog"

	"github.com/mqy/gptmessenger/chatstore"
)

// ErrSave is wrapped by every error returned from a sink that gave up on saving.
var ErrSave = errors.New("save state")

// ISink persists full snapshots of the state. Save is called with the dispatcher lock held and
// must not retain `s` after returning.
type ISink interface {
	Save(s *chatstore.State) error
}

// multiSink saves into a primary sink and then into best effort mirrors.
type multiSink struct {
	primary ISink
	mirrors []ISink
}

// NewMultiSink returns a sink that fails only when `primary` fails. Mirror errors are logged.
func NewMultiSink(primary ISink, mirrors ...ISink) ISink {
	if len(mirrors) == 0 {
		return primary
	}
	return &multiSink{primary: primary, mirrors: mirrors}
}

func (m *multiSink) Save(s *chatstore.State) error {
	if err := m.primary.Save(s); err != nil {
		return err
	}
	for i, mirror := range m.mirrors {
		if err := mirror.Save(s); err != nil {
			glog.Errorf("store: mirror #%d save error: %v", i, err)
		}
	}
	return nil
}
