package store

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/golang/glog"

	"github.com/mqy/gptmessenger/chatstore"
)

const defaultSaveAttempts = 3

// FileSink rewrites the whole state file on every save.
type FileSink struct {
	path     string
	attempts int
	sleep    func(time.Duration)
}

func NewFileSink(path string) *FileSink {
	return &FileSink{
		path:     path,
		attempts: defaultSaveAttempts,
		sleep:    time.Sleep,
	}
}

func (s *FileSink) Path() string {
	return s.path
}

// Save encodes st and replaces the file, retrying with backoff before giving up.
func (s *FileSink) Save(st *chatstore.State) error {
	data := Encode(st)

	var sleep time.Duration
	var err error
	for attempt := 1; ; attempt++ {
		if err = writeFileAtomic(s.path, data); err == nil {
			glog.V(5).Infof("store: saved %d bytes to %s", len(data), s.path)
			return nil
		}
		glog.Errorf("store: save %s attempt %d/%d error: %v", s.path, attempt, s.attempts, err)
		if attempt >= s.attempts {
			break
		}
		backoff(&sleep)
		s.sleep(sleep)
	}
	return fmt.Errorf("%w: %s: %v", ErrSave, s.path, err)
}

// writeFileAtomic writes into a temp file next to path then renames it over path, so readers
// never see a partial file.
func writeFileAtomic(path string, data []byte) error {
	dir, name := filepath.Split(path)
	if dir == "" {
		dir = "."
	}
	f, err := os.CreateTemp(dir, "."+name+".tmp-*")
	if err != nil {
		return err
	}
	tmp := f.Name()
	defer func() {
		if tmp != "" {
			_ = os.Remove(tmp)
		}
	}()

	if _, err := f.Write(data); err != nil {
		f.Close()
		return err
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	if err := os.Chmod(tmp, 0600); err != nil {
		return err
	}
	if err := os.Rename(tmp, path); err != nil {
		return err
	}
	tmp = ""
	return nil
}
