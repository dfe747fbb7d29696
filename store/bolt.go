package store

import (
	"encoding/binary"
	"errors"
	"fmt"
	"time"

	"go.etcd.io/bbolt"

	"github.com/mqy/gptmessenger/chatstore"
)

var snapshotBucket = []byte("snapshots")

// ErrNoSnapshot is returned by Latest when the bucket is empty.
var ErrNoSnapshot = errors.New("no snapshot")

// BoltSink mirrors encoded snapshots into a bbolt file and keeps the newest `keep` of them.
type BoltSink struct {
	db   *bbolt.DB
	keep int
}

func OpenBoltSink(path string, keep int) (*BoltSink, error) {
	if keep < 1 {
		return nil, fmt.Errorf("snapshot keep must be positive, got %d", keep)
	}
	db, err := bbolt.Open(path, 0600, &bbolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("open snapshot db %s: %w", path, err)
	}
	if err := db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(snapshotBucket)
		return err
	}); err != nil {
		db.Close()
		return nil, err
	}
	return &BoltSink{db: db, keep: keep}, nil
}

func (s *BoltSink) Save(st *chatstore.State) error {
	data := Encode(st)
	err := s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(snapshotBucket)
		seq, err := b.NextSequence()
		if err != nil {
			return err
		}
		var key [8]byte
		binary.BigEndian.PutUint64(key[:], seq)
		if err := b.Put(key[:], data); err != nil {
			return err
		}

		// keys are big endian sequences: cursor order is oldest first.
		var keys [][]byte
		c := b.Cursor()
		for k, _ := c.First(); k != nil; k, _ = c.Next() {
			keys = append(keys, append([]byte(nil), k...))
		}
		for i := 0; i < len(keys)-s.keep; i++ {
			if err := b.Delete(keys[i]); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("%w: snapshot: %v", ErrSave, err)
	}
	return nil
}

// Latest returns the newest snapshot, decoded.
func (s *BoltSink) Latest() (*chatstore.State, error) {
	var data []byte
	if err := s.db.View(func(tx *bbolt.Tx) error {
		_, v := tx.Bucket(snapshotBucket).Cursor().Last()
		if v == nil {
			return ErrNoSnapshot
		}
		data = append([]byte(nil), v...)
		return nil
	}); err != nil {
		return nil, err
	}
	return Decode(data)
}

// Count returns the number of kept snapshots.
func (s *BoltSink) Count() (int, error) {
	var n int
	err := s.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket(snapshotBucket).ForEach(func(k, v []byte) error {
			n++
			return nil
		})
	})
	return n, err
}

func (s *BoltSink) Close() error {
	return s.db.Close()
}
