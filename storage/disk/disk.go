// Package disk is a storage.Storage persisted to a local bbolt database.
package disk

import (
	"bytes"
	"context"
	"encoding/gob"
	"fmt"
	"os"
	"time"

	"github.com/golang/protobuf/proto"
	"github.com/pardot/oidc-compliance/storage"
	bolt "go.etcd.io/bbolt"
)

var _ storage.Storage = (*Storage)(nil)
var _ storage.Sweeper = (*Storage)(nil)

type record struct {
	Version int64
	Data    []byte
	Expires *time.Time
}

func (r *record) expired(now time.Time) bool {
	return r.Expires != nil && !now.Before(*r.Expires)
}

func (r *record) encode() ([]byte, error) {
	buf := new(bytes.Buffer)
	err := gob.NewEncoder(buf).Encode(r)
	return buf.Bytes(), err
}

func decodeRecord(data []byte) (*record, error) {
	var r *record
	err := gob.NewDecoder(bytes.NewReader(data)).Decode(&r)
	return r, err
}

// Storage keeps each keyspace in its own bucket.
type Storage struct {
	db  *bolt.DB
	now func() time.Time
}

// New opens or creates the database at path.
func New(path string, mode os.FileMode) (*Storage, error) {
	db, err := bolt.Open(path, mode, &bolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", path, err)
	}
	return &Storage{db: db, now: time.Now}, nil
}

// Close releases the database file.
func (s *Storage) Close() error {
	return s.db.Close()
}

// liveRecord returns the unexpired record for key in b, or nil.
func (s *Storage) liveRecord(b *bolt.Bucket, key string) (*record, error) {
	if b == nil {
		return nil, nil
	}
	o := b.Get([]byte(key))
	if o == nil {
		return nil, nil
	}
	r, err := decodeRecord(o)
	if err != nil {
		return nil, fmt.Errorf("decoding %s: %w", key, err)
	}
	if r.expired(s.now()) {
		return nil, nil
	}
	return r, nil
}

func (s *Storage) Get(_ context.Context, keyspace, key string, into proto.Message) (version int64, err error) {
	err = s.db.View(func(tx *bolt.Tx) error {
		r, err := s.liveRecord(tx.Bucket([]byte(keyspace)), key)
		if err != nil {
			return err
		}
		if r == nil {
			return &storage.NotFoundError{Keyspace: keyspace, Key: key}
		}
		version = r.Version
		return proto.Unmarshal(r.Data, into)
	})
	if err != nil {
		return 0, err
	}
	return version, nil
}

func (s *Storage) Put(ctx context.Context, keyspace, key string, version int64, obj proto.Message) (newVersion int64, err error) {
	return s.putWithOptionalExpiry(ctx, keyspace, key, version, obj, nil)
}

func (s *Storage) PutWithExpiry(ctx context.Context, keyspace, key string, version int64, obj proto.Message, expires time.Time) (newVersion int64, err error) {
	return s.putWithOptionalExpiry(ctx, keyspace, key, version, obj, &expires)
}

func (s *Storage) putWithOptionalExpiry(_ context.Context, keyspace, key string, version int64, obj proto.Message, expires *time.Time) (newVersion int64, err error) {
	pb, err := proto.Marshal(obj)
	if err != nil {
		return 0, err
	}

	err = s.db.Update(func(tx *bolt.Tx) error {
		b, err := tx.CreateBucketIfNotExists([]byte(keyspace))
		if err != nil {
			return err
		}

		existing, err := s.liveRecord(b, key)
		if err != nil {
			return err
		}
		var current int64
		if existing != nil {
			current = existing.Version
		}
		if current != version {
			return &storage.ConflictError{Keyspace: keyspace, Key: key, Want: version, Have: current}
		}

		r := &record{
			Version: current + 1,
			Data:    pb,
			Expires: expires,
		}
		rb, err := r.encode()
		if err != nil {
			return err
		}
		if err := b.Put([]byte(key), rb); err != nil {
			return err
		}
		newVersion = r.Version
		return nil
	})
	if err != nil {
		return 0, err
	}
	return newVersion, nil
}

func (s *Storage) List(_ context.Context, keyspace string) ([]string, error) {
	keys := []string{}

	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(keyspace))
		if b == nil {
			return nil
		}
		now := s.now()
		return b.ForEach(func(k, v []byte) error {
			r, err := decodeRecord(v)
			if err != nil {
				return err
			}
			if !r.expired(now) {
				keys = append(keys, string(k))
			}
			return nil
		})
	})

	return keys, err
}

func (s *Storage) Delete(_ context.Context, keyspace, key string, version int64) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(keyspace))
		r, err := s.liveRecord(b, key)
		if err != nil {
			return err
		}
		if r == nil {
			return &storage.NotFoundError{Keyspace: keyspace, Key: key}
		}
		if r.Version != version {
			return &storage.ConflictError{Keyspace: keyspace, Key: key, Want: version, Have: r.Version}
		}
		return b.Delete([]byte(key))
	})
}

func (s *Storage) DeleteExpired(_ context.Context) (int, error) {
	var n int
	err := s.db.Update(func(tx *bolt.Tx) error {
		now := s.now()
		return tx.ForEach(func(_ []byte, b *bolt.Bucket) error {
			var expired [][]byte
			if err := b.ForEach(func(k, v []byte) error {
				r, err := decodeRecord(v)
				if err != nil {
					return err
				}
				if r.expired(now) {
					expired = append(expired, append([]byte(nil), k...))
				}
				return nil
			}); err != nil {
				return err
			}
			// keys can't be removed while iterating the bucket
			for _, k := range expired {
				if err := b.Delete(k); err != nil {
					return err
				}
			}
			n += len(expired)
			return nil
		})
	})
	return n, err
}
