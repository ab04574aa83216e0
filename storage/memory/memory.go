// Package memory is an in-process storage.Storage.
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/golang/protobuf/proto"
	"github.com/pardot/oidc-compliance/storage"
)

var _ storage.Storage = (*Storage)(nil)
var _ storage.Sweeper = (*Storage)(nil)

// Storage is an in-memory implementation of storage.Storage. It should only be
// used for testing or single instance deployments, all grants are lost when
// the process ends.
type Storage struct {
	mu sync.Mutex
	m  map[string]map[string]*record

	now func() time.Time
}

type record struct {
	version int64
	data    []byte
	expires *time.Time
}

func (r *record) expired(now time.Time) bool {
	return r.expires != nil && !now.Before(*r.expires)
}

func New() *Storage {
	return &Storage{
		m:   make(map[string]map[string]*record),
		now: time.Now,
	}
}

// live returns the unexpired record for the key, if there is one.
func (s *Storage) live(keyspace, key string) (*record, bool) {
	r, ok := s.m[keyspace][key]
	if !ok || r.expired(s.now()) {
		return nil, false
	}
	return r, true
}

func (s *Storage) Get(_ context.Context, keyspace, key string, into proto.Message) (version int64, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.live(keyspace, key)
	if !ok {
		return 0, &storage.NotFoundError{Keyspace: keyspace, Key: key}
	}

	if err := proto.Unmarshal(r.data, into); err != nil {
		return 0, err
	}

	return r.version, nil
}

func (s *Storage) Put(ctx context.Context, keyspace, key string, version int64, obj proto.Message) (newVersion int64, err error) {
	return s.putWithOptionalExpiry(ctx, keyspace, key, version, obj, nil)
}

func (s *Storage) PutWithExpiry(ctx context.Context, keyspace, key string, version int64, obj proto.Message, expires time.Time) (newVersion int64, err error) {
	return s.putWithOptionalExpiry(ctx, keyspace, key, version, obj, &expires)
}

func (s *Storage) putWithOptionalExpiry(_ context.Context, keyspace, key string, version int64, obj proto.Message, expires *time.Time) (newVersion int64, err error) {
	data, err := proto.Marshal(obj)
	if err != nil {
		return 0, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var current int64
	if r, ok := s.live(keyspace, key); ok {
		current = r.version
	}
	if current != version {
		return 0, &storage.ConflictError{Keyspace: keyspace, Key: key, Want: version, Have: current}
	}

	mm, ok := s.m[keyspace]
	if !ok {
		mm = make(map[string]*record)
		s.m[keyspace] = mm
	}
	mm[key] = &record{
		version: current + 1,
		data:    data,
		expires: expires,
	}

	return current + 1, nil
}

func (s *Storage) List(_ context.Context, keyspace string) (keys []string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	keys = []string{}
	for k, r := range s.m[keyspace] {
		if !r.expired(now) {
			keys = append(keys, k)
		}
	}

	return keys, nil
}

func (s *Storage) Delete(_ context.Context, keyspace, key string, version int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.live(keyspace, key)
	if !ok {
		return &storage.NotFoundError{Keyspace: keyspace, Key: key}
	}

	if r.version != version {
		return &storage.ConflictError{Keyspace: keyspace, Key: key, Want: version, Have: r.version}
	}

	delete(s.m[keyspace], key)
	return nil
}

func (s *Storage) DeleteExpired(_ context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	var n int
	for _, mm := range s.m {
		for k, r := range mm {
			if r.expired(now) {
				delete(mm, k)
				n++
			}
		}
	}
	return n, nil
}
