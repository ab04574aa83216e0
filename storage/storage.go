// Package storage defines the persistence used for grant state: issued
// authorization codes, reference access tokens, refresh tokens and signing
// keys. Items are protobuf messages, grouped into keyspaces and guarded by an
// integer version for optimistic concurrency.
package storage

import (
	"context"
	"time"

	"github.com/golang/protobuf/proto"
)

// Storage is an interface used by the provider to maintain state.
type Storage interface {
	// Get returns the given item. If the item doesn't exist or has expired,
	// an IsNotFoundErr will be returned. The returned version should be
	// submitted with any updates to the returned object
	Get(ctx context.Context, keyspace, key string, into proto.Message) (version int64, err error)
	// Put stores the provided item. If this is an update to an existing object
	// it's version should be included, for new objects the version should be
	// 0. If the update fails because of a version conflict, an IsConflictErr
	// will be returned. An expired item is treated as not existing.
	Put(ctx context.Context, keyspace, key string, version int64, obj proto.Message) (newVersion int64, err error)
	// PutWithExpiry is a Put, with a time that the item should no longer
	// be accessible. This doesn't guarantee that the data will be deleted at
	// the time, but Get should not return it.
	PutWithExpiry(ctx context.Context, keyspace, key string, version int64, obj proto.Message, expires time.Time) (newVersion int64, err error)
	// List retrieves all unexpired keys in the given keyspace.
	List(ctx context.Context, keyspace string) (keys []string, err error)
	// Delete removes the item at the given version. If the item doesn't
	// exist, an IsNotFoundErr will be returned.
	Delete(ctx context.Context, keyspace, key string, version int64) error
}

// Sweeper is implemented by backends that can remove expired items in bulk.
type Sweeper interface {
	// DeleteExpired removes every item whose expiry has passed, returning the
	// number of items removed.
	DeleteExpired(ctx context.Context) (n int, err error)
}
