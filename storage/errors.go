package storage

import (
	"errors"
	"fmt"
)

// NotFoundError is returned when an item does not exist, or has expired.
type NotFoundError struct {
	Keyspace string
	Key      string
}

func (n *NotFoundError) Error() string {
	return fmt.Sprintf("%s/%s not found", n.Keyspace, n.Key)
}

// ConflictError is returned when a write was made against a version that is
// not the current version of the item.
type ConflictError struct {
	Keyspace string
	Key      string
	// Want is the version the caller submitted, Have the stored version. Have
	// is -1 when the backend can not report it.
	Want int64
	Have int64
}

func (c *ConflictError) Error() string {
	if c.Have < 0 {
		return fmt.Sprintf("%s/%s version conflict at version %d", c.Keyspace, c.Key, c.Want)
	}
	return fmt.Sprintf("%s/%s version conflict, submitted version %d but current version is %d", c.Keyspace, c.Key, c.Want, c.Have)
}

// IsNotFoundErr checks to see if the passed error is because the item was not
// found, as opposed to an actual error state.
func IsNotFoundErr(err error) bool {
	var nf *NotFoundError
	return errors.As(err, &nf)
}

// IsConflictErr checks to see if the passed error occurred because of a
// version conflict.
func IsConflictErr(err error) bool {
	var c *ConflictError
	return errors.As(err, &c)
}
