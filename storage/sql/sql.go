// Package sql is a storage.Storage backed by Postgres.
package sql

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/golang/protobuf/proto"
	"github.com/pardot/oidc-compliance/storage"
)

var _ storage.Storage = (*Storage)(nil)
var _ storage.Sweeper = (*Storage)(nil)

// Storage keeps all keyspaces in a single grants table.
type Storage struct {
	db *sql.DB
}

// New runs any outstanding migrations against db, and returns a Storage
// using it.
func New(ctx context.Context, db *sql.DB) (*Storage, error) {
	s := &Storage{
		db: db,
	}

	if err := s.migrate(ctx); err != nil {
		return nil, fmt.Errorf("migrating database: %w", err)
	}

	return s, nil
}

func (s *Storage) migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(
		ctx,
		`create table if not exists migrations (
		idx int primary key not null,
		at timestamptz not null
		);`,
	); err != nil {
		return err
	}

	return s.execTx(ctx, func(ctx context.Context, tx *sql.Tx) error {
		// serialize concurrent instances starting up
		if _, err := tx.ExecContext(ctx, `lock table migrations in exclusive mode`); err != nil {
			return err
		}

		var maxIdx sql.NullInt64
		if err := tx.QueryRowContext(ctx, `select max(idx) from migrations;`).Scan(&maxIdx); err != nil {
			return err
		}

		i := 0
		if maxIdx.Valid {
			i = int(maxIdx.Int64) + 1
		}

		for ; i < len(migrations); i++ {
			if _, err := tx.ExecContext(ctx, migrations[i]); err != nil {
				return fmt.Errorf("migration %d: %w", i, err)
			}

			if _, err := tx.ExecContext(ctx, `insert into migrations (idx, at) values ($1, now());`, i); err != nil {
				return err
			}
		}

		return nil
	})
}

func (s *Storage) Get(ctx context.Context, keyspace, key string, into proto.Message) (version int64, err error) {
	var value []byte
	if err := s.db.QueryRowContext(
		ctx,
		`select version, value from grants where keyspace=$1 and key=$2 and (expires is null or expires > now())`,
		keyspace, key,
	).Scan(&version, &value); err != nil {
		if err == sql.ErrNoRows {
			return 0, &storage.NotFoundError{Keyspace: keyspace, Key: key}
		}

		return 0, err
	}

	if err := proto.Unmarshal(value, into); err != nil {
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

// putWithOptionalExpiry writes the row inside a transaction. An expired row
// counts as version 0, and is replaced in place.
func (s *Storage) putWithOptionalExpiry(ctx context.Context, keyspace, key string, version int64, obj proto.Message, expires *time.Time) (newVersion int64, err error) {
	value, err := proto.Marshal(obj)
	if err != nil {
		return 0, err
	}

	newVersion = version + 1

	err = s.execTx(ctx, func(ctx context.Context, tx *sql.Tx) error {
		var (
			stored int64
			live   bool
		)
		err := tx.QueryRowContext(
			ctx,
			`select version, (expires is null or expires > now()) from grants where keyspace=$1 and key=$2 for update`,
			keyspace, key,
		).Scan(&stored, &live)
		if err != nil && err != sql.ErrNoRows {
			return err
		}
		exists := err == nil

		var current int64
		if exists && live {
			current = stored
		}
		if current != version {
			return &storage.ConflictError{Keyspace: keyspace, Key: key, Want: version, Have: current}
		}

		var res sql.Result
		if exists {
			res, err = tx.ExecContext(
				ctx,
				`update grants set version=$3, value=$4, expires=$5 where keyspace=$1 and key=$2 and version=$6`,
				keyspace, key, newVersion, value, expires, stored,
			)
		} else {
			res, err = tx.ExecContext(
				ctx,
				`insert into grants (keyspace, key, version, value, expires)
				values ($1, $2, $3, $4, $5)
				on conflict (keyspace, key) do nothing`,
				keyspace, key, newVersion, value, expires,
			)
		}
		if err != nil {
			return err
		}

		rowsAffected, err := res.RowsAffected()
		if err != nil {
			return err
		} else if rowsAffected == 0 {
			// lost a race with a concurrent writer
			return &storage.ConflictError{Keyspace: keyspace, Key: key, Want: version, Have: -1}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}

	return newVersion, nil
}

func (s *Storage) List(ctx context.Context, keyspace string) (keys []string, err error) {
	rows, err := s.db.QueryContext(
		ctx,
		`select key from grants
		where keyspace=$1 and (expires is null or expires > now())`,
		keyspace,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	keys = []string{}
	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			return nil, err
		}

		keys = append(keys, key)
	}

	return keys, rows.Err()
}

func (s *Storage) Delete(ctx context.Context, keyspace, key string, version int64) error {
	return s.execTx(ctx, func(ctx context.Context, tx *sql.Tx) error {
		var current int64
		if err := tx.QueryRowContext(
			ctx,
			`select version from grants where keyspace=$1 and key=$2 and (expires is null or expires > now()) for update`,
			keyspace, key,
		).Scan(&current); err != nil {
			if err == sql.ErrNoRows {
				return &storage.NotFoundError{Keyspace: keyspace, Key: key}
			}
			return err
		}

		if current != version {
			return &storage.ConflictError{Keyspace: keyspace, Key: key, Want: version, Have: current}
		}

		_, err := tx.ExecContext(ctx, `delete from grants where keyspace=$1 and key=$2`, keyspace, key)
		return err
	})
}

func (s *Storage) DeleteExpired(ctx context.Context) (int, error) {
	res, err := s.db.ExecContext(ctx, `delete from grants where expires <= now()`)
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	return int(n), err
}

func (s *Storage) execTx(ctx context.Context, f func(ctx context.Context, tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}

	if err := f(ctx, tx); err != nil {
		// Not much we can do about an error here, but at least the database will
		// eventually cancel it on its own if it fails
		_ = tx.Rollback()
		return err
	}

	return tx.Commit()
}

var migrations = []string{
	`create table grants(
		keyspace text not null,
		key text not null,
		version bigint not null,
		value bytea not null,
		expires timestamptz,
		primary key(keyspace, key)
	);

	create index grants_expires on grants (expires);
	`,
}
