package storage

import (
	"context"
	"fmt"
	"testing"
	"time"

	structpb "github.com/golang/protobuf/ptypes/struct"
)

// Test runs the conformance suite against s. Backends call this from their
// own tests.
func Test(ctx context.Context, t *testing.T, s Storage) {
	// Subtests must either clean up after themselves or use a unique keyspace
	t.Run("testNonexistingGet", func(t *testing.T) { testNonexistingGet(ctx, t, s) })
	t.Run("testSetGetDelete", func(t *testing.T) { testSetGetDelete(ctx, t, s) })
	t.Run("testVersioning", func(t *testing.T) { testVersioning(ctx, t, s) })
	t.Run("testExpiry", func(t *testing.T) { testExpiry(ctx, t, s) })
	t.Run("testList", func(t *testing.T) { testList(ctx, t, s) })
	t.Run("testDeleteConflict", func(t *testing.T) { testDeleteConflict(ctx, t, s) })
	if sw, ok := s.(Sweeper); ok {
		t.Run("testDeleteExpired", func(t *testing.T) { testDeleteExpired(ctx, t, s, sw) })
	}
}

func strMsg(s string) *structpb.Struct {
	return &structpb.Struct{
		Fields: map[string]*structpb.Value{
			"value": {Kind: &structpb.Value_StringValue{StringValue: s}},
		},
	}
}

func msgStr(m *structpb.Struct) string {
	return m.GetFields()["value"].GetStringValue()
}

func testNonexistingGet(ctx context.Context, t *testing.T, s Storage) {
	_, err := s.Get(ctx, "testNonexistingGet", "nothing", &structpb.Struct{})
	if !IsNotFoundErr(err) {
		t.Errorf("Want: not found error, got %v", err)
	}
}

func testSetGetDelete(ctx context.Context, t *testing.T, s Storage) {
	h := "hello world"

	if _, err := s.Put(ctx, "testSetGetDelete", "setget", 0, strMsg(h)); err != nil {
		t.Fatalf("Want: no error, got %v", err)
	}

	msg := &structpb.Struct{}
	msgver, err := s.Get(ctx, "testSetGetDelete", "setget", msg)
	if err != nil {
		t.Fatalf("Want: no error, got %v", err)
	} else if msgStr(msg) != h {
		t.Errorf("want: %s got: %s", h, msgStr(msg))
	}

	if err := s.Delete(ctx, "testSetGetDelete", "setget", msgver); err != nil {
		t.Fatalf("Want: no error, got %v", err)
	}

	_, err = s.Get(ctx, "testSetGetDelete", "setget", msg)
	if !IsNotFoundErr(err) {
		t.Fatalf("Want: NotFoundError, got %v", err)
	}

	if err := s.Delete(ctx, "testSetGetDelete", "setget", msgver); !IsNotFoundErr(err) {
		t.Fatalf("Want: NotFoundError deleting twice, got %v", err)
	}
}

func testVersioning(ctx context.Context, t *testing.T, s Storage) {
	ver1 := "version1"
	ver2 := "version2"

	putver, err := s.Put(ctx, "testVersioning", "vers", 0, strMsg(ver1))
	if err != nil {
		t.Fatalf("Want: no error, got %v", err)
	}

	msg := &structpb.Struct{}
	vers, err := s.Get(ctx, "testVersioning", "vers", msg)
	if err != nil {
		t.Fatalf("Want: no error, got %v", err)
	}
	if vers != putver {
		t.Errorf("Want: get to return version %d, got %d", putver, vers)
	}

	_, err = s.Put(ctx, "testVersioning", "vers", 0, strMsg(ver2))
	if !IsConflictErr(err) {
		t.Errorf("Want: conflict error, got %v", err)
	}

	newver, err := s.Put(ctx, "testVersioning", "vers", vers, strMsg(ver2))
	if err != nil {
		t.Fatalf("Want: no error, got %v", err)
	}
	if newver <= vers {
		t.Errorf("Want: version to increase from %d, got %d", vers, newver)
	}

	// the old version is now stale
	if _, err := s.Put(ctx, "testVersioning", "vers", vers, strMsg(ver1)); !IsConflictErr(err) {
		t.Errorf("Want: conflict error on stale version, got %v", err)
	}

	_, err = s.Get(ctx, "testVersioning", "vers", msg)
	if err != nil {
		t.Fatalf("Want: no error, got %v", err)
	} else if msgStr(msg) != ver2 {
		t.Fatalf("Want: %s, got %s", ver2, msgStr(msg))
	}
}

func testExpiry(ctx context.Context, t *testing.T, s Storage) {
	_, err := s.PutWithExpiry(ctx, "testExpiry", "exp", 0, strMsg("exp"), time.Now().Add(1*time.Second))
	if err != nil {
		t.Fatalf("Want: no error, got %v", err)
	}

	msg := &structpb.Struct{}
	_, err = s.Get(ctx, "testExpiry", "exp", msg)
	if err != nil {
		t.Fatalf("Want: no error, got %v", err)
	}

	time.Sleep(1100 * time.Millisecond)

	_, err = s.Get(ctx, "testExpiry", "exp", msg)
	if !IsNotFoundErr(err) {
		t.Errorf("Want: not found error, got %v", err)
	}

	keys, err := s.List(ctx, "testExpiry")
	if err != nil {
		t.Fatal(err)
	}
	if len(keys) != 0 {
		t.Errorf("Want: expired keys to be hidden from list, got %v", keys)
	}

	// an expired item can be replaced as if it were new
	_, err = s.Put(ctx, "testExpiry", "exp", 0, strMsg("new"))
	if err != nil {
		t.Fatalf("Want: no error, got %v", err)
	}
}

func testList(ctx context.Context, t *testing.T, s Storage) {
	keys, err := s.List(ctx, "testList")
	if err != nil {
		t.Fatalf("Want: no error listing empty keyspace, got %v", err)
	}
	if len(keys) != 0 {
		t.Fatalf("Want: no keys, got %v", keys)
	}

	for i := 0; i < 10; i++ {
		if _, err := s.Put(ctx, "testList", fmt.Sprintf("item-%d", i), 0, strMsg("")); err != nil {
			t.Fatal(err)
		}
	}

	keys, err = s.List(ctx, "testList")
	if err != nil {
		t.Fatalf("Want: no error, got %v", err)
	}

	if len(keys) != 10 {
		t.Errorf("Want: 10 keys, got %d", len(keys))
	}
}

func testDeleteConflict(ctx context.Context, t *testing.T, s Storage) {
	var version int64

	for i := 0; i < 3; i++ {
		v, err := s.Put(ctx, "testDeleteConflict", "item", version, strMsg(""))
		if err != nil {
			t.Fatalf("Want: no error, got %v", err)
		}
		version = v
	}

	if err := s.Delete(ctx, "testDeleteConflict", "item", 0); !IsConflictErr(err) {
		t.Fatalf("Want: conflict error, got %v", err)
	}

	if err := s.Delete(ctx, "testDeleteConflict", "item", version); err != nil {
		t.Fatalf("Want: no error, got %v", err)
	}
}

func testDeleteExpired(ctx context.Context, t *testing.T, s Storage, sw Sweeper) {
	if _, err := s.PutWithExpiry(ctx, "testDeleteExpired", "gone", 0, strMsg(""), time.Now().Add(-1*time.Minute)); err != nil {
		t.Fatal(err)
	}
	if _, err := s.PutWithExpiry(ctx, "testDeleteExpired", "kept", 0, strMsg(""), time.Now().Add(1*time.Hour)); err != nil {
		t.Fatal(err)
	}

	n, err := sw.DeleteExpired(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if n < 1 {
		t.Errorf("Want: at least one item deleted, got %d", n)
	}

	if _, err := s.Get(ctx, "testDeleteExpired", "kept", &structpb.Struct{}); err != nil {
		t.Errorf("Want: unexpired item to remain, got %v", err)
	}
}
