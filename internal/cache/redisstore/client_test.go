package redisstore

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
)

func newClient(t *testing.T) (*Client, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	cli, err := New(context.Background(), mr.Addr())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { _ = cli.Close() })
	return cli, mr
}

func TestNew_EmptyAddr(t *testing.T) {
	if _, err := New(context.Background(), ""); err == nil {
		t.Fatal("expected error for empty address")
	}
}

func TestGet_MissingKey(t *testing.T) {
	cli, _ := newClient(t)
	_, ok, err := cli.Get(context.Background(), "absent")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if ok {
		t.Fatal("missing key reported as found")
	}
}

func TestSetGet_WithTTL(t *testing.T) {
	cli, mr := newClient(t)
	ctx := context.Background()

	if err := cli.Set(ctx, "k", []byte("v"), time.Minute); err != nil {
		t.Fatalf("Set: %v", err)
	}
	val, ok, err := cli.Get(ctx, "k")
	if err != nil || !ok {
		t.Fatalf("Get: ok=%v err=%v", ok, err)
	}
	if string(val) != "v" {
		t.Fatalf("value: %q", val)
	}

	mr.FastForward(2 * time.Minute)
	_, ok, err = cli.Get(ctx, "k")
	if err != nil {
		t.Fatalf("Get after expiry: %v", err)
	}
	if ok {
		t.Fatal("expired key reported as found")
	}
}

func TestSets_AddRemoveMembers(t *testing.T) {
	cli, _ := newClient(t)
	ctx := context.Background()

	if err := cli.SAdd(ctx, "s", "a", "b", "c"); err != nil {
		t.Fatalf("SAdd: %v", err)
	}
	if err := cli.SRem(ctx, "s", "b"); err != nil {
		t.Fatalf("SRem: %v", err)
	}
	members, err := cli.SMembers(ctx, "s")
	if err != nil {
		t.Fatalf("SMembers: %v", err)
	}
	if len(members) != 2 {
		t.Fatalf("members: %v", members)
	}
}

func TestExistsEach_MixedKeys(t *testing.T) {
	cli, _ := newClient(t)
	ctx := context.Background()

	if err := cli.Set(ctx, "present", []byte("1"), 0); err != nil {
		t.Fatalf("Set: %v", err)
	}
	out, err := cli.ExistsEach(ctx, []string{"present", "absent"})
	if err != nil {
		t.Fatalf("ExistsEach: %v", err)
	}
	if !out["present"] || out["absent"] {
		t.Fatalf("unexpected result: %v", out)
	}
}

func TestHash_SetValsDel(t *testing.T) {
	cli, _ := newClient(t)
	ctx := context.Background()

	if err := cli.HSetInt(ctx, "h", "a", 10); err != nil {
		t.Fatalf("HSetInt: %v", err)
	}
	if err := cli.HSetInt(ctx, "h", "b", 20); err != nil {
		t.Fatalf("HSetInt: %v", err)
	}
	vals, err := cli.HVals(ctx, "h")
	if err != nil {
		t.Fatalf("HVals: %v", err)
	}
	if len(vals) != 2 {
		t.Fatalf("vals: %v", vals)
	}
	if err := cli.HDel(ctx, "h", "a", "b"); err != nil {
		t.Fatalf("HDel: %v", err)
	}
	vals, err = cli.HVals(ctx, "h")
	if err != nil {
		t.Fatalf("HVals after HDel: %v", err)
	}
	if len(vals) != 0 {
		t.Fatalf("vals after HDel: %v", vals)
	}
}
