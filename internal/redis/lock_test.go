package redis

import (
	"context"
	"errors"
	"net"
	"strconv"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"go.uber.org/zap"
)

func testClient(t *testing.T) (*Client, *miniredis.Miniredis) {
	t.Helper()

	mr := miniredis.RunT(t)

	host, portStr, err := net.SplitHostPort(mr.Addr())
	if err != nil {
		t.Fatalf("split addr: %v", err)
	}
	port, _ := strconv.Atoi(portStr)

	client, err := New(context.Background(), Config{Host: host, Port: port}, zap.NewNop())
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	t.Cleanup(func() { _ = client.Close() })

	return client, mr
}

func TestAccountLockerAcquireRelease(t *testing.T) {
	client, _ := testClient(t)
	locker := NewAccountLocker(client, zap.NewNop())
	ctx := context.Background()

	if err := locker.Acquire(ctx, "acc1"); err != nil {
		t.Fatalf("first acquire: %v", err)
	}

	if err := locker.Acquire(ctx, "acc1"); !errors.Is(err, ErrLockHeld) {
		t.Errorf("second acquire = %v, want ErrLockHeld", err)
	}

	// a different account is unaffected
	if err := locker.Acquire(ctx, "acc2"); err != nil {
		t.Errorf("acquire for another account: %v", err)
	}

	locker.Release(ctx, "acc1")
	if err := locker.Acquire(ctx, "acc1"); err != nil {
		t.Errorf("acquire after release: %v", err)
	}
}

func TestAccountLockerExpires(t *testing.T) {
	client, mr := testClient(t)
	locker := NewAccountLocker(client, zap.NewNop())
	ctx := context.Background()

	if err := locker.Acquire(ctx, "acc1"); err != nil {
		t.Fatalf("acquire: %v", err)
	}

	// a crashed pass must not hold the account forever
	mr.FastForward(lockTTL + time.Minute)

	if err := locker.Acquire(ctx, "acc1"); err != nil {
		t.Errorf("acquire after expiry: %v", err)
	}
}

func TestReleaseUnheldLockIsHarmless(t *testing.T) {
	client, _ := testClient(t)
	locker := NewAccountLocker(client, zap.NewNop())

	locker.Release(context.Background(), "never-acquired")
}
