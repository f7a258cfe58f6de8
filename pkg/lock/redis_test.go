package lock

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
)

func newTestRedisLocker(t *testing.T, ttl time.Duration) (*RedisLocker, *miniredis.Miniredis, *test.Hook) {
	t.Helper()
	mr := miniredis.RunT(t)
	logger, hook := test.NewNullLogger()
	l := NewRedisLocker(mr.Addr(), ttl, logger)
	t.Cleanup(func() { l.Close() })
	return l, mr, hook
}

func TestRedisLocker_AcquireSetsKeyWithTTL(t *testing.T) {
	l, mr, _ := newTestRedisLocker(t, 30*time.Second)

	release, err := l.Acquire(context.Background(), "loan-1")
	if err != nil {
		t.Fatalf("Failed to acquire: %v", err)
	}
	if !mr.Exists(Key("loan-1")) {
		t.Fatal("Expected lock key to be set")
	}
	if ttl := mr.TTL(Key("loan-1")); ttl != 30*time.Second {
		t.Errorf("Expected TTL 30s, got %s", ttl)
	}

	release()
	if mr.Exists(Key("loan-1")) {
		t.Error("Expected lock key to be deleted on release")
	}
}

func TestRedisLocker_HeldKeyFailsFast(t *testing.T) {
	l, _, _ := newTestRedisLocker(t, 30*time.Second)

	release, err := l.Acquire(context.Background(), "loan-1")
	if err != nil {
		t.Fatalf("Failed to acquire: %v", err)
	}

	if _, err := l.Acquire(context.Background(), "loan-1"); !errors.Is(err, ErrNotAcquired) {
		t.Fatalf("Expected ErrNotAcquired while held, got %v", err)
	}
	other, err := l.Acquire(context.Background(), "loan-2")
	if err != nil {
		t.Fatalf("Expected an unrelated key to be free, got %v", err)
	}
	other()

	release()
	again, err := l.Acquire(context.Background(), "loan-1")
	if err != nil {
		t.Fatalf("Expected key to be free after release, got %v", err)
	}
	again()
}

func TestRedisLocker_ExpiredKeyCanBeTaken(t *testing.T) {
	l, mr, _ := newTestRedisLocker(t, 5*time.Second)

	if _, err := l.Acquire(context.Background(), "loan-1"); err != nil {
		t.Fatalf("Failed to acquire: %v", err)
	}
	mr.FastForward(6 * time.Second)

	release, err := l.Acquire(context.Background(), "loan-1")
	if err != nil {
		t.Fatalf("Expected expired lock to be acquirable, got %v", err)
	}
	release()
}

func TestRedisLocker_StaleReleaseKeepsNewHolder(t *testing.T) {
	l, mr, _ := newTestRedisLocker(t, 5*time.Second)

	stale, err := l.Acquire(context.Background(), "loan-1")
	if err != nil {
		t.Fatalf("Failed to acquire: %v", err)
	}
	mr.FastForward(6 * time.Second)

	current, err := l.Acquire(context.Background(), "loan-1")
	if err != nil {
		t.Fatalf("Failed to re-acquire expired lock: %v", err)
	}
	token, err := mr.Get(Key("loan-1"))
	if err != nil {
		t.Fatalf("Failed to read lock token: %v", err)
	}

	stale()
	got, err := mr.Get(Key("loan-1"))
	if err != nil || got != token {
		t.Fatalf("Expected the new holder's token %s to survive, got %q (%v)", token, got, err)
	}
	if _, err := l.Acquire(context.Background(), "loan-1"); !errors.Is(err, ErrNotAcquired) {
		t.Errorf("Expected lock to still be held, got %v", err)
	}

	current()
	if mr.Exists(Key("loan-1")) {
		t.Error("Expected the current holder's release to delete the key")
	}
}

func TestRedisLocker_FailedReleaseIsLogged(t *testing.T) {
	l, mr, hook := newTestRedisLocker(t, 30*time.Second)

	release, err := l.Acquire(context.Background(), "loan-1")
	if err != nil {
		t.Fatalf("Failed to acquire: %v", err)
	}
	mr.Close()

	release()
	entry := hook.LastEntry()
	if entry == nil || entry.Level != logrus.WarnLevel {
		t.Fatalf("Expected a warning for the failed release, got %+v", entry)
	}
	if entry.Data["key"] != Key("loan-1") {
		t.Errorf("Expected key field %s, got %v", Key("loan-1"), entry.Data["key"])
	}
}

func TestRedisLocker_UnreachableServer(t *testing.T) {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	mr := miniredis.RunT(t)
	addr := mr.Addr()
	mr.Close()

	l := NewRedisLocker(addr, time.Second, logger)
	defer l.Close()
	if _, err := l.Acquire(context.Background(), "loan-1"); err == nil || errors.Is(err, ErrNotAcquired) {
		t.Errorf("Expected a connection error, got %v", err)
	}
}

func TestKey(t *testing.T) {
	if got := Key("abc"); got != "loan-lock:abc" {
		t.Errorf("Expected loan-lock:abc, got %s", got)
	}
}
