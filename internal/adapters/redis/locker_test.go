package redis

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
)

func TestKey(t *testing.T) {
	if got := Key("process_queue"); got != "assocmail:lock:process_queue" {
		t.Errorf("Key = %q", got)
	}
}

func TestNewLocker_DefaultTTL(t *testing.T) {
	if l := NewLocker(nil, 0); l.ttl != DefaultTTL {
		t.Errorf("ttl = %v, want %v", l.ttl, DefaultTTL)
	}
	if l := NewLocker(nil, time.Second); l.ttl != time.Second {
		t.Errorf("ttl = %v, want 1s", l.ttl)
	}
}

// TestLocker_Exclusive runs against a live server when ASSOCMAIL_TEST_REDIS_URL is set.
func TestLocker_Exclusive(t *testing.T) {
	url := os.Getenv("ASSOCMAIL_TEST_REDIS_URL")
	if url == "" {
		t.Skip("ASSOCMAIL_TEST_REDIS_URL not set")
	}
	ctx := context.Background()
	client, err := NewClient(ctx, url)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	t.Cleanup(func() { client.Close() })

	name := "test_" + uuid.NewString()
	a := NewLocker(client, time.Minute)
	b := NewLocker(client, time.Minute)

	release, ok, err := a.TryLock(ctx, name)
	if err != nil || !ok {
		t.Fatalf("first lock: ok=%v err=%v", ok, err)
	}
	if _, ok, err := b.TryLock(ctx, name); err != nil || ok {
		t.Fatalf("second lock should fail: ok=%v err=%v", ok, err)
	}
	release()
	release2, ok, err := b.TryLock(ctx, name)
	if err != nil || !ok {
		t.Fatalf("lock after release: ok=%v err=%v", ok, err)
	}
	release2()
}

// TestLocker_ReleaseKeepsSuccessor checks a stale holder cannot free a new lock.
func TestLocker_ReleaseKeepsSuccessor(t *testing.T) {
	url := os.Getenv("ASSOCMAIL_TEST_REDIS_URL")
	if url == "" {
		t.Skip("ASSOCMAIL_TEST_REDIS_URL not set")
	}
	ctx := context.Background()
	client, err := NewClient(ctx, url)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	t.Cleanup(func() { client.Close() })

	name := "test_" + uuid.NewString()
	short := NewLocker(client, 50*time.Millisecond)
	release, ok, err := short.TryLock(ctx, name)
	if err != nil || !ok {
		t.Fatalf("lock: ok=%v err=%v", ok, err)
	}
	time.Sleep(120 * time.Millisecond)

	long := NewLocker(client, time.Minute)
	release2, ok, err := long.TryLock(ctx, name)
	if err != nil || !ok {
		t.Fatalf("successor lock: ok=%v err=%v", ok, err)
	}
	defer release2()

	release()
	if _, ok, _ := short.TryLock(ctx, name); ok {
		t.Error("stale release freed the successor's lock")
	}
}
