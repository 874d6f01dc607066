package workspace

import (
	"encoding/json"
	"errors"
	"os"
	"strings"
	"testing"
	"time"
)

func TestAcquireRelease(t *testing.T) {
	t.Parallel()

	s, err := NewStore(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}

	lock, err := s.AcquireLock(time.Minute, 0)
	if err != nil {
		t.Fatalf("AcquireLock: %v", err)
	}
	if lock.TookOverStale {
		t.Error("fresh acquisition flagged as stale takeover")
	}

	data, err := os.ReadFile(s.LockPath())
	if err != nil {
		t.Fatalf("lock file unreadable: %v", err)
	}
	var rec LockRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		t.Fatalf("lock record unparsable: %v", err)
	}
	if rec.HolderPID != os.Getpid() {
		t.Errorf("holder pid = %d, want %d", rec.HolderPID, os.Getpid())
	}
	for _, field := range []string{"holder_pid", "holder_host", "acquired_at", "expires_at"} {
		if !strings.Contains(string(data), field) {
			t.Errorf("lock record missing field %q", field)
		}
	}

	if err := lock.Release(); err != nil {
		t.Fatalf("Release: %v", err)
	}
	if _, err := os.Stat(s.LockPath()); !os.IsNotExist(err) {
		t.Error("lock file survives release")
	}
	if err := lock.Release(); err != nil {
		t.Errorf("second release should be a no-op, got %v", err)
	}
}

func TestContention(t *testing.T) {
	t.Parallel()

	s, err := NewStore(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}

	first, err := s.AcquireLock(time.Minute, 0)
	if err != nil {
		t.Fatal(err)
	}
	defer first.Release()

	_, err = s.AcquireLock(time.Minute, 0)
	var ce *ContentionError
	if !errors.As(err, &ce) {
		t.Fatalf("expected *ContentionError, got %v", err)
	}
	if ce.Holder.HolderPID != os.Getpid() {
		t.Errorf("contention error holder pid = %d", ce.Holder.HolderPID)
	}
}

func TestBoundedWaitSucceedsAfterRelease(t *testing.T) {
	t.Parallel()

	s, err := NewStore(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}

	first, err := s.AcquireLock(time.Minute, 0)
	if err != nil {
		t.Fatal(err)
	}

	go func() {
		time.Sleep(250 * time.Millisecond)
		first.Release()
	}()

	second, err := s.AcquireLock(time.Minute, 3*time.Second)
	if err != nil {
		t.Fatalf("bounded wait should have acquired after release: %v", err)
	}
	second.Release()
}

func TestStaleTakeover(t *testing.T) {
	t.Parallel()

	s, err := NewStore(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}

	// Expired lock from a "dead" process.
	stale := LockRecord{
		HolderPID:  99999,
		HolderHost: "elsewhere",
		AcquiredAt: time.Now().Add(-2 * time.Hour),
		ExpiresAt:  time.Now().Add(-time.Hour),
	}
	data, _ := json.Marshal(stale)
	if err := os.WriteFile(s.LockPath(), data, 0o644); err != nil {
		t.Fatal(err)
	}

	lock, err := s.AcquireLock(time.Minute, 0)
	if err != nil {
		t.Fatalf("AcquireLock over stale lock: %v", err)
	}
	defer lock.Release()

	if !lock.TookOverStale {
		t.Error("takeover not flagged")
	}
	if lock.Stale.HolderPID != 99999 {
		t.Errorf("stale record = %+v", lock.Stale)
	}
}

func TestRenewExtendsExpiry(t *testing.T) {
	t.Parallel()

	s, err := NewStore(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}

	lock, err := s.AcquireLock(time.Second, 0)
	if err != nil {
		t.Fatal(err)
	}
	defer lock.Release()

	before, err := readLockRecord(s.LockPath())
	if err != nil {
		t.Fatal(err)
	}

	time.Sleep(50 * time.Millisecond)
	if err := lock.Renew(); err != nil {
		t.Fatalf("Renew: %v", err)
	}

	after, err := readLockRecord(s.LockPath())
	if err != nil {
		t.Fatal(err)
	}
	if !after.ExpiresAt.After(before.ExpiresAt) {
		t.Errorf("renewal did not extend expiry: %v -> %v", before.ExpiresAt, after.ExpiresAt)
	}
	if !after.AcquiredAt.Equal(before.AcquiredAt) {
		t.Errorf("renewal rewrote acquired_at: %v -> %v", before.AcquiredAt, after.AcquiredAt)
	}
}

func TestRenewAndReleaseAfterTakeover(t *testing.T) {
	t.Parallel()

	s, err := NewStore(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}

	lock, err := s.AcquireLock(time.Minute, 0)
	if err != nil {
		t.Fatal(err)
	}

	// Another process's record lands after our TTL lapsed.
	theirs := LockRecord{
		HolderPID:  424242,
		HolderHost: "elsewhere",
		AcquiredAt: time.Now(),
		ExpiresAt:  time.Now().Add(time.Hour),
	}
	if err := writeLockRecord(s.LockPath(), theirs); err != nil {
		t.Fatal(err)
	}

	var ce *ContentionError
	if err := lock.Renew(); !errors.As(err, &ce) {
		t.Fatalf("Renew over a foreign record = %v, want *ContentionError", err)
	}
	if err := lock.Release(); err != nil {
		t.Fatalf("Release: %v", err)
	}

	// The new holder's record must survive both calls.
	cur, err := readLockRecord(s.LockPath())
	if err != nil {
		t.Fatalf("foreign lock record gone: %v", err)
	}
	if cur.HolderPID != theirs.HolderPID || cur.HolderHost != theirs.HolderHost {
		t.Errorf("lock record = %+v, want the new holder's", cur)
	}
}

func TestMutualExclusion(t *testing.T) {
	t.Parallel()

	s, err := NewStore(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}

	// Many goroutines race for the lock; at most one may hold it at a
	// time.
	const workers = 8
	holders := make(chan int, workers)
	done := make(chan struct{})
	var inside int32

	for i := 0; i < workers; i++ {
		go func() {
			defer func() { done <- struct{}{} }()
			lock, err := s.AcquireLock(time.Minute, 5*time.Second)
			if err != nil {
				return
			}
			holders <- 1
			if n := len(holders); n > 1 {
				inside = int32(n)
			}
			time.Sleep(5 * time.Millisecond)
			<-holders
			lock.Release()
		}()
	}
	for i := 0; i < workers; i++ {
		<-done
	}
	if inside > 1 {
		t.Errorf("%d goroutines held the lock simultaneously", inside)
	}
}
