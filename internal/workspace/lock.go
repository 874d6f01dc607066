package workspace

import (
	"encoding/json"
	"fmt"
	"os"
	"time"
)

// LockRecord is the lock file's content: who holds the workspace and
// until when. Exactly one unexpired record may exist per workspace.
type LockRecord struct {
	HolderPID  int       `json:"holder_pid"`
	HolderHost string    `json:"holder_host"`
	AcquiredAt time.Time `json:"acquired_at"`
	ExpiresAt  time.Time `json:"expires_at"`
}

// Expired reports whether the record's expiry has passed.
func (r LockRecord) Expired(now time.Time) bool {
	return now.After(r.ExpiresAt)
}

// ContentionError reports that another live process holds the
// workspace. Retryable: the caller decides whether to wait or abort.
type ContentionError struct {
	Path   string
	Holder LockRecord
}

func (e *ContentionError) Error() string {
	return fmt.Sprintf("workspace locked by pid %d on %s until %s",
		e.Holder.HolderPID, e.Holder.HolderHost, e.Holder.ExpiresAt.Format(time.RFC3339))
}

// Lock is a held workspace lock. Release it on every exit path; long
// stages renew it so legitimate runs are never mistaken for stale.
type Lock struct {
	path string
	ttl  time.Duration
	rec  LockRecord
	// TookOverStale is set when acquisition overwrote an expired
	// record from a dead or hung process.
	TookOverStale bool
	// Stale holds the overridden record when TookOverStale is set.
	Stale LockRecord
}

// owns reports whether the on-disk record is the one this lock wrote.
// A takeover changes the pid, the host, or the acquisition time.
func (l *Lock) owns(rec LockRecord) bool {
	return rec.HolderPID == l.rec.HolderPID &&
		rec.HolderHost == l.rec.HolderHost &&
		rec.AcquiredAt.Equal(l.rec.AcquiredAt)
}

const lockPollInterval = 100 * time.Millisecond

// AcquireLock takes the workspace lock, writing a record that expires
// after ttl. If a live lock exists it polls for up to maxWait before
// failing with a *ContentionError; maxWait zero fails immediately. An
// expired record is treated as stale and overwritten.
func (s *Store) AcquireLock(ttl, maxWait time.Duration) (*Lock, error) {
	path := s.LockPath()
	deadline := time.Now().Add(maxWait)
	lock := &Lock{path: path, ttl: ttl}

	for {
		rec := newLockRecord(ttl)
		ok, err := tryCreateLock(path, rec)
		if err != nil {
			return nil, err
		}
		if ok {
			lock.rec = rec
			return lock, nil
		}

		holder, err := readLockRecord(path)
		if err != nil {
			// Unreadable or vanished mid-read: retry the create.
			if time.Now().After(deadline) {
				return nil, &ContentionError{Path: path}
			}
			time.Sleep(lockPollInterval)
			continue
		}

		if holder.Expired(time.Now()) {
			// Stale lock from a dead process. Take it over.
			rec := newLockRecord(ttl)
			if err := writeLockRecord(path, rec); err != nil {
				return nil, err
			}
			lock.rec = rec
			lock.TookOverStale = true
			lock.Stale = holder
			return lock, nil
		}

		if time.Now().After(deadline) {
			return nil, &ContentionError{Path: path, Holder: holder}
		}
		time.Sleep(lockPollInterval)
	}
}

// Renew extends the lock's expiry by its ttl from now, keeping the
// original acquisition time. Called periodically during long-running
// stages. Fails when the on-disk record is no longer this process's:
// the TTL lapsed and another process took the workspace over.
func (l *Lock) Renew() error {
	cur, err := readLockRecord(l.path)
	if err != nil {
		return fmt.Errorf("workspace: renewing lock: %w", err)
	}
	if !l.owns(cur) {
		return &ContentionError{Path: l.path, Holder: cur}
	}

	next := l.rec
	next.ExpiresAt = time.Now().Add(l.ttl)
	if err := writeLockRecord(l.path, next); err != nil {
		return err
	}
	l.rec = next
	return nil
}

// Release deletes the lock file, but only while it still carries this
// process's record; a record another process wrote after a stale
// takeover is theirs to remove. Safe to call more than once.
func (l *Lock) Release() error {
	cur, err := readLockRecord(l.path)
	switch {
	case os.IsNotExist(err):
		return nil
	case err == nil && !l.owns(cur):
		return nil
	}
	// An unparsable record is never a live holder; remove it with ours.
	if err := os.Remove(l.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("workspace: releasing lock: %w", err)
	}
	return nil
}

// tryCreateLock attempts the atomic create-if-absent. Returns false
// without error when the file already exists.
func tryCreateLock(path string, rec LockRecord) (bool, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		if os.IsExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("workspace: creating lock: %w", err)
	}
	defer f.Close()

	data, err := json.Marshal(rec)
	if err != nil {
		return false, err
	}
	if _, err := f.Write(data); err != nil {
		os.Remove(path)
		return false, fmt.Errorf("workspace: writing lock: %w", err)
	}
	return true, nil
}

// writeLockRecord replaces the lock file content via temp + rename so
// concurrent readers never see a torn record.
func writeLockRecord(path string, rec LockRecord) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("workspace: writing lock: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("workspace: replacing lock: %w", err)
	}
	return nil
}

func newLockRecord(ttl time.Duration) LockRecord {
	host, _ := os.Hostname()
	now := time.Now()
	return LockRecord{
		HolderPID:  os.Getpid(),
		HolderHost: host,
		AcquiredAt: now,
		ExpiresAt:  now.Add(ttl),
	}
}

func readLockRecord(path string) (LockRecord, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return LockRecord{}, err
	}
	var rec LockRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return LockRecord{}, fmt.Errorf("workspace: parsing lock record: %w", err)
	}
	return rec, nil
}
