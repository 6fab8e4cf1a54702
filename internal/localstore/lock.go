package localstore

import (
	"fmt"
	"os"
	"time"
)

const (
	lockRetries      = 10
	lockInitialDelay = 25 * time.Millisecond
	lockMaxDelay     = 1 * time.Second
)

// acquireFileLock takes the advisory write lock scoped to the store's
// backing storage by exclusively creating a lock file. Contention is treated
// as transient: acquisition retries with exponential backoff up to a bound,
// then fails. The returned release func removes the lock file.
//
// The lock serializes writers across processes; in-process readers are
// coordinated separately by the store's RWMutex and never take this lock.
func acquireFileLock(path string) (release func(), err error) {
	delay := lockInitialDelay
	for attempt := 0; attempt < lockRetries; attempt++ {
		f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o600)
		if err == nil {
			fmt.Fprintf(f, "%d\n", os.Getpid())
			f.Close()
			return func() { os.Remove(path) }, nil
		}
		if !os.IsExist(err) {
			return nil, fmt.Errorf("failed to create store lock %s: %w", path, err)
		}
		time.Sleep(delay)
		delay *= 2
		if delay > lockMaxDelay {
			delay = lockMaxDelay
		}
	}
	return nil, fmt.Errorf("timed out waiting for store lock %s", path)
}
