package cache

import (
	"os"
	"path/filepath"
	"syscall"
)

// acquireLock opens (creating if necessary) the cache directory's lock
// file and takes an exclusive, non-blocking advisory lock on it, so two
// processes never write the same cache directory concurrently.
func (c *Cache) acquireLock() error {
	path := filepath.Join(c.dir, lockFileName)

	file, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return wrapErr("open lock", path, err)
	}

	if err := syscall.Flock(int(file.Fd()), syscall.LOCK_EX|syscall.LOCK_NB); err != nil {
		file.Close()

		return wrapErr("lock", c.dir, err)
	}

	c.lock = file

	return nil
}
