package lifecycle

import (
	"fmt"
	"os"
	"syscall"
)

// Pidfile is the process singleton lock:
// /tmp/bw_<slot>.pid, mode 0644, exclusively flock'd for the life of the
// process. No third-party advisory-lock library appears anywhere in the
// reference corpus, so this one spot uses syscall.Flock directly.
type Pidfile struct {
	path string
	file *os.File
}

func pidfilePath(slot string) string {
	return fmt.Sprintf("/tmp/bw_%s.pid", slot)
}

// Acquire opens (creating if needed) the pidfile for slot and takes an
// exclusive, non-blocking advisory lock. A locked-by-another-process
// pidfile is a structurally fatal configuration error: only
// one bridge instance per replication slot may run at a time.
func Acquire(slot string) (*Pidfile, error) {
	path := pidfilePath(slot)
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0644)
	if err != nil {
		return nil, fmt.Errorf("opening pidfile %s: %w", path, err)
	}

	if err := syscall.Flock(int(f.Fd()), syscall.LOCK_EX|syscall.LOCK_NB); err != nil {
		f.Close()
		return nil, fmt.Errorf("pidfile %s is locked by another process: %w", path, err)
	}

	if err := f.Truncate(0); err != nil {
		f.Close()
		return nil, fmt.Errorf("truncating pidfile %s: %w", path, err)
	}
	if _, err := f.WriteAt([]byte(fmt.Sprintf("%d\n", os.Getpid())), 0); err != nil {
		f.Close()
		return nil, fmt.Errorf("writing pidfile %s: %w", path, err)
	}

	return &Pidfile{path: path, file: f}, nil
}

// Release unlinks the pidfile and closes its handle, releasing the lock.
func (p *Pidfile) Release() error {
	if p == nil || p.file == nil {
		return nil
	}
	_ = os.Remove(p.path)
	return p.file.Close()
}
