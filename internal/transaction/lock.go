package transaction

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/shirou/gopsutil/v4/process"
)

const (
	// DefaultPollInterval is how often AcquireWithin retries a held lock.
	DefaultPollInterval = 100 * time.Millisecond
)

var (
	ErrLocked = errors.New("lock is held by another process")
)

// Lock is an advisory, exclusive lock on a sentinel file. The operating
// system releases it when the holding process exits, so a crashed holder
// never blocks later invocations.
type Lock struct {
	path string
	file *os.File
}

// Holder describes the process recorded in a lock file.
type Holder struct {
	PID        int
	CreateTime int64 // process create time in ms since epoch, 0 if unknown
	Acquired   time.Time
}

// LockPath returns the sentinel file path for name inside dir.
func LockPath(dir, name string) string {
	return filepath.Join(dir, name+".lock")
}

// TryAcquire takes the named lock without waiting. It returns an error
// wrapping ErrLocked when another process holds it.
func TryAcquire(dir, name string) (*Lock, error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("create lock directory: %w", err)
	}

	lockPath := LockPath(dir, name)
	file, err := os.OpenFile(lockPath, os.O_CREATE|os.O_RDWR, 0o600)
	if err != nil {
		return nil, fmt.Errorf("open lock file: %w", err)
	}

	if err := lockFile(file); err != nil {
		file.Close()
		if errors.Is(err, errWouldBlock) {
			if holder, herr := ReadHolder(dir, name); herr == nil && holder.PID > 0 {
				return nil, fmt.Errorf("%w (pid %d since %s)", ErrLocked, holder.PID, holder.Acquired.Format(time.RFC3339))
			}
			return nil, ErrLocked
		}
		return nil, fmt.Errorf("lock %s: %w", lockPath, err)
	}

	// Record the holder for diagnostics. The lock itself is the flock, not
	// the file contents.
	if err := writeHolder(file); err != nil {
		unlockFile(file)
		file.Close()
		return nil, fmt.Errorf("write lock data: %w", err)
	}

	return &Lock{
		path: lockPath,
		file: file,
	}, nil
}

// AcquireWithin retries TryAcquire until it succeeds, wait elapses or ctx
// is done. A non-positive wait behaves like TryAcquire.
func AcquireWithin(ctx context.Context, dir, name string, wait time.Duration) (*Lock, error) {
	deadline := time.Now().Add(wait)
	for {
		lock, err := TryAcquire(dir, name)
		if err == nil || !errors.Is(err, ErrLocked) {
			return lock, err
		}
		if !time.Now().Before(deadline) {
			return nil, err
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(DefaultPollInterval):
		}
	}
}

// Path returns the sentinel file path.
func (l *Lock) Path() string {
	return l.path
}

// Release releases the lock. The sentinel file is left in place; removing
// it would let a waiter lock an unlinked inode.
func (l *Lock) Release() error {
	if l == nil || l.file == nil {
		return nil
	}
	file := l.file
	l.file = nil

	_ = file.Truncate(0)
	unlockErr := unlockFile(file)
	closeErr := file.Close()
	if unlockErr != nil {
		return fmt.Errorf("unlock %s: %w", l.path, unlockErr)
	}
	if closeErr != nil {
		return fmt.Errorf("close lock file: %w", closeErr)
	}
	return nil
}

// ReadHolder parses the holder record of the named lock. An empty record
// yields a zero Holder.
func ReadHolder(dir, name string) (*Holder, error) {
	data, err := os.ReadFile(LockPath(dir, name))
	if err != nil {
		return nil, err
	}

	holder := &Holder{}
	for _, line := range strings.Split(string(data), "\n") {
		key, value, ok := strings.Cut(strings.TrimSpace(line), "=")
		if !ok {
			continue
		}
		switch key {
		case "pid":
			holder.PID, _ = strconv.Atoi(value)
		case "create_time":
			holder.CreateTime, _ = strconv.ParseInt(value, 10, 64)
		case "timestamp":
			holder.Acquired, _ = time.Parse(time.RFC3339, value)
		}
	}
	return holder, nil
}

func writeHolder(file *os.File) error {
	pid := os.Getpid()
	var createTime int64
	if p, err := process.NewProcess(int32(pid)); err == nil {
		createTime, _ = p.CreateTime()
	}

	lockData := fmt.Sprintf("pid=%d\ncreate_time=%d\ntimestamp=%s\n",
		pid, createTime, time.Now().UTC().Format(time.RFC3339))

	if err := file.Truncate(0); err != nil {
		return err
	}
	if _, err := file.WriteAt([]byte(lockData), 0); err != nil {
		return err
	}
	return file.Sync()
}
