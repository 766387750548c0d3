package lock

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"time"

	"github.com/google/uuid"
	xerrors "github.com/jmgilman/go/errors"
	"github.com/jmgilman/go/fs/core"

	"github.com/jonwraymond/xpersist/resilience"
)

// ErrClaimLost indicates a claim file was removed or replaced by another
// process while it was held.
var ErrClaimLost = xerrors.New(xerrors.CodeConflict, "lock: claim lost")

// errHeld signals that another owner holds the claim; it drives polling.
var errHeld = errors.New("lock: claim held")

const locksDir = "locks"

// FileConfig configures a FileLocker.
type FileConfig struct {
	// PollInterval is the delay between claim attempts.
	// Default: 50ms
	PollInterval time.Duration

	// MaxWait bounds how long Acquire polls before returning ErrTimeout.
	// Zero waits until the context is done.
	MaxWait time.Duration

	// StaleAfter is the age after which a claim is considered abandoned.
	// Default: 10m
	StaleAfter time.Duration
}

// FileLocker claims keys by creating files under locks/ on a shared
// filesystem.
type FileLocker struct {
	fs     core.FS
	config FileConfig
	owner  string
}

type claimRecord struct {
	Owner    string    `json:"owner"`
	PID      int       `json:"pid"`
	Host     string    `json:"host"`
	Acquired time.Time `json:"acquired"`
}

// NewFileLocker creates a locker rooted at fsys. The locks directory is
// created if missing.
func NewFileLocker(fsys core.FS, config FileConfig) (*FileLocker, error) {
	if config.PollInterval <= 0 {
		config.PollInterval = 50 * time.Millisecond
	}
	if config.StaleAfter <= 0 {
		config.StaleAfter = 10 * time.Minute
	}
	if err := fsys.MkdirAll(locksDir, 0o755); err != nil {
		return nil, fmt.Errorf("lock: create %s: %w", locksDir, err)
	}
	return &FileLocker{fs: fsys, config: config, owner: uuid.NewString()}, nil
}

// Claim is a held claim file.
type Claim struct {
	locker *FileLocker
	path   string
	owner  string
}

func (l *FileLocker) claimPath(key string) string {
	return path.Join(locksDir, key+".lock")
}

// Acquire polls until the claim for key is created, ctx is done, or MaxWait
// elapses.
func (l *FileLocker) Acquire(ctx context.Context, key string) (*Claim, error) {
	if err := ValidateKey(key); err != nil {
		return nil, err
	}
	if l.config.MaxWait > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, l.config.MaxWait)
		defer cancel()
	}

	retry := resilience.NewRetry(resilience.RetryConfig{
		MaxAttempts:  int(^uint(0) >> 1),
		InitialDelay: l.config.PollInterval,
		MaxDelay:     l.config.PollInterval,
		Strategy:     resilience.BackoffConstant,
		RetryIf:      func(err error) bool { return errors.Is(err, errHeld) },
	})

	var claim *Claim
	err := retry.Execute(ctx, func(context.Context) error {
		c, err := l.TryAcquire(key)
		if err != nil {
			return err
		}
		if c == nil {
			return errHeld
		}
		claim = c
		return nil
	})
	switch {
	case err == nil:
		return claim, nil
	case errors.Is(err, context.DeadlineExceeded) && l.config.MaxWait > 0:
		return nil, fmt.Errorf("%w: %s after %s", ErrTimeout, key, l.config.MaxWait)
	default:
		return nil, err
	}
}

// TryAcquire makes a single claim attempt. It returns a nil claim without
// error when another owner holds a fresh claim.
func (l *FileLocker) TryAcquire(key string) (*Claim, error) {
	if err := ValidateKey(key); err != nil {
		return nil, err
	}
	p := l.claimPath(key)

	c, err := l.create(p)
	if err == nil {
		return c, nil
	}
	exists, statErr := l.fs.Exists(p)
	if statErr != nil {
		return nil, statErr
	}
	if !exists {
		return nil, err
	}
	if !l.stale(p) {
		return nil, nil
	}
	if err := l.fs.Remove(p); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("lock: break stale claim %s: %w", key, err)
	}
	c, err = l.create(p)
	if err != nil {
		// Lost the race to another process breaking the same claim.
		return nil, nil
	}
	return c, nil
}

func (l *FileLocker) create(p string) (*Claim, error) {
	f, err := l.fs.OpenFile(p, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return nil, err
	}
	host, _ := os.Hostname()
	rec := claimRecord{Owner: l.owner + "/" + uuid.NewString(), PID: os.Getpid(), Host: host, Acquired: time.Now().UTC()}
	if err := json.NewEncoder(f).Encode(rec); err != nil {
		_ = f.Close()
		_ = l.fs.Remove(p)
		return nil, err
	}
	if err := f.Close(); err != nil {
		_ = l.fs.Remove(p)
		return nil, err
	}
	return &Claim{locker: l, path: p, owner: rec.Owner}, nil
}

func (l *FileLocker) stale(p string) bool {
	info, err := l.fs.Stat(p)
	if err != nil {
		return false
	}
	return time.Since(info.ModTime()) > l.config.StaleAfter
}

func (l *FileLocker) read(p string) (claimRecord, error) {
	var rec claimRecord
	data, err := l.fs.ReadFile(p)
	if err != nil {
		return rec, err
	}
	err = json.Unmarshal(data, &rec)
	return rec, err
}

// Release removes the claim file if it is still ours. It returns
// ErrClaimLost when the claim was broken or replaced.
func (c *Claim) Release() error {
	rec, err := c.locker.read(c.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return ErrClaimLost
		}
		return fmt.Errorf("lock: read claim: %w", err)
	}
	if rec.Owner != c.owner {
		return ErrClaimLost
	}
	if err := c.locker.fs.Remove(c.path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("lock: remove claim: %w", err)
	}
	return nil
}
