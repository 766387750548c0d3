package lock

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	xerrors "github.com/jmgilman/go/errors"
)

// Sentinel errors for locking.
var (
	// ErrInvalidKey indicates an empty or malformed lock key.
	ErrInvalidKey = xerrors.New(xerrors.CodeInvalidInput, "lock: invalid key")

	// ErrTimeout indicates the lock could not be acquired within MaxWait.
	ErrTimeout = xerrors.New(xerrors.CodeTimeout, "lock: acquire timed out")
)

// keyLock is a one-slot channel semaphore shared by all waiters on a key.
type keyLock struct {
	ch   chan struct{}
	refs int
}

// Manager hands out exclusive per-key tokens.
type Manager struct {
	mu     sync.Mutex
	keys   map[string]*keyLock
	file   *FileLocker
	onWait func(key string, waited time.Duration)
}

// Option configures a Manager.
type Option func(*Manager)

// WithFileLocker also claims each key across processes.
func WithFileLocker(f *FileLocker) Option {
	return func(m *Manager) {
		m.file = f
	}
}

// WithWaitHook is called after a contended acquisition with the time spent
// waiting.
func WithWaitHook(fn func(key string, waited time.Duration)) Option {
	return func(m *Manager) {
		m.onWait = fn
	}
}

// NewManager creates a lock manager.
func NewManager(opts ...Option) *Manager {
	m := &Manager{keys: make(map[string]*keyLock)}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Token is ownership of one key. Release is idempotent.
type Token struct {
	m        *Manager
	key      string
	kl       *keyLock
	claim    *Claim
	once     sync.Once
	acquired time.Time
}

// Key returns the locked key.
func (t *Token) Key() string { return t.key }

// Held returns how long the token has been held.
func (t *Token) Held() time.Duration { return time.Since(t.acquired) }

// Release gives up the key. The cross-process claim, if any, is removed
// before in-process waiters are woken.
func (t *Token) Release() error {
	var err error
	t.once.Do(func() {
		if t.claim != nil {
			err = t.claim.Release()
		}
		<-t.kl.ch
		t.m.unref(t.key, t.kl)
	})
	return err
}

func (m *Manager) ref(key string) *keyLock {
	m.mu.Lock()
	defer m.mu.Unlock()
	kl, ok := m.keys[key]
	if !ok {
		kl = &keyLock{ch: make(chan struct{}, 1)}
		m.keys[key] = kl
	}
	kl.refs++
	return kl
}

func (m *Manager) unref(key string, kl *keyLock) {
	m.mu.Lock()
	defer m.mu.Unlock()
	kl.refs--
	if kl.refs == 0 {
		delete(m.keys, key)
	}
}

// Acquire blocks until key is held or ctx is done.
func (m *Manager) Acquire(ctx context.Context, key string) (*Token, error) {
	if err := ValidateKey(key); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	start := time.Now()
	kl := m.ref(key)

	contended := false
	select {
	case kl.ch <- struct{}{}:
	default:
		contended = true
		select {
		case kl.ch <- struct{}{}:
		case <-ctx.Done():
			m.unref(key, kl)
			return nil, ctx.Err()
		}
	}

	tok := &Token{m: m, key: key, kl: kl}
	if m.file != nil {
		claim, err := m.file.Acquire(ctx, key)
		if err != nil {
			<-kl.ch
			m.unref(key, kl)
			return nil, err
		}
		tok.claim = claim
	}
	tok.acquired = time.Now()
	if contended && m.onWait != nil {
		m.onWait(key, tok.acquired.Sub(start))
	}
	return tok, nil
}

// TryAcquire takes key only if it is free in this process and, when a file
// locker is configured, unclaimed by other processes.
func (m *Manager) TryAcquire(key string) (*Token, bool, error) {
	if err := ValidateKey(key); err != nil {
		return nil, false, err
	}
	kl := m.ref(key)
	select {
	case kl.ch <- struct{}{}:
	default:
		m.unref(key, kl)
		return nil, false, nil
	}
	tok := &Token{m: m, key: key, kl: kl, acquired: time.Now()}
	if m.file != nil {
		claim, err := m.file.TryAcquire(key)
		if err != nil || claim == nil {
			<-kl.ch
			m.unref(key, kl)
			return nil, false, err
		}
		tok.claim = claim
	}
	return tok, true, nil
}

// Held reports the number of keys currently tracked, held or awaited.
func (m *Manager) Held() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.keys)
}

// ValidateKey checks that key is usable as a lock file name.
func ValidateKey(key string) error {
	if key == "" {
		return ErrInvalidKey
	}
	if key == "." || key == ".." || strings.ContainsAny(key, "/\\\x00") {
		return fmt.Errorf("%w: %q is not a plain name", ErrInvalidKey, key)
	}
	return nil
}
