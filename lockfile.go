// Cross-process advisory lock files.
//
// A lock is the file <target>.lock holding {"pid","hostname","expiresAt"}
// (expiresAt in Unix milliseconds). It is created with its content already
// in place: the metadata is written to a private temp file and hard-linked
// onto the lock path, which fails if the lock exists. Contenders never see
// an empty lock file. Filesystems without hard links fall back to
// O_CREATE|O_EXCL followed by a write.
//
// A contender that finds an existing lock reclaims it when it is corrupt,
// when it has expired, or when its owner is on this host and the pid is no
// longer running. A lock written by another host is never reclaimed; it
// only goes away when its owner releases it. All contenders must see the
// same filesystem namespace (a local disk or a POSIX-consistent share).
//
// Reclaiming re-reads the lock and removes it only if the bytes are the
// ones judged stale, which narrows (but cannot close) the window in which
// two reclaimers race a fresh owner.
package jsondb

import (
	"bytes"
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"time"

	json "github.com/goccy/go-json"
	"go.uber.org/zap"
)

// LockOptions tunes lock-file acquisition.
type LockOptions struct {
	TTL            time.Duration // lifetime of an unrefreshed lock (default 30s)
	AcquireTimeout time.Duration // give up with ErrLockBusy after this (default 5s, <0 waits for ctx only)
	RetryDelay     time.Duration // sleep between attempts on a live lock (default 25ms)
}

// Default lock tunables.
const (
	DefaultLockTTL        = 30 * time.Second
	DefaultAcquireTimeout = 5 * time.Second
	DefaultRetryDelay     = 25 * time.Millisecond
)

func (o LockOptions) withDefaults() LockOptions {
	if o.TTL <= 0 {
		o.TTL = DefaultLockTTL
	}
	if o.AcquireTimeout == 0 {
		o.AcquireTimeout = DefaultAcquireTimeout
	}
	if o.RetryDelay <= 0 {
		o.RetryDelay = DefaultRetryDelay
	}
	return o
}

type lockMeta struct {
	PID       int    `json:"pid"`
	Hostname  string `json:"hostname"`
	ExpiresAt int64  `json:"expiresAt"`
}

// LockFile is a handle on one lock path. It is not safe for concurrent
// use; collections only touch it while holding their in-process write lock.
type LockFile struct {
	path  string
	opts  LockOptions
	pid   int
	host  string
	alive func(ctx context.Context, pid int) bool
	now   func() time.Time
	log   *zap.Logger

	held *lockMeta
}

// NewLockFile returns a handle for <target>.lock. A nil logger disables
// logging.
func NewLockFile(target string, opts LockOptions, log *zap.Logger) *LockFile {
	if log == nil {
		log = zap.NewNop()
	}
	host, err := os.Hostname()
	if err != nil {
		host = "unknown"
	}
	return &LockFile{
		path:  target + ".lock",
		opts:  opts.withDefaults(),
		pid:   os.Getpid(),
		host:  host,
		alive: pidAlive,
		now:   time.Now,
		log:   log.With(zap.String("lock", target+".lock")),
	}
}

// Path returns the lock file path.
func (l *LockFile) Path() string { return l.path }

// Held reports whether this handle currently owns the lock.
func (l *LockFile) Held() bool { return l.held != nil }

// Acquire takes the lock, waiting while another live owner holds it.
// It fails with ErrLockBusy once AcquireTimeout elapses and with the
// context's error if ctx ends first.
func (l *LockFile) Acquire(ctx context.Context) error {
	if l.held != nil {
		return fmt.Errorf("acquire %s: already held", l.path)
	}

	var deadline <-chan time.Time
	if l.opts.AcquireTimeout > 0 {
		timer := time.NewTimer(l.opts.AcquireTimeout)
		defer timer.Stop()
		deadline = timer.C
	}

	for {
		meta := l.meta()
		err := l.create(meta)
		if err == nil {
			l.held = &meta
			return nil
		}
		if !errors.Is(err, os.ErrExist) {
			return fmt.Errorf("acquire %s: %w", l.path, err)
		}

		reclaimed, err := l.reclaim(ctx)
		if err != nil {
			return fmt.Errorf("acquire %s: %w", l.path, err)
		}
		if reclaimed {
			select {
			case <-deadline:
				return fmt.Errorf("%w: %s", ErrLockBusy, l.path)
			case <-ctx.Done():
				return fmt.Errorf("acquire %s: %w", l.path, ctx.Err())
			default:
				continue
			}
		}

		wait := time.NewTimer(l.opts.RetryDelay)
		select {
		case <-wait.C:
		case <-deadline:
			wait.Stop()
			return fmt.Errorf("%w: %s", ErrLockBusy, l.path)
		case <-ctx.Done():
			wait.Stop()
			return fmt.Errorf("acquire %s: %w", l.path, ctx.Err())
		}
	}
}

// Refresh pushes expiresAt another TTL into the future. Long-running
// holders call it before the TTL runs out. It fails with ErrLockLost if
// the lock file no longer carries this handle's metadata.
func (l *LockFile) Refresh() error {
	if l.held == nil {
		return fmt.Errorf("refresh %s: %w", l.path, ErrLockLost)
	}
	if !l.owned() {
		l.held = nil
		return fmt.Errorf("refresh %s: %w", l.path, ErrLockLost)
	}

	meta := l.meta()
	data, err := json.Marshal(meta)
	if err != nil {
		return fmt.Errorf("refresh %s: %w", l.path, err)
	}
	tmp := l.privateTemp()
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("refresh %s: %w", l.path, err)
	}
	if err := os.Rename(tmp, l.path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("refresh %s: %w", l.path, err)
	}
	l.held = &meta
	return nil
}

// Release removes the lock file if this handle owns it. Releasing a lock
// that is not held, or whose file is already gone, is not an error.
func (l *LockFile) Release() error {
	if l.held == nil {
		return nil
	}
	owned := l.owned()
	l.held = nil
	if !owned {
		return nil
	}
	if err := os.Remove(l.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("release %s: %w", l.path, err)
	}
	return nil
}

func (l *LockFile) meta() lockMeta {
	return lockMeta{
		PID:       l.pid,
		Hostname:  l.host,
		ExpiresAt: l.now().Add(l.opts.TTL).UnixMilli(),
	}
}

// create publishes meta at the lock path, failing with os.ErrExist when
// a lock is already present.
func (l *LockFile) create(meta lockMeta) error {
	data, err := json.Marshal(meta)
	if err != nil {
		return err
	}

	tmp := l.privateTemp()
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	defer os.Remove(tmp)

	linkErr := os.Link(tmp, l.path)
	if linkErr == nil || errors.Is(linkErr, os.ErrExist) {
		return linkErr
	}

	// No hard links here; publish with an exclusive create instead.
	f, err := os.OpenFile(l.path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return err
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(l.path)
		return err
	}
	return f.Close()
}

func (l *LockFile) privateTemp() string {
	var b [6]byte
	_, _ = rand.Read(b[:])
	return fmt.Sprintf("%s.%d.%s", l.path, l.pid, hex.EncodeToString(b[:]))
}

// reclaim inspects an existing lock and removes it when it is stale.
// It reports whether the caller should retry immediately.
func (l *LockFile) reclaim(ctx context.Context) (bool, error) {
	data, err := os.ReadFile(l.path)
	if errors.Is(err, os.ErrNotExist) {
		return true, nil
	}
	if err != nil {
		return false, err
	}

	var meta lockMeta
	reason := ""
	if err := json.Unmarshal(data, &meta); err != nil || meta.Hostname == "" {
		reason = "corrupt"
	} else if meta.Hostname != l.host {
		return false, nil
	} else if l.now().UnixMilli() >= meta.ExpiresAt {
		reason = "expired"
	} else if !l.alive(ctx, meta.PID) {
		reason = "dead-owner"
	}
	if reason == "" {
		return false, nil
	}

	current, err := os.ReadFile(l.path)
	if errors.Is(err, os.ErrNotExist) {
		return true, nil
	}
	if err != nil {
		return false, err
	}
	if !bytes.Equal(current, data) {
		// Someone else replaced it meanwhile; judge the new one next round.
		return true, nil
	}
	if err := os.Remove(l.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return false, err
	}
	l.log.Warn("reclaimed stale lock",
		zap.String("reason", reason),
		zap.Int("pid", meta.PID),
		zap.String("hostname", meta.Hostname),
		zap.Int64("expiresAt", meta.ExpiresAt))
	return true, nil
}

// owned reports whether the file at the lock path still carries the
// metadata this handle last wrote.
func (l *LockFile) owned() bool {
	data, err := os.ReadFile(l.path)
	if err != nil {
		return false
	}
	var meta lockMeta
	if err := json.Unmarshal(data, &meta); err != nil {
		return false
	}
	return meta == *l.held
}
