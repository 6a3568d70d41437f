package objstore

import (
	"context"
	"fmt"
	"log"
	"os"
	"path"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// Uploader is satisfied by *Client.
type Uploader interface {
	PutFile(ctx context.Context, objectKey, localPath string) error
}

type Stats struct {
	QueueDepth          int
	QueueCapacity       int
	EnqueuedTotal       uint64
	QueueSaturatedTotal uint64
	CoalescedTotal      uint64
	SkippedTotal        uint64
	DroppedTotal        uint64
	UploadSuccessTotal  uint64
	UploadFailTotal     uint64
	LastSuccessUnix     int64
	LastErrorUnix       int64
}

type MirrorOptions struct {
	Prefix        string
	Workers       int
	QueueCapacity int
	EnqueueWait   time.Duration
	MaxAttempts   int
	Backoff       time.Duration
	Logger        *log.Logger
}

type upload struct {
	key  string
	path string
}

// Mirror copies finished files below dataDir (snapshots, closed request log
// segments) to the bucket under the same relative path. A path that is
// already queued is not queued twice.
type Mirror struct {
	up      Uploader
	dataDir string
	opts    MirrorOptions
	jobs    chan upload
	wg      sync.WaitGroup

	// mu guards closed, pending and sends on jobs.
	mu      sync.Mutex
	closed  bool
	pending map[string]struct{}

	enqueued  atomic.Uint64
	saturated atomic.Uint64
	coalesced atomic.Uint64
	skipped   atomic.Uint64
	dropped   atomic.Uint64
	succeeded atomic.Uint64
	failed    atomic.Uint64
	lastOK    atomic.Int64
	lastErr   atomic.Int64
}

func NewMirror(up Uploader, dataDir string, opts MirrorOptions) *Mirror {
	if opts.Workers <= 0 {
		opts.Workers = 1
	}
	if opts.QueueCapacity <= 0 {
		opts.QueueCapacity = 256
	}
	if opts.EnqueueWait <= 0 {
		opts.EnqueueWait = 25 * time.Millisecond
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = 4
	}
	if opts.Backoff <= 0 {
		opts.Backoff = 200 * time.Millisecond
	}
	opts.Prefix = strings.Trim(strings.ReplaceAll(opts.Prefix, "\\", "/"), "/")
	m := &Mirror{
		up:      up,
		dataDir: dataDir,
		opts:    opts,
		jobs:    make(chan upload, opts.QueueCapacity),
		pending: make(map[string]struct{}),
	}
	for i := 0; i < opts.Workers; i++ {
		m.wg.Add(1)
		go m.worker()
	}
	return m
}

// Enqueue queues localPath for upload. It waits at most EnqueueWait for
// queue space and is a no-op after Close.
func (m *Mirror) Enqueue(localPath string) {
	if m == nil || m.up == nil {
		return
	}
	m.enqueued.Add(1)
	key, err := m.ObjectKey(localPath)
	if err != nil {
		m.skipped.Add(1)
		m.printf("mirror skip local=%s err=%v", localPath, err)
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	switch {
	case m.closed:
		m.dropped.Add(1)
		m.printf("mirror drop key=%s reason=closed", key)
		return
	case hasKey(m.pending, key):
		m.coalesced.Add(1)
		return
	}
	if !m.sendLocked(upload{key: key, path: localPath}) {
		n := m.dropped.Add(1)
		m.printf("mirror drop key=%s reason=queue_saturated dropped_total=%d", key, n)
		return
	}
	m.pending[key] = struct{}{}
}

func (m *Mirror) sendLocked(u upload) bool {
	select {
	case m.jobs <- u:
		return true
	default:
	}
	m.saturated.Add(1)
	timer := time.NewTimer(m.opts.EnqueueWait)
	defer timer.Stop()
	select {
	case m.jobs <- u:
		return true
	case <-timer.C:
		return false
	}
}

// Close stops accepting files, drains the queue and waits for in-flight
// uploads. It is safe to call more than once.
func (m *Mirror) Close() {
	if m == nil {
		return
	}
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.closed = true
	close(m.jobs)
	m.mu.Unlock()
	m.wg.Wait()
}

func (m *Mirror) Stats() Stats {
	if m == nil {
		return Stats{}
	}
	return Stats{
		QueueDepth:          len(m.jobs),
		QueueCapacity:       cap(m.jobs),
		EnqueuedTotal:       m.enqueued.Load(),
		QueueSaturatedTotal: m.saturated.Load(),
		CoalescedTotal:      m.coalesced.Load(),
		SkippedTotal:        m.skipped.Load(),
		DroppedTotal:        m.dropped.Load(),
		UploadSuccessTotal:  m.succeeded.Load(),
		UploadFailTotal:     m.failed.Load(),
		LastSuccessUnix:     m.lastOK.Load(),
		LastErrorUnix:       m.lastErr.Load(),
	}
}

func (m *Mirror) worker() {
	defer m.wg.Done()
	for u := range m.jobs {
		err := m.put(u)

		m.mu.Lock()
		delete(m.pending, u.key)
		m.mu.Unlock()

		now := time.Now().UTC().Unix()
		if err != nil {
			m.failed.Add(1)
			m.lastErr.Store(now)
			m.printf("mirror upload failed key=%s err=%v", u.key, err)
			continue
		}
		m.succeeded.Add(1)
		m.lastOK.Store(now)
		m.printf("mirror uploaded key=%s", u.key)
	}
}

// put retries with quadratic backoff. The file is re-checked first since a
// queued path may have been removed meanwhile.
func (m *Mirror) put(u upload) error {
	if _, err := os.Stat(u.path); err != nil {
		return err
	}
	var err error
	for attempt := 1; attempt <= m.opts.MaxAttempts; attempt++ {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
		err = m.up.PutFile(ctx, u.key, u.path)
		cancel()
		if err == nil {
			return nil
		}
		if attempt < m.opts.MaxAttempts {
			time.Sleep(time.Duration(attempt*attempt) * m.opts.Backoff)
		}
	}
	return fmt.Errorf("after %d attempts: %w", m.opts.MaxAttempts, err)
}

// ObjectKey maps a file under the data dir to its bucket key.
func (m *Mirror) ObjectKey(localPath string) (string, error) {
	if localPath == "" {
		return "", fmt.Errorf("empty local path")
	}
	base, err := filepath.Abs(m.dataDir)
	if err != nil {
		return "", err
	}
	abs, err := filepath.Abs(localPath)
	if err != nil {
		return "", err
	}
	rel, err := filepath.Rel(base, abs)
	if err != nil || rel == "." || !filepath.IsLocal(rel) {
		return "", fmt.Errorf("path %s is outside data dir %s", abs, base)
	}
	return path.Join(m.opts.Prefix, filepath.ToSlash(rel)), nil
}

func (m *Mirror) printf(format string, args ...any) {
	if m.opts.Logger != nil {
		m.opts.Logger.Printf(format, args...)
	}
}

func hasKey(set map[string]struct{}, k string) bool {
	_, ok := set[k]
	return ok
}
