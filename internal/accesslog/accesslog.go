// Package accesslog implements the process-wide, multi-writer-safe
// access log with size-triggered rotation (spec §4.6). In the
// single-process collapse of spec §9, the cross-process "named
// semaphore used as a mutex" becomes a plain sync.Mutex guarding the
// same critical section: buffer, file handle, and rotation state.
package accesslog

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/martimgil/concurrent-http-server/pkg/logger"
)

const (
	minBufferBytes   = 4096
	maxFileBytes     = 10 << 20 // 10 MiB
	defaultRetention = 5
	flushInterval    = 5 * time.Second
)

// AccessLog is a single append-only log file shared by every worker.
type AccessLog struct {
	mu        sync.Mutex
	path      string
	retention int
	file      *os.File
	fileSize  int64
	buf       []byte
	lastFlush time.Time

	closeOnce sync.Once
	stopTick  chan struct{}
	tickDone  chan struct{}
}

// Open creates or appends to path, creating parent directories as
// needed, and starts the periodic flush goroutine.
func Open(path string) (*AccessLog, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("accesslog: create dir %s: %w", dir, err)
		}
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("accesslog: open %s: %w", path, err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("accesslog: stat %s: %w", path, err)
	}

	a := &AccessLog{
		path:      path,
		retention: defaultRetention,
		file:      f,
		fileSize:  info.Size(),
		buf:       make([]byte, 0, minBufferBytes),
		lastFlush: time.Now(),
		stopTick:  make(chan struct{}),
		tickDone:  make(chan struct{}),
	}
	go a.flushLoop()
	return a, nil
}

// Line appends one access-log line. The line format is fixed by spec
// §4.6: `IP [DATE] "METHOD PATH" STATUS BYTES DURATIONms`. Write errors
// are logged to stderr and dropped; they never abort the request that
// triggered the log line (spec §4.6/§7).
func (a *AccessLog) Line(ip, method, path string, status int, bytesSent int64, duration time.Duration) {
	date := time.Now().Format("02/Jan/2006:15:04:05")
	line := fmt.Sprintf("%s [%s] \"%s %s\" %d %d %dms\n",
		ip, date, method, path, status, bytesSent, duration.Milliseconds())

	a.mu.Lock()
	defer a.mu.Unlock()

	if err := a.rotateIfNeededLocked(); err != nil {
		logger.Error("accesslog: rotation failed: %v", err)
	}

	if len(a.buf)+len(line) > cap(a.buf) {
		if err := a.flushLocked(); err != nil {
			logger.Error("accesslog: flush failed: %v", err)
		}
	}
	a.buf = append(a.buf, line...)

	if len(a.buf) >= cap(a.buf) || time.Since(a.lastFlush) >= flushInterval {
		if err := a.flushLocked(); err != nil {
			logger.Error("accesslog: flush failed: %v", err)
		}
	}
}

// Flush forces the in-memory buffer to disk.
func (a *AccessLog) Flush() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.flushLocked()
}

func (a *AccessLog) flushLocked() error {
	a.lastFlush = time.Now()
	if len(a.buf) == 0 {
		return nil
	}
	n, err := a.file.Write(a.buf)
	a.fileSize += int64(n)
	a.buf = a.buf[:0]
	return err
}

// rotateIfNeededLocked implements spec §4.6's rotation algorithm: flush,
// close, unlink the oldest backup, shift path.i -> path.(i+1), rename
// path -> path.1, reopen in append mode.
func (a *AccessLog) rotateIfNeededLocked() error {
	if a.fileSize < maxFileBytes {
		return nil
	}
	if err := a.flushLocked(); err != nil {
		logger.Error("accesslog: pre-rotation flush failed: %v", err)
	}
	if err := a.file.Close(); err != nil {
		return fmt.Errorf("close before rotate: %w", err)
	}

	oldest := fmt.Sprintf("%s.%d", a.path, a.retention)
	os.Remove(oldest) // best-effort; absence is not an error

	for i := a.retention - 1; i >= 1; i-- {
		src := fmt.Sprintf("%s.%d", a.path, i)
		dst := fmt.Sprintf("%s.%d", a.path, i+1)
		if _, err := os.Stat(src); err == nil {
			if err := os.Rename(src, dst); err != nil {
				logger.Error("accesslog: rename %s -> %s: %v", src, dst, err)
			}
		}
	}
	if err := os.Rename(a.path, a.path+".1"); err != nil {
		logger.Error("accesslog: rename %s -> %s.1: %v", a.path, a.path, err)
	}

	f, err := os.OpenFile(a.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("reopen after rotate: %w", err)
	}
	a.file = f
	a.fileSize = 0
	return nil
}

func (a *AccessLog) flushLoop() {
	defer close(a.tickDone)
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			a.mu.Lock()
			if time.Since(a.lastFlush) >= flushInterval {
				if err := a.flushLocked(); err != nil {
					logger.Error("accesslog: periodic flush failed: %v", err)
				}
			}
			a.mu.Unlock()
		case <-a.stopTick:
			return
		}
	}
}

// Close flushes any buffered data and closes the underlying file
// handle. Safe to call more than once.
func (a *AccessLog) Close() error {
	var err error
	a.closeOnce.Do(func() {
		close(a.stopTick)
		<-a.tickDone
		a.mu.Lock()
		defer a.mu.Unlock()
		if ferr := a.flushLocked(); ferr != nil {
			logger.Error("accesslog: flush on close failed: %v", ferr)
		}
		err = a.file.Close()
	})
	return err
}
