package accesslog

import (
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"sync"
	"testing"
	"time"
)

var lineRE = regexp.MustCompile(`^\S+ \[[^\]]+\] "[A-Z]+ [^"]*" \d+ \d+ \d+ms\n$`)

func TestAccessLog_LineFormat(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "access.log")
	a, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer a.Close()

	a.Line("127.0.0.1", "GET", "/index.html", 200, 1234, 5*time.Millisecond)
	if err := a.Flush(); err != nil {
		t.Fatalf("Flush: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read log: %v", err)
	}
	if !lineRE.Match(data) {
		t.Errorf("line %q does not match expected format", data)
	}
}

func TestAccessLog_CreatesParentDir(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "nested", "logs", "access.log")
	a, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer a.Close()

	if _, err := os.Stat(filepath.Dir(path)); err != nil {
		t.Errorf("expected parent dir to exist: %v", err)
	}
}

func TestAccessLog_FlushOnClose(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "access.log")
	a, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	a.Line("10.0.0.1", "GET", "/a.txt", 200, 10, time.Millisecond)
	if err := a.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read log: %v", err)
	}
	if len(data) == 0 {
		t.Error("expected buffered line to be flushed on Close")
	}
}

func TestAccessLog_CloseIsIdempotent(t *testing.T) {
	dir := t.TempDir()
	a, err := Open(filepath.Join(dir, "access.log"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := a.Close(); err != nil {
		t.Fatalf("first Close: %v", err)
	}
	if err := a.Close(); err != nil {
		t.Errorf("second Close returned error: %v", err)
	}
}

func TestAccessLog_RotatesWhenOverSizeBound(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "access.log")
	a, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer a.Close()

	// Force rotation without writing 10 MiB of lines in the test.
	a.mu.Lock()
	a.fileSize = maxFileBytes
	a.mu.Unlock()

	a.Line("127.0.0.1", "GET", "/big.bin", 200, 999, time.Millisecond)
	if err := a.Flush(); err != nil {
		t.Fatalf("Flush: %v", err)
	}

	if _, err := os.Stat(path + ".1"); err != nil {
		t.Errorf("expected rotated backup %s.1 to exist: %v", path, err)
	}
	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("stat current log: %v", err)
	}
	if info.Size() == 0 {
		t.Error("expected the post-rotation line to land in the fresh file")
	}
}

func TestAccessLog_RetentionBoundedAtK(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "access.log")

	// Pre-seed retention-1..retention backups so the oldest gets unlinked
	// on the next rotation.
	for i := 1; i <= defaultRetention; i++ {
		if err := os.WriteFile(path+"."+strconv.Itoa(i), []byte("old"), 0o644); err != nil {
			t.Fatalf("seed backup %d: %v", i, err)
		}
	}

	a, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer a.Close()

	a.mu.Lock()
	a.fileSize = maxFileBytes
	a.mu.Unlock()
	a.Line("127.0.0.1", "GET", "/x", 200, 1, time.Millisecond)
	if err := a.Flush(); err != nil {
		t.Fatalf("Flush: %v", err)
	}

	if _, err := os.Stat(path + "." + strconv.Itoa(defaultRetention+1)); err == nil {
		t.Errorf("did not expect a backup beyond retention K=%d", defaultRetention)
	}
	if _, err := os.Stat(path + ".1"); err != nil {
		t.Errorf("expected %s.1 to exist after rotation: %v", path, err)
	}
}

func TestAccessLog_ConcurrentWritesDoNotInterleave(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "access.log")
	a, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer a.Close()

	const n = 100
	var wg sync.WaitGroup
	wg.Add(n)
	for i := 0; i < n; i++ {
		go func() {
			defer wg.Done()
			a.Line("127.0.0.1", "GET", "/c", 200, 1, time.Millisecond)
		}()
	}
	wg.Wait()
	if err := a.Flush(); err != nil {
		t.Fatalf("Flush: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read log: %v", err)
	}
	lines := regexp.MustCompile("\n").Split(string(data), -1)
	count := 0
	for _, l := range lines {
		if l == "" {
			continue
		}
		if !lineRE.MatchString(l + "\n") {
			t.Fatalf("malformed/interleaved line: %q", l)
		}
		count++
	}
	if count != n {
		t.Errorf("got %d well-formed lines, want %d", count, n)
	}
}
