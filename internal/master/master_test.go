package master

import (
	"bufio"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/martimgil/concurrent-http-server/internal/accesslog"
	"github.com/martimgil/concurrent-http-server/internal/config"
	"github.com/martimgil/concurrent-http-server/internal/stats"
)

func newTestMaster(t *testing.T, cfg *config.Config) *Master {
	t.Helper()
	logPath := filepath.Join(t.TempDir(), "access.log")
	al, err := accesslog.Open(logPath)
	if err != nil {
		t.Fatalf("accesslog.Open: %v", err)
	}
	t.Cleanup(func() { al.Close() })

	m, err := New(cfg, al, stats.New())
	if err != nil {
		t.Fatalf("master.New: %v", err)
	}
	return m
}

func TestMaster_HappyPathServesFile(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "index.html"), []byte("<h1>Index Page</h1>"), 0o644); err != nil {
		t.Fatalf("write index.html: %v", err)
	}

	cfg := &config.Config{
		Port:             0,
		DocumentRoot:     dir,
		NumWorkers:       1,
		ThreadsPerWorker: 2,
		MaxQueueSize:     4,
		CacheSizeMB:      1,
	}
	m := newTestMaster(t, cfg)
	addr := m.listener.Addr().String()

	go m.Run()
	defer m.Shutdown()

	resp, err := httpGet(addr, "/index.html")
	if err != nil {
		t.Fatalf("httpGet: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Errorf("StatusCode=%d, want 200", resp.StatusCode)
	}
}

func TestMaster_Returns503WhenSaturated(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "slow.txt"), []byte("x"), 0o644); err != nil {
		t.Fatalf("write slow.txt: %v", err)
	}

	cfg := &config.Config{
		Port:             0,
		DocumentRoot:     dir,
		NumWorkers:       1,
		ThreadsPerWorker: 1,
		MaxQueueSize:     1,
		CacheSizeMB:      1,
	}
	m := newTestMaster(t, cfg)
	addr := m.listener.Addr().String()

	go m.Run()
	defer m.Shutdown()

	// Open raw connections without sending a request: the first occupies
	// the single pool thread, the second fills the one-slot job queue (the
	// worker's receiver returns each admission token as soon as it takes
	// the connection), so the overflow request gets the worker's 503.
	held := make([]net.Conn, 0, 2)
	for i := 0; i < 2; i++ {
		c, err := net.DialTimeout("tcp", addr, time.Second)
		if err != nil {
			t.Fatalf("dial %d: %v", i, err)
		}
		held = append(held, c)
	}
	defer func() {
		for _, c := range held {
			c.Close()
		}
	}()

	time.Sleep(50 * time.Millisecond)

	resp, err := httpGet(addr, "/slow.txt")
	if err != nil {
		t.Fatalf("httpGet overflow request: %v", err)
	}
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Errorf("StatusCode=%d, want 503", resp.StatusCode)
	}
}

func httpGet(addr, path string) (*http.Response, error) {
	conn, err := net.DialTimeout("tcp", addr, 2*time.Second)
	if err != nil {
		return nil, err
	}
	defer conn.Close()

	if _, err := conn.Write([]byte("GET " + path + " HTTP/1.1\r\nHost: x\r\n\r\n")); err != nil {
		return nil, err
	}
	reader := bufio.NewReader(conn)
	req, err := http.NewRequest("GET", path, nil)
	if err != nil {
		return nil, err
	}
	return http.ReadResponse(reader, req)
}
