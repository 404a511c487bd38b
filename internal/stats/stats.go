// Package stats implements the shared, mutex-guarded request counters
// from spec §4.7. Unlike the flags and gauges elsewhere in this module
// (go.uber.org/atomic), these fields are read and written together as
// one consistent snapshot, so a plain sync.Mutex guards them directly
// rather than compose several independent atomics.
package stats

import (
	"strconv"
	"sync"
	"time"

	"github.com/martimgil/concurrent-http-server/internal/metrics"
	"github.com/martimgil/concurrent-http-server/pkg/logger"
)

// Snapshot is a point-in-time copy of ServerStats' counters.
type Snapshot struct {
	TotalRequests      uint64
	BytesTransferred   uint64
	Status2xx          uint64
	Status4xx          uint64
	Status5xx          uint64
	TotalResponseTime  time.Duration
	ActiveConnections  int64
}

// AvgResponseTimeMS returns the mean response time in milliseconds, or
// 0 if no requests have completed yet.
func (s Snapshot) AvgResponseTimeMS() float64 {
	if s.TotalRequests == 0 {
		return 0
	}
	return float64(s.TotalResponseTime.Milliseconds()) / float64(s.TotalRequests)
}

// ServerStats accumulates process-wide counters across every worker.
type ServerStats struct {
	mu sync.Mutex

	totalRequests     uint64
	bytesTransferred  uint64
	status2xx         uint64
	status4xx         uint64
	status5xx         uint64
	totalResponseTime time.Duration
	activeConnections int64
}

// New returns an empty ServerStats.
func New() *ServerStats {
	return &ServerStats{}
}

// RequestStarted records a new active connection.
func (s *ServerStats) RequestStarted() {
	s.mu.Lock()
	s.activeConnections++
	s.mu.Unlock()
	metrics.ActiveConnectionsGauge.Inc()
}

// RequestFinished records one completed request: its status code,
// response body bytes, and wall-clock duration (spec §4.7 update_stats).
func (s *ServerStats) RequestFinished(status int, bytesSent int64, duration time.Duration) {
	s.mu.Lock()
	s.totalRequests++
	s.bytesTransferred += uint64(bytesSent)
	s.totalResponseTime += duration
	s.activeConnections--
	switch {
	case status >= 200 && status < 300:
		s.status2xx++
	case status >= 400 && status < 500:
		s.status4xx++
	case status >= 500:
		s.status5xx++
	}
	s.mu.Unlock()

	metrics.ActiveConnectionsGauge.Dec()
	metrics.RequestsTotal.WithLabelValues(statusLabel(status)).Inc()
	metrics.BytesTransferredTotal.Add(float64(bytesSent))
}

// Snapshot returns a consistent copy of every counter.
func (s *ServerStats) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Snapshot{
		TotalRequests:     s.totalRequests,
		BytesTransferred:  s.bytesTransferred,
		Status2xx:         s.status2xx,
		Status4xx:         s.status4xx,
		Status5xx:         s.status5xx,
		TotalResponseTime: s.totalResponseTime,
		ActiveConnections: s.activeConnections,
	}
}

// Print logs a one-line summary, matching the shape of the periodic
// stats print spec §4.7 requires every ~30s.
func (s *ServerStats) Print() {
	snap := s.Snapshot()
	logger.Info("stats: requests=%d bytes=%d 2xx=%d 4xx=%d 5xx=%d avg_response_ms=%.2f active=%d",
		snap.TotalRequests, snap.BytesTransferred, snap.Status2xx, snap.Status4xx, snap.Status5xx,
		snap.AvgResponseTimeMS(), snap.ActiveConnections)
}

// RunPeriodicPrint blocks, printing a stats summary every interval,
// until ctx-like stop channel is closed. Grounded on the teacher's
// overall "background goroutine driven by a ticker, exit on a done
// channel" shape (see threadpool's use of time.After for the same
// idea in a one-shot form).
func (s *ServerStats) RunPeriodicPrint(interval time.Duration, stop <-chan struct{}) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			s.Print()
		case <-stop:
			return
		}
	}
}

func statusLabel(status int) string {
	return strconv.Itoa(status)
}
