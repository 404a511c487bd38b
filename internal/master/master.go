// Package master implements the acceptor and dispatcher from spec
// §4.1: own the listening socket, admit connections under backpressure,
// and round-robin dispatch them to workers.
package master

import (
	"bufio"
	"fmt"
	"net"
	"sync/atomic"
	"time"

	"github.com/martimgil/concurrent-http-server/internal/accesslog"
	"github.com/martimgil/concurrent-http-server/internal/admission"
	"github.com/martimgil/concurrent-http-server/internal/config"
	"github.com/martimgil/concurrent-http-server/internal/httpwire"
	"github.com/martimgil/concurrent-http-server/internal/metrics"
	"github.com/martimgil/concurrent-http-server/internal/stats"
	"github.com/martimgil/concurrent-http-server/internal/worker"
	"github.com/martimgil/concurrent-http-server/pkg/logger"
)

// Master owns the listening socket and the set of Workers it dispatches
// accepted connections to.
type Master struct {
	cfg       *config.Config
	listener  net.Listener
	admission *admission.Queue
	workers   []*worker.Worker
	rr        atomic.Uint64
	stats     *stats.ServerStats
	accessLog *accesslog.AccessLog
	stopped   atomic.Bool
	runDone   chan struct{}
}

// New creates a Master bound to cfg's listen port, with cfg.NumWorkers
// Workers each owning a private cache of cfg.PerWorkerCacheBytes().
func New(cfg *config.Config, accessLog *accesslog.AccessLog, st *stats.ServerStats) (*Master, error) {
	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", cfg.Port))
	if err != nil {
		return nil, fmt.Errorf("master: listen on port %d: %w", cfg.Port, err)
	}

	admissionQueue := admission.New(cfg.MaxQueueSize)
	shutdownTimeout := time.Duration(cfg.TimeoutSeconds) * time.Second
	if shutdownTimeout <= 0 {
		shutdownTimeout = 30 * time.Second
	}

	m := &Master{
		cfg:       cfg,
		listener:  ln,
		admission: admissionQueue,
		stats:     st,
		accessLog: accessLog,
		runDone:   make(chan struct{}),
	}

	for i := 0; i < cfg.NumWorkers; i++ {
		w := worker.New(worker.Config{
			ID:               i,
			ChannelCapacity:  cfg.MaxQueueSize,
			ThreadsPerWorker: cfg.ThreadsPerWorker,
			MaxJobs:          cfg.MaxQueueSize,
			ShutdownTimeout:  shutdownTimeout,
			DocumentRoot:     cfg.DocumentRoot,
			CacheBytes:       cfg.PerWorkerCacheBytes(),
			Admission:        admissionQueue,
			AccessLog:        accessLog,
			Stats:            st,
		})
		m.workers = append(m.workers, w)
	}

	return m, nil
}

// Run starts every worker and the accept loop. It blocks (state
// "serving" in spec §4.1's state machine) until Shutdown is called
// from another goroutine, at which point it returns nil; draining the
// workers is done by Shutdown.
func (m *Master) Run() error {
	defer close(m.runDone)

	for _, w := range m.workers {
		w.Start()
	}

	logger.Info("master: listening on %s with %d workers", m.listener.Addr(), len(m.workers))

	for {
		conn, err := m.listener.Accept()
		if err != nil {
			if m.stopped.Load() {
				return nil
			}
			logger.Error("master: accept error: %v", err)
			continue
		}
		m.admit(conn)
	}
}

// admit implements spec §4.1's admission algorithm.
func (m *Master) admit(conn net.Conn) {
	metrics.AdmissionQueueDepthGauge.Set(float64(m.admission.Count()))

	idx := m.rr.Add(1) - 1
	w := m.workers[idx%uint64(len(m.workers))]

	if !m.admission.TryEnqueue(admission.Token{WorkerID: w.ID()}) {
		metrics.RequestsRejectedTotal.Inc()
		writeBusy(conn)
		return
	}

	w.Dispatch(conn)
}

// writeBusy sends the 503 backpressure response spec §4.1 step 1
// requires when the admission queue is saturated, then closes conn.
func writeBusy(conn net.Conn) {
	defer conn.Close()
	writer := bufio.NewWriter(conn)
	if _, err := httpwire.WriteError(writer, 503, false); err != nil {
		logger.Warn("master: failed writing 503 for admission overload: %v", err)
	}
}

// Shutdown implements spec §4.1's shutdown sequence: stop accepting,
// wait for the accept loop to actually return (so no in-flight admit
// call can still be dispatching into a worker), drain each worker's
// queue and thread pool, then close the admission queue so no receiver
// loop is left blocked.
func (m *Master) Shutdown() {
	m.stopped.Store(true)
	if err := m.listener.Close(); err != nil {
		logger.Warn("master: error closing listener: %v", err)
	}
	<-m.runDone
	for _, w := range m.workers {
		w.Stop()
	}
	m.admission.Close()
	logger.Info("master: shutdown complete")
}

// Workers exposes the worker set for admin-surface cache stats
// aggregation.
func (m *Master) Workers() []*worker.Worker {
	return m.workers
}
