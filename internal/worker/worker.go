// Package worker implements the receiver loop from spec §4.2: pulling
// handed-off connections and dispatching them into a bounded thread
// pool, backed by a private LRU file cache.
//
// Spec §9's single-process collapse replaces the Unix-domain datagram
// channel with a typed Go channel of net.Conn per worker; the shared
// admission queue from internal/admission stays in front of dispatch
// to preserve the 503 backpressure semantics, and each worker's
// receiver loop dequeues one admission token per connection it takes
// off its own channel -- which worker's goroutine performs any given
// dequeue does not matter, because the token only counts slots, it
// does not route them (routing already happened via the channel a
// connection was sent on).
package worker

import (
	"bufio"
	"net"
	"time"

	"github.com/martimgil/concurrent-http-server/internal/accesslog"
	"github.com/martimgil/concurrent-http-server/internal/admission"
	"github.com/martimgil/concurrent-http-server/internal/cache"
	"github.com/martimgil/concurrent-http-server/internal/httpwire"
	"github.com/martimgil/concurrent-http-server/internal/request"
	"github.com/martimgil/concurrent-http-server/internal/stats"
	"github.com/martimgil/concurrent-http-server/internal/threadpool"
	"github.com/martimgil/concurrent-http-server/pkg/logger"
)

// Worker owns one share of the connection-handling capacity: a private
// LRU cache, a bounded thread pool, and the channel Master hands
// accepted connections to.
type Worker struct {
	id        int
	conns     chan net.Conn
	admission *admission.Queue
	pool      *threadpool.Pool
	cache     *cache.FileCache
	ctx       *request.Context
	loopDone  chan struct{}
}

// Config carries everything a Worker needs at construction time.
type Config struct {
	ID               int
	ChannelCapacity  int
	ThreadsPerWorker int
	MaxJobs          int
	ShutdownTimeout  time.Duration
	DocumentRoot     string
	CacheBytes       int64
	Admission        *admission.Queue
	AccessLog        *accesslog.AccessLog
	Stats            *stats.ServerStats
}

// New constructs a Worker and its thread pool, but does not start
// either the pool or the receiver loop; call Start for that.
func New(cfg Config) *Worker {
	fc := cache.New(cfg.CacheBytes)
	reqCtx := &request.Context{
		WorkerID:     cfg.ID,
		DocumentRoot: cfg.DocumentRoot,
		Cache:        fc,
		AccessLog:    cfg.AccessLog,
		Stats:        cfg.Stats,
	}

	w := &Worker{
		id:        cfg.ID,
		conns:     make(chan net.Conn, cfg.ChannelCapacity),
		admission: cfg.Admission,
		cache:     fc,
		ctx:       reqCtx,
		loopDone:  make(chan struct{}),
	}
	w.pool = threadpool.New(cfg.ID, cfg.ThreadsPerWorker, cfg.MaxJobs, cfg.ShutdownTimeout, reqCtx.Handle)
	return w
}

// ID returns the worker's index, used for round-robin routing and
// per-worker metric labels.
func (w *Worker) ID() int { return w.id }

// Start launches the thread pool and the receiver loop goroutine.
func (w *Worker) Start() {
	w.pool.Start()
	go w.receiveLoop()
}

// Dispatch hands a connection to this worker, per spec §4.1 step 4.
// The channel is sized at admission queue capacity by the caller so
// this send never blocks in practice (spec §9's "unbounded" channel,
// made concretely bounded by the admission queue already in front of
// it).
func (w *Worker) Dispatch(conn net.Conn) {
	w.conns <- conn
}

// receiveLoop implements spec §4.2's per-iteration protocol in reverse
// order: taking a connection off the channel stands in for the
// ancillary-data read, and one admission token is then dequeued for it
// (the filled_slots wait) before the connection is submitted to the pool.
func (w *Worker) receiveLoop() {
	defer close(w.loopDone)
	for conn := range w.conns {
		w.admission.Dequeue()
		if !w.pool.Submit(conn) {
			writeOverloaded(conn)
		}
	}
}

// writeOverloaded responds 503 to a connection the local thread pool's
// job queue could not accept, then closes it (spec §4.4 Submit).
func writeOverloaded(conn net.Conn) {
	defer conn.Close()
	writer := bufio.NewWriter(conn)
	if _, err := httpwire.WriteError(writer, 503, false); err != nil {
		logger.Warn("failed writing 503 for job-queue overload: %v", err)
	}
}

// Stop closes the handoff channel, waits for receiveLoop to drain
// whatever was already buffered in it and hand each one to the pool,
// and only then stops the pool -- the job queue must not be closed
// while receiveLoop could still be calling Submit on it.
func (w *Worker) Stop() {
	close(w.conns)
	<-w.loopDone
	w.pool.Stop()
}

// CacheStats exposes the worker's private cache counters for
// /api/stats aggregation and admin metrics.
func (w *Worker) CacheStats() cache.Stats {
	return w.cache.Stats()
}
