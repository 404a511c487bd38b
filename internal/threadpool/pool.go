// Package threadpool implements the per-worker bounded thread pool from
// spec §4.4: a fixed set of goroutines dispatching accepted connections
// to a request handler, with a bounded job queue that rejects new work
// once full.
//
// Adapted from the teacher's internal/worker.Pool: the same bounded
// channel + sync.WaitGroup + sync.Once start/stop shape, retargeted
// from "buffer an HTTP forward job" to "run one connection to
// completion".
package threadpool

import (
	"net"
	"sync"
	"time"

	"go.uber.org/atomic"

	"github.com/martimgil/concurrent-http-server/pkg/logger"
)

// Handler processes one accepted connection to completion. It owns conn
// and must close it exactly once before returning.
type Handler func(conn net.Conn)

// Pool is a fixed-size goroutine pool consuming client connections from
// a bounded job queue (spec's JobQueue, §3/§4.4).
type Pool struct {
	id              int
	threadCount     int
	jobQueue        chan net.Conn
	handler         Handler
	wg              sync.WaitGroup
	stopOnce        sync.Once
	startOnce       sync.Once
	shutdownTimeout time.Duration

	activeThreads atomic.Int64
}

// New creates a Pool with threadCount worker goroutines and a job queue
// bounded at maxJobs (spec's max_jobs). workerID identifies the owning
// Worker for log lines.
func New(workerID, threadCount, maxJobs int, shutdownTimeout time.Duration, handler Handler) *Pool {
	if threadCount <= 0 {
		threadCount = 1
	}
	if maxJobs <= 0 {
		maxJobs = 1
	}
	return &Pool{
		id:              workerID,
		threadCount:     threadCount,
		jobQueue:        make(chan net.Conn, maxJobs),
		handler:         handler,
		shutdownTimeout: shutdownTimeout,
	}
}

// Start spawns the worker-thread loop (spec §4.4) goroutines. Safe to
// call more than once; only the first call has effect.
func (p *Pool) Start() {
	p.startOnce.Do(func() {
		for i := 0; i < p.threadCount; i++ {
			p.wg.Add(1)
			go p.threadLoop()
		}
		logger.Info("worker %d: thread pool started with %d threads", p.id, p.threadCount)
	})
}

// Submit enqueues conn for processing. If the job queue is already at
// max_jobs, it is rejected (backpressure, spec §4.4/§7) and the caller
// is responsible for responding and closing conn.
func (p *Pool) Submit(conn net.Conn) bool {
	select {
	case p.jobQueue <- conn:
		return true
	default:
		return false
	}
}

// ActiveThreads returns the number of threads currently inside
// handler(), for observability.
func (p *Pool) ActiveThreads() int64 {
	return p.activeThreads.Load()
}

// QueueDepth returns the current number of queued-but-unstarted jobs.
func (p *Pool) QueueDepth() int {
	return len(p.jobQueue)
}

// Stop closes the job queue, joins all threads up to shutdownTimeout,
// then closes any connections left unprocessed in the queue. Destroying
// the pool while a thread is mid-request is not permitted until the
// join returns (spec §4.4).
func (p *Pool) Stop() {
	p.stopOnce.Do(func() {
		close(p.jobQueue)

		done := make(chan struct{})
		go func() {
			defer close(done)
			p.wg.Wait()
		}()

		select {
		case <-done:
			logger.Info("worker %d: thread pool stopped, all threads joined", p.id)
		case <-time.After(p.shutdownTimeout):
			logger.Warn("worker %d: thread pool stop timed out after %v", p.id, p.shutdownTimeout)
		}

		for conn := range p.jobQueue {
			conn.Close()
		}
	})
}

func (p *Pool) threadLoop() {
	defer p.wg.Done()
	for conn := range p.jobQueue {
		p.activeThreads.Inc()
		p.handler(conn)
		p.activeThreads.Dec()
	}
}
