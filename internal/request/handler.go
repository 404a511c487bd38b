// Package request implements the per-connection HTTP/1.1 request
// lifecycle (spec §4.5): read → parse → resolve → cache lookup/load →
// respond → close, plus the /api/stats JSON endpoint.
package request

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"go.uber.org/atomic"

	"github.com/martimgil/concurrent-http-server/internal/cache"
	"github.com/martimgil/concurrent-http-server/internal/httpwire"
	"github.com/martimgil/concurrent-http-server/internal/metrics"
	"github.com/martimgil/concurrent-http-server/internal/stats"
	"github.com/martimgil/concurrent-http-server/pkg/logger"
)

// Context is the "explicit worker context" spec §9 calls for in place
// of global state: the document root, per-worker cache, and the
// shared access log and stats, threaded through every handled
// connection instead of living as package-level variables.
type Context struct {
	WorkerID     int
	DocumentRoot string
	Cache        *cache.FileCache
	AccessLog    interface {
		Line(ip, method, path string, status int, bytesSent int64, duration time.Duration)
	}
	Stats *stats.ServerStats

	lastEvictions atomic.Uint64
}

const readBufferSize = 8192

// Handle runs one connection to completion and closes it exactly once,
// regardless of outcome (spec §4.5/§7).
func (ctx *Context) Handle(conn net.Conn) {
	defer conn.Close()

	start := time.Now()
	ctx.Stats.RequestStarted()

	ip := remoteIP(conn)
	reader := bufio.NewReaderSize(conn, readBufferSize)
	writer := bufio.NewWriter(conn)

	req, err := httpwire.ParseRequest(reader)
	if err != nil {
		// The log line format requires an [A-Z]+ method token even for a
		// request too malformed to have a usable method or path.
		ctx.finish(writer, ip, "UNKNOWN", "", 400, start, false)
		return
	}

	if req.Method != "GET" && req.Method != "HEAD" {
		ctx.finish(writer, ip, req.Method, req.Path, 405, start, req.Method == "HEAD")
		return
	}
	head := req.Method == "HEAD"

	if req.Path == "/api/stats" {
		ctx.serveStats(writer, ip, req, start, head)
		return
	}

	relPath := req.Path
	if relPath == "/" {
		relPath = "/index.html"
	}
	if strings.Contains(relPath, "..") {
		ctx.finish(writer, ip, req.Method, req.Path, 403, start, head)
		return
	}

	absPath := filepath.Join(ctx.DocumentRoot, relPath)

	handle, ok := ctx.Cache.Acquire(relPath)
	if !ok {
		metrics.CacheMissesTotal.WithLabelValues(workerLabel(ctx.WorkerID)).Inc()
		if _, err := os.Stat(absPath); err != nil {
			ctx.finish(writer, ip, req.Method, req.Path, 404, start, head)
			return
		}
		handle, err = ctx.Cache.Load(relPath, absPath)
		if err != nil {
			status := 500
			if errors.Is(err, os.ErrPermission) {
				status = 403
			}
			ctx.finish(writer, ip, req.Method, req.Path, status, start, head)
			return
		}
	} else {
		metrics.CacheHitsTotal.WithLabelValues(workerLabel(ctx.WorkerID)).Inc()
	}
	defer handle.Release()

	cs := ctx.Cache.Stats()
	metrics.CacheBytesUsedGauge.WithLabelValues(workerLabel(ctx.WorkerID)).Set(float64(cs.BytesUsed))
	ctx.recordEvictions(cs.Evictions)

	contentType := httpwire.ContentType(absPath)
	data := handle.Bytes()

	if req.Range != nil {
		rr, resolveOK := req.Range.Resolve(int64(len(data)))
		if !resolveOK {
			ctx.finish(writer, ip, req.Method, req.Path, 416, start, head)
			return
		}
		body := data[rr.Start : rr.End+1]
		n, err := httpwire.WriteBody(writer, 206, contentType, bytes.NewReader(body), int64(len(body)), &rr, int64(len(data)), head)
		if err != nil {
			logger.Warn("worker %d: write response failed: %v", ctx.WorkerID, err)
		}
		ctx.finishWithBytes(ip, req.Method, req.Path, 206, n, start)
		return
	}

	n, err := httpwire.WriteBody(writer, 200, contentType, bytes.NewReader(data), int64(len(data)), nil, 0, head)
	if err != nil {
		logger.Warn("worker %d: write response failed: %v", ctx.WorkerID, err)
	}
	ctx.finishWithBytes(ip, req.Method, req.Path, 200, n, start)
}

// finish writes a bodyless/error response and records stats+log for
// requests that never reach a cache handle.
func (ctx *Context) finish(writer *bufio.Writer, ip, method, path string, status int, start time.Time, head bool) {
	n, err := httpwire.WriteError(writer, status, head)
	if err != nil {
		logger.Warn("worker %d: write error response failed: %v", ctx.WorkerID, err)
	}
	ctx.finishWithBytes(ip, method, path, status, n, start)
}

func (ctx *Context) finishWithBytes(ip, method, path string, status int, bytesSent int64, start time.Time) {
	duration := time.Since(start)
	ctx.Stats.RequestFinished(status, bytesSent, duration)
	ctx.AccessLog.Line(ip, method, path, status, bytesSent, duration)
}

// statsResponse mirrors spec §4.5 step 5's required JSON shape.
type statsResponse struct {
	TotalRequests     uint64        `json:"total_requests"`
	BytesTransferred  uint64        `json:"bytes_transferred"`
	ActiveConnections int64         `json:"active_connections"`
	AvgResponseTimeMS float64       `json:"avg_response_time_ms"`
	StatusCodes       statusCodes   `json:"status_codes"`
	Cache             cacheStatsDTO `json:"cache"`
}

type statusCodes struct {
	Status200 uint64 `json:"200"`
	Status404 uint64 `json:"404"`
	Status500 uint64 `json:"500"`
}

type cacheStatsDTO struct {
	Items     int     `json:"items"`
	BytesUsed int64   `json:"bytes_used"`
	Capacity  int64   `json:"capacity"`
	Hits      uint64  `json:"hits"`
	Misses    uint64  `json:"misses"`
	Evictions uint64  `json:"evictions"`
	HitRate   float64 `json:"hit_rate"`
}

func (ctx *Context) serveStats(writer *bufio.Writer, ip string, req *httpwire.Request, start time.Time, head bool) {
	snap := ctx.Stats.Snapshot()
	cs := ctx.Cache.Stats()

	resp := statsResponse{
		TotalRequests:     snap.TotalRequests,
		BytesTransferred:  snap.BytesTransferred,
		ActiveConnections: snap.ActiveConnections,
		AvgResponseTimeMS: round2(snap.AvgResponseTimeMS()),
		StatusCodes: statusCodes{
			Status200: snap.Status2xx,
			Status404: snap.Status4xx,
			Status500: snap.Status5xx,
		},
		Cache: cacheStatsDTO{
			Items:     cs.ItemCount,
			BytesUsed: cs.BytesUsed,
			Capacity:  cs.CapacityBytes,
			Hits:      cs.Hits,
			Misses:    cs.Misses,
			Evictions: cs.Evictions,
			HitRate:   round2(cs.HitRate()),
		},
	}

	body, err := json.Marshal(resp)
	if err != nil {
		ctx.finish(writer, ip, req.Method, req.Path, 500, start, head)
		return
	}

	n, err := httpwire.WriteBody(writer, 200, "application/json", bytes.NewReader(body), int64(len(body)), nil, 0, head)
	if err != nil {
		logger.Warn("worker %d: write /api/stats response failed: %v", ctx.WorkerID, err)
	}
	ctx.finishWithBytes(ip, req.Method, req.Path, 200, n, start)
}

func round2(f float64) float64 {
	return float64(int64(f*100+0.5)) / 100
}

func remoteIP(conn net.Conn) string {
	host, _, err := net.SplitHostPort(conn.RemoteAddr().String())
	if err != nil {
		return conn.RemoteAddr().String()
	}
	return host
}

func workerLabel(id int) string {
	return strconv.Itoa(id)
}

// recordEvictions surfaces the cache's cumulative eviction count as a
// Prometheus counter delta: total is a running total since the cache
// was created, while CacheEvictionsTotal only ever moves forward by
// however much total grew since the last observation.
func (ctx *Context) recordEvictions(total uint64) {
	prev := ctx.lastEvictions.Load()
	if total <= prev {
		return
	}
	if ctx.lastEvictions.CompareAndSwap(prev, total) {
		metrics.CacheEvictionsTotal.WithLabelValues(workerLabel(ctx.WorkerID)).Add(float64(total - prev))
	}
}
