// Package app wires the Master acceptor, its Workers, the admin HTTP
// surface and the shared access log into one process lifecycle, and
// drives the init -> serving -> draining -> joined -> exit state
// machine via OS signals.
package app

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/martimgil/concurrent-http-server/internal/accesslog"
	"github.com/martimgil/concurrent-http-server/internal/adminserver"
	"github.com/martimgil/concurrent-http-server/internal/config"
	"github.com/martimgil/concurrent-http-server/internal/master"
	"github.com/martimgil/concurrent-http-server/internal/stats"
	"github.com/martimgil/concurrent-http-server/pkg/logger"
)

const statsPrintInterval = 30 * time.Second

// App owns the whole server process: the access log, the shared
// statistics, the Master acceptor and the admin HTTP surface.
type App struct {
	config *config.Config
	admin  *adminserver.Server
	master *master.Master
	log    *accesslog.AccessLog
	stats  *stats.ServerStats
	cancel context.CancelFunc
}

// NewApp builds an App from cfg. It opens the access log and
// constructs the Master and admin server, but starts nothing yet;
// call Run for that.
func NewApp(cfg *config.Config) (*App, error) {
	al, err := accesslog.Open(cfg.LogFile)
	if err != nil {
		return nil, err
	}

	st := stats.New()

	m, err := master.New(cfg, al, st)
	if err != nil {
		al.Close()
		return nil, err
	}

	return &App{
		config: cfg,
		admin:  adminserver.New(cfg.AdminPort),
		master: m,
		log:    al,
		stats:  st,
	}, nil
}

// Run implements the per-process state machine: init -> serving ->
// draining -> joined -> exit. It blocks until SIGINT/SIGTERM, then
// shuts down gracefully and returns.
func (a *App) Run() error {
	ctx, cancel := context.WithCancel(context.Background())
	a.cancel = cancel

	stopPrint := make(chan struct{})
	go a.stats.RunPeriodicPrint(statsPrintInterval, stopPrint)

	go func() {
		if err := a.admin.Start(); err != nil {
			logger.Error("admin server error: %v", err)
		}
	}()

	masterErr := make(chan error, 1)
	go func() {
		masterErr <- a.master.Run()
	}()

	// state: serving. Master.Run blocks on Accept once it reaches this
	// point, so the listener is already live when we flip readiness.
	a.admin.Ready(true)
	logger.Info("fileserver ready on port %d, admin on port %d", a.config.Port, a.config.AdminPort)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM, syscall.SIGINT)

	select {
	case <-quit:
		logger.Info("shutdown signal received")
	case err := <-masterErr:
		if err != nil {
			logger.Error("master exited with error: %v", err)
		}
	}

	// state: draining.
	a.admin.Ready(false)
	a.master.Shutdown()
	close(stopPrint)

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := a.admin.Shutdown(shutdownCtx); err != nil {
		logger.Warn("admin server shutdown error: %v", err)
	}

	// state: joined.
	if err := a.log.Close(); err != nil {
		logger.Warn("error closing access log: %v", err)
	}

	// state: exit.
	cancel()
	<-ctx.Done()
	logger.Info("fileserver stopped gracefully")
	return nil
}
