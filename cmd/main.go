package main

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/tinoosan/vodcache/internal/downloadcfg"
	"github.com/tinoosan/vodcache/internal/downloader/httpdl"
	"github.com/tinoosan/vodcache/internal/metrics"
	"github.com/tinoosan/vodcache/internal/reconciler"
	"github.com/tinoosan/vodcache/internal/repo"
	"github.com/tinoosan/vodcache/internal/router"
	"github.com/tinoosan/vodcache/internal/service"
	"github.com/tinoosan/vodcache/internal/storage"
	"gopkg.in/natefinch/lumberjack.v2"
)

// newLogger writes JSON to stdout and, when a log file is configured, to a
// size-rotated copy of the same stream.
func newLogger(cfg downloadcfg.Config) (*slog.Logger, func()) {
	var out io.Writer = os.Stdout
	closer := func() {}
	if cfg.LogFile != "" {
		lj := &lumberjack.Logger{
			Filename:   cfg.LogFile,
			MaxSize:    cfg.LogMaxMB,
			MaxBackups: 3,
			MaxAge:     28,
		}
		out = io.MultiWriter(os.Stdout, lj)
		closer = func() { _ = lj.Close() }
	}
	h := slog.NewJSONHandler(out, &slog.HandlerOptions{Level: cfg.LogLevel})
	return slog.New(h).With("service", "vodcache"), closer
}

func main() {
	cfg := downloadcfg.Load(".env")
	l, closeLog := newLogger(cfg)
	defer closeLog()
	slog.SetDefault(l)

	metrics.Register()

	fs := storage.NewFS(cfg.StorageDir, cfg.Extension, l)
	client := httpdl.NewFromConfig(cfg, l)
	orch := service.NewOrchestrator(fs, client, l)

	var ledger repo.AssetRepo
	ready := []router.Pinger{fs}
	if cfg.UsePostgres {
		pg, err := repo.NewPostgresRepoFromEnv()
		if err != nil {
			l.Error("postgres init failed", "err", err)
			os.Exit(1)
		}
		defer pg.Close()
		ledger = pg
		ready = append(ready, pg)
		l.Info("using postgres ledger")
	} else {
		ledger = repo.NewInMemoryAssetRepo()
		l.Info("using in-memory ledger")
	}

	rec := reconciler.New(l, ledger, orch.Subscribe().C())
	syncCtx, cancelSync := context.WithTimeout(context.Background(), 30*time.Second)
	if n, err := rec.Sync(syncCtx, orch); err != nil {
		l.Warn("startup reconcile failed", "err", err)
	} else if n > 0 {
		l.Info("startup reconcile", "fixed", n)
	}
	cancelSync()

	rec.Run()

	server := &http.Server{
		Addr:              cfg.Addr,
		Handler:           router.New(l, orch, ledger, cfg.APIToken, ready...),
		IdleTimeout:       120 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		l.Info("starting vodcache", "addr", server.Addr, "storage", cfg.StorageDir)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			l.Error("server error", "err", err)
			os.Exit(1)
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	sig := <-sigChan
	l.Info("received terminate, graceful shutdown", "signal", sig.String())

	timeoutContext, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := server.Shutdown(timeoutContext); err != nil {
		l.Warn("server shutdown", "err", err)
	}
	// Closing the orchestrator ends the reconciler's subscription, so it
	// drains the remaining updates before Wait returns.
	orch.Close()
	rec.Wait()
}
