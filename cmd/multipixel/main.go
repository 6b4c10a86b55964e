package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/olekolek1000/multipixel/internal/extension"
	"github.com/olekolek1000/multipixel/internal/server"
	"github.com/olekolek1000/multipixel/internal/storage"
)

func main() {
	if err := mainInner(); err != nil {
		slog.Error(err.Error())
		os.Exit(1)
	}
}

func mainInner() error {
	addrVar := flag.String("addr", "localhost:8080", "the address to listen on")
	dataDirVar := flag.String("data-dir", "rooms", "directory holding one sqlite file per room")
	autosaveVar := flag.Duration("autosave-interval", 30*time.Second, "how often each room's chunk store autosaves")
	metricsIntervalVar := flag.Duration("metrics-interval", 5*time.Second, "how often /metrics gauges are refreshed")
	flag.Parse()

	if err := os.MkdirAll(*dataDirVar, 0o755); err != nil {
		return err
	}

	srv := server.New(server.Config{
		Open: func(roomName string) (storage.Storage, error) {
			path := filepath.Join(*dataDirVar, roomName+".db")
			slog.Info("opening room database", "room", roomName, "path", path)
			return storage.Open(path)
		},
		AutosaveInterval: *autosaveVar,
		ExtensionHost:    extension.NopHost{},
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go srv.RunMetricsCollector(ctx, *metricsIntervalVar)

	httpServer := &http.Server{Addr: *addrVar, Handler: srv.Router()}

	serveErr := make(chan error, 1)
	go func() {
		slog.Info("listening", "addr", *addrVar)
		serveErr <- httpServer.ListenAndServe()
	}()

	exit := make(chan os.Signal, 1)
	signal.Notify(exit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-exit:
		slog.Info("signal caught", "sig", sig)
	case err := <-serveErr:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("server listen failed", "err", err)
		}
	}

	cancel()
	_ = httpServer.Close()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	srv.Shutdown(shutdownCtx)

	slog.Info("shutdown complete")
	return nil
}
