// Command directoryd runs a standalone ServiceDirectory (C5) over gRPC.
package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/pflag"

	"github.com/distribd/qimw/directory"
	"github.com/distribd/qimw/internal/eventloop"
	"github.com/distribd/qimw/internal/resolver"
	"github.com/distribd/qimw/internal/tracing"
	"github.com/distribd/qimw/internal/transport/grpctransport"
	"github.com/distribd/qimw/object"
	"github.com/distribd/qimw/transport"
)

func main() {
	host := pflag.String("host", "127.0.0.1", "listen host")
	port := pflag.Uint16("port", 9559, "listen port")
	watchdogLatency := pflag.Float64("watchdog-latency", 0, "event loop watchdog latency in seconds (0 disables)")
	pflag.Parse()

	log := slog.New(slog.NewTextHandler(os.Stdout, nil)).With("component", "directoryd")

	shutdownTracing := tracing.Install(log.With("component", "tracing"))
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = shutdownTracing(ctx)
	}()

	url := transport.URL{Protocol: "tcp", Host: *host, Port: *port}
	srv, err := grpctransport.Listen(url)
	if err != nil {
		log.Error("listen failed", "error", err)
		os.Exit(1)
	}
	log.Info("listening", "url", url.String())

	dir := directory.New(object.MachineID(), []transport.URL{url})
	dir.OnServiceRegistered(func(info directory.ServiceInfo) {
		log.Info("service registered", "name", info.Name, "id", info.ServiceID)
	})
	dir.OnServiceUnregistered(func(info directory.ServiceInfo) {
		log.Info("service unregistered", "name", info.Name, "id", info.ServiceID)
	})

	netLoop := eventloop.NewSingle()
	objLoop := eventloop.NewSingle()

	if *watchdogLatency > 0 {
		delay := time.Duration(*watchdogLatency * float64(time.Second))
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		go watch(ctx, log.With("watchdog", "net->obj"), netLoop, objLoop, delay)
		go watch(ctx, log.With("watchdog", "obj->net"), objLoop, netLoop, delay)
	}

	go acceptLoop(srv, dir)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	log.Info("shutting down")
	_ = srv.Close()
	netLoop.Stop(context.Background())
	objLoop.Stop(context.Background())
}

func watch(ctx context.Context, log *slog.Logger, self, helper eventloop.Loop, delay time.Duration) {
	for err := range eventloop.Monitor(ctx, self, helper, delay) {
		log.Warn("event loop watchdog", "error", err)
	}
}

// acceptLoop binds every accepted socket to the directory's bootstrap
// object (spec §4.5), dispatched through object.Object.MetaCall rather
// than a hand-rolled switch per wire action (see directory.Bind).
func acceptLoop(srv *grpctransport.Server, dir *directory.Directory) {
	for sock := range srv.Accept() {
		directory.Bind(sock, dir, resolver.JSONCodec{})
	}
}
