package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/pflag"

	"tabletavern/server"
	"tabletavern/server/internal/ws"
	"tabletavern/server/logging"
	"tabletavern/server/logging/sinks"
)

func main() {
	cfg, err := server.ConfigFromEnv()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	pflag.StringVar(&cfg.Addr, "addr", cfg.Addr, "listen address")
	pflag.StringVar(&cfg.GMCredential, "gm-credential", cfg.GMCredential, "shared credential for role elevation")
	pflag.DurationVar(&cfg.BroadcastWindow, "broadcast-window", cfg.BroadcastWindow, "debounce window for snapshot broadcasts")
	pflag.BoolVar(&cfg.LogDebug, "log-debug", cfg.LogDebug, "emit debug-severity events")
	pflag.Parse()

	logCfg := logging.DefaultConfig()
	logCfg.EnabledSinks = cfg.LogSinks
	if cfg.LogDebug {
		logCfg.MinimumSeverity = logging.SeverityDebug
	}
	var namedSinks []logging.NamedSink
	if logCfg.HasSink("console") {
		namedSinks = append(namedSinks, logging.NamedSink{
			Name: "console",
			Sink: sinks.NewConsoleSink(os.Stdout, logCfg.Console),
		})
	}
	router := logging.NewRouter(nil, logCfg, namedSinks)

	hub := server.NewHub(cfg, router)
	handler := ws.NewHandler(hub, ws.HandlerConfig{})

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", handler.Handle)
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	stop := make(chan struct{})
	go hub.Run(stop)

	srv := &http.Server{Addr: cfg.Addr, Handler: mux}
	go func() {
		log.Printf("listening on %s", cfg.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("listen: %v", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	log.Printf("shutting down")
	close(stop)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Printf("shutdown: %v", err)
	}
	hub.Close()
	if err := router.Close(ctx); err != nil {
		log.Printf("close log router: %v", err)
	}
}
