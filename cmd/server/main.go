package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/pflag"

	"github.com/callscreen/callscreen/internal/config"
	"github.com/callscreen/callscreen/internal/health"
	"github.com/callscreen/callscreen/internal/httpapi"
	"github.com/callscreen/callscreen/internal/logs"
	"github.com/callscreen/callscreen/internal/metrics"
	"github.com/callscreen/callscreen/internal/middleware"
	"github.com/callscreen/callscreen/internal/registry/sqlite"
	"github.com/callscreen/callscreen/internal/relay"
	"github.com/callscreen/callscreen/internal/ws"
)

func main() {
	// 1) Config (env first, flags win)
	cfg := config.Load()

	fs := pflag.NewFlagSet("callscreen", pflag.ContinueOnError)
	host := fs.StringP("host", "H", cfg.Host, "listen host")
	port := fs.IntP("port", "p", cfg.Port, "listen port")
	dbPath := fs.String("db", cfg.DBPath, "sqlite database path")
	dev := fs.Bool("dev", cfg.DevMode, "dev mode (allow any websocket origin)")
	if err := fs.Parse(os.Args[1:]); err != nil {
		log.Fatal(err)
	}
	cfg.Host, cfg.Port, cfg.DBPath, cfg.DevMode = *host, *port, *dbPath, *dev

	if err := cfg.Validate(); err != nil {
		log.Fatal(err)
	}
	logger := logs.New("srv")
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 2) Durable store (calls, accounts, ledger) + session janitor
	store, err := sqlite.Open(cfg.DBPath)
	if err != nil {
		log.Fatalf("open store: %v", err)
	}
	defer store.Close()
	store.StartJanitor(ctx)

	// 3) Relay core
	table := relay.NewTable(store, logger)
	router := relay.NewRouter(table, logger)

	// 4) Mux + core endpoints
	mux := http.NewServeMux()
	mux.Handle("/healthz", health.Healthz())
	mux.Handle("/readyz", health.Readyz(store.Ping))
	mux.Handle(cfg.MetricsRoute, metrics.Handler())

	// 5) Operator API (rate-limited if configured)
	api := httpapi.New(httpapi.Config{
		Store:      store,
		Rooms:      table,
		Logger:     logger,
		UploadDir:  cfg.UploadDir,
		SessionTTL: cfg.SessionTTL,
		PublicURL:  cfg.PublicURL,
	})
	httpRL := middleware.New(cfg.HTTPRatePerMin)
	mux.Handle("/api/", httpRL.Middleware()(api.Routes()))
	mux.Handle("/uploads/", http.StripPrefix("/uploads/", http.FileServer(http.Dir(cfg.UploadDir))))

	// 6) WebSocket signaling + WS rate limit + tuning
	wsRL := middleware.New(cfg.WSRatePerMin)
	mux.Handle("/ws", ws.NewHandler(
		router,
		cfg.CORSOrigins, // exact origins; ignored when DevMode=true
		nil,             // use handler's default slog logger
		cfg.DevMode,
		ws.WithBuffers(cfg.WSReadBuf, cfg.WSWriteBuf),
		ws.WithLimits(cfg.WSMaxMsg, cfg.Heartbeat),
		ws.WithRateLimiter(wsRL),
	))

	// 7) HTTP server with timeouts (no WriteTimeout: websockets are long-lived)
	srv := &http.Server{
		Addr:              cfg.BindAddr(),
		Handler:           logs.Middleware(logger)(mux),
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
		IdleTimeout:       cfg.IdleTimeout,
	}

	// 8) Serve (TLS if cert+key are set)
	errCh := make(chan error, 1)
	go func() {
		var err error
		if cfg.TLSCertFile != "" && cfg.TLSKeyFile != "" {
			log.Printf("serving HTTPS on %s", cfg.BindAddr())
			err = srv.ListenAndServeTLS(cfg.TLSCertFile, cfg.TLSKeyFile)
		} else {
			log.Printf("serving HTTP on %s", cfg.BindAddr())
			err = srv.ListenAndServe()
		}
		errCh <- err
	}()

	// 9) Block until we're told to stop (signal) or the server fails
	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Printf("graceful shutdown error: %v", err)
		}
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("server error: %v", err)
		}
	}
}
