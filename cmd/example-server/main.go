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

	"admission-gateway/middleware/ratelimit"
	"admission-gateway/middleware/ratelimit/application"
	"admission-gateway/middleware/ratelimit/config"
	"admission-gateway/middleware/ratelimit/domain"
	"admission-gateway/middleware/ratelimit/infra"

	"github.com/joho/godotenv"
	"go.uber.org/zap"
)

func main() {
	// Exemplo: injetando o middleware diretamente no seu webserver (sem proxy e sem Redis)
	_ = godotenv.Load()

	logger, err := infra.NewLogger(config.GetenvDefault("LOG_LEVEL", "debug"), "console")
	if err != nil {
		log.Fatalf("logger error: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	cfg, err := config.Load(os.Getenv("RATE_CONFIG"))
	if err != nil {
		logger.Fatal("config error", zap.Error(err))
	}
	cat, err := cfg.Catalog()
	if err != nil {
		logger.Fatal("config error", zap.Error(err))
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	counters := infra.NewMemoryCounterStore()
	counters.StartJanitor(ctx)
	violations := infra.NewMemoryViolationStore()
	violations.StartJanitor(ctx)

	events := infra.NewMemoryEventSink(infra.WithTrackSubjects(true))
	dispatcher := application.NewDispatcher([]domain.EventSink{infra.NewLogSink(logger), events})
	engine := application.NewEngine(cat, counters, violations,
		application.WithEvents(dispatcher),
		application.WithLogger(logger),
	)

	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok\n"))
	})

	h := http.Handler(mux)
	h = ratelimit.Middleware(ratelimit.Options{
		Engine:              engine,
		TrustXForwardedFor:  true,
		AddRateLimitHeaders: true,
		Logger:              logger,
	})(h)
	h = ratelimit.ConcurrencyMiddleware(ratelimit.ConcurrencyOptions{Max: 50})(h)

	addr := config.GetenvDefault("LISTEN_ADDR", ":8081")
	srv := &http.Server{
		Addr:              addr,
		Handler:           h,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       90 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		_ = dispatcher.Close(shutdownCtx)
		logger.Info("admission summary",
			zap.Int64("breaches", events.Count(domain.EventBreach)),
			zap.Int64("penalties", events.Count(domain.EventPenalty)),
			zap.Int64("exempt", events.Count(domain.EventExempt)))
	}()

	logger.Info("example server listening", zap.String("addr", addr), zap.Int("rules", len(cat.Rules())))
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Fatal("server error", zap.Error(err))
	}
}
