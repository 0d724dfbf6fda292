package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"net/http/httputil"
	"net/url"
	"os/signal"
	"syscall"
	"time"

	"admission-gateway/middleware/ratelimit"
	"admission-gateway/middleware/ratelimit/application"
	"admission-gateway/middleware/ratelimit/config"
	"admission-gateway/middleware/ratelimit/domain"
	"admission-gateway/middleware/ratelimit/infra"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

func main() {
	_ = godotenv.Load()

	logger, err := infra.NewLogger(config.GetenvDefault("LOG_LEVEL", "info"), config.GetenvDefault("LOG_FORMAT", "json"))
	if err != nil {
		log.Fatalf("logger error: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	proc, err := readProcessConfig()
	if err != nil {
		logger.Fatal("config error", zap.Error(err))
	}

	cfg, err := config.Load(proc.configPath)
	if err != nil {
		logger.Fatal("config error", zap.String("path", proc.configPath), zap.Error(err))
	}
	if err := cfg.ApplyEnv(nil); err != nil {
		logger.Fatal("config error", zap.Error(err))
	}
	settings, err := cfg.Build()
	if err != nil {
		logger.Fatal("config error", zap.Error(err))
	}
	if settings.Geo {
		logger.Warn("geo rate limiting is not implemented, flag ignored")
	}
	if settings.Anomaly {
		logger.Warn("anomaly rate limiting is not implemented, flag ignored")
	}

	target, err := url.Parse(proc.upstreamURL)
	if err != nil {
		logger.Fatal("invalid UPSTREAM_URL", zap.Error(err))
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	rdb := redis.NewClient(&redis.Options{
		Addr:         settings.Redis.Addr,
		Password:     settings.Redis.Password,
		DB:           settings.Redis.DB,
		DialTimeout:  2 * time.Second,
		ReadTimeout:  settings.Redis.Timeout,
		WriteTimeout: settings.Redis.Timeout,
	})
	defer func() { _ = rdb.Close() }()

	pingCtx, pingCancel := context.WithTimeout(ctx, 2*time.Second)
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		// sobe assim mesmo: os stores caem no fallback local até o Redis voltar
		logger.Warn("redis ping failed, starting in degraded mode", zap.String("addr", settings.Redis.Addr), zap.Error(err))
	}
	pingCancel()

	cat := settings.Catalog
	pen := cat.Penalties()
	fallbackOpts := []infra.FallbackOption{
		infra.WithTimeout(settings.Redis.Timeout),
		infra.WithRetryInterval(settings.Redis.RetryInterval),
		infra.WithFallbackLogger(logger),
	}

	localCounters := infra.NewMemoryCounterStore()
	localCounters.StartJanitor(ctx)
	counters := infra.NewFallbackCounterStore(infra.NewRedisCounterStore(rdb), localCounters, fallbackOpts...)

	// piso do TTL; cada registro estende até o próprio RetainUntil (troca de política em runtime)
	violationTTL := pen.ViolationWindow + pen.Max
	if violationTTL <= 0 {
		violationTTL = 2 * time.Hour
	}
	localViolations := infra.NewMemoryViolationStore(infra.WithViolationTTL(violationTTL))
	localViolations.StartJanitor(ctx)
	violations := infra.NewFallbackViolationStore(
		infra.NewRedisViolationStore(rdb, infra.WithViolationPrefix(cat.KeyPrefix()), infra.WithViolationKeyTTL(violationTTL)),
		localViolations,
		fallbackOpts...,
	)

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	promSink, err := infra.NewPrometheusSink(reg)
	if err != nil {
		logger.Fatal("metrics error", zap.Error(err))
	}

	sinks := []domain.EventSink{infra.NewLogSink(logger), promSink}
	if settings.Telemetry.RedisStats {
		sinks = append(sinks, infra.NewRedisEventSink(rdb, infra.WithEventPrefix(cat.KeyPrefix()+":events")))
	}

	dispatcherOpts := []application.DispatcherOption{
		application.WithQueueSize(settings.Telemetry.QueueSize),
		application.WithWorkers(settings.Telemetry.Workers),
		application.WithSinkTimeout(settings.Telemetry.SinkTimeout),
		application.WithDispatcherLogger(logger),
	}
	if settings.Alerts.Threshold > 0 {
		alertCounts := infra.NewMemoryCounterStore()
		alertCounts.StartJanitor(ctx)
		var throttle domain.LimiterStore
		if settings.Alerts.PerSubjectPerMinute > 0 {
			t := infra.NewThrottle(settings.Alerts.PerSubjectPerMinute, 1)
			t.StartJanitor(ctx)
			throttle = t
		}
		dispatcherOpts = append(dispatcherOpts, application.WithAlerts(settings.Alerts.Threshold, settings.Alerts.Window, alertCounts, throttle))
	}
	dispatcher := application.NewDispatcher(sinks, dispatcherOpts...)

	engine := application.NewEngine(cat, counters, violations,
		application.WithEvents(dispatcher),
		application.WithLogger(logger.Named("admission")),
	)

	reg.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "admission_events_dropped",
		Help: "Telemetry events dropped because the dispatcher queue was full.",
	}, func() float64 { return float64(dispatcher.Dropped()) }))
	reg.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "admission_backend_degraded",
		Help: "1 while counters are served by the local fallback.",
	}, func() float64 {
		if counters.Degraded() {
			return 1
		}
		return 0
	}))

	proxy := httputil.NewSingleHostReverseProxy(target)
	proxy.ErrorHandler = func(w http.ResponseWriter, r *http.Request, err error) {
		logger.Warn("proxy error", zap.String("path", r.URL.Path), zap.Error(err))
		http.Error(w, "bad gateway", http.StatusBadGateway)
	}

	h := http.Handler(proxy)
	h = ratelimit.Middleware(ratelimit.Options{
		Engine:              engine,
		TrustXForwardedFor:  proc.trustXFF,
		UserHeader:          proc.userHeader,
		RoleHeader:          proc.roleHeader,
		RejectStatus:        http.StatusTooManyRequests,
		AddRateLimitHeaders: proc.addHeaders,
		Logger:              logger,
	})(h)

	var pool *infra.InflightPool
	if proc.concurrencyMax > 0 {
		pool = infra.NewInflightPool(proc.concurrencyMax)
		reg.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Name: "gateway_inflight_requests",
			Help: "Requests currently holding a concurrency slot.",
		}, func() float64 { return float64(pool.InFlight()) }))
	}
	concurrencyRejected := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "gateway_concurrency_rejected_total",
		Help: "Requests rejected for lack of a concurrency slot.",
	}, []string{"reason"})
	reg.MustRegister(concurrencyRejected)

	concurrencyOpts := ratelimit.ConcurrencyOptions{
		Max:            proc.concurrencyMax,
		RejectStatus:   http.StatusServiceUnavailable,
		AcquireTimeout: proc.concurrencyTimeout,
		OnReject: func(reason error) {
			label := "timeout"
			if errors.Is(reason, context.Canceled) {
				label = "canceled"
			}
			concurrencyRejected.WithLabelValues(label).Inc()
		},
	}
	if pool != nil {
		concurrencyOpts.Pool = pool
	}
	h = ratelimit.ConcurrencyMiddleware(concurrencyOpts)(h)

	srv := &http.Server{
		Addr:              proc.listenAddr,
		Handler:           h,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       90 * time.Second,
	}
	adminSrv := &http.Server{
		Addr: proc.adminAddr,
		Handler: ratelimit.AdminHandler(ratelimit.AdminOptions{
			Admin:      application.NewAdmin(engine),
			LoadPolicy: config.ParsePolicy,
			Gatherer:   reg,
			Health: func(ctx context.Context) error {
				if err := rdb.Ping(ctx).Err(); err != nil {
					return err
				}
				if counters.Degraded() {
					return errors.New("counters on local fallback")
				}
				return nil
			},
			Logger: logger.Named("admin"),
		}),
		ReadHeaderTimeout: 5 * time.Second,
	}

	logger.Info("gateway starting",
		zap.String("listen", proc.listenAddr),
		zap.String("admin", proc.adminAddr),
		zap.String("upstream", target.String()),
		zap.Bool("enabled", cat.Enabled()),
		zap.Int("rules", len(cat.Rules())),
		zap.Bool("penalties", pen.Enabled),
		zap.Bool("trust_xff", proc.trustXFF),
		zap.Int("concurrency_max", proc.concurrencyMax),
		zap.Duration("concurrency_timeout", proc.concurrencyTimeout),
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return listen(srv) })
	g.Go(func() error { return listen(adminSrv) })
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		_ = adminSrv.Shutdown(shutdownCtx)
		if err := dispatcher.Close(shutdownCtx); err != nil {
			logger.Warn("telemetry not fully drained", zap.Int("pending", dispatcher.Pending()), zap.Error(err))
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		logger.Fatal("server error", zap.Error(err))
	}
	logger.Info("gateway stopped")
}

func listen(srv *http.Server) error {
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
