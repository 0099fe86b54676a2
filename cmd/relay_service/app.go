package relayservice

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"transit-sync/internal/common/ws"
	"transit-sync/internal/general/clock"
	"transit-sync/internal/general/config"
	"transit-sync/internal/general/jwt"
	"transit-sync/internal/general/logger"
	"transit-sync/internal/general/postgres"
	"transit-sync/internal/general/rabbitmq"
	"transit-sync/internal/general/websocket"
	adminhandler "transit-sync/internal/software/adminboard/handler"
	adminservice "transit-sync/internal/software/adminboard/service"
	"transit-sync/internal/software/relay/handler"
	"transit-sync/internal/software/relay/service"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

// Options are the relay-service flags.
type Options struct {
	ConfigPath    string
	MaxConcurrent int
	Prefetch      int
	InstanceID    string
}

func Run(ctx context.Context, opts Options) error {
	logger := logger.New("relay-service")
	ctx = logger.WithRequestID(ctx, "startup-001")

	cfg, err := config.LoadFromFile(opts.ConfigPath)
	if err != nil {
		logger.Error(ctx, "config_load_failed", "Failed to load config", err, map[string]any{"path": opts.ConfigPath})
		return err
	}
	if err := cfg.ValidateRelay(); err != nil {
		logger.Error(ctx, "config_invalid", "Config is missing relay settings", err, nil)
		return err
	}

	instanceID := firstNonEmpty(opts.InstanceID, cfg.Relay.InstanceID, uuid.NewString()[:8])
	clk := clock.Real()

	pool, err := postgres.NewPool(ctx, cfg, logger)
	if err != nil {
		logger.Error(ctx, "db_connection_failed", "Failed to initialize Postgres pool", err, nil)
		return err
	}
	defer pool.Close()

	if err := postgres.EnsureSchema(ctx, pool); err != nil {
		logger.Error(ctx, "db_schema_failed", "Failed to apply relay schema", err, nil)
		return err
	}

	rmq, err := rabbitmq.ConnectRabbitMQ(ctx, cfg, logger)
	if err != nil {
		logger.Error(ctx, "rabbitmq_connection_failed", "Failed to connect to RabbitMQ", err, nil)
		return err
	}
	defer rmq.Close()

	jwtManager, err := jwt.NewManager(cfg.JWT.SecretKey, cfg.JWT.TTL)
	if err != nil {
		logger.Error(ctx, "jwt_init_failed", "Failed to set up JWT manager", err, nil)
		return err
	}

	uow := postgres.NewUnitOfWork(pool)
	locations := postgres.NewLocationRepo()
	replies := postgres.NewReplyRepo()

	hub := ws.NewHub(clk, logger)
	svc := service.NewRelayService(logger, clk, uow, locations, replies, rabbitmq.NewMQPublisher(rmq), instanceID)
	admin := adminservice.NewAdminService(uow, locations, replies, hub, clk, cfg.Relay.FreshWindow)
	consumer := service.NewFanoutConsumer(logger, hub)
	socket := websocket.NewWebSocket(logger, jwtManager, hub, svc)

	mux := http.NewServeMux()
	handler.NewRelayHTTPHandler(svc, hub, logger, jwtManager, socket, clk, cfg.Relay.PollWait).RegisterRoutes(mux)
	adminhandler.NewAdminHTTPHandler(admin, logger, jwtManager).RegisterRoutes(mux)

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Relay.Port),
		Handler:           withConcurrencyLimit(opts.MaxConcurrent, mux),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      cfg.Relay.PollWait + 15*time.Second, // long polls hold the response open
		IdleTimeout:       60 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return consumer.Run(gctx, rmq, instanceID, opts.Prefetch)
	})

	g.Go(func() error {
		sweepSessions(gctx, clk, hub, cfg.Relay.SessionTTL)
		return nil
	})

	g.Go(func() error {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error(ctx, "http_server_error", "HTTP server terminated with error", err, map[string]any{"port": cfg.Relay.Port})
			return err
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		shCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error(ctx, "http_shutdown_failed", "Failed to gracefully shut down HTTP server", err, nil)
		}
		return nil
	})

	logger.Info(ctx, "service_started",
		fmt.Sprintf("Relay service %s started on port %d", instanceID, cfg.Relay.Port),
		map[string]any{
			"port":           cfg.Relay.Port,
			"instance_id":    instanceID,
			"max_concurrent": opts.MaxConcurrent,
			"prefetch":       opts.Prefetch,
			"poll_wait":      cfg.Relay.PollWait.String(),
		},
	)

	err = g.Wait()
	logger.Info(context.WithoutCancel(ctx), "service_stopped", "Relay service stopped", map[string]any{"instance_id": instanceID})
	return err
}

// sweepSessions drops polling sessions nobody has polled for ttl.
func sweepSessions(ctx context.Context, clk clock.Clock, hub *ws.Hub, ttl time.Duration) {
	if ttl <= 0 {
		return
	}
	t := clk.NewTicker(ttl / 2)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			hub.Sweep(ctx, ttl)
		}
	}
}

// withConcurrencyLimit wraps an http.Handler with a semaphore-based limiter.
// Websocket and long-poll requests bypass it since they hold a slot for
// their whole lifetime.
func withConcurrencyLimit(n int, next http.Handler) http.Handler {
	if n <= 0 {
		return next
	}
	sem := make(chan struct{}, n)
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if longLived(r) {
			next.ServeHTTP(w, r)
			return
		}
		select {
		case sem <- struct{}{}:
			defer func() { <-sem }()
			next.ServeHTTP(w, r)
		case <-r.Context().Done():
			http.Error(w, http.StatusText(http.StatusServiceUnavailable), http.StatusServiceUnavailable)
		}
	})
}

func longLived(r *http.Request) bool {
	if r.URL.Path == "/ws" {
		return true
	}
	return r.Method == http.MethodGet &&
		strings.HasPrefix(r.URL.Path, "/v1/poll/sessions/") &&
		strings.HasSuffix(r.URL.Path, "/events")
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if s := strings.TrimSpace(v); s != "" {
			return s
		}
	}
	return ""
}
