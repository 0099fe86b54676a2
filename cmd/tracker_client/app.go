package trackerclient

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"transit-sync/internal/domain/geo"
	"transit-sync/internal/domain/user"
	"transit-sync/internal/general/clock"
	"transit-sync/internal/general/config"
	"transit-sync/internal/general/contracts"
	"transit-sync/internal/general/kv/sqlitekv"
	"transit-sync/internal/general/logger"
	"transit-sync/internal/realtime"
	"transit-sync/internal/realtime/adapters/pollclient"
	"transit-sync/internal/realtime/adapters/rest"
	"transit-sync/internal/realtime/adapters/wsclient"

	"golang.org/x/sync/errgroup"
)

// Options are the tracker-client flags.
type Options struct {
	ConfigPath string
	Token      string
	Role       user.Role
	EntityID   string
	Routes     []string
	Interval   time.Duration
	Redial     time.Duration
	Quiet      bool
}

// origin is where simulated tracks start.
var origin = geo.Point{Lat: 51.1694, Lon: 71.4491}

func Run(ctx context.Context, opts Options) error {
	log := logger.New("tracker-client")
	log.SetQuiet(opts.Quiet)
	ctx = log.WithRequestID(ctx, "startup-001")

	cfg, err := config.LoadFromFile(opts.ConfigPath)
	if err != nil {
		log.Error(ctx, "config_load_failed", "Failed to load config", err, map[string]any{"path": opts.ConfigPath})
		return err
	}
	if err := cfg.ValidateClient(); err != nil {
		log.Error(ctx, "config_invalid", "Config is missing client settings", err, nil)
		return err
	}
	if strings.TrimSpace(opts.Token) == "" {
		return errors.New("a token is required: pass --token or use cmd/key to mint one")
	}

	storePath := cfg.Client.StorePath
	if storePath == "" {
		storePath = "tracker.db"
	}
	store, err := sqlitekv.Open(ctx, storePath, log)
	if err != nil {
		log.Error(ctx, "kv_open_failed", "Failed to open durable store", err, map[string]any{"path": storePath})
		return err
	}
	defer store.Close()

	clk := clock.Real()
	router := realtime.NewRouter(log)
	cache := realtime.NewCache()

	mgr, err := realtime.NewManager(realtime.ManagerConfig{
		Preferred:      wsclient.New(wsclient.Config{URL: websocketURL(cfg.Client.ServerURL), Logger: log}),
		Fallback:       pollclient.New(pollclient.Config{BaseURL: cfg.Client.ServerURL, Logger: log}),
		InitialBackoff: cfg.Client.InitialBackoff,
		MaxBackoff:     cfg.Client.MaxBackoff,
		MaxAttempts:    cfg.Client.MaxAttempts,
		Clock:          clk,
		Logger:         log,
		Router:         router,
		Cache:          cache,
	})
	if err != nil {
		return err
	}
	defer mgr.Dispose()

	token := opts.Token
	queue := realtime.NewQueue(ctx, realtime.QueueConfig{
		Source:     mgr,
		Degraded:   rest.New(rest.Config{BaseURL: cfg.Client.ServerURL, Token: func() string { return token }, Logger: log}),
		Store:      store,
		Clock:      clk,
		Logger:     log,
		AckTimeout: cfg.Client.AckTimeout,
	})
	mgr.OnConnected(func(ctx context.Context) {
		if _, err := queue.Flush(ctx); err != nil {
			log.Error(ctx, "outbox_flush_failed", "Failed to flush outbox after connect", err, nil)
		}
	})

	guard := realtime.NewGuard(ctx, realtime.GuardConfig{Store: store, Capacity: cfg.Client.GuardCapacity, Logger: log})
	inbox := realtime.NewInbox(router, guard, log)
	defer inbox.Close()

	for _, sub := range logInbound(router, log, cache) {
		defer sub.Unsubscribe()
	}
	for _, route := range opts.Routes {
		if err := mgr.Register(ctx, contracts.RouteTopic(route)); err != nil {
			log.Error(ctx, "route_register_failed", "Failed to register route topic", err, map[string]any{"route_id": route})
		}
	}

	creds := realtime.Credentials{Token: token, Role: opts.Role, EntityID: opts.EntityID}

	log.Info(ctx, "client_started", "Tracker client started", map[string]any{
		"server_url": cfg.Client.ServerURL,
		"role":       opts.Role.String(),
		"entity_id":  opts.EntityID,
		"pending":    len(queue.Pending()),
		"deleted":    guard.Len(),
	})

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return keepConnected(gctx, clk, mgr, creds, opts.Redial, log)
	})
	if opts.Interval > 0 && opts.EntityID != "" {
		g.Go(func() error {
			return publishTrack(gctx, clk, queue, opts, log)
		})
	}

	err = g.Wait()
	log.Info(context.WithoutCancel(ctx), "client_stopped", "Tracker client stopped", map[string]any{
		"pending":       len(queue.Pending()),
		"cached":        cache.Len(),
		"notifications": len(inbox.Items()),
	})
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// keepConnected dials now and again every redial interval while the Manager
// is offline. Auth rejection stops the client.
func keepConnected(ctx context.Context, clk clock.Clock, mgr *realtime.Manager, creds realtime.Credentials, redial time.Duration, log *logger.Logger) error {
	if redial <= 0 {
		redial = 15 * time.Second
	}
	t := clk.NewTicker(redial)
	defer t.Stop()

	for {
		if !mgr.State().Online() && mgr.State() != realtime.StateConnecting {
			h, err := mgr.Connect(ctx, creds)
			switch {
			case errors.Is(err, realtime.ErrAuthRejected):
				log.Error(ctx, "auth_rejected", "Relay rejected the token", err, nil)
				return err
			case err != nil:
				log.Error(ctx, "connect_failed", "Connect cycle failed, will redial", err, map[string]any{"redial": redial.String()})
			default:
				log.Info(ctx, "connected", "Channel is up", map[string]any{"transport": string(h.Transport), "state": h.State.String()})
			}
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
		}
	}
}

// publishTrack sends a simulated location for opts.EntityID every interval.
func publishTrack(ctx context.Context, clk clock.Clock, queue *realtime.Queue, opts Options, log *logger.Logger) error {
	event := contracts.EventPassengerLocation
	if opts.Role == user.RoleDriver {
		event = contracts.EventDriverLocation
	}

	t := clk.NewTicker(opts.Interval)
	defer t.Stop()

	for step := 0; ; step++ {
		p := trackPoint(origin, step)
		outcome, err := queue.Send(ctx, event, contracts.LocationPayload{
			EntityID:  opts.EntityID,
			Location:  contracts.GeoPoint{Latitude: p.Lat, Longitude: p.Lon},
			Timestamp: clk.Now().UTC(),
		})
		if err != nil {
			return err
		}
		log.Debug(ctx, "location_sent", "simulated location handed to the queue", map[string]any{
			"event":   event,
			"outcome": outcome.String(),
			"lat":     p.Lat,
			"lon":     p.Lon,
		})

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
		}
	}
}

// trackPoint walks a circle of roughly 500m around center, one degree of
// arc per step.
func trackPoint(center geo.Point, step int) geo.Point {
	const radius = 0.0045
	a := float64(step%360) * math.Pi / 180
	return geo.Point{
		Lat: center.Lat + radius*math.Sin(a),
		Lon: center.Lon + radius*math.Cos(a),
	}
}

// logInbound logs every event class the relay pushes.
func logInbound(router *realtime.Router, log *logger.Logger, cache *realtime.Cache) []*realtime.Subscription {
	locations := func(ctx context.Context, ev realtime.Event) error {
		s, err := realtime.SampleFromEvent(ev)
		if err != nil {
			return err
		}
		log.Info(ctx, "location_received", "location update", map[string]any{
			"entity_id": s.EntityID,
			"lat":       s.Point.Lat,
			"lon":       s.Point.Lon,
			"tracked":   cache.Len(),
		})
		return nil
	}
	generic := func(ctx context.Context, ev realtime.Event) error {
		log.Info(ctx, "event_received", fmt.Sprintf("%s received", ev.Name), map[string]any{
			"event":   ev.Name,
			"payload": string(ev.Payload),
		})
		return nil
	}

	subs := []*realtime.Subscription{
		router.Subscribe(contracts.EventDriverLocation, locations),
		router.Subscribe(contracts.EventPassengerLocation, locations),
	}
	for _, name := range []string{
		contracts.EventChat, contracts.EventDriverReply, contracts.EventPassengerReply,
		contracts.EventNotification, contracts.EventNewNotification, contracts.EventBroadcast,
		contracts.EventRouteUpdates, realtime.EventConnectionState,
	} {
		subs = append(subs, router.Subscribe(name, generic))
	}
	return subs
}

// websocketURL maps the relay HTTP root to its websocket endpoint.
func websocketURL(serverURL string) string {
	u := strings.TrimRight(serverURL, "/")
	switch {
	case strings.HasPrefix(u, "https://"):
		u = "wss://" + strings.TrimPrefix(u, "https://")
	case strings.HasPrefix(u, "http://"):
		u = "ws://" + strings.TrimPrefix(u, "http://")
	}
	return u + "/ws"
}
