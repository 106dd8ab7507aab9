package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-redis/redis/v8"
	_ "github.com/jackc/pgx/v5/stdlib"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	alertapp "coldchain-cloud/internal/alerts/application"
	alerts "coldchain-cloud/internal/alerts/domain"
	alertmemory "coldchain-cloud/internal/alerts/infrastructure/memory"
	alertpostgres "coldchain-cloud/internal/alerts/infrastructure/postgres"
	"coldchain-cloud/internal/alerts/notify"
	assetapp "coldchain-cloud/internal/assets/application"
	assets "coldchain-cloud/internal/assets/domain"
	assetmemory "coldchain-cloud/internal/assets/infrastructure/memory"
	assetpostgres "coldchain-cloud/internal/assets/infrastructure/postgres"
	"coldchain-cloud/internal/config"
	doors "coldchain-cloud/internal/doors/domain"
	doormemory "coldchain-cloud/internal/doors/infrastructure/memory"
	doorpostgres "coldchain-cloud/internal/doors/infrastructure/postgres"
	"coldchain-cloud/internal/livestate"
	"coldchain-cloud/internal/observability/metrics"
	telemetryapp "coldchain-cloud/internal/telemetry/application"
	telemetry "coldchain-cloud/internal/telemetry/domain"
	telemetrymemory "coldchain-cloud/internal/telemetry/infrastructure/memory"
	telemetrypostgres "coldchain-cloud/internal/telemetry/infrastructure/postgres"
	telemetrymqtt "coldchain-cloud/internal/telemetry/interfaces/mqtt"
)

type stores struct {
	alerts     alerts.Repository
	conditions alerts.ConditionStateRepository
	cells      assets.ColdCellRepository
	devices    assets.DeviceRepository
	configs    assets.EscalationConfigRepository
	doors      doors.Repository
	readings   telemetry.ReadingRepository
}

type app struct {
	cfg       config.Config
	logger    *zap.Logger
	db        *sql.DB
	redis     *redis.Client
	hub       *livestate.Hub
	relay     *livestate.RedisRelay
	alerts    *alertapp.Service
	scheduler *alertapp.Scheduler
	ingest    *telemetryapp.IngestService
	consumer  *telemetrymqtt.Consumer
	handler   http.Handler
}

func openDB(ctx context.Context, cfg config.Config) (*sql.DB, error) {
	if err := cfg.RequireDatabase(); err != nil {
		return nil, err
	}
	db, err := sql.Open("pgx", cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("db open: %w", err)
	}
	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("db ping: %w", err)
	}
	return db, nil
}

func postgresStores(db *sql.DB) stores {
	return stores{
		alerts:     alertpostgres.NewAlertRepository(db),
		conditions: alertpostgres.NewConditionStateRepository(db),
		cells:      assetpostgres.NewColdCellRepository(db),
		devices:    assetpostgres.NewDeviceRepository(db),
		configs:    assetpostgres.NewEscalationConfigRepository(db),
		doors:      doorpostgres.NewDoorStateRepository(db),
		readings:   telemetrypostgres.NewReadingRepository(db),
	}
}

func memoryStores() stores {
	now := time.Now().UTC()
	return stores{
		alerts:     alertmemory.NewAlertRepository(),
		conditions: alertmemory.NewConditionStateRepository(),
		cells: assetmemory.NewColdCellRepository(assets.ColdCell{
			ID:                      "cell-demo",
			CustomerID:              "customer-demo",
			Name:                    "Demo freezer",
			MinTemp:                 -25,
			MaxTemp:                 -15,
			DoorAlarmDelaySeconds:   120,
			RequireResolutionReason: true,
			CreatedAt:               now,
			UpdatedAt:               now,
		}),
		devices: assetmemory.NewDeviceRepository(assets.Device{
			Serial:                   "logger-demo",
			ColdCellID:               "cell-demo",
			Status:                   assets.DeviceOnline,
			HeartbeatIntervalSeconds: 300,
		}),
		configs:  assetmemory.NewEscalationConfigRepository(),
		doors:    doormemory.NewDoorStateRepository(),
		readings: telemetrymemory.NewReadingRepository(),
	}
}

func notificationChannels(cfg config.NotifyConfig, logger *zap.Logger) ([]notify.Channel, error) {
	webhook := func(kind notify.ChannelKind, url string) (notify.Channel, error) {
		if url == "" {
			return notify.NewLogChannel(kind, logger), nil
		}
		return notify.NewWebhookChannel(kind, url)
	}
	provider := func(kind notify.ChannelKind) (notify.Channel, error) {
		if cfg.ProviderURL == "" {
			return notify.NewLogChannel(kind, logger), nil
		}
		return notify.NewProviderChannel(kind, cfg.ProviderURL, cfg.ProviderToken)
	}

	var channels []notify.Channel
	for _, build := range []func() (notify.Channel, error){
		func() (notify.Channel, error) { return webhook(notify.ChannelEmail, cfg.EmailWebhookURL) },
		func() (notify.Channel, error) { return webhook(notify.ChannelPush, cfg.PushWebhookURL) },
		func() (notify.Channel, error) { return provider(notify.ChannelSMS) },
		func() (notify.Channel, error) { return provider(notify.ChannelVoice) },
	} {
		channel, err := build()
		if err != nil {
			return nil, err
		}
		channels = append(channels, channel)
	}
	return channels, nil
}

func buildApp(ctx context.Context, cfg config.Config, logger *zap.Logger, memory bool) (*app, error) {
	a := &app{cfg: cfg, logger: logger}

	var st stores
	if memory {
		logger.Warn("using in-memory stores; data is lost on exit")
		st = memoryStores()
	} else {
		db, err := openDB(ctx, cfg)
		if err != nil {
			return nil, err
		}
		a.db = db
		st = postgresStores(db)
	}
	metrics.Init(a.db, logger)

	a.hub = livestate.NewHub()
	var broadcaster livestate.Broadcaster = a.hub
	if cfg.Redis.Addr != "" {
		a.redis = redis.NewClient(&redis.Options{Addr: cfg.Redis.Addr, Password: cfg.Redis.Password, DB: cfg.Redis.DB})
		relay, err := livestate.NewRedisRelay(a.redis, cfg.Redis.Channel, a.hub, logger.Named("relay"))
		if err != nil {
			a.Close()
			return nil, err
		}
		a.relay = relay
		broadcaster = relay
	}
	snapshots, err := livestate.NewSnapshotService(st.doors, st.alerts, st.cells, st.configs, nil)
	if err != nil {
		a.Close()
		return nil, err
	}
	publisher, err := livestate.NewPublisher(snapshots, broadcaster, logger.Named("live"))
	if err != nil {
		a.Close()
		return nil, err
	}

	channels, err := notificationChannels(cfg.Notify, logger.Named("notify"))
	if err != nil {
		a.Close()
		return nil, err
	}
	dispatcherOpts := []notify.DispatcherOption{
		notify.WithDashboardURL(cfg.Notify.DashboardBaseURL),
		notify.WithSendTimeout(cfg.Notify.SendTimeout),
		notify.WithDispatcherLogger(logger.Named("dispatch")),
	}
	if cfg.Notify.Template != "" {
		tpl, err := notify.NewTemplate(cfg.Notify.Template)
		if err != nil {
			a.Close()
			return nil, err
		}
		dispatcherOpts = append(dispatcherOpts, notify.WithTemplate(tpl))
	}
	dispatcher, err := notify.NewDispatcher(st.cells, st.configs, channels, dispatcherOpts...)
	if err != nil {
		a.Close()
		return nil, err
	}

	a.alerts, err = alertapp.NewService(st.alerts, st.cells, st.configs,
		alertapp.WithNotifier(notify.NewMultiNotifier(publisher)),
		alertapp.WithDispatcher(dispatcher),
		alertapp.WithLogger(logger.Named("alerts")),
	)
	if err != nil {
		a.Close()
		return nil, err
	}

	a.ingest, err = telemetryapp.NewIngestService(telemetryapp.Dependencies{
		Readings:   st.readings,
		Devices:    st.devices,
		Cells:      st.cells,
		Configs:    st.configs,
		Doors:      st.doors,
		Conditions: st.conditions,
		Handler:    a.alerts,
	}, telemetryapp.WithDoorObserver(publisher), telemetryapp.WithLogger(logger.Named("ingest")))
	if err != nil {
		a.Close()
		return nil, err
	}

	a.scheduler, err = alertapp.NewScheduler(a.alerts, st.alerts,
		alertapp.WithInterval(cfg.Scheduler.Interval),
		alertapp.WithConcurrency(cfg.Scheduler.Concurrency),
		alertapp.WithSweepers(
			telemetryapp.NewDoorTimerSweeper(st.doors, st.cells, a.alerts, logger.Named("door-sweeper")),
			telemetryapp.NewHeartbeatSweeper(st.devices, st.cells, a.alerts, logger.Named("heartbeat-sweeper")),
		),
		alertapp.WithSchedulerLogger(logger.Named("scheduler")),
	)
	if err != nil {
		a.Close()
		return nil, err
	}

	if cfg.MQTT.Broker != "" {
		a.consumer, err = telemetrymqtt.NewConsumer(telemetrymqtt.Config{
			Broker:   cfg.MQTT.Broker,
			ClientID: cfg.MQTT.ClientID,
			Username: cfg.MQTT.Username,
			Password: cfg.MQTT.Password,
			Topic:    cfg.MQTT.Topic,
			QoS:      byte(cfg.MQTT.QoS),
		}, a.ingest, logger.Named("mqtt"))
		if err != nil {
			a.Close()
			return nil, err
		}
	}

	settings, err := assetapp.NewSettingsService(st.cells, st.configs, assetapp.WithLogger(logger.Named("settings")))
	if err != nil {
		a.Close()
		return nil, err
	}
	a.handler, err = newRouter(routerDeps{
		cfg:       cfg,
		logger:    logger,
		db:        a.db,
		cells:     st.cells,
		readings:  st.readings,
		alerts:    a.alerts,
		settings:  settings,
		ingest:    a.ingest,
		snapshots: snapshots,
		hub:       a.hub,
		noAuth:    memory && cfg.Auth.JWTSecret == "",
	})
	if err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

// Serve runs every long-lived component until ctx is cancelled or one fails.
func (a *app) Serve(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	server := &http.Server{
		Addr:              a.cfg.HTTPAddr,
		Handler:           a.handler,
		ReadHeaderTimeout: 10 * time.Second,
	}
	g.Go(func() error {
		a.logger.Info("http listening", zap.String("addr", a.cfg.HTTPAddr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})
	g.Go(func() error { return a.scheduler.Run(gctx) })
	if a.relay != nil {
		g.Go(func() error { return a.relay.Run(gctx) })
	}
	if a.consumer != nil {
		g.Go(func() error { return a.consumer.Run(gctx) })
	}
	return g.Wait()
}

// Close releases external connections.
func (a *app) Close() {
	a.alerts.Wait()
	if a.redis != nil {
		_ = a.redis.Close()
	}
	if a.db != nil {
		_ = a.db.Close()
	}
}
