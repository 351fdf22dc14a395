package bootstrap

import (
	"context"
	"fmt"
	"log"
	"time"

	"wwnotes-sync/internal/config"
	"wwnotes-sync/internal/domain"
	"wwnotes-sync/internal/metrics"
	"wwnotes-sync/internal/notifier"
	rabbitmqClient "wwnotes-sync/internal/platform/rabbitmq"
	redisClient "wwnotes-sync/internal/platform/redis"
	"wwnotes-sync/internal/repository"
	"wwnotes-sync/internal/service"
	"wwnotes-sync/internal/websocket"

	_ "github.com/go-kivik/kivik/v4/couchdb"

	"github.com/go-kivik/kivik/v4"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/redis/go-redis/v9"
)

// App is one fully wired sync node.
type App struct {
	Config    *config.Config
	Registry  *service.Registry
	Uploads   *service.UploadService
	Notifier  *notifier.Notifier
	WebSocket *websocket.Manager
	Metrics   *prometheus.Registry

	Redis  *redis.Client
	MQConn *amqp.Connection
	Couch  *kivik.Client

	StartedAt time.Time
}

func New(ctx context.Context, cfg *config.Config) (*App, error) {
	app := &App{
		Config:    cfg,
		Metrics:   prometheus.NewRegistry(),
		StartedAt: time.Now(),
	}

	sourceID := cfg.Notifier.SourceID
	if sourceID == "" {
		sourceID = "node_" + uuid.NewString()
	}

	if needsRedis(cfg) {
		cli, err := redisClient.New(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
		if err != nil {
			return nil, err
		}
		app.Redis = cli
	}

	if hasChannel(cfg, "amqp") {
		conn, err := rabbitmqClient.New(ctx, cfg.AMQP.URL)
		if err != nil {
			app.Close()
			return nil, err
		}
		app.MQConn = conn
	}

	remote, err := app.buildRemote(ctx)
	if err != nil {
		app.Close()
		return nil, err
	}

	local, files, err := app.buildLocal()
	if err != nil {
		app.Close()
		return nil, err
	}

	app.WebSocket = websocket.NewManager(websocket.Options{
		MaxConnections: cfg.WebSocket.MaxConnections,
		WriteWait:      cfg.WebSocket.WriteWait,
		PongWait:       cfg.WebSocket.PongWait,
		PingPeriod:     cfg.WebSocket.PingPeriod,
		MaxMessageSize: cfg.WebSocket.MaxMessageSize,
	})

	channels, err := app.buildChannels(files)
	if err != nil {
		app.Close()
		return nil, err
	}
	app.Notifier = notifier.New(notifier.Options{
		SourceID:       sourceID,
		PollInterval:   cfg.Notifier.PollInterval,
		JitterRatio:    cfg.Notifier.JitterRatio,
		PublishTimeout: cfg.Notifier.PublishTimeout,
	}, channels...)

	syncMetrics, err := metrics.NewSyncMetrics(app.Metrics)
	if err != nil {
		app.Close()
		return nil, fmt.Errorf("failed to register sync metrics: %w", err)
	}

	app.Registry = service.NewRegistry(remote, local, app.Notifier, syncMetrics, service.RegistryOptions{
		Capacity:       cfg.Local.Capacity,
		SourceID:       sourceID,
		NetworkTimeout: cfg.Remote.Timeout,
	})
	app.Uploads = service.NewUploadService(app.Registry)

	app.Notifier.Subscribe(func(ctx context.Context, ev domain.ChangeEvent) {
		app.Registry.ApplyEvent(ctx, ev)
	})
	app.Notifier.OnTick(func(ctx context.Context) {
		app.Registry.Refresh(ctx)
	})

	log.Printf("[Bootstrap] node %s: remote=%s local=%s channels=%v",
		sourceID, cfg.Remote.Backend, cfg.Local.Backend, cfg.Notifier.Channels)
	return app, nil
}

// Start runs the background parts of the node: the first refresh, the
// publisher and the notifier.
func (a *App) Start(ctx context.Context) {
	a.Registry.Refresh(ctx)
	a.Registry.Start(ctx)
	a.Notifier.Start(ctx)
}

// Stop waits for background work to finish. Close releases connections.
func (a *App) Stop() {
	if a.Notifier != nil {
		a.Notifier.Stop()
	}
	if a.Registry != nil {
		a.Registry.Stop()
	}
}

func (a *App) Close() error {
	var closeErr error
	if a.Redis != nil {
		if err := a.Redis.Close(); err != nil {
			closeErr = err
		}
	}
	if a.MQConn != nil {
		if err := a.MQConn.Close(); err != nil {
			closeErr = err
		}
	}
	if a.Couch != nil {
		if err := a.Couch.Close(); err != nil {
			closeErr = err
		}
	}
	return closeErr
}

func (a *App) buildRemote(ctx context.Context) (repository.RemoteStore, error) {
	cfg := a.Config
	storeID := cfg.Remote.StoreID
	if storeID == "" {
		storeID = "catalog"
	}

	switch cfg.Remote.Backend {
	case "jsonbin":
		return repository.NewRemoteBinRepository(repository.BinOptions{
			BaseURL:    cfg.Remote.BaseURL,
			BinID:      cfg.Remote.StoreID,
			MasterKey:  cfg.Remote.MasterKey,
			AccessKey:  cfg.Remote.AccessKey,
			Timeout:    cfg.Remote.Timeout,
			MaxRetries: cfg.Remote.MaxRetries,
			BaseDelay:  cfg.Remote.BaseDelay,
			MaxDelay:   cfg.Remote.MaxDelay,
		})

	case "couchdb":
		client, err := kivik.New("couch", cfg.CouchURL())
		if err != nil {
			return nil, fmt.Errorf("failed to connect to CouchDB: %w", err)
		}
		a.Couch = client

		exists, err := client.DBExists(ctx, cfg.CouchDB.Name)
		if err != nil {
			return nil, fmt.Errorf("failed to check database existence: %w", err)
		}
		if !exists {
			if err := client.CreateDB(ctx, cfg.CouchDB.Name); err != nil {
				return nil, fmt.Errorf("failed to create database: %w", err)
			}
			log.Printf("[Bootstrap] created database: %s", cfg.CouchDB.Name)
		}
		return repository.NewCouchSnapshotRepository(client, cfg.CouchDB.Name, storeID)

	case "s3":
		return repository.NewS3SnapshotRepository(ctx, repository.S3Options{
			Endpoint:  cfg.S3.Endpoint,
			AccessKey: cfg.S3.AccessKey,
			SecretKey: cfg.S3.SecretKey,
			Bucket:    cfg.S3.Bucket,
			UseSSL:    cfg.S3.UseSSL,
			StoreID:   storeID,
		})

	case "none":
		return nil, nil
	}
	return nil, fmt.Errorf("unknown remote backend %q", cfg.Remote.Backend)
}

// buildLocal returns the local store and, for the file backend, the slot
// directory so the storage channel can watch it.
func (a *App) buildLocal() (service.LocalStore, *repository.FileSlotBackend, error) {
	cfg := a.Config
	opts := repository.LocalCacheOptions{
		Slots:      cfg.Local.Slots,
		Capacity:   cfg.Local.Capacity,
		QuotaBytes: cfg.Local.QuotaBytes,
	}

	var backend repository.SlotBackend
	var files *repository.FileSlotBackend
	switch cfg.Local.Backend {
	case "file":
		fb, err := repository.NewFileSlotBackend(cfg.Local.Dir)
		if err != nil {
			return nil, nil, err
		}
		backend, files = fb, fb
	case "redis":
		backend = repository.NewRedisSlotBackend(a.Redis, cfg.Redis.KeyPrefix)
	case "memory":
		backend = repository.NewMemorySlotBackend()
	default:
		return nil, nil, fmt.Errorf("unknown local backend %q", cfg.Local.Backend)
	}

	persistent := repository.NewLocalCache(backend, opts)
	if cfg.Local.SessionSlot == "" {
		return persistent, files, nil
	}

	session := repository.NewLocalCache(repository.NewMemorySlotBackend(), repository.LocalCacheOptions{
		Slots:    []string{cfg.Local.SessionSlot},
		Capacity: cfg.Local.Capacity,
	})
	return repository.NewTieredCache(persistent, session), files, nil
}

func (a *App) buildChannels(files *repository.FileSlotBackend) ([]notifier.Channel, error) {
	cfg := a.Config
	var channels []notifier.Channel
	for _, name := range cfg.Notifier.Channels {
		switch name {
		case "storage":
			if files == nil {
				fb, err := repository.NewFileSlotBackend(cfg.Local.Dir)
				if err != nil {
					return nil, err
				}
				files = fb
			}
			channels = append(channels, notifier.NewStorageChannel(files, cfg.Notifier.BroadcastSlot))
		case "redis":
			channels = append(channels, notifier.NewRedisChannel(a.Redis, cfg.Notifier.RedisChannel))
		case "amqp":
			channels = append(channels, notifier.NewAMQPChannel(a.MQConn, cfg.AMQP.Exchange))
		case "websocket":
			channels = append(channels, a.WebSocket)
		default:
			return nil, fmt.Errorf("unknown notifier channel %q", name)
		}
	}
	return channels, nil
}

func hasChannel(cfg *config.Config, name string) bool {
	for _, ch := range cfg.Notifier.Channels {
		if ch == name {
			return true
		}
	}
	return false
}

func needsRedis(cfg *config.Config) bool {
	return cfg.Local.Backend == "redis" || hasChannel(cfg, "redis")
}
