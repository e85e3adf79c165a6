package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	goredis "github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/mongo"

	"HabitLink/global"
	"HabitLink/logger"
	"HabitLink/service/fleet"
	"HabitLink/service/membership"
	"HabitLink/service/realtime"
	"HabitLink/service/storage"
	redisstore "HabitLink/service/storage/redis"
)

func main() {
	defer logger.Sync()

	cfg := global.Load()
	global.ConfigIds(cfg.NodeID)
	logger.Infof("[boot] node=%s fleet=%s offline=%s", cfg.NodeID, cfg.FleetMode, cfg.OfflineBackend)

	// Redis backs the fleet adapter, the offline queue and the presence
	// markers depending on configuration. A failed dial degrades those
	// consumers instead of refusing to start.
	var rdb *goredis.Client
	if cfg.FleetMode == "redis" || cfg.OfflineBackend == "redis" {
		var err error
		rdb, err = redisstore.New(redisstore.Config{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
			PoolSize: 50,
		})
		if err != nil {
			logger.Warnf("[boot] redis unavailable at %s: %v", cfg.RedisAddr, err)
			rdb = nil
		}
	}

	queue, mongoCli := buildOfflineQueue(cfg, rdb)
	fa := buildFleetAdapter(cfg, rdb)
	members := buildMembershipStore(cfg)

	var presence realtime.PresenceMarker
	if rdb != nil {
		presence = storage.NewRedisPresence(rdb, 2*time.Minute)
	}

	reg := realtime.NewRegistry(cfg.NodeID, presence)
	router := realtime.NewRouter(reg, fa, queue, members, cfg.OfflineTTL)
	auth := realtime.NewAuthenticator(cfg.JWTSecret, cfg.AuthTTL)
	limiter := realtime.NewRateLimiter(cfg.RateWindow, cfg.RateMax, cfg.RateMaxStrikes)

	if err := router.Subscribe(); err != nil {
		logger.Errorf("[boot] fleet subscribe: %v", err)
	}

	server := realtime.NewServer(reg, router, auth, limiter, cfg.PingInterval, cfg.ReadTimeout)

	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(gin.Recovery())
	server.Mount(engine)

	httpSrv := &http.Server{Addr: cfg.HTTPAddr, Handler: engine}
	go func() {
		logger.Infof("[boot] listening on %s", cfg.HTTPAddr)
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Errorf("[boot] http serve: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info("[boot] shutting down")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = httpSrv.Shutdown(ctx)

	_ = fa.Close()
	if closer, ok := members.(*membership.PGStore); ok {
		closer.Close()
	}
	if mongoCli != nil {
		_ = mongoCli.Disconnect(ctx)
	}
	if rdb != nil {
		_ = rdb.Close()
	}
}

// buildOfflineQueue picks the configured backend and falls back to the
// in-process queue when the backing store is unreachable. Queue trouble must
// never keep the gateway from serving live traffic.
func buildOfflineQueue(cfg *global.Config, rdb *goredis.Client) (storage.OfflineQueue, *mongo.Client) {
	switch cfg.OfflineBackend {
	case "redis":
		if rdb != nil {
			return storage.NewRedisOfflineQueue(rdb), nil
		}
		logger.Warn("[boot] offline backend redis unavailable, using memory queue")
	case "mongo":
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		cli, err := storage.DialMongo(ctx, cfg.MongoURI)
		if err != nil {
			logger.Warnf("[boot] mongo unavailable at %s: %v, using memory queue", cfg.MongoURI, err)
			break
		}
		q, err := storage.NewMongoOfflineQueue(ctx, cli.Database(cfg.MongoDatabase))
		if err != nil {
			logger.Warnf("[boot] mongo offline queue init: %v, using memory queue", err)
			_ = cli.Disconnect(context.Background())
			break
		}
		return q, cli
	case "memory":
	default:
		logger.Warnf("[boot] unknown offline backend %q, using memory queue", cfg.OfflineBackend)
	}
	return storage.NewMemoryOfflineQueue(), nil
}

// buildFleetAdapter picks the configured transport. Unreachable brokers
// degrade to the noop adapter: single-node delivery plus the offline queue
// still function.
func buildFleetAdapter(cfg *global.Config, rdb *goredis.Client) fleet.Adapter {
	switch cfg.FleetMode {
	case "redis":
		if rdb != nil {
			return fleet.NewRedisAdapter(rdb, cfg.NodeID)
		}
		logger.Warn("[boot] fleet redis unavailable, running without fleet fan-out")
	case "nats":
		a, err := fleet.NewNatsAdapter(cfg.NatsURL, cfg.NodeID)
		if err != nil {
			logger.Warnf("[boot] nats unavailable at %s: %v, running without fleet fan-out", cfg.NatsURL, err)
			break
		}
		return a
	case "kafka":
		a, err := fleet.NewKafkaAdapter(cfg.KafkaBrokers, cfg.KafkaTopic, cfg.NodeID)
		if err != nil {
			logger.Warnf("[boot] kafka unavailable: %v, running without fleet fan-out", err)
			break
		}
		return a
	case "none":
	default:
		logger.Warnf("[boot] unknown fleet mode %q, running without fleet fan-out", cfg.FleetMode)
	}
	return fleet.Noop{}
}

// buildMembershipStore connects to the relational store. Membership is
// authorization and fails closed: without postgres the gateway exits rather
// than admitting everyone. An empty DSN opts into AllowAll for local
// development only.
func buildMembershipStore(cfg *global.Config) membership.Store {
	if cfg.PostgresDSN == "" || cfg.PostgresDSN == "none" {
		logger.Warn("[boot] no postgres dsn, room authorization disabled (allow all)")
		return membership.AllowAll{}
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	store, err := membership.NewPGStore(ctx, cfg.PostgresDSN)
	if err != nil {
		logger.Errorf("[boot] postgres unavailable: %v", err)
		os.Exit(1)
	}
	return store
}
