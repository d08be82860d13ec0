package main

import (
	"context"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"PRelay/global"
	"PRelay/logger"
	"PRelay/middleware"
	"PRelay/module/load"
	"PRelay/module/presence"
	"PRelay/module/queue"
	"PRelay/module/unread"
	"PRelay/service/chat"
	"PRelay/service/kafka"
	"PRelay/service/mgo"
	"PRelay/service/natsx"
	redisstore "PRelay/service/storage/redis"
	"PRelay/tools/ids"
	"PRelay/tools/security"

	"github.com/gin-gonic/gin"
)

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func loadConfig() global.AppConfig {
	conf := global.AppConfig{
		GatewayID:   envOr("PRELAY_GATEWAY_ID", "1"),
		ProcessRole: envOr("PRELAY_PROCESS_ROLE", global.ProcessMobile),
		Redis: global.RedisConfig{
			Addr:     envOr("PRELAY_REDIS_ADDR", "127.0.0.1:6379"),
			Password: os.Getenv("PRELAY_REDIS_PASSWORD"),
		},
		Mongo: global.MongoConfig{
			URI:      envOr("PRELAY_MONGO_URI", "mongodb://127.0.0.1:27017"),
			Database: envOr("PRELAY_MONGO_DB", "prelay"),
		},
		Kafka: global.KafkaConfig{
			Brokers:     strings.Split(envOr("PRELAY_KAFKA_BROKERS", "127.0.0.1:9092"), ","),
			BridgeTopic: envOr("PRELAY_BRIDGE_TOPIC", "prelay.bridge"),
			GroupID:     "",
		},
		Nats: global.NatsConfig{
			URL:           envOr("PRELAY_NATS_URL", "nats://127.0.0.1:4222"),
			NotifySubject: envOr("PRELAY_NOTIFY_SUBJECT", "prelay.notify.offline"),
		},
	}
	// every instance consumes the full bridge topic independently
	conf.Kafka.GroupID = global.BridgeConsumerGroup(conf.ProcessRole, conf.GatewayID)
	conf.Norm()
	return conf
}

func main() {
	conf := loadConfig()

	if n, err := strconv.ParseInt(conf.GatewayID, 10, 64); err == nil {
		ids.SetNodeID(n)
	}

	if err := redisstore.InitRedis(redisstore.Config{
		Addr:     conf.Redis.Addr,
		Password: conf.Redis.Password,
		DB:       conf.Redis.DB,
		PoolSize: conf.Redis.PoolSize,
	}); err != nil {
		logger.Errorf("[boot] redis init failed: %v", err)
		os.Exit(1)
	}
	if err := mgo.InitMongo(mgo.Config{URI: conf.Mongo.URI, Database: conf.Mongo.Database}); err != nil {
		logger.Errorf("[boot] mongo init failed: %v", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	dir := presence.NewRedisDirectory(presence.Config{
		TTL:           conf.Presence.TTL,
		MembershipTTL: conf.Presence.MembershipTTL,
	})
	engine := unread.NewEngine(unread.NewRedisStore(), unread.NewMongoDurable())
	monitor := load.NewMonitor(load.Config{
		SampleWindow: conf.Load.SampleWindow,
		CPUThreshold: conf.Load.CPUThreshold,
		MemThreshold: conf.Load.MemThreshold,
		ConnCeiling:  int64(conf.Load.ConnCeiling),
	}, nil, dir)

	backend := queue.NewRedisBackend()
	q := queue.New(backend)

	kconf := kafka.Config{Brokers: conf.Kafka.Brokers, GroupID: conf.Kafka.GroupID}
	relay, err := kafka.NewBridgeRelay(kconf, conf.Kafka.BridgeTopic)
	if err != nil {
		logger.Errorf("[boot] kafka init failed: %v", err)
		os.Exit(1)
	}

	nc, err := natsx.Connect(conf.Nats.URL, "prelay-"+conf.ProcessRole)
	if err != nil {
		logger.Errorf("[boot] nats init failed: %v", err)
		os.Exit(1)
	}
	notifier := natsx.NewNotifier(nc, conf.Nats.NotifySubject)
	inbox := chat.NewOfflineInbox(0)

	db := mgo.GetDB()
	server := chat.NewServer(chat.Deps{
		Conf:     conf,
		Dir:      dir,
		Engine:   engine,
		Monitor:  monitor,
		Queue:    q,
		Backend:  backend,
		Store:    chat.NewMongoMessageStore(db),
		Members:  chat.NewMongoMembershipSource(db),
		Relay:    relay,
		Notifier: chat.MultiNotifier{inbox, notifier},
		Inbox:    inbox,
		JWT:      security.DefaultOptions([]byte(envOr("PRELAY_JWT_SECRET", "dev-secret"))),
	})
	chat.RegisterDefaultHandlers(server)
	server.Run(ctx)

	group, err := kafka.StartConsumerGroup(ctx, kconf, conf.Kafka.BridgeTopic, conf.ProcessRole, server.Bridge().HandleRelay)
	if err != nil {
		logger.Errorf("[boot] bridge consumer failed: %v", err)
		os.Exit(1)
	}

	reconciler := unread.NewReconciler(engine.Store(), unread.NewMongoDurable(), 0)
	reconciler.Start(ctx)

	r := gin.New()
	r.Use(gin.Recovery())
	chat.RegisterWS(r, server)
	middleware.RegisterAdminRoutes(r, monitor, q)

	addr := envOr("PRELAY_LISTEN", ":8080")
	go func() {
		logger.Infof("[boot] %s gateway listening on %s", conf.ProcessRole, addr)
		if err := r.Run(addr); err != nil {
			logger.Errorf("[boot] http server exited: %v", err)
			cancel()
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-sig:
	case <-ctx.Done():
	}
	logger.Info("[boot] shutting down")
	cancel()

	_ = group.Close()
	_ = relay.Close()
	nc.Close()
	shutdownCtx, sdCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer sdCancel()
	_ = mgo.CloseMongo(shutdownCtx)
	_ = redisstore.CloseRedis()
}
