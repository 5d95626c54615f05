package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"flash_sale/internal/config"
	"flash_sale/internal/guard"
	"flash_sale/internal/identity"
	"flash_sale/internal/middleware"
	"flash_sale/internal/order"
	"flash_sale/internal/queue"
	"flash_sale/internal/reservation"
	"flash_sale/internal/router"
	"flash_sale/internal/seckill"
	"flash_sale/internal/store"
	"flash_sale/internal/telemetry"
	rediskey "flash_sale/pkg/redis"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	rd "github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}
	telemetry.Init(os.Stdout, telemetry.ParseLogLevel(cfg.LogLevel), cfg.LogFormat)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg); err != nil {
		telemetry.Errorf("server exited: %v", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config.AppConfig) error {
	shutdownTracing, err := telemetry.SetupTracing(ctx, "flash-sale", cfg.OTelEndpoint)
	if err != nil {
		return fmt.Errorf("tracing: %w", err)
	}
	defer func() { _ = shutdownTracing(context.Background()) }()

	// 1. 连接数据库，自动建表
	db, err := store.Open(cfg.DBDriver, cfg.DBDSN)
	if err != nil {
		return err
	}
	if err := store.Migrate(db); err != nil {
		return err
	}
	st := store.New(db)

	// 2. 连接 Redis
	rdb := rd.NewClient(&rd.Options{Addr: cfg.RedisAddr, DB: cfg.RedisDB})
	defer rdb.Close()
	if err := rdb.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis ping: %w", err)
	}

	// 3. 启动时用 DB 库存预热 Redis，并清空本地售罄标记
	engine := reservation.NewEngine(rdb, rediskey.StockPrefix.WithTTL(cfg.StockCacheTTL))
	items, err := st.ListItems(ctx)
	if err != nil {
		return err
	}
	if err := engine.Seed(ctx, items); err != nil {
		return err
	}

	g, err := guard.New(rdb, cfg.PathSecret, cfg.VerifyTTL, cfg.PathTTL)
	if err != nil {
		return err
	}
	node, err := snowflake.NewNode(cfg.NodeID)
	if err != nil {
		return fmt.Errorf("snowflake node: %w", err)
	}

	pub, subs := buildQueue(cfg, rdb)
	mat := order.NewMaterializer(st, rdb, node, order.Options{
		UseLock:  cfg.MaterializerLock,
		LockTTL:  cfg.LockTTL,
		IndexTTL: cfg.OrderIndexTTL,
	})
	svc := seckill.New(seckill.Deps{
		Store:     st,
		Redis:     rdb,
		Engine:    engine,
		Guard:     g,
		Publisher: pub,
		Lookup:    order.NewLookup(st, rdb, cfg.OrderIndexTTL),
	})
	sessions := identity.NewStore(rediskey.NewCache(rdb))

	if telemetry.ParseLogLevel(cfg.LogLevel) != slog.LevelDebug {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.New()
	r.Use(gin.Recovery())
	router.Setup(r, router.Deps{
		Service:  svc,
		Gate:     middleware.NewGate(rdb, sessions),
		Sessions: sessions,
		Config:   cfg,
	})
	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
	}

	eg, ctx := errgroup.WithContext(ctx)
	eg.Go(func() error {
		telemetry.L().Info("http listening", "addr", cfg.HTTPAddr, "queue", cfg.QueueBackend)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	for i, sub := range subs {
		eg.Go(func() error {
			telemetry.Infof("fulfillment worker %d started", i)
			return sub.Run(ctx, mat.Handle)
		})
	}
	eg.Go(func() error {
		<-ctx.Done()
		telemetry.L().Info("shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		err := srv.Shutdown(shutdownCtx)

		// 先刷出生产者缓冲，再等投递确认的回补处理完
		if cerr := pub.Close(); cerr != nil {
			telemetry.Warnf("close publisher: %v", cerr)
		}
		svc.Wait()
		for _, sub := range subs {
			_ = sub.Close()
		}
		return err
	})
	return eg.Wait()
}

// buildQueue 按配置选择 Kafka 或 Redis Stream，每个 worker 一个订阅者。
func buildQueue(cfg config.AppConfig, rdb *rd.Client) (queue.Publisher, []queue.Subscriber) {
	subs := make([]queue.Subscriber, 0, cfg.Workers)
	if cfg.QueueBackend == config.QueueRedis {
		for i := 0; i < cfg.Workers; i++ {
			name := fmt.Sprintf("%s-%d", cfg.OrderStreamConsumer, i)
			subs = append(subs, queue.NewStreamSubscriber(rdb, cfg.OrderStream, cfg.OrderStreamGroup, name))
		}
		return queue.NewStreamPublisher(rdb, cfg.OrderStream), subs
	}

	for i := 0; i < cfg.Workers; i++ {
		subs = append(subs, queue.NewKafkaSubscriber(cfg.KafkaBrokers, cfg.KafkaTopic, cfg.KafkaGroupID))
	}
	return queue.NewKafkaPublisher(cfg.KafkaBrokers, cfg.KafkaTopic), subs
}
