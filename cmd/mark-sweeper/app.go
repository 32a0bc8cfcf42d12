package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/BearBump/MarkBox/config"
	"github.com/BearBump/MarkBox/internal/audit"
	"github.com/BearBump/MarkBox/internal/broker/kafka"
	"github.com/BearBump/MarkBox/internal/broker/messages"
	"github.com/BearBump/MarkBox/internal/cache"
	"github.com/BearBump/MarkBox/internal/cache/memcache"
	"github.com/BearBump/MarkBox/internal/cache/rediscache"
	"github.com/BearBump/MarkBox/internal/integrations/qr/fake"
	"github.com/BearBump/MarkBox/internal/integrations/qr/qrhttp"
	"github.com/BearBump/MarkBox/internal/models"
	"github.com/BearBump/MarkBox/internal/services/codegen"
	"github.com/BearBump/MarkBox/internal/services/marks"
	"github.com/BearBump/MarkBox/internal/services/sweeper"
	"github.com/BearBump/MarkBox/internal/storage/pgmark"
)

type messageConsumer interface {
	Consume(ctx context.Context, handler func(key, value []byte) error) error
	Close() error
}

type app struct {
	ctx    context.Context
	cancel context.CancelFunc

	cfg      *config.Config
	svc      *marks.Service
	sw       *sweeper.Sweeper
	consumer messageConsumer

	redeemedTopic string
	httpAddr      string

	closeDB       func()
	closeProducer func() error
}

func mustBootstrap() *app {
	cfgPath := os.Getenv("configPath")
	if cfgPath == "" {
		panic("configPath env var is required")
	}
	cfg, err := config.LoadConfig(cfgPath)
	if err != nil {
		panic(fmt.Sprintf("ошибка парсинга конфига, %v", err))
	}

	sslMode := cfg.Database.SSLMode
	if sslMode == "" {
		sslMode = "disable"
	}
	connString := fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		cfg.Database.Username, cfg.Database.Password, cfg.Database.Host, cfg.Database.Port, cfg.Database.DBName, sslMode)
	st := mustOpenPostgresWithRetry(connString, 60*time.Second)

	markTTL := time.Duration(cfg.MarkBox.MarkTTLSeconds) * time.Second
	if markTTL <= 0 {
		markTTL = time.Hour
	}
	validationTTL := time.Duration(cfg.MarkBox.ValidationTTLSeconds) * time.Second
	if validationTTL <= 0 {
		validationTTL = 5 * time.Minute
	}

	var c cache.BytesCache
	switch cfg.MarkBox.CacheBackend {
	case "memory":
		// У in-memory LRU единый TTL — берём меньший из настроенных.
		c = memcache.New(cfg.MarkBox.MemoryCacheSize, validationTTL)
	default:
		redisAddr := fmt.Sprintf("%s:%d", cfg.Redis.Host, cfg.Redis.Port)
		c = rediscache.New(redisAddr)
	}

	brokers := []string{fmt.Sprintf("%s:%d", cfg.Kafka.Host, cfg.Kafka.Port)}
	producer := kafka.NewProducer(brokers)

	auditTopic := cfg.Kafka.AuditTopicName
	if auditTopic == "" {
		auditTopic = "mark.audit"
	}
	auditor := audit.NewKafkaRecorder(producer, auditTopic)

	gen := codegen.New(st, cfg.MarkBox.CodePrefix, cfg.MarkBox.CodeSeparator)

	storeTimeout := time.Duration(cfg.MarkBox.StoreTimeoutSeconds) * time.Second

	svc := marks.New(st, gen, c, auditor).WithTTLs(markTTL, validationTTL)
	if storeTimeout > 0 {
		svc.WithStoreTimeout(storeTimeout)
	}
	if cfg.MarkBox.BulkChunkSize > 0 {
		svc.WithChunkSize(cfg.MarkBox.BulkChunkSize)
	}
	if cfg.MarkBox.CacheTimeoutMillis > 0 {
		svc.WithCacheTimeout(time.Duration(cfg.MarkBox.CacheTimeoutMillis) * time.Millisecond)
	}
	if cfg.MarkBox.QRRendererBaseURL != "" {
		svc.WithQRRenderer(qrhttp.New(cfg.MarkBox.QRRendererBaseURL))
	} else {
		svc.WithQRRenderer(fake.New())
	}

	sweepInterval := time.Duration(cfg.MarkBox.SweepIntervalSeconds) * time.Second
	if sweepInterval <= 0 {
		sweepInterval = 24 * time.Hour
	}
	sw := sweeper.New(st, c, auditor).WithSettings(sweepInterval, cfg.MarkBox.SweepBatchLimit)
	if storeTimeout > 0 {
		sw.WithStoreTimeout(storeTimeout)
	}

	redeemedTopic := cfg.Kafka.MarkRedeemedTopicName
	if redeemedTopic == "" {
		redeemedTopic = "mark.redeemed"
	}
	consumerGroup := cfg.MarkBox.KafkaConsumerGroup
	if consumerGroup == "" {
		consumerGroup = "mark-sweeper"
	}
	consumer := kafka.NewConsumer(brokers, redeemedTopic, consumerGroup)

	httpAddr := cfg.MarkBox.WorkerHTTPAddr
	if httpAddr == "" {
		httpAddr = ":8082"
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)

	return &app{
		ctx:           ctx,
		cancel:        cancel,
		cfg:           cfg,
		svc:           svc,
		sw:            sw,
		consumer:      consumer,
		redeemedTopic: redeemedTopic,
		httpAddr:      httpAddr,
		closeDB:       st.Close,
		closeProducer: producer.Close,
	}
}

func mustOpenPostgresWithRetry(connString string, wait time.Duration) *pgmark.Storage {
	deadline := time.Now().Add(wait)
	var lastErr error
	for time.Now().Before(deadline) {
		st, err := pgmark.New(connString)
		if err == nil {
			return st
		}
		lastErr = err
		time.Sleep(1 * time.Second)
	}
	panic(fmt.Sprintf("postgres is not ready after %s: %v", wait, lastErr))
}

func (a *app) Close() {
	if a.cancel != nil {
		a.cancel()
	}
	if a.consumer != nil {
		_ = a.consumer.Close()
	}
	if a.closeProducer != nil {
		_ = a.closeProducer()
	}
	if a.closeDB != nil {
		a.closeDB()
	}
}

func (a *app) Run() error {
	sweepErr := make(chan error, 1)
	go func() {
		sweepErr <- a.sw.Run(a.ctx)
	}()

	// Падение консьюмера валит процесс: молча жить без приёма погашений
	// нельзя, оркестратор перезапустит.
	consumeErr := make(chan error, 1)
	go func() {
		slog.Info("redemption consumer started", "topic", a.redeemedTopic)
		consumeErr <- a.consumer.Consume(a.ctx, redemptionHandler(a.ctx, a.svc))
	}()

	httpErr := make(chan error, 1)
	go func() {
		httpErr <- runOpsHTTPServer(a.ctx, opsHTTPOpts{
			httpAddr: a.httpAddr,
			sweeper:  a.sw,
			cfg:      a.cfg,
		})
	}()

	select {
	case <-a.ctx.Done():
		return a.ctx.Err()
	case err := <-sweepErr:
		return err
	case err := <-consumeErr:
		return err
	case err := <-httpErr:
		return err
	}
}

type redeemer interface {
	MarkUsed(ctx context.Context, code, actor string) (*models.Mark, error)
}

// redemptionHandler переводит погашенные извне марки в USED.
// Бизнес-отказы (нет марки, не тот статус) коммитим — повторная
// доставка их не исправит. Ошибки БД возвращаем, чтобы сообщение
// доставилось ещё раз.
func redemptionHandler(ctx context.Context, svc redeemer) func(key, value []byte) error {
	return func(_key, value []byte) error {
		var m messages.MarkRedeemed
		if err := json.Unmarshal(value, &m); err != nil {
			slog.Warn("redemption message malformed", "error", err.Error())
			return nil
		}
		if m.Code == "" {
			slog.Warn("redemption message without code")
			return nil
		}

		_, err := svc.MarkUsed(ctx, m.Code, m.Actor)
		if errors.Is(err, models.ErrNotFound) || errors.Is(err, models.ErrInvalidState) {
			slog.Warn("redemption rejected", "code", m.Code, "error", err.Error())
			return nil
		}
		return err
	}
}
