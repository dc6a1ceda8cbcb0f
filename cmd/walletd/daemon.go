package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/MarkoPoloResearchLab/storewallet/internal/catalogfile"
	"github.com/MarkoPoloResearchLab/storewallet/internal/config"
	"github.com/MarkoPoloResearchLab/storewallet/internal/events"
	"github.com/MarkoPoloResearchLab/storewallet/internal/metrics"
	"github.com/MarkoPoloResearchLab/storewallet/internal/notify"
	"github.com/MarkoPoloResearchLab/storewallet/internal/store/gormstore"
	"github.com/MarkoPoloResearchLab/storewallet/internal/store/pgstore"
	"github.com/MarkoPoloResearchLab/storewallet/internal/walletlog"
	"github.com/MarkoPoloResearchLab/storewallet/pkg/wallet"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// daemon bundles the service with the resources that must be closed on exit.
type daemon struct {
	service  *wallet.Service
	recorder *metrics.Recorder
	logger   *zap.Logger
	closers  []func() error
}

func newDaemon(ctx context.Context, cfg config.Config, logger *zap.Logger, recorder *metrics.Recorder) (*daemon, error) {
	rt := &daemon{recorder: recorder, logger: logger}

	catalog, err := catalogfile.LoadOrDefault(cfg.CatalogFile)
	if err != nil {
		return nil, err
	}

	store, err := rt.openStore(ctx, cfg)
	if err != nil {
		rt.close()
		return nil, err
	}

	options := []wallet.ServiceOption{
		wallet.WithOperationLogger(walletlog.New(logger)),
		wallet.WithOperationLogger(recorder),
		wallet.WithNotifier(rt.notifier(cfg)),
	}
	if cfg.RedisEnabled() {
		client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		rt.closers = append(rt.closers, client.Close)
		publisher, err := events.NewRedisPublisher(client, cfg.RedisChannelPrefix)
		if err != nil {
			rt.close()
			return nil, err
		}
		options = append(options, wallet.WithEventPublisher(publisher))
		logger.Info("publishing balance events to redis", zap.String("addr", cfg.RedisAddr))
	}

	clock := func() int64 { return time.Now().UTC().Unix() }
	service, err := wallet.NewService(store, catalog, clock, options...)
	if err != nil {
		rt.close()
		return nil, fmt.Errorf("wallet service init: %w", err)
	}
	rt.service = service
	logger.Info("wallet service ready", zap.Int("perks", catalog.Len()), zap.Bool("pgx", cfg.UsePgx))
	return rt, nil
}

func (rt *daemon) openStore(ctx context.Context, cfg config.Config) (wallet.Store, error) {
	if cfg.UsePgx {
		pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("pgx pool: %w", err)
		}
		rt.closers = append(rt.closers, func() error { pool.Close(); return nil })
		if err := pool.Ping(ctx); err != nil {
			return nil, fmt.Errorf("pgx ping: %w", err)
		}
		return pgstore.New(pool), nil
	}

	db, cleanup, driver, err := openDatabase(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("database open: %w", err)
	}
	rt.closers = append(rt.closers, cleanup)
	if err := prepareSchema(db, driver); err != nil {
		return nil, err
	}
	return gormstore.New(db), nil
}

func (rt *daemon) notifier(cfg config.Config) wallet.Notifier {
	fanout := notify.Fanout{notify.NewLogNotifier(rt.logger)}
	if !cfg.KafkaEnabled() {
		return fanout
	}
	writer, err := notify.NewKafkaWriter(notify.KafkaConfig{Brokers: cfg.KafkaBrokers, Topic: cfg.KafkaTopic})
	if err != nil {
		rt.logger.Warn("kafka notifications disabled", zap.Error(err))
		return fanout
	}
	rt.closers = append(rt.closers, writer.Close)
	kafkaNotifier, err := notify.NewKafkaNotifier(writer)
	if err != nil {
		rt.logger.Warn("kafka notifications disabled", zap.Error(err))
		return fanout
	}
	rt.logger.Info("publishing notifications to kafka", zap.Strings("brokers", cfg.KafkaBrokers), zap.String("topic", cfg.KafkaTopic))
	return append(fanout, kafkaNotifier)
}

// close releases resources in reverse order of acquisition.
func (rt *daemon) close() {
	var errs []error
	for index := len(rt.closers) - 1; index >= 0; index-- {
		if err := rt.closers[index](); err != nil {
			errs = append(errs, err)
		}
	}
	rt.closers = nil
	if err := errors.Join(errs...); err != nil && rt.logger != nil {
		rt.logger.Warn("shutdown cleanup failed", zap.Error(err))
	}
}
