package app

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/batua/wallet/src/repository"
	"github.com/batua/wallet/src/store"
	"github.com/go-redis/redis/v8"
	_ "github.com/lib/pq"
	"github.com/rs/zerolog"
	postgresDriver "gorm.io/driver/postgres"
	"gorm.io/gorm"
)

// openStorage connects the configured storage driver. The returned func releases the
// connection and is never nil.
func openStorage(ctx context.Context, config AppConfig) (store.Storage, func() error, error) {
	logger := zerolog.Ctx(ctx).With().Str("function", "openStorage").Str("driver", *config.StorageDriver).Logger()
	noop := func() error { return nil }

	switch *config.StorageDriver {
	case StorageRedis:
		redisOpts, err := redis.ParseURL(*config.RedisAddr)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to parse redis URL: %w", err)
		}
		rdb := redis.NewClient(redisOpts)
		if err := rdb.Ping(ctx).Err(); err != nil {
			_ = rdb.Close()
			return nil, nil, fmt.Errorf("connection to redis failed: %w", err)
		}
		logger.Info().Msg("Redis connection established")
		return repository.NewRedisStorage(rdb, "batua", 0), rdb.Close, nil

	case StorageBadger:
		badgerStorage, err := repository.OpenBadgerStorage(*config.BadgerPath)
		if err != nil {
			return nil, nil, err
		}
		logger.Info().Str("path", *config.BadgerPath).Msg("Badger storage opened")
		return badgerStorage, badgerStorage.Close, nil

	case StoragePostgres:
		db, err := sql.Open("postgres", *config.DSN)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open database: %w", err)
		}
		if err := db.PingContext(ctx); err != nil {
			_ = db.Close()
			return nil, nil, fmt.Errorf("connection to database failed: %w", err)
		}
		database, err := gorm.Open(postgresDriver.New(postgresDriver.Config{Conn: db}), &gorm.Config{})
		if err != nil {
			_ = db.Close()
			return nil, nil, fmt.Errorf("connection to database failed: %w", err)
		}
		logger.Info().Msg("Database connection established")

		if err := MigrationUp(*config.DSN, *config.MigrationPath); err != nil {
			_ = db.Close()
			return nil, nil, err
		}
		return repository.NewStateRepository(database), db.Close, nil
	}

	return store.NewMemoryStorage(), noop, nil
}
