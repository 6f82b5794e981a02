package database

import (
	"context"
	"fmt"
	"time"

	"chatroom_realtime_service/pkg/logger"

	"github.com/jackc/pgx/v4/pgxpool"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gorm_logger "gorm.io/gorm/logger"
)

// PostgresDSN build key/value dsn for pgx and gorm
func PostgresDSN(host string, port int, user, password, database string) string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=disable",
		host, port, user, password, database)
}

// NewDatabaseConnection create a new postgresSQL pgx pool
func NewDatabaseConnection(ctx context.Context, d Connection) (*pgxpool.Pool, error) {
	dbConfig, err := pgxpool.ParseConfig(d.ConnectStr)
	if err != nil {
		return nil, fmt.Errorf("parse postgres config: %w", err)
	}

	var pool *pgxpool.Pool
	for i := 0; i < max(d.RetryCount, 1); i++ {
		pool, err = pgxpool.ConnectConfig(ctx, dbConfig)
		if err == nil {
			if err = pool.Ping(ctx); err == nil {
				return pool, nil
			}
			pool.Close()
		}
		logger.Log.Warn(
			"Failed to connect to postgreSQL database, retrying...",
			zap.Int("attempt", i+1),
			zap.String("host", dbConfig.ConnConfig.Host),
			zap.Error(err),
		)
		retryWait(d.RetryInterval)
	}

	return nil, err
}

// NewGormConnection create a new postgresSQL gorm connection, duplicate key errors are translated to gorm.ErrDuplicatedKey
func NewGormConnection(d Connection) (*gorm.DB, error) {
	var db *gorm.DB
	var err error

	for i := 0; i < max(d.RetryCount, 1); i++ {
		db, err = gorm.Open(postgres.Open(d.ConnectStr), &gorm.Config{
			// repository 自己判斷 pgconn.PgError 的 constraint
			Logger: gorm_logger.Default.LogMode(gorm_logger.Warn),
		})
		if err == nil {
			sqlDB, dbErr := db.DB()
			if dbErr == nil {
				if err = sqlDB.Ping(); err == nil {
					sqlDB.SetMaxOpenConns(20)
					sqlDB.SetMaxIdleConns(5)
					sqlDB.SetConnMaxLifetime(30 * time.Minute)
					return db, nil
				}
			} else {
				err = dbErr
			}
		}
		logger.Log.Warn("Failed to open gorm connection, retrying...", zap.Int("attempt", i+1), zap.Error(err))
		retryWait(d.RetryInterval)
	}

	return nil, err
}
