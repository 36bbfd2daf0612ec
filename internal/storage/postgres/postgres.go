// internal/storage/postgres/postgres.go
package postgres

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/rovshanmuradov/chaincrawlr/internal/domain"
	"github.com/rovshanmuradov/chaincrawlr/internal/storage"
	"github.com/rovshanmuradov/chaincrawlr/internal/storage/models"
)

const migrationLockID = 7301

// gormLogger routes gorm logs into zap.
type gormLogger struct {
	zapLogger     *zap.Logger
	logLevel      logger.LogLevel
	slowThreshold time.Duration
}

func newGormLogger(zapLogger *zap.Logger) logger.Interface {
	return &gormLogger{
		zapLogger:     zapLogger,
		logLevel:      logger.Warn,
		slowThreshold: 500 * time.Millisecond,
	}
}

func (l *gormLogger) LogMode(level logger.LogLevel) logger.Interface {
	newLogger := *l
	newLogger.logLevel = level
	return &newLogger
}

func (l *gormLogger) Info(_ context.Context, msg string, data ...interface{}) {
	if l.logLevel >= logger.Info {
		l.zapLogger.Sugar().Infof(msg, data...)
	}
}

func (l *gormLogger) Warn(_ context.Context, msg string, data ...interface{}) {
	if l.logLevel >= logger.Warn {
		l.zapLogger.Sugar().Warnf(msg, data...)
	}
}

func (l *gormLogger) Error(_ context.Context, msg string, data ...interface{}) {
	if l.logLevel >= logger.Error {
		l.zapLogger.Sugar().Errorf(msg, data...)
	}
}

func (l *gormLogger) Trace(_ context.Context, begin time.Time, fc func() (string, int64), err error) {
	if l.logLevel <= logger.Silent {
		return
	}

	elapsed := time.Since(begin)
	sql, rows := fc()
	fields := []zap.Field{
		zap.Duration("elapsed", elapsed),
		zap.String("sql", sql),
		zap.Int64("rows", rows),
	}

	switch {
	case err != nil && err != gorm.ErrRecordNotFound:
		l.zapLogger.Error("Query failed", append(fields, zap.Error(err))...)
	case elapsed > l.slowThreshold && l.logLevel >= logger.Warn:
		l.zapLogger.Warn("Slow query", fields...)
	case l.logLevel >= logger.Info:
		l.zapLogger.Debug("Query", fields...)
	}
}

// Store is the postgres TradeStore.
type Store struct {
	db     *gorm.DB
	logger *zap.Logger
}

var _ storage.TradeStore = (*Store)(nil)

func NewStore(dsn string, zapLogger *zap.Logger) (*Store, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: newGormLogger(zapLogger.Named("gorm")),
		NowFunc: func() time.Time {
			return time.Now().UTC()
		},
		DisableForeignKeyConstraintWhenMigrating: true,
		SkipDefaultTransaction:                   true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get database instance: %w", err)
	}
	sqlDB.SetMaxIdleConns(5)
	sqlDB.SetMaxOpenConns(20)
	sqlDB.SetConnMaxLifetime(time.Hour)

	return &Store{db: db, logger: zapLogger.Named("trade-store")}, nil
}

// RunMigrations creates the archive tables under an advisory lock.
func (s *Store) RunMigrations() error {
	var lockObtained bool
	if err := s.db.Raw("SELECT pg_try_advisory_lock(?)", migrationLockID).Scan(&lockObtained).Error; err != nil {
		return fmt.Errorf("failed to acquire migration lock: %w", err)
	}
	if !lockObtained {
		return fmt.Errorf("another migration is in progress")
	}
	defer s.db.Exec("SELECT pg_advisory_unlock(?)", migrationLockID)

	if err := s.db.AutoMigrate(&models.Trade{}, &models.Execution{}); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}
	return nil
}

func (s *Store) SaveTrade(ctx context.Context, t domain.ClosedTrade) error {
	return s.db.WithContext(ctx).Create(models.TradeFromDomain(t)).Error
}

func (s *Store) ListTrades(ctx context.Context, chain string, limit, offset int) ([]domain.ClosedTrade, error) {
	q := s.db.WithContext(ctx).Model(&models.Trade{})
	if chain != "" {
		q = q.Where("chain = ?", chain)
	}

	var rows []*models.Trade
	if err := q.Order("exit_time desc").Limit(limit).Offset(offset).Find(&rows).Error; err != nil {
		return nil, err
	}

	out := make([]domain.ClosedTrade, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.Domain())
	}
	return out, nil
}

func (s *Store) SaveExecution(ctx context.Context, e *models.Execution) error {
	return s.db.WithContext(ctx).Create(e).Error
}

func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
