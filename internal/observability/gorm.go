package observability

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

const defaultSlowQueryThreshold = 200 * time.Millisecond

// GormLogger routes GORM diagnostics to zap.
type GormLogger struct {
	logger        *zap.Logger
	level         gormlogger.LogLevel
	slowThreshold time.Duration
}

// NewGormLogger returns a GORM logger at warn level.
func NewGormLogger(logger *zap.Logger) *GormLogger {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &GormLogger{
		logger:        logger.Named("gorm"),
		level:         gormlogger.Warn,
		slowThreshold: defaultSlowQueryThreshold,
	}
}

// LogMode implements gormlogger.Interface.
func (gormLogger *GormLogger) LogMode(level gormlogger.LogLevel) gormlogger.Interface {
	copied := *gormLogger
	copied.level = level
	return &copied
}

func (gormLogger *GormLogger) Info(_ context.Context, message string, data ...any) {
	if gormLogger.level >= gormlogger.Info {
		gormLogger.logger.Info(fmt.Sprintf(message, data...))
	}
}

func (gormLogger *GormLogger) Warn(_ context.Context, message string, data ...any) {
	if gormLogger.level >= gormlogger.Warn {
		gormLogger.logger.Warn(fmt.Sprintf(message, data...))
	}
}

func (gormLogger *GormLogger) Error(_ context.Context, message string, data ...any) {
	if gormLogger.level >= gormlogger.Error {
		gormLogger.logger.Error(fmt.Sprintf(message, data...))
	}
}

// Trace reports failed and slow statements. Not-found lookups are expected and stay quiet.
func (gormLogger *GormLogger) Trace(_ context.Context, begin time.Time, fc func() (string, int64), err error) {
	if gormLogger.level <= gormlogger.Silent {
		return
	}
	elapsed := time.Since(begin)
	switch {
	case err != nil && !errors.Is(err, gorm.ErrRecordNotFound) && gormLogger.level >= gormlogger.Error:
		sql, rows := fc()
		gormLogger.logger.Error("sql error", zap.Error(err), zap.Duration("elapsed", elapsed), zap.Int64("rows", rows), zap.String("sql", sql))
	case elapsed > gormLogger.slowThreshold && gormLogger.level >= gormlogger.Warn:
		sql, rows := fc()
		gormLogger.logger.Warn("slow sql", zap.Duration("elapsed", elapsed), zap.Int64("rows", rows), zap.String("sql", sql))
	case gormLogger.level >= gormlogger.Info:
		sql, rows := fc()
		gormLogger.logger.Debug("sql", zap.Duration("elapsed", elapsed), zap.Int64("rows", rows), zap.String("sql", sql))
	}
}
