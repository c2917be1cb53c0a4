package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
	"gorm.io/gorm/utils"
)

// defaultSlowQuery is the latency above which a statement is reported as
// slow. Message fan-out reads run on every inbound frame, so anything over
// this is visible to users as delivery lag.
const defaultSlowQuery = 100 * time.Millisecond

// zapGORMLogger routes GORM's internal messages (SQL traces, slow statements,
// errors) through the application zap logger.
type zapGORMLogger struct {
	log       *zap.Logger
	level     gormlogger.LogLevel
	slowQuery time.Duration
}

// newZapGORMLogger returns a gormlogger.Interface backed by log. A zero level
// defaults to Warn: errors and slow queries only.
func newZapGORMLogger(log *zap.Logger, level gormlogger.LogLevel) gormlogger.Interface {
	if level == 0 {
		level = gormlogger.Warn
	}
	return &zapGORMLogger{
		log:       log.Named("gorm").WithOptions(zap.AddCallerSkip(3)),
		level:     level,
		slowQuery: defaultSlowQuery,
	}
}

// LogMode implements gormlogger.Interface. GORM calls it for db.Debug().
func (l *zapGORMLogger) LogMode(level gormlogger.LogLevel) gormlogger.Interface {
	clone := *l
	clone.level = level
	return &clone
}

func (l *zapGORMLogger) Info(_ context.Context, msg string, args ...interface{}) {
	if l.level >= gormlogger.Info {
		l.log.Info(fmt.Sprintf(msg, args...))
	}
}

func (l *zapGORMLogger) Warn(_ context.Context, msg string, args ...interface{}) {
	if l.level >= gormlogger.Warn {
		l.log.Warn(fmt.Sprintf(msg, args...))
	}
}

func (l *zapGORMLogger) Error(_ context.Context, msg string, args ...interface{}) {
	if l.level >= gormlogger.Error {
		l.log.Error(fmt.Sprintf(msg, args...))
	}
}

// Trace logs one executed statement. gorm.ErrRecordNotFound is a normal
// lookup miss for the repositories and is never reported as an error.
func (l *zapGORMLogger) Trace(_ context.Context, begin time.Time, fc func() (sql string, rowsAffected int64), err error) {
	if l.level <= gormlogger.Silent {
		return
	}

	elapsed := time.Since(begin)

	switch {
	case err != nil && !errors.Is(err, gorm.ErrRecordNotFound) && l.level >= gormlogger.Error:
		sql, rows := fc()
		l.log.Error("query failed", l.fields(sql, rows, elapsed, zap.Error(err))...)

	case l.slowQuery > 0 && elapsed > l.slowQuery && l.level >= gormlogger.Warn:
		sql, rows := fc()
		l.log.Warn("slow query", l.fields(sql, rows, elapsed, zap.Duration("threshold", l.slowQuery))...)

	case l.level >= gormlogger.Info:
		sql, rows := fc()
		l.log.Debug("query", l.fields(sql, rows, elapsed)...)
	}
}

func (l *zapGORMLogger) fields(sql string, rows int64, elapsed time.Duration, extra ...zap.Field) []zap.Field {
	return append([]zap.Field{
		zap.String("sql", sql),
		zap.Duration("elapsed", elapsed),
		zap.Int64("rows", rows),
		zap.String("caller", utils.FileWithLineNum()),
	}, extra...)
}
