package logger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// GormLoggerAdapter sends GORM output to a module logger. Statements go to
// TRACE, failures and slow statements to WARN.
type GormLoggerAdapter struct {
	log  Logger
	slow time.Duration
}

var _ gormlogger.Interface = (*GormLoggerAdapter)(nil)

// NewGormLoggerAdapter returns an adapter for log, or for the global "gorm"
// module when log is nil. A zero slow threshold disables slow warnings.
func NewGormLoggerAdapter(log Logger, slow time.Duration) *GormLoggerAdapter {
	if log == nil {
		log = Global().Module("gorm")
	}
	return &GormLoggerAdapter{log: log, slow: slow}
}

// LogMode is ignored; the module level decides.
func (a *GormLoggerAdapter) LogMode(gormlogger.LogLevel) gormlogger.Interface { return a }

func (a *GormLoggerAdapter) Info(_ context.Context, format string, args ...any) {
	a.log.Debug(fmt.Sprintf(format, args...))
}

func (a *GormLoggerAdapter) Warn(_ context.Context, format string, args ...any) {
	a.log.Warn(fmt.Sprintf(format, args...))
}

func (a *GormLoggerAdapter) Error(_ context.Context, format string, args ...any) {
	a.log.Error(fmt.Sprintf(format, args...))
}

// Trace reports one finished statement. A missing row is a normal answer
// for lookups by id.
func (a *GormLoggerAdapter) Trace(ctx context.Context, begin time.Time, fc func() (string, int64), err error) {
	took := time.Since(begin)
	sql, rows := fc()
	log := a.log.WithContext(ctx).With(
		String("sql", sql),
		Int64("rows", rows),
		Duration("took", took))

	if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
		log.Warn("statement failed", Error(err))
		return
	}
	if a.slow > 0 && took > a.slow {
		log.Warn("slow statement", Duration("threshold", a.slow))
		return
	}
	log.Trace("statement")
}
