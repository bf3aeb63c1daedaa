package sqldb

import (
	"context"
	"database/sql"
	"database/sql/driver"

	sqldblogger "github.com/simukti/sqldb-logger"
	"go.uber.org/zap"
)

// OpenLogged opens a handle whose every query, transaction verb included,
// is logged through lg. Useful for watching savepoint traffic in development.
func OpenLogged(drv driver.Driver, dsn string, lg *zap.Logger) *sql.DB {
	return sqldblogger.OpenDriver(dsn, drv, zapAdapter{lg: lg})
}

type zapAdapter struct {
	lg *zap.Logger
}

func (a zapAdapter) Log(ctx context.Context, level sqldblogger.Level, msg string, data map[string]interface{}) {
	fields := make([]zap.Field, 0, len(data))
	for k, v := range data {
		fields = append(fields, zap.Any(k, v))
	}
	switch level {
	case sqldblogger.LevelError:
		a.lg.Error(msg, fields...)
	case sqldblogger.LevelInfo:
		a.lg.Info(msg, fields...)
	default:
		a.lg.Debug(msg, fields...)
	}
}
