package db

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/glebarez/sqlite"
	"go.uber.org/zap"
	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormLogger "gorm.io/gorm/logger"
	"gorm.io/gorm/utils"

	"github.com/iceymoss/go-discovery/pkg/config"
	zLog "github.com/iceymoss/go-discovery/pkg/logger"
)

const (
	DriverMySQL    = "mysql"
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

// Open 按配置打开数据库连接
func Open(cfg config.DatabaseConfig) (*gorm.DB, error) {
	dialector, err := dialectorFor(cfg)
	if err != nil {
		return nil, err
	}

	dbConn, err := gorm.Open(dialector, &gorm.Config{
		Logger: &ZapGormLogger{
			Logger: zLog.Logger,
			Config: gormLogger.Config{
				LogLevel:                  gormLevel(cfg.LogLevel),
				IgnoreRecordNotFoundError: true,
				SlowThreshold:             slowThreshold(cfg.SlowSQL),
			},
		},
		// 唯一约束冲突统一翻译为 gorm.ErrDuplicatedKey
		TranslateError: true,
	})
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", cfg.Driver, err)
	}

	pool, err := dbConn.DB()
	if err != nil {
		return nil, fmt.Errorf("db pool: %w", err)
	}
	maxOpen, maxIdle := cfg.MaxOpenConns, cfg.MaxIdleConns
	if maxOpen <= 0 {
		maxOpen = 30
	}
	if maxIdle <= 0 {
		maxIdle = 15
	}
	if cfg.Driver == DriverSQLite && isMemoryDSN(cfg.DSN) {
		// 内存库每个连接都是独立的库
		maxOpen, maxIdle = 1, 1
	}
	pool.SetMaxOpenConns(maxOpen)
	pool.SetMaxIdleConns(maxIdle)

	zLog.Debug("database connected", zap.String("driver", cfg.Driver), zap.String("db", cfg.DbName))
	if cfg.LogLevel == "debug" {
		return dbConn.Debug(), nil
	}
	return dbConn, nil
}

// OpenSQLite 打开 sqlite 库并完成建表，path 为 ":memory:" 时使用内存库
func OpenSQLite(path string) (*gorm.DB, error) {
	dbConn, err := Open(config.DatabaseConfig{Driver: DriverSQLite, DSN: path, LogLevel: "error"})
	if err != nil {
		return nil, err
	}
	if err := Migrate(dbConn); err != nil {
		return nil, err
	}
	return dbConn, nil
}

func dialectorFor(cfg config.DatabaseConfig) (gorm.Dialector, error) {
	switch strings.ToLower(cfg.Driver) {
	case DriverMySQL, "":
		dsn := cfg.DSN
		if dsn == "" {
			dsn = fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?charset=utf8mb4&parseTime=True&loc=Local",
				cfg.User, cfg.Password, cfg.Host, cfg.Port, cfg.DbName)
		}
		return mysql.Open(dsn), nil
	case DriverPostgres:
		dsn := cfg.DSN
		if dsn == "" {
			dsn = fmt.Sprintf("host=%s user=%s password=%s dbname=%s port=%d sslmode=disable",
				cfg.Host, cfg.User, cfg.Password, cfg.DbName, cfg.Port)
		}
		return postgres.Open(dsn), nil
	case DriverSQLite:
		return sqlite.Open(sqliteDSN(cfg.DSN)), nil
	default:
		return nil, fmt.Errorf("unsupported database driver %q", cfg.Driver)
	}
}

func sqliteDSN(path string) string {
	const pragmas = "_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)"
	if path == "" || isMemoryDSN(path) {
		return "file::memory:?" + pragmas
	}
	if strings.Contains(path, "?") {
		return path + "&" + pragmas
	}
	return "file:" + path + "?" + pragmas
}

func isMemoryDSN(path string) bool {
	return path == "" || strings.Contains(path, ":memory:")
}

func gormLevel(level string) gormLogger.LogLevel {
	switch level {
	case "silent":
		return gormLogger.Silent
	case "error", "fatal", "panic", "dpanic":
		return gormLogger.Error
	case "warning", "warn":
		return gormLogger.Warn
	case "debug", "info":
		return gormLogger.Info
	default:
		return gormLogger.Warn
	}
}

func slowThreshold(d time.Duration) time.Duration {
	if d <= 0 {
		return 500 * time.Millisecond
	}
	return d
}

// ZapGormLogger 把 gorm 日志输出到 zap
type ZapGormLogger struct {
	Logger *zap.Logger
	Config gormLogger.Config
}

func (l *ZapGormLogger) LogMode(level gormLogger.LogLevel) gormLogger.Interface {
	newlogger := *l
	newlogger.Config.LogLevel = level
	return &newlogger
}

func (l *ZapGormLogger) Info(ctx context.Context, msg string, data ...interface{}) {
	if l.Config.LogLevel >= gormLogger.Info {
		l.Logger.Info(fmt.Sprintf(msg, data...), zap.String("source", utils.FileWithLineNum()), zap.String("agg_type", "gorm"))
	}
}

func (l *ZapGormLogger) Warn(ctx context.Context, msg string, data ...interface{}) {
	if l.Config.LogLevel >= gormLogger.Warn {
		l.Logger.Warn(fmt.Sprintf(msg, data...), zap.String("source", utils.FileWithLineNum()), zap.String("agg_type", "gorm"))
	}
}

func (l *ZapGormLogger) Error(ctx context.Context, msg string, data ...interface{}) {
	if l.Config.LogLevel >= gormLogger.Error {
		l.Logger.Error(fmt.Sprintf(msg, data...), zap.String("source", utils.FileWithLineNum()), zap.String("agg_type", "gorm"))
	}
}

func (l *ZapGormLogger) Trace(ctx context.Context, begin time.Time, fc func() (string, int64), err error) {
	if l.Config.LogLevel <= gormLogger.Silent {
		return
	}
	elapsed := time.Since(begin)
	switch {
	case err != nil && l.Config.LogLevel >= gormLogger.Error &&
		!errors.Is(err, gormLogger.ErrRecordNotFound) && !errors.Is(err, gorm.ErrDuplicatedKey):
		sql, rows := fc()
		l.Logger.Error(err.Error(),
			zap.String("source", utils.FileWithLineNum()),
			zap.Float64("query_time", float64(elapsed.Nanoseconds())/1e6),
			zap.Int64("rows", rows),
			zap.String("sql", sql),
			zap.String("agg_type", "gorm"),
		)
	case elapsed > l.Config.SlowThreshold && l.Config.SlowThreshold != 0 && l.Config.LogLevel >= gormLogger.Warn:
		sql, rows := fc()
		l.Logger.Warn(fmt.Sprintf("SLOW SQL >= %v", l.Config.SlowThreshold),
			zap.String("source", utils.FileWithLineNum()),
			zap.Float64("query_time", float64(elapsed.Nanoseconds())/1e6),
			zap.Int64("rows", rows),
			zap.String("sql", sql),
			zap.String("agg_type", "gorm"),
		)
	case l.Config.LogLevel == gormLogger.Info:
		sql, rows := fc()
		l.Logger.Debug("sql log",
			zap.String("source", utils.FileWithLineNum()),
			zap.Float64("query_time", float64(elapsed.Nanoseconds())/1e6),
			zap.Int64("rows", rows),
			zap.String("sql", sql),
			zap.String("agg_type", "gorm"),
		)
	}
}

// IsDuplicateKey 判断是否唯一约束冲突，兼容未开启错误翻译的驱动
func IsDuplicateKey(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "unique constraint failed") ||
		strings.Contains(msg, "duplicate key value") ||
		strings.Contains(msg, "duplicate entry")
}
