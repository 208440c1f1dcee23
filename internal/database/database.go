// Package database opens the configured ledger store.
package database

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/MarkoPoloResearchLab/tokenledger/internal/observability"
	"github.com/MarkoPoloResearchLab/tokenledger/internal/store/gormstore"
	"github.com/MarkoPoloResearchLab/tokenledger/internal/store/pgstore"
	"github.com/MarkoPoloResearchLab/tokenledger/pkg/ledger"
	"github.com/glebarez/sqlite"
	"github.com/go-sql-driver/mysql"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
	gormmysql "gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
	DriverMySQL    = "mysql"

	EngineGORM = "gorm"
	EnginePGX  = "pgx"

	defaultSQLiteFile = "tokenledger.db"
)

var (
	ErrUnsupportedDriver = errors.New("unsupported database driver")
	ErrUnsupportedEngine = errors.New("unsupported database engine")
)

// Options selects and prepares a database.
type Options struct {
	URL         string
	Engine      string
	AutoMigrate bool
	Logger      *zap.Logger
}

// Handle owns an open ledger store and its underlying connections.
type Handle struct {
	Store   ledger.Store
	Driver  string
	Engine  string
	cleanup func() error
}

// Close releases the database connections.
func (handle *Handle) Close() error {
	if handle == nil || handle.cleanup == nil {
		return nil
	}
	return handle.cleanup()
}

// Open connects to the database named by options.URL and returns a ready store.
// SQLite databases are always migrated; other drivers only when AutoMigrate is set.
func Open(ctx context.Context, options Options) (*Handle, error) {
	driver, target, err := ResolveDriver(options.URL)
	if err != nil {
		return nil, err
	}
	engine := strings.ToLower(strings.TrimSpace(options.Engine))
	if engine == "" {
		engine = EngineGORM
	}
	switch engine {
	case EnginePGX:
		if driver != DriverPostgres {
			return nil, fmt.Errorf("%w: %s requires a postgres url", ErrUnsupportedEngine, EnginePGX)
		}
		return openPGX(ctx, target, options.AutoMigrate)
	case EngineGORM:
		return openGORM(ctx, driver, target, options.AutoMigrate || driver == DriverSQLite, options.Logger)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedEngine, engine)
	}
}

func openGORM(ctx context.Context, driver string, target string, migrate bool, zapLogger *zap.Logger) (*Handle, error) {
	config := &gorm.Config{Logger: observability.NewGormLogger(zapLogger)}
	var (
		db  *gorm.DB
		err error
	)
	switch driver {
	case DriverPostgres:
		db, err = gorm.Open(postgres.Open(target), config)
	case DriverMySQL:
		db, err = gorm.Open(gormmysql.Open(target), config)
	case DriverSQLite:
		db, err = gorm.Open(sqlite.Open(target), config)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedDriver, driver)
	}
	if err != nil {
		return nil, err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	if driver == DriverSQLite {
		// SQLite allows one writer; a single connection turns lock contention into queueing.
		sqlDB.SetMaxOpenConns(1)
	}
	if migrate {
		if err := gormstore.Migrate(ctx, db); err != nil {
			_ = sqlDB.Close()
			return nil, fmt.Errorf("auto migrate: %w", err)
		}
	}
	return &Handle{
		Store:   gormstore.New(db),
		Driver:  driver,
		Engine:  EngineGORM,
		cleanup: sqlDB.Close,
	}, nil
}

func openPGX(ctx context.Context, dsn string, migrate bool) (*Handle, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, err
	}
	store := pgstore.New(pool)
	if migrate {
		if err := store.EnsureSchema(ctx); err != nil {
			pool.Close()
			return nil, err
		}
	}
	return &Handle{
		Store:  store,
		Driver: DriverPostgres,
		Engine: EnginePGX,
		cleanup: func() error {
			pool.Close()
			return nil
		},
	}, nil
}

// ResolveDriver maps a database URL to a driver name and the DSN that driver expects.
// Anything without a known scheme is treated as a SQLite file path.
func ResolveDriver(dsn string) (string, string, error) {
	trimmed := strings.TrimSpace(dsn)
	switch {
	case strings.HasPrefix(trimmed, "postgres://"), strings.HasPrefix(trimmed, "postgresql://"):
		return DriverPostgres, trimmed, nil
	case strings.HasPrefix(trimmed, "mysql://"):
		converted, err := mysqlDSN(trimmed)
		return DriverMySQL, converted, err
	case strings.HasPrefix(trimmed, "sqlite://"):
		parsed, err := url.Parse(trimmed)
		if err != nil {
			return "", "", fmt.Errorf("parse sqlite url: %w", err)
		}
		path := parsed.Path
		if path == "" {
			path = parsed.Host
		}
		if path == "" || path == "/" {
			path = defaultSQLiteFile
		}
		sqlitePath, err := normalizeSQLitePath(path)
		return DriverSQLite, sqlitePath, err
	case trimmed == "":
		return "", "", fmt.Errorf("%w: empty database url", ErrUnsupportedDriver)
	case strings.Contains(trimmed, "://"):
		return "", "", fmt.Errorf("%w: %q", ErrUnsupportedDriver, strings.SplitN(trimmed, "://", 2)[0])
	}
	sqlitePath, err := normalizeSQLitePath(trimmed)
	return DriverSQLite, sqlitePath, err
}

func mysqlDSN(raw string) (string, error) {
	parsed, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("parse mysql url: %w", err)
	}
	config := mysql.NewConfig()
	config.Net = "tcp"
	config.Addr = parsed.Host
	config.DBName = strings.TrimPrefix(parsed.Path, "/")
	config.ParseTime = true
	config.Loc = time.UTC
	if parsed.User != nil {
		config.User = parsed.User.Username()
		config.Passwd, _ = parsed.User.Password()
	}
	if query := parsed.Query(); len(query) > 0 {
		config.Params = make(map[string]string, len(query))
		for key := range query {
			config.Params[key] = query.Get(key)
		}
	}
	return config.FormatDSN(), nil
}

func normalizeSQLitePath(path string) (string, error) {
	if path == ":memory:" {
		return path, nil
	}
	if strings.HasPrefix(path, "/") {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return "", err
		}
		return path, nil
	}
	abs := filepath.Join(".", path)
	if err := os.MkdirAll(filepath.Dir(abs), 0o755); err != nil {
		return "", err
	}
	return abs, nil
}
