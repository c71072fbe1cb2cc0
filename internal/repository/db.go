package repository

import (
	"context"
	_ "embed"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"  // Драйвер PostgreSQL
	_ "modernc.org/sqlite" // Встроенный драйвер SQLite

	"github.com/maynagashev/assetkeeper/internal/logger"
)

// Поддерживаемые драйверы БД.
const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

const (
	maxOpenConns    = 25              // Максимальное количество открытых соединений
	maxIdleConns    = 25              // Максимальное количество простаивающих соединений
	connMaxLifetime = 5 * time.Minute // Максимальное время жизни соединения
	connMaxIdleTime = 5 * time.Minute // Максимальное время простоя соединения
)

//go:embed schema.sql
var schemaSQL string

// Open подключается к БД выбранного драйвера.
func Open(ctx context.Context, driver, dsn string, log *logger.Logger) (*sqlx.DB, error) {
	switch driver {
	case DriverPostgres:
		return NewPostgresDB(ctx, dsn, log)
	case DriverSQLite:
		return NewSQLiteDB(ctx, dsn, log)
	default:
		return nil, fmt.Errorf("неизвестный драйвер БД %q", driver)
	}
}

// NewPostgresDB создает и возвращает новое подключение к PostgreSQL.
func NewPostgresDB(ctx context.Context, dsn string, log *logger.Logger) (*sqlx.DB, error) {
	log.Info().Str("driver", DriverPostgres).Msg("Подключение к PostgreSQL")

	db, err := sqlx.ConnectContext(ctx, DriverPostgres, dsn)
	if err != nil {
		return nil, fmt.Errorf("ошибка подключения к БД: %w", err)
	}

	db.SetMaxOpenConns(maxOpenConns)
	db.SetMaxIdleConns(maxIdleConns)
	db.SetConnMaxLifetime(connMaxLifetime)
	db.SetConnMaxIdleTime(connMaxIdleTime)

	log.Info().Msg("Подключение к PostgreSQL установлено")
	return db, nil
}

// NewSQLiteDB открывает встроенную БД SQLite (файл или ":memory:").
// SQLite допускает одного писателя, поэтому пул ограничен одним соединением.
func NewSQLiteDB(ctx context.Context, dsn string, log *logger.Logger) (*sqlx.DB, error) {
	log.Info().Str("driver", DriverSQLite).Str("dsn", dsn).Msg("Открытие SQLite")

	db, err := sqlx.ConnectContext(ctx, DriverSQLite, sqliteDSN(dsn))
	if err != nil {
		return nil, fmt.Errorf("ошибка подключения к БД: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetConnMaxLifetime(0)
	db.SetConnMaxIdleTime(0)

	if _, err = db.ExecContext(ctx, "PRAGMA foreign_keys = ON"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ошибка настройки SQLite: %w", err)
	}
	return db, nil
}

// sqliteDSN добавляет формат записи времени, сравнимый как строка.
func sqliteDSN(dsn string) string {
	if strings.Contains(dsn, "_time_format=") {
		return dsn
	}
	sep := "?"
	if strings.Contains(dsn, "?") {
		sep = "&"
	}
	return dsn + sep + "_time_format=sqlite"
}

// Migrate создаёт таблицы, если их ещё нет.
func Migrate(ctx context.Context, db *sqlx.DB) error {
	for _, stmt := range strings.Split(schemaSQL, ";") {
		stmt = strings.TrimSpace(stmt)
		if stmt == "" {
			continue
		}
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("ошибка применения схемы: %w", err)
		}
	}
	return nil
}
