package main

import (
	"errors"
	"flag"
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"

	"github.com/maynagashev/assetkeeper/internal/repository"
)

// Хранилища содержимого.
const (
	blobMinio  = "minio"
	blobMemory = "memory"
)

// config хранит конфигурацию сервера. Значения по умолчанию и переменные окружения
// задаются тегами, флаги командной строки имеют приоритет.
type config struct {
	Port     string `env:"SERVER_PORT" envDefault:"8443"`
	CertFile string `env:"TLS_CERT_FILE"`
	KeyFile  string `env:"TLS_KEY_FILE"`

	StoreDriver string `env:"STORE_DRIVER" envDefault:"sqlite"`
	DatabaseDSN string `env:"DATABASE_DSN" envDefault:"assetkeeper.db"`

	BlobBackend    string `env:"BLOB_BACKEND" envDefault:"memory"`
	MinioEndpoint  string `env:"MINIO_ENDPOINT" envDefault:"localhost:9000"`
	MinioUser      string `env:"MINIO_USER" envDefault:"minioadmin"`
	MinioPassword  string `env:"MINIO_PASSWORD" envDefault:"minioadmin"` //nolint:gosec // имя переменной окружения
	MinioBucket    string `env:"MINIO_BUCKET" envDefault:"assetkeeper-content"`
	MinioUseSSL    bool   `env:"MINIO_USE_SSL"`
	HashAlgorithm  string `env:"HASH_ALGORITHM" envDefault:"sha256"`
	MaxSceneBytes  int64  `env:"MAX_SCENE_BYTES" envDefault:"8388608"`
	MaxBufferBytes int64  `env:"MAX_BUFFER_BYTES" envDefault:"268435456"`

	JWTSecret string `env:"JWT_SECRET"`

	LogLevel  string `env:"LOG_LEVEL" envDefault:"info"`
	LogPretty bool   `env:"LOG_PRETTY"`

	RequireApproval      bool          `env:"REQUIRE_APPROVAL"`
	DefaultApprovers     []string      `env:"DEFAULT_APPROVERS" envSeparator:","`
	MinApprovers         int           `env:"MIN_APPROVERS" envDefault:"1"`
	ApprovalTimeout      time.Duration `env:"APPROVAL_TIMEOUT" envDefault:"168h"`
	AutoApproveAfter     time.Duration `env:"AUTO_APPROVE_AFTER"`
	ProtectDefaultBranch bool          `env:"PROTECT_DEFAULT_BRANCH"`
	SweepInterval        time.Duration `env:"SWEEP_INTERVAL" envDefault:"2m"`

	Workers           int   `env:"WORKERS" envDefault:"4"`
	SnapshotCacheSize int   `env:"SNAPSHOT_CACHE_SIZE" envDefault:"256"`
	DiffCacheMaxCost  int64 `env:"DIFF_CACHE_MAX_COST" envDefault:"1000000"`
}

// parseFlags читает окружение, затем флаги из args и проверяет результат.
func parseFlags(args []string) (*config, error) {
	cfg := &config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("ошибка чтения переменных окружения: %w", err)
	}

	fs := flag.NewFlagSet("assetkeeper", flag.ContinueOnError)
	fs.StringVar(&cfg.Port, "port", cfg.Port, "Порт HTTP(S)-сервера (env: SERVER_PORT)")
	fs.StringVar(&cfg.CertFile, "cert-file", cfg.CertFile, "Путь к файлу TLS-сертификата (env: TLS_CERT_FILE)")
	fs.StringVar(&cfg.KeyFile, "key-file", cfg.KeyFile, "Путь к файлу TLS-ключа (env: TLS_KEY_FILE)")
	fs.StringVar(&cfg.StoreDriver, "store-driver", cfg.StoreDriver, "Драйвер БД: postgres или sqlite (env: STORE_DRIVER)")
	fs.StringVar(&cfg.DatabaseDSN, "database-dsn", cfg.DatabaseDSN, "Строка подключения к БД (env: DATABASE_DSN)")
	fs.StringVar(&cfg.BlobBackend, "blob-backend", cfg.BlobBackend, "Хранилище содержимого: minio или memory (env: BLOB_BACKEND)")
	fs.StringVar(&cfg.JWTSecret, "jwt-secret", cfg.JWTSecret, "Ключ проверки JWT (env: JWT_SECRET)")
	fs.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "Уровень логирования (env: LOG_LEVEL)")
	fs.BoolVar(&cfg.RequireApproval, "require-approval", cfg.RequireApproval,
		"Требовать согласование версий и слияний (env: REQUIRE_APPROVAL)")
	fs.DurationVar(&cfg.SweepInterval, "sweep-interval", cfg.SweepInterval, "Период обхода согласований (env: SWEEP_INTERVAL)")
	fs.IntVar(&cfg.Workers, "workers", cfg.Workers, "Размер пула вычислений diff и слияний (env: WORKERS)")
	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *config) validate() error {
	if c.JWTSecret == "" {
		return errors.New("не указан ключ проверки JWT (--jwt-secret или JWT_SECRET)")
	}
	if (c.CertFile == "") != (c.KeyFile == "") {
		return errors.New("сертификат и ключ TLS задаются вместе (--cert-file и --key-file)")
	}
	switch c.StoreDriver {
	case repository.DriverPostgres, repository.DriverSQLite:
	default:
		return fmt.Errorf("неизвестный драйвер БД %q", c.StoreDriver)
	}
	if c.DatabaseDSN == "" {
		return errors.New("не указана строка подключения к БД (--database-dsn или DATABASE_DSN)")
	}
	switch c.BlobBackend {
	case blobMinio, blobMemory:
	default:
		return fmt.Errorf("неизвестное хранилище содержимого %q", c.BlobBackend)
	}
	if c.RequireApproval && len(c.DefaultApprovers) == 0 {
		return errors.New("при REQUIRE_APPROVAL нужен список DEFAULT_APPROVERS")
	}
	return nil
}

// tlsEnabled сообщает, что сервер слушает HTTPS.
func (c *config) tlsEnabled() bool {
	return c.CertFile != "" && c.KeyFile != ""
}
