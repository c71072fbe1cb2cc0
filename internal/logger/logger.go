// Package logger - структурированное логирование на zerolog.
package logger

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

// Logger оборачивает zerolog.Logger и выдаёт логгеры компонентов.
type Logger struct {
	zlog zerolog.Logger
}

// Config - настройки логгера.
type Config struct {
	Level      string // debug, info, warn, error
	Pretty     bool   // консольный вывод для разработки
	Output     io.Writer
	WithCaller bool
}

// New создаёт логгер. Уровень задаётся на экземпляре, глобальное состояние zerolog не трогается.
func New(cfg Config) *Logger {
	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil || cfg.Level == "" {
		level = zerolog.InfoLevel
	}

	output := cfg.Output
	if output == nil {
		output = os.Stdout
	}
	if cfg.Pretty {
		output = zerolog.ConsoleWriter{Out: output, TimeFormat: time.RFC3339}
	}

	zlog := zerolog.New(output).
		Level(level).
		With().
		Timestamp().
		Str("service", "assetkeeper").
		Logger()
	if cfg.WithCaller {
		zlog = zlog.With().Caller().Logger()
	}
	return &Logger{zlog: zlog}
}

// Nop возвращает логгер, который ничего не пишет.
func Nop() *Logger {
	return &Logger{zlog: zerolog.Nop()}
}

// Zerolog возвращает исходный zerolog.Logger.
func (l *Logger) Zerolog() *zerolog.Logger {
	return &l.zlog
}

// Component возвращает логгер компонента.
func (l *Logger) Component(name string) *Logger {
	return &Logger{zlog: l.zlog.With().Str("component", name).Logger()}
}

// DBLogger возвращает логгер операций с БД.
func (l *Logger) DBLogger(operation string) *Logger {
	return &Logger{
		zlog: l.zlog.With().
			Str("component", "database").
			Str("operation", operation).
			Logger(),
	}
}

// Debug начинает событие уровня debug.
func (l *Logger) Debug() *zerolog.Event { return l.zlog.Debug() }

// Info начинает событие уровня info.
func (l *Logger) Info() *zerolog.Event { return l.zlog.Info() }

// Warn начинает событие уровня warn.
func (l *Logger) Warn() *zerolog.Event { return l.zlog.Warn() }

// Error начинает событие уровня error.
func (l *Logger) Error() *zerolog.Event { return l.zlog.Error() }

// LogDBOperation пишет итог операции с БД.
func (l *Logger) LogDBOperation(operation string, duration time.Duration, recordCount int, err error) {
	if err != nil {
		l.zlog.Error().
			Str("component", "database").
			Str("operation", operation).
			Dur("duration_ms", duration).
			Err(err).
			Msg("Операция с БД завершилась ошибкой")
		return
	}
	l.zlog.Debug().
		Str("component", "database").
		Str("operation", operation).
		Dur("duration_ms", duration).
		Int("record_count", recordCount).
		Msg("Операция с БД выполнена")
}

// LogServerStart пишет событие запуска сервера.
func (l *Logger) LogServerStart(addr, storeDriver string) {
	l.zlog.Info().
		Str("event", "server_start").
		Str("addr", addr).
		Str("store", storeDriver).
		Msg("Запуск сервера AssetKeeper")
}

// LogServerShutdown пишет событие остановки сервера.
func (l *Logger) LogServerShutdown() {
	l.zlog.Info().
		Str("event", "server_shutdown").
		Msg("Остановка сервера AssetKeeper")
}
