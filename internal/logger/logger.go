package logger

import (
	"io"
	"os"
	"strings"
	"time"

	"delivery-tracking/internal/config"

	"github.com/sirupsen/logrus"
)

// Logger представляет логгер приложения поверх logrus.
// Поля добавляются через WithField/WithFields/WithError встроенного *logrus.Logger.
type Logger struct {
	*logrus.Logger
	file *os.File
}

// New создает логгер, пишущий в stdout и, если задан LOG_FILE, в файл
func New(cfg *config.LoggerConfig) *Logger {
	return NewWithOutput(cfg, os.Stdout)
}

// NewWithOutput создает логгер с явным основным выводом
func NewWithOutput(cfg *config.LoggerConfig, out io.Writer) *Logger {
	l := &Logger{Logger: logrus.New()}
	l.SetFormatter(formatter(cfg.Format))

	var file *os.File
	var fileErr error
	if cfg.File != "" {
		file, fileErr = os.OpenFile(cfg.File, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	}
	if file != nil {
		l.file = file
		l.SetOutput(io.MultiWriter(out, file))
	} else {
		l.SetOutput(out)
	}

	level, levelErr := logrus.ParseLevel(strings.ToLower(strings.TrimSpace(cfg.Level)))
	if levelErr != nil {
		level = logrus.InfoLevel
	}
	l.SetLevel(level)

	// предупреждения пишутся уже настроенным логгером
	if levelErr != nil && cfg.Level != "" {
		l.WithField("level", cfg.Level).Warn("Unknown log level, using info")
	}
	if fileErr != nil {
		l.WithError(fileErr).WithField("file", cfg.File).Error("Failed to open log file, using stdout only")
	}
	return l
}

func formatter(format string) logrus.Formatter {
	if strings.EqualFold(format, "json") {
		return &logrus.JSONFormatter{TimestampFormat: time.RFC3339Nano}
	}
	return &logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: "2006-01-02 15:04:05.000",
	}
}

// NewDiscard создает логгер без вывода (для тестов и утилит)
func NewDiscard() *Logger {
	l := &Logger{Logger: logrus.New()}
	l.SetOutput(io.Discard)
	return l
}

// Component возвращает запись с именем подсистемы
func (l *Logger) Component(name string) *logrus.Entry {
	return l.WithField("component", name)
}

// Close закрывает файл лога, если он открыт
func (l *Logger) Close() error {
	if l.file == nil {
		return nil
	}
	err := l.file.Close()
	l.file = nil
	l.SetOutput(os.Stdout)
	return err
}
