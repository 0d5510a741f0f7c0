package logging

import (
	"io"
	"os"
	"path/filepath"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/rexliu/biosdk/pkg/config"
)

// Logger wraps a zap sugared logger. Printf keeps it compatible with the
// small logger interfaces used across packages.
type Logger struct {
	*zap.SugaredLogger
	name    string
	level   zap.AtomicLevel
	console zapcore.WriteSyncer
}

// New returns a logger writing to stdout until Configure adds a file sink.
func New(name string) *Logger {
	return NewWithWriter(name, os.Stdout)
}

// NewWithWriter is New with a different console sink. Processes that own
// stdout, such as the native-messaging bridge, log to stderr.
func NewWithWriter(name string, w io.Writer) *Logger {
	level := zap.NewAtomicLevelAt(zapcore.InfoLevel)
	l := &Logger{name: name, level: level, console: zapcore.AddSync(w)}
	l.SugaredLogger = l.build(l.console)
	return l
}

// Nop returns a logger that discards everything.
func Nop() *Logger {
	return &Logger{SugaredLogger: zap.NewNop().Sugar(), level: zap.NewAtomicLevel(), console: zapcore.AddSync(io.Discard)}
}

// Configure applies logging settings from config.
func (l *Logger) Configure(cfg config.LoggingConfig) error {
	if l == nil || l.SugaredLogger == nil {
		return nil
	}
	if cfg.Level != "" {
		if err := l.level.UnmarshalText([]byte(cfg.Level)); err != nil {
			return err
		}
	}
	if cfg.FilePath == "" {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(cfg.FilePath), 0o700); err != nil {
		return err
	}
	file := &lumberjack.Logger{
		Filename:   cfg.FilePath,
		MaxSize:    cfg.FileMaxSize,
		MaxBackups: cfg.FileBackups,
	}
	l.SugaredLogger = l.build(zapcore.NewMultiWriteSyncer(l.console, zapcore.AddSync(file)))
	return nil
}

// Printf logs at info level.
func (l *Logger) Printf(format string, v ...any) {
	l.Infof(format, v...)
}

// Println logs at info level.
func (l *Logger) Println(v ...any) {
	l.Info(v...)
}

func (l *Logger) build(out zapcore.WriteSyncer) *zap.SugaredLogger {
	encCfg := zap.NewProductionEncoderConfig()
	encCfg.EncodeTime = zapcore.ISO8601TimeEncoder
	core := zapcore.NewCore(zapcore.NewConsoleEncoder(encCfg), out, l.level)
	return zap.New(core, zap.AddCaller()).Named(l.name).Sugar()
}
