package logger

import (
	"context"
	"os"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	// global is the process-wide logger returned when a context carries none.
	//nolint:gochecknoglobals // Every adapter and engine logs through it.
	global *zap.SugaredLogger
	// level is shared by global and every logger derived from it.
	//nolint:gochecknoglobals // The CLI flag and the settings file both change it at runtime.
	level = zap.NewAtomicLevelAt(zap.InfoLevel)
)

func init() { //nolint:gochecknoinits // Packages log during their own setup.
	global = New(level)
}

// New builds a console logger writing to stdout.
// A nil level means the shared atomic level, so SetLevel keeps affecting it.
func New(enabler zapcore.LevelEnabler, options ...zap.Option) *zap.SugaredLogger {
	if enabler == nil {
		enabler = level
	}

	//nolint:exhaustruct // Remaining encoder keys are left empty on purpose.
	encoder := zapcore.NewConsoleEncoder(zapcore.EncoderConfig{
		TimeKey:          "time",
		MessageKey:       "message",
		LevelKey:         "level",
		NameKey:          "logger",
		CallerKey:        "caller",
		StacktraceKey:    "stacktrace",
		LineEnding:       zapcore.DefaultLineEnding,
		EncodeLevel:      zapcore.CapitalColorLevelEncoder,
		EncodeTime:       zapcore.ISO8601TimeEncoder,
		EncodeDuration:   zapcore.StringDurationEncoder,
		EncodeCaller:     zapcore.ShortCallerEncoder,
		EncodeName:       zapcore.FullNameEncoder,
		ConsoleSeparator: ", ",
	})

	return zap.New(zapcore.NewCore(encoder, zapcore.AddSync(os.Stdout), enabler), options...).Sugar()
}

// ParseLogLevel maps a level name from the CLI or the settings file.
// "warning" is accepted next to "warn".
func ParseLogLevel(s string) (zapcore.Level, bool) {
	switch name := strings.ToLower(strings.TrimSpace(s)); name {
	case "warning":
		return zapcore.WarnLevel, true
	case "debug", "info", "warn", "error", "fatal":
		parsed, err := zapcore.ParseLevel(name)

		return parsed, err == nil
	default:
		return zapcore.InfoLevel, false
	}
}

// SetLevel changes the level of every logger sharing the atomic level.
func SetLevel(l zapcore.Level) {
	level.SetLevel(l)
}

// SetLevelFromString parses and applies a textual level.
// Unknown values leave the current level untouched and return false.
func SetLevelFromString(s string) bool {
	l, ok := ParseLogLevel(s)
	if ok {
		SetLevel(l)
	}

	return ok
}

// Sync flushes buffered entries. Stdout sync errors are expected on terminals.
func Sync() {
	_ = global.Sync()
}

// Debug writes a debug message through the context logger.
func Debug(ctx context.Context, args ...any) {
	FromContext(ctx).Debug(args...)
}

// DebugKV writes a debug message with key-value pairs.
func DebugKV(ctx context.Context, message string, kvs ...any) {
	FromContext(ctx).Debugw(message, kvs...)
}

// Info writes an info message through the context logger.
func Info(ctx context.Context, args ...any) {
	FromContext(ctx).Info(args...)
}

// InfoKV writes an info message with key-value pairs.
func InfoKV(ctx context.Context, message string, kvs ...any) {
	FromContext(ctx).Infow(message, kvs...)
}

// Warn writes a warning through the context logger.
func Warn(ctx context.Context, args ...any) {
	FromContext(ctx).Warn(args...)
}

// WarnKV writes a warning with key-value pairs.
func WarnKV(ctx context.Context, message string, kvs ...any) {
	FromContext(ctx).Warnw(message, kvs...)
}

// Error writes an error message through the context logger.
func Error(ctx context.Context, args ...any) {
	FromContext(ctx).Error(args...)
}

// ErrorKV writes an error message with key-value pairs.
func ErrorKV(ctx context.Context, message string, kvs ...any) {
	FromContext(ctx).Errorw(message, kvs...)
}
