package mqtt

import (
	"context"
	"fmt"
	"strings"
	"sync"

	paho "github.com/eclipse/paho.mqtt.golang"
	"go.uber.org/zap/zapcore"

	"github.com/oshokin/alarm-bridge/internal/logger"
)

// pahoLogger forwards the client library's internal log lines at a fixed level.
type pahoLogger struct {
	level zapcore.Level
}

func (l pahoLogger) Println(v ...any) {
	l.write(strings.TrimSuffix(fmt.Sprintln(v...), "\n"))
}

func (l pahoLogger) Printf(format string, v ...any) {
	l.write(fmt.Sprintf(format, v...))
}

func (l pahoLogger) write(msg string) {
	ctx := logger.WithName(context.Background(), "paho")

	switch l.level {
	case zapcore.ErrorLevel:
		logger.Error(ctx, msg)
	case zapcore.WarnLevel:
		logger.Warn(ctx, msg)
	default:
		logger.Debug(ctx, msg)
	}
}

//nolint:gochecknoglobals // The client library keeps its loggers in package variables.
var installLoggers sync.Once

func setupLoggers() {
	installLoggers.Do(func() {
		paho.ERROR = pahoLogger{level: zapcore.ErrorLevel}
		paho.CRITICAL = pahoLogger{level: zapcore.ErrorLevel}
		paho.WARN = pahoLogger{level: zapcore.WarnLevel}
	})
}
