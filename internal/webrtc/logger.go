package webrtc

import (
	"fmt"

	"github.com/pion/logging"

	"github.com/1ureka/udpsess/internal/util"
)

// loggerFactory routes pion's scoped loggers into the pterm logger. pion is
// chatty, so its debug output is demoted to trace and its info to debug.
type loggerFactory struct{}

func (loggerFactory) NewLogger(scope string) logging.LeveledLogger {
	return scopedLogger{prefix: "[pion/" + scope + "] "}
}

type scopedLogger struct {
	prefix string
}

func (l scopedLogger) Trace(msg string) { util.LogTrace("%s%s", l.prefix, msg) }
func (l scopedLogger) Tracef(format string, args ...interface{}) {
	l.Trace(fmt.Sprintf(format, args...))
}

func (l scopedLogger) Debug(msg string) { util.LogTrace("%s%s", l.prefix, msg) }
func (l scopedLogger) Debugf(format string, args ...interface{}) {
	l.Debug(fmt.Sprintf(format, args...))
}

func (l scopedLogger) Info(msg string) { util.LogDebug("%s%s", l.prefix, msg) }
func (l scopedLogger) Infof(format string, args ...interface{}) {
	l.Info(fmt.Sprintf(format, args...))
}

func (l scopedLogger) Warn(msg string) { util.LogWarning("%s%s", l.prefix, msg) }
func (l scopedLogger) Warnf(format string, args ...interface{}) {
	l.Warn(fmt.Sprintf(format, args...))
}

func (l scopedLogger) Error(msg string) { util.LogError("%s%s", l.prefix, msg) }
func (l scopedLogger) Errorf(format string, args ...interface{}) {
	l.Error(fmt.Sprintf(format, args...))
}
