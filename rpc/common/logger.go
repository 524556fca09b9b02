package common

import (
	"fmt"
	"github.com/lni/dragonboat/v4/logger"
	"io"
	"log"
	"os"
	"strings"
	"sync"
)

// --------------------------------------------------------------------------
// Custom Logger (implements dragonboats logger.ILogger)
// --------------------------------------------------------------------------

// dStorLogger prefixes every line with level and component, e.g.
//
//	2025/01/02 10:00:00 WARN  | cache           | Write-back of page 1/7 failed: ...
type dStorLogger struct {
	name   string
	mu     sync.RWMutex
	level  logger.LogLevel
	logger *log.Logger
}

func (l *dStorLogger) SetLevel(level logger.LogLevel) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.level = level
}

func (l *dStorLogger) enabled(level logger.LogLevel) bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.level >= level
}

func (l *dStorLogger) Debugf(format string, args ...interface{}) {
	if l.enabled(logger.DEBUG) {
		l.log("DEBUG", format, args...)
	}
}

func (l *dStorLogger) Infof(format string, args ...interface{}) {
	if l.enabled(logger.INFO) {
		l.log("INFO", format, args...)
	}
}

func (l *dStorLogger) Warningf(format string, args ...interface{}) {
	if l.enabled(logger.WARNING) {
		l.log("WARN", format, args...)
	}
}

func (l *dStorLogger) Errorf(format string, args ...interface{}) {
	if l.enabled(logger.ERROR) {
		l.log("ERROR", format, args...)
	}
}

func (l *dStorLogger) Panicf(format string, args ...interface{}) {
	msg := fmt.Sprintf(format, args...)
	l.log("PANIC", "%s", msg)
	panic(msg)
}

func (l *dStorLogger) log(levelStr string, format string, args ...interface{}) {
	l.logger.Printf("%-5s | %-15s | %s", levelStr, l.name, fmt.Sprintf(format, args...))
}

// --------------------------------------------------------------------------
// Logger Factory
// --------------------------------------------------------------------------

// LogOutput receives all log lines. It is stderr so that commands printing
// page contents to stdout stay pipeable.
var LogOutput io.Writer = os.Stderr

// CreateLogger implements dragonboat's logger.Factory
func CreateLogger(pkgName string) logger.ILogger {
	return &dStorLogger{
		name:   pkgName,
		level:  logger.INFO,
		logger: log.New(LogOutput, "", log.Ldate|log.Ltime),
	}
}

// --------------------------------------------------------------------------
// Helper
// --------------------------------------------------------------------------

// loggerNames lists the component loggers, one per package that logs
var loggerNames = []string{
	"pool",
	"cache",
	"storage",
	"rpc",
	"transport/rpc",
	"transport/http",
	"server",
}

// ParseLogLevel converts a string level to logger.LogLevel
func ParseLogLevel(level string) (logger.LogLevel, error) {
	switch strings.ToLower(level) {
	case "debug":
		return logger.DEBUG, nil
	case "info":
		return logger.INFO, nil
	case "warning", "warn":
		return logger.WARNING, nil
	case "error":
		return logger.ERROR, nil
	default:
		return logger.INFO, fmt.Errorf("invalid log level: %s. must be one of debug, info, warn, error", level)
	}
}

// --------------------------------------------------------------------------
// Logger initialization
// --------------------------------------------------------------------------

// InitLoggers installs the custom format and sets the level of all component
// loggers. An invalid level leaves the loggers untouched.
func InitLoggers(level string) error {
	lvl, err := ParseLogLevel(level)
	if err != nil {
		return err
	}

	logger.SetLoggerFactory(CreateLogger)

	for _, name := range loggerNames {
		logger.GetLogger(name).SetLevel(lvl)
	}
	return nil
}
