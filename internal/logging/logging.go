// Package logging configures the process-wide structured logger.
package logging

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
)

// Log is the application-wide logger. Every component logs through it
// instead of constructing its own.
var Log = logrus.New()

type contextHook struct{}

func (contextHook) Levels() []logrus.Level { return logrus.AllLevels }

func packageFromFunc(fn string) string {
	if i := strings.LastIndex(fn, "/"); i >= 0 {
		fn = fn[i+1:]
	}
	if i := strings.Index(fn, "."); i >= 0 {
		return fn[:i]
	}
	return fn
}

func (contextHook) Fire(e *logrus.Entry) error {
	if e.Caller == nil {
		return nil
	}
	e.Data["package"] = packageFromFunc(e.Caller.Function)
	e.Data["file"] = fmt.Sprintf("%s:%d", filepath.Base(e.Caller.File), e.Caller.Line)
	return nil
}

func init() {
	Log.SetReportCaller(true)
	Log.SetFormatter(&logrus.JSONFormatter{
		TimestampFormat: time.RFC3339Nano,
		CallerPrettyfier: func(f *runtime.Frame) (string, string) {
			return filepath.Base(f.Function), fmt.Sprintf("%s:%d", filepath.Base(f.File), f.Line)
		},
	})
	Log.AddHook(contextHook{})

	logPath := os.Getenv("LICITA_LOG_FILE")
	if logPath == "" {
		logPath = "licita.log"
	}
	if logFile, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644); err == nil {
		Log.SetOutput(io.MultiWriter(os.Stdout, logFile))
	} else {
		Log.SetOutput(os.Stdout)
	}

	levelStr := os.Getenv("LOG_LEVEL")
	if levelStr == "" {
		levelStr = "info"
	}
	if lvl, err := logrus.ParseLevel(levelStr); err == nil {
		Log.SetLevel(lvl)
	} else {
		Log.SetLevel(logrus.InfoLevel)
	}
}

// WithComponent returns an entry tagged with the calling component's name,
// the convention used throughout the codebase instead of ad-hoc prefixes.
func WithComponent(name string) *logrus.Entry {
	return Log.WithField("component", name)
}
