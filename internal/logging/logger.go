package logging

import (
	"io"
	"time"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
)

// New returns a logfmt logger writing to w that drops records below lvl.
func New(w io.Writer, lvl string) log.Logger {
	logger := log.NewLogfmtLogger(log.NewSyncWriter(w))
	logger = level.NewFilter(logger, filter(lvl))
	logger = log.With(logger, "ts", log.DefaultTimestampUTC, "caller", log.DefaultCaller)
	return logger
}

func filter(lvl string) level.Option {
	switch lvl {
	case "debug":
		return level.AllowDebug()
	case "warn":
		return level.AllowWarn()
	case "error":
		return level.AllowError()
	default:
		return level.AllowInfo()
	}
}

// Component tags every record from logger with the component name.
func Component(logger log.Logger, name string) log.Logger {
	return log.WithPrefix(logger, "component", name)
}

// Probe logs one outbound metadata probe.
func Probe(logger log.Logger, link, reason string, statusCode int, took time.Duration) {
	if reason == "" {
		level.Debug(logger).Log("msg", "metadata probe succeeded", "link", link,
			"status", statusCode, "duration_ms", took.Milliseconds())
		return
	}
	level.Info(logger).Log("msg", "metadata probe failed", "link", link, "reason", reason,
		"status", statusCode, "duration_ms", took.Milliseconds())
}

// Error logs an error from a named operation.
func Error(logger log.Logger, operation string, err error, keyvals ...interface{}) {
	kv := append([]interface{}{"msg", operation + " failed", "err", err}, keyvals...)
	level.Error(logger).Log(kv...)
}
