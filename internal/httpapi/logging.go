package httpapi

import (
	"net/http"
	"os"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// zlog is the structured logger of the HTTP layer. Defaults to the global
// zerolog logger.
var zlog *zerolog.Logger

// SetLogger installs a structured logger used by the HTTP layer.
func SetLogger(l zerolog.Logger) { zlog = &l }

func logger() *zerolog.Logger {
	if zlog != nil {
		return zlog
	}
	return &log.Logger
}

// LogLevel controls per-request logging behavior.
type LogLevel int

const (
	LevelOff LogLevel = iota
	LevelError
	LevelInfo
	LevelDebug
)

func parseLevel(s string) LogLevel {
	switch s {
	case "off", "":
		return LevelOff
	case "error":
		return LevelError
	case "info":
		return LevelInfo
	case "debug":
		return LevelDebug
	default:
		return LevelInfo
	}
}

// defaultLogLevel is read once from SHARDD_REQUEST_LOG.
var defaultLogLevel = parseLevel(os.Getenv("SHARDD_REQUEST_LOG"))

func requestLogLevel(r *http.Request) LogLevel {
	if v := r.URL.Query().Get("log"); v != "" {
		if v == "1" {
			return LevelDebug
		}
		return parseLevel(v)
	}
	if v := r.Header.Get("X-Log-Level"); v != "" {
		return parseLevel(v)
	}
	return defaultLogLevel
}

// opLog carries the per-request logging decision of one handler.
type opLog struct {
	op        string
	lvl       LogLevel
	start     time.Time
	httpID    string
	requestID string
}

func startOp(r *http.Request, op string) *opLog {
	l := &opLog{op: op, lvl: requestLogLevel(r), start: time.Now(), httpID: middleware.GetReqID(r.Context())}
	if l.lvl >= LevelInfo {
		l.event(logger().Info()).Str("path", r.URL.Path).Msg(op + " start")
	}
	return l
}

func (l *opLog) event(ev *zerolog.Event) *zerolog.Event {
	if l.httpID != "" {
		ev = ev.Str("http_request_id", l.httpID)
	}
	if l.requestID != "" {
		ev = ev.Str("request_id", l.requestID)
	}
	return ev
}

// end logs the outcome. Errors are logged from LevelError, successes
// from LevelInfo.
func (l *opLog) end(status int, err error) {
	switch {
	case err != nil && l.lvl >= LevelError:
		l.event(logger().Info()).Int("status", status).Dur("dur", time.Since(l.start)).Err(err).Msg(l.op + " end")
	case err == nil && l.lvl >= LevelInfo:
		l.event(logger().Info()).Int("status", status).Dur("dur", time.Since(l.start)).Msg(l.op + " end")
	}
}

// debug logs payload details at LevelDebug.
func (l *opLog) debug(fn func(*zerolog.Event) *zerolog.Event) {
	if l.lvl >= LevelDebug {
		fn(l.event(logger().Debug())).Msg(l.op + " detail")
	}
}
