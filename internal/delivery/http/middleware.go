package http

import (
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"
)

// clientIPHeaders are checked in order; the first valid address wins.
var clientIPHeaders = []string{
	"X-Client-IP",
	"X-Forwarded-For",
	"CF-Connecting-IP",
	"Fastly-Client-IP",
	"True-Client-IP",
	"X-Real-IP",
	"X-Cluster-Client-IP",
	"X-Forwarded",
	"Forwarded-For",
}

// RealIP rewrites r.RemoteAddr from proxy headers. Unlike middleware.RealIP it
// trims padding and walks every entry of a comma-separated list.
func RealIP(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if ip := forwardedIP(r.Header); ip != "" {
			r.RemoteAddr = ip
		}
		next.ServeHTTP(w, r)
	})
}

func forwardedIP(h http.Header) string {
	for _, name := range clientIPHeaders {
		for _, part := range strings.Split(h.Get(name), ",") {
			if ip := parseIP(part); ip != "" {
				return ip
			}
		}
	}
	return ""
}

func parseIP(value string) string {
	value = strings.TrimSpace(value)
	if value == "" {
		return ""
	}
	if host, _, err := net.SplitHostPort(value); err == nil {
		value = host
	}
	if ip := net.ParseIP(value); ip != nil {
		return ip.String()
	}
	return ""
}

// zapLogFormatter feeds chi's request logger into zap.
type zapLogFormatter struct {
	log *zap.Logger
}

// RequestLogger writes one access log line per request through log.
func RequestLogger(log *zap.Logger) func(http.Handler) http.Handler {
	return middleware.RequestLogger(&zapLogFormatter{log: log})
}

func (f *zapLogFormatter) NewLogEntry(r *http.Request) middleware.LogEntry {
	return &zapLogEntry{
		log: f.log.With(
			zap.String("request_id", middleware.GetReqID(r.Context())),
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.String("remote_addr", r.RemoteAddr),
		),
	}
}

type zapLogEntry struct {
	log *zap.Logger
}

func (e *zapLogEntry) Write(status, bytes int, header http.Header, elapsed time.Duration, extra interface{}) {
	e.log.Info("request",
		zap.Int("status", status),
		zap.Int("bytes", bytes),
		zap.Duration("elapsed", elapsed),
	)
}

func (e *zapLogEntry) Panic(v interface{}, stack []byte) {
	e.log.Error("panic", zap.Any("panic", v), zap.ByteString("stack", stack))
}
