// Package httpserver builds the gateway's http.Server from configuration.
package httpserver

import (
	"log/slog"
	"net/http"
	"time"

	"medgate/internal/platform/config"
)

const (
	readHeaderTimeout = 5 * time.Second
	idleTimeout       = 2 * time.Minute
	// writeSlack lets a handler that hit the request timeout still write its
	// 503 before the connection is cut.
	writeSlack = 5 * time.Second
)

// New returns a server for handler. Write and read deadlines follow the
// configured request timeout; server errors go to logger at error level.
func New(cfg config.ServerConfig, handler http.Handler, logger *slog.Logger) *http.Server {
	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           handler,
		ReadHeaderTimeout: readHeaderTimeout,
		IdleTimeout:       idleTimeout,
		MaxHeaderBytes:    1 << 20,
		ErrorLog:          slog.NewLogLogger(logger.Handler(), slog.LevelError),
	}
	if cfg.RequestTimeout > 0 {
		srv.ReadTimeout = cfg.RequestTimeout
		srv.WriteTimeout = cfg.RequestTimeout + writeSlack
	}
	return srv
}
