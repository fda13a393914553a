// Package httpserver builds the API's http.Server.
package httpserver

import (
	"log/slog"
	"net/http"
	"time"

	"keyregistry/internal/platform/config"
)

// New returns a server for cfg.Addr. Request bodies are small JSON documents,
// so read and write deadlines stay tight. Server-level errors such as TLS
// handshake failures go to logger at warn level.
func New(cfg config.Server, handler http.Handler, logger *slog.Logger) *http.Server {
	return &http.Server{
		Addr:              cfg.Addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       2 * time.Minute,
		ErrorLog:          slog.NewLogLogger(logger.Handler(), slog.LevelWarn),
	}
}
