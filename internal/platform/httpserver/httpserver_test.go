package httpserver

import (
	"bytes"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"

	"keyregistry/internal/platform/config"
	"keyregistry/internal/platform/logger"
)

func TestNew(t *testing.T) {
	var buf bytes.Buffer
	srv := New(config.Server{Addr: ":9999"}, http.NotFoundHandler(), logger.NewWithWriter(&buf, "info"))

	assert.Equal(t, ":9999", srv.Addr)
	assert.NotZero(t, srv.ReadHeaderTimeout)
	assert.NotZero(t, srv.WriteTimeout)

	srv.ErrorLog.Print("tls: handshake failure")
	assert.Contains(t, buf.String(), "handshake failure")
	assert.Contains(t, buf.String(), `"level":"WARN"`)
}
