package tools

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"flowsheetmcp/dispatch"
)

func newTestShell(t *testing.T, cfg ShellConfig) http.Handler {
	t.Helper()
	q := dispatch.New(context.Background())
	t.Cleanup(q.Close)
	tb := newTestToolbox(t, nil)
	return NewShell(NewServer(tb, q), cfg)
}

func TestHealthz(t *testing.T) {
	h := newTestShell(t, ShellConfig{Host: "127.0.0.1", Port: 8005})

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Host = "127.0.0.1:8005"
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), ServerName)
}

func TestHostCheck(t *testing.T) {
	tests := []struct {
		name     string
		host     string
		wantCode int
	}{
		{"localhost with port", "localhost:8005", http.StatusOK},
		{"loopback", "127.0.0.1:8005", http.StatusOK},
		{"ipv6 loopback", "[::1]:8005", http.StatusOK},
		{"configured host", "127.0.0.1", http.StatusOK},
		{"foreign host", "evil.example.com", http.StatusMisdirectedRequest},
		{"foreign host with port", "evil.example.com:8005", http.StatusMisdirectedRequest},
	}
	h := newTestShell(t, ShellConfig{Host: "127.0.0.1", Port: 8005})
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
			req.Host = tt.host
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)
			assert.Equal(t, tt.wantCode, rec.Code)
		})
	}
}

func TestHostCheckRelaxed(t *testing.T) {
	h := newTestShell(t, ShellConfig{Host: "0.0.0.0", Port: 8005, AllowRemote: true})

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Host = "tunnel.example.com"
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestHostCheckRejectionBody(t *testing.T) {
	h := newTestShell(t, ShellConfig{Host: "127.0.0.1", Port: 8005})

	req := httptest.NewRequest(http.MethodGet, "/mcp", nil)
	req.Host = "evil.example.com"
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	require.Equal(t, http.StatusMisdirectedRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "allow-remote")
}
