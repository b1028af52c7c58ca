package tools

import (
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
	mcpserver "github.com/mark3labs/mcp-go/server"
)

// ShellConfig configures the HTTP shell around the MCP server.
type ShellConfig struct {
	Host string
	Port int
	// AllowRemote disables DNS-rebinding host validation. Needed when the
	// server sits behind a forwarding tunnel that rewrites the Host header;
	// an explicit operator opt-in, never the default.
	AllowRemote bool
	Log         *slog.Logger
}

// Addr is the listen address.
func (c ShellConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// NewShell mounts the streamable MCP transport at /mcp on an echo server with
// a health endpoint and host validation.
func NewShell(s *mcpserver.MCPServer, cfg ShellConfig) *echo.Echo {
	log := cfg.Log
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(hostCheck(cfg, log))

	e.GET("/healthz", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{"status": "ok", "server": ServerName})
	})

	streamable := mcpserver.NewStreamableHTTPServer(s)
	e.Any("/mcp", echo.WrapHandler(streamable))

	return e
}

// Serve starts the shell; blocks until the listener fails or closes.
func Serve(s *mcpserver.MCPServer, cfg ShellConfig) error {
	e := NewShell(s, cfg)
	if cfg.Log != nil {
		cfg.Log.Info("flowsheet-mcp listening", "addr", cfg.Addr(), "allow_remote", cfg.AllowRemote)
	}
	return e.Start(cfg.Addr())
}

// hostCheck rejects requests whose Host header does not match the configured
// or loopback hosts, closing the DNS-rebinding hole of a browser pointing a
// hostile origin at a local port. Relaxed mode skips the check entirely.
func hostCheck(cfg ShellConfig, log *slog.Logger) echo.MiddlewareFunc {
	allowed := map[string]bool{
		"localhost": true,
		"127.0.0.1": true,
		"::1":       true,
	}
	if cfg.Host != "" {
		allowed[cfg.Host] = true
	}
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if cfg.AllowRemote {
				return next(c)
			}
			host := c.Request().Host
			if h, _, err := net.SplitHostPort(host); err == nil {
				host = h
			}
			host = strings.Trim(host, "[]")
			if !allowed[host] {
				log.Warn("rejected foreign host header", "host", c.Request().Host)
				return c.JSON(http.StatusMisdirectedRequest, map[string]string{
					"error": "host not allowed; start with -allow-remote to serve through a tunnel",
				})
			}
			return next(c)
		}
	}
}
