// Package server exposes game sessions to websocket clients and serves the
// admin endpoints.
package server

import (
	"context"
	"net"
	"net/http"
	"net/url"
	"time"

	"github.com/aukilabs/go-tooling/pkg/errors"
	"github.com/aukilabs/go-tooling/pkg/logs"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/segmentio/encoding/json"
)

const shutdownTimeout = 5 * time.Second

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true // Non-browser clients don't send Origin
		}
		u, err := url.Parse(origin)
		if err != nil {
			return false
		}
		return u.Host == r.Host
	},
}

func extractIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// SetupRoutes configures the client facing routes.
func SetupRoutes(hub *Hub) *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("/ws", func(w http.ResponseWriter, r *http.Request) {
		ip := extractIP(r)
		if !hub.CanAccept(ip) {
			instrumentRejectedClient()
			http.Error(w, "too many connections", http.StatusServiceUnavailable)
			return
		}

		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			logs.WithTag("remote_addr", ip).
				Warn(errors.New("websocket upgrade failed").Wrap(err))
			return
		}

		hub.TrackConnect(ip)

		client := NewClient(hub, conn, ip)
		hub.register <- client

		go client.WritePump()
		go client.ReadPump()
	})

	mux.HandleFunc("/health", HandleHealthCheck)
	return mux
}

// SetupAdminRoutes configures the admin routes.
func SetupAdminRoutes(hub *Hub) *http.ServeMux {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/health", HandleHealthCheck)
	mux.HandleFunc("/debug/tree", HandleDebugTree(hub.sessions))
	return mux
}

func HandleHealthCheck(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
}

// HandleDebugTree writes the index stats of every session, or of the session
// named by the sid query parameter.
func HandleDebugTree(sessions *SessionManager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		infos := sessions.DebugInfo()

		var body any = infos
		if sid := r.URL.Query().Get("sid"); sid != "" {
			info, ok := infos[sid]
			if !ok {
				http.Error(w, "session not found", http.StatusNotFound)
				return
			}
			body = info
		}

		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(body); err != nil {
			logs.Warn(errors.New("writing debug tree response failed").Wrap(err))
		}
	}
}

// ListenAndServe serves every server until ctx is done or one of them fails,
// then shuts them all down.
func ListenAndServe(ctx context.Context, servers ...*http.Server) {
	failed := make(chan error, len(servers))

	for _, s := range servers {
		s := s
		go func() {
			logs.WithTag("addr", s.Addr).Info("server starting")
			if err := s.ListenAndServe(); err != http.ErrServerClosed {
				failed <- errors.New("server stopped").
					WithTag("addr", s.Addr).
					Wrap(err)
			}
		}()
	}

	select {
	case <-ctx.Done():
	case err := <-failed:
		logs.Error(err)
	}

	logs.WithTag("servers", len(servers)).Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	for _, s := range servers {
		if err := s.Shutdown(shutdownCtx); err != nil {
			logs.Warn(errors.New("shutting down the server failed").
				WithTag("addr", s.Addr).
				Wrap(err))
		}
	}
}

// MetricsPathFormatter returns empty string on HTTP 301, 400, 404 or 405 statusCode
func MetricsPathFormatter(statusCode int, path string) string {
	if statusCode == http.StatusMovedPermanently ||
		statusCode == http.StatusBadRequest ||
		statusCode == http.StatusNotFound ||
		statusCode == http.StatusMethodNotAllowed {
		return ""
	}

	return path
}
