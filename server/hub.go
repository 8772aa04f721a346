package server

import (
	"context"
	"sync"
	"time"

	"github.com/aukilabs/go-tooling/pkg/logs"

	"z4-server/sim"
)

const (
	maxConnsPerIP = 5
	maxTotalConns = 1000

	reapInterval = time.Minute
	sessionIdle  = 2 * time.Minute
)

// Hub manages all connected clients and routes them to sessions.
type Hub struct {
	mu         sync.RWMutex
	clients    map[*Client]bool
	register   chan *Client
	unregister chan *Client
	sessions   *SessionManager

	// Connection limiting, accessed from HTTP handlers.
	connMu     sync.Mutex
	ipConns    map[string]int
	totalConns int
}

// NewHub creates a Hub whose sessions run worlds described by conf.
func NewHub(conf sim.Config) *Hub {
	return &Hub{
		clients:    make(map[*Client]bool),
		register:   make(chan *Client, 64),
		unregister: make(chan *Client, 64),
		sessions:   NewSessionManager(conf),
		ipConns:    make(map[string]int),
	}
}

// Sessions returns the session manager of the hub.
func (h *Hub) Sessions() *SessionManager {
	return h.sessions
}

func (h *Hub) CanAccept(ip string) bool {
	h.connMu.Lock()
	defer h.connMu.Unlock()
	if h.totalConns >= maxTotalConns {
		return false
	}
	if h.ipConns[ip] >= maxConnsPerIP {
		return false
	}
	return true
}

func (h *Hub) TrackConnect(ip string) {
	h.connMu.Lock()
	defer h.connMu.Unlock()
	h.ipConns[ip]++
	h.totalConns++
	instrumentConnect()
}

func (h *Hub) TrackDisconnect(ip string) {
	h.connMu.Lock()
	defer h.connMu.Unlock()
	h.ipConns[ip]--
	if h.ipConns[ip] <= 0 {
		delete(h.ipConns, ip)
	}
	h.totalConns--
	instrumentDisconnect()
}

// Run processes register and unregister events until ctx is done. All
// sessions are closed when it returns.
func (h *Hub) Run(ctx context.Context) {
	reap := time.NewTicker(reapInterval)
	defer reap.Stop()
	defer h.sessions.Close()

	for {
		select {
		case <-ctx.Done():
			return

		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			h.mu.Unlock()

		case client := <-h.unregister:
			// The game stops broadcasting to the client before send closes.
			if sessionID, playerID := client.leave(); sessionID != "" {
				h.sessions.RemovePlayer(sessionID, playerID)
			}

			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.send)
			}
			h.mu.Unlock()

		case <-reap.C:
			if n := h.sessions.Reap(sessionIdle); n != 0 {
				logs.WithTag("sessions", n).Debug("idle sessions closed")
			}
		}
	}
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// TotalConns returns the tracked connection count.
func (h *Hub) TotalConns() int {
	h.connMu.Lock()
	defer h.connMu.Unlock()
	return h.totalConns
}
