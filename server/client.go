package server

import (
	"sync"
	"time"

	"github.com/aukilabs/go-tooling/pkg/errors"
	"github.com/aukilabs/go-tooling/pkg/logs"
	"github.com/gorilla/websocket"
	"github.com/segmentio/encoding/json"

	"z4-server/protocol"
	"z4-server/quadtree"
	"z4-server/sim"
)

const (
	writeWait         = 10 * time.Second
	pongWait          = 60 * time.Second
	pingPeriod        = (pongWait * 9) / 10
	maxMessageSize    = 4096
	sendBufSize       = 256
	maxMessagesPerSec = 50
	maxNameLen        = 16
	maxSessionNameLen = 30

	defaultPlayerName  = "Pilot"
	defaultSessionName = "Battle Arena"

	// Marks binary frames in the send queue.
	binaryMarker = 0xFF
)

const (
	ErrTypeBadMessage      = "server_bad_message"
	ErrTypeSessionNotFound = "server_session_not_found"
	ErrTypeNotInSession    = "server_not_in_session"
)

// Client represents a WebSocket connection.
type Client struct {
	hub        *Hub
	conn       *websocket.Conn
	send       chan []byte
	remoteAddr string
	msgCount   int
	msgResetAt time.Time

	mu        sync.Mutex
	playerID  string
	sessionID string
}

// NewClient creates a new Client.
func NewClient(hub *Hub, conn *websocket.Conn, remoteAddr string) *Client {
	return &Client{
		hub:        hub,
		conn:       conn,
		send:       make(chan []byte, sendBufSize),
		remoteAddr: remoteAddr,
	}
}

// ReadPump reads messages from the WebSocket connection.
func (c *Client) ReadPump() {
	defer func() {
		c.hub.TrackDisconnect(c.remoteAddr)
		c.hub.unregister <- c
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				logs.WithTag("remote_addr", c.remoteAddr).Warn(err)
			}
			break
		}

		// Rate limiting
		now := time.Now()
		if now.After(c.msgResetAt) {
			c.msgCount = 0
			c.msgResetAt = now.Add(time.Second)
		}
		c.msgCount++
		if c.msgCount > maxMessagesPerSec {
			logs.WithTag("remote_addr", c.remoteAddr).Warn("rate limit exceeded, disconnecting")
			break
		}

		c.handleMessage(message)
	}
}

// WritePump writes messages to the WebSocket connection.
func (c *Client) WritePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			var err error
			if len(message) > 0 && message[0] == binaryMarker {
				err = c.conn.WriteMessage(websocket.BinaryMessage, message[1:])
			} else {
				err = c.conn.WriteMessage(websocket.TextMessage, message)
			}
			if err != nil {
				return
			}
			instrumentSentBytes(len(message))

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// SendJSON sends a JSON message to the client.
func (c *Client) SendJSON(msg any) {
	data, err := json.Marshal(msg)
	if err != nil {
		logs.Error(errors.New("encoding message failed").Wrap(err))
		return
	}
	c.enqueue(data)
}

// SendBinary sends pre-marshaled bytes as a binary WebSocket message.
func (c *Client) SendBinary(data []byte) {
	msg := make([]byte, len(data)+1)
	msg[0] = binaryMarker
	copy(msg[1:], data)
	c.enqueue(msg)
}

func (c *Client) enqueue(data []byte) {
	select {
	case c.send <- data:
	default:
		instrumentDroppedMsg()
	}
}

// handleMessage routes incoming messages.
func (c *Client) handleMessage(raw []byte) {
	var env protocol.InEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		c.fail(errors.New("decoding message failed").
			WithType(ErrTypeBadMessage).
			Wrap(err))
		return
	}
	instrumentReceivedMsg(env.T)

	var err error
	switch env.T {
	case protocol.MsgList:
		c.handleList()
	case protocol.MsgCreate:
		err = c.handleCreate(env.D)
	case protocol.MsgJoin:
		err = c.handleJoin(env.D)
	case protocol.MsgMove:
		err = c.handleMove(env.D)
	case protocol.MsgFire:
		err = c.handleFire(env.D)
	case protocol.MsgLeave:
		c.handleLeave()
	default:
		err = errors.New("unknown message type").
			WithType(ErrTypeBadMessage).
			WithTag("type", env.T)
	}

	if err != nil {
		c.fail(err)
	}
}

func (c *Client) fail(err error) {
	instrumentReceiveError(err)
	logs.WithTag("remote_addr", c.remoteAddr).Debug(err)
	c.SendJSON(protocol.Envelope{T: protocol.MsgError, Data: protocol.ErrorMsg{Msg: errorMessage(err)}})
}

func (c *Client) handleList() {
	c.SendJSON(protocol.Envelope{T: protocol.MsgSessions, Data: c.hub.sessions.ListSessions()})
}

func (c *Client) handleCreate(data []byte) error {
	var msg protocol.CreateMsg
	if err := decode(data, &msg); err != nil {
		return err
	}

	sess, err := c.hub.sessions.CreateSession(truncate(msg.SessionName, defaultSessionName, maxSessionNameLen))
	if err != nil {
		return err
	}
	c.SendJSON(protocol.Envelope{T: protocol.MsgCreated, Data: protocol.CreatedMsg{SessionID: sess.ID}})
	return nil
}

func (c *Client) handleJoin(data []byte) error {
	var msg protocol.JoinMsg
	if err := decode(data, &msg); err != nil {
		return err
	}

	c.mu.Lock()
	sessionID, playerID := c.sessionID, c.playerID
	c.mu.Unlock()

	if sessionID != "" && sessionID == msg.SessionID {
		sess, current, err := c.session()
		if err != nil {
			return err
		}
		c.welcome(sess, current)
		return nil
	}

	sess, player, err := c.hub.sessions.Join(msg.SessionID,
		truncate(msg.Name, defaultPlayerName, maxNameLen),
		msg.Team,
		c,
	)
	if err != nil {
		return err
	}

	c.mu.Lock()
	c.playerID = player.ID
	c.sessionID = sess.ID
	c.mu.Unlock()

	if sessionID != "" {
		c.hub.sessions.RemovePlayer(sessionID, playerID)
	}

	c.welcome(sess, player.ID)
	return nil
}

func (c *Client) welcome(sess *Session, playerID string) {
	bounds := sess.Game.Bounds()
	c.SendJSON(protocol.Envelope{T: protocol.MsgJoined, Data: protocol.JoinedMsg{SessionID: sess.ID}})
	c.SendJSON(protocol.Envelope{T: protocol.MsgWelcome, Data: protocol.WelcomeMsg{
		ID:     playerID,
		Width:  bounds.Width(),
		Height: bounds.Height(),
	}})
}

func (c *Client) handleMove(data []byte) error {
	var msg protocol.MoveMsg
	if err := decode(data, &msg); err != nil {
		return err
	}

	sess, playerID, err := c.session()
	if err != nil {
		return err
	}

	err = sess.Game.SetVelocity(playerID, quadtree.PointVector{X: msg.VX, Y: msg.VY})
	if errors.IsType(err, sim.ErrTypeNotFound) {
		// Dead players wait for their respawn.
		return nil
	}
	return err
}

func (c *Client) handleFire(data []byte) error {
	var msg protocol.FireMsg
	if err := decode(data, &msg); err != nil {
		return err
	}

	sess, playerID, err := c.session()
	if err != nil {
		return err
	}

	_, err = sess.Game.Fire(playerID, quadtree.PointVector{X: msg.DX, Y: msg.DY}, msg.Preset)
	if errors.IsType(err, sim.ErrTypeNotFound) || errors.IsType(err, sim.ErrTypeCooldown) {
		return nil
	}
	return err
}

func (c *Client) handleLeave() {
	if sessionID, playerID := c.leave(); sessionID != "" {
		c.hub.sessions.RemovePlayer(sessionID, playerID)
	}
}

// leave forgets the session of the client and returns what it was.
func (c *Client) leave() (sessionID, playerID string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	sessionID, playerID = c.sessionID, c.playerID
	c.sessionID = ""
	c.playerID = ""
	return sessionID, playerID
}

func (c *Client) session() (*Session, string, error) {
	c.mu.Lock()
	sessionID, playerID := c.sessionID, c.playerID
	c.mu.Unlock()

	if sessionID == "" {
		return nil, "", errors.New("client is not in a session").
			WithType(ErrTypeNotInSession)
	}

	sess := c.hub.sessions.GetSession(sessionID)
	if sess == nil {
		return nil, "", errors.New("session not found").
			WithType(ErrTypeSessionNotFound).
			WithTag("session_id", sessionID)
	}
	return sess, playerID, nil
}

func decode(data []byte, v any) error {
	if len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, v); err != nil {
		return errors.New("decoding message payload failed").
			WithType(ErrTypeBadMessage).
			Wrap(err)
	}
	return nil
}

func truncate(s, fallback string, n int) string {
	if s == "" {
		return fallback
	}
	if len(s) > n {
		return s[:n]
	}
	return s
}

// errorMessage returns what a client is told about err.
func errorMessage(err error) string {
	switch errors.Type(err) {
	case ErrTypeSessionNotFound:
		return "session not found"
	case ErrTypeNotInSession:
		return "not in a session"
	case ErrTypeTooManySessions:
		return "too many active sessions"
	case sim.ErrTypeFull:
		return "session full"
	case ErrTypeBadMessage, sim.ErrTypeInvalidInput:
		return "invalid message"
	default:
		return "internal error"
	}
}
