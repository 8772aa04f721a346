// Package protocol defines the messages exchanged with clients over the game
// websocket. Control messages are JSON envelopes; world snapshots are msgpack.
package protocol

import (
	"github.com/segmentio/encoding/json"
	"github.com/vmihailenco/msgpack/v5"
)

// Client -> Server message types
const (
	MsgCreate = "create"
	MsgJoin   = "join"
	MsgList   = "list"
	MsgMove   = "move"
	MsgFire   = "fire"
	MsgLeave  = "leave"
)

// Server -> Client message types
const (
	MsgCreated  = "created"
	MsgJoined   = "joined"
	MsgWelcome  = "welcome"
	MsgSessions = "sessions"
	MsgError    = "error"
	MsgKill     = "kill"
	MsgDeath    = "death"
	MsgState    = "state"
)

// Envelope wraps all outgoing JSON messages with a type field.
type Envelope struct {
	T    string `json:"t"`
	Data any    `json:"d,omitempty"`
}

// InEnvelope is used for incoming messages. The payload is decoded once the
// type is known.
type InEnvelope struct {
	T string          `json:"t"`
	D json.RawMessage `json:"d,omitempty"`
}

type CreateMsg struct {
	Name        string `json:"name"`
	SessionName string `json:"sname"`
	Team        string `json:"team"`
}

type JoinMsg struct {
	Name      string `json:"name"`
	SessionID string `json:"sid"`
	Team      string `json:"team"`
}

// MoveMsg sets the velocity of the player entity, in world units per second.
type MoveMsg struct {
	VX float64 `json:"vx"`
	VY float64 `json:"vy"`
}

// FireMsg fires a bullet from the player entity towards a direction.
type FireMsg struct {
	DX     float64 `json:"dx"`
	DY     float64 `json:"dy"`
	Preset string  `json:"preset"`
}

type CreatedMsg struct {
	SessionID string `json:"sid"`
}

type JoinedMsg struct {
	SessionID string `json:"sid"`
}

// WelcomeMsg is sent to a player once its entity exists.
type WelcomeMsg struct {
	ID     string  `json:"id"`
	Width  float64 `json:"w"`
	Height float64 `json:"h"`
}

type SessionInfo struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Players int    `json:"players"`
	Objects int    `json:"objects"`
}

type ErrorMsg struct {
	Msg string `json:"msg"`
}

// KillMsg is broadcast to every player of a session.
type KillMsg struct {
	KillerID   string `json:"kid"`
	KillerName string `json:"kn"`
	VictimID   string `json:"vid"`
	VictimName string `json:"vn"`
}

// DeathMsg notifies a player that its entity died.
type DeathMsg struct {
	KillerID   string `json:"kid"`
	KillerName string `json:"kn"`
}

// EntityState is broadcast per entity.
type EntityState struct {
	ID     string  `msgpack:"id"`
	Name   string  `msgpack:"n"`
	Team   string  `msgpack:"tm"`
	X      float64 `msgpack:"x"`
	Y      float64 `msgpack:"y"`
	VX     float64 `msgpack:"vx"`
	VY     float64 `msgpack:"vy"`
	HP     int     `msgpack:"hp"`
	MaxHP  int     `msgpack:"mhp"`
	Size   float64 `msgpack:"sz"`
	Kills  int     `msgpack:"k"`
	Player bool    `msgpack:"pl,omitempty"`
}

// BulletState is broadcast per bullet.
type BulletState struct {
	ID    string  `msgpack:"id"`
	X     float64 `msgpack:"x"`
	Y     float64 `msgpack:"y"`
	R     float64 `msgpack:"r"`
	Owner string  `msgpack:"o"`
}

// ItemState is broadcast per item.
type ItemState struct {
	ID string  `msgpack:"id"`
	X  float64 `msgpack:"x"`
	Y  float64 `msgpack:"y"`
}

// GameState is the snapshot of a session world.
type GameState struct {
	Entities []EntityState `msgpack:"e"`
	Bullets  []BulletState `msgpack:"b"`
	Items    []ItemState   `msgpack:"i"`
	Tick     uint64        `msgpack:"tick"`
}

// MarshalState encodes a snapshot as a binary websocket payload.
func MarshalState(s GameState) ([]byte, error) {
	return msgpack.Marshal(s)
}

// UnmarshalState decodes a payload produced by MarshalState.
func UnmarshalState(data []byte) (GameState, error) {
	var s GameState
	err := msgpack.Unmarshal(data, &s)
	return s, err
}
