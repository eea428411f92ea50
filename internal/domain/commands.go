package domain

import (
	"encoding/json"
	"math"
)

// Client message types
const (
	MessageJoin   = "join"
	MessageUpdate = "update"
	MessageReset  = "reset"
	MessageCancel = "cancel"
)

// Command is a mutation requested by a connection. The concrete types below
// are the complete set; dispatch switches over them exhaustively.
type Command interface {
	Connection() string
	command()
}

// JoinCommand asks to be placed into a room or queue
type JoinCommand struct {
	ConnID       string
	Mode         Mode
	AIDifficulty string
}

// UpdateCommand carries paddle velocities. A nil field leaves that paddle alone.
type UpdateCommand struct {
	ConnID string
	P1DY   *float64
	P2DY   *float64
}

// ResetCommand restarts a solo room or leaves a multiplayer one
type ResetCommand struct {
	ConnID string
}

// CancelCommand withdraws a queued join
type CancelCommand struct {
	ConnID string
}

// DisconnectCommand is raised by the transport when a connection drops
type DisconnectCommand struct {
	ConnID string
}

func (c JoinCommand) Connection() string       { return c.ConnID }
func (c UpdateCommand) Connection() string     { return c.ConnID }
func (c ResetCommand) Connection() string      { return c.ConnID }
func (c CancelCommand) Connection() string     { return c.ConnID }
func (c DisconnectCommand) Connection() string { return c.ConnID }

func (JoinCommand) command()       {}
func (UpdateCommand) command()     {}
func (ResetCommand) command()      {}
func (CancelCommand) command()     {}
func (DisconnectCommand) command() {}

// clientMessage is the wire shape of everything a client may send
type clientMessage struct {
	Type         string   `json:"type"`
	Mode         string   `json:"mode,omitempty"`
	AIDifficulty string   `json:"aiDifficulty,omitempty"`
	P1DY         *float64 `json:"p1dy,omitempty"`
	P2DY         *float64 `json:"p2dy,omitempty"`
}

// ParseCommand decodes a client message into a Command
func ParseCommand(connID string, data []byte) (Command, error) {
	var msg clientMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, Invalid("", "malformed json")
	}

	switch msg.Type {
	case MessageJoin:
		mode := Mode(msg.Mode)
		if !mode.Valid() {
			return nil, Invalid("mode", "unknown mode "+msg.Mode)
		}
		return JoinCommand{ConnID: connID, Mode: mode, AIDifficulty: msg.AIDifficulty}, nil
	case MessageUpdate:
		if msg.P1DY == nil && msg.P2DY == nil {
			return nil, Invalid("p1dy", "update carries no movement")
		}
		if msg.P1DY != nil && !finite(*msg.P1DY) {
			return nil, Invalid("p1dy", "not a finite number")
		}
		if msg.P2DY != nil && !finite(*msg.P2DY) {
			return nil, Invalid("p2dy", "not a finite number")
		}
		return UpdateCommand{ConnID: connID, P1DY: msg.P1DY, P2DY: msg.P2DY}, nil
	case MessageReset:
		return ResetCommand{ConnID: connID}, nil
	case MessageCancel:
		return CancelCommand{ConnID: connID}, nil
	case "":
		return nil, Invalid("type", "missing message type")
	default:
		return nil, Invalid("type", "unknown message type "+msg.Type)
	}
}

func finite(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}
