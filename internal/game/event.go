package game

import (
	"encoding/json"
	"time"
)

// EventType enum for event classification
type EventType uint8

const (
	EventTypeUnknown EventType = iota
	EventTypePlayerJoin
	EventTypePlayerLeave
	EventTypeBlockPlace
	EventTypeBlockBreak
	EventTypeReject
)

// EventVersion for backwards compatibility when reading old logs
const EventVersion uint8 = 1

// Event is one entry of the audit trail
type Event struct {
	Version   uint8           `json:"version"`
	Type      EventType       `json:"type"`
	Timestamp int64           `json:"timestamp"` // Unix nano
	Sequence  uint64          `json:"sequence"`  // Monotonic, assigned by the log
	PlayerID  string          `json:"playerId"`  // Source avatar (for rate limiting)
	Payload   json.RawMessage `json:"payload"`
}

// String returns human-readable event type
func (t EventType) String() string {
	switch t {
	case EventTypePlayerJoin:
		return "player_join"
	case EventTypePlayerLeave:
		return "player_leave"
	case EventTypeBlockPlace:
		return "block_place"
	case EventTypeBlockBreak:
		return "block_break"
	case EventTypeReject:
		return "reject"
	default:
		return "unknown"
	}
}

// MarshalText writes the type as its name so log lines stay readable
func (t EventType) MarshalText() ([]byte, error) {
	return []byte(t.String()), nil
}

// PlayerJoinPayload contains player join details
type PlayerJoinPayload struct {
	PlayerID   string  `json:"playerId"`
	PlayerName string  `json:"playerName"`
	Bot        bool    `json:"bot,omitempty"`
	SpawnX     float64 `json:"spawnX"`
	SpawnY     float64 `json:"spawnY"`
	SpawnZ     float64 `json:"spawnZ"`
}

// PlayerLeavePayload contains player leave details
type PlayerLeavePayload struct {
	PlayerID   string `json:"playerId"`
	PlayerName string `json:"playerName"`
}

// BlockPayload describes a successful world mutation
type BlockPayload struct {
	X         int    `json:"x"`
	Y         int    `json:"y"`
	Z         int    `json:"z"`
	BlockType string `json:"blockType,omitempty"`
}

// RejectPayload records a refused connection
type RejectPayload struct {
	Reason string `json:"reason"`
	Remote string `json:"remote,omitempty"`
}

// EncodePayload marshals a payload to JSON bytes
func EncodePayload(payload interface{}) []byte {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil
	}
	return data
}

// NewEvent creates a new event with the current timestamp
func NewEvent(eventType EventType, playerID string, payload interface{}) Event {
	return Event{
		Version:   EventVersion,
		Type:      eventType,
		Timestamp: time.Now().UnixNano(),
		PlayerID:  playerID,
		Payload:   EncodePayload(payload),
	}
}
