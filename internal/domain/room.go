package domain

import (
	"time"
)

// GameType identifies one of the supported multiplayer game modes
type GameType string

const (
	GameTypeFallingBlocks GameType = "falling-blocks"
	GameTypeBlink         GameType = "blink"
	GameTypeTypingWalk    GameType = "typing-walk"
	GameTypeFallingWords  GameType = "falling-words"
)

// GameTypes lists every supported game type
var GameTypes = []GameType{
	GameTypeFallingBlocks,
	GameTypeBlink,
	GameTypeTypingWalk,
	GameTypeFallingWords,
}

// ParseGameType validates a game type string
func ParseGameType(s string) (GameType, error) {
	for _, gt := range GameTypes {
		if string(gt) == s {
			return gt, nil
		}
	}
	return "", ErrInvalidGameType
}

// IsRace reports whether a game type ends first-to-complete rather than
// on a fixed timer.
func (g GameType) IsRace() bool {
	return g == GameTypeTypingWalk || g == GameTypeFallingWords
}

// RoomStatus represents the lifecycle state of a room
type RoomStatus string

const (
	RoomStatusWaiting  RoomStatus = "waiting"
	RoomStatusPlaying  RoomStatus = "playing"
	RoomStatusFinished RoomStatus = "finished"
)

// ParseRoomStatus validates a room status string
func ParseRoomStatus(s string) (RoomStatus, error) {
	switch RoomStatus(s) {
	case RoomStatusWaiting, RoomStatusPlaying, RoomStatusFinished:
		return RoomStatus(s), nil
	}
	return "", ErrInvalidRequest
}

// LiveMetrics holds the per-player metrics recomputed on each progress event
type LiveMetrics struct {
	GrossWPM   float64 `json:"gross_wpm"`
	NetWPM     float64 `json:"net_wpm"`
	Accuracy   float64 `json:"accuracy"`
	Position   int     `json:"position"`
	TypedChars int     `json:"typed_chars"`
	Errors     int     `json:"errors"`
	Completed  bool    `json:"completed"`
}

// RoomMember is a player seated in a room
type RoomMember struct {
	PlayerID    string      `json:"player_id"`
	DisplayName string      `json:"display_name"`
	Ready       bool        `json:"ready"`
	JoinedAt    time.Time   `json:"joined_at"`
	Metrics     LiveMetrics `json:"metrics"`
}

// Room is the mutable aggregate for one round of a game. The Redis copy is
// a read-optimized projection; Postgres holds the durable record.
type Room struct {
	ID         string       `json:"room_id"`
	GameType   GameType     `json:"game_type"`
	Status     RoomStatus   `json:"status"`
	Members    []RoomMember `json:"members"`
	MaxPlayers int          `json:"max_players"`
	CreatedBy  string       `json:"created_by"`
	CreatedAt  time.Time    `json:"created_at"`
	StartedAt  *time.Time   `json:"started_at,omitempty"`
	EndedAt    *time.Time   `json:"ended_at,omitempty"`
}

// Member returns the member with the given player id, or nil
func (r *Room) Member(playerID string) *RoomMember {
	for i := range r.Members {
		if r.Members[i].PlayerID == playerID {
			return &r.Members[i]
		}
	}
	return nil
}

// RemoveMember deletes a member in place, reporting whether it was present
func (r *Room) RemoveMember(playerID string) bool {
	for i := range r.Members {
		if r.Members[i].PlayerID == playerID {
			r.Members = append(r.Members[:i], r.Members[i+1:]...)
			return true
		}
	}
	return false
}

// IsFull reports whether the room has reached its member limit
func (r *Room) IsFull() bool {
	return len(r.Members) >= r.MaxPlayers
}

// AllReady reports whether every seated member has toggled ready
func (r *Room) AllReady() bool {
	for i := range r.Members {
		if !r.Members[i].Ready {
			return false
		}
	}
	return len(r.Members) > 0
}

// RoomAudit records an administrative status override for later review
type RoomAudit struct {
	RoomID     string     `json:"room_id"`
	ActorID    string     `json:"actor_id"`
	FromStatus RoomStatus `json:"from_status"`
	ToStatus   RoomStatus `json:"to_status"`
	Reason     string     `json:"reason"`
	At         time.Time  `json:"at"`
}

// ProgressEvent is a per-player keystroke/position delta consumed by the
// session coordinator.
type ProgressEvent struct {
	RoomID     string    `json:"room_id"`
	PlayerID   string    `json:"player_id"`
	TypedChars int       `json:"typed_chars"`
	Errors     int       `json:"errors"`
	Position   int       `json:"position"`
	Completed  bool      `json:"completed"`
	Keystrokes []int64   `json:"keystrokes,omitempty"`
	At         time.Time `json:"at"`
}
