package domain

import "time"

// PresenceStatus is derived from connection validity and room membership
type PresenceStatus string

const (
	PresenceOnline PresenceStatus = "online"
	PresenceInRoom PresenceStatus = "in-room"
	PresenceInGame PresenceStatus = "in-game"
)

// PresenceRecord is the advisory liveness record for one player
type PresenceRecord struct {
	PlayerID     string         `json:"player_id"`
	DisplayName  string         `json:"display_name"`
	ConnectionID string         `json:"connection_id"`
	LastSeen     time.Time      `json:"last_seen"`
	Status       PresenceStatus `json:"status"`
	RoomID       string         `json:"room_id,omitempty"`
}
