package domain

import "time"

// TicketState tracks a matchmaking ticket through its lifecycle
type TicketState string

const (
	TicketStateQueued    TicketState = "queued"
	TicketStateMatched   TicketState = "matched"
	TicketStateCancelled TicketState = "cancelled"
)

// Ticket is a queued request to be matched into a room
type Ticket struct {
	ID          string      `json:"ticket_id"`
	PlayerID    string      `json:"player_id"`
	DisplayName string      `json:"display_name"`
	GameType    GameType    `json:"game_type"`
	Rating      int         `json:"rating"`
	EnqueuedAt  time.Time   `json:"enqueued_at"`
	State       TicketState `json:"state"`
}

// WaitingFor returns how long the ticket has been queued
func (t *Ticket) WaitingFor(now time.Time) time.Duration {
	return now.Sub(t.EnqueuedAt)
}

// QueueStatus is the matchmaking status reported to clients
type QueueStatus struct {
	GameType             GameType `json:"game_type"`
	QueueSize            int64    `json:"queue_size"`
	EstimatedWaitSeconds int      `json:"estimated_wait_seconds"`
}
