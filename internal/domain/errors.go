package domain

import "errors"

// Domain errors
var (
	ErrRoomNotFound    = errors.New("room not found")
	ErrRoomFull        = errors.New("room is full")
	ErrRoomClosed      = errors.New("room is not joinable")
	ErrRoomBusy        = errors.New("room is locked by another operation")
	ErrAlreadyInRoom   = errors.New("player already in room")
	ErrNotInRoom       = errors.New("player not in room")
	ErrNotReady        = errors.New("not all players are ready")
	ErrAlreadyStarted  = errors.New("game already started")
	ErrInvalidGameType = errors.New("unsupported game type")
	ErrTicketNotFound  = errors.New("matchmaking ticket not found")
	ErrPlayerNotFound  = errors.New("player not found")
	ErrEntryNotFound   = errors.New("leaderboard entry not found")
	ErrUnauthorized    = errors.New("player id does not match session identity")
	ErrInvalidRequest  = errors.New("invalid request")
	ErrInternalError   = errors.New("internal server error")
)

// IsNotFound checks if an error is a not-found type error
func IsNotFound(err error) bool {
	return errors.Is(err, ErrRoomNotFound) ||
		errors.Is(err, ErrTicketNotFound) ||
		errors.Is(err, ErrPlayerNotFound) ||
		errors.Is(err, ErrEntryNotFound)
}

// IsConflict checks if an error is a conflict type error
func IsConflict(err error) bool {
	return errors.Is(err, ErrRoomFull) ||
		errors.Is(err, ErrRoomClosed) ||
		errors.Is(err, ErrRoomBusy) ||
		errors.Is(err, ErrAlreadyInRoom) ||
		errors.Is(err, ErrAlreadyStarted) ||
		errors.Is(err, ErrNotReady)
}
