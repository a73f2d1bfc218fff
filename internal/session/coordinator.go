package session

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/typing-arena/internal/config"
	"github.com/typing-arena/internal/domain"
	"github.com/typing-arena/internal/leaderboard"
	"github.com/typing-arena/internal/matchmaking"
)

// RoomService is the room lifecycle surface the coordinator drives
type RoomService interface {
	UpdateMemberMetrics(ctx context.Context, roomID, playerID string, metrics domain.LiveMetrics) error
	EndGame(ctx context.Context, roomID string) (*domain.Room, error)
}

// ScoreSink receives finalized results for ranking
type ScoreSink interface {
	SubmitScore(ctx context.Context, sub domain.ScoreSubmission) (*leaderboard.SubmitResult, error)
}

// Rater applies skill-rating updates after a finished round
type Rater interface {
	UpdateRatings(ctx context.Context, gameType domain.GameType, strategy matchmaking.RatingStrategy, playerA, playerB string, scoreA float64) error
}

// Broadcaster pushes realtime messages to a room or a single player
type Broadcaster interface {
	BroadcastRoom(roomID string, v any)
	SendPlayer(playerID string, v any)
}

// PlayerProgress is one player's live metrics inside a metrics update
type PlayerProgress struct {
	PlayerID    string             `json:"player_id"`
	DisplayName string             `json:"display_name"`
	Metrics     domain.LiveMetrics `json:"metrics"`
	Forfeited   bool               `json:"forfeited,omitempty"`
}

// MetricsUpdate is the periodic in-game broadcast
type MetricsUpdate struct {
	Type    string           `json:"type"`
	RoomID  string           `json:"room_id"`
	Players []PlayerProgress `json:"players"`
}

// Placement is one player's final result
type Placement struct {
	Place       int     `json:"place"`
	PlayerID    string  `json:"player_id"`
	DisplayName string  `json:"display_name"`
	Score       int64   `json:"score"`
	NetWPM      float64 `json:"net_wpm"`
	Accuracy    float64 `json:"accuracy"`
	Completed   bool    `json:"completed"`
	Forfeited   bool    `json:"forfeited"`
}

// GameOver is the terminal broadcast for a round
type GameOver struct {
	Type       string          `json:"type"`
	RoomID     string          `json:"room_id"`
	GameType   domain.GameType `json:"game_type"`
	Placements []Placement     `json:"placements"`
}

// AutoRejoin tells a reconnecting player which room still holds a seat
// for them.
type AutoRejoin struct {
	Type   string `json:"type"`
	RoomID string `json:"room_id"`
}

// ForfeitNotice announces a grace-period expiry to the room
type ForfeitNotice struct {
	Type     string `json:"type"`
	RoomID   string `json:"room_id"`
	PlayerID string `json:"player_id"`
}

type playerState struct {
	playerID       string
	displayName    string
	typedChars     int
	errorCount     int
	position       int
	completed      bool
	completedAt    time.Time
	keystrokes     []int64
	metrics        domain.LiveMetrics
	disconnectedAt time.Time
	forfeited      bool
}

type ctrlKind int

const (
	ctrlDisconnect ctrlKind = iota
	ctrlReconnect
	ctrlStop
)

type control struct {
	kind     ctrlKind
	playerID string
	reply    chan bool
}

// session is the actor state for one active room. All fields past the
// channels are owned by the run goroutine.
type session struct {
	roomID    string
	gameType  domain.GameType
	startedAt time.Time
	events    chan domain.ProgressEvent
	ctrl      chan control
	players   map[string]*playerState
	order     []string
}

// Coordinator runs one actor goroutine per active room, consuming
// progress events in arrival order, broadcasting metric deltas on a
// bounded cadence, and settling the round on termination.
type Coordinator struct {
	rooms    RoomService
	scores   ScoreSink
	rater    Rater
	strategy matchmaking.RatingStrategy
	hub      Broadcaster
	cfg      *config.SessionConfig
	logger   *slog.Logger
	now      func() time.Time

	mu       sync.Mutex
	sessions map[string]*session
	byPlayer map[string]string
	wg       sync.WaitGroup
}

// NewCoordinator creates a new session coordinator
func NewCoordinator(rooms RoomService, scores ScoreSink, rater Rater, strategy matchmaking.RatingStrategy, cfg *config.SessionConfig, logger *slog.Logger) *Coordinator {
	return &Coordinator{
		rooms:    rooms,
		scores:   scores,
		rater:    rater,
		strategy: strategy,
		cfg:      cfg,
		logger:   logger,
		now:      time.Now,
		sessions: make(map[string]*session),
		byPlayer: make(map[string]string),
	}
}

// SetHub wires the realtime gateway once it exists
func (c *Coordinator) SetHub(hub Broadcaster) {
	c.hub = hub
}

// StartSession spins up the actor for a room that just transitioned to
// playing.
func (c *Coordinator) StartSession(room *domain.Room) error {
	if room.Status != domain.RoomStatusPlaying {
		return domain.ErrInvalidRequest
	}

	startedAt := c.now()
	if room.StartedAt != nil {
		startedAt = *room.StartedAt
	}

	s := &session{
		roomID:    room.ID,
		gameType:  room.GameType,
		startedAt: startedAt,
		events:    make(chan domain.ProgressEvent, c.cfg.EventBuffer),
		ctrl:      make(chan control, 8),
		players:   make(map[string]*playerState, len(room.Members)),
	}
	for _, m := range room.Members {
		s.players[m.PlayerID] = &playerState{
			playerID:    m.PlayerID,
			displayName: m.DisplayName,
		}
		s.order = append(s.order, m.PlayerID)
	}

	c.mu.Lock()
	if _, exists := c.sessions[room.ID]; exists {
		c.mu.Unlock()
		return domain.ErrAlreadyStarted
	}
	c.sessions[room.ID] = s
	for _, m := range room.Members {
		c.byPlayer[m.PlayerID] = room.ID
	}
	c.mu.Unlock()

	c.wg.Add(1)
	go c.run(s)

	c.logger.Info("session started", "room_id", room.ID, "game_type", room.GameType, "players", len(room.Members))
	return nil
}

// Progress hands a player's event to the owning room actor. A full
// event buffer drops the event rather than blocking the caller; the
// next event supersedes it anyway.
func (c *Coordinator) Progress(ev domain.ProgressEvent) error {
	c.mu.Lock()
	s, ok := c.sessions[ev.RoomID]
	c.mu.Unlock()
	if !ok {
		return domain.ErrRoomNotFound
	}

	select {
	case s.events <- ev:
	default:
		c.logger.Warn("progress buffer full, dropping event", "room_id", ev.RoomID, "player_id", ev.PlayerID)
	}
	return nil
}

// PlayerDisconnected starts the grace clock on a player's seat
func (c *Coordinator) PlayerDisconnected(playerID string) {
	c.mu.Lock()
	roomID, ok := c.byPlayer[playerID]
	s := c.sessions[roomID]
	c.mu.Unlock()
	if !ok || s == nil {
		return
	}
	s.ctrl <- control{kind: ctrlDisconnect, playerID: playerID}
}

// PlayerReconnected checks whether a seat is still held for the player
// and, when it is, signals an auto-rejoin with the room id.
func (c *Coordinator) PlayerReconnected(playerID string) (string, bool) {
	c.mu.Lock()
	roomID, ok := c.byPlayer[playerID]
	s := c.sessions[roomID]
	c.mu.Unlock()
	if !ok || s == nil {
		return "", false
	}

	reply := make(chan bool, 1)
	s.ctrl <- control{kind: ctrlReconnect, playerID: playerID, reply: reply}
	if !<-reply {
		return "", false
	}

	if c.hub != nil {
		c.hub.SendPlayer(playerID, AutoRejoin{Type: "auto_rejoin", RoomID: roomID})
	}
	return roomID, true
}

// Shutdown stops every actor without settling rounds; rooms recover
// through the reconciliation worker on restart.
func (c *Coordinator) Shutdown() {
	c.mu.Lock()
	for _, s := range c.sessions {
		s.ctrl <- control{kind: ctrlStop}
	}
	c.mu.Unlock()
	c.wg.Wait()
}

func (c *Coordinator) run(s *session) {
	defer c.wg.Done()
	ctx := context.Background()

	broadcast := time.NewTicker(c.cfg.BroadcastInterval)
	defer broadcast.Stop()

	var roundC <-chan time.Time
	if !s.gameType.IsRace() {
		roundTimer := time.NewTimer(c.cfg.RoundDuration)
		defer roundTimer.Stop()
		roundC = roundTimer.C
	}
	var tieBreakC <-chan time.Time

	for {
		select {
		case ev := <-s.events:
			firstFinish := c.apply(ctx, s, ev)
			if firstFinish && s.gameType.IsRace() && tieBreakC == nil {
				tieBreak := time.NewTimer(c.cfg.TieBreakWindow)
				defer tieBreak.Stop()
				tieBreakC = tieBreak.C
			}

		case <-tieBreakC:
			c.finish(ctx, s)
			return

		case <-roundC:
			c.finish(ctx, s)
			return

		case <-broadcast.C:
			c.broadcastMetrics(s)
			if c.expireGraces(s) {
				c.finish(ctx, s)
				return
			}

		case msg := <-s.ctrl:
			switch msg.kind {
			case ctrlStop:
				c.unregister(s)
				return
			case ctrlDisconnect:
				if p := s.players[msg.playerID]; p != nil && !p.forfeited {
					p.disconnectedAt = c.now()
					c.logger.Info("seat held for disconnected player",
						"room_id", s.roomID, "player_id", msg.playerID, "grace", c.cfg.GracePeriod)
				}
			case ctrlReconnect:
				p := s.players[msg.playerID]
				held := p != nil && !p.forfeited
				if held {
					p.disconnectedAt = time.Time{}
				}
				msg.reply <- held
			}
		}
	}
}

// apply folds one progress event into the actor state and reports
// whether it is the session's first completion.
func (c *Coordinator) apply(ctx context.Context, s *session, ev domain.ProgressEvent) bool {
	p := s.players[ev.PlayerID]
	if p == nil || p.forfeited {
		return false
	}

	anyCompleted := false
	for _, other := range s.players {
		if other.completed {
			anyCompleted = true
			break
		}
	}

	p.typedChars = ev.TypedChars
	p.errorCount = ev.Errors
	p.position = ev.Position
	p.keystrokes = append(p.keystrokes, ev.Keystrokes...)

	at := ev.At
	if at.IsZero() {
		at = c.now()
	}
	elapsed := at.Sub(s.startedAt)

	p.metrics = domain.LiveMetrics{
		GrossWPM:   GrossWPM(p.typedChars, elapsed),
		NetWPM:     NetWPM(p.typedChars, p.errorCount, elapsed),
		Accuracy:   Accuracy(p.typedChars, p.errorCount),
		Position:   p.position,
		TypedChars: p.typedChars,
		Errors:     p.errorCount,
		Completed:  ev.Completed,
	}

	if ev.Completed && !p.completed {
		p.completed = true
		p.completedAt = at
	}

	if err := c.rooms.UpdateMemberMetrics(ctx, s.roomID, p.playerID, p.metrics); err != nil {
		c.logger.Warn("failed to write member metrics",
			"room_id", s.roomID, "player_id", p.playerID, "error", err)
	}

	return p.completed && !anyCompleted
}

func (c *Coordinator) broadcastMetrics(s *session) {
	if c.hub == nil {
		return
	}
	update := MetricsUpdate{Type: "metrics_update", RoomID: s.roomID}
	for _, id := range s.order {
		p := s.players[id]
		update.Players = append(update.Players, PlayerProgress{
			PlayerID:    p.playerID,
			DisplayName: p.displayName,
			Metrics:     p.metrics,
			Forfeited:   p.forfeited,
		})
	}
	c.hub.BroadcastRoom(s.roomID, update)
}

// expireGraces forfeits players whose grace period ran out. Returns
// true when nobody is left playing.
func (c *Coordinator) expireGraces(s *session) bool {
	now := c.now()
	remaining := 0
	for _, p := range s.players {
		if p.forfeited {
			continue
		}
		if !p.disconnectedAt.IsZero() && now.Sub(p.disconnectedAt) > c.cfg.GracePeriod {
			p.forfeited = true
			c.logger.Info("player forfeited", "room_id", s.roomID, "player_id", p.playerID)
			if c.hub != nil {
				c.hub.BroadcastRoom(s.roomID, ForfeitNotice{
					Type: "player_forfeited", RoomID: s.roomID, PlayerID: p.playerID,
				})
			}
			continue
		}
		remaining++
	}
	return remaining == 0
}

// finish settles the round: placements, score submissions, rating
// updates, room end, terminal broadcast.
func (c *Coordinator) finish(ctx context.Context, s *session) {
	c.unregister(s)

	endedAt := c.now()
	placements := c.placements(s, endedAt)

	for i := range placements {
		pl := &placements[i]
		if pl.Forfeited {
			continue
		}
		p := s.players[pl.PlayerID]

		finishedAt := endedAt
		if p.completed {
			finishedAt = p.completedAt
		}
		elapsed := finishedAt.Sub(s.startedAt)

		result, err := c.scores.SubmitScore(ctx, domain.ScoreSubmission{
			PlayerID:    p.playerID,
			PlayerKind:  domain.PlayerKindOf(p.playerID),
			DisplayName: p.displayName,
			GameType:    s.gameType,
			SessionID:   s.roomID,
			Score:       pl.Score,
			Metrics: domain.SubmissionMetrics{
				WPM:      p.metrics.NetWPM,
				Accuracy: p.metrics.Accuracy,
			},
			DurationMs: elapsed.Milliseconds(),
			Keystrokes: p.keystrokes,
			AchievedAt: finishedAt,
		})
		if err != nil {
			c.logger.Error("failed to submit score",
				"room_id", s.roomID, "player_id", p.playerID, "error", err)
		} else if !result.Accepted {
			c.logger.Warn("score submission rejected",
				"room_id", s.roomID, "player_id", p.playerID)
		}
	}

	c.applyRatings(ctx, s, placements)

	if _, err := c.rooms.EndGame(ctx, s.roomID); err != nil {
		c.logger.Error("failed to end room", "room_id", s.roomID, "error", err)
	}

	if c.hub != nil {
		c.hub.BroadcastRoom(s.roomID, GameOver{
			Type:       "game_over",
			RoomID:     s.roomID,
			GameType:   s.gameType,
			Placements: placements,
		})
	}

	c.logger.Info("session finished", "room_id", s.roomID, "game_type", s.gameType, "players", len(placements))
}

// placements orders finishers by completion time (finishes inside the
// tie-break window share first place), then unfinished players by
// course position, with forfeits last.
func (c *Coordinator) placements(s *session, endedAt time.Time) []Placement {
	ordered := make([]*playerState, 0, len(s.players))
	for _, id := range s.order {
		ordered = append(ordered, s.players[id])
	}
	sort.SliceStable(ordered, func(i, j int) bool {
		a, b := ordered[i], ordered[j]
		if a.forfeited != b.forfeited {
			return !a.forfeited
		}
		if a.completed != b.completed {
			return a.completed
		}
		if a.completed && b.completed {
			return a.completedAt.Before(b.completedAt)
		}
		if a.position != b.position {
			return a.position > b.position
		}
		return a.typedChars > b.typedChars
	})

	var firstFinish time.Time
	for _, p := range ordered {
		if p.completed {
			firstFinish = p.completedAt
			break
		}
	}

	placements := make([]Placement, 0, len(ordered))
	for i, p := range ordered {
		place := i + 1
		if p.completed && !firstFinish.IsZero() &&
			p.completedAt.Sub(firstFinish) <= c.cfg.TieBreakWindow {
			place = 1
		}
		score := int64(0)
		if !p.forfeited {
			score = FinalScore(p.metrics.NetWPM, p.metrics.Accuracy)
		}
		placements = append(placements, Placement{
			Place:       place,
			PlayerID:    p.playerID,
			DisplayName: p.displayName,
			Score:       score,
			NetWPM:      p.metrics.NetWPM,
			Accuracy:    p.metrics.Accuracy,
			Completed:   p.completed,
			Forfeited:   p.forfeited,
		})
	}
	return placements
}

// applyRatings runs one pairwise rating update per unordered pair,
// scored from each pair's relative placement.
func (c *Coordinator) applyRatings(ctx context.Context, s *session, placements []Placement) {
	if c.rater == nil || c.strategy == nil {
		return
	}
	for i := 0; i < len(placements); i++ {
		for j := i + 1; j < len(placements); j++ {
			a, b := placements[i], placements[j]
			score := matchmaking.OutcomeDraw
			if a.Place < b.Place {
				score = matchmaking.OutcomeWin
			} else if a.Place > b.Place {
				score = matchmaking.OutcomeLoss
			}
			if err := c.rater.UpdateRatings(ctx, s.gameType, c.strategy, a.PlayerID, b.PlayerID, score); err != nil {
				c.logger.Warn("failed to update ratings",
					"room_id", s.roomID, "player_a", a.PlayerID, "player_b", b.PlayerID, "error", err)
			}
		}
	}
}

func (c *Coordinator) unregister(s *session) {
	c.mu.Lock()
	delete(c.sessions, s.roomID)
	for id, roomID := range c.byPlayer {
		if roomID == s.roomID {
			delete(c.byPlayer, id)
		}
	}
	c.mu.Unlock()
}
