package matchmaking

import (
	"context"
	"fmt"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/typing-arena/internal/config"
	"github.com/typing-arena/internal/domain"
)

type memQueue struct {
	tickets map[string]*domain.Ticket
	byOwner map[string]string
	order   []string
	ratings map[string]int
}

func newMemQueue() *memQueue {
	return &memQueue{
		tickets: make(map[string]*domain.Ticket),
		byOwner: make(map[string]string),
		ratings: make(map[string]int),
	}
}

func ratingMapKey(gt domain.GameType, playerID string) string {
	return string(gt) + "/" + playerID
}

func (q *memQueue) Push(_ context.Context, t *domain.Ticket) error {
	clone := *t
	q.tickets[t.ID] = &clone
	q.byOwner[t.PlayerID] = t.ID
	q.order = append(q.order, t.ID)
	return nil
}

func (q *memQueue) Remove(_ context.Context, _ domain.GameType, ticketID string) error {
	t, ok := q.tickets[ticketID]
	if ok {
		delete(q.byOwner, t.PlayerID)
	}
	delete(q.tickets, ticketID)
	return nil
}

func (q *memQueue) TicketByPlayer(_ context.Context, playerID string) (*domain.Ticket, error) {
	id, ok := q.byOwner[playerID]
	if !ok {
		return nil, domain.ErrTicketNotFound
	}
	return q.tickets[id], nil
}

func (q *memQueue) Pending(_ context.Context, gameType domain.GameType) ([]*domain.Ticket, error) {
	out := make([]*domain.Ticket, 0)
	for _, id := range q.order {
		t, ok := q.tickets[id]
		if !ok || t.GameType != gameType {
			continue
		}
		out = append(out, t)
	}
	return out, nil
}

func (q *memQueue) Size(_ context.Context, gameType domain.GameType) (int64, error) {
	var n int64
	for _, t := range q.tickets {
		if t.GameType == gameType {
			n++
		}
	}
	return n, nil
}

func (q *memQueue) GetRating(_ context.Context, gameType domain.GameType, playerID string, fallback int) (int, error) {
	if r, ok := q.ratings[ratingMapKey(gameType, playerID)]; ok {
		return r, nil
	}
	return fallback, nil
}

func (q *memQueue) SetRating(_ context.Context, gameType domain.GameType, playerID string, rating int) error {
	q.ratings[ratingMapKey(gameType, playerID)] = rating
	return nil
}

type memRooms struct {
	rooms  map[string]*domain.Room
	nextID int
}

func (m *memRooms) CreateRoom(_ context.Context, gameType string, maxPlayers int, creatorID, creatorName string) (*domain.Room, error) {
	gt, err := domain.ParseGameType(gameType)
	if err != nil {
		return nil, err
	}
	m.nextID++
	room := &domain.Room{
		ID:         fmt.Sprintf("room-%d", m.nextID),
		GameType:   gt,
		Status:     domain.RoomStatusWaiting,
		MaxPlayers: maxPlayers,
		CreatedBy:  creatorID,
		Members:    []domain.RoomMember{{PlayerID: creatorID, DisplayName: creatorName}},
	}
	m.rooms[room.ID] = room
	return room, nil
}

func (m *memRooms) JoinRoom(_ context.Context, roomID, playerID, displayName string) (*domain.Room, error) {
	room, ok := m.rooms[roomID]
	if !ok {
		return nil, domain.ErrRoomNotFound
	}
	room.Members = append(room.Members, domain.RoomMember{PlayerID: playerID, DisplayName: displayName})
	return room, nil
}

type memNotifier struct {
	matched  map[string]string
	timedOut []string
}

func newMemNotifier() *memNotifier {
	return &memNotifier{matched: make(map[string]string)}
}

func (n *memNotifier) NotifyMatched(playerID string, room *domain.Room) {
	n.matched[playerID] = room.ID
}

func (n *memNotifier) NotifyQueueTimeout(playerID string, _ domain.GameType) {
	n.timedOut = append(n.timedOut, playerID)
}

func newTestService(mutate func(*config.MatchmakingConfig)) (*Service, *memQueue, *memRooms, *memNotifier) {
	cfg := config.DefaultConfig().Matchmaking
	if mutate != nil {
		mutate(&cfg)
	}
	queue := newMemQueue()
	rooms := &memRooms{rooms: make(map[string]*domain.Room)}
	notifier := newMemNotifier()
	svc := NewService(queue, rooms, &cfg, slog.Default())
	svc.SetNotifier(notifier)
	return svc, queue, rooms, notifier
}

func TestEnqueueAssignsInitialRating(t *testing.T) {
	svc, _, _, _ := newTestService(nil)
	ctx := context.Background()

	ticket, err := svc.Enqueue(ctx, "p1", "Alice", "typing-walk")
	require.NoError(t, err)
	assert.Equal(t, 1000, ticket.Rating)
	assert.Equal(t, domain.TicketStateQueued, ticket.State)
}

func TestEnqueueIdempotentWhileQueued(t *testing.T) {
	svc, _, _, _ := newTestService(nil)
	ctx := context.Background()

	first, err := svc.Enqueue(ctx, "p1", "Alice", "typing-walk")
	require.NoError(t, err)
	second, err := svc.Enqueue(ctx, "p1", "Alice", "typing-walk")
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)
}

func TestEnqueueRejectsUnknownGameType(t *testing.T) {
	svc, _, _, _ := newTestService(nil)

	_, err := svc.Enqueue(context.Background(), "p1", "Alice", "checkers")
	assert.ErrorIs(t, err, domain.ErrInvalidGameType)
}

func TestCancel(t *testing.T) {
	svc, queue, _, _ := newTestService(nil)
	ctx := context.Background()

	_, err := svc.Enqueue(ctx, "p1", "Alice", "typing-walk")
	require.NoError(t, err)

	require.NoError(t, svc.Cancel(ctx, "p1"))
	assert.Empty(t, queue.tickets)

	err = svc.Cancel(ctx, "p1")
	assert.ErrorIs(t, err, domain.ErrTicketNotFound)
}

func TestMatchPassPairsCloseRatingsLeavesOutlier(t *testing.T) {
	svc, queue, rooms, notifier := newTestService(nil)
	ctx := context.Background()

	queue.ratings[ratingMapKey(domain.GameTypeTypingWalk, "p1")] = 1000
	queue.ratings[ratingMapKey(domain.GameTypeTypingWalk, "p2")] = 1050
	queue.ratings[ratingMapKey(domain.GameTypeTypingWalk, "p3")] = 1400

	_, err := svc.Enqueue(ctx, "p1", "Alice", "typing-walk")
	require.NoError(t, err)
	_, err = svc.Enqueue(ctx, "p2", "Bob", "typing-walk")
	require.NoError(t, err)
	_, err = svc.Enqueue(ctx, "p3", "Carol", "typing-walk")
	require.NoError(t, err)

	svc.MatchPass(ctx, domain.GameTypeTypingWalk)

	// 1000 and 1050 are within the base tolerance; 1400 is not.
	require.Len(t, rooms.rooms, 1)
	assert.Equal(t, notifier.matched["p1"], notifier.matched["p2"])
	assert.NotContains(t, notifier.matched, "p3")

	remaining, err := queue.Pending(ctx, domain.GameTypeTypingWalk)
	require.NoError(t, err)
	require.Len(t, remaining, 1)
	assert.Equal(t, "p3", remaining[0].PlayerID)
}

func TestMatchPassToleranceWidensWithWait(t *testing.T) {
	svc, queue, rooms, _ := newTestService(nil)
	ctx := context.Background()

	queue.ratings[ratingMapKey(domain.GameTypeBlink, "p1")] = 1000
	queue.ratings[ratingMapKey(domain.GameTypeBlink, "p2")] = 1300

	_, err := svc.Enqueue(ctx, "p1", "Alice", "blink")
	require.NoError(t, err)
	_, err = svc.Enqueue(ctx, "p2", "Bob", "blink")
	require.NoError(t, err)

	svc.MatchPass(ctx, domain.GameTypeBlink)
	assert.Empty(t, rooms.rooms)

	// After 30s both tolerances reach 100 + 10*30 = 400 ≥ gap of 300.
	svc.now = func() time.Time { return time.Now().Add(30 * time.Second) }
	svc.MatchPass(ctx, domain.GameTypeBlink)
	assert.Len(t, rooms.rooms, 1)
}

func TestMatchPassPrefersEarliestEnqueued(t *testing.T) {
	svc, queue, _, notifier := newTestService(nil)
	ctx := context.Background()

	// Three mutually compatible players; the earliest two pair up.
	for i, p := range []string{"p1", "p2", "p3"} {
		queue.ratings[ratingMapKey(domain.GameTypeBlink, p)] = 1000 + 10*i
		_, err := svc.Enqueue(ctx, p, p, "blink")
		require.NoError(t, err)
	}

	svc.MatchPass(ctx, domain.GameTypeBlink)

	assert.Equal(t, notifier.matched["p1"], notifier.matched["p2"])
	assert.NotContains(t, notifier.matched, "p3")
}

func TestMatchPassPicksClosestRating(t *testing.T) {
	svc, queue, _, notifier := newTestService(nil)
	ctx := context.Background()

	// All three are within tolerance of the anchor, but the later
	// gap-10 player should win over the earlier gap-90 one.
	for _, p := range []struct {
		id     string
		rating int
	}{
		{"anchor", 1000},
		{"far", 1090},
		{"near", 1010},
	} {
		queue.ratings[ratingMapKey(domain.GameTypeBlink, p.id)] = p.rating
		_, err := svc.Enqueue(ctx, p.id, p.id, "blink")
		require.NoError(t, err)
	}

	svc.MatchPass(ctx, domain.GameTypeBlink)

	require.Contains(t, notifier.matched, "anchor")
	assert.Equal(t, notifier.matched["anchor"], notifier.matched["near"])
	assert.NotContains(t, notifier.matched, "far")

	remaining, err := queue.Pending(ctx, domain.GameTypeBlink)
	require.NoError(t, err)
	require.Len(t, remaining, 1)
	assert.Equal(t, "far", remaining[0].PlayerID)
}

func TestEnqueueSwitchingGameTypeReplacesTicket(t *testing.T) {
	svc, queue, _, _ := newTestService(nil)
	ctx := context.Background()

	first, err := svc.Enqueue(ctx, "p1", "Alice", "blink")
	require.NoError(t, err)

	second, err := svc.Enqueue(ctx, "p1", "Alice", "falling-words")
	require.NoError(t, err)
	assert.NotEqual(t, first.ID, second.ID)
	assert.Equal(t, domain.GameTypeFallingWords, second.GameType)

	blink, err := queue.Size(ctx, domain.GameTypeBlink)
	require.NoError(t, err)
	assert.Zero(t, blink)
	fallingWords, err := queue.Size(ctx, domain.GameTypeFallingWords)
	require.NoError(t, err)
	assert.EqualValues(t, 1, fallingWords)
}

func TestMatchPassExpiresOverdueTickets(t *testing.T) {
	svc, queue, rooms, notifier := newTestService(nil)
	ctx := context.Background()

	_, err := svc.Enqueue(ctx, "p1", "Alice", "blink")
	require.NoError(t, err)

	svc.now = func() time.Time { return time.Now().Add(3 * time.Minute) }
	svc.MatchPass(ctx, domain.GameTypeBlink)

	assert.Empty(t, rooms.rooms)
	assert.Equal(t, []string{"p1"}, notifier.timedOut)
	assert.Empty(t, queue.tickets)
}

func TestStatusEstimateGrowsForShorterQueue(t *testing.T) {
	svc, _, _, _ := newTestService(nil)
	ctx := context.Background()

	empty, err := svc.Status(ctx, "typing-walk")
	require.NoError(t, err)

	_, err = svc.Enqueue(ctx, "p1", "Alice", "typing-walk")
	require.NoError(t, err)

	oneWaiting, err := svc.Status(ctx, "typing-walk")
	require.NoError(t, err)

	assert.Greater(t, empty.EstimatedWaitSeconds, oneWaiting.EstimatedWaitSeconds)
	assert.GreaterOrEqual(t, oneWaiting.EstimatedWaitSeconds, 5)
}

func TestUpdateRatingsElo(t *testing.T) {
	svc, queue, _, _ := newTestService(nil)
	ctx := context.Background()

	queue.ratings[ratingMapKey(domain.GameTypeTypingWalk, "winner")] = 1000
	queue.ratings[ratingMapKey(domain.GameTypeTypingWalk, "loser")] = 1000

	err := svc.UpdateRatings(ctx, domain.GameTypeTypingWalk, NewElo(32), "winner", "loser", OutcomeWin)
	require.NoError(t, err)

	// Equal ratings, K=32: winner gains 16, loser drops 16.
	assert.Equal(t, 1016, queue.ratings[ratingMapKey(domain.GameTypeTypingWalk, "winner")])
	assert.Equal(t, 984, queue.ratings[ratingMapKey(domain.GameTypeTypingWalk, "loser")])
}

func TestEloUnderdogGainsMore(t *testing.T) {
	elo := NewElo(32)

	underdogGain := elo.Apply(1000, 1400, OutcomeWin) - 1000
	favoriteGain := elo.Apply(1400, 1000, OutcomeWin) - 1400

	assert.Greater(t, underdogGain, favoriteGain)
	assert.Greater(t, favoriteGain, 0)
}

func TestEloDrawMovesTowardOpponent(t *testing.T) {
	elo := NewElo(32)

	assert.Greater(t, elo.Apply(1000, 1200, OutcomeDraw), 1000)
	assert.Less(t, elo.Apply(1200, 1000, OutcomeDraw), 1200)
	assert.Equal(t, 1000, elo.Apply(1000, 1000, OutcomeDraw))
}
