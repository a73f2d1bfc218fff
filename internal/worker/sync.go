package worker

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/typing-arena/internal/config"
	"github.com/typing-arena/internal/domain"
	"github.com/typing-arena/internal/leaderboard"
	"github.com/typing-arena/internal/postgres"
	"github.com/typing-arena/internal/redis"
)

// PresenceSweeper triggers the lazy reaping of expired presence records
type PresenceSweeper interface {
	ListOnlinePlayers(ctx context.Context) ([]domain.PresenceRecord, error)
}

// SyncWorker reconciles the Redis projections with PostgreSQL: active
// room state flushes down on a cadence, leaderboard windows rebuild up
// from the durable record on startup, and stale presence gets swept.
type SyncWorker struct {
	rooms    *redis.RoomStore
	boards   *redis.LeaderboardStore
	postgres *postgres.Repository
	lobby    PresenceSweeper
	config   *config.SyncConfig
	logger   *slog.Logger
	stopCh   chan struct{}
	doneCh   chan struct{}
	mu       sync.Mutex
	running  bool
}

// NewSyncWorker creates a new sync worker
func NewSyncWorker(
	rooms *redis.RoomStore,
	boards *redis.LeaderboardStore,
	pg *postgres.Repository,
	lobby PresenceSweeper,
	cfg *config.SyncConfig,
	logger *slog.Logger,
) *SyncWorker {
	return &SyncWorker{
		rooms:    rooms,
		boards:   boards,
		postgres: pg,
		lobby:    lobby,
		config:   cfg,
		logger:   logger,
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}
}

// Start begins the background reconciliation process
func (w *SyncWorker) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return nil
	}
	w.running = true
	w.mu.Unlock()

	w.logger.Info("sync worker started", "interval", w.config.Interval)

	go w.run(ctx)
	return nil
}

// Stop stops the background reconciliation process
func (w *SyncWorker) Stop() error {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return nil
	}
	w.mu.Unlock()

	close(w.stopCh)
	<-w.doneCh

	w.mu.Lock()
	w.running = false
	w.mu.Unlock()

	w.logger.Info("sync worker stopped")
	return nil
}

// run is the main worker loop
func (w *SyncWorker) run(ctx context.Context) {
	defer close(w.doneCh)

	ticker := time.NewTicker(w.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stopCh:
			return
		case <-ticker.C:
			w.reconcile(ctx)
		}
	}
}

// reconcile runs one full cycle
func (w *SyncWorker) reconcile(ctx context.Context) {
	startTime := time.Now()

	flushed, errs := w.flushRooms(ctx)
	w.sweepPresence(ctx)

	w.logger.Info("reconcile cycle completed",
		"duration", time.Since(startTime),
		"rooms_flushed", flushed,
		"errors", errs,
	)
}

// flushRooms writes every active room projection to PostgreSQL so the
// durable record lags the cache by at most one interval.
func (w *SyncWorker) flushRooms(ctx context.Context) (flushed, errs int) {
	rooms, err := w.rooms.ListActiveRooms(ctx)
	if err != nil {
		w.logger.Error("failed to list active rooms for flush", "error", err)
		return 0, 1
	}

	cached := make(map[string]bool, len(rooms))
	for _, room := range rooms {
		cached[room.ID] = true
		if err := w.postgres.SaveRoom(ctx, room); err != nil {
			w.logger.Error("failed to flush room", "room_id", room.ID, "error", err)
			errs++
			continue
		}
		flushed++
	}

	errs += w.closeStaleRooms(ctx, cached)
	return flushed, errs
}

// closeStaleRooms finishes rooms the durable store still considers
// active but the cache no longer knows about, e.g. leftovers from an
// instance that died between a transition and its flush.
func (w *SyncWorker) closeStaleRooms(ctx context.Context, cached map[string]bool) (errs int) {
	ids, err := w.postgres.ActiveRoomIDs(ctx)
	if err != nil {
		w.logger.Error("failed to list durable active rooms", "error", err)
		return 1
	}

	for _, id := range ids {
		if cached[id] {
			continue
		}
		if err := w.postgres.MarkRoomFinished(ctx, id, time.Now()); err != nil {
			w.logger.Error("failed to close stale room", "room_id", id, "error", err)
			errs++
			continue
		}
		w.logger.Info("closed stale room", "room_id", id)
	}
	return errs
}

// sweepPresence walks the online listing, which reaps expired records
// as a side effect.
func (w *SyncWorker) sweepPresence(ctx context.Context) {
	if w.lobby == nil {
		return
	}
	if _, err := w.lobby.ListOnlinePlayers(ctx); err != nil {
		w.logger.Warn("presence sweep failed", "error", err)
	}
}

// RestoreLeaderboards rebuilds every current ranking window in Redis
// from the PostgreSQL submission history. Run on startup so a flushed
// or replaced cache comes back without losing standings.
func (w *SyncWorker) RestoreLeaderboards(ctx context.Context) error {
	w.logger.Info("restoring leaderboard windows from database")
	now := time.Now()

	restored := 0
	for _, gt := range domain.GameTypes {
		for _, period := range domain.Periods {
			since := leaderboard.WindowStart(period, now)
			entries, err := w.postgres.BestEntries(ctx, gt, period, since)
			if err != nil {
				w.logger.Error("failed to load best entries",
					"game_type", gt, "period", period, "error", err)
				continue
			}
			if len(entries) == 0 {
				continue
			}

			windowKey := leaderboard.WindowKey(period, now)
			if err := w.boards.BatchRestore(ctx, gt, windowKey, entries); err != nil {
				w.logger.Error("failed to restore window",
					"game_type", gt, "period", period, "window", windowKey, "error", err)
				continue
			}
			restored += len(entries)
		}
	}

	w.logger.Info("leaderboard restore completed", "entries", restored)
	return nil
}

// IsRunning returns whether the worker is currently running
func (w *SyncWorker) IsRunning() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.running
}

// RunOnce runs a single reconcile cycle (useful for manual triggers)
func (w *SyncWorker) RunOnce(ctx context.Context) {
	w.reconcile(ctx)
}
