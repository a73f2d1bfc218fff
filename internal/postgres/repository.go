package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/typing-arena/internal/config"
	"github.com/typing-arena/internal/domain"
)

// Repository provides PostgreSQL-based data access
type Repository struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

// NewRepository creates a new PostgreSQL repository
func NewRepository(cfg *config.PostgresConfig, logger *slog.Logger) (*Repository, error) {
	poolConfig, err := pgxpool.ParseConfig(cfg.ConnectionString())
	if err != nil {
		return nil, fmt.Errorf("parsing connection string: %w", err)
	}

	poolConfig.MaxConns = int32(cfg.MaxConnections)
	poolConfig.MinConns = int32(cfg.MinConnections)
	poolConfig.MaxConnLifetime = cfg.MaxConnLifetime
	poolConfig.MaxConnIdleTime = cfg.MaxConnIdleTime

	pool, err := pgxpool.NewWithConfig(context.Background(), poolConfig)
	if err != nil {
		return nil, fmt.Errorf("creating connection pool: %w", err)
	}

	// Test connection
	if err := pool.Ping(context.Background()); err != nil {
		pool.Close()
		return nil, fmt.Errorf("connecting to database: %w", err)
	}

	return &Repository{
		pool:   pool,
		logger: logger,
	}, nil
}

// Close closes the database connection pool
func (r *Repository) Close() {
	r.pool.Close()
}

// Pool returns the underlying connection pool
func (r *Repository) Pool() *pgxpool.Pool {
	return r.pool
}

// RunMigrations executes database migrations
func (r *Repository) RunMigrations(ctx context.Context) error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS rooms (
			id VARCHAR(64) PRIMARY KEY,
			game_type VARCHAR(32) NOT NULL,
			status VARCHAR(16) NOT NULL,
			max_players INT NOT NULL,
			created_by VARCHAR(64) NOT NULL,
			members JSONB NOT NULL DEFAULT '[]',
			created_at TIMESTAMPTZ NOT NULL,
			started_at TIMESTAMPTZ,
			ended_at TIMESTAMPTZ
		)`,
		`CREATE TABLE IF NOT EXISTS room_audit (
			id BIGSERIAL PRIMARY KEY,
			room_id VARCHAR(64) NOT NULL,
			actor_id VARCHAR(64) NOT NULL,
			from_status VARCHAR(16) NOT NULL,
			to_status VARCHAR(16) NOT NULL,
			reason TEXT,
			at TIMESTAMPTZ NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS score_submissions (
			id BIGSERIAL PRIMARY KEY,
			player_id VARCHAR(64) NOT NULL,
			player_kind VARCHAR(16) NOT NULL,
			display_name VARCHAR(255) NOT NULL,
			game_type VARCHAR(32) NOT NULL,
			session_id VARCHAR(64) NOT NULL,
			score BIGINT NOT NULL,
			wpm DOUBLE PRECISION NOT NULL,
			accuracy DOUBLE PRECISION NOT NULL,
			duration_ms BIGINT NOT NULL,
			status VARCHAR(16) NOT NULL,
			reject_reason TEXT,
			achieved_at TIMESTAMPTZ NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS leaderboard_entries (
			player_id VARCHAR(64) NOT NULL,
			game_type VARCHAR(32) NOT NULL,
			period VARCHAR(16) NOT NULL,
			player_kind VARCHAR(16) NOT NULL,
			display_name VARCHAR(255) NOT NULL,
			score BIGINT NOT NULL,
			wpm DOUBLE PRECISION NOT NULL,
			accuracy DOUBLE PRECISION NOT NULL,
			session_id VARCHAR(64) NOT NULL,
			achieved_at TIMESTAMPTZ NOT NULL,
			PRIMARY KEY (player_id, game_type, period)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_rooms_status ON rooms(status)`,
		`CREATE INDEX IF NOT EXISTS idx_submissions_player ON score_submissions(player_id, achieved_at DESC)`,
		`CREATE INDEX IF NOT EXISTS idx_entries_ranking ON leaderboard_entries(game_type, period, score DESC)`,
	}

	for _, migration := range migrations {
		_, err := r.pool.Exec(ctx, migration)
		if err != nil {
			return fmt.Errorf("executing migration: %w", err)
		}
	}

	r.logger.Info("database migrations completed")
	return nil
}

// SaveRoom writes the durable record of a room, members included
func (r *Repository) SaveRoom(ctx context.Context, room *domain.Room) error {
	members, err := json.Marshal(room.Members)
	if err != nil {
		return fmt.Errorf("marshaling members: %w", err)
	}

	query := `
		INSERT INTO rooms (id, game_type, status, max_players, created_by, members, created_at, started_at, ended_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (id)
		DO UPDATE SET status = $3, members = $6, started_at = $8, ended_at = $9
	`
	_, err = r.pool.Exec(ctx, query,
		room.ID,
		string(room.GameType),
		string(room.Status),
		room.MaxPlayers,
		room.CreatedBy,
		members,
		room.CreatedAt,
		room.StartedAt,
		room.EndedAt,
	)
	if err != nil {
		return fmt.Errorf("saving room: %w", err)
	}
	return nil
}

// GetRoom loads the durable record of a room
func (r *Repository) GetRoom(ctx context.Context, roomID string) (*domain.Room, error) {
	query := `
		SELECT id, game_type, status, max_players, created_by, members, created_at, started_at, ended_at
		FROM rooms
		WHERE id = $1
	`
	var room domain.Room
	var members []byte
	err := r.pool.QueryRow(ctx, query, roomID).Scan(
		&room.ID,
		&room.GameType,
		&room.Status,
		&room.MaxPlayers,
		&room.CreatedBy,
		&members,
		&room.CreatedAt,
		&room.StartedAt,
		&room.EndedAt,
	)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, domain.ErrRoomNotFound
		}
		return nil, fmt.Errorf("getting room: %w", err)
	}
	if err := json.Unmarshal(members, &room.Members); err != nil {
		return nil, fmt.Errorf("unmarshaling members: %w", err)
	}
	return &room, nil
}

// RecordAudit stores an administrative status override record
func (r *Repository) RecordAudit(ctx context.Context, audit domain.RoomAudit) error {
	query := `
		INSERT INTO room_audit (room_id, actor_id, from_status, to_status, reason, at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`
	_, err := r.pool.Exec(ctx, query,
		audit.RoomID,
		audit.ActorID,
		string(audit.FromStatus),
		string(audit.ToStatus),
		audit.Reason,
		audit.At,
	)
	if err != nil {
		return fmt.Errorf("recording audit: %w", err)
	}
	return nil
}

// RecordSubmission appends a score submission to the audit history,
// rejected ones included.
func (r *Repository) RecordSubmission(ctx context.Context, sub domain.ScoreSubmission, status domain.SubmissionStatus, rejectReason string) error {
	query := `
		INSERT INTO score_submissions
			(player_id, player_kind, display_name, game_type, session_id, score, wpm, accuracy, duration_ms, status, reject_reason, achieved_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`
	_, err := r.pool.Exec(ctx, query,
		sub.PlayerID,
		string(sub.PlayerKind),
		sub.DisplayName,
		string(sub.GameType),
		sub.SessionID,
		sub.Score,
		sub.Metrics.WPM,
		sub.Metrics.Accuracy,
		sub.DurationMs,
		string(status),
		nullable(rejectReason),
		sub.AchievedAt,
	)
	if err != nil {
		return fmt.Errorf("recording submission: %w", err)
	}
	return nil
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}

// UpsertBestEntry persists an entry only when it improves the stored score
func (r *Repository) UpsertBestEntry(ctx context.Context, entry domain.LeaderboardEntry) error {
	query := `
		INSERT INTO leaderboard_entries
			(player_id, game_type, period, player_kind, display_name, score, wpm, accuracy, session_id, achieved_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (player_id, game_type, period)
		DO UPDATE SET
			player_kind = EXCLUDED.player_kind,
			display_name = EXCLUDED.display_name,
			score = EXCLUDED.score,
			wpm = EXCLUDED.wpm,
			accuracy = EXCLUDED.accuracy,
			session_id = EXCLUDED.session_id,
			achieved_at = EXCLUDED.achieved_at
		WHERE EXCLUDED.score > leaderboard_entries.score
	`
	_, err := r.pool.Exec(ctx, query,
		entry.PlayerID,
		string(entry.GameType),
		string(entry.Period),
		string(entry.PlayerKind),
		entry.DisplayName,
		entry.Score,
		entry.WPM,
		entry.Accuracy,
		entry.SessionID,
		entry.AchievedAt,
	)
	if err != nil {
		return fmt.Errorf("upserting best entry: %w", err)
	}
	return nil
}

// BestEntries returns durable entries for one (game type, period) achieved
// at or after the given window start, for cache recovery.
func (r *Repository) BestEntries(ctx context.Context, gameType domain.GameType, period domain.Period, since time.Time) ([]domain.LeaderboardEntry, error) {
	query := `
		SELECT player_id, player_kind, display_name, score, wpm, accuracy, session_id, achieved_at
		FROM leaderboard_entries
		WHERE game_type = $1 AND period = $2 AND achieved_at >= $3
		ORDER BY score DESC, achieved_at ASC
	`
	rows, err := r.pool.Query(ctx, query, string(gameType), string(period), since)
	if err != nil {
		return nil, fmt.Errorf("listing best entries: %w", err)
	}
	defer rows.Close()

	var entries []domain.LeaderboardEntry
	for rows.Next() {
		entry := domain.LeaderboardEntry{GameType: gameType, Period: period}
		err := rows.Scan(
			&entry.PlayerID,
			&entry.PlayerKind,
			&entry.DisplayName,
			&entry.Score,
			&entry.WPM,
			&entry.Accuracy,
			&entry.SessionID,
			&entry.AchievedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scanning entry: %w", err)
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

// PlayerStats aggregates a player's full submission history. Rejected
// submissions are retained in the table but excluded from the aggregates.
func (r *Repository) PlayerStats(ctx context.Context, playerID string) (*domain.PlayerStats, error) {
	query := `
		SELECT game_type, COUNT(*), MAX(score), MAX(wpm), AVG(wpm), AVG(accuracy)
		FROM score_submissions
		WHERE player_id = $1 AND status = 'accepted'
		GROUP BY game_type
		ORDER BY game_type
	`
	rows, err := r.pool.Query(ctx, query, playerID)
	if err != nil {
		return nil, fmt.Errorf("aggregating player stats: %w", err)
	}
	defer rows.Close()

	stats := &domain.PlayerStats{PlayerID: playerID}
	for rows.Next() {
		var gt domain.GameTypeStats
		err := rows.Scan(&gt.GameType, &gt.Rounds, &gt.BestScore, &gt.BestWPM, &gt.AvgWPM, &gt.AvgAccuracy)
		if err != nil {
			return nil, fmt.Errorf("scanning stats row: %w", err)
		}
		stats.ByGameType = append(stats.ByGameType, gt)
		stats.TotalRounds += gt.Rounds
	}
	return stats, nil
}

// MarkRoomFinished closes a room in the durable record, keeping any
// ended-at already stamped there.
func (r *Repository) MarkRoomFinished(ctx context.Context, roomID string, endedAt time.Time) error {
	query := `
		UPDATE rooms
		SET status = 'finished', ended_at = COALESCE(ended_at, $2)
		WHERE id = $1
	`
	if _, err := r.pool.Exec(ctx, query, roomID, endedAt); err != nil {
		return fmt.Errorf("finishing room: %w", err)
	}
	return nil
}

// ActiveRoomIDs returns the ids of rooms the durable store still considers
// unfinished, used by the reconciliation worker.
func (r *Repository) ActiveRoomIDs(ctx context.Context) ([]string, error) {
	query := `SELECT id FROM rooms WHERE status != 'finished'`
	rows, err := r.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("listing active rooms: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scanning room id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, nil
}
