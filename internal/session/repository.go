package session

import (
    "context"
    "database/sql"
    "encoding/json"
    "errors"
    "fmt"
    "strings"
    "time"

    _ "github.com/lib/pq"

    "github.com/park285/Cheese-TicTacToe/internal/board"
)

// Repository stores finished games and per-user counters in PostgreSQL.
type Repository struct {
    db *sql.DB
}

var _ ResultRepository = (*Repository)(nil)

const schemaSQL = `
CREATE TABLE IF NOT EXISTS ttt_games (
    room_id      TEXT PRIMARY KEY,
    board_size   INTEGER NOT NULL,
    x_user_id    TEXT NOT NULL,
    x_name       TEXT NOT NULL,
    o_user_id    TEXT NOT NULL,
    o_name       TEXT NOT NULL,
    winner       TEXT NOT NULL,
    end_reason   TEXT NOT NULL,
    moves        JSONB NOT NULL,
    transcript   TEXT NOT NULL,
    started_at   TIMESTAMPTZ NOT NULL,
    ended_at     TIMESTAMPTZ NOT NULL,
    duration_ms  BIGINT NOT NULL
);
CREATE TABLE IF NOT EXISTS ttt_player_stats (
    user_id      TEXT PRIMARY KEY,
    display_name TEXT NOT NULL,
    games_played INTEGER NOT NULL DEFAULT 0,
    wins         INTEGER NOT NULL DEFAULT 0,
    losses       INTEGER NOT NULL DEFAULT 0,
    draws        INTEGER NOT NULL DEFAULT 0,
    updated_at   TIMESTAMPTZ NOT NULL
);`

func NewRepository(databaseURL string) (*Repository, error) {
    if strings.TrimSpace(databaseURL) == "" {
        return nil, fmt.Errorf("DATABASE_URL is required")
    }
    db, err := sql.Open("postgres", databaseURL)
    if err != nil {
        return nil, err
    }
    db.SetMaxOpenConns(16)
    db.SetMaxIdleConns(8)
    db.SetConnMaxLifetime(30 * time.Minute)
    ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
    defer cancel()
    if err := db.PingContext(ctx); err != nil {
        _ = db.Close()
        return nil, err
    }
    return &Repository{db: db}, nil
}

// EnsureSchema creates the tables when missing.
func (r *Repository) EnsureSchema(ctx context.Context) error {
    if r == nil || r.db == nil { return nil }
    _, err := r.db.ExecContext(ctx, schemaSQL)
    return err
}

func (r *Repository) Close() error {
    if r == nil || r.db == nil { return nil }
    return r.db.Close()
}

// SaveResult inserts the finished game once and bumps both players' counters
// in the same transaction. Repeated calls for the same room are no-ops.
func (r *Repository) SaveResult(ctx context.Context, s *Session) error {
    if r == nil || r.db == nil || s == nil || s.Status != StatusFinished {
        return nil
    }
    x, o := s.PlayerBySymbol(board.X), s.PlayerBySymbol(board.O)
    if x == nil || o == nil {
        return nil
    }
    movesRaw, err := json.Marshal(s.Moves)
    if err != nil { return err }
    ended := s.FinishedAt
    if ended.IsZero() { ended = s.UpdatedAt }
    duration := ended.Sub(s.CreatedAt).Milliseconds()
    if duration < 0 { duration = 0 }

    tx, err := r.db.BeginTx(ctx, nil)
    if err != nil { return err }
    defer func() { _ = tx.Rollback() }()

    res, err := tx.ExecContext(ctx, `INSERT INTO ttt_games (
        room_id, board_size, x_user_id, x_name, o_user_id, o_name,
        winner, end_reason, moves, transcript, started_at, ended_at, duration_ms
      ) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)
      ON CONFLICT (room_id) DO NOTHING`,
        s.RoomID, s.BoardSize,
        x.UserID, x.DisplayName,
        o.UserID, o.DisplayName,
        string(s.Winner), string(s.EndReason), string(movesRaw), buildTranscript(s),
        s.CreatedAt, ended, duration,
    )
    if err != nil { return err }
    if n, _ := res.RowsAffected(); n == 0 {
        return tx.Commit()
    }

    const upsert = `INSERT INTO ttt_player_stats (
        user_id, display_name, games_played, wins, losses, draws, updated_at
      ) VALUES ($1,$2,1,$3,$4,$5,$6)
      ON CONFLICT (user_id) DO UPDATE SET
        display_name=EXCLUDED.display_name,
        games_played=ttt_player_stats.games_played+1,
        wins=ttt_player_stats.wins+EXCLUDED.wins,
        losses=ttt_player_stats.losses+EXCLUDED.losses,
        draws=ttt_player_stats.draws+EXCLUDED.draws,
        updated_at=EXCLUDED.updated_at`
    for _, d := range statDeltas(s) {
        if _, err := tx.ExecContext(ctx, upsert, d.userID, d.displayName, d.win, d.loss, d.draw, ended); err != nil {
            return err
        }
    }
    return tx.Commit()
}

func (r *Repository) Stats(ctx context.Context, userID string) (*PlayerStats, error) {
    if r == nil || r.db == nil { return nil, nil }
    var st PlayerStats
    err := r.db.QueryRowContext(ctx, `SELECT user_id, display_name, games_played, wins, losses, draws, updated_at
        FROM ttt_player_stats WHERE user_id=$1`, strings.TrimSpace(userID)).
        Scan(&st.UserID, &st.DisplayName, &st.GamesPlayed, &st.Wins, &st.Losses, &st.Draws, &st.UpdatedAt)
    if errors.Is(err, sql.ErrNoRows) { return nil, nil }
    if err != nil { return nil, err }
    return &st, nil
}

// buildTranscript renders the move log as "X:0 O:4 X:1 ... 1-0".
func buildTranscript(s *Session) string {
    if s == nil { return "" }
    var b strings.Builder
    for i, m := range s.Moves {
        if i > 0 { b.WriteByte(' ') }
        fmt.Fprintf(&b, "%s:%d", m.Symbol, m.Position)
    }
    if b.Len() > 0 { b.WriteByte(' ') }
    b.WriteString(resultToken(s))
    return b.String()
}

func resultToken(s *Session) string {
    switch s.Winner {
    case WinnerX:
        return "1-0"
    case WinnerO:
        return "0-1"
    case WinnerDraw:
        return "1/2-1/2"
    default:
        return "*"
    }
}
