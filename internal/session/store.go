package session

import (
	"context"
	"time"
)

// Store persists session documents. Load returns nil, nil when the room
// is unknown.
type Store interface {
	// Reserve claims roomID permanently; false means the code was used before.
	Reserve(ctx context.Context, roomID string) (bool, error)
	Save(ctx context.Context, s *Session) error
	Load(ctx context.Context, roomID string) (*Session, error)
	// FinishedByUser lists finished sessions with userID as a participant,
	// most recent first.
	FinishedByUser(ctx context.Context, userID string, limit int) ([]*Session, error)
}

// PlayerStats aggregates finished games for one user.
type PlayerStats struct {
	UserID      string    `json:"user_id"`
	DisplayName string    `json:"display_name"`
	GamesPlayed int       `json:"games_played"`
	Wins        int       `json:"wins"`
	Losses      int       `json:"losses"`
	Draws       int       `json:"draws"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// ResultRepository records each finished session once and keeps the
// per-user counters.
type ResultRepository interface {
	SaveResult(ctx context.Context, s *Session) error
	Stats(ctx context.Context, userID string) (*PlayerStats, error)
}

type statDelta struct {
	userID      string
	displayName string
	win         int
	loss        int
	draw        int
}

// statDeltas maps a finished session to one counter change per seat.
func statDeltas(s *Session) []statDelta {
	if s == nil || s.Status != StatusFinished {
		return nil
	}
	out := make([]statDelta, 0, len(s.Players))
	for _, p := range s.Players {
		if p.UserID == "" {
			continue
		}
		d := statDelta{userID: p.UserID, displayName: p.DisplayName}
		switch {
		case s.Winner == WinnerDraw:
			d.draw = 1
		case s.Winner == winnerOf(p.Symbol):
			d.win = 1
		case s.Winner != WinnerNone:
			d.loss = 1
		}
		out = append(out, d)
	}
	return out
}
