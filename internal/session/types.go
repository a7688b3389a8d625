package session

import (
	"strings"
	"time"

	"github.com/park285/Cheese-TicTacToe/internal/board"
)

// Status represents the room lifecycle.
type Status string

const (
	StatusWaiting  Status = "waiting"
	StatusPlaying  Status = "playing"
	StatusFinished Status = "finished"
)

// Winner is set only once a session is finished.
type Winner string

const (
	WinnerNone Winner = ""
	WinnerX    Winner = "X"
	WinnerO    Winner = "O"
	WinnerDraw Winner = "draw"
)

func winnerOf(s board.Symbol) Winner {
	switch s {
	case board.X:
		return WinnerX
	case board.O:
		return WinnerO
	}
	return WinnerNone
}

// EndReason records how a finished session ended.
type EndReason string

const (
	EndLine    EndReason = "line"
	EndDraw    EndReason = "draw"
	EndTimeout EndReason = "timeout"
	EndResign  EndReason = "resign"
)

// Identity is the authenticated user behind a connection.
type Identity struct {
	UserID      string `json:"user_id"`
	DisplayName string `json:"display_name"`
}

// Player is one seat of a room. PlayerID stays fixed for the seat while
// ConnectionID follows the transport.
type Player struct {
	PlayerID     string       `json:"player_id"`
	UserID       string       `json:"user_id"`
	DisplayName  string       `json:"display_name"`
	Symbol       board.Symbol `json:"symbol"`
	ConnectionID string       `json:"connection_id,omitempty"`
}

type MoveEntry struct {
	Symbol    board.Symbol `json:"symbol"`
	Position  int          `json:"position"`
	Timestamp time.Time    `json:"timestamp"`
}

type ChatEntry struct {
	DisplayName string    `json:"display_name"`
	Message     string    `json:"message"`
	Timestamp   time.Time `json:"timestamp"`
}

// Clocks holds the remaining time budget per symbol in seconds.
type Clocks struct {
	X float64 `json:"X"`
	O float64 `json:"O"`
}

func (c Clocks) Get(s board.Symbol) float64 {
	if s == board.O {
		return c.O
	}
	return c.X
}

func (c *Clocks) Set(s board.Symbol, v float64) {
	if v < 0 {
		v = 0
	}
	if s == board.O {
		c.O = v
		return
	}
	c.X = v
}

// Session is the persisted state of one room.
type Session struct {
	RoomID        string       `json:"room_id"`
	BoardSize     int          `json:"board_size"`
	Board         board.Board  `json:"board"`
	Players       []Player     `json:"players"`
	CurrentTurn   board.Symbol `json:"current_turn"`
	Status        Status       `json:"status"`
	Winner        Winner       `json:"winner,omitempty"`
	WinningLine   []int        `json:"winning_line,omitempty"`
	EndReason     EndReason    `json:"end_reason,omitempty"`
	Moves         []MoveEntry  `json:"moves"`
	Chat          []ChatEntry  `json:"chat"`
	TimeLimit     float64      `json:"time_limit"`
	PlayerClocks  Clocks       `json:"player_clocks"`
	Version       uint64       `json:"version"`
	TurnStartedAt time.Time    `json:"turn_started_at,omitempty"`
	CreatedAt     time.Time    `json:"created_at"`
	UpdatedAt     time.Time    `json:"updated_at"`
	FinishedAt    time.Time    `json:"finished_at,omitempty"`
}

// Clone returns a deep copy safe to hand to other goroutines.
func (s *Session) Clone() *Session {
	if s == nil {
		return nil
	}
	c := *s
	c.Board = s.Board.Clone()
	c.Players = append([]Player(nil), s.Players...)
	c.Moves = append([]MoveEntry(nil), s.Moves...)
	c.Chat = append([]ChatEntry(nil), s.Chat...)
	if s.WinningLine != nil {
		c.WinningLine = append([]int(nil), s.WinningLine...)
	}
	return &c
}

func (s *Session) PlayerByConnection(connID string) *Player {
	if connID == "" {
		return nil
	}
	for i := range s.Players {
		if s.Players[i].ConnectionID == connID {
			return &s.Players[i]
		}
	}
	return nil
}

func (s *Session) PlayerBySymbol(sym board.Symbol) *Player {
	for i := range s.Players {
		if s.Players[i].Symbol == sym {
			return &s.Players[i]
		}
	}
	return nil
}

func (s *Session) HasUser(userID string) bool {
	userID = strings.TrimSpace(userID)
	for _, p := range s.Players {
		if p.UserID == userID {
			return true
		}
	}
	return false
}

// ConnectionIDs lists the live connections bound to the room's seats.
func (s *Session) ConnectionIDs() []string {
	out := make([]string, 0, len(s.Players))
	for _, p := range s.Players {
		if p.ConnectionID != "" {
			out = append(out, p.ConnectionID)
		}
	}
	return out
}

// Replay rebuilds the board by applying the move log to an empty board.
func (s *Session) Replay() board.Board {
	b := make(board.Board, s.BoardSize*s.BoardSize)
	for _, m := range s.Moves {
		if b.InRange(m.Position) {
			b[m.Position] = m.Symbol
		}
	}
	return b
}
