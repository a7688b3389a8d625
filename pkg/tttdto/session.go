package tttdto

import (
	"encoding/json"
	"time"
)

// Cell is "X", "O" or empty. Empty cells encode as JSON null.
type Cell string

func (c Cell) MarshalJSON() ([]byte, error) {
	if c == "" {
		return []byte("null"), nil
	}
	return json.Marshal(string(c))
}

func (c *Cell) UnmarshalJSON(b []byte) error {
	if string(b) == "null" {
		*c = ""
		return nil
	}
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	*c = Cell(s)
	return nil
}

type Player struct {
	PlayerID    string `json:"playerId"`
	UserID      string `json:"userId"`
	DisplayName string `json:"displayName"`
	Symbol      string `json:"symbol"`
	Connected   bool   `json:"connected"`
}

type Move struct {
	Symbol    string    `json:"symbol"`
	Position  int       `json:"position"`
	Timestamp time.Time `json:"timestamp"`
}

type ChatMessage struct {
	RoomID      string    `json:"roomId,omitempty"`
	DisplayName string    `json:"displayName"`
	Message     string    `json:"message"`
	Timestamp   time.Time `json:"timestamp"`
}

type Clocks struct {
	X float64 `json:"X"`
	O float64 `json:"O"`
}

// Session is the client view of a room. Connection ids never leave the server.
type Session struct {
	RoomID       string        `json:"roomId"`
	BoardSize    int           `json:"boardSize"`
	Board        []Cell        `json:"board"`
	Players      []Player      `json:"players"`
	CurrentTurn  string        `json:"currentTurn"`
	Status       string        `json:"status"`
	Winner       *string       `json:"winner"`
	WinningLine  []int         `json:"winningLine,omitempty"`
	EndReason    string        `json:"endReason,omitempty"`
	MoveLog      []Move        `json:"moveLog"`
	ChatLog      []ChatMessage `json:"chatLog"`
	TimeLimit    float64       `json:"timeLimit"`
	PlayerClocks Clocks        `json:"playerClocks"`
	Version      uint64        `json:"version"`
	CreatedAt    time.Time     `json:"createdAt"`
	UpdatedAt    time.Time     `json:"updatedAt"`
	FinishedAt   *time.Time    `json:"finishedAt,omitempty"`
}

type Stats struct {
	UserID      string `json:"userId"`
	DisplayName string `json:"displayName"`
	Wins        int    `json:"wins"`
	Losses      int    `json:"losses"`
	Draws       int    `json:"draws"`
	GamesPlayed int    `json:"gamesPlayed"`
}
