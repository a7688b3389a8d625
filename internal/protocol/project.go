package protocol

import (
	"github.com/park285/Cheese-TicTacToe/internal/presence"
	"github.com/park285/Cheese-TicTacToe/internal/session"
	"github.com/park285/Cheese-TicTacToe/pkg/tttdto"
)

// ProjectSession converts a registry snapshot to its client view.
func ProjectSession(s *session.Session) tttdto.Session {
	out := tttdto.Session{
		RoomID:       s.RoomID,
		BoardSize:    s.BoardSize,
		Board:        make([]tttdto.Cell, len(s.Board)),
		Players:      make([]tttdto.Player, 0, len(s.Players)),
		CurrentTurn:  string(s.CurrentTurn),
		Status:       string(s.Status),
		WinningLine:  s.WinningLine,
		EndReason:    string(s.EndReason),
		MoveLog:      make([]tttdto.Move, 0, len(s.Moves)),
		ChatLog:      make([]tttdto.ChatMessage, 0, len(s.Chat)),
		TimeLimit:    s.TimeLimit,
		PlayerClocks: tttdto.Clocks{X: s.PlayerClocks.X, O: s.PlayerClocks.O},
		Version:      s.Version,
		CreatedAt:    s.CreatedAt,
		UpdatedAt:    s.UpdatedAt,
	}
	for i, c := range s.Board {
		out.Board[i] = tttdto.Cell(c)
	}
	for _, p := range s.Players {
		out.Players = append(out.Players, tttdto.Player{
			PlayerID:    p.PlayerID,
			UserID:      p.UserID,
			DisplayName: p.DisplayName,
			Symbol:      string(p.Symbol),
			Connected:   p.ConnectionID != "",
		})
	}
	for _, m := range s.Moves {
		out.MoveLog = append(out.MoveLog, tttdto.Move{Symbol: string(m.Symbol), Position: m.Position, Timestamp: m.Timestamp})
	}
	for _, c := range s.Chat {
		out.ChatLog = append(out.ChatLog, tttdto.ChatMessage{DisplayName: c.DisplayName, Message: c.Message, Timestamp: c.Timestamp})
	}
	if s.Winner != session.WinnerNone {
		w := string(s.Winner)
		out.Winner = &w
	}
	if !s.FinishedAt.IsZero() {
		t := s.FinishedAt
		out.FinishedAt = &t
	}
	return out
}

func ProjectSessions(list []*session.Session) []tttdto.Session {
	out := make([]tttdto.Session, 0, len(list))
	for _, s := range list {
		out = append(out, ProjectSession(s))
	}
	return out
}

func ProjectOnline(entries []presence.Entry) []tttdto.OnlineUser {
	out := make([]tttdto.OnlineUser, 0, len(entries))
	for _, e := range entries {
		out = append(out, tttdto.OnlineUser{ConnectionID: e.ConnectionID, UserID: e.UserID, DisplayName: e.DisplayName})
	}
	return out
}

func ProjectStats(s *session.PlayerStats) tttdto.Stats {
	return tttdto.Stats{
		UserID:      s.UserID,
		DisplayName: s.DisplayName,
		Wins:        s.Wins,
		Losses:      s.Losses,
		Draws:       s.Draws,
		GamesPlayed: s.GamesPlayed,
	}
}
