package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/park285/Cheese-TicTacToe/internal/ai"
	"github.com/park285/Cheese-TicTacToe/internal/auth"
	"github.com/park285/Cheese-TicTacToe/internal/board"
	"github.com/park285/Cheese-TicTacToe/internal/obslog"
	"github.com/park285/Cheese-TicTacToe/internal/presence"
	"github.com/park285/Cheese-TicTacToe/internal/protocol"
	"github.com/park285/Cheese-TicTacToe/internal/render"
	"github.com/park285/Cheese-TicTacToe/internal/session"
	"github.com/park285/Cheese-TicTacToe/pkg/tttdto"
	"go.uber.org/zap"
)

type Deps struct {
	Registry *session.Registry
	Presence *presence.Tracker
	Auth     auth.Authenticator
	AI       *ai.Engine
	// WS serves /ws; omitted in tests that only exercise REST.
	WS     http.Handler
	Logger *zap.Logger
}

type api struct {
	reg      *session.Registry
	presence *presence.Tracker
	authn    auth.Authenticator
	engine   *ai.Engine
	logger   *zap.Logger
}

// NewRouter builds the HTTP surface: health, lobby and history reads, the
// board image, the local AI endpoint and the WebSocket upgrade.
func NewRouter(d Deps) http.Handler {
	if d.Logger == nil {
		d.Logger = obslog.L()
	}
	if d.AI == nil {
		d.AI = ai.NewEngine()
	}
	if d.Presence == nil {
		d.Presence = presence.NewTracker()
	}
	a := &api{reg: d.Registry, presence: d.Presence, authn: d.Auth, engine: d.AI, logger: d.Logger}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", a.health)
	mux.HandleFunc("GET /api/rooms", a.requireUser(a.listRooms))
	mux.HandleFunc("GET /api/rooms/{roomId}", a.requireUser(a.getRoom))
	mux.HandleFunc("GET /api/rooms/{roomId}/board.png", a.boardPNG)
	mux.HandleFunc("GET /api/history", a.requireUser(a.history))
	mux.HandleFunc("GET /api/stats", a.requireUser(a.stats))
	mux.HandleFunc("GET /api/online", a.online)
	mux.HandleFunc("POST /api/ai/move", a.aiMove)
	if d.WS != nil {
		mux.Handle("GET /ws", d.WS)
	}
	return withRecover(d.Logger, withRequestLog(d.Logger, mux))
}

func (a *api) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (a *api) requireUser(next func(http.ResponseWriter, *http.Request, auth.User)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		token := auth.BearerToken(r.Header.Get("Authorization"))
		if token == "" || a.authn == nil {
			writeError(w, http.StatusUnauthorized, "missing bearer token")
			return
		}
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		u, err := a.authn.Authenticate(ctx, token)
		cancel()
		if err != nil {
			if errors.Is(err, auth.ErrInvalidCredential) {
				writeError(w, http.StatusUnauthorized, "invalid credential")
				return
			}
			a.logger.Warn("http_auth_unavailable", zap.Error(err))
			writeError(w, http.StatusServiceUnavailable, "authentication unavailable")
			return
		}
		next(w, r, u)
	}
}

func (a *api) listRooms(w http.ResponseWriter, r *http.Request, _ auth.User) {
	writeJSON(w, http.StatusOK, map[string]any{"rooms": protocol.ProjectSessions(a.reg.ListWaiting())})
}

func (a *api) getRoom(w http.ResponseWriter, r *http.Request, _ auth.User) {
	s, ok := a.find(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, protocol.ProjectSession(s))
}

func (a *api) find(w http.ResponseWriter, r *http.Request) (*session.Session, bool) {
	s, err := a.reg.Find(r.Context(), r.PathValue("roomId"))
	switch {
	case errors.Is(err, session.ErrRoomNotFound):
		writeError(w, http.StatusNotFound, "room not found")
		return nil, false
	case err != nil:
		a.logger.Error("http_room_lookup_failed", zap.String("room_id", r.PathValue("roomId")), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "lookup failed")
		return nil, false
	}
	return s, true
}

func (a *api) boardPNG(w http.ResponseWriter, r *http.Request) {
	s, ok := a.find(w, r)
	if !ok {
		return
	}
	opts := render.Options{WinningLine: s.WinningLine, Header: boardHeader(s), ShowIndices: s.Status != session.StatusFinished}
	if n := len(s.Moves); n > 0 {
		last := s.Moves[n-1].Position
		opts.LastMove = &last
	}
	img, err := render.RenderPNG(r.Context(), s.Board, opts)
	if err != nil {
		a.logger.Error("http_render_failed", zap.String("room_id", s.RoomID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "render failed")
		return
	}
	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(img)
}

func boardHeader(s *session.Session) string {
	switch s.Status {
	case session.StatusWaiting:
		return s.RoomID + "  waiting for opponent"
	case session.StatusPlaying:
		return s.RoomID + "  " + string(s.CurrentTurn) + " to move"
	}
	if s.Winner == session.WinnerDraw {
		return s.RoomID + "  draw"
	}
	return s.RoomID + "  " + string(s.Winner) + " wins (" + string(s.EndReason) + ")"
}

func (a *api) history(w http.ResponseWriter, r *http.Request, u auth.User) {
	limit := 0
	if raw := strings.TrimSpace(r.URL.Query().Get("limit")); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "limit must be a non-negative integer")
			return
		}
		limit = n
	}
	list, err := a.reg.History(r.Context(), u.ID, limit)
	if err != nil {
		a.logger.Error("http_history_failed", zap.String("user_id", u.ID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "history unavailable")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"games": protocol.ProjectSessions(list)})
}

func (a *api) stats(w http.ResponseWriter, r *http.Request, u auth.User) {
	st, err := a.reg.Stats(r.Context(), u.ID)
	switch {
	case errors.Is(err, session.ErrNoRepository):
		writeError(w, http.StatusNotImplemented, "stats are not enabled")
		return
	case err != nil:
		a.logger.Error("http_stats_failed", zap.String("user_id", u.ID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "stats unavailable")
		return
	}
	if st == nil {
		st = &session.PlayerStats{UserID: u.ID, DisplayName: u.Username}
	}
	writeJSON(w, http.StatusOK, protocol.ProjectStats(st))
}

func (a *api) online(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"users": protocol.ProjectOnline(a.presence.ListOnline())})
}

func (a *api) aiMove(w http.ResponseWriter, r *http.Request) {
	var req tttdto.AIMoveRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 16<<10))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed request body")
		return
	}
	b, aiSym, oppSym, diff, err := a.validateAIMove(req)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	pos, ok := a.engine.SelectMove(b, aiSym, oppSym, req.BoardSize, diff)
	if !ok {
		writeJSON(w, http.StatusOK, tttdto.AIMoveResponse{})
		return
	}
	writeJSON(w, http.StatusOK, tttdto.AIMoveResponse{Position: &pos})
}

func (a *api) validateAIMove(req tttdto.AIMoveRequest) (board.Board, board.Symbol, board.Symbol, ai.Difficulty, error) {
	maxSize := board.MaxSize
	if a.reg != nil {
		maxSize = a.reg.Config().MaxBoardSize
	}
	if req.BoardSize < board.MinSize || req.BoardSize > maxSize {
		return nil, "", "", "", errors.New("boardSize out of range")
	}
	if len(req.Board) != req.BoardSize*req.BoardSize {
		return nil, "", "", "", errors.New("board length must equal boardSize squared")
	}
	aiSym, ok1 := board.ParseSymbol(req.AISymbol)
	oppSym, ok2 := board.ParseSymbol(req.OpponentSymbol)
	if !ok1 || !ok2 || aiSym == oppSym {
		return nil, "", "", "", errors.New("aiSymbol and opponentSymbol must be X and O")
	}
	diff, err := ai.ParseDifficulty(req.Difficulty)
	if err != nil {
		return nil, "", "", "", err
	}
	b := make(board.Board, len(req.Board))
	for i, c := range req.Board {
		if c == "" {
			continue
		}
		sym, ok := board.ParseSymbol(string(c))
		if !ok {
			return nil, "", "", "", errors.New("board cells must be X, O or null")
		}
		b[i] = sym
	}
	return b, aiSym, oppSym, diff, nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
