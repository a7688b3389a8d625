package protocol

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/park285/Cheese-TicTacToe/internal/auth"
	"github.com/park285/Cheese-TicTacToe/internal/msgcat"
	"github.com/park285/Cheese-TicTacToe/internal/obslog"
	"github.com/park285/Cheese-TicTacToe/internal/presence"
	"github.com/park285/Cheese-TicTacToe/internal/session"
	"github.com/park285/Cheese-TicTacToe/pkg/tttdto"
	"go.uber.org/zap"
)

// Conn is one client transport. Send must not block for long; the
// WebSocket implementation queues and drops when its buffer is full.
type Conn interface {
	ID() string
	Send(ctx context.Context, event string, data any) error
	Close(reason string) error
}

type Options struct {
	// MoveRejectionEvents sends moveRejected to the submitter of an invalid
	// move. Off by default: invalid moves produce no event.
	MoveRejectionEvents bool
	ChatMaxLength       int
	OpTimeout           time.Duration
	SendTimeout         time.Duration
	Logger              *zap.Logger
	Messages            *msgcat.Catalog
}

type client struct {
	conn Conn

	mu   sync.RWMutex
	user *auth.User
}

func (c *client) identity() (auth.User, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.user == nil {
		return auth.User{}, false
	}
	return *c.user, true
}

// Handler routes inbound events to the registry and fans results out to
// connected clients.
type Handler struct {
	reg      *session.Registry
	authn    auth.Authenticator
	presence *presence.Tracker
	msgs     *msgcat.Catalog
	logger   *zap.Logger
	opts     Options

	mu    sync.RWMutex
	conns map[string]*client
}

func NewHandler(reg *session.Registry, authn auth.Authenticator, tracker *presence.Tracker, opts Options) *Handler {
	if tracker == nil {
		tracker = presence.NewTracker()
	}
	if opts.Logger == nil {
		opts.Logger = obslog.L()
	}
	if opts.Messages == nil {
		opts.Messages = msgcat.Default()
	}
	if opts.ChatMaxLength <= 0 {
		opts.ChatMaxLength = 500
	}
	if opts.OpTimeout <= 0 {
		opts.OpTimeout = 5 * time.Second
	}
	if opts.SendTimeout <= 0 {
		opts.SendTimeout = 2 * time.Second
	}
	h := &Handler{
		reg:      reg,
		authn:    authn,
		presence: tracker,
		msgs:     opts.Messages,
		logger:   opts.Logger,
		opts:     opts,
		conns:    make(map[string]*client),
	}
	reg.SetExpiryHandler(h.onExpire)
	return h
}

func (h *Handler) Presence() *presence.Tracker { return h.presence }

// Connect makes c addressable for broadcasts. It is unauthenticated until
// an authenticate event succeeds.
func (h *Handler) Connect(c Conn) {
	h.mu.Lock()
	h.conns[c.ID()] = &client{conn: c}
	n := len(h.conns)
	h.mu.Unlock()
	h.logger.Debug("ws_connect", zap.String("conn_id", c.ID()), zap.Int("conns", n))
}

// Disconnect forgets connID, releases its seats and tells the remaining
// parties.
func (h *Handler) Disconnect(ctx context.Context, connID string) {
	h.mu.Lock()
	_, known := h.conns[connID]
	delete(h.conns, connID)
	h.mu.Unlock()
	if !known {
		return
	}
	_, wasOnline := h.presence.Unregister(connID)

	opCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), h.opts.OpTimeout)
	affected := h.reg.ReleaseConnection(opCtx, connID)
	cancel()
	for _, s := range affected {
		h.broadcast(ctx, s.ConnectionIDs(), tttdto.EventGameUpdate, tttdto.SessionEvent{Session: ProjectSession(s)})
	}
	if wasOnline {
		h.broadcastOnline(ctx)
	}
	h.logger.Debug("ws_disconnect", zap.String("conn_id", connID), zap.Int("rooms_affected", len(affected)))
}

// CloseAll closes every connection, used on shutdown.
func (h *Handler) CloseAll(reason string) {
	h.mu.RLock()
	conns := make([]Conn, 0, len(h.conns))
	for _, c := range h.conns {
		conns = append(conns, c.conn)
	}
	h.mu.RUnlock()
	for _, c := range conns {
		_ = c.Close(reason)
	}
}

// HandleMessage decodes one frame and dispatches it.
func (h *Handler) HandleMessage(ctx context.Context, connID string, raw []byte) {
	var env tttdto.Envelope
	if err := json.Unmarshal(raw, &env); err != nil || strings.TrimSpace(env.Event) == "" {
		h.logger.Debug("ws_bad_frame", zap.String("conn_id", connID), zap.Error(err))
		h.sendTo(ctx, connID, tttdto.EventError, h.reason("protocol.malformed", map[string]any{"event": "frame"}))
		return
	}
	h.Dispatch(ctx, connID, env)
}

// Dispatch runs a decoded event for connID.
func (h *Handler) Dispatch(ctx context.Context, connID string, env tttdto.Envelope) {
	h.mu.RLock()
	c := h.conns[connID]
	h.mu.RUnlock()
	if c == nil {
		return
	}

	if env.Event == tttdto.EventAuthenticate {
		h.handleAuthenticate(ctx, c, env.Data)
		return
	}
	switch env.Event {
	case tttdto.EventCreateRoom, tttdto.EventJoinRoom, tttdto.EventMakeMove, tttdto.EventChatMessage, tttdto.EventResign:
	default:
		h.sendTo(ctx, connID, tttdto.EventError, h.reason("protocol.unknown_event", map[string]any{"event": env.Event}))
		return
	}
	user, ok := c.identity()
	if !ok {
		h.logger.Info("ws_unauthenticated_event", zap.String("conn_id", connID), zap.String("event", env.Event))
		return
	}

	opCtx, cancel := context.WithTimeout(ctx, h.opts.OpTimeout)
	defer cancel()
	switch env.Event {
	case tttdto.EventCreateRoom:
		h.handleCreate(opCtx, c, user, env.Data)
	case tttdto.EventJoinRoom:
		h.handleJoin(opCtx, c, user, env.Data)
	case tttdto.EventMakeMove:
		h.handleMove(opCtx, c, env.Data)
	case tttdto.EventChatMessage:
		h.handleChat(opCtx, c, user, env.Data)
	case tttdto.EventResign:
		h.handleResign(opCtx, c, env.Data)
	}
}

func (h *Handler) handleAuthenticate(ctx context.Context, c *client, data json.RawMessage) {
	id := c.conn.ID()
	token, ok := decodeStringOr(data, func(b []byte) (string, error) {
		var req tttdto.AuthenticateRequest
		err := json.Unmarshal(b, &req)
		return req.Token, err
	})
	if !ok || token == "" {
		h.sendTo(ctx, id, tttdto.EventAuthError, h.reason("auth.invalid", nil))
		return
	}
	opCtx, cancel := context.WithTimeout(ctx, h.opts.OpTimeout)
	u, err := h.authn.Authenticate(opCtx, token)
	cancel()
	if err != nil {
		key := "auth.invalid"
		if !errors.Is(err, auth.ErrInvalidCredential) {
			key = "auth.unavailable"
		}
		h.logger.Info("ws_auth_failed", zap.String("conn_id", id), zap.Error(err))
		h.sendTo(ctx, id, tttdto.EventAuthError, h.reason(key, nil))
		return
	}

	// A connection keeps the seats it holds, so it cannot change users.
	c.mu.Lock()
	if c.user != nil && c.user.ID != u.ID {
		prev := c.user.ID
		c.mu.Unlock()
		h.logger.Warn("ws_auth_identity_switch", zap.String("conn_id", id), zap.String("user_id", prev), zap.String("attempted_user_id", u.ID))
		h.sendTo(ctx, id, tttdto.EventAuthError, h.reason("auth.identity_locked", nil))
		return
	}
	c.user = &u
	c.mu.Unlock()
	h.presence.Register(id, u.ID, u.Username)
	h.logger.Info("ws_authenticated", zap.String("conn_id", id), zap.String("user_id", u.ID))
	h.sendTo(ctx, id, tttdto.EventAuthenticated, tttdto.Authenticated{User: tttdto.User{ID: u.ID, Username: u.Username}})
	h.broadcastOnline(ctx)
}

func (h *Handler) handleCreate(ctx context.Context, c *client, u auth.User, data json.RawMessage) {
	id := c.conn.ID()
	var req tttdto.CreateRoomRequest
	if len(data) > 0 && string(data) != "null" {
		if err := json.Unmarshal(data, &req); err != nil {
			h.sendTo(ctx, id, tttdto.EventCreateError, h.reason("protocol.malformed", map[string]any{"event": tttdto.EventCreateRoom}))
			return
		}
	}
	s, err := h.reg.CreateRoom(ctx, identityOf(u), id, req.BoardSize)
	if err != nil && s == nil {
		h.logger.Info("ws_create_failed", zap.String("conn_id", id), zap.Error(err))
		h.sendTo(ctx, id, tttdto.EventCreateError, h.createReason(err))
		return
	}
	h.logPersist(err, s.RoomID)
	h.sendTo(ctx, id, tttdto.EventRoomCreated, tttdto.RoomCreated{RoomID: s.RoomID, Session: ProjectSession(s)})
}

func (h *Handler) handleJoin(ctx context.Context, c *client, u auth.User, data json.RawMessage) {
	id := c.conn.ID()
	roomID, ok := decodeStringOr(data, func(b []byte) (string, error) {
		var req tttdto.JoinRoomRequest
		err := json.Unmarshal(b, &req)
		return req.RoomID, err
	})
	if !ok || session.NormalizeRoomID(roomID) == "" {
		h.sendTo(ctx, id, tttdto.EventJoinError, h.reason("join.invalid", nil))
		return
	}
	s, err := h.reg.JoinRoom(ctx, roomID, identityOf(u), id)
	if err != nil && s == nil {
		h.logger.Info("ws_join_failed", zap.String("conn_id", id), zap.String("room_id", roomID), zap.Error(err))
		h.sendTo(ctx, id, tttdto.EventJoinError, h.joinReason(err))
		return
	}
	h.logPersist(err, s.RoomID)
	h.broadcast(ctx, s.ConnectionIDs(), tttdto.EventGameStart, tttdto.SessionEvent{Session: ProjectSession(s)})
}

func (h *Handler) handleMove(ctx context.Context, c *client, data json.RawMessage) {
	id := c.conn.ID()
	var req tttdto.MakeMoveRequest
	if err := json.Unmarshal(data, &req); err != nil || req.Position == nil || session.NormalizeRoomID(req.RoomID) == "" {
		h.logger.Debug("ws_move_malformed", zap.String("conn_id", id), zap.Error(err))
		h.rejectMove(ctx, id, req.RoomID, -1, "move.invalid", nil)
		return
	}
	pos := *req.Position
	s, err := h.reg.ApplyMove(ctx, req.RoomID, id, pos)
	if err != nil && s == nil {
		h.logger.Debug("ws_move_rejected", zap.String("conn_id", id), zap.String("room_id", req.RoomID), zap.Int("position", pos), zap.Error(err))
		key, data := moveReason(err, pos)
		h.rejectMove(ctx, id, req.RoomID, pos, key, data)
		return
	}
	h.logPersist(err, s.RoomID)
	h.broadcast(ctx, s.ConnectionIDs(), tttdto.EventGameUpdate, tttdto.SessionEvent{Session: ProjectSession(s)})
}

func (h *Handler) rejectMove(ctx context.Context, connID, roomID string, pos int, key string, data map[string]any) {
	if !h.opts.MoveRejectionEvents {
		return
	}
	h.sendTo(ctx, connID, tttdto.EventMoveRejected, tttdto.MoveRejected{
		RoomID:   session.NormalizeRoomID(roomID),
		Position: pos,
		Reason:   h.msgs.Text(key, data),
	})
}

func (h *Handler) handleChat(ctx context.Context, c *client, u auth.User, data json.RawMessage) {
	id := c.conn.ID()
	var req tttdto.ChatRequest
	if err := json.Unmarshal(data, &req); err != nil || session.NormalizeRoomID(req.RoomID) == "" {
		h.sendTo(ctx, id, tttdto.EventChatError, h.reason("protocol.malformed", map[string]any{"event": tttdto.EventChatMessage}))
		return
	}
	msg := strings.TrimSpace(req.Message)
	if msg == "" {
		h.sendTo(ctx, id, tttdto.EventChatError, h.reason("chat.empty", nil))
		return
	}
	if utf8.RuneCountInString(msg) > h.opts.ChatMaxLength {
		h.sendTo(ctx, id, tttdto.EventChatError, h.reason("chat.too_long", map[string]any{"max": h.opts.ChatMaxLength}))
		return
	}
	entry, members, err := h.reg.AppendChat(ctx, req.RoomID, identityOf(u), msg)
	if errors.Is(err, session.ErrRoomNotFound) {
		h.sendTo(ctx, id, tttdto.EventChatError, h.reason("chat.not_found", nil))
		return
	}
	roomID := session.NormalizeRoomID(req.RoomID)
	h.logPersist(err, roomID)
	targets := make([]string, 0, len(members))
	for _, p := range members {
		if p.ConnectionID != "" {
			targets = append(targets, p.ConnectionID)
		}
	}
	h.broadcast(ctx, targets, tttdto.EventNewChat, tttdto.ChatMessage{
		RoomID:      roomID,
		DisplayName: entry.DisplayName,
		Message:     entry.Message,
		Timestamp:   entry.Timestamp,
	})
}

func (h *Handler) handleResign(ctx context.Context, c *client, data json.RawMessage) {
	id := c.conn.ID()
	roomID, ok := decodeStringOr(data, func(b []byte) (string, error) {
		var req tttdto.ResignRequest
		err := json.Unmarshal(b, &req)
		return req.RoomID, err
	})
	if !ok || session.NormalizeRoomID(roomID) == "" {
		return
	}
	s, err := h.reg.Resign(ctx, roomID, id)
	if err != nil && s == nil {
		h.logger.Debug("ws_resign_rejected", zap.String("conn_id", id), zap.String("room_id", roomID), zap.Error(err))
		return
	}
	h.logPersist(err, s.RoomID)
	h.broadcast(ctx, s.ConnectionIDs(), tttdto.EventGameUpdate, tttdto.SessionEvent{Session: ProjectSession(s)})
}

func (h *Handler) onExpire(s *session.Session) {
	h.broadcast(context.Background(), s.ConnectionIDs(), tttdto.EventGameUpdate, tttdto.SessionEvent{Session: ProjectSession(s)})
}

func (h *Handler) broadcastOnline(ctx context.Context) {
	roster := ProjectOnline(h.presence.ListOnline())
	h.mu.RLock()
	ids := make([]string, 0, len(h.conns))
	for id := range h.conns {
		ids = append(ids, id)
	}
	h.mu.RUnlock()
	h.broadcast(ctx, ids, tttdto.EventOnlineUsers, roster)
}

func (h *Handler) broadcast(ctx context.Context, connIDs []string, event string, data any) {
	for _, id := range connIDs {
		h.sendTo(ctx, id, event, data)
	}
}

func (h *Handler) sendTo(ctx context.Context, connID, event string, data any) {
	h.mu.RLock()
	c := h.conns[connID]
	h.mu.RUnlock()
	if c == nil {
		return
	}
	sendCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), h.opts.SendTimeout)
	defer cancel()
	if err := c.conn.Send(sendCtx, event, data); err != nil {
		h.logger.Warn("ws_send_failed", zap.String("conn_id", connID), zap.String("event", event), zap.Error(err))
	}
}

func (h *Handler) logPersist(err error, roomID string) {
	if err != nil {
		h.logger.Warn("ws_persist_degraded", zap.String("room_id", roomID), zap.Error(err))
	}
}

func (h *Handler) reason(key string, data map[string]any) tttdto.Error {
	return tttdto.Error{Reason: h.msgs.Text(key, data)}
}

func (h *Handler) createReason(err error) tttdto.Error {
	switch {
	case errors.Is(err, session.ErrInvalidBoardSize):
		cfg := h.reg.Config()
		return h.reason("room.invalid_board_size", map[string]any{"min": cfg.MinBoardSize, "max": cfg.MaxBoardSize})
	case errors.Is(err, session.ErrCodeExhausted):
		return h.reason("room.code_exhausted", nil)
	default:
		return h.reason("room.create_failed", nil)
	}
}

func (h *Handler) joinReason(err error) tttdto.Error {
	switch {
	case errors.Is(err, session.ErrRoomNotFound):
		return h.reason("join.not_found", nil)
	case errors.Is(err, session.ErrRoomFull):
		return h.reason("join.full", nil)
	case errors.Is(err, session.ErrAlreadyJoined):
		return h.reason("join.already_joined", nil)
	default:
		return h.reason("protocol.internal", nil)
	}
}

func moveReason(err error, pos int) (string, map[string]any) {
	switch {
	case errors.Is(err, session.ErrRoomNotFound), errors.Is(err, session.ErrNotPlaying):
		return "move.not_playing", nil
	case errors.Is(err, session.ErrNotInRoom):
		return "move.not_in_room", nil
	case errors.Is(err, session.ErrNotYourTurn):
		return "move.not_your_turn", nil
	case errors.Is(err, session.ErrCellOccupied):
		return "move.cell_occupied", nil
	case errors.Is(err, session.ErrPositionOutOfRange):
		return "move.out_of_range", map[string]any{"position": pos}
	default:
		return "protocol.internal", nil
	}
}

func identityOf(u auth.User) session.Identity {
	return session.Identity{UserID: u.ID, DisplayName: u.Username}
}

// decodeStringOr accepts a bare JSON string or falls back to obj for an
// object payload.
func decodeStringOr(data json.RawMessage, obj func([]byte) (string, error)) (string, bool) {
	if len(data) == 0 {
		return "", false
	}
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		return strings.TrimSpace(s), true
	}
	v, err := obj(data)
	if err != nil {
		return "", false
	}
	return strings.TrimSpace(v), true
}
