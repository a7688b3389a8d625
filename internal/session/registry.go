package session

import (
    "context"
    "errors"
    "fmt"
    "math"
    "sort"
    "strings"
    "sync"
    "time"

    "github.com/google/uuid"
    "github.com/park285/Cheese-TicTacToe/internal/board"
    "github.com/park285/Cheese-TicTacToe/internal/obslog"
    "go.uber.org/zap"
)

// Config bounds room creation and the turn clock.
type Config struct {
    DefaultBoardSize int
    MinBoardSize     int
    MaxBoardSize     int
    // TimeLimit is each player's total budget.
    TimeLimit time.Duration
    // EnforceClock arms a server-side timer that forfeits the player on turn
    // when their budget runs out.
    EnforceClock    bool
    CodeLength      int
    CodeAttempts    int
    HistoryLimit    int
    MaxHistoryLimit int
    PersistTimeout  time.Duration
    // FinishedRetention keeps a finished room live so late events still
    // resolve; afterwards it is served from the store. Zero evicts at once.
    FinishedRetention time.Duration
}

func DefaultConfig() Config {
    return Config{
        DefaultBoardSize: 3,
        MinBoardSize:     board.MinSize,
        MaxBoardSize:     7,
        TimeLimit:        60 * time.Second,
        CodeLength:       6,
        CodeAttempts:     16,
        HistoryLimit:     20,
        MaxHistoryLimit:  50,
        PersistTimeout:   5 * time.Second,

        FinishedRetention: 30 * time.Second,
    }
}

func (c Config) normalized() Config {
    d := DefaultConfig()
    if c.MinBoardSize < board.MinSize { c.MinBoardSize = board.MinSize }
    if c.MaxBoardSize <= 0 || c.MaxBoardSize > board.MaxSize { c.MaxBoardSize = board.MaxSize }
    if c.MaxBoardSize < c.MinBoardSize { c.MaxBoardSize = c.MinBoardSize }
    if c.DefaultBoardSize < c.MinBoardSize || c.DefaultBoardSize > c.MaxBoardSize { c.DefaultBoardSize = c.MinBoardSize }
    if c.TimeLimit <= 0 { c.TimeLimit = d.TimeLimit }
    if c.CodeLength <= 0 { c.CodeLength = d.CodeLength }
    if c.CodeAttempts <= 0 { c.CodeAttempts = d.CodeAttempts }
    if c.HistoryLimit <= 0 { c.HistoryLimit = d.HistoryLimit }
    if c.MaxHistoryLimit <= 0 { c.MaxHistoryLimit = d.MaxHistoryLimit }
    if c.MaxHistoryLimit < c.HistoryLimit { c.MaxHistoryLimit = c.HistoryLimit }
    if c.PersistTimeout <= 0 { c.PersistTimeout = d.PersistTimeout }
    if c.FinishedRetention < 0 { c.FinishedRetention = 0 }
    return c
}

type Option func(*Registry)

func WithLogger(l *zap.Logger) Option {
    return func(r *Registry) { if l != nil { r.logger = l } }
}

// WithClock replaces time.Now for timestamps and clock accounting.
func WithClock(now func() time.Time) Option {
    return func(r *Registry) { if now != nil { r.now = now } }
}

// WithCodeGenerator replaces the random room code source.
func WithCodeGenerator(gen func() (string, error)) Option {
    return func(r *Registry) { if gen != nil { r.codeGen = gen } }
}

// room owns one session. mu serializes every mutation of the session.
type room struct {
    mu      sync.Mutex
    sess    *Session
    timer   *time.Timer
    turnSeq uint64
}

// Registry is the authoritative owner of all live sessions. Mutations of
// one room are serialized by that room's lock; the map lock is held only
// for lookup and insertion.
type Registry struct {
    cfg     Config
    store   Store
    repo    ResultRepository
    logger  *zap.Logger
    now     func() time.Time
    codeGen func() (string, error)

    mu     sync.RWMutex
    rooms  map[string]*room
    closed bool

    hookMu   sync.RWMutex
    onExpire func(*Session)
}

func NewRegistry(store Store, cfg Config, opts ...Option) *Registry {
    if store == nil { store = NewMemoryStore() }
    r := &Registry{
        cfg:    cfg.normalized(),
        store:  store,
        logger: obslog.L(),
        now:    time.Now,
        rooms:  make(map[string]*room),
    }
    r.codeGen = func() (string, error) { return codeGen(r.cfg.CodeLength) }
    for _, o := range opts { o(r) }
    return r
}

// AttachRepository wires a results repository for finished sessions.
func (r *Registry) AttachRepository(repo ResultRepository) {
    if r != nil {
        r.repo = repo
    }
}

// SetExpiryHandler registers fn to receive sessions finished by the turn clock.
func (r *Registry) SetExpiryHandler(fn func(*Session)) {
    r.hookMu.Lock()
    r.onExpire = fn
    r.hookMu.Unlock()
}

func (r *Registry) Config() Config { return r.cfg }

// Close stops all turn timers. Later mutations fail with ErrClosed.
func (r *Registry) Close() {
    r.mu.Lock()
    r.closed = true
    rooms := make([]*room, 0, len(r.rooms))
    for _, rm := range r.rooms { rooms = append(rooms, rm) }
    r.mu.Unlock()
    for _, rm := range rooms {
        rm.mu.Lock()
        r.stopTimerLocked(rm)
        rm.mu.Unlock()
    }
}

func (r *Registry) lookup(roomID string) *room {
    id := NormalizeRoomID(roomID)
    if id == "" { return nil }
    r.mu.RLock()
    defer r.mu.RUnlock()
    return r.rooms[id]
}

// CreateRoom opens a waiting room with the creator seated as X.
func (r *Registry) CreateRoom(ctx context.Context, creator Identity, connID string, boardSize int) (*Session, error) {
    creator.UserID = strings.TrimSpace(creator.UserID)
    if creator.UserID == "" { return nil, fmt.Errorf("create room: creator identity required") }
    if boardSize == 0 { boardSize = r.cfg.DefaultBoardSize }
    if boardSize < r.cfg.MinBoardSize || boardSize > r.cfg.MaxBoardSize {
        return nil, fmt.Errorf("%w: %d not in [%d,%d]", ErrInvalidBoardSize, boardSize, r.cfg.MinBoardSize, r.cfg.MaxBoardSize)
    }
    cells, err := board.New(boardSize)
    if err != nil { return nil, fmt.Errorf("%w: %v", ErrInvalidBoardSize, err) }

    now := r.now()
    budget := r.cfg.TimeLimit.Seconds()
    s := &Session{
        BoardSize:    boardSize,
        Board:        cells,
        Players:      []Player{{PlayerID: uuid.NewString(), UserID: creator.UserID, DisplayName: strings.TrimSpace(creator.DisplayName), Symbol: board.X, ConnectionID: connID}},
        CurrentTurn:  board.X,
        Status:       StatusWaiting,
        Moves:        []MoveEntry{},
        Chat:         []ChatEntry{},
        TimeLimit:    budget,
        PlayerClocks: Clocks{X: budget, O: budget},
        Version:      1,
        CreatedAt:    now,
        UpdatedAt:    now,
    }
    rm := &room{sess: s}
    // Held until the first write lands so a racing join waits for it.
    rm.mu.Lock()
    defer rm.mu.Unlock()

    id, err := r.insert(ctx, rm)
    if err != nil { return nil, err }

    r.logger.Info("room_created",
        zap.String("room_id", id),
        zap.String("user_id", creator.UserID),
        zap.Int("board_size", boardSize),
    )
    snap := s.Clone()
    return snap, r.persist(ctx, s, "create")
}

// insert allocates a code unused by live rooms and by storage, then
// publishes rm under it.
func (r *Registry) insert(ctx context.Context, rm *room) (string, error) {
    for attempt := 0; attempt < r.cfg.CodeAttempts; attempt++ {
        code, err := r.codeGen()
        if err != nil { return "", err }
        code = NormalizeRoomID(code)
        if code == "" { continue }
        r.mu.RLock()
        _, live := r.rooms[code]
        closed := r.closed
        r.mu.RUnlock()
        if closed { return "", ErrClosed }
        if live { continue }
        ok, err := r.store.Reserve(ctx, code)
        if err != nil { return "", fmt.Errorf("reserve room code: %w", err) }
        if !ok {
            r.logger.Debug("room_code_collision", zap.String("code", code), zap.Int("attempt", attempt))
            continue
        }
        r.mu.Lock()
        if _, live := r.rooms[code]; live || r.closed {
            r.mu.Unlock()
            continue
        }
        rm.sess.RoomID = code
        r.rooms[code] = rm
        r.mu.Unlock()
        return code, nil
    }
    return "", ErrCodeExhausted
}

// JoinRoom seats joiner as O and starts the game.
func (r *Registry) JoinRoom(ctx context.Context, roomID string, joiner Identity, connID string) (*Session, error) {
    rm := r.lookup(roomID)
    if rm == nil { return nil, ErrRoomNotFound }
    joiner.UserID = strings.TrimSpace(joiner.UserID)
    if joiner.UserID == "" { return nil, fmt.Errorf("join room: joiner identity required") }

    rm.mu.Lock()
    defer rm.mu.Unlock()
    s := rm.sess
    if len(s.Players) >= 2 { return nil, ErrRoomFull }
    if s.Status != StatusWaiting { return nil, ErrRoomNotFound }
    if s.HasUser(joiner.UserID) { return nil, ErrAlreadyJoined }

    now := r.now()
    s.Players = append(s.Players, Player{
        PlayerID:     uuid.NewString(),
        UserID:       joiner.UserID,
        DisplayName:  strings.TrimSpace(joiner.DisplayName),
        Symbol:       board.O,
        ConnectionID: connID,
    })
    s.Status = StatusPlaying
    s.CurrentTurn = board.X
    s.TurnStartedAt = now
    r.touch(s, now)
    r.armTimerLocked(rm)

    r.logger.Info("room_joined", zap.String("room_id", s.RoomID), zap.String("user_id", joiner.UserID))
    snap := s.Clone()
    return snap, r.persist(ctx, s, "join")
}

// ApplyMove places the symbol of the seat bound to connID at position.
func (r *Registry) ApplyMove(ctx context.Context, roomID, connID string, position int) (*Session, error) {
    rm := r.lookup(roomID)
    if rm == nil { return nil, ErrRoomNotFound }

    rm.mu.Lock()
    defer rm.mu.Unlock()
    s := rm.sess
    if s.Status != StatusPlaying { return nil, ErrNotPlaying }
    p := s.PlayerByConnection(connID)
    if p == nil { return nil, ErrNotInRoom }
    if !s.Board.InRange(position) { return nil, ErrPositionOutOfRange }
    if s.Board[position] != board.Empty { return nil, ErrCellOccupied }
    if p.Symbol != s.CurrentTurn { return nil, ErrNotYourTurn }

    now := r.now()
    sym := p.Symbol
    r.chargeClock(s, sym, now)
    s.Board[position] = sym
    s.Moves = append(s.Moves, MoveEntry{Symbol: sym, Position: position, Timestamp: now})

    out := board.DetectOutcome(s.Board, s.BoardSize)
    switch out.Result {
    case board.Win:
        r.finishLocked(rm, winnerOf(out.Winner), EndLine, out.Line, now)
    case board.Draw:
        r.finishLocked(rm, WinnerDraw, EndDraw, nil, now)
    default:
        s.CurrentTurn = sym.Opponent()
        s.TurnStartedAt = now
        r.armTimerLocked(rm)
    }
    r.touch(s, now)

    r.logger.Info("move_applied",
        zap.String("room_id", s.RoomID),
        zap.String("symbol", string(sym)),
        zap.Int("position", position),
        zap.Int("move_no", len(s.Moves)),
        zap.String("status", string(s.Status)),
    )
    snap := s.Clone()
    return snap, r.settleLocked(ctx, rm, "move")
}

// Resign ends the game in favor of the opponent of the seat bound to connID.
func (r *Registry) Resign(ctx context.Context, roomID, connID string) (*Session, error) {
    rm := r.lookup(roomID)
    if rm == nil { return nil, ErrRoomNotFound }

    rm.mu.Lock()
    defer rm.mu.Unlock()
    s := rm.sess
    if s.Status != StatusPlaying { return nil, ErrNotPlaying }
    p := s.PlayerByConnection(connID)
    if p == nil { return nil, ErrNotInRoom }

    now := r.now()
    if p.Symbol == s.CurrentTurn { r.chargeClock(s, p.Symbol, now) }
    r.finishLocked(rm, winnerOf(p.Symbol.Opponent()), EndResign, nil, now)
    r.touch(s, now)
    snap := s.Clone()
    return snap, r.settleLocked(ctx, rm, "resign")
}

// AppendChat adds a chat line. It returns the entry and the seats to notify.
func (r *Registry) AppendChat(ctx context.Context, roomID string, author Identity, message string) (ChatEntry, []Player, error) {
    rm := r.lookup(roomID)
    if rm == nil { return ChatEntry{}, nil, ErrRoomNotFound }

    rm.mu.Lock()
    defer rm.mu.Unlock()
    s := rm.sess
    now := r.now()
    entry := ChatEntry{DisplayName: strings.TrimSpace(author.DisplayName), Message: message, Timestamp: now}
    s.Chat = append(s.Chat, entry)
    r.touch(s, now)
    members := append([]Player(nil), s.Players...)
    return entry, members, r.persist(ctx, s, "chat")
}

// ReleaseConnection unbinds connID from every seat it holds. Waiting rooms
// left without their creator are closed; the snapshots of affected rooms in
// play are returned so the opponent can be told.
func (r *Registry) ReleaseConnection(ctx context.Context, connID string) []*Session {
    if connID == "" { return nil }
    r.mu.RLock()
    rooms := make([]*room, 0, len(r.rooms))
    for _, rm := range r.rooms { rooms = append(rooms, rm) }
    r.mu.RUnlock()

    var affected []*Session
    for _, rm := range rooms {
        rm.mu.Lock()
        s := rm.sess
        p := s.PlayerByConnection(connID)
        if p == nil {
            rm.mu.Unlock()
            continue
        }
        p.ConnectionID = ""
        r.touch(s, r.now())
        switch s.Status {
        case StatusWaiting:
            r.evict(s.RoomID, rm)
            r.logger.Info("room_abandoned", zap.String("room_id", s.RoomID))
        case StatusPlaying:
            affected = append(affected, s.Clone())
        }
        _ = r.persist(ctx, s, "release")
        rm.mu.Unlock()
    }
    return affected
}

// Get returns a snapshot of a live room.
func (r *Registry) Get(roomID string) (*Session, bool) {
    rm := r.lookup(roomID)
    if rm == nil { return nil, false }
    rm.mu.Lock()
    defer rm.mu.Unlock()
    return rm.sess.Clone(), true
}

// Find looks in the live map first and falls back to storage.
func (r *Registry) Find(ctx context.Context, roomID string) (*Session, error) {
    if s, ok := r.Get(roomID); ok { return s, nil }
    id := NormalizeRoomID(roomID)
    if id == "" { return nil, ErrRoomNotFound }
    s, err := r.store.Load(ctx, id)
    if err != nil { return nil, err }
    if s == nil { return nil, ErrRoomNotFound }
    return s, nil
}

// ListWaiting returns open rooms with a free seat, newest first.
func (r *Registry) ListWaiting() []*Session {
    r.mu.RLock()
    rooms := make([]*room, 0, len(r.rooms))
    for _, rm := range r.rooms { rooms = append(rooms, rm) }
    r.mu.RUnlock()
    out := make([]*Session, 0)
    for _, rm := range rooms {
        rm.mu.Lock()
        if rm.sess.Status == StatusWaiting && len(rm.sess.Players) < 2 {
            out = append(out, rm.sess.Clone())
        }
        rm.mu.Unlock()
    }
    sort.Slice(out, func(i, j int) bool {
        if !out[i].CreatedAt.Equal(out[j].CreatedAt) { return out[i].CreatedAt.After(out[j].CreatedAt) }
        return out[i].RoomID < out[j].RoomID
    })
    return out
}

// History lists finished sessions of userID, most recent first.
func (r *Registry) History(ctx context.Context, userID string, limit int) ([]*Session, error) {
    if limit <= 0 { limit = r.cfg.HistoryLimit }
    if limit > r.cfg.MaxHistoryLimit { limit = r.cfg.MaxHistoryLimit }
    return r.store.FinishedByUser(ctx, userID, limit)
}

func (r *Registry) Stats(ctx context.Context, userID string) (*PlayerStats, error) {
    if r.repo == nil { return nil, ErrNoRepository }
    return r.repo.Stats(ctx, userID)
}

func (r *Registry) touch(s *Session, now time.Time) {
    s.UpdatedAt = now
    s.Version++
}

// chargeClock deducts the time spent on the current turn from sym's budget.
func (r *Registry) chargeClock(s *Session, sym board.Symbol, now time.Time) {
    if s.TurnStartedAt.IsZero() { return }
    spent := now.Sub(s.TurnStartedAt).Seconds()
    if spent < 0 { spent = 0 }
    left := s.PlayerClocks.Get(sym) - spent
    s.PlayerClocks.Set(sym, math.Round(left*1000)/1000)
}

func (r *Registry) finishLocked(rm *room, w Winner, reason EndReason, line []int, now time.Time) {
    s := rm.sess
    s.Status = StatusFinished
    s.Winner = w
    s.EndReason = reason
    s.WinningLine = line
    s.FinishedAt = now
    r.stopTimerLocked(rm)
    r.logger.Info("room_finished",
        zap.String("room_id", s.RoomID),
        zap.String("winner", string(w)),
        zap.String("reason", string(reason)),
        zap.Int("moves", len(s.Moves)),
    )
}

func (r *Registry) armTimerLocked(rm *room) {
    r.stopTimerLocked(rm)
    s := rm.sess
    if !r.cfg.EnforceClock || s.Status != StatusPlaying { return }
    seq := rm.turnSeq
    id := s.RoomID
    left := time.Duration(s.PlayerClocks.Get(s.CurrentTurn) * float64(time.Second))
    if left < 0 { left = 0 }
    rm.timer = time.AfterFunc(left, func() { r.expire(id, seq) })
}

func (r *Registry) stopTimerLocked(rm *room) {
    rm.turnSeq++
    if rm.timer != nil {
        rm.timer.Stop()
        rm.timer = nil
    }
}

// expire forfeits the player on turn when the timer armed at seq fires.
func (r *Registry) expire(roomID string, seq uint64) {
    r.mu.RLock()
    rm := r.rooms[roomID]
    r.mu.RUnlock()
    if rm == nil { return }

    rm.mu.Lock()
    s := rm.sess
    if rm.turnSeq != seq || s.Status != StatusPlaying {
        rm.mu.Unlock()
        return
    }
    rm.timer = nil
    now := r.now()
    loser := s.CurrentTurn
    s.PlayerClocks.Set(loser, 0)
    r.finishLocked(rm, winnerOf(loser.Opponent()), EndTimeout, nil, now)
    r.touch(s, now)
    snap := s.Clone()
    ctx, cancel := context.WithTimeout(context.Background(), r.cfg.PersistTimeout)
    if err := r.settleLocked(ctx, rm, "timeout"); err != nil {
        r.logger.Warn("room_timeout_persist_error", zap.String("room_id", roomID), zap.Error(err))
    }
    cancel()
    rm.mu.Unlock()

    r.logger.Info("room_timeout", zap.String("room_id", roomID), zap.String("loser", string(loser)))
    r.hookMu.RLock()
    fn := r.onExpire
    r.hookMu.RUnlock()
    if fn != nil { fn(snap) }
}

// persist writes the session document. Callers hold the room lock so that
// storage order follows commit order.
func (r *Registry) persist(ctx context.Context, s *Session, op string) error {
    if err := r.store.Save(ctx, s); err != nil {
        r.logger.Error("room_persist_error", zap.String("room_id", s.RoomID), zap.String("op", op), zap.Error(err))
        return &PersistError{RoomID: s.RoomID, Op: op, Err: err}
    }
    return nil
}

// settleLocked writes the document and, once finished, the result record.
// A finished room whose document landed leaves the live map after
// FinishedRetention; one whose write failed stays live as the only copy.
func (r *Registry) settleLocked(ctx context.Context, rm *room, op string) error {
    s := rm.sess
    docErr := r.persist(ctx, s, op)
    resErr := r.persistIfFinal(ctx, s)
    if s.Status == StatusFinished && docErr == nil { r.retireLocked(rm) }
    if docErr != nil { return docErr }
    return resErr
}

func (r *Registry) retireLocked(rm *room) {
    r.stopTimerLocked(rm)
    id := rm.sess.RoomID
    if r.cfg.FinishedRetention <= 0 {
        r.evict(id, rm)
        return
    }
    rm.timer = time.AfterFunc(r.cfg.FinishedRetention, func() { r.evict(id, rm) })
}

// evict drops rm from the live map unless the id was already reused.
func (r *Registry) evict(id string, rm *room) {
    r.mu.Lock()
    if r.rooms[id] == rm { delete(r.rooms, id) }
    r.mu.Unlock()
}

// LiveRooms reports how many rooms are held in memory.
func (r *Registry) LiveRooms() int {
    r.mu.RLock()
    defer r.mu.RUnlock()
    return len(r.rooms)
}

func (r *Registry) persistIfFinal(ctx context.Context, s *Session) error {
    if r.repo == nil || s.Status != StatusFinished { return nil }
    if err := r.repo.SaveResult(ctx, s); err != nil {
        r.logger.Error("room_result_persist_error", zap.String("room_id", s.RoomID), zap.String("winner", string(s.Winner)), zap.Error(err))
        return &PersistError{RoomID: s.RoomID, Op: "result", Err: err}
    }
    r.logger.Info("room_result_persist", zap.String("room_id", s.RoomID), zap.String("winner", string(s.Winner)), zap.String("reason", string(s.EndReason)))
    return nil
}

// IsPersistError reports whether err only signals a storage failure.
func IsPersistError(err error) bool {
    var pe *PersistError
    return errors.As(err, &pe)
}
