package session

import (
    "context"
    "errors"
    "fmt"
    "reflect"
    "sync"
    "testing"
    "time"

    "github.com/park285/Cheese-TicTacToe/internal/board"
)

var (
    alice = Identity{UserID: "u-alice", DisplayName: "alice"}
    bob   = Identity{UserID: "u-bob", DisplayName: "bob"}
    carol = Identity{UserID: "u-carol", DisplayName: "carol"}
)

func newTestRegistry(t *testing.T, cfg Config, opts ...Option) *Registry {
    t.Helper()
    r := NewRegistry(NewMemoryStore(), cfg, opts...)
    t.Cleanup(r.Close)
    return r
}

// startGame creates a room as alice on c-a and seats bob on c-b.
func startGame(t *testing.T, r *Registry, size int) string {
    t.Helper()
    ctx := context.Background()
    s, err := r.CreateRoom(ctx, alice, "c-a", size)
    if err != nil { t.Fatalf("CreateRoom: %v", err) }
    if _, err := r.JoinRoom(ctx, s.RoomID, bob, "c-b"); err != nil { t.Fatalf("JoinRoom: %v", err) }
    return s.RoomID
}

func mustMove(t *testing.T, r *Registry, roomID, conn string, pos int) *Session {
    t.Helper()
    s, err := r.ApplyMove(context.Background(), roomID, conn, pos)
    if err != nil { t.Fatalf("ApplyMove(%s,%d): %v", conn, pos, err) }
    return s
}

func TestScenarioA_RowWin(t *testing.T) {
    r := newTestRegistry(t, DefaultConfig())
    ctx := context.Background()

    created, err := r.CreateRoom(ctx, alice, "c-a", 3)
    if err != nil { t.Fatalf("CreateRoom: %v", err) }
    if created.Status != StatusWaiting || len(created.Players) != 1 || created.Players[0].Symbol != board.X {
        t.Fatalf("unexpected created session: %+v", created)
    }
    if len(created.RoomID) != 6 || NormalizeRoomID(created.RoomID) != created.RoomID {
        t.Fatalf("room id %q is not a 6-char upper alnum code", created.RoomID)
    }

    joined, err := r.JoinRoom(ctx, created.RoomID, bob, "c-b")
    if err != nil { t.Fatalf("JoinRoom: %v", err) }
    if joined.Status != StatusPlaying || joined.CurrentTurn != board.X || joined.Players[1].Symbol != board.O {
        t.Fatalf("unexpected joined session: status=%s turn=%s", joined.Status, joined.CurrentTurn)
    }

    id := created.RoomID
    mustMove(t, r, id, "c-a", 0)
    mustMove(t, r, id, "c-b", 4)
    mustMove(t, r, id, "c-a", 1)
    mustMove(t, r, id, "c-b", 3)
    final := mustMove(t, r, id, "c-a", 2)

    if final.Status != StatusFinished || final.Winner != WinnerX || final.EndReason != EndLine {
        t.Fatalf("expected X line win, got status=%s winner=%q reason=%q", final.Status, final.Winner, final.EndReason)
    }
    if !reflect.DeepEqual(final.WinningLine, []int{0, 1, 2}) {
        t.Fatalf("winning line = %v", final.WinningLine)
    }
    if _, err := r.ApplyMove(ctx, id, "c-b", 8); !errors.Is(err, ErrNotPlaying) {
        t.Fatalf("move after finish: %v, want ErrNotPlaying", err)
    }
}

func TestScenarioB_Draw(t *testing.T) {
    r := newTestRegistry(t, DefaultConfig())
    id := startGame(t, r, 3)
    // X O X / X O O / O X X
    seq := []struct {
        conn string
        pos  int
    }{{"c-a", 0}, {"c-b", 1}, {"c-a", 2}, {"c-b", 4}, {"c-a", 3}, {"c-b", 5}, {"c-a", 7}, {"c-b", 6}, {"c-a", 8}}
    var s *Session
    for _, m := range seq { s = mustMove(t, r, id, m.conn, m.pos) }
    if s.Status != StatusFinished || s.Winner != WinnerDraw || s.EndReason != EndDraw {
        t.Fatalf("expected draw, got status=%s winner=%q", s.Status, s.Winner)
    }
    if len(s.WinningLine) != 0 { t.Fatalf("draw should have no winning line") }
}

func TestScenarioC_JoinFailures(t *testing.T) {
    r := newTestRegistry(t, DefaultConfig())
    ctx := context.Background()
    if _, err := r.JoinRoom(ctx, "NOPE42", bob, "c-b"); !errors.Is(err, ErrRoomNotFound) {
        t.Fatalf("join missing room: %v, want ErrRoomNotFound", err)
    }
    id := startGame(t, r, 3)
    if _, err := r.JoinRoom(ctx, id, carol, "c-c"); !errors.Is(err, ErrRoomFull) {
        t.Fatalf("join playing room: %v, want ErrRoomFull", err)
    }
}

func TestJoinRoom_CreatorCannotTakeSecondSeat(t *testing.T) {
    r := newTestRegistry(t, DefaultConfig())
    ctx := context.Background()
    s, err := r.CreateRoom(ctx, alice, "c-a", 3)
    if err != nil { t.Fatalf("CreateRoom: %v", err) }
    if _, err := r.JoinRoom(ctx, s.RoomID, alice, "c-a2"); !errors.Is(err, ErrAlreadyJoined) {
        t.Fatalf("self join: %v, want ErrAlreadyJoined", err)
    }
}

func TestJoinRoom_CodeIsCaseInsensitive(t *testing.T) {
    r := newTestRegistry(t, DefaultConfig(), WithCodeGenerator(func() (string, error) { return "ABC123", nil }))
    ctx := context.Background()
    if _, err := r.CreateRoom(ctx, alice, "c-a", 3); err != nil { t.Fatalf("CreateRoom: %v", err) }
    if _, err := r.JoinRoom(ctx, " abc123 ", bob, "c-b"); err != nil { t.Fatalf("JoinRoom lower-case: %v", err) }
}

func TestApplyMove_Validation(t *testing.T) {
    r := newTestRegistry(t, DefaultConfig())
    ctx := context.Background()
    id := startGame(t, r, 3)

    if _, err := r.ApplyMove(ctx, "ZZZZZZ", "c-a", 0); !errors.Is(err, ErrRoomNotFound) {
        t.Fatalf("missing room: %v", err)
    }
    if _, err := r.ApplyMove(ctx, id, "c-b", 0); !errors.Is(err, ErrNotYourTurn) {
        t.Fatalf("O before X: %v, want ErrNotYourTurn", err)
    }
    if _, err := r.ApplyMove(ctx, id, "c-stranger", 0); !errors.Is(err, ErrNotInRoom) {
        t.Fatalf("stranger: %v, want ErrNotInRoom", err)
    }
    for _, pos := range []int{-1, 9, 100} {
        if _, err := r.ApplyMove(ctx, id, "c-a", pos); !errors.Is(err, ErrPositionOutOfRange) {
            t.Fatalf("pos %d: %v, want ErrPositionOutOfRange", pos, err)
        }
    }
    s, _ := r.Get(id)
    if len(s.Moves) != 0 || s.Version != 2 {
        t.Fatalf("rejected moves must not change state: moves=%d version=%d", len(s.Moves), s.Version)
    }
}

func TestApplyMove_DuplicateSubmission(t *testing.T) {
    r := newTestRegistry(t, DefaultConfig())
    ctx := context.Background()
    id := startGame(t, r, 3)
    first := mustMove(t, r, id, "c-a", 4)
    if _, err := r.ApplyMove(ctx, id, "c-a", 4); !errors.Is(err, ErrCellOccupied) {
        t.Fatalf("duplicate move: %v, want ErrCellOccupied", err)
    }
    after, _ := r.Get(id)
    if !reflect.DeepEqual(after.Board, first.Board) || len(after.Moves) != 1 {
        t.Fatalf("board changed after duplicate submission")
    }
}

func TestApplyMove_ConcurrentRaceAcceptsExactlyOne(t *testing.T) {
    // Two submissions for the same turn: the second must observe the first.
    for round := 0; round < 50; round++ {
        r := newTestRegistry(t, DefaultConfig())
        id := startGame(t, r, 3)
        var wg sync.WaitGroup
        errs := make([]error, 2)
        start := make(chan struct{})
        for i, pos := range []int{0, 1} {
            wg.Add(1)
            go func(i, pos int) {
                defer wg.Done()
                <-start
                _, errs[i] = r.ApplyMove(context.Background(), id, "c-a", pos)
            }(i, pos)
        }
        close(start)
        wg.Wait()

        accepted := 0
        for _, err := range errs {
            switch {
            case err == nil:
                accepted++
            case errors.Is(err, ErrNotYourTurn), errors.Is(err, ErrCellOccupied):
            default:
                t.Fatalf("unexpected error: %v", err)
            }
        }
        if accepted != 1 { t.Fatalf("round %d: accepted %d moves, want 1", round, accepted) }
        s, _ := r.Get(id)
        if len(s.Moves) != 1 || s.CurrentTurn != board.O {
            t.Fatalf("round %d: board double-mutated: %v", round, s.Board)
        }
        if s.Board[0] == s.Board[1] {
            t.Fatalf("round %d: expected exactly one of cells 0/1 set: %v", round, s.Board)
        }
    }
}

func TestApplyMove_SameCellRaceBetweenTurns(t *testing.T) {
    // X takes 0, then O and a duplicate X both aim for 4.
    r := newTestRegistry(t, DefaultConfig())
    id := startGame(t, r, 3)
    mustMove(t, r, id, "c-a", 0)
    var wg sync.WaitGroup
    var mu sync.Mutex
    accepted := 0
    for _, conn := range []string{"c-b", "c-a"} {
        wg.Add(1)
        go func(conn string) {
            defer wg.Done()
            if _, err := r.ApplyMove(context.Background(), id, conn, 4); err == nil {
                mu.Lock()
                accepted++
                mu.Unlock()
            }
        }(conn)
    }
    wg.Wait()
    s, _ := r.Get(id)
    if accepted != 1 || s.Board[4] != board.O {
        t.Fatalf("accepted=%d cell4=%q, want exactly O's move", accepted, s.Board[4])
    }
}

func TestMoveLogReplayReproducesBoard(t *testing.T) {
    r := newTestRegistry(t, DefaultConfig())
    id := startGame(t, r, 4)
    conns := []string{"c-a", "c-b"}
    var s *Session
    for i, pos := range []int{0, 5, 10, 15, 3, 6, 9, 12} {
        s = mustMove(t, r, id, conns[i%2], pos)
        if s.Status == StatusFinished { break }
    }
    if !reflect.DeepEqual(s.Replay(), s.Board) {
        t.Fatalf("replay %v != board %v", s.Replay(), s.Board)
    }
    for i := 1; i < len(s.Moves); i++ {
        if s.Moves[i].Timestamp.Before(s.Moves[i-1].Timestamp) {
            t.Fatalf("move log not ordered by commit time")
        }
    }
}

func TestCreateRoom_RegeneratesOnCollision(t *testing.T) {
    store := NewMemoryStore()
    if ok, _ := store.Reserve(context.Background(), "AAAAAA"); !ok { t.Fatalf("seed reservation failed") }
    codes := []string{"AAAAAA", "AAAAAA", "BBBBBB"}
    i := 0
    r := NewRegistry(store, DefaultConfig(), WithCodeGenerator(func() (string, error) {
        c := codes[i%len(codes)]
        i++
        return c, nil
    }))
    t.Cleanup(r.Close)
    s, err := r.CreateRoom(context.Background(), alice, "c-a", 3)
    if err != nil { t.Fatalf("CreateRoom: %v", err) }
    if s.RoomID != "BBBBBB" { t.Fatalf("room id = %s, want BBBBBB", s.RoomID) }
}

func TestCreateRoom_CodeExhausted(t *testing.T) {
    cfg := DefaultConfig()
    cfg.CodeAttempts = 3
    r := newTestRegistry(t, cfg, WithCodeGenerator(func() (string, error) { return "SAME01", nil }))
    ctx := context.Background()
    if _, err := r.CreateRoom(ctx, alice, "c-a", 3); err != nil { t.Fatalf("first CreateRoom: %v", err) }
    if _, err := r.CreateRoom(ctx, bob, "c-b", 3); !errors.Is(err, ErrCodeExhausted) {
        t.Fatalf("second CreateRoom: %v, want ErrCodeExhausted", err)
    }
}

func TestCreateRoom_BoardSize(t *testing.T) {
    r := newTestRegistry(t, DefaultConfig())
    ctx := context.Background()
    s, err := r.CreateRoom(ctx, alice, "c-a", 0)
    if err != nil || s.BoardSize != 3 || len(s.Board) != 9 {
        t.Fatalf("default size: %v size=%d", err, s.BoardSize)
    }
    for _, size := range []int{2, 8, -1} {
        if _, err := r.CreateRoom(ctx, alice, "c-a", size); !errors.Is(err, ErrInvalidBoardSize) {
            t.Fatalf("size %d: %v, want ErrInvalidBoardSize", size, err)
        }
    }
}

func TestAppendChat(t *testing.T) {
    r := newTestRegistry(t, DefaultConfig())
    ctx := context.Background()
    if _, _, err := r.AppendChat(ctx, "NONE00", alice, "hi"); !errors.Is(err, ErrRoomNotFound) {
        t.Fatalf("chat missing room: %v", err)
    }
    id := startGame(t, r, 3)
    entry, members, err := r.AppendChat(ctx, id, alice, "good luck")
    if err != nil { t.Fatalf("AppendChat: %v", err) }
    if entry.DisplayName != "alice" || entry.Message != "good luck" || entry.Timestamp.IsZero() {
        t.Fatalf("unexpected entry %+v", entry)
    }
    if len(members) != 2 { t.Fatalf("members = %d, want 2", len(members)) }
    s, _ := r.Get(id)
    if len(s.Chat) != 1 { t.Fatalf("chat log len = %d", len(s.Chat)) }
}

func TestResign(t *testing.T) {
    r := newTestRegistry(t, DefaultConfig())
    id := startGame(t, r, 3)
    s, err := r.Resign(context.Background(), id, "c-a")
    if err != nil { t.Fatalf("Resign: %v", err) }
    if s.Status != StatusFinished || s.Winner != WinnerO || s.EndReason != EndResign {
        t.Fatalf("unexpected resign result %+v", s)
    }
}

func TestSnapshotsAreIsolated(t *testing.T) {
    r := newTestRegistry(t, DefaultConfig())
    id := startGame(t, r, 3)
    s := mustMove(t, r, id, "c-a", 0)
    s.Board[1] = board.O
    s.Players[0].UserID = "mallory"
    live, _ := r.Get(id)
    if live.Board[1] != board.Empty || live.Players[0].UserID != alice.UserID {
        t.Fatalf("caller mutation leaked into registry")
    }
}

func TestReleaseConnection(t *testing.T) {
    r := newTestRegistry(t, DefaultConfig())
    ctx := context.Background()
    waiting, err := r.CreateRoom(ctx, carol, "c-c", 3)
    if err != nil { t.Fatalf("CreateRoom: %v", err) }
    id := startGame(t, r, 3)

    if affected := r.ReleaseConnection(ctx, "c-c"); len(affected) != 0 {
        t.Fatalf("waiting room should not be reported, got %d", len(affected))
    }
    if _, err := r.JoinRoom(ctx, waiting.RoomID, bob, "c-b2"); !errors.Is(err, ErrRoomNotFound) {
        t.Fatalf("abandoned waiting room should be closed: %v", err)
    }

    affected := r.ReleaseConnection(ctx, "c-b")
    if len(affected) != 1 || affected[0].RoomID != id {
        t.Fatalf("expected playing room to be reported, got %+v", affected)
    }
    if _, err := r.ApplyMove(ctx, id, "c-a", 0); err != nil { t.Fatalf("X can still move: %v", err) }
    if _, err := r.ApplyMove(ctx, id, "c-b", 1); !errors.Is(err, ErrNotInRoom) {
        t.Fatalf("released connection: %v, want ErrNotInRoom", err)
    }
}

func TestListWaitingAndFind(t *testing.T) {
    base := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
    tick := 0
    r := newTestRegistry(t, DefaultConfig(), WithClock(func() time.Time {
        tick++
        return base.Add(time.Duration(tick) * time.Second)
    }))
    ctx := context.Background()
    first, _ := r.CreateRoom(ctx, alice, "c-a", 3)
    second, _ := r.CreateRoom(ctx, carol, "c-c", 4)
    if _, err := r.JoinRoom(ctx, first.RoomID, bob, "c-b"); err != nil { t.Fatalf("JoinRoom: %v", err) }

    waiting := r.ListWaiting()
    if len(waiting) != 1 || waiting[0].RoomID != second.RoomID {
        t.Fatalf("waiting = %+v", waiting)
    }
    if s, err := r.Find(ctx, first.RoomID); err != nil || s.Status != StatusPlaying {
        t.Fatalf("Find live: %v", err)
    }
    if _, err := r.Find(ctx, "MISSING"); !errors.Is(err, ErrRoomNotFound) {
        t.Fatalf("Find missing: %v", err)
    }
}

func TestHistoryMostRecentFirst(t *testing.T) {
    base := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
    var mu sync.Mutex
    tick := 0
    r := newTestRegistry(t, DefaultConfig(), WithClock(func() time.Time {
        mu.Lock()
        defer mu.Unlock()
        tick++
        return base.Add(time.Duration(tick) * time.Second)
    }))
    ctx := context.Background()
    var ids []string
    for i := 0; i < 3; i++ {
        id := startGame(t, r, 3)
        if _, err := r.Resign(ctx, id, "c-b"); err != nil { t.Fatalf("Resign: %v", err) }
        ids = append(ids, id)
    }
    startGame(t, r, 3) // still playing, not history

    hist, err := r.History(ctx, alice.UserID, 0)
    if err != nil { t.Fatalf("History: %v", err) }
    if len(hist) != 3 { t.Fatalf("history len = %d, want 3", len(hist)) }
    for i, want := range []string{ids[2], ids[1], ids[0]} {
        if hist[i].RoomID != want { t.Fatalf("history[%d] = %s, want %s", i, hist[i].RoomID, want) }
    }
    page, _ := r.History(ctx, bob.UserID, 2)
    if len(page) != 2 { t.Fatalf("bounded page len = %d", len(page)) }
    if none, _ := r.History(ctx, carol.UserID, 10); len(none) != 0 {
        t.Fatalf("carol has no history, got %d", len(none))
    }
}

func TestResultsRecordedOnce(t *testing.T) {
    r := newTestRegistry(t, DefaultConfig())
    results := NewMemoryResults()
    r.AttachRepository(results)
    ctx := context.Background()

    id := startGame(t, r, 3)
    for i, pos := range []int{0, 3, 1, 4, 2} {
        conn := "c-a"
        if i%2 == 1 { conn = "c-b" }
        mustMove(t, r, id, conn, pos)
    }
    draw := startGame(t, r, 3)
    for i, pos := range []int{0, 1, 2, 4, 3, 5, 7, 6, 8} {
        conn := "c-a"
        if i%2 == 1 { conn = "c-b" }
        mustMove(t, r, draw, conn, pos)
    }
    s, _ := r.Get(id)
    _ = results.SaveResult(ctx, s) // repeat is a no-op

    a, err := r.Stats(ctx, alice.UserID)
    if err != nil || a == nil { t.Fatalf("Stats alice: %v", err) }
    if a.GamesPlayed != 2 || a.Wins != 1 || a.Draws != 1 || a.Losses != 0 {
        t.Fatalf("alice stats = %+v", a)
    }
    b, _ := r.Stats(ctx, bob.UserID)
    if b.GamesPlayed != 2 || b.Losses != 1 || b.Draws != 1 {
        t.Fatalf("bob stats = %+v", b)
    }
}

func TestStatsWithoutRepository(t *testing.T) {
    r := newTestRegistry(t, DefaultConfig())
    if _, err := r.Stats(context.Background(), "u"); !errors.Is(err, ErrNoRepository) {
        t.Fatalf("Stats without repo: %v", err)
    }
}

type failingStore struct {
    Store
    fail bool
}

func (f *failingStore) Save(ctx context.Context, s *Session) error {
    if f.fail { return fmt.Errorf("storage unavailable") }
    return f.Store.Save(ctx, s)
}

func TestPersistFailureKeepsMemoryAuthoritative(t *testing.T) {
    fs := &failingStore{Store: NewMemoryStore()}
    r := NewRegistry(fs, DefaultConfig())
    t.Cleanup(r.Close)
    ctx := context.Background()
    id := startGame(t, r, 3)

    fs.fail = true
    s, err := r.ApplyMove(ctx, id, "c-a", 4)
    var pe *PersistError
    if !errors.As(err, &pe) || pe.Op != "move" || !IsPersistError(err) {
        t.Fatalf("expected PersistError, got %v", err)
    }
    if s == nil || s.Board[4] != board.X { t.Fatalf("snapshot must carry the committed move") }
    live, _ := r.Get(id)
    if live.Board[4] != board.X || live.CurrentTurn != board.O {
        t.Fatalf("in-memory state must stay committed")
    }
    fs.fail = false
    if _, err := r.ApplyMove(ctx, id, "c-b", 0); err != nil { t.Fatalf("next move: %v", err) }
}

func TestClockChargedPerMove(t *testing.T) {
    base := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
    now := base
    r := newTestRegistry(t, DefaultConfig(), WithClock(func() time.Time { return now }))
    id := startGame(t, r, 3)
    now = now.Add(7 * time.Second)
    s := mustMove(t, r, id, "c-a", 0)
    if s.PlayerClocks.X != 53 || s.PlayerClocks.O != 60 {
        t.Fatalf("clocks = %+v, want X=53 O=60", s.PlayerClocks)
    }
    now = now.Add(2500 * time.Millisecond)
    s = mustMove(t, r, id, "c-b", 4)
    if s.PlayerClocks.O != 57.5 {
        t.Fatalf("O clock = %v, want 57.5", s.PlayerClocks.O)
    }
}

func TestTurnTimerForfeits(t *testing.T) {
    cfg := DefaultConfig()
    cfg.EnforceClock = true
    cfg.TimeLimit = 80 * time.Millisecond
    r := newTestRegistry(t, cfg)
    expired := make(chan *Session, 1)
    r.SetExpiryHandler(func(s *Session) { expired <- s })

    id := startGame(t, r, 3)
    select {
    case s := <-expired:
        if s.RoomID != id || s.Status != StatusFinished || s.Winner != WinnerO || s.EndReason != EndTimeout {
            t.Fatalf("unexpected expiry result: %+v", s)
        }
        if s.PlayerClocks.X != 0 { t.Fatalf("loser clock = %v, want 0", s.PlayerClocks.X) }
    case <-time.After(2 * time.Second):
        t.Fatalf("turn timer did not fire")
    }
}

func TestTurnTimerRestartsOnMove(t *testing.T) {
    cfg := DefaultConfig()
    cfg.EnforceClock = true
    cfg.TimeLimit = time.Second
    r := newTestRegistry(t, cfg)
    expired := make(chan *Session, 1)
    r.SetExpiryHandler(func(s *Session) { expired <- s })

    id := startGame(t, r, 3)
    mustMove(t, r, id, "c-a", 0)
    // X's timer is cancelled; O now owns the clock and loses on expiry.
    select {
    case s := <-expired:
        if s.Winner != WinnerX || s.EndReason != EndTimeout {
            t.Fatalf("expected O to forfeit, got winner=%q reason=%q", s.Winner, s.EndReason)
        }
        if len(s.Moves) != 1 { t.Fatalf("timeout must not add moves") }
    case <-time.After(3 * time.Second):
        t.Fatalf("turn timer did not fire")
    }
}

func TestTurnTimerStopsOnFinish(t *testing.T) {
    cfg := DefaultConfig()
    cfg.EnforceClock = true
    cfg.TimeLimit = 150 * time.Millisecond
    r := newTestRegistry(t, cfg)
    fired := make(chan struct{}, 1)
    r.SetExpiryHandler(func(*Session) { fired <- struct{}{} })
    id := startGame(t, r, 3)
    if _, err := r.Resign(context.Background(), id, "c-b"); err != nil { t.Fatalf("Resign: %v", err) }
    select {
    case <-fired:
        t.Fatalf("timer fired after the game ended")
    case <-time.After(400 * time.Millisecond):
    }
}

func TestFinishedRoomLeavesLiveMap(t *testing.T) {
    cfg := DefaultConfig()
    cfg.FinishedRetention = 0
    r := newTestRegistry(t, cfg)
    ctx := context.Background()
    for i := 0; i < 50; i++ {
        id := startGame(t, r, 3)
        if _, err := r.Resign(ctx, id, "c-b"); err != nil { t.Fatalf("Resign: %v", err) }
    }
    if n := r.LiveRooms(); n != 0 {
        t.Fatalf("live rooms after 50 finished games = %d, want 0", n)
    }

    id := startGame(t, r, 3)
    if _, err := r.Resign(ctx, id, "c-a"); err != nil { t.Fatalf("Resign: %v", err) }
    if _, ok := r.Get(id); ok { t.Fatalf("finished room still live") }
    s, err := r.Find(ctx, id)
    if err != nil || s.Status != StatusFinished || s.Winner != WinnerO {
        t.Fatalf("Find finished = %+v, %v", s, err)
    }
    if _, err := r.ApplyMove(ctx, id, "c-a", 0); !errors.Is(err, ErrRoomNotFound) {
        t.Fatalf("move on retired room: %v", err)
    }
    if got := r.ReleaseConnection(ctx, "c-a"); len(got) != 0 {
        t.Fatalf("retired rooms must not be reported: %d", len(got))
    }
}

func TestFinishedRoomRetainedThenEvicted(t *testing.T) {
    cfg := DefaultConfig()
    cfg.FinishedRetention = 30 * time.Millisecond
    r := newTestRegistry(t, cfg)
    ctx := context.Background()
    id := startGame(t, r, 3)
    if _, err := r.Resign(ctx, id, "c-b"); err != nil { t.Fatalf("Resign: %v", err) }
    if _, ok := r.Get(id); !ok { t.Fatalf("finished room should stay live during retention") }

    deadline := time.Now().Add(2 * time.Second)
    for r.LiveRooms() != 0 {
        if time.Now().After(deadline) { t.Fatalf("finished room never evicted") }
        time.Sleep(5 * time.Millisecond)
    }
    if _, err := r.Find(ctx, id); err != nil { t.Fatalf("Find after eviction: %v", err) }
}

func TestFinishedRoomStaysLiveWhenWriteFails(t *testing.T) {
    fs := &failingStore{Store: NewMemoryStore()}
    cfg := DefaultConfig()
    cfg.FinishedRetention = 0
    r := NewRegistry(fs, cfg)
    t.Cleanup(r.Close)
    id := startGame(t, r, 3)
    fs.fail = true
    if _, err := r.Resign(context.Background(), id, "c-b"); !IsPersistError(err) {
        t.Fatalf("expected PersistError, got %v", err)
    }
    if s, ok := r.Get(id); !ok || s.Status != StatusFinished {
        t.Fatalf("unsaved finished room must stay live")
    }
}

func TestReleaseConnectionPersistsUnboundSeat(t *testing.T) {
    store := NewMemoryStore()
    r := NewRegistry(store, DefaultConfig())
    t.Cleanup(r.Close)
    ctx := context.Background()
    id := startGame(t, r, 3)
    r.ReleaseConnection(ctx, "c-b")

    doc, err := store.Load(ctx, id)
    if err != nil || doc == nil { t.Fatalf("Load: %v", err) }
    if p := doc.PlayerBySymbol(board.O); p == nil || p.ConnectionID != "" {
        t.Fatalf("stored O seat = %+v, want unbound", p)
    }
    if p := doc.PlayerBySymbol(board.X); p == nil || p.ConnectionID != "c-a" {
        t.Fatalf("stored X seat = %+v", p)
    }
}

func TestMaxHistoryLimitDefaults(t *testing.T) {
    r := newTestRegistry(t, Config{HistoryLimit: 20})
    if got := r.Config().MaxHistoryLimit; got != 50 {
        t.Fatalf("MaxHistoryLimit = %d, want 50", got)
    }
    if got := r.Config().HistoryLimit; got != 20 {
        t.Fatalf("HistoryLimit = %d", got)
    }
}
