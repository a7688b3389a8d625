package session

import "fmt"

var (
    ErrRoomNotFound       = errf("room not found")
    ErrRoomFull           = errf("room already has two players")
    ErrAlreadyJoined      = errf("user already seated in this room")
    ErrNotPlaying         = errf("room is not in play")
    ErrNotInRoom          = errf("connection holds no seat in this room")
    ErrNotYourTurn        = errf("not your turn")
    ErrCellOccupied       = errf("cell already occupied")
    ErrPositionOutOfRange = errf("position out of range")
    ErrInvalidBoardSize   = errf("invalid board size")
    ErrCodeExhausted      = errf("could not allocate a unique room code")
    ErrClosed             = errf("registry closed")
    ErrNoRepository       = errf("results repository not configured")
)

type staticErr string
func (e staticErr) Error() string { return string(e) }
func errf(s string) error { return staticErr(s) }

// PersistError reports a storage failure after the in-memory state was
// committed. The session returned with it is still authoritative.
type PersistError struct {
    RoomID string
    Op     string
    Err    error
}

func (e *PersistError) Error() string {
    return fmt.Sprintf("persist %s %s: %v", e.Op, e.RoomID, e.Err)
}

func (e *PersistError) Unwrap() error { return e.Err }
