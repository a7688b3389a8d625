package tttdto

import "encoding/json"

// Event names carried in Envelope.Event.
const (
	EventAuthenticate  = "authenticate"
	EventCreateRoom    = "createRoom"
	EventJoinRoom      = "joinRoom"
	EventMakeMove      = "makeMove"
	EventChatMessage   = "chatMessage"
	EventResign        = "resign"
	EventAuthenticated = "authenticated"
	EventAuthError     = "authError"
	EventRoomCreated   = "roomCreated"
	EventCreateError   = "createError"
	EventGameStart     = "gameStart"
	EventJoinError     = "joinError"
	EventGameUpdate    = "gameUpdate"
	EventMoveRejected  = "moveRejected"
	EventNewChat       = "newChatMessage"
	EventChatError     = "chatError"
	EventOnlineUsers   = "onlineUsers"
	EventError         = "error"
)

type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

type OutEnvelope struct {
	Event string `json:"event"`
	Data  any    `json:"data,omitempty"`
}

type User struct {
	ID       string `json:"id"`
	Username string `json:"username"`
}

type OnlineUser struct {
	ConnectionID string `json:"connectionId"`
	UserID       string `json:"userId"`
	DisplayName  string `json:"displayName"`
}

type AuthenticateRequest struct {
	Token string `json:"token"`
}

type CreateRoomRequest struct {
	BoardSize int `json:"boardSize"`
}

type JoinRoomRequest struct {
	RoomID string `json:"roomId"`
}

type MakeMoveRequest struct {
	RoomID   string `json:"roomId"`
	Position *int   `json:"position"`
}

type ChatRequest struct {
	RoomID  string `json:"roomId"`
	Message string `json:"message"`
}

type ResignRequest struct {
	RoomID string `json:"roomId"`
}

type Authenticated struct {
	User User `json:"user"`
}

type RoomCreated struct {
	RoomID  string  `json:"roomId"`
	Session Session `json:"session"`
}

type SessionEvent struct {
	Session Session `json:"session"`
}

type MoveRejected struct {
	RoomID   string `json:"roomId"`
	Position int    `json:"position"`
	Reason   string `json:"reason"`
}

// Error is the payload of authError, joinError, createError, chatError and error.
type Error struct {
	Reason string `json:"reason"`
}
