package chat

import "time"

// InboundEvent is everything the transport can deliver to a Session.
// The set is closed: Session.Handle switches over every implementation.
type InboundEvent interface {
	inbound()
}

// Connected is emitted by the transport each time a connection is established.
type Connected struct{}

// Authenticated acknowledges the authenticate request.
type Authenticated struct {
	Username string
}

const (
	MessageTypeSystem = "system"
	MessageTypeUser   = "user"
)

// Message is a chat line broadcast by the server.
type Message struct {
	Type      string
	Username  string
	Message   string
	Timestamp time.Time
}

// UsersUpdate carries the number of users currently online.
type UsersUpdate struct {
	Count int
}

// ServerError is an error reported by the server. It does not change state.
type ServerError struct {
	Message string
}

// ClearChat asks the client to wipe everything rendered so far.
type ClearChat struct {
	Message string
}

// Disconnected is emitted when a live connection drops.
type Disconnected struct {
	Reason string
}

// ConnectError is emitted for every failed connection attempt.
type ConnectError struct {
	Err     error
	Attempt int
}

// ReconnectFailed is emitted once the transport gives up retrying.
type ReconnectFailed struct {
	Attempts int
}

func (Connected) inbound()       {}
func (Authenticated) inbound()   {}
func (Message) inbound()         {}
func (UsersUpdate) inbound()     {}
func (ServerError) inbound()     {}
func (ClearChat) inbound()       {}
func (Disconnected) inbound()    {}
func (ConnectError) inbound()    {}
func (ReconnectFailed) inbound() {}

// OutboundEvent is a request sent to the server.
type OutboundEvent interface {
	EventName() string
}

const (
	EventAuthenticate  = "authenticate"
	EventSendMessage   = "send_message"
	EventAuthenticated = "authenticated"
	EventMessage       = "message"
	EventUsersUpdate   = "users_update"
	EventError         = "error"
	EventClearChat     = "clear_chat"
)

type Authenticate struct {
	Username string `json:"username"`
	UserID   string `json:"userId"`
}

type SendMessage struct {
	Message string `json:"message"`
}

func (Authenticate) EventName() string { return EventAuthenticate }
func (SendMessage) EventName() string  { return EventSendMessage }
