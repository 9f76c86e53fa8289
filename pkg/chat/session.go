package chat

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

var (
	// ErrNotConnected is returned by a Transport when Emit runs without a live connection.
	ErrNotConnected = errors.New("chat transport is not connected")

	// ErrDisposed is returned by operations on a session after Dispose.
	ErrDisposed = errors.New("chat session disposed")

	// ErrIdentityLock is returned when the username changes while a connection is active.
	ErrIdentityLock = errors.New("chat identity cannot change while a connection is active")
)

const defaultMaxLines = 1000

// Bridge is the part of the host API the chat session needs.
type Bridge interface {
	LoadChatUsername(ctx context.Context) (string, error)
	SaveChatUsername(ctx context.Context, name string) error
	GetUserID(ctx context.Context) (string, error)
}

// Transport owns the real-time connection, including its bounded
// reconnection policy. Events must be delivered in arrival order.
type Transport interface {
	Start(ctx context.Context) error
	Events() <-chan InboundEvent
	Emit(ctx context.Context, ev OutboundEvent) error
	Connected() bool
	Close() error
}

// SendResult reports what happened to a submitted message.
type SendResult int

const (
	SendRejected SendResult = iota
	SendQueued
	SendDelivered
)

// Accepted reports whether the input that produced the message can be cleared.
func (r SendResult) Accepted() bool {
	return r == SendQueued || r == SendDelivered
}

// Session is one chat connection lifetime. It is not safe for concurrent use:
// every method, including Handle, must be called from the same event loop.
type Session struct {
	bridge    Bridge
	transport Transport
	renderer  Renderer
	now       func() time.Time
	maxLines  int

	identity      Identity
	authenticated bool
	queue         []string
	running       bool
	exhausted     bool
	disposed      bool

	seq  uint64
	view View
}

type SessionOption func(*Session) error

// WithClock overrides the time source used for local timestamps.
func WithClock(now func() time.Time) SessionOption {
	return func(s *Session) error {
		if now == nil {
			return errors.New("clock cannot be nil")
		}
		s.now = now
		return nil
	}
}

// WithMaxLines bounds how many lines are kept in the view.
func WithMaxLines(n int) SessionOption {
	return func(s *Session) error {
		if n <= 0 {
			return errors.Errorf("max lines must be positive, got %d", n)
		}
		s.maxLines = n
		return nil
	}
}

func NewSession(bridge Bridge, transport Transport, renderer Renderer, options ...SessionOption) (*Session, error) {
	if bridge == nil {
		return nil, errors.New("chat session: bridge is nil")
	}
	if transport == nil {
		return nil, errors.New("chat session: transport is nil")
	}
	if renderer == nil {
		renderer = RendererFunc(func(View) {})
	}
	s := &Session{
		bridge:    bridge,
		transport: transport,
		renderer:  renderer,
		now:       time.Now,
		maxLines:  defaultMaxLines,
		view:      View{State: StateIdle},
	}
	for _, opt := range options {
		if err := opt(s); err != nil {
			return nil, errors.Wrap(err, "chat session: apply option")
		}
	}
	return s, nil
}

// Events exposes the transport event stream so the owning loop can feed Handle.
func (s *Session) Events() <-chan InboundEvent {
	return s.transport.Events()
}

func (s *Session) State() State       { return s.view.State }
func (s *Session) Authenticated() bool { return s.authenticated }
func (s *Session) Identity() Identity  { return s.identity }
func (s *Session) View() View          { return s.view.clone() }
func (s *Session) Queued() []string    { return append([]string(nil), s.queue...) }

// NeedsUsername reports whether the session is blocked on username entry.
func (s *Session) NeedsUsername() bool {
	return s.view.State == StateCollectingUsername
}

// CanReconnect reports whether a user-triggered Reconnect would do anything.
func (s *Session) CanReconnect() bool {
	if s.disposed || s.view.State == StateCollectingUsername || s.view.State == StateIdle {
		return false
	}
	return !s.running || s.exhausted
}

func (s *Session) transportRunning() bool {
	return s.running && !s.exhausted
}

func (s *Session) setState(state State) {
	s.view.State = state
}

func (s *Session) logState(msg string) {
	log.Debug().Str("component", "chat").Str("state", string(s.view.State)).Msg(msg)
}

// Initialize resolves the stored username and either connects or asks for one.
func (s *Session) Initialize(ctx context.Context) error {
	if s.disposed {
		return ErrDisposed
	}
	name, err := s.bridge.LoadChatUsername(ctx)
	if err != nil {
		log.Warn().Err(err).Str("component", "chat").Msg("could not load stored chat username")
		name = ""
	}
	name = strings.TrimSpace(name)
	if name == "" {
		s.setState(StateCollectingUsername)
		s.logState("waiting for username")
		s.render()
		return nil
	}
	s.identity.Username = name
	return s.Connect(ctx)
}

// SubmitUsername validates, persists and adopts a username, then connects.
// Validation failures leave the session untouched and never reach the host.
func (s *Session) SubmitUsername(ctx context.Context, name string) error {
	if s.disposed {
		return ErrDisposed
	}
	if s.transportRunning() {
		return ErrIdentityLock
	}
	name, err := ValidateUsername(name)
	if err != nil {
		return err
	}
	if err := s.bridge.SaveChatUsername(ctx, name); err != nil {
		log.Warn().Err(err).Str("component", "chat").Msg("could not persist chat username")
		s.system(SeverityWarning, "Could not save username, it will be asked again next time")
	}
	s.identity.Username = name
	return s.Connect(ctx)
}

// Connect resolves the user id and starts the transport. Missing identity is a
// configuration error: it is shown once and not retried.
func (s *Session) Connect(ctx context.Context) error {
	if s.disposed {
		return ErrDisposed
	}
	if s.transportRunning() {
		return nil
	}

	userID, err := s.bridge.GetUserID(ctx)
	if err == nil && strings.TrimSpace(userID) == "" {
		err = ErrUserIDUnavailable
	}
	if err != nil {
		log.Error().Err(err).Str("component", "chat").Msg("user id not available")
		s.setState(StateFailed)
		s.system(SeverityError, "Error: Could not connect to chat")
		if !errors.Is(err, ErrUserIDUnavailable) {
			err = errors.Wrapf(ErrUserIDUnavailable, "%v", err)
		}
		return err
	}
	if strings.TrimSpace(s.identity.Username) == "" {
		log.Error().Str("component", "chat").Msg("chat username not set")
		s.setState(StateFailed)
		s.system(SeverityError, "Error: Username not set")
		return ErrUsernameRequired
	}
	s.identity.UserID = userID

	s.setState(StateConnecting)
	s.exhausted = false
	s.render()

	if err := s.transport.Start(ctx); err != nil {
		log.Error().Err(err).Str("component", "chat").Msg("failed to start chat transport")
		s.setState(StateFailed)
		s.system(SeverityError, "Failed to connect to chat server")
		return errors.Wrap(err, "start chat transport")
	}
	s.running = true
	s.logState("transport started")
	return nil
}

// Reconnect restarts the transport after it gave up or after a configuration
// failure. It is a no-op while the transport is still retrying on its own.
func (s *Session) Reconnect(ctx context.Context) error {
	if !s.CanReconnect() {
		return nil
	}
	s.system(SeverityInfo, "Reconnecting to chat...")
	return s.Connect(ctx)
}

// Handle applies one inbound event. The switch is exhaustive over InboundEvent.
func (s *Session) Handle(ctx context.Context, ev InboundEvent) {
	if s.disposed || ev == nil {
		return
	}

	switch e := ev.(type) {
	case Connected:
		s.setState(StateConnected)
		s.logState("transport connected, authenticating")
		err := s.transport.Emit(ctx, Authenticate{Username: s.identity.Username, UserID: s.identity.UserID})
		if err != nil {
			log.Warn().Err(err).Str("component", "chat").Msg("failed to send authenticate")
			s.system(SeverityError, "Failed to authenticate with chat server")
			return
		}
		s.render()

	case Authenticated:
		s.authenticated = true
		name := Sanitize(e.Username)
		if name == "" {
			name = s.identity.Username
		}
		s.appendLine(Line{Kind: LineSystem, Severity: SeverityInfo, Body: fmt.Sprintf("Connected as %s", name)})
		s.flush(ctx)
		s.render()

	case Message:
		switch e.Type {
		case MessageTypeSystem:
			s.system(SeverityInfo, Sanitize(e.Message))
		case MessageTypeUser:
			ts := e.Timestamp
			if ts.IsZero() {
				ts = s.now()
			}
			s.appendLine(Line{
				Kind:      LineUser,
				Severity:  SeverityInfo,
				Author:    Sanitize(e.Username),
				Body:      Sanitize(e.Message),
				Timestamp: ts,
			})
			s.render()
		default:
			log.Debug().Str("component", "chat").Str("type", e.Type).Msg("ignoring message of unknown type")
		}

	case UsersUpdate:
		count := e.Count
		if count < 0 {
			count = 0
		}
		s.view.OnlineCount = count
		s.render()

	case ServerError:
		s.system(SeverityError, "Error: "+Sanitize(e.Message))

	case ClearChat:
		s.view.Lines = nil
		s.view.Generation++
		notice := Sanitize(strings.TrimSpace(e.Message))
		if notice == "" {
			notice = "Chat cleared by server"
		}
		log.Info().Str("component", "chat").Msg("chat cleared")
		s.system(SeverityWarning, notice)

	case Disconnected:
		s.authenticated = false
		s.setState(StateDisconnected)
		log.Info().Str("component", "chat").Str("reason", e.Reason).Msg("disconnected from chat server")
		s.system(SeverityError, "Disconnected from chat")

	case ConnectError:
		log.Warn().Err(e.Err).Int("attempt", e.Attempt).Str("component", "chat").Msg("chat connection error")
		s.system(SeverityError, "Connection error. Retrying...")

	case ReconnectFailed:
		s.authenticated = false
		s.exhausted = true
		s.setState(StateDisconnected)
		log.Warn().Int("attempts", e.Attempts).Str("component", "chat").Msg("chat reconnection gave up")
		s.system(SeverityError, fmt.Sprintf("Could not reach chat server after %d attempts", e.Attempts))

	default:
		log.Warn().Str("component", "chat").Str("event", fmt.Sprintf("%T", ev)).Msg("unhandled chat event")
	}
}

// SendMessage validates text and either transmits it or queues it until the
// session is authenticated.
func (s *Session) SendMessage(ctx context.Context, text string) SendResult {
	if s.disposed {
		return SendRejected
	}
	text, err := ValidateMessage(text)
	if err != nil {
		severity := SeverityError
		if errors.Is(err, ErrMessageEmpty) {
			severity = SeverityWarning
		}
		s.system(severity, err.Error())
		return SendRejected
	}

	if !s.authenticated {
		s.enqueue(text)
		return SendQueued
	}

	err = s.transport.Emit(ctx, SendMessage{Message: text})
	if err == nil {
		return SendDelivered
	}
	if errors.Is(err, ErrNotConnected) {
		// the drop has not been delivered as an event yet
		s.authenticated = false
		s.enqueue(text)
		return SendQueued
	}
	log.Warn().Err(err).Str("component", "chat").Msg("failed to send chat message")
	s.system(SeverityError, "Failed to send message")
	return SendRejected
}

// Dispose closes the transport. Safe to call more than once.
func (s *Session) Dispose() error {
	if s.disposed {
		return nil
	}
	s.disposed = true
	s.authenticated = false
	if !s.running && !s.transport.Connected() {
		return nil
	}
	s.running = false
	if err := s.transport.Close(); err != nil {
		return errors.Wrap(err, "close chat transport")
	}
	return nil
}

func (s *Session) enqueue(text string) {
	s.queue = append(s.queue, text)
	s.system(SeverityWarning, "Connecting... Your message will be sent soon.")
}

// flush drains the queue in submission order. A failed emit drops the session
// back to unauthenticated so later messages queue behind the remainder until
// the next authentication.
func (s *Session) flush(ctx context.Context) {
	for len(s.queue) > 0 {
		if err := s.transport.Emit(ctx, SendMessage{Message: s.queue[0]}); err != nil {
			log.Warn().Err(err).Int("remaining", len(s.queue)).Str("component", "chat").Msg("queue flush interrupted")
			s.authenticated = false
			return
		}
		s.queue = s.queue[1:]
	}
	s.queue = nil
}

func (s *Session) system(severity Severity, body string) {
	s.appendLine(Line{Kind: LineSystem, Severity: severity, Body: body})
	s.render()
}

func (s *Session) appendLine(l Line) {
	s.seq++
	l.Seq = s.seq
	if l.Timestamp.IsZero() {
		l.Timestamp = s.now()
	}
	s.view.Lines = append(s.view.Lines, l)
	if over := len(s.view.Lines) - s.maxLines; over > 0 {
		s.view.Lines = append([]Line(nil), s.view.Lines[over:]...)
	}
}

func (s *Session) render() {
	s.view.Username = s.identity.Username
	s.view.Authenticated = s.authenticated
	s.view.Queued = len(s.queue)
	s.renderer.Render(s.view.clone())
}
