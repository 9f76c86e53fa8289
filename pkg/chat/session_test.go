package chat

import (
	"context"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"
)

type fakeBridge struct {
	username string
	loadErr  error
	userID   string
	idErr    error
	saved    []string
	saveErr  error
}

func (b *fakeBridge) LoadChatUsername(context.Context) (string, error) {
	return b.username, b.loadErr
}

func (b *fakeBridge) SaveChatUsername(_ context.Context, name string) error {
	b.saved = append(b.saved, name)
	return b.saveErr
}

func (b *fakeBridge) GetUserID(context.Context) (string, error) {
	return b.userID, b.idErr
}

type fakeTransport struct {
	events    chan InboundEvent
	started   int
	startErr  error
	connected bool
	emitted   []OutboundEvent
	emitErr   error
	failNext  []error
	closed    int
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{events: make(chan InboundEvent, 16)}
}

func (t *fakeTransport) Start(context.Context) error {
	t.started++
	return t.startErr
}

func (t *fakeTransport) Events() <-chan InboundEvent { return t.events }

func (t *fakeTransport) Emit(_ context.Context, ev OutboundEvent) error {
	if len(t.failNext) > 0 {
		err := t.failNext[0]
		t.failNext = t.failNext[1:]
		return err
	}
	if t.emitErr != nil {
		return t.emitErr
	}
	t.emitted = append(t.emitted, ev)
	return nil
}

func (t *fakeTransport) Connected() bool { return t.connected }

func (t *fakeTransport) Close() error {
	t.closed++
	t.connected = false
	return nil
}

type recordingRenderer struct {
	views []View
}

func (r *recordingRenderer) Render(v View) { r.views = append(r.views, v) }

func (r *recordingRenderer) last() View { return r.views[len(r.views)-1] }

var fixedNow = time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC)

func newTestSession(t *testing.T, b *fakeBridge) (*Session, *fakeTransport, *recordingRenderer) {
	t.Helper()
	tr := newFakeTransport()
	r := &recordingRenderer{}
	s, err := NewSession(b, tr, r, WithClock(func() time.Time { return fixedNow }))
	require.NoError(t, err)
	return s, tr, r
}

func connectedSession(t *testing.T) (*Session, *fakeTransport, *recordingRenderer) {
	t.Helper()
	s, tr, r := newTestSession(t, &fakeBridge{username: "bob", userID: "u-1"})
	require.NoError(t, s.Initialize(context.Background()))
	tr.connected = true
	s.Handle(context.Background(), Connected{})
	return s, tr, r
}

func lastLine(v View) Line {
	return v.Lines[len(v.Lines)-1]
}

func TestSession_InitializeWithoutUsernameAsksForOne(t *testing.T) {
	s, tr, r := newTestSession(t, &fakeBridge{username: "   ", userID: "u-1"})

	require.NoError(t, s.Initialize(context.Background()))
	require.Equal(t, StateCollectingUsername, s.State())
	require.True(t, s.NeedsUsername())
	require.Equal(t, 0, tr.started)
	require.Equal(t, StateCollectingUsername, r.last().State)
}

func TestSession_InitializeLoadErrorFallsBackToPrompt(t *testing.T) {
	s, tr, _ := newTestSession(t, &fakeBridge{loadErr: errors.New("disk gone"), userID: "u-1"})

	require.NoError(t, s.Initialize(context.Background()))
	require.Equal(t, StateCollectingUsername, s.State())
	require.Equal(t, 0, tr.started)
}

func TestSession_InitializeWithStoredUsernameConnects(t *testing.T) {
	s, tr, _ := newTestSession(t, &fakeBridge{username: "bob", userID: "u-1"})

	require.NoError(t, s.Initialize(context.Background()))
	require.Equal(t, StateConnecting, s.State())
	require.Equal(t, 1, tr.started)
	require.Equal(t, Identity{Username: "bob", UserID: "u-1"}, s.Identity())
}

func TestSession_SubmitUsernameRejectsInvalidWithoutSideEffects(t *testing.T) {
	b := &fakeBridge{userID: "u-1"}
	s, tr, _ := newTestSession(t, b)
	require.NoError(t, s.Initialize(context.Background()))

	for _, name := range []string{"", "ab", "abcdefghijklmnopqrstu", "bad name", "naïve", "semi;colon"} {
		err := s.SubmitUsername(context.Background(), name)
		require.Error(t, err, name)
	}
	require.EqualError(t, s.SubmitUsername(context.Background(), "ab"), "Username must be at least 3 characters")
	require.Empty(t, b.saved)
	require.Equal(t, 0, tr.started)
	require.Equal(t, StateCollectingUsername, s.State())
	require.Empty(t, s.Identity().Username)
}

func TestSession_SubmitUsernamePersistsAndConnects(t *testing.T) {
	b := &fakeBridge{userID: "u-1"}
	s, tr, _ := newTestSession(t, b)
	require.NoError(t, s.Initialize(context.Background()))

	require.NoError(t, s.SubmitUsername(context.Background(), "  validUser_1 "))
	require.Equal(t, []string{"validUser_1"}, b.saved)
	require.Equal(t, 1, tr.started)
	require.Equal(t, StateConnecting, s.State())

	require.ErrorIs(t, s.SubmitUsername(context.Background(), "otherUser"), ErrIdentityLock)
	require.Equal(t, "validUser_1", s.Identity().Username)
}

func TestSession_ConnectFailsFastWithoutUserID(t *testing.T) {
	s, tr, r := newTestSession(t, &fakeBridge{username: "bob"})

	err := s.Initialize(context.Background())
	require.ErrorIs(t, err, ErrUserIDUnavailable)
	require.Equal(t, StateFailed, s.State())
	require.Equal(t, 0, tr.started)
	require.Equal(t, "Error: Could not connect to chat", lastLine(r.last()).Body)
	require.Equal(t, SeverityError, lastLine(r.last()).Severity)
}

func TestSession_ConnectedSendsAuthenticate(t *testing.T) {
	s, tr, _ := connectedSession(t)

	require.Equal(t, StateConnected, s.State())
	require.False(t, s.Authenticated())
	require.Equal(t, []OutboundEvent{Authenticate{Username: "bob", UserID: "u-1"}}, tr.emitted)
}

func TestSession_QueueFlushedInOrderOnAuthentication(t *testing.T) {
	s, tr, r := connectedSession(t)
	tr.emitted = nil

	require.Equal(t, SendQueued, s.SendMessage(context.Background(), "hello"))
	require.Equal(t, SendQueued, s.SendMessage(context.Background(), "second"))
	require.Equal(t, SendQueued, s.SendMessage(context.Background(), "third"))
	require.Empty(t, tr.emitted)
	require.Equal(t, []string{"hello", "second", "third"}, s.Queued())
	require.Equal(t, "Connecting... Your message will be sent soon.", lastLine(r.last()).Body)

	s.Handle(context.Background(), Authenticated{Username: "bob"})

	require.True(t, s.Authenticated())
	require.Empty(t, s.Queued())
	require.Equal(t, []OutboundEvent{
		SendMessage{Message: "hello"},
		SendMessage{Message: "second"},
		SendMessage{Message: "third"},
	}, tr.emitted)
	require.Equal(t, "Connected as bob", lastLine(r.last()).Body)

	// flushed exactly once
	s.Handle(context.Background(), Authenticated{Username: "bob"})
	require.Len(t, tr.emitted, 3)
}

func TestSession_SendWhileAuthenticatedTransmitsImmediately(t *testing.T) {
	s, tr, _ := connectedSession(t)
	s.Handle(context.Background(), Authenticated{Username: "bob"})
	tr.emitted = nil

	require.Equal(t, SendDelivered, s.SendMessage(context.Background(), "  hi there  "))
	require.Equal(t, []OutboundEvent{SendMessage{Message: "hi there"}}, tr.emitted)
	require.Empty(t, s.Queued())
}

func TestSession_OversizedAndEmptyMessagesAreNeverSentOrQueued(t *testing.T) {
	s, tr, r := connectedSession(t)
	tr.emitted = nil

	long := make([]rune, MaxMessageLength+1)
	for i := range long {
		long[i] = 'é'
	}
	require.Equal(t, SendRejected, s.SendMessage(context.Background(), string(long)))
	require.Equal(t, "Message too long (max 500 characters)", lastLine(r.last()).Body)
	require.Equal(t, SendRejected, s.SendMessage(context.Background(), "   "))
	require.Equal(t, SeverityWarning, lastLine(r.last()).Severity)

	s.Handle(context.Background(), Authenticated{Username: "bob"})
	require.Equal(t, SendRejected, s.SendMessage(context.Background(), string(long)))
	require.Empty(t, tr.emitted)
	require.Empty(t, s.Queued())

	exact := string(long[:MaxMessageLength])
	require.Equal(t, SendDelivered, s.SendMessage(context.Background(), exact))
}

func TestSession_DisconnectQueuesLaterMessages(t *testing.T) {
	s, tr, r := connectedSession(t)
	s.Handle(context.Background(), Authenticated{Username: "bob"})
	tr.emitted = nil

	s.Handle(context.Background(), Disconnected{Reason: "eof"})
	require.False(t, s.Authenticated())
	require.Equal(t, StateDisconnected, s.State())
	require.Equal(t, "Disconnected from chat", lastLine(r.last()).Body)

	require.Equal(t, SendQueued, s.SendMessage(context.Background(), "still here"))
	require.Empty(t, tr.emitted)

	s.Handle(context.Background(), Connected{})
	s.Handle(context.Background(), Authenticated{Username: "bob"})
	require.Equal(t, []OutboundEvent{
		Authenticate{Username: "bob", UserID: "u-1"},
		SendMessage{Message: "still here"},
	}, tr.emitted)
}

func TestSession_SendRequeuesWhenTransportReportsDrop(t *testing.T) {
	s, tr, _ := connectedSession(t)
	s.Handle(context.Background(), Authenticated{Username: "bob"})

	tr.emitErr = errors.Wrap(ErrNotConnected, "write")
	require.Equal(t, SendQueued, s.SendMessage(context.Background(), "retry me"))
	require.False(t, s.Authenticated())
	require.Equal(t, []string{"retry me"}, s.Queued())
}

func TestSession_FailedFlushKeepsSubmissionOrder(t *testing.T) {
	s, tr, _ := connectedSession(t)
	tr.emitted = nil

	require.Equal(t, SendQueued, s.SendMessage(context.Background(), "first"))
	tr.failNext = []error{errors.New("transient")}
	s.Handle(context.Background(), Authenticated{Username: "bob"})

	require.False(t, s.Authenticated())
	require.Equal(t, []string{"first"}, s.Queued())
	require.Empty(t, tr.emitted)

	require.Equal(t, SendQueued, s.SendMessage(context.Background(), "second"))
	require.Equal(t, []string{"first", "second"}, s.Queued())
	require.Empty(t, tr.emitted)

	s.Handle(context.Background(), Authenticated{Username: "bob"})
	require.True(t, s.Authenticated())
	require.Empty(t, s.Queued())
	require.Equal(t, []OutboundEvent{
		SendMessage{Message: "first"},
		SendMessage{Message: "second"},
	}, tr.emitted)
}

func TestSession_ClearChatLeavesExactlyOneNotice(t *testing.T) {
	s, _, r := connectedSession(t)
	s.Handle(context.Background(), Message{Type: MessageTypeUser, Username: "amy", Message: "one"})
	s.Handle(context.Background(), Message{Type: MessageTypeSystem, Message: "two"})
	generation := r.last().Generation

	s.Handle(context.Background(), ClearChat{})

	v := r.last()
	require.Len(t, v.Lines, 1)
	require.Equal(t, LineSystem, v.Lines[0].Kind)
	require.Equal(t, SeverityWarning, v.Lines[0].Severity)
	require.Equal(t, "Chat cleared by server", v.Lines[0].Body)
	require.Equal(t, generation+1, v.Generation)

	s.Handle(context.Background(), ClearChat{Message: "Moderator wiped the chat"})
	require.Len(t, r.last().Lines, 1)
	require.Equal(t, "Moderator wiped the chat", r.last().Lines[0].Body)
}

func TestSession_MessagesAreSanitized(t *testing.T) {
	s, _, r := connectedSession(t)

	s.Handle(context.Background(), Message{
		Type:     MessageTypeUser,
		Username: "\x1b[31mamy\x1b[0m",
		Message:  "hi\x07 \x1b]0;pwned\x07there",
	})
	l := lastLine(r.last())
	require.Equal(t, LineUser, l.Kind)
	require.Equal(t, "amy", l.Author)
	require.Equal(t, "hi there", l.Body)
	require.Equal(t, fixedNow, l.Timestamp)

	ts := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	s.Handle(context.Background(), Message{Type: MessageTypeUser, Username: "amy", Message: "x", Timestamp: ts})
	require.Equal(t, ts, lastLine(r.last()).Timestamp)

	before := len(r.last().Lines)
	s.Handle(context.Background(), Message{Type: "typing", Message: "ignored"})
	require.Len(t, r.last().Lines, before)
}

func TestSession_UsersUpdateAndServerError(t *testing.T) {
	s, _, r := connectedSession(t)

	s.Handle(context.Background(), UsersUpdate{Count: 12})
	require.Equal(t, 12, r.last().OnlineCount)

	state := s.State()
	s.Handle(context.Background(), ServerError{Message: "slow down"})
	require.Equal(t, "Error: slow down", lastLine(r.last()).Body)
	require.Equal(t, SeverityError, lastLine(r.last()).Severity)
	require.Equal(t, state, s.State())
}

func TestSession_ReconnectOnlyAfterTransportGaveUp(t *testing.T) {
	s, tr, r := connectedSession(t)
	require.False(t, s.CanReconnect())
	require.NoError(t, s.Reconnect(context.Background()))
	require.Equal(t, 1, tr.started)

	s.Handle(context.Background(), ConnectError{Err: errors.New("refused"), Attempt: 1})
	require.Equal(t, "Connection error. Retrying...", lastLine(r.last()).Body)

	s.Handle(context.Background(), ReconnectFailed{Attempts: 5})
	require.Equal(t, StateDisconnected, s.State())
	require.True(t, s.CanReconnect())

	require.NoError(t, s.Reconnect(context.Background()))
	require.Equal(t, 2, tr.started)
	require.Equal(t, StateConnecting, s.State())
}

func TestSession_DisposeClosesLiveTransportOnce(t *testing.T) {
	s, tr, _ := connectedSession(t)

	require.NoError(t, s.Dispose())
	require.NoError(t, s.Dispose())
	require.Equal(t, 1, tr.closed)
	require.Equal(t, SendRejected, s.SendMessage(context.Background(), "late"))

	idle, idleTr, _ := newTestSession(t, &fakeBridge{})
	require.NoError(t, idle.Dispose())
	require.Equal(t, 0, idleTr.closed)
}

func TestSession_MaxLinesBoundsView(t *testing.T) {
	tr := newFakeTransport()
	r := &recordingRenderer{}
	s, err := NewSession(&fakeBridge{username: "bob", userID: "u"}, tr, r, WithMaxLines(3))
	require.NoError(t, err)

	for i := 0; i < 5; i++ {
		s.Handle(context.Background(), Message{Type: MessageTypeSystem, Message: "m"})
	}
	v := r.last()
	require.Len(t, v.Lines, 3)
	require.Equal(t, uint64(5), v.Lines[2].Seq)
}
