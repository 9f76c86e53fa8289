package transport

import (
	"encoding/json"
	"strconv"
	"strings"
	"time"

	"github.com/go-go-golems/launchpad/pkg/chat"
	"github.com/pkg/errors"
)

// ErrUnknownEvent is returned by Decode for event names this client does not handle.
var ErrUnknownEvent = errors.New("unknown chat event")

// Envelope is the frame format on the wire: {"event": "...", "data": {...}}.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

type authenticatedPayload struct {
	Username string `json:"username"`
}

type messagePayload struct {
	Type      string          `json:"type"`
	Username  string          `json:"username,omitempty"`
	Message   string          `json:"message"`
	Timestamp json.RawMessage `json:"timestamp,omitempty"`
}

type usersUpdatePayload struct {
	Count int `json:"count"`
}

type errorPayload struct {
	Message string `json:"message"`
}

type clearChatPayload struct {
	Message string `json:"message,omitempty"`
}

// Encode wraps an outbound event in the {"event","data"} envelope.
func Encode(ev chat.OutboundEvent) ([]byte, error) {
	if ev == nil {
		return nil, errors.New("cannot encode nil event")
	}
	data, err := json.Marshal(ev)
	if err != nil {
		return nil, errors.Wrapf(err, "encode %s payload", ev.EventName())
	}
	return json.Marshal(Envelope{Event: ev.EventName(), Data: data})
}

// Decode parses one inbound frame into its typed event. Unknown event names
// wrap ErrUnknownEvent.
func Decode(frame []byte) (chat.InboundEvent, error) {
	var env Envelope
	if err := json.Unmarshal(frame, &env); err != nil {
		return nil, errors.Wrap(err, "decode envelope")
	}
	data := env.Data
	if len(data) == 0 || string(data) == "null" {
		data = []byte("{}")
	}

	switch env.Event {
	case chat.EventAuthenticated:
		var p authenticatedPayload
		if err := json.Unmarshal(data, &p); err != nil {
			return nil, errors.Wrap(err, "decode authenticated")
		}
		return chat.Authenticated{Username: p.Username}, nil

	case chat.EventMessage:
		var p messagePayload
		if err := json.Unmarshal(data, &p); err != nil {
			return nil, errors.Wrap(err, "decode message")
		}
		ts, err := parseTimestamp(p.Timestamp)
		if err != nil {
			return nil, err
		}
		return chat.Message{Type: p.Type, Username: p.Username, Message: p.Message, Timestamp: ts}, nil

	case chat.EventUsersUpdate:
		var p usersUpdatePayload
		if err := json.Unmarshal(data, &p); err != nil {
			return nil, errors.Wrap(err, "decode users_update")
		}
		return chat.UsersUpdate{Count: p.Count}, nil

	case chat.EventError:
		var p errorPayload
		if err := json.Unmarshal(data, &p); err != nil {
			return nil, errors.Wrap(err, "decode error")
		}
		return chat.ServerError{Message: p.Message}, nil

	case chat.EventClearChat:
		var p clearChatPayload
		if err := json.Unmarshal(data, &p); err != nil {
			return nil, errors.Wrap(err, "decode clear_chat")
		}
		return chat.ClearChat{Message: p.Message}, nil
	}

	return nil, errors.Wrap(ErrUnknownEvent, env.Event)
}

// parseTimestamp accepts unix milliseconds (number or numeric string) and
// RFC3339 strings. A missing timestamp yields the zero time.
func parseTimestamp(raw json.RawMessage) (time.Time, error) {
	s := strings.TrimSpace(string(raw))
	if s == "" || s == "null" {
		return time.Time{}, nil
	}
	if strings.HasPrefix(s, `"`) {
		var str string
		if err := json.Unmarshal(raw, &str); err != nil {
			return time.Time{}, errors.Wrap(err, "decode timestamp")
		}
		str = strings.TrimSpace(str)
		if str == "" {
			return time.Time{}, nil
		}
		if ms, err := strconv.ParseInt(str, 10, 64); err == nil {
			return time.UnixMilli(ms), nil
		}
		t, err := time.Parse(time.RFC3339Nano, str)
		if err != nil {
			return time.Time{}, errors.Wrapf(err, "parse timestamp %q", str)
		}
		return t, nil
	}
	ms, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return time.Time{}, errors.Wrapf(err, "parse timestamp %s", s)
	}
	return time.UnixMilli(int64(ms)), nil
}
