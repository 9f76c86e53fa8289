// Package mirror republishes chat view changes on a watermill topic so other
// processes can follow a session.
package mirror

import (
	"context"
	"encoding/json"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/go-go-golems/launchpad/pkg/chat"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

const Topic = "launchpad.chat"

// Record is the payload of one mirrored message.
type Record struct {
	Session string      `json:"session"`
	At      time.Time   `json:"at"`
	Change  chat.Change `json:"change"`
}

// Renderer forwards every view to next and publishes the incremental changes.
// Publishing failures are logged and never reach the chat session.
type Renderer struct {
	next    chat.Renderer
	pub     message.Publisher
	topic   string
	session string
	now     func() time.Time
	differ  chat.Differ
}

var _ chat.Renderer = &Renderer{}

type Option func(*Renderer)

func WithTopic(topic string) Option {
	return func(r *Renderer) {
		if topic != "" {
			r.topic = topic
		}
	}
}

func WithSessionID(id string) Option {
	return func(r *Renderer) { r.session = id }
}

func New(pub message.Publisher, next chat.Renderer, opts ...Option) *Renderer {
	r := &Renderer{
		next:    next,
		pub:     pub,
		topic:   Topic,
		session: watermill.NewShortUUID(),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *Renderer) Render(v chat.View) {
	if r.next != nil {
		r.next.Render(v)
	}
	if r.pub == nil {
		return
	}
	for _, c := range r.differ.Next(v) {
		if err := r.publish(c); err != nil {
			log.Warn().Err(err).Str("component", "mirror").Str("topic", r.topic).Msg("could not mirror chat change")
		}
	}
}

func (r *Renderer) publish(c chat.Change) error {
	b, err := json.Marshal(Record{Session: r.session, At: r.now().UTC(), Change: c})
	if err != nil {
		return errors.Wrap(err, "marshal change")
	}
	msg := message.NewMessage(watermill.NewUUID(), b)
	msg.Metadata.Set("kind", string(c.Kind))
	msg.Metadata.Set("session", r.session)
	return r.pub.Publish(r.topic, msg)
}

func Decode(msg *message.Message) (Record, error) {
	var rec Record
	if err := json.Unmarshal(msg.Payload, &rec); err != nil {
		return Record{}, errors.Wrapf(err, "decode mirror message %s", msg.UUID)
	}
	return rec, nil
}

// Tail subscribes to topic and calls fn for every record until ctx is done or
// fn returns an error. Undecodable messages are acked and skipped.
func Tail(ctx context.Context, sub message.Subscriber, topic string, fn func(Record) error) error {
	if topic == "" {
		topic = Topic
	}
	msgs, err := sub.Subscribe(ctx, topic)
	if err != nil {
		return errors.Wrapf(err, "subscribe %s", topic)
	}
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-msgs:
			if !ok {
				return nil
			}
			rec, err := Decode(msg)
			if err != nil {
				log.Warn().Err(err).Str("component", "mirror").Msg("skipping message")
				msg.Ack()
				continue
			}
			if err := fn(rec); err != nil {
				msg.Nack()
				return err
			}
			msg.Ack()
		}
	}
}
