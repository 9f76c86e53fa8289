package mirror

import (
	"context"
	"testing"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/go-go-golems/launchpad/pkg/chat"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"
)

func TestRenderer_PublishesChangesAndForwards(t *testing.T) {
	bus := gochannel.NewGoChannel(gochannel.Config{OutputChannelBuffer: 16, BlockPublishUntilSubscriberAck: true}, watermill.NopLogger{})
	defer func() { _ = bus.Close() }()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var records []Record
	errStop := errors.New("stop")
	done := make(chan error, 1)
	ready := make(chan struct{})
	go func() {
		msgs, err := bus.Subscribe(ctx, Topic)
		if err != nil {
			done <- err
			return
		}
		close(ready)
		for msg := range msgs {
			rec, err := Decode(msg)
			msg.Ack()
			if err != nil {
				done <- err
				return
			}
			records = append(records, rec)
			if len(records) == 4 {
				done <- errStop
				return
			}
		}
	}()
	<-ready

	var forwarded []chat.View
	r := New(bus, chat.RendererFunc(func(v chat.View) { forwarded = append(forwarded, v) }), WithSessionID("s-1"))

	r.Render(chat.View{State: chat.StateConnected})
	r.Render(chat.View{State: chat.StateConnected, Lines: []chat.Line{{Seq: 1, Kind: chat.LineUser, Author: "amy", Body: "hi"}}})
	r.Render(chat.View{State: chat.StateConnected, Generation: 1, Lines: []chat.Line{{Seq: 2, Body: "Chat cleared by server"}}})

	require.ErrorIs(t, <-done, errStop)
	require.Len(t, forwarded, 3)

	kinds := make([]chat.ChangeKind, 0, len(records))
	for _, rec := range records {
		require.Equal(t, "s-1", rec.Session)
		kinds = append(kinds, rec.Change.Kind)
	}
	require.Equal(t, []chat.ChangeKind{chat.ChangeState, chat.ChangeLineAdded, chat.ChangeCleared, chat.ChangeLineAdded}, kinds)
	require.Equal(t, "hi", records[1].Change.Line.Body)
}

func TestTail_SkipsGarbageAndStopsOnCallbackError(t *testing.T) {
	bus := gochannel.NewGoChannel(gochannel.Config{OutputChannelBuffer: 16, Persistent: true}, watermill.NopLogger{})
	defer func() { _ = bus.Close() }()

	require.NoError(t, bus.Publish(Topic, message.NewMessage(watermill.NewUUID(), []byte("not json"))))
	r := New(bus, nil, WithSessionID("s-2"))
	r.Render(chat.View{State: chat.StateConnecting})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var got []Record
	errStop := errors.New("stop")
	err := Tail(ctx, bus, "", func(rec Record) error {
		got = append(got, rec)
		return errStop
	})
	require.ErrorIs(t, err, errStop)
	require.Len(t, got, 1)
	require.Equal(t, chat.StateConnecting, got[0].Change.State)
}
