package chat

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDiffer_EmitsOnlyNewLines(t *testing.T) {
	var d Differ

	v := View{State: StateConnecting}
	changes := d.Next(v)
	require.Equal(t, []Change{{Kind: ChangeState, State: StateConnecting}}, changes)

	v.State = StateConnected
	v.Lines = []Line{{Seq: 1, Kind: LineSystem, Body: "Connected as bob"}}
	changes = d.Next(v)
	require.Len(t, changes, 2)
	require.Equal(t, ChangeState, changes[0].Kind)
	require.Equal(t, ChangeLineAdded, changes[1].Kind)
	require.Equal(t, "Connected as bob", changes[1].Line.Body)

	v.Lines = append(v.Lines, Line{Seq: 2, Kind: LineUser, Author: "amy", Body: "hi"})
	v.OnlineCount = 3
	changes = d.Next(v)
	require.Len(t, changes, 2)
	require.Equal(t, "hi", changes[0].Line.Body)
	require.Equal(t, Change{Kind: ChangeOnlineCount, OnlineCount: 3}, changes[1])

	require.Empty(t, d.Next(v))
}

func TestDiffer_ReportsClear(t *testing.T) {
	var d Differ
	d.Next(View{State: StateConnected, Lines: []Line{{Seq: 1}, {Seq: 2}}})

	changes := d.Next(View{
		State:      StateConnected,
		Generation: 1,
		Lines:      []Line{{Seq: 3, Body: "Chat cleared by server"}},
	})
	require.Len(t, changes, 2)
	require.Equal(t, ChangeCleared, changes[0].Kind)
	require.Equal(t, uint64(3), changes[1].Line.Seq)
}

func TestDiffer_FollowsSession(t *testing.T) {
	var d Differ
	var changes []Change
	tr := newFakeTransport()
	s, err := NewSession(&fakeBridge{username: "bob", userID: "u"}, tr, RendererFunc(func(v View) {
		changes = append(changes, d.Next(v)...)
	}))
	require.NoError(t, err)

	s.Handle(context.Background(), Message{Type: MessageTypeSystem, Message: "one"})
	s.Handle(context.Background(), Message{Type: MessageTypeSystem, Message: "two"})

	var bodies []string
	for _, c := range changes {
		if c.Kind == ChangeLineAdded {
			bodies = append(bodies, c.Line.Body)
		}
	}
	require.Equal(t, []string{"one", "two"}, bodies)
}
