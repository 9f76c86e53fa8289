package chat

type ChangeKind string

const (
	ChangeLineAdded   ChangeKind = "line_added"
	ChangeCleared     ChangeKind = "cleared"
	ChangeOnlineCount ChangeKind = "online_count"
	ChangeState       ChangeKind = "state"
)

// Change is one incremental difference between two consecutive views.
type Change struct {
	Kind        ChangeKind `json:"kind"`
	Line        *Line      `json:"line,omitempty"`
	OnlineCount int        `json:"online_count,omitempty"`
	State       State      `json:"state,omitempty"`
}

// Differ turns a stream of full views into incremental changes for
// append-only consumers (line output, mirrors). Not safe for concurrent use.
type Differ struct {
	started     bool
	generation  int
	lastSeq     uint64
	onlineCount int
	state       State
}

func (d *Differ) Next(v View) []Change {
	var changes []Change

	if !d.started || v.State != d.state {
		changes = append(changes, Change{Kind: ChangeState, State: v.State})
		d.state = v.State
	}
	if d.started && v.Generation != d.generation {
		changes = append(changes, Change{Kind: ChangeCleared})
	}
	d.generation = v.Generation
	d.started = true

	for i := range v.Lines {
		l := v.Lines[i]
		if l.Seq <= d.lastSeq {
			continue
		}
		changes = append(changes, Change{Kind: ChangeLineAdded, Line: &l})
		d.lastSeq = l.Seq
	}

	if v.OnlineCount != d.onlineCount {
		changes = append(changes, Change{Kind: ChangeOnlineCount, OnlineCount: v.OnlineCount})
		d.onlineCount = v.OnlineCount
	}
	return changes
}
