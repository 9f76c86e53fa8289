// Package inputgate routes user input through a stack of exclusive-input
// scopes. While any scope is active, only events aimed at the topmost scope
// can get through, and only if that scope's filter accepts them.
package inputgate

import (
	"sync"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

type Kind int

const (
	KindKey Kind = iota
	KindClick
	KindContextMenu
	KindMouse
)

func (k Kind) String() string {
	switch k {
	case KindKey:
		return "key"
	case KindClick:
		return "click"
	case KindContextMenu:
		return "context-menu"
	case KindMouse:
		return "mouse"
	default:
		return "unknown"
	}
}

// Event is a surface-agnostic description of one input event. Scope names the
// scope the event lands in (empty when outside every scope) and Control the
// focused or clicked element inside it.
type Event struct {
	Kind    Kind
	Key     string
	Scope   string
	Control string
}

// Filter decides whether an event targeted at its scope may pass.
type Filter func(Event) bool

type Scope struct {
	Name   string
	Filter Filter
}

var ErrEmptyScopeName = errors.New("input scope must have a name")

// Gate is safe for concurrent use.
type Gate struct {
	mu     sync.RWMutex
	scopes []Scope
}

func New() *Gate {
	return &Gate{}
}

// Push activates scope on top of the stack. Pushing a scope that is already on
// the stack is a no-op and returns false.
func (g *Gate) Push(scope Scope) (bool, error) {
	if scope.Name == "" {
		return false, ErrEmptyScopeName
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	for _, s := range g.scopes {
		if s.Name == scope.Name {
			return false, nil
		}
	}
	g.scopes = append(g.scopes, scope)
	log.Debug().Str("component", "inputgate").Str("scope", scope.Name).Int("depth", len(g.scopes)).Msg("scope pushed")
	return true, nil
}

// Pop removes the named scope wherever it sits in the stack.
func (g *Gate) Pop(name string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	for i := len(g.scopes) - 1; i >= 0; i-- {
		if g.scopes[i].Name == name {
			g.scopes = append(g.scopes[:i], g.scopes[i+1:]...)
			return true
		}
	}
	return false
}

func (g *Gate) Top() (Scope, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	if len(g.scopes) == 0 {
		return Scope{}, false
	}
	return g.scopes[len(g.scopes)-1], true
}

func (g *Gate) Active() bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.scopes) > 0
}

// Allow reports whether ev may reach its handler.
func (g *Gate) Allow(ev Event) bool {
	top, ok := g.Top()
	if !ok {
		return true
	}
	if ev.Scope != top.Name {
		log.Trace().Str("component", "inputgate").Str("kind", ev.Kind.String()).Str("key", ev.Key).Msg("suppressed outside scope")
		return false
	}
	if top.Filter == nil {
		return true
	}
	return top.Filter(ev)
}
