package srv

import (
	"github.com/deckforge/deckforge/pkg/socket/firetower"
)

type Srv struct {
	tower *Tower
}

type ApplyFunc func(s *Srv)

func SetupSrvs(opts ...ApplyFunc) *Srv {
	a := &Srv{}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

func (t *Tower) Pusher() *firetower.SelfPusher[PublishData] {
	return t.pusher
}

// Tower is nil when the relay was not set up.
func (s *Srv) Tower() *Tower {
	return s.tower
}
