package process

import (
	"context"
	"log/slog"
	"sync"

	"github.com/deckforge/deckforge/app/core"
	"github.com/deckforge/deckforge/pkg/errors"
	"github.com/deckforge/deckforge/pkg/i18n"
	"github.com/deckforge/deckforge/pkg/notify"
	"github.com/deckforge/deckforge/pkg/register"
	"github.com/deckforge/deckforge/pkg/types"
)

// HealthProcess tracks backend reachability and notifies on transitions.
type HealthProcess struct {
	core *core.Core

	mu    sync.Mutex
	known bool
	up    bool
}

func NewHealthProcess(core *core.Core) *HealthProcess {
	return &HealthProcess{core: core}
}

// Check probes the backend once and returns whether it is reachable.
func (p *HealthProcess) Check(ctx context.Context) bool {
	err := p.core.Backend().Health(ctx)
	up := err == nil
	p.core.Metrics().SetBackendUp(up)

	p.mu.Lock()
	changed := !p.known || p.up != up
	wasKnown := p.known
	p.known = true
	p.up = up
	p.mu.Unlock()

	if !changed {
		return up
	}

	l, lang := p.core.I18n(), p.core.Lang()
	if !up {
		slog.Warn("backend unreachable",
			slog.String("component", "health"),
			slog.String("kind", string(errors.KindOf(err))),
			slog.String("error", err.Error()))
		p.core.Notifier().Add(types.NOTIFICATION_WARNING, l.Get(lang, i18n.MESSAGE_BACKEND_UNREACHABLE), notify.Persistent())
		return up
	}

	slog.Info("backend reachable", slog.String("component", "health"))
	// the first successful probe is not news
	if wasKnown {
		p.core.Notifier().Add(types.NOTIFICATION_SUCCESS, l.Get(lang, i18n.MESSAGE_BACKEND_RESTORED))
	}
	return up
}

func init() {
	register.RegisterFunc(ProcessKey{}, func(provider *Process) {
		hp := NewHealthProcess(provider.Core())
		spec := provider.Core().Cfg().Health.Spec
		if _, err := provider.Cron().AddFunc(spec, func() {
			hp.Check(context.Background())
		}); err != nil {
			slog.Error("failed to schedule backend health check",
				slog.String("component", "health"),
				slog.String("spec", spec),
				slog.String("error", err.Error()))
		}
	})
}
