package hostbridge

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"
)

// Poller re-checks the release feed on an interval and pushes each newly seen
// release to the desktop's OnUpdatePopup subscribers.
type Poller struct {
	desktop  *Desktop
	interval time.Duration
}

func NewPoller(d *Desktop, interval time.Duration) *Poller {
	return &Poller{desktop: d, interval: interval}
}

// Run blocks until ctx is done. A zero interval disables polling.
func (p *Poller) Run(ctx context.Context) error {
	if p.interval <= 0 || p.desktop == nil {
		return nil
	}
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	notified := ""
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}

		info, err := p.desktop.CheckForUpdates(ctx)
		if err != nil {
			log.Debug().Err(err).Str("component", "poller").Msg("update poll failed")
			continue
		}
		if !info.UpdateAvailable || info.NewVersion == notified {
			continue
		}
		notified = info.NewVersion
		log.Info().Str("component", "poller").Str("version", info.NewVersion).Msg("pushing update popup")
		p.desktop.Publish(info)
	}
}
