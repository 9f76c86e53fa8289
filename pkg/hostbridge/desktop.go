package hostbridge

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/atotto/clipboard"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

var ErrNoDownloadURL = errors.New("no download url known for the latest release")

// Desktop is the HostBridge of a locally running launcher.
type Desktop struct {
	store   Store
	checker *UpdateChecker
	opener  Opener
	clip    func(string) error

	onTerminate    func()
	terminateDelay time.Duration

	idMu sync.Mutex

	mu          sync.Mutex
	subscribers map[int]func(UpdateInfo)
	nextSub     int
	latest      UpdateInfo
}

var _ HostBridge = &Desktop{}

type DesktopOption func(*Desktop)

func WithUpdateChecker(c *UpdateChecker) DesktopOption {
	return func(d *Desktop) { d.checker = c }
}

func WithOpener(o Opener) DesktopOption {
	return func(d *Desktop) {
		if o != nil {
			d.opener = o
		}
	}
}

// WithClipboard replaces the clipboard writer used when the opener fails.
func WithClipboard(fn func(string) error) DesktopOption {
	return func(d *Desktop) {
		if fn != nil {
			d.clip = fn
		}
	}
}

// WithTerminate registers the hook that shuts the launcher down after the
// download page was opened.
func WithTerminate(fn func(), delay time.Duration) DesktopOption {
	return func(d *Desktop) {
		d.onTerminate = fn
		d.terminateDelay = delay
	}
}

func NewDesktop(store Store, opts ...DesktopOption) (*Desktop, error) {
	if store == nil {
		return nil, errors.New("desktop bridge: store is nil")
	}
	d := &Desktop{
		store:       store,
		opener:      SystemOpener,
		clip:        clipboard.WriteAll,
		subscribers: map[int]func(UpdateInfo){},
	}
	for _, opt := range opts {
		opt(d)
	}
	return d, nil
}

func (d *Desktop) LoadChatUsername(ctx context.Context) (string, error) {
	v, _, err := d.store.Get(ctx, KeyChatUsername)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(v), nil
}

func (d *Desktop) SaveChatUsername(ctx context.Context, name string) error {
	return d.store.Set(ctx, KeyChatUsername, strings.TrimSpace(name))
}

// GetUserID returns the persisted user id, creating one on first use.
func (d *Desktop) GetUserID(ctx context.Context) (string, error) {
	d.idMu.Lock()
	defer d.idMu.Unlock()

	v, ok, err := d.store.Get(ctx, KeyUserID)
	if err != nil {
		return "", errors.Wrap(err, "load user id")
	}
	if ok && strings.TrimSpace(v) != "" {
		return strings.TrimSpace(v), nil
	}
	id := uuid.NewString()
	if err := d.store.Set(ctx, KeyUserID, id); err != nil {
		return "", errors.Wrap(err, "persist user id")
	}
	log.Info().Str("component", "hostbridge").Str("user_id", id).Msg("generated new user id")
	return id, nil
}

func (d *Desktop) OnUpdatePopup(fn func(UpdateInfo)) func() {
	if fn == nil {
		return func() {}
	}
	d.mu.Lock()
	id := d.nextSub
	d.nextSub++
	d.subscribers[id] = fn
	d.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			d.mu.Lock()
			delete(d.subscribers, id)
			d.mu.Unlock()
		})
	}
}

// Publish pushes info to every OnUpdatePopup subscriber.
func (d *Desktop) Publish(info UpdateInfo) {
	d.mu.Lock()
	d.latest = info
	subs := make([]func(UpdateInfo), 0, len(d.subscribers))
	for _, fn := range d.subscribers {
		subs = append(subs, fn)
	}
	d.mu.Unlock()

	for _, fn := range subs {
		fn(info)
	}
}

func (d *Desktop) CheckForUpdates(ctx context.Context) (UpdateInfo, error) {
	if d.checker == nil {
		return UpdateInfo{}, ErrNoFeed
	}
	info, err := d.checker.Check(ctx)
	if err != nil {
		return info, err
	}
	d.mu.Lock()
	d.latest = info
	d.mu.Unlock()
	return info, nil
}

// OpenDownloadPage opens the latest release page. When no opener works the
// URL is copied to the clipboard and the error is still returned, so the
// caller can offer a retry.
func (d *Desktop) OpenDownloadPage(ctx context.Context) error {
	d.mu.Lock()
	target := d.latest.DownloadURL
	d.mu.Unlock()

	if target == "" && d.checker != nil {
		info, err := d.CheckForUpdates(ctx)
		if err != nil {
			return errors.Wrap(err, "resolve download url")
		}
		target = info.DownloadURL
	}
	if target == "" {
		return ErrNoDownloadURL
	}

	logger := log.With().Str("component", "hostbridge").Str("url", target).Logger()
	if err := d.opener(ctx, target); err != nil {
		logger.Warn().Err(err).Msg("could not open download page")
		if cerr := d.clip(target); cerr != nil {
			logger.Warn().Err(cerr).Msg("could not copy download url to clipboard")
		} else {
			logger.Info().Msg("download url copied to clipboard")
		}
		return errors.Wrap(err, "open download page")
	}

	logger.Info().Msg("download page opened")
	if d.onTerminate != nil {
		time.AfterFunc(d.terminateDelay, d.onTerminate)
	}
	return nil
}
