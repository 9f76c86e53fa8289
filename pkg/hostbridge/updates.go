package hostbridge

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/Masterminds/semver"
	"github.com/hashicorp/go-retryablehttp"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

var ErrNoFeed = errors.New("update feed url not configured")

const maxFeedSize = 1 << 20

// Release is the JSON document served by the release feed.
type Release struct {
	Version string `json:"version"`
	URL     string `json:"url"`
	Notes   string `json:"notes"`
}

// UpdateChecker compares the running version against a remote release feed.
type UpdateChecker struct {
	feedURL string
	current string
	client  *retryablehttp.Client
}

type CheckerOption func(*UpdateChecker)

// WithRetries overrides how often a failing feed request is retried.
func WithRetries(retries int, waitMin, waitMax time.Duration) CheckerOption {
	return func(c *UpdateChecker) {
		c.client.RetryMax = retries
		c.client.RetryWaitMin = waitMin
		c.client.RetryWaitMax = waitMax
	}
}

func WithHTTPClient(hc *http.Client) CheckerOption {
	return func(c *UpdateChecker) {
		if hc != nil {
			c.client.HTTPClient = hc
		}
	}
}

func NewUpdateChecker(feedURL, currentVersion string, opts ...CheckerOption) *UpdateChecker {
	client := retryablehttp.NewClient()
	client.RetryMax = 2
	client.RetryWaitMin = 500 * time.Millisecond
	client.RetryWaitMax = 2 * time.Second
	client.HTTPClient.Timeout = 15 * time.Second
	client.Logger = leveledLogger{l: log.With().Str("component", "update-feed").Logger()}

	c := &UpdateChecker{
		feedURL: strings.TrimSpace(feedURL),
		current: strings.TrimSpace(currentVersion),
		client:  client,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *UpdateChecker) CurrentVersion() string {
	return c.current
}

// Check fetches the feed. Malformed versions on either side are errors.
func (c *UpdateChecker) Check(ctx context.Context) (UpdateInfo, error) {
	info := UpdateInfo{CurrentVersion: c.current}
	if c.feedURL == "" {
		return info, ErrNoFeed
	}
	current, err := semver.NewVersion(c.current)
	if err != nil {
		return info, errors.Wrapf(err, "parse current version %q", c.current)
	}

	rel, err := c.fetch(ctx)
	if err != nil {
		return info, err
	}
	latest, err := semver.NewVersion(strings.TrimSpace(rel.Version))
	if err != nil {
		return info, errors.Wrapf(err, "parse feed version %q", rel.Version)
	}

	info.NewVersion = strings.TrimSpace(rel.Version)
	info.DownloadURL = strings.TrimSpace(rel.URL)
	info.ReleaseNotes = rel.Notes
	info.UpdateAvailable = latest.GreaterThan(current)
	log.Debug().
		Str("component", "update-feed").
		Str("current", c.current).
		Str("latest", info.NewVersion).
		Bool("available", info.UpdateAvailable).
		Msg("update feed checked")
	return info, nil
}

func (c *UpdateChecker) fetch(ctx context.Context) (Release, error) {
	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, c.feedURL, nil)
	if err != nil {
		return Release{}, errors.Wrap(err, "build update feed request")
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return Release{}, errors.Wrap(err, "fetch update feed")
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return Release{}, errors.Errorf("fetch update feed: unexpected status %s", resp.Status)
	}
	var rel Release
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxFeedSize)).Decode(&rel); err != nil {
		return Release{}, errors.Wrap(err, "decode update feed")
	}
	return rel, nil
}

// leveledLogger routes retryablehttp logging into zerolog.
type leveledLogger struct {
	l zerolog.Logger
}

var _ retryablehttp.LeveledLogger = leveledLogger{}

func (z leveledLogger) Error(msg string, kv ...interface{}) { z.event(z.l.Error(), msg, kv) }
func (z leveledLogger) Warn(msg string, kv ...interface{})  { z.event(z.l.Warn(), msg, kv) }
func (z leveledLogger) Info(msg string, kv ...interface{})  { z.event(z.l.Debug(), msg, kv) }
func (z leveledLogger) Debug(msg string, kv ...interface{}) { z.event(z.l.Trace(), msg, kv) }

func (z leveledLogger) event(e *zerolog.Event, msg string, kv []interface{}) {
	for i := 0; i+1 < len(kv); i += 2 {
		e = e.Str(fmt.Sprint(kv[i]), fmt.Sprint(kv[i+1]))
	}
	e.Msg(msg)
}
