package hostbridge

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"
)

func feedServer(t *testing.T, body string, status int) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = fmt.Fprint(w, body)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func noRetry() CheckerOption {
	return WithRetries(0, time.Millisecond, time.Millisecond)
}

func newTestDesktop(t *testing.T, opts ...DesktopOption) *Desktop {
	t.Helper()
	s, err := NewYAMLStore(filepath.Join(t.TempDir(), "settings.yaml"))
	require.NoError(t, err)
	d, err := NewDesktop(s, opts...)
	require.NoError(t, err)
	return d
}

func TestUpdateChecker_ReportsNewerRelease(t *testing.T) {
	srv := feedServer(t, `{"version":"1.1.0","url":"https://example.com/dl","notes":"# Fixes"}`, http.StatusOK)

	info, err := NewUpdateChecker(srv.URL, "1.0.0", noRetry()).Check(context.Background())
	require.NoError(t, err)
	require.Equal(t, UpdateInfo{
		CurrentVersion:  "1.0.0",
		NewVersion:      "1.1.0",
		UpdateAvailable: true,
		DownloadURL:     "https://example.com/dl",
		ReleaseNotes:    "# Fixes",
	}, info)

	info, err = NewUpdateChecker(srv.URL, "1.1.0", noRetry()).Check(context.Background())
	require.NoError(t, err)
	require.False(t, info.UpdateAvailable)
}

func TestUpdateChecker_Errors(t *testing.T) {
	_, err := NewUpdateChecker("", "1.0.0").Check(context.Background())
	require.ErrorIs(t, err, ErrNoFeed)

	ok := feedServer(t, `{"version":"1.1.0"}`, http.StatusOK)
	_, err = NewUpdateChecker(ok.URL, "dev", noRetry()).Check(context.Background())
	require.Error(t, err)

	bad := feedServer(t, `{"version":"soon"}`, http.StatusOK)
	_, err = NewUpdateChecker(bad.URL, "1.0.0", noRetry()).Check(context.Background())
	require.Error(t, err)

	down := feedServer(t, `oops`, http.StatusNotFound)
	_, err = NewUpdateChecker(down.URL, "1.0.0", noRetry()).Check(context.Background())
	require.Error(t, err)
}

func TestDesktop_UserIDIsStable(t *testing.T) {
	d := newTestDesktop(t)
	ctx := context.Background()

	id, err := d.GetUserID(ctx)
	require.NoError(t, err)
	require.Len(t, id, 36)

	again, err := d.GetUserID(ctx)
	require.NoError(t, err)
	require.Equal(t, id, again)
}

func TestDesktop_Username(t *testing.T) {
	d := newTestDesktop(t)
	ctx := context.Background()

	name, err := d.LoadChatUsername(ctx)
	require.NoError(t, err)
	require.Empty(t, name)

	require.NoError(t, d.SaveChatUsername(ctx, " bob "))
	name, err = d.LoadChatUsername(ctx)
	require.NoError(t, err)
	require.Equal(t, "bob", name)
}

func TestDesktop_OpenDownloadPage(t *testing.T) {
	srv := feedServer(t, `{"version":"2.0.0","url":"https://example.com/v2"}`, http.StatusOK)
	var opened, copied string
	terminated := make(chan struct{})

	d := newTestDesktop(t,
		WithUpdateChecker(NewUpdateChecker(srv.URL, "1.0.0", noRetry())),
		WithOpener(func(_ context.Context, u string) error { opened = u; return nil }),
		WithClipboard(func(s string) error { copied = s; return nil }),
		WithTerminate(func() { close(terminated) }, 0),
	)

	require.NoError(t, d.OpenDownloadPage(context.Background()))
	require.Equal(t, "https://example.com/v2", opened)
	require.Empty(t, copied)
	select {
	case <-terminated:
	case <-time.After(2 * time.Second):
		t.Fatal("terminate hook not called")
	}
}

func TestDesktop_OpenDownloadPageFallsBackToClipboard(t *testing.T) {
	var copied string
	d := newTestDesktop(t,
		WithOpener(func(context.Context, string) error { return errors.New("no browser") }),
		WithClipboard(func(s string) error { copied = s; return nil }),
		WithTerminate(func() { t.Error("must not terminate after a failed open") }, 0),
	)
	require.ErrorIs(t, d.OpenDownloadPage(context.Background()), ErrNoDownloadURL)

	d.Publish(UpdateInfo{UpdateAvailable: true, NewVersion: "2.0.0", DownloadURL: "https://example.com/v2"})
	err := d.OpenDownloadPage(context.Background())
	require.Error(t, err)
	require.Equal(t, "https://example.com/v2", copied)
	time.Sleep(20 * time.Millisecond)
}

func TestDesktop_PopupSubscribers(t *testing.T) {
	d := newTestDesktop(t)
	var got []UpdateInfo
	cancel := d.OnUpdatePopup(func(info UpdateInfo) { got = append(got, info) })

	d.Publish(UpdateInfo{NewVersion: "1.1.0", UpdateAvailable: true})
	cancel()
	cancel()
	d.Publish(UpdateInfo{NewVersion: "1.2.0", UpdateAvailable: true})

	require.Len(t, got, 1)
	require.Equal(t, "1.1.0", got[0].NewVersion)
}

func TestPoller_PublishesEachReleaseOnce(t *testing.T) {
	srv := feedServer(t, `{"version":"1.1.0","url":"https://example.com/dl"}`, http.StatusOK)
	d := newTestDesktop(t, WithUpdateChecker(NewUpdateChecker(srv.URL, "1.0.0", noRetry())))

	var pushes atomic.Int32
	d.OnUpdatePopup(func(UpdateInfo) { pushes.Add(1) })

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- NewPoller(d, 5*time.Millisecond).Run(ctx) }()

	require.Eventually(t, func() bool { return pushes.Load() == 1 }, 2*time.Second, 5*time.Millisecond)
	time.Sleep(30 * time.Millisecond)
	cancel()
	require.NoError(t, <-done)
	require.Equal(t, int32(1), pushes.Load())

	require.NoError(t, NewPoller(d, 0).Run(context.Background()))
}
