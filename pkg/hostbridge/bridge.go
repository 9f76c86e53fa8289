// Package hostbridge is the process-level API the chat client and the update
// notifier rely on: settings persistence, a stable user id and update actions.
package hostbridge

import (
	"context"

	"github.com/go-go-golems/launchpad/pkg/chat"
)

// UpdateInfo is the host's view of the installed and the latest release.
type UpdateInfo struct {
	CurrentVersion  string `json:"currentVersion" yaml:"current_version"`
	NewVersion      string `json:"newVersion" yaml:"new_version"`
	UpdateAvailable bool   `json:"updateAvailable" yaml:"update_available"`
	DownloadURL     string `json:"downloadUrl,omitempty" yaml:"download_url,omitempty"`
	ReleaseNotes    string `json:"releaseNotes,omitempty" yaml:"release_notes,omitempty"`
}

type HostBridge interface {
	chat.Bridge

	// OnUpdatePopup registers fn for host-initiated update pushes. The returned
	// function unregisters it. fn may be called from any goroutine.
	OnUpdatePopup(fn func(UpdateInfo)) (cancel func())
	CheckForUpdates(ctx context.Context) (UpdateInfo, error)
	OpenDownloadPage(ctx context.Context) error
}

const (
	KeyChatUsername = "chat_username"
	KeyUserID       = "user_id"
)
