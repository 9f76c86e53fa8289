package hostbridge

import (
	"context"
	"net/url"
	"os/exec"
	"runtime"

	"github.com/pkg/errors"
)

// Opener hands a URL to whatever the desktop uses to open links.
type Opener func(ctx context.Context, rawURL string) error

// SystemOpener runs the platform's URL handler and waits for it to exit.
func SystemOpener(ctx context.Context, rawURL string) error {
	u, err := url.Parse(rawURL)
	if err != nil {
		return errors.Wrapf(err, "parse download url %q", rawURL)
	}
	if u.Scheme != "https" && u.Scheme != "http" {
		return errors.Errorf("refusing to open %q: unsupported scheme", rawURL)
	}

	var cmd *exec.Cmd
	switch runtime.GOOS {
	case "darwin":
		cmd = exec.CommandContext(ctx, "open", u.String())
	case "windows":
		cmd = exec.CommandContext(ctx, "rundll32", "url.dll,FileProtocolHandler", u.String())
	default:
		cmd = exec.CommandContext(ctx, "xdg-open", u.String())
	}
	if out, err := cmd.CombinedOutput(); err != nil {
		return errors.Wrapf(err, "%s: %s", cmd.Path, string(out))
	}
	return nil
}
