package chatrunner

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/go-go-golems/launchpad/pkg/chat"
	"github.com/go-go-golems/launchpad/pkg/hostbridge"
	"github.com/go-go-golems/launchpad/pkg/inputgate"
	"github.com/go-go-golems/launchpad/pkg/ui"
	"github.com/go-go-golems/launchpad/pkg/update"
	"github.com/mattn/go-isatty"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	input "github.com/tcnksm/go-input"
	"golang.org/x/sync/errgroup"
)

// RunMode defines how the chat session is presented.
type RunMode string

const (
	RunModeAuto RunMode = "auto"
	RunModeTUI  RunMode = "tui"
	RunModeLine RunMode = "line"
)

const (
	commandQuit      = "/quit"
	commandReconnect = "/reconnect"
	commandDownload  = "download"
	popupBuffer      = 4
)

// ResolveMode turns auto into tui when both ends are terminals and into line
// otherwise.
func ResolveMode(mode RunMode, in io.Reader, out io.Writer) RunMode {
	if mode != RunModeAuto && mode != "" {
		return mode
	}
	if isTerminal(in) && isTerminal(out) {
		return RunModeTUI
	}
	return RunModeLine
}

func isTerminal(v interface{}) bool {
	f, ok := v.(*os.File)
	if !ok {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

// Runner holds the validated configuration and drives one chat session.
// It's typically created by the Builder.
type Runner struct {
	ctx            context.Context
	session        *chat.Session
	notifier       *update.Notifier
	popups         update.PopupSource
	programOptions []tea.ProgramOption
	mode           RunMode
	in             io.Reader
	out            io.Writer
	checkOnStart   bool
	clipboard      func(string) error
	terminate      <-chan struct{}
}

func (r *Runner) Mode() RunMode { return r.mode }

// Run executes the session until the user quits, input ends, the context is
// cancelled or the terminate signal fires.
func (r *Runner) Run() error {
	defer func() {
		if err := r.session.Dispose(); err != nil {
			log.Warn().Err(err).Str("component", "chatrunner").Msg("closing chat session")
		}
	}()
	switch r.mode {
	case RunModeTUI:
		return r.runTUI()
	case RunModeLine:
		return r.runLine()
	default:
		return errors.Errorf("unknown run mode: %v", r.mode)
	}
}

// listen forwards host popups into a buffered channel owned by the UI loop.
func (r *Runner) listen() (<-chan hostbridge.UpdateInfo, func()) {
	if r.notifier == nil || r.popups == nil {
		return nil, func() {}
	}
	ch := make(chan hostbridge.UpdateInfo, popupBuffer)
	cancel := r.notifier.Listen(r.popups, func(info hostbridge.UpdateInfo) {
		select {
		case ch <- info:
		default:
			log.Debug().Str("component", "chatrunner").Msg("update popup dropped, one is already pending")
		}
	})
	return ch, cancel
}

func (r *Runner) runTUI() error {
	popups, stop := r.listen()
	defer stop()

	model, err := ui.NewAppModel(r.ctx, ui.Options{
		Session:      r.session,
		Notifier:     r.notifier,
		Popups:       popups,
		CheckOnStart: r.checkOnStart,
		Clipboard:    r.clipboard,
	})
	if err != nil {
		return errors.Wrap(err, "failed to create chat UI")
	}

	opts := append([]tea.ProgramOption{tea.WithContext(r.ctx)}, r.programOptions...)
	if r.in != os.Stdin {
		opts = append(opts, tea.WithInput(r.in))
	}
	if r.out != os.Stdout {
		opts = append(opts, tea.WithOutput(r.out))
	}
	p := tea.NewProgram(model, opts...)

	eg, childCtx := errgroup.WithContext(r.ctx)
	childCtx, cancel := context.WithCancel(childCtx)

	eg.Go(func() error {
		defer cancel()
		log.Debug().Str("component", "chatrunner").Msg("Starting Bubble Tea program")
		_, runErr := p.Run()
		log.Debug().Err(runErr).Str("component", "chatrunner").Msg("Bubble Tea program finished")
		if errors.Is(runErr, tea.ErrProgramKilled) && r.ctx.Err() != nil {
			return nil
		}
		return runErr
	})
	eg.Go(func() error {
		select {
		case <-childCtx.Done():
		case <-r.terminate:
			log.Info().Str("component", "chatrunner").Msg("terminate requested")
			p.Send(ui.TerminateMsg{})
		}
		return nil
	})

	err = eg.Wait()
	if errors.Is(err, context.Canceled) && r.ctx.Err() == context.Canceled {
		return nil
	}
	return err
}

func (r *Runner) runLine() error {
	ctx, cancel := context.WithCancel(r.ctx)
	defer cancel()

	reader := bufio.NewReader(r.in)

	if err := r.session.Initialize(ctx); err != nil {
		log.Warn().Err(err).Str("component", "chatrunner").Msg("chat initialization failed")
	}
	for r.session.NeedsUsername() {
		name, err := askUsername(lineAtATime{reader}, r.out)
		if err != nil {
			return errors.Wrap(err, "failed to read chat username")
		}
		if err := r.session.SubmitUsername(ctx, name); err != nil {
			_, _ = fmt.Fprintln(r.out, err.Error())
		}
	}

	popups, stop := r.listen()
	defer stop()

	eg, childCtx := errgroup.WithContext(ctx)
	checked := make(chan struct{})
	if r.notifier != nil && r.checkOnStart {
		eg.Go(func() error {
			r.notifier.CheckNow(childCtx)
			close(checked)
			return nil
		})
	}
	defer func() {
		cancel()
		_ = eg.Wait()
	}()

	// stdin reads cannot be interrupted; the reader exits on EOF or on its next line after ctx is done
	lines := make(chan string)
	go readLines(ctx, reader, lines)

	shown := false
	showModal := func() {
		if r.notifier == nil {
			return
		}
		if m := r.notifier.Modal(); m.Visible {
			_, _ = fmt.Fprintln(r.out, ui.FormatModal(m))
			shown = true
		}
	}
	if r.notifier != nil && r.notifier.Visible() {
		showModal()
	}

	events := r.session.Events()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-r.terminate:
			log.Info().Str("component", "chatrunner").Msg("terminate requested")
			return nil
		case ev, ok := <-events:
			if !ok {
				events = nil
				continue
			}
			r.session.Handle(ctx, ev)
		case info := <-popups:
			if r.notifier.ShowModal(info) {
				showModal()
			}
		case <-checked:
			checked = nil
			if r.notifier.Visible() && !shown {
				showModal()
			}
		case line, ok := <-lines:
			if !ok {
				log.Debug().Str("component", "chatrunner").Msg("input closed")
				return nil
			}
			if quit := r.handleLine(ctx, line, showModal); quit {
				return nil
			}
		}
	}
}

// handleLine treats every input line as an Enter press. While the update modal
// is up, only "download" or an empty line reaches its acknowledge control.
func (r *Runner) handleLine(ctx context.Context, line string, showModal func()) bool {
	trimmed := strings.TrimSpace(line)
	if r.notifier != nil && r.notifier.Visible() {
		ev := inputgate.Event{Kind: inputgate.KindKey, Key: "enter", Scope: update.ModalScope}
		if trimmed == "" || strings.EqualFold(trimmed, commandDownload) {
			ev.Control = update.AcknowledgeControl
		}
		if !r.notifier.Gate().Allow(ev) {
			_, _ = fmt.Fprintln(r.out, update.Footer)
			return false
		}
		if r.notifier.Phase() == update.PhaseVisible {
			if err := r.notifier.Acknowledge(ctx); err != nil {
				log.Warn().Err(err).Str("component", "chatrunner").Msg("download page could not be opened")
			}
			showModal()
		}
		return false
	}

	switch trimmed {
	case commandQuit:
		return true
	case commandReconnect:
		if err := r.session.Reconnect(ctx); err != nil {
			log.Warn().Err(err).Str("component", "chatrunner").Msg("reconnect failed")
		}
		return false
	}
	r.session.SendMessage(ctx, line)
	return false
}

// readLines forwards input lines until EOF or until ctx is done. A line read
// after the chat loop has exited is dropped.
func readLines(ctx context.Context, r *bufio.Reader, out chan<- string) {
	defer close(out)
	for {
		line, err := r.ReadString('\n')
		if line != "" || err == nil {
			select {
			case out <- strings.TrimRight(line, "\r\n"):
			case <-ctx.Done():
				return
			}
		}
		if err != nil {
			if !errors.Is(err, io.EOF) {
				log.Warn().Err(err).Str("component", "chatrunner").Msg("reading input failed")
			}
			return
		}
	}
}

// lineAtATime hands out at most one line per Read, so a prompt that buffers
// its input cannot swallow lines meant for the chat loop.
type lineAtATime struct {
	r *bufio.Reader
}

func (l lineAtATime) Read(p []byte) (int, error) {
	n := 0
	for n < len(p) {
		c, err := l.r.ReadByte()
		if err != nil {
			if n > 0 {
				return n, nil
			}
			return 0, err
		}
		p[n] = c
		n++
		if c == '\n' {
			break
		}
	}
	return n, nil
}

// askUsername prompts until a valid chat username is entered.
func askUsername(r io.Reader, w io.Writer) (string, error) {
	prompt := &input.UI{
		Writer: w,
		Reader: r,
	}
	query := fmt.Sprintf("Choose a chat username (%d-%d characters: letters, numbers, - and _)",
		chat.MinUsernameLength, chat.MaxUsernameLength)
	answer, err := prompt.Ask(query, &input.Options{
		Required: true,
		Loop:     true,
		ValidateFunc: func(answer string) error {
			_, err := chat.ValidateUsername(answer)
			return err
		},
	})
	if err != nil {
		return "", errors.Wrap(err, "failed to get user input")
	}
	return answer, nil
}

// --- Builder ---

// Builder provides a fluent API for configuring a Runner.
type Builder struct {
	err            error
	ctx            context.Context
	session        *chat.Session
	notifier       *update.Notifier
	popups         update.PopupSource
	programOptions []tea.ProgramOption
	mode           RunMode
	in             io.Reader
	out            io.Writer
	checkOnStart   bool
	clipboard      func(string) error
	terminate      <-chan struct{}
}

// NewBuilder creates a new builder with default settings.
func NewBuilder() *Builder {
	return &Builder{
		ctx:            context.Background(),
		programOptions: []tea.ProgramOption{tea.WithMouseCellMotion(), tea.WithAltScreen()},
		mode:           RunModeAuto,
		in:             os.Stdin,
		out:            os.Stdout,
	}
}

func (b *Builder) WithContext(ctx context.Context) *Builder {
	if b.err != nil {
		return b
	}
	if ctx == nil {
		b.err = errors.New("context cannot be nil")
		return b
	}
	b.ctx = ctx
	return b
}

// WithSession sets the chat session to drive. (Required)
func (b *Builder) WithSession(s *chat.Session) *Builder {
	if b.err != nil {
		return b
	}
	if s == nil {
		b.err = errors.New("session cannot be nil")
		return b
	}
	b.session = s
	return b
}

// WithNotifier enables the update modal. popups may be nil when the host
// never pushes updates on its own.
func (b *Builder) WithNotifier(n *update.Notifier, popups update.PopupSource) *Builder {
	if b.err != nil {
		return b
	}
	if n == nil {
		b.err = errors.New("notifier cannot be nil")
		return b
	}
	b.notifier = n
	b.popups = popups
	return b
}

// WithProgramOptions adds options for configuring the bubbletea program.
func (b *Builder) WithProgramOptions(opts ...tea.ProgramOption) *Builder {
	if b.err != nil {
		return b
	}
	b.programOptions = append(b.programOptions, opts...)
	return b
}

// WithMode sets the presentation mode (auto, tui, line).
func (b *Builder) WithMode(mode RunMode) *Builder {
	if b.err != nil {
		return b
	}
	switch mode {
	case RunModeAuto, RunModeTUI, RunModeLine:
		b.mode = mode
	default:
		b.err = errors.Errorf("invalid run mode: %s", mode)
	}
	return b
}

// WithInput sets where keyboard input is read from. Defaults to os.Stdin.
func (b *Builder) WithInput(r io.Reader) *Builder {
	if b.err != nil {
		return b
	}
	if r == nil {
		b.err = errors.New("input reader cannot be nil")
		return b
	}
	b.in = r
	return b
}

// WithOutputWriter sets the writer for both modes. Defaults to os.Stdout.
func (b *Builder) WithOutputWriter(w io.Writer) *Builder {
	if b.err != nil {
		return b
	}
	if w == nil {
		b.err = errors.New("output writer cannot be nil")
		return b
	}
	b.out = w
	return b
}

// WithUpdateCheck asks the host for updates once the session starts.
func (b *Builder) WithUpdateCheck(enabled bool) *Builder {
	if b.err != nil {
		return b
	}
	b.checkOnStart = enabled
	return b
}

func (b *Builder) WithClipboard(fn func(string) error) *Builder {
	if b.err != nil {
		return b
	}
	b.clipboard = fn
	return b
}

// WithTerminate registers a signal that closes the session from outside the
// UI loop, e.g. once the download page opened.
func (b *Builder) WithTerminate(ch <-chan struct{}) *Builder {
	if b.err != nil {
		return b
	}
	b.terminate = ch
	return b
}

func (b *Builder) Build() (*Runner, error) {
	if b.err != nil {
		return nil, b.err
	}
	if b.session == nil {
		return nil, errors.New("session is required (use WithSession)")
	}
	if b.checkOnStart && b.notifier == nil {
		return nil, errors.New("update check needs a notifier (use WithNotifier)")
	}

	return &Runner{
		ctx:            b.ctx,
		session:        b.session,
		notifier:       b.notifier,
		popups:         b.popups,
		programOptions: b.programOptions,
		mode:           ResolveMode(b.mode, b.in, b.out),
		in:             b.in,
		out:            b.out,
		checkOnStart:   b.checkOnStart,
		clipboard:      b.clipboard,
		terminate:      b.terminate,
	}, nil
}
