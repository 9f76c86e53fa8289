package transport

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/go-go-golems/launchpad/pkg/chat"
	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

var ErrClosed = errors.New("websocket transport closed")

const eventBufferSize = 256

// Config controls the websocket client. MaxAttempts is the number of dial
// attempts per connection cycle (initial connect or after a drop) before the
// client gives up and waits for an explicit Start.
type Config struct {
	URL              string
	Header           http.Header
	MaxAttempts      int
	RetryDelay       time.Duration
	HandshakeTimeout time.Duration
	WriteWait        time.Duration
	PongWait         time.Duration
	PingInterval     time.Duration
	MaxMessageSize   int64
}

func DefaultConfig(url string) Config {
	return Config{
		URL:              url,
		MaxAttempts:      5,
		RetryDelay:       time.Second,
		HandshakeTimeout: 10 * time.Second,
		WriteWait:        10 * time.Second,
		PongWait:         60 * time.Second,
		PingInterval:     25 * time.Second,
		MaxMessageSize:   64 * 1024,
	}
}

func (c Config) validate() error {
	if c.URL == "" {
		return errors.New("websocket transport: empty url")
	}
	if c.MaxAttempts <= 0 {
		return errors.Errorf("websocket transport: max attempts must be positive, got %d", c.MaxAttempts)
	}
	if c.RetryDelay < 0 {
		return errors.New("websocket transport: negative retry delay")
	}
	if c.PingInterval <= 0 || c.PongWait <= c.PingInterval {
		return errors.New("websocket transport: pong wait must exceed a positive ping interval")
	}
	return nil
}

// Client is a chat.Transport over a single gorilla websocket connection with
// bounded, fixed-delay reconnection.
type Client struct {
	cfg    Config
	dialer *websocket.Dialer
	events chan chat.InboundEvent

	mu       sync.Mutex
	conn     *websocket.Conn
	cancel   context.CancelFunc
	loopDone chan struct{}
	closed   bool

	writeMu   sync.Mutex
	closeOnce sync.Once
}

var _ chat.Transport = (*Client)(nil)

func NewClient(cfg Config) (*Client, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &Client{
		cfg: cfg,
		dialer: &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: cfg.HandshakeTimeout,
		},
		events: make(chan chat.InboundEvent, eventBufferSize),
	}, nil
}

func (c *Client) Events() <-chan chat.InboundEvent {
	return c.events
}

func (c *Client) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn != nil
}

// Start launches the connection loop. It is a no-op while a loop is running
// and restarts a loop that gave up.
func (c *Client) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrClosed
	}
	if c.loopDone != nil {
		select {
		case <-c.loopDone:
		default:
			return nil
		}
	}
	runCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	c.cancel = cancel
	c.loopDone = done
	go c.run(runCtx, done)
	return nil
}

func (c *Client) Emit(ctx context.Context, ev chat.OutboundEvent) error {
	data, err := Encode(ev)
	if err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return chat.ErrNotConnected
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = conn.SetWriteDeadline(time.Now().Add(c.cfg.WriteWait))
	if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
		log.Warn().Err(err).Str("component", "transport").Str("event", ev.EventName()).Msg("ws write failed")
		return errors.Wrapf(chat.ErrNotConnected, "write %s: %v", ev.EventName(), err)
	}
	return nil
}

// Close stops the loop, sends a close frame on a live connection and closes
// the event channel once nothing can write to it anymore.
func (c *Client) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.closed = true
		cancel := c.cancel
		done := c.loopDone
		conn := c.conn
		c.mu.Unlock()

		if conn != nil {
			msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "client closing")
			if werr := conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(c.cfg.WriteWait)); werr != nil {
				log.Debug().Err(werr).Str("component", "transport").Msg("ws close frame failed")
			}
			err = conn.Close()
		}
		if cancel != nil {
			cancel()
		}
		if done != nil {
			<-done
		}
		close(c.events)
	})
	return err
}

func (c *Client) run(ctx context.Context, done chan struct{}) {
	defer close(done)
	logger := log.With().Str("component", "transport").Str("url", c.cfg.URL).Logger()

	for {
		conn, attempts, err := c.dialWithRetry(ctx)
		if err != nil {
			if ctx.Err() != nil {
				logger.Debug().Msg("ws loop cancelled")
				return
			}
			logger.Warn().Err(err).Int("attempts", attempts).Msg("ws reconnection exhausted")
			c.emit(ctx, chat.ReconnectFailed{Attempts: attempts})
			return
		}

		c.mu.Lock()
		c.conn = conn
		c.mu.Unlock()
		logger.Info().Int("attempts", attempts).Msg("ws connected")

		if !c.emit(ctx, chat.Connected{}) {
			c.dropConn(conn)
			return
		}
		reason := c.serve(ctx, conn)
		c.dropConn(conn)

		if ctx.Err() != nil {
			logger.Debug().Msg("ws loop cancelled")
			return
		}
		logger.Info().Str("reason", reason).Msg("ws disconnected")
		if !c.emit(ctx, chat.Disconnected{Reason: reason}) {
			return
		}
	}
}

func (c *Client) dialWithRetry(ctx context.Context) (*websocket.Conn, int, error) {
	var conn *websocket.Conn
	attempts := 0

	policy := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewConstantBackOff(c.cfg.RetryDelay), uint64(c.cfg.MaxAttempts-1)),
		ctx,
	)
	op := func() error {
		attempts++
		dialed, _, err := c.dialer.DialContext(ctx, c.cfg.URL, c.cfg.Header)
		if err != nil {
			if ctx.Err() != nil {
				return backoff.Permanent(ctx.Err())
			}
			c.emit(ctx, chat.ConnectError{Err: err, Attempt: attempts})
			return err
		}
		conn = dialed
		return nil
	}
	notify := func(err error, wait time.Duration) {
		log.Debug().Err(err).Int("attempt", attempts).Dur("wait", wait).Str("component", "transport").Msg("ws dial failed, retrying")
	}
	if err := backoff.RetryNotify(op, policy, notify); err != nil {
		return nil, attempts, err
	}
	return conn, attempts, nil
}

// serve pumps frames until the connection fails or ctx is cancelled and
// returns a short reason for the drop.
func (c *Client) serve(ctx context.Context, conn *websocket.Conn) string {
	g, gctx := errgroup.WithContext(ctx)

	conn.SetReadLimit(c.cfg.MaxMessageSize)
	_ = conn.SetReadDeadline(time.Now().Add(c.cfg.PongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(c.cfg.PongWait))
	})

	g.Go(func() error {
		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				return err
			}
			ev, err := Decode(data)
			if err != nil {
				if errors.Is(err, ErrUnknownEvent) {
					log.Debug().Err(err).Str("component", "transport").Msg("ignoring frame")
				} else {
					log.Warn().Err(err).Str("component", "transport").Msg("dropping malformed frame")
				}
				continue
			}
			if !c.emit(gctx, ev) {
				return gctx.Err()
			}
		}
	})

	g.Go(func() error {
		ticker := time.NewTicker(c.cfg.PingInterval)
		defer ticker.Stop()
		for {
			select {
			case <-gctx.Done():
				return nil
			case <-ticker.C:
				if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(c.cfg.WriteWait)); err != nil {
					return errors.Wrap(err, "ping")
				}
			}
		}
	})

	// unblocks ReadMessage once any side stops
	g.Go(func() error {
		<-gctx.Done()
		_ = conn.Close()
		return nil
	})

	err := g.Wait()
	switch {
	case err == nil:
		return "closed"
	case websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway):
		return "server closed connection"
	default:
		return err.Error()
	}
}

func (c *Client) dropConn(conn *websocket.Conn) {
	c.mu.Lock()
	if c.conn == conn {
		c.conn = nil
	}
	c.mu.Unlock()
	_ = conn.Close()
}

func (c *Client) emit(ctx context.Context, ev chat.InboundEvent) bool {
	select {
	case c.events <- ev:
		return true
	case <-ctx.Done():
		return false
	}
}
