package esl

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync/atomic"
	"time"
)

// State is the session state of the event-socket client.
type State int32

const (
	StateDisconnected State = iota
	StateConnecting
	StateAwaitingChallenge
	StateAuthenticating
	StateSubscribing
	StateListening
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateAwaitingChallenge:
		return "awaiting_challenge"
	case StateAuthenticating:
		return "authenticating"
	case StateSubscribing:
		return "subscribing"
	case StateListening:
		return "listening"
	default:
		return "unknown"
	}
}

var (
	// ErrAuthRejected is returned by Run once the switch has rejected the
	// credentials MaxAuthFailures times in a row. Unlike transient network
	// failures, this is not retried forever.
	ErrAuthRejected = errors.New("esl: authentication rejected")
)

// AuthenticationError marks a negative reply to the auth command.
type AuthenticationError struct {
	Reply string
}

func (e *AuthenticationError) Error() string {
	return "esl: authentication failed: " + e.Reply
}

// Handler consumes decoded events in arrival order.
type Handler interface {
	HandleEvent(ctx context.Context, ev Event)
}

// ClientConfig controls connection, handshake and retry behavior.
type ClientConfig struct {
	Addr     string
	Password string

	// EventKinds are the lifecycle events subscribed to after auth.
	EventKinds []string

	DialTimeout      time.Duration
	HandshakeTimeout time.Duration

	// IdleTimeout bounds every blocking read while listening. A switch that
	// stops talking for longer than this is treated as a dead connection.
	IdleTimeout time.Duration

	BackoffMin time.Duration
	BackoffMax time.Duration

	// MaxAuthFailures caps consecutive credential rejections before Run
	// gives up with ErrAuthRejected.
	MaxAuthFailures int
}

func (c ClientConfig) withDefaults() ClientConfig {
	out := c
	if out.DialTimeout <= 0 {
		out.DialTimeout = 10 * time.Second
	}
	if out.HandshakeTimeout <= 0 {
		out.HandshakeTimeout = 10 * time.Second
	}
	if out.IdleTimeout <= 0 {
		out.IdleTimeout = 5 * time.Minute
	}
	if out.BackoffMin <= 0 {
		out.BackoffMin = time.Second
	}
	if out.BackoffMax <= 0 {
		out.BackoffMax = 30 * time.Second
	}
	if out.MaxAuthFailures <= 0 {
		out.MaxAuthFailures = 3
	}
	if len(out.EventKinds) == 0 {
		out.EventKinds = []string{"CHANNEL_CREATE", "CHANNEL_ANSWER", "CHANNEL_HANGUP", "CHANNEL_HANGUP_COMPLETE"}
	}
	return out
}

// Client maintains a persistent authenticated session against the switch's
// event socket and feeds decoded events to the handler.
type Client struct {
	cfg     ClientConfig
	handler Handler
	log     *slog.Logger

	state atomic.Int32
}

func NewClient(cfg ClientConfig, handler Handler, log *slog.Logger) *Client {
	if log == nil {
		log = slog.Default()
	}
	return &Client{cfg: cfg.withDefaults(), handler: handler, log: log}
}

// State returns the current session state.
func (c *Client) State() State { return State(c.state.Load()) }

func (c *Client) setState(s State) { c.state.Store(int32(s)) }

// Run connects and listens until ctx is cancelled. Transient failures are
// retried with bounded exponential backoff; repeated credential rejections
// terminate the loop with ErrAuthRejected.
func (c *Client) Run(ctx context.Context) error {
	backoff := c.cfg.BackoffMin
	authFailures := 0

	for {
		err := c.runSession(ctx)
		c.setState(StateDisconnected)
		if ctx.Err() != nil {
			return nil
		}

		var authErr *AuthenticationError
		if errors.As(err, &authErr) {
			authFailures++
			c.log.Error("event socket auth rejected", "attempt", authFailures, "max", c.cfg.MaxAuthFailures)
			if authFailures >= c.cfg.MaxAuthFailures {
				return ErrAuthRejected
			}
		} else {
			authFailures = 0
		}

		c.log.Warn("event socket session ended, reconnecting", "err", err, "backoff", backoff.String())
		select {
		case <-time.After(backoff):
		case <-ctx.Done():
			return nil
		}
		backoff *= 2
		if backoff > c.cfg.BackoffMax {
			backoff = c.cfg.BackoffMax
		}
	}
}

// runSession drives one connection through the full handshake:
// connect, await challenge, authenticate, subscribe, listen.
func (c *Client) runSession(ctx context.Context) error {
	c.setState(StateConnecting)
	conn, err := net.DialTimeout("tcp", c.cfg.Addr, c.cfg.DialTimeout)
	if err != nil {
		return fmt.Errorf("esl: dial %s: %w", c.cfg.Addr, err)
	}
	defer conn.Close()

	// Unblock reads when the caller shuts down.
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-done:
		}
	}()

	parser := NewParser(conn)

	c.setState(StateAwaitingChallenge)
	if err := c.awaitChallenge(conn, parser); err != nil {
		return err
	}

	c.setState(StateAuthenticating)
	if err := c.authenticate(conn, parser); err != nil {
		return err
	}

	c.setState(StateSubscribing)
	if err := c.subscribe(conn, parser); err != nil {
		return err
	}

	c.setState(StateListening)
	c.log.Info("event socket listening", "addr", c.cfg.Addr, "events", c.cfg.EventKinds)
	return c.listen(ctx, conn, parser)
}

func (c *Client) awaitChallenge(conn net.Conn, parser *Parser) error {
	for {
		ev, err := c.nextFrame(conn, parser, c.cfg.HandshakeTimeout)
		if err != nil {
			return err
		}
		if ev.ContentType() == "auth/request" {
			return nil
		}
		// Anything else before the challenge (banners, stray frames) is noise.
	}
}

func (c *Client) authenticate(conn net.Conn, parser *Parser) error {
	if _, err := conn.Write([]byte(AuthCommand(c.cfg.Password))); err != nil {
		return fmt.Errorf("esl: send auth: %w", err)
	}
	reply, err := c.awaitReply(conn, parser)
	if err != nil {
		return err
	}
	if !ReplyOK(reply) {
		return &AuthenticationError{Reply: reply.ReplyText()}
	}
	return nil
}

func (c *Client) subscribe(conn net.Conn, parser *Parser) error {
	if _, err := conn.Write([]byte(SubscribeCommand(c.cfg.EventKinds...))); err != nil {
		return fmt.Errorf("esl: send subscribe: %w", err)
	}
	reply, err := c.awaitReply(conn, parser)
	if err != nil {
		return err
	}
	if !ReplyOK(reply) {
		return &ProtocolError{Op: "subscribe rejected: " + reply.ReplyText()}
	}
	return nil
}

func (c *Client) awaitReply(conn net.Conn, parser *Parser) (Event, error) {
	for {
		ev, err := c.nextFrame(conn, parser, c.cfg.HandshakeTimeout)
		if err != nil {
			return Event{}, err
		}
		if ev.ContentType() == "command/reply" {
			return ev, nil
		}
	}
}

func (c *Client) listen(ctx context.Context, conn net.Conn, parser *Parser) error {
	for {
		ev, err := c.nextFrame(conn, parser, c.cfg.IdleTimeout)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		// Dispatch stays synchronous so events for one call keep their
		// arrival order; handlers fan out per call id themselves.
		c.handler.HandleEvent(ctx, ev)
	}
}

// nextFrame reads one frame with a read deadline. A timed-out read is a
// ProtocolError: the connection is torn down and rebuilt rather than left
// stalled on an unresponsive switch.
func (c *Client) nextFrame(conn net.Conn, parser *Parser, timeout time.Duration) (Event, error) {
	if err := conn.SetReadDeadline(time.Now().Add(timeout)); err != nil {
		return Event{}, fmt.Errorf("esl: set read deadline: %w", err)
	}
	ev, err := parser.Next()
	if err != nil {
		var nerr net.Error
		if errors.As(err, &nerr) && nerr.Timeout() {
			return Event{}, &ProtocolError{Op: "read timed out", Err: err}
		}
		return Event{}, err
	}
	return ev, nil
}
