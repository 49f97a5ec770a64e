package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/torvand/bellhop/internal/core"
)

const (
	writeTimeout = 5 * time.Second
	maxBackoff   = 30 * time.Second
)

var ErrNotConnected = errors.New("gateway not connected")

type Config struct {
	URL     string
	Token   string
	Timeout time.Duration
}

// Client maintains one websocket to the chat platform's gateway. Events
// are delivered through the On* callbacks; outbound ops are correlated
// with their replies by nonce. The read loop reconnects on its own with
// capped backoff and re-fires OnReady after every successful dial, so
// startup seeding stays idempotent.
type Client struct {
	cfg Config

	connMu sync.Mutex // guards the conn pointer itself
	conn   *websocket.Conn

	wmu    sync.Mutex // serializes websocket writes
	closed atomic.Bool

	mu      sync.Mutex
	pending map[string]chan frame

	botID atomic.Value // domain.MemberID

	OnReady          func(ReadyEvent)
	OnMessage        func(core.Message)
	OnReactionAdd    func(core.ReactionEvent)
	OnReactionRemove func(core.ReactionEvent)
	OnError          func(error)
}

func New(cfg Config) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	return &Client{
		cfg:     cfg,
		pending: make(map[string]chan frame),
	}
}

// Connect dials the gateway, identifies, and starts the read loop.
// Cancel ctx for a graceful stop.
func (c *Client) Connect(ctx context.Context) error {
	conn, err := c.dialAndIdentify()
	if err != nil {
		return err
	}
	c.setConn(conn)
	c.closed.Store(false)
	go c.readLoop(ctx)
	return nil
}

func (c *Client) setConn(conn *websocket.Conn) {
	c.connMu.Lock()
	c.conn = conn
	c.connMu.Unlock()
}

func (c *Client) getConn() *websocket.Conn {
	c.connMu.Lock()
	defer c.connMu.Unlock()
	return c.conn
}

func (c *Client) Close() {
	c.closed.Store(true)
	c.closeConn()
}

func (c *Client) dialAndIdentify() (*websocket.Conn, error) {
	conn, _, err := websocket.DefaultDialer.Dial(c.cfg.URL, nil)
	if err != nil {
		return nil, err
	}
	ident, err := encodeFrame(opIdentify, "", identifyPayload{Token: c.cfg.Token})
	if err != nil {
		_ = conn.Close()
		return nil, err
	}
	_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	if err := conn.WriteMessage(websocket.TextMessage, ident); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("identify: %w", err)
	}
	return conn, nil
}

func (c *Client) closeConn() {
	c.connMu.Lock()
	conn := c.conn
	c.conn = nil
	c.connMu.Unlock()
	if conn == nil {
		return
	}
	_ = conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, "closing"),
		time.Now().Add(500*time.Millisecond))
	_ = conn.Close()
}

func (c *Client) readLoop(ctx context.Context) {
	defer func() {
		c.closed.Store(true)
		c.closeConn()
	}()

	go func() {
		<-ctx.Done()
		c.closeConn()
	}()

	backoff := time.Second

	for {
		conn := c.getConn()
		if conn == nil {
			c.reportError(errors.New("connection is nil"))
		} else {
			var f frame
			err := conn.ReadJSON(&f)
			if err == nil {
				c.dispatch(f)
				backoff = time.Second
				continue
			}
			if c.closed.Load() {
				return
			}
			c.reportError(err)
		}

		c.closeConn()
		c.failPending(errors.New("connection lost"))

		for !c.closed.Load() {
			select {
			case <-ctx.Done():
				return
			case <-time.After(backoff):
			}
			conn, derr := c.dialAndIdentify()
			if derr != nil {
				c.reportError(fmt.Errorf("reconnect failed (wait %v): %w", backoff, derr))
				backoff *= 2
				if backoff > maxBackoff {
					backoff = maxBackoff
				}
				continue
			}
			c.setConn(conn)
			backoff = time.Second
			log.Info().Str("module", "gateway").Msg("reconnected")
			break
		}
		if c.closed.Load() {
			return
		}
	}
}

func (c *Client) dispatch(f frame) {
	switch f.Op {
	case opReply:
		c.mu.Lock()
		ch, ok := c.pending[f.Nonce]
		if ok {
			delete(c.pending, f.Nonce)
		}
		c.mu.Unlock()
		if ok {
			ch <- f
		}

	case opReady:
		var ev ReadyEvent
		if err := json.Unmarshal(f.Data, &ev); err != nil {
			c.reportError(fmt.Errorf("decode ready: %w", err))
			return
		}
		c.botID.Store(ev.Bot.ID)
		log.Info().Str("module", "gateway").Str("session", ev.SessionID).
			Int("servers", len(ev.Servers)).Msg("gateway ready")
		if c.OnReady != nil {
			c.OnReady(ev)
		}

	case opMessage:
		var msg core.Message
		if err := json.Unmarshal(f.Data, &msg); err != nil {
			c.reportError(fmt.Errorf("decode message: %w", err))
			return
		}
		if c.OnMessage != nil {
			c.OnMessage(msg)
		}

	case opReactionAdd, opReactionRemove:
		var ev core.ReactionEvent
		if err := json.Unmarshal(f.Data, &ev); err != nil {
			c.reportError(fmt.Errorf("decode reaction: %w", err))
			return
		}
		if f.Op == opReactionAdd {
			if c.OnReactionAdd != nil {
				c.OnReactionAdd(ev)
			}
		} else if c.OnReactionRemove != nil {
			c.OnReactionRemove(ev)
		}

	default:
		log.Debug().Str("module", "gateway").Str("op", f.Op).Msg("unhandled event")
	}
}

func (c *Client) reportError(err error) {
	if c.OnError != nil && !c.closed.Load() {
		c.OnError(err)
	}
}

func (c *Client) failPending(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for nonce, ch := range c.pending {
		ch <- frame{Op: opReply, Nonce: nonce, Error: err.Error()}
		delete(c.pending, nonce)
	}
}

func encodeFrame(op, nonce string, payload any) ([]byte, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return json.Marshal(frame{Op: op, Nonce: nonce, Data: data})
}

// request writes one op and blocks until its reply, ctx cancellation or
// the client timeout.
func (c *Client) request(ctx context.Context, op string, payload any) (json.RawMessage, error) {
	conn := c.getConn()
	if conn == nil || c.closed.Load() {
		return nil, ErrNotConnected
	}
	nonce := uuid.NewString()
	b, err := encodeFrame(op, nonce, payload)
	if err != nil {
		return nil, err
	}

	ch := make(chan frame, 1)
	c.mu.Lock()
	c.pending[nonce] = ch
	c.mu.Unlock()

	c.wmu.Lock()
	_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	werr := conn.WriteMessage(websocket.TextMessage, b)
	c.wmu.Unlock()
	if werr != nil {
		c.mu.Lock()
		delete(c.pending, nonce)
		c.mu.Unlock()
		return nil, werr
	}

	select {
	case f := <-ch:
		if f.Error != "" {
			return nil, errors.New(f.Error)
		}
		return f.Data, nil
	case <-ctx.Done():
		c.mu.Lock()
		delete(c.pending, nonce)
		c.mu.Unlock()
		return nil, ctx.Err()
	case <-time.After(c.cfg.Timeout):
		c.mu.Lock()
		delete(c.pending, nonce)
		c.mu.Unlock()
		return nil, fmt.Errorf("%s: timeout waiting for reply", op)
	}
}
