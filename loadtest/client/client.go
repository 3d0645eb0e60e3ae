// Package client provides a reusable WebSocket load test client for the
// Huddle chat server. It obtains a token over HTTP, connects using gobwas/ws
// (the same library the server uses), and tracks per-connection performance
// metrics.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
)

// ---------------------------------------------------------------------------
// Protocol message types (local equivalents of internal/protocol constants)
// ---------------------------------------------------------------------------

// Client -> Server message types.
const (
	TypeSendGroupMessage  = "send_group_message"
	TypeSendDirectMessage = "send_direct_message"
	TypeDeleteMessage     = "delete_message"
	TypePing              = "ping"
)

// Server -> Client message types.
const (
	TypePresenceList           = "presence_list"
	TypeInitialMessages        = "initial_messages"
	TypeGroupMessageAdded      = "group_message_added"
	TypeDirectMessageDelivered = "direct_message_delivered"
	TypeMessageDeleted         = "message_deleted"
	TypeAck                    = "ack"
	TypeSessionReplaced        = "session_replaced"
	TypeError                  = "error"
	TypePong                   = "pong"
)

// ---------------------------------------------------------------------------
// Metrics
// ---------------------------------------------------------------------------

// Metrics tracks per-connection performance data.
type Metrics struct {
	ConnectLatency   time.Duration
	SnapshotLatency  time.Duration
	MessagesReceived int
	MessagesSent     int
	Errors           int
}

// ---------------------------------------------------------------------------
// Accounts
// ---------------------------------------------------------------------------

// Token registers username on the HTTP API at baseURL and returns a session
// token. An existing account is logged into instead.
func Token(ctx context.Context, baseURL, username, password string) (string, error) {
	token, status, err := authenticate(ctx, baseURL+"/register", username, password)
	if err == nil {
		return token, nil
	}
	if status != http.StatusBadRequest {
		return "", err
	}
	token, _, err = authenticate(ctx, baseURL+"/login", username, password)
	return token, err
}

func authenticate(ctx context.Context, endpoint, username, password string) (string, int, error) {
	body, _ := json.Marshal(map[string]string{"username": username, "password": password})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return "", 0, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return "", 0, err
	}
	defer resp.Body.Close()

	var out struct {
		Success bool   `json:"success"`
		Token   string `json:"token"`
		Message string `json:"message"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", resp.StatusCode, fmt.Errorf("decode %s: %w", endpoint, err)
	}
	if resp.StatusCode != http.StatusOK || out.Token == "" {
		return "", resp.StatusCode, fmt.Errorf("%s: %d %s", endpoint, resp.StatusCode, out.Message)
	}
	return out.Token, resp.StatusCode, nil
}

// ---------------------------------------------------------------------------
// Client
// ---------------------------------------------------------------------------

// Client represents a single simulated user connection to the Huddle server.
// It manages the WebSocket lifecycle and dispatches incoming messages to
// registered handlers.
type Client struct {
	Username string

	conn      net.Conn
	r         io.Reader
	writeMu   sync.Mutex
	mu        sync.Mutex
	metrics   Metrics
	handlers  map[string]func(json.RawMessage)
	snapshot  chan struct{}
	done      chan struct{}
	closeOnce sync.Once
	start     time.Time
}

// New creates a new load test client connected to wsURL as the owner of
// token. The connection is established immediately and a background
// goroutine begins reading messages. Handlers passed in handlers are
// registered before the first frame is read.
func New(ctx context.Context, wsURL, username, token string, handlers map[string]func(json.RawMessage)) (*Client, error) {
	u, err := url.Parse(wsURL)
	if err != nil {
		return nil, fmt.Errorf("parse url: %w", err)
	}
	q := u.Query()
	q.Set("token", token)
	u.RawQuery = q.Encode()

	start := time.Now()
	conn, br, _, err := ws.Dial(ctx, u.String())
	if err != nil {
		return nil, fmt.Errorf("dial: %w", err)
	}

	c := &Client{
		Username: username,
		conn:     conn,
		r:        conn,
		handlers: make(map[string]func(json.RawMessage), len(handlers)),
		snapshot: make(chan struct{}),
		done:     make(chan struct{}),
		start:    start,
	}
	// The server writes the snapshot right after the handshake, so part of
	// it may already sit in the dial buffer.
	if br != nil {
		buffered := make([]byte, br.Buffered())
		_, _ = io.ReadFull(br, buffered)
		ws.PutReader(br)
		c.r = io.MultiReader(bytes.NewReader(buffered), conn)
	}
	for t, h := range handlers {
		c.handlers[t] = h
	}
	c.metrics.ConnectLatency = time.Since(start)

	go c.readLoop()

	return c, nil
}

// Send sends a JSON message to the server. It is goroutine-safe.
func (c *Client) Send(msg interface{}) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal: %w", err)
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	c.mu.Lock()
	c.metrics.MessagesSent++
	c.mu.Unlock()
	return wsutil.WriteClientMessage(c.conn, ws.OpText, data)
}

// SendGroup posts text to the group channel.
func (c *Client) SendGroup(text string) error {
	return c.Send(map[string]interface{}{"type": TypeSendGroupMessage, "text": text})
}

// SendDirect posts text to user to, tagged with requestID.
func (c *Client) SendDirect(requestID, to, text string) error {
	return c.Send(map[string]interface{}{
		"type":       TypeSendDirectMessage,
		"request_id": requestID,
		"to":         to,
		"text":       text,
	})
}

// On registers a handler for a specific server message type. Handlers run on
// the read loop goroutine and should not block. Registering a second handler
// for the same type replaces the first.
func (c *Client) On(msgType string, handler func(json.RawMessage)) {
	c.mu.Lock()
	c.handlers[msgType] = handler
	c.mu.Unlock()
}

// WaitForSnapshot blocks until the server has sent the initial group
// snapshot or the context is cancelled.
func (c *Client) WaitForSnapshot(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-c.done:
		return errors.New("connection closed before snapshot arrived")
	case <-c.snapshot:
		return nil
	}
}

// Alive reports whether the read loop is still running.
func (c *Client) Alive() bool {
	select {
	case <-c.done:
		return false
	default:
		return true
	}
}

// Close closes the connection and stops the read loop. It is safe to call
// multiple times.
func (c *Client) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.done)
		err = c.conn.Close()
	})
	return err
}

// GetMetrics returns a copy of the client's metrics.
func (c *Client) GetMetrics() Metrics {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.metrics
}

type readWriter struct {
	io.Reader
	io.Writer
}

// readLoop reads frames until the connection is closed or fails.
func (c *Client) readLoop() {
	defer c.Close()

	rw := readWriter{Reader: c.r, Writer: c.conn}
	gotSnapshot := false

	for {
		data, err := wsutil.ReadServerText(rw)
		if err != nil {
			select {
			case <-c.done:
				// Connection was intentionally closed; do not count as error.
			default:
				c.mu.Lock()
				c.metrics.Errors++
				c.mu.Unlock()
			}
			return
		}

		var envelope struct {
			Type string `json:"type"`
		}
		if err := json.Unmarshal(data, &envelope); err != nil {
			continue
		}

		c.mu.Lock()
		c.metrics.MessagesReceived++
		if !gotSnapshot && envelope.Type == TypeInitialMessages {
			c.metrics.SnapshotLatency = time.Since(c.start)
		}
		handler := c.handlers[envelope.Type]
		c.mu.Unlock()

		if !gotSnapshot && envelope.Type == TypeInitialMessages {
			gotSnapshot = true
			close(c.snapshot)
		}

		if handler != nil {
			handler(json.RawMessage(data))
		}
		if envelope.Type == TypeSessionReplaced {
			return
		}
	}
}

// Nonce builds a message body that carries the send time so that receivers
// can compute delivery latency.
func Nonce(sender string, at time.Time, pad string) string {
	return fmt.Sprintf("lt|%s|%d|%s", sender, at.UnixNano(), pad)
}

// ParseNonce extracts the sender and send time from a body built by Nonce.
func ParseNonce(text string) (sender string, at time.Time, ok bool) {
	parts := strings.SplitN(text, "|", 4)
	if len(parts) < 3 || parts[0] != "lt" {
		return "", time.Time{}, false
	}
	var nanos int64
	if _, err := fmt.Sscan(parts[2], &nanos); err != nil {
		return "", time.Time{}, false
	}
	return parts[1], time.Unix(0, nanos), true
}
