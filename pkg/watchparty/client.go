package watchparty

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"media-resolver-go/pkg/logging"
	"media-resolver-go/pkg/types"
)

// Client is a participant's socket to a Hub. Hosts publish through it;
// guests feed what it receives into a Guest. Both should call Run so
// pings are answered.
type Client struct {
	conn *websocket.Conn
	log  *logging.Logger

	mu sync.Mutex
}

var _ Publisher = (*Client)(nil)

// Dial connects to a party socket URL as role.
func Dial(ctx context.Context, rawURL string, role Role, log *logging.Logger) (*Client, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("invalid party url: %w", err)
	}
	q := u.Query()
	q.Set("role", string(role))
	u.RawQuery = q.Encode()

	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, u.String(), nil)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	if err != nil {
		return nil, fmt.Errorf("failed to dial watch party: %w", err)
	}
	return &Client{conn: conn, log: log.WithComponent("watchparty-client")}, nil
}

// Publish sends the host clock.
func (c *Client) Publish(ctx context.Context, state types.PlaybackClockState) error {
	msg, err := newMessage(MessageState, state)
	if err != nil {
		return err
	}

	deadline := time.Now().Add(writeWait)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	_ = c.conn.SetWriteDeadline(deadline)
	if err := c.conn.WriteJSON(msg); err != nil {
		return fmt.Errorf("failed to send clock: %w", err)
	}
	return nil
}

// Run reads party messages until ctx ends or the socket closes, passing
// them to g. A nil g discards them.
func (c *Client) Run(ctx context.Context, g *Guest) error {
	stop := context.AfterFunc(ctx, func() { c.conn.Close() })
	defer stop()

	for {
		var msg Message
		if err := c.conn.ReadJSON(&msg); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return nil
			}
			return fmt.Errorf("watch party connection: %w", err)
		}
		if g == nil {
			continue
		}

		switch msg.Type {
		case MessageState:
			var state types.PlaybackClockState
			if err := json.Unmarshal(msg.Payload, &state); err != nil {
				c.log.Debug("invalid party state", "error", err)
				continue
			}
			g.Receive(state)
		case MessageClosed:
			var p closedPayload
			if err := json.Unmarshal(msg.Payload, &p); err != nil {
				c.log.Debug("invalid party closed flag", "error", err)
				continue
			}
			g.SetClosed(p.Closed)
		}
	}
}

// Close sends a close frame and closes the socket.
func (c *Client) Close() error {
	c.mu.Lock()
	_ = c.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
	c.mu.Unlock()
	return c.conn.Close()
}
