package watchparty

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"media-resolver-go/pkg/logging"
	"media-resolver-go/pkg/metrics"
	"media-resolver-go/pkg/types"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next message or pong from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer.
	maxMessageSize = 4096
)

// Message types on the party socket.
const (
	MessageState  = "state"
	MessageClosed = "closed"
)

// Message is the frame exchanged on the party socket.
type Message struct {
	Type      string          `json:"type"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	Timestamp string          `json:"timestamp,omitempty"`
}

type closedPayload struct {
	Closed bool `json:"closed"`
}

func newMessage(msgType string, payload any) (Message, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return Message{}, err
	}
	return Message{
		Type:      msgType,
		Payload:   data,
		Timestamp: time.Now().UTC().Format(time.RFC3339Nano),
	}, nil
}

// Hub relays party clocks over websockets. Host connections write the
// Document; guest connections stream it. A party is closed whenever it has
// no connected host.
type Hub struct {
	doc      Document
	log      *logging.Logger
	upgrader websocket.Upgrader

	mu    sync.Mutex
	hosts map[string]int
	conns int
}

// NewHub creates a Hub over doc.
func NewHub(doc Document, log *logging.Logger) *Hub {
	return &Hub{
		doc: doc,
		log: log.WithComponent("watchparty-hub"),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		hosts: make(map[string]int),
	}
}

// Document returns the hub's shared document.
func (h *Hub) Document() Document {
	return h.doc
}

// Connections returns the number of open sockets.
func (h *Hub) Connections() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.conns
}

// HostCount returns the number of host sockets for a party.
func (h *Hub) HostCount(partyID string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.hosts[partyID]
}

// ServeWS upgrades the request and serves it until the socket closes.
// Errors are returned only before the upgrade, when the caller can still
// write an HTTP response.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request, partyID string, role Role) error {
	if role != RoleHost && role != RoleGuest {
		return fmt.Errorf("unknown party role %q", role)
	}
	if _, err := h.doc.Get(r.Context(), partyID); err != nil {
		return err
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Debug("websocket upgrade failed", "party_id", partyID, "error", err)
		return nil
	}
	defer conn.Close()

	h.mu.Lock()
	h.conns++
	h.mu.Unlock()
	defer func() {
		h.mu.Lock()
		h.conns--
		h.mu.Unlock()
	}()

	h.log.Debug("party socket connected", "party_id", partyID, "role", role, "remote", r.RemoteAddr)
	if role == RoleHost {
		h.serveHost(conn, partyID)
	} else {
		h.serveGuest(conn, partyID)
	}
	h.log.Debug("party socket closed", "party_id", partyID, "role", role)
	return nil
}

func (h *Hub) serveHost(conn *websocket.Conn, partyID string) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	h.hostJoined(ctx, partyID)
	defer h.hostLeft(partyID)

	go pingLoop(ctx, conn)

	conn.SetReadLimit(maxMessageSize)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		var msg Message
		if err := conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.log.Debug("host socket error", "party_id", partyID, "error", err)
			}
			return
		}
		_ = conn.SetReadDeadline(time.Now().Add(pongWait))

		if msg.Type != MessageState {
			continue
		}
		var state types.PlaybackClockState
		if err := json.Unmarshal(msg.Payload, &state); err != nil {
			h.log.Debug("invalid host state", "party_id", partyID, "error", err)
			continue
		}
		if err := h.doc.Publish(ctx, partyID, state); err != nil {
			h.log.Warn("failed to publish host state", "party_id", partyID, "error", err)
			continue
		}
		metrics.RecordPartyEvent("relay")
	}
}

func (h *Hub) serveGuest(conn *websocket.Conn, partyID string) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	updates, unsubscribe, err := h.doc.Subscribe(ctx, partyID)
	if err != nil {
		h.log.Debug("failed to subscribe guest", "party_id", partyID, "error", err)
		return
	}
	defer unsubscribe()

	// Reads only service pongs and detect the peer going away.
	done := make(chan struct{})
	go func() {
		defer close(done)
		conn.SetReadLimit(maxMessageSize)
		_ = conn.SetReadDeadline(time.Now().Add(pongWait))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(pongWait))
		})
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case snap, ok := <-updates:
			if !ok {
				_ = conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, "party ended"),
					time.Now().Add(writeWait))
				return
			}
			if err := writeSnapshot(conn, snap); err != nil {
				h.log.Debug("failed to write guest update", "party_id", partyID, "error", err)
				return
			}
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return
			}
		case <-done:
			return
		}
	}
}

func (h *Hub) hostJoined(ctx context.Context, partyID string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.hosts[partyID]++
	if h.hosts[partyID] == 1 {
		if err := h.doc.SetClosed(ctx, partyID, false); err != nil {
			h.log.Warn("failed to open party", "party_id", partyID, "error", err)
		}
		metrics.RecordPartyEvent("host_joined")
	}
}

func (h *Hub) hostLeft(partyID string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.hosts[partyID]--
	if h.hosts[partyID] > 0 {
		return
	}
	delete(h.hosts, partyID)
	if err := h.doc.SetClosed(context.Background(), partyID, true); err != nil {
		h.log.Debug("failed to close party", "party_id", partyID, "error", err)
	}
	metrics.RecordPartyEvent("host_left")
}

// writeSnapshot sends the closed flag, then the clock when one exists.
func writeSnapshot(conn *websocket.Conn, snap Snapshot) error {
	msgs := make([]Message, 0, 2)
	closed, err := newMessage(MessageClosed, closedPayload{Closed: snap.Closed})
	if err != nil {
		return err
	}
	msgs = append(msgs, closed)
	if snap.State != nil {
		state, err := newMessage(MessageState, snap.State)
		if err != nil {
			return err
		}
		msgs = append(msgs, state)
	}

	for _, msg := range msgs {
		_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := conn.WriteJSON(msg); err != nil {
			return err
		}
	}
	return nil
}

func pingLoop(ctx context.Context, conn *websocket.Conn) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return
			}
		}
	}
}
