package api

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/nerrad567/sensorbridge/internal/infrastructure/config"
	"github.com/nerrad567/sensorbridge/internal/infrastructure/logging"
	"github.com/nerrad567/sensorbridge/internal/store"
)

// WebSocket message types.
//
// Clients send subscribe, unsubscribe and ping. The server sends event for
// lane broadcasts, response to acknowledge a client message (pong for a
// ping) and error for anything it could not act on.
const (
	WSTypeSubscribe   = "subscribe"
	WSTypeUnsubscribe = "unsubscribe"
	WSTypePing        = "ping"
	WSTypePong        = "pong"
	WSTypeEvent       = "event"
	WSTypeResponse    = "response"
	WSTypeError       = "error"

	// wsSendBufferSize is the per-client outbound message buffer size.
	wsSendBufferSize = 256
)

// Broadcast channels. Each mirrors one store.Sink operation, so a client
// subscribed to all four sees the same stream as the MQTT output topics.
const (
	ChannelLatest        = "lane.latest"
	ChannelInfo          = "lane.info"
	ChannelAsyncID       = "lane.async_id"
	ChannelDeviceCreated = "device.created"
)

// WSMessage represents a message sent to/from a WebSocket client.
//
// ID is echoed back on the response so a client can match replies to its
// own requests. EventType is only set on event messages and names the
// channel that produced them.
type WSMessage struct {
	Type      string `json:"type"`
	ID        string `json:"id,omitempty"`
	EventType string `json:"event_type,omitempty"`
	Timestamp string `json:"timestamp,omitempty"`
	Payload   any    `json:"payload,omitempty"`
}

// WSSubscribePayload is the payload for subscribe/unsubscribe messages.
type WSSubscribePayload struct {
	Channels []string `json:"channels"`
}

// LaneEvent is the payload of lane.* events. Only the field matching the
// channel is set: Value for lane.latest, Info for lane.info and AsyncID for
// lane.async_id.
type LaneEvent struct {
	DeviceID string              `json:"device_id"`
	Lane     string              `json:"lane"`
	Value    string              `json:"value,omitempty"`
	AsyncID  string              `json:"async_id,omitempty"`
	Info     *store.EndpointInfo `json:"info,omitempty"`
}

// Hub manages WebSocket connections and broadcasts lane events.
// It implements store.Sink and sits in the output fan-out next to MQTT.
//
// Broadcasts never block the notification path: each client has a bounded
// send buffer and a slow client loses events rather than stalling others.
//
// Thread Safety:
//   - All methods are safe for concurrent use.
type Hub struct {
	cfg    config.WebSocketConfig
	logger *logging.Logger

	// clients is the set of connected clients; mu guards membership only.
	clients map[*WSClient]struct{}
	mu      sync.RWMutex
}

var _ store.Sink = (*Hub)(nil)

// WSClient represents a connected WebSocket client.
//
// Each client runs two goroutines: readPump owns reads and the pong
// deadline, writePump owns every write including pings. gorilla/websocket
// allows one concurrent reader and one concurrent writer.
type WSClient struct {
	hub  *Hub
	conn *websocket.Conn

	// send is closed by whoever removes the client from the hub.
	send chan []byte

	// subscriptions holds the channel names this client receives.
	subscriptions map[string]struct{}
	mu            sync.RWMutex
}

// upgrader configures the WebSocket upgrader. Origin is not checked; the
// bearer token check in authMiddleware runs before the upgrade.
var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(_ *http.Request) bool {
		return true
	},
}

// NewHub creates a new WebSocket hub.
//
// Parameters:
//   - cfg: Per-client limits (message size, ping interval, pong timeout)
//   - logger: Component logger for connect/disconnect and write failures
//
// Returns:
//   - *Hub: Hub with no clients; call Run to tie its lifetime to a context
func NewHub(cfg config.WebSocketConfig, logger *logging.Logger) *Hub {
	return &Hub{
		cfg:     cfg,
		logger:  logger,
		clients: make(map[*WSClient]struct{}),
	}
}

// Run blocks until the context is cancelled, then disconnects all clients.
func (h *Hub) Run(ctx context.Context) {
	<-ctx.Done()
	h.closeAll()
}

// Register adds a client to the hub.
func (h *Hub) Register(client *WSClient) {
	h.mu.Lock()
	h.clients[client] = struct{}{}
	h.mu.Unlock()
	h.logger.Debug("websocket client connected", "clients", h.ClientCount())
}

// Unregister removes a client from the hub.
// Only the goroutine that removes the client from the map closes its send
// channel.
func (h *Hub) Unregister(client *WSClient) {
	h.mu.Lock()
	_, existed := h.clients[client]
	delete(h.clients, client)
	h.mu.Unlock()

	if existed {
		close(client.send)
	}
	h.logger.Debug("websocket client disconnected", "clients", h.ClientCount())
}

// Broadcast sends an event to all clients subscribed to the given channel.
//
// The message is marshalled once and the same bytes are queued for every
// subscriber. The hub lock is released before per-client subscription
// checks, so the hub and client locks are never held together.
//
// Parameters:
//   - channel: One of the Channel* constants
//   - payload: Event body, LaneEvent or store.DeviceInfo
func (h *Hub) Broadcast(channel string, payload any) {
	msg := WSMessage{
		Type:      WSTypeEvent,
		EventType: channel,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Payload:   payload,
	}

	data, err := json.Marshal(msg)
	if err != nil {
		h.logger.Error("failed to marshal broadcast message", "error", err)
		return
	}

	h.mu.RLock()
	clients := make([]*WSClient, 0, len(h.clients))
	for client := range h.clients {
		clients = append(clients, client)
	}
	h.mu.RUnlock()

	for _, client := range clients {
		if client.isSubscribed(channel) {
			client.trySend(data)
		}
	}
}

// SetLatest implements store.Sink.
func (h *Hub) SetLatest(deviceID, lane, value string) {
	h.Broadcast(ChannelLatest, LaneEvent{DeviceID: deviceID, Lane: lane, Value: value})
}

// SetInfo implements store.Sink.
func (h *Hub) SetInfo(deviceID, lane string, info store.EndpointInfo) {
	h.Broadcast(ChannelInfo, LaneEvent{DeviceID: deviceID, Lane: lane, Info: &info})
}

// SetAsyncID implements store.Sink.
func (h *Hub) SetAsyncID(deviceID, lane, id string) {
	h.Broadcast(ChannelAsyncID, LaneEvent{DeviceID: deviceID, Lane: lane, AsyncID: id})
}

// CreateDevice implements store.Sink.
func (h *Hub) CreateDevice(info store.DeviceInfo) {
	h.Broadcast(ChannelDeviceCreated, info)
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// closeAll disconnects all clients and closes their send channels
// so writePump goroutines can exit cleanly.
func (h *Hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()

	for client := range h.clients {
		close(client.send)
		if client.conn != nil {
			client.conn.Close()
		}
		delete(h.clients, client)
	}
}

// handleWebSocket upgrades the HTTP connection to a WebSocket connection.
//
// Query parameters:
//   - channels: comma separated channels to subscribe on connect, e.g.
//     channels=lane.latest,device.created
//   - token: bearer token, for clients that cannot set headers
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", "error", err)
		return
	}

	client := &WSClient{
		hub:           s.hub,
		conn:          conn,
		send:          make(chan []byte, wsSendBufferSize),
		subscriptions: make(map[string]struct{}),
	}
	if channels := r.URL.Query().Get("channels"); channels != "" {
		for _, ch := range strings.Split(channels, ",") {
			if ch = strings.TrimSpace(ch); ch != "" {
				client.subscriptions[ch] = struct{}{}
			}
		}
	}

	s.hub.Register(client)

	go client.writePump(s.hub.cfg)
	go client.readPump(s.hub.cfg)
}

// readPump reads client messages until the connection fails or the peer
// stops answering pings. The read deadline is pushed forward on every
// message and every pong; a peer silent for longer than ping interval plus
// pong timeout is disconnected.
func (c *WSClient) readPump(cfg config.WebSocketConfig) {
	defer func() {
		c.hub.Unregister(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(int64(cfg.MaxMessageSize))
	pingInterval := time.Duration(cfg.PingInterval) * time.Second
	pongWait := time.Duration(cfg.PongTimeout) * time.Second
	//nolint:errcheck // Best-effort deadline on connection setup
	c.conn.SetReadDeadline(time.Now().Add(pingInterval + pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pingInterval + pongWait))
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.hub.logger.Warn("websocket read error", "error", err)
			}
			return
		}
		//nolint:errcheck // Best-effort deadline reset
		c.conn.SetReadDeadline(time.Now().Add(pingInterval + pongWait))
		c.handleMessage(message)
	}
}

// writePump drains the send channel and pings the peer on every tick.
// A closed send channel means the hub dropped the client; the pump sends a
// close frame and exits.
func (c *WSClient) writePump(cfg config.WebSocketConfig) {
	pingInterval := time.Duration(cfg.PingInterval) * time.Second
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	pongWait := time.Duration(cfg.PongTimeout) * time.Second

	for {
		select {
		case message, ok := <-c.send:
			if !ok {
				//nolint:errcheck // Best-effort close message
				c.conn.WriteMessage(websocket.CloseMessage, nil)
				return
			}
			//nolint:errcheck // Best-effort deadline; write error caught below
			c.conn.SetWriteDeadline(time.Now().Add(pongWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}
		case <-ticker.C:
			//nolint:errcheck // Best-effort deadline; ping error caught below
			c.conn.SetWriteDeadline(time.Now().Add(pongWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// handleMessage processes an incoming WebSocket message. Malformed input is
// answered with an error message; the connection stays open.
func (c *WSClient) handleMessage(data []byte) {
	var msg WSMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		c.sendError("", "invalid JSON message")
		return
	}

	switch msg.Type {
	case WSTypeSubscribe:
		c.updateSubscriptions(msg, true)
	case WSTypeUnsubscribe:
		c.updateSubscriptions(msg, false)
	case WSTypePing:
		c.sendResponse(msg.ID, WSTypePong, nil)
	default:
		c.sendError(msg.ID, "unknown message type: "+msg.Type)
	}
}

// updateSubscriptions adds or removes the channels named in msg. Unknown
// channel names are accepted and simply never receive events.
func (c *WSClient) updateSubscriptions(msg WSMessage, add bool) {
	payloadBytes, err := json.Marshal(msg.Payload)
	if err != nil {
		c.sendError(msg.ID, "invalid payload")
		return
	}

	var sub WSSubscribePayload
	if err := json.Unmarshal(payloadBytes, &sub); err != nil {
		c.sendError(msg.ID, "invalid "+msg.Type+" payload")
		return
	}

	c.mu.Lock()
	for _, ch := range sub.Channels {
		if add {
			c.subscriptions[ch] = struct{}{}
		} else {
			delete(c.subscriptions, ch)
		}
	}
	c.mu.Unlock()

	key := "subscribed"
	if !add {
		key = "unsubscribed"
	}
	c.sendResponse(msg.ID, WSTypeResponse, map[string]any{key: sub.Channels})
}

// trySend attempts to send data to the client's send channel.
// Closed channels and full buffers drop the message.
func (c *WSClient) trySend(data []byte) {
	defer func() {
		recover() //nolint:errcheck // Absorb send-on-closed-channel panic
	}()

	select {
	case c.send <- data:
	default:
	}
}

// isSubscribed checks if the client is subscribed to a channel.
func (c *WSClient) isSubscribed(channel string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.subscriptions[channel]
	return ok
}

// sendResponse sends a response message to the client.
// It goes through trySend, so it is safe while the hub is shutting down.
func (c *WSClient) sendResponse(id, msgType string, payload any) {
	msg := WSMessage{
		Type:      msgType,
		ID:        id,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Payload:   payload,
	}
	data, err := json.Marshal(msg)
	if err != nil {
		return
	}
	c.trySend(data)
}

// sendError sends an error message to the client.
func (c *WSClient) sendError(id, message string) {
	c.sendResponse(id, WSTypeError, map[string]string{"message": message})
}
