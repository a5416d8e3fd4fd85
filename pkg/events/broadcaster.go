package events

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/coder/websocket"
)

// Default fabric tuning, used when options are left zero.
const (
	defaultWriteTimeout = 10 * time.Second
	defaultBatchMaxSize = 10
	defaultBatchMaxAge  = time.Second
)

// BroadcasterOptions tunes the fabric. Zero values fall back to defaults;
// batching stays off unless enabled.
type BroadcasterOptions struct {
	WriteTimeout    time.Duration
	BatchingEnabled bool
	BatchMaxSize    int
	BatchMaxAge     time.Duration
	ThrottleLimits  map[string]ThrottleLimit
}

// Connection is one user's live WebSocket.
type Connection struct {
	UserID string
	conn   *websocket.Conn
	ctx    context.Context
	cancel context.CancelFunc
}

// Broadcaster owns the connection and subscription state: one connection
// per user, the user's channel set, and each channel's subscriber set. All
// three maps are mutated under one lock and disconnect cleans them
// together; broadcast iteration works on snapshots.
type Broadcaster struct {
	writeTimeout time.Duration

	mu                 sync.RWMutex
	activeConnections  map[string]*Connection
	userSubscriptions  map[string]map[string]bool
	channelSubscribers map[string]map[string]bool

	throttler *Throttler
	batcher   *Batcher // nil when batching is disabled
}

// NewBroadcaster creates the fabric. Call Start before publishing and Stop
// on shutdown when batching is enabled.
func NewBroadcaster(opts BroadcasterOptions) *Broadcaster {
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = defaultWriteTimeout
	}
	if opts.BatchMaxSize <= 0 {
		opts.BatchMaxSize = defaultBatchMaxSize
	}
	if opts.BatchMaxAge <= 0 {
		opts.BatchMaxAge = defaultBatchMaxAge
	}

	b := &Broadcaster{
		writeTimeout:       opts.WriteTimeout,
		activeConnections:  make(map[string]*Connection),
		userSubscriptions:  make(map[string]map[string]bool),
		channelSubscribers: make(map[string]map[string]bool),
		throttler:          NewThrottler(opts.ThrottleLimits),
	}
	if opts.BatchingEnabled {
		b.batcher = NewBatcher(opts.BatchMaxSize, opts.BatchMaxAge, func(channel string, envelope BatchEnvelope) {
			b.broadcastNow(channel, envelope, nil)
		})
	}
	return b
}

// Start launches the batch flusher when batching is enabled.
func (b *Broadcaster) Start() {
	if b.batcher != nil {
		b.batcher.Start()
	}
}

// Stop flushes pending batches and stops the flusher.
func (b *Broadcaster) Stop() {
	if b.batcher != nil {
		b.batcher.Stop()
	}
}

// HandleConnection runs one user's WebSocket lifecycle. Called by the HTTP
// handler after the upgrade; blocks until the connection closes. A second
// connection for the same user replaces the first.
func (b *Broadcaster) HandleConnection(parentCtx context.Context, userID string, conn *websocket.Conn) {
	ctx, cancel := context.WithCancel(parentCtx)
	c := &Connection{UserID: userID, conn: conn, ctx: ctx, cancel: cancel}

	b.register(c)
	defer b.disconnect(c)

	b.sendJSON(c, map[string]string{
		"type":    "connection.established",
		"user_id": userID,
	})

	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			return
		}

		var msg ClientMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			slog.Warn("Invalid WebSocket message", "user_id", userID, "error", err)
			continue
		}
		b.handleClientMessage(c, &msg)
	}
}

func (b *Broadcaster) handleClientMessage(c *Connection, msg *ClientMessage) {
	switch msg.Action {
	case "subscribe":
		resp := b.Subscribe(c.UserID, msg.Channel)
		b.sendJSON(c, resp)
	case "unsubscribe":
		resp := b.Unsubscribe(c.UserID, msg.Channel)
		b.sendJSON(c, resp)
	case "ping":
		b.sendJSON(c, map[string]string{"type": "pong"})
	default:
		b.sendJSON(c, map[string]string{"type": "error", "message": "unknown action"})
	}
}

// Subscribe validates the channel and, on success, records the user on both
// sides of the subscription mapping.
func (b *Broadcaster) Subscribe(userID, channel string) SubscriptionResponse {
	resp := SubscriptionResponse{Type: "subscription_response", Action: "subscribe", Channel: channel}
	if !ValidChannel(channel) {
		resp.Message = "unknown channel"
		return resp
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.activeConnections[userID]; !ok {
		resp.Message = "not connected"
		return resp
	}
	if b.userSubscriptions[userID] == nil {
		b.userSubscriptions[userID] = make(map[string]bool)
	}
	if b.channelSubscribers[channel] == nil {
		b.channelSubscribers[channel] = make(map[string]bool)
	}
	b.userSubscriptions[userID][channel] = true
	b.channelSubscribers[channel][userID] = true
	resp.Success = true
	return resp
}

// Unsubscribe removes the user from both sides of the subscription mapping.
func (b *Broadcaster) Unsubscribe(userID, channel string) SubscriptionResponse {
	resp := SubscriptionResponse{Type: "subscription_response", Action: "unsubscribe", Channel: channel}

	b.mu.Lock()
	defer b.mu.Unlock()
	if subs, ok := b.userSubscriptions[userID]; !ok || !subs[channel] {
		resp.Message = "not subscribed"
		return resp
	}
	delete(b.userSubscriptions[userID], channel)
	if len(b.userSubscriptions[userID]) == 0 {
		delete(b.userSubscriptions, userID)
	}
	delete(b.channelSubscribers[channel], userID)
	if len(b.channelSubscribers[channel]) == 0 {
		delete(b.channelSubscribers, channel)
	}
	resp.Success = true
	return resp
}

// SendToUser serializes the message and writes it to the user's connection.
// Any write failure disconnects the user and cleans all subscription state.
func (b *Broadcaster) SendToUser(userID string, v any) error {
	b.mu.RLock()
	c, ok := b.activeConnections[userID]
	b.mu.RUnlock()
	if !ok {
		return ErrNotConnected
	}

	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	if err := b.sendRaw(c, data); err != nil {
		slog.Warn("WebSocket send failed, disconnecting user", "user_id", userID, "error", err)
		b.disconnect(c)
		return err
	}
	return nil
}

// Publish routes one message to a channel, through the batcher when
// batching is enabled. Returns the number of successful sends; batched
// messages report zero because delivery happens at flush time.
func (b *Broadcaster) Publish(channel string, message any) int {
	if b.batcher != nil {
		b.batcher.Add(channel, message)
		return 0
	}
	return b.broadcastNow(channel, message, nil)
}

// BroadcastToChannel sends one message to every subscriber of the channel,
// minus the excluded users. Returns the number of successful sends.
func (b *Broadcaster) BroadcastToChannel(channel string, message any, exclude map[string]bool) int {
	return b.broadcastNow(channel, message, exclude)
}

// BroadcastSessionStatusChange fans a status envelope out to both the
// session channel and dashboard_updates. Returns the summed send count.
func (b *Broadcaster) BroadcastSessionStatusChange(sessionID string, payload SessionStatusChangePayload) int {
	return b.Publish(SessionChannel(sessionID), payload) +
		b.Publish(ChannelDashboardUpdates, payload)
}

func (b *Broadcaster) broadcastNow(channel string, message any, exclude map[string]bool) int {
	data, err := json.Marshal(message)
	if err != nil {
		slog.Warn("Failed to marshal broadcast message", "channel", channel, "error", err)
		return 0
	}

	// Snapshot subscribers and their connections, then send outside the
	// lock: one slow client must not stall subscribe/disconnect.
	b.mu.RLock()
	conns := make([]*Connection, 0, len(b.channelSubscribers[channel]))
	for userID := range b.channelSubscribers[channel] {
		if exclude[userID] {
			continue
		}
		if c, ok := b.activeConnections[userID]; ok {
			conns = append(conns, c)
		}
	}
	b.mu.RUnlock()

	sent := 0
	for _, c := range conns {
		if !b.throttler.Allow(channel, c.UserID) {
			continue
		}
		if err := b.sendRaw(c, data); err != nil {
			slog.Warn("Broadcast send failed, disconnecting user",
				"user_id", c.UserID, "channel", channel, "error", err)
			b.disconnect(c)
			continue
		}
		sent++
	}
	return sent
}

// ActiveConnections returns the number of connected users.
func (b *Broadcaster) ActiveConnections() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.activeConnections)
}

// SubscriberCount returns the number of users subscribed to a channel.
func (b *Broadcaster) SubscriberCount(channel string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.channelSubscribers[channel])
}

func (b *Broadcaster) register(c *Connection) {
	b.mu.Lock()
	prev := b.activeConnections[c.UserID]
	b.activeConnections[c.UserID] = c
	b.mu.Unlock()

	if prev != nil {
		prev.cancel()
		_ = prev.conn.Close(websocket.StatusPolicyViolation, "replaced by newer connection")
	}
}

// disconnect removes the connection and both subscription directions in one
// critical section. Safe to call multiple times and from concurrent senders.
func (b *Broadcaster) disconnect(c *Connection) {
	b.mu.Lock()
	if current, ok := b.activeConnections[c.UserID]; !ok || current != c {
		// Already replaced or cleaned up by another path.
		b.mu.Unlock()
		c.cancel()
		_ = c.conn.Close(websocket.StatusNormalClosure, "")
		return
	}
	delete(b.activeConnections, c.UserID)
	for channel := range b.userSubscriptions[c.UserID] {
		delete(b.channelSubscribers[channel], c.UserID)
		if len(b.channelSubscribers[channel]) == 0 {
			delete(b.channelSubscribers, channel)
		}
	}
	delete(b.userSubscriptions, c.UserID)
	b.mu.Unlock()

	b.throttler.Forget(c.UserID)
	c.cancel()
	_ = c.conn.Close(websocket.StatusNormalClosure, "")
}

func (b *Broadcaster) sendJSON(c *Connection, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		slog.Warn("Failed to marshal WebSocket message", "user_id", c.UserID, "error", err)
		return
	}
	if err := b.sendRaw(c, data); err != nil {
		slog.Warn("Failed to send WebSocket message", "user_id", c.UserID, "error", err)
	}
}

func (b *Broadcaster) sendRaw(c *Connection, data []byte) error {
	writeCtx, cancel := context.WithTimeout(c.ctx, b.writeTimeout)
	defer cancel()
	return c.conn.Write(writeCtx, websocket.MessageText, data)
}
