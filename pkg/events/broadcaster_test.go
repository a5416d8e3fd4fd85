package events

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tarsy-bot/tarsy/pkg/models"
)

func setupTestBroadcaster(t *testing.T, opts BroadcasterOptions) (*Broadcaster, *httptest.Server) {
	t.Helper()

	b := NewBroadcaster(opts)
	b.Start()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		userID := r.URL.Query().Get("user_id")
		conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
			InsecureSkipVerify: true,
		})
		if err != nil {
			t.Logf("WebSocket accept error: %v", err)
			return
		}
		b.HandleConnection(r.Context(), userID, conn)
	}))

	t.Cleanup(func() {
		server.Close()
		b.Stop()
	})
	return b, server
}

func connectWS(t *testing.T, server *httptest.Server, userID string) *websocket.Conn {
	t.Helper()
	url := "ws" + server.URL[len("http"):] + "?user_id=" + userID
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn, _, err := websocket.Dial(ctx, url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close(websocket.StatusNormalClosure, "") })

	// Every connection starts with connection.established.
	msg := readJSON(t, conn)
	require.Equal(t, "connection.established", msg["type"])
	require.Equal(t, userID, msg["user_id"])
	return conn
}

func readJSON(t *testing.T, conn *websocket.Conn) map[string]interface{} {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_, data, err := conn.Read(ctx)
	require.NoError(t, err)

	var msg map[string]interface{}
	require.NoError(t, json.Unmarshal(data, &msg))
	return msg
}

func writeJSON(t *testing.T, conn *websocket.Conn, v any) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	data, err := json.Marshal(v)
	require.NoError(t, err)
	require.NoError(t, conn.Write(ctx, websocket.MessageText, data))
}

func subscribeChannel(t *testing.T, conn *websocket.Conn, channel string) {
	t.Helper()
	writeJSON(t, conn, ClientMessage{Action: "subscribe", Channel: channel})
	msg := readJSON(t, conn)
	require.Equal(t, "subscription_response", msg["type"])
	require.Equal(t, true, msg["success"], "subscribe to %s failed: %v", channel, msg["message"])
}

func TestValidChannel(t *testing.T) {
	assert.True(t, ValidChannel(ChannelDashboardUpdates))
	assert.True(t, ValidChannel(ChannelSystemHealth))
	assert.True(t, ValidChannel("session_abc-123"))

	assert.False(t, ValidChannel("session_"))
	assert.False(t, ValidChannel(""))
	assert.False(t, ValidChannel("alerts"))
}

func TestBroadcaster_ConnectionEstablished(t *testing.T) {
	b, server := setupTestBroadcaster(t, BroadcasterOptions{})
	connectWS(t, server, "alice")

	assert.Equal(t, 1, b.ActiveConnections())
}

func TestBroadcaster_SubscribeValidation(t *testing.T) {
	b, server := setupTestBroadcaster(t, BroadcasterOptions{})
	conn := connectWS(t, server, "alice")

	subscribeChannel(t, conn, ChannelDashboardUpdates)
	subscribeChannel(t, conn, ChannelSystemHealth)
	subscribeChannel(t, conn, "session_abc-123")

	writeJSON(t, conn, ClientMessage{Action: "subscribe", Channel: "alerts"})
	msg := readJSON(t, conn)
	assert.Equal(t, "subscription_response", msg["type"])
	assert.Equal(t, false, msg["success"])
	assert.Equal(t, "unknown channel", msg["message"])

	assert.Equal(t, 1, b.SubscriberCount(ChannelDashboardUpdates))
	assert.Equal(t, 0, b.SubscriberCount("alerts"))
}

func TestBroadcaster_Unsubscribe(t *testing.T) {
	b, server := setupTestBroadcaster(t, BroadcasterOptions{})
	conn := connectWS(t, server, "alice")

	subscribeChannel(t, conn, "session_abc")
	require.Equal(t, 1, b.SubscriberCount("session_abc"))

	writeJSON(t, conn, ClientMessage{Action: "unsubscribe", Channel: "session_abc"})
	msg := readJSON(t, conn)
	assert.Equal(t, true, msg["success"])
	assert.Equal(t, 0, b.SubscriberCount("session_abc"))

	// Unsubscribing twice reports failure.
	writeJSON(t, conn, ClientMessage{Action: "unsubscribe", Channel: "session_abc"})
	msg = readJSON(t, conn)
	assert.Equal(t, false, msg["success"])
	assert.Equal(t, "not subscribed", msg["message"])
}

func TestBroadcaster_BroadcastToChannel(t *testing.T) {
	b, server := setupTestBroadcaster(t, BroadcasterOptions{})

	conn1 := connectWS(t, server, "alice")
	conn2 := connectWS(t, server, "bob")

	channel := "session_broadcast-test"
	subscribeChannel(t, conn1, channel)
	subscribeChannel(t, conn2, channel)

	sent := b.BroadcastToChannel(channel, map[string]string{"type": "test", "data": "hello"}, nil)
	assert.Equal(t, 2, sent)

	msg1 := readJSON(t, conn1)
	msg2 := readJSON(t, conn2)
	assert.Equal(t, "test", msg1["type"])
	assert.Equal(t, "hello", msg1["data"])
	assert.Equal(t, "test", msg2["type"])
	assert.Equal(t, "hello", msg2["data"])
}

func TestBroadcaster_BroadcastExcludesUsers(t *testing.T) {
	b, server := setupTestBroadcaster(t, BroadcasterOptions{})

	conn1 := connectWS(t, server, "alice")
	conn2 := connectWS(t, server, "bob")

	channel := "session_exclusion-test"
	subscribeChannel(t, conn1, channel)
	subscribeChannel(t, conn2, channel)

	sent := b.BroadcastToChannel(channel, map[string]string{"type": "first"}, map[string]bool{"bob": true})
	assert.Equal(t, 1, sent)

	assert.Equal(t, "first", readJSON(t, conn1)["type"])

	// Bob's next message is the follow-up, not the excluded one.
	b.BroadcastToChannel(channel, map[string]string{"type": "second"}, nil)
	assert.Equal(t, "second", readJSON(t, conn2)["type"])
}

func TestBroadcaster_SessionStatusChangeDualChannel(t *testing.T) {
	b, server := setupTestBroadcaster(t, BroadcasterOptions{})

	sessionConn := connectWS(t, server, "alice")
	dashboardConn := connectWS(t, server, "bob")

	subscribeChannel(t, sessionConn, SessionChannel("sess-7"))
	subscribeChannel(t, dashboardConn, ChannelDashboardUpdates)

	payload := SessionStatusChangePayload{
		BasePayload: basePayload(EventTypeSessionStatusChange, "sess-7"),
		Status:      "completed",
	}
	sent := b.BroadcastSessionStatusChange("sess-7", payload)
	assert.Equal(t, 2, sent)

	for _, conn := range []*websocket.Conn{sessionConn, dashboardConn} {
		msg := readJSON(t, conn)
		assert.Equal(t, "session_status_change", msg["type"])
		assert.Equal(t, "sess-7", msg["session_id"])
		assert.Equal(t, "completed", msg["status"])
	}
}

func TestBroadcaster_ThrottleSuppressesExcess(t *testing.T) {
	channel := "session_throttle-test"
	b, server := setupTestBroadcaster(t, BroadcasterOptions{
		ThrottleLimits: map[string]ThrottleLimit{
			channel: {MaxMessages: 2, Window: time.Minute},
		},
	})

	conn := connectWS(t, server, "alice")
	subscribeChannel(t, conn, channel)

	assert.Equal(t, 1, b.BroadcastToChannel(channel, map[string]string{"seq": "1"}, nil))
	assert.Equal(t, 1, b.BroadcastToChannel(channel, map[string]string{"seq": "2"}, nil))
	assert.Equal(t, 0, b.BroadcastToChannel(channel, map[string]string{"seq": "3"}, nil))

	assert.Equal(t, "1", readJSON(t, conn)["seq"])
	assert.Equal(t, "2", readJSON(t, conn)["seq"])
	assert.Equal(t, int64(1), b.throttler.SuppressedCount())
}

func TestBroadcaster_BatchingCoalesces(t *testing.T) {
	b, server := setupTestBroadcaster(t, BroadcasterOptions{
		BatchingEnabled: true,
		BatchMaxSize:    10,
		BatchMaxAge:     100 * time.Millisecond,
	})

	conn := connectWS(t, server, "alice")
	subscribeChannel(t, conn, ChannelDashboardUpdates)

	assert.Equal(t, 0, b.Publish(ChannelDashboardUpdates, map[string]string{"seq": "1"}))
	assert.Equal(t, 0, b.Publish(ChannelDashboardUpdates, map[string]string{"seq": "2"}))
	assert.Equal(t, 0, b.Publish(ChannelDashboardUpdates, map[string]string{"seq": "3"}))

	msg := readJSON(t, conn)
	assert.Equal(t, EventTypeMessageBatch, msg["type"])
	assert.Equal(t, ChannelDashboardUpdates, msg["channel"])
	assert.EqualValues(t, 3, msg["count"])
	require.Len(t, msg["messages"], 3)
}

func TestBroadcaster_SecondConnectionReplacesFirst(t *testing.T) {
	b, server := setupTestBroadcaster(t, BroadcasterOptions{})

	conn1 := connectWS(t, server, "alice")
	conn2 := connectWS(t, server, "alice")

	assert.Equal(t, 1, b.ActiveConnections())

	// The first connection was closed by the replacement.
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, _, err := conn1.Read(ctx)
	require.Error(t, err)

	// The surviving connection still works.
	subscribeChannel(t, conn2, ChannelDashboardUpdates)
}

func TestBroadcaster_DisconnectCleansSubscriptions(t *testing.T) {
	b, server := setupTestBroadcaster(t, BroadcasterOptions{})

	conn := connectWS(t, server, "alice")
	subscribeChannel(t, conn, "session_abc")
	subscribeChannel(t, conn, ChannelDashboardUpdates)

	require.NoError(t, conn.Close(websocket.StatusNormalClosure, ""))

	require.Eventually(t, func() bool {
		return b.ActiveConnections() == 0 &&
			b.SubscriberCount("session_abc") == 0 &&
			b.SubscriberCount(ChannelDashboardUpdates) == 0
	}, 2*time.Second, 10*time.Millisecond)
}

func TestBroadcaster_SendToUser(t *testing.T) {
	b, server := setupTestBroadcaster(t, BroadcasterOptions{})
	conn := connectWS(t, server, "alice")

	require.NoError(t, b.SendToUser("alice", map[string]string{"type": "direct"}))
	assert.Equal(t, "direct", readJSON(t, conn)["type"])

	assert.ErrorIs(t, b.SendToUser("ghost", map[string]string{"type": "direct"}), ErrNotConnected)
}

func TestBroadcaster_PingPong(t *testing.T) {
	_, server := setupTestBroadcaster(t, BroadcasterOptions{})
	conn := connectWS(t, server, "alice")

	writeJSON(t, conn, ClientMessage{Action: "ping"})
	assert.Equal(t, "pong", readJSON(t, conn)["type"])
}

func TestPublisher_LLMInteractionEnvelope(t *testing.T) {
	b, server := setupTestBroadcaster(t, BroadcasterOptions{})
	publisher := NewPublisher(b)

	conn := connectWS(t, server, "alice")
	subscribeChannel(t, conn, SessionChannel("sess-9"))

	duration := 420
	stageID := "exec-1"
	require.NoError(t, publisher.PublishLLMInteraction(&models.LLMInteraction{
		InteractionID:    "int-1",
		SessionID:        "sess-9",
		StageExecutionID: &stageID,
		Provider:         "openai",
		ModelName:        "gpt-5",
		StepDescription:  "investigate alert",
		InteractionType:  models.InteractionTypeNormal,
		Success:          true,
		DurationMS:       &duration,
	}))

	msg := readJSON(t, conn)
	assert.Equal(t, "llm_interaction", msg["type"])
	assert.Equal(t, "sess-9", msg["session_id"])
	assert.Equal(t, "int-1", msg["interaction_id"])
	assert.Equal(t, "exec-1", msg["stage_execution_id"])
	assert.Equal(t, "openai", msg["provider"])
	assert.EqualValues(t, 420, msg["duration_ms"])
	assert.NotEmpty(t, msg["timestamp"])
}

func TestPublisher_NilSafe(t *testing.T) {
	var publisher *Publisher
	assert.NoError(t, publisher.PublishLLMInteraction(&models.LLMInteraction{SessionID: "s"}))
	assert.NoError(t, publisher.PublishSessionStatusChange("s", "completed", nil))
	assert.NoError(t, publisher.PublishSystemHealth("healthy", nil))
}

func TestPublisher_RejectsUnknownLifecycleType(t *testing.T) {
	publisher := NewPublisher(NewBroadcaster(BroadcasterOptions{}))
	err := publisher.PublishSessionLifecycle("session.exploded", "sess-1", "boom")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "session.exploded")
}
