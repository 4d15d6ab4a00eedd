package server_test

import (
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Tyrowin/chatrelay/internal/server"
	"github.com/Tyrowin/chatrelay/internal/testhelpers"
)

func TestChatBroadcastAndDisconnect(t *testing.T) {
	s := testhelpers.StartRelayServer(t, server.Config{})

	alice := testhelpers.MustConnect(t, s)
	testhelpers.WaitForClients(t, s, 1)
	bob := testhelpers.MustConnect(t, s)
	testhelpers.WaitForClients(t, s, 2)

	require.NoError(t, testhelpers.SendChat(alice, "alice", "hi"))

	for _, conn := range []*websocket.Conn{alice, bob} {
		event := testhelpers.MustReceiveEvent(t, conn)
		assert.Equal(t, "alice", event["username"])
		assert.Equal(t, "hi", event["content"])
		assert.Regexp(t, `^#[0-9a-f]{6}$`, event["color"])
		assert.Nil(t, event["imgs"])
		assert.Equal(t, float64(2), event["userCount"])
		assert.Equal(t, []any{"alice", nil}, event["connectedUsers"])
		assert.NotNil(t, event["date"])
	}

	require.NoError(t, testhelpers.CloseWebSocket(alice))

	event := testhelpers.MustReceiveEvent(t, bob)
	assert.Equal(t, "postNotification", event["type"])
	assert.Equal(t, "alice has disconnected", event["content"])
	assert.Equal(t, []any{}, event["imgs"])
	assert.Nil(t, event["color"])
	assert.Nil(t, event["date"])
	assert.Equal(t, float64(1), event["userCount"])
	assert.Equal(t, []any{nil}, event["connectedUsers"])
}

func TestChatImageLinks(t *testing.T) {
	s := testhelpers.StartRelayServer(t, server.Config{})
	conn := testhelpers.MustConnect(t, s)
	testhelpers.WaitForClients(t, s, 1)

	require.NoError(t, testhelpers.SendChat(conn, "carol", "check out cat.png now"))

	event := testhelpers.MustReceiveEvent(t, conn)
	assert.Equal(t, []any{"cat.png"}, event["imgs"])
}

func TestColorStableAcrossMessages(t *testing.T) {
	s := testhelpers.StartRelayServer(t, server.Config{})
	conn := testhelpers.MustConnect(t, s)
	testhelpers.WaitForClients(t, s, 1)

	require.NoError(t, testhelpers.SendChat(conn, "dan", "one"))
	first := testhelpers.MustReceiveEvent(t, conn)
	require.NoError(t, testhelpers.SendChat(conn, "daniel", "two"))
	second := testhelpers.MustReceiveEvent(t, conn)

	assert.Equal(t, first["color"], second["color"])
	assert.Equal(t, []any{"daniel"}, second["connectedUsers"])
}

func TestMalformedMessageKeepsConnectionOpen(t *testing.T) {
	s := testhelpers.StartRelayServer(t, server.Config{})
	sender := testhelpers.MustConnect(t, s)
	testhelpers.WaitForClients(t, s, 1)
	observer := testhelpers.MustConnect(t, s)
	testhelpers.WaitForClients(t, s, 2)

	require.NoError(t, sender.WriteMessage(websocket.TextMessage, []byte("{not json")))
	require.NoError(t, sender.WriteMessage(websocket.TextMessage, []byte(`{"content":"missing user"}`)))
	require.NoError(t, testhelpers.SendChat(sender, "erin", "valid"))

	for _, conn := range []*websocket.Conn{sender, observer} {
		event := testhelpers.MustReceiveEvent(t, conn)
		assert.Equal(t, "valid", event["content"], "malformed payloads must not be broadcast")
	}
	assert.Equal(t, 2, s.Hub.Registry().Count())
}

func TestDuplicateUsernames(t *testing.T) {
	s := testhelpers.StartRelayServer(t, server.Config{})
	a := testhelpers.MustConnect(t, s)
	testhelpers.WaitForClients(t, s, 1)
	b := testhelpers.MustConnect(t, s)
	testhelpers.WaitForClients(t, s, 2)

	require.NoError(t, testhelpers.SendChat(a, "sam", "one"))
	testhelpers.MustReceiveEvent(t, a)
	testhelpers.MustReceiveEvent(t, b)

	require.NoError(t, testhelpers.SendChat(b, "sam", "two"))
	event := testhelpers.MustReceiveEvent(t, a)
	assert.Equal(t, []any{"sam", "sam"}, event["connectedUsers"])
}

func TestRateLimitedMessagesAreDropped(t *testing.T) {
	s := testhelpers.StartRelayServer(t, server.Config{
		RateLimit: server.RateLimitConfig{Burst: 2, RefillInterval: 20 * time.Second},
	})
	conn := testhelpers.MustConnect(t, s)
	testhelpers.WaitForClients(t, s, 1)

	for i := 0; i < 5; i++ {
		require.NoError(t, testhelpers.SendChat(conn, "flood", "spam"))
	}

	testhelpers.MustReceiveEvent(t, conn)
	testhelpers.MustReceiveEvent(t, conn)
	testhelpers.ExpectNoEvent(t, conn, 200*time.Millisecond)
}

func TestOversizedMessageClosesOnlySender(t *testing.T) {
	s := testhelpers.StartRelayServer(t, server.Config{MaxMessageSize: 64})
	big := testhelpers.MustConnect(t, s)
	testhelpers.WaitForClients(t, s, 1)
	observer := testhelpers.MustConnect(t, s)
	testhelpers.WaitForClients(t, s, 2)

	require.NoError(t, testhelpers.SendChat(big, "big", strings.Repeat("x", 200)))

	event := testhelpers.MustReceiveEvent(t, observer)
	assert.Equal(t, "postNotification", event["type"])
	assert.Equal(t, "anonymous has disconnected", event["content"])
	assert.Equal(t, float64(1), event["userCount"])

	require.NoError(t, testhelpers.SendChat(observer, "ok", "still connected"))
	assert.Equal(t, "still connected", testhelpers.MustReceiveEvent(t, observer)["content"])
}

func TestDisallowedOriginIsRejected(t *testing.T) {
	s := testhelpers.StartRelayServer(t, server.Config{})

	conn, err := testhelpers.ConnectWebSocket(s.WebSocketURL(), "http://evil.example.com")
	if conn != nil {
		_ = conn.Close()
	}
	assert.ErrorIs(t, err, websocket.ErrBadHandshake)

	_, err = testhelpers.ConnectWebSocket(s.WebSocketURL(), "")
	assert.ErrorIs(t, err, websocket.ErrBadHandshake)
	assert.Equal(t, 0, s.Hub.Registry().Count())
}

func TestWildcardOriginAllowsAll(t *testing.T) {
	s := testhelpers.StartRelayServer(t, server.Config{AllowedOrigins: []string{"*"}})

	conn, err := testhelpers.ConnectWebSocket(s.WebSocketURL(), "http://anywhere.example.com")
	require.NoError(t, err)
	defer conn.Close()
	testhelpers.WaitForClients(t, s, 1)
}

func TestWebSocketEndpointRejectsPost(t *testing.T) {
	s := testhelpers.StartRelayServer(t, server.Config{})

	resp, err := http.Post(s.URL+"/ws", "application/json", strings.NewReader("{}"))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
}

func TestHealthEndpoint(t *testing.T) {
	s := testhelpers.StartRelayServer(t, server.Config{})

	resp, err := http.Get(s.URL + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/plain", resp.Header.Get("Content-Type"))
}

func TestStaticFiles(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "index.html"), []byte("<h1>relay</h1>"), 0o600))

	s := testhelpers.StartRelayServer(t, server.Config{PublicDir: dir})

	resp, err := http.Get(s.URL + "/")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, "<h1>relay</h1>", string(body))
}

func TestGatewayShutdownClosesClients(t *testing.T) {
	s := testhelpers.StartRelayServer(t, server.Config{})
	conns := []*websocket.Conn{testhelpers.MustConnect(t, s), testhelpers.MustConnect(t, s)}
	testhelpers.WaitForClients(t, s, 2)

	require.NoError(t, s.Gateway.Shutdown(2*time.Second))

	for _, conn := range conns {
		_, err := testhelpers.ReceiveEvent(conn, time.Second)
		require.Error(t, err)
		assert.True(t, websocket.IsCloseError(err, websocket.CloseNoStatusReceived, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure),
			"unexpected error: %v", err)
	}
}

func TestConnectDuringGatewayShutdown(t *testing.T) {
	s := testhelpers.StartRelayServer(t, server.Config{})
	testhelpers.MustConnect(t, s)
	testhelpers.WaitForClients(t, s, 1)

	const dialers = 20
	conns := make(chan *websocket.Conn, dialers)
	start := make(chan struct{})
	var wg sync.WaitGroup
	for i := 0; i < dialers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			conn, err := testhelpers.ConnectWebSocket(s.WebSocketURL(), testhelpers.TestOrigin)
			if err == nil {
				conns <- conn
			}
		}()
	}

	close(start)
	require.NoError(t, s.Gateway.Shutdown(2*time.Second))
	wg.Wait()
	close(conns)

	for conn := range conns {
		_, err := testhelpers.ReceiveEvent(conn, 2*time.Second)
		assert.Error(t, err, "every accepted connection must be closed by the server")
		_ = conn.Close()
	}

	late, err := testhelpers.ConnectWebSocket(s.WebSocketURL(), testhelpers.TestOrigin)
	if err == nil {
		_, err = testhelpers.ReceiveEvent(late, 2*time.Second)
		assert.Error(t, err, "connections after shutdown must be closed")
		_ = late.Close()
	}
}

func TestSlowClientIsDroppedWithoutStallingOthers(t *testing.T) {
	s := testhelpers.StartRelayServer(t, server.Config{
		MaxMessageSize: 1 << 20,
		SendBufferSize: 4,
		RateLimit:      server.RateLimitConfig{Burst: 100000, RefillInterval: time.Second},
	})
	// This client never reads, so once the socket buffers fill its queue
	// overflows and the hub drops it.
	testhelpers.MustConnect(t, s)
	testhelpers.WaitForClients(t, s, 1)
	observer := testhelpers.MustConnect(t, s)
	testhelpers.WaitForClients(t, s, 2)

	content := strings.Repeat("x", 64<<10)
	chats := 0
	var notice map[string]any
	for i := 0; notice == nil && i < 2000; i++ {
		require.NoError(t, testhelpers.SendChat(observer, "watcher", content))
		for {
			event := testhelpers.MustReceiveEvent(t, observer)
			if event["type"] == "postNotification" {
				notice = event
				continue
			}
			assert.Equal(t, content, event["content"])
			chats++
			break
		}
	}

	require.NotNil(t, notice, "slow client was never dropped")
	assert.Positive(t, chats)
	assert.Equal(t, "anonymous has disconnected", notice["content"])
	assert.Equal(t, float64(1), notice["userCount"])
	assert.Equal(t, []any{"watcher"}, notice["connectedUsers"])

	require.NoError(t, testhelpers.SendChat(observer, "watcher", "still here"))
	event := testhelpers.MustReceiveEvent(t, observer)
	assert.Equal(t, "still here", event["content"])
	assert.Equal(t, float64(1), event["userCount"])
}
