package wsclient

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"gridbot/internal/logging"

	"github.com/gorilla/websocket"
)

func TestClientDeliversMessagesToHandler(t *testing.T) {
	upgrader := websocket.Upgrader{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"event":"fill"}`))
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				break
			}
		}
	}))
	defer server.Close()

	url := "ws" + strings.TrimPrefix(server.URL, "http")
	received := make(chan []byte, 1)
	client := NewClient(url, func(message []byte) { received <- message }, logging.Global())
	client.Start()
	defer client.Stop()

	select {
	case msg := <-received:
		if string(msg) != `{"event":"fill"}` {
			t.Errorf("got %q", msg)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for a message from the server")
	}
}

func TestClientHeartbeatsOnConfiguredInterval(t *testing.T) {
	var pings int32
	upgrader := websocket.Upgrader{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		conn.SetPingHandler(func(string) error {
			atomic.AddInt32(&pings, 1)
			return conn.WriteControl(websocket.PongMessage, []byte{}, time.Now().Add(time.Second))
		})
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				break
			}
		}
	}))
	defer server.Close()

	url := "ws" + strings.TrimPrefix(server.URL, "http")
	client := NewClient(url, func(message []byte) {}, logging.Global())
	client.SetPingConfig(100*time.Millisecond, 50*time.Millisecond, 200*time.Millisecond)
	client.reconnectWait = 10 * time.Millisecond

	client.Start()
	defer client.Stop()

	time.Sleep(500 * time.Millisecond)

	if atomic.LoadInt32(&pings) < 2 {
		t.Errorf("expected at least 2 pings, got %d", pings)
	}
}

func TestClientReconnectsAfterServerDrop(t *testing.T) {
	var connections int32
	upgrader := websocket.Upgrader{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := atomic.AddInt32(&connections, 1)
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		if n == 1 {
			conn.Close()
			return
		}
		defer conn.Close()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				break
			}
		}
	}))
	defer server.Close()

	url := "ws" + strings.TrimPrefix(server.URL, "http")
	client := NewClient(url, func(message []byte) {}, logging.Global())
	client.reconnectWait = 50 * time.Millisecond

	client.Start()
	defer client.Stop()

	time.Sleep(500 * time.Millisecond)

	if atomic.LoadInt32(&connections) < 2 {
		t.Errorf("expected the client to reconnect after the first drop, got %d connection attempts", connections)
	}
}

func TestSendFailsWhenNotConnected(t *testing.T) {
	client := NewClient("ws://127.0.0.1:0", func(message []byte) {}, logging.Global())
	if err := client.Send(map[string]string{"op": "subscribe"}); err == nil {
		t.Error("expected Send to fail before the client ever connects")
	}
}
