package scenarios

import (
	"net/http"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/bytedance/sonic"
	"github.com/gorilla/websocket"

	"github.com/puneet2715/taskmanager-sub000/tests/integration/internal/httpclient"
	testutil "github.com/puneet2715/taskmanager-sub000/tests/utils"
)

type frame struct {
	Event string         `json:"event"`
	Data  map[string]any `json:"data"`
}

func baseURL(t *testing.T) string {
	t.Helper()
	base := os.Getenv("API_BASE")
	if base == "" {
		base = "http://localhost:8080"
	}
	if _, err := http.Get(base + "/healthz"); err != nil {
		t.Skipf("skipping, server not reachable: %v", err)
	}
	return base
}

func tokenFor(t *testing.T, userID string) string {
	t.Helper()
	tok, err := testutil.TestToken(userID, userID+"@example.com")
	if err != nil {
		t.Skipf("skipping, cannot sign tokens: %v", err)
	}
	return tok
}

func newClient(t *testing.T, base, userID string) *httpclient.Client {
	return httpclient.New(base, tokenFor(t, userID))
}

// member is one realtime connection with its frames pumped into a channel.
type member struct {
	conn   *websocket.Conn
	frames chan frame
}

func dial(t *testing.T, base, userID string) *member {
	t.Helper()
	wsURL := "ws" + strings.TrimPrefix(base, "http") + "/ws"
	header := http.Header{"Authorization": []string{"Bearer " + tokenFor(t, userID)}}
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, header)
	if err != nil {
		t.Fatalf("dial %s: %v", userID, err)
	}
	m := &member{conn: conn, frames: make(chan frame, 64)}
	go func() {
		defer close(m.frames)
		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			var f frame
			if sonic.Unmarshal(data, &f) == nil {
				m.frames <- f
			}
		}
	}()
	t.Cleanup(func() { conn.Close() })
	return m
}

func (m *member) send(t *testing.T, msg map[string]string) {
	t.Helper()
	data, _ := sonic.Marshal(msg)
	if err := m.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		t.Fatalf("send %v: %v", msg, err)
	}
}

// await returns the first frame named event, skipping others.
func (m *member) await(t *testing.T, event string) frame {
	t.Helper()
	deadline := time.After(5 * time.Second)
	for {
		select {
		case f, ok := <-m.frames:
			if !ok {
				t.Fatalf("connection closed waiting for %s", event)
			}
			if f.Event == event {
				return f
			}
		case <-deadline:
			t.Fatalf("timeout waiting for %s", event)
		}
	}
}
