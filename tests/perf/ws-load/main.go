// Command ws-load opens many realtime connections against one project and
// reports how many frames arrive while they stay joined.
package main

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bytedance/sonic"
	"github.com/gorilla/websocket"

	testutil "github.com/puneet2715/taskmanager-sub000/tests/utils"
)

func getenv(key, def string) string {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	return v
}

func getenvInt(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return i
}

type counters struct {
	attempts   atomic.Uint64
	failures   atomic.Uint64
	frames     atomic.Uint64
	presence   atomic.Uint64
	boardEvent atomic.Uint64
}

func main() {
	wsURL := getenv("WS_URL", "ws://localhost:8080/ws")
	project := getenv("PROJECT_ID", "load-project")
	conns := getenvInt("WS_CONNECTIONS", 200)
	users := max(getenvInt("WS_USERS", conns), 1)
	duration := time.Duration(getenvInt("DURATION_SEC", 120)) * time.Second

	tokens := make([]string, users)
	for i := range tokens {
		tok, err := testutil.TestToken(fmt.Sprintf("load-user-%d", i+1), "")
		if err != nil {
			fmt.Println("generate token:", err)
			os.Exit(1)
		}
		tokens[i] = tok
	}

	ctx, cancel := context.WithTimeout(context.Background(), duration)
	defer cancel()

	var c counters
	var wg sync.WaitGroup
	wg.Add(conns)
	for i := range conns {
		go func(token string) {
			defer wg.Done()
			backoff := time.Second
			for ctx.Err() == nil {
				c.attempts.Add(1)
				if err := session(ctx, wsURL, token, project, &c); err != nil && ctx.Err() == nil {
					c.failures.Add(1)
					time.Sleep(backoff)
					backoff = min(backoff*2, 5*time.Second)
					continue
				}
				backoff = time.Second
			}
		}(tokens[i%users])
	}

	go func() {
		select {
		case <-time.After(60 * time.Second):
			if c.frames.Load() == 0 {
				fmt.Println("no frames received in 60s")
				os.Exit(1)
			}
		case <-ctx.Done():
		}
	}()

	wg.Wait()
	attempts, failures := c.attempts.Load(), c.failures.Load()
	failureRate := 0.0
	if attempts > 0 {
		failureRate = float64(failures) / float64(attempts)
	}
	fmt.Printf("connections=%d users=%d duration_sec=%d frames=%d presence=%d board_events=%d connection_failures=%d\n",
		conns, users, int(duration.Seconds()), c.frames.Load(), c.presence.Load(), c.boardEvent.Load(), failures)
	if c.frames.Load() == 0 || failureRate > 0.01 {
		os.Exit(1)
	}
}

// session joins the project and counts frames until ctx ends or the server
// drops the connection.
func session(ctx context.Context, rawURL, token, project string, c *counters) error {
	u, err := url.Parse(rawURL)
	if err != nil {
		return err
	}
	header := http.Header{"Authorization": []string{"Bearer " + token}}
	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, u.String(), header)
	if err != nil {
		if resp != nil {
			resp.Body.Close()
		}
		return err
	}
	defer conn.Close()
	go func() {
		<-ctx.Done()
		conn.Close()
	}()

	join, _ := sonic.Marshal(map[string]string{"type": "joinProject", "projectId": project})
	if err := conn.WriteMessage(websocket.TextMessage, join); err != nil {
		return err
	}
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		c.frames.Add(1)
		var frame struct {
			Event string `json:"event"`
		}
		if sonic.Unmarshal(data, &frame) != nil {
			continue
		}
		switch frame.Event {
		case "presenceSync", "userJoined", "userLeft":
			c.presence.Add(1)
		case "taskCreated", "taskUpdated", "taskMoved", "taskDeleted", "projectUpdated", "memberRemoved":
			c.boardEvent.Add(1)
		}
	}
}
