package scenarios

import (
	"fmt"
	"net/http"
	"testing"
	"time"
)

type task struct {
	ID     string `json:"id"`
	Title  string `json:"title"`
	Column string `json:"column"`
	Rank   int    `json:"rank"`
}

func TestPresenceAcrossMembers(t *testing.T) {
	base := baseURL(t)
	project := fmt.Sprintf("it-presence-%d", time.Now().UnixNano())

	alice := dial(t, base, "it-alice")
	alice.send(t, map[string]string{"type": "joinProject", "projectId": project})
	snap := alice.await(t, "presenceSync")
	if others, _ := snap.Data["activeUsers"].([]any); len(others) != 0 {
		t.Fatalf("fresh project should have no other users: %v", snap.Data)
	}

	bob := dial(t, base, "it-bob")
	bob.send(t, map[string]string{"type": "joinProject", "projectId": project})
	bob.await(t, "presenceSync")
	if joined := alice.await(t, "userJoined"); joined.Data["projectId"] != project {
		t.Fatalf("unexpected userJoined %v", joined.Data)
	}

	var presence struct {
		UserCount int `json:"userCount"`
	}
	if _, err := newClient(t, base, "it-alice").GetJSON("/api/projects/"+project+"/presence", &presence); err != nil {
		t.Fatalf("presence: %v", err)
	}
	if presence.UserCount != 2 {
		t.Fatalf("expected 2 active users, got %d", presence.UserCount)
	}

	bob.conn.Close()
	if left := alice.await(t, "userLeft"); left.Data["userId"] != "it-bob" {
		t.Fatalf("unexpected userLeft %v", left.Data)
	}
}

func TestBoardChangesReachJoinedMembers(t *testing.T) {
	base := baseURL(t)
	project := fmt.Sprintf("it-board-%d", time.Now().UnixNano())
	client := newClient(t, base, "it-carol")

	watcher := dial(t, base, "it-dave")
	watcher.send(t, map[string]string{"type": "joinProject", "projectId": project})
	watcher.await(t, "presenceSync")

	var first, second task
	if resp, err := client.PostJSON("/api/projects/"+project+"/tasks", map[string]any{"title": "first"}, &first); err != nil || resp.StatusCode != http.StatusCreated {
		t.Fatalf("create first: %v", err)
	}
	watcher.await(t, "taskCreated")
	if resp, err := client.PostJSON("/api/projects/"+project+"/tasks", map[string]any{"title": "second"}, &second); err != nil || resp.StatusCode != http.StatusCreated {
		t.Fatalf("create second: %v", err)
	}
	watcher.await(t, "taskCreated")
	if first.Rank != 0 || second.Rank != 1 {
		t.Fatalf("unexpected ranks %d, %d", first.Rank, second.Rank)
	}

	if _, err := client.PostJSON("/api/projects/"+project+"/tasks/"+second.ID+"/move", map[string]any{"column": "todo", "rank": 0}, nil); err != nil {
		t.Fatalf("move: %v", err)
	}
	moved := watcher.await(t, "taskMoved")
	if changes, _ := moved.Data["changes"].([]any); len(changes) != 2 {
		t.Fatalf("expected two rank changes, got %v", moved.Data["changes"])
	}

	var tasks []task
	if _, err := client.GetJSON("/api/projects/"+project+"/tasks", &tasks); err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(tasks) != 2 || tasks[0].ID != second.ID || tasks[1].ID != first.ID {
		t.Fatalf("unexpected order after move: %+v", tasks)
	}

	if resp, err := client.Do(http.MethodDelete, "/api/projects/"+project+"/tasks/"+second.ID, nil, nil); err != nil || resp.StatusCode != http.StatusNoContent {
		t.Fatalf("delete: %v", err)
	}
	watcher.await(t, "taskDeleted")
}
