// Command storage-init provisions the tables and queue the board server
// expects. It is safe to run repeatedly.
package main

import (
	"context"
	"errors"
	"os"
	"strconv"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azqueue"
	log "github.com/sirupsen/logrus"

	"github.com/puneet2715/taskmanager-sub000/storage"
)

const queueAlreadyExists = "QueueAlreadyExists"

func main() {
	if dbg, err := strconv.ParseBool(os.Getenv("DEBUG")); err == nil && dbg {
		log.SetLevel(log.DebugLevel)
	}
	log.Info("storage init starting")

	connStr := os.Getenv("STORAGE_CONNECTION_STRING")
	if connStr == "" {
		log.Fatal("missing STORAGE_CONNECTION_STRING")
	}
	tasksTable := envOr("TASKS_TABLE", "Tasks")
	projectsTable := envOr("PROJECTS_TABLE", "Projects")

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	st, err := storage.New(connStr, tasksTable, projectsTable)
	if err != nil {
		log.Fatalf("storage: %v", err)
	}
	if err := st.EnsureTables(ctx); err != nil {
		log.Fatalf("create tables: %v", err)
	}
	log.WithFields(log.Fields{"tasks": tasksTable, "projects": projectsTable}).Info("tables ready")

	if name := os.Getenv("PROJECT_EVENTS_QUEUE"); name != "" {
		if err := createQueue(ctx, connStr, name); err != nil {
			log.Fatalf("create queue: %v", err)
		}
		log.WithField("queue", name).Info("queue ready")
	}

	log.Info("storage init complete")
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func createQueue(ctx context.Context, connStr, name string) error {
	q, err := azqueue.NewQueueClientFromConnectionString(connStr, name, nil)
	if err != nil {
		return err
	}
	_, err = q.Create(ctx, nil)
	if err == nil || isQueueAlreadyExists(err) {
		return nil
	}
	return err
}

func isQueueAlreadyExists(err error) bool {
	var respErr *azcore.ResponseError
	return errors.As(err, &respErr) && respErr.ErrorCode == queueAlreadyExists
}
