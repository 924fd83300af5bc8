// Package worker manages the embedded Asynq task worker.
//
// The gateway has no long-running application lifecycle tasks of its own —
// connection pooling and transfer cleanup are handled synchronously by
// sshpool's internal idle sweep and the socket adapter's teardown path. The
// worker's job is the one thing that genuinely wants an async, persistent
// queue: periodic audit snapshots of pool and transfer health, enqueued on a
// fixed interval and processed through the same Asynq server as anything
// enqueued from the HTTP layer.
package worker

import (
	"context"
	"encoding/json"
	"log"
	"os"
	"time"

	"github.com/hibiken/asynq"
	"github.com/pocketbase/pocketbase/core"

	"github.com/webssh-gateway/backend/internal/audit"
	"github.com/webssh-gateway/backend/internal/sshpool"
	"github.com/webssh-gateway/backend/internal/transfer"
)

const (
	// TaskMetricsSnapshot records a point-in-time view of pool and transfer
	// load into the audit log, for operators without a metrics scraper.
	TaskMetricsSnapshot = "gateway:metrics-snapshot"

	metricsSnapshotInterval = 5 * time.Minute
)

// Worker manages the Asynq server and a shared client for enqueuing tasks.
// A background goroutine enqueues the metrics-snapshot task on a fixed
// interval; routing it through Asynq (rather than just calling the handler
// directly off the ticker) keeps the work on the same retrying, persistent
// queue as anything enqueued from the HTTP layer.
type Worker struct {
	server *asynq.Server
	client *asynq.Client
	stop   chan struct{}

	app       core.App
	pool      *sshpool.Pool
	transfers *transfer.Manager
}

// New creates a Worker wired to the gateway's connection pool and transfer
// manager. app is used for audit writes inside task handlers. Call Start()
// to begin processing and Shutdown() to stop.
func New(app core.App, pool *sshpool.Pool, transfers *transfer.Manager) *Worker {
	redisAddr := os.Getenv("REDIS_ADDR")
	if redisAddr == "" {
		redisAddr = "localhost:6379"
	}

	opt := asynq.RedisClientOpt{Addr: redisAddr}

	srv := asynq.NewServer(opt, asynq.Config{
		Concurrency: 4,
		Queues: map[string]int{
			"default": 1,
		},
	})

	client := asynq.NewClient(opt)

	return &Worker{
		server:    srv,
		client:    client,
		stop:      make(chan struct{}),
		app:       app,
		pool:      pool,
		transfers: transfers,
	}
}

// Start begins processing tasks and arms the periodic metrics-snapshot
// schedule. This should be called only once during the application
// lifecycle.
func (w *Worker) Start() {
	mux := asynq.NewServeMux()
	mux.HandleFunc(TaskMetricsSnapshot, w.handleMetricsSnapshot)

	go func() {
		if err := w.server.Run(mux); err != nil {
			log.Printf("asynq worker error: %v", err)
		}
	}()

	go w.scheduleMetricsSnapshots()
}

func (w *Worker) scheduleMetricsSnapshots() {
	ticker := time.NewTicker(metricsSnapshotInterval)
	defer ticker.Stop()
	for {
		select {
		case <-w.stop:
			return
		case <-ticker.C:
			if _, err := w.client.Enqueue(asynq.NewTask(TaskMetricsSnapshot, nil)); err != nil {
				log.Printf("worker: enqueue metrics snapshot: %v", err)
			}
		}
	}
}

// Client returns the shared Asynq client for enqueuing tasks.
func (w *Worker) Client() *asynq.Client {
	return w.client
}

// Shutdown gracefully stops the worker and closes the client connection.
func (w *Worker) Shutdown() {
	close(w.stop)
	w.server.Shutdown()
	_ = w.client.Close()
}

func (w *Worker) handleMetricsSnapshot(_ context.Context, _ *asynq.Task) error {
	stats := w.pool.Stats()
	detail := map[string]any{
		"total_connections":  stats.Total,
		"idle_connections":   stats.Idle,
		"active_connections": stats.Active,
		"active_transfers":   w.transfers.ActiveCount(),
	}
	b, _ := json.Marshal(detail)
	log.Printf("worker: metrics snapshot %s", string(b))

	audit.Write(w.app, audit.Entry{
		UserID: "system", Action: "gateway.metrics_snapshot", ResourceType: "pool",
		Status: audit.StatusSuccess, Detail: detail,
	})
	return nil
}
