package worker

import (
	"context"
	"log"
	"os"
	"path/filepath"
	"time"

	"github.com/viralcut/clipper/internal/models"
	"github.com/viralcut/clipper/internal/orchestrator"
	"github.com/viralcut/clipper/internal/queue"
)

const dequeueTimeout = 5 * time.Second

// Worker drains the Redis queue and runs the pipeline, one job at a time per
// goroutine.
type Worker struct {
	queue    *queue.Queue
	pipeline *orchestrator.Pipeline
	count    int
	tempDir  string
}

func New(q *queue.Queue, p *orchestrator.Pipeline, count int, tempDir string) *Worker {
	if count < 1 {
		count = 1
	}
	return &Worker{queue: q, pipeline: p, count: count, tempDir: tempDir}
}

// Start sweeps orphaned work directories from prior crashes, then launches
// the worker goroutines. It returns immediately.
func (w *Worker) Start(ctx context.Context) {
	w.sweepOrphans()
	for i := 0; i < w.count; i++ {
		go w.loop(ctx, i+1)
	}
	log.Printf("[Worker] Started %d worker(s)", w.count)
}

func (w *Worker) loop(ctx context.Context, id int) {
	for {
		select {
		case <-ctx.Done():
			log.Printf("[Worker] Worker %d stopping", id)
			return
		default:
		}

		req, err := w.queue.Dequeue(ctx, dequeueTimeout)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			log.Printf("[Worker] Worker %d dequeue error: %v", id, err)
			time.Sleep(2 * time.Second)
			continue
		}
		if req == nil {
			continue
		}

		log.Printf("[Worker] Worker %d picked up job %s (%s)", id, req.JobID, req.Mode)
		w.run(ctx, req)
	}
}

// run isolates a panicking job so the worker goroutine survives.
func (w *Worker) run(ctx context.Context, req *models.JobRequest) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("[Worker] PANIC in job %s: %v", req.JobID, r)
		}
	}()
	w.pipeline.Run(ctx, req)
}

// sweepOrphans removes job-* work directories left behind by a previous
// process. Their jobs are gone from the in-memory store, so the dirs can
// never be reclaimed by a pipeline.
func (w *Worker) sweepOrphans() {
	matches, err := filepath.Glob(filepath.Join(w.tempDir, "job-*"))
	if err != nil || len(matches) == 0 {
		return
	}
	removed := 0
	for _, dir := range matches {
		if info, err := os.Stat(dir); err == nil && info.IsDir() {
			if err := os.RemoveAll(dir); err == nil {
				removed++
			}
		}
	}
	if removed > 0 {
		log.Printf("[Worker] Removed %d orphaned work dir(s)", removed)
	}
}
