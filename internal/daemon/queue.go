package daemon

import (
	"log/slog"
	"sync"
)

// EncodeJob is one Event awaiting the encoder goroutine, per spec.md §5's
// "embedding queue (bounded MPSC, default capacity 4,096) draining to an
// encoder thread that calls D.encode and appends to E."
type EncodeJob struct {
	EventID     int64
	Command     string
	CWD         string
	Fingerprint string
	History     []string
}

// EncodeQueue is a bounded FIFO; when full it drops the oldest job rather
// than blocking the request path, grounded on the teacher's
// internal/daemon/ingestion_queue.go IngestionQueue.
type EncodeQueue struct {
	mu            sync.Mutex
	jobs          []EncodeJob
	maxSize       int
	logger        *slog.Logger
	warnThreshold int
	warned        bool
	totalDropped  int64
	totalEnqueued int64
}

// NewEncodeQueue creates an EncodeQueue with the given capacity, defaulting
// to spec.md §5's stated 4,096 when maxSize <= 0.
func NewEncodeQueue(maxSize int, logger *slog.Logger) *EncodeQueue {
	if maxSize <= 0 {
		maxSize = 4096
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &EncodeQueue{
		jobs:          make([]EncodeJob, 0, maxSize),
		maxSize:       maxSize,
		logger:        logger,
		warnThreshold: (maxSize * 3) / 4,
	}
}

// Enqueue appends job, dropping the oldest queued job if already at
// capacity. Returns true if a job was dropped.
func (q *EncodeQueue) Enqueue(job EncodeJob) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	dropped := false
	if len(q.jobs) >= q.maxSize {
		q.jobs = q.jobs[1:]
		q.totalDropped++
		dropped = true
		q.logger.Warn("encode queue full, dropping oldest job",
			"queue_size", q.maxSize,
			"total_dropped", q.totalDropped,
		)
	}

	q.jobs = append(q.jobs, job)
	q.totalEnqueued++

	if len(q.jobs) >= q.warnThreshold && !q.warned {
		q.warned = true
		q.logger.Warn("encode queue exceeds 75% capacity",
			"current_size", len(q.jobs),
			"max_size", q.maxSize,
		)
	} else if len(q.jobs) < q.warnThreshold {
		q.warned = false
	}
	return dropped
}

// DequeueN removes and returns up to n queued jobs, oldest first.
func (q *EncodeQueue) DequeueN(n int) []EncodeJob {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.jobs) == 0 {
		return nil
	}
	if n > len(q.jobs) {
		n = len(q.jobs)
	}
	batch := make([]EncodeJob, n)
	copy(batch, q.jobs[:n])
	q.jobs = q.jobs[n:]
	return batch
}

// Len returns the number of jobs currently queued.
func (q *EncodeQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.jobs)
}

// Stats reports queue counters, surfaced by the `status` request.
type EncodeQueueStats struct {
	CurrentSize   int
	MaxSize       int
	TotalEnqueued int64
	TotalDropped  int64
}

func (q *EncodeQueue) Stats() EncodeQueueStats {
	q.mu.Lock()
	defer q.mu.Unlock()
	return EncodeQueueStats{
		CurrentSize:   len(q.jobs),
		MaxSize:       q.maxSize,
		TotalEnqueued: q.totalEnqueued,
		TotalDropped:  q.totalDropped,
	}
}
